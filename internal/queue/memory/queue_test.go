package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/site-rag/internal/crawler"
)

func TestQueueEnqueueDequeue(t *testing.T) {
	t.Parallel()

	q := NewQueue(1)
	result := make(chan crawler.QueueItem, 1)
	go func() {
		item, err := q.Dequeue(context.Background())
		if err == nil {
			result <- item
		}
	}()

	require.NoError(t, q.Enqueue(context.Background(), crawler.QueueItem{JobID: "job-1"}))
	select {
	case got := <-result:
		require.Equal(t, "job-1", got.JobID)
	case <-time.After(time.Second):
		t.Fatal("dequeue did not return job")
	}
}

func TestQueueTryEnqueue(t *testing.T) {
	t.Parallel()

	q := NewQueue(2)
	require.NoError(t, q.TryEnqueue(crawler.QueueItem{JobID: "a"}))
	require.NoError(t, q.TryEnqueue(crawler.QueueItem{JobID: "b"}))
	require.ErrorIs(t, q.TryEnqueue(crawler.QueueItem{JobID: "c"}), ErrFull)
	require.Equal(t, 2, q.Len())

	first, err := q.Dequeue(context.Background())
	require.NoError(t, err)
	require.Equal(t, "a", first.JobID)
}

func TestQueueCancelationErrors(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewQueue(1).Dequeue(ctx)
	require.EqualError(t, err, "dequeue canceled: context canceled")

	q := NewQueue(1)
	require.NoError(t, q.Enqueue(context.Background(), crawler.QueueItem{JobID: "primed"}))
	require.EqualError(t, q.Enqueue(ctx, crawler.QueueItem{}), "enqueue canceled: context canceled")
}

func TestQueueCloseDrains(t *testing.T) {
	t.Parallel()

	q := NewQueue(2)
	require.NoError(t, q.TryEnqueue(crawler.QueueItem{JobID: "left"}))
	q.Close()
	q.Close()

	require.ErrorIs(t, q.TryEnqueue(crawler.QueueItem{}), ErrClosed)
	require.ErrorIs(t, q.Enqueue(context.Background(), crawler.QueueItem{}), ErrClosed)

	item, err := q.Dequeue(context.Background())
	require.NoError(t, err)
	require.Equal(t, "left", item.JobID)
	_, err = q.Dequeue(context.Background())
	require.ErrorIs(t, err, ErrClosed)
}
