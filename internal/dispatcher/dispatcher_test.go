package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/site-rag/internal/crawler"
	"github.com/JakeFAU/site-rag/internal/frontier"
	queuememory "github.com/JakeFAU/site-rag/internal/queue/memory"
	"github.com/JakeFAU/site-rag/internal/storage/memory"
	"github.com/JakeFAU/site-rag/internal/worker"
)

type seqIDs struct{ n atomic.Int64 }

func (s *seqIDs) NewID() (string, error) {
	return fmt.Sprintf("job-%d", s.n.Add(1)), nil
}

type fixedClock struct{}

func (fixedClock) Now() time.Time { return time.Unix(1700000000, 0) }

type okCollection struct{}

func (okCollection) EnsureCollection(context.Context) error { return nil }

type slowWalker struct{ release chan struct{} }

func (w slowWalker) Walk(ctx context.Context, _ string, report frontier.Reporter) (crawler.JobProgress, error) {
	report(ctx, crawler.JobProgress{URLsProcessed: 1})
	select {
	case <-w.release:
	case <-ctx.Done():
		return crawler.JobProgress{}, ctx.Err()
	}
	return crawler.JobProgress{URLsProcessed: 2, DocumentsProcessed: 1}, nil
}

func TestSubmit_RunsJobToCompletion(t *testing.T) {
	t.Parallel()

	store := memory.NewJobStore()
	queue := queuememory.NewQueue(4)
	release := make(chan struct{})
	w := worker.New(queue, store, okCollection{}, slowWalker{release: release}, fixedClock{}, worker.Config{}, zap.NewNop())
	d := New(queue, store, &seqIDs{}, fixedClock{}, []*worker.Worker{w}, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx)

	job, err := d.Submit(ctx, crawler.TriggerManual)
	require.NoError(t, err)
	require.Equal(t, crawler.JobStatusPending, job.Status)
	require.Equal(t, crawler.TriggerManual, job.Trigger)

	require.Eventually(t, func() bool {
		got, err := store.GetJob(ctx, job.ID)
		return err == nil && got.Status == crawler.JobStatusRunning
	}, time.Second, 5*time.Millisecond)

	close(release)
	require.Eventually(t, func() bool {
		got, err := store.GetJob(ctx, job.ID)
		return err == nil && got.Status == crawler.JobStatusCompleted
	}, time.Second, 5*time.Millisecond)
}

func TestSubmit_FullQueueFailsJob(t *testing.T) {
	t.Parallel()

	store := memory.NewJobStore()
	queue := queuememory.NewQueue(1)
	d := New(queue, store, &seqIDs{}, fixedClock{}, nil, nil)

	_, err := d.Submit(context.Background(), crawler.TriggerSchedule)
	require.NoError(t, err)

	_, err = d.Submit(context.Background(), crawler.TriggerSchedule)
	require.ErrorIs(t, err, queuememory.ErrFull)

	jobs, err := store.ListJobs(context.Background())
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	require.Equal(t, crawler.JobStatusPending, jobs[0].Status)
	require.Equal(t, crawler.JobStatusFailed, jobs[1].Status)
	require.Contains(t, *jobs[1].ErrorMessage, "queue full")
}

type failingIDs struct{}

func (failingIDs) NewID() (string, error) { return "", errors.New("entropy exhausted") }

func TestSubmit_IDFailure(t *testing.T) {
	t.Parallel()

	d := New(queuememory.NewQueue(1), memory.NewJobStore(), failingIDs{}, fixedClock{}, nil, nil)
	_, err := d.Submit(context.Background(), crawler.TriggerManual)
	require.ErrorContains(t, err, "generate job id")
}

func TestRun_StopsOnCancel(t *testing.T) {
	t.Parallel()

	queue := queuememory.NewQueue(1)
	store := memory.NewJobStore()
	w := worker.New(queue, store, okCollection{}, slowWalker{}, fixedClock{}, worker.Config{}, nil)
	d := New(queue, store, &seqIDs{}, fixedClock{}, []*worker.Worker{w, w}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		d.Run(ctx)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("dispatcher did not stop after context cancel")
	}
}
