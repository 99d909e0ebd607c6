package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPublisherStoresMessages(t *testing.T) {
	t.Parallel()

	pub := New()
	ctx := context.Background()
	id1, err := pub.Publish(ctx, "document.indexed", map[string]string{"url": "https://scouts.ca/"})
	require.NoError(t, err)
	require.Equal(t, "memory-1", id1)
	id2, err := pub.Publish(ctx, "job.finished", "payload")
	require.NoError(t, err)
	require.Equal(t, "memory-2", id2)

	_, err = pub.Publish(ctx, "", "x")
	require.Error(t, err)

	msgs := pub.Messages()
	require.Len(t, msgs, 2)
	require.Equal(t, "document.indexed", msgs[0].Topic)

	msgs[0].Topic = "modified"
	require.Equal(t, "document.indexed", pub.Messages()[0].Topic)

	only := pub.Messages("job.finished")
	require.Len(t, only, 1)
	require.Equal(t, "payload", only[0].Payload)
}
