package crawler

import (
	"context"
	"io"
	"time"
)

// JobStore is the process-wide job registry.
type JobStore interface {
	CreateJob(ctx context.Context, job Job) error
	GetJob(ctx context.Context, jobID string) (Job, error)
	ListJobs(ctx context.Context) ([]Job, error)
	// TransitionJob applies a status change; it fails with ErrInvalidTransition
	// for any edge outside pending→running→{completed,failed}.
	TransitionJob(ctx context.Context, jobID string, to JobStatus, errText string, at time.Time) (Job, error)
	UpdateProgress(ctx context.Context, jobID string, progress JobProgress) error
	// LastCompletedAt returns the end time of the most recent completed job.
	LastCompletedAt(ctx context.Context) (*time.Time, error)
}

// BlobStore writes raw artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// Publisher pushes notifications to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Fetcher fetches a URL and returns the body plus metadata.
type Fetcher interface {
	Fetch(ctx context.Context, request FetchRequest) (FetchResponse, error)
}

// Embedder turns text into a fixed-length vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Generator produces text from a prompt.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// VectorIndex stores points and answers nearest-neighbor queries.
type VectorIndex interface {
	// GetCollection returns ErrCollectionNotFound when the collection is absent.
	GetCollection(ctx context.Context, name string) (CollectionInfo, error)
	CreateCollection(ctx context.Context, name string, dimension int, distance Distance) error
	// Upsert overwrites points that share an ID.
	Upsert(ctx context.Context, collection string, points []Point) error
	Search(ctx context.Context, collection string, vector []float32, limit int) ([]ScoredPoint, error)
	DeleteCollection(ctx context.Context, name string) error
}

// TextExtractor converts raw bytes of one media family into plain text.
type TextExtractor interface {
	ExtractText(ctx context.Context, body []byte) (string, error)
}

// Queue provides enqueue/dequeue semantics for crawl jobs.
type Queue interface {
	Enqueue(ctx context.Context, job QueueItem) error
	Dequeue(ctx context.Context) (QueueItem, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// SystemClock is the wall clock in UTC, the zone every job timestamp and
// scraped_at payload is recorded in.
type SystemClock struct{}

// Now implements Clock.
func (SystemClock) Now() time.Time {
	return time.Now().UTC()
}

// IDGenerator produces job IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}
