// Package crawler defines core types shared across subsystems.
package crawler

import (
	"errors"
	"mime"
	"net/http"
	"strings"
	"time"
)

// JobStatus represents the lifecycle state of a crawl job.
type JobStatus string

// Job status values persisted in the job store.
const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
)

// Job triggers record who asked for a crawl.
const (
	TriggerManual   = "manual"
	TriggerSchedule = "schedule"
	TriggerCLI      = "cli"
)

// Sentinel errors shared by stores and adapters.
var (
	ErrJobNotFound          = errors.New("job not found")
	ErrJobExists            = errors.New("job already exists")
	ErrInvalidTransition    = errors.New("invalid job status transition")
	ErrCollectionNotFound   = errors.New("collection not found")
	ErrCollectionExists     = errors.New("collection already exists")
	ErrEmbeddingUnavailable = errors.New("embedding unavailable")
	ErrQueueClosed          = errors.New("queue closed")
)

// Terminal reports whether no further transitions are allowed from s.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// CanTransition reports whether a job may move from one status to another.
// The only legal edges are pending→running and running→{completed,failed}.
func CanTransition(from, to JobStatus) bool {
	switch from {
	case JobStatusPending:
		return to == JobStatusRunning
	case JobStatusRunning:
		return to == JobStatusCompleted || to == JobStatusFailed
	default:
		return false
	}
}

// Job is the metadata kept for each crawl run.
type Job struct {
	ID                 string     `json:"id"`
	Status             JobStatus  `json:"status"`
	Trigger            string     `json:"trigger"`
	StartTime          *time.Time `json:"start_time"`
	EndTime            *time.Time `json:"end_time"`
	URLsProcessed      int        `json:"urls_processed"`
	DocumentsProcessed int        `json:"documents_processed"`
	ErrorMessage       *string    `json:"error_message"`
	CreatedAt          time.Time  `json:"created_at"`
}

// Apply moves the job to status `to` at time `at`, stamping the lifecycle
// timestamps. errText is recorded only for failures.
func (j *Job) Apply(to JobStatus, errText string, at time.Time) error {
	if !CanTransition(j.Status, to) {
		return ErrInvalidTransition
	}
	j.Status = to
	ts := at.UTC()
	switch {
	case to == JobStatusRunning:
		j.StartTime = &ts
	case to.Terminal():
		j.EndTime = &ts
	}
	if to == JobStatusFailed {
		if errText == "" {
			errText = "crawl failed"
		}
		j.ErrorMessage = &errText
	}
	return nil
}

// JobProgress carries the counters reported by the crawl loop.
type JobProgress struct {
	URLsProcessed      int `json:"urls_processed"`
	DocumentsProcessed int `json:"documents_processed"`
}

// Merge raises the job counters to p without ever lowering them.
func (j *Job) Merge(p JobProgress) {
	if p.URLsProcessed > j.URLsProcessed {
		j.URLsProcessed = p.URLsProcessed
	}
	if p.DocumentsProcessed > j.DocumentsProcessed {
		j.DocumentsProcessed = p.DocumentsProcessed
	}
}

// QueueItem wraps a job ready to run.
type QueueItem struct {
	JobID     string
	Trigger   string
	Submitted int64
}

// FetchRequest captures everything needed to fetch a URL.
type FetchRequest struct {
	JobID       string
	URL         string
	UseHeadless bool
	Headers     http.Header
}

// FetchResponse is the result returned by a Fetcher implementation.
type FetchResponse struct {
	URL          string
	StatusCode   int
	Headers      http.Header
	Body         []byte
	Duration     time.Duration
	UsedHeadless bool
}

// MediaType returns the lowercased media type from the Content-Type header
// without parameters, or "" when absent.
func (r FetchResponse) MediaType() string {
	if r.Headers == nil {
		return ""
	}
	return ParseMediaType(r.Headers.Get("Content-Type"))
}

// ParseMediaType strips parameters from a Content-Type value.
func ParseMediaType(contentType string) string {
	contentType = strings.TrimSpace(contentType)
	if contentType == "" {
		return ""
	}
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		mediaType, _, _ = strings.Cut(contentType, ";")
	}
	return strings.ToLower(strings.TrimSpace(mediaType))
}

// Chunk is a contiguous slice of extracted text ready for embedding.
type Chunk struct {
	Index       int
	Text        string
	SourceURL   string
	MediaType   string
	ExtractedAt time.Time
}

// Distance names a vector similarity metric.
type Distance string

// Cosine is the only metric the index is created with.
const DistanceCosine Distance = "Cosine"

// Payload is stored next to each vector in the index.
type Payload struct {
	Text        string `json:"text"`
	URL         string `json:"url"`
	ChunkIndex  int    `json:"chunk_index"`
	ScrapedAt   string `json:"scraped_at"`
	ContentType string `json:"content_type"`
}

// Point is one (id, vector, payload) record in the vector index.
type Point struct {
	ID      string
	Vector  []float32
	Payload Payload
}

// ScoredPoint is a search hit ranked by similarity.
type ScoredPoint struct {
	ID      string
	Score   float64
	Payload Payload
}

// CollectionInfo describes a vector collection.
type CollectionInfo struct {
	Name        string
	PointsCount int
	VectorSize  int
	Distance    Distance
}
