package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/JakeFAU/site-rag/internal/crawler"
)

// JobStore is the in-process job registry. Reads return copies so callers
// never observe a job mid-update.
type JobStore struct {
	mu            sync.RWMutex
	jobs          map[string]crawler.Job
	order         []string
	lastCompleted *time.Time
}

var _ crawler.JobStore = (*JobStore)(nil)

// NewJobStore constructs a JobStore.
func NewJobStore() *JobStore {
	return &JobStore{jobs: make(map[string]crawler.Job)}
}

// CreateJob registers a new job.
func (s *JobStore) CreateJob(_ context.Context, job crawler.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[job.ID]; exists {
		return fmt.Errorf("job %s: %w", job.ID, crawler.ErrJobExists)
	}
	s.jobs[job.ID] = cloneJob(job)
	s.order = append(s.order, job.ID)
	return nil
}

// GetJob fetches a job by ID.
func (s *JobStore) GetJob(_ context.Context, jobID string) (crawler.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return crawler.Job{}, crawler.ErrJobNotFound
	}
	return cloneJob(job), nil
}

// ListJobs returns every job in creation order.
func (s *JobStore) ListJobs(_ context.Context) ([]crawler.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]crawler.Job, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, cloneJob(s.jobs[id]))
	}
	return out, nil
}

// TransitionJob applies a lifecycle transition.
func (s *JobStore) TransitionJob(
	_ context.Context,
	jobID string,
	to crawler.JobStatus,
	errText string,
	at time.Time,
) (crawler.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return crawler.Job{}, crawler.ErrJobNotFound
	}
	from := job.Status
	if err := job.Apply(to, errText, at); err != nil {
		return crawler.Job{}, fmt.Errorf("job %s %s→%s: %w", jobID, from, to, err)
	}
	s.jobs[jobID] = job
	if to == crawler.JobStatusCompleted && job.EndTime != nil {
		if s.lastCompleted == nil || job.EndTime.After(*s.lastCompleted) {
			end := *job.EndTime
			s.lastCompleted = &end
		}
	}
	return cloneJob(job), nil
}

// UpdateProgress raises the counters of a running job.
func (s *JobStore) UpdateProgress(_ context.Context, jobID string, progress crawler.JobProgress) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return crawler.ErrJobNotFound
	}
	if job.Status != crawler.JobStatusRunning {
		return fmt.Errorf("job %s is %s: %w", jobID, job.Status, crawler.ErrInvalidTransition)
	}
	job.Merge(progress)
	s.jobs[jobID] = job
	return nil
}

// LastCompletedAt returns the end time of the newest completed job.
func (s *JobStore) LastCompletedAt(_ context.Context) (*time.Time, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.lastCompleted == nil {
		return nil, nil
	}
	ts := *s.lastCompleted
	return &ts, nil
}

func cloneJob(job crawler.Job) crawler.Job {
	if job.StartTime != nil {
		ts := *job.StartTime
		job.StartTime = &ts
	}
	if job.EndTime != nil {
		ts := *job.EndTime
		job.EndTime = &ts
	}
	if job.ErrorMessage != nil {
		msg := *job.ErrorMessage
		job.ErrorMessage = &msg
	}
	return job
}
