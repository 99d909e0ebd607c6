// Package dispatcher is the single entry point for starting crawl jobs and
// fans queued jobs out to the worker pool.
package dispatcher

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/site-rag/internal/crawler"
	"github.com/JakeFAU/site-rag/internal/worker"
)

// Queue is the job queue the dispatcher feeds without blocking callers.
type Queue interface {
	crawler.Queue
	TryEnqueue(item crawler.QueueItem) error
}

// Dispatcher registers jobs and fans out queue work to a pool of workers.
type Dispatcher struct {
	queue    Queue
	jobStore crawler.JobStore
	ids      crawler.IDGenerator
	clock    crawler.Clock
	workers  []*worker.Worker
	logger   *zap.Logger
}

// New creates a Dispatcher.
func New(
	queue Queue,
	jobStore crawler.JobStore,
	ids crawler.IDGenerator,
	clock crawler.Clock,
	workers []*worker.Worker,
	logger *zap.Logger,
) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		queue:    queue,
		jobStore: jobStore,
		ids:      ids,
		clock:    clock,
		workers:  workers,
		logger:   logger.Named("dispatcher"),
	}
}

// Run starts all workers and blocks until the context finishes.
func (d *Dispatcher) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, w := range d.workers {
		wg.Add(1)
		go func(wk *worker.Worker) {
			defer wg.Done()
			wk.Run(ctx)
		}(w)
	}
	<-ctx.Done()
	wg.Wait()
}

// Submit registers a pending job and queues it. It returns as soon as the
// job is queued. A full queue fails the job immediately so the registry
// never holds a pending job nobody will run.
func (d *Dispatcher) Submit(ctx context.Context, trigger string) (crawler.Job, error) {
	id, err := d.ids.NewID()
	if err != nil {
		return crawler.Job{}, fmt.Errorf("generate job id: %w", err)
	}
	now := d.clock.Now().UTC()
	job := crawler.Job{
		ID:        id,
		Status:    crawler.JobStatusPending,
		Trigger:   trigger,
		CreatedAt: now,
	}
	if err := d.jobStore.CreateJob(ctx, job); err != nil {
		return crawler.Job{}, fmt.Errorf("create job: %w", err)
	}

	item := crawler.QueueItem{JobID: id, Trigger: trigger, Submitted: now.UnixMilli()}
	if err := d.queue.TryEnqueue(item); err != nil {
		d.abandon(ctx, id, err)
		return crawler.Job{}, fmt.Errorf("queue enqueue: %w", err)
	}
	d.logger.Info("job submitted", zap.String("job_id", id), zap.String("trigger", trigger))
	return job, nil
}

func (d *Dispatcher) abandon(ctx context.Context, jobID string, cause error) {
	at := d.clock.Now()
	if _, err := d.jobStore.TransitionJob(ctx, jobID, crawler.JobStatusRunning, "", at); err != nil {
		d.logger.Error("abandon job", zap.String("job_id", jobID), zap.Error(err))
		return
	}
	msg := fmt.Sprintf("job could not be queued: %v", cause)
	if _, err := d.jobStore.TransitionJob(ctx, jobID, crawler.JobStatusFailed, msg, at); err != nil {
		d.logger.Error("abandon job", zap.String("job_id", jobID), zap.Error(err))
	}
}
