// Package worker runs crawl jobs pulled from the queue and drives each one
// through pending, running and a terminal status.
package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/site-rag/internal/crawler"
	"github.com/JakeFAU/site-rag/internal/frontier"
	"github.com/JakeFAU/site-rag/internal/metrics"
)

// Config controls Worker behavior.
type Config struct {
	// JobTimeout caps a whole crawl; zero means no cap beyond the visit limit.
	JobTimeout time.Duration
}

// Walker crawls the configured site for one job.
type Walker interface {
	Walk(ctx context.Context, jobID string, report frontier.Reporter) (crawler.JobProgress, error)
}

// CollectionEnsurer verifies the vector collection before any fetch.
type CollectionEnsurer interface {
	EnsureCollection(ctx context.Context) error
}

// Worker consumes queue items and executes crawl jobs.
type Worker struct {
	queue      crawler.Queue
	jobStore   crawler.JobStore
	collection CollectionEnsurer
	walker     Walker
	clock      crawler.Clock
	cfg        Config
	logger     *zap.Logger
}

// New constructs a Worker.
func New(
	queue crawler.Queue,
	jobStore crawler.JobStore,
	collection CollectionEnsurer,
	walker Walker,
	clock crawler.Clock,
	cfg Config,
	logger *zap.Logger,
) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{
		queue:      queue,
		jobStore:   jobStore,
		collection: collection,
		walker:     walker,
		clock:      clock,
		cfg:        cfg,
		logger:     logger,
	}
}

// Run blocks, consuming queue items until the context finishes or the
// queue is closed.
func (w *Worker) Run(ctx context.Context) {
	for {
		item, err := w.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, crawler.ErrQueueClosed) {
				return
			}
			w.logger.Error("queue dequeue failed", zap.Error(err))
			continue
		}
		w.logger.Debug("dequeued job", zap.String("job_id", item.JobID), zap.String("trigger", item.Trigger))
		if _, err := w.Process(ctx, item); err != nil {
			w.logger.Error("job processing failed", zap.String("job_id", item.JobID), zap.Error(err))
		}
	}
}

// Process runs one job to a terminal status and returns its final record.
// The returned error covers registry failures only; crawl failures are
// recorded on the job itself.
func (w *Worker) Process(ctx context.Context, item crawler.QueueItem) (crawler.Job, error) {
	log := w.logger.With(zap.String("job_id", item.JobID))
	if _, err := w.jobStore.TransitionJob(ctx, item.JobID, crawler.JobStatusRunning, "", w.clock.Now()); err != nil {
		return crawler.Job{}, fmt.Errorf("mark job running: %w", err)
	}
	metrics.IncActiveJobs()
	defer metrics.DecActiveJobs()
	log.Info("job running")

	status, errText := w.execute(ctx, item.JobID, log)

	// Terminal bookkeeping must land even when ctx was canceled mid-crawl.
	finishCtx := context.WithoutCancel(ctx)
	job, err := w.jobStore.TransitionJob(finishCtx, item.JobID, status, errText, w.clock.Now())
	if err != nil {
		return crawler.Job{}, fmt.Errorf("mark job %s: %w", status, err)
	}
	metrics.ObserveJob(status)
	if status == crawler.JobStatusFailed {
		log.Warn("job failed", zap.String("error", errText))
	} else {
		log.Info("job completed",
			zap.Int("urls_processed", job.URLsProcessed),
			zap.Int("documents_processed", job.DocumentsProcessed),
		)
	}
	return job, nil
}

func (w *Worker) execute(ctx context.Context, jobID string, log *zap.Logger) (status crawler.JobStatus, errText string) {
	defer func() {
		if rec := recover(); rec != nil {
			log.Error("crawl panicked", zap.String("panic", fmt.Sprint(rec)))
			status = crawler.JobStatusFailed
			errText = fmt.Sprintf("unexpected crawl error: %v", rec)
		}
	}()

	if w.cfg.JobTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, w.cfg.JobTimeout)
		defer cancel()
	}

	if err := w.collection.EnsureCollection(ctx); err != nil {
		return crawler.JobStatusFailed, err.Error()
	}

	progress, err := w.walker.Walk(ctx, jobID, func(reportCtx context.Context, p crawler.JobProgress) {
		if err := w.jobStore.UpdateProgress(reportCtx, jobID, p); err != nil {
			log.Warn("progress update failed", zap.Error(err))
		}
	})
	if err != nil {
		return crawler.JobStatusFailed, err.Error()
	}
	if err := w.jobStore.UpdateProgress(ctx, jobID, progress); err != nil {
		log.Warn("final progress update failed", zap.Error(err))
	}
	return crawler.JobStatusCompleted, ""
}
