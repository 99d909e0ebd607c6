// Package scheduler starts crawl jobs on a cron schedule through the same
// submission path as the HTTP API.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/JakeFAU/site-rag/internal/crawler"
)

// DefaultSpec fires every Sunday at 02:00.
const DefaultSpec = "0 2 * * 0"

// Submitter registers and queues a crawl job.
type Submitter interface {
	Submit(ctx context.Context, trigger string) (crawler.Job, error)
}

// Scheduler wraps a cron runner with a single crawl entry.
type Scheduler struct {
	cron      *cron.Cron
	parser    cron.Parser
	spec      string
	submitter Submitter
	entryID   cron.EntryID
	logger    *zap.Logger
	baseCtx   context.Context
	cancel    context.CancelFunc
}

// New validates spec and builds a Scheduler. loc defaults to UTC.
func New(spec string, loc *time.Location, submitter Submitter, logger *zap.Logger) (*Scheduler, error) {
	if spec == "" {
		spec = DefaultSpec
	}
	if loc == nil {
		loc = time.UTC
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	if _, err := parser.Parse(spec); err != nil {
		return nil, fmt.Errorf("parse schedule %q: %w", spec, err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron:      cron.New(cron.WithParser(parser), cron.WithLocation(loc)),
		parser:    parser,
		spec:      spec,
		submitter: submitter,
		logger:    logger.Named("scheduler"),
		baseCtx:   ctx,
		cancel:    cancel,
	}, nil
}

// Start registers the crawl entry and begins ticking.
func (s *Scheduler) Start() error {
	id, err := s.cron.AddFunc(s.spec, s.Trigger)
	if err != nil {
		return fmt.Errorf("schedule crawl: %w", err)
	}
	s.entryID = id
	s.cron.Start()
	s.logger.Info("crawl schedule started",
		zap.String("spec", s.spec),
		zap.Time("next_run", s.cron.Entry(id).Next),
	)
	return nil
}

// Stop halts the schedule and waits for a running trigger to return or ctx
// to end.
func (s *Scheduler) Stop(ctx context.Context) {
	s.cancel()
	stopped := s.cron.Stop()
	select {
	case <-stopped.Done():
	case <-ctx.Done():
		s.logger.Warn("scheduler stop timed out", zap.Error(ctx.Err()))
	}
}

// Trigger submits one scheduled crawl.
func (s *Scheduler) Trigger() {
	job, err := s.submitter.Submit(s.baseCtx, crawler.TriggerSchedule)
	if err != nil {
		s.logger.Error("scheduled crawl submission failed", zap.Error(err))
		return
	}
	s.logger.Info("scheduled crawl submitted", zap.String("job_id", job.ID))
}

// Next returns when the schedule fires next after t.
func (s *Scheduler) Next(t time.Time) time.Time {
	sched, err := s.parser.Parse(s.spec)
	if err != nil {
		return time.Time{}
	}
	return sched.Next(t)
}
