// Package postgres provides a durable crawler.JobStore on Postgres.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/site-rag/internal/crawler"
)

// DefaultTable holds one row per crawl job.
const DefaultTable = "crawl_jobs"

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Config controls the Postgres connection pool.
type Config struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// JobStore persists jobs so history survives restarts.
type JobStore struct {
	pool  pool
	table string
}

var _ crawler.JobStore = (*JobStore)(nil)

// NewJobStore connects to Postgres and ensures the jobs table exists.
func NewJobStore(ctx context.Context, cfg Config) (*JobStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	store, err := NewJobStoreWithPool(p, cfg.Table)
	if err != nil {
		p.Close()
		return nil, err
	}
	if err := store.EnsureSchema(ctx); err != nil {
		p.Close()
		return nil, err
	}
	return store, nil
}

// NewJobStoreWithPool builds a store on an existing pool.
func NewJobStoreWithPool(p pool, table string) (*JobStore, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if table == "" {
		table = DefaultTable
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &JobStore{pool: p, table: table}, nil
}

// Close releases the underlying pool.
func (s *JobStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// EnsureSchema creates the jobs table when missing.
func (s *JobStore) EnsureSchema(ctx context.Context) error {
	query := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	id                  TEXT PRIMARY KEY,
	status              TEXT NOT NULL,
	trigger             TEXT NOT NULL DEFAULT '',
	start_time          TIMESTAMPTZ,
	end_time            TIMESTAMPTZ,
	urls_processed      INTEGER NOT NULL DEFAULT 0,
	documents_processed INTEGER NOT NULL DEFAULT 0,
	error_message       TEXT,
	created_at          TIMESTAMPTZ NOT NULL
)`, s.table)
	if _, err := s.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("create %s table: %w", s.table, err)
	}
	return nil
}

func (s *JobStore) columns() string {
	return "id, status, trigger, start_time, end_time, urls_processed, documents_processed, error_message, created_at"
}

// CreateJob inserts a new job row.
func (s *JobStore) CreateJob(ctx context.Context, job crawler.Job) error {
	query := fmt.Sprintf(`INSERT INTO %s (%s) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`, s.table, s.columns())
	_, err := s.pool.Exec(ctx, query,
		job.ID,
		string(job.Status),
		job.Trigger,
		job.StartTime,
		job.EndTime,
		job.URLsProcessed,
		job.DocumentsProcessed,
		job.ErrorMessage,
		job.CreatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return fmt.Errorf("job %s: %w", job.ID, crawler.ErrJobExists)
		}
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

// GetJob loads one job.
func (s *JobStore) GetJob(ctx context.Context, jobID string) (crawler.Job, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE id = $1`, s.columns(), s.table)
	job, err := scanJob(s.pool.QueryRow(ctx, query, jobID))
	if errors.Is(err, pgx.ErrNoRows) {
		return crawler.Job{}, crawler.ErrJobNotFound
	}
	if err != nil {
		return crawler.Job{}, fmt.Errorf("select job: %w", err)
	}
	return job, nil
}

// ListJobs returns all jobs in creation order.
func (s *JobStore) ListJobs(ctx context.Context) ([]crawler.Job, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s ORDER BY created_at, id`, s.columns(), s.table)
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	jobs := []crawler.Job{}
	for rows.Next() {
		job, scanErr := scanJob(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("scan job: %w", scanErr)
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate jobs: %w", err)
	}
	return jobs, nil
}

// TransitionJob applies the transition in Go and writes it back guarded by
// the previous status, so a concurrent writer cannot be overwritten.
func (s *JobStore) TransitionJob(
	ctx context.Context,
	jobID string,
	to crawler.JobStatus,
	errText string,
	at time.Time,
) (crawler.Job, error) {
	job, err := s.GetJob(ctx, jobID)
	if err != nil {
		return crawler.Job{}, err
	}
	from := job.Status
	if err := job.Apply(to, errText, at); err != nil {
		return crawler.Job{}, fmt.Errorf("job %s %s→%s: %w", jobID, from, to, err)
	}
	query := fmt.Sprintf(`
UPDATE %s SET status = $1, start_time = $2, end_time = $3, error_message = $4
WHERE id = $5 AND status = $6`, s.table)
	tag, err := s.pool.Exec(ctx, query,
		string(job.Status), job.StartTime, job.EndTime, job.ErrorMessage, jobID, string(from))
	if err != nil {
		return crawler.Job{}, fmt.Errorf("update job status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return crawler.Job{}, fmt.Errorf("job %s changed concurrently: %w", jobID, crawler.ErrInvalidTransition)
	}
	return job, nil
}

// UpdateProgress raises counters on a running job; counters never decrease.
func (s *JobStore) UpdateProgress(ctx context.Context, jobID string, progress crawler.JobProgress) error {
	query := fmt.Sprintf(`
UPDATE %s SET urls_processed = GREATEST(urls_processed, $1),
	documents_processed = GREATEST(documents_processed, $2)
WHERE id = $3 AND status = $4`, s.table)
	tag, err := s.pool.Exec(ctx, query,
		progress.URLsProcessed, progress.DocumentsProcessed, jobID, string(crawler.JobStatusRunning))
	if err != nil {
		return fmt.Errorf("update job progress: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}
	job, err := s.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	return fmt.Errorf("job %s is %s: %w", jobID, job.Status, crawler.ErrInvalidTransition)
}

// LastCompletedAt returns the newest end time among completed jobs.
func (s *JobStore) LastCompletedAt(ctx context.Context) (*time.Time, error) {
	query := fmt.Sprintf(`SELECT MAX(end_time) FROM %s WHERE status = $1`, s.table)
	var last *time.Time
	if err := s.pool.QueryRow(ctx, query, string(crawler.JobStatusCompleted)).Scan(&last); err != nil {
		return nil, fmt.Errorf("select last completed: %w", err)
	}
	return last, nil
}

func scanJob(row pgx.Row) (crawler.Job, error) {
	var (
		job    crawler.Job
		status string
	)
	err := row.Scan(
		&job.ID,
		&status,
		&job.Trigger,
		&job.StartTime,
		&job.EndTime,
		&job.URLsProcessed,
		&job.DocumentsProcessed,
		&job.ErrorMessage,
		&job.CreatedAt,
	)
	if err != nil {
		return crawler.Job{}, err
	}
	job.Status = crawler.JobStatus(status)
	return job, nil
}
