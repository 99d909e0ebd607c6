package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/site-rag/internal/crawler"
	"github.com/JakeFAU/site-rag/internal/metrics"
	"github.com/JakeFAU/site-rag/internal/rag"
)

// DefaultRequestTimeout bounds every request, including question answering.
const DefaultRequestTimeout = 120 * time.Second

// Config controls the HTTP surface.
type Config struct {
	ServiceName    string
	AuthEnabled    bool
	APIKey         string
	CORSOrigins    []string
	RequestTimeout time.Duration
}

// Submitter starts crawl jobs.
type Submitter interface {
	Submit(ctx context.Context, trigger string) (crawler.Job, error)
}

// Answerer is the query side of the service.
type Answerer interface {
	Answer(ctx context.Context, question string, maxResults int) (rag.Answer, error)
	Status(ctx context.Context) rag.Status
	Clear(ctx context.Context) error
}

// ReadinessCheck reports whether a downstream dependency is usable.
type ReadinessCheck func(ctx context.Context) error

// Server wires HTTP handlers to the dispatcher, job registry and orchestrator.
type Server struct {
	router    chi.Router
	cfg       Config
	jobStore  crawler.JobStore
	submitter Submitter
	answerer  Answerer
	ready     ReadinessCheck
	logger    *zap.Logger
}

// NewServer constructs a Server with middleware and routes. ready may be nil.
func NewServer(
	cfg Config,
	jobStore crawler.JobStore,
	submitter Submitter,
	answerer Answerer,
	ready ReadinessCheck,
	logger *zap.Logger,
) *Server {
	if cfg.ServiceName == "" {
		cfg.ServiceName = "Site RAG System API"
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = DefaultRequestTimeout
	}
	if len(cfg.CORSOrigins) == 0 {
		cfg.CORSOrigins = []string{"*"}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		cfg:       cfg,
		jobStore:  jobStore,
		submitter: submitter,
		answerer:  answerer,
		ready:     ready,
		logger:    logger,
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(metrics.Middleware)
	r.Use(corsMiddleware(cfg.CORSOrigins))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Use(timeoutMiddleware(cfg.RequestTimeout))
		if cfg.AuthEnabled {
			r.Use(apiKeyMiddleware(cfg.APIKey))
		}
		r.Get("/", s.root)
		r.Route("/scrape", func(r chi.Router) {
			r.Post("/start", s.startScrape)
			r.Get("/status/{job_id}", s.getJobStatus)
			r.Get("/jobs", s.listJobs)
		})
		r.Post("/query", s.query)
		r.Route("/documents", func(r chi.Router) {
			r.Get("/status", s.documentStatus)
			r.Delete("/clear", s.clearDocuments)
		})
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	if s.ready != nil {
		if err := s.ready(r.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "detail": err.Error()})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) root(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"message": s.cfg.ServiceName})
}

func (s *Server) startScrape(w http.ResponseWriter, r *http.Request) {
	job, err := s.submitter.Submit(r.Context(), crawler.TriggerManual)
	if err != nil {
		s.logger.Error("scrape submission failed", zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, "Failed to start scraping job: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"job_id": job.ID, "status": "started"})
}

func (s *Server) getJobStatus(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	job, err := s.jobStore.GetJob(r.Context(), jobID)
	switch {
	case errors.Is(err, crawler.ErrJobNotFound):
		writeError(w, http.StatusNotFound, "Job not found")
	case err != nil:
		s.logger.Error("job lookup failed", zap.String("job_id", jobID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Failed to load job")
	default:
		writeJSON(w, http.StatusOK, job)
	}
}

func (s *Server) listJobs(w http.ResponseWriter, r *http.Request) {
	jobs, err := s.jobStore.ListJobs(r.Context())
	if err != nil {
		s.logger.Error("job listing failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Failed to list jobs")
		return
	}
	if jobs == nil {
		jobs = []crawler.Job{}
	}
	writeJSON(w, http.StatusOK, jobs)
}

type queryRequest struct {
	Question   string `json:"question"`
	MaxResults *int   `json:"max_results"`
}

func (s *Server) query(w http.ResponseWriter, r *http.Request) {
	var req queryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if strings.TrimSpace(req.Question) == "" {
		writeError(w, http.StatusBadRequest, "question is required")
		return
	}
	maxResults := rag.DefaultMaxResults
	if req.MaxResults != nil {
		maxResults = *req.MaxResults
	}
	ans, err := s.answerer.Answer(r.Context(), req.Question, maxResults)
	if err != nil {
		s.logger.Error("query failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Query processing failed: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, ans)
}

func (s *Server) documentStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.answerer.Status(r.Context()))
}

func (s *Server) clearDocuments(w http.ResponseWriter, r *http.Request) {
	if err := s.answerer.Clear(r.Context()); err != nil {
		s.logger.Error("clear documents failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Failed to clear documents")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Document database cleared successfully"})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"detail": msg})
}
