// Package metrics exposes Prometheus collectors for crawling, indexing and
// the query API.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/JakeFAU/site-rag/internal/crawler"
)

// Chunk outcomes used as the "result" label.
const (
	ChunkIndexed = "indexed"
	ChunkSkipped = "skipped"
)

var (
	pagesTotal                 *prometheus.CounterVec
	bytesTotal                 *prometheus.CounterVec
	documentsIndexedTotal      prometheus.Counter
	chunksTotal                *prometheus.CounterVec
	jobsTotal                  *prometheus.CounterVec
	activeJobs                 prometheus.Gauge
	queryDurationSeconds       *prometheus.HistogramVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init registers the collectors. It is safe to call more than once; the
// Observe helpers call it themselves.
func Init() {
	once.Do(func() {
		pagesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "siterag_pages_total",
				Help: "Fetched resources, labeled by site and status (HTTP code or error).",
			},
			[]string{"site", "status"},
		)
		bytesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "siterag_bytes_total",
				Help: "Bytes fetched, labeled by site.",
			},
			[]string{"site"},
		)
		documentsIndexedTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "siterag_documents_indexed_total",
				Help: "Resources that produced at least one indexed chunk.",
			},
		)
		chunksTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "siterag_chunks_total",
				Help: "Chunks processed by the indexing pipeline, labeled by result.",
			},
			[]string{"result"},
		)
		jobsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "siterag_jobs_total",
				Help: "Crawl jobs that reached a terminal status.",
			},
			[]string{"status"},
		)
		activeJobs = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "siterag_active_jobs",
				Help: "Crawl jobs currently running.",
			},
		)
		queryDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "siterag_query_duration_seconds",
				Help:    "End-to-end question answering latency, labeled by outcome.",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"outcome"},
		)
		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)
		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveFetch records one fetch. status is the HTTP code, or "error" when
// no response arrived.
func ObserveFetch(rawURL string, status string, bytesFetched int) {
	Init()
	site := crawler.SanitizeSite(rawURL)
	pagesTotal.WithLabelValues(site, status).Inc()
	if bytesFetched > 0 {
		bytesTotal.WithLabelValues(site).Add(float64(bytesFetched))
	}
}

// ObserveChunks records chunk outcomes for one resource.
func ObserveChunks(indexed, skipped int) {
	Init()
	if indexed > 0 {
		chunksTotal.WithLabelValues(ChunkIndexed).Add(float64(indexed))
		documentsIndexedTotal.Inc()
	}
	if skipped > 0 {
		chunksTotal.WithLabelValues(ChunkSkipped).Add(float64(skipped))
	}
}

// ObserveJob increments the job counter for a terminal status.
func ObserveJob(status crawler.JobStatus) {
	Init()
	jobsTotal.WithLabelValues(string(status)).Inc()
}

// IncActiveJobs increments the running jobs gauge.
func IncActiveJobs() {
	Init()
	activeJobs.Inc()
}

// DecActiveJobs decrements the running jobs gauge.
func DecActiveJobs() {
	Init()
	activeJobs.Dec()
}

// ObserveQuery records how long a question took and how it was answered.
func ObserveQuery(outcome string, d time.Duration) {
	Init()
	queryDurationSeconds.WithLabelValues(outcome).Observe(d.Seconds())
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
