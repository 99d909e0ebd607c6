package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/site-rag/internal/crawler"
	"github.com/JakeFAU/site-rag/internal/dispatcher"
	"github.com/JakeFAU/site-rag/internal/frontier"
	queueMemory "github.com/JakeFAU/site-rag/internal/queue/memory"
	"github.com/JakeFAU/site-rag/internal/rag"
	"github.com/JakeFAU/site-rag/internal/storage/memory"
	vecmem "github.com/JakeFAU/site-rag/internal/vectorindex/memory"
	"github.com/JakeFAU/site-rag/internal/worker"
)

const testCollection = "docs"

type fakeIDGen struct{ n atomic.Int64 }

func (f *fakeIDGen) NewID() (string, error) {
	return fmt.Sprintf("job-%d", f.n.Add(1)), nil
}

type fakeClock struct{}

func (fakeClock) Now() time.Time { return time.Unix(1700000000, 0) }

type okCollection struct{}

func (okCollection) EnsureCollection(context.Context) error { return nil }

type gatedWalker struct{ release chan struct{} }

func (g gatedWalker) Walk(ctx context.Context, _ string, report frontier.Reporter) (crawler.JobProgress, error) {
	report(ctx, crawler.JobProgress{URLsProcessed: 1})
	<-g.release
	return crawler.JobProgress{URLsProcessed: 3, DocumentsProcessed: 2}, nil
}

type fakeEmbedder struct{}

func (fakeEmbedder) Embed(context.Context, string) ([]float32, error) { return []float32{1, 0}, nil }

type fakeGenerator struct{}

func (fakeGenerator) Generate(context.Context, string) (string, error) {
	return "Beavers are ages 5 to 7.", nil
}

type failingAnswerer struct{}

func (failingAnswerer) Answer(context.Context, string, int) (rag.Answer, error) {
	return rag.Answer{}, errors.New("search docs: malformed response")
}
func (failingAnswerer) Status(context.Context) rag.Status { return rag.Status{} }
func (failingAnswerer) Clear(context.Context) error       { return errors.New("connection refused") }

type harness struct {
	server  *Server
	store   *memory.JobStore
	index   *vecmem.Index
	release chan struct{}
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()
	store := memory.NewJobStore()
	queue := queueMemory.NewQueue(8)
	release := make(chan struct{})
	w := worker.New(queue, store, okCollection{}, gatedWalker{release: release}, fakeClock{}, worker.Config{}, zap.NewNop())
	d := dispatcher.New(queue, store, &fakeIDGen{}, fakeClock{}, []*worker.Worker{w}, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go d.Run(ctx)

	idx := vecmem.New()
	orch := rag.New(rag.Config{Collection: testCollection, SiteName: "Scouts Canada"}, idx, fakeEmbedder{}, fakeGenerator{}, store, nil)
	return &harness{
		server:  NewServer(cfg, store, d, orch, nil, zap.NewNop()),
		store:   store,
		index:   idx,
		release: release,
	}
}

func (h *harness) do(t *testing.T, method, path string, body []byte) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	rec := httptest.NewRecorder()
	h.server.Handler().ServeHTTP(rec, req)
	return rec
}

func (h *harness) populate(t *testing.T, n int) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, h.index.CreateCollection(ctx, testCollection, 2, crawler.DistanceCosine))
	for i := 0; i < n; i++ {
		require.NoError(t, h.index.Upsert(ctx, testCollection, []crawler.Point{{
			ID:      fmt.Sprintf("p%d", i),
			Vector:  []float32{1, float32(i)},
			Payload: crawler.Payload{Text: fmt.Sprintf("chunk %d", i), URL: "https://scouts.ca/beavers", ChunkIndex: i},
		}}))
	}
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestServer_Root(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{ServiceName: "Scouts Canada RAG System API"})
	rec := h.do(t, http.MethodGet, "/api/", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, map[string]string{"message": "Scouts Canada RAG System API"}, decode[map[string]string](t, rec))
}

func TestServer_StartScrapeLifecycle(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{})
	rec := h.do(t, http.MethodPost, "/api/scrape/start", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	started := decode[map[string]string](t, rec)
	require.Equal(t, "started", started["status"])
	jobID := started["job_id"]
	require.NotEmpty(t, jobID)

	status := func() crawler.Job {
		rec := h.do(t, http.MethodGet, "/api/scrape/status/"+jobID, nil)
		require.Equal(t, http.StatusOK, rec.Code)
		return decode[crawler.Job](t, rec)
	}

	require.Eventually(t, func() bool { return status().Status == crawler.JobStatusRunning }, time.Second, 5*time.Millisecond)
	close(h.release)
	require.Eventually(t, func() bool { return status().Status == crawler.JobStatusCompleted }, time.Second, 5*time.Millisecond)

	final := status()
	require.NotNil(t, final.EndTime)
	require.Nil(t, final.ErrorMessage)
	require.Equal(t, 3, final.URLsProcessed)

	rec = h.do(t, http.MethodGet, "/api/scrape/jobs", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	jobs := decode[[]crawler.Job](t, rec)
	require.Len(t, jobs, 1)
	require.Equal(t, jobID, jobs[0].ID)
}

func TestServer_StartScrapeQueueFullIs503(t *testing.T) {
	t.Parallel()

	store := memory.NewJobStore()
	d := dispatcher.New(queueMemory.NewQueue(1), store, &fakeIDGen{}, fakeClock{}, nil, zap.NewNop())
	orch := rag.New(rag.Config{Collection: testCollection}, vecmem.New(), fakeEmbedder{}, fakeGenerator{}, store, nil)
	h := &harness{server: NewServer(Config{}, store, d, orch, nil, zap.NewNop()), store: store}

	require.Equal(t, http.StatusOK, h.do(t, http.MethodPost, "/api/scrape/start", nil).Code)
	rec := h.do(t, http.MethodPost, "/api/scrape/start", nil)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	require.Contains(t, decode[map[string]string](t, rec)["detail"], "Failed to start scraping job")

	jobs, err := store.ListJobs(context.Background())
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	require.Equal(t, crawler.JobStatusFailed, jobs[1].Status)
}

func TestServer_UnknownJob(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{})
	rec := h.do(t, http.MethodGet, "/api/scrape/status/nope", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
	require.Equal(t, map[string]string{"detail": "Job not found"}, decode[map[string]string](t, rec))
}

func TestServer_ListJobsEmpty(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{})
	rec := h.do(t, http.MethodGet, "/api/scrape/jobs", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, "[]", rec.Body.String())
}

func TestServer_QueryReturnsRankedSources(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{})
	h.populate(t, 8)

	rec := h.do(t, http.MethodPost, "/api/query", []byte(`{"question":"How old are Beavers?","max_results":5}`))
	require.Equal(t, http.StatusOK, rec.Code)
	ans := decode[rag.Answer](t, rec)
	require.NotEmpty(t, ans.Answer)
	require.LessOrEqual(t, len(ans.Sources), 5)
	require.NotEmpty(t, ans.Sources)
	for i := 1; i < len(ans.Sources); i++ {
		require.GreaterOrEqual(t, ans.Sources[i-1].Score, ans.Sources[i].Score)
	}
}

func TestServer_QueryEmptyIndexIsStillOK(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{})
	rec := h.do(t, http.MethodPost, "/api/query", []byte(`{"question":"anything"}`))
	require.Equal(t, http.StatusOK, rec.Code)
	ans := decode[rag.Answer](t, rec)
	require.Contains(t, ans.Answer, "database is empty")
	require.Empty(t, ans.Sources)
	require.Contains(t, rec.Body.String(), `"sources":[]`)
}

func TestServer_QueryValidation(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{})
	require.Equal(t, http.StatusBadRequest, h.do(t, http.MethodPost, "/api/query", []byte(`{`)).Code)
	require.Equal(t, http.StatusBadRequest, h.do(t, http.MethodPost, "/api/query", []byte(`{"question":"  "}`)).Code)
}

func TestServer_QueryInternalFailure(t *testing.T) {
	t.Parallel()

	s := NewServer(Config{}, memory.NewJobStore(), nil, failingAnswerer{}, nil, zap.NewNop())
	req := httptest.NewRequest(http.MethodPost, "/api/query", bytes.NewReader([]byte(`{"question":"q"}`)))
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.Contains(t, rec.Body.String(), "Query processing failed: search docs: malformed response")

	req = httptest.NewRequest(http.MethodDelete, "/api/documents/clear", nil)
	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.Contains(t, rec.Body.String(), "Failed to clear documents")
}

func TestServer_ClearThenStatus(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{})
	h.populate(t, 3)

	rec := h.do(t, http.MethodGet, "/api/documents/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, 3, decode[rag.Status](t, rec).TotalDocuments)

	rec = h.do(t, http.MethodDelete, "/api/documents/clear", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "Document database cleared successfully", decode[map[string]string](t, rec)["message"])

	rec = h.do(t, http.MethodGet, "/api/documents/status", nil)
	st := decode[rag.Status](t, rec)
	require.Zero(t, st.TotalDocuments)
	require.Zero(t, st.CollectionSize)
}

func TestServer_APIKeyAuth(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{AuthEnabled: true, APIKey: "secret"})
	require.Equal(t, http.StatusForbidden, h.do(t, http.MethodGet, "/api/scrape/jobs", nil).Code)

	req := httptest.NewRequest(http.MethodGet, "/api/scrape/jobs", nil)
	req.Header.Set("X-API-Key", "secret")
	rec := httptest.NewRecorder()
	h.server.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	require.Equal(t, http.StatusOK, h.do(t, http.MethodGet, "/healthz", nil).Code, "health check stays open")
}

func TestServer_CORS(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{CORSOrigins: []string{"https://app.scouts.ca"}})

	req := httptest.NewRequest(http.MethodOptions, "/api/query", nil)
	req.Header.Set("Origin", "https://app.scouts.ca")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := httptest.NewRecorder()
	h.server.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusNoContent, rec.Code)
	require.Equal(t, "https://app.scouts.ca", rec.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodGet, "/api/", nil)
	req.Header.Set("Origin", "https://evil.example")
	rec = httptest.NewRecorder()
	h.server.Handler().ServeHTTP(rec, req)
	require.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestServer_HealthReadinessAndMetrics(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{})
	require.Equal(t, http.StatusOK, h.do(t, http.MethodGet, "/healthz", nil).Code)
	require.Equal(t, http.StatusOK, h.do(t, http.MethodGet, "/readyz", nil).Code)
	require.Equal(t, http.StatusOK, h.do(t, http.MethodGet, "/metrics", nil).Code)

	notReady := NewServer(Config{}, memory.NewJobStore(), nil, failingAnswerer{}, func(context.Context) error {
		return errors.New("vector index unavailable")
	}, nil)
	rec := httptest.NewRecorder()
	notReady.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
