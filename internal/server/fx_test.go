package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/site-rag/internal/config"
	"github.com/JakeFAU/site-rag/internal/crawler"
	"github.com/JakeFAU/site-rag/internal/rag"
)

const pageText = "Camp registration opens in March for every section. Leaders must complete " +
	"safety training before the first meeting, and parents can volunteer through the local group."

func newSite(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprintf(w, `<html><body><main><p>%s</p><a href="/camps">Camps</a></main></body></html>`, pageText)
	})
	mux.HandleFunc("/camps", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprintf(w, `<html><body><main><p>Camps page. %s</p></main></body></html>`, pageText)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func newOllama(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/api/embeddings", func(w http.ResponseWriter, _ *http.Request) {
		vec := make([]float32, 8)
		vec[0] = 1
		_ = json.NewEncoder(w).Encode(map[string]any{"embedding": vec})
	})
	mux.HandleFunc("/api/generate", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Prompt string `json:"prompt"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		answer := "no context"
		if strings.Contains(req.Prompt, "Camp registration opens in March") {
			answer = "Registration opens in March."
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"response": answer})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func testConfig(t *testing.T, site, llm string) *config.Config {
	t.Helper()
	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.Crawler.SeedURL = site
	cfg.Crawler.ScopeDomain = "127.0.0.1"
	cfg.Crawler.Concurrency = 1
	cfg.Embedding.BaseURL = llm
	cfg.Embedding.Dimension = 8
	cfg.Generation.BaseURL = llm
	cfg.Vector.Backend = "memory"
	cfg.Schedule.Enabled = false
	cfg.OCR.Enabled = false
	cfg.Archive.Enabled = true
	cfg.Archive.Backend = "memory"
	cfg.Logging.Development = false
	return &cfg
}

func TestBuild_CrawlThenAsk(t *testing.T) {
	site := newSite(t)
	llm := newOllama(t)
	ctx := context.Background()

	app, err := Build(ctx, testConfig(t, site.URL, llm.URL))
	require.NoError(t, err)
	t.Cleanup(func() { _ = app.Close(ctx) })

	require.NoError(t, app.ready(ctx))

	job, err := app.CrawlOnce(ctx)
	require.NoError(t, err)
	require.Equal(t, crawler.JobStatusCompleted, job.Status)
	require.Equal(t, crawler.TriggerCLI, job.Trigger)
	require.Equal(t, 2, job.URLsProcessed)
	require.Equal(t, 2, job.DocumentsProcessed)

	ans, err := app.Ask(ctx, "When does camp registration open?", 3)
	require.NoError(t, err)
	require.Equal(t, "Registration opens in March.", ans.Answer)
	require.Len(t, ans.Sources, 2)

	status := app.orchestrator.Status(ctx)
	require.Equal(t, 2, status.TotalDocuments)
	require.NotNil(t, status.LastUpdated)
}

func TestBuild_AskBeforeCrawl(t *testing.T) {
	llm := newOllama(t)
	ctx := context.Background()

	app, err := Build(ctx, testConfig(t, "http://127.0.0.1:1", llm.URL))
	require.NoError(t, err)
	t.Cleanup(func() { _ = app.Close(ctx) })

	ans, err := app.Ask(ctx, "anything", rag.DefaultMaxResults)
	require.NoError(t, err)
	require.Empty(t, ans.Sources)
	require.Contains(t, ans.Answer, "Scouts Canada")
}

func TestBuild_RejectsUnreachablePostgres(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t, "http://127.0.0.1:1", "http://127.0.0.1:1")
	cfg.Storage.Backend = "postgres"
	cfg.Database.DSN = "not a dsn"

	_, err := Build(ctx, cfg)
	require.Error(t, err)
}
