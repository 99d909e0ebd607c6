package frontier

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/site-rag/internal/crawler"
	"github.com/JakeFAU/site-rag/internal/extract"
	"github.com/JakeFAU/site-rag/internal/indexer"
	"github.com/JakeFAU/site-rag/internal/metrics"
)

// Defaults for linked document handling.
const (
	DefaultDocumentParallelism = 4
	DefaultMaxDocumentsPerPage = 25
	DefaultPageTimeout         = 30 * time.Second
)

// Config controls one crawl.
type Config struct {
	SeedURL     string
	ScopeDomain string
	VisitCap    int
	PageTimeout time.Duration
	// DocumentTimeout bounds each linked document fetch; zero uses PageTimeout.
	DocumentTimeout     time.Duration
	DocumentParallelism int
	MaxDocumentsPerPage int
	UserAgent           string
	HeadlessEnabled     bool
	ArchiveEnabled      bool
	ArchivePrefix       string
}

// Reporter receives progress after every handled URL.
type Reporter func(ctx context.Context, progress crawler.JobProgress)

// Indexer consumes extracted documents.
type Indexer interface {
	Index(ctx context.Context, doc indexer.Document) (indexer.Stats, error)
}

// Promoter decides whether a static fetch should be retried headless.
type Promoter interface {
	ShouldPromote(resp crawler.FetchResponse, extracted string) bool
}

// Walker drives fetch, extract and index for every URL a Frontier yields.
type Walker struct {
	cfg       Config
	fetcher   crawler.Fetcher
	headless  crawler.Fetcher
	promoter  Promoter
	extractor *extract.Dispatcher
	indexer   Indexer
	blobStore crawler.BlobStore
	logger    *zap.Logger
}

// NewWalker constructs a Walker. headless, promoter and blobStore
// may be nil when the matching feature is disabled.
func NewWalker(
	cfg Config,
	fetcher crawler.Fetcher,
	headless crawler.Fetcher,
	promoter Promoter,
	extractor *extract.Dispatcher,
	index Indexer,
	blobStore crawler.BlobStore,
	logger *zap.Logger,
) *Walker {
	if cfg.VisitCap <= 0 {
		cfg.VisitCap = DefaultVisitCap
	}
	if cfg.PageTimeout <= 0 {
		cfg.PageTimeout = DefaultPageTimeout
	}
	if cfg.DocumentTimeout <= 0 {
		cfg.DocumentTimeout = cfg.PageTimeout
	}
	if cfg.DocumentParallelism <= 0 {
		cfg.DocumentParallelism = DefaultDocumentParallelism
	}
	if cfg.MaxDocumentsPerPage <= 0 {
		cfg.MaxDocumentsPerPage = DefaultMaxDocumentsPerPage
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if extractor == nil {
		extractor = extract.NewDispatcher(nil, nil, nil, logger)
	}
	return &Walker{
		cfg:       cfg,
		fetcher:   fetcher,
		headless:  headless,
		promoter:  promoter,
		extractor: extractor,
		indexer:   index,
		blobStore: blobStore,
		logger:    logger.Named("frontier"),
	}
}

// Walk crawls from the configured seed until the frontier drains or the
// visit cap is hit. Per-URL failures are logged and skipped; only a bad seed
// or context cancellation ends the walk with an error.
func (w *Walker) Walk(ctx context.Context, jobID string, report Reporter) (crawler.JobProgress, error) {
	var progress crawler.JobProgress
	f, err := New(w.cfg.SeedURL, w.cfg.ScopeDomain, w.cfg.VisitCap)
	if err != nil {
		return progress, err
	}
	log := w.logger.With(zap.String("job_id", jobID))
	log.Info("crawl started",
		zap.String("seed", w.cfg.SeedURL),
		zap.String("scope", f.ScopeHost()),
		zap.Int("visit_cap", w.cfg.VisitCap),
	)

	for {
		if err := ctx.Err(); err != nil {
			return progress, fmt.Errorf("crawl interrupted: %w", err)
		}
		next, ok := f.Next()
		if !ok {
			break
		}
		if w.visit(ctx, jobID, f, next) {
			progress.DocumentsProcessed++
		}
		progress.URLsProcessed = f.VisitedCount()
		if report != nil {
			report(ctx, progress)
		}
	}

	log.Info("crawl finished",
		zap.Int("urls_processed", progress.URLsProcessed),
		zap.Int("documents_processed", progress.DocumentsProcessed),
	)
	return progress, nil
}

// visit handles one URL and reports whether it produced indexed chunks.
func (w *Walker) visit(ctx context.Context, jobID string, f *Frontier, pageURL string) bool {
	log := w.logger.With(zap.String("job_id", jobID), zap.String("url", pageURL))

	resp, ok := w.fetchOK(ctx, jobID, pageURL, w.fetcher, w.cfg.PageTimeout, log)
	if !ok {
		return false
	}
	mediaType := resp.MediaType()
	res := w.extractor.Extract(ctx, pageURL, resp.Body, mediaType)
	if res.Kind == extract.KindHTML {
		resp, res = w.maybePromote(ctx, jobID, pageURL, resp, res, log)
	}
	w.archive(ctx, jobID, resp, mediaType, log)

	text := res.Text
	if res.Kind == extract.KindHTML {
		added := f.Enqueue(res.Links...)
		log.Debug("links discovered", zap.Int("links", len(res.Links)), zap.Int("enqueued", added))
		text += w.linkedDocuments(ctx, jobID, res.DocumentLinks)
	}
	if !extract.Usable(text) {
		log.Debug("resource skipped", zap.String("kind", string(res.Kind)), zap.Int("text_len", len(text)))
		return false
	}

	stats, err := w.indexer.Index(ctx, indexer.Document{URL: pageURL, MediaType: mediaType, Text: text})
	if err != nil {
		log.Warn("indexing failed", zap.Error(err))
		return false
	}
	return stats.Indexed > 0
}

// fetchOK fetches rawURL with its own deadline and returns ok only for a
// 200 response.
func (w *Walker) fetchOK(
	ctx context.Context,
	jobID string,
	rawURL string,
	fetcher crawler.Fetcher,
	timeout time.Duration,
	log *zap.Logger,
) (crawler.FetchResponse, bool) {
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	resp, err := fetcher.Fetch(callCtx, crawler.FetchRequest{
		JobID:   jobID,
		URL:     rawURL,
		Headers: w.requestHeaders(),
	})
	if err != nil {
		metrics.ObserveFetch(rawURL, "error", 0)
		log.Warn("fetch failed", zap.String("target", rawURL), zap.Error(err))
		return crawler.FetchResponse{}, false
	}
	metrics.ObserveFetch(rawURL, strconv.Itoa(resp.StatusCode), len(resp.Body))
	if resp.StatusCode != http.StatusOK {
		log.Info("non-200 response skipped", zap.String("target", rawURL), zap.Int("status", resp.StatusCode))
		return crawler.FetchResponse{}, false
	}
	return resp, true
}

func (w *Walker) requestHeaders() http.Header {
	if w.cfg.UserAgent == "" {
		return nil
	}
	return http.Header{"User-Agent": {w.cfg.UserAgent}}
}

func (w *Walker) maybePromote(
	ctx context.Context,
	jobID string,
	pageURL string,
	resp crawler.FetchResponse,
	res extract.Result,
	log *zap.Logger,
) (crawler.FetchResponse, extract.Result) {
	if !w.cfg.HeadlessEnabled || w.headless == nil || w.promoter == nil {
		return resp, res
	}
	if !w.promoter.ShouldPromote(resp, res.Text) {
		return resp, res
	}

	callCtx, cancel := context.WithTimeout(ctx, w.cfg.PageTimeout)
	defer cancel()
	rendered, err := w.headless.Fetch(callCtx, crawler.FetchRequest{
		JobID:       jobID,
		URL:         pageURL,
		UseHeadless: true,
	})
	if err != nil {
		log.Warn("headless promotion failed", zap.Error(err))
		return resp, res
	}
	if rendered.StatusCode != http.StatusOK {
		log.Info("headless render returned non-200", zap.Int("status", rendered.StatusCode))
		return resp, res
	}
	rendered.UsedHeadless = true
	renderedRes := w.extractor.Extract(ctx, pageURL, rendered.Body, rendered.MediaType())
	if len(renderedRes.Text) <= len(res.Text) {
		return resp, res
	}
	log.Info("headless promotion applied",
		zap.Int("static_text_len", len(res.Text)),
		zap.Int("rendered_text_len", len(renderedRes.Text)),
	)
	return rendered, renderedRes
}

// linkedDocuments fetches document links in parallel and returns their text
// in page order, each under a "Document: <url>" marker.
func (w *Walker) linkedDocuments(ctx context.Context, jobID string, links []string) string {
	if len(links) == 0 {
		return ""
	}
	if len(links) > w.cfg.MaxDocumentsPerPage {
		w.logger.Info("document links truncated",
			zap.String("job_id", jobID),
			zap.Int("found", len(links)),
			zap.Int("limit", w.cfg.MaxDocumentsPerPage),
		)
		links = links[:w.cfg.MaxDocumentsPerPage]
	}

	texts := make([]string, len(links))
	var g errgroup.Group
	g.SetLimit(w.cfg.DocumentParallelism)
	for i, link := range links {
		g.Go(func() error {
			texts[i] = w.linkedDocument(ctx, jobID, link)
			return nil
		})
	}
	_ = g.Wait()

	var b strings.Builder
	for i, text := range texts {
		if text == "" {
			continue
		}
		b.WriteString("\n\nDocument: ")
		b.WriteString(links[i])
		b.WriteString("\n")
		b.WriteString(text)
	}
	return b.String()
}

func (w *Walker) linkedDocument(ctx context.Context, jobID, docURL string) string {
	log := w.logger.With(zap.String("job_id", jobID), zap.String("document", docURL))
	resp, ok := w.fetchOK(ctx, jobID, docURL, w.fetcher, w.cfg.DocumentTimeout, log)
	if !ok {
		return ""
	}
	mediaType := resp.MediaType()
	res := w.extractor.Extract(ctx, docURL, resp.Body, mediaType)
	if res.Kind == extract.KindHTML || strings.TrimSpace(res.Text) == "" {
		log.Debug("linked document yielded no text", zap.String("kind", string(res.Kind)))
		return ""
	}
	w.archive(ctx, jobID, resp, mediaType, log)
	return res.Text
}

func (w *Walker) archive(
	ctx context.Context,
	jobID string,
	resp crawler.FetchResponse,
	mediaType string,
	log *zap.Logger,
) {
	if !w.cfg.ArchiveEnabled || w.blobStore == nil {
		return
	}
	path := w.buildBlobPath(jobID, contentDigest(resp.Body), mediaType)
	uri, err := w.blobStore.PutObject(ctx, path, mediaType, bytes.NewReader(resp.Body))
	if err != nil {
		log.Warn("archive write failed", zap.String("path", path), zap.Error(err))
		return
	}
	log.Debug("raw body archived", zap.String("blob_uri", uri))
}

// contentDigest names an archived body, so identical bytes fetched by later
// crawls map to the same object.
func contentDigest(body []byte) string {
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])
}

func (w *Walker) buildBlobPath(jobID, hash, mediaType string) string {
	name := hash + "." + extensionFor(mediaType)
	prefix := strings.Trim(w.cfg.ArchivePrefix, "/")
	if prefix == "" {
		return fmt.Sprintf("%s/%s", jobID, name)
	}
	return fmt.Sprintf("%s/%s/%s", prefix, jobID, name)
}

func extensionFor(mediaType string) string {
	switch mediaType {
	case "text/html":
		return "html"
	case "application/pdf":
		return "pdf"
	case "image/jpeg":
		return "jpg"
	case "image/png":
		return "png"
	case "image/tiff":
		return "tiff"
	default:
		return "bin"
	}
}
