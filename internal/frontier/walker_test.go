package frontier

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/site-rag/internal/crawler"
	"github.com/JakeFAU/site-rag/internal/extract"
	"github.com/JakeFAU/site-rag/internal/indexer"
	memstore "github.com/JakeFAU/site-rag/internal/storage/memory"
)

var filler = strings.Repeat("Scouts learn outdoor skills together. ", 5)

type page struct {
	status      int
	contentType string
	body        string
	err         error
}

type fakeFetcher struct {
	mu      sync.Mutex
	pages   map[string]page
	fetched []string
}

func (f *fakeFetcher) Fetch(_ context.Context, req crawler.FetchRequest) (crawler.FetchResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetched = append(f.fetched, req.URL)
	p, ok := f.pages[req.URL]
	if !ok {
		return crawler.FetchResponse{URL: req.URL, StatusCode: http.StatusNotFound}, nil
	}
	if p.err != nil {
		return crawler.FetchResponse{}, p.err
	}
	return crawler.FetchResponse{
		URL:          req.URL,
		StatusCode:   p.status,
		Headers:      http.Header{"Content-Type": {p.contentType}},
		Body:         []byte(p.body),
		UsedHeadless: req.UseHeadless,
	}, nil
}

func (f *fakeFetcher) count(u string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, got := range f.fetched {
		if got == u {
			n++
		}
	}
	return n
}

type recordingIndexer struct {
	mu   sync.Mutex
	docs []indexer.Document
}

func (r *recordingIndexer) Index(_ context.Context, doc indexer.Document) (indexer.Stats, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.docs = append(r.docs, doc)
	return indexer.Stats{Chunks: 1, Indexed: 1}, nil
}

func (r *recordingIndexer) byURL(u string) (indexer.Document, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, d := range r.docs {
		if d.URL == u {
			return d, true
		}
	}
	return indexer.Document{}, false
}

// textExtractor treats the body as already-extracted text.
type textExtractor struct{ fail bool }

func (e textExtractor) ExtractText(_ context.Context, body []byte) (string, error) {
	if e.fail {
		return "", errors.New("corrupt file")
	}
	return string(body), nil
}

func html(body string) page {
	return page{status: http.StatusOK, contentType: "text/html; charset=utf-8", body: "<html><body>" + body + "</body></html>"}
}

func newTestWalker(cfg Config, fetcher crawler.Fetcher, idx Indexer) *Walker {
	dispatch := extract.NewDispatcher(nil, textExtractor{}, nil, nil)
	return NewWalker(cfg, fetcher, nil, nil, dispatch, idx, nil, nil)
}

func TestWalk_CrawlsSiteBreadthFirst(t *testing.T) {
	t.Parallel()

	fetcher := &fakeFetcher{pages: map[string]page{
		"https://scouts.ca/": html(`<p>` + filler + `</p>
			<a href="/camp">Camp</a> <a href="/about">About</a>
			<a href="https://other.org/x">Away</a>`),
		"https://scouts.ca/camp":  html(`<p>` + filler + `</p><a href="/">Home</a><a href="/about">About</a>`),
		"https://scouts.ca/about": html(`<p>short</p>`),
	}}
	idx := &recordingIndexer{}
	w := newTestWalker(Config{SeedURL: "https://scouts.ca"}, fetcher, idx)

	var reports []crawler.JobProgress
	progress, err := w.Walk(context.Background(), "job-1", func(_ context.Context, p crawler.JobProgress) {
		reports = append(reports, p)
	})
	require.NoError(t, err)
	require.Equal(t, crawler.JobProgress{URLsProcessed: 3, DocumentsProcessed: 2}, progress)
	require.Len(t, reports, 3)
	for i, r := range reports {
		require.Equal(t, i+1, r.URLsProcessed)
	}

	require.Equal(t, 1, fetcher.count("https://scouts.ca/about"))
	require.Zero(t, fetcher.count("https://other.org/x"))
	require.Equal(t, []string{"https://scouts.ca/", "https://scouts.ca/camp", "https://scouts.ca/about"}, fetcher.fetched)
}

func TestWalk_AppendsLinkedDocumentsInPageOrder(t *testing.T) {
	t.Parallel()

	fetcher := &fakeFetcher{pages: map[string]page{
		"https://scouts.ca/": html(`<p>` + filler + `</p>
			<a href="/files/b.pdf">B</a>
			<a href="/files/broken.pdf">Broken</a>
			<a href="/files/a.pdf">A</a>
			<a href="/files/missing.docx">Missing</a>`),
		"https://scouts.ca/files/a.pdf":      {status: http.StatusOK, contentType: "application/pdf", body: "alpha text"},
		"https://scouts.ca/files/b.pdf":      {status: http.StatusOK, contentType: "application/pdf", body: "bravo text"},
		"https://scouts.ca/files/broken.pdf": {err: errors.New("connection reset")},
	}}
	idx := &recordingIndexer{}
	w := newTestWalker(Config{SeedURL: "https://scouts.ca/", VisitCap: 1}, fetcher, idx)

	_, err := w.Walk(context.Background(), "job-2", nil)
	require.NoError(t, err)

	doc, ok := idx.byURL("https://scouts.ca/")
	require.True(t, ok)
	require.True(t, strings.HasSuffix(doc.Text,
		"\n\nDocument: https://scouts.ca/files/b.pdf\nbravo text"+
			"\n\nDocument: https://scouts.ca/files/a.pdf\nalpha text"))
	require.Equal(t, "text/html", doc.MediaType)
}

func TestWalk_LimitsDocumentsPerPage(t *testing.T) {
	t.Parallel()

	var links strings.Builder
	pages := map[string]page{}
	for _, name := range []string{"1", "2", "3", "4"} {
		links.WriteString(`<a href="/d` + name + `.pdf">d</a>`)
		pages["https://scouts.ca/d"+name+".pdf"] = page{status: http.StatusOK, contentType: "application/pdf", body: "doc " + name}
	}
	pages["https://scouts.ca/"] = html(`<p>` + filler + `</p>` + links.String())
	fetcher := &fakeFetcher{pages: pages}
	w := newTestWalker(Config{SeedURL: "https://scouts.ca/", VisitCap: 1, MaxDocumentsPerPage: 2}, fetcher, &recordingIndexer{})

	_, err := w.Walk(context.Background(), "job-3", nil)
	require.NoError(t, err)
	require.Equal(t, 1, fetcher.count("https://scouts.ca/d2.pdf"))
	require.Zero(t, fetcher.count("https://scouts.ca/d3.pdf"))
}

func TestWalk_SkipsFailuresAndNon200(t *testing.T) {
	t.Parallel()

	fetcher := &fakeFetcher{pages: map[string]page{
		"https://scouts.ca/": html(`<p>` + filler + `</p><a href="/gone">x</a><a href="/flaky">y</a><a href="/img.png">z</a>`),
		"https://scouts.ca/gone":    {status: http.StatusGone, contentType: "text/html"},
		"https://scouts.ca/flaky":   {err: errors.New("timeout")},
		"https://scouts.ca/img.png": {status: http.StatusOK, contentType: "image/png", body: "\x89PNG"},
	}}
	idx := &recordingIndexer{}
	w := newTestWalker(Config{SeedURL: "https://scouts.ca/"}, fetcher, idx)

	progress, err := w.Walk(context.Background(), "job-4", nil)
	require.NoError(t, err)
	require.Equal(t, 4, progress.URLsProcessed, "failed fetches still count as visited")
	require.Equal(t, 1, progress.DocumentsProcessed)
	require.Len(t, idx.docs, 1)
}

func TestWalk_CanceledContext(t *testing.T) {
	t.Parallel()

	fetcher := &fakeFetcher{pages: map[string]page{"https://scouts.ca/": html(filler)}}
	w := newTestWalker(Config{SeedURL: "https://scouts.ca/"}, fetcher, &recordingIndexer{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := w.Walk(ctx, "job-5", nil)
	require.ErrorIs(t, err, context.Canceled)
	require.Empty(t, fetcher.fetched)
}

type alwaysPromote struct{}

func (alwaysPromote) ShouldPromote(crawler.FetchResponse, string) bool { return true }

func TestWalk_HeadlessPromotion(t *testing.T) {
	t.Parallel()

	static := &fakeFetcher{pages: map[string]page{
		"https://scouts.ca/": html(`<div id="root"></div>`),
	}}
	rendered := &fakeFetcher{pages: map[string]page{
		"https://scouts.ca/": html(`<div id="root"><p>` + filler + `</p></div>`),
	}}
	idx := &recordingIndexer{}
	dispatch := extract.NewDispatcher(nil, nil, nil, nil)
	w := NewWalker(Config{SeedURL: "https://scouts.ca/", HeadlessEnabled: true}, static, rendered, alwaysPromote{}, dispatch, idx, nil, nil)

	progress, err := w.Walk(context.Background(), "job-6", nil)
	require.NoError(t, err)
	require.Equal(t, 1, progress.DocumentsProcessed)
	require.Equal(t, 1, rendered.count("https://scouts.ca/"))
}

func TestWalk_ArchivesRawBodies(t *testing.T) {
	t.Parallel()

	fetcher := &fakeFetcher{pages: map[string]page{"https://scouts.ca/": html(`<p>` + filler + `</p>`)}}
	blobs := memstore.NewBlobStore()
	dispatch := extract.NewDispatcher(nil, nil, nil, nil)
	w := NewWalker(
		Config{SeedURL: "https://scouts.ca/", ArchiveEnabled: true, ArchivePrefix: "/raw/"},
		fetcher, nil, nil, dispatch, &recordingIndexer{}, blobs, nil,
	)

	_, err := w.Walk(context.Background(), "job-7", nil)
	require.NoError(t, err)
	require.Equal(t, 1, blobs.Len())

	sum := sha256.Sum256([]byte(fetcher.pages["https://scouts.ca/"].body))
	digest := hex.EncodeToString(sum[:])
	got, ok := blobs.Object("raw/job-7/" + digest + ".html")
	require.True(t, ok)
	require.Equal(t, fetcher.pages["https://scouts.ca/"].body, string(got))
}

func TestExtensionFor(t *testing.T) {
	t.Parallel()

	require.Equal(t, "pdf", extensionFor("application/pdf"))
	require.Equal(t, "bin", extensionFor("application/zip"))
}

func TestContentDigestIsStableForIdenticalBodies(t *testing.T) {
	t.Parallel()

	a := contentDigest([]byte("Camp registration opens in May."))
	b := contentDigest([]byte("Camp registration opens in May."))
	c := contentDigest([]byte("Camp registration opens in June."))
	require.Equal(t, a, b)
	require.NotEqual(t, a, c)
	require.Len(t, a, 64)
}
