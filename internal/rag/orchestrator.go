// Package rag answers questions from the indexed site content: it embeds the
// question, retrieves the nearest chunks and asks the generator to answer
// from that context only.
package rag

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/site-rag/internal/crawler"
	"github.com/JakeFAU/site-rag/internal/metrics"
)

// Result limits.
const (
	DefaultMaxResults = 5
	MaxResultsLimit   = 50
)

// Query outcomes used as the metrics label.
const (
	OutcomeAnswered          = "answered"
	OutcomeEmptyIndex        = "empty_index"
	OutcomeIndexUnreachable  = "index_unreachable"
	OutcomeEmbedUnavailable  = "embedding_unavailable"
	OutcomeNoResults         = "no_results"
	OutcomeGenerationFailure = "generation_failed"
	OutcomeError             = "error"
)

// Config names the collection and the services quoted in canned answers.
type Config struct {
	Collection        string
	SiteName          string
	IndexEndpoint     string
	EmbeddingEndpoint string
	EmbeddingModel    string
}

// Source is one retrieved chunk cited by an answer.
type Source struct {
	URL         string  `json:"url"`
	Score       float64 `json:"score"`
	ChunkIndex  int     `json:"chunk_index"`
	ContentType string  `json:"content_type"`
	ScrapedAt   string  `json:"scraped_at"`
}

// Answer is the response to one question.
type Answer struct {
	Answer         string   `json:"answer"`
	Sources        []Source `json:"sources"`
	ProcessingTime float64  `json:"processing_time"`
}

// Status summarizes the indexed corpus.
type Status struct {
	TotalDocuments int        `json:"total_documents"`
	LastUpdated    *time.Time `json:"last_updated"`
	CollectionSize int        `json:"collection_size"`
}

// LastCrawl reports when the most recent crawl completed.
type LastCrawl interface {
	LastCompletedAt(ctx context.Context) (*time.Time, error)
}

// Orchestrator runs the retrieval-and-answer flow.
type Orchestrator struct {
	cfg       Config
	index     crawler.VectorIndex
	embedder  crawler.Embedder
	generator crawler.Generator
	lastCrawl LastCrawl
	logger    *zap.Logger
	now       func() time.Time
}

// New builds an Orchestrator. lastCrawl may be nil.
func New(
	cfg Config,
	index crawler.VectorIndex,
	embedder crawler.Embedder,
	generator crawler.Generator,
	lastCrawl LastCrawl,
	logger *zap.Logger,
) *Orchestrator {
	if cfg.SiteName == "" {
		cfg.SiteName = "the site"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		cfg:       cfg,
		index:     index,
		embedder:  embedder,
		generator: generator,
		lastCrawl: lastCrawl,
		logger:    logger.Named("rag"),
		now:       time.Now,
	}
}

// Answer responds to question using at most maxResults retrieved chunks.
// Dependency outages produce an explanatory Answer with no sources; only
// unexpected failures are returned as errors. Generated text is returned
// verbatim except when it is blank: an empty or whitespace-only generation
// is replaced by a fixed "unable to generate" message, with the retrieved
// sources still attached, rather than passed through as an empty answer.
func (o *Orchestrator) Answer(ctx context.Context, question string, maxResults int) (Answer, error) {
	start := o.now()
	ans, outcome, err := o.answer(ctx, question, clampResults(maxResults))
	elapsed := o.now().Sub(start)
	ans.ProcessingTime = elapsed.Seconds()
	if ans.Sources == nil {
		ans.Sources = []Source{}
	}
	if err != nil {
		outcome = OutcomeError
	}
	metrics.ObserveQuery(outcome, elapsed)
	o.logger.Info("question answered",
		zap.String("outcome", outcome),
		zap.Int("sources", len(ans.Sources)),
		zap.Duration("elapsed", elapsed),
	)
	return ans, err
}

func (o *Orchestrator) answer(ctx context.Context, question string, limit int) (Answer, string, error) {
	info, err := o.index.GetCollection(ctx, o.cfg.Collection)
	switch {
	case errors.Is(err, crawler.ErrCollectionNotFound):
		return Answer{Answer: o.emptyIndexAnswer()}, OutcomeEmptyIndex, nil
	case err != nil:
		o.logger.Error("vector index unreachable", zap.Error(err))
		return Answer{Answer: o.unreachableAnswer()}, OutcomeIndexUnreachable, nil
	case info.PointsCount == 0:
		return Answer{Answer: o.emptyIndexAnswer()}, OutcomeEmptyIndex, nil
	}

	vector, err := o.embedder.Embed(ctx, question)
	if err != nil || len(vector) == 0 {
		o.logger.Error("question embedding failed", zap.Error(err))
		return Answer{Answer: o.embeddingAnswer()}, OutcomeEmbedUnavailable, nil
	}

	hits, err := o.index.Search(ctx, o.cfg.Collection, vector, limit)
	if err != nil {
		return Answer{}, OutcomeError, fmt.Errorf("search %s: %w", o.cfg.Collection, err)
	}
	if len(hits) == 0 {
		return Answer{Answer: "I couldn't find any relevant information to answer your question."}, OutcomeNoResults, nil
	}

	sources := make([]Source, 0, len(hits))
	texts := make([]string, 0, len(hits))
	for _, hit := range hits {
		texts = append(texts, hit.Payload.Text)
		sources = append(sources, Source{
			URL:         hit.Payload.URL,
			Score:       hit.Score,
			ChunkIndex:  hit.Payload.ChunkIndex,
			ContentType: hit.Payload.ContentType,
			ScrapedAt:   hit.Payload.ScrapedAt,
		})
	}

	text, err := o.generator.Generate(ctx, BuildPrompt(o.cfg.SiteName, strings.Join(texts, "\n\n"), question))
	if err != nil || strings.TrimSpace(text) == "" {
		o.logger.Error("answer generation failed", zap.Error(err))
		return Answer{
			Answer:  "I found relevant documentation but was unable to generate an answer. Please ensure the text generation service is running and try again.",
			Sources: sources,
		}, OutcomeGenerationFailure, nil
	}
	return Answer{Answer: text, Sources: sources}, OutcomeAnswered, nil
}

// Status reports the collection size and last crawl time. An unreachable or
// missing collection reports zeros.
func (o *Orchestrator) Status(ctx context.Context) Status {
	info, err := o.index.GetCollection(ctx, o.cfg.Collection)
	if err != nil {
		if !errors.Is(err, crawler.ErrCollectionNotFound) {
			o.logger.Warn("collection status unavailable", zap.Error(err))
		}
		return Status{}
	}
	status := Status{TotalDocuments: info.PointsCount, CollectionSize: info.PointsCount}
	if o.lastCrawl != nil {
		last, err := o.lastCrawl.LastCompletedAt(ctx)
		if err != nil {
			o.logger.Warn("last crawl lookup failed", zap.Error(err))
		}
		status.LastUpdated = last
	}
	return status
}

// Clear drops the collection. Clearing an absent collection succeeds.
func (o *Orchestrator) Clear(ctx context.Context) error {
	err := o.index.DeleteCollection(ctx, o.cfg.Collection)
	if err != nil && !errors.Is(err, crawler.ErrCollectionNotFound) {
		return fmt.Errorf("delete collection %s: %w", o.cfg.Collection, err)
	}
	o.logger.Info("collection cleared", zap.String("collection", o.cfg.Collection))
	return nil
}

func (o *Orchestrator) emptyIndexAnswer() string {
	return fmt.Sprintf(
		"The document database is empty. Please run a scraping job first to populate the database with %s documentation.",
		o.cfg.SiteName,
	)
}

func (o *Orchestrator) unreachableAnswer() string {
	return fmt.Sprintf(
		"I'm unable to connect to the document database. Please ensure the vector index is running at %s and try again.",
		o.cfg.IndexEndpoint,
	)
}

func (o *Orchestrator) embeddingAnswer() string {
	return fmt.Sprintf(
		"I'm unable to connect to the embedding service. Please ensure it is running with the %s model at %s.",
		o.cfg.EmbeddingModel,
		o.cfg.EmbeddingEndpoint,
	)
}

func clampResults(n int) int {
	switch {
	case n <= 0:
		return DefaultMaxResults
	case n > MaxResultsLimit:
		return MaxResultsLimit
	default:
		return n
	}
}
