// Package indexer chunks extracted text, embeds each chunk and upserts the
// resulting points into the vector index.
package indexer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/site-rag/internal/chunker"
	"github.com/JakeFAU/site-rag/internal/crawler"
	"github.com/JakeFAU/site-rag/internal/extract"
	"github.com/JakeFAU/site-rag/internal/id/uuid"
	"github.com/JakeFAU/site-rag/internal/metrics"
)

// Defaults for the collection the pipeline writes to.
const (
	DefaultCollection = "site_docs"
	DefaultDimension  = 768
	DefaultBatchSize  = 1
)

// ErrTextTooShort is returned for documents at or below extract.MinTextLength.
var ErrTextTooShort = errors.New("text too short to index")

// Config controls collection shape and per-call timeouts.
type Config struct {
	Collection   string
	Dimension    int
	BatchSize    int
	EmbedTimeout time.Duration
	IndexTimeout time.Duration
	// IndexEndpoint names the vector index in diagnostics.
	IndexEndpoint string
	// NotifyTopic, when set, receives a message per indexed document.
	NotifyTopic string
}

// Document is one fetched resource ready for indexing.
type Document struct {
	URL       string
	MediaType string
	Text      string
}

// Stats summarizes one Index call.
type Stats struct {
	Chunks  int
	Indexed int
	Skipped int
}

// Notification is published after a document gains indexed chunks.
type Notification struct {
	URL         string `json:"url"`
	ContentType string `json:"content_type"`
	Chunks      int    `json:"chunks"`
	Indexed     int    `json:"indexed"`
	ScrapedAt   string `json:"scraped_at"`
}

// Pipeline turns documents into vector points.
type Pipeline struct {
	cfg       Config
	chunker   *chunker.Chunker
	embedder  crawler.Embedder
	index     crawler.VectorIndex
	publisher crawler.Publisher
	clock     crawler.Clock
	logger    *zap.Logger
}

// New builds a Pipeline. publisher may be nil.
func New(
	cfg Config,
	chunks *chunker.Chunker,
	embedder crawler.Embedder,
	index crawler.VectorIndex,
	publisher crawler.Publisher,
	clock crawler.Clock,
	logger *zap.Logger,
) *Pipeline {
	if cfg.Collection == "" {
		cfg.Collection = DefaultCollection
	}
	if cfg.Dimension <= 0 {
		cfg.Dimension = DefaultDimension
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if chunks == nil {
		chunks = chunker.New(chunker.Config{})
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{
		cfg:       cfg,
		chunker:   chunks,
		embedder:  embedder,
		index:     index,
		publisher: publisher,
		clock:     clock,
		logger:    logger.Named("indexer"),
	}
}

// Collection returns the collection name the pipeline writes to.
func (p *Pipeline) Collection() string {
	return p.cfg.Collection
}

// EnsureCollection creates the collection when it does not exist yet.
func (p *Pipeline) EnsureCollection(ctx context.Context) error {
	callCtx, cancel := p.indexContext(ctx)
	defer cancel()

	info, err := p.index.GetCollection(callCtx, p.cfg.Collection)
	switch {
	case err == nil:
		p.logger.Debug("collection present",
			zap.String("collection", p.cfg.Collection),
			zap.Int("points", info.PointsCount),
		)
		return nil
	case !errors.Is(err, crawler.ErrCollectionNotFound):
		return fmt.Errorf("vector index unavailable at %s: %w", p.cfg.IndexEndpoint, err)
	}

	if err := p.index.CreateCollection(callCtx, p.cfg.Collection, p.cfg.Dimension, crawler.DistanceCosine); err != nil {
		// Another job may have created it between the lookup and the create.
		if errors.Is(err, crawler.ErrCollectionExists) {
			return nil
		}
		if _, getErr := p.index.GetCollection(callCtx, p.cfg.Collection); getErr == nil {
			return nil
		}
		return fmt.Errorf("create collection %s at %s: %w", p.cfg.Collection, p.cfg.IndexEndpoint, err)
	}
	p.logger.Info("collection created",
		zap.String("collection", p.cfg.Collection),
		zap.Int("dimension", p.cfg.Dimension),
	)
	return nil
}

// Index chunks, embeds and upserts doc. Chunks whose embedding or upsert
// fails are skipped; only context cancellation aborts the call.
func (p *Pipeline) Index(ctx context.Context, doc Document) (Stats, error) {
	if !extract.Usable(doc.Text) {
		return Stats{}, ErrTextTooShort
	}
	scrapedAt := p.clock.Now().UTC()
	chunks := p.chunker.Chunks(doc.Text, doc.URL, doc.MediaType, scrapedAt)
	stats := Stats{Chunks: len(chunks)}
	log := p.logger.With(zap.String("url", doc.URL))

	batch := make([]crawler.Point, 0, p.cfg.BatchSize)
	flush := func() {
		if len(batch) == 0 {
			return
		}
		callCtx, cancel := p.indexContext(ctx)
		err := p.index.Upsert(callCtx, p.cfg.Collection, batch)
		cancel()
		if err != nil {
			log.Warn("upsert failed", zap.Int("points", len(batch)), zap.Error(err))
			stats.Skipped += len(batch)
		} else {
			stats.Indexed += len(batch)
		}
		batch = batch[:0]
	}

	for _, ch := range chunks {
		if err := ctx.Err(); err != nil {
			flush()
			metrics.ObserveChunks(stats.Indexed, stats.Skipped)
			return stats, err
		}
		vector, err := p.embed(ctx, ch.Text)
		if err != nil || len(vector) == 0 {
			log.Debug("chunk skipped", zap.Int("chunk_index", ch.Index), zap.Error(err))
			stats.Skipped++
			continue
		}
		batch = append(batch, crawler.Point{
			ID:     uuid.PointID(ch.SourceURL, ch.Index, ch.Text),
			Vector: vector,
			Payload: crawler.Payload{
				Text:        ch.Text,
				URL:         ch.SourceURL,
				ChunkIndex:  ch.Index,
				ScrapedAt:   ch.ExtractedAt.Format(time.RFC3339),
				ContentType: ch.MediaType,
			},
		})
		if len(batch) >= p.cfg.BatchSize {
			flush()
		}
	}
	flush()
	metrics.ObserveChunks(stats.Indexed, stats.Skipped)

	log.Debug("document indexed",
		zap.Int("chunks", stats.Chunks),
		zap.Int("indexed", stats.Indexed),
		zap.Int("skipped", stats.Skipped),
	)
	if stats.Indexed > 0 {
		p.notify(ctx, doc, stats, scrapedAt)
	}
	return stats, nil
}

func (p *Pipeline) embed(ctx context.Context, text string) ([]float32, error) {
	if p.cfg.EmbedTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.cfg.EmbedTimeout)
		defer cancel()
	}
	return p.embedder.Embed(ctx, text)
}

func (p *Pipeline) indexContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if p.cfg.IndexTimeout > 0 {
		return context.WithTimeout(ctx, p.cfg.IndexTimeout)
	}
	return context.WithCancel(ctx)
}

func (p *Pipeline) notify(ctx context.Context, doc Document, stats Stats, scrapedAt time.Time) {
	if p.publisher == nil || p.cfg.NotifyTopic == "" {
		return
	}
	msg := Notification{
		URL:         doc.URL,
		ContentType: doc.MediaType,
		Chunks:      stats.Chunks,
		Indexed:     stats.Indexed,
		ScrapedAt:   scrapedAt.Format(time.RFC3339),
	}
	if _, err := p.publisher.Publish(ctx, p.cfg.NotifyTopic, msg); err != nil {
		p.logger.Warn("index notification failed", zap.String("url", doc.URL), zap.Error(err))
	}
}
