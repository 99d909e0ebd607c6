// Package server wires configuration into the running service and exposes
// the one-shot crawl and query entry points used by the CLI.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/JakeFAU/site-rag/internal/api"
	"github.com/JakeFAU/site-rag/internal/chunker"
	"github.com/JakeFAU/site-rag/internal/config"
	"github.com/JakeFAU/site-rag/internal/crawler"
	"github.com/JakeFAU/site-rag/internal/dispatcher"
	"github.com/JakeFAU/site-rag/internal/extract"
	collyfetcher "github.com/JakeFAU/site-rag/internal/fetcher/colly"
	headlessfetcher "github.com/JakeFAU/site-rag/internal/fetcher/headless"
	"github.com/JakeFAU/site-rag/internal/frontier"
	"github.com/JakeFAU/site-rag/internal/headless/detector"
	"github.com/JakeFAU/site-rag/internal/id/uuid"
	"github.com/JakeFAU/site-rag/internal/indexer"
	"github.com/JakeFAU/site-rag/internal/logging"
	"github.com/JakeFAU/site-rag/internal/metrics"
	"github.com/JakeFAU/site-rag/internal/ollama"
	memorypublisher "github.com/JakeFAU/site-rag/internal/publisher/memory"
	gcppublisher "github.com/JakeFAU/site-rag/internal/publisher/pubsub"
	queueMemory "github.com/JakeFAU/site-rag/internal/queue/memory"
	"github.com/JakeFAU/site-rag/internal/rag"
	"github.com/JakeFAU/site-rag/internal/scheduler"
	gcsstorage "github.com/JakeFAU/site-rag/internal/storage/gcs"
	localstorage "github.com/JakeFAU/site-rag/internal/storage/local"
	memoryStorage "github.com/JakeFAU/site-rag/internal/storage/memory"
	pgstore "github.com/JakeFAU/site-rag/internal/storage/postgres"
	"github.com/JakeFAU/site-rag/internal/vectorindex/qdrant"
	vecmem "github.com/JakeFAU/site-rag/internal/vectorindex/memory"
	"github.com/JakeFAU/site-rag/internal/worker"
)

const shutdownTimeout = 10 * time.Second

// App contains the application's dependencies.
type App struct {
	cfg          *config.Config
	logger       *zap.Logger
	apiServer    *api.Server
	dispatch     *dispatcher.Dispatcher
	schedule     *scheduler.Scheduler
	queue        *queueMemory.Queue
	jobStore     crawler.JobStore
	pgJobs       *pgstore.JobStore
	index        crawler.VectorIndex
	pipeline     *indexer.Pipeline
	orchestrator *rag.Orchestrator
	workers      []*worker.Worker
	headless     *headlessfetcher.Fetcher
	pubsubClient *pubsub.Client
	gcpPublisher *gcppublisher.Publisher
	storage      *storage.Client
}

// Build creates the application's dependencies.
func Build(ctx context.Context, cfg *config.Config) (*App, error) {
	logger, err := logging.New(cfg.Logging.Development, cfg.Server.ServiceName)
	if err != nil {
		return nil, fmt.Errorf("logger init failed: %w", err)
	}
	zap.ReplaceGlobals(logger)
	metrics.Init()

	app := &App{cfg: cfg, logger: logger}
	logger.Info("building application dependencies",
		zap.Int("server_port", cfg.Server.Port),
		zap.String("seed_url", cfg.Crawler.SeedURL),
		zap.String("vector_backend", cfg.Vector.Backend),
		zap.String("storage_backend", cfg.Storage.Backend),
	)

	if app.jobStore, err = setupJobStore(ctx, app); err != nil {
		return nil, err
	}
	blobStore, err := setupArchive(ctx, app)
	if err != nil {
		app.closeInfrastructure()
		return nil, err
	}
	publisher, err := setupPublisher(ctx, app)
	if err != nil {
		app.closeInfrastructure()
		return nil, err
	}
	app.index = setupVectorIndex(app)

	embedder := ollama.NewEmbedder(ollama.Config{
		BaseURL: cfg.Embedding.BaseURL,
		Model:   cfg.Embedding.Model,
		Timeout: config.Seconds(cfg.Embedding.TimeoutSeconds),
	}, nil, logger)
	generator := ollama.NewGenerator(ollama.Config{
		BaseURL: cfg.Generation.BaseURL,
		Model:   cfg.Generation.Model,
		Timeout: config.Seconds(cfg.Generation.TimeoutSeconds),
	}, nil, logger)

	clock := crawler.SystemClock{}
	app.pipeline = indexer.New(indexer.Config{
		Collection:    cfg.Vector.Collection,
		Dimension:     cfg.Embedding.Dimension,
		BatchSize:     cfg.Vector.BatchSize,
		EmbedTimeout:  config.Seconds(cfg.Embedding.TimeoutSeconds),
		IndexTimeout:  config.Seconds(cfg.Vector.TimeoutSeconds),
		IndexEndpoint: cfg.Vector.URL,
		NotifyTopic:   cfg.PubSub.TopicName,
	}, chunker.New(chunker.Config{}), embedder, app.index, publisher, clock, logger)

	walker := setupWalker(app, blobStore)

	app.queue = queueMemory.NewQueue(cfg.Crawler.QueueDepth)
	for i := 0; i < cfg.Crawler.Concurrency; i++ {
		app.workers = append(app.workers, worker.New(
			app.queue,
			app.jobStore,
			app.pipeline,
			walker,
			clock,
			worker.Config{JobTimeout: cfg.JobTimeout()},
			logger.Named("worker").With(zap.Int("index", i)),
		))
	}
	app.dispatch = dispatcher.New(app.queue, app.jobStore, uuid.New(), clock, app.workers, logger)

	app.orchestrator = rag.New(rag.Config{
		Collection:        cfg.Vector.Collection,
		SiteName:          cfg.Crawler.SiteName,
		IndexEndpoint:     cfg.Vector.URL,
		EmbeddingEndpoint: embedder.Endpoint(),
		EmbeddingModel:    cfg.Embedding.Model,
	}, app.index, embedder, generator, app.jobStore, logger)

	if cfg.Schedule.Enabled {
		app.schedule, err = scheduler.New(cfg.Schedule.Cron, cfg.Location(), app.dispatch, logger)
		if err != nil {
			app.closeInfrastructure()
			return nil, fmt.Errorf("scheduler init failed: %w", err)
		}
	}

	app.apiServer = api.NewServer(api.Config{
		ServiceName:    cfg.Server.ServiceName,
		AuthEnabled:    cfg.Auth.Enabled,
		APIKey:         cfg.Auth.APIKey,
		CORSOrigins:    cfg.Server.CORSOrigins,
		RequestTimeout: config.Seconds(cfg.Server.RequestTimeoutSeconds),
	}, app.jobStore, app.dispatch, app.orchestrator, app.ready, logger.Named("api"))

	return app, nil
}

// Logger returns the application logger.
func (a *App) Logger() *zap.Logger {
	return a.logger
}

// Run serves HTTP, runs the worker pool and the crawl schedule until the
// context is canceled or a termination signal arrives.
func (a *App) Run(ctx context.Context) error {
	a.logger.Info("application started")
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	done := make(chan struct{})
	go func() {
		defer close(done)
		a.logger.Info("dispatcher started", zap.Int("workers", len(a.workers)))
		a.dispatch.Run(ctx)
	}()

	if a.schedule != nil {
		if err := a.schedule.Start(); err != nil {
			a.logger.Error("crawl schedule failed to start", zap.Error(err))
		}
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("http server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	a.logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}
	if a.schedule != nil {
		a.schedule.Stop(shutdownCtx)
	}
	a.queue.Close()
	select {
	case <-done:
	case <-shutdownCtx.Done():
		a.logger.Warn("workers did not drain before shutdown deadline")
	}

	return a.Close(shutdownCtx)
}

// CrawlOnce registers one crawl job and executes it on the calling goroutine.
func (a *App) CrawlOnce(ctx context.Context) (crawler.Job, error) {
	if len(a.workers) == 0 {
		return crawler.Job{}, errors.New("no workers configured")
	}
	job, err := a.dispatch.Submit(ctx, crawler.TriggerCLI)
	if err != nil {
		return crawler.Job{}, fmt.Errorf("submit crawl: %w", err)
	}
	item, err := a.queue.Dequeue(ctx)
	if err != nil {
		return job, fmt.Errorf("dequeue crawl: %w", err)
	}
	return a.workers[0].Process(ctx, item)
}

// Ask answers a single question against the index.
func (a *App) Ask(ctx context.Context, question string, maxResults int) (rag.Answer, error) {
	return a.orchestrator.Answer(ctx, question, maxResults)
}

// Close releases clients and flushes the logger.
func (a *App) Close(_ context.Context) error {
	a.closeInfrastructure()
	logging.Sync(a.logger)
	a.logger.Info("shutdown complete")
	return nil
}

func (a *App) closeInfrastructure() {
	if a.headless != nil {
		a.headless.Close()
	}
	if a.gcpPublisher != nil {
		a.gcpPublisher.Close()
	}
	if a.pubsubClient != nil {
		if err := a.pubsubClient.Close(); err != nil {
			a.logger.Warn("pubsub client close failed", zap.Error(err))
		}
	}
	if a.storage != nil {
		if err := a.storage.Close(); err != nil {
			a.logger.Warn("gcs client close failed", zap.Error(err))
		}
	}
	if a.pgJobs != nil {
		a.pgJobs.Close()
	}
}

// ready reports the vector index as usable when it answers at all; a
// missing collection is created on the next crawl.
func (a *App) ready(ctx context.Context) error {
	_, err := a.index.GetCollection(ctx, a.cfg.Vector.Collection)
	if err != nil && !errors.Is(err, crawler.ErrCollectionNotFound) {
		return fmt.Errorf("vector index: %w", err)
	}
	return nil
}

func setupJobStore(ctx context.Context, app *App) (crawler.JobStore, error) {
	if app.cfg.Storage.Backend != "postgres" {
		app.logger.Info("using in-memory job registry")
		return memoryStorage.NewJobStore(), nil
	}
	store, err := pgstore.NewJobStore(ctx, pgstore.Config{
		DSN:             app.cfg.Database.DSN,
		Table:           app.cfg.Database.Table,
		MaxConns:        app.cfg.Database.MaxConns,
		MinConns:        app.cfg.Database.MinConns,
		MaxConnLifetime: app.cfg.Database.MaxConnLifetime,
	})
	if err != nil {
		return nil, fmt.Errorf("job store init failed: %w", err)
	}
	app.pgJobs = store
	app.logger.Info("using postgres job registry", zap.String("table", app.cfg.Database.Table))
	return store, nil
}

func setupArchive(ctx context.Context, app *App) (crawler.BlobStore, error) {
	if !app.cfg.Archive.Enabled {
		return nil, nil
	}
	var blobStore crawler.BlobStore
	var err error
	switch app.cfg.Archive.Backend {
	case "gcs":
		app.logger.Info("using GCS archive backend", zap.String("bucket", app.cfg.Archive.Bucket))
		app.storage, err = storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("gcs client init failed: %w", err)
		}
		blobStore, err = gcsstorage.New(app.storage, gcsstorage.Config{Bucket: app.cfg.Archive.Bucket})
		if err != nil {
			return nil, fmt.Errorf("gcs blob store init failed: %w", err)
		}
	case "local":
		app.logger.Info("using local archive backend", zap.String("path", app.cfg.Archive.LocalDir))
		blobStore, err = localstorage.New(localstorage.Config{BaseDir: app.cfg.Archive.LocalDir})
		if err != nil {
			return nil, fmt.Errorf("local blob store init failed: %w", err)
		}
	default:
		app.logger.Info("using in-memory archive backend")
		blobStore = memoryStorage.NewBlobStore()
	}
	return blobStore, nil
}

func setupPublisher(ctx context.Context, app *App) (crawler.Publisher, error) {
	if app.cfg.PubSub.TopicName == "" || app.cfg.PubSub.ProjectID == "" {
		app.logger.Info("no Pub/Sub topic configured, using in-memory publisher")
		return memorypublisher.New(), nil
	}
	var err error
	app.pubsubClient, err = pubsub.NewClient(ctx, app.cfg.PubSub.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("pubsub client init failed: %w", err)
	}
	app.gcpPublisher = gcppublisher.New(app.pubsubClient, app.logger)
	app.logger.Info("Pub/Sub publisher initialized",
		zap.String("project", app.cfg.PubSub.ProjectID),
		zap.String("topic", app.cfg.PubSub.TopicName),
	)
	return app.gcpPublisher, nil
}

func setupVectorIndex(app *App) crawler.VectorIndex {
	if app.cfg.Vector.Backend == "memory" {
		app.logger.Warn("using in-memory vector index; documents are lost on restart")
		return vecmem.New()
	}
	app.logger.Info("using qdrant vector index", zap.String("url", app.cfg.Vector.URL))
	return qdrant.New(qdrant.Config{
		URL:     app.cfg.Vector.URL,
		APIKey:  app.cfg.Vector.APIKey,
		Timeout: config.Seconds(app.cfg.Vector.TimeoutSeconds),
	}, nil, app.logger)
}

func setupWalker(app *App, blobStore crawler.BlobStore) *frontier.Walker {
	cfg := app.cfg
	fetcher := collyfetcher.New(collyfetcher.Config{
		UserAgent:   cfg.Crawler.UserAgent,
		Timeout:     cfg.PageTimeout(),
		MaxBodySize: cfg.HTTP.MaxBodyMB << 20,
	})
	app.logger.Info("using colly fetcher", zap.String("user_agent", cfg.Crawler.UserAgent))

	var headless crawler.Fetcher
	var promoter frontier.Promoter
	if cfg.Headless.Enabled {
		f, err := headlessfetcher.NewChromedp(headlessfetcher.Config{
			MaxParallel:       cfg.Headless.MaxParallel,
			UserAgent:         cfg.Crawler.UserAgent,
			NavigationTimeout: config.Seconds(cfg.Headless.NavTimeoutSec),
		})
		if err != nil {
			app.logger.Warn("headless fetcher init failed", zap.Error(err))
		} else {
			app.headless = f
			headless = f
			promoter = detector.NewHeuristic(cfg.Headless.PromotionThresh)
			app.logger.Info("using headless fallback", zap.Int("max_parallel", cfg.Headless.MaxParallel))
		}
	}

	var ocr crawler.TextExtractor
	if cfg.OCR.Enabled {
		tess := extract.NewTesseractOCR(extract.OCRConfig{
			Binary:   cfg.OCR.Binary,
			Language: cfg.OCR.Language,
			Timeout:  config.Seconds(cfg.OCR.TimeoutSeconds),
		})
		if tess.Available() {
			ocr = tess
		} else {
			app.logger.Warn("OCR binary not found, images will be skipped", zap.String("binary", cfg.OCR.Binary))
		}
	}
	extractor := extract.NewDispatcher(extract.NewHTMLExtractor(), extract.NewPDFExtractor(), ocr, app.logger)

	return frontier.NewWalker(frontier.Config{
		SeedURL:             cfg.Crawler.SeedURL,
		ScopeDomain:         cfg.Crawler.ScopeDomain,
		VisitCap:            cfg.Crawler.VisitCap,
		PageTimeout:         cfg.PageTimeout(),
		DocumentTimeout:     cfg.DocumentTimeout(),
		DocumentParallelism: cfg.Crawler.DocumentParallelism,
		MaxDocumentsPerPage: cfg.Crawler.MaxDocumentsPerPage,
		UserAgent:           cfg.Crawler.UserAgent,
		HeadlessEnabled:     headless != nil,
		ArchiveEnabled:      blobStore != nil,
		ArchivePrefix:       cfg.Archive.Prefix,
	}, fetcher, headless, promoter, extractor, app.pipeline, blobStore, app.logger)
}
