// Package server builds the harvest service from configuration and runs it.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	pubsub "cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/storage"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/JakeFAU/menu-harvester/internal/api"
	"github.com/JakeFAU/menu-harvester/internal/clock/system"
	"github.com/JakeFAU/menu-harvester/internal/config"
	"github.com/JakeFAU/menu-harvester/internal/crawler"
	"github.com/JakeFAU/menu-harvester/internal/dispatcher"
	"github.com/JakeFAU/menu-harvester/internal/hash/sha256"
	"github.com/JakeFAU/menu-harvester/internal/id/uuid"
	"github.com/JakeFAU/menu-harvester/internal/metrics"
	memorypublisher "github.com/JakeFAU/menu-harvester/internal/publisher/memory"
	gcppublisher "github.com/JakeFAU/menu-harvester/internal/publisher/pubsub"
	queueMemory "github.com/JakeFAU/menu-harvester/internal/queue/memory"
	gcsstorage "github.com/JakeFAU/menu-harvester/internal/storage/gcs"
	localstorage "github.com/JakeFAU/menu-harvester/internal/storage/local"
	memoryStorage "github.com/JakeFAU/menu-harvester/internal/storage/memory"
	pgstore "github.com/JakeFAU/menu-harvester/internal/storage/postgres"
	"github.com/JakeFAU/menu-harvester/internal/telemetry"
	"github.com/JakeFAU/menu-harvester/internal/worker"
)

// Version is reported in traces; set at build time with -ldflags.
var Version = "dev"

// App contains the application's dependencies.
type App struct {
	cfg             config.Config
	logger          *zap.Logger
	apiServer       *api.Server
	dispatch        *dispatcher.Dispatcher
	queue           *queueMemory.Queue
	pipeline        *Pipeline
	pool            *pgxpool.Pool
	pubsubClient    *pubsub.Client
	pubsubPublisher *gcppublisher.Publisher
	storage         *storage.Client
	tracerShutdown  func(context.Context) error
}

// Build creates the application's dependencies. On error everything built
// so far is released.
func Build(ctx context.Context, cfg config.Config, logger *zap.Logger) (app *App, err error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	app = &App{cfg: cfg, logger: logger}
	defer func() {
		if err != nil {
			app.Close(context.WithoutCancel(ctx))
			app = nil
		}
	}()
	metrics.Init()

	if cfg.Tracing.Enabled {
		tp, terr := telemetry.InitTracerProvider(ctx, cfg.Tracing.ServiceName, Version, cfg.Tracing.SampleRatio)
		if terr != nil {
			return nil, fmt.Errorf("tracer init failed: %w", terr)
		}
		app.tracerShutdown = tp.Shutdown
		logger.Info("tracing enabled", zap.Float64("sample_ratio", cfg.Tracing.SampleRatio))
	}

	logger.Info("building application dependencies", zap.Int("port", cfg.Server.Port))
	clock := system.New()

	jobStore, chunkStore, err := app.setupDatabase(ctx, clock)
	if err != nil {
		return nil, err
	}
	blobStore, err := app.setupStorage(ctx)
	if err != nil {
		return nil, err
	}
	publisher, err := app.setupPublisher(ctx)
	if err != nil {
		return nil, err
	}

	app.pipeline, err = NewPipeline(cfg, logger)
	if err != nil {
		return nil, err
	}

	app.queue = queueMemory.NewQueue(cfg.Crawler.QueueDepth)
	registry := worker.NewRegistry()
	workerCfg := worker.Config{
		BlobPrefix: cfg.Storage.Prefix,
		Topic:      cfg.PubSub.TopicName,
	}
	hasher := sha256.New()
	workers := make([]*worker.Worker, 0, cfg.Crawler.Workers)
	for i := range cfg.Crawler.Workers {
		workers = append(workers, worker.New(
			app.queue,
			jobStore,
			blobStore,
			chunkStore,
			publisher,
			hasher,
			clock,
			app.pipeline.Harvester,
			registry,
			workerCfg,
			logger.With(zap.Int("index", i)),
		))
	}
	app.dispatch = dispatcher.New(app.queue, workers, registry)
	logger.Info("worker pool configured",
		zap.Int("workers", len(workers)),
		zap.Int("queue_depth", cfg.Crawler.QueueDepth),
		zap.String("blob_prefix", workerCfg.BlobPrefix),
		zap.String("topic", workerCfg.Topic),
	)

	app.apiServer = api.NewServer(jobStore, app.dispatch, uuid.New(), clock, cfg, logger)
	return app, nil
}

// Handler exposes the API router, mainly for tests.
func (a *App) Handler() http.Handler {
	return a.apiServer.Handler()
}

// Run serves HTTP and processes jobs until ctx is canceled or the server
// fails, then shuts down gracefully.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := context.WithCancel(ctx)
	defer stop()

	workerCtx, stopWorkers := context.WithCancel(context.WithoutCancel(ctx))
	defer stopWorkers()
	dispatchDone := make(chan struct{})
	go func() {
		defer close(dispatchDone)
		a.logger.Info("dispatcher started")
		a.dispatch.Run(workerCtx)
	}()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	serveErr := make(chan error, 1)
	go func() {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
			stop()
		}
	}()

	<-ctx.Done()
	a.logger.Info("shutdown initiated")

	timeout := a.cfg.ShutdownTimeout()
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}

	// Workers finish or abandon in-flight jobs within the shutdown budget.
	stopWorkers()
	select {
	case <-dispatchDone:
	case <-shutdownCtx.Done():
		a.logger.Warn("workers did not stop before shutdown deadline")
	}

	a.Close(shutdownCtx)

	select {
	case err := <-serveErr:
		return fmt.Errorf("http server: %w", err)
	default:
		return nil
	}
}

// Close releases infrastructure clients and flushes telemetry.
func (a *App) Close(ctx context.Context) {
	if a.queue != nil {
		a.queue.Close()
	}
	if a.pipeline != nil {
		a.pipeline.Close()
	}
	a.closeInfrastructure()
	a.closeObservability(ctx)
	a.logger.Info("shutdown complete")
}

func (a *App) closeInfrastructure() {
	if a.pubsubPublisher != nil {
		a.pubsubPublisher.Stop()
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
	if a.pool != nil {
		a.pool.Close()
	}
}

func (a *App) closeObservability(ctx context.Context) {
	if a.tracerShutdown != nil {
		if err := a.tracerShutdown(ctx); err != nil {
			a.logger.Warn("tracer shutdown failed", zap.Error(err))
		}
	}
	if err := a.logger.Sync(); err != nil {
		a.logger.Debug("logger sync failed", zap.Error(err))
	}
}

func (a *App) setupDatabase(ctx context.Context, clock crawler.Clock) (crawler.JobStore, crawler.ChunkStore, error) {
	if a.cfg.DB.DSN == "" {
		a.logger.Warn("no database DSN configured, keeping jobs in memory and skipping chunk persistence")
		return memoryStorage.NewJobStore(), nil, nil
	}
	pgCfg := pgstore.Config{
		DSN:             a.cfg.DB.DSN,
		ChunkTable:      a.cfg.DB.ChunkTable,
		MaxConns:        a.cfg.DB.MaxConns,
		MinConns:        a.cfg.DB.MinConns,
		MaxConnLifetime: time.Duration(a.cfg.DB.MaxConnLifetimeMinutes) * time.Minute,
	}
	var err error
	a.pool, err = pgstore.NewPool(ctx, pgCfg)
	if err != nil {
		return nil, nil, fmt.Errorf("postgres init failed: %w", err)
	}
	if a.cfg.DB.EnsureSchema {
		if err := pgstore.EnsureSchema(ctx, a.pool, pgCfg); err != nil {
			return nil, nil, fmt.Errorf("postgres schema init failed: %w", err)
		}
	}
	jobStore, err := pgstore.NewJobStore(a.pool, pgCfg, clock)
	if err != nil {
		return nil, nil, fmt.Errorf("postgres job store init failed: %w", err)
	}
	chunkStore, err := pgstore.NewChunkStore(a.pool, a.cfg.DB.ChunkTable)
	if err != nil {
		return nil, nil, fmt.Errorf("postgres chunk store init failed: %w", err)
	}
	a.logger.Info("postgres stores initialized", zap.String("chunk_table", a.cfg.DB.ChunkTable))
	return jobStore, chunkStore, nil
}

func (a *App) setupStorage(ctx context.Context) (crawler.BlobStore, error) {
	switch a.cfg.Storage.Backend {
	case config.StorageGCS:
		a.logger.Info("using GCS storage backend", zap.String("bucket", a.cfg.Storage.GCSBucket))
		var err error
		a.storage, err = storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("gcs client init failed: %w", err)
		}
		blobStore, err := gcsstorage.New(a.storage, gcsstorage.Config{
			Bucket:       a.cfg.Storage.GCSBucket,
			CacheControl: a.cfg.Storage.GCSCacheControl,
			Metadata:     map[string]string{"producer": a.cfg.Tracing.ServiceName, "version": Version},
		}, a.logger)
		if err != nil {
			return nil, fmt.Errorf("gcs blob store init failed: %w", err)
		}
		return blobStore, nil
	case config.StorageLocal:
		a.logger.Info("using local storage backend", zap.String("path", a.cfg.Storage.LocalDir))
		blobStore, err := localstorage.New(localstorage.Config{BaseDir: a.cfg.Storage.LocalDir})
		if err != nil {
			return nil, fmt.Errorf("local blob store init failed: %w", err)
		}
		return blobStore, nil
	default:
		a.logger.Info("using in-memory storage backend")
		return memoryStorage.NewBlobStore(), nil
	}
}

func (a *App) setupPublisher(ctx context.Context) (crawler.Publisher, error) {
	if a.cfg.PubSub.TopicName == "" || a.cfg.PubSub.ProjectID == "" {
		a.logger.Info("no Pub/Sub topic configured, using in-memory publisher")
		return memorypublisher.New(memorypublisher.DefaultRetain, a.logger), nil
	}
	var err error
	a.pubsubClient, err = pubsub.NewClient(ctx, a.cfg.PubSub.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("pubsub client init failed: %w", err)
	}
	a.pubsubPublisher = gcppublisher.New(a.pubsubClient.Publisher(a.cfg.PubSub.TopicName), a.logger)
	a.logger.Info("Pub/Sub publisher initialized",
		zap.String("project", a.cfg.PubSub.ProjectID),
		zap.String("topic", a.cfg.PubSub.TopicName),
	)
	return a.pubsubPublisher, nil
}
