// Package server assembles the application from configuration and owns its
// lifecycle.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/storage"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/JakeFAU/modian-insight/internal/api"
	"github.com/JakeFAU/modian-insight/internal/changes"
	"github.com/JakeFAU/modian-insight/internal/clock/system"
	"github.com/JakeFAU/modian-insight/internal/config"
	"github.com/JakeFAU/modian-insight/internal/crawler"
	"github.com/JakeFAU/modian-insight/internal/fetcher/modian"
	"github.com/JakeFAU/modian-insight/internal/hash/sha256"
	"github.com/JakeFAU/modian-insight/internal/id/uuid"
	"github.com/JakeFAU/modian-insight/internal/logging"
	"github.com/JakeFAU/modian-insight/internal/metrics"
	"github.com/JakeFAU/modian-insight/internal/persist"
	"github.com/JakeFAU/modian-insight/internal/progress"
	progresssinks "github.com/JakeFAU/modian-insight/internal/progress/sinks"
	gcppublisher "github.com/JakeFAU/modian-insight/internal/publisher/pubsub"
	"github.com/JakeFAU/modian-insight/internal/retention"
	"github.com/JakeFAU/modian-insight/internal/runs"
	blobstorage "github.com/JakeFAU/modian-insight/internal/storage"
	gcsstorage "github.com/JakeFAU/modian-insight/internal/storage/gcs"
	localstorage "github.com/JakeFAU/modian-insight/internal/storage/local"
	memorystorage "github.com/JakeFAU/modian-insight/internal/storage/memory"
	pgstore "github.com/JakeFAU/modian-insight/internal/storage/postgres"
	"github.com/JakeFAU/modian-insight/internal/store"
)

// App contains the application's dependencies.
type App struct {
	cfg         config.Config
	logger      *zap.Logger
	ownsLogger  bool
	apiServer   *api.Server
	crawler     *crawler.Crawler
	store       *store.Store
	progressHub *progress.Hub
	runsRepo    runs.Repository
	pgRuns      *pgstore.RunStore
	publisher   *gcppublisher.Publisher
	gcsClient   *storage.Client
	retention   *retention.Scheduler
	unsubscribe []func()
	baseCtx     context.Context
	cancelBase  context.CancelFunc
}

// Option customizes Build.
type Option func(*buildOptions)

type buildOptions struct {
	logger     *zap.Logger
	registerer prometheus.Registerer
	fetcher    crawler.Fetcher
}

// WithLogger supplies a logger instead of building one from cfg.Logging.
func WithLogger(logger *zap.Logger) Option {
	return func(o *buildOptions) { o.logger = logger }
}

// WithRegisterer registers the progress collectors somewhere other than the
// default Prometheus registry.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(o *buildOptions) { o.registerer = reg }
}

// WithFetcher replaces the upstream HTTP client.
func WithFetcher(f crawler.Fetcher) Option {
	return func(o *buildOptions) { o.fetcher = f }
}

// Build creates the application's dependencies. On error everything built so
// far is released.
func Build(ctx context.Context, cfg config.Config, opts ...Option) (*App, error) {
	var o buildOptions
	for _, opt := range opts {
		opt(&o)
	}

	app := &App{cfg: cfg, logger: o.logger}
	if app.logger == nil {
		logger, err := logging.New(logging.Options{
			Development: cfg.Logging.Development,
			Level:       cfg.Logging.Level,
		})
		if err != nil {
			return nil, fmt.Errorf("logger init failed: %w", err)
		}
		app.logger = logger
		app.ownsLogger = true
	}
	// Background work outlives the ctx passed to Build.
	app.baseCtx, app.cancelBase = context.WithCancel(context.WithoutCancel(ctx))

	if err := app.build(ctx, o); err != nil {
		_ = app.Close(context.Background())
		return nil, err
	}
	return app, nil
}

func (a *App) build(ctx context.Context, o buildOptions) error {
	metrics.Init()
	a.logger.Info("building application",
		zap.Int("port", a.cfg.Server.Port),
		zap.String("storage_backend", a.cfg.Storage.Backend),
		zap.Bool("pubsub", a.cfg.PubSub.Enabled),
		zap.Bool("retention", a.cfg.Retention.Enabled),
	)

	backend, err := setupStorage(ctx, a)
	if err != nil {
		return err
	}
	if err := setupStore(ctx, a, backend); err != nil {
		return err
	}
	if err := setupRuns(ctx, a); err != nil {
		return err
	}
	if err := setupPublisher(ctx, a); err != nil {
		return err
	}
	if err := setupProgress(a, o.registerer); err != nil {
		return err
	}
	if err := setupCrawler(a, o.fetcher); err != nil {
		return err
	}
	if err := setupRetention(a); err != nil {
		return err
	}

	a.apiServer = api.NewServer(api.Deps{
		Crawler:  a.crawler,
		Store:    a.store,
		Runs:     a.runsRepo,
		Progress: a.progressHub,
		Clock:    system.New(),
		Config:   a.cfg,
		Logger:   a.logger,
	})
	return nil
}

func setupStorage(ctx context.Context, app *App) (blobstorage.Backend, error) {
	cfg := app.cfg.Storage
	switch cfg.Backend {
	case config.BackendGCS:
		client, err := storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("gcs client init failed: %w", err)
		}
		app.gcsClient = client
		backend, err := gcsstorage.New(client, gcsstorage.Config{Bucket: cfg.GCSBucket, Prefix: cfg.Prefix})
		if err != nil {
			return nil, fmt.Errorf("gcs blob store init failed: %w", err)
		}
		app.logger.Info("using GCS storage backend",
			zap.String("bucket", cfg.GCSBucket),
			zap.String("prefix", cfg.Prefix),
		)
		return backend, nil
	case config.BackendMemory:
		app.logger.Warn("using in-memory storage backend; data is lost on exit")
		return memorystorage.NewBlobStore(), nil
	default:
		backend, err := localstorage.New(localstorage.Config{BaseDir: cfg.DataDir})
		if err != nil {
			return nil, fmt.Errorf("local blob store init failed: %w", err)
		}
		app.logger.Info("using local storage backend", zap.String("path", backend.BaseDir()))
		return backend, nil
	}
}

func setupStore(ctx context.Context, app *App, backend blobstorage.Backend) error {
	storeCfg := store.Config{
		Backend:               backend,
		Detector:              changes.NewDetector(app.cfg.Store.SignificantFields),
		Clock:                 system.New(),
		Logger:                app.logger.Named("store"),
		KeepRaw:               app.cfg.Storage.KeepRaw,
		RebuildOnCorruptIndex: app.cfg.Store.RebuildOnCorruptIndex,
	}
	if app.cfg.Store.Fingerprint {
		storeCfg.Hasher = sha256.New()
	}
	s, err := store.Open(ctx, storeCfg)
	if err != nil {
		return fmt.Errorf("project store init failed: %w", err)
	}
	app.store = s
	app.logger.Info("project store opened",
		zap.Strings("significant_fields", storeCfg.Detector.SignificantFields()),
		zap.Bool("fingerprint", storeCfg.Hasher != nil),
	)
	return nil
}

func setupRuns(ctx context.Context, app *App) error {
	db := app.cfg.DB
	if db.DSN == "" {
		app.logger.Info("no database DSN configured, keeping crawl runs in memory")
		app.runsRepo = memorystorage.NewRunStore()
		return nil
	}
	pg, err := pgstore.NewRunStore(ctx, pgstore.Config{
		DSN:         db.DSN,
		TablePrefix: db.TablePrefix,
		MaxConns:    db.MaxConns,
	})
	if err != nil {
		return fmt.Errorf("run store init failed: %w", err)
	}
	app.pgRuns = pg
	app.runsRepo = pg
	if db.Migrate {
		if err := pg.Migrate(ctx); err != nil {
			return fmt.Errorf("run store migrate failed: %w", err)
		}
	}
	app.logger.Info("postgres run store initialized", zap.String("table_prefix", db.TablePrefix))
	return nil
}

func setupPublisher(ctx context.Context, app *App) error {
	ps := app.cfg.PubSub
	if !ps.Enabled {
		return nil
	}
	pub, err := gcppublisher.Dial(ctx, ps.ProjectID, ps.TopicName, app.logger)
	if err != nil {
		return fmt.Errorf("pubsub publisher init failed: %w", err)
	}
	app.publisher = pub
	app.logger.Info("Pub/Sub publisher initialized",
		zap.String("project", ps.ProjectID),
		zap.String("topic", ps.TopicName),
	)
	return nil
}

func setupProgress(app *App, reg prometheus.Registerer) error {
	cfg := app.cfg.Progress
	var sinkList []progress.Sink
	if cfg.LogSink {
		sinkList = append(sinkList, progresssinks.NewLogSink(app.logger.Named("progress_log")))
	}
	if cfg.PrometheusSink {
		sink, err := progresssinks.NewPrometheusSink(reg)
		var already prometheus.AlreadyRegisteredError
		switch {
		case errors.As(err, &already):
			app.logger.Warn("progress collectors already registered, skipping prometheus sink")
		case err != nil:
			return fmt.Errorf("prometheus sink init failed: %w", err)
		default:
			sinkList = append(sinkList, sink)
		}
	}
	if cfg.RunsSink && app.runsRepo != nil {
		sinkList = append(sinkList, progresssinks.NewRunSink(app.runsRepo, app.logger.Named("progress_runs")))
	}
	if app.publisher != nil {
		sinkList = append(sinkList, progresssinks.NewPublisherSink(
			app.publisher,
			app.cfg.PubSub.TopicName,
			app.logger.Named("progress_publisher"),
		))
	}

	hubCfg := progress.Config{
		BufferSize:     cfg.BufferSize,
		MaxBatchEvents: cfg.MaxBatchEvents,
		MaxBatchWait:   cfg.MaxBatchWait(),
		SinkTimeout:    cfg.SinkTimeout(),
		BaseContext:    app.baseCtx,
		Logger:         app.logger.Named("progress_hub"),
	}
	app.progressHub = progress.NewHub(hubCfg, sinkList...)
	app.logger.Info("progress hub initialized",
		zap.Int("sinks", len(sinkList)),
		zap.Int("buffer_size", hubCfg.BufferSize),
		zap.Int("max_batch_events", hubCfg.MaxBatchEvents),
		zap.Duration("max_batch_wait", hubCfg.MaxBatchWait),
		zap.Duration("sink_timeout", hubCfg.SinkTimeout),
	)
	return nil
}

func setupCrawler(app *App, fetcher crawler.Fetcher) error {
	cr := app.cfg.Crawler
	if fetcher == nil {
		fetcher = modian.New(modian.Config{
			BaseURL:           cr.BaseURL,
			UserAgent:         cr.UserAgent,
			Timeout:           cr.Timeout(),
			RequestsPerSecond: cr.RequestsPerSecond,
			Burst:             cr.Burst,
			Logger:            app.logger,
		})
	}
	c, err := crawler.New(crawler.Config{
		Fetcher:      fetcher,
		Clock:        system.New(),
		IDs:          uuid.New(),
		Logger:       app.logger.Named("crawler"),
		DefaultDelay: cr.DefaultDelay(),
		MinDelay:     cr.MinDelay(),
		MaxDelay:     cr.MaxDelay(),
		FetchTimeout: cr.Timeout(),
		MaxTargets:   cr.MaxTargets,
	})
	if err != nil {
		return fmt.Errorf("crawler init failed: %w", err)
	}
	app.crawler = c

	p, err := persist.New(persist.Config{
		Store:       app.store,
		Emitter:     app.progressHub,
		BaseContext: app.baseCtx,
		Logger:      app.logger,
	})
	if err != nil {
		return fmt.Errorf("persister init failed: %w", err)
	}
	// Forward first so PROJECT_DONE reaches the hub ahead of the store decision.
	app.unsubscribe = append(app.unsubscribe,
		c.Subscribe(progress.Forward(app.progressHub)),
		c.Subscribe(p.Listener()),
	)
	app.logger.Info("crawler initialized",
		zap.Duration("default_delay", cr.DefaultDelay()),
		zap.Duration("min_delay", cr.MinDelay()),
		zap.Duration("max_delay", cr.MaxDelay()),
		zap.Float64("requests_per_second", cr.RequestsPerSecond),
	)
	return nil
}

func setupRetention(app *App) error {
	rc := app.cfg.Retention
	if !rc.Enabled {
		app.logger.Info("scheduled retention disabled")
		return nil
	}
	s, err := retention.New(retention.Config{
		Cleaner:       app.store,
		RetentionDays: rc.Days,
		Schedule:      rc.Schedule,
		BaseContext:   app.baseCtx,
		Logger:        app.logger,
	})
	if err != nil {
		return fmt.Errorf("retention scheduler init failed: %w", err)
	}
	app.retention = s
	return nil
}

// Config returns the configuration the app was built from.
func (a *App) Config() config.Config { return a.cfg }

// Logger returns the application logger.
func (a *App) Logger() *zap.Logger { return a.logger }

// Crawler returns the crawl orchestrator.
func (a *App) Crawler() *crawler.Crawler { return a.crawler }

// Store returns the versioned project store.
func (a *App) Store() *store.Store { return a.store }

// Handler returns the HTTP handler serving the API.
func (a *App) Handler() http.Handler { return a.apiServer.Handler() }

// Run serves HTTP and runs the retention schedule until ctx is canceled or a
// termination signal arrives.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if a.retention != nil {
		a.retention.Start()
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.apiServer.Handler(),
		ReadHeaderTimeout: time.Duration(a.cfg.Server.ReadHeaderTimeoutSec) * time.Second,
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

	shutdownCtx, cancel := context.WithTimeout(
		context.Background(),
		time.Duration(a.cfg.Server.ShutdownTimeoutSeconds)*time.Second,
	)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}
	closeErr := a.Close(shutdownCtx)

	select {
	case err := <-serveErr:
		return fmt.Errorf("http server: %w", err)
	default:
		return closeErr
	}
}

// Close stops the crawler and the scheduler, flushes progress sinks, and
// releases external clients. It is safe to call on a partially built App.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	if a.crawler != nil {
		a.crawler.Stop()
		for _, unsub := range a.unsubscribe {
			unsub()
		}
		a.crawler.Close()
	}
	if a.retention != nil {
		if err := a.retention.Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("retention stop: %w", err))
		}
	}
	if a.progressHub != nil {
		if err := a.progressHub.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("progress hub close: %w", err))
		}
	}
	if a.cancelBase != nil {
		a.cancelBase()
	}
	if a.publisher != nil {
		if err := a.publisher.Close(); err != nil {
			errs = append(errs, fmt.Errorf("pubsub close: %w", err))
		}
	}
	if a.gcsClient != nil {
		if err := a.gcsClient.Close(); err != nil {
			errs = append(errs, fmt.Errorf("gcs client close: %w", err))
		}
	}
	if a.pgRuns != nil {
		a.pgRuns.Close()
	}
	for _, err := range errs {
		a.logger.Warn("shutdown step failed", zap.Error(err))
	}
	a.logger.Info("shutdown complete")
	if a.ownsLogger {
		_ = a.logger.Sync()
	}
	return errors.Join(errs...)
}
