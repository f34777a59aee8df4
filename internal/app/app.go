// Package app builds and holds the long-lived services of one crawl
// invocation, acting as a dependency injection container.
package app

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	gcs "cloud.google.com/go/storage"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-crawler/internal/api"
	"github.com/JakeFAU/catalog-crawler/internal/catalog"
	"github.com/JakeFAU/catalog-crawler/internal/catalog/httpapi"
	"github.com/JakeFAU/catalog-crawler/internal/checkpoint"
	"github.com/JakeFAU/catalog-crawler/internal/config"
	"github.com/JakeFAU/catalog-crawler/internal/crawler"
	"github.com/JakeFAU/catalog-crawler/internal/graph"
	"github.com/JakeFAU/catalog-crawler/internal/logging"
	"github.com/JakeFAU/catalog-crawler/internal/progress"
	progresssinks "github.com/JakeFAU/catalog-crawler/internal/progress/sinks"
	"github.com/JakeFAU/catalog-crawler/internal/storage"
	gcsstorage "github.com/JakeFAU/catalog-crawler/internal/storage/gcs"
	localstorage "github.com/JakeFAU/catalog-crawler/internal/storage/local"
	memorystorage "github.com/JakeFAU/catalog-crawler/internal/storage/memory"
	pgstore "github.com/JakeFAU/catalog-crawler/internal/storage/postgres"
	"github.com/JakeFAU/catalog-crawler/internal/store"
	"github.com/JakeFAU/catalog-crawler/internal/strategy"
)

// App holds the shared services of one crawl invocation.
type App struct {
	cfg         config.Config
	logger      *zap.Logger
	registry    *prometheus.Registry
	auth        catalog.Authenticator
	sessions    *crawler.SessionManager
	engine      *crawler.Engine
	hub         *progress.Hub
	checkpoints checkpoint.Store
	blobs       storage.BlobStore
	runs        store.RunRepository
	pgRuns      *pgstore.RunStore
	graph       *graph.Sink
	server      *api.Server
	gcsClient   *gcs.Client
}

// Option customizes Build.
type Option func(*App)

// WithAuthenticator replaces the catalog gateway client.
func WithAuthenticator(auth catalog.Authenticator) Option {
	return func(a *App) { a.auth = auth }
}

// WithLogger replaces the logger built from the logging section.
func WithLogger(logger *zap.Logger) Option {
	return func(a *App) { a.logger = logger }
}

// Build creates every service the crawl named output needs. Services
// created before a failure are closed again.
func Build(ctx context.Context, cfg config.Config, output string, opts ...Option) (_ *App, err error) {
	a := &App{cfg: cfg}
	for _, opt := range opts {
		opt(a)
	}
	if a.logger == nil {
		a.logger, err = newLogger(cfg.Logging)
		if err != nil {
			return nil, err
		}
	}
	defer func() {
		if err != nil {
			_ = a.Close(context.WithoutCancel(ctx))
		}
	}()

	a.registry = prometheus.NewRegistry()
	a.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	if a.auth == nil {
		a.auth, err = httpapi.New(httpapi.Config{
			BaseURL:        cfg.Catalog.BaseURL,
			Locale:         cfg.Catalog.Locale,
			Timezone:       cfg.Catalog.Timezone,
			Device:         cfg.Catalog.Device,
			Token:          cfg.Catalog.Token,
			GSFID:          cfg.Catalog.GSFID,
			RequestTimeout: cfg.Catalog.RequestTimeout,
			Delay:          cfg.Catalog.Delay,
		}, a.logger.Named("catalog"))
		if err != nil {
			return nil, fmt.Errorf("catalog client init failed: %w", err)
		}
	}
	a.logger.Info("catalog gateway configured",
		zap.String("base_url", cfg.Catalog.BaseURL),
		zap.String("device", cfg.Catalog.Device),
		zap.String("locale", cfg.Catalog.Locale),
		zap.Duration("delay", cfg.Catalog.Delay))

	if err = a.setupCheckpoints(ctx); err != nil {
		return nil, err
	}
	if err = a.setupStorage(ctx); err != nil {
		return nil, err
	}
	if err = a.setupRuns(ctx); err != nil {
		return nil, err
	}
	if err = a.setupGraph(ctx); err != nil {
		return nil, err
	}
	if err = a.setupProgress(ctx, output); err != nil {
		return nil, err
	}

	a.sessions = crawler.NewSessionManager(a.auth, crawler.SessionConfig{
		Backoff:     cfg.Crawler.ReloginBackoff,
		MaxAttempts: cfg.Crawler.ReloginMaxAttempts,
	}, a.logger)
	a.engine = crawler.New(crawler.Config{
		Workers:            cfg.Crawler.Workers,
		MaxItemAttempts:    cfg.Crawler.MaxItemAttempts,
		RetryBaseDelay:     cfg.Crawler.RetryBaseDelay,
		RetryMaxDelay:      cfg.Crawler.RetryMaxDelay,
		ReloginBackoff:     cfg.Crawler.ReloginBackoff,
		ReloginMaxAttempts: cfg.Crawler.ReloginMaxAttempts,
		RespawnDelay:       cfg.Crawler.RespawnDelay,
		MaxCrashes:         cfg.Crawler.MaxCrashes,
	}, a.auth, a.checkpoints, a.hub, a.logger)

	a.server, err = api.NewServer(api.Config{
		Status:     a.engine,
		Runs:       a.runs,
		Gatherer:   a.registry,
		Registerer: a.registry,
		Ready:      a.ready,
		APIKey:     cfg.Server.APIKey,
	}, a.logger)
	if err != nil {
		return nil, fmt.Errorf("status server init failed: %w", err)
	}
	return a, nil
}

func newLogger(cfg config.LoggingConfig) (*zap.Logger, error) {
	logger, err := logging.New(cfg.Development, cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("logger init failed: %w", err)
	}
	return logger, nil
}

func (a *App) storageClient(ctx context.Context) (*gcs.Client, error) {
	if a.gcsClient != nil {
		return a.gcsClient, nil
	}
	client, err := gcs.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("gcs client init failed: %w", err)
	}
	a.gcsClient = client
	return client, nil
}

func (a *App) setupCheckpoints(ctx context.Context) error {
	c := a.cfg.Checkpoint
	var err error
	switch c.Backend {
	case "gcs":
		client, cerr := a.storageClient(ctx)
		if cerr != nil {
			return cerr
		}
		a.checkpoints, err = checkpoint.NewGCSStore(client, checkpoint.GCSConfig{Bucket: c.Bucket, Prefix: c.Prefix})
	case "redis":
		a.checkpoints, err = checkpoint.NewRedisStore(c.RedisAddr, c.RedisKeyPrefix)
	case "postgres":
		a.checkpoints, err = checkpoint.NewPostgresStore(ctx, checkpoint.PostgresConfig{DSN: c.PostgresDSN, Table: c.PostgresTable})
	case "memory":
		a.checkpoints = checkpoint.NewMemoryStore()
	case "file", "":
		a.checkpoints, err = checkpoint.NewFileStore(c.Dir)
	default:
		return fmt.Errorf("unknown checkpoint backend: %s", c.Backend)
	}
	if err != nil {
		a.checkpoints = nil
		return fmt.Errorf("checkpoint store init failed: %w", err)
	}
	a.logger.Info("checkpoint store ready", zap.String("backend", c.Backend))
	return nil
}

func (a *App) setupStorage(ctx context.Context) error {
	s := a.cfg.Storage
	var err error
	switch s.Backend {
	case "gcs":
		client, cerr := a.storageClient(ctx)
		if cerr != nil {
			return cerr
		}
		a.blobs, err = gcsstorage.New(client, gcsstorage.Config{Bucket: s.Bucket, Prefix: s.Prefix})
	case "memory":
		a.blobs = memorystorage.NewBlobStore()
	case "local", "":
		a.blobs, err = localstorage.New(localstorage.Config{BaseDir: filepath.Join(s.BaseDir, s.Prefix)})
	default:
		return fmt.Errorf("unknown storage backend: %s", s.Backend)
	}
	if err != nil {
		return fmt.Errorf("blob store init failed: %w", err)
	}
	a.logger.Info("output storage ready", zap.String("backend", s.Backend))
	return nil
}

func (a *App) setupRuns(ctx context.Context) error {
	if a.cfg.Runs.PostgresDSN == "" {
		a.logger.Debug("no runs.postgres_dsn, keeping run history in memory")
		a.runs = memorystorage.NewRunStore()
		return nil
	}
	var err error
	a.pgRuns, err = pgstore.NewRunStore(ctx, a.cfg.Runs.PostgresDSN)
	if err != nil {
		return fmt.Errorf("run store init failed: %w", err)
	}
	a.runs = a.pgRuns
	return nil
}

func (a *App) setupGraph(ctx context.Context) error {
	g := a.cfg.Graph
	if g.Neo4jURI == "" {
		return nil
	}
	var err error
	a.graph, err = graph.Open(ctx, graph.Config{
		URI:      g.Neo4jURI,
		User:     g.Neo4jUser,
		Password: g.Neo4jPassword,
		Database: g.Neo4jDatabase,
	}, a.logger)
	if err != nil {
		return fmt.Errorf("graph sink init failed: %w", err)
	}
	a.logger.Info("related graph enabled", zap.String("uri", g.Neo4jURI))
	return nil
}

func (a *App) setupProgress(ctx context.Context, output string) error {
	prom, err := progresssinks.NewPrometheusSink(a.registry)
	if err != nil {
		return fmt.Errorf("prometheus sink init failed: %w", err)
	}
	sinkList := []progress.Sink{
		progresssinks.NewLogSink(a.logger.Named("progress_log")),
		prom,
		progresssinks.NewStoreSink(a.runs, output, a.logger.Named("progress_store")),
	}
	if p := a.cfg.Progress; p.PubSubTopic != "" {
		pub, perr := progresssinks.NewTopicPublisher(ctx, p.PubSubProject, p.PubSubTopic)
		if perr != nil {
			return fmt.Errorf("pubsub publisher init failed: %w", perr)
		}
		sinkList = append(sinkList, progresssinks.NewPubSubSink(pub, a.logger.Named("progress_pubsub")))
		a.logger.Info("Pub/Sub progress notifications enabled",
			zap.String("project", p.PubSubProject),
			zap.String("topic", p.PubSubTopic))
	}
	if p := a.cfg.Progress; p.KafkaTopic != "" {
		w, kerr := progresssinks.NewKafkaWriter(p.KafkaBrokers, p.KafkaTopic)
		if kerr != nil {
			return fmt.Errorf("kafka writer init failed: %w", kerr)
		}
		sinkList = append(sinkList, progresssinks.NewKafkaSink(w, a.logger.Named("progress_kafka")))
		a.logger.Info("Kafka progress notifications enabled",
			zap.Strings("brokers", p.KafkaBrokers),
			zap.String("topic", p.KafkaTopic))
	}
	a.hub = progress.NewHub(progress.Config{
		BaseContext: context.WithoutCancel(ctx),
		Logger:      a.logger.Named("progress_hub"),
	}, sinkList...)
	return nil
}

// ready fails while the run history backend cannot be queried.
func (a *App) ready(ctx context.Context) error {
	if _, err := a.runs.ListRuns(ctx, nil, 1, 0); err != nil {
		return fmt.Errorf("run history unavailable: %w", err)
	}
	return nil
}

// Config returns the loaded configuration.
func (a *App) Config() config.Config { return a.cfg }

// Logger returns the shared logger.
func (a *App) Logger() *zap.Logger { return a.logger }

// Engine returns the crawl engine.
func (a *App) Engine() *crawler.Engine { return a.engine }

// Sessions returns the session manager used outside the engine.
func (a *App) Sessions() *crawler.SessionManager { return a.sessions }

// Blobs returns the output store.
func (a *App) Blobs() storage.BlobStore { return a.blobs }

// Runs returns the run history repository.
func (a *App) Runs() store.RunRepository { return a.runs }

// Registry returns the Prometheus registry of this invocation.
func (a *App) Registry() *prometheus.Registry { return a.registry }

// Edges returns the related-graph sink, or nil when no graph is configured.
func (a *App) Edges() strategy.EdgeSink {
	if a.graph == nil {
		return nil
	}
	return a.graph
}

// Serve runs the status server until ctx ends. It returns immediately when
// no listen address is configured.
func (a *App) Serve(ctx context.Context) error {
	if a.cfg.Server.Listen == "" {
		return nil
	}
	if err := a.server.Serve(ctx, a.cfg.Server.Listen); err != nil {
		return fmt.Errorf("status server: %w", err)
	}
	return nil
}

// Close flushes progress and releases every service. It is safe on a
// partially built App.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	if a.hub != nil {
		if err := a.hub.Close(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if a.graph != nil {
		if err := a.graph.Close(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if a.checkpoints != nil {
		if err := a.checkpoints.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if a.pgRuns != nil {
		a.pgRuns.Close()
	}
	if a.gcsClient != nil {
		if err := a.gcsClient.Close(); err != nil {
			errs = append(errs, fmt.Errorf("gcs client close: %w", err))
		}
	}
	if a.logger != nil {
		_ = a.logger.Sync()
	}
	return errors.Join(errs...)
}
