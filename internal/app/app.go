// Package app initializes and holds long-lived application services, acting as a dependency injection container.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"cloud.google.com/go/pubsub"
	"go.uber.org/zap"

	"github.com/JakeFAU/diecast-crawler/internal/api"
	"github.com/JakeFAU/diecast-crawler/internal/archive"
	"github.com/JakeFAU/diecast-crawler/internal/brand"
	"github.com/JakeFAU/diecast-crawler/internal/brand/hotwheels"
	"github.com/JakeFAU/diecast-crawler/internal/brand/minigt"
	"github.com/JakeFAU/diecast-crawler/internal/catalog"
	"github.com/JakeFAU/diecast-crawler/internal/clock/system"
	"github.com/JakeFAU/diecast-crawler/internal/config"
	"github.com/JakeFAU/diecast-crawler/internal/dispatcher"
	"github.com/JakeFAU/diecast-crawler/internal/enrich"
	collyfetcher "github.com/JakeFAU/diecast-crawler/internal/fetcher/colly"
	"github.com/JakeFAU/diecast-crawler/internal/id/uuid"
	"github.com/JakeFAU/diecast-crawler/internal/joblog"
	"github.com/JakeFAU/diecast-crawler/internal/logging"
	"github.com/JakeFAU/diecast-crawler/internal/pipeline"
	"github.com/JakeFAU/diecast-crawler/internal/policy/ratelimit"
	memorypublisher "github.com/JakeFAU/diecast-crawler/internal/publisher/memory"
	gcppublisher "github.com/JakeFAU/diecast-crawler/internal/publisher/pubsub"
	"github.com/JakeFAU/diecast-crawler/internal/queue"
	memoryqueue "github.com/JakeFAU/diecast-crawler/internal/queue/memory"
	"github.com/JakeFAU/diecast-crawler/internal/storage"
	memorystore "github.com/JakeFAU/diecast-crawler/internal/storage/memory"
	pgstore "github.com/JakeFAU/diecast-crawler/internal/storage/postgres"
	"github.com/JakeFAU/diecast-crawler/internal/telemetry"
	"github.com/JakeFAU/diecast-crawler/internal/worker"
)

// ErrEnrichDisabled is returned by Enrich when no annotation endpoint is configured.
var ErrEnrichDisabled = errors.New("enrichment is not configured: set enrich.endpoint")

// itemStore is what both the crawl pipeline and the enrichment pass need
// from the item table.
type itemStore interface {
	catalog.ItemStore
	catalog.EnrichmentStore
}

type closer struct {
	name string
	fn   func() error
}

// closableQueue is a queue.Queue the container must shut down.
type closableQueue interface {
	queue.Queue
	Close()
}

// App holds all the shared, long-lived services for the application.
// It is built once at startup and handed to the command that runs.
type App struct {
	cfg      config.Config
	logger   *zap.Logger
	items    itemStore
	jobLog   joblog.Store
	pipeline *pipeline.Pipeline
	enricher *enrich.Service
	queue    closableQueue
	dispatch *dispatcher.Dispatcher
	checks   map[string]api.Check

	pubsubClient *pubsub.Client
	closers      []closer
}

// Config returns the configuration the App was built from.
func (a *App) Config() config.Config {
	return a.cfg
}

// Logger returns the shared zap logger.
func (a *App) Logger() *zap.Logger {
	return a.logger
}

// Pipeline returns the crawl pipeline.
func (a *App) Pipeline() *pipeline.Pipeline {
	return a.pipeline
}

// Enricher returns the enrichment service, or nil when no annotation endpoint
// is configured.
func (a *App) Enricher() *enrich.Service {
	return a.enricher
}

// JobLog returns the job log store.
func (a *App) JobLog() joblog.Store {
	return a.jobLog
}

// Dispatcher returns the background run dispatcher.
func (a *App) Dispatcher() *dispatcher.Dispatcher {
	return a.dispatch
}

// Crawl runs one crawl in the foreground.
func (a *App) Crawl(ctx context.Context, req catalog.RunRequest) (catalog.RunResult, error) {
	return a.pipeline.Run(ctx, req)
}

// Enrich runs one enrichment pass.
func (a *App) Enrich(ctx context.Context, req catalog.EnrichRequest) ([]string, error) {
	if a.enricher == nil {
		return nil, ErrEnrichDisabled
	}
	return a.enricher.Run(ctx, req)
}

// Logs returns job log lines of jobID newer than afterTS.
func (a *App) Logs(ctx context.Context, jobID string, afterTS int64, limit int) (joblog.Page, error) {
	return a.jobLog.Poll(ctx, jobID, afterTS, limit)
}

// RunBackground executes queued crawls until ctx finishes.
func (a *App) RunBackground(ctx context.Context) {
	a.dispatch.Run(ctx)
}

// Handler builds the HTTP API over the App's services.
func (a *App) Handler() http.Handler {
	deps := api.Deps{
		Crawler: a.pipeline,
		Async:   a.dispatch,
		Logs:    a.jobLog,
		Checks:  a.checks,
	}
	if a.enricher != nil {
		deps.Enricher = a.enricher
	}
	return api.NewServer(deps, a.cfg, a.logger.Named("api")).Handler()
}

// New creates the App from cfg. A nil logger is built from cfg.Logging. On
// error every client opened so far is released.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger) (a *App, err error) {
	if logger == nil {
		logger, err = logging.New(cfg.Logging.Development)
		if err != nil {
			return nil, fmt.Errorf("logger init failed: %w", err)
		}
	}
	a = &App{cfg: cfg, logger: logger, checks: map[string]api.Check{}}
	defer func() {
		if err != nil {
			a.closeAll()
			a = nil
		}
	}()

	logger.Info("initializing application services",
		zap.String("storage", cfg.Storage.Provider),
		zap.String("joblog", cfg.JobLog.Provider),
		zap.String("queue", cfg.Queue.Provider),
		zap.Bool("postgres", cfg.DB.DSN != ""),
	)

	shutdownTracing, err := telemetry.Init(ctx, telemetry.Config{
		ServiceName: cfg.Tracing.ServiceName,
		SampleRatio: cfg.Tracing.SampleRatio,
	})
	if err != nil {
		return nil, fmt.Errorf("tracer init failed: %w", err)
	}
	a.addCloser("tracer", func() error { return shutdownTracing(context.Background()) })

	clock := system.New()

	blobs, closeBlobs, err := storage.NewBlobStore(ctx, cfg.Storage, logger.Named("storage"))
	if err != nil {
		return nil, err
	}
	a.addCloser("blob store", closeBlobs)

	if err = a.setupItems(ctx); err != nil {
		return nil, err
	}

	jobLog, closeLog, err := joblog.New(ctx, cfg, clock)
	if err != nil {
		return nil, fmt.Errorf("joblog init failed: %w", err)
	}
	a.jobLog = jobLog
	a.addCloser("joblog", closeLog)
	if pinger, ok := jobLog.(interface{ Ping(context.Context) error }); ok {
		a.checks["joblog"] = pinger.Ping
	}

	publisher, err := a.setupPublisher(ctx)
	if err != nil {
		return nil, err
	}

	if err = a.setupEnricher(); err != nil {
		return nil, err
	}

	fetcher := ratelimit.NewFetcher(
		collyfetcher.New(collyfetcher.Config{
			UserAgent: cfg.Crawler.UserAgent,
			Timeout:   cfg.HTTPTimeout(),
		}),
		ratelimit.New(ratelimit.Config{Interval: cfg.RequestDelay()}),
	)

	a.pipeline, err = pipeline.New(pipeline.Deps{
		Brands:    brand.NewRegistry(minigt.New(), hotwheels.New()),
		Fetcher:   fetcher,
		Items:     a.items,
		Blobs:     blobs,
		Sink:      jobLog,
		Publisher: publisher,
		IDs:       uuid.New(),
		Clock:     clock,
	}, pipeline.Config{
		Workers:         cfg.Crawler.Workers,
		MaxPagesDefault: cfg.Crawler.MaxPagesDefault,
		CatalogURLs:     cfg.Brands,
		Topic:           cfg.PubSub.TopicName,
		Images: archive.Config{
			Prefix:   cfg.Images.Prefix,
			MaxBytes: cfg.Images.MaxBytes,
		},
	}, logger.Named("pipeline"))
	if err != nil {
		return nil, fmt.Errorf("pipeline init failed: %w", err)
	}

	if err = a.setupQueue(ctx); err != nil {
		return nil, err
	}

	logger.Info("application services initialized")
	return a, nil
}

func (a *App) setupItems(ctx context.Context) error {
	if a.cfg.DB.DSN == "" {
		a.logger.Warn("no db.dsn configured, items are kept in memory")
		a.items = memorystore.NewItemStore()
		return nil
	}
	store, err := pgstore.New(ctx, pgstore.Config{
		DSN:      a.cfg.DB.DSN,
		Table:    a.cfg.DB.Table,
		MaxConns: a.cfg.DB.MaxConns,
	})
	if err != nil {
		return fmt.Errorf("item store init failed: %w", err)
	}
	a.addCloser("item store", func() error {
		store.Close()
		return nil
	})
	if a.cfg.DB.Migrate {
		if err := store.Migrate(ctx); err != nil {
			return fmt.Errorf("item store migrate failed: %w", err)
		}
	}
	a.items = store
	a.checks["postgres"] = store.Ping
	a.logger.Info("item store initialized", zap.String("table", a.cfg.DB.Table))
	return nil
}

func (a *App) client(ctx context.Context) (*pubsub.Client, error) {
	if a.pubsubClient != nil {
		return a.pubsubClient, nil
	}
	client, err := pubsub.NewClient(ctx, a.cfg.PubSub.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("pubsub client init failed: %w", err)
	}
	a.pubsubClient = client
	a.addCloser("pubsub client", client.Close)
	return client, nil
}

func (a *App) setupPublisher(ctx context.Context) (catalog.Publisher, error) {
	if a.cfg.PubSub.TopicName == "" {
		a.logger.Warn("no pubsub topic configured, run summaries stay in memory")
		return memorypublisher.New(), nil
	}
	client, err := a.client(ctx)
	if err != nil {
		return nil, err
	}
	pub := gcppublisher.New(client.Topic(a.cfg.PubSub.TopicName))
	a.addCloser("pubsub publisher", func() error {
		pub.Stop()
		return nil
	})
	a.logger.Info("pubsub publisher initialized",
		zap.String("project", a.cfg.PubSub.ProjectID),
		zap.String("topic", a.cfg.PubSub.TopicName),
	)
	return pub, nil
}

func (a *App) setupEnricher() error {
	if a.cfg.Enrich.Endpoint == "" {
		a.logger.Info("no enrich.endpoint configured, enrichment disabled")
		return nil
	}
	annotator, err := enrich.NewHTTPAnnotator(enrich.HTTPConfig{
		Endpoint: a.cfg.Enrich.Endpoint,
		APIKey:   a.cfg.Enrich.APIKey,
		Model:    a.cfg.Enrich.Model,
		Timeout:  a.cfg.EnrichTimeout(),
	}, nil)
	if err != nil {
		return fmt.Errorf("annotator init failed: %w", err)
	}
	a.enricher = enrich.NewService(a.items, annotator, a.jobLog, a.logger.Named("enrich"))
	return nil
}

func (a *App) setupQueue(ctx context.Context) error {
	switch a.cfg.Queue.Provider {
	case "pubsub":
		client, err := a.client(ctx)
		if err != nil {
			return err
		}
		var sub *pubsub.Subscription
		if a.cfg.Queue.Workers > 0 {
			sub = client.Subscription(a.cfg.PubSub.RequestSubscription)
		}
		a.queue = queue.NewPubSubQueue(client.Topic(a.cfg.PubSub.RequestTopic), sub, a.logger.Named("queue"))
	default:
		a.queue = memoryqueue.NewQueue(a.cfg.Queue.Capacity)
	}

	workers := make([]*worker.Worker, 0, a.cfg.Queue.Workers)
	for i := 0; i < a.cfg.Queue.Workers; i++ {
		workers = append(workers, worker.New(
			a.queue,
			a.pipeline,
			worker.Config{},
			a.logger.Named("worker").With(zap.Int("index", i)),
		))
	}
	a.dispatch = dispatcher.New(a.queue, a.pipeline, workers)
	return nil
}

func (a *App) addCloser(name string, fn func() error) {
	a.closers = append(a.closers, closer{name: name, fn: fn})
}

func (a *App) closeAll() {
	if a.queue != nil {
		a.queue.Close()
		a.queue = nil
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		c := a.closers[i]
		if err := c.fn(); err != nil {
			a.logger.Warn("close failed", zap.String("service", c.name), zap.Error(err))
		}
	}
	a.closers = nil
}

// Close shuts down every service in reverse order of construction and
// flushes the logger. It is safe to call more than once.
func (a *App) Close() {
	a.logger.Info("shutting down application services")
	a.closeAll()
	// Sync fails on stderr/stdout for some platforms; there is nowhere left to report it.
	_ = a.logger.Sync()
}
