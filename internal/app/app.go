package app

import (
	"context"
	"fmt"
	"time"

	"github.com/andrewdyar/switchyard-sub001/internal/catalog"
	"github.com/andrewdyar/switchyard-sub001/internal/cookies"
	"github.com/andrewdyar/switchyard-sub001/internal/data/db"
	"github.com/andrewdyar/switchyard-sub001/internal/data/repos"
	"github.com/andrewdyar/switchyard-sub001/internal/fetch"
	apphttp "github.com/andrewdyar/switchyard-sub001/internal/http"
	httpH "github.com/andrewdyar/switchyard-sub001/internal/http/handlers"
	"github.com/andrewdyar/switchyard-sub001/internal/ingest"
	"github.com/andrewdyar/switchyard-sub001/internal/normalize"
	"github.com/andrewdyar/switchyard-sub001/internal/observability"
	"github.com/andrewdyar/switchyard-sub001/internal/platform/logger"
	"github.com/andrewdyar/switchyard-sub001/internal/proxy"
	"github.com/andrewdyar/switchyard-sub001/internal/retailers"
	"github.com/andrewdyar/switchyard-sub001/internal/session"
	"github.com/andrewdyar/switchyard-sub001/internal/taxonomy"
)

const serviceName = "ingest"

// App is one wired ingestion run: catalog store, session and proxy layers,
// retailer adapters and the coordinator that drives them.
type App struct {
	Log         *logger.Logger
	Cfg         Config
	Store       *db.PostgresService
	Repos       repos.Set
	Proxies     *proxy.Pool
	Client      *fetch.Client
	Coordinator *ingest.Coordinator
	Metrics     *observability.Metrics
	Status      *apphttp.Server

	closers      []func() error
	otelShutdown func(context.Context) error
}

func New(ctx context.Context, log *logger.Logger, cfg Config) (*App, error) {
	a := &App{Log: log, Cfg: cfg}
	ok := false
	defer func() {
		if !ok {
			a.Close()
		}
	}()

	a.otelShutdown = observability.InitOTel(ctx, log, observability.OtelConfig{
		ServiceName: serviceName,
		Environment: cfg.Environment,
		Version:     cfg.Version,
	})
	a.Metrics = observability.Init(log)

	log.Info("Loading retailer definitions...", "path", cfg.RetailersPath)
	defs, err := retailers.Load(cfg.RetailersPath)
	if err != nil {
		return nil, err
	}
	tax, err := taxonomy.Load(cfg.TaxonomyPath)
	if err != nil {
		return nil, err
	}
	norm, err := normalize.New(taxonomy.NewMapper(tax), retailers.Extractors(defs))
	if err != nil {
		return nil, err
	}

	store, err := db.NewPostgresService(log, cfg.DB)
	if err != nil {
		return nil, fmt.Errorf("init catalog store: %w", err)
	}
	a.Store = store
	a.closers = append(a.closers, store.Close)
	if err := store.AutoMigrateAll(); err != nil {
		return nil, fmt.Errorf("catalog automigrate: %w", err)
	}
	a.Repos = repos.NewSet(store.DB(), log)

	if cfg.Ingest.DryRun {
		log.Info("Dry run; skipping taxonomy seed")
	} else {
		n, err := taxonomy.Seed(ctx, a.Repos.Categories, tax, log)
		if err != nil {
			return nil, fmt.Errorf("seed taxonomy: %w", err)
		}
		log.Info("Taxonomy seeded", "created", n)
	}
	resolver := taxonomy.NewResolver(tax, a.Repos.Categories, log)

	sessions, closeSessions, err := session.Open(log, cfg.Redis, cfg.SessionFile)
	if err != nil {
		return nil, fmt.Errorf("init session store: %w", err)
	}
	a.closers = append(a.closers, closeSessions)
	cookieMgr := cookies.NewManager(log, sessions, retailers.CookieRetailers(defs))

	proxies, err := proxy.Load(cfg.ProxyList, cfg.ProxyFile)
	if err != nil {
		return nil, err
	}
	a.Proxies = proxy.NewPool(log, proxies, cfg.Proxy)
	log.Info("Proxy pool ready", "proxies", a.Proxies.Len(), "strategy", cfg.Proxy.Strategy)

	a.Client = fetch.NewClient(log, cookieMgr, a.Proxies, fetch.Config{
		Timeout:  cfg.HTTPTimeout,
		Profiles: retailers.Profiles(defs),
	}, fetch.WithRecorder(a.Metrics))
	a.closers = append(a.closers, func() error {
		a.Client.CloseIdle()
		return nil
	})

	adapters, err := retailers.Build(defs, cfg.Retailers, a.Client, log)
	if err != nil {
		return nil, err
	}

	var writerOpts []catalog.Option
	if cfg.StabilizeImages {
		bucket, err := resolveImageBucket(ctx, log)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, bucket.Close)
		writerOpts = append(writerOpts, catalog.WithImageStore(bucket, nil))
	}
	writer := catalog.NewWriter(store.DB(), a.Repos, resolver, catalog.Config{DryRun: cfg.Ingest.DryRun}, log, writerOpts...)

	a.Coordinator = ingest.NewCoordinator(adapters, norm, writer, cfg.Ingest, log,
		ingest.WithRefresher(a.Client),
		ingest.WithSweeper(a.Repos.Mappings),
		ingest.WithMetrics(a.Metrics),
	)

	a.Status = apphttp.NewServer(apphttp.RouterConfig{
		Log:           log,
		ServiceName:   serviceName,
		HealthHandler: httpH.NewHealthHandler(store.Ping),
		StatusHandler: httpH.NewStatusHandler(a.Coordinator.Stats(), a.Proxies),
		Metrics:       a.Metrics,
	})

	ok = true
	return a, nil
}

// Run executes the crawl. The status server and metric collectors live for
// the duration of the call.
func (a *App) Run(ctx context.Context) (*ingest.Summary, error) {
	if a == nil || a.Coordinator == nil {
		return nil, fmt.Errorf("app not initialized")
	}
	bg, stop := context.WithCancel(ctx)
	defer stop()

	a.Metrics.StartDBCollector(bg, a.Log, a.Store.DB())
	a.Metrics.StartRedisCollector(bg, a.Log, a.Cfg.Redis.Addr)
	a.Status.Start(bg, a.Log, a.Cfg.StatusAddr)

	return a.Coordinator.Run(ctx)
}

// Close releases resources in reverse order of acquisition and flushes
// pending spans.
func (a *App) Close() {
	if a == nil {
		return
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil && a.Log != nil {
			a.Log.Warn("close failed", "error", err)
		}
	}
	a.closers = nil
	if a.otelShutdown != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := a.otelShutdown(ctx); err != nil && a.Log != nil {
			a.Log.Warn("otel shutdown failed", "error", err)
		}
		cancel()
		a.otelShutdown = nil
	}
}
