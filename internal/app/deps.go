package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/yattee/server/internal/auth"
	"github.com/yattee/server/internal/cache"
	"github.com/yattee/server/internal/config"
	"github.com/yattee/server/internal/db"
	"github.com/yattee/server/internal/extractor"
	"github.com/yattee/server/internal/feed"
	"github.com/yattee/server/internal/gateway"
	"github.com/yattee/server/internal/handlers"
	"github.com/yattee/server/internal/housekeeping"
	"github.com/yattee/server/internal/metrics"
	"github.com/yattee/server/internal/middleware"
	"github.com/yattee/server/internal/proxy"
	"github.com/yattee/server/internal/ratelimit"
	"github.com/yattee/server/internal/repositories"
	"github.com/yattee/server/internal/scheduler"
	"github.com/yattee/server/internal/settings"
	"github.com/yattee/server/internal/sites"
	"github.com/yattee/server/internal/storage"
)

const (
	cacheNamespace      = "yattee:"
	cacheJanitorEvery   = time.Minute
	requestLimiterIdle  = 10 * time.Minute
	healthCheckDatabase = "database"
	healthCheckRedis    = "redis"
)

// stores groups the persistence layer chosen by config.Store.
type stores struct {
	users    repositories.UserRepository
	sites    sites.Repository
	settings settings.Repository
	feed     feed.Store
}

func buildStores(pool db.Pool, cfg config.Config) stores {
	if cfg.Store == config.StoreMemory || pool == nil {
		siteRepo := repositories.NewMemorySiteRepository()
		// Same row the default-site migration inserts.
		_, _ = siteRepo.CreateSite(context.Background(), sites.DefaultSite())
		return stores{
			users:    repositories.NewMemoryUserRepository(),
			sites:    siteRepo,
			settings: &repositories.MemorySettingsRepository{},
			feed:     feed.NewMemoryStore(),
		}
	}
	return stores{
		users:    repositories.NewPostgresUserRepository(pool),
		sites:    repositories.NewPostgresSiteRepository(pool),
		settings: repositories.NewPostgresSettingsRepository(pool),
		feed:     repositories.NewPostgresFeedStore(pool),
	}
}

// pingFunc adapts a function to handlers.Pinger.
type pingFunc func(ctx context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

// application is the wired server. Start launches the background workers;
// Shutdown stops them in reverse start order.
type application struct {
	Handler http.Handler

	logger      *slog.Logger
	settings    *settings.Store
	scheduler   *scheduler.Scheduler
	pool        *proxy.Pool
	archiver    *proxy.FileArchiver
	housekeeper *housekeeping.Housekeeper

	stopJanitor context.CancelFunc
	closers     []func() error
}

// buildDependencies wires together concrete implementations used by the HTTP
// handlers. pool may be nil in memory mode.
func buildDependencies(ctx context.Context, pool db.Pool, cfg config.Config, logger *slog.Logger) (_ *application, _ func(context.Context) error, err error) {
	if logger == nil {
		logger = slog.Default()
	}
	app := &application{logger: logger}
	cleanup := func(ctx context.Context) error { return app.Shutdown(ctx) }
	defer func() {
		if err != nil {
			_ = app.Shutdown(context.Background())
		}
	}()

	st := buildStores(pool, cfg)

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(registry)

	app.settings = settings.NewStore(settings.Defaults(), st.settings)
	if err := app.settings.Reload(ctx); err != nil {
		return nil, nil, err
	}
	if instance := cfg.InvidiousInstanceURL; instance != "" && instance != app.settings.Current().InvidiousInstance {
		if _, err := app.settings.Update(ctx, func(s *settings.Settings) {
			s.InvidiousInstance = instance
			s.InvidiousEnabled = true
		}); err != nil {
			return nil, nil, fmt.Errorf("apply YATTEE_INVIDIOUS_INSTANCE_URL: %w", err)
		}
	}
	if cfg.AdminUsername != "" {
		if err := auth.ProvisionAdmin(ctx, st.users, cfg.AdminUsername, cfg.AdminPassword); err != nil {
			return nil, nil, err
		}
	}

	checks := map[string]handlers.Pinger{}
	if p, ok := pool.(handlers.Pinger); ok {
		checks[healthCheckDatabase] = p
	}

	cacheOpts := []cache.Option{cache.WithMaxEntries(cfg.CacheMaxEntries), cache.WithLogger(logger)}
	if cfg.RedisURL != "" {
		client, err := cache.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			return nil, nil, err
		}
		app.closers = append(app.closers, client.Close)
		cacheOpts = append(cacheOpts, cache.WithRedis(client, cacheNamespace))
		checks[healthCheckRedis] = pingFunc(func(ctx context.Context) error {
			return redisPing(ctx, client)
		})
	}
	resultCache := cache.New(cacheOpts...)
	janitorCtx, stopJanitor := context.WithCancel(context.Background())
	app.stopJanitor = stopJanitor
	resultCache.StartJanitor(janitorCtx, cacheJanitorEvery)

	cipher, err := sites.LoadCipher(cfg.CredentialsKey, cfg.DataDir)
	if err != nil {
		return nil, nil, err
	}
	siteRegistry := sites.NewRegistry(st.sites, cipher)

	current := app.settings.Current()
	ytdlp := extractor.New(current.YTDLPPath, current.YTDLPTimeoutDuration())
	ytdlp.SkipTLSVerify = cfg.YTDLPSkipTLSVerify
	ytdlp.TempDir = cfg.DownloadDir
	ytdlp.Credentials = siteRegistry

	gw := gateway.New(gateway.Deps{
		Settings:  app.settings,
		Extractor: ytdlp,
		Sites:     siteRegistry,
		Cache:     resultCache,
		Metrics:   m,
	})
	app.settings.OnChange(gw.SettingsChanged)

	app.scheduler = scheduler.New(gw, st.feed, app.settings, m, logger)

	if err := os.MkdirAll(cfg.DownloadDir, 0o755); err != nil {
		return nil, nil, fmt.Errorf("create download dir: %w", err)
	}
	app.pool = proxy.NewPool(cfg.DownloadDir, ytdlp, current.ProxyMaxConcurrentDownloads, current.ProxyMaxAge(), m, logger)
	app.settings.OnChange(func(ctx context.Context, previous, current settings.Settings) {
		app.pool.Configure(current.ProxyMaxConcurrentDownloads, current.ProxyMaxAge())
	})
	if cfg.ObjectStore.Enabled() {
		bucket, err := storage.NewS3Storage(ctx, cfg.ObjectStore)
		if err != nil {
			return nil, nil, err
		}
		app.archiver = proxy.NewArchiver(bucket, proxy.ArchiverConfig{}, app.pool.SetArchiveURL, m, logger)
		app.pool.SetArchiver(app.archiver)
	}

	secret := cfg.TokenSecret
	if secret == "" {
		if secret, err = auth.LoadOrCreateSecret(cfg.DataDir); err != nil {
			return nil, nil, err
		}
	}
	signer, err := auth.NewTokenSigner(secret)
	if err != nil {
		return nil, nil, err
	}
	tracker := ratelimit.NewFailureTracker(app.settings)
	authenticator := auth.NewAuthenticator(st.users, tracker, signer, m, logger)

	app.housekeeper, err = housekeeping.New(housekeeping.Jobs{
		Proxy:   app.pool,
		Limiter: tracker,
		Feed:    st.feed,
	}, logger)
	if err != nil {
		return nil, nil, err
	}

	mux := http.NewServeMux()
	handlers.RegisterRoutes(mux, handlers.Dependencies{
		Resolver:  gw,
		Feed:      st.feed,
		Refresher: app.scheduler,
		Proxy:     app.pool,
		Auth:      authenticator,
		Sites:     siteRegistry,
		Metrics:   promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry}),
		Limiter:   middleware.NewIPRateLimiter(cfg.RequestRateLimit, cfg.RequestBurst, requestLimiterIdle),
		Checks:    checks,
		TokenTTL:  cfg.StreamTokenTTL,

		Admin:         authenticator,
		SettingsAdmin: app.settings,
		SiteAdmin:     siteRegistry,
	})
	app.Handler = middleware.RequestLogger(logger)(authenticator.Middleware(mux))

	return app, cleanup, nil
}

// Start reconciles the staging directory and launches the background workers.
func (a *application) Start() error {
	if removed, err := a.pool.ReconcileOnStart(); err != nil {
		return err
	} else if removed > 0 {
		a.logger.Info("removed orphaned proxy files", "count", removed)
	}
	if err := a.scheduler.Start(); err != nil {
		return err
	}
	a.housekeeper.Start()
	return nil
}

// Shutdown stops the workers and releases external clients.
func (a *application) Shutdown(ctx context.Context) error {
	var errs []error
	if a.housekeeper != nil {
		if err := a.housekeeper.Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("stop housekeeping: %w", err))
		}
	}
	if a.archiver != nil {
		if err := a.archiver.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("stop archiver: %w", err))
		}
	}
	if a.scheduler != nil {
		if err := a.scheduler.Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("stop scheduler: %w", err))
		}
	}
	if a.stopJanitor != nil {
		a.stopJanitor()
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

func redisPing(ctx context.Context, client *redis.Client) error {
	return client.Ping(ctx).Err()
}
