package app

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	goredis "github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/MrSnakeDoc/shelf/internal/auth"
	"github.com/MrSnakeDoc/shelf/internal/config"
	"github.com/MrSnakeDoc/shelf/internal/feed"
	"github.com/MrSnakeDoc/shelf/internal/httpserver"
	"github.com/MrSnakeDoc/shelf/internal/httpserver/deps"
	"github.com/MrSnakeDoc/shelf/internal/logger"
	"github.com/MrSnakeDoc/shelf/internal/mirror"
	"github.com/MrSnakeDoc/shelf/internal/postgres"
	"github.com/MrSnakeDoc/shelf/internal/redis"
	"github.com/MrSnakeDoc/shelf/internal/scheduler"
	"github.com/MrSnakeDoc/shelf/internal/session"
	pgstore "github.com/MrSnakeDoc/shelf/internal/store/postgres"
	"github.com/MrSnakeDoc/shelf/internal/version"
)

type App struct {
	cfg         *config.Config
	logger      logger.Logger
	server      *httpserver.Server
	pool        *pgxpool.Pool
	redisClient *goredis.Client
	gate        *session.Gate
	relay       *feed.Relay
	registry    *mirror.Registry
	unbind      func()
	collector   *scheduler.Collector
}

// New connects every backing service and assembles the HTTP server. Any
// connection that cannot be established fails startup.
func New() (*App, error) {
	cfg := config.Load()

	loggerClient := logger.New(cfg.LogLevel, cfg.PrettyLog)

	ctx, cancel := context.WithTimeout(context.Background(), cfg.RedisConnectTimeout+30*time.Second)
	defer cancel()

	// PostgreSQL first: it is the source of truth.
	loggerClient.Info("Connecting to PostgreSQL")
	pool, err := postgres.NewPool(ctx, postgres.PoolOptions{
		DSN:      cfg.DatabaseDSN,
		MaxConns: cfg.DatabaseMaxConns,
		MinConns: cfg.DatabaseMinConns,
	})
	if err != nil {
		return nil, fmt.Errorf("postgres: %w", err)
	}
	if cfg.DatabaseMigrate {
		if err := postgres.Migrate(ctx, cfg.DatabaseDSN, loggerClient); err != nil {
			pool.Close()
			return nil, fmt.Errorf("migrate: %w", err)
		}
	}
	loggerClient.Info("PostgreSQL initialized successfully")

	loggerClient.Infof("Connecting to Redis at %s", cfg.RedisAddr)
	redisClient, err := redis.New(ctx, redis.ConnectOptions{
		Addr:           cfg.RedisAddr,
		User:           cfg.RedisUser,
		Password:       cfg.RedisPassword,
		RedisDB:        cfg.RedisDB,
		DialTimeout:    cfg.RedisDT,
		ReadTimeout:    cfg.RedisRT,
		WriteTimeout:   cfg.RedisWT,
		PoolSize:       cfg.RedisPoolSize,
		ConnectTimeout: cfg.RedisConnectTimeout,
		RetryInterval:  cfg.RedisRetryInterval,
		MaxWait:        cfg.RedisMaxWait,
		PingTimeout:    cfg.RedisPingTimeout,
		WarnThreshold:  cfg.RedisWarnThreshold,
	}, loggerClient)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("redis: %w", err)
	}
	loggerClient.Info("Redis initialized successfully")

	repo := pgstore.NewBookmarkRepository(pool)
	changes := feed.New(redisClient, loggerClient, 0)
	relay := feed.NewRelay(pool, repo, changes, loggerClient, feed.RelayOptions{
		RetryInterval: cfg.RelayRetryInterval,
		MaxWait:       cfg.RelayMaxWait,
	})

	gate := session.NewGate(session.NewRedisStore(redisClient), session.GateOptions{
		TTL: cfg.SessionTTL,
		Bus: redisClient,
	}, loggerClient)

	// go-oidc keeps this context for later key set refreshes.
	provider, err := auth.NewOIDC(context.Background(), auth.OIDCOptions{
		Issuer:       cfg.OAuthIssuer,
		ClientID:     cfg.OAuthClientID,
		ClientSecret: cfg.OAuthClientSecret,
		RedirectURL:  cfg.PublicURL + "/auth/callback",
	}, loggerClient)
	if err != nil {
		pool.Close()
		_ = redisClient.Close()
		return nil, fmt.Errorf("oauth: %w", err)
	}

	// *feed.Subscription satisfies mirror.Subscription; only the return type differs.
	subscribe := mirror.FeedFunc(func(ctx context.Context, ownerID string) (mirror.Subscription, error) {
		sub, err := changes.Subscribe(ctx, ownerID)
		if err != nil {
			return nil, err
		}
		return sub, nil
	})
	viewOpts := mirror.Options{
		ResyncPolicy:   cfg.ResyncPolicy,
		ReloadInterval: cfg.ReloadInterval,
		StoreTimeout:   cfg.StoreTimeout,
	}
	registry := mirror.NewRegistry(func() *mirror.Controller {
		return mirror.New(repo, subscribe, viewOpts, loggerClient)
	}, cfg.ViewIdleTTL, loggerClient)
	unbind := registry.Bind(gate)

	collector := scheduler.NewCollector(registry, loggerClient, cfg.GCInterval)

	d := deps.Deps{
		Logger:             loggerClient,
		StartTime:          time.Now(),
		Version:            version.Version,
		Commit:             version.Commit,
		BuildDate:          version.BuildDate,
		GoVersion:          version.GoVersion,
		TimeNow:            time.Now,
		AllowedHosts:       cfg.AllowedHosts,
		AllowedCIDRS:       cfg.AllowedCIDRS,
		TrustProxy:         cfg.TrustProxy,
		PublicURL:          cfg.PublicURL,
		SecureCookies:      cfg.SecureCookies,
		RateBurst:          cfg.RateBurst,
		RateRefillPerMin:   cfg.RateRefillPerMin,
		ImportMaxBytes:     cfg.ImportMaxBytes,
		MaxImportEntries:   cfg.MaxImportEntries,
		StreamPingInterval: cfg.StreamPingInterval,
		Gate:               gate,
		Registry:           registry,
		Provider:           provider,
		Flows:              auth.NewFlowStore([]byte(cfg.CookieSecret), cfg.SecureCookies),
		Relay:              relay,
		Checks: []deps.Check{
			{Name: "postgres", Ping: repo.Ping},
			{Name: "redis", Ping: func(ctx context.Context) error { return redisClient.Ping(ctx).Err() }},
		},
	}

	server := httpserver.New(cfg, loggerClient, d)

	return &App{
		cfg:         cfg,
		logger:      loggerClient,
		server:      server,
		pool:        pool,
		redisClient: redisClient,
		gate:        gate,
		relay:       relay,
		registry:    registry,
		unbind:      unbind,
		collector:   collector,
	}, nil
}

func (a *App) Run() error {
	a.logger.Infof("🚀 Starting Shelf v%s on %s", version.Version, a.cfg.ListenPort)
	a.logger.Infof("Shelf %s (commit=%s, built=%s, go=%s)",
		version.Version, version.Commit, version.BuildDate, version.GoVersion)
	defer func() { _ = a.logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return a.relay.Run(gctx) })
	g.Go(func() error { return a.gate.Listen(gctx) })
	g.Go(func() error {
		a.logger.Info("view collector started", logger.Duration("interval", a.cfg.GCInterval))
		return a.collector.Start(gctx)
	})
	g.Go(func() error {
		if err := a.server.Start(); err != nil {
			return fmt.Errorf("http server error: %w", err)
		}
		return nil
	})

	// Shutdown starts on a signal or as soon as one component fails.
	g.Go(func() error {
		<-gctx.Done()
		a.logger.Info("⏳ Shutting down gracefully...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout)
		defer cancel()

		a.collector.Stop()
		if err := a.server.Stop(shutdownCtx); err != nil {
			return fmt.Errorf("failed to stop server: %w", err)
		}
		return nil
	})

	err := g.Wait()

	a.unbind()
	a.registry.Close()
	a.logger.Info("✅ Bookmark views closed")

	a.pool.Close()
	a.logger.Info("✅ PostgreSQL closed cleanly")

	if err := a.redisClient.Close(); err != nil {
		a.logger.Warnf("failed to close redis: %v", err)
	} else {
		a.logger.Info("✅ Redis closed cleanly")
	}

	if err != nil {
		return err
	}
	a.logger.Info("✅ Shelf stopped cleanly")
	return nil
}
