package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	httptransport "github.com/spec-kit/auth-session/internal/api/http"
	"github.com/spec-kit/auth-session/internal/api/http/handlers"
	"github.com/spec-kit/auth-session/internal/auth"
	"github.com/spec-kit/auth-session/internal/cachestore"
	"github.com/spec-kit/auth-session/internal/config"
	"github.com/spec-kit/auth-session/internal/coordinator"
	"github.com/spec-kit/auth-session/internal/events"
	"github.com/spec-kit/auth-session/internal/facade"
	"github.com/spec-kit/auth-session/internal/identity"
	"github.com/spec-kit/auth-session/internal/observability"
	"github.com/spec-kit/auth-session/internal/persistence"
	"github.com/spec-kit/auth-session/internal/profilecache"
	"github.com/spec-kit/auth-session/internal/repository"
	"github.com/spec-kit/auth-session/internal/session"
	"github.com/spec-kit/auth-session/internal/worker"
)

const shutdownTimeout = 5 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.App, cfg.Logger)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics := observability.NewMetrics()

	pg, err := persistence.NewPostgres(ctx, cfg.Postgres, logger)
	if err != nil {
		logger.Fatal("failed to connect postgres", zap.Error(err))
	}
	defer pg.Close()

	pool := pg.PoolHandle()
	if pool == nil {
		logger.Fatal("POSTGRES_DSN is required for users and profiles")
	}
	if cfg.Postgres.RunMigrations {
		if err := persistence.RunMigrations(ctx, pool, cfg.Postgres.MigrationsDir, logger); err != nil {
			logger.Fatal("failed to run migrations", zap.Error(err))
		}
	}

	redis := persistence.NewRedis(ctx, cfg.Redis, logger)
	defer redis.Close()

	var storage cachestore.Storage = cachestore.NewMemoryStorage()
	if redis.Enabled() {
		storage = cachestore.NewRedisStorage(redis.Client, cfg.App.Name, 0)
	}
	cache := profilecache.New(ctx, cachestore.New(storage, cfg.Profile.CacheKey, logger),
		profilecache.WithTTL(cfg.Profile.CacheTTL),
		profilecache.WithMetrics(metrics),
		profilecache.WithLogger(logger),
	)

	profiles := repository.NewProfileRepository(pool)
	roles := coordinator.New(coordinator.Config{
		Cache:   cache,
		Store:   profiles,
		Timeout: cfg.Profile.FetchTimeout,
		Logger:  logger,
		Metrics: metrics,
	})

	dispatcher := events.NewInMemoryDispatcher()
	stopAudit := worker.StartAuditWorker(dispatcher, logger)
	defer stopAudit()

	provider := identity.New(identity.Config{
		Users:       repository.NewUserRepository(pool),
		Tokens:      auth.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.AccessTokenTTL()),
		Dispatcher:  dispatcher,
		BcryptCost:  cfg.Auth.BcryptCost,
		AutoConfirm: cfg.Auth.AutoConfirm,
		Logger:      logger,
	})

	machine := session.New(session.Config{
		Provider:      provider,
		Roles:         roles,
		Profiles:      profiles,
		Cache:         cache,
		SignInTimeout: cfg.Session.SignInTimeout,
		LoadingGuard:  cfg.Session.LoadingGuard,
		Logger:        logger,
		Metrics:       metrics,
	})
	machine.Start(ctx)
	authFacade := facade.New(machine)

	unsubscribe := authFacade.Subscribe(func(s session.State) {
		logger.Debug("session state published",
			zap.String("phase", string(s.Phase())),
			zap.Bool("role_resolved", s.RoleResolved()))
	})
	defer unsubscribe()

	scheduler := worker.NewScheduler(logger)
	if err := scheduler.SchedulePrune(cache, cfg.Profile.PruneInterval); err != nil {
		logger.Fatal("failed to schedule cache janitor", zap.Error(err))
	}
	if err := scheduler.ScheduleRefresh(provider, cfg.Auth.AccessTokenTTL()/2); err != nil {
		logger.Fatal("failed to schedule session refresh", zap.Error(err))
	}
	scheduler.Start()

	deps := map[string]handlers.Pinger{"postgres": pg}
	if redis.Enabled() {
		deps["redis"] = redis
	}

	app := fiber.New(fiber.Config{AppName: cfg.App.Name})
	httptransport.RegisterMiddlewares(app, logger, metrics, cfg.App.RequestTimeout())
	httptransport.RegisterRoutes(app, httptransport.RouteConfig{
		Health:            handlers.NewHealthHandler(cfg.App.Name, cfg.App.Version, deps),
		Session:           handlers.NewSessionHandler(authFacade),
		Confirm:           handlers.NewConfirmHandler(provider, authFacade),
		Admin:             handlers.NewAdminHandler(cache),
		SessionMiddleware: auth.NewSessionMiddleware(authFacade),
		Metrics:           metrics,
	})

	go func() {
		if err := app.Listen(cfg.App.Addr()); err != nil {
			logger.Error("fiber listen", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	if err := app.ShutdownWithTimeout(shutdownTimeout); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
	}
	stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	scheduler.Stop(stopCtx)
	machine.Stop()
	cache.Flush()
}
