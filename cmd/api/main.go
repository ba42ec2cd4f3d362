package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	httptransport "github.com/spec-kit/admissions-auth/internal/api/http"
	"github.com/spec-kit/admissions-auth/internal/api/http/handlers"
	"github.com/spec-kit/admissions-auth/internal/auth"
	"github.com/spec-kit/admissions-auth/internal/config"
	"github.com/spec-kit/admissions-auth/internal/events"
	"github.com/spec-kit/admissions-auth/internal/observability"
	"github.com/spec-kit/admissions-auth/internal/persistence"
	"github.com/spec-kit/admissions-auth/internal/repository"
	"github.com/spec-kit/admissions-auth/internal/service"
	"github.com/spec-kit/admissions-auth/internal/worker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.Logger)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pg, err := persistence.NewPostgres(ctx, cfg.Postgres, logger)
	if err != nil {
		logger.Fatal("failed to connect postgres", zap.Error(err))
	}
	defer pg.Close()

	if cfg.Postgres.RunMigrations {
		if err := persistence.RunMigrations(ctx, pg.PoolHandle(), logger); err != nil {
			logger.Fatal("failed to run migrations", zap.Error(err))
		}
	}

	redis := persistence.NewRedis(cfg.Redis, logger)
	defer redis.Close()

	keys, err := auth.LoadKeyStore(cfg.Auth, logger)
	if err != nil {
		logger.Fatal("failed to load signing keys", zap.Error(err))
	}

	accountRepo := repository.NewAccountRepository(pg.PoolHandle())
	tokenStore := repository.NewRedisTokenStore(redis.Client, logger)

	issuer := auth.NewIssuer(keys, tokenStore, cfg.Auth, logger)
	verifier := auth.NewVerifier(keys, tokenStore, logger)

	dispatcher := events.NewInMemoryDispatcher(logger)
	worker.StartAuditWorker(dispatcher, logger)

	authService := service.NewAuthService(*cfg, service.AuthDependencies{
		Accounts:   accountRepo,
		Tokens:     tokenStore,
		Issuer:     issuer,
		Verifier:   verifier,
		Dispatcher: dispatcher,
		Logger:     logger,
	})
	authMiddleware := auth.NewAuthMiddleware(verifier, accountRepo)

	metrics := observability.NewMetrics()

	app := fiber.New()
	httptransport.RegisterMiddlewares(app, logger, metrics, cfg.App.RequestTimeout())

	healthHandler := handlers.NewHealthHandler(cfg.App.Name, cfg.App.Version, pg, redis)
	authHandler := handlers.NewAuthHandler(authService, metrics)

	httptransport.RegisterRoutes(app, httptransport.RouteConfig{
		Health:         healthHandler,
		Auth:           authHandler,
		AuthMiddleware: authMiddleware,
	})

	go func() {
		if err := app.Listen(cfg.App.Addr()); err != nil {
			logger.Fatal("fiber listen", zap.Error(err))
		}
	}()

	waitForShutdown(logger)

	_ = app.Shutdown()
}

func waitForShutdown(logger *zap.Logger) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("shutting down", zap.String("signal", sig.String()))
}
