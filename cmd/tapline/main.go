package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/tapline/tapline/internal/app"
	"github.com/tapline/tapline/internal/auth"
	"github.com/tapline/tapline/internal/observability"
	"github.com/tapline/tapline/internal/platform/cache"
	"github.com/tapline/tapline/internal/rbac"
	"github.com/tapline/tapline/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping server startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}
	logger := app.NewLogger(cfg)

	if err := run(ctx, stop, cfg, logger); err != nil {
		logger.Error("tapline", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(ctx context.Context, stop context.CancelFunc, cfg *app.Config, logger *slog.Logger) error {
	repos, closeRepos, err := app.OpenRepositories(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeRepos()

	redisOpts := cache.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB}
	redisClient, err := cache.New(ctx, redisOpts)
	if err != nil {
		return err
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	policy := rbac.DefaultPolicy()
	if cfg.PolicyFile != "" {
		if policy, err = rbac.LoadPolicy(cfg.PolicyFile); err != nil {
			return err
		}
		logger.Info("policy loaded", slog.String("path", cfg.PolicyFile))
	}

	metrics := observability.NewMetrics()
	tokens := auth.NewTokenStore(redisClient, cfg.TokenTTL)
	svc := app.NewServices(repos, app.ServiceOptions{
		Policy:             policy,
		RoleCacheSize:      cfg.RoleCacheSize,
		RoleCacheTTL:       cfg.RoleCacheTTL,
		AllowNegativeStock: cfg.AllowNegativeStock,
		Registerer:         metrics.Registerer(),
		Redis:              redisClient,
		Tokens:             tokens,
	}, logger)

	if _, err := app.Bootstrap(ctx, svc, app.BootstrapInput{
		RootID:        cfg.RootBarID,
		RootName:      cfg.RootBarName,
		AdminUsername: cfg.BootstrapAdminUser,
		AdminPassword: cfg.BootstrapAdminPassword,
	}, logger); err != nil {
		return err
	}
	if err := svc.Broadcaster.Listen(ctx); err != nil {
		return err
	}

	asynqOpt := cache.AsynqOpt(redisOpts)
	jobClient := jobs.NewClient(asynqOpt)
	defer func() {
		if err := jobClient.Close(); err != nil {
			logger.Warn("job client close", slog.Any("error", err))
		}
	}()
	inspector := asynq.NewInspector(asynqOpt)
	defer func() { _ = inspector.Close() }()

	params := app.HandlersFor(svc, logger)
	params.Config = cfg
	params.Tokens = tokens
	params.Metrics = metrics
	params.Ready = repos.Ping
	params.JobHandler = jobs.NewHandler(inspector, jobClient, svc.Resolver, logger)
	router := app.NewRouter(params)

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("http server listening", slog.String("addr", cfg.AppAddr), slog.String("storage", cfg.StorageDriver))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
	return nil
}
