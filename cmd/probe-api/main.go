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

	"github.com/duckmesh/probe/internal/api"
	"github.com/duckmesh/probe/internal/app"
	"github.com/duckmesh/probe/internal/auth"
	"github.com/duckmesh/probe/internal/config"
	"github.com/duckmesh/probe/internal/observability"
)

func main() {
	cfg, err := config.LoadFromEnv("probe-api")
	if err != nil {
		slog.Error("failed to load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg, os.Stdout)
	deps, err := app.New(context.Background(), cfg, logger)
	if err != nil {
		logger.Error("failed to initialize dependencies", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() { _ = deps.Close() }()

	asker, err := deps.NewAsker()
	if err != nil {
		logger.Error("failed to initialize asker", slog.Any("error", err))
		os.Exit(1)
	}

	handlerDeps := api.Dependencies{
		Logger:  logger,
		Asker:   asker,
		History: deps.History,
		OpenSource: func(ctx context.Context, raw string) (api.Source, error) {
			src, err := deps.OpenSource(ctx, raw, true)
			if err != nil {
				return nil, err
			}
			return src, nil
		},
		SchemaSampleRows: cfg.Source.SampleRows,
		Readiness: api.CombineReadinessChecks(
			deps.HealthCheck,
			api.CheckSourceConfig(cfg),
		),
		DependencyTimeout: time.Second,
	}
	if deps.Store != nil {
		handlerDeps.Exporter = deps.Exporter
	}
	if cfg.Auth.Required {
		validator, err := auth.NewStaticAPIKeyValidator(cfg.Auth.StaticKeys)
		if err != nil {
			logger.Error("failed to parse static auth keys", slog.Any("error", err))
			os.Exit(1)
		}
		handlerDeps.AuthMiddleware = auth.Middleware(logger, validator)
	}

	handler := api.NewHandler(cfg, handlerDeps)
	server := &http.Server{
		Addr:         cfg.HTTP.Address,
		Handler:      handler,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Info("starting api server", slog.String("addr", cfg.HTTP.Address))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("api server failed", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	logger.Info("shutting down api server")
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", slog.Any("error", err))
		_ = server.Close()
		os.Exit(1)
	}
}
