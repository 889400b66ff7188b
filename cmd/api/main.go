package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/kurihiro0119/workmetrics/internal/aggregator"
	"github.com/kurihiro0119/workmetrics/internal/api"
	"github.com/kurihiro0119/workmetrics/internal/collector"
	"github.com/kurihiro0119/workmetrics/internal/config"
	"github.com/kurihiro0119/workmetrics/internal/logging"
	"github.com/kurihiro0119/workmetrics/internal/storage"
	"github.com/kurihiro0119/workmetrics/internal/storage/postgres"
	"github.com/kurihiro0119/workmetrics/internal/storage/sqlite"
	"github.com/kurihiro0119/workmetrics/internal/telemetry"
)

// version is overridden at build time with -ldflags "-X main.version=..."
var version = "dev"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logger, err := logging.New(cfg.LogLevel, os.Stdout)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := telemetry.Init(ctx, cfg.OTLPEndpoint, version, cfg.OTLPInsecure)
	if err != nil {
		return err
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(flushCtx); err != nil {
			logger.WithError(err).Warn("telemetry shutdown failed")
		}
	}()

	// Initialize storage
	var store storage.Storage
	switch cfg.StorageType {
	case "postgres":
		store, err = postgres.NewPostgresStorage(cfg.PostgresURL)
	default:
		store, err = sqlite.NewSQLiteStorage(cfg.SQLitePath)
	}
	if err != nil {
		return fmt.Errorf("failed to initialize %s storage: %w", cfg.StorageType, err)
	}
	defer store.Close()

	agg := aggregator.NewAggregator(store, aggregator.Config{
		Options: aggregator.Options{
			DeployEnvironment: cfg.DeployEnvironment,
			DistributionLimit: cfg.DistributionLimit,
		},
		QueryTimeout: cfg.QueryTimeout,
	}, logger)

	handlerCfg := api.HandlerConfig{
		Version:     version,
		Environment: cfg.Environment,
		Logger:      logger,
	}
	if cfg.GitHubToken != "" {
		source := collector.NewGitHubSource(collector.GitHubConfig{
			Token:         cfg.GitHubToken,
			IncidentLabel: cfg.IncidentLabel,
			MinDelay:      100 * time.Millisecond,
		}, logger)
		handlerCfg.Refresher = collector.NewCollector(source, store, collector.Options{}, logger)
	} else {
		logger.Warn("GITHUB_TOKEN is not set, refresh requests will be rejected")
	}

	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := api.SetupRoutes(api.NewHandler(agg, store, handlerCfg), cfg.CORSOrigins, logger)

	addr := fmt.Sprintf("%s:%s", cfg.APIHost, cfg.APIPort)
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.WithFields(logrus.Fields{
			"addr":        addr,
			"storage":     cfg.StorageType,
			"environment": cfg.Environment,
			"version":     version,
		}).Info("starting API server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("failed to start server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown failed: %w", err)
	}
	logger.Info("server exited")
	return nil
}
