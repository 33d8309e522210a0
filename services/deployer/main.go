// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/AleutianAI/AleutianDeploy/pkg/extensions"
	"github.com/AleutianAI/AleutianDeploy/pkg/logging"
	"github.com/AleutianAI/AleutianDeploy/services/deployer/config"
	"github.com/AleutianAI/AleutianDeploy/services/deployer/monitoring"
	"github.com/AleutianAI/AleutianDeploy/services/deployer/observability"
	"github.com/AleutianAI/AleutianDeploy/services/deployer/orchestrator"
	"github.com/AleutianAI/AleutianDeploy/services/deployer/routes"
	"github.com/AleutianAI/AleutianDeploy/services/deployer/storage"
)

// configEnvVar names the YAML config file. Unset means config.DefaultPath.
const configEnvVar = "DEPLOYER_CONFIG"

func main() {
	if err := run(); err != nil {
		slog.Error("deployer exited", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load(os.Getenv(configEnvVar))
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	level, _ := logging.ParseLevel(cfg.Logging.Level)
	logs := logging.New(logging.Config{
		Level:   level,
		LogDir:  cfg.Logging.Dir,
		Service: cfg.Service,
		JSON:    cfg.Logging.JSON,
	})
	defer logs.Close()
	logger := logs.Slog()
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// --- Tracing ---
	cleanup, err := observability.InitTracer(ctx, observability.TracingConfig{
		Enabled:     cfg.Tracing.Enabled,
		Endpoint:    cfg.Tracing.Endpoint,
		ServiceName: cfg.Service + "-service",
	})
	if err != nil {
		return fmt.Errorf("failed to setup the OTLP tracer: %w", err)
	}
	defer cleanup(context.Background())

	// --- History archive ---
	archive, err := openArchive(cfg.Storage, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := archive.Close(); err != nil {
			logger.Error("failed to close archive", "error", err)
		}
	}()

	// --- Metrics provider ---
	provider, closeProvider, err := openProvider(cfg.Monitoring, logger)
	if err != nil {
		return err
	}
	defer closeProvider()

	var audit extensions.AuditLogger = extensions.NopAuditLogger{}
	if !cfg.Audit.Disabled {
		audit = extensions.NewMemoryAuditLogger(cfg.Audit.Capacity, logger.With("component", "audit"))
	}

	o := orchestrator.New(orchestrator.Config{
		Logger:           logger,
		Metrics:          observability.NewMetrics(prometheus.DefaultRegisterer),
		Archive:          archive,
		Monitor:          provider,
		Audit:            audit,
		PlanHistoryLimit: cfg.Planning.HistoryLimit,
		Executor:         cfg.ExecutorConfig(),
		Rollback:         cfg.RollbackConfig(),
	})
	if err := o.Start(ctx); err != nil {
		return fmt.Errorf("failed to start orchestrator: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := o.Shutdown(shutdownCtx); err != nil {
			logger.Error("orchestrator shutdown incomplete", "error", err)
		}
	}()

	// --- Rules hot reload ---
	if cfg.Rollback.RulesFile != "" {
		watcher := config.NewRulesWatcher(cfg.Rollback.RulesFile, o.ReplaceRollbackRules, logger, config.DefaultRulesDebounce)
		if err := watcher.Start(ctx); err != nil {
			return fmt.Errorf("failed to start rules watcher: %w", err)
		}
		defer watcher.Stop()
	}

	router := gin.Default()
	router.Use(otelgin.Middleware(cfg.Service + "-service"))
	routes.SetupRoutes(router, o, nil)

	srv := &http.Server{
		Addr:    ":" + strconv.Itoa(cfg.Server.Port),
		Handler: router,
	}
	serveErr := make(chan error, 1)
	go func() {
		logger.Info("starting the deployer server", "port", cfg.Server.Port,
			"monitoring_provider", cfg.Monitoring.Provider)
		serveErr <- srv.ListenAndServe()
	}()

	select {
	case err := <-serveErr:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down the deployer server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	return nil
}

// openArchive opens the Badger history archive, or a no-op archive when
// storage is not configured.
func openArchive(cfg config.StorageConfig, logger *slog.Logger) (storage.Archive, error) {
	if cfg.BadgerPath == "" && !cfg.InMemory {
		logger.Info("history archive disabled")
		return storage.NopArchive{}, nil
	}
	bcfg := storage.DefaultConfig()
	bcfg.Path = cfg.BadgerPath
	bcfg.InMemory = cfg.InMemory
	bcfg.GCInterval = cfg.GCInterval
	bcfg.Logger = logger.With("component", "badger")
	archive, err := storage.OpenBadgerArchive(bcfg)
	if err != nil {
		return nil, fmt.Errorf("failed to open history archive: %w", err)
	}
	logger.Info("history archive opened", "path", cfg.BadgerPath, "in_memory", cfg.InMemory)
	return archive, nil
}

// openProvider builds the configured metrics provider behind a Guarded
// wrapper that bounds every fetch by cfg.Timeout.
func openProvider(cfg config.MonitoringConfig, logger *slog.Logger) (monitoring.Provider, func(), error) {
	switch cfg.Provider {
	case config.ProviderInflux:
		influx, err := monitoring.NewInfluxProvider(monitoring.InfluxConfig{
			URL:         cfg.Influx.URL,
			Token:       cfg.Influx.Token,
			Org:         cfg.Influx.Org,
			Bucket:      cfg.Influx.Bucket,
			Measurement: cfg.Influx.Measurement,
			Lookback:    cfg.Influx.Lookback,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create influx provider: %w", err)
		}
		return monitoring.NewGuarded(influx, cfg.Timeout, logger), influx.Close, nil
	default:
		return monitoring.NewGuarded(monitoring.NewStaticProvider(), cfg.Timeout, logger), func() {}, nil
	}
}
