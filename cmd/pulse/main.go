package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/curatehub/pulse/pkg/analytics"
	"github.com/curatehub/pulse/pkg/config"
	"github.com/curatehub/pulse/pkg/httputil"
	"github.com/curatehub/pulse/pkg/observability"
	"github.com/curatehub/pulse/pkg/storage"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg.LogLevel, os.Stdout)
	logger.WithFields(map[string]interface{}{
		"port":        cfg.Server.Port,
		"health_port": cfg.Server.HealthPort,
		"db_driver":   cfg.Database.Driver,
	}).Info("Starting pulse analytics service")

	db, err := storage.Open(cfg.Database)
	if err != nil {
		logger.WithError(err).Error("Failed to connect to database")
		os.Exit(1)
	}

	queue, err := analytics.NewQueue(cfg.Redis)
	if err != nil {
		logger.WithError(err).Error("Failed to connect to queue broker")
		db.Close()
		os.Exit(1)
	}

	registry := prometheus.NewRegistry()
	metrics := observability.NewMetrics(registry)

	aggregator := analytics.NewAggregator(db)
	scorer := analytics.NewTrendScorer(db, cfg.Pipeline.TrendingWindowDays, cfg.Pipeline.ClickWeight)
	service := analytics.NewService(queue, aggregator, scorer, cfg.Pipeline, logger, metrics)

	reader := analytics.NewReader(db, cfg.Pipeline, metrics)
	handlers := analytics.NewHandlers(queue, reader, logger, metrics)

	router := mux.NewRouter()
	router.Use(httputil.RequestIDMiddleware)
	router.Use(httputil.ContextLoggerMiddleware(logger))
	router.Use(httputil.LoggingMiddleware(logger))
	router.Use(httputil.RecoveryMiddleware(logger))
	router.Use(observability.HTTPMetricsMiddleware(metrics))
	handlers.RegisterRoutes(router)

	server := &http.Server{
		Addr:         net.JoinHostPort(cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Probes and metrics live on their own port so they stay reachable even
	// when the API port is saturated
	healthMux := http.NewServeMux()
	checker := observability.NewHealthChecker(db, queue.Client())
	observability.RegisterHealthRoutes(healthMux, checker)
	observability.RegisterMetricsEndpoint(healthMux, registry)

	healthServer := &http.Server{
		Addr:    net.JoinHostPort(cfg.Server.Host, cfg.Server.HealthPort),
		Handler: healthMux,
	}

	service.Start(context.Background())

	go func() {
		logger.Infof("Health server listening on %s", healthServer.Addr)
		if err := healthServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Error("Health server failed")
		}
	}()

	go func() {
		logger.Infof("API server listening on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Error("API server failed")
			os.Exit(1)
		}
	}()

	shutdown := observability.NewShutdownManager(logger, server, cfg.Server.ShutdownTimeout)
	// Stop the pipeline first so the last event commits before storage closes
	shutdown.RegisterShutdownFunc(func(ctx context.Context) error {
		return service.Shutdown()
	})
	shutdown.RegisterShutdownFunc(func(ctx context.Context) error {
		return healthServer.Shutdown(ctx)
	})
	shutdown.RegisterShutdownFunc(func(ctx context.Context) error {
		return db.Close()
	})

	if err := shutdown.WaitForShutdown(); err != nil {
		logger.WithError(err).Error("Shutdown finished with errors")
		os.Exit(1)
	}
}
