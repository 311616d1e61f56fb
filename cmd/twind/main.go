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

	"github.com/seastate/ocean-twin-etl/internal/adapter/httpapi"
	influxadapter "github.com/seastate/ocean-twin-etl/internal/adapter/influx"
	kafkaadapter "github.com/seastate/ocean-twin-etl/internal/adapter/kafka"
	"github.com/seastate/ocean-twin-etl/internal/config"
	"github.com/seastate/ocean-twin-etl/internal/domain"
	"github.com/seastate/ocean-twin-etl/internal/observability"
	"github.com/seastate/ocean-twin-etl/internal/pipeline"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg)
	metrics := observability.NewMetrics()

	reader := kafkaadapter.NewReader(cfg, logger)

	// Assemble sinks in the configured order. The influx sink is pinged at
	// startup so a bad token fails here, not on the first batch.
	var loaders []pipeline.BatchLoader
	var closers []func()
	for _, sink := range cfg.Sinks {
		switch sink {
		case config.SinkKafka:
			w := kafkaadapter.NewWriter(cfg, logger)
			loaders = append(loaders, w)
			closers = append(closers, func() {
				if err := w.Close(); err != nil {
					logger.Error("kafka writer close error", "error", err)
				}
			})
		case config.SinkInflux:
			w := influxadapter.NewWriter(cfg, logger)
			pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			err := w.Ping(pingCtx)
			cancel()
			if err != nil {
				logger.Error("influx sink not reachable", "error", err, "url", cfg.InfluxURL)
				os.Exit(1)
			}
			loaders = append(loaders, w)
			closers = append(closers, w.Close)
		}
	}

	var loader pipeline.BatchLoader = pipeline.NewMultiLoader(loaders...)
	if len(loaders) == 1 {
		loader = loaders[0]
	}

	gridSpec := domain.GridSpec{
		OriginLat: cfg.GridOriginLat,
		OriginLon: cfg.GridOriginLon,
		CellSize:  cfg.GridCellSize,
	}
	transformer := pipeline.NewTransformer(gridSpec, metrics, logger)

	p := pipeline.New(reader, transformer, loader, logger, metrics, cfg.BatchSize)

	srv := httpapi.NewServer(cfg.HTTPAddr, p, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Start HTTP server.
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
		}
	}()

	// Start ETL pipeline.
	go func() {
		if err := p.Run(ctx); err != nil {
			logger.Error("pipeline error", "error", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}
	if err := reader.Close(); err != nil {
		logger.Error("kafka reader close error", "error", err)
	}
	for _, closeFn := range closers {
		closeFn()
	}

	logger.Info("shutdown complete")
}
