// Command compactor runs the scheduled archive-compaction module: it
// merges the day's small, content-addressed raw Parquet files into
// larger hourly compacted files once per day (06:00 JST by default),
// and exposes a /metrics and /health HTTP endpoint throughout.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/caarlos0/env/v10"

	"github.com/kamiyn/sendgridparquetlog/internal/compaction"
	"github.com/kamiyn/sendgridparquetlog/internal/nats"
	"github.com/kamiyn/sendgridparquetlog/internal/objectstore"
	"github.com/kamiyn/sendgridparquetlog/internal/observability"
)

const defaultShutdownTimeout = 30 * time.Second

// Config holds all compactor configuration.
type Config struct {
	// LogLevel is the log level (debug, info, warn, error).
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	// LogFormat is the log format (json, text).
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`

	// MetricsAddr is the address for the Prometheus metrics endpoint.
	MetricsAddr string `env:"METRICS_ADDR" envDefault:":9090"`

	// ObjectStore configuration.
	ObjectStore objectstore.Config `envPrefix:"S3__"`

	// Compaction configuration.
	Compaction compaction.Config `envPrefix:"COMPACTION__"`

	// NATS configuration. NATS.URL empty disables the broadcast transport.
	NATS nats.Config `envPrefix:""`
}

func main() {
	if err := run(); err != nil {
		slog.Error("fatal error", "error", err)
		os.Exit(1)
	}
}

func run() error {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return err
	}

	logger := setupLogger(cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(logger)

	logger.Info("starting compactor",
		"log_level", cfg.LogLevel,
		"s3_endpoint", cfg.ObjectStore.ServiceURL,
		"bucket", cfg.ObjectStore.BucketName,
		"raw_prefix", cfg.Compaction.RawPrefix,
		"compacted_prefix", cfg.Compaction.CompactedPrefix,
		"periodic_run_enabled", cfg.Compaction.PeriodicRunEnabled,
		"metrics_addr", cfg.MetricsAddr,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	obs, err := observability.New("compactor")
	if err != nil {
		return err
	}
	defer func() {
		if shutErr := obs.Shutdown(context.Background()); shutErr != nil {
			logger.Error("observability shutdown error", "error", shutErr)
		}
	}()

	metrics, err := observability.NewMetrics(obs.Meter())
	if err != nil {
		return err
	}

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", obs.MetricsHandler())
	metricsMux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	metricsServer := &http.Server{
		Addr:    cfg.MetricsAddr,
		Handler: metricsMux,
	}
	go func() {
		logger.Info("starting metrics server", "addr", cfg.MetricsAddr)
		if srvErr := metricsServer.ListenAndServe(); srvErr != nil && srvErr != http.ErrServerClosed {
			logger.Error("metrics server error", "error", srvErr)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	store, err := objectstore.NewClient(ctx, cfg.ObjectStore, metrics, logger)
	if err != nil {
		return err
	}

	var broadcaster compaction.Broadcaster
	if cfg.NATS.URL != "" {
		natsClient, natsErr := nats.NewClient(cfg.NATS, logger)
		if natsErr != nil {
			logger.Warn("failed to connect to NATS, run-status broadcast disabled", "error", natsErr)
		} else {
			defer natsClient.Close()
			broadcaster = nats.NewBroadcaster(natsClient, logger)
		}
	}

	module := compaction.New(store, cfg.Compaction, broadcaster, metrics, logger)
	if err := module.Start(ctx); err != nil {
		return err
	}

	logger.Info("compactor started")

	sig := <-sigCh
	logger.Info("received shutdown signal", "signal", sig)

	logger.Info("initiating graceful shutdown")
	cancel()
	module.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), defaultShutdownTimeout)
	defer shutdownCancel()

	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("metrics server shutdown error", "error", err)
	}

	logger.Info("compactor stopped")
	return nil
}

// setupLogger creates a logger based on configuration.
func setupLogger(level, format string) *slog.Logger {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: logLevel}

	var handler slog.Handler
	if format == "text" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}
