// Command ingest-server runs the SendGrid Event Webhook receiver: it
// verifies each delivery's ECDSA signature, decodes the event batch, and
// archives it as a content-addressed raw Parquet file. It exposes
// /webhook/sendgrid, /health, and /metrics.
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

	"github.com/kamiyn/sendgridparquetlog/internal/ingest"
	"github.com/kamiyn/sendgridparquetlog/internal/objectstore"
	"github.com/kamiyn/sendgridparquetlog/internal/observability"
	"github.com/kamiyn/sendgridparquetlog/internal/webhook"
)

const defaultShutdownTimeout = 30 * time.Second

// Config holds all ingest-server configuration.
type Config struct {
	// LogLevel is the log level (debug, info, warn, error).
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	// LogFormat is the log format (json, text).
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`

	// ListenAddr is the address the webhook HTTP server listens on.
	ListenAddr string `env:"LISTEN_ADDR" envDefault:":8080"`

	// MetricsAddr is the address for the Prometheus metrics endpoint.
	MetricsAddr string `env:"METRICS_ADDR" envDefault:":9090"`

	// ObjectStore configuration.
	ObjectStore objectstore.Config `envPrefix:"S3__"`

	// Webhook configuration (verification key, allowed skew, body cap).
	Webhook webhook.Config `envPrefix:"SENDGRID__"`

	// RawPrefix is the top-level key prefix ingested files are stored
	// under. Must match the compactor's COMPACTION__RAWPREFIX.
	RawPrefix string `env:"RAWPREFIX" envDefault:"raw"`

	// RowGroupSize bounds how many rows accumulate per Parquet row group.
	RowGroupSize int `env:"ROWGROUPSIZE" envDefault:"10000"`
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

	logger.Info("starting ingest-server",
		"log_level", cfg.LogLevel,
		"listen_addr", cfg.ListenAddr,
		"s3_endpoint", cfg.ObjectStore.ServiceURL,
		"bucket", cfg.ObjectStore.BucketName,
		"raw_prefix", cfg.RawPrefix,
		"metrics_addr", cfg.MetricsAddr,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	obs, err := observability.New("ingest-server")
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

	store, err := objectstore.NewClient(ctx, cfg.ObjectStore, metrics, logger)
	if err != nil {
		return err
	}

	ingestModule := ingest.New(store, ingest.Config{
		RawPrefix:    cfg.RawPrefix,
		RowGroupSize: cfg.RowGroupSize,
	}, metrics, logger)

	webhookModule, err := webhook.New(cfg.Webhook, ingestModule, metrics, logger)
	if err != nil {
		return err
	}

	mux := http.NewServeMux()
	webhookModule.RegisterRoutes(mux)
	server := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: observability.HTTPMetrics(metrics)(mux),
	}

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", obs.MetricsHandler())
	metricsServer := &http.Server{
		Addr:    cfg.MetricsAddr,
		Handler: metricsMux,
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		logger.Info("starting webhook server", "addr", cfg.ListenAddr)
		if srvErr := server.ListenAndServe(); srvErr != nil && srvErr != http.ErrServerClosed {
			logger.Error("webhook server error", "error", srvErr)
		}
	}()
	go func() {
		logger.Info("starting metrics server", "addr", cfg.MetricsAddr)
		if srvErr := metricsServer.ListenAndServe(); srvErr != nil && srvErr != http.ErrServerClosed {
			logger.Error("metrics server error", "error", srvErr)
		}
	}()

	logger.Info("ingest-server started")

	sig := <-sigCh
	logger.Info("received shutdown signal", "signal", sig)

	logger.Info("initiating graceful shutdown")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), defaultShutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("webhook server shutdown error", "error", err)
	}
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("metrics server shutdown error", "error", err)
	}

	logger.Info("ingest-server stopped")
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
