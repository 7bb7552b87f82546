// Package compaction provides the scheduled archive-compaction module:
// it merges the small, content-addressed raw Parquet files the ingestion
// path writes throughout a day into larger hourly files, grouped by JST
// calendar hour, deleting originals only once every output has been
// verified.
//
// # Safety
//
//   - Only days strictly before the current UTC day are ever compacted.
//   - Original files are deleted ONLY after every compacted output from
//     the same batch has been read back and successfully decoded.
//   - The engine is stateless between runs: the object store's key layout
//     plus the run-status document and lock document together are the
//     entire state.
//   - If a run dies partway, raw inputs for any unfinished day remain
//     intact and are retried by the next run.
package compaction

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/google/uuid"

	"github.com/kamiyn/sendgridparquetlog/internal/compaction/internal/service"
	"github.com/kamiyn/sendgridparquetlog/internal/objectstore"
	"github.com/kamiyn/sendgridparquetlog/internal/observability"
	"github.com/kamiyn/sendgridparquetlog/internal/runstatus"
)

// Broadcaster is the optional out-of-process transport run-status updates
// fan out to (e.g. a NATS publisher), in addition to in-process
// subscribers. Pass nil to disable it.
type Broadcaster interface {
	Broadcast(ctx context.Context, doc runstatus.Document) error
}

// Module is the compaction module facade: it wraps the engine and its
// daily scheduler behind a Start/Stop lifecycle plus a manual RunNow
// trigger, the same shape other modules in this codebase expose.
type Module struct {
	engine    *service.Engine
	scheduler *service.Scheduler
	config    Config
	logger    *slog.Logger
}

// New creates a new compaction module. store must be a fully-configured
// object store client; broadcaster and metrics may both be nil.
func New(store *objectstore.Client, cfg Config, broadcaster Broadcaster, metrics *observability.Metrics, logger *slog.Logger) *Module {
	if logger == nil {
		logger = slog.Default()
	}

	hostName, err := os.Hostname()
	if err != nil {
		hostName = "unknown-host"
	}

	instanceID, err := newInstanceID(hostName)
	if err != nil {
		// Falling back to a hostname-only identity still preserves
		// epoch-uniqueness across restarts in the overwhelmingly common
		// case (crypto/rand failing in practice means the host's entropy
		// source is broken, a condition worth surfacing via logs, not a
		// fatal startup error here).
		logger.Warn("failed to generate random instance id, falling back to hostname only", "error", err)
	}

	engineCfg := service.Config{
		RawPrefix:         cfg.RawPrefix,
		CompactedPrefix:   cfg.CompactedPrefix,
		MaxBatchSizeBytes: cfg.MaxBatchSizeBytes,
		RowGroupSize:      cfg.RowGroupSize,
	}

	engine := service.NewEngine(store, engineCfg, instanceID, hostName, broadcaster, metrics, logger)
	scheduler := service.NewScheduler(engine, logger)

	return &Module{
		engine:    engine,
		scheduler: scheduler,
		config:    cfg,
		logger:    logger.With("component", "compaction-module"),
	}
}

// Start begins the daily scheduled compaction loop. If periodic runs are
// disabled via config, this is a no-op; RunNow remains available.
func (m *Module) Start(ctx context.Context) error {
	if !m.config.PeriodicRunEnabled {
		m.logger.Info("periodic compaction disabled, skipping scheduler start")
		return nil
	}

	m.logger.Info("starting compaction module",
		"raw_prefix", m.config.RawPrefix,
		"compacted_prefix", m.config.CompactedPrefix,
		"max_batch_size_bytes", m.config.MaxBatchSizeBytes,
	)

	m.scheduler.Start(ctx)
	return nil
}

// Stop stops the compaction scheduler.
func (m *Module) Stop() {
	m.logger.Info("stopping compaction module")
	m.scheduler.Stop()
}

// RunNow triggers an immediate compaction run outside the daily schedule.
func (m *Module) RunNow(ctx context.Context) error {
	return m.engine.Run(ctx)
}

// newInstanceID builds the hostname+random-UUID identity that distinguishes
// this process from any predecessor sharing the same host, per spec.md's
// lock-epoch requirement.
func newInstanceID(hostName string) (string, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return hostName, err
	}
	return fmt.Sprintf("%s-%s", hostName, id), nil
}
