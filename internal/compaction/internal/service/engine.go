// Package service implements the compaction engine: the scheduler-facing
// worker that discovers target days, processes each as a sequence of
// memory-bounded batches, writes hourly outputs, verifies them, and
// deletes the inputs they replace.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/kamiyn/sendgridparquetlog/internal/lock"
	"github.com/kamiyn/sendgridparquetlog/internal/observability"
	"github.com/kamiyn/sendgridparquetlog/internal/pathcodec"
	"github.com/kamiyn/sendgridparquetlog/internal/runstatus"
)

// Config controls one engine's behavior. See internal/compaction.Config
// for the environment-variable-bound parent.
type Config struct {
	RawPrefix         string
	CompactedPrefix   string
	MaxBatchSizeBytes int64
	RowGroupSize      int
}

// fullStore is everything the engine and its sub-steps need from the
// object store.
type fullStore interface {
	lister
	objectStore
	PutIfMatch(ctx context.Context, key string, data []byte, etag string) (string, error)
	PutIfAbsent(ctx context.Context, key string, data []byte) error
	Head(ctx context.Context, key string) (etag string, ok bool, err error)
}

// Engine runs one compaction pass at a time. It is safe to construct once
// per process and reuse across runs (e.g. from a Scheduler); it holds no
// mutable state between runs besides its identity (hostName/instanceID).
type Engine struct {
	store      fullStore
	cfg        Config
	lockSvc    *lock.Service
	instanceID string
	hostName   string
	broadcast  broadcaster
	metrics    *observability.Metrics
	logger     *slog.Logger
	now        func() time.Time
}

type broadcaster interface {
	Broadcast(ctx context.Context, doc runstatus.Document) error
}

// lockExtenderAdapter renames lock.Service.ExtendLease to the bare
// "Extend" name runstatus.Store expects of its lock-extension callback.
type lockExtenderAdapter struct {
	svc *lock.Service
}

func (a lockExtenderAdapter) Extend(ctx context.Context, lockID, ownerID string) (bool, error) {
	return a.svc.ExtendLease(ctx, lockID, ownerID)
}

// NewEngine builds an Engine. instanceID must be stable for the lifetime
// of the process and unique across processes (host + per-process UUID is
// the convention the rest of this codebase uses for ownerId).
func NewEngine(store fullStore, cfg Config, instanceID, hostName string, broadcast broadcaster, metrics *observability.Metrics, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxBatchSizeBytes <= 0 {
		cfg.MaxBatchSizeBytes = DefaultMaxBatchSizeBytes
	}
	lockKey := pathcodec.RunLockKey(cfg.CompactedPrefix)
	return &Engine{
		store:      store,
		cfg:        cfg,
		lockSvc:    lock.New(store, lockKey),
		instanceID: instanceID,
		hostName:   hostName,
		broadcast:  broadcast,
		metrics:    metrics,
		logger:     logger.With("component", "compaction-engine"),
		now:        time.Now,
	}
}

// DefaultMaxBatchSizeBytes is 512 MiB, the input-read ceiling per batch.
const DefaultMaxBatchSizeBytes int64 = 512 * 1024 * 1024

// Run executes one full compaction pass: guard, acquire, plan, process
// every target day, then finalize. Finalization (lock release, terminal
// status save) always runs, even if ctx is cancelled mid-run.
func (e *Engine) Run(ctx context.Context) error {
	runStart := e.now()
	if e.metrics != nil {
		e.metrics.CompactionRuns.Add(ctx, 1)
		defer func() {
			e.metrics.CompactionDuration.Record(ctx, float64(e.now().Sub(runStart).Milliseconds()))
		}()
	}

	statusKey := pathcodec.RunStatusKey(e.cfg.CompactedPrefix)

	existing, ok, err := runstatus.Load(ctx, e.store, statusKey)
	if err != nil {
		return fmt.Errorf("compaction: load run status: %w", err)
	}

	now := e.now()
	if runstatus.ShouldRefuseStart(existing, ok, now, lock.StalledThreshold) {
		return ErrAlreadyRunning
	}
	if runstatus.IsStalled(existing, ok, now, lock.StalledThreshold) {
		if lockDoc, held, lockErr := e.lockSvc.Current(ctx); lockErr == nil && held {
			if _, invalidateErr := e.lockSvc.ForceInvalidate(ctx, *lockDoc); invalidateErr != nil {
				e.logger.Warn("failed to force-invalidate stalled lock", "error", invalidateErr)
			}
		}
	}

	lockID := uuid.New().String()
	if _, err := e.lockSvc.TryAcquire(ctx, lockID, e.instanceID, e.hostName); err != nil {
		return fmt.Errorf("%w: %v", ErrAcquireFailed, err)
	}

	status := runstatus.New(e.store, statusKey, lockID, e.instanceID, lockExtenderAdapter{e.lockSvc}, e.broadcast)

	olderThanOrEqual := now.UTC().AddDate(0, 0, -1)
	days, err := discoverTargetDays(ctx, e.store, e.cfg.RawPrefix, olderThanOrEqual)
	if err != nil {
		e.finalize(status)
		return fmt.Errorf("compaction: plan: %w", err)
	}

	targetDayStrings := make([]string, len(days))
	for i, d := range days {
		targetDayStrings[i] = d.String()
	}

	status.StartRun(now, targetDayStrings, []string{e.cfg.RawPrefix, e.cfg.CompactedPrefix})
	if err := status.Save(ctx); err != nil {
		e.logger.Warn("failed to save initial run status", "error", err)
	}

	for _, d := range days {
		if err := e.processDay(ctx, status, d); err != nil {
			status.RecordError()
			e.logger.Error("day processing failed", "day", d.String(), "error", err)
		}
		if err := ctx.Err(); err != nil {
			break
		}
	}

	e.finalize(status)
	return nil
}

func (e *Engine) processDay(ctx context.Context, status *runstatus.Store, d day) error {
	files, err := listDayParquetFiles(ctx, e.store, e.cfg.RawPrefix, d)
	if err != nil {
		return err
	}
	if len(files) == 0 {
		return nil
	}

	status.BeginDay(d.String(), len(files))
	if err := status.Save(ctx); err != nil {
		e.logger.Warn("failed to save day-start status", "day", d.String(), "error", err)
	}

	remaining := files
	bs := &batchStatus{
		onProcessed: func(key string, size int64) { status.RecordProcessedFile(key, size) },
		onFailedOriginal: func(key string) {
			status.RecordFailedOriginalFile(key)
			if e.metrics != nil {
				e.metrics.CompactionFilesFailed.Add(ctx, 1)
			}
		},
		onOutput: func(key string) {
			status.RecordOutputFile(key)
			if e.metrics != nil {
				e.metrics.CompactionFilesCompacted.Add(ctx, 1)
			}
		},
		onFailedOutput: func(key string) {
			status.RecordFailedOutputFile(key)
			if e.metrics != nil {
				e.metrics.CompactionFilesFailed.Add(ctx, 1)
			}
		},
		onDeletedOriginal: func() {
			status.RecordDeletedOriginalFile()
			if e.metrics != nil {
				e.metrics.CompactionFilesDeleted.Add(ctx, 1)
			}
		},
	}

	for len(remaining) > 0 {
		if err := ctx.Err(); err != nil {
			break
		}

		outcome, err := runBatch(ctx, e.store, e.cfg.CompactedPrefix, remaining, e.cfg.MaxBatchSizeBytes, e.cfg.RowGroupSize, bs, e.logger)
		if err != nil {
			return err
		}
		if !outcome.ProgressMade {
			break
		}

		remaining = remaining[outcome.ConsumedFiles:]
		if err := status.Save(ctx); err != nil {
			e.logger.Warn("failed to save status after batch", "day", d.String(), "error", err)
		}
	}

	status.CompleteDay()
	return status.Save(ctx)
}

// finalize releases the lock and saves terminal status under a fresh,
// non-cancellable context so cleanup survives a cancelled run.
func (e *Engine) finalize(status *runstatus.Store) {
	freshCtx := context.WithoutCancel(context.Background())

	lockID := status.Snapshot().LockID
	if _, err := e.lockSvc.Release(freshCtx, lockID, e.instanceID); err != nil {
		e.logger.Error("failed to release lock during finalize", "error", err)
	}

	status.Finish(e.now())
	if err := status.Save(freshCtx); err != nil {
		e.logger.Error("failed to save terminal run status", "error", err)
	}
}
