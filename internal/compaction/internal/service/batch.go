package service

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/kamiyn/sendgridparquetlog/internal/pathcodec"
	"github.com/kamiyn/sendgridparquetlog/internal/schema"
)

// jst is Japan Standard Time, UTC+09:00. Japan observes no daylight
// saving time, so a fixed zone is exact, not an approximation.
var jst = time.FixedZone("JST", 9*60*60)

// objectStore is the subset of objectstore.Client the batch protocol
// needs to read, write, and clean up files.
type objectStore interface {
	Get(ctx context.Context, key string) ([]byte, string, error)
	Put(ctx context.Context, key string, data []byte) error
	Delete(ctx context.Context, key string) error
}

// batchOutcome summarizes what one call to runBatch accomplished, so the
// engine's day loop can decide whether to continue, and how many files
// from the front of "remaining" were consumed.
type batchOutcome struct {
	ConsumedFiles int // count of files in this batch's contiguous prefix
	ProgressMade  bool
}

// runBatch executes the read / group-write / verify / cleanup protocol
// over a contiguous prefix of remaining (starting at index 0) that fits
// within maxBatchSizeBytes of input bytes read. It returns how many
// leading files of remaining it consumed; the caller removes that prefix
// before the next call.
func runBatch(
	ctx context.Context,
	store objectStore,
	compactedPrefix string,
	remaining []string,
	maxBatchSizeBytes int64,
	rowGroupSize int,
	status *batchStatus,
	logger *slog.Logger,
) (batchOutcome, error) {
	if logger == nil {
		logger = slog.Default()
	}

	var processedBytes int64
	var events []schema.Event
	var processedKeys []string
	consumed := 0

	// Read phase.
readLoop:
	for _, key := range remaining {
		select {
		case <-ctx.Done():
			break readLoop
		default:
		}

		body, _, err := store.Get(ctx, key)
		if err != nil {
			status.recordFailedOriginal(key)
			consumed++
			continue
		}

		if len(body) > 0 && processedBytes+int64(len(body)) > maxBatchSizeBytes && consumed > 0 {
			// Leave this file for the next batch; the cap only stops
			// further reads once this batch has made some progress.
			break readLoop
		}

		if len(body) == 0 {
			logger.Warn("empty raw file treated as processed", "key", key)
			status.recordProcessed(key, 0)
			processedKeys = append(processedKeys, key)
			consumed++
			continue
		}

		fileEvents, decodeErr := schema.DecodeFile(body)
		if decodeErr != nil {
			status.recordFailedOriginal(key)
			consumed++
			continue
		}

		events = append(events, fileEvents...)
		processedBytes += int64(len(body))
		status.recordProcessed(key, int64(len(body)))
		processedKeys = append(processedKeys, key)
		consumed++
	}

	if consumed == 0 {
		return batchOutcome{ConsumedFiles: 0, ProgressMade: false}, nil
	}

	// Group-and-write phase.
	buckets := groupByJSTHour(events)
	outputKeys := make([]string, 0, len(buckets))

	for _, b := range buckets {
		data, wrote, err := schema.EncodeAll(b.events, rowGroupSize)
		if err != nil {
			return batchOutcome{}, fmt.Errorf("batch: encode hour bucket: %w", err)
		}
		if !wrote {
			continue
		}

		key := pathcodec.CompactedFileKey(compactedPrefix, b.jstDate, b.jstHour, data)
		if err := store.Put(ctx, key, data); err != nil {
			return batchOutcome{}, fmt.Errorf("batch: put compacted file: %w", err)
		}
		outputKeys = append(outputKeys, key)
		status.recordOutput(key)
	}

	// Verify phase.
	allVerified := true
	for _, key := range outputKeys {
		data, _, err := store.Get(ctx, key)
		if err != nil || len(data) == 0 {
			allVerified = false
			status.recordFailedOutput(key)
			_ = store.Delete(ctx, key)
			continue
		}
		file, err := schema.OpenFile(data)
		if err != nil {
			allVerified = false
			status.recordFailedOutput(key)
			_ = store.Delete(ctx, key)
			continue
		}
		logger.Debug("verified compacted file", "key", key, "row_groups", len(file.RowGroups()))
	}

	// Cleanup phase: only delete raw inputs if every output from this
	// batch verified cleanly.
	if allVerified {
		for _, key := range processedKeys {
			if err := store.Delete(ctx, key); err != nil {
				logger.Warn("failed to delete verified raw input", "key", key, "error", err)
				continue
			}
			status.recordDeletedOriginal()
		}
	}

	return batchOutcome{ConsumedFiles: consumed, ProgressMade: true}, nil
}

// batchStatus is the narrow slice of runstatus.Store mutators the batch
// protocol needs, expressed as plain functions so this file has no
// import-time dependency on the concrete runstatus type.
type batchStatus struct {
	onProcessed       func(key string, size int64)
	onFailedOriginal  func(key string)
	onOutput          func(key string)
	onFailedOutput    func(key string)
	onDeletedOriginal func()
}

func (s *batchStatus) recordProcessed(key string, size int64) { s.onProcessed(key, size) }
func (s *batchStatus) recordFailedOriginal(key string)        { s.onFailedOriginal(key) }
func (s *batchStatus) recordOutput(key string)                { s.onOutput(key) }
func (s *batchStatus) recordFailedOutput(key string)           { s.onFailedOutput(key) }
func (s *batchStatus) recordDeletedOriginal()                  { s.onDeletedOriginal() }

type hourBucket struct {
	jstDate time.Time // truncated to a calendar day, JST
	jstHour int
	events  []schema.Event
}

// toJSTDateHour converts a Unix-seconds timestamp into its JST calendar
// date (truncated to midnight, JST) and hour-of-day.
func toJSTDateHour(unixSeconds int64) (time.Time, int) {
	t := time.Unix(unixSeconds, 0).In(jst)
	date := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, jst)
	return date, t.Hour()
}

// groupByJSTHour partitions events by floor(timestamp/3600) and derives
// each bucket's JST calendar date/hour from its first event, per the
// spec's tie-break rule (the same event that defines the bucket also
// defines its date/hour, so there is no ambiguity to resolve).
func groupByJSTHour(events []schema.Event) []hourBucket {
	type key = int64
	index := map[key]int{}
	var buckets []hourBucket

	for _, e := range events {
		bucketKey := e.Timestamp / 3600
		idx, ok := index[bucketKey]
		if !ok {
			jstDate, jstHour := toJSTDateHour(e.Timestamp)
			buckets = append(buckets, hourBucket{jstDate: jstDate, jstHour: jstHour})
			idx = len(buckets) - 1
			index[bucketKey] = idx
		}
		buckets[idx].events = append(buckets[idx].events, e)
	}

	sort.Slice(buckets, func(i, j int) bool {
		if !buckets[i].jstDate.Equal(buckets[j].jstDate) {
			return buckets[i].jstDate.Before(buckets[j].jstDate)
		}
		return buckets[i].jstHour < buckets[j].jstHour
	})

	return buckets
}
