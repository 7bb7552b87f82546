package runstatus

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

// objectStore is the subset of objectstore.Client Save needs.
type objectStore interface {
	Get(ctx context.Context, key string) ([]byte, string, error)
	Put(ctx context.Context, key string, data []byte) error
}

// lockExtender is satisfied by *lock.Service; Save piggy-backs a lock
// extension on every durable write so the engine needs no separate
// heartbeat goroutine.
type lockExtender interface {
	Extend(ctx context.Context, lockID, ownerID string) (extended bool, err error)
}

// broadcaster is the optional transport Notify fans out to in addition to
// its in-process subscribers (e.g. a NATS publisher). Implementations
// must not block Notify's caller for long; Store calls Broadcast in its
// own goroutine and discards any error it returns.
type broadcaster interface {
	Broadcast(ctx context.Context, doc Document) error
}

// Store owns the single run-status document, serializing every mutation
// through one mutex because batch readers and writers run concurrently
// inside the compaction engine.
type Store struct {
	mu  sync.Mutex
	doc Document

	store       objectStore
	key         string
	lockID      string
	ownerID     string
	extender    lockExtender
	broadcaster broadcaster

	subMu sync.Mutex
	subs  []chan Document
}

// New creates a Store that will Save to key and piggy-back lock extension
// for (lockID, ownerID) via extender. extender and broadcaster may be nil.
func New(store objectStore, key, lockID, ownerID string, extender lockExtender, broadcaster broadcaster) *Store {
	return &Store{
		store:       store,
		key:         key,
		lockID:      lockID,
		ownerID:     ownerID,
		extender:    extender,
		broadcaster: broadcaster,
		doc:         Document{LockID: lockID},
	}
}

// Subscribe registers an in-process observer of every Notify call. The
// returned channel is buffered; a slow subscriber drops the oldest
// pending snapshot rather than blocking Notify's caller. Callers should
// drain it in their own goroutine.
func (s *Store) Subscribe() <-chan Document {
	ch := make(chan Document, 8)
	s.subMu.Lock()
	s.subs = append(s.subs, ch)
	s.subMu.Unlock()
	return ch
}

// Snapshot returns a copy of the current document.
func (s *Store) Snapshot() Document {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.doc.clone()
}

// mutate applies fn under the document mutex, stamps lastUpdated, and
// fans the result out to Notify's in-process subscribers.
func (s *Store) mutate(fn func(*Document)) Document {
	s.mu.Lock()
	fn(&s.doc)
	s.doc.LastUpdated = time.Now()
	snapshot := s.doc.clone()
	s.mu.Unlock()

	s.notify(snapshot)
	return snapshot
}

func (s *Store) notify(doc Document) {
	s.subMu.Lock()
	defer s.subMu.Unlock()

	for _, ch := range s.subs {
		select {
		case ch <- doc:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- doc:
			default:
			}
		}
	}

	if s.broadcaster != nil {
		go func() {
			_ = s.broadcaster.Broadcast(context.Background(), doc)
		}()
	}
}

// StartRun initializes a fresh document for a new run: startTime=now,
// the target day/prefix lists, zeroed counters, no endTime.
func (s *Store) StartRun(startTime time.Time, targetDays, targetPathPrefixes []string) Document {
	return s.mutate(func(d *Document) {
		*d = Document{
			LockID:              s.lockID,
			StartTime:           startTime,
			TargetDays:          append([]string(nil), targetDays...),
			TargetPathPrefixes:  append([]string(nil), targetPathPrefixes...),
			FailedOriginalFiles: []string{},
			FailedOutputFiles:   []string{},
		}
	})
}

// BeginDay records the current day and resets its per-day counters.
func (s *Store) BeginDay(day string, totalFiles int) Document {
	return s.mutate(func(d *Document) {
		d.CurrentDay = day
		d.CurrentDayTotalFiles = totalFiles
		d.CurrentDayProcessedFiles = 0
		d.CurrentDayProcessedBytes = 0
	})
}

// RecordProcessedFile marks one raw file as successfully read.
func (s *Store) RecordProcessedFile(key string, size int64) Document {
	return s.mutate(func(d *Document) {
		d.CurrentDayProcessedFiles++
		d.CurrentDayProcessedBytes += size
		d.LastProcessedFile = key
	})
}

// RecordFailedOriginalFile appends key to failedOriginalFiles.
func (s *Store) RecordFailedOriginalFile(key string) Document {
	return s.mutate(func(d *Document) {
		d.FailedOriginalFiles = append(d.FailedOriginalFiles, key)
		d.ErrorCount++
	})
}

// RecordOutputFile marks a newly written compacted output.
func (s *Store) RecordOutputFile(key string) Document {
	return s.mutate(func(d *Document) {
		d.OutputFilesCreated++
		d.LastOutputFile = key
	})
}

// RecordFailedOutputFile appends key to failedOutputFiles.
func (s *Store) RecordFailedOutputFile(key string) Document {
	return s.mutate(func(d *Document) {
		d.FailedOutputFiles = append(d.FailedOutputFiles, key)
		d.ErrorCount++
	})
}

// RecordDeletedOriginalFile increments the deleted-raw-file counter.
func (s *Store) RecordDeletedOriginalFile() Document {
	return s.mutate(func(d *Document) {
		d.DeletedOriginalFile++
	})
}

// CompleteDay increments completedDays and clears the current-day fields.
func (s *Store) CompleteDay() Document {
	return s.mutate(func(d *Document) {
		d.CompletedDays++
		d.CurrentDay = ""
		d.CurrentDayTotalFiles = 0
		d.CurrentDayProcessedFiles = 0
		d.CurrentDayProcessedBytes = 0
	})
}

// RecordError increments errorCount for a day-level exception that did
// not produce a specific failed-file entry.
func (s *Store) RecordError() Document {
	return s.mutate(func(d *Document) {
		d.ErrorCount++
	})
}

// Finish sets endTime=now.
func (s *Store) Finish(endTime time.Time) Document {
	return s.mutate(func(d *Document) {
		t := endTime
		d.EndTime = &t
	})
}

// Save serializes the current document to JSON and writes it to the
// configured key, then opportunistically extends the lock. A lock
// extension failure is logged by the caller (via the returned error) but
// does not roll back the Save — the document write already succeeded.
func (s *Store) Save(ctx context.Context) error {
	snapshot := s.Snapshot()

	body, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("runstatus: marshal document: %w", err)
	}

	if err := s.store.Put(ctx, s.key, body); err != nil {
		return fmt.Errorf("runstatus: save document: %w", err)
	}

	if s.extender != nil {
		if _, err := s.extender.Extend(ctx, s.lockID, s.ownerID); err != nil {
			return fmt.Errorf("runstatus: extend lock after save: %w", err)
		}
	}

	return nil
}

// Load reads the persisted run document at key, if any. ok is false (with
// a zero Document and nil error) when none exists yet.
func Load(ctx context.Context, store objectStore, key string) (doc Document, ok bool, err error) {
	body, _, err := store.Get(ctx, key)
	if err != nil {
		return Document{}, false, fmt.Errorf("runstatus: load document: %w", err)
	}
	if len(body) == 0 {
		return Document{}, false, nil
	}
	if err := json.Unmarshal(body, &doc); err != nil {
		return Document{}, false, fmt.Errorf("runstatus: decode document: %w", err)
	}
	return doc, true, nil
}

// ShouldRefuseStart implements the engine's Guard step: a persisted run
// document whose lastUpdated is within the inactivity threshold and has
// no endTime means another run is genuinely in flight.
func ShouldRefuseStart(doc Document, ok bool, now time.Time, staleThreshold time.Duration) bool {
	return ok && doc.inFlight(now, staleThreshold)
}

// IsStalled reports whether a persisted run document is an abandoned
// in-flight run whose lock should be force-released before a new run
// starts.
func IsStalled(doc Document, ok bool, now time.Time, staleThreshold time.Duration) bool {
	return ok && doc.isStalled(now, staleThreshold)
}
