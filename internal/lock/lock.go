// Package lock implements a distributed mutex backed by compare-and-swap
// on a single object's ETag, the same primitive the compaction engine
// uses to coordinate across process instances.
package lock

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Duration is the lease length granted by TryAcquire and refreshed by
// Extend.
const Duration = 30 * time.Minute

// StalledThreshold is how long a run may go without an update before the
// engine treats its lock as abandoned and force-invalidates it.
const StalledThreshold = 24 * time.Hour

// Document is the JSON body stored at the lock key.
type Document struct {
	LockID    string    `json:"lockId"`
	OwnerID   string    `json:"ownerId"`
	AcquiredAt time.Time `json:"acquiredAt"`
	ExpiresAt time.Time `json:"expiresAt"`
	HostName  string    `json:"hostName"`
}

// Expired reports whether the document's lease has lapsed as of now.
func (d Document) Expired(now time.Time) bool {
	return !now.Before(d.ExpiresAt)
}

// sameEpoch reports whether d is held by the given lock holder, compared
// by the (lockId, ownerId) pair. A restarted instance gets a
// new ownerId and therefore can never mutate a predecessor's epoch.
func (d Document) sameEpoch(lockID, ownerID string) bool {
	return d.LockID == lockID && d.OwnerID == ownerID
}

// objectStore is the subset of objectstore.Client the lock service needs.
// Defined locally so this package has no import-time dependency on the
// concrete HTTP client, matching the ports-style seam the rest of the
// codebase uses at package boundaries.
type objectStore interface {
	Get(ctx context.Context, key string) ([]byte, string, error)
	Head(ctx context.Context, key string) (etag string, ok bool, err error)
	PutIfMatch(ctx context.Context, key string, data []byte, etag string) (string, error)
	PutIfAbsent(ctx context.Context, key string, data []byte) error
}

// Clock abstracts time.Now for deterministic tests.
type Clock func() time.Time

// Service acquires, extends, releases, and invalidates the lock document
// at key.
type Service struct {
	store objectStore
	key   string
	now   Clock
}

// New builds a Service backed by store, guarding the lock document at key.
func New(store objectStore, key string) *Service {
	return &Service{store: store, key: key, now: time.Now}
}

// WithClock overrides the service's clock; used by tests.
func (s *Service) WithClock(clock Clock) *Service {
	s.now = clock
	return s
}

// TryAcquire attempts to take the lock for (lockID, ownerID, hostName). It
// fails with ErrHeld if a live lock is already present, or ErrCASConflict
// if a concurrent writer won the race.
func (s *Service) TryAcquire(ctx context.Context, lockID, ownerID, hostName string) (Document, error) {
	now := s.now()

	current, etag, err := s.read(ctx)
	if err != nil {
		return Document{}, err
	}

	if current != nil && !current.Expired(now) {
		return Document{}, fmt.Errorf("%w: held by %s until %s", ErrHeld, current.OwnerID, current.ExpiresAt)
	}

	next := Document{
		LockID:     lockID,
		OwnerID:    ownerID,
		AcquiredAt: now,
		ExpiresAt:  now.Add(Duration),
		HostName:   hostName,
	}

	body, err := json.Marshal(next)
	if err != nil {
		return Document{}, fmt.Errorf("lock: marshal document: %w", err)
	}

	// current == nil means the object didn't exist: require absence via
	// If-None-Match: *, rather than If-Match against some ETag.
	if current == nil {
		if err := s.store.PutIfAbsent(ctx, s.key, body); err != nil {
			return Document{}, fmt.Errorf("%w: %v", ErrCASConflict, err)
		}
		return next, nil
	}

	if _, err := s.store.PutIfMatch(ctx, s.key, body, etag); err != nil {
		return Document{}, fmt.Errorf("%w: %v", ErrCASConflict, err)
	}
	return next, nil
}

// Extend refreshes the lease of an already-held lock, identified by the
// full (lockID, ownerID) pair. It fails with ErrNotOwner if the stored
// document no longer matches that epoch.
func (s *Service) Extend(ctx context.Context, lockID, ownerID string) (Document, error) {
	now := s.now()

	current, etag, err := s.read(ctx)
	if err != nil {
		return Document{}, err
	}
	if current == nil || !current.sameEpoch(lockID, ownerID) {
		return Document{}, ErrNotOwner
	}

	next := *current
	next.ExpiresAt = now.Add(Duration)

	body, err := json.Marshal(next)
	if err != nil {
		return Document{}, fmt.Errorf("lock: marshal document: %w", err)
	}
	if _, err := s.store.PutIfMatch(ctx, s.key, body, etag); err != nil {
		return Document{}, fmt.Errorf("%w: %v", ErrCASConflict, err)
	}
	return next, nil
}

// Release marks the lock as expired (expiresAt = now) without deleting
// the object, preserving last-known ownership for diagnostics. Idempotent:
// releasing an already-released or foreign lock is not an error, it is
// simply a no-op reported via ok=false.
func (s *Service) Release(ctx context.Context, lockID, ownerID string) (ok bool, err error) {
	now := s.now()

	current, etag, err := s.read(ctx)
	if err != nil {
		return false, err
	}
	if current == nil || !current.sameEpoch(lockID, ownerID) {
		return false, nil
	}

	next := *current
	next.ExpiresAt = now

	body, err := json.Marshal(next)
	if err != nil {
		return false, fmt.Errorf("lock: marshal document: %w", err)
	}
	if _, err := s.store.PutIfMatch(ctx, s.key, body, etag); err != nil {
		return false, fmt.Errorf("%w: %v", ErrCASConflict, err)
	}
	return true, nil
}

// InvalidateIfExpired force-expires the stored lock only if it still
// byte-matches expected AND expected's lease has already lapsed as of
// now. Used to reclaim a lock whose owning process died mid-run.
func (s *Service) InvalidateIfExpired(ctx context.Context, expected Document) (ok bool, err error) {
	if !expected.Expired(s.now()) {
		return false, nil
	}
	return s.forceInvalidate(ctx, expected)
}

// ForceInvalidate force-expires the stored lock if it still byte-matches
// expected, without checking expiry. Used by the stalled-run policy when
// a run's lastUpdated is far enough in the past that waiting for natural
// lease expiry is not acceptable.
func (s *Service) ForceInvalidate(ctx context.Context, expected Document) (ok bool, err error) {
	return s.forceInvalidate(ctx, expected)
}

func (s *Service) forceInvalidate(ctx context.Context, expected Document) (bool, error) {
	current, etag, err := s.read(ctx)
	if err != nil {
		return false, err
	}
	if current == nil || !documentsEqual(*current, expected) {
		return false, nil
	}

	next := *current
	next.ExpiresAt = s.now()

	body, err := json.Marshal(next)
	if err != nil {
		return false, fmt.Errorf("lock: marshal document: %w", err)
	}
	if _, err := s.store.PutIfMatch(ctx, s.key, body, etag); err != nil {
		return false, fmt.Errorf("%w: %v", ErrCASConflict, err)
	}
	return true, nil
}

// ExtendLease is Extend adapted to the (bool, error) shape runstatus.Store
// expects of its lock-extension callback: a lost epoch is reported as
// ok=false with no error, since it is an expected outcome (another run
// took over), not a transport failure.
func (s *Service) ExtendLease(ctx context.Context, lockID, ownerID string) (bool, error) {
	_, err := s.Extend(ctx, lockID, ownerID)
	if err != nil {
		if errors.Is(err, ErrNotOwner) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// Current reads the lock document without mutating it. ok is false (with
// a nil document and nil error) when no lock is present.
func (s *Service) Current(ctx context.Context) (*Document, bool, error) {
	doc, _, err := s.read(ctx)
	if err != nil {
		return nil, false, err
	}
	if doc == nil {
		return nil, false, nil
	}
	return doc, true, nil
}

func (s *Service) read(ctx context.Context) (*Document, string, error) {
	exists, etag, err := s.head(ctx)
	if err != nil {
		return nil, "", err
	}
	if !exists {
		return nil, "", nil
	}

	body, etag, err := s.store.Get(ctx, s.key)
	if err != nil {
		return nil, "", fmt.Errorf("lock: get document: %w", err)
	}
	var doc Document
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, "", fmt.Errorf("lock: decode document: %w", err)
	}
	return &doc, etag, nil
}

func (s *Service) head(ctx context.Context) (exists bool, etag string, err error) {
	etag, ok, err := s.store.Head(ctx, s.key)
	if err != nil {
		return false, "", fmt.Errorf("lock: head document: %w", err)
	}
	return ok, etag, nil
}

func documentsEqual(a, b Document) bool {
	return a.LockID == b.LockID &&
		a.OwnerID == b.OwnerID &&
		a.AcquiredAt.Equal(b.AcquiredAt) &&
		a.ExpiresAt.Equal(b.ExpiresAt) &&
		a.HostName == b.HostName
}
