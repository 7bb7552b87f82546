package lock

import (
	"context"
	"testing"
	"time"

	"github.com/kamiyn/sendgridparquetlog/internal/objectstore"
)

// fakeStore is an in-memory objectStore sufficient to drive the lock
// state machine's CAS transitions without a real S3-compatible service.
type fakeStore struct {
	body []byte
	etag string
	seq  int
}

func (f *fakeStore) Get(_ context.Context, _ string) ([]byte, string, error) {
	return f.body, f.etag, nil
}

func (f *fakeStore) Head(_ context.Context, _ string) (string, bool, error) {
	if f.body == nil {
		return "", false, nil
	}
	return f.etag, true, nil
}

func (f *fakeStore) PutIfAbsent(_ context.Context, _ string, data []byte) error {
	if f.body != nil {
		return objectstore.ErrPreconditionFailed
	}
	f.body = data
	f.seq++
	f.etag = nextETag(f.seq)
	return nil
}

func (f *fakeStore) PutIfMatch(_ context.Context, _ string, data []byte, etag string) (string, error) {
	if f.body == nil || f.etag != etag {
		return "", objectstore.ErrPreconditionFailed
	}
	f.body = data
	f.seq++
	f.etag = nextETag(f.seq)
	return f.etag, nil
}

func nextETag(seq int) string {
	const letters = "abcdefghijklmnopqrstuvwxyz"
	return "etag-" + string(letters[seq%len(letters)])
}

func TestTryAcquireOnAbsentLockSucceeds(t *testing.T) {
	svc := New(&fakeStore{}, "compacted/run.lock")

	doc, err := svc.TryAcquire(context.Background(), "lock-1", "owner-1", "host-1")
	if err != nil {
		t.Fatalf("TryAcquire: %v", err)
	}
	if doc.LockID != "lock-1" || doc.OwnerID != "owner-1" {
		t.Fatalf("unexpected document: %+v", doc)
	}
}

func TestTryAcquireFailsWhileLive(t *testing.T) {
	store := &fakeStore{}
	svc := New(store, "compacted/run.lock")

	if _, err := svc.TryAcquire(context.Background(), "lock-1", "owner-1", "host-1"); err != nil {
		t.Fatalf("first TryAcquire: %v", err)
	}
	if _, err := svc.TryAcquire(context.Background(), "lock-2", "owner-2", "host-2"); err == nil {
		t.Fatal("expected second TryAcquire to fail while the first lock is live")
	}
}

func TestTryAcquireSucceedsAfterExpiry(t *testing.T) {
	store := &fakeStore{}
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	svc := New(store, "compacted/run.lock").WithClock(func() time.Time { return now })

	if _, err := svc.TryAcquire(context.Background(), "lock-1", "owner-1", "host-1"); err != nil {
		t.Fatalf("first TryAcquire: %v", err)
	}

	later := now.Add(Duration + time.Minute)
	svc.WithClock(func() time.Time { return later })

	doc, err := svc.TryAcquire(context.Background(), "lock-2", "owner-2", "host-2")
	if err != nil {
		t.Fatalf("TryAcquire after expiry: %v", err)
	}
	if doc.LockID != "lock-2" {
		t.Fatalf("expected new epoch lock-2, got %q", doc.LockID)
	}
}

func TestExtendRequiresMatchingEpoch(t *testing.T) {
	store := &fakeStore{}
	svc := New(store, "compacted/run.lock")
	ctx := context.Background()

	doc, err := svc.TryAcquire(ctx, "lock-1", "owner-1", "host-1")
	if err != nil {
		t.Fatalf("TryAcquire: %v", err)
	}

	if _, err := svc.Extend(ctx, "lock-1", "wrong-owner"); err != ErrNotOwner {
		t.Fatalf("Extend with wrong owner err = %v, want ErrNotOwner", err)
	}

	extended, err := svc.Extend(ctx, doc.LockID, "owner-1")
	if err != nil {
		t.Fatalf("Extend: %v", err)
	}
	if !extended.ExpiresAt.After(doc.ExpiresAt) {
		t.Fatal("expected Extend to push expiresAt forward")
	}
}

func TestReleaseIsIdempotentAndEpochScoped(t *testing.T) {
	store := &fakeStore{}
	svc := New(store, "compacted/run.lock")
	ctx := context.Background()

	if _, err := svc.TryAcquire(ctx, "lock-1", "owner-1", "host-1"); err != nil {
		t.Fatalf("TryAcquire: %v", err)
	}

	ok, err := svc.Release(ctx, "lock-1", "owner-other")
	if err != nil {
		t.Fatalf("Release: %v", err)
	}
	if ok {
		t.Fatal("Release with wrong owner should be a no-op")
	}

	ok, err = svc.Release(ctx, "lock-1", "owner-1")
	if err != nil {
		t.Fatalf("Release: %v", err)
	}
	if !ok {
		t.Fatal("expected Release to succeed for the current owner")
	}

	doc, present, err := svc.Current(ctx)
	if err != nil {
		t.Fatalf("Current: %v", err)
	}
	if !present {
		t.Fatal("Release must not delete the object")
	}
	if !doc.Expired(time.Now().Add(time.Second)) {
		t.Fatal("expected released lock to be expired")
	}
}

func TestForceInvalidateOnlyMatchesExpectedDocument(t *testing.T) {
	store := &fakeStore{}
	svc := New(store, "compacted/run.lock")
	ctx := context.Background()

	doc, err := svc.TryAcquire(ctx, "lock-1", "owner-1", "host-1")
	if err != nil {
		t.Fatalf("TryAcquire: %v", err)
	}

	stale := doc
	stale.LockID = "not-the-real-one"
	if ok, err := svc.ForceInvalidate(ctx, stale); err != nil || ok {
		t.Fatalf("ForceInvalidate with mismatched doc: ok=%v err=%v, want ok=false", ok, err)
	}

	ok, err := svc.ForceInvalidate(ctx, doc)
	if err != nil {
		t.Fatalf("ForceInvalidate: %v", err)
	}
	if !ok {
		t.Fatal("expected ForceInvalidate to succeed against the matching document")
	}
}
