package ingest

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/kamiyn/sendgridparquetlog/internal/schema"
)

type fakePutter struct {
	objects map[string][]byte
}

func newFakePutter() *fakePutter {
	return &fakePutter{objects: map[string][]byte{}}
}

func (f *fakePutter) Put(_ context.Context, key string, data []byte) error {
	f.objects[key] = data
	return nil
}

func TestIngestStoresAContentAddressedRawFile(t *testing.T) {
	store := newFakePutter()
	m := New(store, Config{RawPrefix: "raw", RowGroupSize: 10_000}, nil, nil)
	m.now = func() time.Time { return time.Date(2023, 11, 14, 0, 13, 20, 0, time.UTC) }

	events := []schema.Event{{Email: "a@example.com", Timestamp: 1700000000, EventType: "delivered"}}
	if err := m.Ingest(context.Background(), events); err != nil {
		t.Fatalf("Ingest: %v", err)
	}

	var found string
	for key := range store.objects {
		found = key
	}
	if !strings.HasPrefix(found, "raw/2023/11/14/") || !strings.HasSuffix(found, ".parquet") {
		t.Fatalf("unexpected raw key: %q", found)
	}
}

func TestIngestIsIdempotentForIdenticalBatches(t *testing.T) {
	store := newFakePutter()
	m := New(store, Config{RawPrefix: "raw", RowGroupSize: 10_000}, nil, nil)
	m.now = func() time.Time { return time.Date(2023, 11, 14, 0, 13, 20, 0, time.UTC) }

	events := []schema.Event{{Email: "a@example.com", Timestamp: 1700000000, EventType: "delivered"}}
	if err := m.Ingest(context.Background(), events); err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if err := m.Ingest(context.Background(), events); err != nil {
		t.Fatalf("Ingest (retry): %v", err)
	}

	if len(store.objects) != 1 {
		t.Fatalf("expected a retried identical batch to overwrite the same key, got %d objects", len(store.objects))
	}
}

func TestIngestRejectsAnEmptyBatch(t *testing.T) {
	m := New(newFakePutter(), Config{RawPrefix: "raw"}, nil, nil)
	if err := m.Ingest(context.Background(), nil); err != ErrAtLeastOneEvent {
		t.Fatalf("err = %v, want ErrAtLeastOneEvent", err)
	}
}

func TestIngestRejectsAnEventMissingEmail(t *testing.T) {
	m := New(newFakePutter(), Config{RawPrefix: "raw"}, nil, nil)
	events := []schema.Event{{Timestamp: 1700000000, EventType: "delivered"}}
	if err := m.Ingest(context.Background(), events); err == nil {
		t.Fatal("expected an error for a missing email")
	}
}
