package service

import (
	"context"
	"log/slog"
	"testing"

	"github.com/kamiyn/sendgridparquetlog/internal/schema"
)

// fakeBatchStore is an in-memory objectStore sufficient to exercise
// runBatch's read/write/verify/delete phases.
type fakeBatchStore struct {
	objects map[string][]byte
}

func newFakeBatchStore() *fakeBatchStore {
	return &fakeBatchStore{objects: map[string][]byte{}}
}

func (f *fakeBatchStore) Get(_ context.Context, key string) ([]byte, string, error) {
	data, ok := f.objects[key]
	if !ok {
		return nil, "", nil
	}
	return data, "etag", nil
}

func (f *fakeBatchStore) Put(_ context.Context, key string, data []byte) error {
	f.objects[key] = data
	return nil
}

func (f *fakeBatchStore) Delete(_ context.Context, key string) error {
	delete(f.objects, key)
	return nil
}

func newRecordingBatchStatus() (*batchStatus, *[]string, *[]string) {
	var processed, outputs []string
	return &batchStatus{
		onProcessed:       func(key string, _ int64) { processed = append(processed, key) },
		onFailedOriginal:  func(string) {},
		onOutput:          func(key string) { outputs = append(outputs, key) },
		onFailedOutput:    func(string) {},
		onDeletedOriginal: func() {},
	}, &processed, &outputs
}

func mustEncode(t *testing.T, events []schema.Event) []byte {
	t.Helper()
	data, wrote, err := schema.EncodeAll(events, 10_000)
	if err != nil {
		t.Fatalf("EncodeAll: %v", err)
	}
	if !wrote {
		t.Fatal("expected EncodeAll to report it wrote data")
	}
	return data
}

func TestRunBatchGroupsByJSTHourAndCleansUpVerifiedInputs(t *testing.T) {
	store := newFakeBatchStore()

	// 1700000000 -> 2023-11-14 09:13 JST; 1700003600 (one hour later) ->
	// 2023-11-14 10:13 JST. Same JST calendar day, adjacent hour buckets.
	events := []schema.Event{
		{Email: "a@example.com", Timestamp: 1700000000, EventType: "delivered"},
		{Email: "b@example.com", Timestamp: 1700003600, EventType: "open"},
	}

	rawKey := "raw/2023/11/14/input.parquet"
	store.objects[rawKey] = mustEncode(t, events)

	status, processed, outputs := newRecordingBatchStatus()
	outcome, err := runBatch(context.Background(), store, "compacted", []string{rawKey}, 1<<30, 10_000, status, slog.Default())
	if err != nil {
		t.Fatalf("runBatch: %v", err)
	}
	if !outcome.ProgressMade || outcome.ConsumedFiles != 1 {
		t.Fatalf("unexpected outcome: %+v", outcome)
	}
	if len(*processed) != 1 {
		t.Fatalf("expected 1 processed file, got %v", *processed)
	}
	if len(*outputs) != 2 {
		t.Fatalf("expected 2 hourly output files, got %v", *outputs)
	}

	if _, stillThere := store.objects[rawKey]; stillThere {
		t.Fatal("expected the verified raw input to be deleted")
	}
	for _, key := range *outputs {
		if _, ok := store.objects[key]; !ok {
			t.Fatalf("expected output %s to exist", key)
		}
	}
}

func TestRunBatchReturnsNoProgressOnEmptyRemaining(t *testing.T) {
	store := newFakeBatchStore()
	status, _, _ := newRecordingBatchStatus()

	outcome, err := runBatch(context.Background(), store, "compacted", nil, 1<<30, 10_000, status, slog.Default())
	if err != nil {
		t.Fatalf("runBatch: %v", err)
	}
	if outcome.ProgressMade || outcome.ConsumedFiles != 0 {
		t.Fatalf("expected no progress on an empty batch, got %+v", outcome)
	}
}

func TestRunBatchAlwaysConsumesFirstFileEvenOverCap(t *testing.T) {
	store := newFakeBatchStore()
	events := []schema.Event{{Email: "a@example.com", Timestamp: 1700000000, EventType: "delivered"}}
	rawKey := "raw/2023/11/14/big.parquet"
	store.objects[rawKey] = mustEncode(t, events)

	status, processed, _ := newRecordingBatchStatus()
	// maxBatchSizeBytes of 1 byte is smaller than any encoded file, but the
	// first file in a batch must still be attempted.
	outcome, err := runBatch(context.Background(), store, "compacted", []string{rawKey}, 1, 10_000, status, slog.Default())
	if err != nil {
		t.Fatalf("runBatch: %v", err)
	}
	if !outcome.ProgressMade || outcome.ConsumedFiles != 1 {
		t.Fatalf("expected the oversized first file to be consumed, got %+v", outcome)
	}
	if len(*processed) != 1 {
		t.Fatalf("expected the oversized file to be recorded as processed, got %v", *processed)
	}
}

func TestGroupByJSTHourOrdersBucketsChronologically(t *testing.T) {
	events := []schema.Event{
		{Email: "b@example.com", Timestamp: 1700003600, EventType: "open"},
		{Email: "a@example.com", Timestamp: 1700000000, EventType: "delivered"},
	}

	buckets := groupByJSTHour(events)
	if len(buckets) != 2 {
		t.Fatalf("expected 2 buckets, got %d", len(buckets))
	}
	sameDay := buckets[0].jstDate.Equal(buckets[1].jstDate)
	if !sameDay || buckets[0].jstHour >= buckets[1].jstHour {
		t.Fatalf("expected buckets sorted chronologically within the same day, got %+v", buckets)
	}
}
