package runstatus

import (
	"context"
	"encoding/json"
	"testing"
	"time"
)

type fakeObjectStore struct {
	body []byte
}

func (f *fakeObjectStore) Get(_ context.Context, _ string) ([]byte, string, error) {
	return f.body, "etag", nil
}

func (f *fakeObjectStore) Put(_ context.Context, _ string, data []byte) error {
	f.body = data
	return nil
}

type fakeExtender struct {
	calls int
}

func (f *fakeExtender) Extend(_ context.Context, _, _ string) (bool, error) {
	f.calls++
	return true, nil
}

func TestStartRunThenSaveRoundTrips(t *testing.T) {
	store := &fakeObjectStore{}
	extender := &fakeExtender{}
	s := New(store, "compacted/run.json", "lock-1", "owner-1", extender, nil)

	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s.StartRun(start, []string{"2025-12-31"}, []string{"compacted/"})

	if err := s.Save(context.Background()); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if extender.calls != 1 {
		t.Fatalf("expected Save to piggy-back one lock extension, got %d", extender.calls)
	}

	var loaded Document
	if err := json.Unmarshal(store.body, &loaded); err != nil {
		t.Fatalf("unmarshal saved document: %v", err)
	}
	if loaded.LockID != "lock-1" || len(loaded.TargetDays) != 1 {
		t.Fatalf("unexpected saved document: %+v", loaded)
	}
}

func TestMutatorsAdvanceLastUpdated(t *testing.T) {
	s := New(&fakeObjectStore{}, "k", "lock-1", "owner-1", nil, nil)

	first := s.BeginDay("2025-12-31", 10)
	time.Sleep(time.Millisecond)
	second := s.RecordProcessedFile("raw/x.parquet", 100)

	if !second.LastUpdated.After(first.LastUpdated) {
		t.Fatal("expected lastUpdated to advance across mutations")
	}
	if second.CurrentDayProcessedFiles != 1 || second.CurrentDayProcessedBytes != 100 {
		t.Fatalf("unexpected counters: %+v", second)
	}
}

func TestRecordFailedFilesIncrementErrorCount(t *testing.T) {
	s := New(&fakeObjectStore{}, "k", "lock-1", "owner-1", nil, nil)

	s.RecordFailedOriginalFile("raw/bad.parquet")
	doc := s.RecordFailedOutputFile("compacted/bad.parquet")

	if doc.ErrorCount != 2 {
		t.Fatalf("ErrorCount = %d, want 2", doc.ErrorCount)
	}
	if len(doc.FailedOriginalFiles) != 1 || len(doc.FailedOutputFiles) != 1 {
		t.Fatalf("unexpected failed-file lists: %+v", doc)
	}
}

func TestSubscribeReceivesNotifications(t *testing.T) {
	s := New(&fakeObjectStore{}, "k", "lock-1", "owner-1", nil, nil)
	sub := s.Subscribe()

	s.BeginDay("2025-12-31", 5)

	select {
	case doc := <-sub:
		if doc.CurrentDay != "2025-12-31" {
			t.Fatalf("unexpected notified document: %+v", doc)
		}
	case <-time.After(time.Second):
		t.Fatal("expected a notification within one second")
	}
}

func TestShouldRefuseStartAndIsStalled(t *testing.T) {
	now := time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC)

	fresh := Document{StartTime: now.Add(-time.Minute), LastUpdated: now.Add(-time.Minute)}
	if !ShouldRefuseStart(fresh, true, now, 24*time.Hour) {
		t.Fatal("expected a fresh in-flight run to refuse a new start")
	}
	if IsStalled(fresh, true, now, 24*time.Hour) {
		t.Fatal("a fresh run should not be considered stalled")
	}

	stale := Document{StartTime: now.Add(-48 * time.Hour), LastUpdated: now.Add(-48 * time.Hour)}
	if ShouldRefuseStart(stale, true, now, 24*time.Hour) {
		t.Fatal("a stalled run should not refuse a new start")
	}
	if !IsStalled(stale, true, now, 24*time.Hour) {
		t.Fatal("expected the old run to be considered stalled")
	}

	completed := stale
	endTime := now.Add(-47 * time.Hour)
	completed.EndTime = &endTime
	if ShouldRefuseStart(completed, true, now, 24*time.Hour) || IsStalled(completed, true, now, 24*time.Hour) {
		t.Fatal("a completed run is neither in-flight nor stalled")
	}
}
