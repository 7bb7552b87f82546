package service

import (
	"context"
	"strings"
	"testing"
	"time"
)

// fakeLister is an in-memory implementation of lister backed by a flat set
// of object keys, computing ListDirect's common-prefix/file split the same
// way a real delimiter-based S3 listing would.
type fakeLister struct {
	keys []string
}

func (f *fakeLister) ListDirect(_ context.Context, prefix string) ([]string, []string, error) {
	seenDirs := map[string]bool{}
	var dirs, files []string

	for _, key := range f.keys {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		rest := key[len(prefix):]
		if idx := strings.IndexByte(rest, '/'); idx >= 0 {
			dir := prefix + rest[:idx+1]
			if !seenDirs[dir] {
				seenDirs[dir] = true
				dirs = append(dirs, dir)
			}
			continue
		}
		files = append(files, key)
	}
	return dirs, files, nil
}

func (f *fakeLister) ListFiles(_ context.Context, prefix string) ([]string, error) {
	var files []string
	for _, key := range f.keys {
		if strings.HasPrefix(key, prefix) {
			files = append(files, key)
		}
	}
	return files, nil
}

func TestDiscoverTargetDaysWalksYearMonthDay(t *testing.T) {
	store := &fakeLister{keys: []string{
		"raw/2025/12/31/a.parquet",
		"raw/2026/01/01/b.parquet",
		"raw/2026/01/02/c.parquet",
	}}

	olderThanOrEqual := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	days, err := discoverTargetDays(context.Background(), store, "raw", olderThanOrEqual)
	if err != nil {
		t.Fatalf("discoverTargetDays: %v", err)
	}

	sorted := sortDaysForDisplay(days)
	if len(sorted) != 2 {
		t.Fatalf("expected 2 days at or before the cutoff, got %v", sorted)
	}
	if sorted[0].String() != "2025-12-31" || sorted[1].String() != "2026-01-01" {
		t.Fatalf("unexpected days: %v", sorted)
	}
}

func TestDiscoverTargetDaysSkipsNonNumericFolders(t *testing.T) {
	store := &fakeLister{keys: []string{
		"raw/2026/01/01/a.parquet",
		"raw/not-a-year/01/01/b.parquet",
	}}

	olderThanOrEqual := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	days, err := discoverTargetDays(context.Background(), store, "raw", olderThanOrEqual)
	if err != nil {
		t.Fatalf("discoverTargetDays: %v", err)
	}
	if len(days) != 1 || days[0].String() != "2026-01-01" {
		t.Fatalf("expected only the valid numeric day, got %v", days)
	}
}

func TestListDayParquetFilesFiltersExtension(t *testing.T) {
	store := &fakeLister{keys: []string{
		"raw/2026/01/01/a.parquet",
		"raw/2026/01/01/b.json",
	}}

	files, err := listDayParquetFiles(context.Background(), store, "raw", day{2026, 1, 1})
	if err != nil {
		t.Fatalf("listDayParquetFiles: %v", err)
	}
	if len(files) != 1 || !strings.HasSuffix(files[0], ".parquet") {
		t.Fatalf("expected only the parquet file, got %v", files)
	}
}
