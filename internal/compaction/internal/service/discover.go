package service

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/kamiyn/sendgridparquetlog/internal/pathcodec"
)

// lister is the subset of objectstore.Client day discovery needs.
type lister interface {
	ListDirect(ctx context.Context, prefix string) (dirs []string, files []string, err error)
	ListFiles(ctx context.Context, prefix string) ([]string, error)
}

// day identifies one (year, month, day) folder under the raw prefix, in
// both its struct form and its canonical "YYYY-MM-DD" string form.
type day struct {
	Year, Month, Day int
}

func (d day) String() string {
	return fmt.Sprintf("%04d-%02d-%02d", d.Year, d.Month, d.Day)
}

func (d day) asTime() time.Time {
	return time.Date(d.Year, time.Month(d.Month), d.Day, 0, 0, 0, 0, time.UTC)
}

// discoverTargetDays enumerates every (year, month, day) folder under
// rawPrefix using three nested ListDirect passes, then keeps only days on
// or before olderThanOrEqual. Folder names that fail to parse as integers
// are silently skipped rather than aborting discovery. The returned order
// is discovery order (year, then month, then day), not necessarily
// chronological, matching the spec's "order is the order of discovery".
func discoverTargetDays(ctx context.Context, store lister, rawPrefix string, olderThanOrEqual time.Time) ([]day, error) {
	yearDirs, _, err := store.ListDirect(ctx, pathcodec.RawPrefix(rawPrefix, 0, 0, 0))
	if err != nil {
		return nil, fmt.Errorf("discover: list years: %w", err)
	}

	var result []day
	for _, yearDir := range yearDirs {
		year, ok := lastPathComponentAsInt(yearDir)
		if !ok {
			continue
		}

		monthDirs, _, err := store.ListDirect(ctx, pathcodec.RawPrefix(rawPrefix, year, 0, 0))
		if err != nil {
			return nil, fmt.Errorf("discover: list months under %d: %w", year, err)
		}

		for _, monthDir := range monthDirs {
			month, ok := lastPathComponentAsInt(monthDir)
			if !ok {
				continue
			}

			dayDirs, _, err := store.ListDirect(ctx, pathcodec.RawPrefix(rawPrefix, year, month, 0))
			if err != nil {
				return nil, fmt.Errorf("discover: list days under %d/%02d: %w", year, month, err)
			}

			for _, dayDir := range dayDirs {
				dayNum, ok := lastPathComponentAsInt(dayDir)
				if !ok {
					continue
				}

				candidate := day{Year: year, Month: month, Day: dayNum}
				if !candidate.asTime().After(olderThanOrEqual) {
					result = append(result, candidate)
				}
			}
		}
	}

	return result, nil
}

// lastPathComponentAsInt parses the last non-empty "/"-separated segment
// of a ListDirect common-prefix entry (e.g. "raw/2026/" -> 2026).
func lastPathComponentAsInt(prefix string) (int, bool) {
	trimmed := strings.TrimSuffix(prefix, "/")
	idx := strings.LastIndex(trimmed, "/")
	segment := trimmed
	if idx >= 0 {
		segment = trimmed[idx+1:]
	}
	n, err := strconv.Atoi(segment)
	if err != nil {
		return 0, false
	}
	return n, true
}

// listDayParquetFiles lists every object under day's raw folder, keeping
// only keys with the .parquet extension, in the order ListFiles returned
// them.
func listDayParquetFiles(ctx context.Context, store lister, rawPrefix string, d day) ([]string, error) {
	prefix := pathcodec.RawPrefix(rawPrefix, d.Year, d.Month, d.Day)
	keys, err := store.ListFiles(ctx, prefix)
	if err != nil {
		return nil, fmt.Errorf("discover: list files for %s: %w", d, err)
	}

	var files []string
	for _, k := range keys {
		if pathcodec.HasParquetExtension(k) {
			files = append(files, k)
		}
	}
	return files, nil
}

// sortDaysForDisplay is used only by tests that need deterministic
// assertions; production code relies on discovery order, never this.
func sortDaysForDisplay(days []day) []day {
	sorted := append([]day(nil), days...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].asTime().Before(sorted[j].asTime()) })
	return sorted
}
