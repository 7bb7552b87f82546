package schema

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/parquet-go/parquet-go"
)

// DefaultRowGroupSize is the row-group flush threshold chosen so one group
// stays well under typical payload-size limits such as 6 MiB.
const DefaultRowGroupSize = 10_000

// EncodeStreaming consumes records from source until it closes, appending
// them to sink as a fixed-schema Parquet file. It flushes a row group
// whenever the buffered record count reaches rowGroupSize. It reports
// wrote=false if source produced no records at all, so the caller can
// discard the sink rather than uploading an empty file.
func EncodeStreaming(ctx context.Context, source <-chan Event, sink io.Writer, rowGroupSize int) (wrote bool, err error) {
	if rowGroupSize <= 0 {
		rowGroupSize = DefaultRowGroupSize
	}

	writer := parquet.NewGenericWriter[Event](sink,
		parquet.Compression(&parquet.Snappy),
		parquet.CreatedBy("sendgridparquetlog", "1.0.0", ""),
	)

	buf := make([]Event, 0, rowGroupSize)
	flush := func() error {
		if len(buf) == 0 {
			return nil
		}
		if _, werr := writer.Write(buf); werr != nil {
			return fmt.Errorf("schema: write row group: %w", werr)
		}
		if werr := writer.Flush(); werr != nil {
			return fmt.Errorf("schema: flush row group: %w", werr)
		}
		buf = buf[:0]
		return nil
	}

drain:
	for {
		select {
		case <-ctx.Done():
			break drain
		case ev, ok := <-source:
			if !ok {
				break drain
			}
			wrote = true
			buf = append(buf, ev)
			if len(buf) >= rowGroupSize {
				if ferr := flush(); ferr != nil {
					return wrote, ferr
				}
			}
		}
	}

	if ferr := flush(); ferr != nil {
		return wrote, ferr
	}

	if !wrote {
		// Closing an empty GenericWriter still emits a valid (empty)
		// Parquet footer; the caller decides whether that's worth keeping.
		if cerr := writer.Close(); cerr != nil {
			return false, fmt.Errorf("schema: close empty writer: %w", cerr)
		}
		return false, nil
	}

	if err := writer.Close(); err != nil {
		return true, fmt.Errorf("schema: close writer: %w", err)
	}
	return true, nil
}

// EncodeAll is a convenience wrapper around EncodeStreaming for callers
// that already have every record in memory (the common case for both the
// ingestor's single-batch upload and compaction's per-hour output).
func EncodeAll(events []Event, rowGroupSize int) ([]byte, bool, error) {
	source := make(chan Event, len(events))
	for _, e := range events {
		source <- e
	}
	close(source)

	var buf bytes.Buffer
	wrote, err := EncodeStreaming(context.Background(), source, &buf, rowGroupSize)
	if err != nil || !wrote {
		return nil, wrote, err
	}
	return buf.Bytes(), true, nil
}

// OpenFile parses the Parquet footer of data so its row groups can be
// decoded individually via DecodeRowGroup.
func OpenFile(data []byte) (*parquet.File, error) {
	return parquet.OpenFile(bytes.NewReader(data), int64(len(data)))
}

// DecodeRowGroup decodes a single row group of file into Event records.
// Per the read contract: if the required columns (email, timestamp,
// event) are not all present in the file schema, or if reading fails
// partway through, the row group yields zero records — never a partial
// set. Optional columns that are absent from the file's schema are left
// at their zero value.
func DecodeRowGroup(file *parquet.File, rowGroupIndex int) ([]Event, error) {
	if rowGroupIndex < 0 || rowGroupIndex >= len(file.RowGroups()) {
		return nil, fmt.Errorf("schema: row group index %d out of range", rowGroupIndex)
	}

	if !hasRequiredColumns(file.Schema()) {
		return nil, nil
	}

	rowGroups := file.RowGroups()
	numRows := int(rowGroups[rowGroupIndex].NumRows())
	if numRows == 0 {
		return nil, nil
	}

	var rowOffset int64
	for i := 0; i < rowGroupIndex; i++ {
		rowOffset += rowGroups[i].NumRows()
	}

	reader := parquet.NewGenericReader[Event](file)
	defer reader.Close()

	if err := reader.SeekToRow(rowOffset); err != nil {
		// A seek failure means this row group cannot be positioned to
		// cleanly; per the read contract that's treated the same as any
		// other mid-read failure: zero records, not partial ones.
		return nil, nil
	}

	events := make([]Event, numRows)
	n, err := reader.Read(events)
	if err != nil && err != io.EOF {
		return nil, nil
	}
	return events[:n], nil
}

func hasRequiredColumns(s *parquet.Schema) bool {
	if s == nil {
		return false
	}
	required := map[string]bool{"email": false, "timestamp": false, "event": false}
	for _, f := range s.Fields() {
		if _, ok := required[f.Name()]; ok {
			required[f.Name()] = true
		}
	}
	for _, present := range required {
		if !present {
			return false
		}
	}
	return true
}

// DecodeFile decodes every row group of a Parquet file produced by this
// package, concatenating their events in order. A row group that fails
// its own read contributes zero records but does not abort the remaining
// groups, matching the per-row-group isolation DecodeRowGroup provides.
func DecodeFile(data []byte) ([]Event, error) {
	file, err := OpenFile(data)
	if err != nil {
		return nil, fmt.Errorf("schema: open file: %w", err)
	}

	var all []Event
	for i := range file.RowGroups() {
		rows, err := DecodeRowGroup(file, i)
		if err != nil {
			return nil, err
		}
		all = append(all, rows...)
	}
	return all, nil
}
