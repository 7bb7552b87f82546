package compaction

// Config holds configuration for the compaction module.
type Config struct {
	// RawPrefix is the top-level key prefix raw ingested files live under.
	RawPrefix string `env:"RAWPREFIX" envDefault:"raw"`

	// CompactedPrefix is the top-level key prefix compacted output, the
	// run-status document, and the run lock live under.
	CompactedPrefix string `env:"COMPACTEDPREFIX" envDefault:"compacted"`

	// MaxBatchSizeBytes caps how many input bytes one batch reads before
	// it stops and leaves the remainder for the next batch.
	MaxBatchSizeBytes int64 `env:"MAXBATCHSIZEBYTES" envDefault:"536870912"`

	// RowGroupSize bounds how many rows accumulate per Parquet row group
	// before a compacted output flushes.
	RowGroupSize int `env:"ROWGROUPSIZE" envDefault:"10000"`

	// PeriodicRunEnabled, when true, starts the daily-alarm scheduler
	// (06:00 JST, 5-30s startup jitter) alongside RunNow's manual trigger.
	PeriodicRunEnabled bool `env:"PERIODICRUNENABLED" envDefault:"true"`
}
