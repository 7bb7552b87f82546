package schema

// Config controls the streaming codec's row-group sizing.
type Config struct {
	// RowGroupSize is the number of buffered records that triggers a row
	// group flush while encoding.
	RowGroupSize int `env:"ROWGROUPSIZE" envDefault:"10000"`
}
