// Package objectstore implements a hand-rolled SigV4 HTTP client for an
// S3-compatible object store. It exposes the subset of the S3 API the
// ingestion and compaction paths need: unconditional and conditional PUT,
// GET, HEAD, DELETE, and paginated delimiter listing.
package objectstore

// Config holds the object store connection and credential configuration.
type Config struct {
	// AccessKey is the S3-compatible access key ID.
	AccessKey string `env:"ACCESSKEY"`

	// SecretKey is the S3-compatible secret access key.
	SecretKey string `env:"SECRETKEY"`

	// ServiceURL is the S3-compatible endpoint, e.g. "http://localhost:9000".
	ServiceURL string `env:"SERVICEURL" envDefault:"http://localhost:9000"`

	// Region is the signing region, e.g. "us-east-1".
	Region string `env:"REGION" envDefault:"us-east-1"`

	// BucketName is the target bucket.
	BucketName string `env:"BUCKETNAME"`
}
