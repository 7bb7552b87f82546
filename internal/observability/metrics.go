package observability

import (
	otelmetric "go.opentelemetry.io/otel/metric"
)

// Metrics holds all metric instruments used across the archive's two
// binaries. Instruments are created once at startup and shared with
// middleware, handlers, and service components.
type Metrics struct {
	// HTTP metrics
	HTTPRequestDuration otelmetric.Float64Histogram
	HTTPRequestTotal    otelmetric.Int64Counter
	HTTPRequestErrors   otelmetric.Int64Counter

	// ObjectStore metrics
	S3FilesWritten    otelmetric.Int64Counter
	S3FileSize        otelmetric.Int64Histogram
	S3OperationErrors otelmetric.Int64Counter

	// Ingestion metrics
	WebhookVerificationSuccess otelmetric.Int64Counter
	WebhookVerificationFailure otelmetric.Int64Counter
	IngestEventsTotal          otelmetric.Int64Counter
	IngestBatchesTotal         otelmetric.Int64Counter

	// Compaction metrics
	CompactionRuns           otelmetric.Int64Counter
	CompactionFilesCompacted otelmetric.Int64Counter
	CompactionFilesDeleted   otelmetric.Int64Counter
	CompactionFilesFailed    otelmetric.Int64Counter
	CompactionDuration       otelmetric.Float64Histogram

	// RunStatus broadcast transport metrics (§4.5 / C11)
	RunStatusBroadcastPublished otelmetric.Int64Counter
}

// NewMetrics creates all metric instruments from the given Meter.
// Each instrument is created with a descriptive name, unit, and description
// following OpenTelemetry semantic conventions.
func NewMetrics(meter otelmetric.Meter) (*Metrics, error) {
	var m Metrics
	var err error

	// HTTP metrics
	m.HTTPRequestDuration, err = meter.Float64Histogram(
		"http.request.duration",
		otelmetric.WithUnit("ms"),
		otelmetric.WithDescription("HTTP request duration in milliseconds"),
	)
	if err != nil {
		return nil, err
	}

	m.HTTPRequestTotal, err = meter.Int64Counter(
		"http.request.total",
		otelmetric.WithDescription("Total HTTP requests"),
	)
	if err != nil {
		return nil, err
	}

	m.HTTPRequestErrors, err = meter.Int64Counter(
		"http.request.errors",
		otelmetric.WithDescription("HTTP request errors (4xx and 5xx)"),
	)
	if err != nil {
		return nil, err
	}

	// ObjectStore metrics
	m.S3FilesWritten, err = meter.Int64Counter(
		"s3.files.written",
		otelmetric.WithDescription("Object store files written"),
	)
	if err != nil {
		return nil, err
	}

	m.S3FileSize, err = meter.Int64Histogram(
		"s3.file.size",
		otelmetric.WithUnit("By"),
		otelmetric.WithDescription("Object store file sizes in bytes"),
	)
	if err != nil {
		return nil, err
	}

	m.S3OperationErrors, err = meter.Int64Counter(
		"s3.operation.errors",
		otelmetric.WithDescription("Object store operation failures"),
	)
	if err != nil {
		return nil, err
	}

	// Ingestion metrics
	m.WebhookVerificationSuccess, err = meter.Int64Counter(
		"webhook.verification.success",
		otelmetric.WithDescription("Webhook signature verifications that succeeded"),
	)
	if err != nil {
		return nil, err
	}

	m.WebhookVerificationFailure, err = meter.Int64Counter(
		"webhook.verification.failure",
		otelmetric.WithDescription("Webhook signature verifications that failed or were not configured"),
	)
	if err != nil {
		return nil, err
	}

	m.IngestEventsTotal, err = meter.Int64Counter(
		"ingest.events.total",
		otelmetric.WithDescription("Events accepted into the raw archive"),
	)
	if err != nil {
		return nil, err
	}

	m.IngestBatchesTotal, err = meter.Int64Counter(
		"ingest.batches.total",
		otelmetric.WithDescription("Raw files written by the ingestor"),
	)
	if err != nil {
		return nil, err
	}

	// Compaction metrics
	m.CompactionRuns, err = meter.Int64Counter(
		"compaction.runs",
		otelmetric.WithDescription("Total compaction runs executed"),
	)
	if err != nil {
		return nil, err
	}

	m.CompactionFilesCompacted, err = meter.Int64Counter(
		"compaction.files.compacted",
		otelmetric.WithDescription("Hourly compacted files written"),
	)
	if err != nil {
		return nil, err
	}

	m.CompactionFilesDeleted, err = meter.Int64Counter(
		"compaction.files.deleted",
		otelmetric.WithDescription("Raw input files deleted after verified compaction"),
	)
	if err != nil {
		return nil, err
	}

	m.CompactionFilesFailed, err = meter.Int64Counter(
		"compaction.files.failed",
		otelmetric.WithDescription("Raw or compacted files that failed to read, write, or verify"),
	)
	if err != nil {
		return nil, err
	}

	m.CompactionDuration, err = meter.Float64Histogram(
		"compaction.duration",
		otelmetric.WithUnit("ms"),
		otelmetric.WithDescription("Compaction run duration in milliseconds"),
	)
	if err != nil {
		return nil, err
	}

	// RunStatus broadcast transport metrics
	m.RunStatusBroadcastPublished, err = meter.Int64Counter(
		"runstatus.broadcast.published",
		otelmetric.WithDescription("Run-status snapshots published to the optional NATS transport"),
	)
	if err != nil {
		return nil, err
	}

	return &m, nil
}
