// Package nats provides an optional, best-effort run-status broadcast
// transport over core NATS (no JetStream: there is no queue to replay,
// only a fire-and-forget fan-out of the latest snapshot; see
// internal/runstatus and spec.md §4.5).
package nats

import "time"

// Config holds NATS connection configuration.
type Config struct {
	// URL is the NATS server URL (e.g., "nats://localhost:4222"). Empty
	// disables the broadcast transport entirely.
	URL string `env:"NATS_URL"`

	// Name is the client connection name for monitoring.
	Name string `env:"NATS_CLIENT_NAME" envDefault:"sendgridparquetlog-compactor"`

	// Subject is the subject run-status snapshots are published to.
	Subject string `env:"NATS_SUBJECT" envDefault:"runstatus.compaction"`

	// MaxReconnects is the maximum number of reconnection attempts.
	MaxReconnects int `env:"NATS_MAX_RECONNECTS" envDefault:"60"`

	// ReconnectWait is the time to wait between reconnection attempts.
	ReconnectWait time.Duration `env:"NATS_RECONNECT_WAIT" envDefault:"2s"`

	// Timeout is the connection timeout.
	Timeout time.Duration `env:"NATS_TIMEOUT" envDefault:"5s"`
}
