package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/kamiyn/sendgridparquetlog/internal/runstatus"
)

// publisher is the narrow slice of *nats.Conn Broadcast needs.
type publisher interface {
	Publish(subject string, data []byte) error
}

// Broadcaster publishes run-status snapshots to a NATS subject. It
// implements the runstatus broadcaster port: best-effort, fire-and-forget,
// never blocking the Store's Notify caller on a slow or absent server.
type Broadcaster struct {
	conn    publisher
	subject string
	logger  *slog.Logger
}

// NewBroadcaster creates a Broadcaster that publishes to client's
// configured subject.
func NewBroadcaster(client *Client, logger *slog.Logger) *Broadcaster {
	if logger == nil {
		logger = slog.Default()
	}
	return &Broadcaster{
		conn:    client.Conn(),
		subject: client.config.Subject,
		logger:  logger.With("component", "runstatus-broadcaster"),
	}
}

// Broadcast publishes doc as JSON to the configured subject. ctx is
// accepted to satisfy the runstatus.broadcaster port; core NATS Publish
// itself is fire-and-forget and does not take a context.
func (b *Broadcaster) Broadcast(_ context.Context, doc runstatus.Document) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal run-status snapshot: %w", err)
	}

	if err := b.conn.Publish(b.subject, data); err != nil {
		return fmt.Errorf("publish run-status snapshot: %w", err)
	}

	b.logger.Debug("published run-status snapshot",
		"subject", b.subject,
		"current_day", doc.CurrentDay,
		"completed_days", doc.CompletedDays,
	)
	return nil
}
