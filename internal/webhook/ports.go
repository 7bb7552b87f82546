// Package webhook validates SendGrid Event Webhook deliveries (ECDSA over
// secp256k1) and hands the resulting event batch to a downstream
// ingestor. It follows a hexagonal layering:
// ports.go declares the port this module depends on, module.go is the
// facade, and internal/domain, internal/service, internal/handler hold
// the crypto primitives, orchestration, and HTTP surface respectively.
package webhook

import (
	"context"

	"github.com/kamiyn/sendgridparquetlog/internal/schema"
)

// Ingestor is the port a verified event batch is handed to (C8).
// internal/ingest.Module implements this.
type Ingestor interface {
	Ingest(ctx context.Context, events []schema.Event) error
}
