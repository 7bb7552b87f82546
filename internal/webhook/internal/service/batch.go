package service

import (
	"encoding/json"
	"fmt"

	"github.com/kamiyn/sendgridparquetlog/internal/schema"
)

// ParseBatch decodes a SendGrid Event Webhook JSON array body into the
// archive's on-disk Event shape. category is carried through as the raw
// JSON text of whatever the sender used (string or array literal), per
// spec §9, rather than normalized to one type.
func ParseBatch(body []byte) ([]schema.Event, error) {
	var raws []json.RawMessage
	if err := json.Unmarshal(body, &raws); err != nil {
		return nil, fmt.Errorf("webhook: decode event array: %w", err)
	}

	events := make([]schema.Event, 0, len(raws))
	for _, raw := range raws {
		var wire schema.WireEvent
		if err := json.Unmarshal(raw, &wire); err != nil {
			return nil, fmt.Errorf("webhook: decode event: %w", err)
		}

		var withCategory struct {
			Category json.RawMessage `json:"category"`
		}
		if err := json.Unmarshal(raw, &withCategory); err != nil {
			return nil, fmt.Errorf("webhook: decode event category: %w", err)
		}

		events = append(events, schema.FromWire(wire, string(withCategory.Category)))
	}
	return events, nil
}
