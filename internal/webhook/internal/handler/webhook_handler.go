// Package handler provides the HTTP surface for SendGrid webhook
// ingestion: signature verification, batch parsing, and handoff to the
// downstream ingestor.
package handler

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/kamiyn/sendgridparquetlog/internal/observability"
	"github.com/kamiyn/sendgridparquetlog/internal/schema"
	"github.com/kamiyn/sendgridparquetlog/internal/webhook/internal/service"
)

const (
	timestampHeader = "X-Twilio-Email-Event-Webhook-Timestamp"
	signatureHeader = "X-Twilio-Email-Event-Webhook-Signature"
)

// Ingestor is the downstream port a verified event batch is handed to
// (C8). internal/ingest.Module implements this.
type Ingestor interface {
	Ingest(ctx context.Context, events []schema.Event) error
}

// WebhookHandler serves POST /webhook/sendgrid and GET /health.
type WebhookHandler struct {
	verifier *service.VerifierService
	ingestor Ingestor
	metrics  *observability.Metrics
	logger   *slog.Logger
}

// NewWebhookHandler creates a new WebhookHandler with the given verifier
// and ingestor. metrics may be nil.
func NewWebhookHandler(verifier *service.VerifierService, ingestor Ingestor, metrics *observability.Metrics, logger *slog.Logger) *WebhookHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &WebhookHandler{
		verifier: verifier,
		ingestor: ingestor,
		metrics:  metrics,
		logger:   logger.With("component", "webhook-handler"),
	}
}

// RegisterRoutes mounts the ingestion endpoints on the given ServeMux.
func (h *WebhookHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /webhook/sendgrid", h.handleWebhook)
	mux.HandleFunc("GET /health", h.handleHealth)
}

// handleWebhook handles POST /webhook/sendgrid per spec §6: 204 on
// accepted, 400 for malformed JSON, 401 for signature failure, 413 for
// oversized bodies, 500 for storage failure.
func (h *WebhookHandler) handleWebhook(w http.ResponseWriter, r *http.Request) {
	limit := h.verifier.MaxBodyBytes()
	body, err := io.ReadAll(io.LimitReader(r.Body, limit+1))
	if err != nil {
		h.logger.Error("failed to read webhook body", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to read request body"})
		return
	}
	if int64(len(body)) > limit {
		writeJSON(w, http.StatusRequestEntityTooLarge, map[string]string{"error": "request body too large"})
		return
	}

	switch outcome := h.verifier.Verify(body, r.Header.Get(timestampHeader), r.Header.Get(signatureHeader)); outcome {
	case service.NotConfigured:
		h.recordVerification(r.Context(), false)
		h.logger.Error("webhook received but no verification key is configured")
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "signature verification not configured"})
		return
	case service.Failed:
		h.recordVerification(r.Context(), false)
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "signature verification failed"})
		return
	default:
		h.recordVerification(r.Context(), true)
	}

	events, err := service.ParseBatch(body)
	if err != nil {
		h.logger.Info("webhook batch rejected: malformed JSON", "error", err)
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "malformed event batch"})
		return
	}

	if err := h.ingestor.Ingest(r.Context(), events); err != nil {
		h.logger.Error("failed to ingest webhook batch", "error", err, "event_count", len(events))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to store event batch"})
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *WebhookHandler) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (h *WebhookHandler) recordVerification(ctx context.Context, ok bool) {
	if h.metrics == nil {
		return
	}
	if ok {
		h.metrics.WebhookVerificationSuccess.Add(ctx, 1)
	} else {
		h.metrics.WebhookVerificationFailure.Add(ctx, 1)
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
