package webhook

import (
	"log/slog"
	"net/http"

	"github.com/kamiyn/sendgridparquetlog/internal/observability"
	"github.com/kamiyn/sendgridparquetlog/internal/webhook/internal/handler"
	"github.com/kamiyn/sendgridparquetlog/internal/webhook/internal/service"
)

// Module is the webhook module facade. It wires the verifier service and
// HTTP handler and exposes route registration to the host binary.
type Module struct {
	verifier *service.VerifierService
	handler  *handler.WebhookHandler
	logger   *slog.Logger
}

// New creates a new webhook Module. ingestor receives every verified
// batch (C8); it is nil-checked nowhere here deliberately, since a nil
// ingestor is a wiring bug the caller should see immediately. metrics may
// be nil.
func New(cfg Config, ingestor Ingestor, metrics *observability.Metrics, logger *slog.Logger) (*Module, error) {
	if logger == nil {
		logger = slog.Default()
	}

	verifier, err := service.NewVerifierService(service.Config{
		VerificationKey: cfg.VerificationKey,
		AllowedSkew:     cfg.AllowedSkew,
		MaxBodyBytes:    cfg.MaxBodyBytes,
	}, logger)
	if err != nil {
		return nil, err
	}

	return &Module{
		verifier: verifier,
		handler:  handler.NewWebhookHandler(verifier, ingestor, metrics, logger),
		logger:   logger.With("component", "webhook-module"),
	}, nil
}

// RegisterRoutes mounts POST /webhook/sendgrid and GET /health on mux.
func (m *Module) RegisterRoutes(mux *http.ServeMux) {
	m.handler.RegisterRoutes(mux)
}
