// Package service contains the orchestration logic for webhook
// verification: applying the allowed clock skew, building the signed
// payload, and delegating the cryptographic check to the domain package.
package service

import (
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"

	"github.com/kamiyn/sendgridparquetlog/internal/webhook/internal/domain"
)

// Outcome is the result of a verification attempt, distinguishing a
// well-formed-but-failing signature from the operator-facing condition of
// no key being configured at all.
type Outcome int

const (
	NotConfigured Outcome = iota
	Verified
	Failed
)

func (o Outcome) String() string {
	switch o {
	case Verified:
		return "verified"
	case Failed:
		return "failed"
	default:
		return "not_configured"
	}
}

const (
	// DefaultAllowedSkew is the default tolerance between the request's
	// timestamp header and wall-clock time.
	DefaultAllowedSkew = 5 * time.Minute
	// DefaultMaxBodyBytes is the default request body size cap.
	DefaultMaxBodyBytes int64 = 1 << 20
)

// Config configures a VerifierService.
type Config struct {
	VerificationKey string
	AllowedSkew     time.Duration
	MaxBodyBytes    int64
}

// VerifierService validates SendGrid Event Webhook signatures.
type VerifierService struct {
	key          *secp256k1.PublicKey
	allowedSkew  time.Duration
	maxBodyBytes int64
	now          func() time.Time
	logger       *slog.Logger
}

// NewVerifierService builds a VerifierService from cfg. An empty
// VerificationKey is not an error here: the service is still usable, but
// every Verify call returns NotConfigured, matching spec's requirement
// that this be a distinguishable outcome from a signature mismatch.
func NewVerifierService(cfg Config, logger *slog.Logger) (*VerifierService, error) {
	if logger == nil {
		logger = slog.Default()
	}
	skew := cfg.AllowedSkew
	if skew <= 0 {
		skew = DefaultAllowedSkew
	}
	maxBody := cfg.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = DefaultMaxBodyBytes
	}

	svc := &VerifierService{
		allowedSkew:  skew,
		maxBodyBytes: maxBody,
		now:          time.Now,
		logger:       logger.With("component", "webhook-verifier"),
	}

	if cfg.VerificationKey == "" {
		svc.logger.Warn("no SendGrid verification key configured; webhook requests will be rejected as not-configured")
		return svc, nil
	}

	key, err := domain.ParseVerificationKey(cfg.VerificationKey)
	if err != nil {
		return nil, fmt.Errorf("webhook: load verification key: %w", err)
	}
	svc.key = key
	return svc, nil
}

// MaxBodyBytes returns the configured request body size cap.
func (s *VerifierService) MaxBodyBytes() int64 {
	return s.maxBodyBytes
}

// Verify checks body against the timestamp and signature header values
// per spec §4.7: reject if unconfigured, reject if the timestamp is
// outside the allowed skew, then verify the ECDSA signature over
// UTF8(timestampHeader) || body.
func (s *VerifierService) Verify(body []byte, timestampHeader, signatureHeader string) Outcome {
	if s.key == nil {
		return NotConfigured
	}

	timestamp, err := strconv.ParseInt(timestampHeader, 10, 64)
	if err != nil {
		s.logger.Info("webhook rejected: malformed timestamp header", "value", timestampHeader)
		return Failed
	}

	skew := s.now().Unix() - timestamp
	if skew < 0 {
		skew = -skew
	}
	if time.Duration(skew)*time.Second > s.allowedSkew {
		s.logger.Info("webhook rejected: timestamp outside allowed skew", "timestamp", timestamp, "allowed_skew", s.allowedSkew)
		return Failed
	}

	signed := make([]byte, 0, len(timestampHeader)+len(body))
	signed = append(signed, timestampHeader...)
	signed = append(signed, body...)

	ok, err := domain.VerifySignature(s.key, signed, signatureHeader)
	if err != nil {
		s.logger.Info("webhook rejected: malformed signature", "error", err)
		return Failed
	}
	if !ok {
		s.logger.Info("webhook rejected: signature mismatch")
		return Failed
	}
	return Verified
}
