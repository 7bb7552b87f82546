package handler

import (
	"context"
	"crypto/sha256"
	"encoding/asn1"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"

	"github.com/kamiyn/sendgridparquetlog/internal/schema"
	"github.com/kamiyn/sendgridparquetlog/internal/webhook/internal/service"
)

var (
	ecPublicKeyOID = asn1.ObjectIdentifier{1, 2, 840, 10045, 2, 1}
	secp256k1OID   = asn1.ObjectIdentifier{1, 3, 132, 0, 10}
)

type pkixAlgorithmIdentifier struct {
	Algorithm  asn1.ObjectIdentifier
	Parameters asn1.RawValue `asn1:"optional"`
}

type subjectPublicKeyInfo struct {
	Algorithm pkixAlgorithmIdentifier
	PublicKey asn1.BitString
}

func encodeSPKI(t *testing.T, pub *secp256k1.PublicKey) string {
	t.Helper()
	oidBytes, err := asn1.Marshal(secp256k1OID)
	if err != nil {
		t.Fatalf("marshal curve OID: %v", err)
	}
	spki := subjectPublicKeyInfo{
		Algorithm: pkixAlgorithmIdentifier{Algorithm: ecPublicKeyOID, Parameters: asn1.RawValue{FullBytes: oidBytes}},
		PublicKey: asn1.BitString{Bytes: pub.SerializeUncompressed(), BitLength: len(pub.SerializeUncompressed()) * 8},
	}
	der, err := asn1.Marshal(spki)
	if err != nil {
		t.Fatalf("marshal SPKI: %v", err)
	}
	return base64.StdEncoding.EncodeToString(der)
}

type fakeIngestor struct {
	events []schema.Event
	err    error
}

func (f *fakeIngestor) Ingest(_ context.Context, events []schema.Event) error {
	f.events = events
	return f.err
}

func newSignedRequest(t *testing.T, priv *secp256k1.PrivateKey, body []byte, timestampValue string) *http.Request {
	t.Helper()
	signed := append([]byte(timestampValue), body...)
	hash := sha256.Sum256(signed)
	sig := ecdsa.Sign(priv, hash[:])
	sigB64 := base64.StdEncoding.EncodeToString(sig.Serialize())

	req := httptest.NewRequest(http.MethodPost, "/webhook/sendgrid", strings.NewReader(string(body)))
	req.Header.Set(timestampHeader, timestampValue)
	req.Header.Set(signatureHeader, sigB64)
	return req
}

func TestHandleWebhookAcceptsAValidSignedBatch(t *testing.T) {
	priv, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		t.Fatalf("GeneratePrivateKey: %v", err)
	}
	verifier, err := service.NewVerifierService(service.Config{VerificationKey: encodeSPKI(t, priv.PubKey())}, nil)
	if err != nil {
		t.Fatalf("NewVerifierService: %v", err)
	}

	body := []byte(`[{"email":"a@example.com","timestamp":1700000000,"event":"delivered"}]`)
	timestampHeaderVal := strconv.FormatInt(time.Now().Unix(), 10)

	ingestor := &fakeIngestor{}
	h := NewWebhookHandler(verifier, ingestor, nil, nil)
	mux := http.NewServeMux()
	h.RegisterRoutes(mux)

	req := newSignedRequest(t, priv, body, timestampHeaderVal)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204, body=%s", rec.Code, rec.Body.String())
	}
	if len(ingestor.events) != 1 {
		t.Fatalf("expected 1 event handed to the ingestor, got %d", len(ingestor.events))
	}
}

func TestHandleWebhookRejectsBadSignature(t *testing.T) {
	priv, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		t.Fatalf("GeneratePrivateKey: %v", err)
	}
	verifier, err := service.NewVerifierService(service.Config{VerificationKey: encodeSPKI(t, priv.PubKey())}, nil)
	if err != nil {
		t.Fatalf("NewVerifierService: %v", err)
	}

	ingestor := &fakeIngestor{}
	h := NewWebhookHandler(verifier, ingestor, nil, nil)
	mux := http.NewServeMux()
	h.RegisterRoutes(mux)

	body := []byte(`[{"email":"a@example.com","timestamp":1700000000,"event":"delivered"}]`)
	req := httptest.NewRequest(http.MethodPost, "/webhook/sendgrid", strings.NewReader(string(body)))
	req.Header.Set(timestampHeader, strconv.FormatInt(time.Now().Unix(), 10))
	req.Header.Set(signatureHeader, base64.StdEncoding.EncodeToString([]byte("not-a-real-signature")))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
	if len(ingestor.events) != 0 {
		t.Fatal("expected the ingestor not to be called on signature failure")
	}
}

func TestHandleWebhookRejectsOversizedBody(t *testing.T) {
	priv, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		t.Fatalf("GeneratePrivateKey: %v", err)
	}
	verifier, err := service.NewVerifierService(service.Config{VerificationKey: encodeSPKI(t, priv.PubKey()), MaxBodyBytes: 8}, nil)
	if err != nil {
		t.Fatalf("NewVerifierService: %v", err)
	}

	h := NewWebhookHandler(verifier, &fakeIngestor{}, nil, nil)
	mux := http.NewServeMux()
	h.RegisterRoutes(mux)

	body := []byte(`[{"email":"a@example.com","timestamp":1700000000,"event":"delivered"}]`)
	req := httptest.NewRequest(http.MethodPost, "/webhook/sendgrid", strings.NewReader(string(body)))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("status = %d, want 413", rec.Code)
	}
}

func TestHandleHealthReportsOK(t *testing.T) {
	verifier, err := service.NewVerifierService(service.Config{}, nil)
	if err != nil {
		t.Fatalf("NewVerifierService: %v", err)
	}
	h := NewWebhookHandler(verifier, &fakeIngestor{}, nil, nil)
	mux := http.NewServeMux()
	h.RegisterRoutes(mux)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"status":"ok"`) {
		t.Fatalf("unexpected body: %s", rec.Body.String())
	}
}
