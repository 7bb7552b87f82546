// Package domain contains the core crypto logic for verifying SendGrid
// Event Webhook signatures: parsing the configured public key and checking
// an ECDSA-over-secp256k1 signature against a signed payload.
package domain

import (
	"crypto/sha256"
	"encoding/asn1"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"
)

// ErrNoKeyConfigured is returned by ParseVerificationKey when the
// configured key string is empty: the caller must surface this as a
// distinct "not configured" outcome, never as a verification failure.
var ErrNoKeyConfigured = errors.New("webhook: no verification key configured")

// subjectPublicKeyInfo is the minimal ASN.1 shape needed to pull the raw
// SEC1 public key point out of an X.509 SubjectPublicKeyInfo. crypto/x509
// cannot be used directly here because its curve registry does not include
// secp256k1.
type subjectPublicKeyInfo struct {
	Algorithm pkixAlgorithmIdentifier
	PublicKey asn1.BitString
}

type pkixAlgorithmIdentifier struct {
	Algorithm  asn1.ObjectIdentifier
	Parameters asn1.RawValue `asn1:"optional"`
}

// ParseVerificationKey decodes the configured verification key, accepting
// either a PEM-wrapped "PUBLIC KEY" block or a bare Base64-encoded SPKI
// DER blob, and returns the parsed secp256k1 public key it encodes.
func ParseVerificationKey(raw string) (*secp256k1.PublicKey, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, ErrNoKeyConfigured
	}

	der := []byte(raw)
	if block, _ := pem.Decode([]byte(raw)); block != nil {
		der = block.Bytes
	} else {
		decoded, err := base64.StdEncoding.DecodeString(raw)
		if err != nil {
			return nil, fmt.Errorf("decode verification key: %w", err)
		}
		der = decoded
	}

	var spki subjectPublicKeyInfo
	if _, err := asn1.Unmarshal(der, &spki); err != nil {
		return nil, fmt.Errorf("parse SubjectPublicKeyInfo: %w", err)
	}

	pub, err := secp256k1.ParsePubKey(spki.PublicKey.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse secp256k1 public key: %w", err)
	}
	return pub, nil
}

// derSignature is the ASN.1 shape of the DER-encoded ECDSA signature
// SendGrid sends Base64-encoded in the signature header.
type derSignature struct {
	R, S *big.Int
}

// VerifySignature checks a Base64-encoded DER ECDSA signature over
// sha256(signed) against pub. A malformed signature is reported as an
// error, distinct from a well-formed-but-mismatched signature (ok=false,
// err=nil) so the caller can log each case appropriately.
func VerifySignature(pub *secp256k1.PublicKey, signed []byte, signatureB64 string) (bool, error) {
	sigDER, err := base64.StdEncoding.DecodeString(signatureB64)
	if err != nil {
		return false, fmt.Errorf("decode signature: %w", err)
	}

	var der derSignature
	if _, err := asn1.Unmarshal(sigDER, &der); err != nil {
		return false, fmt.Errorf("parse DER signature: %w", err)
	}
	if der.R == nil || der.S == nil {
		return false, fmt.Errorf("parse DER signature: missing r/s")
	}

	var r, s secp256k1.ModNScalar
	r.SetByteSlice(der.R.Bytes())
	s.SetByteSlice(der.S.Bytes())

	hash := sha256.Sum256(signed)
	sig := ecdsa.NewSignature(&r, &s)
	return sig.Verify(hash[:], pub), nil
}
