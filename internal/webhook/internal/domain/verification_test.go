package domain

import (
	"crypto/sha256"
	"encoding/asn1"
	"encoding/base64"
	"testing"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"
)

// secp256k1OID / ecPublicKeyOID identify the curve and key type in the
// synthetic SubjectPublicKeyInfo built for these tests, mirroring what a
// real SendGrid-issued verification key's DER would encode.
var (
	ecPublicKeyOID = asn1.ObjectIdentifier{1, 2, 840, 10045, 2, 1}
	secp256k1OID   = asn1.ObjectIdentifier{1, 3, 132, 0, 10}
)

func encodeSPKI(t *testing.T, pub *secp256k1.PublicKey) string {
	t.Helper()
	spki := subjectPublicKeyInfo{
		Algorithm: pkixAlgorithmIdentifier{Algorithm: ecPublicKeyOID},
		PublicKey: asn1.BitString{Bytes: pub.SerializeUncompressed(), BitLength: len(pub.SerializeUncompressed()) * 8},
	}
	oidBytes, err := asn1.Marshal(secp256k1OID)
	if err != nil {
		t.Fatalf("marshal curve OID: %v", err)
	}
	spki.Algorithm.Parameters = asn1.RawValue{FullBytes: oidBytes}

	der, err := asn1.Marshal(spki)
	if err != nil {
		t.Fatalf("marshal SPKI: %v", err)
	}
	return base64.StdEncoding.EncodeToString(der)
}

func sign(t *testing.T, priv *secp256k1.PrivateKey, signed []byte) string {
	t.Helper()
	hash := sha256.Sum256(signed)
	sig := ecdsa.Sign(priv, hash[:])
	return base64.StdEncoding.EncodeToString(sig.Serialize())
}

func TestParseVerificationKeyRoundTripsAGeneratedKey(t *testing.T) {
	priv, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		t.Fatalf("GeneratePrivateKey: %v", err)
	}

	keyB64 := encodeSPKI(t, priv.PubKey())
	pub, err := ParseVerificationKey(keyB64)
	if err != nil {
		t.Fatalf("ParseVerificationKey: %v", err)
	}
	if !pub.IsEqual(priv.PubKey()) {
		t.Fatal("parsed public key does not match the original")
	}
}

func TestParseVerificationKeyRejectsEmptyString(t *testing.T) {
	if _, err := ParseVerificationKey(""); err != ErrNoKeyConfigured {
		t.Fatalf("err = %v, want ErrNoKeyConfigured", err)
	}
}

func TestVerifySignatureAcceptsAGenuineSignature(t *testing.T) {
	priv, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		t.Fatalf("GeneratePrivateKey: %v", err)
	}

	signed := []byte("1700000000" + `[{"email":"a@example.com"}]`)
	sigB64 := sign(t, priv, signed)

	ok, err := VerifySignature(priv.PubKey(), signed, sigB64)
	if err != nil {
		t.Fatalf("VerifySignature: %v", err)
	}
	if !ok {
		t.Fatal("expected a genuine signature to verify")
	}
}

func TestVerifySignatureRejectsATamperedBody(t *testing.T) {
	priv, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		t.Fatalf("GeneratePrivateKey: %v", err)
	}

	signed := []byte("1700000000" + `[{"email":"a@example.com"}]`)
	sigB64 := sign(t, priv, signed)

	tampered := []byte("1700000000" + `[{"email":"attacker@example.com"}]`)
	ok, err := VerifySignature(priv.PubKey(), tampered, sigB64)
	if err != nil {
		t.Fatalf("VerifySignature: %v", err)
	}
	if ok {
		t.Fatal("expected a tampered body to fail verification")
	}
}

func TestVerifySignatureRejectsMalformedSignature(t *testing.T) {
	priv, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		t.Fatalf("GeneratePrivateKey: %v", err)
	}

	if _, err := VerifySignature(priv.PubKey(), []byte("x"), "not-base64!!"); err == nil {
		t.Fatal("expected an error for a malformed signature")
	}
}
