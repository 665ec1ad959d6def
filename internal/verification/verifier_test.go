package verification

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"testing"
	"time"

	"sealbox/go-core/pkg/models"
)

func signedSample(t *testing.T, content []byte) (*models.SignedEnvelope, ed25519.PublicKey) {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	hash := sha256.Sum256(content)
	return &models.SignedEnvelope{
		ContentHash: hash[:],
		Signature:   ed25519.Sign(priv, hash[:]),
		PublicKey:   append([]byte(nil), pub...),
		Algorithm:   models.SignatureAlgorithm,
		Version:     models.EnvelopeVersion,
		Timestamp:   time.Now().UTC(),
	}, pub
}

func TestVerifyRoundTrip(t *testing.T) {
	content := []byte("document body")
	env, pub := signedSample(t, content)
	v := NewVerifier()

	ok, err := v.Verify(content, env.Signature, pub)
	if err != nil {
		t.Fatalf("verify failed: %v", err)
	}
	if !ok {
		t.Fatal("genuine signature must verify")
	}
}

func TestVerifyWrongSignatureIsFalseNotError(t *testing.T) {
	content := []byte("document body")
	env, pub := signedSample(t, content)
	v := NewVerifier()

	tampered := append([]byte(nil), env.Signature...)
	tampered[0] ^= 0x01
	ok, err := v.Verify(content, tampered, pub)
	if err != nil {
		t.Fatalf("well-formed but wrong signature must not error, got %v", err)
	}
	if ok {
		t.Fatal("tampered signature must not verify")
	}

	ok, err = v.Verify([]byte("different content"), env.Signature, pub)
	if err != nil {
		t.Fatalf("verify failed: %v", err)
	}
	if ok {
		t.Fatal("signature must not verify against different content")
	}
}

func TestVerifyMalformedInputs(t *testing.T) {
	content := []byte("x")
	env, pub := signedSample(t, content)
	v := NewVerifier()

	if _, err := v.Verify(content, env.Signature[:10], pub); !errors.Is(err, ErrMalformedSignature) {
		t.Fatalf("expected ErrMalformedSignature, got %v", err)
	}
	if _, err := v.Verify(content, env.Signature, pub[:5]); !errors.Is(err, ErrMalformedPublicKey) {
		t.Fatalf("expected ErrMalformedPublicKey, got %v", err)
	}
}

func TestVerifyEnvelope(t *testing.T) {
	content := []byte("enveloped content")
	env, _ := signedSample(t, content)
	v := NewVerifier()

	ok, err := v.VerifyEnvelope(env, content)
	if err != nil {
		t.Fatalf("verify envelope failed: %v", err)
	}
	if !ok {
		t.Fatal("envelope must verify against its content")
	}

	ok, err = v.VerifyEnvelope(env, []byte("other content"))
	if err != nil {
		t.Fatalf("verify envelope failed: %v", err)
	}
	if ok {
		t.Fatal("envelope must not verify against different content")
	}

	broken := env.Clone()
	broken.PublicKey = broken.PublicKey[:8]
	if _, err := v.VerifyEnvelope(broken, content); !errors.Is(err, models.ErrInvalidPublicKey) {
		t.Fatalf("expected ErrInvalidPublicKey for malformed envelope, got %v", err)
	}
}

func TestVerifyBase64(t *testing.T) {
	content := []byte("wire content")
	env, _ := signedSample(t, content)
	v := NewVerifier()

	sigB64 := base64.StdEncoding.EncodeToString(env.Signature)
	pubB64 := base64.StdEncoding.EncodeToString(env.PublicKey)

	ok, err := v.VerifyBase64(content, sigB64, pubB64)
	if err != nil {
		t.Fatalf("verify base64 failed: %v", err)
	}
	if !ok {
		t.Fatal("base64 inputs must verify")
	}

	if _, err := v.VerifyBase64(content, "%%%", pubB64); !errors.Is(err, ErrMalformedEncoding) {
		t.Fatalf("expected ErrMalformedEncoding, got %v", err)
	}
}
