// Package verification checks signatures against content and public keys.
// It is stateless and needs no session: anyone holding a public key can
// verify, which is what makes envelopes portable between identities.
package verification

import (
	"bytes"
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"

	"sealbox/go-core/pkg/models"
)

var (
	ErrMalformedPublicKey = errors.New("public key must be 32 bytes")
	ErrMalformedSignature = errors.New("signature must be 64 bytes")
	ErrMalformedEncoding  = errors.New("input is not valid base64")
)

type Verifier struct{}

func NewVerifier() *Verifier {
	return &Verifier{}
}

// Verify reports whether signature covers the SHA-256 hash of content under
// publicKey. A wrong-but-well-formed signature yields (false, nil);
// malformed inputs yield a distinct error.
func (v *Verifier) Verify(content, signature, publicKey []byte) (bool, error) {
	hash := sha256.Sum256(content)
	return v.VerifyHash(hash[:], signature, publicKey)
}

// VerifyHash verifies a signature over an already computed content hash.
func (v *Verifier) VerifyHash(hash, signature, publicKey []byte) (bool, error) {
	if len(publicKey) != ed25519.PublicKeySize {
		return false, ErrMalformedPublicKey
	}
	if len(signature) != ed25519.SignatureSize {
		return false, ErrMalformedSignature
	}
	return ed25519.Verify(ed25519.PublicKey(publicKey), hash, signature), nil
}

// VerifyEnvelope checks an envelope against the content it claims to cover:
// the envelope must be well formed, its hash must match the content, and
// its signature must verify under its own public key.
func (v *Verifier) VerifyEnvelope(env *models.SignedEnvelope, content []byte) (bool, error) {
	if err := env.Validate(); err != nil {
		return false, err
	}
	hash := sha256.Sum256(content)
	if !bytes.Equal(hash[:], env.ContentHash) {
		return false, nil
	}
	return v.VerifyHash(env.ContentHash, env.Signature, env.PublicKey)
}

// VerifyBase64 verifies content against base64-encoded signature and key,
// the form they travel in at serialization boundaries.
func (v *Verifier) VerifyBase64(content []byte, signatureB64, publicKeyB64 string) (bool, error) {
	signature, err := base64.StdEncoding.DecodeString(signatureB64)
	if err != nil {
		return false, fmt.Errorf("%w: signature: %v", ErrMalformedEncoding, err)
	}
	publicKey, err := base64.StdEncoding.DecodeString(publicKeyB64)
	if err != nil {
		return false, fmt.Errorf("%w: public key: %v", ErrMalformedEncoding, err)
	}
	return v.Verify(content, signature, publicKey)
}
