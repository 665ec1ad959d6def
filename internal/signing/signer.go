// Package signing produces signed envelopes for arbitrary content. The
// content is hashed with SHA-256 and the hash is signed with the session's
// Ed25519 key; the envelope carries everything needed to verify later.
package signing

import (
	"crypto/ed25519"
	"crypto/sha256"
	"errors"
	"time"

	"sealbox/go-core/internal/securemem"
	"sealbox/go-core/pkg/models"
)

var ErrInvalidSeed = errors.New("signing seed must be 32 bytes")

// SessionKeyring provides scoped access to the live signing key. Satisfied
// by *session.Service; signing never sees the key outside the closure.
type SessionKeyring interface {
	WithSigningKey(fn func(ed25519.PrivateKey) error) error
}

type Signer struct {
	session SessionKeyring
	now     func() time.Time
}

func NewSigner(session SessionKeyring) *Signer {
	return newSignerWithClock(session, time.Now)
}

func newSignerWithClock(session SessionKeyring, now func() time.Time) *Signer {
	return &Signer{session: session, now: now}
}

// HashContent computes the canonical content hash that envelopes sign.
func HashContent(content []byte) []byte {
	sum := sha256.Sum256(content)
	return sum[:]
}

// Sign produces an envelope over content using the unlocked session key.
// Session state errors pass through untouched so callers can distinguish
// a locked session from a missing one.
func (s *Signer) Sign(content []byte) (*models.SignedEnvelope, error) {
	hash := HashContent(content)
	var envelope *models.SignedEnvelope
	err := s.session.WithSigningKey(func(priv ed25519.PrivateKey) error {
		pub := priv.Public().(ed25519.PublicKey)
		envelope = &models.SignedEnvelope{
			ContentHash: hash,
			Signature:   ed25519.Sign(priv, hash),
			PublicKey:   append([]byte(nil), pub...),
			Algorithm:   models.SignatureAlgorithm,
			Version:     models.EnvelopeVersion,
			Timestamp:   s.now().UTC(),
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return envelope, nil
}

// SignWithSeed signs content with an explicit private seed instead of the
// session key. A cleared seed buffer fails loudly.
func (s *Signer) SignWithSeed(content []byte, seed *securemem.Buffer) (*models.SignedEnvelope, error) {
	if seed == nil {
		return nil, securemem.ErrBufferCleared
	}
	hash := HashContent(content)
	var envelope *models.SignedEnvelope
	err := seed.WithBytes(func(seedBytes []byte) error {
		if len(seedBytes) != ed25519.SeedSize {
			return ErrInvalidSeed
		}
		priv := ed25519.NewKeyFromSeed(seedBytes)
		defer securemem.Wipe(priv)
		pub := priv.Public().(ed25519.PublicKey)
		envelope = &models.SignedEnvelope{
			ContentHash: hash,
			Signature:   ed25519.Sign(priv, hash),
			PublicKey:   append([]byte(nil), pub...),
			Algorithm:   models.SignatureAlgorithm,
			Version:     models.EnvelopeVersion,
			Timestamp:   s.now().UTC(),
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return envelope, nil
}
