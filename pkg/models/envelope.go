package models

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"time"
)

const (
	SignatureAlgorithm = "Ed25519"
	EnvelopeVersion    = "1.0"

	ContentHashLength = 32
	SignatureLength   = 64
	PublicKeyLength   = 32
)

var (
	ErrInvalidEnvelope  = errors.New("models: invalid signed envelope")
	ErrInvalidHash      = errors.New("models: content hash must be 32 bytes")
	ErrInvalidSignature = errors.New("models: signature must be 64 bytes")
	ErrInvalidPublicKey = errors.New("models: public key must be 32 bytes")
)

// SignedEnvelope binds a signature to the hash of some content. Canonical
// identity is over the raw byte fields; Document provides the base64
// projection used at serialization boundaries.
type SignedEnvelope struct {
	ContentHash []byte    `json:"content_hash"`
	Signature   []byte    `json:"signature"`
	PublicKey   []byte    `json:"public_key"`
	Algorithm   string    `json:"algorithm"`
	Version     string    `json:"version"`
	Timestamp   time.Time `json:"timestamp"`
}

// EnvelopeDocument is the wire form of a SignedEnvelope. Field names are
// fixed by the storage format and must not change without a version bump.
type EnvelopeDocument struct {
	TargetHashBase64 string    `json:"targetHashBase64"`
	SignatureBase64  string    `json:"signatureBase64"`
	PublicKeyBase64  string    `json:"publicKeyBase64"`
	Algorithm        string    `json:"algorithm"`
	Version          string    `json:"version"`
	Timestamp        time.Time `json:"timestamp"`
}

func (e *SignedEnvelope) Validate() error {
	if e == nil {
		return ErrInvalidEnvelope
	}
	if len(e.ContentHash) != ContentHashLength {
		return ErrInvalidHash
	}
	if len(e.Signature) != SignatureLength {
		return ErrInvalidSignature
	}
	if len(e.PublicKey) != PublicKeyLength {
		return ErrInvalidPublicKey
	}
	if e.Algorithm == "" || e.Version == "" {
		return ErrInvalidEnvelope
	}
	return nil
}

func (e *SignedEnvelope) Clone() *SignedEnvelope {
	if e == nil {
		return nil
	}
	clone := *e
	clone.ContentHash = append([]byte(nil), e.ContentHash...)
	clone.Signature = append([]byte(nil), e.Signature...)
	clone.PublicKey = append([]byte(nil), e.PublicKey...)
	return &clone
}

func (e *SignedEnvelope) Equal(other *SignedEnvelope) bool {
	if e == nil || other == nil {
		return e == other
	}
	return bytes.Equal(e.ContentHash, other.ContentHash) &&
		bytes.Equal(e.Signature, other.Signature) &&
		bytes.Equal(e.PublicKey, other.PublicKey) &&
		e.Algorithm == other.Algorithm &&
		e.Version == other.Version &&
		e.Timestamp.Equal(other.Timestamp)
}

func (e *SignedEnvelope) Document() (EnvelopeDocument, error) {
	if err := e.Validate(); err != nil {
		return EnvelopeDocument{}, err
	}
	return EnvelopeDocument{
		TargetHashBase64: base64.StdEncoding.EncodeToString(e.ContentHash),
		SignatureBase64:  base64.StdEncoding.EncodeToString(e.Signature),
		PublicKeyBase64:  base64.StdEncoding.EncodeToString(e.PublicKey),
		Algorithm:        e.Algorithm,
		Version:          e.Version,
		Timestamp:        e.Timestamp.UTC(),
	}, nil
}

func EnvelopeFromDocument(doc EnvelopeDocument) (*SignedEnvelope, error) {
	hash, err := base64.StdEncoding.DecodeString(doc.TargetHashBase64)
	if err != nil {
		return nil, fmt.Errorf("%w: target hash: %v", ErrInvalidEnvelope, err)
	}
	sig, err := base64.StdEncoding.DecodeString(doc.SignatureBase64)
	if err != nil {
		return nil, fmt.Errorf("%w: signature: %v", ErrInvalidEnvelope, err)
	}
	pub, err := base64.StdEncoding.DecodeString(doc.PublicKeyBase64)
	if err != nil {
		return nil, fmt.Errorf("%w: public key: %v", ErrInvalidEnvelope, err)
	}
	env := &SignedEnvelope{
		ContentHash: hash,
		Signature:   sig,
		PublicKey:   pub,
		Algorithm:   doc.Algorithm,
		Version:     doc.Version,
		Timestamp:   doc.Timestamp.UTC(),
	}
	if err := env.Validate(); err != nil {
		return nil, err
	}
	return env, nil
}

// Metadata projects the envelope's listable fields for an entry stored at
// the given address.
func (e *SignedEnvelope) Metadata(address string, size int64, typeTag string) StorageMetadata {
	return StorageMetadata{
		ContentAddress:  address,
		Size:            size,
		Timestamp:       e.Timestamp.UTC(),
		Algorithm:       e.Algorithm,
		Version:         e.Version,
		PublicKeyBase64: base64.StdEncoding.EncodeToString(e.PublicKey),
		TypeTag:         typeTag,
	}
}
