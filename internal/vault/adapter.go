// Package vault couples the content store to the signing layer: everything
// written through it is signed, and everything read through it is verified
// again before the bytes are released. Content that fails verification is
// withheld entirely.
package vault

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"sealbox/go-core/internal/cas"
	"sealbox/go-core/pkg/models"
)

var ErrVerificationFailed = errors.New("vault: stored content failed signature verification")

// ContentSigner produces envelopes over payloads. Satisfied by
// *signing.Signer.
type ContentSigner interface {
	Sign(content []byte) (*models.SignedEnvelope, error)
}

// EnvelopeVerifier re-checks envelopes on the way out. Satisfied by
// *verification.Verifier.
type EnvelopeVerifier interface {
	VerifyEnvelope(env *models.SignedEnvelope, content []byte) (bool, error)
}

type Adapter struct {
	signer   ContentSigner
	verifier EnvelopeVerifier
	store    *cas.Store
}

func NewAdapter(signer ContentSigner, verifier EnvelopeVerifier, store *cas.Store) *Adapter {
	return &Adapter{signer: signer, verifier: verifier, store: store}
}

// SignedContent is a verified read result: the payload, the envelope that
// covers it, and the listing metadata derived from both.
type SignedContent struct {
	Payload  []byte
	Envelope *models.SignedEnvelope
	Metadata models.StorageMetadata
}

// Store signs content with the session key and records it together with the
// envelope. Session errors from the signer pass through unchanged so callers
// can tell a locked session from a storage failure.
func (a *Adapter) Store(ctx context.Context, content []byte, typeTag string) (models.StorageMetadata, error) {
	envelope, err := a.signer.Sign(content)
	if err != nil {
		return models.StorageMetadata{}, err
	}
	opts := []cas.PutOption{cas.WithEnvelope(envelope)}
	if typeTag != "" {
		opts = append(opts, cas.WithTypeTag(typeTag))
	}
	address, err := a.store.Put(ctx, content, opts...)
	if err != nil {
		return models.StorageMetadata{}, err
	}
	return envelope.Metadata(address, int64(len(content)), typeTag), nil
}

// Retrieve loads content by address and verifies its envelope before
// returning it. Tampered payloads, missing envelopes, and bad signatures all
// surface as ErrVerificationFailed; the payload is never returned alongside
// a failure.
func (a *Adapter) Retrieve(ctx context.Context, address string) (*SignedContent, error) {
	entry, err := a.store.Get(ctx, address)
	if err != nil {
		if errors.Is(err, cas.ErrCorrupted) {
			return nil, fmt.Errorf("%w: payload does not match address", ErrVerificationFailed)
		}
		return nil, err
	}
	if entry.Envelope == nil {
		return nil, fmt.Errorf("%w: entry %s has no envelope", ErrVerificationFailed, address)
	}
	ok, err := a.verifier.VerifyEnvelope(entry.Envelope, entry.Payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrVerificationFailed, err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: entry %s", ErrVerificationFailed, address)
	}
	return &SignedContent{
		Payload:  entry.Payload,
		Envelope: entry.Envelope,
		Metadata: entry.Envelope.Metadata(entry.Hash, int64(entry.Size()), entry.TypeTag),
	}, nil
}

// Has reports whether an address exists without verifying it.
func (a *Adapter) Has(ctx context.Context, address string) (bool, error) {
	return a.store.Exists(ctx, address)
}

// Delete removes content by address and reports whether it was present.
func (a *Adapter) Delete(ctx context.Context, address string) (bool, error) {
	return a.store.Delete(ctx, address)
}

// List returns metadata for stored entries, sorted by address. Entries
// written outside the signed path carry only storage-level fields.
func (a *Adapter) List(ctx context.Context, opts ...cas.FilterOption) ([]models.StorageMetadata, error) {
	var out []models.StorageMetadata
	err := a.store.ForEach(ctx, func(entry *cas.Entry) error {
		if entry.Envelope != nil {
			out = append(out, entry.Envelope.Metadata(entry.Hash, int64(entry.Size()), entry.TypeTag))
			return nil
		}
		out = append(out, models.StorageMetadata{
			ContentAddress: entry.Hash,
			Size:           int64(entry.Size()),
			Timestamp:      entry.StoredAt,
			TypeTag:        entry.TypeTag,
		})
		return nil
	}, opts...)
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ContentAddress < out[j].ContentAddress })
	return out, nil
}
