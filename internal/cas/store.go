package cas

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"sealbox/go-core/pkg/models"
)

var ErrInvalidAddress = errors.New("cas: invalid content address")

// Entry is the stored record for one content address. The payload is the
// exact bytes whose hash is the address; the envelope, when present, is the
// signature sidecar attached by the storage adapter.
type Entry struct {
	Hash     string                 `json:"hash"`
	Payload  []byte                 `json:"payload"`
	TypeTag  string                 `json:"type_tag,omitempty"`
	Envelope *models.SignedEnvelope `json:"envelope,omitempty"`
	StoredAt time.Time              `json:"stored_at"`
}

// Size reports the payload length in bytes.
func (e *Entry) Size() int {
	return len(e.Payload)
}

// Address computes the content address for a payload: the lowercase hex
// encoding of its SHA-256 digest.
func Address(payload []byte) string {
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}

// ValidateAddress rejects strings that cannot be a content address.
func ValidateAddress(addr string) error {
	if len(addr) != sha256.Size*2 {
		return ErrInvalidAddress
	}
	if _, err := hex.DecodeString(addr); err != nil {
		return ErrInvalidAddress
	}
	return nil
}

// PutOption adjusts how an entry is recorded.
type PutOption func(*putOptions)

type putOptions struct {
	typeTag  string
	envelope *models.SignedEnvelope
}

// WithTypeTag labels the entry so listings can be filtered by kind.
func WithTypeTag(tag string) PutOption {
	return func(o *putOptions) { o.typeTag = tag }
}

// WithEnvelope attaches a signature envelope to the entry.
func WithEnvelope(env *models.SignedEnvelope) PutOption {
	return func(o *putOptions) { o.envelope = env }
}

// FilterOption narrows listing and iteration operations.
type FilterOption func(*filterOptions)

type filterOptions struct {
	tag string
}

// WithTag restricts results to entries stored with the given type tag.
func WithTag(tag string) FilterOption {
	return func(o *filterOptions) { o.tag = tag }
}

// Store is the content-addressed layer over a KV backend. Addresses are
// derived from payload bytes, so storing identical content twice always
// resolves to the same entry.
type Store struct {
	kv  KV
	now func() time.Time
}

func NewStore(kv KV) *Store {
	return newStoreWithClock(kv, time.Now)
}

func newStoreWithClock(kv KV, now func() time.Time) *Store {
	return &Store{kv: kv, now: now}
}

// Put records the payload and returns its content address. Storing a payload
// that already exists is a no-op for the payload itself; a newly supplied
// envelope or type tag replaces the stored one, since either variant of the
// envelope verifies against the same payload.
func (s *Store) Put(ctx context.Context, payload []byte, opts ...PutOption) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	var options putOptions
	for _, opt := range opts {
		opt(&options)
	}
	if options.envelope != nil {
		if err := options.envelope.Validate(); err != nil {
			return "", err
		}
	}

	addr := Address(payload)
	existing, err := s.load(ctx, addr)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return "", err
	}
	if existing != nil {
		updated := *existing
		if options.envelope != nil {
			updated.Envelope = options.envelope.Clone()
		}
		if options.typeTag != "" {
			updated.TypeTag = options.typeTag
		}
		if updated.TypeTag == existing.TypeTag && !envelopeChanged(existing.Envelope, updated.Envelope) {
			return addr, nil
		}
		if err := s.persist(ctx, &updated); err != nil {
			return "", err
		}
		return addr, nil
	}

	entry := &Entry{
		Hash:     addr,
		Payload:  append([]byte(nil), payload...),
		TypeTag:  options.typeTag,
		StoredAt: s.now().UTC(),
	}
	if options.envelope != nil {
		entry.Envelope = options.envelope.Clone()
	}
	if err := s.persist(ctx, entry); err != nil {
		return "", err
	}
	return addr, nil
}

// Get returns the entry for an address. Missing addresses return ErrNotFound;
// entries whose payload no longer matches their address return ErrCorrupted.
func (s *Store) Get(ctx context.Context, addr string) (*Entry, error) {
	if err := ValidateAddress(addr); err != nil {
		return nil, err
	}
	entry, err := s.load(ctx, addr)
	if err != nil {
		return nil, err
	}
	if Address(entry.Payload) != addr {
		return nil, fmt.Errorf("entry %s: %w", addr, ErrCorrupted)
	}
	return entry, nil
}

// Exists reports whether an address is present without loading the payload.
func (s *Store) Exists(ctx context.Context, addr string) (bool, error) {
	if err := ValidateAddress(addr); err != nil {
		return false, err
	}
	return s.kv.Has(ctx, addr)
}

// Delete removes an entry and reports whether it existed.
func (s *Store) Delete(ctx context.Context, addr string) (bool, error) {
	if err := ValidateAddress(addr); err != nil {
		return false, err
	}
	return s.kv.Delete(ctx, addr)
}

// AllHashes lists every stored address, sorted. With WithTag it only lists
// entries carrying that type tag, which requires decoding each entry.
func (s *Store) AllHashes(ctx context.Context, opts ...FilterOption) ([]string, error) {
	var options filterOptions
	for _, opt := range opts {
		opt(&options)
	}

	var hashes []string
	if options.tag == "" {
		err := s.kv.ForEachKey(ctx, func(key string) error {
			hashes = append(hashes, key)
			return nil
		})
		if err != nil {
			return nil, err
		}
	} else {
		err := s.ForEach(ctx, func(entry *Entry) error {
			hashes = append(hashes, entry.Hash)
			return nil
		}, opts...)
		if err != nil {
			return nil, err
		}
	}
	sort.Strings(hashes)
	return hashes, nil
}

// ForEach invokes fn for every entry, skipping ones excluded by filters.
// Returning ErrStop from fn ends the walk without error.
func (s *Store) ForEach(ctx context.Context, fn func(*Entry) error, opts ...FilterOption) error {
	var options filterOptions
	for _, opt := range opts {
		opt(&options)
	}
	err := s.kv.ForEach(ctx, func(key string, value []byte) error {
		entry, err := decodeEntry(key, value)
		if err != nil {
			return err
		}
		if options.tag != "" && entry.TypeTag != options.tag {
			return nil
		}
		return fn(entry)
	})
	if errors.Is(err, ErrStop) {
		return nil
	}
	return err
}

// Close releases the underlying backend.
func (s *Store) Close() error {
	return s.kv.Close()
}

func (s *Store) load(ctx context.Context, addr string) (*Entry, error) {
	raw, err := s.kv.Get(ctx, addr)
	if err != nil {
		if errors.Is(err, ErrKeyNotFound) {
			return nil, fmt.Errorf("entry %s: %w", addr, ErrNotFound)
		}
		return nil, err
	}
	return decodeEntry(addr, raw)
}

func (s *Store) persist(ctx context.Context, entry *Entry) error {
	raw, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encode entry: %w", err)
	}
	return s.kv.Put(ctx, entry.Hash, raw)
}

func decodeEntry(key string, raw []byte) (*Entry, error) {
	var entry Entry
	if err := json.Unmarshal(raw, &entry); err != nil {
		return nil, fmt.Errorf("entry %s: %w", key, ErrCorrupted)
	}
	if entry.Hash == "" {
		entry.Hash = key
	}
	return &entry, nil
}

func envelopeChanged(prev, next *models.SignedEnvelope) bool {
	if prev == nil && next == nil {
		return false
	}
	if prev == nil || next == nil {
		return true
	}
	return !prev.Equal(next)
}
