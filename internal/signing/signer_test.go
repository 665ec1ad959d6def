package signing

import (
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"testing"
	"time"

	"sealbox/go-core/internal/securemem"
	"sealbox/go-core/pkg/models"
)

type testKeyring struct {
	priv ed25519.PrivateKey
	err  error
}

func (k *testKeyring) WithSigningKey(fn func(ed25519.PrivateKey) error) error {
	if k.err != nil {
		return k.err
	}
	return fn(k.priv)
}

func newTestKeyring(t *testing.T) (*testKeyring, ed25519.PublicKey) {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	return &testKeyring{priv: priv}, pub
}

func TestSignProducesVerifiableEnvelope(t *testing.T) {
	keyring, pub := newTestKeyring(t)
	signer := NewSigner(keyring)

	env, err := signer.Sign([]byte("hello"))
	if err != nil {
		t.Fatalf("sign failed: %v", err)
	}
	if err := env.Validate(); err != nil {
		t.Fatalf("envelope must be well formed: %v", err)
	}
	if env.Algorithm != models.SignatureAlgorithm || env.Version != models.EnvelopeVersion {
		t.Fatalf("envelope must be stamped, got %q %q", env.Algorithm, env.Version)
	}
	if env.Timestamp.Location() != time.UTC {
		t.Fatal("envelope timestamp must be UTC")
	}
	if !ed25519.Verify(pub, env.ContentHash, env.Signature) {
		t.Fatal("signature must cover the content hash")
	}
	want := HashContent([]byte("hello"))
	if string(want) != string(env.ContentHash) {
		t.Fatal("envelope hash must be the canonical content hash")
	}
}

func TestSignPassesSessionErrorsThrough(t *testing.T) {
	gate := errors.New("session gate")
	signer := NewSigner(&testKeyring{err: gate})

	if _, err := signer.Sign([]byte("content")); !errors.Is(err, gate) {
		t.Fatalf("session errors must pass through, got %v", err)
	}
}

func TestSignWithSeedMatchesSessionSigning(t *testing.T) {
	secrets := securemem.NewManager()
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	seedCopy := append([]byte(nil), priv.Seed()...)
	seed, err := secrets.FromBytes(seedCopy)
	if err != nil {
		t.Fatalf("seed buffer: %v", err)
	}
	defer seed.Clear()

	signer := NewSigner(&testKeyring{priv: priv})
	viaSession, err := signer.Sign([]byte("same bytes"))
	if err != nil {
		t.Fatalf("session sign failed: %v", err)
	}
	viaSeed, err := signer.SignWithSeed([]byte("same bytes"), seed)
	if err != nil {
		t.Fatalf("seed sign failed: %v", err)
	}

	if string(viaSession.Signature) != string(viaSeed.Signature) {
		t.Fatal("both signing paths must produce the same signature")
	}
	if string(viaSession.PublicKey) != string(viaSeed.PublicKey) {
		t.Fatal("both signing paths must report the same public key")
	}
}

func TestSignWithClearedSeedFails(t *testing.T) {
	secrets := securemem.NewManager()
	seed, err := secrets.FromBytes(make([]byte, 33))
	if err != nil {
		t.Fatalf("seed buffer: %v", err)
	}
	signer := NewSigner(&testKeyring{})

	if _, err := signer.SignWithSeed([]byte("x"), seed); !errors.Is(err, ErrInvalidSeed) {
		t.Fatalf("expected ErrInvalidSeed for wrong-length seed, got %v", err)
	}
	seed.Clear()
	if _, err := signer.SignWithSeed([]byte("x"), seed); !errors.Is(err, securemem.ErrBufferCleared) {
		t.Fatalf("expected ErrBufferCleared, got %v", err)
	}
	if _, err := signer.SignWithSeed([]byte("x"), nil); !errors.Is(err, securemem.ErrBufferCleared) {
		t.Fatalf("expected ErrBufferCleared for nil seed, got %v", err)
	}
}

func TestSignEmptyContentIsAllowed(t *testing.T) {
	keyring, pub := newTestKeyring(t)
	signer := NewSigner(keyring)

	env, err := signer.Sign(nil)
	if err != nil {
		t.Fatalf("sign failed: %v", err)
	}
	if !ed25519.Verify(pub, env.ContentHash, env.Signature) {
		t.Fatal("empty content must still produce a valid signature")
	}
}
