package identity

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"sealbox/go-core/internal/securemem"
)

func newTestDeriver() *Deriver {
	return NewDeriver(securemem.NewManager())
}

func TestDeriveIdentityIsDeterministic(t *testing.T) {
	d := newTestDeriver()
	ctx := context.Background()

	first, firstSeed, err := d.DeriveIdentity(ctx, "correct-horse-battery-staple", "alice")
	if err != nil {
		t.Fatalf("derive failed: %v", err)
	}
	defer firstSeed.Clear()
	second, secondSeed, err := d.DeriveIdentity(ctx, "correct-horse-battery-staple", "alice")
	if err != nil {
		t.Fatalf("second derive failed: %v", err)
	}
	defer secondSeed.Clear()

	if !first.PublicKey.Equal(second.PublicKey) {
		t.Fatal("same credentials must reproduce the same public key")
	}
	a, err := firstSeed.Bytes()
	if err != nil {
		t.Fatalf("seed bytes: %v", err)
	}
	b, err := secondSeed.Bytes()
	if err != nil {
		t.Fatalf("seed bytes: %v", err)
	}
	if !bytes.Equal(a, b) {
		t.Fatal("same credentials must reproduce the same private seed")
	}
}

func TestDeriveIdentityCredentialSensitivity(t *testing.T) {
	d := newTestDeriver()
	ctx := context.Background()

	base, baseSeed, err := d.DeriveIdentity(ctx, "passphrase one", "alice")
	if err != nil {
		t.Fatalf("derive failed: %v", err)
	}
	defer baseSeed.Clear()

	otherPass, seed1, err := d.DeriveIdentity(ctx, "passphrase two", "alice")
	if err != nil {
		t.Fatalf("derive failed: %v", err)
	}
	defer seed1.Clear()
	if base.PublicKey.Equal(otherPass.PublicKey) {
		t.Fatal("different passphrases must not collide")
	}

	otherUser, seed2, err := d.DeriveIdentity(ctx, "passphrase one", "bob")
	if err != nil {
		t.Fatalf("derive failed: %v", err)
	}
	defer seed2.Clear()
	if base.PublicKey.Equal(otherUser.PublicKey) {
		t.Fatal("different usernames must not collide")
	}
}

func TestUsernameIsCaseInsensitive(t *testing.T) {
	d := newTestDeriver()
	ctx := context.Background()

	lower, seed1, err := d.DeriveIdentity(ctx, "shared secret", "Alice")
	if err != nil {
		t.Fatalf("derive failed: %v", err)
	}
	defer seed1.Clear()
	upper, seed2, err := d.DeriveIdentity(ctx, "shared secret", "ALICE")
	if err != nil {
		t.Fatalf("derive failed: %v", err)
	}
	defer seed2.Clear()

	if !lower.PublicKey.Equal(upper.PublicKey) {
		t.Fatal("username case must not change the derived identity")
	}
}

func TestDeriveValidatesBeforeWork(t *testing.T) {
	d := newTestDeriver()
	ctx := context.Background()

	start := time.Now()
	if _, _, err := d.DeriveIdentity(ctx, "", "alice"); !errors.Is(err, ErrPassphraseRequired) {
		t.Fatalf("expected ErrPassphraseRequired, got %v", err)
	}
	if _, _, err := d.DeriveIdentity(ctx, "   ", "alice"); !errors.Is(err, ErrPassphraseRequired) {
		t.Fatalf("expected ErrPassphraseRequired for blank passphrase, got %v", err)
	}
	if _, _, err := d.DeriveIdentity(ctx, "pass", ""); !errors.Is(err, ErrUsernameRequired) {
		t.Fatalf("expected ErrUsernameRequired, got %v", err)
	}
	// Rejection must happen before the expensive derivation runs.
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Fatalf("validation took %v, expected fail-fast", elapsed)
	}
}

func TestDeriveHonoursCancelledContext(t *testing.T) {
	d := newTestDeriver()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := d.DeriveMasterKey(ctx, "pass", "alice"); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestDeriveMasterKeyReportsProgress(t *testing.T) {
	d := newTestDeriver()

	var mu sync.Mutex
	var updates []ProgressUpdate
	master, err := d.DeriveMasterKey(context.Background(), "progress pass", "alice",
		WithProgress(func(u ProgressUpdate) {
			mu.Lock()
			updates = append(updates, u)
			mu.Unlock()
		}),
		withProgressInterval(10*time.Millisecond))
	if err != nil {
		t.Fatalf("derive failed: %v", err)
	}
	defer master.Clear()

	mu.Lock()
	defer mu.Unlock()
	if len(updates) == 0 {
		t.Fatal("expected at least the final progress update")
	}
	last := updates[len(updates)-1]
	if !last.Done || last.Fraction != 1 {
		t.Fatalf("final update must be done with fraction 1, got %+v", last)
	}
	for _, u := range updates[:len(updates)-1] {
		if u.Done {
			t.Fatal("only the final update may be marked done")
		}
		if u.Fraction > 0.97 {
			t.Fatalf("intermediate fraction estimate out of range: %v", u.Fraction)
		}
	}
}

func TestGenerateKeyPairConsumesMasterKey(t *testing.T) {
	d := newTestDeriver()
	master, err := d.DeriveMasterKey(context.Background(), "consume me", "alice")
	if err != nil {
		t.Fatalf("derive failed: %v", err)
	}
	if master.Size() != MasterKeyLength {
		t.Fatalf("expected %d byte master key, got %d", MasterKeyLength, master.Size())
	}

	pair, seed, err := d.GenerateKeyPair(master)
	if err != nil {
		t.Fatalf("generate key pair failed: %v", err)
	}
	defer seed.Clear()

	if !master.IsCleared() {
		t.Fatal("master key must be cleared after key pair generation")
	}
	if len(pair.PublicKey) != 32 {
		t.Fatalf("expected 32 byte public key, got %d", len(pair.PublicKey))
	}
	if seed.Size() != 32 {
		t.Fatalf("expected 32 byte private seed, got %d", seed.Size())
	}
	if _, _, err := d.GenerateKeyPair(master); !errors.Is(err, securemem.ErrBufferCleared) {
		t.Fatalf("reusing a consumed master key must fail, got %v", err)
	}
}
