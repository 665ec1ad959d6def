// Package identity derives long-lived signing identities from user
// credentials. The derivation is deterministic: identity is the
// (passphrase, username) pair, nothing is stored server-side.
package identity

import (
	"context"
	"crypto/ed25519"
	"crypto/sha256"
	"errors"
	"io"
	"strings"
	"time"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/hkdf"
	"golang.org/x/text/unicode/norm"

	"sealbox/go-core/internal/securemem"
)

const (
	saltInfo        = "sealbox/identity/salt/v1:"
	hkdfInfoSigning = "sealbox/identity/signing/v1"
)

var (
	ErrPassphraseRequired = errors.New("passphrase is required")
	ErrUsernameRequired   = errors.New("username is required")
	ErrInvalidMasterKey   = errors.New("master key must be 32 bytes")
	ErrInvalidPublicKey   = errors.New("invalid public key")
)

// KeyPair carries the shareable half of a derived identity. The private
// seed never appears here; it lives in a securemem.Buffer handle.
type KeyPair struct {
	PublicKey ed25519.PublicKey
}

// ProgressUpdate reports derivation progress. Fraction is an estimate based
// on the expected cost of the fixed parameters; Done is exact.
type ProgressUpdate struct {
	Elapsed  time.Duration
	Fraction float64
	Done     bool
}

type deriveConfig struct {
	progress func(ProgressUpdate)
	interval time.Duration
	estimate time.Duration
}

type DeriveOption func(*deriveConfig)

// WithProgress subscribes fn to derivation progress. Intermediate updates
// arrive from a separate goroutine so the derivation itself never blocks on
// the callback; the final Done update is delivered before the derive call
// returns.
func WithProgress(fn func(ProgressUpdate)) DeriveOption {
	return func(cfg *deriveConfig) {
		cfg.progress = fn
	}
}

func withProgressInterval(d time.Duration) DeriveOption {
	return func(cfg *deriveConfig) {
		cfg.interval = d
	}
}

// Deriver turns (passphrase, username) into signing key material. All
// secret intermediates are wiped; the caller receives the private seed
// only as a managed buffer handle.
type Deriver struct {
	secrets *securemem.Manager
}

func NewDeriver(secrets *securemem.Manager) *Deriver {
	return &Deriver{secrets: secrets}
}

// DeriveMasterKey runs the memory-hard derivation and returns the 32-byte
// master key. Validation happens before any expensive work. The returned
// buffer is meant to be consumed by GenerateKeyPair.
func (d *Deriver) DeriveMasterKey(ctx context.Context, passphrase, username string, opts ...DeriveOption) (*securemem.Buffer, error) {
	cfg := deriveConfig{interval: 200 * time.Millisecond, estimate: 1500 * time.Millisecond}
	for _, opt := range opts {
		opt(&cfg)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	pass, user, err := normalizeCredentials(passphrase, username)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	stop := make(chan struct{})
	ticking := make(chan struct{})
	if cfg.progress != nil {
		go func() {
			defer close(ticking)
			ticker := time.NewTicker(cfg.interval)
			defer ticker.Stop()
			for {
				select {
				case <-stop:
					return
				case <-ticker.C:
					elapsed := time.Since(start)
					fraction := float64(elapsed) / float64(cfg.estimate)
					if fraction > 0.97 {
						fraction = 0.97
					}
					cfg.progress(ProgressUpdate{Elapsed: elapsed, Fraction: fraction})
				}
			}
		}()
	}

	salt := deriveSalt(user)
	passBytes := []byte(pass)
	key := argon2.IDKey(passBytes, salt, kdfIterations, kdfMemoryKiB, kdfParallelism, kdfKeyLength)
	securemem.Wipe(passBytes)

	if cfg.progress != nil {
		close(stop)
		<-ticking
		cfg.progress(ProgressUpdate{Elapsed: time.Since(start), Fraction: 1, Done: true})
	}

	return d.secrets.FromBytes(key)
}

// GenerateKeyPair expands a master key into an Ed25519 key pair. The master
// key is consumed: it is cleared before this returns, whatever the outcome.
// The returned buffer holds the 32-byte private seed.
func (d *Deriver) GenerateKeyPair(master *securemem.Buffer) (KeyPair, *securemem.Buffer, error) {
	if master == nil {
		return KeyPair{}, nil, ErrInvalidMasterKey
	}
	defer master.Clear()

	var pair KeyPair
	var seedBuf *securemem.Buffer
	err := master.WithBytes(func(masterKey []byte) error {
		if len(masterKey) != MasterKeyLength {
			return ErrInvalidMasterKey
		}
		seed, err := hkdfExpand(masterKey, hkdfInfoSigning, ed25519.SeedSize)
		if err != nil {
			return err
		}
		priv := ed25519.NewKeyFromSeed(seed)
		pair.PublicKey = priv.Public().(ed25519.PublicKey)
		seedBuf, err = d.secrets.FromBytes(seed)
		securemem.Wipe(priv)
		return err
	})
	if err != nil {
		return KeyPair{}, nil, err
	}
	return pair, seedBuf, nil
}

// DeriveIdentity is the login path: master key derivation followed by key
// pair expansion, returning the key pair and the managed private seed.
func (d *Deriver) DeriveIdentity(ctx context.Context, passphrase, username string, opts ...DeriveOption) (KeyPair, *securemem.Buffer, error) {
	master, err := d.DeriveMasterKey(ctx, passphrase, username, opts...)
	if err != nil {
		return KeyPair{}, nil, err
	}
	return d.GenerateKeyPair(master)
}

func normalizeCredentials(passphrase, username string) (pass, user string, err error) {
	if strings.TrimSpace(passphrase) == "" {
		return "", "", ErrPassphraseRequired
	}
	if strings.TrimSpace(username) == "" {
		return "", "", ErrUsernameRequired
	}
	pass = norm.NFC.String(passphrase)
	user = strings.ToLower(strings.TrimSpace(username))
	return pass, user, nil
}

func deriveSalt(normalizedUsername string) []byte {
	sum := sha256.Sum256([]byte(saltInfo + normalizedUsername))
	return sum[:]
}

func hkdfExpand(secret []byte, info string, outLen int) ([]byte, error) {
	reader := hkdf.New(sha256.New, secret, nil, []byte(info))
	out := make([]byte, outLen)
	if _, err := io.ReadFull(reader, out); err != nil {
		return nil, err
	}
	return out, nil
}
