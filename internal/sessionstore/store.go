// Package sessionstore persists a locked-down copy of the live session so a
// daemon restart does not force a full re-login. The file holds the username
// and signing seed encrypted under a key derived from the passphrase; without
// the passphrase the file is opaque.
package sessionstore

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"

	"sealbox/go-core/internal/identity"
	"sealbox/go-core/internal/securemem"
)

var (
	ErrNoSavedSession     = errors.New("no saved session")
	ErrRestoreFailed      = errors.New("saved session could not be restored")
	ErrPassphraseRequired = errors.New("passphrase is required")
)

const (
	filePrefix  = "SEALENC1\n"
	fileVersion = 1
	kdfName     = "argon2id"
	saltLength  = 16

	// Bounds on KDF parameters accepted from a stored file. A file asking
	// for more work than this is treated as unreadable rather than honored.
	maxKDFTime     = 16
	maxKDFMemoryKB = 4 * 1024 * 1024
	maxKDFThreads  = 16
)

// fileEnvelope is the on-disk wrapper. KDF parameters are recorded so files
// written under older cost settings stay readable.
type fileEnvelope struct {
	Version    int    `json:"version"`
	KDF        string `json:"kdf"`
	KDFTime    uint32 `json:"kdf_time"`
	KDFMemory  uint32 `json:"kdf_memory_kb"`
	KDFThreads uint8  `json:"kdf_threads"`
	Salt       []byte `json:"salt"`
	Nonce      []byte `json:"nonce"`
	Ciphertext []byte `json:"ciphertext"`
}

type sessionPayload struct {
	Username string    `json:"username"`
	Seed     []byte    `json:"seed"`
	SavedAt  time.Time `json:"saved_at"`
}

// Store reads and writes the persisted-session file.
type Store struct {
	path    string
	secrets *securemem.Manager
	now     func() time.Time
}

func NewStore(path string, secrets *securemem.Manager) *Store {
	return newStoreWithClock(path, secrets, time.Now)
}

func newStoreWithClock(path string, secrets *securemem.Manager, now func() time.Time) *Store {
	return &Store{path: path, secrets: secrets, now: now}
}

// Save encrypts the username and signing seed under the passphrase and
// writes them to disk. The seed buffer is only read, never consumed; the
// session keeps ownership.
func (s *Store) Save(passphrase, username string, seed *securemem.Buffer) error {
	if passphrase == "" {
		return ErrPassphraseRequired
	}
	if seed == nil || seed.IsCleared() {
		return securemem.ErrBufferCleared
	}

	payload := sessionPayload{Username: username, SavedAt: s.now().UTC()}
	err := seed.WithBytes(func(raw []byte) error {
		payload.Seed = append([]byte(nil), raw...)
		return nil
	})
	if err != nil {
		return err
	}
	plaintext, err := json.Marshal(payload)
	securemem.Wipe(payload.Seed)
	if err != nil {
		return fmt.Errorf("encode session payload: %w", err)
	}
	defer securemem.Wipe(plaintext)

	salt := make([]byte, saltLength)
	if _, err := rand.Read(salt); err != nil {
		return fmt.Errorf("generate salt: %w", err)
	}
	params := identity.Params()
	kek := argon2.IDKey([]byte(passphrase), salt, params.Iterations, params.MemoryKiB, params.Parallelism, chacha20poly1305.KeySize)
	defer securemem.Wipe(kek)

	aead, err := chacha20poly1305.NewX(kek)
	if err != nil {
		return fmt.Errorf("init cipher: %w", err)
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return fmt.Errorf("generate nonce: %w", err)
	}

	envelope := fileEnvelope{
		Version:    fileVersion,
		KDF:        kdfName,
		KDFTime:    params.Iterations,
		KDFMemory:  params.MemoryKiB,
		KDFThreads: params.Parallelism,
		Salt:       salt,
		Nonce:      nonce,
		Ciphertext: aead.Seal(nil, nonce, plaintext, nil),
	}
	body, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("encode session file: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("create session dir: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, append([]byte(filePrefix), body...), 0o600); err != nil {
		return fmt.Errorf("write session file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replace session file: %w", err)
	}
	return nil
}

// Restore decrypts the saved session. A wrong passphrase and a corrupted
// file are deliberately the same error; only a missing file is distinct.
func (s *Store) Restore(ctx context.Context, passphrase string) (string, identity.KeyPair, *securemem.Buffer, error) {
	if passphrase == "" {
		return "", identity.KeyPair{}, nil, ErrPassphraseRequired
	}
	if err := ctx.Err(); err != nil {
		return "", identity.KeyPair{}, nil, err
	}

	raw, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return "", identity.KeyPair{}, nil, ErrNoSavedSession
	}
	if err != nil {
		return "", identity.KeyPair{}, nil, fmt.Errorf("read session file: %w", err)
	}
	if len(raw) < len(filePrefix) || string(raw[:len(filePrefix)]) != filePrefix {
		return "", identity.KeyPair{}, nil, ErrRestoreFailed
	}

	var envelope fileEnvelope
	if err := json.Unmarshal(raw[len(filePrefix):], &envelope); err != nil {
		return "", identity.KeyPair{}, nil, ErrRestoreFailed
	}
	if envelope.Version != fileVersion || envelope.KDF != kdfName {
		return "", identity.KeyPair{}, nil, ErrRestoreFailed
	}
	if envelope.KDFTime == 0 || envelope.KDFTime > maxKDFTime ||
		envelope.KDFMemory == 0 || envelope.KDFMemory > maxKDFMemoryKB ||
		envelope.KDFThreads == 0 || envelope.KDFThreads > maxKDFThreads {
		return "", identity.KeyPair{}, nil, ErrRestoreFailed
	}
	if len(envelope.Salt) != saltLength || len(envelope.Nonce) != chacha20poly1305.NonceSizeX {
		return "", identity.KeyPair{}, nil, ErrRestoreFailed
	}

	kek := argon2.IDKey([]byte(passphrase), envelope.Salt, envelope.KDFTime, envelope.KDFMemory, envelope.KDFThreads, chacha20poly1305.KeySize)
	defer securemem.Wipe(kek)
	aead, err := chacha20poly1305.NewX(kek)
	if err != nil {
		return "", identity.KeyPair{}, nil, ErrRestoreFailed
	}
	plaintext, err := aead.Open(nil, envelope.Nonce, envelope.Ciphertext, nil)
	if err != nil {
		return "", identity.KeyPair{}, nil, ErrRestoreFailed
	}
	defer securemem.Wipe(plaintext)

	var payload sessionPayload
	if err := json.Unmarshal(plaintext, &payload); err != nil {
		securemem.Wipe(payload.Seed)
		return "", identity.KeyPair{}, nil, ErrRestoreFailed
	}
	if len(payload.Seed) != ed25519.SeedSize || payload.Username == "" {
		securemem.Wipe(payload.Seed)
		return "", identity.KeyPair{}, nil, ErrRestoreFailed
	}

	priv := ed25519.NewKeyFromSeed(payload.Seed)
	public := priv.Public().(ed25519.PublicKey)
	securemem.Wipe(priv)

	seed, err := s.secrets.FromBytes(payload.Seed)
	if err != nil {
		return "", identity.KeyPair{}, nil, err
	}
	return payload.Username, identity.KeyPair{PublicKey: public}, seed, nil
}

// Exists reports whether a saved session file is present.
func (s *Store) Exists() bool {
	_, err := os.Stat(s.path)
	return err == nil
}

// Clear removes the saved session. Removal is best effort; a missing file
// is success.
func (s *Store) Clear() error {
	err := os.Remove(s.path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove session file: %w", err)
	}
	return nil
}
