// Package session owns the one piece of process-wide mutable key state:
// which identity is live, whether it is usable, and for how long. All
// transitions go through the Service; no caller ever holds the raw private
// key, only scoped access through WithSigningKey.
package session

import (
	"context"
	"crypto/ed25519"
	"crypto/subtle"
	"errors"
	"sync"
	"time"

	"sealbox/go-core/internal/identity"
	"sealbox/go-core/internal/securemem"
	"sealbox/go-core/pkg/models"
)

var (
	ErrNoSession        = errors.New("no active session")
	ErrSessionExists    = errors.New("a session is already active")
	ErrSessionLocked    = errors.New("session is locked")
	ErrSessionNotLocked = errors.New("session is not locked")
	ErrUnlockFailed     = errors.New("unlock failed")
	ErrUnlockThrottled  = errors.New("unlock attempts are temporarily locked")
)

const (
	DefaultTimeout = 15 * time.Minute
	defaultHistory = 64
	minimumTimeout = time.Second
)

// IdentityDeriver re-derives an identity during Unlock. Satisfied by
// *identity.Deriver.
type IdentityDeriver interface {
	DeriveIdentity(ctx context.Context, passphrase, username string, opts ...identity.DeriveOption) (identity.KeyPair, *securemem.Buffer, error)
}

// Service is the session state machine: NoSession → Unlocked → Locked →
// Unlocked → ... → NoSession. It is the exclusive owner of the live
// private-seed buffer.
type Service struct {
	mu      sync.Mutex
	deriver IdentityDeriver
	hub     *Hub
	timeout time.Duration
	now     func() time.Time

	state       models.SessionPhase
	username    string
	fingerprint string
	public      ed25519.PublicKey
	priv        *securemem.Buffer
	createdAt   time.Time
	lastActive  time.Time

	failedUnlocks   int
	unlockHoldUntil time.Time
}

func NewService(deriver IdentityDeriver, timeout time.Duration) *Service {
	return newServiceWithClock(deriver, timeout, time.Now)
}

func newServiceWithClock(deriver IdentityDeriver, timeout time.Duration, now func() time.Time) *Service {
	if timeout < minimumTimeout {
		timeout = DefaultTimeout
	}
	return &Service{
		deriver: deriver,
		hub:     NewHub(defaultHistory),
		timeout: timeout,
		now:     now,
		state:   models.SessionNone,
	}
}

// Start begins a session with freshly derived keys: NoSession → Unlocked.
// The service takes ownership of the private seed buffer.
func (s *Service) Start(username string, pair identity.KeyPair, priv *securemem.Buffer) error {
	return s.start(username, pair, priv, models.SessionReasonLogin)
}

// Restore is Start for a session recovered from persisted state.
func (s *Service) Restore(username string, pair identity.KeyPair, priv *securemem.Buffer) error {
	return s.start(username, pair, priv, models.SessionReasonRestored)
}

func (s *Service) start(username string, pair identity.KeyPair, priv *securemem.Buffer, reason string) error {
	fingerprint, err := identity.Fingerprint(pair.PublicKey)
	if err != nil {
		return err
	}
	if priv == nil || priv.IsCleared() {
		return securemem.ErrBufferCleared
	}

	s.mu.Lock()
	if s.state != models.SessionNone {
		s.mu.Unlock()
		return ErrSessionExists
	}
	now := s.now()
	s.state = models.SessionUnlocked
	s.username = username
	s.fingerprint = fingerprint
	s.public = append(ed25519.PublicKey(nil), pair.PublicKey...)
	s.priv = priv
	s.createdAt = now
	s.lastActive = now
	s.failedUnlocks = 0
	s.unlockHoldUntil = time.Time{}
	s.mu.Unlock()

	s.hub.Publish(models.SessionUnlocked, username, reason, now)
	return nil
}

// Lock makes the private key unusable until Unlock: Unlocked → Locked.
// Locking an already locked session is a no-op.
func (s *Service) Lock() error {
	s.mu.Lock()
	switch s.state {
	case models.SessionNone:
		s.mu.Unlock()
		return ErrNoSession
	case models.SessionLocked:
		s.mu.Unlock()
		return nil
	}
	s.lockLocked()
	username := s.username
	now := s.now()
	s.mu.Unlock()

	s.hub.Publish(models.SessionLocked, username, models.SessionReasonLock, now)
	return nil
}

// lockLocked clears the live key and moves to Locked. Caller holds s.mu.
func (s *Service) lockLocked() {
	if s.priv != nil {
		s.priv.Clear()
		s.priv = nil
	}
	s.state = models.SessionLocked
}

// Unlock re-derives the identity from the passphrase and compares public
// keys: Locked → Unlocked on match. Failures are deliberately generic; a
// wrong passphrase and an unknown identity are indistinguishable.
func (s *Service) Unlock(ctx context.Context, passphrase string) error {
	s.mu.Lock()
	switch s.state {
	case models.SessionNone:
		s.mu.Unlock()
		return ErrNoSession
	case models.SessionUnlocked:
		s.mu.Unlock()
		return ErrSessionNotLocked
	}
	if !s.unlockHoldUntil.IsZero() && s.now().Before(s.unlockHoldUntil) {
		s.mu.Unlock()
		return ErrUnlockThrottled
	}
	username := s.username
	s.mu.Unlock()

	// The derivation is slow on purpose; never hold the state lock across it.
	pair, seed, err := s.deriver.DeriveIdentity(ctx, passphrase, username)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		s.registerFailedUnlock()
		return ErrUnlockFailed
	}

	s.mu.Lock()
	if s.state != models.SessionLocked || s.username != username {
		s.mu.Unlock()
		seed.Clear()
		return ErrSessionNotLocked
	}
	if subtle.ConstantTimeCompare(s.public, pair.PublicKey) != 1 {
		s.mu.Unlock()
		seed.Clear()
		s.registerFailedUnlock()
		return ErrUnlockFailed
	}
	now := s.now()
	s.priv = seed
	s.state = models.SessionUnlocked
	s.lastActive = now
	s.failedUnlocks = 0
	s.unlockHoldUntil = time.Time{}
	s.mu.Unlock()

	s.hub.Publish(models.SessionUnlocked, username, models.SessionReasonUnlock, now)
	return nil
}

func (s *Service) registerFailedUnlock() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failedUnlocks++
	s.unlockHoldUntil = s.now().Add(failedUnlockBackoff(s.failedUnlocks))
}

func failedUnlockBackoff(attempt int) time.Duration {
	if attempt <= 0 {
		return 0
	}
	// 1s, 2s, 4s... up to 32s max.
	shift := attempt - 1
	if shift > 5 {
		shift = 5
	}
	return time.Second * time.Duration(1<<shift)
}

// End tears the session down from any state: everything → NoSession. The
// private key buffer is cleared. Ending without a session is a no-op.
func (s *Service) End() error {
	s.mu.Lock()
	if s.state == models.SessionNone {
		s.mu.Unlock()
		return nil
	}
	if s.priv != nil {
		s.priv.Clear()
		s.priv = nil
	}
	username := s.username
	now := s.now()
	s.state = models.SessionNone
	s.username = ""
	s.fingerprint = ""
	s.public = nil
	s.createdAt = time.Time{}
	s.lastActive = time.Time{}
	s.failedUnlocks = 0
	s.unlockHoldUntil = time.Time{}
	s.mu.Unlock()

	s.hub.Publish(models.SessionNone, username, models.SessionReasonLogout, now)
	return nil
}

// UpdateActivity resets the idle clock. Consumers doing signed work call
// this implicitly through WithSigningKey.
func (s *Service) UpdateActivity() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == models.SessionUnlocked {
		s.lastActive = s.now()
	}
}

// CheckTimeout locks the session if it has been idle past the timeout.
// Returns true when a transition happened.
func (s *Service) CheckTimeout() bool {
	s.mu.Lock()
	if s.state != models.SessionUnlocked || s.now().Sub(s.lastActive) <= s.timeout {
		s.mu.Unlock()
		return false
	}
	s.lockLocked()
	username := s.username
	now := s.now()
	s.mu.Unlock()

	s.hub.Publish(models.SessionLocked, username, models.SessionReasonTimeout, now)
	return true
}

// RunTimeoutLoop drives CheckTimeout on a ticker until ctx is cancelled.
func (s *Service) RunTimeoutLoop(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.CheckTimeout()
		}
	}
}

func (s *Service) IsUnlocked() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == models.SessionUnlocked
}

func (s *Service) State() models.SessionPhase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Current returns a copy of the session info, but only while Unlocked.
func (s *Service) Current() (models.SessionInfo, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != models.SessionUnlocked {
		return models.SessionInfo{}, false
	}
	return s.infoLocked(), true
}

// Status reports the session info in every state; key material is never
// part of it.
func (s *Service) Status() models.SessionInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.infoLocked()
}

func (s *Service) infoLocked() models.SessionInfo {
	return models.SessionInfo{
		Username:       s.username,
		Fingerprint:    s.fingerprint,
		PublicKey:      append([]byte(nil), s.public...),
		State:          s.state,
		CreatedAt:      s.createdAt,
		LastActivityAt: s.lastActive,
		TimeoutMinutes: int(s.timeout / time.Minute),
	}
}

// Remaining reports how much idle time is left before the session locks.
func (s *Service) Remaining() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != models.SessionUnlocked {
		return 0
	}
	left := s.timeout - s.now().Sub(s.lastActive)
	if left < 0 {
		return 0
	}
	return left
}

// PublicKey returns the session's public key in Unlocked and Locked states.
func (s *Service) PublicKey() (ed25519.PublicKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == models.SessionNone {
		return nil, ErrNoSession
	}
	return append(ed25519.PublicKey(nil), s.public...), nil
}

// WithSigningKey exposes the expanded signing key to fn. The key is rebuilt
// from the seed for the duration of the call and wiped afterwards; it must
// not escape fn. Successful use counts as activity.
func (s *Service) WithSigningKey(fn func(ed25519.PrivateKey) error) error {
	s.mu.Lock()
	switch s.state {
	case models.SessionNone:
		s.mu.Unlock()
		return ErrNoSession
	case models.SessionLocked:
		s.mu.Unlock()
		return ErrSessionLocked
	}
	priv := s.priv
	s.mu.Unlock()

	if priv == nil {
		return ErrSessionLocked
	}
	err := priv.WithBytes(func(seed []byte) error {
		key := ed25519.NewKeyFromSeed(seed)
		defer securemem.Wipe(key)
		return fn(key)
	})
	if err != nil {
		if errors.Is(err, securemem.ErrBufferCleared) {
			return ErrSessionLocked
		}
		return err
	}
	s.UpdateActivity()
	return nil
}

// Subscribe attaches a listener to session state changes. Events with
// Seq > fromSeq that are still buffered are replayed first.
func (s *Service) Subscribe(fromSeq uint64) ([]models.SessionChange, <-chan models.SessionChange, func()) {
	return s.hub.Subscribe(fromSeq)
}

// EventBacklog reports the buffered event count, for diagnostics.
func (s *Service) EventBacklog() int {
	return s.hub.Backlog()
}
