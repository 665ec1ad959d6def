package session

import (
	"context"
	"crypto/ed25519"
	"crypto/sha256"
	"errors"
	"strings"
	"testing"
	"time"

	"sealbox/go-core/internal/identity"
	"sealbox/go-core/internal/securemem"
	"sealbox/go-core/pkg/models"
)

// fakeDeriver derives deterministic keys without the memory-hard cost.
type fakeDeriver struct {
	secrets *securemem.Manager
}

func (f *fakeDeriver) DeriveIdentity(ctx context.Context, passphrase, username string, _ ...identity.DeriveOption) (identity.KeyPair, *securemem.Buffer, error) {
	if err := ctx.Err(); err != nil {
		return identity.KeyPair{}, nil, err
	}
	if strings.TrimSpace(passphrase) == "" {
		return identity.KeyPair{}, nil, identity.ErrPassphraseRequired
	}
	sum := sha256.Sum256([]byte(passphrase + "|" + strings.ToLower(username)))
	priv := ed25519.NewKeyFromSeed(sum[:])
	pub := priv.Public().(ed25519.PublicKey)
	seed, err := f.secrets.FromBytes(sum[:])
	if err != nil {
		return identity.KeyPair{}, nil, err
	}
	return identity.KeyPair{PublicKey: pub}, seed, nil
}

type sessionFixture struct {
	svc     *Service
	deriver *fakeDeriver
	now     *time.Time
}

func newFixture(t *testing.T, timeout time.Duration) *sessionFixture {
	t.Helper()
	now := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	fix := &sessionFixture{
		deriver: &fakeDeriver{secrets: securemem.NewManager()},
		now:     &now,
	}
	fix.svc = newServiceWithClock(fix.deriver, timeout, func() time.Time { return *fix.now })
	return fix
}

func (f *sessionFixture) login(t *testing.T, passphrase, username string) {
	t.Helper()
	pair, seed, err := f.deriver.DeriveIdentity(context.Background(), passphrase, username)
	if err != nil {
		t.Fatalf("derive failed: %v", err)
	}
	if err := f.svc.Start(username, pair, seed); err != nil {
		t.Fatalf("start failed: %v", err)
	}
}

func (f *sessionFixture) advance(d time.Duration) {
	*f.now = f.now.Add(d)
}

func TestSessionLifecycle(t *testing.T) {
	fix := newFixture(t, 5*time.Minute)
	svc := fix.svc

	if svc.State() != models.SessionNone {
		t.Fatalf("fresh service must have no session, got %q", svc.State())
	}
	fix.login(t, "pass-1", "alice")

	if !svc.IsUnlocked() {
		t.Fatal("session must be unlocked after start")
	}
	info, ok := svc.Current()
	if !ok {
		t.Fatal("current session must be available while unlocked")
	}
	if info.Username != "alice" || info.State != models.SessionUnlocked {
		t.Fatalf("unexpected session info: %+v", info)
	}
	if !strings.HasPrefix(info.Fingerprint, "seal1") {
		t.Fatalf("session info must carry the fingerprint, got %q", info.Fingerprint)
	}

	if err := svc.Lock(); err != nil {
		t.Fatalf("lock failed: %v", err)
	}
	if svc.State() != models.SessionLocked {
		t.Fatalf("expected locked state, got %q", svc.State())
	}
	if _, ok := svc.Current(); ok {
		t.Fatal("current session must be hidden while locked")
	}

	if err := svc.Unlock(context.Background(), "pass-1"); err != nil {
		t.Fatalf("unlock failed: %v", err)
	}
	if !svc.IsUnlocked() {
		t.Fatal("session must be unlocked after unlock")
	}

	if err := svc.End(); err != nil {
		t.Fatalf("end failed: %v", err)
	}
	if svc.State() != models.SessionNone {
		t.Fatalf("expected no session after end, got %q", svc.State())
	}
}

func TestStartTwiceFails(t *testing.T) {
	fix := newFixture(t, time.Minute)
	fix.login(t, "pass", "alice")

	pair, seed, err := fix.deriver.DeriveIdentity(context.Background(), "pass", "bob")
	if err != nil {
		t.Fatalf("derive failed: %v", err)
	}
	defer seed.Clear()
	if err := fix.svc.Start("bob", pair, seed); !errors.Is(err, ErrSessionExists) {
		t.Fatalf("expected ErrSessionExists, got %v", err)
	}
}

func TestStartRejectsClearedSeed(t *testing.T) {
	fix := newFixture(t, time.Minute)
	pair, seed, err := fix.deriver.DeriveIdentity(context.Background(), "pass", "alice")
	if err != nil {
		t.Fatalf("derive failed: %v", err)
	}
	seed.Clear()
	if err := fix.svc.Start("alice", pair, seed); !errors.Is(err, securemem.ErrBufferCleared) {
		t.Fatalf("expected ErrBufferCleared, got %v", err)
	}
}

func TestLockClearsPrivateKey(t *testing.T) {
	fix := newFixture(t, time.Minute)
	fix.login(t, "pass", "alice")

	if err := fix.svc.Lock(); err != nil {
		t.Fatalf("lock failed: %v", err)
	}
	err := fix.svc.WithSigningKey(func(ed25519.PrivateKey) error { return nil })
	if !errors.Is(err, ErrSessionLocked) {
		t.Fatalf("expected ErrSessionLocked, got %v", err)
	}
	// Locking again is a no-op.
	if err := fix.svc.Lock(); err != nil {
		t.Fatalf("second lock must be a no-op, got %v", err)
	}
}

func TestUnlockWrongPassphraseIsGeneric(t *testing.T) {
	fix := newFixture(t, time.Minute)
	fix.login(t, "right-pass", "alice")
	if err := fix.svc.Lock(); err != nil {
		t.Fatalf("lock failed: %v", err)
	}

	if err := fix.svc.Unlock(context.Background(), "wrong-pass"); !errors.Is(err, ErrUnlockFailed) {
		t.Fatalf("expected ErrUnlockFailed, got %v", err)
	}
	if fix.svc.State() != models.SessionLocked {
		t.Fatal("failed unlock must leave the session locked")
	}

	// Empty passphrase must produce the same generic failure.
	fix.advance(5 * time.Second)
	if err := fix.svc.Unlock(context.Background(), ""); !errors.Is(err, ErrUnlockFailed) {
		t.Fatalf("expected ErrUnlockFailed for empty passphrase, got %v", err)
	}
}

func TestUnlockBackoffThrottlesAttempts(t *testing.T) {
	fix := newFixture(t, time.Minute)
	fix.login(t, "right-pass", "alice")
	if err := fix.svc.Lock(); err != nil {
		t.Fatalf("lock failed: %v", err)
	}

	if err := fix.svc.Unlock(context.Background(), "wrong"); !errors.Is(err, ErrUnlockFailed) {
		t.Fatalf("expected ErrUnlockFailed, got %v", err)
	}
	if err := fix.svc.Unlock(context.Background(), "right-pass"); !errors.Is(err, ErrUnlockThrottled) {
		t.Fatalf("expected ErrUnlockThrottled, got %v", err)
	}

	fix.advance(2 * time.Second)
	if err := fix.svc.Unlock(context.Background(), "right-pass"); err != nil {
		t.Fatalf("expected unlock after backoff, got %v", err)
	}
}

func TestUnlockStateErrors(t *testing.T) {
	fix := newFixture(t, time.Minute)
	if err := fix.svc.Unlock(context.Background(), "p"); !errors.Is(err, ErrNoSession) {
		t.Fatalf("expected ErrNoSession, got %v", err)
	}
	fix.login(t, "pass", "alice")
	if err := fix.svc.Unlock(context.Background(), "pass"); !errors.Is(err, ErrSessionNotLocked) {
		t.Fatalf("expected ErrSessionNotLocked, got %v", err)
	}
}

func TestWithSigningKeyGating(t *testing.T) {
	fix := newFixture(t, time.Minute)

	err := fix.svc.WithSigningKey(func(ed25519.PrivateKey) error { return nil })
	if !errors.Is(err, ErrNoSession) {
		t.Fatalf("expected ErrNoSession, got %v", err)
	}

	fix.login(t, "pass", "alice")
	var signed []byte
	err = fix.svc.WithSigningKey(func(priv ed25519.PrivateKey) error {
		signed = ed25519.Sign(priv, []byte("hello"))
		return nil
	})
	if err != nil {
		t.Fatalf("signing failed: %v", err)
	}
	pub, err := fix.svc.PublicKey()
	if err != nil {
		t.Fatalf("public key: %v", err)
	}
	if !ed25519.Verify(pub, []byte("hello"), signed) {
		t.Fatal("signature produced under session key must verify")
	}
}

func TestIdleTimeoutLocksSession(t *testing.T) {
	fix := newFixture(t, 2*time.Minute)
	fix.login(t, "pass", "alice")

	if fix.svc.CheckTimeout() {
		t.Fatal("fresh session must not time out")
	}
	fix.advance(90 * time.Second)
	if got := fix.svc.Remaining(); got != 30*time.Second {
		t.Fatalf("expected 30s remaining, got %v", got)
	}

	fix.svc.UpdateActivity()
	fix.advance(90 * time.Second)
	if fix.svc.CheckTimeout() {
		t.Fatal("activity must reset the idle clock")
	}

	fix.advance(31 * time.Second)
	if !fix.svc.CheckTimeout() {
		t.Fatal("expected timeout transition")
	}
	if fix.svc.State() != models.SessionLocked {
		t.Fatalf("expected locked state after timeout, got %q", fix.svc.State())
	}
	if got := fix.svc.Remaining(); got != 0 {
		t.Fatalf("expected no remaining time while locked, got %v", got)
	}

	// The identity survives the timeout; the right passphrase unlocks it.
	if err := fix.svc.Unlock(context.Background(), "pass"); err != nil {
		t.Fatalf("unlock after timeout failed: %v", err)
	}
}

func TestSessionEventsOrderingAndReplay(t *testing.T) {
	fix := newFixture(t, time.Minute)
	replay, ch, cancel := fix.svc.Subscribe(0)
	if len(replay) != 0 {
		t.Fatalf("fresh hub must have no replay, got %d events", len(replay))
	}

	fix.login(t, "pass", "alice")
	if err := fix.svc.Lock(); err != nil {
		t.Fatalf("lock failed: %v", err)
	}
	fix.advance(2 * time.Second)
	if err := fix.svc.Unlock(context.Background(), "pass"); err != nil {
		t.Fatalf("unlock failed: %v", err)
	}
	if err := fix.svc.End(); err != nil {
		t.Fatalf("end failed: %v", err)
	}
	cancel()

	var got []models.SessionChange
	for ev := range ch {
		got = append(got, ev)
	}
	wantReasons := []string{
		models.SessionReasonLogin,
		models.SessionReasonLock,
		models.SessionReasonUnlock,
		models.SessionReasonLogout,
	}
	if len(got) != len(wantReasons) {
		t.Fatalf("expected %d events, got %d", len(wantReasons), len(got))
	}
	var lastSeq uint64
	for i, ev := range got {
		if ev.Reason != wantReasons[i] {
			t.Fatalf("event %d: expected reason %q, got %q", i, wantReasons[i], ev.Reason)
		}
		if ev.Seq <= lastSeq {
			t.Fatalf("event sequence must increase, got %d after %d", ev.Seq, lastSeq)
		}
		lastSeq = ev.Seq
	}

	// A late subscriber sees the history via replay.
	replay, _, cancel2 := fix.svc.Subscribe(got[1].Seq)
	defer cancel2()
	if len(replay) != 2 {
		t.Fatalf("expected 2 replayed events after seq %d, got %d", got[1].Seq, len(replay))
	}
	if replay[0].Reason != models.SessionReasonUnlock {
		t.Fatalf("replay must start after the cursor, got %q", replay[0].Reason)
	}
}

func TestEndAllowsNewSession(t *testing.T) {
	fix := newFixture(t, time.Minute)
	fix.login(t, "pass", "alice")
	if err := fix.svc.End(); err != nil {
		t.Fatalf("end failed: %v", err)
	}
	if err := fix.svc.End(); err != nil {
		t.Fatalf("ending without a session must be a no-op, got %v", err)
	}
	fix.login(t, "other", "bob")
	if !fix.svc.IsUnlocked() {
		t.Fatal("new session must start after end")
	}
}
