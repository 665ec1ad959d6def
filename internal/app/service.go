// Package app composes the trust layer into one service: identity
// derivation, the session state machine, signing, verified storage, and
// session persistence, with logging and metrics around every operation.
// Adapters (RPC, CLI) talk to this package and nothing below it.
package app

import (
	"context"
	"encoding/base64"
	"errors"
	"log/slog"
	"time"

	"sealbox/go-core/internal/cas"
	"sealbox/go-core/internal/identity"
	"sealbox/go-core/internal/metrics"
	"sealbox/go-core/internal/securemem"
	"sealbox/go-core/internal/session"
	"sealbox/go-core/internal/sessionstore"
	"sealbox/go-core/internal/signing"
	"sealbox/go-core/internal/vault"
	"sealbox/go-core/internal/verification"
	"sealbox/go-core/pkg/models"
)

var ErrNotConfigured = errors.New("app: missing required dependency")

// IdentityPreview is what derivation alone reveals: the public side of the
// identity, with no session started and no key material retained.
type IdentityPreview struct {
	Username        string `json:"username"`
	Fingerprint     string `json:"fingerprint"`
	PublicKeyBase64 string `json:"publicKeyBase64"`
}

type Deps struct {
	Logger        *slog.Logger
	Metrics       *metrics.Metrics
	Secrets       *securemem.Manager
	Deriver       *identity.Deriver
	Sessions      *session.Service
	Signer        *signing.Signer
	Verifier      *verification.Verifier
	Vault         *vault.Adapter
	Content       *cas.Store
	SavedSessions *sessionstore.Store
}

type Service struct {
	logger   *slog.Logger
	metrics  *metrics.Metrics
	secrets  *securemem.Manager
	deriver  *identity.Deriver
	sessions *session.Service
	signer   *signing.Signer
	verifier *verification.Verifier
	vault    *vault.Adapter
	content  *cas.Store
	saved    *sessionstore.Store
}

func NewService(deps Deps) (*Service, error) {
	if deps.Deriver == nil || deps.Sessions == nil || deps.Signer == nil ||
		deps.Verifier == nil || deps.Vault == nil || deps.Content == nil {
		return nil, ErrNotConfigured
	}
	logger := deps.Logger
	if logger == nil {
		logger = DefaultLogger(slog.LevelInfo)
	}
	m := deps.Metrics
	if m == nil {
		live := func() float64 { return 0 }
		if deps.Secrets != nil {
			secrets := deps.Secrets
			live = func() float64 { return float64(secrets.Live()) }
		}
		m = metrics.New(live)
		sessions := deps.Sessions
		m.RegisterEventBacklog(func() float64 { return float64(sessions.EventBacklog()) })
	}
	return &Service{
		logger:   logger,
		metrics:  m,
		secrets:  deps.Secrets,
		deriver:  deps.Deriver,
		sessions: deps.Sessions,
		signer:   deps.Signer,
		verifier: deps.Verifier,
		vault:    deps.Vault,
		content:  deps.Content,
		saved:    deps.SavedSessions,
	}, nil
}

// Metrics exposes the metric set for the HTTP layer to serve.
func (s *Service) Metrics() *metrics.Metrics {
	return s.metrics
}

// Login derives the identity for the credentials and starts a session with
// it. With persist set and persistence configured, an encrypted copy of the
// session is saved so it can be restored after a restart.
func (s *Service) Login(ctx context.Context, passphrase, username string, persist bool) (models.SessionInfo, error) {
	started := time.Now()
	pair, seed, err := s.deriver.DeriveIdentity(ctx, passphrase, username)
	if err != nil {
		s.metrics.RecordOperation("identity_login", err)
		return models.SessionInfo{}, err
	}
	s.metrics.ObserveDerivation(time.Since(started))

	if err := s.sessions.Start(username, pair, seed); err != nil {
		seed.Clear()
		s.metrics.RecordOperation("identity_login", err)
		return models.SessionInfo{}, err
	}
	if persist && s.saved != nil {
		// The session owns the seed now, but Save only reads it.
		if err := s.saved.Save(passphrase, username, seed); err != nil {
			s.logger.Warn("session persistence failed", "error", err)
		}
	}
	s.metrics.RecordOperation("identity_login", nil)
	s.metrics.SetSessionState(models.SessionUnlocked)

	info := s.sessions.Status()
	s.logger.Info("session started",
		"username", username,
		"fingerprint", info.Fingerprint,
		"derive_ms", time.Since(started).Milliseconds(),
	)
	return info, nil
}

// Preview derives the identity and returns only its public projection. No
// session is started; the seed is cleared before returning.
func (s *Service) Preview(ctx context.Context, passphrase, username string) (IdentityPreview, error) {
	pair, seed, err := s.deriver.DeriveIdentity(ctx, passphrase, username)
	if err != nil {
		s.metrics.RecordOperation("identity_preview", err)
		return IdentityPreview{}, err
	}
	seed.Clear()

	fingerprint, err := identity.Fingerprint(pair.PublicKey)
	if err != nil {
		s.metrics.RecordOperation("identity_preview", err)
		return IdentityPreview{}, err
	}
	s.metrics.RecordOperation("identity_preview", nil)
	return IdentityPreview{
		Username:        username,
		Fingerprint:     fingerprint,
		PublicKeyBase64: base64.StdEncoding.EncodeToString(pair.PublicKey),
	}, nil
}

// Lock disables signing until the passphrase is presented again.
func (s *Service) Lock() error {
	err := s.sessions.Lock()
	s.metrics.RecordOperation("session_lock", err)
	if err == nil {
		s.metrics.SetSessionState(s.sessions.State())
		s.logger.Info("session locked", "username", s.sessions.Status().Username)
	}
	return err
}

// Unlock re-derives from the passphrase and resumes the locked session.
func (s *Service) Unlock(ctx context.Context, passphrase string) error {
	err := s.sessions.Unlock(ctx, passphrase)
	s.metrics.RecordOperation("session_unlock", err)
	if errors.Is(err, session.ErrUnlockFailed) || errors.Is(err, session.ErrUnlockThrottled) {
		s.metrics.RecordUnlockFailure()
	}
	if err == nil {
		s.metrics.SetSessionState(models.SessionUnlocked)
		s.logger.Info("session unlocked", "username", s.sessions.Status().Username)
	}
	return err
}

// Logout ends the session and removes any persisted copy of it.
func (s *Service) Logout() error {
	username := s.sessions.Status().Username
	err := s.sessions.End()
	s.metrics.RecordOperation("session_end", err)
	if err != nil {
		return err
	}
	if s.saved != nil {
		if clearErr := s.saved.Clear(); clearErr != nil {
			s.logger.Warn("saved session cleanup failed", "error", clearErr)
		}
	}
	s.metrics.SetSessionState(models.SessionNone)
	s.logger.Info("session ended", "username", username)
	return nil
}

// Status reports the session without touching the idle clock.
func (s *Service) Status() models.SessionInfo {
	return s.sessions.Status()
}

// TouchActivity resets the idle clock, for adapters that count reads as
// activity.
func (s *Service) TouchActivity() {
	s.sessions.UpdateActivity()
}

// SubscribeSessionEvents attaches a listener to session state transitions,
// replaying buffered events newer than fromSeq.
func (s *Service) SubscribeSessionEvents(fromSeq uint64) ([]models.SessionChange, <-chan models.SessionChange, func()) {
	return s.sessions.Subscribe(fromSeq)
}

// StoreContent signs content with the session key and stores it. The
// returned metadata carries the content address.
func (s *Service) StoreContent(ctx context.Context, content []byte, typeTag string) (models.StorageMetadata, error) {
	meta, err := s.vault.Store(ctx, content, typeTag)
	s.metrics.RecordOperation("content_store", err)
	if err != nil {
		return models.StorageMetadata{}, err
	}
	s.logger.Info("content stored",
		"content_address", meta.ContentAddress,
		"size", meta.Size,
		"type_tag", typeTag,
	)
	return meta, nil
}

// RetrieveContent loads and re-verifies stored content.
func (s *Service) RetrieveContent(ctx context.Context, address string) (*vault.SignedContent, error) {
	got, err := s.vault.Retrieve(ctx, address)
	s.metrics.RecordOperation("content_get", err)
	if errors.Is(err, vault.ErrVerificationFailed) {
		s.metrics.RecordVerificationFailure()
		s.logger.Error("stored content failed verification", "content_address", address)
	}
	return got, err
}

// HasContent reports presence without reading or verifying the entry.
func (s *Service) HasContent(ctx context.Context, address string) (bool, error) {
	ok, err := s.vault.Has(ctx, address)
	s.metrics.RecordOperation("content_exists", err)
	return ok, err
}

// DeleteContent removes content and reports whether it existed.
func (s *Service) DeleteContent(ctx context.Context, address string) (bool, error) {
	removed, err := s.vault.Delete(ctx, address)
	s.metrics.RecordOperation("content_delete", err)
	if err == nil && removed {
		s.logger.Info("content deleted", "content_address", address)
	}
	return removed, err
}

// ListContent returns metadata for stored entries, optionally narrowed to a
// type tag.
func (s *Service) ListContent(ctx context.Context, typeTag string) ([]models.StorageMetadata, error) {
	var opts []cas.FilterOption
	if typeTag != "" {
		opts = append(opts, cas.WithTag(typeTag))
	}
	list, err := s.vault.List(ctx, opts...)
	s.metrics.RecordOperation("content_list", err)
	return list, err
}

// VerifyDetached checks a signature over content without any session,
// taking the base64 forms used at API boundaries.
func (s *Service) VerifyDetached(content []byte, signatureB64, publicKeyB64 string) (bool, error) {
	ok, err := s.verifier.VerifyBase64(content, signatureB64, publicKeyB64)
	s.metrics.RecordOperation("content_verify", err)
	return ok, err
}

// RecoveryExport re-derives the identity and encodes its master key as a
// mnemonic phrase. The phrase is returned to the caller and never logged.
func (s *Service) RecoveryExport(ctx context.Context, passphrase, username string) (string, error) {
	phrase, err := s.deriver.RecoveryPhrase(ctx, passphrase, username)
	s.metrics.RecordOperation("recovery_export", err)
	if err == nil {
		s.logger.Info("recovery phrase exported", "username", username)
	}
	return phrase, err
}

// RecoveryImport starts a session from a recovery phrase instead of a
// passphrase.
func (s *Service) RecoveryImport(phrase, username string) (models.SessionInfo, error) {
	pair, seed, err := s.deriver.IdentityFromRecoveryPhrase(phrase)
	if err != nil {
		s.metrics.RecordOperation("recovery_import", err)
		return models.SessionInfo{}, err
	}
	if err := s.sessions.Start(username, pair, seed); err != nil {
		seed.Clear()
		s.metrics.RecordOperation("recovery_import", err)
		return models.SessionInfo{}, err
	}
	s.metrics.RecordOperation("recovery_import", nil)
	s.metrics.SetSessionState(models.SessionUnlocked)
	info := s.sessions.Status()
	s.logger.Info("session started from recovery phrase",
		"username", username,
		"fingerprint", info.Fingerprint,
	)
	return info, nil
}

// RestoreSession resumes a previously persisted session. Available only
// when persistence is configured.
func (s *Service) RestoreSession(ctx context.Context, passphrase string) (models.SessionInfo, error) {
	if s.saved == nil {
		s.metrics.RecordOperation("session_restore", sessionstore.ErrNoSavedSession)
		return models.SessionInfo{}, sessionstore.ErrNoSavedSession
	}
	username, pair, seed, err := s.saved.Restore(ctx, passphrase)
	if err != nil {
		s.metrics.RecordOperation("session_restore", err)
		return models.SessionInfo{}, err
	}
	if err := s.sessions.Restore(username, pair, seed); err != nil {
		seed.Clear()
		s.metrics.RecordOperation("session_restore", err)
		return models.SessionInfo{}, err
	}
	s.metrics.RecordOperation("session_restore", nil)
	s.metrics.SetSessionState(models.SessionUnlocked)
	info := s.sessions.Status()
	s.logger.Info("session restored", "username", username, "fingerprint", info.Fingerprint)
	return info, nil
}

// HasSavedSession reports whether a persisted session exists on disk.
func (s *Service) HasSavedSession() bool {
	return s.saved != nil && s.saved.Exists()
}

// RunSessionTimeouts drives idle-timeout checks until ctx ends. Intended to
// run as a daemon goroutine.
func (s *Service) RunSessionTimeouts(ctx context.Context, interval time.Duration) {
	s.sessions.RunTimeoutLoop(ctx, interval)
}

// Close releases the content store and wipes any remaining secure buffers.
func (s *Service) Close() error {
	_ = s.sessions.End()
	err := s.content.Close()
	if s.secrets != nil {
		s.secrets.WipeAll()
	}
	return err
}
