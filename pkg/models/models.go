package models

import (
	"time"
)

type SessionPhase string

const (
	SessionNone     SessionPhase = "no_session"
	SessionUnlocked SessionPhase = "unlocked"
	SessionLocked   SessionPhase = "locked"
)

type SessionInfo struct {
	Username       string       `json:"username"`
	Fingerprint    string       `json:"fingerprint"`
	PublicKey      []byte       `json:"public_key"`
	State          SessionPhase `json:"state"`
	CreatedAt      time.Time    `json:"created_at"`
	LastActivityAt time.Time    `json:"last_activity_at"`
	TimeoutMinutes int          `json:"timeout_minutes"`
}

type SessionChange struct {
	Seq      uint64       `json:"seq"`
	State    SessionPhase `json:"state"`
	Username string       `json:"username,omitempty"`
	Reason   string       `json:"reason,omitempty"`
	At       time.Time    `json:"at"`
}

const (
	SessionReasonLogin    = "login"
	SessionReasonLock     = "lock"
	SessionReasonUnlock   = "unlock"
	SessionReasonTimeout  = "timeout"
	SessionReasonLogout   = "logout"
	SessionReasonRestored = "restored"
)

// StorageMetadata is the listable, non-secret facet of a stored envelope.
// Field names are part of the storage wire format.
type StorageMetadata struct {
	ContentAddress  string    `json:"contentAddress"`
	Size            int64     `json:"size"`
	Timestamp       time.Time `json:"timestamp"`
	Algorithm       string    `json:"algorithm"`
	Version         string    `json:"version"`
	PublicKeyBase64 string    `json:"publicKeyBase64"`
	TypeTag         string    `json:"typeTag,omitempty"`
}
