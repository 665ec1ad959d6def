package rpc

import (
	"errors"

	"sealbox/go-core/internal/cas"
	"sealbox/go-core/internal/session"
	"sealbox/go-core/internal/sessionstore"
	"sealbox/go-core/internal/vault"
	"sealbox/go-core/internal/verification"
)

func rpcInvalidParams() *rpcError {
	return &rpcError{Code: -32602, Message: "invalid params"}
}

// mapServiceError translates domain sentinels into stable RPC codes so
// clients can branch without parsing messages. Anything unrecognized keeps
// the caller's fallback code.
func mapServiceError(fallback int, err error) *rpcError {
	switch {
	case errors.Is(err, session.ErrNoSession):
		return &rpcError{Code: -32031, Message: err.Error()}
	case errors.Is(err, session.ErrSessionLocked):
		return &rpcError{Code: -32032, Message: err.Error()}
	case errors.Is(err, session.ErrSessionExists):
		return &rpcError{Code: -32033, Message: err.Error()}
	case errors.Is(err, session.ErrUnlockFailed):
		return &rpcError{Code: -32034, Message: err.Error()}
	case errors.Is(err, session.ErrUnlockThrottled):
		return &rpcError{Code: -32035, Message: err.Error()}
	case errors.Is(err, session.ErrSessionNotLocked):
		return &rpcError{Code: -32036, Message: err.Error()}
	case errors.Is(err, cas.ErrNotFound):
		return &rpcError{Code: -32041, Message: err.Error()}
	case errors.Is(err, vault.ErrVerificationFailed):
		return &rpcError{Code: -32042, Message: err.Error()}
	case errors.Is(err, cas.ErrInvalidAddress),
		errors.Is(err, verification.ErrMalformedEncoding),
		errors.Is(err, verification.ErrMalformedPublicKey),
		errors.Is(err, verification.ErrMalformedSignature):
		return rpcInvalidParams()
	case errors.Is(err, sessionstore.ErrNoSavedSession):
		return &rpcError{Code: -32061, Message: err.Error()}
	case errors.Is(err, sessionstore.ErrRestoreFailed):
		return &rpcError{Code: -32062, Message: err.Error()}
	default:
		return &rpcError{Code: fallback, Message: err.Error()}
	}
}
