package rpc

import (
	"context"
	"encoding/json"
)

func (s *Server) dispatchSessionRPC(ctx context.Context, method string, rawParams json.RawMessage) (any, *rpcError, bool) {
	switch method {
	case "identity_login":
		p, err := decodeLoginParams(rawParams)
		if err != nil {
			return nil, rpcInvalidParams(), true
		}
		info, err := s.service.Login(ctx, p.Passphrase, p.Username, p.Persist)
		if err != nil {
			return nil, mapServiceError(-32020, err), true
		}
		return info, nil, true
	case "identity_fingerprint":
		result, rpcErr := callWithTwoStringParams(rawParams, -32021, func(passphrase, username string) (any, error) {
			return s.service.Preview(ctx, passphrase, username)
		})
		return result, rpcErr, true
	case "session_status":
		result, rpcErr := callWithoutParams(-32030, func() (any, error) {
			return s.service.Status(), nil
		})
		return result, rpcErr, true
	case "session_lock":
		result, rpcErr := callWithoutParams(-32030, func() (any, error) {
			if err := s.service.Lock(); err != nil {
				return nil, err
			}
			return map[string]bool{"locked": true}, nil
		})
		return result, rpcErr, true
	case "session_unlock":
		result, rpcErr := callWithSingleStringParam(rawParams, -32030, func(passphrase string) (any, error) {
			if err := s.service.Unlock(ctx, passphrase); err != nil {
				return nil, err
			}
			return map[string]bool{"unlocked": true}, nil
		})
		return result, rpcErr, true
	case "session_end":
		result, rpcErr := callWithoutParams(-32030, func() (any, error) {
			if err := s.service.Logout(); err != nil {
				return nil, err
			}
			return map[string]bool{"ended": true}, nil
		})
		return result, rpcErr, true
	case "session_activity":
		s.service.TouchActivity()
		return map[string]bool{"updated": true}, nil, true
	case "session_restore":
		result, rpcErr := callWithSingleStringParam(rawParams, -32060, func(passphrase string) (any, error) {
			return s.service.RestoreSession(ctx, passphrase)
		})
		return result, rpcErr, true
	case "session_saved":
		result, rpcErr := callWithoutParams(-32060, func() (any, error) {
			return map[string]bool{"saved": s.service.HasSavedSession()}, nil
		})
		return result, rpcErr, true
	case "recovery_export":
		result, rpcErr := callWithTwoStringParams(rawParams, -32022, func(passphrase, username string) (any, error) {
			phrase, err := s.service.RecoveryExport(ctx, passphrase, username)
			if err != nil {
				return nil, err
			}
			return map[string]string{"phrase": phrase}, nil
		})
		return result, rpcErr, true
	case "recovery_import":
		result, rpcErr := callWithTwoStringParams(rawParams, -32023, func(phrase, username string) (any, error) {
			return s.service.RecoveryImport(phrase, username)
		})
		return result, rpcErr, true
	default:
		return nil, nil, false
	}
}
