// Package cas is a content-addressable store: payloads are keyed by the
// hex SHA-256 of their bytes, which makes storage deduplicating by
// construction and lets every read check what it got.
package cas

import (
	"context"
	"errors"
)

var (
	// ErrNotFound means no entry exists at the requested address.
	ErrNotFound = errors.New("content not found")
	// ErrKeyNotFound is the backend-level miss; the store maps it to
	// ErrNotFound.
	ErrKeyNotFound = errors.New("key not found")
	// ErrCorrupted means the stored bytes no longer match their address.
	ErrCorrupted = errors.New("stored entry does not match its address")
	// ErrClosed is returned by operations on a closed backend.
	ErrClosed = errors.New("store is closed")
	// ErrStop aborts a ForEach walk early without reporting an error.
	ErrStop = errors.New("stop iteration")
)

// KV is the storage backend contract: put/get/delete/list by string key.
// Implementations must be safe for concurrent use.
type KV interface {
	Put(ctx context.Context, key string, value []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
	Has(ctx context.Context, key string) (bool, error)
	Delete(ctx context.Context, key string) (bool, error)
	ForEachKey(ctx context.Context, fn func(key string) error) error
	ForEach(ctx context.Context, fn func(key string, value []byte) error) error
	Close() error
}
