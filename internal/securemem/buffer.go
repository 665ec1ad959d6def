// Package securemem owns every raw secret byte in the process. Secrets live
// in locked, guarded allocations and are wiped on release; all other
// packages handle secrets only through Buffer handles.
package securemem

import (
	"errors"
	"sync"

	"github.com/awnumar/memguard"
)

var (
	ErrBufferCleared = errors.New("securemem: buffer has been cleared")
	ErrInvalidSize   = errors.New("securemem: buffer size must be positive")
	ErrEmptyData     = errors.New("securemem: source data is empty")
	ErrSizeMismatch  = errors.New("securemem: destination size does not match source")
)

// Buffer is a fixed-size secret container backed by a memguard locked
// allocation. Once cleared the bytes are gone for good: reads fail with
// ErrBufferCleared and Bytes returns only zeros.
type Buffer struct {
	mu      sync.Mutex
	locked  *memguard.LockedBuffer
	size    int
	cleared bool

	id      uint64
	manager *Manager
}

func (b *Buffer) Size() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.size
}

func (b *Buffer) IsCleared() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.cleared
}

// Clear wipes the underlying allocation. Idempotent and irreversible.
func (b *Buffer) Clear() {
	b.mu.Lock()
	if !b.cleared {
		b.cleared = true
		if b.locked != nil {
			b.locked.Destroy()
			b.locked = nil
		}
	}
	manager, id := b.manager, b.id
	b.manager = nil
	b.mu.Unlock()

	if manager != nil {
		manager.forget(id)
	}
}

// WithBytes exposes the secret to fn without copying. The slice is only
// valid for the duration of the call and must not escape.
func (b *Buffer) WithBytes(fn func([]byte) error) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.cleared || b.locked == nil {
		return ErrBufferCleared
	}
	return fn(b.locked.Bytes())
}

// Bytes returns a copy of the secret. Callers should wipe the copy as soon
// as they are done with it. After Clear the returned slice is all zeros and
// the error is ErrBufferCleared.
func (b *Buffer) Bytes() ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.cleared || b.locked == nil {
		return make([]byte, b.size), ErrBufferCleared
	}
	out := make([]byte, b.size)
	copy(out, b.locked.Bytes())
	return out, nil
}

// CopyTo copies the secret into dst. Fails if the source has been cleared
// or the sizes differ; never allocates an unmanaged copy.
func (b *Buffer) CopyTo(dst *Buffer) error {
	if dst == nil {
		return ErrSizeMismatch
	}
	return b.WithBytes(func(src []byte) error {
		dst.mu.Lock()
		defer dst.mu.Unlock()
		if dst.cleared || dst.locked == nil {
			return ErrBufferCleared
		}
		if dst.size != len(src) {
			return ErrSizeMismatch
		}
		copy(dst.locked.Bytes(), src)
		return nil
	})
}

// Wipe zeroes a transient secret slice in place.
func Wipe(b []byte) {
	memguard.WipeBytes(b)
}
