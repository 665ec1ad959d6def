package cas

import (
	"context"
	"sort"
	"sync"
)

// MemKV is the in-memory backend, used for tests and ephemeral stores.
type MemKV struct {
	mu     sync.RWMutex
	closed bool
	items  map[string][]byte
}

func NewMemKV() *MemKV {
	return &MemKV{items: make(map[string][]byte)}
}

func (m *MemKV) Put(ctx context.Context, key string, value []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.items[key] = append([]byte(nil), value...)
	return nil
}

func (m *MemKV) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}
	value, ok := m.items[key]
	if !ok {
		return nil, ErrKeyNotFound
	}
	return append([]byte(nil), value...), nil
}

func (m *MemKV) Has(ctx context.Context, key string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return false, ErrClosed
	}
	_, ok := m.items[key]
	return ok, nil
}

func (m *MemKV) Delete(ctx context.Context, key string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return false, ErrClosed
	}
	_, ok := m.items[key]
	delete(m.items, key)
	return ok, nil
}

func (m *MemKV) ForEachKey(ctx context.Context, fn func(key string) error) error {
	keys, err := m.snapshotKeys()
	if err != nil {
		return err
	}
	for _, key := range keys {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(key); err != nil {
			return err
		}
	}
	return nil
}

func (m *MemKV) ForEach(ctx context.Context, fn func(key string, value []byte) error) error {
	keys, err := m.snapshotKeys()
	if err != nil {
		return err
	}
	for _, key := range keys {
		if err := ctx.Err(); err != nil {
			return err
		}
		m.mu.RLock()
		value, ok := m.items[key]
		if ok {
			value = append([]byte(nil), value...)
		}
		m.mu.RUnlock()
		if !ok {
			continue
		}
		if err := fn(key, value); err != nil {
			return err
		}
	}
	return nil
}

func (m *MemKV) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.items = make(map[string][]byte)
	return nil
}

func (m *MemKV) snapshotKeys() ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}
	keys := make([]string, 0, len(m.items))
	for key := range m.items {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys, nil
}
