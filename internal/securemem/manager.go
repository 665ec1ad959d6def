package securemem

import (
	"sync"

	"github.com/awnumar/memguard"
)

// Manager allocates Buffers and keeps track of every live one so that an
// emergency wipe (logout, shutdown) can clear all outstanding secrets at
// once. Buffers unregister themselves when cleared.
type Manager struct {
	mu      sync.Mutex
	nextID  uint64
	buffers map[uint64]*Buffer
}

func NewManager() *Manager {
	return &Manager{buffers: make(map[uint64]*Buffer)}
}

// NewBuffer allocates a zeroed secret buffer of the given size.
func (m *Manager) NewBuffer(size int) (*Buffer, error) {
	if size <= 0 {
		return nil, ErrInvalidSize
	}
	buf := &Buffer{
		locked:  memguard.NewBuffer(size),
		size:    size,
		manager: m,
	}
	m.track(buf)
	return buf, nil
}

// FromBytes moves a secret into a managed buffer. The source slice is wiped
// after the copy, so the managed buffer becomes the only holder.
func (m *Manager) FromBytes(data []byte) (*Buffer, error) {
	if len(data) == 0 {
		return nil, ErrEmptyData
	}
	buf := &Buffer{
		locked:  memguard.NewBufferFromBytes(data),
		size:    len(data),
		manager: m,
	}
	m.track(buf)
	return buf, nil
}

// WipeAll force-clears every buffer the manager is still tracking.
func (m *Manager) WipeAll() {
	m.mu.Lock()
	tracked := make([]*Buffer, 0, len(m.buffers))
	for _, buf := range m.buffers {
		tracked = append(tracked, buf)
	}
	m.mu.Unlock()

	for _, buf := range tracked {
		buf.Clear()
	}
}

// Live reports how many buffers are currently tracked.
func (m *Manager) Live() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.buffers)
}

func (m *Manager) track(buf *Buffer) {
	m.mu.Lock()
	m.nextID++
	buf.id = m.nextID
	m.buffers[buf.id] = buf
	m.mu.Unlock()
}

func (m *Manager) forget(id uint64) {
	m.mu.Lock()
	delete(m.buffers, id)
	m.mu.Unlock()
}
