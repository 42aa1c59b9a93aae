package session

import (
	"context"
	"sync"
	"time"

	"github.com/bcgov/nr-ai-form/core"
)

var _ Backend = (*MemoryBackend)(nil)

type memoryEntry struct {
	state   []byte
	expires time.Time
}

// MemoryBackend is a volatile Backend storing sessions in a process local
// map. It is safe for concurrent access and best suited for tests or
// ephemeral demo servers. Blobs are copied on the way in and out.
type MemoryBackend struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
	ttl     time.Duration
	now     func() time.Time
}

// NewMemoryBackend constructs an empty backend. A ttl of zero never expires.
func NewMemoryBackend(ttl time.Duration) *MemoryBackend {
	return &MemoryBackend{
		entries: make(map[string]memoryEntry),
		ttl:     ttl,
		now:     time.Now,
	}
}

// Kind implements Backend.
func (m *MemoryBackend) Kind() core.BackendKind { return core.BackendMemory }

// Load implements Backend. Expired entries are removed lazily.
func (m *MemoryBackend) Load(_ context.Context, sessionID string) ([]byte, error) {
	m.mu.RLock()
	e, ok := m.entries[sessionID]
	m.mu.RUnlock()
	if !ok {
		return nil, core.ErrSessionNotFound
	}
	if !e.expires.IsZero() && !m.now().Before(e.expires) {
		m.mu.Lock()
		delete(m.entries, sessionID)
		m.mu.Unlock()
		return nil, core.ErrSessionNotFound
	}
	return append([]byte(nil), e.state...), nil
}

// Store implements Backend.
func (m *MemoryBackend) Store(_ context.Context, sessionID string, state []byte) error {
	e := memoryEntry{state: append([]byte(nil), state...)}
	if m.ttl > 0 {
		e.expires = m.now().Add(m.ttl)
	}
	m.mu.Lock()
	m.entries[sessionID] = e
	m.mu.Unlock()
	return nil
}

// Delete implements Backend.
func (m *MemoryBackend) Delete(_ context.Context, sessionID string) error {
	m.mu.Lock()
	delete(m.entries, sessionID)
	m.mu.Unlock()
	return nil
}

// Len returns the number of stored entries, expired ones included.
func (m *MemoryBackend) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

// Close implements Backend.
func (m *MemoryBackend) Close() error { return nil }
