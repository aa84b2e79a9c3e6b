package cache

import (
	"context"
	"sync"
	"time"
)

// MemoryBackend stores entries in a process-local map. Contents do not
// survive a restart; it is also the automatic fallback when the preferred
// backend fails to initialize.
type MemoryBackend struct {
	mu      sync.RWMutex
	entries map[string]*Entry
}

// NewMemoryBackend creates an empty in-memory backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{entries: make(map[string]*Entry)}
}

// Put implements StorageBackend.
func (m *MemoryBackend) Put(_ context.Context, e *Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[e.ID] = e.clone()
	return nil
}

// Get implements StorageBackend.
func (m *MemoryBackend) Get(_ context.Context, id string) (*Entry, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entries[id]
	if !ok {
		return nil, false, nil
	}
	return e.clone(), true, nil
}

// Delete implements StorageBackend. Deleting an absent id is a no-op.
func (m *MemoryBackend) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, id)
	return nil
}

// List implements StorageBackend.
func (m *MemoryBackend) List(_ context.Context) ([]*Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Entry, 0, len(m.entries))
	for _, e := range m.entries {
		out = append(out, e.clone())
	}
	return out, nil
}

// Touch implements Toucher.
func (m *MemoryBackend) Touch(_ context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.entries[id]; ok {
		e.LastAccessedAt = at
	}
	return nil
}

// Close implements StorageBackend.
func (m *MemoryBackend) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = make(map[string]*Entry)
	return nil
}
