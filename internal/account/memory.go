package account

import (
	"context"
	"sort"
	"sync"
	"time"
)

// memoryStore is the ephemeral fallback backend. Same semantics as the
// sqlite store, minus persistence.
type memoryStore struct {
	mu        sync.RWMutex
	live      map[string]Settings
	tombstone map[string]time.Time
}

func NewMemoryStore() Store {
	return &memoryStore{
		live:      map[string]Settings{},
		tombstone: map[string]time.Time{},
	}
}

func (m *memoryStore) Put(_ context.Context, s Settings) error {
	if err := s.Validate(); err != nil {
		return err
	}
	if s.UpdatedAt.IsZero() {
		s.UpdatedAt = time.Now()
	}
	m.mu.Lock()
	m.live[s.ID] = s
	delete(m.tombstone, s.ID)
	m.mu.Unlock()
	return nil
}

func (m *memoryStore) Get(_ context.Context, id string) (Settings, error) {
	m.mu.RLock()
	s, ok := m.live[id]
	m.mu.RUnlock()
	if !ok {
		return Settings{}, ErrNotFound
	}
	return s, nil
}

func (m *memoryStore) List(_ context.Context) ([]Settings, error) {
	m.mu.RLock()
	out := make([]Settings, 0, len(m.live))
	for _, s := range m.live {
		out = append(out, s)
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memoryStore) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.live[id]; !ok {
		return ErrNotFound
	}
	delete(m.live, id)
	m.tombstone[id] = time.Now()
	return nil
}

func (m *memoryStore) Prune(_ context.Context, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for id, at := range m.tombstone {
		if at.Before(cutoff) {
			delete(m.tombstone, id)
			n++
		}
	}
	return n, nil
}

func (m *memoryStore) Close() error { return nil }
