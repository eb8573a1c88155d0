package apikey

import (
	"context"
	"slices"
	"sync"
)

// Store persists API keys.
type Store interface {
	Create(ctx context.Context, key *Key) error
	// Get returns ErrNotFound for unknown ids.
	Get(ctx context.Context, id string) (*Key, error)
	Update(ctx context.Context, key *Key) error
	ListByOwner(ctx context.Context, ownerID string) ([]*Key, error)
	// RecordUsage bumps the request counter and last-used time.
	RecordUsage(ctx context.Context, id string, usage Usage) error
}

// MemoryStore keeps keys in process.
type MemoryStore struct {
	mu   sync.RWMutex
	keys map[string]*Key
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{keys: make(map[string]*Key)}
}

func (m *MemoryStore) Create(_ context.Context, key *Key) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.keys[key.ID] = key.clone()
	return nil
}

func (m *MemoryStore) Get(_ context.Context, id string) (*Key, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	k, ok := m.keys[id]
	if !ok {
		return nil, ErrNotFound
	}
	return k.clone(), nil
}

func (m *MemoryStore) Update(_ context.Context, key *Key) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.keys[key.ID]
	if !ok {
		return ErrNotFound
	}
	next := key.clone()
	// Usage counters are owned by RecordUsage.
	next.RequestCount = cur.RequestCount
	next.LastUsedAt = cur.LastUsedAt
	m.keys[key.ID] = next
	return nil
}

func (m *MemoryStore) ListByOwner(_ context.Context, ownerID string) ([]*Key, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*Key
	for _, k := range m.keys {
		if k.OwnerID == ownerID {
			out = append(out, k.clone())
		}
	}
	slices.SortFunc(out, func(a, b *Key) int { return a.CreatedAt.Compare(b.CreatedAt) })
	return out, nil
}

func (m *MemoryStore) RecordUsage(_ context.Context, id string, usage Usage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k, ok := m.keys[id]
	if !ok {
		return ErrNotFound
	}
	k.RequestCount++
	if usage.At.After(k.LastUsedAt) {
		k.LastUsedAt = usage.At
	}
	return nil
}
