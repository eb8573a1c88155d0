package refresh

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps refresh tokens in process behind a single mutex, which
// makes Rotate a plain compare-and-swap.
type MemoryStore struct {
	mu       sync.Mutex
	tokens   map[string]Token
	families map[string][]string
	access   map[string][]AccessRef
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		tokens:   make(map[string]Token),
		families: make(map[string][]string),
		access:   make(map[string][]AccessRef),
	}
}

func (m *MemoryStore) Create(_ context.Context, tok *Token) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tokens[tok.ID] = *tok
	m.families[tok.FamilyID] = append(m.families[tok.FamilyID], tok.ID)
	return nil
}

func (m *MemoryStore) Get(_ context.Context, id string) (*Token, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	tok, ok := m.tokens[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &tok, nil
}

func (m *MemoryStore) Rotate(_ context.Context, oldID string, next *Token) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	old, ok := m.tokens[oldID]
	if !ok {
		return ErrNotFound
	}
	if old.Used {
		return ErrAlreadyUsed
	}
	old.Used = true
	old.SupersededBy = next.ID
	m.tokens[oldID] = old
	m.tokens[next.ID] = *next
	m.families[next.FamilyID] = append(m.families[next.FamilyID], next.ID)
	return nil
}

func (m *MemoryStore) Burn(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	tok, ok := m.tokens[id]
	if !ok {
		return ErrNotFound
	}
	tok.Used = true
	tok.Revoked = true
	m.tokens[id] = tok
	return nil
}

func (m *MemoryStore) BurnFamily(_ context.Context, familyID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, id := range m.families[familyID] {
		tok, ok := m.tokens[id]
		if !ok {
			continue
		}
		tok.Used = true
		tok.Revoked = true
		m.tokens[id] = tok
		n++
	}
	return n, nil
}

func (m *MemoryStore) TrackAccess(_ context.Context, familyID string, ref AccessRef, _ time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.access[familyID] = append(m.access[familyID], ref)
	return nil
}

func (m *MemoryStore) AccessTokens(_ context.Context, familyID string) ([]AccessRef, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	refs := m.access[familyID]
	out := make([]AccessRef, len(refs))
	copy(out, refs)
	return out, nil
}

func (m *MemoryStore) CleanupExpired(_ context.Context, now time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for fam, ids := range m.families {
		kept := ids[:0]
		for _, id := range ids {
			tok, ok := m.tokens[id]
			if !ok {
				continue
			}
			if tok.expired(now) {
				delete(m.tokens, id)
				removed++
				continue
			}
			kept = append(kept, id)
		}
		if len(kept) == 0 {
			delete(m.families, fam)
			delete(m.access, fam)
			continue
		}
		m.families[fam] = kept
	}

	for fam, refs := range m.access {
		kept := refs[:0]
		for _, ref := range refs {
			if ref.ExpiresAt.After(now) {
				kept = append(kept, ref)
			}
		}
		if len(kept) == 0 {
			delete(m.access, fam)
			continue
		}
		m.access[fam] = kept
	}
	return removed, nil
}

// Len reports how many token records are held.
func (m *MemoryStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.tokens)
}
