package lockout

import (
	"context"
	"sync"
	"time"
)

type memoryEntry struct {
	mu    sync.Mutex
	state State
}

// MemoryStore keeps lockout state in process. Each subject has its own
// mutex so unrelated subjects never contend.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]*memoryEntry
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]*memoryEntry)}
}

func (m *MemoryStore) entry(subject string) *memoryEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[subject]
	if !ok {
		e = &memoryEntry{state: State{Subject: subject}}
		m.entries[subject] = e
	}
	return e
}

// forget drops an entry that returned to the zero state. Caller holds e.mu.
func (m *MemoryStore) forget(subject string, e *memoryEntry) {
	m.mu.Lock()
	if m.entries[subject] == e {
		delete(m.entries, subject)
	}
	m.mu.Unlock()
}

func (m *MemoryStore) Load(_ context.Context, subject string) (State, error) {
	m.mu.Lock()
	e, ok := m.entries[subject]
	m.mu.Unlock()
	if !ok {
		return State{Subject: subject}, nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state, nil
}

func (m *MemoryStore) RecordFailure(_ context.Context, subject, sourceIP string, now time.Time, cfg Config) (State, bool, error) {
	for {
		e := m.entry(subject)
		e.mu.Lock()
		// The entry may have been forgotten between lookup and lock.
		m.mu.Lock()
		live := m.entries[subject] == e
		m.mu.Unlock()
		if !live {
			e.mu.Unlock()
			continue
		}
		tripped := e.state.ApplyFailure(sourceIP, now, cfg)
		state := e.state
		e.mu.Unlock()
		return state, tripped, nil
	}
}

func (m *MemoryStore) RecordSuccess(_ context.Context, subject string, now time.Time) error {
	m.mu.Lock()
	e, ok := m.entries[subject]
	m.mu.Unlock()
	if !ok {
		return nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.state.ApplySuccess(now)
	if e.state.isZero() {
		m.forget(subject, e)
	}
	return nil
}

func (m *MemoryStore) ReleaseExpired(_ context.Context, subject string, now time.Time) (bool, error) {
	m.mu.Lock()
	e, ok := m.entries[subject]
	m.mu.Unlock()
	if !ok {
		return false, nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	released := e.state.ReleaseIfExpired(now)
	if released {
		m.forget(subject, e)
	}
	return released, nil
}

func (m *MemoryStore) Delete(_ context.Context, subject string) error {
	m.mu.Lock()
	e, ok := m.entries[subject]
	if ok {
		delete(m.entries, subject)
	}
	m.mu.Unlock()
	if ok {
		e.mu.Lock()
		e.state = State{Subject: subject}
		e.mu.Unlock()
	}
	return nil
}
