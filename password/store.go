package password

import (
	"context"
	"errors"
	"slices"
	"sync"
)

// ErrRecordNotFound is returned by RecordStore.Load for unknown subjects.
var ErrRecordNotFound = errors.New("password record not found")

// RecordStore persists password records, including the history used to
// reject reuse.
type RecordStore interface {
	Load(ctx context.Context, subjectID string) (*Record, error)
	Save(ctx context.Context, rec *Record) error
}

// MemoryRecordStore keeps records in process.
type MemoryRecordStore struct {
	mu      sync.RWMutex
	records map[string]Record
}

func NewMemoryRecordStore() *MemoryRecordStore {
	return &MemoryRecordStore{records: make(map[string]Record)}
}

func (m *MemoryRecordStore) Load(_ context.Context, subjectID string) (*Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.records[subjectID]
	if !ok {
		return nil, ErrRecordNotFound
	}
	rec.History = slices.Clone(rec.History)
	return &rec, nil
}

func (m *MemoryRecordStore) Save(_ context.Context, rec *Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *rec
	cp.History = slices.Clone(rec.History)
	m.records[rec.SubjectID] = cp
	return nil
}
