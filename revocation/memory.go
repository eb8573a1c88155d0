package revocation

import (
	"context"
	"hash/fnv"
	"sync"
	"time"
)

const memoryShards = 16

type memoryShard struct {
	mu      sync.RWMutex
	entries map[string]int64
}

// MemorySet is a sharded in-process expiring set.
type MemorySet struct {
	shards [memoryShards]memoryShard
}

func NewMemorySet() *MemorySet {
	s := &MemorySet{}
	for i := range s.shards {
		s.shards[i].entries = make(map[string]int64)
	}
	return s
}

func (s *MemorySet) shard(id string) *memoryShard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(id))
	return &s.shards[h.Sum32()%memoryShards]
}

func (s *MemorySet) Insert(_ context.Context, id string, expiresAt, now time.Time) (bool, error) {
	sh := s.shard(id)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	if exp, ok := sh.entries[id]; ok && now.UnixNano() < exp {
		return false, nil
	}
	sh.entries[id] = expiresAt.UnixNano()
	return true, nil
}

func (s *MemorySet) Contains(_ context.Context, id string, now time.Time) (bool, error) {
	sh := s.shard(id)
	sh.mu.RLock()
	exp, ok := sh.entries[id]
	sh.mu.RUnlock()
	return ok && now.UnixNano() < exp, nil
}

func (s *MemorySet) Cleanup(_ context.Context, now time.Time) (int, error) {
	cutoff := now.UnixNano()
	removed := 0
	for i := range s.shards {
		sh := &s.shards[i]
		sh.mu.Lock()
		for id, exp := range sh.entries {
			if cutoff >= exp {
				delete(sh.entries, id)
				removed++
			}
		}
		sh.mu.Unlock()
	}
	return removed, nil
}

// Len returns the number of stored ids, expired or not.
func (s *MemorySet) Len() int {
	n := 0
	for i := range s.shards {
		sh := &s.shards[i]
		sh.mu.RLock()
		n += len(sh.entries)
		sh.mu.RUnlock()
	}
	return n
}
