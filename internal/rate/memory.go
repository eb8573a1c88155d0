package rate

import (
	"context"
	"hash/fnv"
	"sync"
	"time"
)

const memoryShards = 32

type window struct {
	mu       sync.Mutex
	epochs   []int64
	counts   []int
	lastSeen time.Time
	// dead is set under mu once the window has left its shard.
	dead bool
}

type shard struct {
	mu      sync.Mutex
	windows map[string]*window
}

// Memory is an in-process sliding-window limiter. Keys are spread across
// shards and each key has its own lock.
type Memory struct {
	cfg    Config
	shards [memoryShards]shard
}

// NewMemory returns an in-process limiter for cfg.
func NewMemory(cfg Config) (*Memory, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	m := &Memory{cfg: cfg}
	for i := range m.shards {
		m.shards[i].windows = make(map[string]*window)
	}
	return m, nil
}

func (m *Memory) shardFor(key string) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return &m.shards[h.Sum32()%memoryShards]
}

func (m *Memory) window(key string) *window {
	s := m.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.windows[key]
	if !ok {
		w = &window{
			epochs: make([]int64, m.cfg.Buckets),
			counts: make([]int, m.cfg.Buckets),
		}
		for i := range w.epochs {
			w.epochs[i] = -1
		}
		s.windows[key] = w
	}
	return w
}

// liveWindow returns the locked window of key. A window dropped by Cleanup
// or Reset between lookup and lock is retried.
func (m *Memory) liveWindow(key string) *window {
	for {
		w := m.window(key)
		w.mu.Lock()
		if !w.dead {
			return w
		}
		w.mu.Unlock()
	}
}

func (m *Memory) Allow(_ context.Context, key string, now time.Time) (Decision, error) {
	w := m.liveWindow(key)
	defer w.mu.Unlock()

	capacity := m.cfg.Capacity()
	current := now.UnixNano() / int64(m.cfg.bucketWidth())
	oldest := current - int64(m.cfg.Buckets) + 1

	total := 0
	for i, e := range w.epochs {
		if e < oldest {
			w.epochs[i] = -1
			w.counts[i] = 0
			continue
		}
		total += w.counts[i]
	}
	w.lastSeen = now

	if total >= capacity {
		return Decision{
			Allowed:    false,
			Limit:      capacity,
			Remaining:  0,
			RetryAfter: retryAfter(m.cfg, w.epochs, w.counts, current, total, now),
		}, nil
	}

	slot := int(current % int64(m.cfg.Buckets))
	if w.epochs[slot] != current {
		w.epochs[slot] = current
		w.counts[slot] = 0
	}
	w.counts[slot]++

	return Decision{Allowed: true, Limit: capacity, Remaining: capacity - total - 1}, nil
}

func (m *Memory) Reset(_ context.Context, key string) error {
	s := m.shardFor(key)
	s.mu.Lock()
	if w, ok := s.windows[key]; ok {
		w.mu.Lock()
		w.dead = true
		w.mu.Unlock()
		delete(s.windows, key)
	}
	s.mu.Unlock()
	return nil
}

// Cleanup drops keys that have seen no traffic for a full window and returns
// how many were removed.
func (m *Memory) Cleanup(now time.Time) int {
	removed := 0
	for i := range m.shards {
		s := &m.shards[i]
		s.mu.Lock()
		for key, w := range s.windows {
			w.mu.Lock()
			idle := now.Sub(w.lastSeen) >= m.cfg.Window
			if idle {
				w.dead = true
			}
			w.mu.Unlock()
			if idle {
				delete(s.windows, key)
				removed++
			}
		}
		s.mu.Unlock()
	}
	return removed
}
