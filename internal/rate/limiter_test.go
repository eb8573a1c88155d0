package rate

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

var t0 = time.Unix(1_700_000_000, 0)

func testConfig() Config {
	return Config{Requests: 5, Burst: 2, Window: 10 * time.Second, Buckets: 10}
}

func limiters(t *testing.T) map[string]Limiter {
	t.Helper()
	mem, err := NewMemory(testConfig())
	if err != nil {
		t.Fatalf("NewMemory: %v", err)
	}

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	red, err := NewRedis(rdb, testConfig())
	if err != nil {
		t.Fatalf("NewRedis: %v", err)
	}

	return map[string]Limiter{"memory": mem, "redis": red}
}

func TestLimiterBoundaryAndReset(t *testing.T) {
	for name, l := range limiters(t) {
		name, l := name, l
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			for i := 0; i < 7; i++ {
				d, err := l.Allow(ctx, "k1", t0)
				if err != nil {
					t.Fatalf("Allow: %v", err)
				}
				if !d.Allowed {
					t.Fatalf("request %d denied within capacity", i+1)
				}
				if d.Remaining != 7-i-1 {
					t.Fatalf("request %d: expected remaining %d, got %d", i+1, 7-i-1, d.Remaining)
				}
			}

			d, err := l.Allow(ctx, "k1", t0.Add(500*time.Millisecond))
			if err != nil {
				t.Fatalf("Allow: %v", err)
			}
			if d.Allowed {
				t.Fatal("expected request over capacity to be denied")
			}
			if d.RetryAfter <= 0 {
				t.Fatalf("expected positive RetryAfter, got %v", d.RetryAfter)
			}
			if d.RetryAfter != 9500*time.Millisecond {
				t.Fatalf("expected RetryAfter 9.5s, got %v", d.RetryAfter)
			}

			d, err = l.Allow(ctx, "k1", t0.Add(10*time.Second))
			if err != nil {
				t.Fatalf("Allow: %v", err)
			}
			if !d.Allowed || d.Remaining != 6 {
				t.Fatalf("expected counter back at zero after the window slid, got %+v", d)
			}
		})
	}
}

func TestLimiterSlidesBucketByBucket(t *testing.T) {
	for name, l := range limiters(t) {
		name, l := name, l
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			for i := 0; i < 4; i++ {
				if d, _ := l.Allow(ctx, "k2", t0); !d.Allowed {
					t.Fatal("unexpected denial")
				}
			}
			for i := 0; i < 3; i++ {
				if d, _ := l.Allow(ctx, "k2", t0.Add(5*time.Second)); !d.Allowed {
					t.Fatal("unexpected denial")
				}
			}

			d, _ := l.Allow(ctx, "k2", t0.Add(9*time.Second))
			if d.Allowed || d.RetryAfter != time.Second {
				t.Fatalf("expected denial with 1s retry, got %+v", d)
			}

			d, _ = l.Allow(ctx, "k2", t0.Add(10*time.Second))
			if !d.Allowed || d.Remaining != 3 {
				t.Fatalf("expected oldest bucket to slide out, got %+v", d)
			}
		})
	}
}

func TestLimiterKeysAreIsolated(t *testing.T) {
	for name, l := range limiters(t) {
		name, l := name, l
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			for i := 0; i < 7; i++ {
				_, _ = l.Allow(ctx, "a", t0)
			}
			if d, _ := l.Allow(ctx, "a", t0); d.Allowed {
				t.Fatal("expected key a to be exhausted")
			}
			if d, _ := l.Allow(ctx, "b", t0); !d.Allowed {
				t.Fatal("expected key b to be unaffected")
			}

			if err := l.Reset(ctx, "a"); err != nil {
				t.Fatalf("Reset: %v", err)
			}
			if d, _ := l.Allow(ctx, "a", t0); !d.Allowed {
				t.Fatal("expected Reset to clear key a")
			}
		})
	}
}

func TestLimiterConcurrentAllowIsAtomic(t *testing.T) {
	for name, l := range limiters(t) {
		name, l := name, l
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			var (
				wg      sync.WaitGroup
				allowed atomic.Int32
			)
			for i := 0; i < 50; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					d, err := l.Allow(ctx, "hot", t0)
					if err != nil {
						t.Errorf("Allow: %v", err)
						return
					}
					if d.Allowed {
						allowed.Add(1)
					}
				}()
			}
			wg.Wait()
			if allowed.Load() != 7 {
				t.Fatalf("expected exactly 7 allowed, got %d", allowed.Load())
			}
		})
	}
}

func TestMemoryCleanupDropsIdleKeys(t *testing.T) {
	m, err := NewMemory(testConfig())
	if err != nil {
		t.Fatalf("NewMemory: %v", err)
	}
	ctx := context.Background()
	_, _ = m.Allow(ctx, "idle", t0)
	_, _ = m.Allow(ctx, "busy", t0.Add(8*time.Second))

	if n := m.Cleanup(t0.Add(10 * time.Second)); n != 1 {
		t.Fatalf("expected 1 idle key removed, got %d", n)
	}
	if n := m.Cleanup(t0.Add(10 * time.Second)); n != 0 {
		t.Fatalf("expected cleanup to be idempotent, got %d", n)
	}
}

func TestConfigValidate(t *testing.T) {
	bad := []Config{
		{Requests: 0, Window: time.Second, Buckets: 1},
		{Requests: 1, Burst: -1, Window: time.Second, Buckets: 1},
		{Requests: 1, Window: 0, Buckets: 1},
		{Requests: 1, Window: time.Second, Buckets: 0},
	}
	for i, c := range bad {
		if err := c.Validate(); err == nil {
			t.Fatalf("case %d: expected validation error", i)
		}
	}
	if err := testConfig().Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestMemoryAllowSkipsWindowDroppedBeforeLock(t *testing.T) {
	m, err := NewMemory(testConfig())
	if err != nil {
		t.Fatalf("NewMemory: %v", err)
	}
	ctx := context.Background()
	_, _ = m.Allow(ctx, "k", t0)

	// A lookup that loses the race with Cleanup holds a pointer to the
	// window that is about to leave the shard.
	stale := m.window("k")
	if n := m.Cleanup(t0.Add(10 * time.Second)); n != 1 {
		t.Fatalf("expected the idle window removed, got %d", n)
	}

	live := m.liveWindow("k")
	live.mu.Unlock()
	if live == stale {
		t.Fatal("expected a fresh window after cleanup")
	}

	now := t0.Add(11 * time.Second)
	for i := 0; i < 2; i++ {
		if _, err := m.Allow(ctx, "k", now); err != nil {
			t.Fatalf("Allow: %v", err)
		}
	}
	d, _ := m.Allow(ctx, "k", now)
	if want := testConfig().Capacity() - 3; d.Remaining != want {
		t.Fatalf("expected every request counted in the live window, remaining %d want %d", d.Remaining, want)
	}

	if err := m.Reset(ctx, "k"); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	if !live.dead {
		t.Fatal("expected Reset to retire the window")
	}
}
