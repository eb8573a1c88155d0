package credguard

import (
	"context"
	"testing"
	"time"
)

func TestCleanupExpiredIsIdempotent(t *testing.T) {
	backends(t, func(t *testing.T, opts ...engineOption) {
		e, users := newTestEngine(t, nil, opts...)
		addUser(t, e, users, "u1", "alice", alicePassword)
		ctx := context.Background()
		login, err := e.Login(ctx, "alice", alicePassword)
		if err != nil {
			t.Fatalf("login failed: %v", err)
		}

		if err := e.RevokeAccess(ctx, login.AccessToken); err != nil {
			t.Fatalf("revoke failed: %v", err)
		}
		for i := 0; i < 2; i++ {
			if _, err := e.CleanupExpired(ctx); err != nil {
				t.Fatalf("cleanup %d failed: %v", i, err)
			}
		}
		// Unexpired entries survive cleanup.
		if _, err := e.ValidateAccess(ctx, login.AccessToken); err == nil {
			t.Fatalf("expected the revoked token to stay blacklisted")
		}
		if got := e.MetricsSnapshot().Counters[MetricJanitorRun]; got != 2 {
			t.Fatalf("expected 2 janitor runs, got %d", got)
		}
	})
}

func TestStartJanitor(t *testing.T) {
	e, _ := newTestEngine(t, func(c *Config) {
		c.Janitor.Schedule = "@every 1s"
	})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := e.StartJanitor(ctx); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	if err := e.StartJanitor(ctx); err == nil {
		t.Fatalf("expected a second start to fail")
	}

	deadline := time.Now().Add(3 * time.Second)
	for e.MetricsSnapshot().Counters[MetricJanitorRun] == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("janitor never ran")
		}
		time.Sleep(50 * time.Millisecond)
	}

	e.Close()
	if err := e.StartJanitor(context.Background()); err != nil {
		t.Fatalf("restart after close failed: %v", err)
	}
}

func TestStartJanitorRejectsBadSchedule(t *testing.T) {
	e, _ := newTestEngine(t, func(c *Config) {
		c.Janitor.Schedule = "every now and then"
	})
	if err := e.StartJanitor(context.Background()); err == nil {
		t.Fatalf("expected an invalid schedule to fail")
	}
}
