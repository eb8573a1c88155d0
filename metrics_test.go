package credguard

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func counters(e *Engine, ids ...MetricID) map[MetricID]uint64 {
	snap := e.MetricsSnapshot()
	out := make(map[MetricID]uint64, len(ids))
	for _, id := range ids {
		out[id] = snap.Counters[id]
	}
	return out
}

func TestMetricsFollowSessionLifecycle(t *testing.T) {
	e, users := newTestEngine(t, nil)
	addUser(t, e, users, "u1", "alice", alicePassword)
	ctx := context.Background()

	if _, err := e.Login(ctx, "alice", "wrong-password-1"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
	login, err := e.Login(ctx, "alice", alicePassword)
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}
	if _, err := e.ValidateAccess(ctx, login.AccessToken); err != nil {
		t.Fatalf("validate failed: %v", err)
	}
	rotated, err := e.Refresh(ctx, login.RefreshToken)
	if err != nil {
		t.Fatalf("refresh failed: %v", err)
	}
	if _, err := e.Refresh(ctx, login.RefreshToken); !errors.Is(err, ErrTokenReused) {
		t.Fatalf("expected ErrTokenReused, got %v", err)
	}
	if _, err := e.ValidateAccess(ctx, rotated.AccessToken); !errors.Is(err, ErrTokenBlacklisted) {
		t.Fatalf("expected family access token blacklisted, got %v", err)
	}

	again, err := e.Login(ctx, "alice", alicePassword)
	if err != nil {
		t.Fatalf("second login failed: %v", err)
	}
	if err := e.Logout(ctx, again.RefreshToken, again.AccessToken); err != nil {
		t.Fatalf("logout failed: %v", err)
	}

	want := map[MetricID]uint64{
		MetricLoginSuccess:         2,
		MetricLoginFailure:         1,
		MetricValidateSuccess:      1,
		MetricValidateFailure:      1,
		MetricTokenBlacklisted:     1,
		MetricRefreshSuccess:       1,
		MetricRefreshFailure:       1,
		MetricRefreshReuseDetected: 1,
		MetricLogout:               1,
		MetricTokenRevoked:         1,
		MetricAccountLocked:        0,
	}
	got := counters(e, MetricLoginSuccess, MetricLoginFailure, MetricValidateSuccess,
		MetricValidateFailure, MetricTokenBlacklisted, MetricRefreshSuccess, MetricRefreshFailure,
		MetricRefreshReuseDetected, MetricLogout, MetricTokenRevoked, MetricAccountLocked)
	for id, v := range want {
		if got[id] != v {
			t.Fatalf("%s: expected %d, got %d", id, v, got[id])
		}
	}
}

func TestMetricsFollowAPIKeyLifecycle(t *testing.T) {
	e, _ := newTestEngine(t, nil)
	ctx := context.Background()

	raw, key, err := e.GenerateAPIKey(ctx, "svc-1", []string{"reports:read"}, time.Hour, nil)
	if err != nil {
		t.Fatalf("generate failed: %v", err)
	}
	if _, err := e.AuthenticateAPIKey(ctx, raw, "reports:read"); err != nil {
		t.Fatalf("authenticate failed: %v", err)
	}
	if _, err := e.AuthenticateAPIKey(ctx, raw, "reports:write"); err == nil {
		t.Fatal("expected missing scope to fail")
	}
	rotatedRaw, rotated, err := e.RotateAPIKey(ctx, key.ID)
	if err != nil {
		t.Fatalf("rotate failed: %v", err)
	}
	if err := e.RevokeAPIKey(ctx, rotated.ID); err != nil {
		t.Fatalf("revoke failed: %v", err)
	}
	if _, err := e.AuthenticateAPIKey(ctx, rotatedRaw); err == nil {
		t.Fatal("expected revoked key to fail")
	}

	want := map[MetricID]uint64{
		MetricAPIKeyCreated:     1,
		MetricAPIKeyAuthSuccess: 1,
		MetricAPIKeyAuthFailure: 2,
		MetricAPIKeyRotated:     1,
		MetricAPIKeyRevoked:     1,
	}
	got := counters(e, MetricAPIKeyCreated, MetricAPIKeyAuthSuccess, MetricAPIKeyAuthFailure,
		MetricAPIKeyRotated, MetricAPIKeyRevoked)
	for id, v := range want {
		if got[id] != v {
			t.Fatalf("%s: expected %d, got %d", id, v, got[id])
		}
	}
}

func TestMetricsDisabledEngineCountsNothing(t *testing.T) {
	e, users := newTestEngine(t, func(cfg *Config) { cfg.Metrics.Enabled = false })
	addUser(t, e, users, "u1", "alice", alicePassword)
	ctx := context.Background()

	login, err := e.Login(ctx, "alice", alicePassword)
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}
	if _, err := e.ValidateAccess(ctx, login.AccessToken); err != nil {
		t.Fatalf("validate failed: %v", err)
	}
	for id, v := range e.MetricsSnapshot().Counters {
		if v != 0 {
			t.Fatalf("%s: expected 0 with metrics disabled, got %d", id, v)
		}
	}
}

func TestMetricsConcurrentValidationsAreCounted(t *testing.T) {
	e, users := newTestEngine(t, nil)
	addUser(t, e, users, "u1", "alice", alicePassword)
	ctx := context.Background()

	login, err := e.Login(ctx, "alice", alicePassword)
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}

	const goroutines = 8
	const perG = 50
	var wg sync.WaitGroup
	wg.Add(goroutines)
	for i := 0; i < goroutines; i++ {
		go func() {
			defer wg.Done()
			for j := 0; j < perG; j++ {
				_, _ = e.ValidateAccess(ctx, login.AccessToken)
			}
		}()
	}
	wg.Wait()

	if got := e.MetricsSnapshot().Counters[MetricValidateSuccess]; got != goroutines*perG {
		t.Fatalf("expected %d validations, got %d", goroutines*perG, got)
	}
}

func TestValidateLatencyBucketsFollowHistogramBounds(t *testing.T) {
	m := NewMetrics(MetricsConfig{Enabled: true, EnableLatencyHistograms: true})

	// One sample exactly on each finite bound, one past the last.
	for _, bound := range HistogramBounds {
		if bound == 0 {
			m.Observe(MetricValidateLatency, time.Second)
			continue
		}
		m.Observe(MetricValidateLatency, bound)
	}

	buckets := m.Snapshot().Histograms[MetricValidateLatency]
	if len(buckets) != len(HistogramBounds) {
		t.Fatalf("expected %d buckets, got %d", len(HistogramBounds), len(buckets))
	}
	for i, v := range buckets {
		if v != 1 {
			t.Fatalf("bucket %d (le %v) expected 1, got %d", i, HistogramBounds[i], v)
		}
	}
}

func TestMetricsWithoutLatencyHistogramsSkipObservations(t *testing.T) {
	e, users := newTestEngine(t, func(cfg *Config) { cfg.Metrics.EnableLatencyHistograms = false })
	addUser(t, e, users, "u1", "alice", alicePassword)
	ctx := context.Background()

	login, err := e.Login(ctx, "alice", alicePassword)
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}
	if _, err := e.ValidateAccess(ctx, login.AccessToken); err != nil {
		t.Fatalf("validate failed: %v", err)
	}
	for i, v := range e.MetricsSnapshot().Histograms[MetricValidateLatency] {
		if v != 0 {
			t.Fatalf("bucket %d: expected no samples, got %d", i, v)
		}
	}
	if got := e.MetricsSnapshot().Counters[MetricValidateSuccess]; got != 1 {
		t.Fatalf("expected counters to keep working, got %d", got)
	}
}

func TestMetricsIgnoreOutOfRangeAndNonHistogramIDs(t *testing.T) {
	m := NewMetrics(MetricsConfig{Enabled: true, EnableLatencyHistograms: true})
	m.Inc(metricIDCount)
	m.Observe(MetricLoginSuccess, time.Millisecond)

	if got := m.Value(metricIDCount); got != 0 {
		t.Fatalf("expected out-of-range id to read 0, got %d", got)
	}
	if _, ok := m.Snapshot().Histograms[MetricLoginSuccess]; ok {
		t.Fatalf("expected no histogram for a counter-only metric")
	}
}

func TestMetricNamesAreUnique(t *testing.T) {
	seen := make(map[string]MetricID)
	for id := MetricID(0); id < metricIDCount; id++ {
		name := id.String()
		if name == "" || name == "unknown" {
			t.Fatalf("metric %d has no name", id)
		}
		if prev, ok := seen[name]; ok {
			t.Fatalf("metrics %d and %d share name %q", prev, id, name)
		}
		seen[name] = id
	}
}

func TestNilMetricsAreSafe(t *testing.T) {
	var m *Metrics
	m.Inc(MetricLoginSuccess)
	m.Observe(MetricValidateLatency, time.Millisecond)
	if m.Enabled() || m.Value(MetricLoginSuccess) != 0 {
		t.Fatalf("expected nil metrics to be inert")
	}
	if snap := m.Snapshot(); len(snap.Counters) != 0 {
		t.Fatalf("expected empty snapshot")
	}
}
