package otel

import (
	"context"
	"sync"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/MrEthical07/credguard"
	"github.com/MrEthical07/credguard/metrics/export/internaldefs"
)

var _ Source = (*credguard.Engine)(nil)

type fakeSource struct {
	mu       sync.RWMutex
	snapshot credguard.MetricsSnapshot
	dropped  uint64
	inlined  uint64
}

func (f *fakeSource) MetricsSnapshot() credguard.MetricsSnapshot {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := credguard.MetricsSnapshot{
		Counters:   make(map[credguard.MetricID]uint64, len(f.snapshot.Counters)),
		Histograms: make(map[credguard.MetricID][]uint64, len(f.snapshot.Histograms)),
	}
	for k, v := range f.snapshot.Counters {
		out.Counters[k] = v
	}
	for k, buckets := range f.snapshot.Histograms {
		out.Histograms[k] = append([]uint64(nil), buckets...)
	}
	return out
}

func (f *fakeSource) AuditDropped() uint64 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.dropped
}

func (f *fakeSource) AuditInlined() uint64 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.inlined
}

func newReader() (*sdkmetric.ManualReader, *sdkmetric.MeterProvider) {
	reader := sdkmetric.NewManualReader()
	return reader, sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
}

// pointKey renders a data point as name{k=v}, or just name when it has no
// attributes.
func pointKey(name string, attrs attribute.Set) string {
	if attrs.Len() == 0 {
		return name
	}
	return name + "{" + attrs.Encoded(attribute.DefaultEncoder()) + "}"
}

func collect(t *testing.T, reader *sdkmetric.ManualReader) map[string]int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("collect failed: %v", err)
	}
	out := make(map[string]int64)
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			switch data := m.Data.(type) {
			case metricdata.Sum[int64]:
				for _, dp := range data.DataPoints {
					out[pointKey(m.Name, dp.Attributes)] = dp.Value
				}
			case metricdata.Gauge[int64]:
				for _, dp := range data.DataPoints {
					out[pointKey(m.Name, dp.Attributes)] = dp.Value
				}
			}
		}
	}
	return out
}

func TestExporterGroupsCountersByFamily(t *testing.T) {
	reader, provider := newReader()
	src := &fakeSource{
		snapshot: credguard.MetricsSnapshot{
			Counters: map[credguard.MetricID]uint64{
				credguard.MetricLoginSuccess:         3,
				credguard.MetricLoginLocked:          2,
				credguard.MetricRefreshReuseDetected: 1,
				credguard.MetricTokenReplayed:        4,
				credguard.MetricAPIKeyAuthFailure:    5,
				credguard.MetricAccountLocked:        2,
			},
			Histograms: map[credguard.MetricID][]uint64{
				credguard.MetricValidateLatency: {1, 1, 1, 1, 1, 1, 1, 1},
			},
		},
		dropped: 6,
		inlined: 1,
	}

	exp, err := NewExporter(provider.Meter("credguard-test"), src)
	if err != nil {
		t.Fatalf("NewExporter failed: %v", err)
	}
	defer func() {
		if err := exp.Close(); err != nil {
			t.Fatalf("Close failed: %v", err)
		}
	}()

	got := collect(t, reader)
	want := map[string]int64{
		"credguard.login.events{credguard.event=login_success}":            3,
		"credguard.login.events{credguard.event=login_locked}":             2,
		"credguard.login.events{credguard.event=login_failure}":            0,
		"credguard.session.events{credguard.event=refresh_reuse_detected}": 1,
		"credguard.token.events{credguard.event=token_replayed}":           4,
		"credguard.apikey.events{credguard.event=api_key_auth_failure}":    5,
		"credguard.lockout.events{credguard.event=account_locked}":         2,
		"credguard_validate_latency_seconds.bucket{le=0.005}":              1,
		"credguard_validate_latency_seconds.bucket{le=+Inf}":               8,
		"credguard_validate_latency_seconds.count":                         8,
		"credguard.audit.events{credguard.outcome=dropped}":                6,
		"credguard.audit.events{credguard.outcome=inlined}":                1,
	}
	for name, v := range want {
		gv, ok := got[name]
		if !ok {
			t.Fatalf("%s: missing (have %v)", name, got)
		}
		if gv != v {
			t.Fatalf("%s: expected %d, got %d", name, v, gv)
		}
	}
	if _, ok := got["credguard.session.events{credguard.event=login_success}"]; ok {
		t.Fatal("login counter leaked into the session family")
	}
}

func TestExporterPublishesEveryCounterOnce(t *testing.T) {
	reader, provider := newReader()
	exp, err := NewExporter(provider.Meter("credguard-test"), &fakeSource{})
	if err != nil {
		t.Fatalf("NewExporter failed: %v", err)
	}
	defer exp.Close()

	got := collect(t, reader)
	for _, def := range internaldefs.CounterDefs {
		key := FamilyInstrumentName(def.Family) + "{credguard.event=" + def.ID.String() + "}"
		if _, ok := got[key]; !ok {
			t.Fatalf("counter %s not exported under %s", def.ID, key)
		}
	}
}

func TestExporterRejectsNilArguments(t *testing.T) {
	_, provider := newReader()
	if _, err := NewExporter(provider.Meter("credguard-test"), nil); err != ErrNilSource {
		t.Fatalf("expected ErrNilSource, got %v", err)
	}
	if _, err := NewExporter(nil, &fakeSource{}); err != ErrNilMeter {
		t.Fatalf("expected ErrNilMeter, got %v", err)
	}
}

func TestExporterConcurrentCollectNoPanic(t *testing.T) {
	reader, provider := newReader()
	src := &fakeSource{
		snapshot: credguard.MetricsSnapshot{
			Counters: map[credguard.MetricID]uint64{credguard.MetricLoginSuccess: 1},
		},
	}

	exp, err := NewExporter(provider.Meter("credguard-test"), src)
	if err != nil {
		t.Fatalf("NewExporter failed: %v", err)
	}
	defer exp.Close()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(v uint64) {
			defer wg.Done()
			src.mu.Lock()
			src.snapshot.Counters[credguard.MetricLoginSuccess] = v
			src.mu.Unlock()

			var rm metricdata.ResourceMetrics
			_ = reader.Collect(context.Background(), &rm)
		}(uint64(i + 1))
	}
	wg.Wait()
}
