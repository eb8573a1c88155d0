package credguard

import (
	"sync/atomic"
	"time"
)

// MetricID identifies one engine counter.
type MetricID uint16

const (
	MetricLoginSuccess MetricID = iota
	MetricLoginFailure
	MetricLoginLocked
	MetricPasswordHashUpgraded
	MetricRefreshSuccess
	MetricRefreshFailure
	MetricRefreshReuseDetected
	MetricRefreshFamilyExhausted
	MetricLogout
	MetricValidateSuccess
	MetricValidateFailure
	MetricTokenBlacklisted
	MetricTokenReplayed
	MetricTokenBindingMismatch
	MetricTokenRevoked
	MetricAPIKeyAuthSuccess
	MetricAPIKeyAuthFailure
	MetricAPIKeyCreated
	MetricAPIKeyRotated
	MetricAPIKeyRevoked
	MetricRateLimitHit
	MetricPasswordChangeSuccess
	MetricPasswordChangeRejected
	MetricAccountLocked
	MetricAccountUnlocked
	MetricJanitorRun
	MetricJanitorPurged
	// MetricValidateLatency only carries a histogram.
	MetricValidateLatency
	metricIDCount
)

var metricNames = [metricIDCount]string{
	MetricLoginSuccess:           "login_success",
	MetricLoginFailure:           "login_failure",
	MetricLoginLocked:            "login_locked",
	MetricPasswordHashUpgraded:   "password_hash_upgraded",
	MetricRefreshSuccess:         "refresh_success",
	MetricRefreshFailure:         "refresh_failure",
	MetricRefreshReuseDetected:   "refresh_reuse_detected",
	MetricRefreshFamilyExhausted: "refresh_family_exhausted",
	MetricLogout:                 "logout",
	MetricValidateSuccess:        "validate_success",
	MetricValidateFailure:        "validate_failure",
	MetricTokenBlacklisted:       "token_blacklisted",
	MetricTokenReplayed:          "token_replayed",
	MetricTokenBindingMismatch:   "token_binding_mismatch",
	MetricTokenRevoked:           "token_revoked",
	MetricAPIKeyAuthSuccess:      "api_key_auth_success",
	MetricAPIKeyAuthFailure:      "api_key_auth_failure",
	MetricAPIKeyCreated:          "api_key_created",
	MetricAPIKeyRotated:          "api_key_rotated",
	MetricAPIKeyRevoked:          "api_key_revoked",
	MetricRateLimitHit:           "rate_limit_hit",
	MetricPasswordChangeSuccess:  "password_change_success",
	MetricPasswordChangeRejected: "password_change_rejected",
	MetricAccountLocked:          "account_locked",
	MetricAccountUnlocked:        "account_unlocked",
	MetricJanitorRun:             "janitor_run",
	MetricJanitorPurged:          "janitor_purged",
	MetricValidateLatency:        "validate_latency",
}

// String returns the snake_case name exporters build metric names from.
func (id MetricID) String() string {
	if id >= metricIDCount {
		return "unknown"
	}
	return metricNames[id]
}

const (
	histBucketCount = 8
	cacheLineSize   = 64
)

// HistogramBounds are the upper bounds of the latency buckets. The last
// bucket is unbounded.
var HistogramBounds = [histBucketCount]time.Duration{
	5 * time.Millisecond,
	10 * time.Millisecond,
	25 * time.Millisecond,
	50 * time.Millisecond,
	100 * time.Millisecond,
	250 * time.Millisecond,
	500 * time.Millisecond,
	0,
}

type metricHistogram struct {
	buckets [histBucketCount]uint64
}

type paddedCounter struct {
	value uint64
	_     [cacheLineSize - 8]byte
}

// Metrics holds lock-free counters. Each counter sits on its own cache line
// so hot counters do not contend.
type Metrics struct {
	enabled       bool
	enableLatency bool
	counters      [metricIDCount]paddedCounter
	histograms    [metricIDCount]metricHistogram
}

// MetricsSnapshot is a point-in-time copy of every counter. Histogram
// buckets are not cumulative.
type MetricsSnapshot struct {
	Counters   map[MetricID]uint64
	Histograms map[MetricID][]uint64
}

func NewMetrics(cfg MetricsConfig) *Metrics {
	return &Metrics{
		enabled:       cfg.Enabled,
		enableLatency: cfg.Enabled && cfg.EnableLatencyHistograms,
	}
}

func (m *Metrics) Enabled() bool {
	return m != nil && m.enabled
}

func (m *Metrics) LatencyEnabled() bool {
	return m != nil && m.enableLatency
}

func (m *Metrics) Inc(id MetricID) {
	m.Add(id, 1)
}

func (m *Metrics) Add(id MetricID, n uint64) {
	if m == nil || !m.enabled || id >= metricIDCount || n == 0 {
		return
	}
	atomic.AddUint64(&m.counters[id].value, n)
}

// Observe records d in the latency histogram of id. Only
// MetricValidateLatency keeps a histogram.
func (m *Metrics) Observe(id MetricID, d time.Duration) {
	if m == nil || !m.enabled || !m.enableLatency || id != MetricValidateLatency {
		return
	}
	atomic.AddUint64(&m.histograms[id].buckets[bucketIndex(d)], 1)
}

func (m *Metrics) Value(id MetricID) uint64 {
	if m == nil || id >= metricIDCount {
		return 0
	}
	return atomic.LoadUint64(&m.counters[id].value)
}

func (m *Metrics) Snapshot() MetricsSnapshot {
	if m == nil || !m.enabled {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}

	s := MetricsSnapshot{
		Counters:   make(map[MetricID]uint64, int(metricIDCount)),
		Histograms: make(map[MetricID][]uint64, 1),
	}
	for id := MetricID(0); id < metricIDCount; id++ {
		if id == MetricValidateLatency {
			continue
		}
		s.Counters[id] = atomic.LoadUint64(&m.counters[id].value)
	}

	if m.enableLatency {
		buckets := make([]uint64, histBucketCount)
		for i := 0; i < histBucketCount; i++ {
			buckets[i] = atomic.LoadUint64(&m.histograms[MetricValidateLatency].buckets[i])
		}
		s.Histograms[MetricValidateLatency] = buckets
	}
	return s
}

func bucketIndex(d time.Duration) int {
	for i, bound := range HistogramBounds {
		if bound == 0 || d <= bound {
			return i
		}
	}
	return histBucketCount - 1
}
