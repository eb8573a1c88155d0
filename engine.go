package credguard

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/MrEthical07/credguard/apikey"
	"github.com/MrEthical07/credguard/audit"
	"github.com/MrEthical07/credguard/internal/rate"
	"github.com/MrEthical07/credguard/jwt"
	"github.com/MrEthical07/credguard/lockout"
	"github.com/MrEthical07/credguard/password"
	"github.com/MrEthical07/credguard/refresh"
	"github.com/MrEthical07/credguard/token"
)

// Engine ties the credential components together behind one API.
//
// An Engine is built once by a Builder and is safe for concurrent use. Its
// configuration is fixed after Build.
type Engine struct {
	config  Config
	log     logrus.FieldLogger
	users   UserProvider
	metrics *Metrics
	now     func() time.Time

	audit *audit.Dispatcher
	sink  audit.Sink

	hasher    *password.MultiHasher
	policy    *password.Policy
	breach    *password.BreachChecker
	passwords password.RecordStore

	dummyOnce sync.Once
	dummyHash string

	lockout    *lockout.Tracker
	keyring    *jwt.Keyring
	tokens     *token.Service
	refresh    *refresh.Manager
	rateMemory *rate.Memory
	apiKeys    *apikey.Manager

	stopWatch context.CancelFunc

	janitorMu     sync.Mutex
	janitor       *cron.Cron
	janitorCancel context.CancelFunc
}

// Close stops background work and flushes the audit dispatcher. It is safe
// to call more than once.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	e.stopJanitor()
	if e.stopWatch != nil {
		e.stopWatch()
	}
	if e.audit != nil {
		e.audit.Close()
	}
}

// AuditDropped returns how many audit events were dropped because the
// dispatcher buffer was full.
func (e *Engine) AuditDropped() uint64 {
	if e == nil || e.audit == nil {
		return 0
	}
	return e.audit.Dropped()
}

// AuditInlined returns how many high or critical events were delivered on
// the caller's goroutine because the urgent lane was full.
func (e *Engine) AuditInlined() uint64 {
	if e == nil || e.audit == nil {
		return 0
	}
	return e.audit.Inlined()
}

func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil || e.metrics == nil {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}
	return e.metrics.Snapshot()
}

// Config returns a copy of the active configuration.
func (e *Engine) Config() Config {
	return cloneConfig(e.config)
}

// Keyring exposes the signing keyring so hosts can rotate keys at runtime.
func (e *Engine) Keyring() *jwt.Keyring {
	return e.keyring
}

func (e *Engine) ready() bool {
	return e != nil && e.tokens != nil && e.refresh != nil && e.hasher != nil
}

func (e *Engine) metricInc(id MetricID) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.Inc(id)
}

// emit records an engine-level audit event with the client IP from ctx.
func (e *Engine) emit(ctx context.Context, eventType string, sev audit.Severity, subject string, err error, details map[string]string) {
	if e.sink == nil {
		return
	}
	ev := audit.Event{
		EventType: eventType,
		Severity:  sev,
		SubjectID: subject,
		IP:        clientIPFromContext(ctx),
		Success:   err == nil,
		Details:   details,
	}
	if err != nil {
		ev.Error = err.Error()
	}
	audit.Record(ctx, e.sink, ev)
}

// verifyDummy burns the same hashing work as a real verification so an
// unknown identifier cannot be told apart by latency.
func (e *Engine) verifyDummy(pw string) {
	e.dummyOnce.Do(func() {
		hash, err := e.hasher.Hash("credguard-timing-equalizer")
		if err != nil {
			e.log.WithError(err).Warn("credguard: dummy hash unavailable")
			return
		}
		e.dummyHash = hash
	})
	if e.dummyHash != "" {
		_, _ = e.hasher.Verify(pw, e.dummyHash)
	}
}
