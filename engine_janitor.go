package credguard

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// CleanupStats counts the entries purged by one CleanupExpired run.
type CleanupStats struct {
	Revocations int
	Refresh     int
	RateLimit   int
}

func (s CleanupStats) Total() int {
	return s.Revocations + s.Refresh + s.RateLimit
}

// CleanupExpired purges expired blacklist and replay entries, expired
// refresh tokens and idle rate-limit windows. It is idempotent; Redis-backed
// sets expire on their own and report zero.
func (e *Engine) CleanupExpired(ctx context.Context) (CleanupStats, error) {
	var stats CleanupStats
	if !e.ready() {
		return stats, ErrEngineNotReady
	}

	var errs []error
	n, err := e.tokens.CleanupExpired(ctx)
	stats.Revocations = n
	if err != nil {
		errs = append(errs, backendError(err))
	}
	n, err = e.refresh.CleanupExpired(ctx)
	stats.Refresh = n
	if err != nil {
		errs = append(errs, backendError(err))
	}
	if e.rateMemory != nil {
		stats.RateLimit = e.rateMemory.Cleanup(e.now())
	}

	e.metricInc(MetricJanitorRun)
	if total := stats.Total(); total > 0 {
		e.metrics.Add(MetricJanitorPurged, uint64(total))
	}
	return stats, errors.Join(errs...)
}

// StartJanitor runs CleanupExpired on Janitor.Schedule until ctx is done or
// the engine is closed. Overlapping runs are skipped.
func (e *Engine) StartJanitor(ctx context.Context) error {
	if !e.ready() {
		return ErrEngineNotReady
	}

	e.janitorMu.Lock()
	defer e.janitorMu.Unlock()
	if e.janitor != nil {
		return errors.New("janitor already running")
	}

	ctx, cancel := context.WithCancel(ctx)
	logger := cron.PrintfLogger(e.log.WithField("component", "janitor"))
	c := cron.New(cron.WithLogger(logger), cron.WithChain(cron.SkipIfStillRunning(logger)))
	_, err := c.AddFunc(e.config.Janitor.Schedule, func() { e.runJanitor(ctx) })
	if err != nil {
		cancel()
		return fmt.Errorf("janitor schedule %q: %w", e.config.Janitor.Schedule, err)
	}
	c.Start()
	e.janitor = c
	e.janitorCancel = cancel

	go func() {
		<-ctx.Done()
		e.janitorMu.Lock()
		if e.janitor == c {
			e.janitor, e.janitorCancel = nil, nil
		}
		e.janitorMu.Unlock()
		<-c.Stop().Done()
	}()
	return nil
}

func (e *Engine) runJanitor(parent context.Context) {
	timeout := e.config.Janitor.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	log := e.log.WithField("component", "janitor")
	stats, err := e.CleanupExpired(ctx)
	if err != nil {
		log.WithError(err).Warn("credguard: cleanup incomplete")
	}
	log.WithField("revocations", stats.Revocations).
		WithField("refresh", stats.Refresh).
		WithField("rate_limit", stats.RateLimit).
		Debug("credguard: cleanup finished")
}

func (e *Engine) stopJanitor() {
	e.janitorMu.Lock()
	c, cancel := e.janitor, e.janitorCancel
	e.janitor, e.janitorCancel = nil, nil
	e.janitorMu.Unlock()
	if cancel != nil {
		cancel()
	}
	if c != nil {
		<-c.Stop().Done()
	}
}
