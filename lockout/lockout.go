package lockout

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MrEthical07/credguard/audit"
)

var (
	// ErrUnavailable indicates the lockout backend is unreachable.
	ErrUnavailable = errors.New("lockout backend unavailable")
	// ErrInvalidConfig is returned by NewTracker for unusable settings.
	ErrInvalidConfig = errors.New("invalid lockout config")
)

// Config holds the lockout policy.
type Config struct {
	// Threshold is the number of failures within Window that locks the subject.
	Threshold int
	Window    time.Duration
	Duration  time.Duration
}

// Validate reports unusable settings.
func (c Config) Validate() error {
	if c.Threshold < 1 {
		return fmt.Errorf("%w: threshold must be >= 1", ErrInvalidConfig)
	}
	if c.Window <= 0 {
		return fmt.Errorf("%w: window must be > 0", ErrInvalidConfig)
	}
	if c.Duration <= 0 {
		return fmt.Errorf("%w: duration must be > 0", ErrInvalidConfig)
	}
	return nil
}

// Store persists lockout state. Every method that mutates state must apply
// the change atomically per subject.
type Store interface {
	Load(ctx context.Context, subject string) (State, error)
	// RecordFailure applies one failed attempt and reports whether this call
	// moved the subject into the locked state.
	RecordFailure(ctx context.Context, subject, sourceIP string, now time.Time, cfg Config) (State, bool, error)
	RecordSuccess(ctx context.Context, subject string, now time.Time) error
	// ReleaseExpired clears a lock whose deadline has passed and reports
	// whether anything was released.
	ReleaseExpired(ctx context.Context, subject string, now time.Time) (bool, error)
	Delete(ctx context.Context, subject string) error
}

// Tracker drives the Active/Locked state machine for login subjects.
type Tracker struct {
	cfg   Config
	store Store
	sink  audit.Sink
	now   func() time.Time
}

// NewTracker validates cfg and returns a tracker. sink may be nil.
func NewTracker(cfg Config, store Store, sink audit.Sink) (*Tracker, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if store == nil {
		return nil, fmt.Errorf("%w: store is required", ErrInvalidConfig)
	}
	return &Tracker{cfg: cfg, store: store, sink: sink, now: time.Now}, nil
}

// Config returns the active policy.
func (t *Tracker) Config() Config {
	return t.cfg
}

// RecordFailedAttempt counts a failed authentication. When the count reaches
// the threshold the subject is locked and an account_locked event is
// emitted. Failures while already locked do not extend the lock.
func (t *Tracker) RecordFailedAttempt(ctx context.Context, subject, sourceIP string) (State, error) {
	if subject == "" {
		return State{}, nil
	}

	now := t.now()
	state, tripped, err := t.store.RecordFailure(ctx, subject, sourceIP, now, t.cfg)
	if err != nil {
		return State{}, err
	}

	if tripped {
		audit.Record(ctx, t.sink, audit.Event{
			EventType: audit.EventAccountLocked,
			Severity:  audit.SeverityHigh,
			SubjectID: subject,
			IP:        sourceIP,
			Details: map[string]string{
				"failures":     fmt.Sprint(state.Failures),
				"locked_until": state.LockedUntil.UTC().Format(time.RFC3339),
			},
		})
	}
	return state, nil
}

// RecordSuccess resets the failure counter. An expired lock is cleared; an
// active lock is left in place.
func (t *Tracker) RecordSuccess(ctx context.Context, subject string) error {
	if subject == "" {
		return nil
	}
	return t.store.RecordSuccess(ctx, subject, t.now())
}

// CheckLocked reports whether subject is locked and for how much longer.
// An expired lock is released on the way.
func (t *Tracker) CheckLocked(ctx context.Context, subject string) (bool, time.Duration, error) {
	if subject == "" {
		return false, 0, nil
	}

	now := t.now()
	state, err := t.store.Load(ctx, subject)
	if err != nil {
		return false, 0, err
	}
	if state.LockedUntil.IsZero() {
		return false, 0, nil
	}
	if now.Before(state.LockedUntil) {
		return true, state.LockedUntil.Sub(now), nil
	}

	if _, err := t.store.ReleaseExpired(ctx, subject, now); err != nil {
		return false, 0, err
	}
	return false, 0, nil
}

// Unlock is the administrative unlock. It clears both lock and counter.
func (t *Tracker) Unlock(ctx context.Context, subject string) error {
	if subject == "" {
		return nil
	}
	if err := t.store.Delete(ctx, subject); err != nil {
		return err
	}
	audit.Record(ctx, t.sink, audit.Event{
		EventType: audit.EventAccountUnlocked,
		Severity:  audit.SeverityMedium,
		SubjectID: subject,
		Success:   true,
	})
	return nil
}
