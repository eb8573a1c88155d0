package lockout

import "time"

// State is the lockout record of one subject. A zero LockedUntil means the
// subject is not locked.
type State struct {
	Subject       string
	Failures      int
	WindowStart   time.Time
	LockedUntil   time.Time
	LastFailureIP string
}

// IsLocked reports whether the lock is still in force at now.
func (s State) IsLocked(now time.Time) bool {
	return !s.LockedUntil.IsZero() && now.Before(s.LockedUntil)
}

// ApplyFailure mutates s for one failed attempt and reports whether the
// attempt tripped the lock. Store implementations call it while holding
// their per-subject lock.
func (s *State) ApplyFailure(sourceIP string, now time.Time, cfg Config) bool {
	if s.IsLocked(now) {
		return false
	}
	if !s.LockedUntil.IsZero() {
		s.LockedUntil = time.Time{}
		s.Failures = 0
	}

	if s.Failures == 0 || now.Sub(s.WindowStart) > cfg.Window {
		s.Failures = 1
		s.WindowStart = now
	} else {
		s.Failures++
	}
	s.LastFailureIP = sourceIP

	if s.Failures >= cfg.Threshold {
		s.LockedUntil = now.Add(cfg.Duration)
		return true
	}
	return false
}

// ApplySuccess resets the counter and clears an expired lock.
func (s *State) ApplySuccess(now time.Time) {
	s.Failures = 0
	s.WindowStart = time.Time{}
	if !s.IsLocked(now) {
		s.LockedUntil = time.Time{}
	}
}

// ReleaseIfExpired clears a lock whose deadline has passed.
func (s *State) ReleaseIfExpired(now time.Time) bool {
	if s.LockedUntil.IsZero() || s.IsLocked(now) {
		return false
	}
	s.LockedUntil = time.Time{}
	s.Failures = 0
	s.WindowStart = time.Time{}
	return true
}

func (s State) isZero() bool {
	return s.Failures == 0 && s.LockedUntil.IsZero()
}
