package revocation

import (
	"context"
	"errors"
	"time"
)

// ErrUnavailable wraps backend failures.
var ErrUnavailable = errors.New("revocation backend unavailable")

// Set is an append-only set of ids that each expire at a fixed instant. An
// id whose expiry has passed is never reported as present, even before
// Cleanup has removed it.
type Set interface {
	// Insert adds id until expiresAt and reports whether it was newly added.
	Insert(ctx context.Context, id string, expiresAt, now time.Time) (bool, error)
	Contains(ctx context.Context, id string, now time.Time) (bool, error)
	// Cleanup removes expired ids and returns how many were removed.
	Cleanup(ctx context.Context, now time.Time) (int, error)
}

// Blacklist holds revoked token ids until the tokens would have expired on
// their own.
type Blacklist struct {
	set Set
}

func NewBlacklist(set Set) *Blacklist {
	return &Blacklist{set: set}
}

// Revoke blacklists jti until expiresAt. Tokens that are already expired are
// not stored since they can no longer validate.
func (b *Blacklist) Revoke(ctx context.Context, jti string, expiresAt, now time.Time) error {
	if jti == "" || !expiresAt.After(now) {
		return nil
	}
	_, err := b.set.Insert(ctx, jti, expiresAt, now)
	return err
}

func (b *Blacklist) IsRevoked(ctx context.Context, jti string, now time.Time) (bool, error) {
	if jti == "" {
		return false, nil
	}
	return b.set.Contains(ctx, jti, now)
}

func (b *Blacklist) Cleanup(ctx context.Context, now time.Time) (int, error) {
	return b.set.Cleanup(ctx, now)
}

// ReplayWindow remembers token ids seen within the last Window so a captured
// token cannot be resubmitted immediately. It is separate from the blacklist
// and its entries are short-lived.
type ReplayWindow struct {
	set    Set
	window time.Duration
}

func NewReplayWindow(set Set, window time.Duration) *ReplayWindow {
	return &ReplayWindow{set: set, window: window}
}

// CheckAndMark records jti as seen and reports whether it had already been
// seen inside the window. The check and the mark are one atomic step.
func (r *ReplayWindow) CheckAndMark(ctx context.Context, jti string, now time.Time) (bool, error) {
	if jti == "" || r.window <= 0 {
		return false, nil
	}
	inserted, err := r.set.Insert(ctx, jti, now.Add(r.window), now)
	if err != nil {
		return false, err
	}
	return !inserted, nil
}

func (r *ReplayWindow) Cleanup(ctx context.Context, now time.Time) (int, error) {
	return r.set.Cleanup(ctx, now)
}
