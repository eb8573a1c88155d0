package credguard

import (
	"context"
	"errors"
	"time"

	"github.com/MrEthical07/credguard/policy"
)

// CheckLocked reports whether identifier is locked out and for how long.
func (e *Engine) CheckLocked(ctx context.Context, identifier string) (bool, time.Duration, error) {
	if e == nil || e.lockout == nil {
		return false, 0, ErrEngineNotReady
	}
	locked, remaining, err := e.lockout.CheckLocked(ctx, identifier)
	if err != nil {
		return false, 0, backendError(err)
	}
	return locked, remaining, nil
}

// Unlock lifts a lockout before it expires and clears the failure count.
func (e *Engine) Unlock(ctx context.Context, identifier string) error {
	if e == nil || e.lockout == nil {
		return ErrEngineNotReady
	}
	if err := e.lockout.Unlock(ctx, identifier); err != nil {
		return backendError(err)
	}
	e.metricInc(MetricAccountUnlocked)
	return nil
}

// Authorize evaluates reqs for the subject of a validated access token
// (auth) or, without one, for the owner of an API key (key). Two-factor
// requirements are met only by a token whose amr claim proves a second
// factor; API key scopes come from key when it is non-nil.
func (e *Engine) Authorize(ctx context.Context, auth *AuthResult, key *APIKeyAuth, reqs ...policy.Requirement) error {
	if !e.ready() {
		return ErrEngineNotReady
	}
	var userID string
	switch {
	case auth != nil:
		userID = auth.UserID
	case key != nil:
		userID = key.OwnerID
	default:
		return ErrTokenInvalid
	}
	user, err := e.users.GetUserByID(ctx, userID)
	if errors.Is(err, ErrUserNotFound) {
		return policy.ErrAccountInactive
	}
	if err != nil {
		return err
	}
	locked, _, err := e.lockout.CheckLocked(ctx, user.Identifier)
	if err != nil {
		return backendError(err)
	}

	subject := policy.Subject{
		ID:        user.UserID,
		TwoFactor: auth != nil && auth.SecondFactor,
		Active:    user.Status == AccountActive,
		Locked:    locked,
	}
	if key != nil {
		subject.Scopes = key.Scopes
	}
	return policy.NewEvaluator(reqs...).Evaluate(subject)
}
