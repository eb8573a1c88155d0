package credguard

import (
	"context"
	"errors"
	"time"

	"github.com/MrEthical07/credguard/token"
)

// ValidateAccess runs the full access token pipeline: decryption, signature,
// time window, blacklist, replay window and binding. The binding fingerprint
// comes from ctx (see WithClientIP, WithUserAgent, WithBindingFingerprint).
func (e *Engine) ValidateAccess(ctx context.Context, tok string) (*AuthResult, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}

	start := time.Now()
	claims, err := e.tokens.Validate(ctx, tok, fingerprintFromContext(ctx))
	if e.metrics.LatencyEnabled() {
		e.metrics.Observe(MetricValidateLatency, time.Since(start))
	}
	if err != nil {
		e.metricInc(MetricValidateFailure)
		switch {
		case errors.Is(err, token.ErrBlacklisted):
			e.metricInc(MetricTokenBlacklisted)
		case errors.Is(err, token.ErrReplayed):
			e.metricInc(MetricTokenReplayed)
		case errors.Is(err, token.ErrBindingMismatch):
			e.metricInc(MetricTokenBindingMismatch)
		}
		return nil, mapAccessError(err)
	}

	e.metricInc(MetricValidateSuccess)
	res := &AuthResult{
		UserID:       claims.Subject,
		JTI:          claims.ID,
		Claims:       claims.Custom,
		AuthMethods:  claims.AuthMethods,
		SecondFactor: token.SecondFactor(claims.AuthMethods),
	}
	if claims.IssuedAt != nil {
		res.IssuedAt = claims.IssuedAt.Time
	}
	if claims.ExpiresAt != nil {
		res.ExpiresAt = claims.ExpiresAt.Time
	}
	return res, nil
}

// RevokeAccess blacklists tok until it expires. It returns
// ErrBlacklistDisabled when the blacklist is off.
func (e *Engine) RevokeAccess(ctx context.Context, tok string) error {
	if !e.ready() {
		return ErrEngineNotReady
	}
	if _, err := e.tokens.RevokeToken(ctx, tok); err != nil {
		return mapAccessError(err)
	}
	e.metricInc(MetricTokenRevoked)
	return nil
}

// RevokeJTI blacklists a token by id when only the claims are at hand.
func (e *Engine) RevokeJTI(ctx context.Context, jti string, expiresAt time.Time) error {
	if !e.ready() {
		return ErrEngineNotReady
	}
	if err := e.tokens.Revoke(ctx, jti, expiresAt); err != nil {
		return mapAccessError(err)
	}
	e.metricInc(MetricTokenRevoked)
	return nil
}
