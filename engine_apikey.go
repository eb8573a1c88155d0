package credguard

import (
	"context"
	"time"

	"github.com/MrEthical07/credguard/apikey"
	"github.com/MrEthical07/credguard/policy"
)

// GenerateAPIKey creates a key for ownerID. The plaintext is returned once;
// only its salted hash is kept. A zero expiry uses APIKey.DefaultExpiry.
func (e *Engine) GenerateAPIKey(ctx context.Context, ownerID string, scopes []string, expiry time.Duration, allowedIPs []string) (string, *apikey.Key, error) {
	if e == nil || e.apiKeys == nil {
		return "", nil, ErrEngineNotReady
	}
	plaintext, key, err := e.apiKeys.Generate(ctx, ownerID, scopes, expiry, allowedIPs)
	if err != nil {
		return "", nil, mapAPIKeyError(err)
	}
	e.metricInc(MetricAPIKeyCreated)
	return plaintext, key, nil
}

// AuthenticateAPIKey validates presented, counts the request against the
// key's rate limit and checks that the key grants every scope in required.
// The client IP comes from ctx.
//
// A rate limited request returns a *RateLimitError; a missing scope returns
// an error wrapping policy.ErrScopeMissing.
func (e *Engine) AuthenticateAPIKey(ctx context.Context, presented string, required ...string) (*APIKeyAuth, error) {
	if e == nil || e.apiKeys == nil {
		return nil, ErrEngineNotReady
	}
	ip := clientIPFromContext(ctx)

	key, err := e.apiKeys.Validate(ctx, presented, ip)
	if err != nil {
		e.metricInc(MetricAPIKeyAuthFailure)
		return nil, mapAPIKeyError(err)
	}

	d, err := e.apiKeys.CheckRateLimit(ctx, key.ID, ip)
	if err != nil {
		e.metricInc(MetricAPIKeyAuthFailure)
		return nil, backendError(err)
	}
	if !d.Allowed {
		e.metricInc(MetricRateLimitHit)
		return nil, &RateLimitError{Limit: d.Limit, RetryAfter: d.RetryAfter}
	}

	if len(required) > 0 {
		err := policy.Check(policy.APIKeyScope(required...), policy.Subject{
			ID:     key.OwnerID,
			Active: true,
			Scopes: key.Scopes,
		})
		if err != nil {
			e.metricInc(MetricAPIKeyAuthFailure)
			return nil, err
		}
	}

	e.metricInc(MetricAPIKeyAuthSuccess)
	return &APIKeyAuth{
		KeyID:     key.ID,
		OwnerID:   key.OwnerID,
		Scopes:    key.Scopes,
		Remaining: d.Remaining,
	}, nil
}

// RotateAPIKey issues a successor for keyID. The old key keeps working for
// APIKey.GracePeriod.
func (e *Engine) RotateAPIKey(ctx context.Context, keyID string) (string, *apikey.Key, error) {
	if e == nil || e.apiKeys == nil {
		return "", nil, ErrEngineNotReady
	}
	plaintext, key, err := e.apiKeys.Rotate(ctx, keyID)
	if err != nil {
		return "", nil, mapAPIKeyError(err)
	}
	e.metricInc(MetricAPIKeyRotated)
	return plaintext, key, nil
}

func (e *Engine) RevokeAPIKey(ctx context.Context, keyID string) error {
	if e == nil || e.apiKeys == nil {
		return ErrEngineNotReady
	}
	if err := e.apiKeys.Revoke(ctx, keyID); err != nil {
		return mapAPIKeyError(err)
	}
	e.metricInc(MetricAPIKeyRevoked)
	return nil
}

func (e *Engine) ListAPIKeys(ctx context.Context, ownerID string) ([]*apikey.Key, error) {
	if e == nil || e.apiKeys == nil {
		return nil, ErrEngineNotReady
	}
	keys, err := e.apiKeys.ListByOwner(ctx, ownerID)
	return keys, backendError(err)
}

// RecordAPIKeyUsage stores analytics for one request. It never fails the
// request; store errors are logged.
func (e *Engine) RecordAPIKeyUsage(ctx context.Context, keyID, endpoint string, status int, latency time.Duration) {
	if e == nil || e.apiKeys == nil {
		return
	}
	e.apiKeys.RecordUsage(ctx, keyID, endpoint, status, latency)
}
