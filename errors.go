package credguard

import (
	"errors"
	"fmt"
	"time"

	"github.com/MrEthical07/credguard/apikey"
	"github.com/MrEthical07/credguard/lockout"
	"github.com/MrEthical07/credguard/password"
	"github.com/MrEthical07/credguard/refresh"
	"github.com/MrEthical07/credguard/revocation"
	"github.com/MrEthical07/credguard/token"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrAccountLocked      = errors.New("account locked")
	ErrAccountDisabled    = errors.New("account disabled")

	ErrTokenInvalid         = errors.New("invalid token")
	ErrTokenExpired         = errors.New("token expired")
	ErrTokenBlacklisted     = errors.New("token blacklisted")
	ErrTokenReplayed        = errors.New("token replayed")
	ErrTokenBindingMismatch = errors.New("token binding mismatch")
	// ErrTokenReused signals a redeemed refresh token presented again. The
	// whole family has been revoked by the time the caller sees it.
	ErrTokenReused = errors.New("refresh token reuse detected")

	ErrRefreshInvalid         = errors.New("invalid refresh token")
	ErrRefreshExpired         = errors.New("refresh token expired")
	ErrRefreshFamilyExhausted = errors.New("refresh token family exhausted")
	ErrAuthMethodInvalid      = errors.New("invalid second factor method")

	ErrRateLimitExceeded = errors.New("rate limit exceeded")

	ErrKeyInvalid   = errors.New("invalid api key")
	ErrKeyRevoked   = errors.New("api key revoked")
	ErrKeyExpired   = errors.New("api key expired")
	ErrIPNotAllowed = errors.New("source ip not allowed")

	ErrPasswordTooWeak  = errors.New("password too weak")
	ErrPasswordBreached = errors.New("password found in breach corpus")
	ErrPasswordReused   = errors.New("password reused")
	ErrPasswordExpired  = errors.New("password expired")

	ErrBlacklistDisabled  = errors.New("token blacklist disabled")
	ErrBackendUnavailable = errors.New("security backend unavailable")
	ErrEngineNotReady     = errors.New("engine not initialized")
)

// RateLimitError carries the wait before the next request may succeed.
type RateLimitError struct {
	Limit      int
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit exceeded: retry after %s", e.RetryAfter)
}

func (e *RateLimitError) Unwrap() error { return ErrRateLimitExceeded }

// LockedError reports how long the account stays locked.
type LockedError struct {
	Remaining time.Duration
}

func (e *LockedError) Error() string {
	return fmt.Sprintf("account locked for %s", e.Remaining.Round(time.Second))
}

func (e *LockedError) Unwrap() error { return ErrAccountLocked }

// backendError classifies store failures. Anything that is not a known
// backend sentinel passes through unchanged.
func backendError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, revocation.ErrUnavailable),
		errors.Is(err, refresh.ErrUnavailable),
		errors.Is(err, lockout.ErrUnavailable),
		errors.Is(err, apikey.ErrUnavailable):
		return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	return err
}

func mapAccessError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, token.ErrExpired):
		return ErrTokenExpired
	case errors.Is(err, token.ErrBlacklisted):
		return ErrTokenBlacklisted
	case errors.Is(err, token.ErrReplayed):
		return ErrTokenReplayed
	case errors.Is(err, token.ErrBindingMismatch):
		return ErrTokenBindingMismatch
	case errors.Is(err, token.ErrBlacklistOff):
		return ErrBlacklistDisabled
	case errors.Is(err, token.ErrInvalid):
		return fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}
	return backendError(err)
}

func mapRefreshError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, refresh.ErrReused):
		return ErrTokenReused
	case errors.Is(err, refresh.ErrExpired):
		return ErrRefreshExpired
	case errors.Is(err, refresh.ErrFamilyExhausted):
		return ErrRefreshFamilyExhausted
	case errors.Is(err, refresh.ErrInvalid):
		return ErrRefreshInvalid
	}
	return backendError(err)
}

func mapAPIKeyError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, apikey.ErrRevoked):
		return ErrKeyRevoked
	case errors.Is(err, apikey.ErrExpired):
		return ErrKeyExpired
	case errors.Is(err, apikey.ErrIPNotAllowed):
		return ErrIPNotAllowed
	case errors.Is(err, apikey.ErrInvalid), errors.Is(err, apikey.ErrNotFound):
		return ErrKeyInvalid
	}
	return backendError(err)
}

func mapPasswordError(err error) error {
	var pe *password.PolicyError
	switch {
	case err == nil:
		return nil
	case errors.As(err, &pe):
		return fmt.Errorf("%w: %w", ErrPasswordTooWeak, err)
	case errors.Is(err, password.ErrBreachUnavailable):
		return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	return err
}
