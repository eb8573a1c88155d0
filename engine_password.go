package credguard

import (
	"context"
	"errors"
	"time"

	"github.com/MrEthical07/credguard/audit"
	"github.com/MrEthical07/credguard/password"
)

// ValidatePasswordStrength scores pw against the configured policy without
// hashing or storing anything.
func (e *Engine) ValidatePasswordStrength(pw string) password.StrengthResult {
	return e.policy.ValidateStrength(pw)
}

// EnrollPassword checks pw against policy and breach corpus, hashes it and
// starts the password record of userID. The host stores the returned hash
// with the account.
func (e *Engine) EnrollPassword(ctx context.Context, userID, pw string) (string, error) {
	if !e.ready() {
		return "", ErrEngineNotReady
	}
	if err := e.checkNewPassword(ctx, pw); err != nil {
		return "", err
	}
	hash, err := e.hasher.Hash(pw)
	if err != nil {
		return "", err
	}

	rec := &password.Record{SubjectID: userID}
	rec.Rotate(hash, e.config.Password.HistoryDepth, e.passwordMaxAge(), e.now())
	if err := e.passwords.Save(ctx, rec); err != nil {
		return "", err
	}
	return hash, nil
}

// ChangePassword replaces the password of userID after verifying oldPw.
//
// newPw must satisfy the strength policy, must not appear in the breach
// corpus and must not match the current password or any of the last
// HistoryDepth ones. A wrong oldPw counts towards lockout like a failed login.
func (e *Engine) ChangePassword(ctx context.Context, userID, oldPw, newPw string) error {
	if !e.ready() {
		return ErrEngineNotReady
	}

	user, err := e.users.GetUserByID(ctx, userID)
	if errors.Is(err, ErrUserNotFound) {
		return ErrInvalidCredentials
	}
	if err != nil {
		return err
	}
	if user.Status != AccountActive {
		return ErrAccountDisabled
	}

	locked, remaining, err := e.lockout.CheckLocked(ctx, user.Identifier)
	if err != nil {
		return backendError(err)
	}
	if locked {
		return &LockedError{Remaining: remaining}
	}

	ok, err := e.hasher.Verify(oldPw, user.PasswordHash)
	if err != nil || !ok {
		if _, lerr := e.lockout.RecordFailedAttempt(ctx, user.Identifier, clientIPFromContext(ctx)); lerr != nil {
			return backendError(lerr)
		}
		return e.passwordRejected(ctx, userID, ErrInvalidCredentials)
	}
	if err := e.lockout.RecordSuccess(ctx, user.Identifier); err != nil {
		return backendError(err)
	}

	if err := e.checkNewPassword(ctx, newPw); err != nil {
		return e.passwordRejected(ctx, userID, err)
	}

	rec, err := e.passwords.Load(ctx, userID)
	switch {
	case errors.Is(err, password.ErrRecordNotFound):
		rec = &password.Record{SubjectID: userID}
	case err != nil:
		return err
	}
	// The provider is authoritative for the current hash.
	rec.Hash = user.PasswordHash

	if depth := e.config.Password.HistoryDepth; depth > 0 {
		candidates := append([]string{rec.Hash}, rec.History...)
		if password.CheckHistory(e.hasher, newPw, candidates) {
			return e.passwordRejected(ctx, userID, ErrPasswordReused)
		}
	}

	newHash, err := e.hasher.Hash(newPw)
	if err != nil {
		return err
	}
	if err := e.users.UpdatePasswordHash(ctx, userID, newHash); err != nil {
		return err
	}
	rec.Rotate(newHash, e.config.Password.HistoryDepth, e.passwordMaxAge(), e.now())
	if err := e.passwords.Save(ctx, rec); err != nil {
		return err
	}

	e.metricInc(MetricPasswordChangeSuccess)
	e.emit(ctx, audit.EventPasswordChanged, audit.SeverityLow, userID, nil, nil)
	return nil
}

// checkNewPassword applies the strength policy and the breach check.
func (e *Engine) checkNewPassword(ctx context.Context, pw string) error {
	if err := e.policy.Validate(pw); err != nil {
		return mapPasswordError(err)
	}
	if e.breach == nil {
		return nil
	}
	breached, err := e.breach.Check(ctx, pw)
	if err != nil {
		return mapPasswordError(err)
	}
	if breached {
		return ErrPasswordBreached
	}
	return nil
}

func (e *Engine) passwordRejected(ctx context.Context, userID string, err error) error {
	e.metricInc(MetricPasswordChangeRejected)
	e.emit(ctx, audit.EventPasswordRejected, audit.SeverityLow, userID, err, nil)
	return err
}

// CheckPasswordExpired returns ErrPasswordExpired when the password record
// of userID is past its expiration. Subjects without a record never expire.
func (e *Engine) CheckPasswordExpired(ctx context.Context, userID string) error {
	if !e.ready() {
		return ErrEngineNotReady
	}
	rec, err := e.passwords.Load(ctx, userID)
	if errors.Is(err, password.ErrRecordNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if rec.IsExpired(e.now()) {
		return ErrPasswordExpired
	}
	return nil
}

func (e *Engine) passwordExpired(ctx context.Context, userID string) bool {
	if e.config.Password.ExpirationDays <= 0 {
		return false
	}
	return errors.Is(e.CheckPasswordExpired(ctx, userID), ErrPasswordExpired)
}

func (e *Engine) passwordMaxAge() time.Duration {
	return time.Duration(e.config.Password.ExpirationDays) * 24 * time.Hour
}
