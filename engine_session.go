package credguard

import (
	"context"
	"errors"

	"github.com/MrEthical07/credguard/audit"
	"github.com/MrEthical07/credguard/refresh"
	"github.com/MrEthical07/credguard/token"
)

// Login verifies identifier and password and starts a new refresh family.
//
// Failures count towards the lockout of identifier. Unknown identifiers and
// wrong passwords both return ErrInvalidCredentials after comparable work.
// A locked account returns a *LockedError without checking the password.
func (e *Engine) Login(ctx context.Context, identifier, pw string) (*LoginResult, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}

	locked, remaining, err := e.lockout.CheckLocked(ctx, identifier)
	if err != nil {
		return nil, backendError(err)
	}
	if locked {
		e.metricInc(MetricLoginLocked)
		e.emit(ctx, audit.EventLoginFailure, audit.SeverityMedium, identifier, ErrAccountLocked, nil)
		return nil, &LockedError{Remaining: remaining}
	}

	user, err := e.users.GetUserByIdentifier(ctx, identifier)
	if err != nil {
		if !errors.Is(err, ErrUserNotFound) {
			return nil, err
		}
		e.verifyDummy(pw)
		return nil, e.loginFailed(ctx, identifier)
	}

	ok, err := e.hasher.Verify(pw, user.PasswordHash)
	if err != nil {
		e.log.WithError(err).WithField("user_id", user.UserID).Warn("credguard: stored password hash unreadable")
	}
	if err != nil || !ok {
		return nil, e.loginFailed(ctx, identifier)
	}

	if user.Status != AccountActive {
		e.metricInc(MetricLoginFailure)
		e.emit(ctx, audit.EventLoginFailure, audit.SeverityMedium, user.UserID, ErrAccountDisabled, nil)
		return nil, ErrAccountDisabled
	}

	if err := e.lockout.RecordSuccess(ctx, identifier); err != nil {
		return nil, backendError(err)
	}
	e.upgradeHash(ctx, user, pw)

	result, err := e.startSession(ctx, user.UserID, token.MethodPassword)
	if err != nil {
		return nil, err
	}
	result.PasswordExpired = e.passwordExpired(ctx, user.UserID)
	result.SecondFactorPending = user.TwoFactorEnabled

	e.metricInc(MetricLoginSuccess)
	e.emit(ctx, audit.EventLoginSuccess, audit.SeverityInfo, user.UserID, nil, map[string]string{
		"family_id": result.FamilyID,
	})
	return result, nil
}

func (e *Engine) loginFailed(ctx context.Context, identifier string) error {
	e.metricInc(MetricLoginFailure)
	state, err := e.lockout.RecordFailedAttempt(ctx, identifier, clientIPFromContext(ctx))
	if err != nil {
		return backendError(err)
	}
	if state.IsLocked(e.now()) {
		e.metricInc(MetricAccountLocked)
	}
	e.emit(ctx, audit.EventLoginFailure, audit.SeverityLow, identifier, ErrInvalidCredentials, nil)
	return ErrInvalidCredentials
}

// upgradeHash re-hashes pw with the primary algorithm when the stored hash
// is legacy or weaker than configured. Failures are logged; login proceeds.
func (e *Engine) upgradeHash(ctx context.Context, user UserRecord, pw string) {
	if !e.config.Password.UpgradeOnLogin {
		return
	}
	needs, err := e.hasher.NeedsUpgrade(user.PasswordHash)
	if err != nil || !needs {
		return
	}

	log := e.log.WithField("user_id", user.UserID)
	newHash, err := e.hasher.Hash(pw)
	if err != nil {
		log.WithError(err).Warn("credguard: password rehash failed")
		return
	}
	if err := e.users.UpdatePasswordHash(ctx, user.UserID, newHash); err != nil {
		log.WithError(err).Warn("credguard: password rehash not stored")
		return
	}

	rec, err := e.passwords.Load(ctx, user.UserID)
	if err == nil {
		rec.Hash = newHash
		if err := e.passwords.Save(ctx, rec); err != nil {
			log.WithError(err).Warn("credguard: password record not updated after rehash")
		}
	}
	e.metricInc(MetricPasswordHashUpgraded)
}

func (e *Engine) startSession(ctx context.Context, userID string, authMethods ...string) (*LoginResult, error) {
	fam, err := e.refresh.IssueFamily(ctx, userID, authMethods...)
	if err != nil {
		return nil, mapRefreshError(err)
	}
	access, err := e.issueAccess(ctx, userID, fam.Token.AuthMethods)
	if err != nil {
		return nil, err
	}
	if err := e.refresh.TrackAccess(ctx, fam.Token.FamilyID, access.JTI, access.ExpiresAt); err != nil {
		return nil, mapRefreshError(err)
	}
	return sessionResult(userID, access, fam), nil
}

func (e *Engine) issueAccess(ctx context.Context, userID string, authMethods []string) (*token.AccessToken, error) {
	access, err := e.tokens.Issue(ctx, userID, token.IssueOptions{
		Fingerprint: fingerprintFromContext(ctx),
		AuthMethods: authMethods,
	})
	if err != nil {
		return nil, mapAccessError(err)
	}
	return access, nil
}

// Refresh redeems a refresh token for a new access token. With rotation on
// the refresh token is replaced as well and the old one becomes unusable;
// presenting it again revokes the whole family and returns ErrTokenReused.
func (e *Engine) Refresh(ctx context.Context, presented string) (*LoginResult, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}
	if !e.config.Refresh.Rotation {
		return e.refreshInPlace(ctx, presented)
	}

	res, err := e.refresh.Rotate(ctx, presented, func(ctx context.Context, next *refresh.Token) (*token.AccessToken, error) {
		if err := e.requireActive(ctx, next.SubjectID); err != nil {
			return nil, err
		}
		return e.issueAccess(ctx, next.SubjectID, next.AuthMethods)
	})
	if err != nil {
		return nil, e.refreshFailed(ctx, err)
	}

	e.metricInc(MetricRefreshSuccess)
	return sessionResult(res.Refresh.Token.SubjectID, res.Access, &res.Refresh), nil
}

// CompleteSecondFactor records that the session of refreshToken has passed
// a second factor the host verified, such as a TOTP code ("otp") or a
// security key ("hwk"). The refresh token is rotated even when rotation is
// off; the returned tokens carry method in their amr claim and every later
// refresh of the family keeps it.
func (e *Engine) CompleteSecondFactor(ctx context.Context, refreshToken, method string) (*LoginResult, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}
	if method == "" || method == token.MethodPassword {
		return nil, ErrAuthMethodInvalid
	}

	res, err := e.refresh.StepUp(ctx, refreshToken, method, func(ctx context.Context, next *refresh.Token) (*token.AccessToken, error) {
		if err := e.requireActive(ctx, next.SubjectID); err != nil {
			return nil, err
		}
		return e.issueAccess(ctx, next.SubjectID, next.AuthMethods)
	})
	if err != nil {
		return nil, e.refreshFailed(ctx, err)
	}

	e.metricInc(MetricRefreshSuccess)
	return sessionResult(res.Refresh.Token.SubjectID, res.Access, &res.Refresh), nil
}

// refreshInPlace serves Refresh when rotation is disabled: the refresh token
// stays valid until it expires or its family is revoked.
func (e *Engine) refreshInPlace(ctx context.Context, presented string) (*LoginResult, error) {
	tok, err := e.refresh.Verify(ctx, presented)
	if err != nil {
		return nil, e.refreshFailed(ctx, err)
	}
	if err := e.requireActive(ctx, tok.SubjectID); err != nil {
		return nil, e.refreshFailed(ctx, err)
	}
	access, err := e.issueAccess(ctx, tok.SubjectID, tok.AuthMethods)
	if err != nil {
		return nil, e.refreshFailed(ctx, err)
	}
	if err := e.refresh.TrackAccess(ctx, tok.FamilyID, access.JTI, access.ExpiresAt); err != nil {
		return nil, e.refreshFailed(ctx, err)
	}

	e.metricInc(MetricRefreshSuccess)
	return sessionResult(tok.SubjectID, access, &refresh.Issued{Token: tok, Plaintext: presented}), nil
}

func (e *Engine) refreshFailed(ctx context.Context, err error) error {
	e.metricInc(MetricRefreshFailure)
	switch {
	case errors.Is(err, refresh.ErrReused):
		e.metricInc(MetricRefreshReuseDetected)
	case errors.Is(err, refresh.ErrFamilyExhausted):
		e.metricInc(MetricRefreshFamilyExhausted)
	}
	return mapRefreshError(err)
}

func (e *Engine) requireActive(ctx context.Context, userID string) error {
	user, err := e.users.GetUserByID(ctx, userID)
	if errors.Is(err, ErrUserNotFound) {
		return ErrRefreshInvalid
	}
	if err != nil {
		return err
	}
	if user.Status != AccountActive {
		return ErrAccountDisabled
	}
	return nil
}

// Logout revokes the refresh family of refreshToken and blacklists
// accessToken. Either may be empty. Revoking the family also blacklists
// every access token issued from it.
func (e *Engine) Logout(ctx context.Context, refreshToken, accessToken string) error {
	if !e.ready() {
		return ErrEngineNotReady
	}

	var subject string
	var errs []error
	if refreshToken != "" {
		tok, err := e.refresh.RevokeFamily(ctx, refreshToken)
		if err != nil {
			errs = append(errs, mapRefreshError(err))
		} else {
			subject = tok.SubjectID
		}
	}
	if accessToken != "" && e.config.Revocation.EnableBlacklist {
		claims, err := e.tokens.RevokeToken(ctx, accessToken)
		if err != nil {
			errs = append(errs, mapAccessError(err))
		} else {
			e.metricInc(MetricTokenRevoked)
			if subject == "" {
				subject = claims.Subject
			}
		}
	}

	if err := errors.Join(errs...); err != nil {
		return err
	}
	e.metricInc(MetricLogout)
	e.emit(ctx, audit.EventLogout, audit.SeverityInfo, subject, nil, nil)
	return nil
}

func sessionResult(userID string, access *token.AccessToken, issued *refresh.Issued) *LoginResult {
	return &LoginResult{
		UserID:           userID,
		AccessToken:      access.Token,
		AccessExpiresAt:  access.ExpiresAt,
		RefreshToken:     issued.Plaintext,
		RefreshExpiresAt: issued.Token.ExpiresAt,
		FamilyID:         issued.Token.FamilyID,
		AuthMethods:      issued.Token.AuthMethods,
	}
}
