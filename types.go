package credguard

import (
	"context"
	"errors"
	"time"
)

// ErrUserNotFound is returned by UserProvider implementations for unknown
// identifiers. Login reports it to callers as ErrInvalidCredentials.
var ErrUserNotFound = errors.New("user not found")

// AccountStatus is the lifecycle state of a user account as reported by the
// host application.
type AccountStatus uint8

const (
	AccountActive AccountStatus = iota
	AccountDisabled
)

// UserRecord is what the engine needs to know about an account.
// TwoFactorEnabled means a second factor is enrolled; a session proves it
// through Engine.CompleteSecondFactor.
type UserRecord struct {
	UserID           string
	Identifier       string
	PasswordHash     string
	Status           AccountStatus
	TwoFactorEnabled bool
}

// UserProvider connects the engine to the host's user database. Account
// CRUD stays with the host; the engine only reads records and writes back
// password hashes.
type UserProvider interface {
	GetUserByIdentifier(ctx context.Context, identifier string) (UserRecord, error)
	GetUserByID(ctx context.Context, userID string) (UserRecord, error)
	UpdatePasswordHash(ctx context.Context, userID, newHash string) error
}

// LoginResult is returned by Engine.Login and Engine.Refresh.
type LoginResult struct {
	UserID           string
	AccessToken      string
	AccessExpiresAt  time.Time
	RefreshToken     string
	RefreshExpiresAt time.Time
	// FamilyID identifies the refresh token family of this session.
	FamilyID string
	// PasswordExpired is set on login when the stored password record has
	// expired. The tokens are still issued; the host decides whether to
	// force a change.
	PasswordExpired bool
	// SecondFactorPending is set on login for accounts with a second factor
	// enrolled. The host verifies it and calls Engine.CompleteSecondFactor.
	SecondFactorPending bool
	// AuthMethods are the amr values carried by the access token.
	AuthMethods []string
}

// AuthResult describes a validated access token.
type AuthResult struct {
	UserID    string
	JTI       string
	IssuedAt  time.Time
	ExpiresAt time.Time
	Claims    map[string]any
	// AuthMethods is the token's amr claim. SecondFactor is true when it
	// names a factor beyond the password.
	AuthMethods  []string
	SecondFactor bool
}

// APIKeyAuth is the result of a successful API key authentication.
type APIKeyAuth struct {
	KeyID     string
	OwnerID   string
	Scopes    []string
	Remaining int
}
