package refresh

import (
	"errors"
	"time"
)

var (
	ErrInvalid         = errors.New("refresh token invalid")
	ErrExpired         = errors.New("refresh token expired")
	ErrReused          = errors.New("refresh token reuse detected")
	ErrFamilyExhausted = errors.New("refresh token family exhausted")
	ErrInvalidConfig   = errors.New("invalid refresh config")

	// Store errors.
	ErrNotFound    = errors.New("refresh token not found")
	ErrAlreadyUsed = errors.New("refresh token already used")
	ErrUnavailable = errors.New("refresh store unavailable")
)

// Token is the stored record of one refresh token. Within a family at most
// one token is unused at any time.
type Token struct {
	ID           string
	FamilyID     string
	Generation   int
	SubjectID    string
	IssuedAt     time.Time
	ExpiresAt    time.Time
	Used         bool
	SupersededBy string
	SecretHash   [32]byte
	// AuthMethods are the authentication methods the family has proven.
	// Successors inherit them.
	AuthMethods []string
	// Revoked marks a token burned by logout, reuse detection or family
	// exhaustion, as opposed to one consumed by rotation.
	Revoked bool
}

func (t *Token) expired(now time.Time) bool {
	return !now.Before(t.ExpiresAt)
}

// AccessRef is an access token issued from a family, kept so the family can
// blacklist it on revocation.
type AccessRef struct {
	JTI       string
	ExpiresAt time.Time
}
