package password

import (
	"errors"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// MinBcryptCost is the lowest cost factor accepted for new bcrypt hashes.
const MinBcryptCost = 10

// Bcrypt hashes passwords with bcrypt. It exists mainly so hashes imported from
// systems that used bcrypt keep verifying; new deployments default to Argon2id.
type Bcrypt struct {
	cost int
}

// NewBcrypt returns a bcrypt hasher with the given cost.
func NewBcrypt(cost int) (*Bcrypt, error) {
	if cost < MinBcryptCost || cost > bcrypt.MaxCost {
		return nil, errors.New("bcrypt cost must be between 10 and 31")
	}
	return &Bcrypt{cost: cost}, nil
}

func (b *Bcrypt) Hash(password string) (string, error) {
	if password == "" {
		return "", ErrEmptyPassword
	}
	// bcrypt silently ignores input past 72 bytes, so refuse it instead.
	if len(password) > 72 {
		return "", errors.New("bcrypt password exceeds 72 bytes")
	}
	out, err := bcrypt.GenerateFromPassword([]byte(password), b.cost)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

func (b *Bcrypt) Verify(password, encoded string) (bool, error) {
	err := bcrypt.CompareHashAndPassword([]byte(encoded), []byte(password))
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, bcrypt.ErrMismatchedHashAndPassword):
		return false, nil
	case errors.Is(err, bcrypt.ErrPasswordTooLong):
		return false, nil
	default:
		return false, ErrInvalidHash
	}
}

func (b *Bcrypt) NeedsUpgrade(encoded string) (bool, error) {
	cost, err := bcrypt.Cost([]byte(encoded))
	if err != nil {
		return false, ErrInvalidHash
	}
	return cost < b.cost, nil
}

// Handles reports whether encoded carries a bcrypt prefix ($2a$, $2b$, $2y$).
func (b *Bcrypt) Handles(encoded string) bool {
	return strings.HasPrefix(encoded, "$2a$") ||
		strings.HasPrefix(encoded, "$2b$") ||
		strings.HasPrefix(encoded, "$2y$")
}
