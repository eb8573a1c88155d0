package password

import "errors"

var (
	// ErrEmptyPassword is returned when hashing an empty string.
	ErrEmptyPassword = errors.New("password is empty")
	// ErrInvalidHash is returned for malformed encoded hashes.
	ErrInvalidHash = errors.New("invalid password hash format")
	// ErrUnsupportedHash is returned when no configured hasher understands the encoding.
	ErrUnsupportedHash = errors.New("unsupported password hash algorithm")
)

// Hasher is a one-way, salted password hash function.
//
// Verify must compare in constant time and never short-circuit on the first
// mismatched byte.
type Hasher interface {
	Hash(password string) (string, error)
	Verify(password, encoded string) (bool, error)
	NeedsUpgrade(encoded string) (bool, error)
}

type algorithm interface {
	Hasher
	Handles(encoded string) bool
}

// MultiHasher hashes with a primary algorithm and verifies against any of the
// registered algorithms, selected by the encoded hash prefix.
type MultiHasher struct {
	primary algorithm
	legacy  []algorithm
}

// NewMultiHasher returns a hasher that writes primary hashes and still accepts
// hashes produced by legacy algorithms.
func NewMultiHasher(primary *Argon2, legacy ...*Bcrypt) *MultiHasher {
	m := &MultiHasher{primary: primary}
	for _, l := range legacy {
		if l != nil {
			m.legacy = append(m.legacy, l)
		}
	}
	return m
}

// NewBcryptMultiHasher is NewMultiHasher with bcrypt as the primary, for
// deployments that must stay on bcrypt. Argon2id hashes still verify.
func NewBcryptMultiHasher(primary *Bcrypt, legacy ...*Argon2) *MultiHasher {
	m := &MultiHasher{primary: primary}
	for _, l := range legacy {
		if l != nil {
			m.legacy = append(m.legacy, l)
		}
	}
	return m
}

func (m *MultiHasher) Hash(password string) (string, error) {
	return m.primary.Hash(password)
}

func (m *MultiHasher) Verify(password, encoded string) (bool, error) {
	alg, err := m.pick(encoded)
	if err != nil {
		return false, err
	}
	return alg.Verify(password, encoded)
}

// NeedsUpgrade is true for every hash not produced by the primary algorithm,
// and for primary hashes with weaker parameters.
func (m *MultiHasher) NeedsUpgrade(encoded string) (bool, error) {
	alg, err := m.pick(encoded)
	if err != nil {
		return false, err
	}
	if alg != m.primary {
		return true, nil
	}
	return alg.NeedsUpgrade(encoded)
}

func (m *MultiHasher) pick(encoded string) (algorithm, error) {
	if m.primary.Handles(encoded) {
		return m.primary, nil
	}
	for _, l := range m.legacy {
		if l.Handles(encoded) {
			return l, nil
		}
	}
	return nil, ErrUnsupportedHash
}
