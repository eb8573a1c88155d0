package refresh

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
)

const (
	idSize     = 16
	secretSize = 32
	wireSize   = idSize + secretSize
)

// Secret is the random half of a refresh token. Only its SHA-256 is stored.
type Secret [secretSize]byte

func newID() (string, error) {
	var raw [idSize]byte
	if _, err := rand.Read(raw[:]); err != nil {
		return "", err
	}
	// base64url, no padding, compact
	return base64.RawURLEncoding.EncodeToString(raw[:]), nil
}

func newSecret() (Secret, error) {
	var s Secret
	_, err := rand.Read(s[:])
	return s, err
}

// HashSecret returns the stored form of a secret.
func HashSecret(s Secret) [32]byte {
	return sha256.Sum256(s[:])
}

func parseID(id string) ([idSize]byte, error) {
	var out [idSize]byte
	raw, err := base64.RawURLEncoding.DecodeString(id)
	if err != nil {
		return out, err
	}
	if len(raw) != idSize {
		return out, errors.New("invalid refresh token id size")
	}
	copy(out[:], raw)
	return out, nil
}

// Encode builds the opaque wire form base64url(id || secret).
func Encode(id string, secret Secret) (string, error) {
	rawID, err := parseID(id)
	if err != nil {
		return "", err
	}

	var raw [wireSize]byte
	copy(raw[:idSize], rawID[:])
	copy(raw[idSize:], secret[:])

	return base64.RawURLEncoding.EncodeToString(raw[:]), nil
}

// Decode splits a wire token into its id and secret.
func Decode(token string) (string, Secret, error) {
	var secret Secret

	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return "", secret, err
	}
	if len(raw) != wireSize {
		return "", secret, errors.New("invalid refresh token size")
	}

	copy(secret[:], raw[idSize:])
	return base64.RawURLEncoding.EncodeToString(raw[:idSize]), secret, nil
}
