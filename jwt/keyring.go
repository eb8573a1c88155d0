package jwt

import (
	"crypto/ed25519"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// SigningMethod selects the signature algorithm of a key.
type SigningMethod string

const (
	MethodEd25519 SigningMethod = "ed25519"
	MethodHS256   SigningMethod = "hs256"
)

const minHMACSecret = 32

var (
	ErrUnknownKey    = errors.New("unknown signing key")
	ErrKeyNotActive  = errors.New("signing key was not active at issue time")
	ErrNoSigningKey  = errors.New("no usable signing key")
	ErrInvalidKeySet = errors.New("invalid key set")
)

// Key is one entry of a keyring. A key verifies tokens issued in
// [NotBefore, RetiredAt); a zero bound is open. Verify-only Ed25519 keys
// omit PrivateKey.
type Key struct {
	ID         string
	Method     SigningMethod
	Secret     []byte
	PrivateKey []byte
	PublicKey  []byte
	NotBefore  time.Time
	RetiredAt  time.Time
}

// ActiveAt reports whether the key covers instant t.
func (k Key) ActiveAt(t time.Time) bool {
	if !k.NotBefore.IsZero() && t.Before(k.NotBefore) {
		return false
	}
	if !k.RetiredAt.IsZero() && !t.Before(k.RetiredAt) {
		return false
	}
	return true
}

type parsedKey struct {
	Key
	method jwt.SigningMethod
	sign   any
	verify any
}

// Keyring holds the signing keys by kid and names the one used for new
// tokens. It is safe for concurrent use and can be swapped atomically by
// Replace when keys are rotated.
type Keyring struct {
	mu     sync.RWMutex
	keys   map[string]*parsedKey
	active string
}

// NewKeyring validates keys and returns a ring signing with activeID.
func NewKeyring(activeID string, keys ...Key) (*Keyring, error) {
	k := &Keyring{}
	if err := k.Replace(activeID, keys...); err != nil {
		return nil, err
	}
	return k, nil
}

// Replace swaps the whole key set. On error the previous set stays in place.
func (k *Keyring) Replace(activeID string, keys ...Key) error {
	parsed := make(map[string]*parsedKey, len(keys))
	for _, key := range keys {
		key.ID = strings.TrimSpace(key.ID)
		if key.ID == "" {
			return fmt.Errorf("%w: key with empty id", ErrInvalidKeySet)
		}
		if _, dup := parsed[key.ID]; dup {
			return fmt.Errorf("%w: duplicate key id %q", ErrInvalidKeySet, key.ID)
		}
		key.NotBefore, key.RetiredAt = secondBounds(key.NotBefore, key.RetiredAt)
		if !key.NotBefore.IsZero() && !key.RetiredAt.IsZero() && !key.RetiredAt.After(key.NotBefore) {
			return fmt.Errorf("%w: key %q retires before it becomes valid", ErrInvalidKeySet, key.ID)
		}
		pk, err := parseKey(key)
		if err != nil {
			return fmt.Errorf("%w: key %q: %v", ErrInvalidKeySet, key.ID, err)
		}
		parsed[key.ID] = pk
	}

	active, ok := parsed[activeID]
	if !ok {
		return fmt.Errorf("%w: active key %q not in set", ErrInvalidKeySet, activeID)
	}
	if active.sign == nil {
		return fmt.Errorf("%w: active key %q has no private material", ErrInvalidKeySet, activeID)
	}
	if !active.RetiredAt.IsZero() {
		return fmt.Errorf("%w: active key %q is retired", ErrInvalidKeySet, activeID)
	}

	k.mu.Lock()
	k.keys = parsed
	k.active = activeID
	k.mu.Unlock()
	return nil
}

// secondBounds widens a validity range to whole seconds, the precision of
// iat. A key that becomes valid mid-second must cover tokens issued in that
// second, and so must a key retired mid-second.
func secondBounds(notBefore, retiredAt time.Time) (time.Time, time.Time) {
	if !notBefore.IsZero() {
		notBefore = notBefore.Truncate(time.Second)
	}
	if !retiredAt.IsZero() {
		if t := retiredAt.Truncate(time.Second); !t.Equal(retiredAt) {
			retiredAt = t.Add(time.Second)
		}
	}
	return notBefore, retiredAt
}

// ActiveID returns the kid used for new tokens.
func (k *Keyring) ActiveID() string {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.active
}

// KeyIDs lists every kid in the ring, sorted.
func (k *Keyring) KeyIDs() []string {
	k.mu.RLock()
	defer k.mu.RUnlock()
	ids := make([]string, 0, len(k.keys))
	for id := range k.keys {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (k *Keyring) signingKey(now time.Time) (*parsedKey, error) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	key := k.keys[k.active]
	if key == nil || !key.ActiveAt(now) {
		return nil, ErrNoSigningKey
	}
	return key, nil
}

func (k *Keyring) verificationKey(kid string, iat time.Time) (*parsedKey, error) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	key, ok := k.keys[kid]
	if !ok {
		return nil, ErrUnknownKey
	}
	if !key.ActiveAt(iat) {
		return nil, ErrKeyNotActive
	}
	return key, nil
}

func parseKey(key Key) (*parsedKey, error) {
	pk := &parsedKey{Key: key}
	switch key.Method {
	case MethodHS256:
		if len(key.Secret) < minHMACSecret {
			return nil, fmt.Errorf("hs256 secret must be at least %d bytes", minHMACSecret)
		}
		pk.method = jwt.SigningMethodHS256
		pk.sign = key.Secret
		pk.verify = key.Secret
	case MethodEd25519:
		pk.method = jwt.SigningMethodEdDSA
		if len(key.PrivateKey) > 0 {
			priv, err := parseEdPrivateKey(key.PrivateKey)
			if err != nil {
				return nil, err
			}
			pk.sign = priv
			pk.verify = priv.Public()
		}
		if len(key.PublicKey) > 0 {
			pub, err := parseEdPublicKey(key.PublicKey)
			if err != nil {
				return nil, err
			}
			pk.verify = pub
		}
		if pk.verify == nil {
			return nil, errors.New("ed25519 requires a private or public key")
		}
	default:
		return nil, fmt.Errorf("unsupported signing method %q", key.Method)
	}
	return pk, nil
}

func parseEdPrivateKey(key []byte) (ed25519.PrivateKey, error) {
	if len(key) == ed25519.PrivateKeySize {
		return ed25519.PrivateKey(key), nil
	}
	parsed, err := jwt.ParseEdPrivateKeyFromPEM(key)
	if err != nil {
		return nil, errors.New("invalid ed25519 private key")
	}
	edKey, ok := parsed.(ed25519.PrivateKey)
	if !ok {
		return nil, errors.New("invalid ed25519 private key type")
	}
	return edKey, nil
}

func parseEdPublicKey(key []byte) (ed25519.PublicKey, error) {
	if len(key) == ed25519.PublicKeySize {
		return ed25519.PublicKey(key), nil
	}
	parsed, err := jwt.ParseEdPublicKeyFromPEM(key)
	if err != nil {
		return nil, errors.New("invalid ed25519 public key")
	}
	edKey, ok := parsed.(ed25519.PublicKey)
	if !ok {
		return nil, errors.New("invalid ed25519 public key type")
	}
	return edKey, nil
}
