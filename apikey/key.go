package apikey

import (
	"errors"
	"net/netip"
	"slices"
	"time"
)

var (
	ErrInvalid       = errors.New("api key invalid")
	ErrRevoked       = errors.New("api key revoked")
	ErrExpired       = errors.New("api key expired")
	ErrIPNotAllowed  = errors.New("api key not allowed from source ip")
	ErrInvalidConfig = errors.New("invalid api key config")
	ErrInvalidIP     = errors.New("invalid allowed ip")

	// Store errors.
	ErrNotFound    = errors.New("api key not found")
	ErrUnavailable = errors.New("api key store unavailable")
)

// Status is the lifecycle state of a key.
type Status string

const (
	StatusActive  Status = "active"
	StatusRevoked Status = "revoked"
	StatusExpired Status = "expired"
)

// Key is the stored form of an API key. The plaintext is never kept; only a
// salted SHA-256 of its secret part.
type Key struct {
	ID string
	// Prefix is the non-secret display form, e.g. cg_1a2b3c4d5e6f7a8b.
	Prefix     string
	SecretHash [32]byte
	Salt       []byte
	OwnerID    string
	Scopes     []string
	// AllowedIPs holds single addresses and CIDR ranges. Empty allows all.
	AllowedIPs    []string
	Status        Status
	PreviousKeyID string
	CreatedAt     time.Time
	ExpiresAt     time.Time
	// RevokeAt schedules revocation, set when a key is rotated with a grace
	// period.
	RevokeAt     time.Time
	RequestCount int64
	LastUsedAt   time.Time
}

func (k *Key) HasScope(scope string) bool {
	return slices.Contains(k.Scopes, scope)
}

// HasScopes reports whether every scope in required was granted.
func (k *Key) HasScopes(required ...string) bool {
	for _, s := range required {
		if !k.HasScope(s) {
			return false
		}
	}
	return true
}

func (k *Key) clone() *Key {
	c := *k
	c.Salt = slices.Clone(k.Salt)
	c.Scopes = slices.Clone(k.Scopes)
	c.AllowedIPs = slices.Clone(k.AllowedIPs)
	return &c
}

// Usage is one request made with a key.
type Usage struct {
	Endpoint string
	Status   int
	Latency  time.Duration
	At       time.Time
}

func validateAllowedIPs(entries []string) error {
	for _, e := range entries {
		if _, err := netip.ParsePrefix(e); err == nil {
			continue
		}
		if _, err := netip.ParseAddr(e); err != nil {
			return errors.Join(ErrInvalidIP, err)
		}
	}
	return nil
}

// ipAllowed matches source against exact addresses and CIDR ranges.
func ipAllowed(entries []string, source string) bool {
	addr, err := netip.ParseAddr(source)
	if err != nil {
		return false
	}
	addr = addr.Unmap()
	for _, e := range entries {
		if p, err := netip.ParsePrefix(e); err == nil {
			if p.Contains(addr) {
				return true
			}
			continue
		}
		if a, err := netip.ParseAddr(e); err == nil && a.Unmap() == addr {
			return true
		}
	}
	return false
}
