package jwt

import (
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrMissingIssuedAt is returned for tokens without an iat claim, which
	// is required to pick the verification key.
	ErrMissingIssuedAt  = errors.New("token has no iat")
	ErrIssuerMismatch   = errors.New("token issuer mismatch")
	ErrAudienceMismatch = errors.New("token audience mismatch")
)

// Config defines issuer-level settings shared by every key.
type Config struct {
	Issuer   string
	Audience string
	// MaxFutureIAT rejects tokens claiming to be issued further ahead than this.
	MaxFutureIAT time.Duration
}

// Claims is the access token claim set. bfp/bexp carry the binding
// fingerprint and the instant binding stops being enforced.
type Claims struct {
	BindingFingerprint string           `json:"bfp,omitempty"`
	BindingExpiresAt   *jwt.NumericDate `json:"bexp,omitempty"`
	// AuthMethods are the amr values (RFC 8176) the session has proven.
	AuthMethods []string       `json:"amr,omitempty"`
	Custom      map[string]any `json:"ext,omitempty"`
	jwt.RegisteredClaims
}

// Manager signs and verifies access tokens against a Keyring.
//
// Parse checks signature, algorithm, issuer and audience only. Expiry with
// clock skew is left to the caller so it can run after signature
// verification with its own tolerance.
type Manager struct {
	config Config
	keys   *Keyring
}

func NewManager(cfg Config, keys *Keyring) (*Manager, error) {
	if keys == nil {
		return nil, errors.New("keyring is required")
	}
	if cfg.MaxFutureIAT == 0 {
		cfg.MaxFutureIAT = 10 * time.Minute
	}
	if cfg.MaxFutureIAT < 0 || cfg.MaxFutureIAT > 24*time.Hour {
		return nil, errors.New("invalid MaxFutureIAT configuration")
	}
	return &Manager{config: cfg, keys: keys}, nil
}

// Keyring returns the ring used by m.
func (m *Manager) Keyring() *Keyring {
	return m.keys
}

// Sign fills in issuer and audience and signs claims with the active key.
// The kid header names the key. The key is chosen at the claims' iat when
// set, so Parse picks the same key back.
func (m *Manager) Sign(claims *Claims, now time.Time) (string, error) {
	at := now
	if claims.IssuedAt != nil {
		at = claims.IssuedAt.Time
	}
	key, err := m.keys.signingKey(at)
	if err != nil {
		return "", err
	}

	if m.config.Issuer != "" {
		claims.Issuer = m.config.Issuer
	}
	if m.config.Audience != "" {
		claims.Audience = jwt.ClaimStrings{m.config.Audience}
	}

	token := jwt.NewWithClaims(key.method, claims)
	token.Header["kid"] = key.ID
	return token.SignedString(key.sign)
}

// Parse verifies the signature with the key named by kid, which must have
// been active at the token's iat.
func (m *Manager) Parse(tokenStr string, now time.Time) (*Claims, error) {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodEdDSA.Alg(), jwt.SigningMethodHS256.Alg()}),
		jwt.WithoutClaimsValidation(),
	)

	token, err := parser.ParseWithClaims(tokenStr, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		claims, ok := t.Claims.(*Claims)
		if !ok {
			return nil, jwt.ErrTokenInvalidClaims
		}
		if claims.IssuedAt == nil {
			return nil, ErrMissingIssuedAt
		}
		kid, _ := t.Header["kid"].(string)
		if kid == "" {
			return nil, errors.New("missing kid")
		}

		key, err := m.keys.verificationKey(kid, claims.IssuedAt.Time)
		if err != nil {
			return nil, err
		}
		if t.Method.Alg() != key.method.Alg() {
			return nil, fmt.Errorf("unexpected signing algorithm: %s", t.Method.Alg())
		}
		return key.verify, nil
	})
	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, jwt.ErrTokenInvalidClaims
	}
	if m.config.Issuer != "" && claims.Issuer != m.config.Issuer {
		return nil, ErrIssuerMismatch
	}
	if m.config.Audience != "" && !slices.Contains(claims.Audience, m.config.Audience) {
		return nil, ErrAudienceMismatch
	}
	if claims.IssuedAt.Time.After(now.Add(m.config.MaxFutureIAT)) {
		return nil, errors.New("token iat too far in the future")
	}
	return claims, nil
}
