package token

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"slices"
	"time"

	gjwt "github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/MrEthical07/credguard/audit"
	"github.com/MrEthical07/credguard/jwt"
	"github.com/MrEthical07/credguard/revocation"
)

var (
	ErrInvalid         = errors.New("access token invalid")
	ErrExpired         = errors.New("access token expired")
	ErrBlacklisted     = errors.New("access token revoked")
	ErrReplayed        = errors.New("access token replayed")
	ErrBindingMismatch = errors.New("access token binding mismatch")
	ErrBlacklistOff    = errors.New("token blacklist disabled")
	ErrInvalidConfig   = errors.New("invalid token config")
)

// Authentication method references for the amr claim.
const (
	MethodPassword = "pwd"
	MethodOTP      = "otp"
	MethodHardware = "hwk"
)

// SecondFactor reports whether methods prove more than a password.
func SecondFactor(methods []string) bool {
	for _, m := range methods {
		if m != "" && m != MethodPassword {
			return true
		}
	}
	return false
}

// Config controls issuance and the optional validation steps.
type Config struct {
	AccessTTL time.Duration
	ClockSkew time.Duration

	EnableBlacklist bool
	// ReplayWindow enables replay detection when positive.
	ReplayWindow time.Duration
	// BindingDuration enables token binding when positive: the fingerprint
	// is enforced from issuance until iat + BindingDuration.
	BindingDuration time.Duration
}

// Deps are the collaborators of a Service. Encrypter, Blacklist, Replay and
// Sink are optional; Blacklist and Replay are required when the matching
// feature is enabled.
type Deps struct {
	Signer    *jwt.Manager
	Encrypter *jwt.Encrypter
	Blacklist *revocation.Blacklist
	Replay    *revocation.ReplayWindow
	Sink      audit.Sink
}

// AccessToken is an issued token and the facts the caller needs to track it.
type AccessToken struct {
	Token     string
	JTI       string
	Subject   string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// IssueOptions customise one issuance. A zero TTL uses Config.AccessTTL.
type IssueOptions struct {
	TTL         time.Duration
	Fingerprint string
	// AuthMethods become the amr claim.
	AuthMethods []string
	Claims      map[string]any
}

// Service issues and validates access tokens.
type Service struct {
	cfg  Config
	deps Deps
	now  func() time.Time
}

func NewService(cfg Config, deps Deps) (*Service, error) {
	if deps.Signer == nil {
		return nil, fmt.Errorf("%w: signer is required", ErrInvalidConfig)
	}
	if cfg.AccessTTL <= 0 {
		return nil, fmt.Errorf("%w: access ttl must be > 0", ErrInvalidConfig)
	}
	if cfg.ClockSkew < 0 || cfg.ClockSkew > 5*time.Minute {
		return nil, fmt.Errorf("%w: clock skew must be within [0, 5m]", ErrInvalidConfig)
	}
	if cfg.EnableBlacklist && deps.Blacklist == nil {
		return nil, fmt.Errorf("%w: blacklist enabled without a store", ErrInvalidConfig)
	}
	if cfg.ReplayWindow > 0 && deps.Replay == nil {
		return nil, fmt.Errorf("%w: replay window enabled without a store", ErrInvalidConfig)
	}
	return &Service{cfg: cfg, deps: deps, now: time.Now}, nil
}

// Issue signs a fresh access token for subject. When binding is enabled and
// a fingerprint is supplied, it is embedded with its enforcement deadline.
func (s *Service) Issue(ctx context.Context, subject string, opts IssueOptions) (*AccessToken, error) {
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = s.cfg.AccessTTL
	}

	now := s.now()
	iat := now.Truncate(time.Second)
	exp := iat.Add(ttl)
	jti := uuid.NewString()

	claims := &jwt.Claims{
		AuthMethods: slices.Clone(opts.AuthMethods),
		Custom:      opts.Claims,
		RegisteredClaims: gjwt.RegisteredClaims{
			Subject:   subject,
			ID:        jti,
			IssuedAt:  gjwt.NewNumericDate(iat),
			ExpiresAt: gjwt.NewNumericDate(exp),
		},
	}
	if s.cfg.BindingDuration > 0 && opts.Fingerprint != "" {
		claims.BindingFingerprint = opts.Fingerprint
		claims.BindingExpiresAt = gjwt.NewNumericDate(iat.Add(s.cfg.BindingDuration))
	}

	signed, err := s.deps.Signer.Sign(claims, iat)
	if err != nil {
		return nil, err
	}
	if s.deps.Encrypter != nil {
		if signed, err = s.deps.Encrypter.Encrypt(signed); err != nil {
			return nil, err
		}
	}

	return &AccessToken{
		Token:     signed,
		JTI:       jti,
		Subject:   subject,
		IssuedAt:  iat,
		ExpiresAt: exp,
	}, nil
}

// Validate runs the validation pipeline and stops at the first failure:
// decrypt, signature with the key active at iat, time window with skew,
// blacklist, replay window, then binding.
func (s *Service) Validate(ctx context.Context, tokenStr, fingerprint string) (*jwt.Claims, error) {
	now := s.now()

	claims, err := s.open(tokenStr, now)
	if err != nil {
		return nil, err
	}

	if claims.ExpiresAt == nil || !claims.ExpiresAt.After(claims.IssuedAt.Time) {
		return nil, fmt.Errorf("%w: expiry must follow issuance", ErrInvalid)
	}
	if now.After(claims.ExpiresAt.Add(s.cfg.ClockSkew)) {
		return nil, ErrExpired
	}
	if now.Before(claims.IssuedAt.Add(-s.cfg.ClockSkew)) {
		return nil, fmt.Errorf("%w: issued in the future", ErrInvalid)
	}

	if s.cfg.EnableBlacklist {
		revoked, err := s.deps.Blacklist.IsRevoked(ctx, claims.ID, now)
		if err != nil {
			return nil, err
		}
		if revoked {
			return nil, ErrBlacklisted
		}
	}

	if s.cfg.ReplayWindow > 0 {
		replayed, err := s.deps.Replay.CheckAndMark(ctx, claims.ID, now)
		if err != nil {
			return nil, err
		}
		if replayed {
			s.emit(ctx, audit.EventTokenReplayed, audit.SeverityHigh, claims, nil)
			return nil, ErrReplayed
		}
	}

	if s.cfg.BindingDuration > 0 && claims.BindingFingerprint != "" && claims.BindingExpiresAt != nil {
		if !now.After(claims.BindingExpiresAt.Time) && !fingerprintsMatch(claims.BindingFingerprint, fingerprint) {
			s.emit(ctx, audit.EventTokenBindingMismatch, audit.SeverityHigh, claims, nil)
			return nil, ErrBindingMismatch
		}
	}

	return claims, nil
}

// Revoke blacklists jti until expiresAt. Already-expired tokens are ignored.
func (s *Service) Revoke(ctx context.Context, jti string, expiresAt time.Time) error {
	if !s.cfg.EnableBlacklist {
		return ErrBlacklistOff
	}
	now := s.now()
	if err := s.deps.Blacklist.Revoke(ctx, jti, expiresAt.Add(s.cfg.ClockSkew), now); err != nil {
		return err
	}
	audit.Record(ctx, s.deps.Sink, audit.Event{
		EventType: audit.EventTokenRevoked,
		Severity:  audit.SeverityLow,
		Success:   true,
		Details:   map[string]string{"jti": jti},
	})
	return nil
}

// RevokeToken verifies tokenStr's signature and blacklists its jti. Expired
// tokens are accepted here since revoking them is a no-op.
func (s *Service) RevokeToken(ctx context.Context, tokenStr string) (*jwt.Claims, error) {
	claims, err := s.open(tokenStr, s.now())
	if err != nil {
		return nil, err
	}
	if claims.ExpiresAt == nil {
		return nil, ErrInvalid
	}
	if err := s.Revoke(ctx, claims.ID, claims.ExpiresAt.Time); err != nil {
		return nil, err
	}
	return claims, nil
}

// CleanupExpired purges expired blacklist and replay entries. It is
// idempotent and safe to run alongside validation.
func (s *Service) CleanupExpired(ctx context.Context) (int, error) {
	now := s.now()
	total := 0
	if s.deps.Blacklist != nil {
		n, err := s.deps.Blacklist.Cleanup(ctx, now)
		if err != nil {
			return total, err
		}
		total += n
	}
	if s.deps.Replay != nil {
		n, err := s.deps.Replay.Cleanup(ctx, now)
		if err != nil {
			return total, err
		}
		total += n
	}
	return total, nil
}

// Config returns the active settings.
func (s *Service) Config() Config {
	return s.cfg
}

func (s *Service) open(tokenStr string, now time.Time) (*jwt.Claims, error) {
	if tokenStr == "" {
		return nil, ErrInvalid
	}
	signed := tokenStr
	if s.deps.Encrypter != nil {
		var err error
		if signed, err = s.deps.Encrypter.Decrypt(tokenStr); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
		}
	}
	claims, err := s.deps.Signer.Parse(signed, now)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if claims.ID == "" {
		return nil, fmt.Errorf("%w: missing jti", ErrInvalid)
	}
	return claims, nil
}

func (s *Service) emit(ctx context.Context, eventType string, sev audit.Severity, claims *jwt.Claims, err error) {
	ev := audit.Event{
		EventType: eventType,
		Severity:  sev,
		SubjectID: claims.Subject,
		Details:   map[string]string{"jti": claims.ID},
	}
	if err != nil {
		ev.Error = err.Error()
	}
	audit.Record(ctx, s.deps.Sink, ev)
}

// Fingerprint derives a binding fingerprint from client attributes.
func Fingerprint(ip, userAgent string) string {
	if ip == "" && userAgent == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(ip + "\x00" + userAgent))
	return hex.EncodeToString(sum[:])
}

func fingerprintsMatch(expected, presented string) bool {
	if presented == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(expected), []byte(presented)) == 1
}
