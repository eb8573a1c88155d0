package apikey

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/MrEthical07/credguard/audit"
	"github.com/MrEthical07/credguard/internal/rate"
)

const (
	keyIDSize  = 8
	secretSize = 32
	saltSize   = 16
)

// Decision is the outcome of a rate limit check.
type Decision = rate.Decision

// Config controls key format and lifecycle.
type Config struct {
	// Prefix starts every plaintext key. Defaults to "cg".
	Prefix string
	// DefaultExpiry applies when Generate is called with a zero expiry.
	// Zero means keys never expire.
	DefaultExpiry time.Duration
	// GracePeriod keeps a rotated key valid for a while. Zero revokes it
	// immediately.
	GracePeriod time.Duration
	// PerIPRateLimit counts requests per key and source address instead of
	// per key.
	PerIPRateLimit bool
}

// Manager issues and validates API keys.
type Manager struct {
	cfg     Config
	store   Store
	limiter rate.Limiter
	sink    audit.Sink
	log     logrus.FieldLogger
	now     func() time.Time
}

// NewManager wires a manager. limiter may be nil to disable rate limiting.
func NewManager(cfg Config, store Store, limiter rate.Limiter, sink audit.Sink, log logrus.FieldLogger) (*Manager, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: store is required", ErrInvalidConfig)
	}
	if cfg.Prefix == "" {
		cfg.Prefix = "cg"
	}
	if strings.Contains(cfg.Prefix, "_") {
		return nil, fmt.Errorf("%w: prefix must not contain '_'", ErrInvalidConfig)
	}
	if cfg.DefaultExpiry < 0 || cfg.GracePeriod < 0 {
		return nil, fmt.Errorf("%w: durations must be >= 0", ErrInvalidConfig)
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Manager{
		cfg:     cfg,
		store:   store,
		limiter: limiter,
		sink:    sink,
		log:     log.WithField("component", "apikey"),
		now:     time.Now,
	}, nil
}

// Generate creates a key for ownerID. The plaintext is returned once and is
// not recoverable afterwards.
func (m *Manager) Generate(ctx context.Context, ownerID string, scopes []string, expiry time.Duration, allowedIPs []string) (string, *Key, error) {
	if ownerID == "" {
		return "", nil, fmt.Errorf("%w: owner is required", ErrInvalidConfig)
	}
	if err := validateAllowedIPs(allowedIPs); err != nil {
		return "", nil, err
	}
	if expiry <= 0 {
		expiry = m.cfg.DefaultExpiry
	}

	plaintext, key, err := m.newKey(ownerID, scopes, allowedIPs, expiry)
	if err != nil {
		return "", nil, err
	}
	if err := m.store.Create(ctx, key); err != nil {
		return "", nil, err
	}

	m.emit(ctx, audit.EventAPIKeyCreated, audit.SeverityInfo, key, "", nil)
	return plaintext, key, nil
}

// Validate checks presented and returns its key. Keys with an allow-list
// are rejected when sourceIP is empty or outside the list.
func (m *Manager) Validate(ctx context.Context, presented, sourceIP string) (*Key, error) {
	id, secret, ok := m.parse(presented)
	if !ok {
		return nil, m.reject(ctx, nil, sourceIP, ErrInvalid)
	}

	key, err := m.store.Get(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return nil, m.reject(ctx, nil, sourceIP, ErrInvalid)
	}
	if err != nil {
		return nil, err
	}

	sum := hashSecret(key.Salt, secret)
	if subtle.ConstantTimeCompare(sum[:], key.SecretHash[:]) != 1 {
		return nil, m.reject(ctx, key, sourceIP, ErrInvalid)
	}

	now := m.now()
	switch {
	case key.Status == StatusRevoked:
		return nil, m.reject(ctx, key, sourceIP, ErrRevoked)
	case key.Status == StatusExpired:
		return nil, m.reject(ctx, key, sourceIP, ErrExpired)
	case !key.ExpiresAt.IsZero() && !now.Before(key.ExpiresAt):
		m.markStatus(ctx, key, StatusExpired)
		return nil, m.reject(ctx, key, sourceIP, ErrExpired)
	case !key.RevokeAt.IsZero() && !now.Before(key.RevokeAt):
		m.markStatus(ctx, key, StatusRevoked)
		return nil, m.reject(ctx, key, sourceIP, ErrRevoked)
	}

	if len(key.AllowedIPs) > 0 && !ipAllowed(key.AllowedIPs, sourceIP) {
		return nil, m.reject(ctx, key, sourceIP, ErrIPNotAllowed)
	}
	return key, nil
}

// CheckRateLimit counts one request for keyID. Without a limiter every
// request is allowed.
func (m *Manager) CheckRateLimit(ctx context.Context, keyID, sourceIP string) (Decision, error) {
	if m.limiter == nil {
		return Decision{Allowed: true, Remaining: -1}, nil
	}
	bucket := keyID
	if m.cfg.PerIPRateLimit && sourceIP != "" {
		bucket = keyID + "|" + sourceIP
	}
	d, err := m.limiter.Allow(ctx, bucket, m.now())
	if err != nil {
		return Decision{}, err
	}
	if !d.Allowed {
		audit.Record(ctx, m.sink, audit.Event{
			EventType: audit.EventRateLimited,
			Severity:  audit.SeverityLow,
			IP:        sourceIP,
			Details: map[string]string{
				"key_id":      keyID,
				"retry_after": d.RetryAfter.String(),
			},
		})
	}
	return d, nil
}

// Rotate issues a successor for oldKeyID with the same owner, scopes and
// allow-list. The old key stays valid for GracePeriod.
func (m *Manager) Rotate(ctx context.Context, oldKeyID string) (string, *Key, error) {
	old, err := m.store.Get(ctx, oldKeyID)
	if err != nil {
		return "", nil, err
	}
	now := m.now()
	if old.Status != StatusActive || (!old.RevokeAt.IsZero() && !now.Before(old.RevokeAt)) {
		return "", nil, ErrRevoked
	}
	if !old.ExpiresAt.IsZero() && !now.Before(old.ExpiresAt) {
		return "", nil, ErrExpired
	}

	var lifetime time.Duration
	if !old.ExpiresAt.IsZero() {
		lifetime = old.ExpiresAt.Sub(old.CreatedAt)
	}
	plaintext, next, err := m.newKey(old.OwnerID, old.Scopes, old.AllowedIPs, lifetime)
	if err != nil {
		return "", nil, err
	}
	next.PreviousKeyID = old.ID
	if err := m.store.Create(ctx, next); err != nil {
		return "", nil, err
	}

	if m.cfg.GracePeriod > 0 {
		old.RevokeAt = now.Add(m.cfg.GracePeriod)
	} else {
		old.Status = StatusRevoked
		old.RevokeAt = now
	}
	if err := m.store.Update(ctx, old); err != nil {
		return "", nil, err
	}

	m.emit(ctx, audit.EventAPIKeyRotated, audit.SeverityLow, next, "", map[string]string{
		"previous_key_id": old.ID,
		"revoke_at":       old.RevokeAt.UTC().Format(time.RFC3339),
	})
	return plaintext, next, nil
}

// Revoke disables keyID immediately.
func (m *Manager) Revoke(ctx context.Context, keyID string) error {
	key, err := m.store.Get(ctx, keyID)
	if err != nil {
		return err
	}
	if key.Status == StatusRevoked {
		return nil
	}
	key.Status = StatusRevoked
	key.RevokeAt = m.now()
	if err := m.store.Update(ctx, key); err != nil {
		return err
	}
	m.emit(ctx, audit.EventAPIKeyRevoked, audit.SeverityMedium, key, "", nil)
	return nil
}

// ListByOwner returns ownerID's keys, oldest first.
func (m *Manager) ListByOwner(ctx context.Context, ownerID string) ([]*Key, error) {
	return m.store.ListByOwner(ctx, ownerID)
}

// RecordUsage updates analytics for keyID. It never affects authorization;
// failures are logged and dropped.
func (m *Manager) RecordUsage(ctx context.Context, keyID, endpoint string, status int, latency time.Duration) {
	err := m.store.RecordUsage(ctx, keyID, Usage{
		Endpoint: endpoint,
		Status:   status,
		Latency:  latency,
		At:       m.now(),
	})
	if err != nil {
		m.log.WithError(err).WithField("key_id", keyID).Warn("api key usage not recorded")
	}
}

func (m *Manager) newKey(ownerID string, scopes, allowedIPs []string, lifetime time.Duration) (string, *Key, error) {
	var rawID [keyIDSize]byte
	if _, err := rand.Read(rawID[:]); err != nil {
		return "", nil, err
	}
	var secret [secretSize]byte
	if _, err := rand.Read(secret[:]); err != nil {
		return "", nil, err
	}
	salt := make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return "", nil, err
	}

	id := hex.EncodeToString(rawID[:])
	secretStr := base64.RawURLEncoding.EncodeToString(secret[:])
	now := m.now()

	key := &Key{
		ID:         id,
		Prefix:     m.cfg.Prefix + "_" + id,
		SecretHash: hashSecret(salt, secretStr),
		Salt:       salt,
		OwnerID:    ownerID,
		Scopes:     append([]string(nil), scopes...),
		AllowedIPs: append([]string(nil), allowedIPs...),
		Status:     StatusActive,
		CreatedAt:  now,
	}
	if lifetime > 0 {
		key.ExpiresAt = now.Add(lifetime)
	}
	return key.Prefix + "_" + secretStr, key, nil
}

// parse splits <prefix>_<id>_<secret>. The secret is base64url and may
// itself contain underscores.
func (m *Manager) parse(presented string) (string, string, bool) {
	parts := strings.SplitN(presented, "_", 3)
	if len(parts) != 3 || parts[0] != m.cfg.Prefix {
		return "", "", false
	}
	if len(parts[1]) != hex.EncodedLen(keyIDSize) || parts[2] == "" {
		return "", "", false
	}
	return parts[1], parts[2], true
}

func (m *Manager) markStatus(ctx context.Context, key *Key, status Status) {
	key.Status = status
	if err := m.store.Update(ctx, key); err != nil {
		m.log.WithError(err).WithField("key_id", key.ID).Warn("api key status not persisted")
	}
}

func (m *Manager) reject(ctx context.Context, key *Key, sourceIP string, err error) error {
	m.emit(ctx, audit.EventAPIKeyRejected, audit.SeverityMedium, key, sourceIP, map[string]string{
		"reason": err.Error(),
	})
	return err
}

func (m *Manager) emit(ctx context.Context, eventType string, sev audit.Severity, key *Key, ip string, details map[string]string) {
	ev := audit.Event{
		EventType: eventType,
		Severity:  sev,
		IP:        ip,
		Success:   eventType != audit.EventAPIKeyRejected,
		Details:   details,
	}
	if key != nil {
		ev.SubjectID = key.OwnerID
		if ev.Details == nil {
			ev.Details = make(map[string]string, 1)
		}
		ev.Details["key_id"] = key.ID
	}
	audit.Record(ctx, m.sink, ev)
}

func hashSecret(salt []byte, secret string) [32]byte {
	h := sha256.New()
	h.Write(salt)
	io.WriteString(h, secret)
	var out [32]byte
	h.Sum(out[:0])
	return out
}
