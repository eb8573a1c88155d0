package refresh

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/MrEthical07/credguard/audit"
	"github.com/MrEthical07/credguard/token"
)

// Config bounds token lifetime and family growth. MaxFamilySize caps the
// number of tokens a family may hold; zero means unbounded.
type Config struct {
	TTL           time.Duration
	MaxFamilySize int
}

// AccessRevoker blacklists access tokens. *token.Service satisfies it.
type AccessRevoker interface {
	Revoke(ctx context.Context, jti string, expiresAt time.Time) error
}

// IssueAccessFunc mints the access token that accompanies a rotated refresh
// token.
type IssueAccessFunc func(ctx context.Context, next *Token) (*token.AccessToken, error)

// Issued is a freshly minted refresh token. Plaintext is shown to the client
// once and never stored.
type Issued struct {
	Token     *Token
	Plaintext string
}

type RotateResult struct {
	Refresh Issued
	Access  *token.AccessToken
}

// Manager runs rotate-on-use with family-wide reuse detection.
type Manager struct {
	cfg     Config
	store   Store
	revoker AccessRevoker
	sink    audit.Sink
	now     func() time.Time
}

// NewManager wires a manager. revoker and sink may be nil; without a revoker
// family revocation cannot reach access tokens already issued.
func NewManager(cfg Config, store Store, revoker AccessRevoker, sink audit.Sink) (*Manager, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: store is required", ErrInvalidConfig)
	}
	if cfg.TTL <= 0 {
		return nil, fmt.Errorf("%w: ttl must be > 0", ErrInvalidConfig)
	}
	if cfg.MaxFamilySize < 0 {
		return nil, fmt.Errorf("%w: max family size must be >= 0", ErrInvalidConfig)
	}
	return &Manager{cfg: cfg, store: store, revoker: revoker, sink: sink, now: time.Now}, nil
}

func (m *Manager) Config() Config {
	return m.cfg
}

// IssueFamily starts a new family for subject at generation 0, recording
// the authentication methods the subject proved.
func (m *Manager) IssueFamily(ctx context.Context, subject string, authMethods ...string) (*Issued, error) {
	issued, err := m.mint(subject, uuid.NewString(), 0, slices.Clone(authMethods))
	if err != nil {
		return nil, err
	}
	if err := m.store.Create(ctx, issued.Token); err != nil {
		return nil, err
	}
	return issued, nil
}

// Rotate redeems presented for a successor and a new access token.
//
// A second redemption of any token in a family burns the whole family and
// blacklists the access tokens issued from it. Afterwards every token of the
// family is rejected as invalid.
func (m *Manager) Rotate(ctx context.Context, presented string, issueAccess IssueAccessFunc) (*RotateResult, error) {
	return m.rotate(ctx, presented, "", issueAccess)
}

// StepUp rotates presented like Rotate and adds method to the successor's
// authentication methods. The caller has already verified the factor.
func (m *Manager) StepUp(ctx context.Context, presented, method string, issueAccess IssueAccessFunc) (*RotateResult, error) {
	if method == "" {
		return nil, fmt.Errorf("%w: empty authentication method", ErrInvalidConfig)
	}
	return m.rotate(ctx, presented, method, issueAccess)
}

func (m *Manager) rotate(ctx context.Context, presented, addMethod string, issueAccess IssueAccessFunc) (*RotateResult, error) {
	id, secret, err := Decode(presented)
	if err != nil {
		return nil, ErrInvalid
	}

	now := m.now()
	old, err := m.store.Get(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return nil, ErrInvalid
	}
	if err != nil {
		return nil, err
	}

	hash := HashSecret(secret)
	if subtle.ConstantTimeCompare(hash[:], old.SecretHash[:]) != 1 {
		return nil, ErrInvalid
	}
	if old.Revoked {
		return nil, ErrInvalid
	}
	if old.expired(now) {
		return nil, ErrExpired
	}
	if old.Used {
		return nil, m.reuseDetected(ctx, old)
	}

	if m.cfg.MaxFamilySize > 0 && old.Generation+1 >= m.cfg.MaxFamilySize {
		if err := m.store.Burn(ctx, old.ID); err != nil && !errors.Is(err, ErrNotFound) {
			return nil, err
		}
		m.emit(ctx, audit.EventRefreshFamilyExceeded, audit.SeverityMedium, old, map[string]string{
			"generation": strconv.Itoa(old.Generation),
		})
		return nil, ErrFamilyExhausted
	}

	methods := old.AuthMethods
	if addMethod != "" && !slices.Contains(methods, addMethod) {
		methods = append(slices.Clone(methods), addMethod)
	}
	next, err := m.mint(old.SubjectID, old.FamilyID, old.Generation+1, methods)
	if err != nil {
		return nil, err
	}

	switch err := m.store.Rotate(ctx, old.ID, next.Token); {
	case errors.Is(err, ErrAlreadyUsed):
		// Lost the race to a concurrent redemption of the same token.
		return nil, m.reuseDetected(ctx, old)
	case errors.Is(err, ErrNotFound):
		return nil, ErrInvalid
	case err != nil:
		return nil, err
	}

	access, err := issueAccess(ctx, next.Token)
	if err != nil {
		// The predecessor is already burned; do not leave a usable
		// successor behind a failed response.
		if burnErr := m.store.Burn(ctx, next.Token.ID); burnErr != nil {
			return nil, errors.Join(err, burnErr)
		}
		return nil, err
	}
	if access != nil {
		ref := AccessRef{JTI: access.JTI, ExpiresAt: access.ExpiresAt}
		if err := m.store.TrackAccess(ctx, next.Token.FamilyID, ref, now); err != nil {
			return nil, err
		}
	}

	details := map[string]string{
		"generation": strconv.Itoa(next.Token.Generation),
	}
	if addMethod != "" {
		details["auth_method"] = addMethod
		m.emit(ctx, audit.EventSecondFactorVerified, audit.SeverityInfo, next.Token, details)
	} else {
		m.emit(ctx, audit.EventRefreshRotated, audit.SeverityInfo, next.Token, details)
	}
	return &RotateResult{Refresh: *next, Access: access}, nil
}

// Verify checks presented without consuming it. It serves deployments that
// turn rotation off and keep one refresh token for the whole session.
func (m *Manager) Verify(ctx context.Context, presented string) (*Token, error) {
	id, secret, err := Decode(presented)
	if err != nil {
		return nil, ErrInvalid
	}
	tok, err := m.store.Get(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return nil, ErrInvalid
	}
	if err != nil {
		return nil, err
	}
	hash := HashSecret(secret)
	if subtle.ConstantTimeCompare(hash[:], tok.SecretHash[:]) != 1 {
		return nil, ErrInvalid
	}
	if tok.Revoked || tok.Used {
		return nil, ErrInvalid
	}
	if tok.expired(m.now()) {
		return nil, ErrExpired
	}
	return tok, nil
}

// TrackAccess records an access token issued alongside familyID so a later
// family revocation can blacklist it.
func (m *Manager) TrackAccess(ctx context.Context, familyID, jti string, expiresAt time.Time) error {
	if familyID == "" || jti == "" {
		return nil
	}
	return m.store.TrackAccess(ctx, familyID, AccessRef{JTI: jti, ExpiresAt: expiresAt}, m.now())
}

// RevokeFamily burns every token in the family of presented and blacklists
// its tracked access tokens. It is what logout does.
func (m *Manager) RevokeFamily(ctx context.Context, presented string) (*Token, error) {
	id, secret, err := Decode(presented)
	if err != nil {
		return nil, ErrInvalid
	}
	tok, err := m.store.Get(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return nil, ErrInvalid
	}
	if err != nil {
		return nil, err
	}
	hash := HashSecret(secret)
	if subtle.ConstantTimeCompare(hash[:], tok.SecretHash[:]) != 1 {
		return nil, ErrInvalid
	}

	if err := m.burnFamily(ctx, tok.FamilyID); err != nil {
		return nil, err
	}
	m.emit(ctx, audit.EventRefreshFamilyRevoked, audit.SeverityMedium, tok, nil)
	return tok, nil
}

// CleanupExpired drops expired tokens and access references.
func (m *Manager) CleanupExpired(ctx context.Context) (int, error) {
	return m.store.CleanupExpired(ctx, m.now())
}

func (m *Manager) reuseDetected(ctx context.Context, tok *Token) error {
	if err := m.burnFamily(ctx, tok.FamilyID); err != nil {
		return err
	}
	m.emit(ctx, audit.EventRefreshReuseDetected, audit.SeverityCritical, tok, map[string]string{
		"generation": strconv.Itoa(tok.Generation),
	})
	return ErrReused
}

func (m *Manager) burnFamily(ctx context.Context, familyID string) error {
	if _, err := m.store.BurnFamily(ctx, familyID); err != nil {
		return err
	}
	if m.revoker == nil {
		return nil
	}

	refs, err := m.store.AccessTokens(ctx, familyID)
	if err != nil {
		return err
	}
	now := m.now()
	var errs []error
	for _, ref := range refs {
		if !ref.ExpiresAt.After(now) {
			continue
		}
		if err := m.revoker.Revoke(ctx, ref.JTI, ref.ExpiresAt); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m *Manager) mint(subject, familyID string, generation int, authMethods []string) (*Issued, error) {
	id, err := newID()
	if err != nil {
		return nil, err
	}
	secret, err := newSecret()
	if err != nil {
		return nil, err
	}
	plaintext, err := Encode(id, secret)
	if err != nil {
		return nil, err
	}

	now := m.now()
	return &Issued{
		Token: &Token{
			ID:          id,
			FamilyID:    familyID,
			Generation:  generation,
			SubjectID:   subject,
			IssuedAt:    now,
			ExpiresAt:   now.Add(m.cfg.TTL),
			SecretHash:  HashSecret(secret),
			AuthMethods: authMethods,
		},
		Plaintext: plaintext,
	}, nil
}

func (m *Manager) emit(ctx context.Context, eventType string, sev audit.Severity, tok *Token, details map[string]string) {
	if details == nil {
		details = make(map[string]string, 1)
	}
	details["family_id"] = tok.FamilyID
	audit.Record(ctx, m.sink, audit.Event{
		EventType: eventType,
		Severity:  sev,
		SubjectID: tok.SubjectID,
		Success:   eventType == audit.EventRefreshRotated || eventType == audit.EventSecondFactorVerified,
		Details:   details,
	})
}
