package token

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/MrEthical07/credguard/audit"
	"github.com/MrEthical07/credguard/jwt"
	"github.com/MrEthical07/credguard/revocation"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type fixture struct {
	svc   *Service
	clock *fakeClock
	sink  *audit.ChannelSink
	ring  *jwt.Keyring
	key   jwt.Key
}

func newFixture(t *testing.T, cfg Config, encrypt bool) *fixture {
	t.Helper()
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	key := jwt.Key{ID: "k1", Method: jwt.MethodEd25519, PrivateKey: priv}
	ring, err := jwt.NewKeyring("k1", key)
	if err != nil {
		t.Fatalf("NewKeyring: %v", err)
	}
	signer, err := jwt.NewManager(jwt.Config{Issuer: "credguard", Audience: "api"}, ring)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}

	sink := audit.NewChannelSink(16)
	deps := Deps{
		Signer:    signer,
		Blacklist: revocation.NewBlacklist(revocation.NewMemorySet()),
		Replay:    revocation.NewReplayWindow(revocation.NewMemorySet(), cfg.ReplayWindow),
		Sink:      sink,
	}
	if encrypt {
		encKey := make([]byte, 32)
		_, _ = rand.Read(encKey)
		if deps.Encrypter, err = jwt.NewEncrypter(encKey); err != nil {
			t.Fatalf("NewEncrypter: %v", err)
		}
	}

	svc, err := NewService(cfg, deps)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	clock := &fakeClock{now: time.Date(2026, 7, 1, 8, 0, 0, 0, time.UTC)}
	svc.now = clock.Now
	return &fixture{svc: svc, clock: clock, sink: sink, ring: ring, key: key}
}

func baseConfig() Config {
	return Config{
		AccessTTL:       15 * time.Minute,
		ClockSkew:       30 * time.Second,
		EnableBlacklist: true,
	}
}

func TestIssueAndValidate(t *testing.T) {
	f := newFixture(t, baseConfig(), false)
	ctx := context.Background()

	at, err := f.svc.Issue(ctx, "u1", IssueOptions{Claims: map[string]any{"mfa": true}})
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if at.JTI == "" || !at.ExpiresAt.After(at.IssuedAt) || at.ExpiresAt.Sub(at.IssuedAt) != 15*time.Minute {
		t.Fatalf("unexpected access token: %+v", at)
	}

	other, _ := f.svc.Issue(ctx, "u1", IssueOptions{})
	if other.JTI == at.JTI {
		t.Fatal("expected a fresh jti per token")
	}

	claims, err := f.svc.Validate(ctx, at.Token, "")
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if claims.Subject != "u1" || claims.ID != at.JTI || claims.Custom["mfa"] != true {
		t.Fatalf("unexpected claims: %+v", claims)
	}
}

func TestValidateTimeWindowWithSkew(t *testing.T) {
	f := newFixture(t, baseConfig(), false)
	ctx := context.Background()
	at, _ := f.svc.Issue(ctx, "u1", IssueOptions{TTL: time.Minute})

	f.clock.Advance(time.Minute + 30*time.Second)
	if _, err := f.svc.Validate(ctx, at.Token, ""); err != nil {
		t.Fatalf("token within skew must validate: %v", err)
	}
	f.clock.Advance(time.Second)
	if _, err := f.svc.Validate(ctx, at.Token, ""); !errors.Is(err, ErrExpired) {
		t.Fatalf("expected ErrExpired, got %v", err)
	}
}

func TestValidateRejectsFutureIssuedAt(t *testing.T) {
	f := newFixture(t, baseConfig(), false)
	ctx := context.Background()

	f.clock.Advance(2 * time.Minute)
	at, _ := f.svc.Issue(ctx, "u1", IssueOptions{})
	f.clock.Advance(-2 * time.Minute)

	if _, err := f.svc.Validate(ctx, at.Token, ""); !errors.Is(err, ErrInvalid) {
		t.Fatalf("expected ErrInvalid for future iat, got %v", err)
	}
}

func TestBlacklistEffectiveness(t *testing.T) {
	f := newFixture(t, baseConfig(), false)
	ctx := context.Background()
	at, _ := f.svc.Issue(ctx, "u1", IssueOptions{})

	if _, err := f.svc.Validate(ctx, at.Token, ""); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if err := f.svc.Revoke(ctx, at.JTI, at.ExpiresAt); err != nil {
		t.Fatalf("Revoke: %v", err)
	}
	if _, err := f.svc.Validate(ctx, at.Token, ""); !errors.Is(err, ErrBlacklisted) {
		t.Fatalf("expected ErrBlacklisted, got %v", err)
	}
	if ev := <-f.sink.Events(); ev.EventType != audit.EventTokenRevoked {
		t.Fatalf("expected token_revoked event, got %+v", ev)
	}

	// Expiry is checked before the blacklist.
	f.clock.Advance(time.Hour)
	if _, err := f.svc.Validate(ctx, at.Token, ""); !errors.Is(err, ErrExpired) {
		t.Fatalf("expected ErrExpired to short-circuit, got %v", err)
	}
	n, err := f.svc.CleanupExpired(ctx)
	if err != nil || n != 1 {
		t.Fatalf("expected 1 entry purged, got %d err=%v", n, err)
	}
	if n, _ := f.svc.CleanupExpired(ctx); n != 0 {
		t.Fatalf("expected cleanup to be idempotent, got %d", n)
	}
}

func TestRevokeTokenAndDisabledBlacklist(t *testing.T) {
	f := newFixture(t, baseConfig(), false)
	ctx := context.Background()
	at, _ := f.svc.Issue(ctx, "u1", IssueOptions{})

	claims, err := f.svc.RevokeToken(ctx, at.Token)
	if err != nil || claims.ID != at.JTI {
		t.Fatalf("RevokeToken: %v", err)
	}
	if _, err := f.svc.Validate(ctx, at.Token, ""); !errors.Is(err, ErrBlacklisted) {
		t.Fatalf("expected ErrBlacklisted, got %v", err)
	}

	cfg := baseConfig()
	cfg.EnableBlacklist = false
	off := newFixture(t, cfg, false)
	if err := off.svc.Revoke(ctx, "x", time.Now().Add(time.Hour)); !errors.Is(err, ErrBlacklistOff) {
		t.Fatalf("expected ErrBlacklistOff, got %v", err)
	}
}

func TestReplayWindow(t *testing.T) {
	cfg := baseConfig()
	cfg.ReplayWindow = 2 * time.Second
	f := newFixture(t, cfg, false)
	ctx := context.Background()
	at, _ := f.svc.Issue(ctx, "u1", IssueOptions{})

	if _, err := f.svc.Validate(ctx, at.Token, ""); err != nil {
		t.Fatalf("first use: %v", err)
	}
	if _, err := f.svc.Validate(ctx, at.Token, ""); !errors.Is(err, ErrReplayed) {
		t.Fatalf("expected ErrReplayed, got %v", err)
	}
	if ev := <-f.sink.Events(); ev.EventType != audit.EventTokenReplayed || ev.SubjectID != "u1" {
		t.Fatalf("unexpected event: %+v", ev)
	}

	f.clock.Advance(3 * time.Second)
	if _, err := f.svc.Validate(ctx, at.Token, ""); err != nil {
		t.Fatalf("use after the replay window: %v", err)
	}
}

func TestTokenBinding(t *testing.T) {
	cfg := baseConfig()
	cfg.BindingDuration = 5 * time.Minute
	f := newFixture(t, cfg, false)
	ctx := context.Background()

	fp := Fingerprint("203.0.113.9", "curl/8")
	at, _ := f.svc.Issue(ctx, "u1", IssueOptions{Fingerprint: fp})

	if _, err := f.svc.Validate(ctx, at.Token, fp); err != nil {
		t.Fatalf("matching fingerprint: %v", err)
	}
	if _, err := f.svc.Validate(ctx, at.Token, Fingerprint("198.51.100.1", "curl/8")); !errors.Is(err, ErrBindingMismatch) {
		t.Fatalf("expected ErrBindingMismatch, got %v", err)
	}
	if _, err := f.svc.Validate(ctx, at.Token, ""); !errors.Is(err, ErrBindingMismatch) {
		t.Fatalf("expected missing fingerprint to mismatch, got %v", err)
	}

	f.clock.Advance(6 * time.Minute)
	if _, err := f.svc.Validate(ctx, at.Token, "other"); err != nil {
		t.Fatalf("binding must not be enforced after bexp: %v", err)
	}

	unbound, _ := f.svc.Issue(ctx, "u1", IssueOptions{})
	if _, err := f.svc.Validate(ctx, unbound.Token, "anything"); err != nil {
		t.Fatalf("token issued without fingerprint: %v", err)
	}
}

func TestEncryptedTokens(t *testing.T) {
	f := newFixture(t, baseConfig(), true)
	ctx := context.Background()
	at, _ := f.svc.Issue(ctx, "u1", IssueOptions{})

	if strings.Count(at.Token, ".") != 4 {
		t.Fatalf("expected compact JWE, got %q", at.Token)
	}
	if _, err := f.svc.Validate(ctx, at.Token, ""); err != nil {
		t.Fatalf("Validate: %v", err)
	}

	tampered := at.Token[:len(at.Token)-4] + "AAAA"
	if _, err := f.svc.Validate(ctx, tampered, ""); !errors.Is(err, ErrInvalid) {
		t.Fatalf("expected ErrInvalid for tampered JWE, got %v", err)
	}

	plain := newFixture(t, baseConfig(), false)
	jws, _ := plain.svc.Issue(ctx, "u1", IssueOptions{})
	if _, err := f.svc.Validate(ctx, jws.Token, ""); !errors.Is(err, ErrInvalid) {
		t.Fatalf("expected plain JWS to be refused when encryption is on, got %v", err)
	}
}

func TestValidateAfterKeyRotation(t *testing.T) {
	f := newFixture(t, baseConfig(), false)
	ctx := context.Background()
	before, _ := f.svc.Issue(ctx, "u1", IssueOptions{})

	f.clock.Advance(time.Minute)
	rotation := f.clock.Now()
	_, newPriv, _ := ed25519.GenerateKey(rand.Reader)

	retired := f.key
	retired.RetiredAt = rotation
	if err := f.ring.Replace("k2",
		retired,
		jwt.Key{ID: "k2", Method: jwt.MethodEd25519, PrivateKey: newPriv, NotBefore: rotation},
	); err != nil {
		t.Fatalf("Replace: %v", err)
	}

	if _, err := f.svc.Validate(ctx, before.Token, ""); err != nil {
		t.Fatalf("token signed before rotation must still validate: %v", err)
	}

	after, err := f.svc.Issue(ctx, "u1", IssueOptions{})
	if err != nil {
		t.Fatalf("Issue after rotation: %v", err)
	}
	if _, err := f.svc.Validate(ctx, after.Token, ""); err != nil {
		t.Fatalf("Validate after rotation: %v", err)
	}

	if err := f.ring.Replace("k2", jwt.Key{ID: "k2", Method: jwt.MethodEd25519, PrivateKey: newPriv, NotBefore: rotation}); err != nil {
		t.Fatalf("Replace: %v", err)
	}
	if _, err := f.svc.Validate(ctx, before.Token, ""); !errors.Is(err, ErrInvalid) {
		t.Fatalf("expected token of a dropped key to be invalid, got %v", err)
	}
}

func TestValidateAfterMidSecondRotation(t *testing.T) {
	f := newFixture(t, baseConfig(), false)
	ctx := context.Background()

	f.clock.Advance(time.Minute + 400*time.Millisecond)
	before, err := f.svc.Issue(ctx, "u1", IssueOptions{})
	if err != nil {
		t.Fatalf("Issue before rotation: %v", err)
	}

	f.clock.Advance(100 * time.Millisecond)
	rotation := f.clock.Now()
	_, newPriv, _ := ed25519.GenerateKey(rand.Reader)
	retired := f.key
	retired.RetiredAt = rotation
	if err := f.ring.Replace("k2",
		retired,
		jwt.Key{ID: "k2", Method: jwt.MethodEd25519, PrivateKey: newPriv, NotBefore: rotation},
	); err != nil {
		t.Fatalf("Replace: %v", err)
	}

	f.clock.Advance(100 * time.Millisecond)
	after, err := f.svc.Issue(ctx, "u1", IssueOptions{})
	if err != nil {
		t.Fatalf("Issue in the rotation second: %v", err)
	}
	for name, tok := range map[string]string{"before": before.Token, "after": after.Token} {
		if _, err := f.svc.Validate(ctx, tok, ""); err != nil {
			t.Fatalf("%s: token issued in the rotation second rejected: %v", name, err)
		}
	}
}

func TestNewServiceValidation(t *testing.T) {
	if _, err := NewService(baseConfig(), Deps{}); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig without signer, got %v", err)
	}
}

func TestFingerprint(t *testing.T) {
	a := Fingerprint("1.2.3.4", "ua")
	if a != Fingerprint("1.2.3.4", "ua") || len(a) != 64 {
		t.Fatalf("unexpected fingerprint %q", a)
	}
	if a == Fingerprint("1.2.3.4", "ua2") {
		t.Fatal("fingerprint must depend on user agent")
	}
	if Fingerprint("", "") != "" {
		t.Fatal("expected empty fingerprint without attributes")
	}
}

func TestAuthMethodsClaim(t *testing.T) {
	f := newFixture(t, baseConfig(), false)
	ctx := context.Background()

	at, err := f.svc.Issue(ctx, "u1", IssueOptions{AuthMethods: []string{MethodPassword, MethodOTP}})
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	claims, err := f.svc.Validate(ctx, at.Token, "")
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if !SecondFactor(claims.AuthMethods) {
		t.Fatalf("expected a second factor in amr, got %v", claims.AuthMethods)
	}

	cases := []struct {
		methods []string
		want    bool
	}{
		{nil, false},
		{[]string{MethodPassword}, false},
		{[]string{MethodPassword, ""}, false},
		{[]string{MethodPassword, MethodHardware}, true},
		{[]string{MethodOTP}, true},
	}
	for _, tc := range cases {
		if got := SecondFactor(tc.methods); got != tc.want {
			t.Fatalf("SecondFactor(%v) = %v, want %v", tc.methods, got, tc.want)
		}
	}
}
