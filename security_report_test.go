package credguard

import (
	"slices"
	"testing"
	"time"
)

func TestSecurityReportDefaults(t *testing.T) {
	e, _ := newTestEngine(t, nil)
	r := e.SecurityReport()

	if r.SigningAlgorithm != "ed25519" || r.ActiveKeyID != "default" || r.KeyCount != 1 {
		t.Fatalf("unexpected key posture: alg=%s active=%s count=%d", r.SigningAlgorithm, r.ActiveKeyID, r.KeyCount)
	}
	if r.AccessTTL != 5*time.Minute {
		t.Fatalf("expected 5m access ttl, got %s", r.AccessTTL)
	}
	if !r.BlacklistEnabled || !r.RefreshRotationEnabled || !r.LockoutActive || !r.RateLimitingActive {
		t.Fatalf("expected default protections on: %+v", r)
	}
	if r.ReplayDetectionEnabled || r.TokenBindingEnabled || r.BreachCheckActive || r.TokenEncryptionEnabled {
		t.Fatalf("expected opt-in protections off: %+v", r)
	}
	if r.Password.Algorithm != "argon2id" || r.Password.HistoryDepth != 5 {
		t.Fatalf("unexpected password posture: %+v", r.Password)
	}
	if !slices.Equal(r.Warnings, e.config.Lint().Codes()) {
		t.Fatalf("expected warnings %v, got %v", e.config.Lint().Codes(), r.Warnings)
	}
}

func TestSecurityReportReflectsHardening(t *testing.T) {
	e, _ := newTestEngine(t, func(c *Config) {
		c.Revocation.ReplayWindow = time.Second
		c.Binding.Duration = time.Minute
		c.Refresh.MaxFamilySize = 10
		c.Breach.Enabled = true
		c.Breach.FailOpen = false
		c.Password.ExpirationDays = 90
		c.Audit.Enabled = true
	})
	r := e.SecurityReport()

	if !r.ReplayDetectionEnabled || !r.TokenBindingEnabled || !r.RefreshFamilyCapped {
		t.Fatalf("expected token hardening reported: %+v", r)
	}
	if !r.BreachCheckActive || r.BreachFailOpen {
		t.Fatalf("expected fail-closed breach checking: %+v", r)
	}
	if !r.PasswordExpiryActive || !r.AuditActive {
		t.Fatalf("expected expiry and audit reported: %+v", r)
	}
}

func TestSecurityReportNilEngine(t *testing.T) {
	var e *Engine
	if r := e.SecurityReport(); r.KeyCount != 0 || r.Warnings != nil {
		t.Fatalf("expected zero report, got %+v", r)
	}
}
