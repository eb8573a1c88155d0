package credguard

import (
	"slices"
	"testing"
	"time"
)

func TestLintDefaultConfig(t *testing.T) {
	cfg := defaultConfig()
	codes := cfg.Lint().Codes()

	// Defaults leave breach checking and family caps to the operator.
	for _, want := range []string{"breach_check_disabled", "refresh_family_unbounded"} {
		if !slices.Contains(codes, want) {
			t.Errorf("expected default config to warn %q, got %v", want, codes)
		}
	}
	for _, unwanted := range []string{"rate_limits_disabled", "blacklist_disabled", "refresh_rotation_disabled"} {
		if slices.Contains(codes, unwanted) {
			t.Errorf("default config should not warn %q", unwanted)
		}
	}
}

func TestLintHighSecurityConfigIsClean(t *testing.T) {
	cfg := HighSecurityConfig()
	if ws := cfg.Lint(); len(ws) != 0 {
		t.Fatalf("expected no warnings, got %s", ws)
	}
}

func TestLintWarnings(t *testing.T) {
	tests := []struct {
		code   string
		mutate func(*Config)
	}{
		{"clock_skew_large", func(c *Config) { c.JWT.ClockSkew = 2 * time.Minute }},
		{"access_ttl_long", func(c *Config) { c.JWT.AccessTTL = 15 * time.Minute }},
		{"refresh_ttl_long", func(c *Config) { c.Refresh.TTL = 30 * 24 * time.Hour }},
		{"refresh_rotation_disabled", func(c *Config) { c.Refresh.Rotation = false }},
		{"blacklist_disabled", func(c *Config) { c.Revocation.EnableBlacklist = false }},
		{"rate_limits_disabled", func(c *Config) { c.RateLimit.Requests = 0 }},
		{"breach_fail_open", func(c *Config) { c.Breach.FailOpen = true }},
		{"password_history_disabled", func(c *Config) { c.Password.HistoryDepth = 0 }},
		{"lockout_threshold_high", func(c *Config) { c.Lockout.Threshold = 20 }},
		{"api_key_grace_long", func(c *Config) { c.APIKey.GracePeriod = 30 * 24 * time.Hour }},
		{"encryption_without_binding", func(c *Config) {
			c.JWT.EncryptTokens = true
			c.Binding.Duration = 0
		}},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.code, func(t *testing.T) {
			cfg := HighSecurityConfig()
			tc.mutate(&cfg)
			ws := cfg.Lint()
			if !slices.Contains(ws.Codes(), tc.code) {
				t.Fatalf("expected %q, got %v", tc.code, ws.Codes())
			}
			if ws.String() == "" {
				t.Fatalf("expected a rendered message")
			}
		})
	}
}
