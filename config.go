package credguard

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MrEthical07/credguard/audit"
)

// Config is the complete engine configuration. Obtain a populated value with
// [DefaultConfig] or [LoadConfig] and adjust it before handing it to
// [Builder.WithConfig]; the engine keeps its own copy.
type Config struct {
	JWT        JWTConfig        `yaml:"jwt"`
	Refresh    RefreshConfig    `yaml:"refresh"`
	Revocation RevocationConfig `yaml:"revocation"`
	Binding    BindingConfig    `yaml:"binding"`
	APIKey     APIKeyConfig     `yaml:"api_key"`
	RateLimit  RateLimitConfig  `yaml:"rate_limit"`
	Password   PasswordConfig   `yaml:"password"`
	Breach     BreachConfig     `yaml:"breach"`
	Lockout    LockoutConfig    `yaml:"lockout"`
	Audit      AuditConfig      `yaml:"audit"`
	Metrics    MetricsConfig    `yaml:"metrics"`
	Janitor    JanitorConfig    `yaml:"janitor"`

	// ProductionMode turns a set of Lint warnings into Validate errors.
	ProductionMode bool `yaml:"production_mode"`
}

/*
====================================
JWT CONFIG
====================================
*/

// JWTConfig controls access token signing. Keys come either inline
// (SigningMethod + key material) or from a keyring document at KeyringFile.
type JWTConfig struct {
	Issuer    string        `yaml:"issuer"`
	Audience  string        `yaml:"audience"`
	AccessTTL time.Duration `yaml:"access_ttl"`
	ClockSkew time.Duration `yaml:"clock_skew"`

	SigningMethod string `yaml:"signing_method"` // "ed25519" (default) or "hs256"
	KeyID         string `yaml:"key_id"`
	PrivateKey    []byte `yaml:"-"`
	PublicKey     []byte `yaml:"-"`
	Secret        []byte `yaml:"-"`

	KeyringFile  string `yaml:"keyring_file"`
	WatchKeyring bool   `yaml:"watch_keyring"`

	// EncryptTokens wraps every signed token in a JWE under EncryptionKey
	// (32 bytes).
	EncryptTokens bool   `yaml:"encrypt_tokens"`
	EncryptionKey []byte `yaml:"-"`
}

/*
====================================
REFRESH CONFIG
====================================
*/

type RefreshConfig struct {
	TTL time.Duration `yaml:"ttl"`
	// Rotation exchanges the refresh token on every use. With rotation off
	// the same token is accepted until it expires or is revoked.
	Rotation bool `yaml:"rotation"`
	// MaxFamilySize caps the number of tokens in one family. Zero is unbounded.
	MaxFamilySize int `yaml:"max_family_size"`
}

/*
====================================
REVOCATION CONFIG
====================================
*/

type RevocationConfig struct {
	EnableBlacklist bool `yaml:"enable_blacklist"`
	// ReplayWindow rejects a jti seen again within this duration. Zero disables.
	ReplayWindow time.Duration `yaml:"replay_window"`
}

/*
====================================
BINDING CONFIG
====================================
*/

// BindingConfig ties access tokens to a client fingerprint for Duration
// after issuance. Zero disables binding.
type BindingConfig struct {
	Duration time.Duration `yaml:"duration"`
}

/*
====================================
API KEY CONFIG
====================================
*/

type APIKeyConfig struct {
	Prefix         string        `yaml:"prefix"`
	DefaultExpiry  time.Duration `yaml:"default_expiry"`
	GracePeriod    time.Duration `yaml:"grace_period"`
	PerIPRateLimit bool          `yaml:"per_ip_rate_limit"`
}

/*
====================================
RATE LIMIT CONFIG
====================================
*/

// RateLimitConfig is the sliding window applied per API key. Requests of
// zero disables rate limiting.
type RateLimitConfig struct {
	Requests int           `yaml:"requests"`
	Window   time.Duration `yaml:"window"`
	Burst    int           `yaml:"burst"`
	Buckets  int           `yaml:"buckets"`
}

/*
====================================
PASSWORD CONFIG
====================================
*/

type PasswordConfig struct {
	// Algorithm for new hashes: "argon2id" (default) or "bcrypt". Hashes of
	// the other algorithm still verify.
	Algorithm   string `yaml:"algorithm"`
	Memory      uint32 `yaml:"memory"`
	Time        uint32 `yaml:"time"`
	Parallelism uint8  `yaml:"parallelism"`
	SaltLength  uint32 `yaml:"salt_length"`
	KeyLength   uint32 `yaml:"key_length"`
	BcryptCost  int    `yaml:"bcrypt_cost"`

	UpgradeOnLogin bool `yaml:"upgrade_on_login"`

	MinLength      int  `yaml:"min_length"`
	MaxLength      int  `yaml:"max_length"`
	RequireUpper   bool `yaml:"require_upper"`
	RequireLower   bool `yaml:"require_lower"`
	RequireDigit   bool `yaml:"require_digit"`
	RequireSpecial bool `yaml:"require_special"`
	RejectCommon   bool `yaml:"reject_common"`
	SequentialRun  int  `yaml:"sequential_run"`
	RepeatRun      int  `yaml:"repeat_run"`

	// HistoryDepth is how many previous hashes are kept. A change is checked
	// against the current hash and all of them.
	HistoryDepth   int `yaml:"history_depth"`
	ExpirationDays int `yaml:"expiration_days"`
}

/*
====================================
BREACH CONFIG
====================================
*/

type BreachConfig struct {
	Enabled        bool          `yaml:"enabled"`
	Endpoint       string        `yaml:"endpoint"`
	Timeout        time.Duration `yaml:"timeout"`
	FailOpen       bool          `yaml:"fail_open"`
	CacheSize      int           `yaml:"cache_size"`
	CacheTTL       time.Duration `yaml:"cache_ttl"`
	MinOccurrences int           `yaml:"min_occurrences"`
}

/*
====================================
LOCKOUT CONFIG
====================================
*/

type LockoutConfig struct {
	Threshold int           `yaml:"threshold"`
	Window    time.Duration `yaml:"window"`
	Duration  time.Duration `yaml:"duration"`
}

/*
====================================
AUDIT CONFIG
====================================
*/

type AuditConfig struct {
	Enabled    bool `yaml:"enabled"`
	BufferSize int  `yaml:"buffer_size"`
	DropIfFull bool `yaml:"drop_if_full"`
	// UrgentBufferSize bounds the lane for high and critical events, which
	// are never dropped. Zero reuses BufferSize.
	UrgentBufferSize int `yaml:"urgent_buffer_size"`
	// LogEvents mirrors every event to the engine logger.
	LogEvents bool `yaml:"log_events"`
	// SentryMinSeverity selects which events reach a Sentry hub passed to
	// Builder.WithSentry.
	SentryMinSeverity audit.Severity `yaml:"sentry_min_severity"`
}

/*
====================================
METRICS CONFIG
====================================
*/

type MetricsConfig struct {
	Enabled                 bool `yaml:"enabled"`
	EnableLatencyHistograms bool `yaml:"enable_latency_histograms"`
}

/*
====================================
JANITOR CONFIG
====================================
*/

// JanitorConfig schedules CleanupExpired. Schedule uses robfig/cron syntax,
// including descriptors such as "@every 1m".
type JanitorConfig struct {
	Schedule string        `yaml:"schedule"`
	Timeout  time.Duration `yaml:"timeout"`
}

/*
====================================
DEFAULT CONFIG
====================================
*/

// DefaultConfig returns the baseline configuration. It still needs signing
// keys before it validates.
func DefaultConfig() Config {
	return defaultConfig()
}

func defaultConfig() Config {
	return Config{
		JWT: JWTConfig{
			AccessTTL:     5 * time.Minute,
			ClockSkew:     30 * time.Second,
			SigningMethod: "ed25519",
			KeyID:         "default",
		},
		Refresh: RefreshConfig{
			TTL:           7 * 24 * time.Hour,
			Rotation:      true,
			MaxFamilySize: 0,
		},
		Revocation: RevocationConfig{
			EnableBlacklist: true,
			ReplayWindow:    0,
		},
		APIKey: APIKeyConfig{
			Prefix:        "cg",
			DefaultExpiry: 0,
			GracePeriod:   24 * time.Hour,
		},
		RateLimit: RateLimitConfig{
			Requests: 100,
			Window:   time.Minute,
			Burst:    0,
			Buckets:  12,
		},
		Password: PasswordConfig{
			Algorithm:      "argon2id",
			Memory:         65536,
			Time:           3,
			Parallelism:    2,
			SaltLength:     16,
			KeyLength:      32,
			BcryptCost:     12,
			UpgradeOnLogin: true,
			MinLength:      12,
			MaxLength:      128,
			RequireUpper:   true,
			RequireLower:   true,
			RequireDigit:   true,
			RequireSpecial: true,
			RejectCommon:   true,
			SequentialRun:  4,
			RepeatRun:      4,
			HistoryDepth:   5,
			ExpirationDays: 0,
		},
		Breach: BreachConfig{
			Enabled:   false,
			Timeout:   3 * time.Second,
			FailOpen:  true,
			CacheSize: 256,
			CacheTTL:  time.Hour,
		},
		Lockout: LockoutConfig{
			Threshold: 5,
			Window:    15 * time.Minute,
			Duration:  15 * time.Minute,
		},
		Audit: AuditConfig{
			Enabled:           false,
			BufferSize:        1024,
			DropIfFull:        true,
			SentryMinSeverity: audit.SeverityHigh,
		},
		Metrics: MetricsConfig{
			Enabled: false,
		},
		Janitor: JanitorConfig{
			Schedule: "@every 1m",
			Timeout:  30 * time.Second,
		},
	}
}

// HighSecurityConfig is DefaultConfig tightened for internet-facing
// deployments: short access tokens, binding, replay detection, breach
// checking fail-closed and a capped refresh family.
func HighSecurityConfig() Config {
	cfg := defaultConfig()
	cfg.ProductionMode = true
	cfg.JWT.AccessTTL = 5 * time.Minute
	cfg.JWT.ClockSkew = 10 * time.Second
	cfg.Refresh.TTL = 24 * time.Hour
	cfg.Refresh.MaxFamilySize = 100
	cfg.Revocation.ReplayWindow = 2 * time.Second
	cfg.Binding.Duration = 5 * time.Minute
	cfg.RateLimit.Requests = 60
	cfg.Breach.Enabled = true
	cfg.Breach.FailOpen = false
	cfg.Lockout.Threshold = 5
	cfg.Lockout.Duration = 30 * time.Minute
	cfg.Password.ExpirationDays = 180
	cfg.Audit.Enabled = true
	return cfg
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.JWT.PrivateKey = cloneBytes(cfg.JWT.PrivateKey)
	out.JWT.PublicKey = cloneBytes(cfg.JWT.PublicKey)
	out.JWT.Secret = cloneBytes(cfg.JWT.Secret)
	out.JWT.EncryptionKey = cloneBytes(cfg.JWT.EncryptionKey)
	return out
}

func cloneBytes(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

/*
====================================
VALIDATION
====================================
*/

// Validate reports the first setting that would make the engine unsafe or
// unable to run.
func (c *Config) Validate() error {
	return c.validate(false)
}

// validate skips the inline key checks when keys come from elsewhere.
func (c *Config) validate(externalKeys bool) error {
	// JWT
	if c.JWT.AccessTTL <= 0 {
		return errors.New("JWT AccessTTL must be > 0")
	}
	if c.JWT.ClockSkew < 0 || c.JWT.ClockSkew > 5*time.Minute {
		return errors.New("JWT ClockSkew must be within [0, 5m]")
	}
	if c.JWT.WatchKeyring && c.JWT.KeyringFile == "" {
		return errors.New("JWT WatchKeyring requires KeyringFile")
	}
	if c.JWT.KeyringFile == "" && !externalKeys {
		switch strings.ToLower(c.JWT.SigningMethod) {
		case "ed25519":
			if len(c.JWT.PrivateKey) == 0 {
				return errors.New("ed25519 requires PrivateKey")
			}
		case "hs256":
			if len(c.JWT.Secret) < 32 {
				return errors.New("hs256 requires a Secret of at least 32 bytes")
			}
		default:
			return errors.New("unsupported JWT signing method")
		}
	}
	if c.JWT.EncryptTokens && len(c.JWT.EncryptionKey) != 32 {
		return errors.New("JWT EncryptionKey must be 32 bytes when EncryptTokens is true")
	}

	// Refresh
	if c.Refresh.TTL <= 0 {
		return errors.New("Refresh TTL must be > 0")
	}
	if c.Refresh.TTL <= c.JWT.AccessTTL {
		return errors.New("Refresh TTL must exceed JWT AccessTTL")
	}
	if c.Refresh.MaxFamilySize < 0 || c.Refresh.MaxFamilySize == 1 {
		return errors.New("Refresh MaxFamilySize must be 0 or >= 2")
	}

	// Revocation and binding
	if c.Revocation.ReplayWindow < 0 {
		return errors.New("Revocation ReplayWindow must be >= 0")
	}
	if c.Binding.Duration < 0 {
		return errors.New("Binding Duration must be >= 0")
	}

	// API keys
	if strings.Contains(c.APIKey.Prefix, "_") {
		return errors.New("APIKey Prefix must not contain '_'")
	}
	if c.APIKey.DefaultExpiry < 0 || c.APIKey.GracePeriod < 0 {
		return errors.New("APIKey durations must be >= 0")
	}
	if c.RateLimit.Requests > 0 {
		if c.RateLimit.Window <= 0 {
			return errors.New("RateLimit Window must be > 0")
		}
		if c.RateLimit.Burst < 0 {
			return errors.New("RateLimit Burst must be >= 0")
		}
		if c.RateLimit.Buckets < 1 || c.RateLimit.Window/time.Duration(c.RateLimit.Buckets) <= 0 {
			return errors.New("RateLimit Buckets must be >= 1 and fit the window")
		}
	} else if c.RateLimit.Requests < 0 {
		return errors.New("RateLimit Requests must be >= 0")
	}

	// Password
	switch c.Password.Algorithm {
	case "argon2id", "":
	case "bcrypt":
		if c.Password.BcryptCost < 10 {
			return errors.New("Password BcryptCost must be >= 10")
		}
	default:
		return errors.New("Password Algorithm must be argon2id or bcrypt")
	}
	if c.Password.Memory < 8*1024 {
		return errors.New("Password Memory must be >= 8192 KB")
	}
	if c.Password.Time < 1 {
		return errors.New("Password Time must be >= 1")
	}
	if c.Password.Parallelism < 1 {
		return errors.New("Password Parallelism must be >= 1")
	}
	if c.Password.SaltLength < 16 {
		return errors.New("Password SaltLength must be >= 16")
	}
	if c.Password.KeyLength < 16 {
		return errors.New("Password KeyLength must be >= 16")
	}
	if c.Password.MinLength < 1 || c.Password.MaxLength < c.Password.MinLength {
		return errors.New("Password MinLength must be >= 1 and <= MaxLength")
	}
	if c.Password.HistoryDepth < 0 {
		return errors.New("Password HistoryDepth must be >= 0")
	}
	if c.Password.ExpirationDays < 0 {
		return errors.New("Password ExpirationDays must be >= 0")
	}

	if c.Breach.Enabled && c.Breach.Timeout <= 0 {
		return errors.New("Breach Timeout must be > 0 when breach checking is enabled")
	}

	// Lockout
	if c.Lockout.Threshold < 1 {
		return errors.New("Lockout Threshold must be >= 1")
	}
	if c.Lockout.Window <= 0 {
		return errors.New("Lockout Window must be > 0")
	}
	if c.Lockout.Duration <= 0 {
		return errors.New("Lockout Duration must be > 0")
	}

	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("Audit BufferSize must be > 0 when audit is enabled")
	}
	if c.Audit.UrgentBufferSize < 0 {
		return errors.New("Audit UrgentBufferSize must be >= 0")
	}
	if c.Janitor.Timeout < 0 {
		return errors.New("Janitor Timeout must be >= 0")
	}

	if c.ProductionMode {
		if c.JWT.AccessTTL > 15*time.Minute {
			return errors.New("ProductionMode requires JWT AccessTTL <= 15m")
		}
		if c.Refresh.TTL > 30*24*time.Hour {
			return errors.New("ProductionMode requires Refresh TTL <= 30d")
		}
		if !c.Refresh.Rotation {
			return errors.New("ProductionMode requires refresh Rotation")
		}
		if !c.Revocation.EnableBlacklist {
			return errors.New("ProductionMode requires the token blacklist")
		}
		if c.Password.Algorithm != "bcrypt" && c.Password.Memory < 65536 {
			return errors.New("ProductionMode requires Password Memory >= 65536 KB")
		}
		if c.Password.MinLength < 12 {
			return errors.New("ProductionMode requires Password MinLength >= 12")
		}
	}

	return nil
}

/*
====================================
LINT
====================================
*/

// LintWarning is a non-fatal finding about a configuration that validates
// but is probably not what an operator wants.
type LintWarning struct {
	Code    string
	Message string
}

type LintResult []LintWarning

// Codes returns the warning codes in order.
func (r LintResult) Codes() []string {
	out := make([]string, len(r))
	for i, w := range r {
		out[i] = w.Code
	}
	return out
}

func (r LintResult) String() string {
	parts := make([]string, len(r))
	for i, w := range r {
		parts[i] = fmt.Sprintf("%s: %s", w.Code, w.Message)
	}
	return strings.Join(parts, "; ")
}

// Lint reports settings that are legal but weaken a protection.
func (c *Config) Lint() LintResult {
	var ws LintResult
	add := func(code, msg string) {
		ws = append(ws, LintWarning{Code: code, Message: msg})
	}

	if c.JWT.ClockSkew > time.Minute {
		add("clock_skew_large", "clock skew above 1m widens the replay surface of stolen tokens")
	}
	if c.JWT.AccessTTL > 10*time.Minute {
		add("access_ttl_long", "access tokens live longer than 10m")
	}
	if c.Refresh.TTL > 14*24*time.Hour {
		add("refresh_ttl_long", "refresh tokens live longer than 14d")
	}
	if !c.Refresh.Rotation {
		add("refresh_rotation_disabled", "refresh token reuse cannot be detected without rotation")
	}
	if c.Refresh.MaxFamilySize == 0 {
		add("refresh_family_unbounded", "refresh families can rotate forever without re-authentication")
	}
	if !c.Revocation.EnableBlacklist {
		add("blacklist_disabled", "logout and reuse detection cannot revoke issued access tokens")
	}
	if c.RateLimit.Requests == 0 {
		add("rate_limits_disabled", "API keys are not rate limited")
	}
	if !c.Breach.Enabled {
		add("breach_check_disabled", "new passwords are not checked against breach corpora")
	} else if c.Breach.FailOpen {
		add("breach_fail_open", "passwords are accepted while the breach service is unreachable")
	}
	if c.Password.HistoryDepth == 0 {
		add("password_history_disabled", "old passwords may be reused")
	}
	if c.Lockout.Threshold > 10 {
		add("lockout_threshold_high", "more than 10 guesses are allowed per lockout window")
	}
	if c.APIKey.GracePeriod > 7*24*time.Hour {
		add("api_key_grace_long", "rotated API keys stay valid for more than 7d")
	}
	if c.JWT.EncryptTokens && c.Binding.Duration == 0 {
		add("encryption_without_binding", "encrypted tokens are still bearer tokens without binding")
	}
	return ws
}
