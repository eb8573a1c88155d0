package credguard

import (
	"encoding/base64"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// EnvPrefix starts every environment override recognized by LoadConfig.
const EnvPrefix = "CREDGUARD_"

// LoadConfig builds a Config from defaults, then the YAML document at path
// (skipped when path is empty), then CREDGUARD_* environment variables. A
// .env file in the working directory is loaded first if present; variables
// already set in the process win over it.
//
// Key material never comes from YAML. Use CREDGUARD_JWT_PRIVATE_KEY,
// CREDGUARD_JWT_PUBLIC_KEY, CREDGUARD_JWT_SECRET and
// CREDGUARD_JWT_ENCRYPTION_KEY (standard base64) or a keyring file.
//
// The result is not validated; Builder.Build does that.
func LoadConfig(path string) (Config, error) {
	cfg := defaultConfig()

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := applyEnv(&cfg, os.LookupEnv); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

type envOverride struct {
	name  string
	apply func(*Config, string) error
}

var envOverrides = []envOverride{
	{"PRODUCTION_MODE", boolField(func(c *Config) *bool { return &c.ProductionMode })},
	{"JWT_ISSUER", stringField(func(c *Config) *string { return &c.JWT.Issuer })},
	{"JWT_AUDIENCE", stringField(func(c *Config) *string { return &c.JWT.Audience })},
	{"JWT_ACCESS_TTL", durationField(func(c *Config) *time.Duration { return &c.JWT.AccessTTL })},
	{"JWT_CLOCK_SKEW", durationField(func(c *Config) *time.Duration { return &c.JWT.ClockSkew })},
	{"JWT_SIGNING_METHOD", stringField(func(c *Config) *string { return &c.JWT.SigningMethod })},
	{"JWT_KEY_ID", stringField(func(c *Config) *string { return &c.JWT.KeyID })},
	{"JWT_PRIVATE_KEY", bytesField(func(c *Config) *[]byte { return &c.JWT.PrivateKey })},
	{"JWT_PUBLIC_KEY", bytesField(func(c *Config) *[]byte { return &c.JWT.PublicKey })},
	{"JWT_SECRET", bytesField(func(c *Config) *[]byte { return &c.JWT.Secret })},
	{"JWT_KEYRING_FILE", stringField(func(c *Config) *string { return &c.JWT.KeyringFile })},
	{"JWT_WATCH_KEYRING", boolField(func(c *Config) *bool { return &c.JWT.WatchKeyring })},
	{"JWT_ENCRYPT_TOKENS", boolField(func(c *Config) *bool { return &c.JWT.EncryptTokens })},
	{"JWT_ENCRYPTION_KEY", bytesField(func(c *Config) *[]byte { return &c.JWT.EncryptionKey })},
	{"REFRESH_TTL", durationField(func(c *Config) *time.Duration { return &c.Refresh.TTL })},
	{"REFRESH_ROTATION", boolField(func(c *Config) *bool { return &c.Refresh.Rotation })},
	{"REFRESH_MAX_FAMILY_SIZE", intField(func(c *Config) *int { return &c.Refresh.MaxFamilySize })},
	{"REVOCATION_ENABLE_BLACKLIST", boolField(func(c *Config) *bool { return &c.Revocation.EnableBlacklist })},
	{"REVOCATION_REPLAY_WINDOW", durationField(func(c *Config) *time.Duration { return &c.Revocation.ReplayWindow })},
	{"BINDING_DURATION", durationField(func(c *Config) *time.Duration { return &c.Binding.Duration })},
	{"APIKEY_PREFIX", stringField(func(c *Config) *string { return &c.APIKey.Prefix })},
	{"APIKEY_DEFAULT_EXPIRY", durationField(func(c *Config) *time.Duration { return &c.APIKey.DefaultExpiry })},
	{"APIKEY_GRACE_PERIOD", durationField(func(c *Config) *time.Duration { return &c.APIKey.GracePeriod })},
	{"RATE_LIMIT_REQUESTS", intField(func(c *Config) *int { return &c.RateLimit.Requests })},
	{"RATE_LIMIT_WINDOW", durationField(func(c *Config) *time.Duration { return &c.RateLimit.Window })},
	{"RATE_LIMIT_BURST", intField(func(c *Config) *int { return &c.RateLimit.Burst })},
	{"PASSWORD_MIN_LENGTH", intField(func(c *Config) *int { return &c.Password.MinLength })},
	{"PASSWORD_MAX_LENGTH", intField(func(c *Config) *int { return &c.Password.MaxLength })},
	{"PASSWORD_HISTORY_DEPTH", intField(func(c *Config) *int { return &c.Password.HistoryDepth })},
	{"PASSWORD_EXPIRATION_DAYS", intField(func(c *Config) *int { return &c.Password.ExpirationDays })},
	{"BREACH_ENABLED", boolField(func(c *Config) *bool { return &c.Breach.Enabled })},
	{"BREACH_ENDPOINT", stringField(func(c *Config) *string { return &c.Breach.Endpoint })},
	{"BREACH_FAIL_OPEN", boolField(func(c *Config) *bool { return &c.Breach.FailOpen })},
	{"LOCKOUT_THRESHOLD", intField(func(c *Config) *int { return &c.Lockout.Threshold })},
	{"LOCKOUT_WINDOW", durationField(func(c *Config) *time.Duration { return &c.Lockout.Window })},
	{"LOCKOUT_DURATION", durationField(func(c *Config) *time.Duration { return &c.Lockout.Duration })},
	{"AUDIT_ENABLED", boolField(func(c *Config) *bool { return &c.Audit.Enabled })},
	{"METRICS_ENABLED", boolField(func(c *Config) *bool { return &c.Metrics.Enabled })},
	{"JANITOR_SCHEDULE", stringField(func(c *Config) *string { return &c.Janitor.Schedule })},
}

func applyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	for _, o := range envOverrides {
		v, ok := lookup(EnvPrefix + o.name)
		if !ok {
			continue
		}
		if err := o.apply(cfg, strings.TrimSpace(v)); err != nil {
			return fmt.Errorf("%s%s: %w", EnvPrefix, o.name, err)
		}
	}
	return nil
}

func stringField(f func(*Config) *string) func(*Config, string) error {
	return func(c *Config, v string) error {
		*f(c) = v
		return nil
	}
}

func boolField(f func(*Config) *bool) func(*Config, string) error {
	return func(c *Config, v string) error {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return err
		}
		*f(c) = b
		return nil
	}
}

func intField(f func(*Config) *int) func(*Config, string) error {
	return func(c *Config, v string) error {
		n, err := strconv.Atoi(v)
		if err != nil {
			return err
		}
		*f(c) = n
		return nil
	}
}

func durationField(f func(*Config) *time.Duration) func(*Config, string) error {
	return func(c *Config, v string) error {
		d, err := time.ParseDuration(v)
		if err != nil {
			return err
		}
		*f(c) = d
		return nil
	}
}

func bytesField(f func(*Config) *[]byte) func(*Config, string) error {
	return func(c *Config, v string) error {
		b, err := base64.StdEncoding.DecodeString(v)
		if err != nil {
			return err
		}
		*f(c) = b
		return nil
	}
}
