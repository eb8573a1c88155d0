package credguard

import (
	"time"

	"github.com/MrEthical07/credguard/internal/security"
)

// SecurityReport summarises which protections an Engine runs with.
type SecurityReport struct {
	ProductionMode   bool
	SigningAlgorithm string
	ActiveKeyID      string
	KeyCount         int
	AccessTTL        time.Duration
	RefreshTTL       time.Duration
	ClockSkew        time.Duration
	Password         PasswordConfigReport

	TokenEncryptionEnabled bool
	BlacklistEnabled       bool
	ReplayDetectionEnabled bool
	TokenBindingEnabled    bool
	RefreshRotationEnabled bool
	RefreshFamilyCapped    bool
	LockoutActive          bool
	RateLimitingActive     bool
	BreachCheckActive      bool
	BreachFailOpen         bool
	PasswordExpiryActive   bool
	AuditActive            bool

	// Warnings lists the codes returned by Config.Lint.
	Warnings []string
}

type PasswordConfigReport struct {
	Algorithm      string
	Memory         uint32
	Time           uint32
	Parallelism    uint8
	BcryptCost     int
	MinLength      int
	HistoryDepth   int
	ExpirationDays int
}

func (e *Engine) SecurityReport() SecurityReport {
	if e == nil {
		return SecurityReport{}
	}

	cfg := e.config
	input := security.ReportInput{
		ProductionMode:   cfg.ProductionMode,
		SigningAlgorithm: cfg.JWT.SigningMethod,
		AccessTTL:        cfg.JWT.AccessTTL,
		RefreshTTL:       cfg.Refresh.TTL,
		ClockSkew:        cfg.JWT.ClockSkew,
		Password: security.PasswordReport{
			Algorithm:      cfg.Password.Algorithm,
			Memory:         cfg.Password.Memory,
			Time:           cfg.Password.Time,
			Parallelism:    cfg.Password.Parallelism,
			BcryptCost:     cfg.Password.BcryptCost,
			MinLength:      cfg.Password.MinLength,
			HistoryDepth:   cfg.Password.HistoryDepth,
			ExpirationDays: cfg.Password.ExpirationDays,
		},
		EncryptTokens:     cfg.JWT.EncryptTokens,
		EnableBlacklist:   cfg.Revocation.EnableBlacklist,
		ReplayWindow:      cfg.Revocation.ReplayWindow,
		BindingDuration:   cfg.Binding.Duration,
		RefreshRotation:   cfg.Refresh.Rotation,
		MaxFamilySize:     cfg.Refresh.MaxFamilySize,
		LockoutThreshold:  cfg.Lockout.Threshold,
		LockoutDuration:   cfg.Lockout.Duration,
		RateLimitRequests: cfg.RateLimit.Requests,
		RateLimitWindow:   cfg.RateLimit.Window,
		BreachEnabled:     cfg.Breach.Enabled,
		BreachFailOpen:    cfg.Breach.FailOpen,
		AuditEnabled:      cfg.Audit.Enabled,
		LintCodes:         cfg.Lint().Codes(),
	}
	if e.keyring != nil {
		input.ActiveKeyID = e.keyring.ActiveID()
		input.KeyIDs = e.keyring.KeyIDs()
	}

	r := security.BuildReport(input)
	return SecurityReport{
		ProductionMode:         r.ProductionMode,
		SigningAlgorithm:       r.SigningAlgorithm,
		ActiveKeyID:            r.ActiveKeyID,
		KeyCount:               r.KeyCount,
		AccessTTL:              r.AccessTTL,
		RefreshTTL:             r.RefreshTTL,
		ClockSkew:              r.ClockSkew,
		Password:               PasswordConfigReport(r.Password),
		TokenEncryptionEnabled: r.TokenEncryptionEnabled,
		BlacklistEnabled:       r.BlacklistEnabled,
		ReplayDetectionEnabled: r.ReplayDetectionEnabled,
		TokenBindingEnabled:    r.TokenBindingEnabled,
		RefreshRotationEnabled: r.RefreshRotationEnabled,
		RefreshFamilyCapped:    r.RefreshFamilyCapped,
		LockoutActive:          r.LockoutActive,
		RateLimitingActive:     r.RateLimitingActive,
		BreachCheckActive:      r.BreachCheckActive,
		BreachFailOpen:         r.BreachFailOpen,
		PasswordExpiryActive:   r.PasswordExpiryActive,
		AuditActive:            r.AuditActive,
		Warnings:               r.Warnings,
	}
}
