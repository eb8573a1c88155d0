package security

import (
	"slices"
	"time"
)

type PasswordReport struct {
	Algorithm      string
	Memory         uint32
	Time           uint32
	Parallelism    uint8
	BcryptCost     int
	MinLength      int
	HistoryDepth   int
	ExpirationDays int
}

type Report struct {
	ProductionMode   bool
	SigningAlgorithm string
	ActiveKeyID      string
	KeyCount         int
	AccessTTL        time.Duration
	RefreshTTL       time.Duration
	ClockSkew        time.Duration
	Password         PasswordReport

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

	// Warnings are the lint codes raised by the configuration.
	Warnings []string
}

type ReportInput struct {
	ProductionMode   bool
	SigningAlgorithm string
	ActiveKeyID      string
	KeyIDs           []string
	AccessTTL        time.Duration
	RefreshTTL       time.Duration
	ClockSkew        time.Duration
	Password         PasswordReport

	EncryptTokens     bool
	EnableBlacklist   bool
	ReplayWindow      time.Duration
	BindingDuration   time.Duration
	RefreshRotation   bool
	MaxFamilySize     int
	LockoutThreshold  int
	LockoutDuration   time.Duration
	RateLimitRequests int
	RateLimitWindow   time.Duration
	BreachEnabled     bool
	BreachFailOpen    bool
	AuditEnabled      bool
	LintCodes         []string
}

func BuildReport(input ReportInput) Report {
	lockout := input.LockoutThreshold > 0 && input.LockoutDuration > 0
	rateLimiting := input.RateLimitRequests > 0 && input.RateLimitWindow > 0

	return Report{
		ProductionMode:         input.ProductionMode,
		SigningAlgorithm:       input.SigningAlgorithm,
		ActiveKeyID:            input.ActiveKeyID,
		KeyCount:               len(input.KeyIDs),
		AccessTTL:              input.AccessTTL,
		RefreshTTL:             input.RefreshTTL,
		ClockSkew:              input.ClockSkew,
		Password:               input.Password,
		TokenEncryptionEnabled: input.EncryptTokens,
		BlacklistEnabled:       input.EnableBlacklist,
		ReplayDetectionEnabled: input.ReplayWindow > 0,
		TokenBindingEnabled:    input.BindingDuration > 0,
		RefreshRotationEnabled: input.RefreshRotation,
		RefreshFamilyCapped:    input.RefreshRotation && input.MaxFamilySize > 0,
		LockoutActive:          lockout,
		RateLimitingActive:     rateLimiting,
		BreachCheckActive:      input.BreachEnabled,
		BreachFailOpen:         input.BreachEnabled && input.BreachFailOpen,
		PasswordExpiryActive:   input.Password.ExpirationDays > 0,
		AuditActive:            input.AuditEnabled,
		Warnings:               slices.Clone(input.LintCodes),
	}
}
