package password

import (
	"bufio"
	_ "embed"
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"
)

//go:embed common_passwords.txt
var commonPasswordList string

var commonPasswords = loadCommonPasswords(commonPasswordList)

// Violation identifies one failed strength rule.
type Violation string

const (
	ViolationTooShort     Violation = "too_short"
	ViolationTooLong      Violation = "too_long"
	ViolationNoUpper      Violation = "missing_uppercase"
	ViolationNoLower      Violation = "missing_lowercase"
	ViolationNoDigit      Violation = "missing_digit"
	ViolationNoSpecial    Violation = "missing_special"
	ViolationCommon       Violation = "common_password"
	ViolationSequential   Violation = "sequential_characters"
	ViolationRepeatedChar Violation = "repeated_characters"
)

// Strength buckets the bonus score.
type Strength string

const (
	StrengthWeak   Strength = "weak"
	StrengthMedium Strength = "medium"
	StrengthStrong Strength = "strong"
)

// PolicyConfig configures strength validation. Lengths count runes.
type PolicyConfig struct {
	MinLength      int
	MaxLength      int
	RequireUpper   bool
	RequireLower   bool
	RequireDigit   bool
	RequireSpecial bool
	RejectCommon   bool
	// SequentialRun rejects ascending or descending runs of this many
	// characters ("1234", "dcba"). Zero disables the rule.
	SequentialRun int
	// RepeatRun rejects the same character repeated this many times in a row.
	// Zero disables the rule.
	RepeatRun int
}

// DefaultPolicyConfig mirrors the defaults applied by the engine.
func DefaultPolicyConfig() PolicyConfig {
	return PolicyConfig{
		MinLength:      12,
		MaxLength:      128,
		RequireUpper:   true,
		RequireLower:   true,
		RequireDigit:   true,
		RequireSpecial: true,
		RejectCommon:   true,
		SequentialRun:  4,
		RepeatRun:      4,
	}
}

// StrengthResult reports every violated rule, not only the first.
type StrengthResult struct {
	IsValid    bool
	Violations []Violation
	Score      int
	Level      Strength
}

// PolicyError carries the violations of a rejected password.
type PolicyError struct {
	Violations []Violation
}

func (e *PolicyError) Error() string {
	parts := make([]string, len(e.Violations))
	for i, v := range e.Violations {
		parts[i] = string(v)
	}
	return fmt.Sprintf("password policy violation: %s", strings.Join(parts, ", "))
}

// Policy validates candidate passwords. It holds no mutable state.
type Policy struct {
	config PolicyConfig
}

func NewPolicy(cfg PolicyConfig) (*Policy, error) {
	if cfg.MinLength < 1 {
		return nil, fmt.Errorf("password min length must be >= 1")
	}
	if cfg.MaxLength != 0 && cfg.MaxLength < cfg.MinLength {
		return nil, fmt.Errorf("password max length must be >= min length")
	}
	if cfg.SequentialRun == 1 || cfg.RepeatRun == 1 {
		return nil, fmt.Errorf("password run rules must be 0 or >= 2")
	}
	return &Policy{config: cfg}, nil
}

// ValidateStrength applies every rule and computes the bonus score: one point
// each for length >= 8, length >= 12, and each character class present.
func (p *Policy) ValidateStrength(password string) StrengthResult {
	cfg := p.config
	var (
		violations                   []Violation
		hasUpper, hasLower, hasDigit bool
		hasSpecial                   bool
	)

	for _, r := range password {
		switch {
		case unicode.IsUpper(r):
			hasUpper = true
		case unicode.IsLower(r):
			hasLower = true
		case unicode.IsDigit(r):
			hasDigit = true
		case unicode.IsPunct(r), unicode.IsSymbol(r), unicode.IsSpace(r):
			hasSpecial = true
		}
	}

	length := utf8.RuneCountInString(password)
	if length < cfg.MinLength {
		violations = append(violations, ViolationTooShort)
	}
	if cfg.MaxLength > 0 && length > cfg.MaxLength {
		violations = append(violations, ViolationTooLong)
	}
	if cfg.RequireUpper && !hasUpper {
		violations = append(violations, ViolationNoUpper)
	}
	if cfg.RequireLower && !hasLower {
		violations = append(violations, ViolationNoLower)
	}
	if cfg.RequireDigit && !hasDigit {
		violations = append(violations, ViolationNoDigit)
	}
	if cfg.RequireSpecial && !hasSpecial {
		violations = append(violations, ViolationNoSpecial)
	}
	if cfg.RejectCommon && IsCommon(password) {
		violations = append(violations, ViolationCommon)
	}
	if cfg.SequentialRun > 0 && hasSequentialRun(password, cfg.SequentialRun) {
		violations = append(violations, ViolationSequential)
	}
	if cfg.RepeatRun > 0 && hasRepeatRun(password, cfg.RepeatRun) {
		violations = append(violations, ViolationRepeatedChar)
	}

	score := 0
	for _, ok := range []bool{length >= 8, length >= 12, hasUpper, hasLower, hasDigit, hasSpecial} {
		if ok {
			score++
		}
	}

	return StrengthResult{
		IsValid:    len(violations) == 0,
		Violations: violations,
		Score:      score,
		Level:      strengthLevel(score),
	}
}

// Validate is ValidateStrength reduced to an error.
func (p *Policy) Validate(password string) error {
	res := p.ValidateStrength(password)
	if res.IsValid {
		return nil
	}
	return &PolicyError{Violations: res.Violations}
}

// IsCommon reports whether password appears in the embedded corpus,
// compared case-insensitively.
func IsCommon(password string) bool {
	_, ok := commonPasswords[strings.ToLower(password)]
	return ok
}

func strengthLevel(score int) Strength {
	switch {
	case score >= 5:
		return StrengthStrong
	case score >= 3:
		return StrengthMedium
	default:
		return StrengthWeak
	}
}

func hasSequentialRun(password string, run int) bool {
	runes := []rune(strings.ToLower(password))
	if len(runes) < run {
		return false
	}

	up, down := 1, 1
	for i := 1; i < len(runes); i++ {
		prev, cur := runes[i-1], runes[i]
		if !sequenceable(prev) || !sequenceable(cur) || !sameClass(prev, cur) {
			up, down = 1, 1
			continue
		}
		switch cur - prev {
		case 1:
			up++
			down = 1
		case -1:
			down++
			up = 1
		default:
			up, down = 1, 1
		}
		if up >= run || down >= run {
			return true
		}
	}
	return false
}

func sequenceable(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9')
}

func sameClass(a, b rune) bool {
	return unicode.IsDigit(a) == unicode.IsDigit(b)
}

func hasRepeatRun(password string, run int) bool {
	count := 0
	var last rune
	for i, r := range []rune(password) {
		if i > 0 && r == last {
			count++
		} else {
			count = 1
		}
		if count >= run {
			return true
		}
		last = r
	}
	return false
}

func loadCommonPasswords(raw string) map[string]struct{} {
	out := make(map[string]struct{}, 256)
	scanner := bufio.NewScanner(strings.NewReader(raw))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		out[strings.ToLower(line)] = struct{}{}
	}
	return out
}
