package password

import (
	"errors"
	"testing"
)

func hasViolation(res StrengthResult, v Violation) bool {
	for _, got := range res.Violations {
		if got == v {
			return true
		}
	}
	return false
}

func TestValidateStrengthReportsEachViolation(t *testing.T) {
	p, err := NewPolicy(DefaultPolicyConfig())
	if err != nil {
		t.Fatalf("NewPolicy error: %v", err)
	}

	res := p.ValidateStrength("aaaa")
	if res.IsValid {
		t.Fatal("expected weak password to be invalid")
	}
	for _, v := range []Violation{ViolationTooShort, ViolationNoUpper, ViolationNoDigit, ViolationNoSpecial, ViolationRepeatedChar} {
		if !hasViolation(res, v) {
			t.Fatalf("expected violation %s in %v", v, res.Violations)
		}
	}
	if hasViolation(res, ViolationNoLower) {
		t.Fatalf("did not expect missing lowercase in %v", res.Violations)
	}
}

func TestValidateStrengthRules(t *testing.T) {
	p, err := NewPolicy(DefaultPolicyConfig())
	if err != nil {
		t.Fatalf("NewPolicy error: %v", err)
	}

	tests := []struct {
		name     string
		password string
		want     Violation
	}{
		{name: "ascending digits", password: "Xy!q1234mnbv", want: ViolationSequential},
		{name: "descending letters", password: "Q7!dcbaZwpxr", want: ViolationSequential},
		{name: "repetition", password: "Zk9!mmmmTqrs", want: ViolationRepeatedChar},
		{name: "common", password: "Password123!", want: ViolationCommon},
		{name: "too long", password: string(make([]byte, 200)), want: ViolationTooLong},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			res := p.ValidateStrength(tc.password)
			if !hasViolation(res, tc.want) {
				t.Fatalf("expected %s, got %v", tc.want, res.Violations)
			}
		})
	}
}

func TestValidateStrengthAcceptsStrongPassword(t *testing.T) {
	p, err := NewPolicy(DefaultPolicyConfig())
	if err != nil {
		t.Fatalf("NewPolicy error: %v", err)
	}

	res := p.ValidateStrength("Tr0ub4dor&Horse!")
	if !res.IsValid {
		t.Fatalf("expected valid password, got %v", res.Violations)
	}
	if res.Score != 6 || res.Level != StrengthStrong {
		t.Fatalf("expected score 6 strong, got %d %s", res.Score, res.Level)
	}
}

func TestStrengthLevels(t *testing.T) {
	p, err := NewPolicy(PolicyConfig{MinLength: 1})
	if err != nil {
		t.Fatalf("NewPolicy error: %v", err)
	}

	if lvl := p.ValidateStrength("abc").Level; lvl != StrengthWeak {
		t.Fatalf("expected weak, got %s", lvl)
	}
	if lvl := p.ValidateStrength("abcdefgH").Level; lvl != StrengthMedium {
		t.Fatalf("expected medium, got %s", lvl)
	}
}

func TestValidateReturnsPolicyError(t *testing.T) {
	p, err := NewPolicy(DefaultPolicyConfig())
	if err != nil {
		t.Fatalf("NewPolicy error: %v", err)
	}

	err = p.Validate("short")
	var perr *PolicyError
	if !errors.As(err, &perr) {
		t.Fatalf("expected PolicyError, got %T", err)
	}
	if len(perr.Violations) == 0 {
		t.Fatal("expected violations on policy error")
	}
}

func TestNewPolicyRejectsBadConfig(t *testing.T) {
	if _, err := NewPolicy(PolicyConfig{MinLength: 10, MaxLength: 5}); err == nil {
		t.Fatal("expected max < min to be rejected")
	}
	if _, err := NewPolicy(PolicyConfig{MinLength: 8, RepeatRun: 1}); err == nil {
		t.Fatal("expected run length 1 to be rejected")
	}
}
