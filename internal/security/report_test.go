package security

import (
	"testing"
	"time"
)

func TestBuildReportDerivesPosture(t *testing.T) {
	codes := []string{"replay_disabled"}
	r := BuildReport(ReportInput{
		KeyIDs:            []string{"k1", "k2"},
		RefreshRotation:   false,
		MaxFamilySize:     10,
		LockoutThreshold:  5,
		LockoutDuration:   0,
		RateLimitRequests: 10,
		RateLimitWindow:   time.Minute,
		BreachEnabled:     false,
		BreachFailOpen:    true,
		LintCodes:         codes,
	})

	if r.KeyCount != 2 {
		t.Fatalf("expected 2 keys, got %d", r.KeyCount)
	}
	if r.RefreshFamilyCapped {
		t.Fatalf("a family cap without rotation must not be reported")
	}
	if r.LockoutActive {
		t.Fatalf("lockout without a duration must not be reported")
	}
	if !r.RateLimitingActive {
		t.Fatalf("expected rate limiting reported")
	}
	if r.BreachFailOpen {
		t.Fatalf("fail-open is meaningless with breach checking off")
	}

	codes[0] = "mutated"
	if r.Warnings[0] != "replay_disabled" {
		t.Fatalf("expected warnings to be copied")
	}
}
