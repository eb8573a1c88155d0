package internaldefs

import (
	"strconv"
	"strings"

	"github.com/MrEthical07/credguard"
)

const Namespace = "credguard"

// Family groups counters that describe the same security flow. Exporters
// that support attributes publish one instrument per family and tag each
// point with the counter name.
type Family string

const (
	FamilyLogin    Family = "login"
	FamilySession  Family = "session"
	FamilyToken    Family = "token"
	FamilyAPIKey   Family = "apikey"
	FamilyPassword Family = "password"
	FamilyLockout  Family = "lockout"
	FamilyRate     Family = "ratelimit"
	FamilyJanitor  Family = "janitor"
)

// Families lists every family in export order.
var Families = []Family{
	FamilyLogin, FamilySession, FamilyToken, FamilyAPIKey,
	FamilyPassword, FamilyLockout, FamilyRate, FamilyJanitor,
}

type CounterDef struct {
	ID     credguard.MetricID
	Family Family
	Name   string
	Help   string
}

type HistogramDef struct {
	ID   credguard.MetricID
	Name string
	Help string
}

func counter(family Family, id credguard.MetricID, help string) CounterDef {
	return CounterDef{ID: id, Family: family, Name: Namespace + "_" + id.String() + "_total", Help: help}
}

var CounterDefs = []CounterDef{
	counter(FamilyLogin, credguard.MetricLoginSuccess, "Successful password logins."),
	counter(FamilyLogin, credguard.MetricLoginFailure, "Failed password logins."),
	counter(FamilyLogin, credguard.MetricLoginLocked, "Logins rejected because the account was locked."),
	counter(FamilyLogin, credguard.MetricPasswordHashUpgraded, "Password hashes rehashed with current parameters on login."),
	counter(FamilySession, credguard.MetricRefreshSuccess, "Successful refresh operations."),
	counter(FamilySession, credguard.MetricRefreshFailure, "Failed refresh operations."),
	counter(FamilySession, credguard.MetricRefreshReuseDetected, "Refresh token reuse detections."),
	counter(FamilySession, credguard.MetricRefreshFamilyExhausted, "Refresh families revoked for exceeding the rotation cap."),
	counter(FamilySession, credguard.MetricLogout, "Logouts."),
	counter(FamilyToken, credguard.MetricValidateSuccess, "Access tokens accepted."),
	counter(FamilyToken, credguard.MetricValidateFailure, "Access tokens rejected."),
	counter(FamilyToken, credguard.MetricTokenBlacklisted, "Access tokens rejected as blacklisted."),
	counter(FamilyToken, credguard.MetricTokenReplayed, "Access tokens rejected inside the replay window."),
	counter(FamilyToken, credguard.MetricTokenBindingMismatch, "Access tokens presented from a different client fingerprint."),
	counter(FamilyToken, credguard.MetricTokenRevoked, "Access tokens revoked explicitly."),
	counter(FamilyAPIKey, credguard.MetricAPIKeyAuthSuccess, "Successful API key authentications."),
	counter(FamilyAPIKey, credguard.MetricAPIKeyAuthFailure, "Failed API key authentications."),
	counter(FamilyAPIKey, credguard.MetricAPIKeyCreated, "API keys generated."),
	counter(FamilyAPIKey, credguard.MetricAPIKeyRotated, "API keys rotated."),
	counter(FamilyAPIKey, credguard.MetricAPIKeyRevoked, "API keys revoked."),
	counter(FamilyRate, credguard.MetricRateLimitHit, "Requests denied by the rate limiter."),
	counter(FamilyPassword, credguard.MetricPasswordChangeSuccess, "Successful password changes."),
	counter(FamilyPassword, credguard.MetricPasswordChangeRejected, "Password changes rejected by policy, breach or history checks."),
	counter(FamilyLockout, credguard.MetricAccountLocked, "Accounts locked after repeated failures."),
	counter(FamilyLockout, credguard.MetricAccountUnlocked, "Accounts unlocked by an operator."),
	counter(FamilyJanitor, credguard.MetricJanitorRun, "Cleanup passes run."),
	counter(FamilyJanitor, credguard.MetricJanitorPurged, "Expired records removed by cleanup."),
}

var HistogramDefs = []HistogramDef{
	{ID: credguard.MetricValidateLatency, Name: Namespace + "_validate_latency_seconds", Help: "Access token validation latency."},
}

// AuditDroppedName is exported as a counter next to the engine metrics.
const AuditDroppedName = Namespace + "_audit_dropped_total"

const AuditDroppedHelp = "Audit events dropped because the dispatcher buffer was full."

// BucketCount matches the engine histogram; the last bucket is +Inf.
const BucketCount = len(credguard.HistogramBounds)

// UpperBounds returns the finite bucket bounds in seconds.
func UpperBounds() []float64 {
	out := make([]float64, 0, BucketCount-1)
	for _, d := range credguard.HistogramBounds {
		if d == 0 {
			break
		}
		out = append(out, d.Seconds())
	}
	return out
}

// BoundSuffix renders a bound as a metric name fragment, e.g. 0.005 becomes
// "0_005" and the open bucket "inf".
func BoundSuffix(i int) string {
	if i >= len(UpperBounds()) {
		return "inf"
	}
	return strings.ReplaceAll(strconv.FormatFloat(UpperBounds()[i], 'f', -1, 64), ".", "_")
}

func NormalizeBuckets(raw []uint64) [BucketCount]uint64 {
	var out [BucketCount]uint64
	copy(out[:], raw)
	return out
}

func CumulativeBuckets(raw [BucketCount]uint64) [BucketCount]uint64 {
	var out [BucketCount]uint64
	var running uint64
	for i := 0; i < len(raw); i++ {
		running += raw[i]
		out[i] = running
	}
	return out
}
