package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"
)

// Severity ranks how urgently an event needs human attention.
type Severity int

const (
	SeverityInfo Severity = iota
	SeverityLow
	SeverityMedium
	SeverityHigh
	SeverityCritical
)

func (s Severity) String() string {
	switch s {
	case SeverityInfo:
		return "info"
	case SeverityLow:
		return "low"
	case SeverityMedium:
		return "medium"
	case SeverityHigh:
		return "high"
	case SeverityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

func (s Severity) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *Severity) UnmarshalText(text []byte) error {
	for c := SeverityInfo; c <= SeverityCritical; c++ {
		if c.String() == string(text) {
			*s = c
			return nil
		}
	}
	return fmt.Errorf("audit: unknown severity %q", text)
}

// Event types emitted by credguard components.
const (
	EventLoginSuccess          = "login_success"
	EventLoginFailure          = "login_failure"
	EventLogout                = "logout"
	EventAccountLocked         = "account_locked"
	EventAccountUnlocked       = "account_unlocked"
	EventRefreshRotated        = "refresh_rotated"
	EventRefreshReuseDetected  = "refresh_reuse_detected"
	EventRefreshFamilyRevoked  = "refresh_family_revoked"
	EventRefreshFamilyExceeded = "refresh_family_exhausted"
	EventSecondFactorVerified  = "second_factor_verified"
	EventTokenRevoked          = "token_revoked"
	EventTokenReplayed         = "token_replayed"
	EventTokenBindingMismatch  = "token_binding_mismatch"
	EventAPIKeyCreated         = "api_key_created"
	EventAPIKeyRotated         = "api_key_rotated"
	EventAPIKeyRevoked         = "api_key_revoked"
	EventAPIKeyRejected        = "api_key_rejected"
	EventRateLimited           = "rate_limited"
	EventPasswordChanged       = "password_changed"
	EventPasswordRejected      = "password_rejected"
)

// Event is the canonical security event record.
type Event struct {
	Timestamp time.Time         `json:"timestamp"`
	EventType string            `json:"event_type"`
	Severity  Severity          `json:"severity"`
	SubjectID string            `json:"subject_id,omitempty"`
	IP        string            `json:"ip,omitempty"`
	Success   bool              `json:"success"`
	Error     string            `json:"error,omitempty"`
	Details   map[string]string `json:"details,omitempty"`
}

// Sink receives emitted audit events. Emit must not block the caller for
// longer than the passed context allows.
type Sink interface {
	Emit(ctx context.Context, event Event)
}

// Record fills in the timestamp and forwards the event. A nil sink is a no-op.
func Record(ctx context.Context, sink Sink, event Event) {
	if sink == nil {
		return
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	sink.Emit(ctx, event)
}

// NoOpSink drops audit events.
type NoOpSink struct{}

func (NoOpSink) Emit(context.Context, Event) {}

// ChannelSink writes audit events into a buffered channel.
type ChannelSink struct {
	events chan Event
}

func NewChannelSink(buffer int) *ChannelSink {
	if buffer <= 0 {
		buffer = 1
	}
	return &ChannelSink{
		events: make(chan Event, buffer),
	}
}

func (s *ChannelSink) Emit(ctx context.Context, event Event) {
	select {
	case s.events <- event:
	case <-ctx.Done():
	}
}

func (s *ChannelSink) Events() <-chan Event {
	return s.events
}

// JSONWriterSink writes one JSON object per line.
type JSONWriterSink struct {
	writer io.Writer
	mu     sync.Mutex
}

func NewJSONWriterSink(w io.Writer) *JSONWriterSink {
	return &JSONWriterSink{
		writer: w,
	}
}

func (s *JSONWriterSink) Emit(ctx context.Context, event Event) {
	if s == nil || s.writer == nil {
		return
	}
	data, err := json.Marshal(event)
	if err != nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, _ = s.writer.Write(data)
	_, _ = s.writer.Write([]byte("\n"))
}

// MultiSink fans every event out to each sink in order.
type MultiSink []Sink

func (m MultiSink) Emit(ctx context.Context, event Event) {
	for _, s := range m {
		if s != nil {
			s.Emit(ctx, event)
		}
	}
}
