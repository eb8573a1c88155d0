package audit

import (
	"context"

	"github.com/getsentry/sentry-go"
)

// SentrySink forwards events at or above MinSeverity to Sentry as messages.
// Lower-severity events are ignored so the error tracker only sees incidents.
type SentrySink struct {
	hub         *sentry.Hub
	minSeverity Severity
}

// NewSentrySink uses the process-wide hub when hub is nil.
func NewSentrySink(hub *sentry.Hub, minSeverity Severity) *SentrySink {
	if hub == nil {
		hub = sentry.CurrentHub()
	}
	return &SentrySink{hub: hub, minSeverity: minSeverity}
}

func (s *SentrySink) Emit(_ context.Context, event Event) {
	if event.Severity < s.minSeverity {
		return
	}

	ev := sentry.NewEvent()
	ev.Message = "credguard: " + event.EventType
	ev.Level = sentryLevel(event.Severity)
	ev.Timestamp = event.Timestamp
	ev.Tags = map[string]string{
		"event_type": event.EventType,
		"severity":   event.Severity.String(),
	}
	if event.SubjectID != "" {
		ev.User = sentry.User{ID: event.SubjectID, IPAddress: event.IP}
	}
	for k, v := range event.Details {
		ev.Extra[k] = v
	}
	if event.Error != "" {
		ev.Extra["error"] = event.Error
	}

	s.hub.CaptureEvent(ev)
}

func sentryLevel(s Severity) sentry.Level {
	switch {
	case s >= SeverityCritical:
		return sentry.LevelFatal
	case s >= SeverityHigh:
		return sentry.LevelError
	case s >= SeverityMedium:
		return sentry.LevelWarning
	default:
		return sentry.LevelInfo
	}
}
