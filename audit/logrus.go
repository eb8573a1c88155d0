package audit

import (
	"context"

	"github.com/sirupsen/logrus"
)

// LogrusSink writes events as structured log entries. High and critical
// events are logged at error level.
type LogrusSink struct {
	log logrus.FieldLogger
}

func NewLogrusSink(log logrus.FieldLogger) *LogrusSink {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &LogrusSink{log: log.WithField("component", "audit")}
}

func (s *LogrusSink) Emit(_ context.Context, event Event) {
	fields := logrus.Fields{
		"event_type": event.EventType,
		"severity":   event.Severity.String(),
		"success":    event.Success,
	}
	if event.SubjectID != "" {
		fields["subject_id"] = event.SubjectID
	}
	if event.IP != "" {
		fields["ip"] = event.IP
	}
	if event.Error != "" {
		fields["error"] = event.Error
	}
	for k, v := range event.Details {
		fields["detail_"+k] = v
	}

	entry := s.log.WithFields(fields)
	switch {
	case event.Severity >= SeverityHigh:
		entry.Error("security event")
	case event.Severity >= SeverityMedium:
		entry.Warn("security event")
	default:
		entry.Info("security event")
	}
}
