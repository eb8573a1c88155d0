package audit

import (
	"context"
	"encoding/json"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"
)

// Publisher is the subset of *amqp.Channel used by AMQPSink.
type Publisher interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// AMQPConfig names where events are published. The routing key is
// RoutingPrefix + event type.
type AMQPConfig struct {
	Exchange       string
	RoutingPrefix  string
	PublishTimeout time.Duration
}

// AMQPSink publishes events as persistent JSON messages. Publish failures are
// logged and never returned to the emitter.
type AMQPSink struct {
	pub Publisher
	cfg AMQPConfig
	log logrus.FieldLogger
}

func NewAMQPSink(pub Publisher, cfg AMQPConfig, log logrus.FieldLogger) *AMQPSink {
	if cfg.RoutingPrefix == "" {
		cfg.RoutingPrefix = "credguard."
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = 2 * time.Second
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &AMQPSink{pub: pub, cfg: cfg, log: log.WithField("component", "audit_amqp")}
}

func (s *AMQPSink) Emit(ctx context.Context, event Event) {
	body, err := json.Marshal(event)
	if err != nil {
		s.log.WithError(err).Warn("failed to encode audit event")
		return
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.PublishTimeout)
	defer cancel()

	msg := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    event.Timestamp,
		Type:         event.EventType,
		Body:         body,
	}
	if err := s.pub.PublishWithContext(ctx, s.cfg.Exchange, s.cfg.RoutingPrefix+event.EventType, false, false, msg); err != nil {
		s.log.WithError(err).WithField("event_type", event.EventType).Warn("failed to publish audit event")
	}
}
