package credguard

import (
	"bytes"
	"context"
	"sync"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus/hooks/test"

	"github.com/MrEthical07/credguard/audit"
	"github.com/MrEthical07/credguard/jwt"
)

func TestBuilderRejectsSecondBuild(t *testing.T) {
	b := New().WithConfig(testConfig(t)).WithUserProvider(newFakeUsers()).WithLogger(quietLogger())
	e, err := b.Build()
	if err != nil {
		t.Fatalf("first build failed: %v", err)
	}
	defer e.Close()

	if _, err := b.Build(); err == nil {
		t.Fatalf("expected second build to fail")
	}
}

func TestBuilderRequiresUserProvider(t *testing.T) {
	if _, err := New().WithConfig(testConfig(t)).WithLogger(quietLogger()).Build(); err == nil {
		t.Fatalf("expected build without user provider to fail")
	}
}

func TestBuilderWithKeyringNeedsNoInlineKey(t *testing.T) {
	cfg := testConfig(t)
	cfg.JWT.PrivateKey = nil

	if _, err := New().WithConfig(cfg).WithUserProvider(newFakeUsers()).Build(); err == nil {
		t.Fatalf("expected build without any key material to fail")
	}

	ring, err := jwt.NewKeyring("k1", jwt.Key{
		ID:     "k1",
		Method: jwt.MethodHS256,
		Secret: bytes.Repeat([]byte{'s'}, 32),
	})
	if err != nil {
		t.Fatalf("keyring: %v", err)
	}
	users := newFakeUsers()
	e, err := New().WithConfig(cfg).WithUserProvider(users).WithKeyring(ring).WithLogger(quietLogger()).Build()
	if err != nil {
		t.Fatalf("build with keyring failed: %v", err)
	}
	defer e.Close()

	if e.Keyring() != ring {
		t.Fatalf("expected the supplied keyring to be used")
	}
	addUser(t, e, users, "u1", "alice", alicePassword)
	login, err := e.Login(context.Background(), "alice", alicePassword)
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}
	if _, err := e.ValidateAccess(context.Background(), login.AccessToken); err != nil {
		t.Fatalf("validate failed: %v", err)
	}
}

func TestBuilderCopiesConfig(t *testing.T) {
	cfg := testConfig(t)
	b := New().WithConfig(cfg).WithUserProvider(newFakeUsers()).WithLogger(quietLogger())
	cfg.JWT.Issuer = "changed-after-with-config"

	e, err := b.Build()
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}
	defer e.Close()

	if got := e.Config().JWT.Issuer; got != "credguard-test" {
		t.Fatalf("expected engine to keep its own config copy, got issuer %q", got)
	}
}

func waitEvent(t *testing.T, events <-chan audit.Event, eventType string) audit.Event {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev := <-events:
			if ev.EventType == eventType {
				return ev
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s", eventType)
		}
	}
}

func TestBuilderWiresAuditSink(t *testing.T) {
	sink := audit.NewChannelSink(32)
	e, users := newTestEngine(t, func(c *Config) {
		c.Audit.Enabled = true
	}, func(b *Builder) { b.WithAuditSink(sink) })
	addUser(t, e, users, "u1", "alice", alicePassword)

	ctx := WithClientIP(context.Background(), "192.0.2.10")
	if _, err := e.Login(ctx, "alice", alicePassword); err != nil {
		t.Fatalf("login failed: %v", err)
	}

	ev := waitEvent(t, sink.Events(), audit.EventLoginSuccess)
	if ev.SubjectID != "u1" || ev.IP != "192.0.2.10" || !ev.Success {
		t.Fatalf("unexpected event: %+v", ev)
	}
}

func TestBuilderAuditDisabledEmitsNothing(t *testing.T) {
	sink := audit.NewChannelSink(32)
	e, users := newTestEngine(t, nil, func(b *Builder) { b.WithAuditSink(sink) })
	addUser(t, e, users, "u1", "alice", alicePassword)

	if _, err := e.Login(context.Background(), "alice", alicePassword); err != nil {
		t.Fatalf("login failed: %v", err)
	}
	select {
	case ev := <-sink.Events():
		t.Fatalf("expected no events, got %+v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

type recordingPublisher struct {
	mu   sync.Mutex
	keys []string
}

func (p *recordingPublisher) PublishWithContext(_ context.Context, _, key string, _, _ bool, _ amqp.Publishing) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.keys = append(p.keys, key)
	return nil
}

func (p *recordingPublisher) published() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.keys...)
}

func TestBuilderWiresAMQPAndLogEvents(t *testing.T) {
	pub := &recordingPublisher{}
	log, hook := test.NewNullLogger()

	e, users := newTestEngine(t, func(c *Config) {
		c.Audit.Enabled = true
		c.Audit.LogEvents = true
	}, func(b *Builder) {
		b.WithLogger(log).WithAMQP(pub, audit.AMQPConfig{Exchange: "security"})
	})
	addUser(t, e, users, "u1", "alice", alicePassword)

	if _, err := e.Login(context.Background(), "alice", "wrong-password"); err == nil {
		t.Fatalf("expected login failure")
	}
	// Close drains the dispatcher.
	e.Close()

	var found bool
	for _, key := range pub.published() {
		if key == "credguard."+audit.EventLoginFailure {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected a login_failure publication, got %v", pub.published())
	}

	var logged bool
	for _, entry := range hook.AllEntries() {
		if entry.Data["event_type"] == audit.EventLoginFailure {
			logged = true
		}
	}
	if !logged {
		t.Fatalf("expected the event to be logged")
	}
}
