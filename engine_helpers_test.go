package credguard

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"io"
	"sync"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

type fakeUsers struct {
	mu           sync.Mutex
	byID         map[string]*UserRecord
	byIdentifier map[string]string

	getByIdentifierCalls int
	getByIDCalls         int
	updatePasswordCalls  int
}

func newFakeUsers() *fakeUsers {
	return &fakeUsers{
		byID:         make(map[string]*UserRecord),
		byIdentifier: make(map[string]string),
	}
}

func (f *fakeUsers) add(rec UserRecord) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := rec
	f.byID[rec.UserID] = &cp
	f.byIdentifier[rec.Identifier] = rec.UserID
}

func (f *fakeUsers) setStatus(userID string, status AccountStatus) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.byID[userID].Status = status
}

func (f *fakeUsers) setTwoFactor(userID string, enabled bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.byID[userID].TwoFactorEnabled = enabled
}

func (f *fakeUsers) hash(userID string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.byID[userID].PasswordHash
}

func (f *fakeUsers) GetUserByIdentifier(_ context.Context, identifier string) (UserRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.getByIdentifierCalls++
	id, ok := f.byIdentifier[identifier]
	if !ok {
		return UserRecord{}, ErrUserNotFound
	}
	return *f.byID[id], nil
}

func (f *fakeUsers) GetUserByID(_ context.Context, userID string) (UserRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.getByIDCalls++
	rec, ok := f.byID[userID]
	if !ok {
		return UserRecord{}, ErrUserNotFound
	}
	return *rec, nil
}

func (f *fakeUsers) UpdatePasswordHash(_ context.Context, userID, newHash string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updatePasswordCalls++
	rec, ok := f.byID[userID]
	if !ok {
		return ErrUserNotFound
	}
	rec.PasswordHash = newHash
	return nil
}

func quietLogger() logrus.FieldLogger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

// testConfig is the default config with cheap hashing parameters and a
// fresh Ed25519 key.
func testConfig(t *testing.T) Config {
	t.Helper()

	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}

	cfg := DefaultConfig()
	cfg.JWT.Issuer = "credguard-test"
	cfg.JWT.Audience = "api"
	cfg.JWT.PrivateKey = priv
	cfg.Password.Memory = 8 * 1024
	cfg.Password.Time = 1
	cfg.Password.Parallelism = 1
	cfg.Password.BcryptCost = 10
	cfg.Metrics.Enabled = true
	cfg.Janitor.Schedule = "@every 1h"
	return cfg
}

type engineOption func(*Builder)

func withRedis(t *testing.T) engineOption {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis run failed: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		_ = rdb.Close()
		mr.Close()
	})
	return func(b *Builder) { b.WithRedis(rdb) }
}

func newTestEngine(t *testing.T, mutate func(*Config), opts ...engineOption) (*Engine, *fakeUsers) {
	t.Helper()

	cfg := testConfig(t)
	if mutate != nil {
		mutate(&cfg)
	}
	users := newFakeUsers()
	b := New().WithConfig(cfg).WithUserProvider(users).WithLogger(quietLogger())
	for _, opt := range opts {
		opt(b)
	}
	engine, err := b.Build()
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}
	t.Cleanup(engine.Close)
	return engine, users
}

// addUser registers an active account whose password is hashed with the
// engine's primary algorithm.
func addUser(t *testing.T, e *Engine, users *fakeUsers, userID, identifier, pw string) {
	t.Helper()
	hash, err := e.hasher.Hash(pw)
	if err != nil {
		t.Fatalf("hash failed: %v", err)
	}
	users.add(UserRecord{
		UserID:       userID,
		Identifier:   identifier,
		PasswordHash: hash,
		Status:       AccountActive,
	})
}

// backends runs fn against the memory and the Redis wiring.
func backends(t *testing.T, fn func(t *testing.T, opts ...engineOption)) {
	t.Run("memory", func(t *testing.T) { fn(t) })
	t.Run("redis", func(t *testing.T) { fn(t, withRedis(t)) })
}

const alicePassword = "Tr0ub4dor&3-horse"
