package middleware

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/MrEthical07/credguard"
	"github.com/MrEthical07/credguard/policy"
)

type memUsers struct {
	mu    sync.Mutex
	users map[string]credguard.UserRecord
}

func (m *memUsers) GetUserByIdentifier(ctx context.Context, identifier string) (credguard.UserRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Identifier == identifier {
			return u, nil
		}
	}
	return credguard.UserRecord{}, credguard.ErrUserNotFound
}

func (m *memUsers) GetUserByID(ctx context.Context, userID string) (credguard.UserRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok {
		return credguard.UserRecord{}, credguard.ErrUserNotFound
	}
	return u, nil
}

func (m *memUsers) UpdatePasswordHash(ctx context.Context, userID, newHash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u := m.users[userID]
	u.PasswordHash = newHash
	m.users[userID] = u
	return nil
}

func (m *memUsers) setStatus(userID string, status credguard.AccountStatus) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u := m.users[userID]
	u.Status = status
	m.users[userID] = u
}

const testPassword = "Correct-Horse-9!"

func newEngine(t *testing.T, mutate func(*credguard.Config)) (*credguard.Engine, *memUsers) {
	t.Helper()

	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	cfg := credguard.DefaultConfig()
	cfg.JWT.PrivateKey = priv
	cfg.Password.Memory = 8 * 1024
	cfg.Password.Time = 1
	cfg.Password.Parallelism = 1
	if mutate != nil {
		mutate(&cfg)
	}

	log := logrus.New()
	log.SetOutput(io.Discard)
	users := &memUsers{users: map[string]credguard.UserRecord{}}
	engine, err := credguard.New().WithConfig(cfg).WithUserProvider(users).WithLogger(log).Build()
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}
	t.Cleanup(engine.Close)

	hash, err := engine.EnrollPassword(context.Background(), "u1", testPassword)
	if err != nil {
		t.Fatalf("enroll failed: %v", err)
	}
	users.users["u1"] = credguard.UserRecord{UserID: "u1", Identifier: "alice", PasswordHash: hash}
	return engine, users
}

func login(t *testing.T, engine *credguard.Engine) string {
	t.Helper()
	res, err := engine.Login(credguard.WithClientIP(context.Background(), "192.0.2.1"), "alice", testPassword)
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}
	return res.AccessToken
}

func okHandler(t *testing.T, wantUser string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if res, ok := AuthResultFromContext(r.Context()); ok && res.UserID != wantUser {
			t.Errorf("expected user %s in context, got %s", wantUser, res.UserID)
		}
		w.WriteHeader(http.StatusNoContent)
	})
}

func serve(h http.Handler, header, value string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/v1/items", nil)
	if header != "" {
		req.Header.Set(header, value)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestRequireToken(t *testing.T) {
	engine, _ := newEngine(t, nil)
	access := login(t, engine)
	h := RequireToken(engine)(okHandler(t, "u1"))

	if rec := serve(h, "Authorization", "Bearer "+access); rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}
	if rec := serve(h, "Authorization", "bearer "+access); rec.Code != http.StatusNoContent {
		t.Fatalf("expected the scheme to be case-insensitive, got %d", rec.Code)
	}
	for _, value := range []string{"", "Bearer ", "Basic abc", "Bearer garbage"} {
		if rec := serve(h, "Authorization", value); rec.Code != http.StatusUnauthorized {
			t.Fatalf("%q: expected 401, got %d", value, rec.Code)
		}
	}

	if err := engine.RevokeAccess(context.Background(), access); err != nil {
		t.Fatalf("revoke failed: %v", err)
	}
	if rec := serve(h, "Authorization", "Bearer "+access); rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected revoked token to be rejected, got %d", rec.Code)
	}
}

func TestRequireActiveAccount(t *testing.T) {
	engine, users := newEngine(t, nil)
	access := login(t, engine)
	h := RequireActiveAccount(engine)(okHandler(t, "u1"))

	if rec := serve(h, "Authorization", "Bearer "+access); rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}
	users.setStatus("u1", credguard.AccountDisabled)
	if rec := serve(h, "Authorization", "Bearer "+access); rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for a disabled account, got %d", rec.Code)
	}
	// The stateless guard does not look at the account.
	if rec := serve(RequireToken(engine)(okHandler(t, "u1")), "Authorization", "Bearer "+access); rec.Code != http.StatusNoContent {
		t.Fatalf("expected stateless guard to pass, got %d", rec.Code)
	}
}

func TestGuardTwoFactorRequirement(t *testing.T) {
	engine, _ := newEngine(t, nil)
	access := login(t, engine)
	h := Guard(engine, policy.TwoFactor())(okHandler(t, "u1"))

	if rec := serve(h, "Authorization", "Bearer "+access); rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 without a second factor, got %d", rec.Code)
	}
}

func TestGuardTwoFactorAcceptsSteppedUpSession(t *testing.T) {
	engine, users := newEngine(t, nil)
	u := users.users["u1"]
	u.TwoFactorEnabled = true
	users.users["u1"] = u

	ctx := credguard.WithClientIP(context.Background(), "192.0.2.1")
	res, err := engine.Login(ctx, "alice", testPassword)
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}
	h := Guard(engine, policy.TwoFactor())(okHandler(t, "u1"))
	if rec := serve(h, "Authorization", "Bearer "+res.AccessToken); rec.Code != http.StatusForbidden {
		t.Fatalf("expected an enrolled but unverified factor to get 403, got %d", rec.Code)
	}

	stepped, err := engine.CompleteSecondFactor(ctx, res.RefreshToken, "otp")
	if err != nil {
		t.Fatalf("complete second factor failed: %v", err)
	}
	if rec := serve(h, "Authorization", "Bearer "+stepped.AccessToken); rec.Code != http.StatusNoContent {
		t.Fatalf("expected the verified session to pass, got %d", rec.Code)
	}
}

func TestRequireAPIKey(t *testing.T) {
	engine, _ := newEngine(t, func(c *credguard.Config) {
		c.RateLimit.Requests = 2
		c.RateLimit.Window = time.Minute
	})
	plaintext, key, err := engine.GenerateAPIKey(context.Background(), "u1", []string{"items:read"}, 0, nil)
	if err != nil {
		t.Fatalf("generate failed: %v", err)
	}

	var seen *credguard.APIKeyAuth
	h := RequireAPIKey(engine, "items:read")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = APIKeyFromContext(r.Context())
		w.WriteHeader(http.StatusAccepted)
	}))

	rec := serve(h, APIKeyHeader, plaintext)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", rec.Code)
	}
	if seen == nil || seen.KeyID != key.ID {
		t.Fatalf("expected key in context, got %+v", seen)
	}
	if got := rec.Header().Get("X-RateLimit-Remaining"); got != "1" {
		t.Fatalf("expected 1 remaining, got %q", got)
	}

	if rec := serve(h, "Authorization", "ApiKey "+plaintext); rec.Code != http.StatusAccepted {
		t.Fatalf("expected the ApiKey scheme to work, got %d", rec.Code)
	}

	rec = serve(h, APIKeyHeader, plaintext)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Fatalf("expected Retry-After header")
	}

	keys, err := engine.ListAPIKeys(context.Background(), "u1")
	if err != nil || len(keys) != 1 {
		t.Fatalf("list failed: %v", err)
	}
	if keys[0].RequestCount != 2 {
		t.Fatalf("expected 2 recorded requests, got %d", keys[0].RequestCount)
	}
}

func TestRequireAPIKeyRejections(t *testing.T) {
	engine, _ := newEngine(t, nil)
	plaintext, _, err := engine.GenerateAPIKey(context.Background(), "u1", []string{"items:read"}, 0, nil)
	if err != nil {
		t.Fatalf("generate failed: %v", err)
	}

	writer := RequireAPIKey(engine, "items:write")(okHandler(t, ""))
	if rec := serve(writer, APIKeyHeader, plaintext); rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for a missing scope, got %d", rec.Code)
	}

	reader := RequireAPIKey(engine)(okHandler(t, ""))
	if rec := serve(reader, "", ""); rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without a key, got %d", rec.Code)
	}
	if rec := serve(reader, APIKeyHeader, plaintext+"x"); rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for a tampered key, got %d", rec.Code)
	}
}
