//go:build integration

package pgstore

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/MrEthical07/credguard/lockout"
	"github.com/MrEthical07/credguard/refresh"
	"github.com/MrEthical07/credguard/token"
)

func setupPostgres(t *testing.T) *sql.DB {
	t.Helper()
	ctx := context.Background()

	container, err := postgres.Run(ctx, "postgres:16-alpine",
		postgres.WithDatabase("credguard_test"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	if err != nil {
		t.Fatalf("start postgres: %v", err)
	}
	t.Cleanup(func() {
		cleanupCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		_ = container.Terminate(cleanupCtx)
	})

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("connection string: %v", err)
	}
	db, err := Open(ctx, dsn, DefaultPoolConfig())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	if err := RunMigrations(ctx, db); err != nil {
		t.Fatalf("RunMigrations: %v", err)
	}
	// Second run must be a no-op.
	if err := RunMigrations(ctx, db); err != nil {
		t.Fatalf("RunMigrations again: %v", err)
	}
	return db
}

func TestIntegrationRefreshRotationExactlyOnce(t *testing.T) {
	db := setupPostgres(t)
	ctx := context.Background()

	mgr, err := refresh.NewManager(refresh.Config{TTL: time.Hour, MaxFamilySize: 10}, NewRefreshStore(db), nil, nil)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	issued, err := mgr.IssueFamily(ctx, "user-1")
	if err != nil {
		t.Fatalf("IssueFamily: %v", err)
	}

	issueAccess := func(_ context.Context, next *refresh.Token) (*token.AccessToken, error) {
		return &token.AccessToken{JTI: uuid.NewString(), Subject: next.SubjectID, ExpiresAt: time.Now().Add(time.Minute)}, nil
	}

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := mgr.Rotate(ctx, issued.Plaintext, issueAccess)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case errors.Is(err, refresh.ErrReused), errors.Is(err, refresh.ErrInvalid):
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if successes != 1 {
		t.Fatalf("expected exactly one rotation, got %d", successes)
	}
}

func TestIntegrationLockoutTracker(t *testing.T) {
	db := setupPostgres(t)
	ctx := context.Background()

	tracker, err := lockout.NewTracker(lockout.Config{Threshold: 3, Window: time.Minute, Duration: time.Hour}, NewLockoutStore(db), nil)
	if err != nil {
		t.Fatalf("NewTracker: %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := tracker.RecordFailedAttempt(ctx, "alice", "198.51.100.7"); err != nil {
				t.Errorf("RecordFailedAttempt: %v", err)
			}
		}()
	}
	wg.Wait()

	locked, remaining, err := tracker.CheckLocked(ctx, "alice")
	if err != nil {
		t.Fatalf("CheckLocked: %v", err)
	}
	if !locked || remaining <= 0 {
		t.Fatalf("expected alice locked, remaining=%v", remaining)
	}
	if err := tracker.Unlock(ctx, "alice"); err != nil {
		t.Fatalf("Unlock: %v", err)
	}
	if locked, _, _ := tracker.CheckLocked(ctx, "alice"); locked {
		t.Fatal("expected alice unlocked")
	}
}
