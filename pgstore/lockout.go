package pgstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/MrEthical07/credguard/lockout"
)

// LockoutStore implements lockout.Store. Each transition locks the subject's
// row with SELECT ... FOR UPDATE and applies the same state machine as the
// in-memory store.
type LockoutStore struct {
	db *sql.DB
}

func NewLockoutStore(db *sql.DB) *LockoutStore {
	return &LockoutStore{db: db}
}

const selectLockoutSQL = `
	SELECT failures, window_start, locked_until, last_failure_ip
	FROM lockout_state WHERE subject = $1`

func (s *LockoutStore) Load(ctx context.Context, subject string) (lockout.State, error) {
	state, err := scanLockout(s.db.QueryRowContext(ctx, selectLockoutSQL, subject), subject)
	if errors.Is(err, sql.ErrNoRows) {
		return lockout.State{Subject: subject}, nil
	}
	if err != nil {
		return lockout.State{}, fmt.Errorf("%w: %v", lockout.ErrUnavailable, err)
	}
	return state, nil
}

func (s *LockoutStore) RecordFailure(ctx context.Context, subject, sourceIP string, now time.Time, cfg lockout.Config) (lockout.State, bool, error) {
	var (
		state   lockout.State
		tripped bool
	)
	err := s.withRow(ctx, subject, func(tx *sql.Tx, cur lockout.State) error {
		state = cur
		tripped = state.ApplyFailure(sourceIP, now, cfg)
		return saveLockout(ctx, tx, state)
	})
	if err != nil {
		return lockout.State{}, false, err
	}
	return state, tripped, nil
}

func (s *LockoutStore) RecordSuccess(ctx context.Context, subject string, now time.Time) error {
	return s.withRow(ctx, subject, func(tx *sql.Tx, cur lockout.State) error {
		cur.ApplySuccess(now)
		return saveLockout(ctx, tx, cur)
	})
}

func (s *LockoutStore) ReleaseExpired(ctx context.Context, subject string, now time.Time) (bool, error) {
	var released bool
	err := s.withRow(ctx, subject, func(tx *sql.Tx, cur lockout.State) error {
		if released = cur.ReleaseIfExpired(now); !released {
			return nil
		}
		return saveLockout(ctx, tx, cur)
	})
	return released, err
}

func (s *LockoutStore) Delete(ctx context.Context, subject string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM lockout_state WHERE subject = $1`, subject); err != nil {
		return fmt.Errorf("%w: %v", lockout.ErrUnavailable, err)
	}
	return nil
}

// withRow makes sure the subject has a row, locks it and hands the current
// state to fn inside the transaction.
func (s *LockoutStore) withRow(ctx context.Context, subject string, fn func(*sql.Tx, lockout.State) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", lockout.ErrUnavailable, err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO lockout_state (subject) VALUES ($1) ON CONFLICT (subject) DO NOTHING`, subject); err != nil {
		return fmt.Errorf("%w: %v", lockout.ErrUnavailable, err)
	}
	cur, err := scanLockout(tx.QueryRowContext(ctx, selectLockoutSQL+` FOR UPDATE`, subject), subject)
	if err != nil {
		return fmt.Errorf("%w: %v", lockout.ErrUnavailable, err)
	}
	if err := fn(tx, cur); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: %v", lockout.ErrUnavailable, err)
	}
	return nil
}

func saveLockout(ctx context.Context, tx *sql.Tx, st lockout.State) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE lockout_state
		SET failures = $2, window_start = $3, locked_until = $4, last_failure_ip = $5
		WHERE subject = $1`,
		st.Subject,
		st.Failures,
		nullTime(st.WindowStart),
		nullTime(st.LockedUntil),
		st.LastFailureIP,
	)
	if err != nil {
		return fmt.Errorf("%w: %v", lockout.ErrUnavailable, err)
	}
	return nil
}

func scanLockout(row rowScanner, subject string) (lockout.State, error) {
	var (
		state               lockout.State
		windowStart, locked sql.NullTime
	)
	if err := row.Scan(&state.Failures, &windowStart, &locked, &state.LastFailureIP); err != nil {
		return lockout.State{}, err
	}
	state.Subject = subject
	state.WindowStart = windowStart.Time
	state.LockedUntil = locked.Time
	return state, nil
}
