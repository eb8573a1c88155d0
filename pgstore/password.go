package pgstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/MrEthical07/credguard/password"
)

// PasswordRecordStore implements password.RecordStore. History is a TEXT[]
// of encoded hashes, newest first.
type PasswordRecordStore struct {
	db *sql.DB
}

func NewPasswordRecordStore(db *sql.DB) *PasswordRecordStore {
	return &PasswordRecordStore{db: db}
}

func (s *PasswordRecordStore) Load(ctx context.Context, subjectID string) (*password.Record, error) {
	var (
		rec       password.Record
		expiresAt sql.NullTime
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT subject_id, hash, changed_at, history, expires_at
		FROM password_records WHERE subject_id = $1`, subjectID).Scan(
		&rec.SubjectID,
		&rec.Hash,
		&rec.ChangedAt,
		pq.Array(&rec.History),
		&expiresAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, password.ErrRecordNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load password record: %w", err)
	}
	rec.ExpiresAt = expiresAt.Time
	return &rec, nil
}

func (s *PasswordRecordStore) Save(ctx context.Context, rec *password.Record) error {
	history := rec.History
	if history == nil {
		history = []string{}
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO password_records (subject_id, hash, changed_at, history, expires_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (subject_id) DO UPDATE
		SET hash = EXCLUDED.hash, changed_at = EXCLUDED.changed_at,
			history = EXCLUDED.history, expires_at = EXCLUDED.expires_at`,
		rec.SubjectID,
		rec.Hash,
		rec.ChangedAt,
		pq.Array(history),
		nullTime(rec.ExpiresAt),
	)
	if err != nil {
		return fmt.Errorf("save password record: %w", err)
	}
	return nil
}
