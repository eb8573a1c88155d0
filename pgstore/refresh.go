package pgstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/MrEthical07/credguard/refresh"
)

// RefreshStore implements refresh.Store. Rotation is a conditional
// UPDATE ... WHERE used = false plus the successor INSERT in one
// transaction; the row lock taken by the UPDATE serialises racing rotations.
type RefreshStore struct {
	db *sql.DB
}

func NewRefreshStore(db *sql.DB) *RefreshStore {
	return &RefreshStore{db: db}
}

const insertRefreshSQL = `
	INSERT INTO refresh_tokens
		(id, family_id, generation, subject_id, issued_at, expires_at, used, superseded_by, secret_hash, revoked, auth_methods)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertRefresh(ctx context.Context, ex execer, tok *refresh.Token) error {
	_, err := ex.ExecContext(ctx, insertRefreshSQL,
		tok.ID,
		tok.FamilyID,
		tok.Generation,
		tok.SubjectID,
		tok.IssuedAt,
		tok.ExpiresAt,
		tok.Used,
		nullString(tok.SupersededBy),
		tok.SecretHash[:],
		tok.Revoked,
		pq.Array(authMethods(tok.AuthMethods)),
	)
	return err
}

func (s *RefreshStore) Create(ctx context.Context, tok *refresh.Token) error {
	if err := insertRefresh(ctx, s.db, tok); err != nil {
		return fmt.Errorf("%w: %v", refresh.ErrUnavailable, err)
	}
	return nil
}

func (s *RefreshStore) Get(ctx context.Context, id string) (*refresh.Token, error) {
	var (
		tok        refresh.Token
		superseded sql.NullString
		hash       []byte
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, family_id, generation, subject_id, issued_at, expires_at, used, superseded_by, secret_hash, revoked, auth_methods
		FROM refresh_tokens WHERE id = $1`, id).Scan(
		&tok.ID,
		&tok.FamilyID,
		&tok.Generation,
		&tok.SubjectID,
		&tok.IssuedAt,
		&tok.ExpiresAt,
		&tok.Used,
		&superseded,
		&hash,
		&tok.Revoked,
		pq.Array(&tok.AuthMethods),
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, refresh.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", refresh.ErrUnavailable, err)
	}
	if len(hash) != len(tok.SecretHash) {
		return nil, fmt.Errorf("%w: corrupt secret hash", refresh.ErrUnavailable)
	}
	copy(tok.SecretHash[:], hash)
	tok.SupersededBy = superseded.String
	return &tok, nil
}

func (s *RefreshStore) Rotate(ctx context.Context, oldID string, next *refresh.Token) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", refresh.ErrUnavailable, err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx,
		`UPDATE refresh_tokens SET used = true, superseded_by = $2 WHERE id = $1 AND used = false`,
		oldID, next.ID)
	if err != nil {
		return fmt.Errorf("%w: %v", refresh.ErrUnavailable, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%w: %v", refresh.ErrUnavailable, err)
	}
	if n == 0 {
		var used bool
		err := tx.QueryRowContext(ctx, `SELECT used FROM refresh_tokens WHERE id = $1`, oldID).Scan(&used)
		if errors.Is(err, sql.ErrNoRows) {
			return refresh.ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("%w: %v", refresh.ErrUnavailable, err)
		}
		return refresh.ErrAlreadyUsed
	}

	if err := insertRefresh(ctx, tx, next); err != nil {
		return fmt.Errorf("%w: %v", refresh.ErrUnavailable, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: %v", refresh.ErrUnavailable, err)
	}
	return nil
}

func (s *RefreshStore) Burn(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE refresh_tokens SET used = true, revoked = true WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("%w: %v", refresh.ErrUnavailable, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return refresh.ErrNotFound
	}
	return nil
}

func (s *RefreshStore) BurnFamily(ctx context.Context, familyID string) (int, error) {
	res, err := s.db.ExecContext(ctx, `UPDATE refresh_tokens SET used = true, revoked = true WHERE family_id = $1`, familyID)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", refresh.ErrUnavailable, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", refresh.ErrUnavailable, err)
	}
	return int(n), nil
}

func (s *RefreshStore) TrackAccess(ctx context.Context, familyID string, ref refresh.AccessRef, _ time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO refresh_access_tokens (family_id, jti, expires_at) VALUES ($1, $2, $3)
		ON CONFLICT (family_id, jti) DO NOTHING`, familyID, ref.JTI, ref.ExpiresAt)
	if err != nil {
		return fmt.Errorf("%w: %v", refresh.ErrUnavailable, err)
	}
	return nil
}

func (s *RefreshStore) AccessTokens(ctx context.Context, familyID string) ([]refresh.AccessRef, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT jti, expires_at FROM refresh_access_tokens WHERE family_id = $1`, familyID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", refresh.ErrUnavailable, err)
	}
	defer rows.Close()

	var refs []refresh.AccessRef
	for rows.Next() {
		var ref refresh.AccessRef
		if err := rows.Scan(&ref.JTI, &ref.ExpiresAt); err != nil {
			return nil, fmt.Errorf("%w: %v", refresh.ErrUnavailable, err)
		}
		refs = append(refs, ref)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", refresh.ErrUnavailable, err)
	}
	return refs, nil
}

func (s *RefreshStore) CleanupExpired(ctx context.Context, now time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM refresh_tokens WHERE expires_at <= $1`, now)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", refresh.ErrUnavailable, err)
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM refresh_access_tokens WHERE expires_at <= $1`, now); err != nil {
		return 0, fmt.Errorf("%w: %v", refresh.ErrUnavailable, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", refresh.ErrUnavailable, err)
	}
	return int(n), nil
}

// authMethods keeps the column NOT NULL for families without methods.
func authMethods(m []string) []string {
	if m == nil {
		return []string{}
	}
	return m
}
