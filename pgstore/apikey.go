package pgstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/MrEthical07/credguard/apikey"
)

// APIKeyStore implements apikey.Store. Scopes and allowed addresses are
// TEXT[] columns; usage lands in api_key_usage next to the key's counters.
type APIKeyStore struct {
	db *sql.DB
}

func NewAPIKeyStore(db *sql.DB) *APIKeyStore {
	return &APIKeyStore{db: db}
}

const selectAPIKeySQL = `
	SELECT id, prefix, secret_hash, salt, owner_id, scopes, allowed_ips, status,
		previous_key_id, created_at, expires_at, revoke_at, request_count, last_used_at
	FROM api_keys`

func (s *APIKeyStore) Create(ctx context.Context, key *apikey.Key) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO api_keys
			(id, prefix, secret_hash, salt, owner_id, scopes, allowed_ips, status,
			 previous_key_id, created_at, expires_at, revoke_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		key.ID,
		key.Prefix,
		key.SecretHash[:],
		key.Salt,
		key.OwnerID,
		pq.Array(key.Scopes),
		pq.Array(key.AllowedIPs),
		string(key.Status),
		nullString(key.PreviousKeyID),
		key.CreatedAt,
		nullTime(key.ExpiresAt),
		nullTime(key.RevokeAt),
	)
	if err != nil {
		return fmt.Errorf("%w: %v", apikey.ErrUnavailable, err)
	}
	return nil
}

func (s *APIKeyStore) Get(ctx context.Context, id string) (*apikey.Key, error) {
	key, err := scanAPIKey(s.db.QueryRowContext(ctx, selectAPIKeySQL+` WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apikey.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apikey.ErrUnavailable, err)
	}
	return key, nil
}

// Update writes the mutable lifecycle fields. Usage counters are left to
// RecordUsage.
func (s *APIKeyStore) Update(ctx context.Context, key *apikey.Key) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE api_keys
		SET scopes = $2, allowed_ips = $3, status = $4, expires_at = $5, revoke_at = $6
		WHERE id = $1`,
		key.ID,
		pq.Array(key.Scopes),
		pq.Array(key.AllowedIPs),
		string(key.Status),
		nullTime(key.ExpiresAt),
		nullTime(key.RevokeAt),
	)
	if err != nil {
		return fmt.Errorf("%w: %v", apikey.ErrUnavailable, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return apikey.ErrNotFound
	}
	return nil
}

func (s *APIKeyStore) ListByOwner(ctx context.Context, ownerID string) ([]*apikey.Key, error) {
	rows, err := s.db.QueryContext(ctx, selectAPIKeySQL+` WHERE owner_id = $1 ORDER BY created_at`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apikey.ErrUnavailable, err)
	}
	defer rows.Close()

	var keys []*apikey.Key
	for rows.Next() {
		key, err := scanAPIKey(rows)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", apikey.ErrUnavailable, err)
		}
		keys = append(keys, key)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", apikey.ErrUnavailable, err)
	}
	return keys, nil
}

func (s *APIKeyStore) RecordUsage(ctx context.Context, id string, usage apikey.Usage) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", apikey.ErrUnavailable, err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `
		UPDATE api_keys
		SET request_count = request_count + 1,
			last_used_at = GREATEST(COALESCE(last_used_at, $2), $2)
		WHERE id = $1`, id, usage.At)
	if err != nil {
		return fmt.Errorf("%w: %v", apikey.ErrUnavailable, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return apikey.ErrNotFound
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO api_key_usage (key_id, endpoint, status, latency_us, used_at)
		VALUES ($1, $2, $3, $4, $5)`,
		id, usage.Endpoint, usage.Status, usage.Latency.Microseconds(), usage.At); err != nil {
		return fmt.Errorf("%w: %v", apikey.ErrUnavailable, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: %v", apikey.ErrUnavailable, err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAPIKey(row rowScanner) (*apikey.Key, error) {
	var (
		key                       apikey.Key
		hash                      []byte
		status                    string
		previous                  sql.NullString
		expiresAt, revokeAt, used sql.NullTime
	)
	if err := row.Scan(
		&key.ID,
		&key.Prefix,
		&hash,
		&key.Salt,
		&key.OwnerID,
		pq.Array(&key.Scopes),
		pq.Array(&key.AllowedIPs),
		&status,
		&previous,
		&key.CreatedAt,
		&expiresAt,
		&revokeAt,
		&key.RequestCount,
		&used,
	); err != nil {
		return nil, err
	}
	if len(hash) != len(key.SecretHash) {
		return nil, errors.New("corrupt secret hash")
	}
	copy(key.SecretHash[:], hash)
	key.Status = apikey.Status(status)
	key.PreviousKeyID = previous.String
	key.ExpiresAt = expiresAt.Time
	key.RevokeAt = revokeAt.Time
	key.LastUsedAt = used.Time
	return &key, nil
}
