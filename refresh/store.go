package refresh

import (
	"context"
	"time"
)

// Store persists refresh tokens. Rotate is the only operation that flips
// Used from false to true without burning, and it must do so atomically with
// inserting the successor.
type Store interface {
	Create(ctx context.Context, tok *Token) error
	// Get returns ErrNotFound for unknown ids.
	Get(ctx context.Context, id string) (*Token, error)
	// Rotate marks oldID used with SupersededBy = next.ID and inserts next.
	// It returns ErrAlreadyUsed if oldID was already used and ErrNotFound if
	// it does not exist. Neither write happens on error.
	Rotate(ctx context.Context, oldID string, next *Token) error
	// Burn marks one token used and revoked.
	Burn(ctx context.Context, id string) error
	// BurnFamily marks every token of the family used and revoked and
	// returns how many records it touched.
	BurnFamily(ctx context.Context, familyID string) (int, error)
	TrackAccess(ctx context.Context, familyID string, ref AccessRef, now time.Time) error
	AccessTokens(ctx context.Context, familyID string) ([]AccessRef, error)
	// CleanupExpired drops expired tokens and access references.
	CleanupExpired(ctx context.Context, now time.Time) (int, error)
}
