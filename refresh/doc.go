// Package refresh issues opaque rotating refresh tokens grouped into
// families and detects reuse.
//
// # Token format
//
// A token is base64url(16-byte id || 32-byte secret). Stores keep only
// SHA-256 of the secret, so a leaked store cannot mint tokens.
//
// # Rotation
//
// Every token may be redeemed once. [Manager.Rotate] flips the used flag and
// inserts the successor as a single compare-and-swap in the [Store]. A second
// redemption of a used token is treated as theft: the whole family is burned,
// access tokens tracked for the family are blacklisted and the call returns
// [ErrReused]. Tokens of a burned family are rejected with [ErrInvalid].
//
// When a family reaches Config.MaxFamilySize tokens the next rotation burns
// the presented token and returns [ErrFamilyExhausted]; the subject has to
// log in again, which starts a fresh family at generation 0.
package refresh
