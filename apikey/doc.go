// Package apikey issues long-lived API keys of the form
// <prefix>_<keyid>_<secret> and validates them.
//
// Only a salted SHA-256 of the secret is stored. Validation compares in
// constant time, then checks status, expiry, scheduled revocation and the
// optional IP allow-list. Rotation keeps the old key usable for a grace
// period. Rate limiting uses the sliding window from internal/rate and can
// count per key or per key and source address.
package apikey
