// Package token issues and validates access tokens.
//
// Validation is a fixed pipeline that stops at the first failing step:
//
//  1. decrypt (when an Encrypter is configured)
//  2. signature, against the key that was active at iat
//  3. iat - skew <= now <= exp + skew
//  4. blacklist
//  5. replay window check-and-mark (when enabled)
//  6. binding fingerprint, until bexp
//
// Revocation keeps a jti only until the token would have expired, so the
// blacklist stays bounded by the number of live tokens.
package token
