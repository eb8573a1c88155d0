// Package jwt signs and verifies access tokens against a rotating keyring
// and optionally wraps them in JWE.
//
// Every token carries a kid header. Verification looks the kid up in the
// [Keyring] and requires the key to have been valid at the token's iat, so
// tokens signed before a rotation keep verifying until they expire while
// tokens claiming an iat outside a key's window are rejected.
package jwt
