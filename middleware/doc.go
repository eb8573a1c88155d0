// Package middleware adapts credguard.Engine to net/http.
//
// # Guards
//
//   - [Guard] verifies a bearer access token and, when requirements are
//     given, evaluates them against the validated token and the account
//     through Engine.Authorize. A two-factor requirement passes only for
//     tokens whose amr claim names a second factor.
//   - [RequireToken] is Guard without requirements. It never touches the
//     user provider.
//   - [RequireActiveAccount] additionally loads the account and rejects
//     disabled or locked users.
//   - [RequireAPIKey] authenticates an API key, enforces its scopes and rate
//     limit, and records per-key usage after the handler returns.
//
// Every guard copies the client IP and User-Agent into the request context
// so token binding, allow-lists and per-IP limits see them.
//
// # What this package must NOT do
//
//   - Parse or sign tokens directly (delegates to Engine).
//   - Access Redis or Postgres (Engine handles I/O).
//   - Leak the rejection reason to the client beyond the status code.
package middleware
