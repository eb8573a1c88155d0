// Package credguard is a credential and token security core: password
// hashing and policy, account lockout, signed access tokens with revocation
// and binding, rotating refresh token families with reuse detection, and
// scoped API keys with rate limiting.
//
// Engine methods are safe to call from multiple goroutines once the Engine
// has been created through [Builder.Build].
//
// # Architecture boundaries
//
// credguard is the public surface. It exposes [Engine], [Builder], [Config]
// and value types (LoginResult, AuthResult, MetricsSnapshot, SecurityReport).
// Each concern lives in its own package (password, lockout, token, refresh,
// apikey, revocation, audit, policy) and can be used without the Engine.
// Storage adapters are chosen per component by the Builder: in-process
// memory, Redis, or Postgres through pgstore.
//
// # What this package must NOT do
//
//   - Own user accounts. Identity records stay with the host behind
//     [UserProvider]; the engine reads them and writes back password hashes.
//   - Log or emit secrets. Audit events and log lines carry identifiers,
//     never passwords, token plaintexts or key secrets.
//   - Import any sub-package that re-imports credguard (no import cycles).
//
// # Failure semantics
//
// Component errors are mapped to the root sentinels (ErrTokenReused,
// ErrAccountLocked, ...) so callers classify them with errors.Is. Store
// outages surface as ErrBackendUnavailable. The breach check is the only
// network call on a request path and fails open unless Breach.FailOpen is
// false.
package credguard
