// Package password implements the password engine: hashing, strength policy,
// breach lookups, reuse history and expiration.
//
// # Output format
//
// New hashes use Argon2id in PHC string format:
//
//	$argon2id$v=19$m=<memory>,t=<time>,p=<threads>$<salt>$<hash>
//
// Legacy bcrypt hashes ($2a$/$2b$/$2y$) verify through [MultiHasher], and
// [MultiHasher.NeedsUpgrade] reports them so the caller can re-hash on the next
// successful login.
//
// # Breach lookups
//
// [BreachChecker] uses the k-anonymity range protocol: only the first five hex
// characters of the SHA-1 digest leave the process. When the range service is
// unreachable the checker fails open by default and logs a degraded-mode warning.
//
// # What this package must NOT do
//
//   - Persist passwords or records; storage adapters live in pgstore.
//   - Import any other credguard package.
//   - Log plaintext passwords, digests or hash parameters.
package password
