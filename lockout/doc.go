// Package lockout tracks failed authentication attempts per subject and
// locks a subject after too many failures inside a sliding window.
//
// A subject is either Active or Locked. The Locked to Active transition on
// expiry is lazy: it happens on the next CheckLocked, RecordSuccess or
// RecordFailedAttempt rather than on a timer. Failures while locked are not
// counted and never push the deadline out.
//
// [MemoryStore] and [RedisStore] apply every transition atomically per
// subject, so concurrent failures cannot both slip under the threshold.
package lockout
