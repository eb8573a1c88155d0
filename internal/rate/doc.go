// Package rate provides the sliding-window counters shared by API key rate
// limiting and any other per-key throttling in credguard.
//
// # Window semantics
//
// A window of length W is split into a ring of N buckets of width W/N. A
// request at time t lands in bucket floor(t / (W/N)); the count for a key is
// the sum of the N most recent buckets, so old traffic decays one bucket at a
// time instead of resetting all at once. Capacity is Requests + Burst.
//
// Key prefix for the Redis implementation:
//   - crl: sliding window hash (bucket epoch -> count)
//
// # What this package must NOT do
//
//   - Decide which key a request is charged to (callers build keys).
//   - Be imported outside the credguard module.
package rate
