// Package authgate guards the protected routes with HTTP Basic credentials
// and an exponential per-IP failure backoff.
//
// # State machine
//
// Each client IP owns a failure record in Redis (prefix "authfail:"):
//
//	Clear   — no record (failCount 0)
//	Warming — 1 <= failCount < threshold; credentials are still checked
//	Locked  — failCount >= threshold; requests are rejected with a
//	          Retry-After of 2^failCount seconds before credentials are
//	          even looked at, and without growing failCount
//
// Lockout probing is therefore cheap to reject and never escalates the delay:
// only real credential failures move the counter. A success deletes the
// record outright. Records expire on their own after the failure TTL, but the
// TTL is refreshed on every new failure, so a client producing one failure
// per TTL period keeps itself (or a shared NAT egress) locked indefinitely.
//
// # What this package must NOT do
//
//   - Reveal which part of the credential was wrong: missing header, wrong
//     scheme, and wrong value are one uniform failure.
//   - Cap the backoff delay (it grows with the accumulated failure count).
package authgate
