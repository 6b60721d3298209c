// Package rate provides the Redis-backed fixed-window request limiter applied
// to every inbound request, keyed by client IP.
//
// # Window semantics
//
// Fixed-window counters: INCR + conditional EXPIRE on the first hit. The TTL
// is anchored when the window is created, not slid on later hits, so the first
// request after expiry opens a fresh window of full duration. Clients can
// burst up to roughly twice the threshold across a window boundary; that
// trade-off is accepted in exchange for a single atomic primitive. Key prefix:
//
//	rate: — requests per client IP
//
// # What this package must NOT do
//
//   - Swallow storage errors: a Redis failure propagates and the request
//     fails loudly rather than being silently admitted or rejected.
//   - Know about routes or authentication.
package rate
