// Package gate decides whether a content access (view or download) is still
// within a file's access budget, recording each permitted access against the
// durable counter in internal/counter.
//
// # Soft-limit semantics
//
// CheckAndRecord reads the counter and then increments it as two separate
// atomic operations. Each call is race-free on its own, but the pair is not:
// several requests arriving together near the boundary can all pass the read
// before any increment lands, allowing a handful of accesses past the nominal
// limit, bounded by the number of requests in flight at that instant. This is
// the intended behavior. Denials, by contrast, are always repeatable: once the
// counter has reached the limit no call increments it further.
//
// # What this package must NOT do
//
//   - Touch Redis directly (all storage goes through the counter store).
//   - Serve bytes or know about HTTP.
package gate
