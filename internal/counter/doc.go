// Package counter provides the durable per-file access counter backing the
// download gate.
//
// # Ordering semantics
//
// Every counter key maps to a single Redis key ("fc:" + file key). Redis
// executes commands for a key on one thread, so GET and INCR on the same key
// are linearizable with respect to each other while keys remain independent.
// That single serialization point is what makes the access limit
// non-bypassable under concurrent requests: two INCRs can never observe and
// write the same stale value.
//
// # What this package must NOT do
//
//   - Make policy decisions (limits live in internal/gate).
//   - Hide storage failures behind a zero count.
package counter
