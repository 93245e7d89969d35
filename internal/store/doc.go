// Package store is the SQLite action log behind the dispatcher.
//
// It implements engine.Recorder and keeps three append-only tables:
//   - actions: every completed action and query, content addressed
//   - firings: every rule instance that produced then invocations
//   - provenance: which firing caused which action
//
// # Ordering
//
// All ordering uses the logical seq column, never wall time. Every read
// orders by seq ASC, id ASC COLLATE BINARY so two reads of the same log
// return identical results.
//
// # Idempotency
//
// Record ids, firing ids and binding hashes are computed in internal/ir
// from canonical JSON. Writes use ON CONFLICT DO NOTHING, so recording the
// same cascade twice (a replay, a retried write) leaves one copy.
//
// # Database configuration
//
//   - WAL mode: concurrent reads during writes
//   - synchronous=NORMAL
//   - busy_timeout=5000
//   - foreign_keys=ON
package store
