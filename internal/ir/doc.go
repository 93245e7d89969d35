// Package ir holds the shared vocabulary of the synchronization engine:
// values, patterns, action descriptors, rules and completed action records.
//
// This package contains type definitions and their pure helpers only. All
// other internal packages import ir; ir imports nothing internal.
//
// Key constraints:
//   - Whole numbers are Int, fractional ones Float. A whole float always
//     decodes to Int so one JSON number has one canonical form.
//   - Records hash through MarshalCanonical (RFC 8785 key order, NFC strings).
//   - Sequence numbers come from a logical clock, never wall-clock time.
//   - All JSON tags use snake_case.
package ir
