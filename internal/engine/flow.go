package engine

import "github.com/google/uuid"

// FlowTokenGenerator generates flow tokens. One flow groups every action
// of one externally triggered cascade (or of several calls a caller chose
// to correlate with InvokeFlow).
type FlowTokenGenerator interface {
	Generate() string
}

// UUIDv7Generator generates time-sortable UUIDv7 flow tokens.
//
// UUIDv7 puts a millisecond timestamp in the most significant bits, so
// tokens sort by creation time. `recipesync trace` lists flows by seq, but
// a sortable token still keeps log greps and SQLite indexes in order.
//
// Stateless and safe for concurrent use.
type UUIDv7Generator struct{}

// Generate creates a new UUIDv7 and returns it as a hyphenated string.
//
// Format: "0190f3c1-7b2a-7c3e-9a4d-5f6e7a8b9c0d" (36 characters)
//
// Panics if the random source fails, which uuid.NewV7 only reports when
// crypto/rand does.
func (g UUIDv7Generator) Generate() string {
	return uuid.Must(uuid.NewV7()).String()
}
