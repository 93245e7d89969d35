package engine

import "sync/atomic"

// Clock is a monotonic logical clock. Every action record and firing is
// stamped with a strictly increasing seq from it, so trace order never
// depends on wall time.
//
// One clock is shared by every flow of a dispatcher, so seqs are unique
// across the whole action log, not just within a flow. That is what lets
// the store order a flow's records and firings with a plain ORDER BY seq,
// and lets LastSeq hand a restarted process the point to resume from.
//
// Safe for concurrent use (atomic operations); independent flows running
// on different goroutines interleave their seqs but never repeat one.
type Clock struct {
	seq atomic.Int64
}

// NewClock creates a new clock starting at 0.
func NewClock() *Clock {
	return &Clock{}
}

// NewClockAt creates a clock that resumes after start, e.g. from the last
// seq in an existing action log. The first Next returns start+1.
func NewClockAt(start int64) *Clock {
	c := &Clock{}
	c.seq.Store(start)
	return c
}

// Next returns the next sequence number and advances the clock.
// Each call returns a unique, increasing value.
func (c *Clock) Next() int64 {
	return c.seq.Add(1)
}

// Current returns the last sequence number handed out, without advancing.
// The dispatcher logs it when a cascade ends.
func (c *Clock) Current() int64 {
	return c.seq.Load()
}
