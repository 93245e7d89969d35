package engine

import "github.com/roach88/recipesync/internal/ir"

// work is one pending invocation in a cascade.
type work struct {
	op    ir.OpRef
	input ir.Record
	cause string // firing id, empty for the external call
	rule  string // rule that produced it, for logs and runtime errors
}

// workStack is the cascade's explicit LIFO work list.
//
// Popping the most recent push means an invocation's own cascade finishes
// before its next sibling starts, the order a recursive dispatcher would
// produce, without growing the Go stack. For a rule R firing two frames
// with then [A, B] each, the execution order is
//
//	R.f0.A, <A's cascade>, R.f0.B, <B's cascade>, R.f1.A, ...
//
// A FIFO queue would instead run every sibling before any of their
// consequences, which changes which records later when-clauses see.
//
// Owned by a single InvokeFlow call; never shared.
type workStack struct {
	items []work
}

func newWorkStack(root work) *workStack {
	s := &workStack{items: make([]work, 0, 16)}
	s.items = append(s.items, root)
	return s
}

// pushAll schedules siblings so that they run in slice order: they are
// pushed in reverse, so ws[0] is on top.
func (s *workStack) pushAll(ws []work) {
	for i := len(ws) - 1; i >= 0; i-- {
		s.items = append(s.items, ws[i])
	}
}

func (s *workStack) pop() (work, bool) {
	n := len(s.items)
	if n == 0 {
		return work{}, false
	}
	w := s.items[n-1]
	// Clear the slot so the input record can be collected.
	s.items[n-1] = work{}
	s.items = s.items[:n-1]
	return w, true
}

// len reports the invocations still pending; logged when a cascade aborts.
func (s *workStack) len() int {
	return len(s.items)
}
