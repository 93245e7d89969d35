package engine

import "sync"

// FiringGuard remembers which (rule, matched records) pairs have already
// fired in each flow.
//
// Every completion re-evaluates all candidate rules against the flow
// history, so a rule whose when clauses were satisfied earlier would match
// again on each later completion. The guard makes sure a rule fires at most
// once for the same set of matched records. It does not stop a rule that
// keeps producing new records that match its own when; that is bounded by
// the step quota.
type FiringGuard struct {
	mu      sync.Mutex
	history map[string]map[string]bool // flow -> match key -> fired
}

// NewFiringGuard creates an empty guard.
func NewFiringGuard() *FiringGuard {
	return &FiringGuard{
		history: make(map[string]map[string]bool),
	}
}

// Mark records that matchKey fired in flow. It returns false if the key
// was already marked.
func (g *FiringGuard) Mark(flow, matchKey string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.history[flow] == nil {
		g.history[flow] = make(map[string]bool)
	}
	if g.history[flow][matchKey] {
		return false
	}
	g.history[flow][matchKey] = true
	return true
}

// Clear removes all history for a flow.
func (g *FiringGuard) Clear(flow string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	delete(g.history, flow)
}
