package engine

import (
	"context"
	"slices"
	"sync"

	"github.com/roach88/recipesync/internal/ir"
)

// MemoryRecorder keeps the trace in memory. Used by the scenario harness
// and tests.
type MemoryRecorder struct {
	mu      sync.Mutex
	actions []ir.ActionRecord
	firings []ir.Firing
}

// NewMemoryRecorder creates an empty in-memory trace.
func NewMemoryRecorder() *MemoryRecorder {
	return &MemoryRecorder{}
}

// RecordAction appends an action record.
func (m *MemoryRecorder) RecordAction(_ context.Context, rec ir.ActionRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.actions = append(m.actions, rec)
	return nil
}

// RecordFiring appends a firing.
func (m *MemoryRecorder) RecordFiring(_ context.Context, f ir.Firing) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.firings = append(m.firings, f)
	return nil
}

// Actions returns all recorded actions in seq order.
func (m *MemoryRecorder) Actions() []ir.ActionRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.actions)
}

// Firings returns all recorded firings in seq order.
func (m *MemoryRecorder) Firings() []ir.Firing {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.firings)
}

// Flow returns the actions of one flow.
func (m *MemoryRecorder) Flow(flow string) []ir.ActionRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []ir.ActionRecord
	for _, a := range m.actions {
		if a.Flow == flow {
			out = append(out, a)
		}
	}
	return out
}

// Ops returns the operations of the recorded actions in order.
func (m *MemoryRecorder) Ops() []ir.OpRef {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]ir.OpRef, len(m.actions))
	for i, a := range m.actions {
		out[i] = a.Op
	}
	return out
}

// Reset discards everything recorded so far.
func (m *MemoryRecorder) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.actions = nil
	m.firings = nil
}
