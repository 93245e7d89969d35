package store

import (
	"context"
	"fmt"

	"github.com/roach88/recipesync/internal/concept"
	"github.com/roach88/recipesync/internal/ir"
)

// FlowState is a flow read back from the log with its request bookkeeping.
type FlowState struct {
	Flow    string
	Actions []ir.ActionRecord
	Firings []ir.Firing
	LastSeq int64

	// Unanswered lists request ids minted in the flow that no successful
	// respond ever answered, in the order they were minted. A where clause
	// that dropped every frame leaves its request here.
	Unanswered []string
}

// IsComplete reports whether every request in the flow got a response.
func (fs FlowState) IsComplete() bool {
	return len(fs.Unanswered) == 0
}

// GetFlowState reads a flow and works out which requests are still open.
func (s *Store) GetFlowState(ctx context.Context, flow string) (FlowState, error) {
	state := FlowState{Flow: flow}

	actions, err := s.ReadFlow(ctx, flow)
	if err != nil {
		return state, fmt.Errorf("get flow state: %w", err)
	}
	state.Actions = actions

	firings, err := s.ReadFirings(ctx, flow)
	if err != nil {
		return state, fmt.Errorf("get flow state: %w", err)
	}
	state.Firings = firings

	answered := make(map[string]bool)
	for _, a := range actions {
		if a.Op == concept.OpRespond && !a.Output.IsError() {
			if id, ok := a.Input["request"].(ir.String); ok {
				answered[string(id)] = true
			}
		}
		state.LastSeq = max(state.LastSeq, a.Seq)
	}
	for _, f := range firings {
		state.LastSeq = max(state.LastSeq, f.Seq)
	}
	for _, a := range actions {
		if a.Op != concept.OpRequest || a.Output.IsError() {
			continue
		}
		if id, ok := a.Output["request"].(ir.String); ok && !answered[string(id)] {
			state.Unanswered = append(state.Unanswered, string(id))
		}
	}

	return state, nil
}

// FindIncompleteFlows returns the state of every flow holding a request
// that was never answered, oldest first.
func (s *Store) FindIncompleteFlows(ctx context.Context) ([]FlowState, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT r.flow, MIN(r.seq)
		FROM actions r
		WHERE r.op = ? AND r.kind = 'action'
		  AND json_extract(r.output, '$.request') IS NOT NULL
		  AND NOT EXISTS (
			SELECT 1 FROM actions p
			WHERE p.flow = r.flow
			  AND p.op = ?
			  AND json_extract(p.output, '$.error') IS NULL
			  AND json_extract(p.input, '$.request') = json_extract(r.output, '$.request')
		  )
		GROUP BY r.flow
		ORDER BY MIN(r.seq) ASC, r.flow COLLATE BINARY ASC
	`, concept.OpRequest.String(), concept.OpRespond.String())
	if err != nil {
		return nil, fmt.Errorf("find incomplete flows: %w", err)
	}

	var flows []string
	for rows.Next() {
		var flow string
		var first int64
		if err := rows.Scan(&flow, &first); err != nil {
			rows.Close()
			return nil, fmt.Errorf("find incomplete flows: scan: %w", err)
		}
		flows = append(flows, flow)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("find incomplete flows: iterate: %w", err)
	}
	// One connection: release it before the per-flow reads.
	rows.Close()

	states := make([]FlowState, 0, len(flows))
	for _, flow := range flows {
		st, err := s.GetFlowState(ctx, flow)
		if err != nil {
			return nil, err
		}
		states = append(states, st)
	}
	return states, nil
}
