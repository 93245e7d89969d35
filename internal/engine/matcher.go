package engine

import (
	"slices"

	"github.com/roach88/recipesync/internal/frames"
	"github.com/roach88/recipesync/internal/ir"
)

// match is one way of satisfying every when clause of a rule: the frame
// built by the joins and the ids of the records each clause matched.
type match struct {
	frame   ir.Frame
	records []string // by when-clause position
}

// key identifies the match for the firing guard.
func (m match) key(rule string) string {
	return ir.MatchKey(rule, m.records)
}

// matchWhen satisfies rule's when clauses for a completion of clause.
//
// The completed record is joined into the triggering clause first, starting
// from the identity frame. Every other clause is then joined, in declaration
// order, against the action records already in the flow history, so those
// joins start from the bindings the earlier clauses produced. A clause with
// no consistent record in history empties the set: the rule does not apply
// yet, which is not an error.
//
// A record is used for at most one clause of a match.
func matchWhen(rule *ir.Rule, clause int, rec ir.ActionRecord, history []ir.ActionRecord) []match {
	first, ok := unifyClause(ir.Frame{}, rule.When[clause], rec)
	if !ok {
		return nil
	}
	records := make([]string, len(rule.When))
	records[clause] = rec.ID
	set := []match{{frame: first, records: records}}

	for i, desc := range rule.When {
		if i == clause {
			continue
		}
		var next []match
		for _, m := range set {
			for _, h := range history {
				if h.Kind != ir.KindAction || h.Op != desc.Op || slices.Contains(m.records, h.ID) {
					continue
				}
				f, ok := unifyClause(m.frame, desc, h)
				if !ok {
					continue
				}
				recs := slices.Clone(m.records)
				recs[i] = h.ID
				next = append(next, match{frame: f, records: recs})
			}
		}
		if len(next) == 0 {
			return nil
		}
		set = next
	}
	return set
}

// unifyClause matches a when clause against a completed action: the input
// pattern against what the action was called with, the output pattern
// against what it returned.
//
// An error result only matches an output pattern that names the error
// field. Without this an empty output pattern ("the action completed")
// would match failures too and answer the request twice.
func unifyClause(f ir.Frame, desc ir.ActionDescriptor, rec ir.ActionRecord) (ir.Frame, bool) {
	if desc.Op != rec.Op {
		return nil, false
	}
	if rec.Output.IsError() {
		if _, ok := desc.Output["error"]; !ok {
			return nil, false
		}
	}
	g, ok := frames.Unify(f, desc.Input, rec.Input)
	if !ok {
		return nil, false
	}
	return frames.Unify(g, desc.Output, rec.Output)
}
