package engine

import (
	"cmp"
	"context"
	"slices"

	"github.com/roach88/recipesync/internal/ir"
)

// Replay re-evaluates recorded action records and returns the firings the
// rules produce for them, without invoking anything.
//
// Records are processed in seq order, each one matched against the
// records of its own flow that precede it, with a private firing guard.
// The engine keeps no counters or time-based state, so replaying a log
// written by a live cascade yields the same firing ids it recorded, and
// replaying it twice yields the same result twice. Where steps run their
// queries again, so concept state must not have changed in between for
// the firings to line up.
func (d *Dispatcher) Replay(ctx context.Context, records []ir.ActionRecord) ([]Planned, error) {
	ordered := slices.Clone(records)
	slices.SortStableFunc(ordered, func(a, b ir.ActionRecord) int {
		return cmp.Compare(a.Seq, b.Seq)
	})

	guard := NewFiringGuard()
	history := make(map[string][]ir.ActionRecord)

	var out []Planned
	for _, rec := range ordered {
		history[rec.Flow] = append(history[rec.Flow], rec)
		if rec.Kind != ir.KindAction {
			continue
		}
		flow := rec.Flow
		claim := func(key string) bool { return guard.Mark(flow, key) }
		planned, err := d.evaluate(ctx, rec, history[flow], claim, nopObserver{})
		if err != nil {
			return nil, err
		}
		out = append(out, planned...)
	}
	return out, nil
}
