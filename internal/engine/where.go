package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/roach88/recipesync/internal/frames"
	"github.com/roach88/recipesync/internal/ir"
)

// runWhere refines the when frames of a rule.
//
// A nil where passes the frames through. WhereFunc receives a copy of the
// set, so Go code cannot reach frames the caller still holds. Steps run in
// order, each consuming the previous step's output; an empty set ends the
// evaluation early.
func runWhere(ctx context.Context, q ir.Querier, rule *ir.Rule, in ir.Frames, logger *slog.Logger) (ir.Frames, error) {
	switch w := rule.Where.(type) {
	case nil:
		return in, nil
	case ir.WhereFunc:
		out, err := w(ctx, q, in.Clone())
		if err != nil {
			return nil, fmt.Errorf("rule %s where: %w", rule.Name, err)
		}
		return out, nil
	case ir.Steps:
		set := in
		for i, step := range w {
			next, err := runStep(ctx, q, step, set)
			if err != nil {
				var unbound *frames.UnboundVariableError
				if errors.As(err, &unbound) {
					return nil, &ConfigError{
						Code:    ErrCodeUnboundVariable,
						Rule:    rule.Name,
						Clause:  fmt.Sprintf("where[%d].input", i),
						Message: unbound.Error(),
					}
				}
				return nil, fmt.Errorf("rule %s where[%d]: %w", rule.Name, i, err)
			}
			logger.Debug("where step applied",
				"rule", rule.Name,
				"step", i,
				"kind", string(step.Kind),
				"before", len(set),
				"after", len(next),
				"frames", framesAttr(next),
			)
			set = next
			if len(set) == 0 {
				break
			}
		}
		return set, nil
	default:
		return nil, fmt.Errorf("rule %s: unsupported where %T", rule.Name, w)
	}
}

func runStep(ctx context.Context, q ir.Querier, step ir.WhereStep, in ir.Frames) (ir.Frames, error) {
	switch step.Kind {
	case ir.StepRequire:
		return frames.Require(in, step.Vars...), nil

	case ir.StepQuery:
		out := make(ir.Frames, 0, len(in))
		for _, f := range in {
			rows, err := queryFor(ctx, q, step, f)
			if err != nil {
				return nil, err
			}
			out = append(out, frames.Extend(ir.Frames{f}, rows, step.Output, step.Defaults)...)
		}
		return out, nil

	case ir.StepCollect:
		out := make(ir.Frames, 0, len(in))
		for _, f := range in {
			rows, err := queryFor(ctx, q, step, f)
			if err != nil {
				return nil, err
			}
			if len(rows) == 0 {
				// Zero rows is the explicit branch: the declared default is
				// bound on the original frame, otherwise the frame drops.
				if g, ok := frames.BindDefault(f, step.Into, step.Defaults); ok {
					out = append(out, g)
				}
				continue
			}
			collected := collectRows(rows, step.Field)
			if existing, bound := f.Lookup(step.Into); bound {
				if ir.Equal(existing, collected) {
					out = append(out, f)
				}
				continue
			}
			g := f.Clone()
			g[step.Into] = collected
			out = append(out, g)
		}
		return out, nil

	default:
		return nil, fmt.Errorf("unknown where step kind %q", step.Kind)
	}
}

func queryFor(ctx context.Context, q ir.Querier, step ir.WhereStep, f ir.Frame) ([]ir.Record, error) {
	input, err := frames.Substitute(f, step.Input)
	if err != nil {
		return nil, err
	}
	rows, err := q.Query(ctx, step.Op, input)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", step.Op, err)
	}
	return rows, nil
}

// collectRows turns rows into an array value: whole records, or only the
// named field of each row (rows without it are skipped).
func collectRows(rows []ir.Record, field string) ir.Array {
	out := make(ir.Array, 0, len(rows))
	for _, row := range rows {
		if field == "" {
			out = append(out, row)
			continue
		}
		if v, ok := row[field]; ok && !ir.IsUnbound(v) {
			out = append(out, v)
		}
	}
	return out
}

// framesAttr renders a frame set for verbose logs.
func framesAttr(fs ir.Frames) slog.Value {
	out := make([]any, len(fs))
	for i, f := range fs {
		out[i] = ir.ToGo(f.Bound())
	}
	return slog.AnyValue(out)
}
