// Package frames implements the join primitives the engine threads rule
// bindings through: Unify, Join, Extend, Require and Substitute.
//
// Every function returns new frames. Input frames and sets are never
// modified, so a set handed to a join step can still be read afterwards
// (and shared between concurrent cascades) without copying.
package frames

import (
	"fmt"

	"github.com/roach88/recipesync/internal/ir"
)

// Unify matches a concrete record against a pattern in the context of a frame.
//
// For every pattern field:
//   - the record must have the field (a missing field means the record has
//     a different shape, e.g. success vs {error}),
//   - a literal must equal the concrete value,
//   - a variable already bound in the frame must equal the concrete value,
//   - an unbound variable is bound to the concrete value.
//
// Record fields the pattern does not mention are ignored. On any conflict
// Unify returns (nil, false); the input frame is never overwritten.
func Unify(f ir.Frame, p ir.Pattern, rec ir.Record) (ir.Frame, bool) {
	out := f.Clone()
	for _, field := range p.Fields() {
		concrete, ok := rec[field]
		if !ok || ir.IsUnbound(concrete) {
			return nil, false
		}
		switch term := p[field].(type) {
		case ir.Lit:
			if !ir.Equal(term.Value, concrete) {
				return nil, false
			}
		case ir.Var:
			if existing, bound := out.Lookup(term); bound {
				if !ir.Equal(existing, concrete) {
					return nil, false
				}
				continue
			}
			out[term] = concrete
		default:
			return nil, false
		}
	}
	return out, true
}

// Join unifies rec into every frame of the set, keeping the successes in order.
func Join(in ir.Frames, p ir.Pattern, rec ir.Record) ir.Frames {
	out := make(ir.Frames, 0, len(in))
	for _, f := range in {
		if g, ok := Unify(f, p, rec); ok {
			out = append(out, g)
		}
	}
	return out
}

// Extend joins query rows into a frame set.
//
// Each input frame is unified with each row through the outputs pattern,
// producing one frame per surviving (frame, row) pair: n rows fan out to up
// to n frames, zero rows drop the frame.
//
// defaults changes the zero-survivor case only. If a frame would be dropped
// and defaults declares a value for every output variable still unbound on
// that frame, the original frame is kept once with those defaults bound.
// A nil defaults map always drops.
func Extend(in ir.Frames, rows []ir.Record, outputs ir.Pattern, defaults map[ir.Var]ir.Value) ir.Frames {
	out := make(ir.Frames, 0, len(in)*max(len(rows), 1))
	for _, f := range in {
		before := len(out)
		for _, row := range rows {
			if g, ok := Unify(f, outputs, row); ok {
				out = append(out, g)
			}
		}
		if len(out) > before {
			continue
		}
		if g, ok := applyDefaults(f, outputs.Vars(), defaults); ok {
			out = append(out, g)
		}
	}
	return out
}

// applyDefaults binds a default to every variable in vars that f leaves
// unbound. It fails if any such variable has no declared default, or if
// nothing was left unbound (the rows then disagreed with existing bindings
// and the drop stands).
func applyDefaults(f ir.Frame, vars []ir.Var, defaults map[ir.Var]ir.Value) (ir.Frame, bool) {
	if defaults == nil {
		return nil, false
	}
	g := f.Clone()
	applied := 0
	for _, v := range vars {
		if _, bound := f.Lookup(v); bound {
			continue
		}
		d, ok := defaults[v]
		if !ok {
			return nil, false
		}
		g[v] = d
		applied++
	}
	return g, applied > 0
}

// BindDefault returns a copy of f with the declared default bound to v.
// It reports false if v is already bound or has no default.
func BindDefault(f ir.Frame, v ir.Var, defaults map[ir.Var]ir.Value) (ir.Frame, bool) {
	return applyDefaults(f, []ir.Var{v}, defaults)
}

// Require keeps only the frames in which every listed variable is bound.
// Dropping a frame here is a deliberate rejection, not an error.
func Require(in ir.Frames, vars ...ir.Var) ir.Frames {
	return Filter(in, func(f ir.Frame) bool {
		for _, v := range vars {
			if _, bound := f.Lookup(v); !bound {
				return false
			}
		}
		return true
	})
}

// Filter keeps the frames for which keep returns true, in order.
func Filter(in ir.Frames, keep func(ir.Frame) bool) ir.Frames {
	out := make(ir.Frames, 0, len(in))
	for _, f := range in {
		if keep(f) {
			out = append(out, f)
		}
	}
	return out
}

// UnboundVariableError reports a template variable with no binding.
type UnboundVariableError struct {
	Field string
	Var   ir.Var
}

func (e *UnboundVariableError) Error() string {
	return fmt.Sprintf("field %q references unbound variable %q", e.Field, e.Var)
}

// Substitute instantiates a pattern with the frame's bindings, producing the
// concrete input record for an action or query. A variable with no binding
// is a wiring fault and returns *UnboundVariableError.
func Substitute(f ir.Frame, p ir.Pattern) (ir.Record, error) {
	out := make(ir.Record, len(p))
	for _, field := range p.Fields() {
		switch term := p[field].(type) {
		case ir.Lit:
			out[field] = term.Value
		case ir.Var:
			v, ok := f.Lookup(term)
			if !ok {
				return nil, &UnboundVariableError{Field: field, Var: term}
			}
			out[field] = v
		default:
			return nil, fmt.Errorf("field %q: unsupported term %T", field, term)
		}
	}
	return out, nil
}
