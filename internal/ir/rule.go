package ir

import "context"

// Rule is a named when/where/then synchronization.
//
// Rules are configuration: built once at startup, registered once, never
// mutated afterwards, and they hold no state between firings.
type Rule struct {
	Name string             `json:"name"`
	When []ActionDescriptor `json:"when"`
	// Where is optional. Nil passes the when frames straight to then.
	Where Where              `json:"-"`
	Then  []ActionDescriptor `json:"then"`
}

// Querier runs concept queries on behalf of a where clause. It exposes no
// actions, so where clauses cannot produce side effects through the engine.
type Querier interface {
	Query(ctx context.Context, op OpRef, input Record) ([]Record, error)
}

// Where refines a frame set after the when join.
// Implemented by Steps (declarative) and WhereFunc (Go code).
type Where interface {
	where()
}

// WhereFunc is a where clause written in Go. It must return a new frame set
// and leave its input untouched.
type WhereFunc func(ctx context.Context, q Querier, in Frames) (Frames, error)

// Steps is a declarative where clause. Steps run in order, each one
// consuming the frames produced by the previous.
type Steps []WhereStep

func (WhereFunc) where() {}
func (Steps) where()     {}

// StepKind selects what a where step does.
type StepKind string

const (
	// StepQuery runs a query per frame and extends the frame with each row.
	StepQuery StepKind = "query"
	// StepCollect runs a query per frame and binds the whole row list to one variable.
	StepCollect StepKind = "collect"
	// StepRequire drops frames in which any listed variable is unbound.
	StepRequire StepKind = "require"
)

// WhereStep is one stage of a declarative where clause.
type WhereStep struct {
	Kind StepKind `json:"kind"`

	// Op, Input: the query to run (query and collect).
	Op    OpRef   `json:"op,omitempty"`
	Input Pattern `json:"input,omitempty"`

	// Output binds row fields to variables (query).
	Output Pattern `json:"output,omitempty"`

	// Into receives the collected rows (collect). When Field is set only
	// that field of each row is collected.
	Into  Var    `json:"into,omitempty"`
	Field string `json:"field,omitempty"`

	// Vars lists the variables that must be bound (require).
	Vars []Var `json:"vars,omitempty"`

	// Defaults opts specific variables into "bind this value instead of
	// dropping the frame" when the step yields no rows for a frame.
	// Variables without a default keep the drop behavior.
	Defaults map[Var]Value `json:"defaults,omitempty"`
}

// Query builds a query step.
func Query(op OpRef, input, output Pattern) WhereStep {
	return WhereStep{Kind: StepQuery, Op: op, Input: input, Output: output}
}

// Collect builds a collect step.
func Collect(op OpRef, input Pattern, into Var) WhereStep {
	return WhereStep{Kind: StepCollect, Op: op, Input: input, Into: into}
}

// Require builds a require step.
func Require(vars ...Var) WhereStep {
	return WhereStep{Kind: StepRequire, Vars: vars}
}

// WithDefault returns a copy of the step with a default declared for v.
func (s WhereStep) WithDefault(v Var, val Value) WhereStep {
	defaults := make(map[Var]Value, len(s.Defaults)+1)
	for k, d := range s.Defaults {
		defaults[k] = d
	}
	defaults[v] = val
	s.Defaults = defaults
	return s
}

// Binds returns the variables the step can bind.
func (s WhereStep) Binds() []Var {
	switch s.Kind {
	case StepQuery:
		return s.Output.Vars()
	case StepCollect:
		return []Var{s.Into}
	default:
		return nil
	}
}
