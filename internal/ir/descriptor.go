package ir

import (
	"fmt"
	"slices"
	"strings"
)

// OpRef names a concept operation, e.g. Calendar._getScheduledRecipes.
type OpRef struct {
	Concept string `json:"concept"`
	Name    string `json:"name"`
}

// Op is shorthand for OpRef{concept, name}.
func Op(concept, name string) OpRef {
	return OpRef{Concept: concept, Name: name}
}

// ParseOpRef parses "Concept.operation".
func ParseOpRef(s string) (OpRef, error) {
	concept, name, ok := strings.Cut(s, ".")
	if !ok || concept == "" || name == "" || strings.Contains(name, ".") {
		return OpRef{}, fmt.Errorf("invalid operation reference %q, want Concept.operation", s)
	}
	return OpRef{Concept: concept, Name: name}, nil
}

func (o OpRef) String() string {
	return o.Concept + "." + o.Name
}

// OpKind distinguishes mutating actions from read-only queries.
type OpKind int

const (
	// KindAction has side effects and returns success fields XOR an error field.
	KindAction OpKind = iota + 1
	// KindQuery is pure and returns zero or more rows.
	KindQuery
)

func (k OpKind) String() string {
	switch k {
	case KindAction:
		return "action"
	case KindQuery:
		return "query"
	default:
		return "unknown"
	}
}

// Term is one side of a pattern field: a variable or a literal.
type Term interface {
	term()
}

// Var is a rule variable.
type Var string

// Lit is a constant that the concrete field must equal.
type Lit struct {
	Value Value
}

func (Var) term() {}
func (Lit) term() {}

// L wraps a value as a literal term.
func L(v Value) Lit {
	return Lit{Value: v}
}

// Pattern maps record fields to terms.
type Pattern map[string]Term

// Vars returns the distinct variables of the pattern in sorted field order.
func (p Pattern) Vars() []Var {
	var out []Var
	for _, f := range p.Fields() {
		if v, ok := p[f].(Var); ok && !slices.Contains(out, v) {
			out = append(out, v)
		}
	}
	return out
}

// Fields returns the pattern's field names sorted.
func (p Pattern) Fields() []string {
	fields := make([]string, 0, len(p))
	for f := range p {
		fields = append(fields, f)
	}
	slices.Sort(fields)
	return fields
}

// ActionDescriptor references a concept operation with an input pattern
// and an output pattern.
//
// In a when clause both patterns are matched against the completed record.
// In a then clause the input pattern is the argument template and Output
// must be empty.
type ActionDescriptor struct {
	Op     OpRef   `json:"op"`
	Input  Pattern `json:"input"`
	Output Pattern `json:"output"`
}

func (d ActionDescriptor) String() string {
	return d.Op.String()
}

// Vars returns the variables referenced by the descriptor, inputs first.
func (d ActionDescriptor) Vars() []Var {
	vars := d.Input.Vars()
	for _, v := range d.Output.Vars() {
		if !slices.Contains(vars, v) {
			vars = append(vars, v)
		}
	}
	return vars
}
