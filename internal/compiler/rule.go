package compiler

import (
	"fmt"
	"strings"

	"cuelang.org/go/cue"

	"github.com/roach88/recipesync/internal/ir"
)

// varPrefix marks a pattern string as a variable. A doubled prefix
// escapes it: "$$5" is the literal string "$5".
const varPrefix = "$"

// CompileRules parses the `rules` struct of a rules package. Rules are
// returned in declaration order, which is the order the engine evaluates
// them in.
func CompileRules(v cue.Value) ([]ir.Rule, error) {
	if !v.Exists() {
		return nil, nil
	}
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}

	iter, err := v.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}
	var rules []ir.Rule
	for iter.Next() {
		rule, err := CompileRule(iter.Value())
		if err != nil {
			return nil, fmt.Errorf("rule %s: %w", iter.Label(), err)
		}
		rules = append(rules, *rule)
	}
	return rules, nil
}

// CompileRule parses one rule. Uses CUE SDK's Go API directly.
//
// The CUE value should be the rule struct itself, e.g.:
//
//	ctx := cuecontext.New()
//	v := ctx.CompileString(`rules: RegisterRequest: { ... }`)
//	rule, err := CompileRule(v.LookupPath(cue.ParsePath("rules.RegisterRequest")))
func CompileRule(v cue.Value) (*ir.Rule, error) {
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}

	rule := &ir.Rule{Name: lastLabel(v)}

	whenVal := v.LookupPath(cue.ParsePath("when"))
	if !whenVal.Exists() {
		return nil, &CompileError{Field: "when", Message: "when clause is required", Pos: v.Pos()}
	}
	var err error
	if rule.When, err = parseDescriptors(whenVal, "when"); err != nil {
		return nil, err
	}
	if len(rule.When) == 0 {
		return nil, &CompileError{Field: "when", Message: "when needs at least one action pattern", Pos: whenVal.Pos()}
	}

	if whereVal := v.LookupPath(cue.ParsePath("where")); whereVal.Exists() {
		steps, err := parseSteps(whereVal)
		if err != nil {
			return nil, err
		}
		rule.Where = steps
	}

	if thenVal := v.LookupPath(cue.ParsePath("then")); thenVal.Exists() {
		if rule.Then, err = parseDescriptors(thenVal, "then"); err != nil {
			return nil, err
		}
		for i, d := range rule.Then {
			if d.Output != nil {
				return nil, &CompileError{
					Field:   fmt.Sprintf("then[%d].output", i),
					Message: "then invocations have no output pattern",
					Pos:     thenVal.Pos(),
				}
			}
		}
	}

	return rule, nil
}

// parseDescriptors parses a list of {action, input, output} patterns.
func parseDescriptors(v cue.Value, clause string) ([]ir.ActionDescriptor, error) {
	iter, err := v.List()
	if err != nil {
		return nil, &CompileError{Field: clause, Message: "must be a list of action patterns", Pos: v.Pos()}
	}

	var out []ir.ActionDescriptor
	for i := 0; iter.Next(); i++ {
		field := fmt.Sprintf("%s[%d]", clause, i)
		d, err := parseDescriptor(iter.Value(), field)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, nil
}

func parseDescriptor(v cue.Value, field string) (ir.ActionDescriptor, error) {
	var d ir.ActionDescriptor

	op, err := parseOp(v, "action", field)
	if err != nil {
		return d, err
	}
	d.Op = op

	if d.Input, err = parsePattern(v.LookupPath(cue.ParsePath("input")), field+".input"); err != nil {
		return d, err
	}
	if d.Input == nil {
		d.Input = ir.Pattern{}
	}
	if d.Output, err = parsePattern(v.LookupPath(cue.ParsePath("output")), field+".output"); err != nil {
		return d, err
	}
	return d, nil
}

// parseOp reads a "Concept.operation" reference from key.
func parseOp(v cue.Value, key, field string) (ir.OpRef, error) {
	ov := v.LookupPath(cue.MakePath(cue.Str(key)))
	if !ov.Exists() {
		return ir.OpRef{}, &CompileError{
			Field:   field + "." + key,
			Message: fmt.Sprintf("%s requires %q", field, key),
			Pos:     v.Pos(),
		}
	}
	s, err := ov.String()
	if err != nil {
		return ir.OpRef{}, &CompileError{Field: field + "." + key, Message: "must be a string", Pos: ov.Pos()}
	}
	op, err := ir.ParseOpRef(s)
	if err != nil {
		return ir.OpRef{}, &CompileError{Field: field + "." + key, Message: err.Error(), Pos: ov.Pos()}
	}
	return op, nil
}

// parsePattern parses a field -> term struct. A missing value yields a
// nil pattern; an empty struct yields an empty one.
func parsePattern(v cue.Value, field string) (ir.Pattern, error) {
	if !v.Exists() {
		return nil, nil
	}
	iter, err := v.Fields()
	if err != nil {
		return nil, &CompileError{Field: field, Message: "must be a struct of field patterns", Pos: v.Pos()}
	}

	p := ir.Pattern{}
	for iter.Next() {
		t, err := parseTerm(iter.Value(), field+"."+iter.Label())
		if err != nil {
			return nil, err
		}
		p[iter.Label()] = t
	}
	return p, nil
}

// parseTerm turns "$name" into a variable and anything else into a literal.
func parseTerm(v cue.Value, field string) (ir.Term, error) {
	if s, err := v.String(); err == nil {
		if name, ok := varName(s); ok {
			if name == "" {
				return nil, &CompileError{Field: field, Message: "variable name is empty", Pos: v.Pos()}
			}
			return ir.Var(name), nil
		}
		if strings.HasPrefix(s, varPrefix+varPrefix) {
			return ir.L(ir.String(s[len(varPrefix):])), nil
		}
	}
	val, err := decodeValue(v, field)
	if err != nil {
		return nil, err
	}
	return ir.L(val), nil
}

// varName reports whether s names a variable and returns the name.
func varName(s string) (string, bool) {
	if !strings.HasPrefix(s, varPrefix) || strings.HasPrefix(s, varPrefix+varPrefix) {
		return "", false
	}
	return s[len(varPrefix):], true
}

// decodeValue converts a concrete CUE value into an ir.Value.
func decodeValue(v cue.Value, field string) (ir.Value, error) {
	if err := v.Validate(cue.Concrete(true)); err != nil {
		return nil, &CompileError{Field: field, Message: "literal must be concrete", Pos: v.Pos()}
	}
	var raw any
	if v.Kind() == cue.FloatKind {
		f, err := v.Float64()
		if err != nil {
			return nil, &CompileError{Field: field, Message: err.Error(), Pos: v.Pos()}
		}
		raw = f
	} else if err := v.Decode(&raw); err != nil {
		return nil, formatCUEError(err)
	}
	val, err := ir.FromGo(raw)
	if err != nil {
		return nil, &CompileError{Field: field, Message: err.Error(), Pos: v.Pos()}
	}
	return val, nil
}

// parseSteps parses a declarative where clause. Each step is one of
//
//	{query: "C._q", input: {...}, output: {...}}
//	{query: "C._q", input: {...}, collect: "$list", field?: "name"}
//	{require: ["$a", "$b"]}
//
// and query steps may add `default: {var: value}`.
func parseSteps(v cue.Value) (ir.Steps, error) {
	iter, err := v.List()
	if err != nil {
		return nil, &CompileError{Field: "where", Message: "must be a list of steps", Pos: v.Pos()}
	}

	steps := ir.Steps{}
	for i := 0; iter.Next(); i++ {
		step, err := parseStep(iter.Value(), fmt.Sprintf("where[%d]", i))
		if err != nil {
			return nil, err
		}
		steps = append(steps, step)
	}
	return steps, nil
}

func parseStep(v cue.Value, field string) (ir.WhereStep, error) {
	if rv := v.LookupPath(cue.ParsePath("require")); rv.Exists() {
		vars, err := parseVarList(rv, field+".require")
		if err != nil {
			return ir.WhereStep{}, err
		}
		return ir.Require(vars...), nil
	}

	if !v.LookupPath(cue.ParsePath("query")).Exists() {
		return ir.WhereStep{}, &CompileError{
			Field:   field,
			Message: `step needs "query" or "require"`,
			Pos:     v.Pos(),
		}
	}
	op, err := parseOp(v, "query", field)
	if err != nil {
		return ir.WhereStep{}, err
	}
	input, err := parsePattern(v.LookupPath(cue.ParsePath("input")), field+".input")
	if err != nil {
		return ir.WhereStep{}, err
	}
	if input == nil {
		input = ir.Pattern{}
	}

	var step ir.WhereStep
	if cv := v.LookupPath(cue.ParsePath("collect")); cv.Exists() {
		into, err := parseVar(cv, field+".collect")
		if err != nil {
			return ir.WhereStep{}, err
		}
		step = ir.Collect(op, input, into)
		if fv := v.LookupPath(cue.ParsePath("field")); fv.Exists() {
			if step.Field, err = fv.String(); err != nil {
				return ir.WhereStep{}, &CompileError{Field: field + ".field", Message: "must be a string", Pos: fv.Pos()}
			}
		}
	} else {
		output, err := parsePattern(v.LookupPath(cue.ParsePath("output")), field+".output")
		if err != nil {
			return ir.WhereStep{}, err
		}
		if output == nil {
			return ir.WhereStep{}, &CompileError{
				Field:   field,
				Message: `query step needs "output" or "collect"`,
				Pos:     v.Pos(),
			}
		}
		step = ir.Query(op, input, output)
	}

	if dv := v.LookupPath(cue.ParsePath("default")); dv.Exists() {
		iter, err := dv.Fields()
		if err != nil {
			return ir.WhereStep{}, &CompileError{Field: field + ".default", Message: "must be a struct of variable defaults", Pos: dv.Pos()}
		}
		for iter.Next() {
			name := strings.TrimPrefix(iter.Label(), varPrefix)
			val, err := decodeValue(iter.Value(), field+".default."+name)
			if err != nil {
				return ir.WhereStep{}, err
			}
			step = step.WithDefault(ir.Var(name), val)
		}
	}
	return step, nil
}

func parseVarList(v cue.Value, field string) ([]ir.Var, error) {
	iter, err := v.List()
	if err != nil {
		return nil, &CompileError{Field: field, Message: "must be a list of variables", Pos: v.Pos()}
	}
	var vars []ir.Var
	for iter.Next() {
		name, err := parseVar(iter.Value(), field)
		if err != nil {
			return nil, err
		}
		vars = append(vars, name)
	}
	return vars, nil
}

func parseVar(v cue.Value, field string) (ir.Var, error) {
	s, err := v.String()
	if err != nil {
		return "", &CompileError{Field: field, Message: `must be a "$variable" string`, Pos: v.Pos()}
	}
	name, ok := varName(s)
	if !ok || name == "" {
		return "", &CompileError{Field: field, Message: fmt.Sprintf("%q is not a variable (want \"$name\")", s), Pos: v.Pos()}
	}
	return ir.Var(name), nil
}
