package engine

import (
	"fmt"
	"slices"

	"github.com/roach88/recipesync/internal/ir"
)

// ErrCodeInvalidRule covers structural mistakes that are not about a
// specific operation or variable (missing name, output on a then clause,
// unknown where step kind).
const ErrCodeInvalidRule ConfigErrorCode = "INVALID_RULE"

// Signatures tells the registry which operations exist and their kind.
// Implemented by concept.Catalog and by compiled concept manifests.
type Signatures interface {
	Lookup(op ir.OpRef) (ir.OpKind, bool)
}

// Trigger is one registry index entry: a rule and the position of the when
// clause that listens for the operation.
type Trigger struct {
	Rule   *ir.Rule
	Clause int
}

// Registry is the immutable table of installed rules, indexed by the
// operations their when clauses listen for.
//
// Build one with Register at startup and pass it by reference. Nothing can
// be added afterwards, so concurrent cascades share it without locking.
type Registry struct {
	rules []ir.Rule
	index map[ir.OpRef][]Trigger
}

// Register validates rules against sigs and builds a registry.
//
// Registration order is evaluation order. Every check that can be done
// statically is done here, and the first fault is returned as a
// *ConfigError:
//   - unique, non-empty rule names and at least one when clause,
//   - every referenced operation exists; when and then reference actions,
//     where steps reference queries,
//   - every variable a where input or then template uses is bound by an
//     earlier clause (skipped for then when the rule's where is a WhereFunc,
//     since Go code may bind anything; those surface at first use).
func Register(sigs Signatures, rules ...ir.Rule) (*Registry, error) {
	r := &Registry{
		rules: make([]ir.Rule, 0, len(rules)),
		index: make(map[ir.OpRef][]Trigger),
	}

	seen := make(map[string]bool, len(rules))
	for _, rule := range rules {
		if rule.Name == "" {
			return nil, &ConfigError{Code: ErrCodeInvalidRule, Message: "rule name is required"}
		}
		if seen[rule.Name] {
			return nil, &ConfigError{Code: ErrCodeDuplicateRule, Rule: rule.Name, Message: "rule name already registered"}
		}
		seen[rule.Name] = true

		if err := validateRule(sigs, rule); err != nil {
			return nil, err
		}
		r.rules = append(r.rules, cloneRule(rule))
	}

	for i := range r.rules {
		rule := &r.rules[i]
		for c, clause := range rule.When {
			r.index[clause.Op] = append(r.index[clause.Op], Trigger{Rule: rule, Clause: c})
		}
	}
	return r, nil
}

// Candidates returns the triggers listening for op, in registration order
// and, within one rule, clause order.
func (r *Registry) Candidates(op ir.OpRef) []Trigger {
	return slices.Clone(r.index[op])
}

// Rules returns the registered rules in registration order.
func (r *Registry) Rules() []ir.Rule {
	return slices.Clone(r.rules)
}

// Rule returns a registered rule by name.
func (r *Registry) Rule(name string) (ir.Rule, bool) {
	for _, rule := range r.rules {
		if rule.Name == name {
			return rule, true
		}
	}
	return ir.Rule{}, false
}

// Len returns the number of registered rules.
func (r *Registry) Len() int {
	return len(r.rules)
}

func validateRule(sigs Signatures, rule ir.Rule) error {
	if len(rule.When) == 0 {
		return &ConfigError{Code: ErrCodeEmptyWhen, Rule: rule.Name, Message: "rule needs at least one when clause"}
	}

	bound := make(map[ir.Var]bool)
	for i, clause := range rule.When {
		where := fmt.Sprintf("when[%d]", i)
		if err := checkOp(sigs, rule.Name, where, clause.Op, ir.KindAction); err != nil {
			return err
		}
		for _, v := range clause.Vars() {
			bound[v] = true
		}
	}

	checkThen := true
	switch w := rule.Where.(type) {
	case nil:
	case ir.WhereFunc:
		checkThen = false
	case ir.Steps:
		if err := validateSteps(sigs, rule.Name, w, bound); err != nil {
			return err
		}
	default:
		return &ConfigError{Code: ErrCodeInvalidRule, Rule: rule.Name, Clause: "where", Message: fmt.Sprintf("unsupported where %T", w)}
	}

	for i, clause := range rule.Then {
		where := fmt.Sprintf("then[%d]", i)
		if err := checkOp(sigs, rule.Name, where, clause.Op, ir.KindAction); err != nil {
			return err
		}
		if len(clause.Output) > 0 {
			return &ConfigError{Code: ErrCodeInvalidRule, Rule: rule.Name, Clause: where, Message: "then clauses take an input template only"}
		}
		if !checkThen {
			continue
		}
		if err := checkBound(rule.Name, where, clause.Input, bound); err != nil {
			return err
		}
	}
	return nil
}

func validateSteps(sigs Signatures, rule string, steps ir.Steps, bound map[ir.Var]bool) error {
	for i, step := range steps {
		where := fmt.Sprintf("where[%d]", i)
		switch step.Kind {
		case ir.StepQuery, ir.StepCollect:
			if err := checkOp(sigs, rule, where, step.Op, ir.KindQuery); err != nil {
				return err
			}
			if err := checkBound(rule, where+".input", step.Input, bound); err != nil {
				return err
			}
			if step.Kind == ir.StepQuery && len(step.Output) == 0 {
				return &ConfigError{Code: ErrCodeInvalidRule, Rule: rule, Clause: where, Message: "query step needs an output pattern"}
			}
			if step.Kind == ir.StepCollect && step.Into == "" {
				return &ConfigError{Code: ErrCodeInvalidRule, Rule: rule, Clause: where, Message: "collect step needs a target variable"}
			}
		case ir.StepRequire:
			for _, v := range step.Vars {
				if !bound[v] {
					return &ConfigError{Code: ErrCodeUnboundVariable, Rule: rule, Clause: where, Message: fmt.Sprintf("variable %q is never bound before this step", v)}
				}
			}
		default:
			return &ConfigError{Code: ErrCodeInvalidRule, Rule: rule, Clause: where, Message: fmt.Sprintf("unknown step kind %q", step.Kind)}
		}

		binds := step.Binds()
		for v := range step.Defaults {
			if !slices.Contains(binds, v) {
				return &ConfigError{Code: ErrCodeInvalidRule, Rule: rule, Clause: where, Message: fmt.Sprintf("default for %q, which this step does not bind", v)}
			}
		}
		for _, v := range binds {
			bound[v] = true
		}
	}
	return nil
}

func checkOp(sigs Signatures, rule, clause string, op ir.OpRef, want ir.OpKind) error {
	kind, ok := sigs.Lookup(op)
	if !ok {
		return &ConfigError{Code: ErrCodeUnknownOperation, Rule: rule, Clause: clause, Message: fmt.Sprintf("operation %s does not exist", op)}
	}
	if kind != want {
		return &ConfigError{Code: ErrCodeWrongKind, Rule: rule, Clause: clause, Message: fmt.Sprintf("%s is a %s, expected a %s", op, kind, want)}
	}
	return nil
}

func checkBound(rule, clause string, p ir.Pattern, bound map[ir.Var]bool) error {
	for _, v := range p.Vars() {
		if !bound[v] {
			return &ConfigError{Code: ErrCodeUnboundVariable, Rule: rule, Clause: clause, Message: fmt.Sprintf("variable %q is never bound", v)}
		}
	}
	return nil
}

// cloneRule copies the rule's clauses so later changes to the caller's
// values cannot reach the registry.
func cloneRule(rule ir.Rule) ir.Rule {
	out := ir.Rule{Name: rule.Name, Where: rule.Where}
	out.When = cloneDescriptors(rule.When)
	out.Then = cloneDescriptors(rule.Then)
	if steps, ok := rule.Where.(ir.Steps); ok {
		cp := make(ir.Steps, len(steps))
		for i, s := range steps {
			s.Input = clonePattern(s.Input)
			s.Output = clonePattern(s.Output)
			s.Vars = slices.Clone(s.Vars)
			if s.Defaults != nil {
				d := make(map[ir.Var]ir.Value, len(s.Defaults))
				for k, v := range s.Defaults {
					d[k] = v
				}
				s.Defaults = d
			}
			cp[i] = s
		}
		out.Where = cp
	}
	return out
}

func cloneDescriptors(ds []ir.ActionDescriptor) []ir.ActionDescriptor {
	out := make([]ir.ActionDescriptor, len(ds))
	for i, d := range ds {
		out[i] = ir.ActionDescriptor{Op: d.Op, Input: clonePattern(d.Input), Output: clonePattern(d.Output)}
	}
	return out
}

func clonePattern(p ir.Pattern) ir.Pattern {
	if p == nil {
		return nil
	}
	out := make(ir.Pattern, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}
