package compiler

import (
	"fmt"
	"slices"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"

	"github.com/roach88/recipesync/internal/concept"
	"github.com/roach88/recipesync/internal/engine"
	"github.com/roach88/recipesync/internal/ir"
)

// ConceptDecl is a concept as declared in a manifest: its name and the
// names of its operations. Query names start with an underscore.
type ConceptDecl struct {
	Name       string      `json:"name"`
	Purpose    string      `json:"purpose,omitempty"`
	Actions    []string    `json:"actions"`
	Queries    []string    `json:"queries,omitempty"`
	Principles []Principle `json:"principles,omitempty"`
}

// Principle is an operational principle of a concept. Scenario, when set,
// is a scenario file demonstrating it, relative to the rules directory.
type Principle struct {
	Description string `json:"description"`
	Scenario    string `json:"scenario,omitempty"`
}

// Manifest is the set of concepts rules may reference. It implements
// engine.Signatures, so rules can be validated without the concepts'
// implementations. Requesting is always present.
type Manifest struct {
	Concepts []ConceptDecl `json:"concepts"`

	kinds map[ir.OpRef]ir.OpKind
}

// NewManifest builds a manifest from declarations. Requesting is added
// first unless decls already declare it.
func NewManifest(decls ...ConceptDecl) (*Manifest, error) {
	m := &Manifest{kinds: make(map[ir.OpRef]ir.OpKind)}

	if !slices.ContainsFunc(decls, func(d ConceptDecl) bool { return d.Name == concept.RequestingName }) {
		decls = append([]ConceptDecl{requestingDecl()}, decls...)
	}
	for _, d := range decls {
		if err := m.add(d); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func requestingDecl() ConceptDecl {
	return ConceptDecl{
		Name:    concept.RequestingName,
		Purpose: "Turns external HTTP requests into actions and routes responses back",
		Actions: []string{concept.OpRequest.Name, concept.OpRespond.Name},
	}
}

func (m *Manifest) add(d ConceptDecl) error {
	for _, c := range m.Concepts {
		if c.Name == d.Name {
			return &CompileError{Field: "concepts." + d.Name, Message: "concept declared twice"}
		}
	}
	for _, name := range d.Actions {
		m.kinds[ir.Op(d.Name, name)] = ir.KindAction
	}
	for _, name := range d.Queries {
		m.kinds[ir.Op(d.Name, name)] = ir.KindQuery
	}
	m.Concepts = append(m.Concepts, d)
	return nil
}

// Lookup reports whether op is declared and its kind.
func (m *Manifest) Lookup(op ir.OpRef) (ir.OpKind, bool) {
	k, ok := m.kinds[op]
	return k, ok
}

// Operations returns every declared operation, sorted.
func (m *Manifest) Operations() []ir.OpRef {
	ops := make([]ir.OpRef, 0, len(m.kinds))
	for op := range m.kinds {
		ops = append(ops, op)
	}
	slices.SortFunc(ops, func(a, b ir.OpRef) int {
		return strings.Compare(a.String(), b.String())
	})
	return ops
}

// CheckCatalog reports every declared operation the catalog does not
// provide with the same kind.
func (m *Manifest) CheckCatalog(cat engine.Signatures) []error {
	var errs []error
	for _, op := range m.Operations() {
		got, ok := cat.Lookup(op)
		switch {
		case !ok:
			errs = append(errs, fmt.Errorf("operation %s is declared but not implemented", op))
		case got != m.kinds[op]:
			errs = append(errs, fmt.Errorf("operation %s is declared as %s but implemented as %s", op, m.kinds[op], got))
		}
	}
	return errs
}

// CompileConcepts parses the `concepts` struct of a rules package into a
// manifest. A missing struct yields a manifest holding only Requesting.
//
//	concepts: Authentication: {
//		purpose: "..."
//		actions: ["register", "validateSession"]
//		queries: ["_getUserBySession"]
//	}
func CompileConcepts(v cue.Value) (*Manifest, error) {
	if !v.Exists() {
		return NewManifest()
	}
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}

	iter, err := v.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}
	var decls []ConceptDecl
	for iter.Next() {
		decl, err := CompileConcept(iter.Value())
		if err != nil {
			return nil, err
		}
		decls = append(decls, *decl)
	}
	return NewManifest(decls...)
}

// CompileConcept parses one concept declaration. The name is the struct label.
func CompileConcept(v cue.Value) (*ConceptDecl, error) {
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}

	decl := &ConceptDecl{Name: lastLabel(v)}

	if pv := v.LookupPath(cue.ParsePath("purpose")); pv.Exists() {
		purpose, err := pv.String()
		if err != nil {
			return nil, formatCUEError(err)
		}
		decl.Purpose = purpose
	}

	var err error
	if decl.Actions, err = stringList(v, "actions"); err != nil {
		return nil, err
	}
	if decl.Queries, err = stringList(v, "queries"); err != nil {
		return nil, err
	}
	if decl.Principles, err = principles(v); err != nil {
		return nil, err
	}

	if len(decl.Actions)+len(decl.Queries) == 0 {
		return nil, &CompileError{
			Field:   "actions",
			Message: "at least one action or query is required",
			Pos:     v.Pos(),
		}
	}

	seen := make(map[string]bool)
	for _, name := range decl.Actions {
		if strings.HasPrefix(name, "_") {
			return nil, &CompileError{
				Field:   "actions",
				Message: fmt.Sprintf("action %q must not start with an underscore (queries do)", name),
				Pos:     v.LookupPath(cue.ParsePath("actions")).Pos(),
			}
		}
		seen[name] = true
	}
	for _, name := range decl.Queries {
		if !strings.HasPrefix(name, "_") {
			return nil, &CompileError{
				Field:   "queries",
				Message: fmt.Sprintf("query %q must start with an underscore", name),
				Pos:     v.LookupPath(cue.ParsePath("queries")).Pos(),
			}
		}
		if seen[name] {
			return nil, &CompileError{
				Field:   "queries",
				Message: fmt.Sprintf("duplicate operation name %q", name),
				Pos:     v.LookupPath(cue.ParsePath("queries")).Pos(),
			}
		}
		seen[name] = true
	}
	if dup := firstDuplicate(decl.Actions); dup != "" {
		return nil, &CompileError{
			Field:   "actions",
			Message: fmt.Sprintf("duplicate operation name %q", dup),
			Pos:     v.LookupPath(cue.ParsePath("actions")).Pos(),
		}
	}

	return decl, nil
}

// principles reads the optional `principles` list. An element is either a
// plain description or {description, scenario}.
func principles(v cue.Value) ([]Principle, error) {
	lv := v.LookupPath(cue.ParsePath("principles"))
	if !lv.Exists() {
		return nil, nil
	}
	iter, err := lv.List()
	if err != nil {
		return nil, &CompileError{Field: "principles", Message: "must be a list", Pos: lv.Pos()}
	}

	var out []Principle
	for i := 0; iter.Next(); i++ {
		ev := iter.Value()
		field := fmt.Sprintf("principles[%d]", i)
		if s, err := ev.String(); err == nil {
			out = append(out, Principle{Description: s})
			continue
		}

		var p Principle
		if err := ev.Decode(&p); err != nil {
			return nil, &CompileError{Field: field, Message: "must be a string or {description, scenario}", Pos: ev.Pos()}
		}
		if p.Description == "" {
			return nil, &CompileError{Field: field + ".description", Message: "description is required", Pos: ev.Pos()}
		}
		out = append(out, p)
	}
	return out, nil
}

// stringList reads an optional list of non-empty strings.
func stringList(v cue.Value, field string) ([]string, error) {
	lv := v.LookupPath(cue.ParsePath(field))
	if !lv.Exists() {
		return nil, nil
	}
	iter, err := lv.List()
	if err != nil {
		return nil, &CompileError{Field: field, Message: "must be a list of names", Pos: lv.Pos()}
	}
	var out []string
	for iter.Next() {
		s, err := iter.Value().String()
		if err != nil || s == "" {
			return nil, &CompileError{Field: field, Message: "names must be non-empty strings", Pos: iter.Value().Pos()}
		}
		out = append(out, s)
	}
	return out, nil
}

func firstDuplicate(names []string) string {
	seen := make(map[string]bool, len(names))
	for _, n := range names {
		if seen[n] {
			return n
		}
		seen[n] = true
	}
	return ""
}

// lastLabel returns the unquoted label a value was found under.
func lastLabel(v cue.Value) string {
	sels := v.Path().Selectors()
	if len(sels) == 0 {
		return ""
	}
	sel := sels[len(sels)-1]
	if sel.LabelType() == cue.StringLabel {
		return sel.Unquoted()
	}
	return sel.String()
}

// CompileError represents a compilation error with source position.
type CompileError struct {
	Field   string
	Message string
	Pos     token.Pos
}

func (e *CompileError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s",
			e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(),
			e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// formatCUEError extracts position info from CUE errors.
func formatCUEError(err error) error {
	if err == nil {
		return nil
	}

	// CUE errors may contain multiple errors
	errs := errors.Errors(err)
	if len(errs) == 0 {
		return err
	}

	// Return first error with position info
	firstErr := errs[0]
	positions := errors.Positions(firstErr)
	if len(positions) > 0 {
		return &CompileError{
			Field:   "cue",
			Message: firstErr.Error(),
			Pos:     positions[0],
		}
	}

	return err
}
