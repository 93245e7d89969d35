// Package concept defines the contracts the engine consumes from concepts:
// actions, queries, a catalog that names them, and the Requesting concept
// that forms the request/response correlation boundary.
//
// Concept implementations (Authentication, Calendar, RecipeBook, ...) live
// outside this module. They are adapted with Action and Query funcs.
package concept

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/roach88/recipesync/internal/ir"
)

// Action is a mutating concept operation. It returns either success fields
// or {error: "..."}, never both. Expected failures are results, not Go
// errors; a Go error means something exceptional happened.
type Action func(ctx context.Context, input ir.Record) (ir.Record, error)

// Query is a pure concept operation returning zero or more rows.
// An empty slice means no matches.
type Query func(ctx context.Context, input ir.Record) ([]ir.Record, error)

// Concept is a named set of actions and queries.
type Concept struct {
	Name    string
	actions map[string]Action
	queries map[string]Query
}

// New creates an empty concept.
func New(name string) *Concept {
	return &Concept{
		Name:    name,
		actions: make(map[string]Action),
		queries: make(map[string]Query),
	}
}

// Action registers a mutating operation and returns the concept for chaining.
func (c *Concept) Action(name string, fn Action) *Concept {
	c.actions[name] = fn
	return c
}

// Query registers a read-only operation and returns the concept for chaining.
func (c *Concept) Query(name string, fn Query) *Concept {
	c.queries[name] = fn
	return c
}

// Operations lists the concept's operation names, actions first, each sorted.
func (c *Concept) Operations() []string {
	var actions, queries []string
	for n := range c.actions {
		actions = append(actions, n)
	}
	for n := range c.queries {
		queries = append(queries, n)
	}
	slices.Sort(actions)
	slices.Sort(queries)
	return append(actions, queries...)
}

// Catalog is the set of concepts available to the dispatcher.
// Safe for concurrent use; concepts are normally all added at startup.
type Catalog struct {
	mu       sync.RWMutex
	concepts map[string]*Concept
	order    []string
}

// NewCatalog creates a catalog holding the given concepts.
func NewCatalog(concepts ...*Concept) (*Catalog, error) {
	cat := &Catalog{concepts: make(map[string]*Concept)}
	for _, c := range concepts {
		if err := cat.Add(c); err != nil {
			return nil, err
		}
	}
	return cat, nil
}

// Add installs a concept. Names must be unique, and an operation name may
// not be both an action and a query.
func (cat *Catalog) Add(c *Concept) error {
	cat.mu.Lock()
	defer cat.mu.Unlock()

	if c.Name == "" {
		return fmt.Errorf("concept name is required")
	}
	if _, exists := cat.concepts[c.Name]; exists {
		return fmt.Errorf("duplicate concept %q", c.Name)
	}
	for name := range c.actions {
		if _, dup := c.queries[name]; dup {
			return fmt.Errorf("concept %s: %q is registered as both action and query", c.Name, name)
		}
	}
	cat.concepts[c.Name] = c
	cat.order = append(cat.order, c.Name)
	return nil
}

// Names returns concept names in insertion order.
func (cat *Catalog) Names() []string {
	cat.mu.RLock()
	defer cat.mu.RUnlock()
	return slices.Clone(cat.order)
}

// Concept returns a concept by name.
func (cat *Catalog) Concept(name string) (*Concept, bool) {
	cat.mu.RLock()
	defer cat.mu.RUnlock()
	c, ok := cat.concepts[name]
	return c, ok
}

// Lookup reports whether op exists and whether it is an action or a query.
func (cat *Catalog) Lookup(op ir.OpRef) (ir.OpKind, bool) {
	c, ok := cat.Concept(op.Concept)
	if !ok {
		return 0, false
	}
	if _, ok := c.actions[op.Name]; ok {
		return ir.KindAction, true
	}
	if _, ok := c.queries[op.Name]; ok {
		return ir.KindQuery, true
	}
	return 0, false
}

// ResultShapeError reports an action result carrying both success fields
// and an error field.
type ResultShapeError struct {
	Op     ir.OpRef
	Fields []string
}

func (e *ResultShapeError) Error() string {
	return fmt.Sprintf("%s returned both error and success fields %v", e.Op, e.Fields)
}

// CallAction runs an action and checks the success XOR error contract.
// A nil result is normalised to an empty success record.
func (cat *Catalog) CallAction(ctx context.Context, op ir.OpRef, input ir.Record) (ir.Record, error) {
	c, ok := cat.Concept(op.Concept)
	if !ok {
		return nil, &UnknownOperationError{Op: op}
	}
	fn, ok := c.actions[op.Name]
	if !ok {
		return nil, &UnknownOperationError{Op: op}
	}
	out, err := fn(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if out == nil {
		out = ir.Record{}
	}
	if out.IsError() && len(out) > 1 {
		var extra []string
		for _, k := range out.SortedKeys() {
			if k != "error" {
				extra = append(extra, k)
			}
		}
		return nil, &ResultShapeError{Op: op, Fields: extra}
	}
	return out, nil
}

// CallQuery runs a query. A nil result is normalised to an empty slice.
func (cat *Catalog) CallQuery(ctx context.Context, op ir.OpRef, input ir.Record) ([]ir.Record, error) {
	c, ok := cat.Concept(op.Concept)
	if !ok {
		return nil, &UnknownOperationError{Op: op}
	}
	fn, ok := c.queries[op.Name]
	if !ok {
		return nil, &UnknownOperationError{Op: op}
	}
	rows, err := fn(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if rows == nil {
		rows = []ir.Record{}
	}
	return rows, nil
}

// UnknownOperationError is returned when a call names an operation the
// catalog does not have.
type UnknownOperationError struct {
	Op ir.OpRef
}

func (e *UnknownOperationError) Error() string {
	return fmt.Sprintf("unknown operation %s", e.Op)
}

// Fail builds the error shape of an action result.
func Fail(format string, args ...any) ir.Record {
	return ir.Record{"error": ir.String(fmt.Sprintf(format, args...))}
}
