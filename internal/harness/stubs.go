package harness

import (
	"context"
	"fmt"

	"github.com/roach88/recipesync/internal/compiler"
	"github.com/roach88/recipesync/internal/concept"
	"github.com/roach88/recipesync/internal/ir"
)

// stub is a Stub with its YAML values converted.
type stub struct {
	when   ir.Record
	output ir.Record
	rows   []ir.Record
}

// NoStubError is returned when a stubbed operation has no entry matching
// the call's input.
type NoStubError struct {
	Op    ir.OpRef
	Input ir.Record
}

func (e *NoStubError) Error() string {
	return fmt.Sprintf("no stub for %s matches input %v", e.Op, ir.ToGo(e.Input))
}

// stubCatalog builds a catalog holding req and, for every other concept of
// the manifest, a concept answering from the scenario's stubs.
func stubCatalog(m *compiler.Manifest, stubs map[string]map[string][]Stub, req *concept.Requesting) (*concept.Catalog, error) {
	for name, ops := range stubs {
		if name == concept.RequestingName {
			return nil, fmt.Errorf("stubs.%s: Requesting is built in and cannot be stubbed", name)
		}
		for op := range ops {
			if _, ok := m.Lookup(ir.Op(name, op)); !ok {
				return nil, fmt.Errorf("stubs.%s.%s: operation is not declared by the rules package", name, op)
			}
		}
	}

	concepts := []*concept.Concept{req.Concept()}
	for _, decl := range m.Concepts {
		if decl.Name == concept.RequestingName {
			continue
		}
		c := concept.New(decl.Name)
		for _, name := range decl.Actions {
			entries, err := convertStubs(decl.Name, name, stubs[decl.Name][name])
			if err != nil {
				return nil, err
			}
			c.Action(name, stubAction(ir.Op(decl.Name, name), entries))
		}
		for _, name := range decl.Queries {
			entries, err := convertStubs(decl.Name, name, stubs[decl.Name][name])
			if err != nil {
				return nil, err
			}
			c.Query(name, stubQuery(ir.Op(decl.Name, name), entries))
		}
		concepts = append(concepts, c)
	}
	return concept.NewCatalog(concepts...)
}

func convertStubs(conceptName, op string, in []Stub) ([]stub, error) {
	out := make([]stub, len(in))
	for i, s := range in {
		field := fmt.Sprintf("stubs.%s.%s[%d]", conceptName, op, i)
		var err error
		if out[i].when, err = convertArgs(s.When); err != nil {
			return nil, fmt.Errorf("%s.when: %w", field, err)
		}
		if s.Output != nil {
			if out[i].output, err = convertArgs(s.Output); err != nil {
				return nil, fmt.Errorf("%s.output: %w", field, err)
			}
		}
		for j, row := range s.Rows {
			r, err := convertArgs(row)
			if err != nil {
				return nil, fmt.Errorf("%s.rows[%d]: %w", field, j, err)
			}
			out[i].rows = append(out[i].rows, r)
		}
	}
	return out, nil
}

func stubAction(op ir.OpRef, stubs []stub) concept.Action {
	return func(_ context.Context, input ir.Record) (ir.Record, error) {
		for _, s := range stubs {
			if subsetMatch(input, s.when) {
				return s.output.Clone(), nil
			}
		}
		return nil, &NoStubError{Op: op, Input: input}
	}
}

func stubQuery(op ir.OpRef, stubs []stub) concept.Query {
	return func(_ context.Context, input ir.Record) ([]ir.Record, error) {
		for _, s := range stubs {
			if subsetMatch(input, s.when) {
				rows := make([]ir.Record, len(s.rows))
				for i, r := range s.rows {
					rows[i] = r.Clone()
				}
				return rows, nil
			}
		}
		return nil, &NoStubError{Op: op, Input: input}
	}
}
