package harness

import (
	"bytes"
	"fmt"
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/recipesync/internal/ir"
)

// FormatTrace renders a trace as one line per event, in seq order:
//
//	0001 flow-1 action Requesting.request {"path":"/Authentication/register"} -> {"request":"r1"}
//	0002 flow-1 fire RegisterRequest {"request":"r1"}
//	0003 flow-1 action Authentication.register <- RegisterRequest {...} -> {...}
//
// Records are written as canonical JSON, so the text is stable across
// runs and map iteration orders.
func FormatTrace(name string, trace []TraceEvent) ([]byte, error) {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "# %s\n", name)

	for _, e := range trace {
		fmt.Fprintf(&buf, "%04d %s ", e.Seq, e.Flow)
		switch e.Type {
		case EventFiring:
			frame, err := canonical(e.Frame)
			if err != nil {
				return nil, fmt.Errorf("seq %d: frame: %w", e.Seq, err)
			}
			fmt.Fprintf(&buf, "fire %s %s\n", e.Rule, frame)
			continue
		default:
			fmt.Fprintf(&buf, "%s %s ", e.Type, e.Op)
		}
		if e.Rule != "" {
			fmt.Fprintf(&buf, "<- %s ", e.Rule)
		}

		input, err := canonical(e.Input)
		if err != nil {
			return nil, fmt.Errorf("seq %d: input: %w", e.Seq, err)
		}
		var out []byte
		if e.Type == EventQuery {
			rows := make(ir.Array, len(e.Rows))
			for i, r := range e.Rows {
				rows[i] = r
			}
			out, err = ir.MarshalCanonical(rows)
		} else {
			out, err = canonical(e.Output)
		}
		if err != nil {
			return nil, fmt.Errorf("seq %d: output: %w", e.Seq, err)
		}
		fmt.Fprintf(&buf, "%s -> %s\n", input, out)
	}
	return buf.Bytes(), nil
}

func canonical(r ir.Record) ([]byte, error) {
	if r == nil {
		r = ir.Record{}
	}
	return ir.MarshalCanonical(r)
}

// RunWithGolden executes a scenario and compares the trace against a golden file.
// The golden file is stored in testdata/golden/{scenario.Name}.golden
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
//
// Returns the result so callers can assert on responses too. Test failure
// (via goldie) occurs if the trace doesn't match the golden file.
func RunWithGolden(t *testing.T, scenario *Scenario, opts ...Option) (*Result, error) {
	t.Helper()

	result, err := Run(t.Context(), scenario, opts...)
	if err != nil {
		return nil, err
	}
	if err := AssertGolden(t, scenario.Name, result); err != nil {
		return nil, err
	}
	return result, nil
}

// AssertGolden compares the given result's trace against a golden file.
// This is useful when you've already run a scenario and want to compare
// the result against a golden file without re-running.
func AssertGolden(t *testing.T, scenarioName string, result *Result) error {
	t.Helper()

	text, err := FormatTrace(scenarioName, result.Trace)
	if err != nil {
		return err
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenarioName, text)

	return nil
}
