package harness

import (
	"fmt"
	"strings"

	"github.com/roach88/recipesync/internal/ir"
)

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string       // Assertion type for categorization
	Expected string       // Human-readable expected outcome
	Actual   string       // Human-readable actual outcome
	Trace    []TraceEvent // Full trace for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	fmt.Fprintf(&buf, "\nFull trace:\n")
	for _, event := range e.Trace {
		switch event.Type {
		case EventFiring:
			fmt.Fprintf(&buf, "  [%d] fire %s %v\n", event.Seq, event.Rule, ir.ToGo(event.Frame))
		default:
			fmt.Fprintf(&buf, "  [%d] %s %v -> %v\n", event.Seq, event.Op, ir.ToGo(event.Input), ir.ToGo(event.Output))
		}
	}

	return buf.String()
}

// actionMatcher selects action and query events by operation and by
// input and output subsets.
type actionMatcher struct {
	op     string
	args   ir.Record
	output ir.Record
}

func newActionMatcher(a Assertion) (actionMatcher, error) {
	args, err := convertArgs(a.Args)
	if err != nil {
		return actionMatcher{}, fmt.Errorf("args: %w", err)
	}
	output, err := convertArgs(a.Output)
	if err != nil {
		return actionMatcher{}, fmt.Errorf("output: %w", err)
	}
	return actionMatcher{op: a.Action, args: args, output: output}, nil
}

func (m actionMatcher) matches(e TraceEvent) bool {
	return e.Type != EventFiring &&
		e.Op == m.op &&
		subsetMatch(e.Input, m.args) &&
		subsetMatch(e.Output, m.output)
}

func (m actionMatcher) count(trace []TraceEvent) int {
	n := 0
	for _, e := range trace {
		if m.matches(e) {
			n++
		}
	}
	return n
}

func (m actionMatcher) String() string {
	var buf strings.Builder
	buf.WriteString(m.op)
	if len(m.args) > 0 {
		fmt.Fprintf(&buf, " with args %v", ir.ToGo(m.args))
	}
	if len(m.output) > 0 {
		fmt.Fprintf(&buf, " with output %v", ir.ToGo(m.output))
	}
	return buf.String()
}

// assertTraceContains checks if the trace contains an action matching
// the specified operation, args and output (subset match).
func assertTraceContains(trace []TraceEvent, assertion Assertion) error {
	m, err := newActionMatcher(assertion)
	if err != nil {
		return err
	}
	if m.count(trace) > 0 {
		return nil
	}
	return &AssertionError{
		Type:     AssertTraceContains,
		Expected: "action " + m.String(),
		Actual:   "not found in trace",
		Trace:    trace,
	}
}

// assertTraceAbsent checks that no action matches.
func assertTraceAbsent(trace []TraceEvent, assertion Assertion) error {
	m, err := newActionMatcher(assertion)
	if err != nil {
		return err
	}
	if n := m.count(trace); n > 0 {
		return &AssertionError{
			Type:     AssertTraceAbsent,
			Expected: "no action " + m.String(),
			Actual:   fmt.Sprintf("%d occurrences", n),
			Trace:    trace,
		}
	}
	return nil
}

// assertTraceOrder checks if actions appear in the specified order.
// Actions don't need to be consecutive (intervening actions are allowed).
func assertTraceOrder(trace []TraceEvent, assertion Assertion) error {
	// First position of each expected action, 1-indexed.
	positions := make(map[string]int)
	for i, event := range trace {
		if event.Type == EventFiring {
			continue
		}
		for _, expected := range assertion.Actions {
			if event.Op == expected && positions[expected] == 0 {
				positions[expected] = i + 1
			}
		}
	}

	for _, action := range assertion.Actions {
		if positions[action] == 0 {
			return &AssertionError{
				Type:     AssertTraceOrder,
				Expected: fmt.Sprintf("all actions present: %v", assertion.Actions),
				Actual:   fmt.Sprintf("missing action: %s", action),
				Trace:    trace,
			}
		}
	}

	for i := 1; i < len(assertion.Actions); i++ {
		prev := assertion.Actions[i-1]
		curr := assertion.Actions[i]

		if positions[prev] >= positions[curr] {
			return &AssertionError{
				Type:     AssertTraceOrder,
				Expected: fmt.Sprintf("actions in order: %v", assertion.Actions),
				Actual: fmt.Sprintf("%s (pos %d) should be before %s (pos %d)",
					prev, positions[prev], curr, positions[curr]),
				Trace: trace,
			}
		}
	}

	return nil
}

// assertTraceCount checks if the action appears exactly the specified number of times.
func assertTraceCount(trace []TraceEvent, assertion Assertion) error {
	m, err := newActionMatcher(assertion)
	if err != nil {
		return err
	}
	if n := m.count(trace); n != assertion.Count {
		return &AssertionError{
			Type:     AssertTraceCount,
			Expected: fmt.Sprintf("%d occurrences of %s", assertion.Count, m),
			Actual:   fmt.Sprintf("%d occurrences", n),
			Trace:    trace,
		}
	}
	return nil
}

// assertRuleFired checks the number of firings of a rule. A zero count
// means at least once.
func assertRuleFired(trace []TraceEvent, assertion Assertion) error {
	n := 0
	for _, e := range trace {
		if e.Type == EventFiring && e.Rule == assertion.Rule {
			n++
		}
	}

	switch {
	case assertion.Count == 0 && n == 0:
		return &AssertionError{
			Type:     AssertRuleFired,
			Expected: fmt.Sprintf("rule %s to fire", assertion.Rule),
			Actual:   "never fired",
			Trace:    trace,
		}
	case assertion.Count > 0 && n != assertion.Count:
		return &AssertionError{
			Type:     AssertRuleFired,
			Expected: fmt.Sprintf("%d firings of %s", assertion.Count, assertion.Rule),
			Actual:   fmt.Sprintf("%d firings", n),
			Trace:    trace,
		}
	}
	return nil
}

// subsetMatch reports whether every field of expected is present in
// actual with an equal value. Extra fields in actual are ignored.
func subsetMatch(actual, expected ir.Record) bool {
	for key, want := range expected {
		got, ok := actual[key]
		if !ok || !ir.Equal(got, want) {
			return false
		}
	}
	return true
}

// EvaluateAssertions evaluates all assertions against the result's trace.
// Returns a slice of error messages for failed assertions.
func EvaluateAssertions(result *Result, assertions []Assertion) []string {
	var errors []string

	for i, assertion := range assertions {
		var err error

		switch assertion.Type {
		case AssertTraceContains:
			err = assertTraceContains(result.Trace, assertion)
		case AssertTraceAbsent:
			err = assertTraceAbsent(result.Trace, assertion)
		case AssertTraceOrder:
			err = assertTraceOrder(result.Trace, assertion)
		case AssertTraceCount:
			err = assertTraceCount(result.Trace, assertion)
		case AssertRuleFired:
			err = assertRuleFired(result.Trace, assertion)
		default:
			err = fmt.Errorf("assertion[%d]: unknown assertion type %q", i, assertion.Type)
		}

		if err != nil {
			errors = append(errors, err.Error())
		}
	}

	return errors
}
