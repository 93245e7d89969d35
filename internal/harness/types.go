package harness

import "github.com/roach88/recipesync/internal/ir"

// Trace event types.
const (
	EventAction = "action"
	EventQuery  = "query"
	EventFiring = "firing"
)

// TraceEvent is one entry of a scenario trace: a completed action or
// query, or a rule firing. Events are ordered by Seq.
type TraceEvent struct {
	Seq  int64  `json:"seq"`
	Flow string `json:"flow"`
	Type string `json:"type"`

	// Op is the operation of an action or query.
	Op string `json:"op,omitempty"`

	// Rule is the rule of a firing, or the rule whose firing invoked an
	// action. Empty for external calls.
	Rule string `json:"rule,omitempty"`

	Input  ir.Record   `json:"input,omitempty"`
	Output ir.Record   `json:"output,omitempty"`
	Rows   []ir.Record `json:"rows,omitempty"`

	// Frame is the binding a firing fired with.
	Frame ir.Record `json:"frame,omitempty"`
}

// Response is what one flow step got back.
type Response struct {
	Step int       `json:"step"`
	Flow string    `json:"flow,omitempty"`
	Body ir.Record `json:"body,omitempty"`

	// Rows is set for a directly invoked query.
	Rows []ir.Record `json:"rows,omitempty"`

	// Answered is false for a request no rule responded to.
	Answered bool `json:"answered"`
}

// Result is the outcome of a test scenario execution.
type Result struct {
	// Pass is true when every expectation and assertion held.
	Pass bool `json:"pass"`

	// Trace contains every action, query and firing in seq order.
	Trace []TraceEvent `json:"trace"`

	Responses []Response `json:"responses"`

	// Errors contains validation error messages.
	// Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`
}

// NewResult creates a new passing result.
// Used as the starting point for test execution.
func NewResult() *Result {
	return &Result{
		Pass:      true,
		Trace:     []TraceEvent{},
		Responses: []Response{},
		Errors:    []string{},
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// Actions returns the action and query events of the trace.
func (r *Result) Actions() []TraceEvent {
	var out []TraceEvent
	for _, e := range r.Trace {
		if e.Type != EventFiring {
			out = append(out, e)
		}
	}
	return out
}
