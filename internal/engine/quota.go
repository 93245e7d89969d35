package engine

import (
	"fmt"
)

// QuotaEnforcer counts the actions executed in one flow and enforces a
// maximum.
//
// Each flow owns one enforcer, created by NewFlow and dropped by EndFlow.
// It is checked once per popped work item, before the operation runs, so
// the action that would exceed the limit is never invoked and never
// recorded. The root invocation counts like any other step.
//
// The engine does not suppress rules whose then re-triggers their own when.
// Such a loop keeps producing new records, so the firing guard never sees a
// repeat; the quota is what terminates it. Together:
//   - FiringGuard: the same rule never fires twice for the same records.
//   - QuotaEnforcer: a chain of ever-new records stops at maxSteps.
//
// Not safe for concurrent use on its own; the flow's mutex guards it.
type QuotaEnforcer struct {
	maxSteps int // Maximum actions allowed in the flow
	current  int // Actions executed so far, across every InvokeFlow call
}

// NewQuotaEnforcer creates a new quota enforcer with the given limit.
//
// maxSteps is the per-flow limit, DefaultMaxSteps unless the dispatcher
// was built WithMaxSteps (engine.max_steps in the config, max_steps in a
// scenario).
func NewQuotaEnforcer(maxSteps int) *QuotaEnforcer {
	return &QuotaEnforcer{maxSteps: maxSteps}
}

// Check increments the step counter and validates against the limit.
// Returns StepsExceededError once the limit is passed.
func (q *QuotaEnforcer) Check(flow string) error {
	q.current++
	if q.current > q.maxSteps {
		return &StepsExceededError{
			Flow:  flow,
			Steps: q.current,
			Limit: q.maxSteps,
		}
	}
	return nil
}

// Current returns the current step count.
// The dispatcher diffs it around a cascade to report Result.Steps.
func (q *QuotaEnforcer) Current() int {
	return q.current
}

// StepsExceededError is returned when a flow exceeds the max steps quota.
//
// It terminates the whole cascade: work still on the stack is discarded
// and the error is returned from Invoke. Records completed before the
// limit stay in the flow history and the recorder. Match it with
// IsQuotaError.
type StepsExceededError struct {
	Flow  string // The flow that exceeded the quota
	Steps int    // Steps counted, including the refused one
	Limit int    // Maximum allowed steps
}

// Error implements the error interface.
func (e *StepsExceededError) Error() string {
	return fmt.Sprintf("flow %s exceeded max steps quota: %d steps > %d limit",
		e.Flow, e.Steps, e.Limit)
}
