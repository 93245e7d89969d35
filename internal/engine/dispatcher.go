package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/roach88/recipesync/internal/concept"
	"github.com/roach88/recipesync/internal/frames"
	"github.com/roach88/recipesync/internal/ir"
)

// DefaultMaxSteps is the default maximum number of actions per flow.
// This prevents self-triggering rules from running forever.
const DefaultMaxSteps = 1000

// ErrFlowNotOpen is returned by InvokeFlow for a token NewFlow did not
// hand out, or one that has already been ended.
var ErrFlowNotOpen = errors.New("flow is not open")

// Executor runs concept operations. Implemented by concept.Catalog.
type Executor interface {
	CallAction(ctx context.Context, op ir.OpRef, input ir.Record) (ir.Record, error)
	CallQuery(ctx context.Context, op ir.OpRef, input ir.Record) ([]ir.Record, error)
}

// Catalog is what the dispatcher needs from the concepts: their operation
// signatures and a way to call them.
type Catalog interface {
	Signatures
	Executor
}

// Result is the outcome of the externally invoked operation. The cascade
// it triggered has already run when Invoke returns.
type Result struct {
	Record ir.ActionRecord
	Output ir.Record   // action result (success fields or {error})
	Rows   []ir.Record // query rows
	Steps  int         // actions executed, the external one included
}

// Call is one then invocation of a planned firing.
type Call struct {
	Op    ir.OpRef
	Input ir.Record
}

// Planned is a rule instance ready to fire for one frame.
type Planned struct {
	Firing ir.Firing
	Then   []Call
}

// Dispatcher runs cascades: it executes an operation, matches the result
// against the registry and executes every then invocation, treating each as
// a new completion.
//
// Thread-safety model:
//   - calls on different flows run concurrently,
//   - calls on the same flow are serialized,
//   - the registry is shared read-only.
type Dispatcher struct {
	catalog  Catalog
	registry *Registry
	logger   *slog.Logger
	recorder Recorder
	observer Observer
	flowGen  FlowTokenGenerator
	clock    *Clock
	guard    *FiringGuard
	maxSteps int

	mu    sync.Mutex
	flows map[string]*flowState
}

// flowState is the per-flow context: the history that later when clauses
// join against and the step quota.
type flowState struct {
	mu      sync.Mutex
	history []ir.ActionRecord
	quota   *QuotaEnforcer
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(d *Dispatcher) {
		d.logger = l
	}
}

// WithMaxSteps sets the maximum number of actions per flow.
//
// Default: 1000 steps (DefaultMaxSteps)
// Use WithMaxSteps(10) for testing quota enforcement.
func WithMaxSteps(maxSteps int) Option {
	return func(d *Dispatcher) {
		d.maxSteps = maxSteps
	}
}

// WithRecorder persists the trace.
func WithRecorder(r Recorder) Option {
	return func(d *Dispatcher) {
		d.recorder = r
	}
}

// WithObserver reports engine events, e.g. to metrics.
func WithObserver(o Observer) Option {
	return func(d *Dispatcher) {
		d.observer = o
	}
}

// WithFlowGenerator sets the flow token source (a testutil.SequenceGenerator in tests).
func WithFlowGenerator(g FlowTokenGenerator) Option {
	return func(d *Dispatcher) {
		d.flowGen = g
	}
}

// WithClock sets the logical clock, e.g. one resumed from an action log.
func WithClock(c *Clock) Option {
	return func(d *Dispatcher) {
		d.clock = c
	}
}

// New creates a dispatcher over a catalog and a registry built with Register.
func New(catalog Catalog, registry *Registry, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		catalog:  catalog,
		registry: registry,
		logger:   slog.Default(),
		recorder: nopRecorder{},
		observer: nopObserver{},
		flowGen:  UUIDv7Generator{},
		clock:    NewClock(),
		guard:    NewFiringGuard(),
		maxSteps: DefaultMaxSteps,
		flows:    make(map[string]*flowState),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Registry returns the registry the dispatcher evaluates.
func (d *Dispatcher) Registry() *Registry {
	return d.registry
}

// Clock returns the dispatcher's logical clock.
func (d *Dispatcher) Clock() *Clock {
	return d.clock
}

// NewFlow opens a flow. Actions invoked through InvokeFlow with the
// returned token share one history, so rules can correlate them.
func (d *Dispatcher) NewFlow() string {
	flow := d.flowGen.Generate()

	d.mu.Lock()
	d.flows[flow] = &flowState{quota: NewQuotaEnforcer(d.maxSteps)}
	d.mu.Unlock()

	return flow
}

// EndFlow releases a flow's history, quota and firing guard.
func (d *Dispatcher) EndFlow(flow string) {
	d.mu.Lock()
	delete(d.flows, flow)
	d.mu.Unlock()

	d.guard.Clear(flow)
}

// OpenFlows returns the number of flows not yet ended.
func (d *Dispatcher) OpenFlows() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.flows)
}

// History returns the records completed so far in a flow.
func (d *Dispatcher) History(flow string) []ir.ActionRecord {
	st, ok := d.state(flow)
	if !ok {
		return nil
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	return slices.Clone(st.history)
}

func (d *Dispatcher) state(flow string) (*flowState, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	st, ok := d.flows[flow]
	return st, ok
}

// Invoke runs op in a new flow together with its whole cascade.
func (d *Dispatcher) Invoke(ctx context.Context, op ir.OpRef, input ir.Record) (Result, error) {
	flow := d.NewFlow()
	defer d.EndFlow(flow)
	return d.InvokeFlow(ctx, flow, op, input)
}

// InvokeFlow runs op and its cascade inside an open flow.
//
// The cascade runs to completion on the calling goroutine. ctx is handed to
// concept operations; the dispatcher itself never abandons a cascade
// half-way, so request timeouts belong at the boundary (Requesting.Await).
//
// Domain failures and empty frame sets do not produce errors. Errors are
// wiring faults (*ConfigError), broken concept contracts (*RuntimeError),
// the step quota (*StepsExceededError) and Go errors from concepts or the
// recorder. The Result is still filled for the external operation if it
// completed before the fault.
func (d *Dispatcher) InvokeFlow(ctx context.Context, flow string, op ir.OpRef, input ir.Record) (Result, error) {
	st, ok := d.state(flow)
	if !ok {
		return Result{}, fmt.Errorf("%w: %s", ErrFlowNotOpen, flow)
	}
	st.mu.Lock()
	defer st.mu.Unlock()

	d.logger.Debug("cascade starting", "flow", flow, "op", op.String())

	var (
		result Result
		root   = true
		err    error
		start  = st.quota.Current()
		stack  = newWorkStack(work{op: op, input: input})
	)
	for {
		w, ok := stack.pop()
		if !ok {
			break
		}
		var rec ir.ActionRecord
		if rec, err = d.step(ctx, flow, st, w); err != nil {
			break
		}
		if root {
			result.Record = rec
			result.Output = rec.Output
			result.Rows = rec.Rows
			root = false
		}
		if rec.Kind != ir.KindAction {
			// Queries never trigger rules.
			continue
		}
		var next []work
		if next, err = d.fire(ctx, flow, st, rec); err != nil {
			break
		}
		stack.pushAll(next)
	}

	result.Steps = st.quota.Current() - start
	d.observer.CascadeFinished(result.Steps, err)
	if err != nil {
		d.logger.Error("cascade aborted",
			"flow", flow,
			"op", op.String(),
			"steps", result.Steps,
			"seq", d.clock.Current(),
			"pending", stack.len(),
			"error", err,
		)
		return result, err
	}
	d.logger.Info("cascade finished", "flow", flow, "op", op.String(), "steps", result.Steps, "seq", d.clock.Current())
	return result, nil
}

// step executes one invocation and appends its record to the flow history.
func (d *Dispatcher) step(ctx context.Context, flow string, st *flowState, w work) (ir.ActionRecord, error) {
	if err := st.quota.Check(flow); err != nil {
		return ir.ActionRecord{}, err
	}
	if w.input == nil {
		w.input = ir.Record{}
	}

	kind, ok := d.catalog.Lookup(w.op)
	if !ok {
		return ir.ActionRecord{}, &RuntimeError{
			Code:    ErrCodeMissingOperation,
			Message: fmt.Sprintf("operation %s does not exist", w.op),
			Flow:    flow,
			Rule:    w.rule,
		}
	}

	seq := d.clock.Next()
	id, err := ir.RecordID(flow, w.op, w.input, seq)
	if err != nil {
		return ir.ActionRecord{}, fmt.Errorf("record id for %s: %w", w.op, err)
	}
	rec := ir.ActionRecord{
		ID:    id,
		Flow:  flow,
		Seq:   seq,
		Op:    w.op,
		Kind:  kind,
		Input: w.input,
		Cause: w.cause,
	}

	switch kind {
	case ir.KindAction:
		out, err := d.catalog.CallAction(ctx, w.op, w.input)
		if err != nil {
			return ir.ActionRecord{}, d.callError(flow, w, err)
		}
		rec.Output = out
	case ir.KindQuery:
		rows, err := d.catalog.CallQuery(ctx, w.op, w.input)
		if err != nil {
			return ir.ActionRecord{}, d.callError(flow, w, err)
		}
		rec.Rows = rows
	}

	st.history = append(st.history, rec)
	if err := d.recorder.RecordAction(ctx, rec); err != nil {
		return rec, fmt.Errorf("record action %s: %w", w.op, err)
	}
	d.observer.ActionCompleted(rec)

	d.logger.Info("action completed",
		"flow", flow,
		"seq", seq,
		"op", w.op.String(),
		"kind", kind.String(),
		"failed", rec.Output.IsError(),
		"rule", w.rule,
	)
	d.logger.Debug("action record",
		"id", rec.ID,
		"input", ir.ToGo(rec.Input),
		"output", ir.ToGo(rec.Output),
		"rows", len(rec.Rows),
	)
	return rec, nil
}

func (d *Dispatcher) callError(flow string, w work, err error) error {
	var shape *concept.ResultShapeError
	if errors.As(err, &shape) {
		return &RuntimeError{Code: ErrCodeMalformedResult, Message: "action broke the result contract", Flow: flow, Rule: w.rule, Err: err}
	}
	var unknown *concept.UnknownOperationError
	if errors.As(err, &unknown) {
		return &RuntimeError{Code: ErrCodeMissingOperation, Message: "catalog cannot call operation", Flow: flow, Rule: w.rule, Err: err}
	}
	return fmt.Errorf("flow %s: %w", flow, err)
}

// fire evaluates every candidate rule for a completed action and returns
// the then invocations in execution order: rule registration order, then
// frame order, then then-declaration order within a frame.
func (d *Dispatcher) fire(ctx context.Context, flow string, st *flowState, rec ir.ActionRecord) ([]work, error) {
	claim := func(key string) bool { return d.guard.Mark(flow, key) }
	planned, err := d.evaluate(ctx, rec, st.history, claim, d.observer)
	if err != nil {
		return nil, err
	}

	var next []work
	for _, p := range planned {
		p.Firing.Seq = d.clock.Next()
		if err := d.recorder.RecordFiring(ctx, p.Firing); err != nil {
			return nil, fmt.Errorf("record firing of %s: %w", p.Firing.Rule, err)
		}
		d.logger.Info("rule fired",
			"flow", flow,
			"rule", p.Firing.Rule,
			"firing", p.Firing.ID,
			"then", len(p.Then),
		)
		d.logger.Debug("firing frame", "rule", p.Firing.Rule, "frame", ir.ToGo(p.Firing.Frame))
		for _, c := range p.Then {
			next = append(next, work{op: c.Op, input: c.Input, cause: p.Firing.ID, rule: p.Firing.Rule})
		}
	}
	return next, nil
}

// evaluate matches rec against every candidate rule. claim, when non-nil,
// is asked once per match and returning false skips it (already fired).
func (d *Dispatcher) evaluate(ctx context.Context, rec ir.ActionRecord, history []ir.ActionRecord, claim func(string) bool, obs Observer) ([]Planned, error) {
	q := querier{exec: d.catalog, logger: d.logger}

	var out []Planned
	for _, trig := range d.registry.Candidates(rec.Op) {
		rule := trig.Rule
		matches := matchWhen(rule, trig.Clause, rec, history)
		if len(matches) == 0 {
			d.logger.Debug("when not satisfied", "rule", rule.Name, "clause", trig.Clause, "op", rec.Op.String())
			continue
		}

		for _, m := range matches {
			key := m.key(rule.Name)
			if claim != nil && !claim(key) {
				d.logger.Debug("rule already fired for these records", "rule", rule.Name, "match_key", key)
				continue
			}
			d.logger.Debug("when matched", "rule", rule.Name, "frame", ir.ToGo(m.frame.Bound()))

			fs, err := runWhere(ctx, q, rule, ir.Frames{m.frame}, d.logger)
			if err != nil {
				return nil, err
			}
			if len(fs) == 0 {
				obs.FramesDropped(rule.Name, "where", 1)
				d.logger.Debug("where dropped every frame", "rule", rule.Name)
				continue
			}

			for i, f := range fs {
				p, err := planFiring(rule, rec.Flow, key, m.records, i, f)
				if err != nil {
					return nil, err
				}
				out = append(out, p)
			}
			obs.RuleFired(rule.Name, len(fs))
		}
	}
	return out, nil
}

// planFiring instantiates the then templates of rule for one frame.
func planFiring(rule *ir.Rule, flow, key string, records []string, index int, f ir.Frame) (Planned, error) {
	bound := f.Bound()
	hash, err := ir.BindingHash(bound)
	if err != nil {
		return Planned{}, fmt.Errorf("rule %s: binding hash: %w", rule.Name, err)
	}

	calls := make([]Call, 0, len(rule.Then))
	for i, then := range rule.Then {
		input, err := frames.Substitute(f, then.Input)
		if err != nil {
			var unbound *frames.UnboundVariableError
			if errors.As(err, &unbound) {
				return Planned{}, &ConfigError{
					Code:    ErrCodeUnboundVariable,
					Rule:    rule.Name,
					Clause:  fmt.Sprintf("then[%d]", i),
					Message: unbound.Error(),
				}
			}
			return Planned{}, &RuntimeError{Code: ErrCodeBindingFailed, Message: "cannot build then input", Flow: flow, Rule: rule.Name, Err: err}
		}
		calls = append(calls, Call{Op: then.Op, Input: input})
	}

	return Planned{
		Firing: ir.Firing{
			ID:          ir.FiringID(key, hash, index),
			Flow:        flow,
			Rule:        rule.Name,
			MatchKey:    key,
			RecordIDs:   slices.Clone(records),
			BindingHash: hash,
			Index:       index,
			Frame:       bound,
		},
		Then: calls,
	}, nil
}

// Plan evaluates a completed action against a history without executing,
// recording or remembering anything. Calling it twice with the same
// arguments yields the same firings, as long as the where queries see the
// same concept state.
func (d *Dispatcher) Plan(ctx context.Context, history []ir.ActionRecord, rec ir.ActionRecord) ([]Planned, error) {
	if rec.Kind != ir.KindAction {
		return nil, nil
	}
	return d.evaluate(ctx, rec, history, nil, nopObserver{})
}

// querier lets where clauses run concept queries and nothing else.
type querier struct {
	exec   Executor
	logger *slog.Logger
}

func (q querier) Query(ctx context.Context, op ir.OpRef, input ir.Record) ([]ir.Record, error) {
	rows, err := q.exec.CallQuery(ctx, op, input)
	if err != nil {
		return nil, err
	}
	q.logger.Debug("where query", "op", op.String(), "input", ir.ToGo(input), "rows", len(rows))
	return rows, nil
}
