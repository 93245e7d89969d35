package harness

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/roach88/recipesync/internal/compiler"
	"github.com/roach88/recipesync/internal/concept"
	"github.com/roach88/recipesync/internal/engine"
	"github.com/roach88/recipesync/internal/ir"
	"github.com/roach88/recipesync/internal/testutil"
)

// Option configures a scenario run.
type Option func(*runConfig)

type runConfig struct {
	logger   *slog.Logger
	recorder engine.Recorder
	observer engine.Observer
	clock    *engine.Clock
	flowGen  engine.FlowTokenGenerator
	maxSteps int
}

// WithLogger sets the logger handed to the dispatcher. Default: discard.
// A nil logger keeps the default.
func WithLogger(l *slog.Logger) Option {
	return func(c *runConfig) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithRecorder also writes the trace to r, e.g. a store.Store.
func WithRecorder(r engine.Recorder) Option {
	return func(c *runConfig) { c.recorder = r }
}

// WithObserver reports engine events to o, e.g. telemetry.Metrics.
func WithObserver(o engine.Observer) Option {
	return func(c *runConfig) { c.observer = o }
}

// WithClock continues seq numbering from c instead of starting at 1.
// Needed when several runs share one action log.
func WithClock(c *engine.Clock) Option {
	return func(rc *runConfig) { rc.clock = c }
}

// WithFlowGenerator replaces the scenario's sequential flow tokens, e.g.
// with engine.UUIDv7Generator when runs share a persistent action log.
func WithFlowGenerator(g engine.FlowTokenGenerator) Option {
	return func(c *runConfig) { c.flowGen = g }
}

// WithMaxSteps sets the per-flow action quota for scenarios that do not
// set max_steps themselves.
func WithMaxSteps(n int) Option {
	return func(c *runConfig) { c.maxSteps = n }
}

// Harness executes one scenario against a real dispatcher.
type Harness struct {
	scenario   *Scenario
	dispatcher *engine.Dispatcher
	requesting *concept.Requesting
	pass       concept.Passthrough
	memory     *engine.MemoryRecorder
	flows      map[string]string // step flow name -> token
	logger     *slog.Logger
}

// Run executes a test scenario and returns the result.
//
// The rules package is compiled from scenario.Rules, every declared
// concept except Requesting is replaced by the scenario's stubs, and each
// flow step is run through the dispatcher to completion. Flow tokens and
// request ids come from sequence generators, so identical scenarios give
// identical traces.
//
// Failed expectations and assertions are reported in the Result. The
// error return is for scenarios that cannot run at all: rules that do not
// compile or register, or malformed stubs.
func Run(ctx context.Context, scenario *Scenario, opts ...Option) (*Result, error) {
	cfg := runConfig{logger: testutil.DiscardLogger()}
	for _, opt := range opts {
		opt(&cfg)
	}

	h, err := newHarness(scenario, cfg)
	if err != nil {
		return nil, err
	}
	defer h.endFlows()

	result := NewResult()
	for i, step := range scenario.Flow {
		resp, err := h.runStep(ctx, i, step)
		if err != nil {
			result.AddError(fmt.Sprintf("flow[%d]: %v", i, err))
			continue
		}
		result.Responses = append(result.Responses, resp)
		for _, msg := range checkResponse(i, step, resp) {
			result.AddError(msg)
		}
	}

	result.Trace = BuildTrace(h.memory.Actions(), h.memory.Firings())
	for _, msg := range EvaluateAssertions(result, scenario.Assertions) {
		result.AddError(msg)
	}

	h.logger.Info("scenario finished",
		"scenario", scenario.Name,
		"pass", result.Pass,
		"events", len(result.Trace),
		"errors", len(result.Errors),
	)
	return result, nil
}

func newHarness(s *Scenario, cfg runConfig) (*Harness, error) {
	bundle, err := compiler.LoadDir(s.Rules)
	if err != nil {
		return nil, fmt.Errorf("compile rules: %w", err)
	}

	requesting := concept.NewRequesting(testutil.NewSequenceGenerator(cmp.Or(s.RequestPrefix, DefaultRequestPrefix)))
	catalog, err := stubCatalog(bundle.Manifest, s.Stubs, requesting)
	if err != nil {
		return nil, err
	}
	registry, err := engine.Register(catalog, bundle.Rules...)
	if err != nil {
		return nil, fmt.Errorf("register rules: %w", err)
	}

	memory := engine.NewMemoryRecorder()
	var recorder engine.Recorder = memory
	if cfg.recorder != nil {
		recorder = engine.MultiRecorder(cfg.recorder, memory)
	}

	var flowGen engine.FlowTokenGenerator = testutil.NewSequenceGenerator(cmp.Or(s.FlowPrefix, DefaultFlowPrefix))
	if cfg.flowGen != nil {
		flowGen = cfg.flowGen
	}

	dopts := []engine.Option{
		engine.WithLogger(cfg.logger),
		engine.WithRecorder(recorder),
		engine.WithFlowGenerator(flowGen),
	}
	if cfg.observer != nil {
		dopts = append(dopts, engine.WithObserver(cfg.observer))
	}
	if cfg.clock != nil {
		dopts = append(dopts, engine.WithClock(cfg.clock))
	}
	if steps := cmp.Or(s.MaxSteps, cfg.maxSteps); steps > 0 {
		dopts = append(dopts, engine.WithMaxSteps(steps))
	}

	return &Harness{
		scenario:   s,
		dispatcher: engine.New(catalog, registry, dopts...),
		requesting: requesting,
		pass:       s.Passthrough.policy(),
		memory:     memory,
		flows:      make(map[string]string),
		logger:     cfg.logger,
	}, nil
}

func (h *Harness) runStep(ctx context.Context, i int, step FlowStep) (Response, error) {
	if step.Request != nil {
		return h.request(ctx, i, step)
	}
	return h.invokeStep(ctx, i, step)
}

// request serves a request step the way the HTTP boundary would.
//
// Cascades run synchronously, so once the request action returns its
// response either exists or never will. The wait context is cancelled
// right after the invocation, which turns a missing response into an
// immediate error instead of a hang.
func (h *Harness) request(ctx context.Context, i int, step FlowStep) (Response, error) {
	fields, err := convertArgs(step.Request)
	if err != nil {
		return Response{}, fmt.Errorf("request: %w", err)
	}
	path := string(fields["path"].(ir.String))
	delete(fields, "path")

	waitCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	resp := Response{Step: i}
	var invokeErr error
	invoke := func(_ context.Context, op ir.OpRef, input ir.Record) (ir.Record, error) {
		defer cancel()
		res, err := h.invoke(ctx, step.Flow, op, input)
		resp.Flow = res.Record.Flow
		resp.Rows = res.Rows
		invokeErr = err
		return res.Output, err
	}

	body, err := h.requesting.Serve(waitCtx, invoke, h.pass, path, fields)
	switch {
	case invokeErr != nil:
		return Response{}, invokeErr
	case errors.Is(err, context.Canceled) && ctx.Err() == nil:
		h.logger.Info("request unanswered", "step", i, "path", path, "flow", resp.Flow)
		return resp, nil
	case err != nil:
		return Response{}, err
	}

	resp.Body = body
	resp.Answered = true
	return resp, nil
}

func (h *Harness) invokeStep(ctx context.Context, i int, step FlowStep) (Response, error) {
	op, err := ir.ParseOpRef(step.Invoke)
	if err != nil {
		return Response{}, fmt.Errorf("invoke: %w", err)
	}
	input, err := convertArgs(step.Input)
	if err != nil {
		return Response{}, fmt.Errorf("invoke %s: %w", op, err)
	}

	res, err := h.invoke(ctx, step.Flow, op, input)
	if err != nil {
		return Response{}, err
	}
	return Response{
		Step:     i,
		Flow:     res.Record.Flow,
		Body:     res.Output,
		Rows:     res.Rows,
		Answered: true,
	}, nil
}

// invoke runs op in the named flow, or in a fresh one when name is empty.
func (h *Harness) invoke(ctx context.Context, name string, op ir.OpRef, input ir.Record) (engine.Result, error) {
	if name == "" {
		return h.dispatcher.Invoke(ctx, op, input)
	}
	token, ok := h.flows[name]
	if !ok {
		token = h.dispatcher.NewFlow()
		h.flows[name] = token
	}
	return h.dispatcher.InvokeFlow(ctx, token, op, input)
}

func (h *Harness) endFlows() {
	for _, token := range h.flows {
		h.dispatcher.EndFlow(token)
	}
}

// checkResponse compares a step's response with its expectations.
func checkResponse(i int, step FlowStep, resp Response) []string {
	var errs []string
	switch {
	case step.Unanswered && resp.Answered:
		errs = append(errs, fmt.Sprintf("flow[%d]: expected no response, got %v", i, ir.ToGo(resp.Body)))
	case !step.Unanswered && !resp.Answered:
		errs = append(errs, fmt.Sprintf("flow[%d]: request got no response", i))
	}
	if step.Expect == nil || !resp.Answered {
		return errs
	}

	want, err := convertArgs(step.Expect)
	if err != nil {
		return append(errs, fmt.Sprintf("flow[%d].expect: %v", i, err))
	}
	if !subsetMatch(resp.Body, want) {
		errs = append(errs, fmt.Sprintf("flow[%d]: expected response %v, got %v", i, ir.ToGo(want), ir.ToGo(resp.Body)))
	}
	return errs
}

// BuildTrace merges recorded actions and firings into one trace in seq
// order. An action caused by a firing missing from firings has no Rule.
func BuildTrace(actions []ir.ActionRecord, firings []ir.Firing) []TraceEvent {
	rules := make(map[string]string, len(firings))
	events := make([]TraceEvent, 0, len(firings)+len(actions))
	for _, f := range firings {
		rules[f.ID] = f.Rule
		events = append(events, TraceEvent{
			Seq:   f.Seq,
			Flow:  f.Flow,
			Type:  EventFiring,
			Rule:  f.Rule,
			Frame: f.Frame,
		})
	}
	for _, a := range actions {
		typ := EventAction
		if a.Kind == ir.KindQuery {
			typ = EventQuery
		}
		events = append(events, TraceEvent{
			Seq:    a.Seq,
			Flow:   a.Flow,
			Type:   typ,
			Op:     a.Op.String(),
			Rule:   rules[a.Cause],
			Input:  a.Input,
			Output: a.Output,
			Rows:   a.Rows,
		})
	}

	slices.SortFunc(events, func(a, b TraceEvent) int { return cmp.Compare(a.Seq, b.Seq) })
	return events
}

// Replay re-evaluates recorded actions with the scenario's rules and stubs
// and returns the firings they produce. Nothing is invoked or recorded.
func Replay(ctx context.Context, scenario *Scenario, records []ir.ActionRecord, opts ...Option) ([]engine.Planned, error) {
	cfg := runConfig{logger: testutil.DiscardLogger()}
	for _, opt := range opts {
		opt(&cfg)
	}
	h, err := newHarness(scenario, cfg)
	if err != nil {
		return nil, err
	}
	return h.dispatcher.Replay(ctx, records)
}

// convertArgs converts YAML-decoded fields to a record.
func convertArgs(args map[string]any) (ir.Record, error) {
	return ir.RecordFromGo(args)
}
