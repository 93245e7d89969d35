package cli

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/recipesync/internal/harness"
	"github.com/roach88/recipesync/internal/ir"
	"github.com/roach88/recipesync/internal/store"
)

// TraceOptions holds flags for the trace command.
type TraceOptions struct {
	*RootOptions
	Database   string
	FlowToken  string
	Action     string // optional - filter to specific operation
	Incomplete bool   // list only flows with unanswered requests
	Why        string // action id to explain back to its root
}

// ProvenanceEdge is one causal link: a rule firing and an action it invoked.
type ProvenanceEdge struct {
	Firing string `json:"firing"`
	Rule   string `json:"rule"`
	Action string `json:"action"`
	Op     string `json:"op"`
}

// TraceResult holds the complete trace output of one flow.
type TraceResult struct {
	Flow       string               `json:"flow"`
	Complete   bool                 `json:"complete"`
	Unanswered []string             `json:"unanswered,omitempty"`
	Timeline   []harness.TraceEvent `json:"timeline"`
	Provenance []ProvenanceEdge     `json:"provenance"`
	Stats      TraceStats           `json:"stats"`
}

// TraceStats holds summary statistics for the trace.
type TraceStats struct {
	Actions int   `json:"actions"`
	Queries int   `json:"queries"`
	Firings int   `json:"firings"`
	LastSeq int64 `json:"last_seq"`
}

// WhyStep is one hop of a backward trace: an action and, unless it is the
// root of its flow, the firing that invoked it.
type WhyStep struct {
	Action  string   `json:"action"`
	Op      string   `json:"op"`
	Seq     int64    `json:"seq"`
	Firing  string   `json:"firing,omitempty"`
	Rule    string   `json:"rule,omitempty"`
	Matched []string `json:"matched,omitempty"`
}

// WhyResult is the output of trace --why: the chain from the asked
// action back to the externally invoked one, newest first.
type WhyResult struct {
	Flow  string    `json:"flow"`
	Chain []WhyStep `json:"chain"`
}

// FlowListResult is the output of trace without --flow.
type FlowListResult struct {
	Flows []FlowListEntry `json:"flows"`
}

// FlowListEntry summarises one flow of the action log.
type FlowListEntry struct {
	store.FlowSummary
	Unanswered []string `json:"unanswered,omitempty"`
}

// NewTraceCommand creates the trace command.
func NewTraceCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TraceOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "trace",
		Short: "Inspect flows recorded in the action log",
		Long: `Inspect the action log written by "recipesync test --db".

Without --flow, lists every flow with its action and firing counts and
any request that was never answered. With --flow, prints the flow's
timeline of actions, queries and rule firings in seq order, the
provenance edges from firings to the actions they invoked, and whether
every request of the flow got a response. With --why, walks backward
from one action: the rule that invoked it, the completion that made the
rule fire, and so on up to the request that started the flow.

Examples:
  recipesync trace --db trace.db
  recipesync trace --db trace.db --incomplete
  recipesync trace --db trace.db --flow 0190f3c1-...
  recipesync trace --db trace.db --flow 0190f3c1-... --action Authentication.register
  recipesync trace --db trace.db --flow 0190f3c1-... --format json
  recipesync trace --db trace.db --why <action-id>`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTrace(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to the SQLite action log (default store.path from the config)")
	cmd.Flags().StringVar(&opts.FlowToken, "flow", "", "flow token to trace")
	cmd.Flags().StringVar(&opts.Action, "action", "", "show only this operation in the timeline")
	cmd.Flags().BoolVar(&opts.Incomplete, "incomplete", false, "list only flows with unanswered requests")
	cmd.Flags().StringVar(&opts.Why, "why", "", "explain why an action ran, back to the request that started its flow")
	cmd.MarkFlagsMutuallyExclusive("why", "flow")
	cmd.MarkFlagsMutuallyExclusive("why", "incomplete")

	return cmd
}

// openLog opens an existing action log. Unlike store.Open it refuses to
// create one.
func openLog(opts *RootOptions, path string) (*store.Store, error) {
	if path == "" {
		path = opts.Config.Store.Path
	}
	if path == "" {
		return nil, NewExitError(ExitCommandError, "no action log: pass --db or set store.path")
	}
	if _, err := os.Stat(path); err != nil {
		return nil, WrapExitError(ExitCommandError, "action log", err)
	}
	st, err := store.Open(path)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open database", err)
	}
	return st, nil
}

func runTrace(opts *TraceOptions, cmd *cobra.Command) error {
	ctx := cmd.Context()
	formatter := newFormatter(opts.RootOptions, cmd)

	st, err := openLog(opts.RootOptions, opts.Database)
	if err != nil {
		return err
	}
	defer st.Close()

	if opts.Why != "" {
		return explainAction(ctx, st, opts.Why, formatter)
	}
	if opts.FlowToken == "" {
		return listFlows(ctx, st, opts.Incomplete, formatter)
	}

	state, err := st.GetFlowState(ctx, opts.FlowToken)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to get flow state", err)
	}

	if len(state.Actions) == 0 {
		if formatter.JSON() {
			return formatter.Respond(TraceResult{
				Flow:       opts.FlowToken,
				Timeline:   []harness.TraceEvent{},
				Provenance: []ProvenanceEdge{},
			}, nil)
		}
		fmt.Fprintf(formatter.Writer, "No events found for flow: %s\n", opts.FlowToken)
		return nil
	}

	provenance, err := buildProvenance(ctx, st, state)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to build provenance", err)
	}

	result := TraceResult{
		Flow:       state.Flow,
		Complete:   state.IsComplete(),
		Unanswered: state.Unanswered,
		Timeline:   filterTimeline(harness.BuildTrace(state.Actions, state.Firings), opts.Action),
		Provenance: provenance,
		Stats:      TraceStats{Firings: len(state.Firings), LastSeq: state.LastSeq},
	}
	for _, a := range state.Actions {
		if a.Kind == ir.KindQuery {
			result.Stats.Queries++
		} else {
			result.Stats.Actions++
		}
	}

	if formatter.JSON() {
		return formatter.Respond(result, nil)
	}
	return outputTraceText(formatter.Writer, result)
}

func listFlows(ctx context.Context, st *store.Store, incompleteOnly bool, formatter *OutputFormatter) error {
	summaries, err := st.ListFlows(ctx)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to list flows", err)
	}
	incomplete, err := st.FindIncompleteFlows(ctx)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to find incomplete flows", err)
	}
	open := make(map[string][]string, len(incomplete))
	for _, fs := range incomplete {
		open[fs.Flow] = fs.Unanswered
	}

	result := FlowListResult{Flows: []FlowListEntry{}}
	for _, s := range summaries {
		unanswered, isOpen := open[s.Flow]
		if incompleteOnly && !isOpen {
			continue
		}
		result.Flows = append(result.Flows, FlowListEntry{FlowSummary: s, Unanswered: unanswered})
	}

	if formatter.JSON() {
		return formatter.Respond(result, nil)
	}

	w := formatter.Writer
	if len(result.Flows) == 0 {
		fmt.Fprintln(w, "No flows found.")
		return nil
	}
	for _, f := range result.Flows {
		fmt.Fprintf(w, "%s  seq %d-%d  %d action(s)  %d firing(s)  %s\n",
			f.Flow, f.FirstSeq, f.LastSeq, f.Actions, f.Firings, completeStatus(f.Unanswered))
	}
	return nil
}

// explainAction follows provenance backward from one action. At each hop
// the firing that invoked the action is looked up, and the walk continues
// from the latest of the records that firing matched: that completion is
// the one that made the rule fire. An action with no provenance was
// invoked from outside and ends the chain.
func explainAction(ctx context.Context, st *store.Store, id string, formatter *OutputFormatter) error {
	rec, err := st.ReadAction(ctx, id)
	if errors.Is(err, sql.ErrNoRows) {
		return NewExitError(ExitCommandError, fmt.Sprintf("action not found: %s", id))
	}
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read action", err)
	}

	actions, err := st.ReadFlow(ctx, rec.Flow)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read flow", err)
	}
	firings, err := st.ReadFirings(ctx, rec.Flow)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read firings", err)
	}
	byID := make(map[string]ir.ActionRecord, len(actions))
	for _, a := range actions {
		byID[a.ID] = a
	}
	firingByID := make(map[string]ir.Firing, len(firings))
	for _, f := range firings {
		firingByID[f.ID] = f
	}

	result := WhyResult{Flow: rec.Flow, Chain: []WhyStep{}}
	seen := make(map[string]bool)
	for !seen[rec.ID] {
		seen[rec.ID] = true
		step := WhyStep{Action: rec.ID, Op: rec.Op.String(), Seq: rec.Seq}

		edges, err := st.ReadProvenance(ctx, rec.ID)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to read provenance", err)
		}
		if len(edges) == 0 {
			result.Chain = append(result.Chain, step)
			break
		}
		f := firingByID[edges[0].FiringID]
		step.Firing, step.Rule, step.Matched = f.ID, f.Rule, f.RecordIDs
		result.Chain = append(result.Chain, step)

		trigger, ok := latestRecord(f.RecordIDs, byID)
		if !ok {
			break
		}
		rec = trigger
	}

	if formatter.JSON() {
		return formatter.Respond(result, nil)
	}
	w := formatter.Writer
	fmt.Fprintf(w, "Why %s (flow %s)\n", truncateID(id), result.Flow)
	for i, step := range result.Chain {
		if step.Rule == "" {
			fmt.Fprintf(w, "  %04d %s invoked from outside the engine\n", step.Seq, step.Op)
			continue
		}
		fmt.Fprintf(w, "  %04d %s <- %s", step.Seq, step.Op, step.Rule)
		if i+1 < len(result.Chain) {
			fmt.Fprintf(w, " (fired on %s)", result.Chain[i+1].Op)
		}
		fmt.Fprintln(w)
	}
	return nil
}

// latestRecord returns the matched record with the highest seq.
func latestRecord(ids []string, byID map[string]ir.ActionRecord) (ir.ActionRecord, bool) {
	var (
		latest ir.ActionRecord
		found  bool
	)
	for _, id := range ids {
		if rec, ok := byID[id]; ok && (!found || rec.Seq > latest.Seq) {
			latest, found = rec, true
		}
	}
	return latest, found
}

// filterTimeline keeps the events of one operation, and the firings that
// invoked them.
func filterTimeline(events []harness.TraceEvent, op string) []harness.TraceEvent {
	if op == "" {
		return events
	}
	rules := make(map[string]bool)
	for _, e := range events {
		if e.Op == op && e.Rule != "" {
			rules[e.Rule] = true
		}
	}
	out := []harness.TraceEvent{}
	for _, e := range events {
		if e.Op == op || (e.Type == harness.EventFiring && rules[e.Rule]) {
			out = append(out, e)
		}
	}
	return out
}

// buildProvenance follows every firing of the flow to the actions it
// invoked, in firing order.
func buildProvenance(ctx context.Context, st *store.Store, state store.FlowState) ([]ProvenanceEdge, error) {
	ops := make(map[string]string, len(state.Actions))
	for _, a := range state.Actions {
		ops[a.ID] = a.Op.String()
	}

	edges := []ProvenanceEdge{}
	for _, f := range state.Firings {
		triggered, err := st.ReadTriggered(ctx, f.ID)
		if err != nil {
			return nil, err
		}
		for _, e := range triggered {
			edges = append(edges, ProvenanceEdge{
				Firing: e.FiringID,
				Rule:   f.Rule,
				Action: e.RecordID,
				Op:     ops[e.RecordID],
			})
		}
	}
	return edges, nil
}

// outputTraceText outputs the trace result as text.
func outputTraceText(w io.Writer, result TraceResult) error {
	fmt.Fprintf(w, "Trace for Flow: %s\n", result.Flow)
	fmt.Fprintf(w, "Status: %s\n", completeStatus(result.Unanswered))
	fmt.Fprintln(w)

	fmt.Fprintln(w, "=== Timeline ===")
	text, err := harness.FormatTrace(result.Flow, result.Timeline)
	if err != nil {
		return WrapExitError(ExitCommandError, "format trace", err)
	}
	// Drop the "# name" header line; the flow is printed above.
	_, body, _ := strings.Cut(string(text), "\n")
	if body == "" {
		fmt.Fprintln(w, "  (no events)")
	}
	for line := range strings.Lines(body) {
		fmt.Fprintf(w, "  %s", line)
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "=== Provenance ===")
	if len(result.Provenance) == 0 {
		fmt.Fprintln(w, "  (no causal relationships)")
	}
	for _, edge := range result.Provenance {
		fmt.Fprintf(w, "  %s -[%s]-> %s %s\n",
			truncateID(edge.Firing),
			edge.Rule,
			truncateID(edge.Action),
			edge.Op)
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "=== Stats ===")
	fmt.Fprintf(w, "  Actions:  %d\n", result.Stats.Actions)
	fmt.Fprintf(w, "  Queries:  %d\n", result.Stats.Queries)
	fmt.Fprintf(w, "  Firings:  %d\n", result.Stats.Firings)
	fmt.Fprintf(w, "  Last seq: %d\n", result.Stats.LastSeq)
	return nil
}

// truncateID truncates a long ID for display.
func truncateID(id string) string {
	if len(id) <= 16 {
		return id
	}
	return id[:8] + "..." + id[len(id)-8:]
}

// completeStatus returns a human-readable completion status.
func completeStatus(unanswered []string) string {
	if len(unanswered) == 0 {
		return "Complete"
	}
	return fmt.Sprintf("Incomplete (unanswered: %s)", strings.Join(unanswered, ", "))
}
