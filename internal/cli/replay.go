package cli

import (
	"fmt"
	"slices"

	"github.com/spf13/cobra"

	"github.com/roach88/recipesync/internal/engine"
	"github.com/roach88/recipesync/internal/harness"
	"github.com/roach88/recipesync/internal/ir"
)

// ReplayOptions holds flags for the replay command.
type ReplayOptions struct {
	*RootOptions
	Database  string
	FlowToken string // optional - specific flow only
}

// ReplayFlowResult holds the replay result for a single flow.
type ReplayFlowResult struct {
	Flow          string   `json:"flow"`
	Actions       int      `json:"actions"`
	Recorded      int      `json:"recorded"` // firings in the log
	Replayed      int      `json:"replayed"` // firings the rules produce now
	Missing       []string `json:"missing,omitempty"`
	Extra         []string `json:"extra,omitempty"`
	Deterministic bool     `json:"deterministic"`
}

// Match reports whether replay reproduced the recorded firings exactly.
func (r ReplayFlowResult) Match() bool {
	return len(r.Missing) == 0 && len(r.Extra) == 0 && r.Deterministic
}

// ReplayResult holds the overall replay result.
type ReplayResult struct {
	Flows      []ReplayFlowResult `json:"flows"`
	TotalFlows int                `json:"total_flows"`
	Matched    int                `json:"matched"`
	Mismatched int                `json:"mismatched"`
}

// NewReplayCommand creates the replay command.
func NewReplayCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ReplayOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "replay <scenario>",
		Short: "Re-derive recorded firings from the action log",
		Long: `Replay the action log against the rules and stubs of a scenario and
check that they produce exactly the firings the log recorded.

Nothing is invoked: each recorded action is matched against the records
of its flow that precede it, where clauses query the scenario's stubs,
and the resulting firing ids are compared with the recorded ones. Every
flow is replayed twice to verify the result is deterministic.

Exit codes:
  0 - Every flow reproduced its firings
  1 - Missing, extra or non-deterministic firings
  2 - Command error (scenario or database not found, etc.)

Examples:
  recipesync replay scenarios/register.yaml --db trace.db
  recipesync replay scenarios/register.yaml --db trace.db --flow 0190f3c1-...
  recipesync replay scenarios/register.yaml --db trace.db --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReplay(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to the SQLite action log (default store.path from the config)")
	cmd.Flags().StringVar(&opts.FlowToken, "flow", "", "replay specific flow only")

	return cmd
}

func runReplay(opts *ReplayOptions, scenarioFile string, cmd *cobra.Command) error {
	ctx := cmd.Context()
	formatter := newFormatter(opts.RootOptions, cmd)

	scenario, err := harness.LoadScenario(scenarioFile)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load scenario", err)
	}

	st, err := openLog(opts.RootOptions, opts.Database)
	if err != nil {
		return err
	}
	defer st.Close()

	var (
		actions []ir.ActionRecord
		firings []ir.Firing
	)
	if opts.FlowToken != "" {
		actions, err = st.ReadFlow(ctx, opts.FlowToken)
		if err == nil {
			firings, err = st.ReadFirings(ctx, opts.FlowToken)
		}
	} else {
		actions, err = st.ReadAllActions(ctx)
		if err == nil {
			firings, err = st.ReadAllFirings(ctx)
		}
	}
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read action log", err)
	}

	runOpts := []harness.Option{
		harness.WithLogger(opts.Logger),
		harness.WithMaxSteps(opts.Config.Engine.MaxSteps),
	}
	first, err := harness.Replay(ctx, scenario, actions, runOpts...)
	if err != nil {
		return WrapExitError(ExitCommandError, "replay", err)
	}
	second, err := harness.Replay(ctx, scenario, actions, runOpts...)
	if err != nil {
		return WrapExitError(ExitCommandError, "replay", err)
	}

	result := compareReplay(actions, firings, first, second)
	for _, f := range result.Flows {
		formatter.VerboseLog("flow %s: %d recorded, %d replayed", f.Flow, f.Recorded, f.Replayed)
	}
	return outputReplay(formatter, result)
}

// compareReplay groups recorded and replayed firings by flow, in the order
// flows first appear in the log, and diffs their ids.
func compareReplay(actions []ir.ActionRecord, recorded []ir.Firing, first, second []engine.Planned) ReplayResult {
	var order []string
	flows := make(map[string]*ReplayFlowResult)
	get := func(flow string) *ReplayFlowResult {
		if r, ok := flows[flow]; ok {
			return r
		}
		r := &ReplayFlowResult{Flow: flow}
		flows[flow] = r
		order = append(order, flow)
		return r
	}

	for _, a := range actions {
		get(a.Flow).Actions++
	}

	want := make(map[string][]string)
	for _, f := range recorded {
		get(f.Flow).Recorded++
		want[f.Flow] = append(want[f.Flow], f.ID)
	}
	got := make(map[string][]string)
	for _, p := range first {
		get(p.Firing.Flow).Replayed++
		got[p.Firing.Flow] = append(got[p.Firing.Flow], p.Firing.ID)
	}
	again := make(map[string][]string)
	for _, p := range second {
		again[p.Firing.Flow] = append(again[p.Firing.Flow], p.Firing.ID)
	}

	result := ReplayResult{Flows: []ReplayFlowResult{}}
	for _, flow := range order {
		r := flows[flow]
		r.Missing = difference(want[flow], got[flow])
		r.Extra = difference(got[flow], want[flow])
		r.Deterministic = slices.Equal(got[flow], again[flow])
		result.Flows = append(result.Flows, *r)
		if r.Match() {
			result.Matched++
		} else {
			result.Mismatched++
		}
	}
	result.TotalFlows = len(result.Flows)
	return result
}

// difference returns the ids of a that are not in b, in a's order.
func difference(a, b []string) []string {
	var out []string
	for _, id := range a {
		if !slices.Contains(b, id) {
			out = append(out, id)
		}
	}
	return out
}

func outputReplay(formatter *OutputFormatter, result ReplayResult) error {
	var failure error
	if result.Mismatched > 0 {
		// Replay mismatch = exit code 1
		failure = NewExitError(ExitFailure, fmt.Sprintf("replay mismatch in %d flow(s)", result.Mismatched))
	}

	if formatter.JSON() {
		var cliErr *CLIError
		if failure != nil {
			cliErr = &CLIError{Code: "E_REPLAY_MISMATCH", Message: failure.Error()}
		}
		if err := formatter.Respond(result, cliErr); err != nil {
			return err
		}
		return failure
	}

	w := formatter.Writer
	fmt.Fprintf(w, "Replay Summary: %d flow(s)\n", result.TotalFlows)
	fmt.Fprintln(w)

	for _, flow := range result.Flows {
		status := "✓"
		if !flow.Match() {
			status = "✗"
		}
		fmt.Fprintf(w, "%s Flow: %s\n", status, flow.Flow)
		fmt.Fprintf(w, "  Firings: %d recorded, %d replayed (%d actions)\n", flow.Recorded, flow.Replayed, flow.Actions)
		for _, id := range flow.Missing {
			fmt.Fprintf(w, "  missing: %s\n", truncateID(id))
		}
		for _, id := range flow.Extra {
			fmt.Fprintf(w, "  extra:   %s\n", truncateID(id))
		}
		if !flow.Deterministic {
			fmt.Fprintln(w, "  Warning: Non-deterministic replay detected!")
		}
		fmt.Fprintln(w)
	}

	if failure == nil {
		fmt.Fprintln(w, "✓ All flows reproduced their firings")
		return nil
	}
	fmt.Fprintln(w, "✗ Replay verification failed")
	return failure
}
