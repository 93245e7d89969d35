package cli

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/recipesync/internal/engine"
	"github.com/roach88/recipesync/internal/harness"
	"github.com/roach88/recipesync/internal/store"
	"github.com/roach88/recipesync/internal/telemetry"
)

// TestOptions holds flags for the test command.
type TestOptions struct {
	*RootOptions
	Update  bool   // regenerate golden files
	Filter  string // scenario filter (glob pattern)
	DBPath  string // also record every run in this action log
	Metrics bool   // print engine metrics after the run
}

// ScenarioResult holds the result of a single scenario execution.
type ScenarioResult struct {
	Name   string   `json:"name"`
	File   string   `json:"file"`
	Pass   bool     `json:"pass"`
	Golden string   `json:"golden,omitempty"` // "match", "updated" or empty when there is no golden file
	Errors []string `json:"errors,omitempty"`
}

// TestResult holds the overall test result.
type TestResult struct {
	Scenarios []ScenarioResult `json:"scenarios"`
	Passed    int              `json:"passed"`
	Failed    int              `json:"failed"`
	Total     int              `json:"total"`
}

// NewTestCommand creates the test command.
func NewTestCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TestOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "test <scenario-file-or-dir>...",
		Short: "Run scenarios against the rules",
		Long: `Run YAML scenarios through the engine with stubbed concepts.

Each scenario names its rules directory, stubs the concepts, drives a
list of requests and invocations, and asserts on the responses and the
trace. A scenario with a golden file (golden/<name>.golden next to the
scenario) must also reproduce that trace byte for byte.

Exit codes:
  0 - All scenarios passed
  1 - One or more scenarios failed
  2 - Command error (invalid paths, unreadable action log)

Examples:
  recipesync test ./scenarios
  recipesync test ./scenarios --filter "assign*"
  recipesync test ./scenarios --update
  recipesync test ./scenarios/register.yaml --db trace.db
  recipesync test ./scenarios --format json`,
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTests(opts, args, cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.Update, "update", false, "regenerate golden files")
	cmd.Flags().StringVar(&opts.Filter, "filter", "", "filter scenarios by glob pattern on the file name")
	cmd.Flags().StringVar(&opts.DBPath, "db", "", "record every run in this SQLite action log (default store.path from the config)")
	cmd.Flags().BoolVar(&opts.Metrics, "metrics", false, "print engine metrics in Prometheus text format")

	return cmd
}

func runTests(opts *TestOptions, paths []string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)

	var scenarioFiles []string
	for _, p := range paths {
		files, err := findScenarioFiles(p, opts.Filter)
		if err != nil {
			return NewExitError(ExitCommandError, err.Error())
		}
		scenarioFiles = append(scenarioFiles, files...)
	}

	if len(scenarioFiles) == 0 {
		if formatter.JSON() {
			return formatter.Respond(TestResult{Scenarios: []ScenarioResult{}}, nil)
		}
		fmt.Fprintln(formatter.Writer, "No scenarios found.")
		return nil
	}

	runOpts := []harness.Option{
		harness.WithLogger(opts.Logger),
		harness.WithMaxSteps(opts.Config.Engine.MaxSteps),
	}

	dbPath := opts.DBPath
	if dbPath == "" {
		dbPath = opts.Config.Store.Path
	}
	if dbPath != "" {
		st, err := store.Open(dbPath)
		if err != nil {
			return WrapExitError(ExitCommandError, "open action log", err)
		}
		defer st.Close()
		last, err := st.LastSeq(cmd.Context())
		if err != nil {
			return WrapExitError(ExitCommandError, "read action log", err)
		}
		formatter.VerboseLog("Recording to %s, resuming after seq %d", dbPath, last)
		runOpts = append(runOpts,
			harness.WithRecorder(st),
			harness.WithClock(engine.NewClockAt(last)),
			harness.WithFlowGenerator(engine.UUIDv7Generator{}),
		)
	}

	var metrics *telemetry.Metrics
	if opts.Metrics || opts.Config.Metrics.Enabled {
		mcfg := opts.Config.Metrics
		mcfg.Enabled = true
		if mcfg.Namespace == "" {
			mcfg.Namespace = "recipesync"
		}
		metrics = telemetry.NewMetrics(mcfg)
		runOpts = append(runOpts, harness.WithObserver(metrics))
	}

	result := TestResult{
		Scenarios: make([]ScenarioResult, 0, len(scenarioFiles)),
		Total:     len(scenarioFiles),
	}
	for _, file := range scenarioFiles {
		sr := runScenario(cmd.Context(), file, opts, runOpts)
		result.Scenarios = append(result.Scenarios, sr)
		if sr.Pass {
			result.Passed++
		} else {
			result.Failed++
		}
		printScenario(formatter, sr)
	}

	var failure error
	if result.Failed > 0 {
		// Test failures = exit code 1
		failure = NewExitError(ExitFailure, fmt.Sprintf("%d scenario(s) failed", result.Failed))
	}

	if formatter.JSON() {
		var cliErr *CLIError
		if failure != nil {
			cliErr = &CLIError{Code: "E_TEST_FAILED", Message: failure.Error()}
		}
		if err := formatter.Respond(result, cliErr); err != nil {
			return err
		}
		return failure
	}

	fmt.Fprintln(formatter.Writer)
	fmt.Fprintf(formatter.Writer, "Test Summary: %d passed, %d failed, %d total\n", result.Passed, result.Failed, result.Total)
	if failure == nil {
		fmt.Fprintln(formatter.Writer, "✓ All scenarios passed")
	}

	if metrics != nil {
		fmt.Fprintln(formatter.Writer)
		if err := metrics.WriteText(formatter.Writer); err != nil {
			return WrapExitError(ExitCommandError, "metrics", err)
		}
	}
	return failure
}

// findScenarioFiles returns path itself when it is a file, or every YAML
// scenario under it.
func findScenarioFiles(path string, filter string) ([]string, error) {
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("%s: scenario path not found: %s", ErrCodeNotFound, path)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %v", ErrCodeNotFound, err)
	}
	if !info.IsDir() {
		return []string{path}, nil
	}

	var files []string
	err = filepath.Walk(path, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}

		if info.IsDir() {
			return nil
		}

		// Only process .yaml and .yml files
		ext := filepath.Ext(p)
		if ext != ".yaml" && ext != ".yml" {
			return nil
		}

		if filter != "" {
			name := strings.TrimSuffix(filepath.Base(p), ext)
			matched, err := filepath.Match(filter, name)
			if err != nil {
				return fmt.Errorf("invalid filter pattern: %w", err)
			}
			if !matched {
				return nil
			}
		}

		files = append(files, p)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %v", ErrCodeScanError, err)
	}
	return files, nil
}

// runScenario executes a single scenario file and checks its golden trace.
func runScenario(ctx context.Context, file string, opts *TestOptions, runOpts []harness.Option) ScenarioResult {
	sr := ScenarioResult{Name: filepath.Base(file), File: file}

	scenario, err := harness.LoadScenario(file)
	if err != nil {
		sr.Errors = []string{fmt.Sprintf("failed to load scenario: %v", err)}
		return sr
	}
	sr.Name = scenario.Name

	result, err := harness.Run(ctx, scenario, runOpts...)
	if err != nil {
		sr.Errors = []string{fmt.Sprintf("execution failed: %v", err)}
		return sr
	}
	sr.Errors = result.Errors

	// Golden traces are only comparable with deterministic flow tokens.
	if opts.DBPath == "" && opts.Config.Store.Path == "" {
		golden, err := checkGolden(file, scenario, result, opts.Update)
		if err != nil {
			sr.Errors = append(sr.Errors, err.Error())
		}
		sr.Golden = golden
	}

	sr.Pass = len(sr.Errors) == 0
	return sr
}

// goldenFilePath returns the path to the golden file for a scenario.
func goldenFilePath(scenarioFile, name string) string {
	return filepath.Join(filepath.Dir(scenarioFile), "golden", name+".golden")
}

// checkGolden compares the run's trace with the scenario's golden file, or
// rewrites it when update is set. A missing golden file is not an error.
func checkGolden(file string, scenario *harness.Scenario, result *harness.Result, update bool) (string, error) {
	current, err := harness.FormatTrace(scenario.Name, result.Trace)
	if err != nil {
		return "", fmt.Errorf("format trace: %w", err)
	}
	goldenPath := goldenFilePath(file, scenario.Name)

	if update {
		if err := os.MkdirAll(filepath.Dir(goldenPath), 0755); err != nil {
			return "", fmt.Errorf("failed to create golden directory: %w", err)
		}
		if err := os.WriteFile(goldenPath, current, 0644); err != nil {
			return "", fmt.Errorf("failed to write golden file: %w", err)
		}
		return "updated", nil
	}

	want, err := os.ReadFile(goldenPath)
	if os.IsNotExist(err) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read golden file: %w", err)
	}
	if !bytes.Equal(want, current) {
		return "mismatch", fmt.Errorf("trace does not match %s (run with --update to regenerate)", goldenPath)
	}
	return "match", nil
}

func printScenario(f *OutputFormatter, sr ScenarioResult) {
	if !sr.Pass {
		f.Textf("✗ %s", sr.Name)
		for _, e := range sr.Errors {
			f.Textf("  %s", e)
		}
		return
	}
	if sr.Golden == "updated" {
		f.Textf("✓ %s (golden updated)", sr.Name)
		return
	}
	f.Textf("✓ %s", sr.Name)
}
