package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/recipesync/internal/compiler"
	"github.com/roach88/recipesync/internal/harness"
)

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid      bool                       `json:"valid"`
	Files      int                        `json:"files"`
	Rules      int                        `json:"rules"`
	Concepts   int                        `json:"concepts"`
	Errors     []compiler.ValidationError `json:"errors,omitempty"`
	Warnings   []compiler.CycleWarning    `json:"warnings,omitempty"`
	Principles *harness.ValidationResult  `json:"principles,omitempty"`
}

type validateOptions struct {
	principles bool
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	vo := &validateOptions{}

	cmd := &cobra.Command{
		Use:   "validate [rules-dir]",
		Short: "Check rules against the concepts they reference",
		Long: `Compile the CUE rules package and check every rule against the
concepts it declares: operations exist and have the right kind, variables
are bound before use, rule names are unique.

Rules that can trigger each other are reported as warnings. With
--principles, the scenario behind every operational principle is run too.

The rules directory defaults to rules.dir from the config.`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, vo, rootOpts.rulesDir(args), cmd)
		},
	}

	cmd.Flags().BoolVar(&vo.principles, "principles", false, "run the scenario of every operational principle")

	return cmd
}

func runValidate(opts *RootOptions, vo *validateOptions, rulesDir string, cmd *cobra.Command) error {
	formatter := newFormatter(opts, cmd)

	bundle, loadErr := LoadRules(rulesDir)
	if loadErr != nil {
		return outputValidateError(formatter, loadErr)
	}
	formatter.VerboseLog("Compiled %d rule(s) from %d CUE file(s) in %s", len(bundle.Rules), bundle.Files, rulesDir)

	result := ValidationResult{
		Files:    bundle.Files,
		Rules:    len(bundle.Rules),
		Concepts: len(bundle.Manifest.Concepts),
		Errors:   compiler.Validate(bundle.Manifest, bundle.Rules),
		Warnings: compiler.AnalyzeCycles(bundle.Rules),
	}

	if vo.principles && len(result.Errors) == 0 {
		pr, err := harness.ValidatePrinciples(cmd.Context(), bundle.Manifest, rulesDir,
			harness.WithLogger(opts.Logger),
			harness.WithMaxSteps(opts.Config.Engine.MaxSteps))
		if err != nil {
			return outputValidateError(formatter, &LoadError{Code: ErrCodeGeneric, Message: err.Error()})
		}
		result.Principles = pr
	}

	result.Valid = len(result.Errors) == 0 && (result.Principles == nil || result.Principles.Failed == 0)
	return outputValidation(formatter, result)
}

// outputValidateError reports a rules directory that could not be loaded.
func outputValidateError(formatter *OutputFormatter, loadErr *LoadError) error {
	var details any
	if line := loadErr.Line(); line > 0 {
		details = map[string]int{"line": line}
	}
	_ = formatter.Error(loadErr.Code, loadErr.Message, details)
	// Load failures are command-level errors (exit code 2)
	return NewExitError(ExitCommandError, loadErr.Error())
}

func outputValidation(formatter *OutputFormatter, result ValidationResult) error {
	var failure error
	switch {
	case len(result.Errors) > 0:
		failure = NewExitError(ExitFailure, fmt.Sprintf("validation failed with %d error(s)", len(result.Errors)))
	case !result.Valid:
		failure = NewExitError(ExitFailure, fmt.Sprintf("%d operational principle(s) failed", result.Principles.Failed))
	}

	if formatter.JSON() {
		var cliErr *CLIError
		if len(result.Errors) > 0 {
			cliErr = &CLIError{Code: result.Errors[0].Code, Message: result.Errors[0].Message}
		} else if failure != nil {
			cliErr = &CLIError{Code: "E_PRINCIPLE_FAILED", Message: failure.Error()}
		}
		if err := formatter.Respond(result, cliErr); err != nil {
			return err
		}
		return failure
	}

	for _, w := range result.Warnings {
		fmt.Fprintf(formatter.Writer, "warning [%s]: %s\n", WarnCodeCycle, w.Message)
	}

	if len(result.Errors) > 0 {
		fmt.Fprintln(formatter.Writer, "✗ Validation failed")
		fmt.Fprintln(formatter.Writer)
		for _, err := range result.Errors {
			fmt.Fprintf(formatter.Writer, "  %s\n", err.Error())
		}
		return failure
	}

	fmt.Fprintf(formatter.Writer, "✓ %d rule(s) valid against %d concept(s)\n", result.Rules, result.Concepts)

	if pr := result.Principles; pr != nil {
		fmt.Fprintf(formatter.Writer, "Principles: %d passed, %d failed, %d skipped\n", pr.Passed, pr.Failed, pr.Skipped)
		for _, f := range pr.Failures {
			fmt.Fprintf(formatter.Writer, "  ✗ %s: %s\n", f.ConceptName, f.Principle)
			fmt.Fprintf(formatter.Writer, "    %s\n", f.Error)
		}
	}
	return failure
}
