package cli

import (
	"fmt"
	"io"
	"log/slog"
	"slices"

	"github.com/spf13/cobra"

	"github.com/roach88/recipesync/internal/config"
	"github.com/roach88/recipesync/internal/telemetry"
)

// RootOptions holds global flags for all commands, and the config and
// logger built from them before any subcommand runs.
type RootOptions struct {
	ConfigPath string
	Verbose    bool
	Format     string // "json" | "text"

	Config config.Config
	Logger *slog.Logger

	logCloser io.Closer
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the recipesync CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "recipesync",
		Short: "recipesync - declarative synchronizations for the recipe app",
		Long: `Compile, check and exercise the synchronization rules that wire the
recipe app's concepts together.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			return opts.setup(cmd)
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if opts.logCloser != nil {
				return opts.logCloser.Close()
			}
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&opts.ConfigPath, "config", "", "config file (default ./"+config.DefaultFile+" if present)")
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output, engine log level verbose")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")

	cmd.AddCommand(NewValidateCommand(opts))
	cmd.AddCommand(NewTestCommand(opts))
	cmd.AddCommand(NewTraceCommand(opts))
	cmd.AddCommand(NewReplayCommand(opts))

	return cmd
}

// setup loads the config, applies flag overrides and builds the logger.
// Engine logs go to the command's stderr so they never mix with JSON
// output.
func (o *RootOptions) setup(cmd *cobra.Command) error {
	cfg, err := config.Load(o.ConfigPath)
	if err != nil {
		return WrapExitError(ExitCommandError, "config", err)
	}
	if o.Verbose {
		cfg.Engine.LogLevel = config.LevelVerbose
	}

	logOpts := telemetry.LogOptionsFrom(cfg)
	logOpts.Stderr = cmd.ErrOrStderr()
	logger, closer, err := telemetry.NewLogger(logOpts)
	if err != nil {
		return WrapExitError(ExitCommandError, "logger", err)
	}

	o.Config = cfg
	o.Logger = logger
	o.logCloser = closer
	return nil
}

// rulesDir returns the directory argument, or the configured one.
func (o *RootOptions) rulesDir(args []string) string {
	if len(args) > 0 {
		return args[0]
	}
	return o.Config.Rules.Dir
}

// isValidFormat checks if the format is one of the allowed values.
func isValidFormat(format string) bool {
	return slices.Contains(ValidFormats, format)
}
