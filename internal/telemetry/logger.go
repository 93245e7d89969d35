package telemetry

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	slogmulti "github.com/samber/slog-multi"

	"github.com/roach88/recipesync/internal/config"
)

// LogOptions selects what NewLogger builds.
type LogOptions struct {
	Level  string    // config.LevelOff, LevelTrace or LevelVerbose
	Format string    // "text" or "json" for the stderr handler
	File   string    // optional JSON log file, appended to
	Stderr io.Writer // defaults to os.Stderr
}

// LogOptionsFrom maps the [engine] and [log] config sections.
func LogOptionsFrom(cfg config.Config) LogOptions {
	return LogOptions{
		Level:  cfg.Engine.LogLevel,
		Format: cfg.Log.Format,
		File:   cfg.Log.File,
	}
}

// SlogLevel maps an engine log level to the slog level it enables.
// Trace is one line per action and firing (Info); verbose adds frame
// sets and where steps (Debug).
func SlogLevel(level string) (slog.Level, bool) {
	switch level {
	case config.LevelTrace, "":
		return slog.LevelInfo, true
	case config.LevelVerbose:
		return slog.LevelDebug, true
	default:
		return 0, false
	}
}

// NewLogger builds the logger described by opts. The returned closer
// releases the log file and is never nil.
func NewLogger(opts LogOptions) (*slog.Logger, io.Closer, error) {
	if opts.Level == config.LevelOff {
		return slog.New(slog.DiscardHandler), nopCloser{}, nil
	}
	level, ok := SlogLevel(opts.Level)
	if !ok {
		return nil, nil, fmt.Errorf("unknown log level %q", opts.Level)
	}

	stderr := opts.Stderr
	if stderr == nil {
		stderr = os.Stderr
	}
	hopts := &slog.HandlerOptions{Level: level}

	var console slog.Handler
	switch opts.Format {
	case "json":
		console = slog.NewJSONHandler(stderr, hopts)
	case "text", "":
		console = slog.NewTextHandler(stderr, hopts)
	default:
		return nil, nil, fmt.Errorf("unknown log format %q", opts.Format)
	}

	if opts.File == "" {
		return slog.New(console), nopCloser{}, nil
	}

	if dir := filepath.Dir(opts.File); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, nil, fmt.Errorf("create log directory: %w", err)
		}
	}
	f, err := os.OpenFile(opts.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("open log file: %w", err)
	}
	file := slog.NewJSONHandler(f, hopts)

	return slog.New(slogmulti.Fanout(console, file)), f, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
