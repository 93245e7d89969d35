package telemetry

import (
	"bufio"
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/recipesync/internal/config"
)

func TestSlogLevel(t *testing.T) {
	tests := []struct {
		level string
		want  string
		ok    bool
	}{
		{config.LevelTrace, "INFO", true},
		{"", "INFO", true},
		{config.LevelVerbose, "DEBUG", true},
		{config.LevelOff, "", false},
		{"loud", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			got, ok := SlogLevel(tt.level)
			assert.Equal(t, tt.ok, ok)
			if ok {
				assert.Equal(t, tt.want, got.String())
			}
		})
	}
}

func TestNewLogger_TraceHidesDebug(t *testing.T) {
	var buf bytes.Buffer
	log, closer, err := NewLogger(LogOptions{Level: config.LevelTrace, Stderr: &buf})
	require.NoError(t, err)
	defer closer.Close()

	log.Info("action completed", "op", "Authentication.register")
	log.Debug("when matched", "rule", "RegisterRequest")

	out := buf.String()
	assert.Contains(t, out, "action completed")
	assert.Contains(t, out, "op=Authentication.register")
	assert.NotContains(t, out, "when matched")
}

func TestNewLogger_VerboseJSON(t *testing.T) {
	var buf bytes.Buffer
	log, closer, err := NewLogger(LogOptions{Level: config.LevelVerbose, Format: "json", Stderr: &buf})
	require.NoError(t, err)
	defer closer.Close()

	log.Debug("when matched", "rule", "RegisterRequest")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "DEBUG", line["level"])
	assert.Equal(t, "RegisterRequest", line["rule"])
}

func TestNewLogger_Off(t *testing.T) {
	var buf bytes.Buffer
	log, closer, err := NewLogger(LogOptions{Level: config.LevelOff, Stderr: &buf})
	require.NoError(t, err)
	defer closer.Close()

	log.Error("cascade aborted")
	assert.Zero(t, buf.Len())
}

func TestNewLogger_FansOutToFile(t *testing.T) {
	var buf bytes.Buffer
	path := filepath.Join(t.TempDir(), "logs", "recipesync.log")

	log, closer, err := NewLogger(LogOptions{Level: config.LevelTrace, File: path, Stderr: &buf})
	require.NoError(t, err)

	log.Info("rule fired", "rule", "RegisterResponse", "flow", "flow-1")
	log.Info("cascade finished", "steps", 3)
	require.NoError(t, closer.Close())

	assert.Contains(t, buf.String(), "rule fired", "console still gets every line")

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var lines []map[string]any
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var line map[string]any
		require.NoError(t, json.Unmarshal(sc.Bytes(), &line), "file lines are JSON")
		lines = append(lines, line)
	}
	require.NoError(t, sc.Err())
	require.Len(t, lines, 2)
	assert.Equal(t, "rule fired", lines[0]["msg"])
	assert.Equal(t, "flow-1", lines[0]["flow"])
	assert.Equal(t, float64(3), lines[1]["steps"])
}

func TestNewLogger_Errors(t *testing.T) {
	_, _, err := NewLogger(LogOptions{Level: "loud"})
	assert.ErrorContains(t, err, "unknown log level")

	_, _, err = NewLogger(LogOptions{Level: config.LevelTrace, Format: "xml"})
	assert.ErrorContains(t, err, "unknown log format")

	dir := t.TempDir()
	_, _, err = NewLogger(LogOptions{Level: config.LevelTrace, File: dir})
	assert.ErrorContains(t, err, "open log file", "a directory is not a log file")
}

func TestLogOptionsFrom(t *testing.T) {
	cfg := config.Default()
	cfg.Engine.LogLevel = config.LevelVerbose
	cfg.Log.Format = "json"
	cfg.Log.File = "out.log"

	assert.Equal(t, LogOptions{Level: config.LevelVerbose, Format: "json", File: "out.log"}, LogOptionsFrom(cfg))
}
