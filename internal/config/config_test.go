package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/recipesync/internal/engine"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, engine.DefaultMaxSteps, cfg.Engine.MaxSteps)
	assert.Equal(t, LevelTrace, cfg.Engine.LogLevel)
	assert.Equal(t, "text", cfg.Log.Format)
	assert.Equal(t, "rules", cfg.Rules.Dir)
	assert.Empty(t, cfg.Store.Path)
	assert.False(t, cfg.Metrics.Enabled)
}

func TestParse_OverridesOnlyWhatIsSet(t *testing.T) {
	cfg, err := Parse(`
[engine]
max_steps = 50
log_level = "VERBOSE"

[store]
path = "trace.db"

[metrics]
enabled = true
`)
	require.NoError(t, err)

	assert.Equal(t, 50, cfg.Engine.MaxSteps)
	assert.Equal(t, LevelVerbose, cfg.Engine.LogLevel, "levels are case-insensitive")
	assert.Equal(t, "trace.db", cfg.Store.Path)
	assert.True(t, cfg.Metrics.Enabled)
	assert.Equal(t, "recipesync", cfg.Metrics.Namespace, "default kept")
	assert.Equal(t, "text", cfg.Log.Format, "default kept")
	assert.Equal(t, "rules", cfg.Rules.Dir, "default kept")
}

func TestParse_Empty(t *testing.T) {
	cfg, err := Parse("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name string
		src  string
		want string
	}{
		{"syntax", "[engine\n", "toml:"},
		{"unknown key", "[engine]\nmax_step = 3\n", "unknown keys: engine.max_step"},
		{"unknown section", "[server]\nport = 1\n", "unknown keys"},
		{"wrong type", "[engine]\nmax_steps = \"many\"\n", "incompatible types"},
		{"zero steps", "[engine]\nmax_steps = 0\n", "engine.max_steps must be at least 1"},
		{"bad level", "[engine]\nlog_level = \"debug\"\n", `engine.log_level must be one of [off trace verbose], got "debug"`},
		{"bad format", "[log]\nformat = \"xml\"\n", "log.format must be one of"},
		{"empty rules dir", "[rules]\ndir = \"  \"\n", "rules.dir is required"},
		{"metrics without namespace", "[metrics]\nenabled = true\nnamespace = \"\"\n", "metrics.namespace is required"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(tt.src)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestParse_ReportsEveryViolation(t *testing.T) {
	_, err := Parse("[engine]\nmax_steps = -1\nlog_level = \"loud\"\n")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "engine.max_steps")
	assert.Contains(t, err.Error(), "engine.log_level")
}

func TestParse_MetricsNamespaceOptionalWhenDisabled(t *testing.T) {
	cfg, err := Parse("[metrics]\nnamespace = \"\"\n")
	require.NoError(t, err)
	assert.Empty(t, cfg.Metrics.Namespace)
}

func TestLoad_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.toml")
	require.NoError(t, os.WriteFile(path, []byte("[rules]\ndir = \"deploy/rules\"\n[log]\nformat = \"json\"\nfile = \"/tmp/rs.log\"\n"), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "deploy/rules", cfg.Rules.Dir)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, "/tmp/rs.log", cfg.Log.File)
}

func TestLoad_Errors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "load config")

	path := filepath.Join(t.TempDir(), "bad.toml")
	require.NoError(t, os.WriteFile(path, []byte("[engine]\nmax_steps = 0\n"), 0o644))
	_, err = Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), path)
}

func TestLoad_NoPathNoFileUsesDefaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoad_NoPathReadsDefaultFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, DefaultFile), []byte("[engine]\nlog_level = \"off\"\n"), 0o644))
	t.Chdir(dir)

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, LevelOff, cfg.Engine.LogLevel)
}
