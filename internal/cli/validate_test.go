package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var rulesDir = filepath.Join("..", "..", "rules")

// writeRules writes a single-file rules package into a temp dir.
func writeRules(t *testing.T, src string) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "rules.cue"), []byte(src), 0644))
	return dir
}

func executeValidate(t *testing.T, format string, args ...string) (string, error) {
	t.Helper()
	buf := &bytes.Buffer{}
	rootOpts := &RootOptions{Format: format}
	cmd := NewValidateCommand(rootOpts)
	cmd.SetOut(buf)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}

func TestValidateValidRules(t *testing.T) {
	output, err := executeValidate(t, "text", rulesDir)
	require.NoError(t, err)
	assert.Contains(t, output, "rule(s) valid against 3 concept(s)")
}

func TestValidateValidRulesJSON(t *testing.T) {
	output, err := executeValidate(t, "json", rulesDir)
	require.NoError(t, err)

	var resp struct {
		Status string           `json:"status"`
		Data   ValidationResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(output), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.True(t, resp.Data.Valid)
	assert.Equal(t, 2, resp.Data.Files)
	assert.Positive(t, resp.Data.Rules)
	assert.Empty(t, resp.Data.Errors)
	assert.Nil(t, resp.Data.Principles)
}

func TestValidateNonExistentDirectory(t *testing.T) {
	output, err := executeValidate(t, "text", "/nonexistent/directory/path")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), ErrCodeNotFound)
	assert.Contains(t, output, "not found")
}

func TestValidateEmptyDirectory(t *testing.T) {
	output, err := executeValidate(t, "text", t.TempDir())
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), ErrCodeNoFiles)
	assert.Contains(t, output, "no CUE files found")
}

func TestValidateCompileError(t *testing.T) {
	dir := writeRules(t, `package rules

rules: Broken: {
	then: [{action: "Calendar.assignRecipeToDate", input: {}}]
}
`)
	output, err := executeValidate(t, "text", dir)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), ErrCodeCompile)
	assert.Contains(t, output, "when clause is required")
}

func TestValidateUnknownOperation(t *testing.T) {
	dir := writeRules(t, `package rules

concepts: Calendar: actions: ["assignRecipeToDate"]

rules: Bad: {
	when: [{action: "Requesting.request", input: {path: "/x"}, output: request: "$request"}]
	then: [{action: "Calendar.deleteRecipe", input: {}}]
}
`)
	output, err := executeValidate(t, "text", dir)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, err.Error(), "validation failed with 1 error(s)")
	assert.Contains(t, output, "✗ Validation failed")
	assert.Contains(t, output, "E110")
	assert.Contains(t, output, "Bad")
}

func TestValidateUnknownOperationJSON(t *testing.T) {
	dir := writeRules(t, `package rules

concepts: Calendar: actions: ["assignRecipeToDate"]

rules: Bad: {
	when: [{action: "Requesting.request", input: {path: "/x"}, output: request: "$request"}]
	then: [{action: "Calendar.deleteRecipe", input: {}}]
}
`)
	output, err := executeValidate(t, "json", dir)
	require.Error(t, err)

	var resp struct {
		Status string           `json:"status"`
		Data   ValidationResult `json:"data"`
		Error  *CLIError        `json:"error"`
	}
	require.NoError(t, json.Unmarshal([]byte(output), &resp))
	assert.Equal(t, "error", resp.Status)
	assert.False(t, resp.Data.Valid)
	require.Len(t, resp.Data.Errors, 1)
	assert.Equal(t, "Bad", resp.Data.Errors[0].Rule)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "E110", resp.Error.Code)
}

func TestValidateCycleIsWarning(t *testing.T) {
	dir := writeRules(t, `package rules

concepts: Counter: actions: ["tick", "tock"]

rules: {
	Tick: {
		when: [{action: "Counter.tick", input: {}, output: {}}]
		then: [{action: "Counter.tock", input: {}}]
	}
	Tock: {
		when: [{action: "Counter.tock", input: {}, output: {}}]
		then: [{action: "Counter.tick", input: {}}]
	}
}
`)
	output, err := executeValidate(t, "text", dir)
	require.NoError(t, err)
	assert.Contains(t, output, "warning ["+WarnCodeCycle+"]")
	assert.Contains(t, output, "2 rule(s) valid")
}

func TestValidatePrinciples(t *testing.T) {
	output, err := executeValidate(t, "text", "--principles", rulesDir)
	require.NoError(t, err)
	assert.Contains(t, output, "Principles: 3 passed, 0 failed, 1 skipped")
}

func TestValidatePrinciplesFailure(t *testing.T) {
	dir := t.TempDir()
	rules, err := os.ReadFile(filepath.Join(rulesDir, "recipe.cue"))
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "recipe.cue"), rules, 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "concepts.cue"), []byte(`package rules

concepts: {
	Authentication: {
		actions: ["register", "validateSession"]
		queries: ["_getUserBySession"]
		principles: [{description: "missing", scenario: "missing.yaml"}]
	}
	Calendar: {
		actions: ["assignRecipeToDate"]
		queries: ["_getScheduledRecipes"]
	}
}
`), 0644))

	output, err := executeValidate(t, "json", "--principles", dir)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	var resp struct {
		Status string           `json:"status"`
		Data   ValidationResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(output), &resp))
	assert.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Data.Principles)
	assert.Equal(t, 1, resp.Data.Principles.Failed)
	require.Len(t, resp.Data.Principles.Failures, 1)
	assert.Contains(t, resp.Data.Principles.Failures[0].Error, "does not exist")
}

func TestValidateUsesConfiguredRulesDir(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "recipesync.toml")
	require.NoError(t, os.WriteFile(configPath, []byte("[rules]\ndir = \""+filepath.ToSlash(rulesDir)+"\"\n"), 0644))

	buf := &bytes.Buffer{}
	cmd := NewRootCommand()
	cmd.SetOut(buf)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"--config", configPath, "validate"})

	require.NoError(t, cmd.Execute())
	assert.Contains(t, buf.String(), "valid against 3 concept(s)")
}
