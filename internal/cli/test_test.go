package cli

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const harnessScenarios = "../harness/testdata/scenarios"

const passingScenario = `
name: single_rule
description: One match-all rule applies to the primary subject
definitions:
  - group: A
    name: all.json
    content: |
      {"frames": [[{"target": "T", "translation": [1, 2, 3]}]]}
scene:
  primary:
    id: "14"
    nodes:
      T: {}
steps:
  - action: load_all
  - action: evaluate
  - action: apply
assertions:
  - type: matched
    subject: "14"
    rule: A/all.json
`

func writeScenario(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0644))
}

func TestTestCommandHarnessScenarios(t *testing.T) {
	out, _, err := execute(t, "test", harnessScenarios, "--golden", "../harness/testdata/golden")
	require.NoError(t, err)
	assert.Contains(t, out, "✓ first_match_wins")
	assert.Contains(t, out, "✓ invalid_reload")
	assert.Contains(t, out, "✓ All scenarios passed")
}

func TestTestCommandFilter(t *testing.T) {
	out, _, err := execute(t, "test", harnessScenarios, "--golden", "../harness/testdata/golden", "--filter", "first_*")
	require.NoError(t, err)
	assert.Contains(t, out, "1 passed, 0 failed, 1 total")
}

func TestTestCommandUpdateThenCompare(t *testing.T) {
	dir := t.TempDir()
	writeScenario(t, dir, "single.yaml", passingScenario)

	out, _, err := execute(t, "test", dir, "--update")
	require.NoError(t, err)
	assert.Contains(t, out, "✓ single_rule")
	golden := filepath.Join(dir, "golden", "single_rule.golden")
	require.FileExists(t, golden)

	_, _, err = execute(t, "test", dir)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(golden, []byte("{}\n"), 0644))
	out, _, err = execute(t, "test", dir)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "trace does not match golden file")
}

func TestTestCommandFailingAssertion(t *testing.T) {
	dir := t.TempDir()
	writeScenario(t, dir, "wrong.yaml", passingScenario+`  - type: unmatched
    subject: "14"
`)

	out, _, err := execute(t, "test", dir)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "✗ single_rule")
	assert.Contains(t, out, "Test Summary: 0 passed, 1 failed, 1 total")
}

func TestTestCommandInvalidScenario(t *testing.T) {
	dir := t.TempDir()
	writeScenario(t, dir, "broken.yaml", "name: broken\n")

	out, _, err := execute(t, "test", dir)
	require.Error(t, err)
	assert.Contains(t, out, "✗ broken.yaml")
	assert.Contains(t, out, "failed to load scenario")
}

func TestTestCommandEmptyAndMissingDir(t *testing.T) {
	out, _, err := execute(t, "test", t.TempDir())
	require.NoError(t, err)
	assert.Contains(t, out, "No scenarios found.")

	_, _, err = execute(t, "test", filepath.Join(t.TempDir(), "absent"))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}
