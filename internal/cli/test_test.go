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

var (
	harnessScenarios = filepath.Join("..", "harness", "testdata", "scenarios")
	harnessGoldens   = filepath.Join("..", "harness", "testdata", "golden")
)

const failingScenario = `
name: failing
description: "expects the first record to stay non-default"
owner: owner-1
steps:
  - op: create
    as: A
    kind: address
    fields: { street: "Rua X", number: "10", neighborhood: "Centro", city: "São Paulo", state: "SP", postalCode: "01310100" }
assertions:
  - type: default_count
    kind: address
    count: 0
`

func runTestCommand(t *testing.T, rootOpts *RootOptions, args ...string) (*bytes.Buffer, error) {
	t.Helper()
	buf := &bytes.Buffer{}
	cmd := NewTestCommand(rootOpts)
	cmd.SetOut(buf)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	return buf, cmd.Execute()
}

func TestTestCommandMissingArgs(t *testing.T) {
	_, err := runTestCommand(t, &RootOptions{Format: "text"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "accepts 1 arg")
}

func TestTestCommandNonExistentScenariosDir(t *testing.T) {
	_, err := runTestCommand(t, &RootOptions{Format: "text"}, "/nonexistent/scenarios")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "scenarios directory not found")
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestTestCommandInvalidPolicy(t *testing.T) {
	_, err := runTestCommand(t, &RootOptions{Format: "text"}, t.TempDir(), "--policy", "first-come")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `invalid policy "first-come"`)
}

func TestTestCommandEmptyScenariosDir(t *testing.T) {
	buf, err := runTestCommand(t, &RootOptions{Format: "text"}, t.TempDir())
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "No scenarios found")
}

func TestTestCommandEmptyScenariosDirJSON(t *testing.T) {
	buf, err := runTestCommand(t, &RootOptions{Format: "json"}, t.TempDir())
	require.NoError(t, err)

	var response CLIResponse
	require.NoError(t, json.Unmarshal(buf.Bytes(), &response))
	assert.Equal(t, "ok", response.Status)
}

func TestTestCommandRunsHarnessScenarios(t *testing.T) {
	for _, backend := range []string{"", "memory"} {
		for _, policy := range []string{"last-writer-wins", "owner-lock"} {
			t.Run(backend+"/"+policy, func(t *testing.T) {
				buf, err := runTestCommand(t, &RootOptions{Format: "text", Backend: backend},
					harnessScenarios, "--golden-dir", harnessGoldens, "--policy", policy)
				require.NoError(t, err, buf.String())

				output := buf.String()
				assert.Contains(t, output, "✓ scenario_a_transfer_default")
				assert.Contains(t, output, "✓ scenario_e_concurrent_set_default")
				assert.Contains(t, output, "✓ All scenarios passed")
			})
		}
	}
}

func TestTestCommandFilterJSON(t *testing.T) {
	buf, err := runTestCommand(t, &RootOptions{Format: "json"},
		harnessScenarios, "--golden-dir", harnessGoldens, "--filter", "scenario_c_*")
	require.NoError(t, err)

	var response struct {
		Status string     `json:"status"`
		Data   TestResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &response))
	assert.Equal(t, "ok", response.Status)
	assert.Equal(t, 1, response.Data.Total)
	require.Len(t, response.Data.Scenarios, 1)
	assert.Equal(t, "scenario_c_cannot_delete_default", response.Data.Scenarios[0].Name)
}

func TestTestCommandUpdateWritesGolden(t *testing.T) {
	goldenDir := t.TempDir()

	_, err := runTestCommand(t, &RootOptions{Format: "text"},
		harnessScenarios, "--golden-dir", goldenDir, "--filter", "scenario_b_*", "--update")
	require.NoError(t, err)

	written, err := os.ReadFile(filepath.Join(goldenDir, "scenario_b_first_record_becomes_default.golden"))
	require.NoError(t, err)
	expected, err := os.ReadFile(filepath.Join(harnessGoldens, "scenario_b_first_record_becomes_default.golden"))
	require.NoError(t, err)
	assert.Equal(t, string(expected), string(written))
}

func TestTestCommandGoldenMismatch(t *testing.T) {
	goldenDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(goldenDir, "scenario_b_first_record_becomes_default.golden"), []byte("{}"), 0644))

	buf, err := runTestCommand(t, &RootOptions{Format: "text"},
		harnessScenarios, "--golden-dir", goldenDir, "--filter", "scenario_b_*")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, buf.String(), "does not match golden file")
}

func TestTestCommandFailingScenario(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "failing.yaml"), []byte(failingScenario), 0644))

	buf, err := runTestCommand(t, &RootOptions{Format: "text"}, dir)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, buf.String(), "✗ failing")
	assert.Contains(t, buf.String(), "expected 0 defaults, got 1")
	assert.Contains(t, buf.String(), "0 passed, 1 failed, 1 total")
}

func TestTestCommandLoadError(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.yaml"), []byte("name: [unclosed"), 0644))

	buf, err := runTestCommand(t, &RootOptions{Format: "text"}, dir)
	require.Error(t, err)
	assert.Contains(t, buf.String(), "✗ broken.yaml")
	assert.Contains(t, buf.String(), "failed to load scenario")
}

func TestTestHelpText(t *testing.T) {
	buf, err := runTestCommand(t, &RootOptions{Format: "text"}, "--help")
	require.NoError(t, err)

	output := buf.String()
	assert.Contains(t, output, "--update")
	assert.Contains(t, output, "--filter")
	assert.Contains(t, output, "--golden-dir")
	assert.Contains(t, output, "scenarios-dir")
}

func TestFindScenarioFiles(t *testing.T) {
	tmpDir := t.TempDir()

	require.NoError(t, os.WriteFile(filepath.Join(tmpDir, "test1.yaml"), []byte(""), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(tmpDir, "test2.yml"), []byte(""), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(tmpDir, "ignore.golden"), []byte(""), 0644))

	files, err := findScenarioFiles(tmpDir, "")
	require.NoError(t, err)
	assert.Len(t, files, 2)
}

func TestFindScenarioFilesWithFilter(t *testing.T) {
	tmpDir := t.TempDir()

	require.NoError(t, os.WriteFile(filepath.Join(tmpDir, "repair-one.yaml"), []byte(""), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(tmpDir, "repair-all.yaml"), []byte(""), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(tmpDir, "create.yaml"), []byte(""), 0644))

	files, err := findScenarioFiles(tmpDir, "repair-*")
	require.NoError(t, err)
	assert.Len(t, files, 2)

	_, err = findScenarioFiles(tmpDir, "[")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid filter pattern")
}

func TestFindScenarioFilesSubdirectories(t *testing.T) {
	tmpDir := t.TempDir()
	subDir := filepath.Join(tmpDir, "subdir")
	require.NoError(t, os.MkdirAll(subDir, 0755))

	require.NoError(t, os.WriteFile(filepath.Join(tmpDir, "root.yaml"), []byte(""), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(subDir, "sub.yaml"), []byte(""), 0644))

	files, err := findScenarioFiles(tmpDir, "")
	require.NoError(t, err)
	assert.Len(t, files, 2)
}
