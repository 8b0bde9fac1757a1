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

const harnessScenarios = "../harness/testdata/scenarios"

const likeScenario = `name: quick_like
description: One like, flushed.
seed:
  users:
    - {id: alice}
    - {id: bob, token: tok-bob}
  posts:
    - {id: p1, author: bob}
flow:
  - step: like
    args: {actor: alice, target: p1}
  - step: flush
assertions:
  - type: likers
    target: p1
    values: [alice]
`

func execute(args ...string) (string, error) {
	cmd := NewRootCommand()
	out := &bytes.Buffer{}
	cmd.SetOut(out)
	cmd.SetErr(out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func writeScenario(t *testing.T, dir, name, body string) string {
	t.Helper()
	require.NoError(t, os.MkdirAll(dir, 0o755))
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestTestCommand_HarnessScenarios(t *testing.T) {
	out, err := execute("test", harnessScenarios)
	require.NoError(t, err, out)
	assert.Contains(t, out, "✓ like_notifies_owner")
	assert.Contains(t, out, "✓ All scenarios passed")
}

func TestTestCommand_Filter(t *testing.T) {
	out, err := execute("test", harnessScenarios, "--filter", "sweep_*", "--format", "json")
	require.NoError(t, err)

	var resp struct {
		Status string     `json:"status"`
		Data   TestResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, 2, resp.Data.Total)
	for _, s := range resp.Data.Scenarios {
		assert.True(t, s.Pass, "%s: %v", s.Name, s.Errors)
	}
}

func TestTestCommand_UpdateThenCompare(t *testing.T) {
	root := t.TempDir()
	scenarios := filepath.Join(root, "scenarios")
	writeScenario(t, scenarios, "quick_like.yaml", likeScenario)

	out, err := execute("test", scenarios, "--update")
	require.NoError(t, err, out)
	assert.Contains(t, out, "✓ quick_like (golden updated)")

	goldenPath := filepath.Join(root, "golden", "quick_like.golden")
	golden, err := os.ReadFile(goldenPath)
	require.NoError(t, err)
	assert.Contains(t, string(golden), `"scenario_name": "quick_like"`)

	out, err = execute("test", scenarios)
	require.NoError(t, err, out)
	assert.Contains(t, out, "1 passed, 0 failed, 1 total")

	require.NoError(t, os.WriteFile(goldenPath, []byte("{}\n"), 0o644))
	out, err = execute("test", scenarios)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "trace does not match golden file")
}

func TestTestCommand_FailingScenario(t *testing.T) {
	dir := t.TempDir()
	writeScenario(t, dir, "bad.yaml", `name: bad
description: Expects a like that never happens.
seed:
  users: [{id: alice}, {id: bob}]
  posts: [{id: p1, author: bob}]
flow:
  - step: sweep
assertions:
  - type: likers
    target: p1
    values: [alice]
`)
	writeScenario(t, dir, "broken.yaml", "name: broken\n")

	out, err := execute("test", dir, "--format", "json")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	var resp CLIResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, CodeTestFailed, resp.Error.Code)
	assert.Equal(t, "2 scenario(s) failed", resp.Error.Message)
}

func TestTestCommand_MissingDir(t *testing.T) {
	_, err := execute("test", filepath.Join(t.TempDir(), "nope"))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestTestCommand_NoScenarios(t *testing.T) {
	out, err := execute("test", t.TempDir(), "--filter", "nothing_*")
	require.NoError(t, err)
	assert.Contains(t, out, "No scenarios found.")
}

func TestFindScenarioFiles(t *testing.T) {
	dir := t.TempDir()
	writeScenario(t, dir, "like_a.yaml", "")
	writeScenario(t, dir, "like_b.yml", "")
	writeScenario(t, dir, "follow_a.yaml", "")
	writeScenario(t, dir, "notes.txt", "")
	writeScenario(t, filepath.Join(dir, "nested"), "like_c.yaml", "")

	all, err := findScenarioFiles(dir, "")
	require.NoError(t, err)
	assert.Len(t, all, 4)

	likes, err := findScenarioFiles(dir, "like_*")
	require.NoError(t, err)
	assert.Len(t, likes, 3)

	_, err = findScenarioFiles(dir, "[")
	assert.ErrorContains(t, err, "invalid filter pattern")
}

func TestTraceCommand(t *testing.T) {
	path := filepath.Join(harnessScenarios, "like_notifies_owner.yaml")

	out, err := execute("trace", path)
	require.NoError(t, err, out)
	assert.Contains(t, out, "Scenario: like_notifies_owner")
	assert.Contains(t, out, `[1] like {"actor":"alice","target":"p1"}`)
	assert.Contains(t, out, `=> {"action":"like","count":1}`)
	assert.Contains(t, out, "✓ passed")

	out, err = execute("trace", path, "--format", "json")
	require.NoError(t, err)
	var resp struct {
		Data struct {
			ScenarioName string `json:"scenario_name"`
			Trace        []struct {
				Step string `json:"step"`
			} `json:"trace"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "like_notifies_owner", resp.Data.ScenarioName)
	require.Len(t, resp.Data.Trace, 3)
	assert.Equal(t, "flush", resp.Data.Trace[1].Step)
}

func TestTraceCommand_FailingScenario(t *testing.T) {
	path := writeScenario(t, t.TempDir(), "s.yaml", `name: s
description: Self follow is rejected.
seed:
  users: [{id: alice}]
flow:
  - step: follow
    args: {follower: alice, following: alice}
`)
	out, err := execute("trace", path)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "error: cannot follow yourself")
}
