package app

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testEnv holds a config file that keeps history inside a temp dir.
type testEnv struct {
	dir    string
	config string
}

func newTestEnv(t *testing.T, extra string) *testEnv {
	t.Helper()
	dir := t.TempDir()
	cfg := filepath.Join(dir, "usage-export.yaml")
	body := fmt.Sprintf("history:\n  path: %s\n%s", filepath.Join(dir, "history.db"), extra)
	require.NoError(t, os.WriteFile(cfg, []byte(body), 0644))
	return &testEnv{dir: dir, config: cfg}
}

func (e *testEnv) write(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(e.dir, name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

func (e *testEnv) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := NewRootCommand()
	var out, errOut bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetArgs(append([]string{"--config", e.config}, args...))
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

const usageJSON = `[
  {"date":"2024-01-01","usage_hours":7.5,"AHI":1.2,"mask_leak_rate":3,"pressure_settings":"10-12"},
  {"date":"2024-01-02","usage_hours":6.25,"AHI":null}
]`

func TestExport_DefaultColumns(t *testing.T) {
	env := newTestEnv(t, "")
	input := env.write(t, "usage.json", usageJSON)
	output := filepath.Join(env.dir, "nested", "usage_export.csv")

	out, err := env.run(t, "--input", input, "--output", output)
	require.NoError(t, err)
	assert.Equal(t, fmt.Sprintf("Successfully exported 2 records to %s\n", output), out)

	data, err := os.ReadFile(output)
	require.NoError(t, err)
	assert.Equal(t,
		"date,usage_hours,AHI,mask_leak_rate,pressure_settings\n"+
			"2024-01-01,7.5,1.2,3,10-12\n"+
			"2024-01-02,6.25,,,\n",
		string(data))
}

func TestExport_SubcommandWithColumnsAndStrategy(t *testing.T) {
	env := newTestEnv(t, "")
	input := env.write(t, "usage.json", usageJSON)
	output := filepath.Join(env.dir, "u.csv")

	_, err := env.run(t, "export", "--input", input, "--output", output, "--columns", " AHI , date ", "--strategy", "stream")
	require.NoError(t, err)

	data, err := os.ReadFile(output)
	require.NoError(t, err)
	assert.Equal(t, "AHI,date\n1.2,2024-01-01\n,2024-01-02\n", string(data))
}

func TestExport_EmptyColumnEntryKept(t *testing.T) {
	env := newTestEnv(t, "")
	input := env.write(t, "usage.json", usageJSON)
	output := filepath.Join(env.dir, "u.csv")

	_, err := env.run(t, "--input", input, "--output", output, "--columns", "date,,AHI")
	require.NoError(t, err)

	data, err := os.ReadFile(output)
	require.NoError(t, err)
	assert.Equal(t, "date,,AHI\n2024-01-01,,1.2\n2024-01-02,,\n", string(data))
}

func TestExport_EmptyInputFails(t *testing.T) {
	env := newTestEnv(t, "")
	input := env.write(t, "usage.json", `[]`)
	output := filepath.Join(env.dir, "u.csv")

	_, err := env.run(t, "--input", input, "--output", output)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no data to export")

	_, statErr := os.Stat(output)
	assert.True(t, os.IsNotExist(statErr))
}

func TestExport_RequiresInput(t *testing.T) {
	env := newTestEnv(t, "")
	_, err := env.run(t, "--output", filepath.Join(env.dir, "u.csv"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--input is required")
}

func TestExport_SourceFromConfig(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, "usage.json")
	require.NoError(t, os.WriteFile(input, []byte(`{"data":{"items":[{"date":"2024-01-03","usage_hours":2}]}}`), 0644))
	output := filepath.Join(dir, "u.csv")

	env := newTestEnv(t, fmt.Sprintf(`output: %s
columns: [date, usage_hours]
source:
  type: json_file
  config:
    filePath: %s
    dataPath: data.items
`, output, input))

	out, err := env.run(t)
	require.NoError(t, err)
	assert.Contains(t, out, "Successfully exported 1 records")

	data, err := os.ReadFile(output)
	require.NoError(t, err)
	assert.Equal(t, "date,usage_hours\n2024-01-03,2\n", string(data))
}

func TestHistory_ListsRuns(t *testing.T) {
	env := newTestEnv(t, "")
	input := env.write(t, "usage.json", usageJSON)
	output := filepath.Join(env.dir, "u.csv")

	_, err := env.run(t, "--input", input, "--output", output)
	require.NoError(t, err)

	out, err := env.run(t, "history", "--limit", "5")
	require.NoError(t, err)
	assert.Contains(t, out, "STATUS")
	assert.Contains(t, out, "success")
	assert.Contains(t, out, output)
}

func TestHistory_Empty(t *testing.T) {
	env := newTestEnv(t, "")
	out, err := env.run(t, "history")
	require.NoError(t, err)
	assert.Equal(t, "No export runs recorded yet\n", out)
}

func TestHistory_Disabled(t *testing.T) {
	env := newTestEnv(t, "")
	env2 := &testEnv{dir: env.dir, config: env.write(t, "nohist.yaml", "history:\n  enabled: false\n")}
	_, err := env2.run(t, "history")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disabled")
}

func TestExport_HistoryUnavailable(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "blocker")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0644))
	cfg := filepath.Join(dir, "usage-export.yaml")
	require.NoError(t, os.WriteFile(cfg, []byte(fmt.Sprintf("history:\n  path: %s\n", filepath.Join(blocker, "history.db"))), 0644))
	env := &testEnv{dir: dir, config: cfg}

	input := env.write(t, "usage.json", usageJSON)
	output := filepath.Join(dir, "u.csv")

	out, err := env.run(t, "--input", input, "--output", output)
	require.NoError(t, err)
	assert.Equal(t, fmt.Sprintf("Successfully exported 2 records to %s\n", output), out)
	_, err = os.Stat(output)
	require.NoError(t, err)

	_, err = env.run(t, "history")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disabled")
}

func TestSources_Lists(t *testing.T) {
	env := newTestEnv(t, "")
	out, err := env.run(t, "sources")
	require.NoError(t, err)
	assert.Contains(t, out, "json_file")
	assert.Contains(t, out, "http")
	assert.Contains(t, out, "database")
}

func TestWatch_RequiresSomethingToWatch(t *testing.T) {
	env := newTestEnv(t, "")
	_, err := env.run(t, "watch", "--input", "http://127.0.0.1:1/usage", "--output", filepath.Join(env.dir, "u.csv"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nothing to watch")
}
