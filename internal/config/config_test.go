package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"usageexport/internal/etl"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "usage-export.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(New(), filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err, "an explicit file that does not exist is an error")
	assert.Nil(t, cfg)

	v := New()
	v.AddConfigPath(t.TempDir())
	cfg, err = Load(v, "")
	require.NoError(t, err)
	assert.Equal(t, "usage_export.csv", cfg.Output)
	assert.Equal(t, "auto", cfg.Strategy)
	assert.Equal(t, etl.DefaultMemoryFraction, cfg.Frame.MemoryFraction)
	assert.True(t, cfg.History.Enabled)
	assert.NotEmpty(t, cfg.History.Path)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Empty(t, cfg.Columns)
}

func TestLoad_File(t *testing.T) {
	path := writeConfig(t, `
output: out/report.csv
columns: [date, " AHI ", ""]
strategy: stream
frame:
  max_cells: 1000
source:
  type: json_file
  config:
    filePath: data/usage.json
transforms:
  - type: filter
    config:
      field: usage_hours
      op: gt
      value: 4
history:
  enabled: false
log:
  level: debug
`)
	cfg, err := Load(New(), path)
	require.NoError(t, err)

	assert.Equal(t, "out/report.csv", cfg.Output)
	assert.Equal(t, []string{"date", "AHI", ""}, cfg.Columns)
	assert.Equal(t, "stream", cfg.Strategy)
	assert.Equal(t, int64(1000), cfg.Frame.MaxCells)
	assert.Equal(t, "json_file", cfg.Source.Type)
	assert.Equal(t, "data/usage.json", etl.SourceConfig(cfg.Source.Config).String("filePath"))
	require.Len(t, cfg.Transforms, 1)
	assert.Equal(t, "filter", cfg.Transforms[0].Type)
	assert.Equal(t, "usage_hours", cfg.Transforms[0].Config["field"])
	assert.False(t, cfg.History.Enabled)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := writeConfig(t, "output: from-file.csv\n")
	t.Setenv("USAGE_EXPORT_OUTPUT", "from-env.csv")
	t.Setenv("USAGE_EXPORT_LOG_LEVEL", "warn")

	cfg, err := Load(New(), path)
	require.NoError(t, err)
	assert.Equal(t, "from-env.csv", cfg.Output)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestLoad_RejectsUnknownStrategy(t *testing.T) {
	path := writeConfig(t, "strategy: turbo\n")
	_, err := Load(New(), path)
	require.ErrorIs(t, err, etl.ErrUnknownStrategy)
}
