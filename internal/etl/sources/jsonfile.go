package sources

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"usageexport/internal/etl"
)

// jsonFile reads usage records from a JSON document on disk. A leading
// "~/" in filePath expands to the user's home directory.
type jsonFile struct{}

func init() { etl.RegisterSource(jsonFile{}) }

func (jsonFile) Spec() etl.SourceSpec {
	return etl.SourceSpec{
		Type:  "json_file",
		Label: "JSON File",
		ConfigFields: []etl.ConfigField{
			{Key: "filePath", Label: "File Path", Type: "file", Required: true, Help: "JSON file holding the usage records"},
			{Key: "dataPath", Label: "Data Path", Type: "string", Help: "gjson path to the record array, e.g. data.items; empty for a root array"},
		},
	}
}

func (f jsonFile) Discover(ctx context.Context, cfg etl.SourceConfig) (*etl.Schema, error) {
	records, err := f.load(cfg)
	if err != nil {
		return nil, err
	}
	return etl.DeriveSchema(records), nil
}

func (f jsonFile) Read(ctx context.Context, cfg etl.SourceConfig) (<-chan etl.Record, <-chan error) {
	return readWith(ctx, func() ([]etl.Record, error) { return f.load(cfg) })
}

func (jsonFile) load(cfg etl.SourceConfig) ([]etl.Record, error) {
	path, err := expandHome(cfg.String("filePath"))
	if err != nil {
		return nil, err
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("read file: %s is a directory", path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}
	return decodeRecords(data, cfg.String("dataPath"))
}

func expandHome(path string) (string, error) {
	if path == "" {
		return "", fmt.Errorf("filePath is required")
	}
	rest, ok := strings.CutPrefix(path, "~/")
	if !ok {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home: %w", err)
	}
	return filepath.Join(home, rest), nil
}
