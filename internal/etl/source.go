package etl

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// SourceConfig is an opaque configuration map parsed per source type.
type SourceConfig map[string]any

// Get returns the value under key. Keys match case-insensitively when there
// is no exact match, since config files may come back lowercased.
func (c SourceConfig) Get(key string) any {
	if v, ok := c[key]; ok {
		return v
	}
	for k, v := range c {
		if strings.EqualFold(k, key) {
			return v
		}
	}
	return nil
}

// String returns the value under key as a string, or "" when absent.
func (c SourceConfig) String(key string) string {
	v, _ := c.Get(key).(string)
	return v
}

// ConfigField describes one setting a source accepts.
type ConfigField struct {
	Key      string   `json:"key"`
	Label    string   `json:"label"`
	Type     string   `json:"type"` // string | select | textarea | file
	Required bool     `json:"required"`
	Options  []string `json:"options,omitempty"`
	Default  string   `json:"default,omitempty"`
	Help     string   `json:"help,omitempty"`
}

// SourceSpec names a source type and lists its settings.
type SourceSpec struct {
	Type         string        `json:"type"`
	Label        string        `json:"label"`
	ConfigFields []ConfigField `json:"configFields"`
}

// Missing returns the keys of required fields that cfg leaves empty.
func (s SourceSpec) Missing(cfg SourceConfig) []string {
	var keys []string
	for _, f := range s.ConfigFields {
		if f.Required && FormatCell(cfg.Get(f.Key)) == "" {
			keys = append(keys, f.Key)
		}
	}
	return keys
}

// Source extracts usage records from an external system.
type Source interface {
	Spec() SourceSpec

	// Discover reads enough of the source to describe its fields.
	Discover(ctx context.Context, cfg SourceConfig) (*Schema, error)

	// Read streams records until the source is drained or ctx is done, then
	// closes both channels. At most one error is sent.
	Read(ctx context.Context, cfg SourceConfig) (<-chan Record, <-chan error)
}

// ── Registry ───────────────────────────────────────────────
// Source implementations register themselves from init().

type sourceRegistry struct {
	mu     sync.RWMutex
	byType map[string]Source
}

var registry = &sourceRegistry{byType: map[string]Source{}}

// RegisterSource adds s under its spec type, replacing any earlier entry.
func RegisterSource(s Source) {
	registry.mu.Lock()
	defer registry.mu.Unlock()
	registry.byType[s.Spec().Type] = s
}

// GetSource returns the source registered for typ.
func GetSource(typ string) (Source, error) {
	registry.mu.RLock()
	defer registry.mu.RUnlock()
	if s, ok := registry.byType[typ]; ok {
		return s, nil
	}
	return nil, fmt.Errorf("unknown source type: %q", typ)
}

// ListSources returns every registered spec, ordered by type.
func ListSources() []SourceSpec {
	registry.mu.RLock()
	specs := make([]SourceSpec, 0, len(registry.byType))
	for _, s := range registry.byType {
		specs = append(specs, s.Spec())
	}
	registry.mu.RUnlock()

	sort.Slice(specs, func(i, j int) bool { return specs[i].Type < specs[j].Type })
	return specs
}

// ReadAll drains a source into memory. A source error wins over ctx.Err.
func ReadAll(ctx context.Context, src Source, cfg SourceConfig) ([]Record, error) {
	recCh, errCh := src.Read(ctx, cfg)
	var records []Record
	for rec := range recCh {
		records = append(records, rec)
	}
	if err := <-errCh; err != nil {
		return records, err
	}
	return records, ctx.Err()
}
