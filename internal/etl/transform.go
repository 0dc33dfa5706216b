package etl

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// ── Transforms ─────────────────────────────────────────────
// A transform sees each record between the source and the CSV writer and
// may rewrite it or drop it.

// Transformer rewrites one record. keep=false drops it from the export.
type Transformer interface {
	Transform(Record) (out Record, keep bool)
}

// TransformerFunc lets a plain function act as a Transformer.
type TransformerFunc func(Record) (Record, bool)

func (f TransformerFunc) Transform(r Record) (Record, bool) { return f(r) }

// TransformConfig declares one transform, as read from config or MCP input.
// Config keys match case-insensitively.
type TransformConfig struct {
	Type   string         `json:"type" mapstructure:"type"`
	Config map[string]any `json:"config" mapstructure:"config"`
}

// FilterTransform keeps records whose Field satisfies Op against Value.
// Ordering ops compare as numbers when both sides parse, else as text, so
// ISO dates order correctly. A record without Field is dropped.
type FilterTransform struct {
	Field string
	Op    string // eq, neq, gt, gte, lt, lte, contains
	Value any
}

func (t *FilterTransform) Transform(r Record) (Record, bool) {
	v, ok := r.Data[t.Field]
	if !ok {
		return r, false
	}
	if t.Op == "contains" {
		return r, strings.Contains(FormatCell(v), FormatCell(t.Value))
	}
	if t.Op == "eq" || t.Op == "neq" {
		same := FormatCell(v) == FormatCell(t.Value)
		return r, same == (t.Op == "eq")
	}
	c := compareValues(v, t.Value)
	keep := map[string]bool{"gt": c > 0, "gte": c >= 0, "lt": c < 0, "lte": c <= 0}
	if k, known := keep[t.Op]; known {
		return r, k
	}
	return r, true
}

// RenameTransform moves values from old keys to new keys.
type RenameTransform struct {
	Mapping map[string]string
}

func (t *RenameTransform) Transform(r Record) (Record, bool) {
	for from, to := range t.Mapping {
		v, ok := r.Data[from]
		if !ok {
			continue
		}
		delete(r.Data, from)
		r.Data[to] = v
	}
	return r, true
}

// DedupeTransform passes only the first record for each Key value.
type DedupeTransform struct {
	Key  string
	seen map[string]struct{}
}

func NewDedupeTransform(key string) *DedupeTransform {
	return &DedupeTransform{Key: key, seen: map[string]struct{}{}}
}

func (t *DedupeTransform) Transform(r Record) (Record, bool) {
	k := FormatCell(r.Data[t.Key])
	if _, dup := t.seen[k]; dup {
		return r, false
	}
	t.seen[k] = struct{}{}
	return r, true
}

// SortTransform orders the whole batch by Field. Per record it is a no-op;
// ApplyBatchSort does the work once reading is done.
type SortTransform struct {
	Field     string
	Direction string // asc or desc
}

func (t *SortTransform) Transform(r Record) (Record, bool) { return r, true }

// LimitTransform passes the first Count records.
type LimitTransform struct {
	Count  int
	passed int
}

func NewLimitTransform(count int) *LimitTransform { return &LimitTransform{Count: count} }

func (t *LimitTransform) Transform(r Record) (Record, bool) {
	if t.passed >= t.Count {
		return r, false
	}
	t.passed++
	return r, true
}

// TypeCastTransform coerces Field to number, string or bool. A value that
// is not numeric becomes null under the number cast.
type TypeCastTransform struct {
	Field    string
	CastType string
}

func (t *TypeCastTransform) Transform(r Record) (Record, bool) {
	v := r.Data[t.Field]
	if v == nil {
		return r, true
	}
	switch t.CastType {
	case "number":
		if f, ok := toFloatSafe(v); ok {
			r.Data[t.Field] = f
		} else {
			r.Data[t.Field] = nil
		}
	case "string":
		r.Data[t.Field] = FormatCell(v)
	case "bool":
		r.Data[t.Field] = toBool(v)
	}
	return r, true
}

// ── Building ───────────────────────────────────────────────

type transformBuilder func(cfg SourceConfig) (Transformer, error)

var transformBuilders = map[string]transformBuilder{
	"filter": func(cfg SourceConfig) (Transformer, error) {
		field, op := cfg.String("field"), cfg.String("op")
		if field == "" || op == "" {
			return nil, fmt.Errorf("filter needs field and op")
		}
		return &FilterTransform{Field: field, Op: op, Value: cfg.Get("value")}, nil
	},
	"rename": func(cfg SourceConfig) (Transformer, error) {
		raw, ok := cfg.Get("mapping").(map[string]any)
		if !ok {
			return nil, fmt.Errorf("rename needs mapping")
		}
		mapping := make(map[string]string, len(raw))
		for from, to := range raw {
			mapping[from] = fmt.Sprint(to)
		}
		return &RenameTransform{Mapping: mapping}, nil
	},
	"type_cast": func(cfg SourceConfig) (Transformer, error) {
		field, cast := cfg.String("field"), cfg.String("castType")
		if field == "" || cast == "" {
			return nil, fmt.Errorf("type_cast needs field and castType")
		}
		return &TypeCastTransform{Field: field, CastType: cast}, nil
	},
	"sort": func(cfg SourceConfig) (Transformer, error) {
		field := cfg.String("field")
		if field == "" {
			return nil, fmt.Errorf("sort needs field")
		}
		dir := cfg.String("direction")
		if dir == "" {
			dir = "asc"
		}
		return &SortTransform{Field: field, Direction: dir}, nil
	},
	"limit": func(cfg SourceConfig) (Transformer, error) {
		n, ok := toFloatSafe(cfg.Get("count"))
		if !ok || n <= 0 {
			return nil, fmt.Errorf("limit needs a positive count")
		}
		return NewLimitTransform(int(n)), nil
	},
	"dedupe": func(cfg SourceConfig) (Transformer, error) {
		key := cfg.String("key")
		if key == "" {
			return nil, fmt.Errorf("dedupe needs key")
		}
		return NewDedupeTransform(key), nil
	},
}

// BuildTransformers turns configs into a chain. Dedupe always runs last so
// it only sees records the other transforms kept.
func BuildTransformers(configs []TransformConfig) ([]Transformer, error) {
	var chain []Transformer
	var dedupe Transformer

	for i, tc := range configs {
		build, ok := transformBuilders[tc.Type]
		if !ok {
			return nil, fmt.Errorf("transform %d: unknown type %q", i, tc.Type)
		}
		t, err := build(SourceConfig(tc.Config))
		if err != nil {
			return nil, fmt.Errorf("transform %d: %w", i, err)
		}
		if _, isDedupe := t.(*DedupeTransform); isDedupe {
			dedupe = t
			continue
		}
		chain = append(chain, t)
	}

	if dedupe != nil {
		chain = append(chain, dedupe)
	}
	return chain, nil
}

// ApplyTransformers runs r through the chain, stopping at the first drop.
func ApplyTransformers(r Record, chain []Transformer) (Record, bool) {
	for _, t := range chain {
		out, keep := t.Transform(r)
		if !keep {
			return out, false
		}
		r = out
	}
	return r, true
}

// ApplyBatchSort applies the first SortTransform in the chain, if any.
// The input slice is left untouched.
func ApplyBatchSort(records []Record, chain []Transformer) []Record {
	var st *SortTransform
	for _, t := range chain {
		if s, ok := t.(*SortTransform); ok && s.Field != "" {
			st = s
			break
		}
	}
	if st == nil {
		return records
	}

	out := append([]Record(nil), records...)
	desc := st.Direction == "desc"
	sort.SliceStable(out, func(i, j int) bool {
		c := compareValues(out[i].Data[st.Field], out[j].Data[st.Field])
		if desc {
			return c > 0
		}
		return c < 0
	})
	return out
}

// ── Value helpers ──────────────────────────────────────────

func compareValues(a, b any) int {
	fa, aNum := toFloatSafe(a)
	fb, bNum := toFloatSafe(b)
	if !aNum || !bNum {
		return strings.Compare(FormatCell(a), FormatCell(b))
	}
	if fa < fb {
		return -1
	}
	if fa > fb {
		return 1
	}
	return 0
}

func toFloatSafe(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil
	}
	return 0, false
}

func toBool(v any) bool {
	if b, ok := v.(bool); ok {
		return b
	}
	if s, ok := v.(string); ok {
		switch strings.ToLower(strings.TrimSpace(s)) {
		case "true", "yes", "1", "y":
			return true
		}
		return false
	}
	f, ok := toFloatSafe(v)
	return ok && f != 0
}
