package sources

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/tidwall/gjson"

	"usageexport/internal/etl"
)

// decodeRecords parses a JSON document into records. dataPath is a gjson
// path (e.g. "data.items") addressing the array; empty means the root.
// The addressed value must be an array of objects or a single object.
// Numbers keep their literal text as json.Number.
func decodeRecords(data []byte, dataPath string) ([]etl.Record, error) {
	if !gjson.ValidBytes(data) {
		return nil, fmt.Errorf("parse json: invalid document")
	}

	raw := data
	if dataPath != "" {
		res := gjson.GetBytes(data, dataPath)
		if !res.Exists() {
			return nil, fmt.Errorf("invalid data path: %q not found", dataPath)
		}
		raw = []byte(res.Raw)
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("parse json: %w", err)
	}

	switch val := v.(type) {
	case []any:
		records := make([]etl.Record, 0, len(val))
		for i, item := range val {
			m, ok := item.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("record %d is not an object", i)
			}
			records = append(records, etl.Record{Data: flattenMap(m)})
		}
		return records, nil
	case map[string]any:
		// Single object → single record.
		return []etl.Record{{Data: flattenMap(val)}}, nil
	default:
		return nil, fmt.Errorf("expected an array of objects, got %s", jsonKind(v))
	}
}

// flattenMap keeps scalar values (string, number, bool, null) as they are.
// Nested objects/arrays are serialized as compact JSON strings.
func flattenMap(m map[string]any) map[string]any {
	flat := make(map[string]any, len(m))
	for k, v := range m {
		switch v.(type) {
		case string, json.Number, bool, nil:
			flat[k] = v
		default:
			b, _ := json.Marshal(v)
			flat[k] = string(b)
		}
	}
	return flat
}

func jsonKind(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case string:
		return "a string"
	case json.Number:
		return "a number"
	case bool:
		return "a boolean"
	default:
		return fmt.Sprintf("%T", v)
	}
}

// emit sends records to out until done or ctx is cancelled.
func emit(ctx context.Context, out chan<- etl.Record, records []etl.Record) bool {
	for _, rec := range records {
		select {
		case out <- rec:
		case <-ctx.Done():
			return false
		}
	}
	return true
}

// readWith runs load in a goroutine and streams its records, the way every
// source in this package implements Read.
func readWith(ctx context.Context, load func() ([]etl.Record, error)) (<-chan etl.Record, <-chan error) {
	out := make(chan etl.Record, 100)
	errCh := make(chan error, 1)

	go func() {
		defer close(out)
		defer close(errCh)

		records, err := load()
		if err != nil {
			errCh <- err
			return
		}
		emit(ctx, out, records)
	}()

	return out, errCh
}
