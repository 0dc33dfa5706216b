package mcpserver

import (
	"encoding/json"
	"fmt"
)

// jsonArg returns a tool argument that may arrive either as a JSON string
// or as an already-decoded value, re-encoded as JSON bytes.
func jsonArg(args map[string]any, key string) ([]byte, bool) {
	switch v := args[key].(type) {
	case nil:
		return nil, false
	case string:
		if v == "" {
			return nil, false
		}
		return []byte(v), true
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return nil, false
		}
		return b, true
	}
}

// parseJSONArg decodes an optional JSON tool argument into target.
func parseJSONArg(args map[string]any, key string, target any) error {
	data, ok := jsonArg(args, key)
	if !ok {
		return nil
	}
	if err := json.Unmarshal(data, target); err != nil {
		return fmt.Errorf("parse %s: %w", key, err)
	}
	return nil
}
