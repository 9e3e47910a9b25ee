package models

import (
	"encoding/json"
	"fmt"
)

// NormalizeValue converts v into its JSON data-model form (map[string]any,
// []any, string, float64, bool, nil) by encoding and decoding it. Values that
// cannot be encoded are rejected. Normalizing up front means a value reads
// back the same before and after a restart.
func NormalizeValue(v any) (any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("value is not JSON-serializable: %w", err)
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("value is not JSON-serializable: %w", err)
	}
	return out, nil
}

// NormalizeMap is NormalizeValue for free-form metadata maps. A nil map
// normalizes to an empty one.
func NormalizeMap(m map[string]any) (map[string]any, error) {
	if m == nil {
		return map[string]any{}, nil
	}
	v, err := NormalizeValue(m)
	if err != nil {
		return nil, err
	}
	out, _ := v.(map[string]any)
	if out == nil {
		out = map[string]any{}
	}
	return out, nil
}

// CloneValue deep-copies maps and slices in the JSON data model. Other
// values are returned as is.
func CloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return CloneMap(t)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = CloneValue(e)
		}
		return out
	default:
		return v
	}
}

// CloneMap deep-copies m. A nil map stays nil.
func CloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = CloneValue(v)
	}
	return out
}
