package tools

import (
	"encoding/json"
	"fmt"
	"reflect"
)

var envelopeKeys = []string{"isError", "meta", "_meta", "structuredContent"}

// NormalizeResult converts a tool server result into plain JSON values. Errors become
// {"error": message}. A result envelope keeps its content, isError, meta and
// structuredContent fields; everything else is walked recursively and unknown
// leaves are stringified.
func NormalizeResult(v any) any {
	if err, ok := v.(error); ok {
		return ErrorResult(err)
	}
	if m, ok := v.(map[string]any); ok && isEnvelope(m) {
		return normalizeEnvelope(m)
	}
	out := walk(v)
	if m, ok := out.(map[string]any); ok && isEnvelope(m) {
		return normalizeEnvelope(m)
	}
	return out
}

// ErrorResult is the tool result reported to the model for a failed call.
func ErrorResult(err error) map[string]any {
	return map[string]any{"error": err.Error()}
}

func isEnvelope(m map[string]any) bool {
	if _, ok := m["content"]; !ok {
		return false
	}
	for _, k := range envelopeKeys {
		if _, ok := m[k]; ok {
			return true
		}
	}
	return false
}

func normalizeEnvelope(m map[string]any) map[string]any {
	out := map[string]any{
		"content": walk(m["content"]),
	}
	if isErr, ok := m["isError"]; ok {
		out["isError"] = walk(isErr)
	}
	if meta, ok := m["meta"]; ok {
		out["meta"] = walk(meta)
	} else if meta, ok := m["_meta"]; ok {
		out["meta"] = walk(meta)
	}
	if sc, ok := m["structuredContent"]; ok && sc != nil {
		out["structuredContent"] = walk(sc)
	}
	return out
}

func walk(v any) any {
	switch t := v.(type) {
	case nil, bool, string, float64, float32, int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64, json.Number:
		return t
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = walk(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = walk(val)
		}
		return out
	case []byte:
		return string(t)
	case error:
		return t.Error()
	case fmt.Stringer:
		return t.String()
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Struct, reflect.Map, reflect.Slice, reflect.Array, reflect.Pointer:
		raw, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprint(v)
		}
		var plain any
		if err := json.Unmarshal(raw, &plain); err != nil {
			return fmt.Sprint(v)
		}
		return walk(plain)
	default:
		return fmt.Sprint(v)
	}
}
