package toolserver

import (
	"fmt"
	"log/slog"
)

var schemaKeys = []string{"inputSchema", "input_schema", "params", "schema"}

// NormalizeTools converts a list-tools response into ToolSpecs. Accepted shapes are
// a {"tools": [...]} or {"functions": [...]} mapping, a ["tools", [...]] pair or a
// list of such pairs, and a bare list of tool objects. Entries without a name are
// skipped.
func NormalizeTools(raw any, logger *slog.Logger) ([]ToolSpec, error) {
	if logger == nil {
		logger = slog.Default()
	}
	plain, err := toPlain(raw)
	if err != nil {
		return nil, fmt.Errorf("decode tool list: %w", err)
	}

	items, ok := toolItems(plain)
	if !ok {
		return nil, fmt.Errorf("unrecognized tool list shape %T", plain)
	}

	specs := make([]ToolSpec, 0, len(items))
	for _, item := range items {
		m, ok := item.(map[string]any)
		if !ok {
			logger.Warn("skipping tool entry that is not an object", "entry", fmt.Sprint(item))
			continue
		}
		name, _ := m["name"].(string)
		if name == "" {
			logger.Warn("skipping tool without a name")
			continue
		}
		desc, _ := m["description"].(string)
		specs = append(specs, ToolSpec{
			Name:        name,
			Description: desc,
			InputSchema: schemaOf(m),
		})
	}
	return specs, nil
}

func toolItems(v any) ([]any, bool) {
	switch t := v.(type) {
	case nil:
		return nil, true
	case map[string]any:
		for _, key := range []string{"tools", "functions"} {
			if list, ok := t[key]; ok {
				if list == nil {
					return nil, true
				}
				items, ok := list.([]any)
				return items, ok
			}
		}
		return nil, false
	case []any:
		if items, ok := taggedPair(t); ok {
			return items, true
		}
		// list of pairs, as produced by iterating a result object
		if len(t) > 0 {
			if _, isPair := t[0].([]any); isPair {
				for _, el := range t {
					if pair, ok := el.([]any); ok {
						if items, ok := taggedPair(pair); ok {
							return items, true
						}
					}
				}
				return nil, true
			}
		}
		return t, true
	default:
		return nil, false
	}
}

func taggedPair(v []any) ([]any, bool) {
	if len(v) != 2 {
		return nil, false
	}
	tag, ok := v[0].(string)
	if !ok || (tag != "tools" && tag != "functions") {
		return nil, false
	}
	if v[1] == nil {
		return nil, true
	}
	items, ok := v[1].([]any)
	return items, ok
}

func schemaOf(tool map[string]any) map[string]any {
	for _, key := range schemaKeys {
		raw, ok := tool[key]
		if !ok || raw == nil {
			continue
		}
		switch s := raw.(type) {
		case map[string]any:
			return objectSchema(s)
		case []any:
			return paramListSchema(s)
		}
	}
	return objectSchema(nil)
}

func objectSchema(s map[string]any) map[string]any {
	out := make(map[string]any, len(s)+2)
	for k, v := range s {
		out[k] = v
	}
	if _, ok := out["type"]; !ok {
		out["type"] = "object"
	}
	if _, ok := out["properties"].(map[string]any); !ok {
		out["properties"] = map[string]any{}
	}
	return out
}

// paramListSchema converts [{"name", "type", "description", "required"}] into an
// object schema.
func paramListSchema(params []any) map[string]any {
	props := map[string]any{}
	var required []any
	for _, p := range params {
		m, ok := p.(map[string]any)
		if !ok {
			continue
		}
		name, _ := m["name"].(string)
		if name == "" {
			continue
		}
		prop := map[string]any{"type": "string"}
		if t, ok := m["type"].(string); ok && t != "" {
			prop["type"] = t
		}
		for _, k := range []string{"description", "desc"} {
			if d, ok := m[k].(string); ok && d != "" {
				prop["description"] = d
				break
			}
		}
		if enum, ok := m["enum"].([]any); ok {
			prop["enum"] = enum
		}
		props[name] = prop
		if req, ok := m["required"].(bool); ok && req {
			required = append(required, name)
		}
	}
	schema := map[string]any{"type": "object", "properties": props}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}
