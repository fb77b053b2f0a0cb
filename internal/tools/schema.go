package tools

import "sort"

// parameterSchema builds the function-parameter schema advertised to the model from
// a server's input schema. Every property is required unless the server lists the
// required ones itself.
func parameterSchema(input map[string]any) map[string]any {
	props, _ := input["properties"].(map[string]any)
	if props == nil {
		props = map[string]any{}
	}

	var required []string
	switch req := input["required"].(type) {
	case []any:
		for _, r := range req {
			if s, ok := r.(string); ok {
				required = append(required, s)
			}
		}
	case []string:
		required = append(required, req...)
	default:
		for name := range props {
			required = append(required, name)
		}
		sort.Strings(required)
	}
	if required == nil {
		required = []string{}
	}

	schema := map[string]any{
		"type":       "object",
		"properties": props,
		"required":   required,
	}
	if defs, ok := input["$defs"]; ok {
		schema["$defs"] = defs
	}
	return schema
}
