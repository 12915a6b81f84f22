package tasks

import "fmt"

// stringParam reads a string parameter. A missing optional one yields def.
func stringParam(params map[string]any, name string, required bool, def string) (string, error) {
	v, ok := params[name]
	if !ok || v == nil {
		if required {
			return "", fmt.Errorf("missing required param %q", name)
		}
		return def, nil
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("param %q must be a string, got %T", name, v)
	}
	if s == "" && required {
		return "", fmt.Errorf("param %q must not be empty", name)
	}
	return s, nil
}

// stringsParam reads a list of strings. A single string is a one-item list.
func stringsParam(params map[string]any, name string) ([]string, error) {
	switch v := params[name].(type) {
	case nil:
		return nil, fmt.Errorf("missing required param %q", name)
	case string:
		return []string{v}, nil
	case []string:
		return v, nil
	case []any:
		out := make([]string, 0, len(v))
		for i, item := range v {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("param %q[%d] must be a string, got %T", name, i, item)
			}
			out = append(out, s)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("param %q must be a list of strings, got %T", name, v)
	}
}
