package registry

import (
	"fmt"
	"strings"
)

const schemaRefPrefix = "#/schemas/"

// expandRefs replaces every "$ref": "#/schemas/<name>" in schema with the
// pointed-to fragment from schemas, recursively, in a single pass (§4.4
// phase 2). A $ref cycle is an error.
func expandRefs(schema RawJSON, schemas map[string]RawJSON) (RawJSON, error) {
	if schema == nil {
		return nil, nil
	}
	seen := map[string]bool{}
	v, err := expandValue(schema, schemas, seen)
	if err != nil {
		return nil, err
	}
	m, _ := v.(map[string]any)
	return m, nil
}

func expandValue(v any, schemas map[string]RawJSON, seen map[string]bool) (any, error) {
	switch t := v.(type) {
	case map[string]any:
		if ref, ok := t["$ref"].(string); ok {
			name, ok := strings.CutPrefix(ref, schemaRefPrefix)
			if !ok {
				return nil, fmt.Errorf("registry: unsupported $ref %q (only #/schemas/<name> is supported)", ref)
			}
			if seen[name] {
				return nil, fmt.Errorf("registry: cycle detected in $ref %q", ref)
			}
			target, ok := schemas[name]
			if !ok {
				return nil, fmt.Errorf("registry: $ref %q does not resolve to a known schema", ref)
			}
			seen2 := make(map[string]bool, len(seen)+1)
			for k := range seen {
				seen2[k] = true
			}
			seen2[name] = true
			return expandValue(target, schemas, seen2)
		}
		out := make(map[string]any, len(t))
		for k, vv := range t {
			ev, err := expandValue(vv, schemas, seen)
			if err != nil {
				return nil, err
			}
			out[k] = ev
		}
		return out, nil
	case []any:
		out := make([]any, len(t))
		for i, vv := range t {
			ev, err := expandValue(vv, schemas, seen)
			if err != nil {
				return nil, err
			}
			out[i] = ev
		}
		return out, nil
	default:
		return v, nil
	}
}
