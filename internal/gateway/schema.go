package gateway

import (
	"encoding/json"
	"os"
	"strings"

	"github.com/revittco/mcpgate/internal/mcpwire"
)

// slimToolsEnabled returns true unless MCPGATE_SLIM_TOOLS is explicitly "false".
func slimToolsEnabled() bool {
	return strings.ToLower(os.Getenv("MCPGATE_SLIM_TOOLS")) != "false"
}

// minifyTools strips non-essential schema metadata from each tool's
// InputSchema to reduce context window consumption. Preserves type
// structure and constraints but removes descriptions, defaults, examples,
// and other noise a model doesn't need to construct a valid call.
func minifyTools(tools []mcpwire.Tool) []mcpwire.Tool {
	out := make([]mcpwire.Tool, len(tools))
	for i, t := range tools {
		out[i] = t
		out[i].InputSchema = minifySchema(t.InputSchema)
	}
	return out
}

func minifySchema(schema any) any {
	raw, err := json.Marshal(schema)
	if err != nil {
		return schema
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil {
		return schema
	}

	stripTopLevel(obj)
	if props, ok := obj["properties"]; ok {
		obj["properties"] = minifyProperties(props)
	}

	out, err := json.Marshal(obj)
	if err != nil {
		return schema
	}
	var result any
	if err := json.Unmarshal(out, &result); err != nil {
		return schema
	}
	return result
}

func stripTopLevel(obj map[string]json.RawMessage) {
	delete(obj, "description")
	delete(obj, "additionalProperties")
	delete(obj, "examples")
	delete(obj, "default")
	delete(obj, "title")
	delete(obj, "$schema")
}

var keysToKeep = map[string]bool{
	"type": true, "properties": true, "required": true,
	"enum": true, "items": true, "const": true,
	"oneOf": true, "anyOf": true, "allOf": true,
	"minimum": true, "maximum": true,
	"minLength": true, "maxLength": true, "pattern": true,
}

func minifyProperties(raw json.RawMessage) json.RawMessage {
	var props map[string]json.RawMessage
	if err := json.Unmarshal(raw, &props); err != nil {
		return raw
	}

	for name, propRaw := range props {
		var prop map[string]json.RawMessage
		if err := json.Unmarshal(propRaw, &prop); err != nil {
			continue
		}

		cleaned := make(map[string]json.RawMessage, len(prop))
		for k, v := range prop {
			if keysToKeep[k] {
				cleaned[k] = v
			}
		}

		if nested, ok := cleaned["properties"]; ok {
			cleaned["properties"] = minifyProperties(nested)
		}
		if items, ok := cleaned["items"]; ok {
			var itemsAny any
			if err := json.Unmarshal(items, &itemsAny); err == nil {
				minified := minifySchema(itemsAny)
				if b, err := json.Marshal(minified); err == nil {
					cleaned["items"] = b
				}
			}
		}

		out, err := json.Marshal(cleaned)
		if err != nil {
			continue
		}
		props[name] = out
	}

	result, err := json.Marshal(props)
	if err != nil {
		return raw
	}
	return result
}
