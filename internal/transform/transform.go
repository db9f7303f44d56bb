// Package transform implements the call-path transformation engine (§4.5):
// request-side default injection, name rewrite, and argument type coercion;
// response-side output projection, JSON-in-text promotion, and markdown-list
// text extraction.
package transform

import (
	"log/slog"
	"maps"
	"strconv"

	"github.com/revittco/mcpgate/internal/gwerr"
	"github.com/revittco/mcpgate/internal/jsontext"
	"github.com/revittco/mcpgate/internal/mcpwire"
	"github.com/revittco/mcpgate/internal/registry"
)

// RequestTransform computes the arguments to dispatch upstream for a call
// to rvt with client-supplied clientArgs, applying the merge policy of
// §4.5/§9. Returns the upstream tool name and the merged arguments, or a
// gwerr.DefaultConflict error if policy is "reject" and a collision
// occurred.
func RequestTransform(rvt *registry.ResolvedVirtualTool, clientArgs map[string]any) (upstreamName string, args map[string]any, err error) {
	merged := make(map[string]any, len(rvt.EffectiveDefaults)+len(clientArgs))
	maps.Copy(merged, rvt.EffectiveDefaults)

	for k, v := range clientArgs {
		if _, isDefaulted := rvt.EffectiveDefaults[k]; !isDefaulted {
			merged[k] = v
			continue
		}
		switch rvt.MergePolicy {
		case registry.PolicyClientWins:
			merged[k] = v
		case registry.PolicyReject:
			return "", nil, gwerr.New(gwerr.DefaultConflict,
				"argument %q collides with a hidden default under the reject merge policy", k)
		case registry.PolicyOverride, "":
			// Keep the default; client value is discarded.
		}
	}

	coerceArgTypes(rvt.AdvertisedInputSchema, merged)

	return rvt.UpstreamName, merged, nil
}

// coerceArgTypes converts string-valued arguments to the numeric type their
// input-schema property declares (§4.5, since MCP clients often stringify
// every call argument regardless of the advertised schema). A value that
// fails to parse is left untouched rather than rejected.
func coerceArgTypes(schema registry.RawJSON, args map[string]any) {
	props, _ := schema["properties"].(map[string]any)
	if len(props) == 0 {
		return
	}

	for k, v := range args {
		s, ok := v.(string)
		if !ok {
			continue
		}
		propSchema, ok := props[k].(map[string]any)
		if !ok {
			continue
		}
		switch propSchema["type"] {
		case "integer":
			if n, err := strconv.Atoi(s); err == nil {
				args[k] = n
			}
		case "number":
			if f, err := strconv.ParseFloat(s, 64); err == nil {
				args[k] = f
			}
		}
	}
}

// Options configures ResponseTransform's optional JSON-in-text promotion
// step (§4.5 step 2); disabled by default matches a gateway-wide setting,
// not a per-tool one.
type Options struct {
	JSONInTextEnabled bool
}

// ResponseTransform applies §4.5's response algorithm to a raw upstream
// tool result for rvt, returning the (possibly projected) result. When
// structuredContent is absent, JSON-in-text detection (step 2) is tried
// first; if it finds nothing and rvt declares a textExtraction config,
// markdown-list extraction (step 3) is tried next. The original content
// blocks are always preserved verbatim.
func ResponseTransform(rvt *registry.ResolvedVirtualTool, result mcpwire.CallToolResult, opts Options) mcpwire.CallToolResult {
	out := result

	if result.StructuredContent != nil && rvt.OutputProjection != nil {
		out.StructuredContent = applyProjection(rvt, result.StructuredContent)
		return out
	}

	if result.StructuredContent == nil && len(result.Content) > 0 && result.Content[0].Type == "text" {
		text := result.Content[0].Text

		if opts.JSONInTextEnabled {
			if v, ok := jsontext.Detect(text); ok {
				out.StructuredContent = projectIfConfigured(rvt, v)
				return out
			}
		}

		if v, ok := rvt.TextExtraction.Extract(text); ok {
			out.StructuredContent = projectIfConfigured(rvt, v)
			return out
		}
	}

	return out
}

// projectIfConfigured applies rvt's output projection to a value promoted
// from jsontext.Detect or mdlist.Config.Extract, or returns it unprojected
// if rvt has no output schema.
func projectIfConfigured(rvt *registry.ResolvedVirtualTool, v any) any {
	if rvt.OutputProjection != nil {
		return applyProjection(rvt, v)
	}
	return v
}

// applyProjection runs rvt's output projection and detects the §7
// ProjectionEmpty case: the output schema names required properties but the
// projected result matched none of them. That disposition is non-fatal — it
// logs a warning and returns empty structuredContent rather than an error.
func applyProjection(rvt *registry.ResolvedVirtualTool, scope any) any {
	projected := rvt.OutputProjection.Apply(scope)
	if !requiredOutputMissing(rvt, projected) {
		return projected
	}
	slog.Warn("output projection yielded no matches where output was required",
		"tool", rvt.ExposedName, "kind", gwerr.ProjectionEmpty)
	return map[string]any{}
}

// requiredOutputMissing reports whether none of the output schema's
// top-level required properties are present in projected.
func requiredOutputMissing(rvt *registry.ResolvedVirtualTool, projected any) bool {
	if rvt.OutputProjection == nil {
		return false
	}
	required, ok := rvt.OutputProjection.AdvertisedSchema["required"].([]any)
	if !ok || len(required) == 0 {
		return false
	}

	m, _ := projected.(map[string]any)
	for _, r := range required {
		name, ok := r.(string)
		if !ok {
			continue
		}
		if _, present := m[name]; present {
			return false
		}
	}
	return true
}
