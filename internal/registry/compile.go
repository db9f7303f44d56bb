package registry

import (
	"fmt"

	"github.com/revittco/mcpgate/internal/mdlist"
	"github.com/revittco/mcpgate/internal/projector"
)

// buildAdvertisedSchema removes every field present in hideFields or
// defaults from a schema's "properties" and "required" lists (§4.4 phase
// 6), returning a new schema; the input is not mutated.
func buildAdvertisedSchema(schema RawJSON, hideFields map[string]struct{}, defaults map[string]any) RawJSON {
	if schema == nil {
		return nil
	}
	out := make(RawJSON, len(schema))
	for k, v := range schema {
		out[k] = v
	}

	omit := func(name string) bool {
		_, h := hideFields[name]
		_, d := defaults[name]
		return h || d
	}

	if props, ok := schema["properties"].(map[string]any); ok {
		newProps := make(map[string]any, len(props))
		for k, v := range props {
			if omit(k) {
				continue
			}
			newProps[k] = v
		}
		out["properties"] = newProps
	}

	if reqRaw, ok := schema["required"].([]any); ok {
		newReq := make([]any, 0, len(reqRaw))
		for _, v := range reqRaw {
			name, ok := v.(string)
			if ok && omit(name) {
				continue
			}
			newReq = append(newReq, v)
		}
		out["required"] = newReq
	}

	return out
}

// compileTool turns an effectiveTool (post inheritance-resolution) into a
// ResolvedVirtualTool (§4.4 phase 6), parsing every source_field in its
// output schema (§3 invariant 5).
func compileTool(eff *effectiveTool) (*ResolvedVirtualTool, error) {
	rvt := &ResolvedVirtualTool{
		ExposedName:           eff.Name,
		BackendName:           eff.BackendName,
		UpstreamName:          eff.UpstreamName,
		AdvertisedInputSchema: buildAdvertisedSchema(eff.InputSchema, eff.HideFields, eff.Defaults),
		EffectiveDefaults:     eff.Defaults,
		HideFields:            eff.HideFields,
		Description:           eff.Description,
		Version:               eff.Version,
		MergePolicy:           eff.MergePolicy,
		ExpectedSchemaHash:    eff.ExpectedSchemaHash,
		ValidationMode:        eff.ValidationMode,
	}

	if eff.OutputSchema != nil {
		plan, err := projector.Compile(eff.OutputSchema)
		if err != nil {
			return nil, fmt.Errorf("tool %q: compiling output projection: %w", eff.Name, err)
		}
		rvt.OutputProjection = &OutputProjection{
			AdvertisedSchema: projector.StripSourceFields(eff.OutputSchema),
			apply:            plan.Apply,
		}
	}

	if eff.TextExtraction != nil {
		cfg, err := mdlist.Compile(eff.TextExtraction)
		if err != nil {
			return nil, fmt.Errorf("tool %q: compiling textExtraction: %w", eff.Name, err)
		}
		rvt.TextExtraction = cfg
	}

	return rvt, nil
}
