package registry

import (
	"fmt"

	"dario.cat/mergo"
)

// chain resolves the source-link ancestry of a tool, ordered from the tool
// itself (index 0) to its base tool (last index). Detects cycles per §3
// invariant 1.
func chain(name string, byName map[string]ToolDef) ([]ToolDef, error) {
	var result []ToolDef
	visited := map[string]bool{}

	cur, ok := byName[name]
	if !ok {
		return nil, fmt.Errorf("tool %q does not exist", name)
	}

	for {
		if visited[cur.Name] {
			return nil, fmt.Errorf("cycle detected in inheritance chain at tool %q", cur.Name)
		}
		visited[cur.Name] = true
		result = append(result, cur)

		if cur.IsBase() {
			return result, nil
		}
		if cur.Source == "" {
			return nil, fmt.Errorf("tool %q has neither server nor source", cur.Name)
		}
		next, ok := byName[cur.Source]
		if !ok {
			return nil, fmt.Errorf("tool %q references unknown source %q", cur.Name, cur.Source)
		}
		cur = next
	}
}

// effectiveTool is the result of late-binding override + merge across one
// tool's inheritance chain (§4.4 phase 4), before invariant validation and
// compilation.
type effectiveTool struct {
	Name               string
	BackendName        string
	UpstreamName       string
	Description        string
	InputSchema        RawJSON
	OutputSchema       RawJSON
	TextExtraction     RawJSON
	Defaults           map[string]any
	HideFields         map[string]struct{}
	Version            string
	MergePolicy        MergePolicy
	ExpectedSchemaHash string
	ValidationMode     ValidationMode
	SourceVersionPin   string
	SourceVersion      string // version of the resolved `source` tool, for pin comparison
}

// resolveEffective computes the effective tool for a chain returned by
// chain(), where link[0] is the tool itself and link[len-1] is the base.
func resolveEffective(link []ToolDef) (*effectiveTool, error) {
	base := link[len(link)-1]

	eff := &effectiveTool{
		Name:        link[0].Name,
		BackendName: base.Server,
		Defaults:    map[string]any{},
		HideFields:  map[string]struct{}{},
	}

	// Late-binding override: most specific (index 0) non-null value wins,
	// per field, independently.
	for _, t := range link {
		if eff.Description == "" && t.Description != "" {
			eff.Description = t.Description
		}
		if eff.InputSchema == nil && t.InputSchema != nil {
			eff.InputSchema = t.InputSchema
		}
		if eff.OutputSchema == nil && t.OutputSchema != nil {
			eff.OutputSchema = t.OutputSchema
		}
		if eff.TextExtraction == nil && t.TextExtraction != nil {
			eff.TextExtraction = t.TextExtraction
		}
		if eff.UpstreamName == "" && t.OriginalName != "" {
			eff.UpstreamName = t.OriginalName
		}
		if eff.Version == "" && t.Version != "" {
			eff.Version = t.Version
		}
	}
	if eff.UpstreamName == "" {
		eff.UpstreamName = base.Name
	}

	// Merge hideFields/defaults ancestors-first so descendants override
	// (mergo.WithOverride: later Merge calls win on key collision).
	for i := len(link) - 1; i >= 0; i-- {
		t := link[i]
		if len(t.Defaults) > 0 {
			if err := mergo.Merge(&eff.Defaults, t.Defaults, mergo.WithOverride); err != nil {
				return nil, fmt.Errorf("registry: merging defaults for %q: %w", t.Name, err)
			}
		}
		hide := make(map[string]struct{}, len(t.HideFields))
		for _, f := range t.HideFields {
			hide[f] = struct{}{}
		}
		if len(hide) > 0 {
			if err := mergo.Merge(&eff.HideFields, hide, mergo.WithOverride); err != nil {
				return nil, fmt.Errorf("registry: merging hideFields for %q: %w", t.Name, err)
			}
		}
	}

	// Validation-configuration fields belong to the specific tool entry
	// being resolved, not chain-merged.
	self := link[0]
	eff.MergePolicy = self.MergePolicy
	if eff.MergePolicy == "" {
		eff.MergePolicy = defaultMergePolicy
	}
	eff.ExpectedSchemaHash = self.ExpectedSchemaHash
	eff.ValidationMode = self.ValidationMode
	if eff.ValidationMode == "" {
		eff.ValidationMode = ValidationWarn
	}
	eff.SourceVersionPin = self.SourceVersionPin
	if len(link) > 1 {
		// link[1] is this tool's immediate `source`.
		eff.SourceVersion = link[1].Version
	}

	return eff, nil
}
