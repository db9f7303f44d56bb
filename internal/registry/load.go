package registry

import (
	"encoding/json"
	"fmt"
	"sort"

	"gopkg.in/yaml.v3"
)

// Load parses a registry document (unified or legacy, JSON or YAML),
// resolves inheritance, validates §3's invariants, and compiles the
// immutable resolved map. On any invariant violation, returns an
// *InvalidError. Non-fatal issues (missing ${VAR} substitutions,
// sourceVersionPin mismatches under validationMode=warn) are returned as
// Warnings for the caller to log.
func Load(data []byte) (*Resolved, Warnings, error) {
	data, err := normalizeToJSON(data)
	if err != nil {
		return nil, nil, &InvalidError{Errors: []string{err.Error()}}
	}

	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, nil, &InvalidError{Errors: []string{fmt.Sprintf("malformed JSON: %v", err)}}
	}

	var doc *Document
	if isLegacy(raw) {
		d, err := convertLegacy(data)
		if err != nil {
			return nil, nil, &InvalidError{Errors: []string{fmt.Sprintf("legacy conversion: %v", err)}}
		}
		doc = d
	} else {
		var d Document
		if err := json.Unmarshal(data, &d); err != nil {
			return nil, nil, &InvalidError{Errors: []string{fmt.Sprintf("malformed document: %v", err)}}
		}
		doc = &d
	}

	var errs []string
	errs = append(errs, validateSyntax(raw, doc)...)
	if len(errs) > 0 {
		return nil, nil, newInvalid(errs)
	}

	var warnings Warnings

	// Phase 2: schema $ref expansion.
	for i := range doc.Tools {
		t := &doc.Tools[i]
		if expanded, err := expandRefs(t.InputSchema, doc.Schemas); err != nil {
			errs = append(errs, fmt.Sprintf("tool %q inputSchema: %v", t.Name, err))
		} else {
			t.InputSchema = expanded
		}
		if expanded, err := expandRefs(t.OutputSchema, doc.Schemas); err != nil {
			errs = append(errs, fmt.Sprintf("tool %q outputSchema: %v", t.Name, err))
		} else {
			t.OutputSchema = expanded
		}
	}
	if len(errs) > 0 {
		return nil, nil, newInvalid(errs)
	}

	// Phase 3: ${VAR} interpolation over server env/args and tool defaults.
	for i := range doc.Servers {
		interpolateServer(&doc.Servers[i], osLookup, &warnings)
	}
	for i := range doc.Tools {
		doc.Tools[i].Defaults = interpolateDefaults(doc.Tools[i].Defaults, osLookup, &warnings)
	}

	servers := make(map[string]ServerDef, len(doc.Servers))
	for _, s := range doc.Servers {
		servers[s.Name] = s
	}

	byName := make(map[string]ToolDef, len(doc.Tools))
	for _, t := range doc.Tools {
		byName[t.Name] = t
	}

	// Phase 1 (continued) + phase 4: chain resolution, detecting broken
	// references and cycles (§3 invariant 1).
	for _, t := range doc.Tools {
		if t.IsBase() {
			if _, ok := servers[t.Server]; !ok {
				errs = append(errs, fmt.Sprintf("tool %q references unknown server %q", t.Name, t.Server))
			}
		}
		if _, err := chain(t.Name, byName); err != nil {
			errs = append(errs, err.Error())
		}
	}
	if len(errs) > 0 {
		return nil, nil, newInvalid(errs)
	}

	resolvedTools := make(map[string]*ResolvedVirtualTool, len(doc.Tools))
	effectives := make(map[string]*effectiveTool, len(doc.Tools))

	for _, t := range doc.Tools {
		link, err := chain(t.Name, byName)
		if err != nil {
			errs = append(errs, err.Error())
			continue
		}
		eff, err := resolveEffective(link)
		if err != nil {
			errs = append(errs, err.Error())
			continue
		}

		// sourceVersionPin handling (§4.4 phase 5).
		if eff.SourceVersionPin != "" && eff.SourceVersionPin != eff.SourceVersion {
			switch eff.ValidationMode {
			case ValidationStrict:
				continue // drop the tool entirely
			case ValidationWarn:
				warnings.add("tool %q: sourceVersionPin %q does not match resolved source version %q", t.Name, eff.SourceVersionPin, eff.SourceVersion)
			case ValidationSkip:
				// ignore
			}
		}

		effectives[t.Name] = eff
	}
	if len(errs) > 0 {
		return nil, nil, newInvalid(errs)
	}

	// §3 invariants 2 & 3: required-field coverage.
	for name, eff := range effectives {
		errs = append(errs, validateCoverage(name, eff.InputSchema, eff.HideFields, eff.Defaults)...)
	}
	if len(errs) > 0 {
		return nil, nil, newInvalid(errs)
	}

	// Phase 6: compilation, including §3 invariant 5 (source_field parse).
	names := make([]string, 0, len(effectives))
	for name := range effectives {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		rvt, err := compileTool(effectives[name])
		if err != nil {
			errs = append(errs, err.Error())
			continue
		}
		resolvedTools[rvt.ExposedName] = rvt
	}
	if len(errs) > 0 {
		return nil, nil, newInvalid(errs)
	}

	// §3 invariant 4: exposedName uniqueness is structural here (map keys),
	// but duplicate tool *names* in the source document were already
	// caught by validateSyntax; nothing further to check.

	// §3 invariant 1 restated: every field in invariants 1 re-double-check
	// for advertised schema vs hideFields/defaults disjointness.
	for _, rvt := range resolvedTools {
		if adv, ok := rvt.AdvertisedInputSchema["properties"].(map[string]any); ok {
			for field := range adv {
				if _, hidden := rvt.HideFields[field]; hidden {
					errs = append(errs, fmt.Sprintf("tool %q: advertised schema still exposes hidden field %q", rvt.ExposedName, field))
				}
				if _, defaulted := rvt.EffectiveDefaults[field]; defaulted {
					errs = append(errs, fmt.Sprintf("tool %q: advertised schema still exposes defaulted field %q", rvt.ExposedName, field))
				}
			}
		}
	}
	if len(errs) > 0 {
		return nil, nil, newInvalid(errs)
	}

	return &Resolved{Tools: resolvedTools, Servers: servers}, warnings, nil
}

// normalizeToJSON accepts either a JSON or a YAML registry document and
// returns it as JSON. Registry files are authored in either format (YAML
// for hand-edited documents, JSON for generated ones); everything
// downstream of this point works on the JSON encoding.
func normalizeToJSON(data []byte) ([]byte, error) {
	if json.Valid(data) {
		return data, nil
	}
	var v any
	if err := yaml.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("malformed registry document (not valid JSON or YAML): %w", err)
	}
	out, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("converting YAML registry document to JSON: %w", err)
	}
	return out, nil
}
