package registry

import "fmt"

// validateSyntax enforces §4.4 phase 1: unknown top-level keys, duplicate
// tool/server names. Unknown-key checking is done against the raw decoded
// map before struct decode, since encoding/json silently ignores unknown
// fields.
func validateSyntax(raw map[string]any, doc *Document) []string {
	var errs []string

	allowed := map[string]bool{"schemaVersion": true, "servers": true, "schemas": true, "tools": true}
	if isLegacy(raw) {
		allowed = map[string]bool{"schemaVersion": true, "mcpServers": true, "overrides": true}
	}
	for k := range raw {
		if !allowed[k] {
			errs = append(errs, fmt.Sprintf("unknown top-level key %q", k))
		}
	}

	seenServers := map[string]bool{}
	for _, s := range doc.Servers {
		if s.Name == "" {
			errs = append(errs, "server definition missing name")
			continue
		}
		if seenServers[s.Name] {
			errs = append(errs, fmt.Sprintf("duplicate server name %q", s.Name))
		}
		seenServers[s.Name] = true
		if s.Stdio == nil && s.URL == "" {
			errs = append(errs, fmt.Sprintf("server %q has neither stdio nor url", s.Name))
		}
		if s.Stdio != nil && s.URL != "" {
			errs = append(errs, fmt.Sprintf("server %q has both stdio and url", s.Name))
		}
	}

	seenTools := map[string]bool{}
	for _, t := range doc.Tools {
		if t.Name == "" {
			errs = append(errs, "tool definition missing name")
			continue
		}
		if seenTools[t.Name] {
			errs = append(errs, fmt.Sprintf("duplicate tool name %q", t.Name))
		}
		seenTools[t.Name] = true
		if t.Server == "" && t.Source == "" {
			errs = append(errs, fmt.Sprintf("tool %q has neither server nor source", t.Name))
		}
		if t.Server != "" && t.Source != "" {
			errs = append(errs, fmt.Sprintf("tool %q has both server and source", t.Name))
		}
	}

	return errs
}

// requiredFields returns the "required" list from a JSON-Schema fragment.
func requiredFields(schema RawJSON) []string {
	if schema == nil {
		return nil
	}
	raw, ok := schema["required"]
	if !ok {
		return nil
	}
	list, ok := raw.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(list))
	for _, v := range list {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// validateCoverage enforces §3 invariant 2: every field required upstream
// must be exposed or defaulted.
func validateCoverage(name string, inputSchema RawJSON, hideFields map[string]struct{}, defaults map[string]any) []string {
	var errs []string
	for _, f := range requiredFields(inputSchema) {
		_, defaulted := defaults[f]
		_, hidden := hideFields[f]
		if defaulted {
			continue
		}
		if hidden {
			errs = append(errs, fmt.Sprintf("tool %q: required field %q is hidden without a default", name, f))
			continue
		}
	}
	return errs
}
