package registry

import (
	"os"
	"regexp"
)

var varPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// interpolate replaces every ${VAR} occurrence in s using lookup. A missing
// variable interpolates to the empty string and appends a warning, per
// §4.4 phase 3 / §6.
func interpolate(s string, lookup func(string) (string, bool), warnings *Warnings) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		name := varPattern.FindStringSubmatch(match)[1]
		v, ok := lookup(name)
		if !ok {
			warnings.add("registry: environment variable %q is unset; interpolated to empty string", name)
			return ""
		}
		return v
	})
}

func osLookup(name string) (string, bool) {
	return os.LookupEnv(name)
}

// interpolateServer applies ${VAR} interpolation to a server's env values
// and args strings (§4.4 phase 3).
func interpolateServer(s *ServerDef, lookup func(string) (string, bool), warnings *Warnings) {
	if s.Stdio == nil {
		return
	}
	for i, a := range s.Stdio.Args {
		s.Stdio.Args[i] = interpolate(a, lookup, warnings)
	}
	for k, v := range s.Stdio.Env {
		s.Stdio.Env[k] = interpolate(v, lookup, warnings)
	}
}

// interpolateDefaults applies ${VAR} interpolation to every string value in
// a tool's defaults map (§4.4 phase 3). Non-string values pass through
// unchanged.
func interpolateDefaults(defaults map[string]any, lookup func(string) (string, bool), warnings *Warnings) map[string]any {
	if defaults == nil {
		return nil
	}
	out := make(map[string]any, len(defaults))
	for k, v := range defaults {
		if s, ok := v.(string); ok {
			out[k] = interpolate(s, lookup, warnings)
		} else {
			out[k] = v
		}
	}
	return out
}
