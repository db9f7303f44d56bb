package registry

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
)

// legacyDocument is the flat "mcpServers" + "overrides" shape described in
// §6 point 2, grounded on original_source's config_loader.py.
type legacyDocument struct {
	SchemaVersion string                       `json:"schemaVersion"`
	MCPServers    map[string]legacyServerEntry  `json:"mcpServers"`
	Overrides     map[string]legacyOverride     `json:"overrides"`
}

type legacyServerEntry struct {
	Command string            `json:"command"`
	Args    []string          `json:"args"`
	Env     map[string]string `json:"env"`
	Enabled *bool             `json:"enabled"`
}

type legacyOverride struct {
	Rename      string         `json:"rename"`
	Description string         `json:"description"`
	Defaults    map[string]any `json:"defaults"`
	HideFields  []string       `json:"hide_fields"`
}

// isLegacy reports whether raw looks like a legacy document (no "servers"
// key but an "mcpServers" key present).
func isLegacy(raw map[string]any) bool {
	_, hasServers := raw["servers"]
	_, hasMCPServers := raw["mcpServers"]
	return !hasServers && hasMCPServers
}

// convertLegacy transparently converts a legacy document into the unified
// Document shape, synthesizing one server entry per distinct stdio
// definition (deduplicated by fingerprint, so two legacy tools pointing at
// byte-identical command/args/env share one synthesized server).
func convertLegacy(data []byte) (*Document, error) {
	var legacy legacyDocument
	if err := json.Unmarshal(data, &legacy); err != nil {
		return nil, err
	}

	doc := &Document{SchemaVersion: legacy.SchemaVersion}
	serverByFingerprint := make(map[string]string) // fingerprint -> synthesized server name

	names := make([]string, 0, len(legacy.MCPServers))
	for name := range legacy.MCPServers {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		entry := legacy.MCPServers[name]
		if entry.Enabled != nil && !*entry.Enabled {
			continue
		}
		fp := stdioFingerprint(entry.Command, entry.Args, entry.Env)
		serverName, exists := serverByFingerprint[fp]
		if !exists {
			serverName = name
			serverByFingerprint[fp] = serverName
			doc.Servers = append(doc.Servers, ServerDef{
				Name: serverName,
				Stdio: &StdioDef{
					Command: entry.Command,
					Args:    entry.Args,
					Env:     entry.Env,
				},
			})
		}

		tool := ToolDef{
			Name:   name,
			Server: serverName,
		}

		if ov, ok := legacy.Overrides[name]; ok {
			if ov.Rename != "" {
				tool.OriginalName = name
				tool.Name = ov.Rename
			}
			tool.Description = ov.Description
			tool.Defaults = ov.Defaults
			tool.HideFields = ov.HideFields
		}

		doc.Tools = append(doc.Tools, tool)
	}

	return doc, nil
}

func stdioFingerprint(command string, args []string, env map[string]string) string {
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	h := sha256.New()
	h.Write([]byte(command))
	for _, a := range args {
		h.Write([]byte{0})
		h.Write([]byte(a))
	}
	for _, k := range keys {
		h.Write([]byte{1})
		h.Write([]byte(k))
		h.Write([]byte{'='})
		h.Write([]byte(env[k]))
	}
	return hex.EncodeToString(h.Sum(nil))
}
