// Package registry parses the gateway's registry document, resolves tool
// inheritance chains, validates the document against §3's invariants, and
// compiles an immutable map of exposedName → ResolvedVirtualTool.
package registry

import (
	"fmt"
	"sync"

	"github.com/revittco/mcpgate/internal/mdlist"
)

// MergePolicy governs what happens when a client-supplied argument collides
// with a hidden-and-defaulted key at call time (§4.5, §9).
type MergePolicy string

const (
	PolicyOverride    MergePolicy = "override"
	PolicyClientWins  MergePolicy = "client_wins"
	PolicyReject      MergePolicy = "reject"
	defaultMergePolicy            = PolicyOverride
)

// ValidationMode governs schema-drift and version-pin handling (§4.4 phase
// 5, §4.6).
type ValidationMode string

const (
	ValidationStrict ValidationMode = "strict"
	ValidationWarn   ValidationMode = "warn"
	ValidationSkip   ValidationMode = "skip"
)

// Transport identifies a remote server's wire transport.
type Transport string

const (
	TransportSSE            Transport = "sse"
	TransportStreamableHTTP Transport = "streamableHttp"
)

// AuthKind identifies a remote server's auth requirement.
type AuthKind string

const (
	AuthNone  AuthKind = "none"
	AuthOAuth AuthKind = "oauth"
)

// Document is the raw, as-parsed registry document (§3).
type Document struct {
	SchemaVersion string             `json:"schemaVersion"`
	Servers       []ServerDef        `json:"servers"`
	Schemas       map[string]RawJSON `json:"schemas"`
	Tools         []ToolDef          `json:"tools"`
}

// RawJSON is a JSON-Schema fragment or other document-embedded JSON object,
// kept as map[string]any after decode for uniform traversal.
type RawJSON = map[string]any

// StdioDef is a server's stdio launch definition.
type StdioDef struct {
	Command string            `json:"command"`
	Args    []string          `json:"args,omitempty"`
	Env     map[string]string `json:"env,omitempty"`
}

// ServerDef is one entry in the document's "servers" list.
type ServerDef struct {
	Name        string     `json:"name"`
	Description string     `json:"description,omitempty"`
	Stdio       *StdioDef  `json:"stdio,omitempty"`
	URL         string     `json:"url,omitempty"`
	Transport   Transport  `json:"transport,omitempty"`
	Auth        AuthKind   `json:"auth,omitempty"`
}

// IsRemote reports whether this server definition is a remote (url-based)
// server rather than a stdio subprocess.
func (s ServerDef) IsRemote() bool { return s.Stdio == nil }

// ToolDef is one entry in the document's "tools" list, before inheritance
// resolution.
type ToolDef struct {
	Name        string            `json:"name"`
	Server      string            `json:"server,omitempty"`
	Source      string            `json:"source,omitempty"`
	OriginalName string           `json:"originalName,omitempty"`
	Description string            `json:"description,omitempty"`
	InputSchema RawJSON           `json:"inputSchema,omitempty"`
	OutputSchema RawJSON          `json:"outputSchema,omitempty"`
	Defaults    map[string]any    `json:"defaults,omitempty"`
	HideFields  []string          `json:"hideFields,omitempty"`
	Version     string            `json:"version,omitempty"`
	ExpectedSchemaHash string     `json:"expectedSchemaHash,omitempty"`
	ValidationMode ValidationMode `json:"validationMode,omitempty"`
	SourceVersionPin string       `json:"sourceVersionPin,omitempty"`
	MergePolicy MergePolicy       `json:"mergePolicy,omitempty"`
	TextExtraction RawJSON        `json:"textExtraction,omitempty"`
}

// IsBase reports whether this tool definition directly references a server
// (no "source").
func (t ToolDef) IsBase() bool { return t.Server != "" }

// ResolvedVirtualTool is the immutable, precomputed view of one tool in the
// registry, produced by Load and consulted by the call path (§3).
type ResolvedVirtualTool struct {
	ExposedName           string
	BackendName            string
	UpstreamName           string
	AdvertisedInputSchema  RawJSON
	EffectiveDefaults      map[string]any
	HideFields             map[string]struct{}
	OutputProjection       *OutputProjection // nil if none
	TextExtraction         *mdlist.Config    // nil if none (§4.5 step 3)
	Description            string
	Version                string
	MergePolicy            MergePolicy
	ExpectedSchemaHash     string
	ValidationMode         ValidationMode

	disableMu      sync.RWMutex
	disabled       bool // set post-startup by schema-drift validation (strict mode, §4.6)
	disabledReason string
}

// Disable marks the tool unreachable, with reason recorded for the
// ToolDisabled (§7) error returned to callers. Safe for concurrent use: a
// backend's schema-drift check (§4.6) runs after startup, concurrently with
// in-flight tools/list and tools/call handling.
func (rvt *ResolvedVirtualTool) Disable(reason string) {
	rvt.disableMu.Lock()
	defer rvt.disableMu.Unlock()
	rvt.disabled = true
	rvt.disabledReason = reason
}

// Enable clears a prior Disable, e.g. once a re-validated upstream schema
// matches ExpectedSchemaHash again after a backend reconnect.
func (rvt *ResolvedVirtualTool) Enable() {
	rvt.disableMu.Lock()
	defer rvt.disableMu.Unlock()
	rvt.disabled = false
	rvt.disabledReason = ""
}

// DisabledState reports whether the tool is currently disabled and why.
func (rvt *ResolvedVirtualTool) DisabledState() (disabled bool, reason string) {
	rvt.disableMu.RLock()
	defer rvt.disableMu.RUnlock()
	return rvt.disabled, rvt.disabledReason
}

// CheckDrift compares a live upstream tool's hash against ExpectedSchemaHash
// (§4.4 phase 5, §4.6). A tool with no expected hash pinned is exempt and
// always reports no drift. On mismatch, validationMode=strict disables the
// tool; warn/skip leave it reachable (the caller is still told drift was
// detected, so it can log). A successful re-match re-enables a previously
// disabled tool.
func (rvt *ResolvedVirtualTool) CheckDrift(liveHash string) (drifted bool) {
	if rvt.ExpectedSchemaHash == "" || rvt.ExpectedSchemaHash == liveHash {
		rvt.Enable()
		return false
	}
	if rvt.ValidationMode == ValidationStrict {
		rvt.Disable(fmt.Sprintf("schema drift: expected hash %s, got %s", rvt.ExpectedSchemaHash, liveHash))
	}
	return true
}

// OutputProjection is the compiled projection plan plus the stripped
// advertised output schema, computed once at load time (§4.3, §4.4.6).
type OutputProjection struct {
	AdvertisedSchema RawJSON
	apply            func(scope any) any
}

// Apply runs the compiled projection plan against scope.
func (p *OutputProjection) Apply(scope any) any {
	if p == nil {
		return scope
	}
	return p.apply(scope)
}

// Resolved is the final output of Load: a read-only map from exposedName
// to its resolved virtual tool, plus the resolved servers keyed by name.
type Resolved struct {
	Tools   map[string]*ResolvedVirtualTool
	Servers map[string]ServerDef
}

// Warnings collects non-fatal issues surfaced during load (missing env
// vars, sourceVersionPin mismatches under validationMode=warn) for the
// caller to log.
type Warnings []string

func (w *Warnings) add(format string, args ...any) {
	*w = append(*w, fmt.Sprintf(format, args...))
}
