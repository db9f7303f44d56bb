// Package gateway implements the northbound MCP façade (G): initialize,
// tools/list, tools/call request handling over the resolved registry (D),
// dispatched through the transformation engine (E) to backend sessions (F).
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/revittco/mcpgate/internal/gwerr"
	"github.com/revittco/mcpgate/internal/mcpwire"
	"github.com/revittco/mcpgate/internal/registry"
	"github.com/revittco/mcpgate/internal/transform"
)

// Notifier sends JSON-RPC notifications to the connected client.
type Notifier interface {
	Notify(method string, params any) error
}

// AuditSink records tools/call outcomes. It is optional: a Gateway with no
// sink attached skips audit recording entirely.
type AuditSink interface {
	Record(ctx context.Context, sessionID, backendName, exposedName, upstreamName, status, errorCode, errorMessage string, latencyMs int)
}

// BackendDispatcher is the subset of *backend.Manager the gateway depends
// on — narrowed to an interface so the façade can be tested without a real
// backend.Manager and its subprocess/HTTP sessions.
type BackendDispatcher interface {
	SetProgressHandler(fn func(backendName string, p mcpwire.ProgressParams))
	CallWithProgress(ctx context.Context, backendName, upstreamName string, args map[string]any, progressToken any) (mcpwire.CallToolResult, error)
	Count() int
}

// Gateway is the resolved-registry-backed MCP request handler.
type Gateway struct {
	resolved *registry.Resolved
	manager  BackendDispatcher
	opts     transform.Options

	startedAt time.Time

	mu       sync.Mutex
	notifier Notifier
	auditor  AuditSink

	sessionID string

	activityMu   sync.Mutex
	lastActivity time.Time

	progressMu     sync.Mutex
	activeProgress map[any]bool
}

// New builds a Gateway over a resolved registry and backend manager. It
// wires itself as the manager's notifications/progress forwarder.
func New(resolved *registry.Resolved, manager BackendDispatcher, opts transform.Options) *Gateway {
	g := &Gateway{
		resolved:       resolved,
		manager:        manager,
		opts:           opts,
		startedAt:      time.Now(),
		activeProgress: make(map[any]bool),
	}
	manager.SetProgressHandler(g.onBackendProgress)
	return g
}

// SetNotifier attaches the transport-level notification sink.
func (g *Gateway) SetNotifier(n Notifier) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.notifier = n
}

// SetAuditSink attaches an optional audit recorder for tools/call outcomes.
func (g *Gateway) SetAuditSink(a AuditSink, sessionID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.auditor = a
	g.sessionID = sessionID
}

func (g *Gateway) touchActivity() {
	g.activityMu.Lock()
	g.lastActivity = time.Now()
	g.activityMu.Unlock()
}

// LastActivity reports the time of the most recently handled request, for
// GET /status (§6).
func (g *Gateway) LastActivity() time.Time {
	g.activityMu.Lock()
	defer g.activityMu.Unlock()
	return g.lastActivity
}

// BackendCount reports the number of distinct (deduplicated) backend
// sessions, for GET /status (§6).
func (g *Gateway) BackendCount() int {
	return g.manager.Count()
}

func (g *Gateway) recordAudit(ctx context.Context, rvt *registry.ResolvedVirtualTool, upstreamName, status, errorCode, errorMessage string, latencyMs int) {
	g.mu.Lock()
	auditor := g.auditor
	sessionID := g.sessionID
	g.mu.Unlock()
	if auditor == nil {
		return
	}
	auditor.Record(ctx, sessionID, rvt.BackendName, rvt.ExposedName, upstreamName, status, errorCode, errorMessage, latencyMs)
}

func (g *Gateway) onBackendProgress(backendName string, p mcpwire.ProgressParams) {
	g.progressMu.Lock()
	active := g.activeProgress[p.ProgressToken]
	g.progressMu.Unlock()
	if !active {
		return
	}

	g.mu.Lock()
	notifier := g.notifier
	g.mu.Unlock()
	if notifier == nil {
		return
	}
	if err := notifier.Notify("notifications/progress", p); err != nil {
		slog.Warn("forwarding notifications/progress failed", "backend", backendName, "error", err)
	}
}

// HandleInitialize answers the "initialize" handshake.
func (g *Gateway) HandleInitialize(ctx context.Context, params json.RawMessage) (json.RawMessage, *gwerr.Error) {
	g.touchActivity()
	result := mcpwire.InitializeResult{
		ProtocolVersion: "2024-11-05",
		Capabilities:    mcpwire.ServerCapability{Tools: &mcpwire.ToolCapability{ListChanged: false}},
		ServerInfo:      mcpwire.ServerInfo{Name: "mcpgate", Version: "0.1.0"},
	}
	data, err := json.Marshal(result)
	if err != nil {
		return nil, gwerr.Wrap(gwerr.MalformedResponse, err, "marshaling initialize result")
	}
	return data, nil
}

// HandleToolsList advertises every enabled resolved virtual tool.
func (g *Gateway) HandleToolsList(ctx context.Context) (json.RawMessage, *gwerr.Error) {
	g.touchActivity()

	names := make([]string, 0, len(g.resolved.Tools))
	for name := range g.resolved.Tools {
		names = append(names, name)
	}
	sort.Strings(names)

	tools := make([]mcpwire.Tool, 0, len(names))
	for _, name := range names {
		rvt := g.resolved.Tools[name]
		if disabled, _ := rvt.DisabledState(); disabled {
			continue
		}
		t := mcpwire.Tool{
			Name:        rvt.ExposedName,
			Description: rvt.Description,
			InputSchema: rvt.AdvertisedInputSchema,
		}
		if rvt.OutputProjection != nil {
			t.OutputSchema = rvt.OutputProjection.AdvertisedSchema
		}
		tools = append(tools, t)
	}

	if slimToolsEnabled() {
		tools = minifyTools(tools)
	}

	data, err := json.Marshal(mcpwire.ListToolsResult{Tools: tools})
	if err != nil {
		return nil, gwerr.Wrap(gwerr.MalformedResponse, err, "marshaling tools/list result")
	}
	return data, nil
}

// HandleToolsCall resolves exposedName, applies the request/response
// transforms (E), and dispatches to the owning backend (F).
func (g *Gateway) HandleToolsCall(ctx context.Context, params json.RawMessage) (json.RawMessage, *gwerr.Error) {
	g.touchActivity()

	var req mcpwire.CallToolParams
	if err := json.Unmarshal(params, &req); err != nil {
		return nil, gwerr.Wrap(gwerr.MalformedResponse, err, "decoding tools/call params")
	}

	rvt, ok := g.resolved.Tools[req.Name]
	if !ok {
		return nil, gwerr.New(gwerr.ToolUnknown, "unknown tool %q", req.Name)
	}
	if disabled, reason := rvt.DisabledState(); disabled {
		return nil, gwerr.New(gwerr.ToolDisabled, "tool %q is disabled: %s", req.Name, reason)
	}

	upstreamName, args, terr := transform.RequestTransform(rvt, req.Arguments)
	if terr != nil {
		var gerr *gwerr.Error
		if errors.As(terr, &gerr) {
			return nil, gerr
		}
		return nil, gwerr.Wrap(gwerr.UpstreamError, terr, "transforming request for %q", req.Name)
	}

	var progressToken any
	if req.Meta != nil {
		progressToken = req.Meta.ProgressToken
	}
	if progressToken != nil {
		g.progressMu.Lock()
		g.activeProgress[progressToken] = true
		g.progressMu.Unlock()
		defer func() {
			g.progressMu.Lock()
			delete(g.activeProgress, progressToken)
			g.progressMu.Unlock()
		}()
	}

	start := time.Now()
	result, err := g.manager.CallWithProgress(ctx, rvt.BackendName, upstreamName, args, progressToken)
	latencyMs := int(time.Since(start).Milliseconds())
	if err != nil {
		var gerr *gwerr.Error
		if errors.As(err, &gerr) {
			g.recordAudit(ctx, rvt, upstreamName, "error", string(gerr.Kind), gerr.Error(), latencyMs)
			return nil, gerr
		}
		werr := gwerr.Wrap(gwerr.UpstreamError, err, "tools/call %q", req.Name)
		g.recordAudit(ctx, rvt, upstreamName, "error", string(werr.Kind), werr.Error(), latencyMs)
		return nil, werr
	}
	g.recordAudit(ctx, rvt, upstreamName, "success", "", "", latencyMs)

	result = transform.ResponseTransform(rvt, result, g.opts)

	data, merr := json.Marshal(result)
	if merr != nil {
		return nil, gwerr.Wrap(gwerr.MalformedResponse, merr, "marshaling tools/call result")
	}
	return data, nil
}

