// Package backend implements the multi-backend session manager (F):
// deduplicates backend definitions by content fingerprint, connects and
// initializes upstream MCP sessions, and routes tools/list and tools/call
// requests (§4.6).
package backend

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"golang.org/x/sync/errgroup"

	"github.com/revittco/mcpgate/internal/gwerr"
	"github.com/revittco/mcpgate/internal/mcpwire"
	"github.com/revittco/mcpgate/internal/registry"
)

type transport interface {
	start(ctx context.Context) error
	call(ctx context.Context, method string, params json.RawMessage) (json.RawMessage, error)
	stop()
	alive() bool
}

// notifiable is implemented by transports that can surface backend-initiated
// notification frames (currently stdio only; see ProgressHandler).
type notifiable interface {
	setNotificationHandler(fn func(method string, params json.RawMessage))
}

// session wraps a transport with the §3/§4.6 lifecycle state machine and
// reconnection policy.
type session struct {
	mu            sync.Mutex
	def           registry.ServerDef
	fingerprint   string
	transport     transport
	state         State
	backoff       *backoff.ExponentialBackOff
	nextRetryAt   time.Time
	tools         []mcpwire.Tool
	expectedTools map[string][]*registry.ResolvedVirtualTool // upstreamName -> bound tools, for §4.6 drift checks
}

func newSession(def registry.ServerDef, fp string, authHeader string) *session {
	var t transport
	if def.Stdio != nil {
		env := append([]string{}, os.Environ()...)
		for k, v := range def.Stdio.Env {
			env = append(env, k+"="+v)
		}
		t = newStdioSession(def.Stdio.Command, def.Stdio.Args, env)
	} else {
		t = newHTTPSession(def.URL, string(def.Transport), authHeader)
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 500 * time.Millisecond
	bo.Multiplier = 2
	bo.MaxInterval = 30 * time.Second

	return &session{
		def:         def,
		fingerprint: fp,
		transport:   t,
		state:       Connecting,
		backoff:     bo,
	}
}

// ensureReady connects the session if it is not already Ready, honoring
// backoff while Closed (§4.6 reconnection). Returns gwerr.BackendUnavailable
// if the backoff interval has not yet elapsed.
func (s *session) ensureReady(ctx context.Context) error {
	s.mu.Lock()
	state := s.state
	nextRetry := s.nextRetryAt
	s.mu.Unlock()

	if state == Ready {
		return nil
	}
	if state == Closed && time.Now().Before(nextRetry) {
		return gwerr.New(gwerr.BackendUnavailable, "backend %q is reconnecting (retry after %s)", s.def.Name, nextRetry.Format(time.RFC3339))
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == Ready {
		return nil
	}

	if err := s.transport.start(ctx); err != nil {
		s.state = Closed
		d := s.backoff.NextBackOff()
		s.nextRetryAt = time.Now().Add(d)
		return gwerr.Wrap(gwerr.BackendUnavailable, err, "connecting to backend %q", s.def.Name)
	}

	s.backoff.Reset()
	s.state = Ready

	toolsResult, err := s.listToolsLocked(ctx)
	if err != nil {
		slog.Warn("backend initialized but tools/list failed", "backend", s.def.Name, "error", err)
	} else {
		s.tools = toolsResult
		s.checkDrift(toolsResult)
	}

	return nil
}

// checkDrift validates every live upstream tool against the
// ResolvedVirtualTool(s) bound to this backend, per §4.4 phase 5 / §4.6.
// Must be called with s.mu held (ensureReady holds it across the whole
// connect-and-list sequence).
func (s *session) checkDrift(tools []mcpwire.Tool) {
	if len(s.expectedTools) == 0 {
		return
	}
	for _, t := range tools {
		schema, _ := t.InputSchema.(map[string]any)
		liveHash := registry.SchemaHash(t.Name, t.Description, schema)
		for _, rvt := range s.expectedTools[t.Name] {
			if rvt.ExpectedSchemaHash == "" {
				continue
			}
			if rvt.CheckDrift(liveHash) {
				slog.Warn("schema drift detected", "backend", s.def.Name, "tool", t.Name,
					"validationMode", rvt.ValidationMode, "expectedHash", rvt.ExpectedSchemaHash, "liveHash", liveHash)
			}
		}
	}
}

func (s *session) listToolsLocked(ctx context.Context) ([]mcpwire.Tool, error) {
	raw, err := s.transport.call(ctx, "tools/list", nil)
	if err != nil {
		return nil, err
	}
	var result mcpwire.ListToolsResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, gwerr.Wrap(gwerr.MalformedResponse, err, "decoding tools/list from %q", s.def.Name)
	}
	return result.Tools, nil
}

// call dispatches one tools/call to this backend's upstream upstreamName.
func (s *session) call(ctx context.Context, upstreamName string, args map[string]any, progressToken any) (mcpwire.CallToolResult, error) {
	if err := s.ensureReady(ctx); err != nil {
		return mcpwire.CallToolResult{}, err
	}

	callParams := mcpwire.CallToolParams{Name: upstreamName, Arguments: args}
	if progressToken != nil {
		callParams.Meta = &mcpwire.RequestMeta{ProgressToken: progressToken}
	}
	params, err := json.Marshal(callParams)
	if err != nil {
		return mcpwire.CallToolResult{}, err
	}

	raw, err := s.transport.call(ctx, "tools/call", params)
	if err != nil {
		if ctx.Err() != nil {
			return mcpwire.CallToolResult{}, gwerr.Wrap(gwerr.UpstreamTimeout, err, "tools/call %q timed out", upstreamName)
		}
		s.markClosed()
		return mcpwire.CallToolResult{}, gwerr.Wrap(gwerr.UpstreamError, err, "tools/call %q failed", upstreamName)
	}

	var result mcpwire.CallToolResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return mcpwire.CallToolResult{}, gwerr.Wrap(gwerr.MalformedResponse, err, "decoding tools/call result for %q", upstreamName)
	}
	return result, nil
}

func (s *session) markClosed() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.transport.alive() {
		s.state = Closed
		d := s.backoff.NextBackOff()
		s.nextRetryAt = time.Now().Add(d)
	}
}

func (s *session) snapshotTools() []mcpwire.Tool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tools
}

// Manager deduplicates backend definitions by fingerprint and owns one
// session per distinct backend.
type Manager struct {
	mu              sync.Mutex
	sessions        map[string]*session // fingerprint -> session
	byServer        map[string]*session // server name -> session (for dispatch by backendName)
	authFor         func(def registry.ServerDef) string
	progressHandler func(backendName string, p mcpwire.ProgressParams)
}

// NewManager creates an empty Manager. authHeader, if non-nil, resolves an
// Authorization header value for a remote server definition with
// auth=oauth (§6 southbound auth); the OAuth flow itself is out of scope
// (§1) — this only attaches an already-obtained token.
func NewManager(authHeader func(def registry.ServerDef) string) *Manager {
	if authHeader == nil {
		authHeader = func(registry.ServerDef) string { return "" }
	}
	return &Manager{
		sessions: make(map[string]*session),
		byServer: make(map[string]*session),
		authFor:  authHeader,
	}
}

// SetProgressHandler registers the callback invoked whenever a backend
// session emits a notifications/progress frame (§4.7). Call before Register
// so the handler is attached to every session created afterward.
func (m *Manager) SetProgressHandler(fn func(backendName string, p mcpwire.ProgressParams)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.progressHandler = fn
}

// Register adds a server definition to the manager, deduplicating by
// fingerprint (§8 invariant 6). OAuth-backed servers are not started here;
// they initialize lazily on first need per §4.6.
func (m *Manager) Register(def registry.ServerDef) {
	fp := Fingerprint(def)

	m.mu.Lock()
	defer m.mu.Unlock()

	sess, exists := m.sessions[fp]
	if !exists {
		sess = newSession(def, fp, m.authFor(def))
		m.sessions[fp] = sess
		if n, ok := sess.transport.(notifiable); ok && m.progressHandler != nil {
			backendName := def.Name
			n.setNotificationHandler(func(method string, params json.RawMessage) {
				if method != "notifications/progress" {
					return
				}
				var p mcpwire.ProgressParams
				if err := json.Unmarshal(params, &p); err != nil {
					return
				}
				m.progressHandler(backendName, p)
			})
		}
	}
	m.byServer[def.Name] = sess
}

// BindExpectedTools wires each registered backend's resolved virtual tools
// into its session so ensureReady can validate schema drift (§4.6) after
// every successful tools/list, including on post-startup reconnects. Call
// once, after every Register and before WarmUp.
func (m *Manager) BindExpectedTools(resolved *registry.Resolved) {
	byBackend := make(map[string]map[string][]*registry.ResolvedVirtualTool)
	for _, rvt := range resolved.Tools {
		if byBackend[rvt.BackendName] == nil {
			byBackend[rvt.BackendName] = make(map[string][]*registry.ResolvedVirtualTool)
		}
		byBackend[rvt.BackendName][rvt.UpstreamName] = append(byBackend[rvt.BackendName][rvt.UpstreamName], rvt)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for name, sess := range m.byServer {
		sess.mu.Lock()
		sess.expectedTools = byBackend[name]
		sess.mu.Unlock()
	}
}

// WarmUp eagerly initializes every non-OAuth session, concurrently, per
// §4.6 ("non-OAuth sessions initialize eagerly at startup").
func (m *Manager) WarmUp(ctx context.Context) error {
	m.mu.Lock()
	sessions := make([]*session, 0, len(m.sessions))
	for _, s := range m.sessions {
		if s.def.Auth != registry.AuthOAuth {
			sessions = append(sessions, s)
		}
	}
	m.mu.Unlock()

	g, gctx := errgroup.WithContext(ctx)
	for _, s := range sessions {
		s := s
		g.Go(func() error {
			if err := s.ensureReady(gctx); err != nil {
				slog.Warn("backend warm-up failed", "backend", s.def.Name, "error", err)
			}
			return nil
		})
	}
	return g.Wait()
}

// Call dispatches a tools/call to the session owning backendName.
func (m *Manager) Call(ctx context.Context, backendName, upstreamName string, args map[string]any) (mcpwire.CallToolResult, error) {
	return m.CallWithProgress(ctx, backendName, upstreamName, args, nil)
}

// CallWithProgress is like Call but attaches progressToken to the upstream
// request's _meta so the backend can correlate its own notifications/progress
// frames back to this call (§4.7). Pass nil to omit the token.
func (m *Manager) CallWithProgress(ctx context.Context, backendName, upstreamName string, args map[string]any, progressToken any) (mcpwire.CallToolResult, error) {
	m.mu.Lock()
	sess, ok := m.byServer[backendName]
	m.mu.Unlock()
	if !ok {
		return mcpwire.CallToolResult{}, gwerr.New(gwerr.BackendUnavailable, "no session registered for backend %q", backendName)
	}
	return sess.call(ctx, upstreamName, args, progressToken)
}

// ListAllTools fans out tools/list to every registered backend
// concurrently (grounded on the teacher's errgroup-based aggregation),
// warning-and-skipping per-backend errors rather than failing the whole
// aggregation.
func (m *Manager) ListAllTools(ctx context.Context) map[string][]mcpwire.Tool {
	m.mu.Lock()
	sessions := make(map[string]*session, len(m.byServer))
	for name, s := range m.byServer {
		sessions[name] = s
	}
	m.mu.Unlock()

	var mu sync.Mutex
	out := make(map[string][]mcpwire.Tool, len(sessions))

	g, gctx := errgroup.WithContext(ctx)
	for name, s := range sessions {
		name, s := name, s
		g.Go(func() error {
			if err := s.ensureReady(gctx); err != nil {
				slog.Warn("skipping backend in tools/list aggregation", "backend", name, "error", err)
				return nil
			}
			tools := s.snapshotTools()
			mu.Lock()
			out[name] = tools
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return out
}

// State returns backendName's current lifecycle state.
func (m *Manager) State(backendName string) (State, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sess, ok := m.byServer[backendName]
	if !ok {
		return Closed, false
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()
	return sess.state, true
}

// Count returns the number of distinct (deduplicated) backend sessions.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Shutdown stops every session.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.sessions {
		s.transport.stop()
	}
}
