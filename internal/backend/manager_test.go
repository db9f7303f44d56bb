package backend

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/revittco/mcpgate/internal/gwerr"
	"github.com/revittco/mcpgate/internal/registry"
)

// fakeTransport is a hand-rolled transport double for exercising Manager
// without a real subprocess or HTTP server.
type fakeTransport struct {
	startErr  error
	startN    int
	callN     int
	callErr   error
	listTools json.RawMessage
	callRes   json.RawMessage
	aliveVal  bool
}

func (f *fakeTransport) start(ctx context.Context) error {
	f.startN++
	return f.startErr
}

func (f *fakeTransport) call(ctx context.Context, method string, params json.RawMessage) (json.RawMessage, error) {
	f.callN++
	if f.callErr != nil {
		return nil, f.callErr
	}
	if method == "tools/list" {
		return f.listTools, nil
	}
	return f.callRes, nil
}

func (f *fakeTransport) stop()       {}
func (f *fakeTransport) alive() bool { return f.aliveVal }

func newTestSession(def registry.ServerDef, tr transport) *session {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 500 * time.Millisecond
	bo.Multiplier = 2
	bo.MaxInterval = 30 * time.Second
	return &session{
		def:         def,
		fingerprint: Fingerprint(def),
		transport:   tr,
		state:       Connecting,
		backoff:     bo,
	}
}

func TestManagerDedupByFingerprint(t *testing.T) {
	def1 := registry.ServerDef{Name: "weather-a", Stdio: &registry.StdioDef{Command: "weatherd"}}
	def2 := registry.ServerDef{Name: "weather-b", Stdio: &registry.StdioDef{Command: "weatherd"}}

	m := NewManager(nil)
	m.Register(def1)
	m.Register(def2)

	if m.Count() != 1 {
		t.Fatalf("expected 1 deduplicated session for identical stdio defs, got %d", m.Count())
	}
}

func TestManagerCallFailFastWhileClosed(t *testing.T) {
	def := registry.ServerDef{Name: "flaky", Stdio: &registry.StdioDef{Command: "flakyd"}}
	ft := &fakeTransport{startErr: errors.New("connection refused")}

	m := NewManager(nil)
	m.mu.Lock()
	sess := newTestSession(def, ft)
	m.sessions[sess.fingerprint] = sess
	m.byServer[def.Name] = sess
	m.mu.Unlock()

	ctx := context.Background()
	_, err := m.Call(ctx, "flaky", "tool", nil)
	if err == nil {
		t.Fatalf("expected error on failed connect, got nil")
	}
	var gerr *gwerr.Error
	if !errors.As(err, &gerr) || gerr.Kind != gwerr.BackendUnavailable {
		t.Fatalf("expected gwerr.BackendUnavailable, got %v", err)
	}
	if ft.startN != 1 {
		t.Fatalf("expected exactly one connect attempt, got %d", ft.startN)
	}

	// A second call within the backoff window must fail fast without
	// retrying the transport.
	_, err = m.Call(ctx, "flaky", "tool", nil)
	if err == nil {
		t.Fatalf("expected fail-fast error on second call, got nil")
	}
	if ft.startN != 1 {
		t.Fatalf("expected no additional connect attempt while backoff pending, got %d total", ft.startN)
	}
}

func TestManagerCallSucceedsAfterConnect(t *testing.T) {
	def := registry.ServerDef{Name: "weather", Stdio: &registry.StdioDef{Command: "weatherd"}}
	ft := &fakeTransport{
		listTools: json.RawMessage(`{"tools":[{"name":"fetch_forecast"}]}`),
		callRes:   json.RawMessage(`{"content":[{"type":"text","text":"ok"}]}`),
		aliveVal:  true,
	}

	m := NewManager(nil)
	m.mu.Lock()
	sess := newTestSession(def, ft)
	m.sessions[sess.fingerprint] = sess
	m.byServer[def.Name] = sess
	m.mu.Unlock()

	result, err := m.Call(context.Background(), "weather", "fetch_forecast", map[string]any{"city": "nyc"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result.Content) != 1 || result.Content[0].Text != "ok" {
		t.Fatalf("unexpected result: %+v", result)
	}

	state, ok := m.State("weather")
	if !ok || state != Ready {
		t.Fatalf("expected backend to be Ready, got %v (ok=%v)", state, ok)
	}
}

func TestManagerListAllToolsAggregatesAcrossBackends(t *testing.T) {
	defA := registry.ServerDef{Name: "a", Stdio: &registry.StdioDef{Command: "ad"}}
	defB := registry.ServerDef{Name: "b", Stdio: &registry.StdioDef{Command: "bd"}}
	ftA := &fakeTransport{listTools: json.RawMessage(`{"tools":[{"name":"x"}]}`), aliveVal: true}
	ftB := &fakeTransport{listTools: json.RawMessage(`{"tools":[{"name":"y"}]}`), aliveVal: true}

	m := NewManager(nil)
	m.mu.Lock()
	sa := newTestSession(defA, ftA)
	sb := newTestSession(defB, ftB)
	m.sessions[sa.fingerprint] = sa
	m.byServer["a"] = sa
	m.sessions[sb.fingerprint] = sb
	m.byServer["b"] = sb
	m.mu.Unlock()

	out := m.ListAllTools(context.Background())
	if len(out) != 2 {
		t.Fatalf("expected tools from 2 backends, got %d", len(out))
	}
	if len(out["a"]) != 1 || out["a"][0].Name != "x" {
		t.Fatalf("unexpected tools for backend a: %+v", out["a"])
	}
	if len(out["b"]) != 1 || out["b"][0].Name != "y" {
		t.Fatalf("unexpected tools for backend b: %+v", out["b"])
	}
}

func TestManagerWarmUpSkipsOAuthBackends(t *testing.T) {
	defEager := registry.ServerDef{Name: "eager", Stdio: &registry.StdioDef{Command: "eagerd"}}
	defOAuth := registry.ServerDef{Name: "lazy", URL: "https://example.com/mcp", Auth: registry.AuthOAuth}

	ftEager := &fakeTransport{listTools: json.RawMessage(`{"tools":[]}`), aliveVal: true}
	ftOAuth := &fakeTransport{listTools: json.RawMessage(`{"tools":[]}`), aliveVal: true}

	m := NewManager(nil)
	m.mu.Lock()
	se := newTestSession(defEager, ftEager)
	so := newTestSession(defOAuth, ftOAuth)
	m.sessions[se.fingerprint] = se
	m.byServer["eager"] = se
	m.sessions[so.fingerprint] = so
	m.byServer["lazy"] = so
	m.mu.Unlock()

	if err := m.WarmUp(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if ftEager.startN != 1 {
		t.Fatalf("expected eager backend to connect during warm-up, got %d attempts", ftEager.startN)
	}
	if ftOAuth.startN != 0 {
		t.Fatalf("expected OAuth backend to stay lazy during warm-up, got %d attempts", ftOAuth.startN)
	}
}

func TestManagerBindExpectedToolsDisablesOnDriftInStrictMode(t *testing.T) {
	def := registry.ServerDef{Name: "weather", Stdio: &registry.StdioDef{Command: "weatherd"}}
	ft := &fakeTransport{
		listTools: json.RawMessage(`{"tools":[{"name":"fetch_forecast","description":"d","inputSchema":{"type":"object"}}]}`),
		callRes:   json.RawMessage(`{"content":[]}`),
		aliveVal:  true,
	}

	rvt := &registry.ResolvedVirtualTool{
		ExposedName:        "get_weather",
		BackendName:        "weather",
		UpstreamName:       "fetch_forecast",
		ExpectedSchemaHash: "deadbeef",
		ValidationMode:     registry.ValidationStrict,
	}
	resolved := &registry.Resolved{Tools: map[string]*registry.ResolvedVirtualTool{"get_weather": rvt}}

	m := NewManager(nil)
	m.mu.Lock()
	sess := newTestSession(def, ft)
	m.sessions[sess.fingerprint] = sess
	m.byServer[def.Name] = sess
	m.mu.Unlock()

	m.BindExpectedTools(resolved)

	if _, err := m.Call(context.Background(), "weather", "fetch_forecast", nil); err != nil {
		t.Fatalf("unexpected error priming the session: %v", err)
	}

	disabled, reason := rvt.DisabledState()
	if !disabled {
		t.Fatal("expected tool to be disabled after schema drift in strict mode")
	}
	if reason == "" {
		t.Fatal("expected a non-empty disabled reason")
	}
}

func TestManagerBindExpectedToolsWarnsWithoutDisablingInWarnMode(t *testing.T) {
	def := registry.ServerDef{Name: "weather", Stdio: &registry.StdioDef{Command: "weatherd"}}
	ft := &fakeTransport{
		listTools: json.RawMessage(`{"tools":[{"name":"fetch_forecast","description":"d","inputSchema":{"type":"object"}}]}`),
		callRes:   json.RawMessage(`{"content":[]}`),
		aliveVal:  true,
	}

	rvt := &registry.ResolvedVirtualTool{
		ExposedName:        "get_weather",
		BackendName:        "weather",
		UpstreamName:       "fetch_forecast",
		ExpectedSchemaHash: "deadbeef",
		ValidationMode:     registry.ValidationWarn,
	}
	resolved := &registry.Resolved{Tools: map[string]*registry.ResolvedVirtualTool{"get_weather": rvt}}

	m := NewManager(nil)
	m.mu.Lock()
	sess := newTestSession(def, ft)
	m.sessions[sess.fingerprint] = sess
	m.byServer[def.Name] = sess
	m.mu.Unlock()

	m.BindExpectedTools(resolved)

	if _, err := m.Call(context.Background(), "weather", "fetch_forecast", nil); err != nil {
		t.Fatalf("unexpected error priming the session: %v", err)
	}

	if disabled, _ := rvt.DisabledState(); disabled {
		t.Fatal("expected warn-mode drift to leave the tool enabled")
	}
}

func TestManagerBindExpectedToolsMatchingHashStaysEnabled(t *testing.T) {
	def := registry.ServerDef{Name: "weather", Stdio: &registry.StdioDef{Command: "weatherd"}}
	liveHash := registry.SchemaHash("fetch_forecast", "d", map[string]any{"type": "object"})
	ft := &fakeTransport{
		listTools: json.RawMessage(`{"tools":[{"name":"fetch_forecast","description":"d","inputSchema":{"type":"object"}}]}`),
		callRes:   json.RawMessage(`{"content":[]}`),
		aliveVal:  true,
	}

	rvt := &registry.ResolvedVirtualTool{
		ExposedName:        "get_weather",
		BackendName:        "weather",
		UpstreamName:       "fetch_forecast",
		ExpectedSchemaHash: liveHash,
		ValidationMode:     registry.ValidationStrict,
	}
	resolved := &registry.Resolved{Tools: map[string]*registry.ResolvedVirtualTool{"get_weather": rvt}}

	m := NewManager(nil)
	m.mu.Lock()
	sess := newTestSession(def, ft)
	m.sessions[sess.fingerprint] = sess
	m.byServer[def.Name] = sess
	m.mu.Unlock()

	m.BindExpectedTools(resolved)

	if _, err := m.Call(context.Background(), "weather", "fetch_forecast", nil); err != nil {
		t.Fatalf("unexpected error priming the session: %v", err)
	}

	if disabled, _ := rvt.DisabledState(); disabled {
		t.Fatal("expected matching schema hash to leave the tool enabled")
	}
}
