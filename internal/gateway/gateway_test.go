package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/revittco/mcpgate/internal/gwerr"
	"github.com/revittco/mcpgate/internal/mcpwire"
	"github.com/revittco/mcpgate/internal/registry"
	"github.com/revittco/mcpgate/internal/transform"
)

// fakeDispatcher is a hand-rolled BackendDispatcher double.
type fakeDispatcher struct {
	progressFn func(backendName string, p mcpwire.ProgressParams)
	calls      []string
	result     mcpwire.CallToolResult
	callErr    error
	count      int
}

func (f *fakeDispatcher) SetProgressHandler(fn func(backendName string, p mcpwire.ProgressParams)) {
	f.progressFn = fn
}

func (f *fakeDispatcher) CallWithProgress(ctx context.Context, backendName, upstreamName string, args map[string]any, progressToken any) (mcpwire.CallToolResult, error) {
	f.calls = append(f.calls, backendName+"/"+upstreamName)
	if progressToken != nil && f.progressFn != nil {
		f.progressFn(backendName, mcpwire.ProgressParams{ProgressToken: progressToken, Progress: 1})
	}
	if f.callErr != nil {
		return mcpwire.CallToolResult{}, f.callErr
	}
	return f.result, nil
}

func (f *fakeDispatcher) Count() int { return f.count }

func testResolved(t *testing.T) *registry.Resolved {
	t.Helper()
	doc := `{
		"schemaVersion": "1",
		"servers": [{"name": "weather", "stdio": {"command": "weatherd"}}],
		"tools": [
			{"name": "fetch_forecast", "server": "weather",
			 "inputSchema": {"type": "object", "properties": {"city": {"type": "string"}, "station_id": {"type": "string"}}, "required": ["city", "station_id"]}},
			{"name": "get_weather", "source": "fetch_forecast",
			 "defaults": {"station_id": "KJFK"}, "hideFields": ["station_id"]}
		]
	}`
	resolved, _, err := registry.Load([]byte(doc))
	if err != nil {
		t.Fatalf("registry.Load: %v", err)
	}
	return resolved
}

type fakeNotifier struct {
	notified []string
}

func (n *fakeNotifier) Notify(method string, params any) error {
	n.notified = append(n.notified, method)
	return nil
}

func TestHandleToolsListAdvertisesVirtualTools(t *testing.T) {
	resolved := testResolved(t)
	fd := &fakeDispatcher{}
	gw := New(resolved, fd, transform.Options{})

	raw, gerr := gw.HandleToolsList(context.Background())
	if gerr != nil {
		t.Fatalf("unexpected error: %v", gerr)
	}

	var result mcpwire.ListToolsResult
	if err := json.Unmarshal(raw, &result); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(result.Tools) != 1 {
		t.Fatalf("expected exactly 1 advertised tool (base tool not directly exposed), got %d: %+v", len(result.Tools), result.Tools)
	}
	if result.Tools[0].Name != "get_weather" {
		t.Fatalf("expected get_weather, got %q", result.Tools[0].Name)
	}
}

func TestHandleToolsCallAppliesDefaultsAndDispatches(t *testing.T) {
	resolved := testResolved(t)
	fd := &fakeDispatcher{
		result: mcpwire.CallToolResult{Content: []mcpwire.ContentBlock{{Type: "text", Text: "sunny"}}},
	}
	gw := New(resolved, fd, transform.Options{})

	params, _ := json.Marshal(mcpwire.CallToolParams{Name: "get_weather", Arguments: map[string]any{"city": "nyc"}})
	raw, gerr := gw.HandleToolsCall(context.Background(), params)
	if gerr != nil {
		t.Fatalf("unexpected error: %v", gerr)
	}
	if len(fd.calls) != 1 || fd.calls[0] != "weather/fetch_forecast" {
		t.Fatalf("expected dispatch to weather/fetch_forecast, got %v", fd.calls)
	}

	var result mcpwire.CallToolResult
	if err := json.Unmarshal(raw, &result); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(result.Content) != 1 || result.Content[0].Text != "sunny" {
		t.Fatalf("unexpected result: %+v", result)
	}
}

func TestHandleToolsCallUnknownTool(t *testing.T) {
	resolved := testResolved(t)
	gw := New(resolved, &fakeDispatcher{}, transform.Options{})

	params, _ := json.Marshal(mcpwire.CallToolParams{Name: "does_not_exist"})
	_, gerr := gw.HandleToolsCall(context.Background(), params)
	if gerr == nil || gerr.Kind != gwerr.ToolUnknown {
		t.Fatalf("expected gwerr.ToolUnknown, got %v", gerr)
	}
}

func TestHandleToolsCallForwardsProgress(t *testing.T) {
	resolved := testResolved(t)
	fd := &fakeDispatcher{
		result: mcpwire.CallToolResult{Content: []mcpwire.ContentBlock{{Type: "text", Text: "ok"}}},
	}
	gw := New(resolved, fd, transform.Options{})

	notifier := &fakeNotifier{}
	gw.SetNotifier(notifier)

	params, _ := json.Marshal(mcpwire.CallToolParams{
		Name:      "get_weather",
		Arguments: map[string]any{"city": "nyc"},
		Meta:      &mcpwire.RequestMeta{ProgressToken: "tok-1"},
	})
	if _, gerr := gw.HandleToolsCall(context.Background(), params); gerr != nil {
		t.Fatalf("unexpected error: %v", gerr)
	}

	if len(notifier.notified) != 1 || notifier.notified[0] != "notifications/progress" {
		t.Fatalf("expected one forwarded progress notification, got %v", notifier.notified)
	}

	// Progress token must be deregistered after the call completes; a later
	// stray notification for the same token must not be forwarded.
	fd.progressFn("weather", mcpwire.ProgressParams{ProgressToken: "tok-1", Progress: 2})
	if len(notifier.notified) != 1 {
		t.Fatalf("expected stray post-call progress to be dropped, got %v", notifier.notified)
	}
}

func TestHandleToolsCallDispatchErrorPropagates(t *testing.T) {
	resolved := testResolved(t)
	fd := &fakeDispatcher{callErr: errors.New("boom")}
	gw := New(resolved, fd, transform.Options{})

	params, _ := json.Marshal(mcpwire.CallToolParams{Name: "get_weather", Arguments: map[string]any{"city": "nyc"}})
	_, gerr := gw.HandleToolsCall(context.Background(), params)
	if gerr == nil {
		t.Fatalf("expected error")
	}
}
