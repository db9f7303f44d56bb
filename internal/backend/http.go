package backend

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/revittco/mcpgate/internal/mcpwire"
)

// httpSession manages one remote MCP peer over SSE or streamable-HTTP.
// Unlike stdio, each call owns its own request/response round trip, so
// concurrent callers need no in-flight demultiplexing map — the transport
// itself supports concurrent in-flight requests (§5).
type httpSession struct {
	url        string
	transport  string // "sse" or "streamableHttp"
	authHeader string // e.g. "Bearer <token>"; empty if none

	client *http.Client

	mu           sync.Mutex
	mcpSessionID string

	nextID atomic.Int64
}

func newHTTPSession(url, transport, authHeader string) *httpSession {
	return &httpSession{
		url:        url,
		transport:  transport,
		authHeader: authHeader,
		client:     &http.Client{Timeout: 60 * time.Second},
	}
}

func (s *httpSession) start(ctx context.Context) error {
	initParams, _ := json.Marshal(mcpwire.InitializeParams{
		ProtocolVersion: "2024-11-05",
		ClientInfo:      mcpwire.ClientInfo{Name: "mcpgate", Version: "0.1.0"},
	})
	_, err := s.call(ctx, "initialize", initParams)
	return err
}

func (s *httpSession) call(ctx context.Context, method string, params json.RawMessage) (json.RawMessage, error) {
	id := s.nextID.Add(1)
	req := mcpwire.Request{JSONRPC: "2.0", ID: id, Method: method, Params: params}
	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json, text/event-stream")
	if s.authHeader != "" {
		httpReq.Header.Set("Authorization", s.authHeader)
	}
	s.mu.Lock()
	sessionID := s.mcpSessionID
	s.mu.Unlock()
	if sessionID != "" {
		httpReq.Header.Set("Mcp-Session-Id", sessionID)
	}

	resp, err := s.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("backend: http request: %w", err)
	}
	defer resp.Body.Close()

	if sid := resp.Header.Get("Mcp-Session-Id"); sid != "" {
		s.mu.Lock()
		s.mcpSessionID = sid
		s.mu.Unlock()
	}

	if resp.StatusCode == http.StatusUnauthorized {
		return nil, fmt.Errorf("backend: authentication required (401)")
	}

	contentType := resp.Header.Get("Content-Type")
	if strings.Contains(contentType, "text/event-stream") {
		return readSSEResponse(resp.Body)
	}

	var rpcResp mcpwire.Response
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		return nil, fmt.Errorf("backend: decoding response: %w", err)
	}
	if rpcResp.Error != nil {
		return nil, rpcResp.Error
	}
	return rpcResp.Result, nil
}

func readSSEResponse(body interface{ Read([]byte) (int, error) }) (json.RawMessage, error) {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		data, ok := strings.CutPrefix(line, "data: ")
		if !ok {
			continue
		}
		var resp mcpwire.Response
		if err := json.Unmarshal([]byte(data), &resp); err != nil {
			continue
		}
		if resp.Error != nil {
			return nil, resp.Error
		}
		if resp.Result != nil {
			return resp.Result, nil
		}
	}
	return nil, fmt.Errorf("backend: SSE stream ended without a result")
}

func (s *httpSession) stop() {}

func (s *httpSession) alive() bool { return true }
