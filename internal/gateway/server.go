package gateway

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"

	"github.com/revittco/mcpgate/internal/gwerr"
	"github.com/revittco/mcpgate/internal/mcpwire"
)

// Server runs a Gateway over a single stdio (or stdio-shaped) connection.
type Server struct {
	gw *Gateway
	mu sync.Mutex // protects writes to w
	w  io.Writer
}

// NewServer wraps a Gateway for stdio transport.
func NewServer(gw *Gateway) *Server {
	return &Server{gw: gw}
}

// RunStdio runs the gateway over the process's stdin/stdout.
func (s *Server) RunStdio(ctx context.Context) error {
	return s.run(ctx, os.Stdin, os.Stdout)
}

// RunConn runs the gateway over an arbitrary reader/writer pair (used by
// tests and by in-process transports).
func (s *Server) RunConn(ctx context.Context, r io.Reader, w io.Writer) error {
	return s.run(ctx, r, w)
}

func (s *Server) run(ctx context.Context, r io.Reader, w io.Writer) error {
	s.w = w
	s.gw.SetNotifier(s)

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 1024*1024), 1024*1024)

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		resp := s.dispatch(ctx, line)
		if resp == nil {
			continue // notification, no response needed
		}
		if err := s.writeFrame(w, resp); err != nil {
			return fmt.Errorf("gateway: write response: %w", err)
		}
	}
	return scanner.Err()
}

func (s *Server) dispatch(ctx context.Context, line []byte) *mcpwire.Response {
	var req mcpwire.Request
	if err := json.Unmarshal(line, &req); err != nil {
		return &mcpwire.Response{
			JSONRPC: "2.0",
			Error:   &mcpwire.RPCError{Code: gwerr.CodeParseError, Message: "invalid JSON: " + err.Error()},
		}
	}

	if req.ID == nil {
		s.handleNotification(req)
		return nil
	}

	var result json.RawMessage
	var gerr *gwerr.Error

	switch req.Method {
	case "initialize":
		result, gerr = s.gw.HandleInitialize(ctx, req.Params)
	case "ping":
		result, _ = json.Marshal(map[string]any{})
	case "tools/list":
		result, gerr = s.gw.HandleToolsList(ctx)
	case "tools/call":
		result, gerr = s.gw.HandleToolsCall(ctx, req.Params)
	default:
		gerr = gwerr.New(gwerr.MalformedResponse, "unknown method: %s", req.Method)
	}

	resp := &mcpwire.Response{JSONRPC: "2.0", ID: req.ID}
	if gerr != nil {
		resp.Error = &mcpwire.RPCError{Code: gwerr.Code(gerr.Kind), Message: gerr.Error()}
	} else {
		resp.Result = result
	}
	return resp
}

func (s *Server) handleNotification(req mcpwire.Request) {
	switch req.Method {
	case "notifications/initialized":
		slog.Info("client initialized")
	default:
		slog.Debug("unhandled notification", "method", req.Method)
	}
}

// Notify sends a JSON-RPC notification (no id field) to the client.
func (s *Server) Notify(method string, params any) error {
	if s.w == nil {
		return fmt.Errorf("gateway: server not running")
	}
	notif := struct {
		JSONRPC string `json:"jsonrpc"`
		Method  string `json:"method"`
		Params  any    `json:"params,omitempty"`
	}{JSONRPC: "2.0", Method: method, Params: params}
	return s.writeFrame(s.w, notif)
}

func (s *Server) writeFrame(w io.Writer, v any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	data = append(data, '\n')
	_, err = w.Write(data)
	return err
}
