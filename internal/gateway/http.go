package gateway

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/revittco/mcpgate/internal/gwerr"
	"github.com/revittco/mcpgate/internal/mcpwire"
)

// HTTPServer exposes a Gateway over the two northbound HTTP endpoints named
// in §6: POST /mcp/ for the MCP request/response cycle, and GET /status for
// operational visibility. Unlike the stdio Server, it does not forward
// notifications/progress — a plain request/response HTTP exchange has no
// push channel back to the client for unsolicited notifications.
type HTTPServer struct {
	gw *Gateway
}

// NewHTTPServer wraps a Gateway for HTTP transport.
func NewHTTPServer(gw *Gateway) *HTTPServer {
	return &HTTPServer{gw: gw}
}

// Routes returns the mountable chi router for this server's endpoints.
func (h *HTTPServer) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/mcp/", h.handleMCP)
	r.Get("/status", h.handleStatus)
	return r
}

func (h *HTTPServer) handleMCP(w http.ResponseWriter, r *http.Request) {
	var req mcpwire.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, gwerr.CodeParseError, "invalid JSON: "+err.Error())
		return
	}

	sessionID := r.Header.Get("Mcp-Session-Id")
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	w.Header().Set("Mcp-Session-Id", sessionID)

	if req.ID == nil {
		h.handleNotification(req)
		w.WriteHeader(http.StatusAccepted)
		return
	}

	ctx := r.Context()
	var result json.RawMessage
	var gerr *gwerr.Error

	switch req.Method {
	case "initialize":
		result, gerr = h.gw.HandleInitialize(ctx, req.Params)
	case "ping":
		result, _ = json.Marshal(map[string]any{})
	case "tools/list":
		result, gerr = h.gw.HandleToolsList(ctx)
	case "tools/call":
		result, gerr = h.gw.HandleToolsCall(ctx, req.Params)
	default:
		gerr = gwerr.New(gwerr.MalformedResponse, "unknown method: %s", req.Method)
	}

	resp := mcpwire.Response{JSONRPC: "2.0", ID: req.ID}
	if gerr != nil {
		resp.Error = &mcpwire.RPCError{Code: gwerr.Code(gerr.Kind), Message: gerr.Error()}
	} else {
		resp.Result = result
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

func (h *HTTPServer) handleNotification(req mcpwire.Request) {
	// notifications/initialized and similar client notifications carry no
	// actionable state for this gateway over HTTP.
}

type statusResponse struct {
	Backends     int       `json:"backends"`
	LastActivity time.Time `json:"lastActivity,omitempty"`
}

func (h *HTTPServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(statusResponse{
		Backends:     h.gw.BackendCount(),
		LastActivity: h.gw.LastActivity(),
	})
}

func writeJSONError(w http.ResponseWriter, status, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(mcpwire.Response{
		JSONRPC: "2.0",
		Error:   &mcpwire.RPCError{Code: code, Message: message},
	})
}
