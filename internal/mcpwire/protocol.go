// Package mcpwire defines the JSON-RPC 2.0 / MCP wire types shared by the
// gateway's northbound façade (G) and southbound backend sessions (F).
package mcpwire

import "encoding/json"

// Request is a JSON-RPC 2.0 request or notification (ID nil => notification).
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      any             `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// Response is a JSON-RPC 2.0 response.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      any             `json:"id,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// RPCError is a JSON-RPC 2.0 error object.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func (e *RPCError) Error() string { return e.Message }

// InitializeParams is the client's "initialize" request payload.
type InitializeParams struct {
	ProtocolVersion string     `json:"protocolVersion"`
	Capabilities    any        `json:"capabilities,omitempty"`
	ClientInfo      ClientInfo `json:"clientInfo"`
}

// ClientInfo identifies the connecting MCP client.
type ClientInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// ServerInfo identifies this gateway to the client.
type ServerInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// ToolCapability advertises tool-related server capabilities.
type ToolCapability struct {
	ListChanged bool `json:"listChanged"`
}

// ServerCapability is the server's capability set.
type ServerCapability struct {
	Tools *ToolCapability `json:"tools,omitempty"`
}

// InitializeResult is the gateway's response to "initialize".
type InitializeResult struct {
	ProtocolVersion string           `json:"protocolVersion"`
	Capabilities    ServerCapability `json:"capabilities"`
	ServerInfo      ServerInfo       `json:"serverInfo"`
}

// Tool describes one entry in a "tools/list" response.
type Tool struct {
	Name         string `json:"name"`
	Description  string `json:"description,omitempty"`
	InputSchema  any    `json:"inputSchema"`
	OutputSchema any    `json:"outputSchema,omitempty"`
}

// ListToolsResult is the "tools/list" response payload.
type ListToolsResult struct {
	Tools []Tool `json:"tools"`
}

// CallToolParams is the "tools/call" request payload, extended with an
// optional _meta.progressToken so tools/call forwarding can correlate
// backend-emitted notifications/progress frames back to the client request
// that triggered them (§4.7).
type CallToolParams struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments,omitempty"`
	Meta      *RequestMeta   `json:"_meta,omitempty"`
}

// RequestMeta carries the standard MCP "_meta" request sideband.
type RequestMeta struct {
	ProgressToken any `json:"progressToken,omitempty"`
}

// ContentBlock is one element of a CallToolResult's human-readable content.
type ContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// CallToolResult is the "tools/call" response payload, extended with
// StructuredContent (absent from the teacher's simplified CallToolResult,
// but required by §4.5/§3 of the spec this gateway implements).
type CallToolResult struct {
	Content           []ContentBlock `json:"content"`
	StructuredContent any            `json:"structuredContent,omitempty"`
	IsError           bool           `json:"isError,omitempty"`
}

// ProgressParams is the payload of a forwarded "notifications/progress".
type ProgressParams struct {
	ProgressToken any     `json:"progressToken"`
	Progress      float64 `json:"progress"`
	Total         float64 `json:"total,omitempty"`
}
