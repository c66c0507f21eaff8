// Package mcpcore implements the McpCore component of spec.md §4.7: method
// dispatch for initialize, notifications/initialized, tools/list and
// tools/call, and the per-session Opened -> Initialized state machine.
//
// It deliberately stays below the wire: transports (SseTransport,
// StreamableTransport) own JSON-RPC framing and session plumbing; Core only
// answers "given this method and these params, what happens".
package mcpcore

import (
	"encoding/json"

	"github.com/mark3labs/mcp-go/mcp"
)

const (
	MethodInitialize            = "initialize"
	MethodNotificationsInit     = "notifications/initialized"
	MethodToolsList             = "tools/list"
	MethodToolsCall             = "tools/call"
)

// acceptedProtocolVersions lists every protocolVersion initialize will
// negotiate. spec.md §8 scenario 6 requires 2024-11-05 and later revisions
// the server itself advertises to be accepted, and anything else rejected.
var acceptedProtocolVersions = map[string]bool{
	"2024-11-05":             true,
	mcp.LATEST_PROTOCOL_VERSION: true,
}

// ServerInfo identifies this gateway to connecting MCP clients.
var ServerInfo = mcp.Implementation{
	Name:    "swagger-mcp-gateway",
	Version: "0.1.0",
}

type initializeParams struct {
	ProtocolVersion string             `json:"protocolVersion"`
	ClientInfo      mcp.Implementation `json:"clientInfo"`
	Capabilities    json.RawMessage    `json:"capabilities"`
}

type callToolParams struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}
