package mcpcore

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/swagger-mcp/gateway/internal/compiler"
	"github.com/swagger-mcp/gateway/internal/store"
	"github.com/swagger-mcp/gateway/internal/upstream"
)

// sessionState is McpCore's own Opened -> Initialized state machine,
// keyed by session_id. It is distinct from SessionLedger's
// Created/Destroyed connect lifecycle: a session can be connected
// (ledger: Created) for a while before it ever calls initialize.
type sessionState int

const (
	stateOpened sessionState = iota
	stateInitialized
)

// Core implements the McpCore component of spec.md §4.7. One Core instance
// is shared across every endpoint and session; all per-session state lives
// in the sessions map below, guarded by mu.
type Core struct {
	store      *store.Store
	dispatcher *upstream.Dispatcher
	logger     *slog.Logger

	mu       sync.Mutex
	sessions map[string]sessionState
}

func New(st *store.Store, dispatcher *upstream.Dispatcher, logger *slog.Logger) *Core {
	if logger == nil {
		logger = slog.Default()
	}
	return &Core{
		store:      st,
		dispatcher: dispatcher,
		logger:     logger,
		sessions:   make(map[string]sessionState),
	}
}

// ForgetSession drops a session's initialize state. Transports call this
// on disconnect so the map does not grow unbounded across session churn.
func (c *Core) ForgetSession(sessionID string) {
	c.mu.Lock()
	delete(c.sessions, sessionID)
	c.mu.Unlock()
}

func (c *Core) isInitialized(sessionID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessions[sessionID] == stateInitialized
}

// Dispatch routes one JSON-RPC method call to its handler. result is the
// value to place in a JSONRPCResponse.Result; rpcErr, when non-nil, means
// the caller should send a JSONRPCError instead and never both. notify is
// true for requests that expect no reply at all (notifications/initialized).
// canceled is true only when the caller's own context ended the call
// in-flight (spec.md §5): the transport must send nothing back at all, not
// even an error object.
func (c *Core) Dispatch(ctx context.Context, endpointID, sessionID, method string, rawParams json.RawMessage) (result any, notify bool, rpcErr *RPCError, canceled bool) {
	switch method {
	case MethodInitialize:
		res, err := c.handleInitialize(sessionID, rawParams)
		return res, false, err, false
	case MethodNotificationsInit:
		c.mu.Lock()
		c.sessions[sessionID] = stateInitialized
		c.mu.Unlock()
		return nil, true, nil, false
	case MethodToolsList:
		res, err := c.handleToolsList(endpointID, sessionID)
		return res, false, err, false
	case MethodToolsCall:
		res, err, canceled := c.handleToolsCall(ctx, endpointID, sessionID, rawParams)
		return res, false, err, canceled
	default:
		return nil, false, errMethodNotFound(fmt.Sprintf("unknown method %q", method)), false
	}
}

func (c *Core) handleInitialize(sessionID string, rawParams json.RawMessage) (any, *RPCError) {
	var params initializeParams
	if len(rawParams) > 0 {
		if err := json.Unmarshal(rawParams, &params); err != nil {
			return nil, errInvalidParams("malformed initialize params: " + err.Error())
		}
	}

	if params.ProtocolVersion != "" && !acceptedProtocolVersions[params.ProtocolVersion] {
		return nil, errInvalidParams(fmt.Sprintf("unsupported protocol version %q", params.ProtocolVersion))
	}

	negotiated := params.ProtocolVersion
	if negotiated == "" {
		negotiated = mcp.LATEST_PROTOCOL_VERSION
	}

	// sessions start Opened on connect (SessionLedger.on_connect); the
	// Opened->Initialized transition itself belongs to
	// notifications/initialized, not to this reply.
	c.mu.Lock()
	if _, ok := c.sessions[sessionID]; !ok {
		c.sessions[sessionID] = stateOpened
	}
	c.mu.Unlock()

	return map[string]any{
		"protocolVersion": negotiated,
		"capabilities": map[string]any{
			"tools": map[string]any{"listChanged": true},
		},
		"serverInfo": ServerInfo,
	}, nil
}

func (c *Core) handleToolsList(endpointID, sessionID string) (any, *RPCError) {
	if !c.isInitialized(sessionID) {
		return nil, errNotInitialized("session has not completed initialize")
	}

	ep, err := c.store.Get(endpointID)
	if err != nil {
		return nil, errNotInitialized("endpoint not available: " + err.Error())
	}
	if ep.Status != store.StatusRunning {
		return nil, errNotInitialized("endpoint not available")
	}

	tools := make([]mcp.Tool, 0, len(ep.Catalog))
	for _, t := range ep.Catalog {
		tools = append(tools, toMCPTool(t))
	}
	return mcp.ListToolsResult{Tools: tools}, nil
}

func (c *Core) handleToolsCall(ctx context.Context, endpointID, sessionID string, rawParams json.RawMessage) (any, *RPCError, bool) {
	if !c.isInitialized(sessionID) {
		return nil, errNotInitialized("session has not completed initialize"), false
	}

	var params callToolParams
	if err := json.Unmarshal(rawParams, &params); err != nil {
		return nil, errInvalidParams("malformed tools/call params: " + err.Error()), false
	}

	ep, err := c.store.Get(endpointID)
	if err != nil {
		return nil, errNotInitialized("endpoint not available: " + err.Error()), false
	}
	if ep.Status != store.StatusRunning {
		return nil, errNotInitialized("endpoint not available"), false
	}

	var tool *compiler.Tool
	for i := range ep.Catalog {
		if ep.Catalog[i].Name == params.Name {
			tool = &ep.Catalog[i]
			break
		}
	}
	if tool == nil {
		return nil, errMethodNotFound(fmt.Sprintf("tool %q not found", params.Name)), false
	}

	args := splitArguments(params.Arguments)

	envelope, err := c.dispatcher.Call(ctx, ep.BaseURL, *tool, args)
	if err != nil {
		if ctx.Err() != nil {
			// Caller cancellation: no content at all, spec.md §5.
			return nil, nil, true
		}
		return nil, errInvalidParams(err.Error()), false
	}

	encoded, marshalErr := json.Marshal(envelope)
	if marshalErr != nil {
		return nil, errInvalidParams("encoding upstream envelope: " + marshalErr.Error()), false
	}

	return mcp.CallToolResult{
		Content: []mcp.Content{mcp.NewTextContent(string(encoded))},
		IsError: !envelope.Success,
	}, nil, false
}

func splitArguments(raw map[string]any) upstream.Arguments {
	args := upstream.Arguments{}
	if m, ok := raw[compiler.GroupPath].(map[string]any); ok {
		args.Path = m
	}
	if m, ok := raw[compiler.GroupQuery].(map[string]any); ok {
		args.Query = m
	}
	if m, ok := raw[compiler.GroupHeader].(map[string]any); ok {
		args.Header = m
	}
	if body, ok := raw[compiler.GroupBody]; ok {
		args.Body = body
	}
	return args
}

func toMCPTool(t compiler.Tool) mcp.Tool {
	schema := mcp.ToolInputSchema{Type: "object"}
	if t.InputSchema != nil {
		if props, ok := t.InputSchema["properties"].(map[string]any); ok {
			schema.Properties = props
		}
		if required, ok := t.InputSchema["required"].([]string); ok {
			schema.Required = required
		} else if reqAny, ok := t.InputSchema["required"].([]any); ok {
			for _, r := range reqAny {
				if s, ok := r.(string); ok {
					schema.Required = append(schema.Required, s)
				}
			}
		}
	}
	return mcp.Tool{
		Name:        t.Name,
		Description: t.Description,
		InputSchema: schema,
	}
}
