package mcpcore

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/require"

	"github.com/swagger-mcp/gateway/internal/store"
	"github.com/swagger-mcp/gateway/internal/upstream"
)

func widgetSpec(serverURL string) []byte {
	return []byte(`{
		"openapi": "3.0.0",
		"servers": [{"url": "` + serverURL + `"}],
		"paths": {
			"/widgets/{id}": {
				"get": {
					"operationId": "getWidget",
					"parameters": [{"name": "id", "in": "path", "required": true, "schema": {"type": "string"}}],
					"responses": {"200": {"description": "ok", "content": {"application/json": {"schema": {"type": "object"}}}}}
				}
			}
		}
	}`)
}

func newTestCore(t *testing.T, upstreamURL string) (*Core, string) {
	t.Helper()
	st := store.New()
	ep, err := st.Create("widgets", "", widgetSpec(upstreamURL))
	require.NoError(t, err)
	core := New(st, upstream.NewDispatcher(5*time.Second), nil)
	return core, ep.ID
}

func rawParams(t *testing.T, v any) json.RawMessage {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return b
}

func TestCore_InitializeThenToolsListRequiresInitialize(t *testing.T) {
	core, endpointID := newTestCore(t, "http://unused")

	_, _, rpcErr, _ := core.Dispatch(context.Background(), endpointID, "sess-1", MethodToolsList, nil)
	require.NotNil(t, rpcErr)
	require.Equal(t, CodeNotInitialized, rpcErr.Code)

	_, _, rpcErr, _ = core.Dispatch(context.Background(), endpointID, "sess-1", MethodInitialize,
		rawParams(t, map[string]any{"protocolVersion": "2024-11-05"}))
	require.Nil(t, rpcErr)

	_, notify, rpcErr, _ := core.Dispatch(context.Background(), endpointID, "sess-1", MethodNotificationsInit, nil)
	require.True(t, notify)
	require.Nil(t, rpcErr)

	result, _, rpcErr, _ := core.Dispatch(context.Background(), endpointID, "sess-1", MethodToolsList, nil)
	require.Nil(t, rpcErr)
	list, ok := result.(mcp.ListToolsResult)
	require.True(t, ok)
	require.Len(t, list.Tools, 1)
	require.Equal(t, "get_widgets_id_api", list.Tools[0].Name)
}

func TestCore_Initialize_RejectsUnsupportedProtocolVersion(t *testing.T) {
	core, endpointID := newTestCore(t, "http://unused")
	_, _, rpcErr, _ := core.Dispatch(context.Background(), endpointID, "sess-1", MethodInitialize,
		rawParams(t, map[string]any{"protocolVersion": "1999-01-01"}))
	require.NotNil(t, rpcErr)
	require.Equal(t, CodeInvalidParams, rpcErr.Code)
}

func TestCore_ToolsCall_UnknownToolIsMethodNotFound(t *testing.T) {
	core, endpointID := newTestCore(t, "http://unused")
	initSession(t, core, endpointID, "sess-1")

	_, _, rpcErr, _ := core.Dispatch(context.Background(), endpointID, "sess-1", MethodToolsCall,
		rawParams(t, callToolParams{Name: "does_not_exist"}))
	require.NotNil(t, rpcErr)
	require.Equal(t, CodeMethodNotFound, rpcErr.Code)
}

func TestCore_ToolsCall_DispatchesAndWrapsEnvelope(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"id": "abc"})
	}))
	defer srv.Close()

	core, endpointID := newTestCore(t, srv.URL)
	initSession(t, core, endpointID, "sess-1")

	result, _, rpcErr, canceled := core.Dispatch(context.Background(), endpointID, "sess-1", MethodToolsCall,
		rawParams(t, callToolParams{
			Name:      "get_widgets_id_api",
			Arguments: map[string]any{"path": map[string]any{"id": "abc"}},
		}))
	require.Nil(t, rpcErr)
	require.False(t, canceled)
	callResult, ok := result.(mcp.CallToolResult)
	require.True(t, ok)
	require.False(t, callResult.IsError)
	require.Len(t, callResult.Content, 1)
}

func TestCore_ToolsCall_EndpointNotRunningIsNotInitialized(t *testing.T) {
	st := store.New()
	ep, err := st.Create("widgets", "", widgetSpec("http://unused"))
	require.NoError(t, err)
	require.NoError(t, st.Delete(ep.ID))

	core := New(st, upstream.NewDispatcher(time.Second), nil)
	initSession(t, core, ep.ID, "sess-1")

	_, _, rpcErr, _ := core.Dispatch(context.Background(), ep.ID, "sess-1", MethodToolsCall,
		rawParams(t, callToolParams{Name: "get_widgets_id_api"}))
	require.NotNil(t, rpcErr)
	require.Equal(t, CodeNotInitialized, rpcErr.Code)
}

func initSession(t *testing.T, core *Core, endpointID, sessionID string) {
	t.Helper()
	_, _, rpcErr, _ := core.Dispatch(context.Background(), endpointID, sessionID, MethodInitialize,
		rawParams(t, map[string]any{"protocolVersion": "2024-11-05"}))
	require.Nil(t, rpcErr)
	_, _, rpcErr, _ = core.Dispatch(context.Background(), endpointID, sessionID, MethodNotificationsInit, nil)
	require.Nil(t, rpcErr)
}
