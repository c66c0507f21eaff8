package sse

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/swagger-mcp/gateway/internal/mcpcore"
	"github.com/swagger-mcp/gateway/internal/session"
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
					"parameters": [{"name": "id", "in": "path", "required": true, "schema": {"type": "string"}}],
					"responses": {"200": {"description": "ok", "content": {"application/json": {"schema": {"type": "object"}}}}}
				}
			}
		}
	}`)
}

func newTestTransport(t *testing.T, upstreamURL string) (*Transport, *session.Ledger, *store.Store, string) {
	t.Helper()
	st := store.New()
	ep, err := st.Create("widgets", "", widgetSpec(upstreamURL))
	require.NoError(t, err)

	ledger := session.NewLedger(nil, nil)
	core := mcpcore.New(st, upstream.NewDispatcher(5*time.Second), nil)
	return New(st, core, ledger, nil), ledger, st, ep.ID
}

func TestSSE_StreamOpensAndLiveCountTracksLifetime(t *testing.T) {
	upstreamSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"id": "abc"})
	}))
	defer upstreamSrv.Close()

	transport, ledger, _, endpointID := newTestTransport(t, upstreamSrv.URL)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /{endpoint_id}/sse", transport.HandleStream)
	mux.HandleFunc("POST /messages/", transport.HandleMessage)
	gwSrv := httptest.NewServer(mux)
	defer gwSrv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, gwSrv.URL+"/"+endpointID+"/sse", nil)
	require.NoError(t, err)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	reader := bufio.NewReader(resp.Body)
	line, err := reader.ReadString('\n')
	require.NoError(t, err)
	require.Equal(t, "event: endpoint\n", line)

	dataLine, err := reader.ReadString('\n')
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(dataLine, "data: /messages/?session_id="))
	sid := strings.TrimSpace(strings.TrimPrefix(dataLine, "data: /messages/?session_id="))
	require.NotEmpty(t, sid)

	require.Eventually(t, func() bool {
		return ledger.LiveCount(endpointID) == 1
	}, time.Second, 10*time.Millisecond)

	initBody := `{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"protocolVersion":"2024-11-05"}}`
	postResp, err := http.Post(gwSrv.URL+"/messages/?"+url.Values{"session_id": {sid}}.Encode(),
		"application/json", strings.NewReader(initBody))
	require.NoError(t, err)
	require.Equal(t, http.StatusAccepted, postResp.StatusCode)
	postResp.Body.Close()

	// drain the blank separator line left after the data line above
	_, _ = reader.ReadString('\n')

	eventLine, err := reader.ReadString('\n')
	require.NoError(t, err)
	require.Equal(t, "event: message\n", eventLine)

	cancel()

	require.Eventually(t, func() bool {
		return ledger.LiveCount(endpointID) == 0
	}, time.Second, 10*time.Millisecond)
}

func TestSSE_MalformedFramePublishesParseError(t *testing.T) {
	transport, _, _, endpointID := newTestTransport(t, "http://unused.invalid")

	mux := http.NewServeMux()
	mux.HandleFunc("GET /{endpoint_id}/sse", transport.HandleStream)
	mux.HandleFunc("POST /messages/", transport.HandleMessage)
	gwSrv := httptest.NewServer(mux)
	defer gwSrv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, gwSrv.URL+"/"+endpointID+"/sse", nil)
	require.NoError(t, err)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	reader := bufio.NewReader(resp.Body)
	_, err = reader.ReadString('\n') // "event: endpoint"
	require.NoError(t, err)

	dataLine, err := reader.ReadString('\n')
	require.NoError(t, err)
	sid := strings.TrimSpace(strings.TrimPrefix(dataLine, "data: /messages/?session_id="))
	require.NotEmpty(t, sid)

	postResp, err := http.Post(gwSrv.URL+"/messages/?"+url.Values{"session_id": {sid}}.Encode(),
		"application/json", strings.NewReader("{not valid json"))
	require.NoError(t, err)
	require.Equal(t, http.StatusAccepted, postResp.StatusCode)
	postResp.Body.Close()

	_, _ = reader.ReadString('\n') // blank separator after the endpoint data line

	eventLine, err := reader.ReadString('\n')
	require.NoError(t, err)
	require.Equal(t, "event: message\n", eventLine)

	dataPrefixed, err := reader.ReadString('\n')
	require.NoError(t, err)
	payload := strings.TrimSpace(strings.TrimPrefix(dataPrefixed, "data: "))

	var frame map[string]any
	require.NoError(t, json.Unmarshal([]byte(payload), &frame))
	errBody, _ := frame["error"].(map[string]any)
	require.NotNil(t, errBody)
	require.Equal(t, float64(mcpcore.CodeParseError), errBody["code"])
}
