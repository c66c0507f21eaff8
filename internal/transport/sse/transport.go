// Package sse implements the SseTransport of spec.md §4.5: a GET stream
// that opens an event channel per session and a POST endpoint that
// delivers one MCP JSON-RPC frame at a time, with the eventual response
// published back over the session's stream.
//
// Grounded on the SSE framing and per-client channel pattern used by
// gomcp's transport/sse package: header flush, "event: endpoint" /
// "event: message" frames, http.Flusher after every write.
package sse

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/swagger-mcp/gateway/internal/ids"
	"github.com/swagger-mcp/gateway/internal/mcpcore"
	"github.com/swagger-mcp/gateway/internal/session"
	"github.com/swagger-mcp/gateway/internal/store"
	"github.com/swagger-mcp/gateway/internal/transport/wire"
)

// keepaliveInterval bounds how long an idle SSE stream goes without a
// comment frame, so intermediate proxies don't time the connection out.
const keepaliveInterval = 20 * time.Second

const publishTimeout = 5 * time.Second

// Transport serves the SSE wire protocol for every endpoint at once; it
// holds no per-endpoint state beyond the live client channel map.
type Transport struct {
	store  *store.Store
	core   *mcpcore.Core
	ledger *session.Ledger
	logger *slog.Logger

	clientsMu sync.Mutex
	clients   map[string]chan []byte

	dispatchLocksMu sync.Mutex
	dispatchLocks   map[string]*sync.Mutex
}

func New(st *store.Store, core *mcpcore.Core, ledger *session.Ledger, logger *slog.Logger) *Transport {
	if logger == nil {
		logger = slog.Default()
	}
	return &Transport{
		store:         st,
		core:          core,
		ledger:        ledger,
		logger:        logger,
		clients:       make(map[string]chan []byte),
		dispatchLocks: make(map[string]*sync.Mutex),
	}
}

// dispatchLock returns the per-session mutex that serializes
// dispatchAndPublish calls, so two frames posted for the same session are
// always replied to in the order they were posted, per spec.md §5.
// Mirrors the per-key lock shape session.Ledger and store.Store already use.
func (t *Transport) dispatchLock(sid string) *sync.Mutex {
	t.dispatchLocksMu.Lock()
	defer t.dispatchLocksMu.Unlock()
	m, ok := t.dispatchLocks[sid]
	if !ok {
		m = &sync.Mutex{}
		t.dispatchLocks[sid] = m
	}
	return m
}

// HandleStream serves GET /{endpoint_id}/sse.
func (t *Transport) HandleStream(w http.ResponseWriter, r *http.Request) {
	endpointID := r.PathValue("endpoint_id")
	ep, err := t.store.Get(endpointID)
	if err != nil || ep.Status != store.StatusRunning {
		http.Error(w, "endpoint not available", http.StatusNotFound)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	sid := ids.NewSessionID()
	ch := make(chan []byte, 32)
	t.registerClient(sid, ch)
	defer t.unregisterClient(sid)

	ctx := r.Context()
	if err := t.ledger.OnConnect(ctx, endpointID, sid, session.TransportSSE); err != nil {
		t.logger.Error("sse connect failed", "endpoint_id", endpointID, "session_id", sid, "error", err)
		http.Error(w, "failed to open session", http.StatusInternalServerError)
		return
	}
	defer func() {
		if err := t.ledger.OnDisconnect(context.Background(), endpointID, sid); err != nil {
			t.logger.Warn("sse disconnect failed", "endpoint_id", endpointID, "session_id", sid, "error", err)
		}
		t.core.ForgetSession(sid)
	}()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	fmt.Fprintf(w, "event: endpoint\ndata: /messages/?session_id=%s\n\n", sid)
	flusher.Flush()

	keepalive := time.NewTicker(keepaliveInterval)
	defer keepalive.Stop()

	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				return
			}
			fmt.Fprintf(w, "event: message\ndata: %s\n\n", msg)
			flusher.Flush()
		case <-keepalive.C:
			fmt.Fprint(w, ": keepalive\n\n")
			flusher.Flush()
		case <-ctx.Done():
			return
		}
	}
}

// HandleMessage serves POST /messages/?session_id=<sid>.
func (t *Transport) HandleMessage(w http.ResponseWriter, r *http.Request) {
	t.handleMessage(w, r, "session_id")
}

// HandleLegacyMessage serves the reference-inspector-compatible alias
// POST /message?sessionId=<sid>.
func (t *Transport) HandleLegacyMessage(w http.ResponseWriter, r *http.Request) {
	t.handleMessage(w, r, "sessionId")
}

func (t *Transport) handleMessage(w http.ResponseWriter, r *http.Request, sidParam string) {
	sid := r.URL.Query().Get(sidParam)
	if sid == "" {
		http.Error(w, "missing session id", http.StatusBadRequest)
		return
	}

	ch, ok := t.lookupClient(sid)
	if !ok {
		http.Error(w, "session not found", http.StatusNotFound)
		return
	}

	endpointID, ok := t.ledger.ResolveEndpoint(sid)
	if !ok {
		http.Error(w, "session not found", http.StatusNotFound)
		return
	}

	var frame wire.Request
	if err := json.NewDecoder(r.Body).Decode(&frame); err != nil {
		// A frame that never decodes carries no id and no method for
		// Dispatch to route on; report -32700 over the stream instead of a
		// bare HTTP 400, per spec.md §4.7.
		rpcErr := mcpcore.NewParseError("malformed JSON-RPC frame: " + err.Error())
		t.publishError(sid, nil, rpcErr, ch)
		w.WriteHeader(http.StatusAccepted)
		return
	}

	w.WriteHeader(http.StatusAccepted)

	lock := t.dispatchLock(sid)
	lock.Lock()
	go t.dispatchAndPublish(endpointID, sid, frame, ch, lock)
}

func (t *Transport) publishError(sid string, id any, rpcErr *mcpcore.RPCError, ch chan []byte) {
	encoded, err := json.Marshal(wire.NewError(id, rpcErr.Code, rpcErr.Message))
	if err != nil {
		t.logger.Error("failed to encode sse parse-error frame", "session_id", sid, "error", err)
		return
	}
	select {
	case ch <- encoded:
	case <-time.After(publishTimeout):
		t.logger.Warn("dropping sse parse-error frame: publish timed out", "session_id", sid)
	}
}

// dispatchAndPublish runs with lock already held by handleMessage, which
// takes it before spawning this goroutine, and releases it when done.
func (t *Transport) dispatchAndPublish(endpointID, sid string, frame wire.Request, ch chan []byte, lock *sync.Mutex) {
	defer lock.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	result, notify, rpcErr, canceled := t.core.Dispatch(ctx, endpointID, sid, frame.Method, frame.Params)
	if canceled || notify {
		return
	}

	var payload any
	if rpcErr != nil {
		payload = wire.NewError(frame.ID, rpcErr.Code, rpcErr.Message)
	} else {
		payload = wire.NewResponse(frame.ID, result)
	}

	encoded, err := json.Marshal(payload)
	if err != nil {
		t.logger.Error("failed to encode sse response frame", "session_id", sid, "error", err)
		return
	}

	select {
	case ch <- encoded:
	case <-time.After(publishTimeout):
		t.logger.Warn("dropping sse response: publish timed out", "session_id", sid)
	}
}

func (t *Transport) registerClient(sid string, ch chan []byte) {
	t.clientsMu.Lock()
	t.clients[sid] = ch
	t.clientsMu.Unlock()
}

func (t *Transport) unregisterClient(sid string) {
	t.clientsMu.Lock()
	if ch, ok := t.clients[sid]; ok {
		delete(t.clients, sid)
		close(ch)
	}
	t.clientsMu.Unlock()
}

func (t *Transport) lookupClient(sid string) (chan []byte, bool) {
	t.clientsMu.Lock()
	defer t.clientsMu.Unlock()
	ch, ok := t.clients[sid]
	return ch, ok
}
