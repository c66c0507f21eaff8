// Package streamable implements the StreamableTransport of spec.md §4.6:
// POST/GET/DELETE /stream/{endpoint_id} keyed by the mcp-session-id header,
// with POST either replying as a single application/json object or
// upgrading to application/x-ndjson progress+terminal framing for
// longer-running calls.
//
// NDJSON framing and the progress/terminal frame split are grounded on
// kagenti-mcp-gateway's own streamable-HTTP wire conventions as described
// in its tests/e2e fixtures; the per-session channel registry reuses the
// sse package's pattern (itself grounded on gomcp's transport/sse).
package streamable

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"

	"github.com/swagger-mcp/gateway/internal/ids"
	"github.com/swagger-mcp/gateway/internal/mcpcore"
	"github.com/swagger-mcp/gateway/internal/session"
	"github.com/swagger-mcp/gateway/internal/store"
	"github.com/swagger-mcp/gateway/internal/transport/wire"
)

const sessionHeader = "mcp-session-id"

// Transport serves the streamable-HTTP wire protocol for every endpoint.
type Transport struct {
	store  *store.Store
	core   *mcpcore.Core
	ledger *session.Ledger
	logger *slog.Logger

	pushesMu sync.Mutex
	pushes   map[string]chan []byte

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
		pushes:        make(map[string]chan []byte),
		dispatchLocks: make(map[string]*sync.Mutex),
	}
}

// dispatchLock returns the per-session mutex that serializes a session's
// dispatch-and-reply calls, so two POSTs for the same session are answered
// in the order they arrived even if the first hits a slow upstream call and
// the second a fast one, per spec.md §5. Mirrors the per-key lock shape
// session.Ledger and store.Store already use.
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

// progressFrame carries result.type="progress" per spec.md §4.6.
type progressFrame struct {
	JSONRPC string `json:"jsonrpc"`
	ID      any    `json:"id"`
	Result  struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"result"`
}

// HandlePost serves POST /stream/{endpoint_id}.
func (t *Transport) HandlePost(w http.ResponseWriter, r *http.Request) {
	endpointID := r.PathValue("endpoint_id")
	ep, err := t.store.Get(endpointID)
	if err != nil || ep.Status != store.StatusRunning {
		http.Error(w, "endpoint not available", http.StatusNotFound)
		return
	}

	var frame wire.Request
	if err := json.NewDecoder(r.Body).Decode(&frame); err != nil {
		// A frame that never decodes carries no id and no method for
		// Dispatch to route on; report -32700 in the JSON-RPC envelope
		// instead of a bare HTTP 400, per spec.md §4.7.
		rpcErr := mcpcore.NewParseError("malformed JSON-RPC frame: " + err.Error())
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(wire.NewError(nil, rpcErr.Code, rpcErr.Message))
		return
	}

	sid := r.Header.Get(sessionHeader)
	isNewSession := sid == ""
	if isNewSession {
		sid = ids.NewSessionID()
		if err := t.ledger.OnConnect(r.Context(), endpointID, sid, session.TransportStreamable); err != nil {
			t.logger.Error("streamable connect failed", "endpoint_id", endpointID, "session_id", sid, "error", err)
			http.Error(w, "failed to open session", http.StatusInternalServerError)
			return
		}
		w.Header().Set(sessionHeader, sid)
	} else if owner, ok := t.ledger.ResolveEndpoint(sid); !ok || owner != endpointID {
		http.Error(w, "session not found", http.StatusNotFound)
		return
	}

	if frame.Method != mcpcore.MethodToolsCall {
		t.replyJSON(w, endpointID, sid, frame)
		return
	}
	t.replyNDJSON(w, endpointID, sid, frame)
}

func (t *Transport) replyJSON(w http.ResponseWriter, endpointID, sid string, frame wire.Request) {
	lock := t.dispatchLock(sid)
	lock.Lock()
	defer lock.Unlock()

	result, notify, rpcErr, canceled := t.core.Dispatch(context.Background(), endpointID, sid, frame.Method, frame.Params)
	if canceled {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	if notify {
		w.WriteHeader(http.StatusAccepted)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	var payload any
	if rpcErr != nil {
		payload = wire.NewError(frame.ID, rpcErr.Code, rpcErr.Message)
	} else {
		payload = wire.NewResponse(frame.ID, result)
	}
	_ = json.NewEncoder(w).Encode(payload)
}

func (t *Transport) replyNDJSON(w http.ResponseWriter, endpointID, sid string, frame wire.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	lock := t.dispatchLock(sid)
	lock.Lock()
	defer lock.Unlock()

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.WriteHeader(http.StatusOK)

	progress := progressFrame{JSONRPC: "2.0", ID: frame.ID}
	progress.Result.Type = "progress"
	progress.Result.Message = "dispatching upstream call"
	if encoded, err := json.Marshal(progress); err == nil {
		w.Write(append(encoded, '\n'))
		flusher.Flush()
	}

	result, _, rpcErr, canceled := t.core.Dispatch(context.Background(), endpointID, sid, frame.Method, frame.Params)
	if canceled {
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
		t.logger.Error("failed to encode terminal ndjson frame", "session_id", sid, "error", err)
		return
	}
	w.Write(append(encoded, '\n'))
	flusher.Flush()
}

// HandleGet serves GET /stream/{endpoint_id}: a receive channel for
// server-initiated frames pushed to this session outside a POST/reply
// cycle.
func (t *Transport) HandleGet(w http.ResponseWriter, r *http.Request) {
	endpointID := r.PathValue("endpoint_id")
	sid := r.Header.Get(sessionHeader)
	if sid == "" {
		http.Error(w, "missing "+sessionHeader, http.StatusBadRequest)
		return
	}
	if owner, ok := t.ledger.ResolveEndpoint(sid); !ok || owner != endpointID {
		http.Error(w, "session not found", http.StatusNotFound)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	ch := t.registerPush(sid)
	defer t.unregisterPush(sid)

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ctx := r.Context()
	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				return
			}
			w.Write(append(msg, '\n'))
			flusher.Flush()
		case <-ctx.Done():
			// Best-effort: an unexpected drop of the receive channel closes
			// the session too, so a client that vanishes without a DELETE
			// doesn't leak a live_count entry forever.
			if err := t.ledger.OnDisconnect(context.Background(), endpointID, sid); err != nil {
				t.logger.Warn("streamable disconnect on drop failed", "endpoint_id", endpointID, "session_id", sid, "error", err)
			}
			t.core.ForgetSession(sid)
			return
		}
	}
}

// HandleDelete serves DELETE /stream/{endpoint_id}: closes the session.
func (t *Transport) HandleDelete(w http.ResponseWriter, r *http.Request) {
	endpointID := r.PathValue("endpoint_id")
	sid := r.Header.Get(sessionHeader)
	if sid == "" {
		http.Error(w, "missing "+sessionHeader, http.StatusBadRequest)
		return
	}

	if err := t.ledger.OnDisconnect(r.Context(), endpointID, sid); err != nil {
		t.logger.Error("streamable disconnect failed", "endpoint_id", endpointID, "session_id", sid, "error", err)
		http.Error(w, "failed to close session", http.StatusInternalServerError)
		return
	}
	t.core.ForgetSession(sid)
	w.WriteHeader(http.StatusNoContent)
}

func (t *Transport) registerPush(sid string) chan []byte {
	ch := make(chan []byte, 16)
	t.pushesMu.Lock()
	t.pushes[sid] = ch
	t.pushesMu.Unlock()
	return ch
}

func (t *Transport) unregisterPush(sid string) {
	t.pushesMu.Lock()
	if ch, ok := t.pushes[sid]; ok {
		delete(t.pushes, sid)
		close(ch)
	}
	t.pushesMu.Unlock()
}
