package admin

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/swagger-mcp/gateway/internal/session"
	"github.com/swagger-mcp/gateway/internal/store"
)

// endpointStatus reports one endpoint's serving state: its tool catalog
// size and its current live-session count, the two figures SPEC_FULL.md's
// status/validation endpoint promises alongside the admin CRUD surface.
type endpointStatus struct {
	ID        string       `json:"id"`
	Name      string       `json:"name"`
	Status    store.Status `json:"status"`
	ToolCount int          `json:"tool_count"`
	LiveCount int64        `json:"live_count"`
}

// statusResponse mirrors the teacher's all-servers StatusResponse shape,
// adapted from upstream-MCP connection health to this gateway's
// tool-catalog and live-session figures.
type statusResponse struct {
	Endpoints      []endpointStatus `json:"endpoints"`
	TotalEndpoints int              `json:"total_endpoints"`
	RunningCount   int              `json:"running_count"`
	Timestamp      time.Time        `json:"timestamp"`
}

// StatusHandler serves GET /api/status and /api/status/{name}, reporting
// per-endpoint tool counts and live session counts. Grounded on
// kagenti-mcp-gateway's internal/broker/status.go StatusHandler: same
// ServeHTTP method-switch, same "/status" path-suffix convention for
// picking out a single server by name, same sendJSONResponse/
// sendErrorResponse helper split.
type StatusHandler struct {
	store  *store.Store
	ledger *session.Ledger
	logger *slog.Logger
}

func NewStatusHandler(st *store.Store, ledger *session.Ledger, logger *slog.Logger) *StatusHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &StatusHandler{store: st, ledger: ledger, logger: logger}
}

// ServeHTTP implements http.Handler.
func (h *StatusHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	switch r.Method {
	case http.MethodGet:
		h.handleGetStatus(w, r)
	default:
		h.sendErrorResponse(w, http.StatusMethodNotAllowed, "method not allowed, supported methods: GET")
	}
}

func (h *StatusHandler) handleGetStatus(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/status")
	name := strings.TrimPrefix(path, "/")
	if name != "" {
		h.handleSingleEndpointByName(w, name)
		return
	}

	endpoints := h.store.ListAll()
	response := statusResponse{
		Endpoints:      make([]endpointStatus, 0, len(endpoints)),
		TotalEndpoints: len(endpoints),
		Timestamp:      time.Now(),
	}
	for _, ep := range endpoints {
		if ep.Status == store.StatusRunning {
			response.RunningCount++
		}
		response.Endpoints = append(response.Endpoints, toEndpointStatus(ep, h.ledger))
	}
	h.sendJSONResponse(w, http.StatusOK, response)
}

func (h *StatusHandler) handleSingleEndpointByName(w http.ResponseWriter, name string) {
	for _, ep := range h.store.ListAll() {
		if ep.Name == name {
			h.sendJSONResponse(w, http.StatusOK, toEndpointStatus(ep, h.ledger))
			return
		}
	}
	h.sendErrorResponse(w, http.StatusNotFound,
		fmt.Sprintf("endpoint %q not found, check available endpoints at /api/status", name))
}

func toEndpointStatus(ep *store.Endpoint, ledger *session.Ledger) endpointStatus {
	return endpointStatus{
		ID:        ep.ID,
		Name:      ep.Name,
		Status:    ep.Status,
		ToolCount: len(ep.Catalog),
		LiveCount: ledger.LiveCount(ep.ID),
	}
}

func (h *StatusHandler) sendJSONResponse(w http.ResponseWriter, statusCode int, data any) {
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode status response", "error", err)
	}
}

func (h *StatusHandler) sendErrorResponse(w http.ResponseWriter, statusCode int, message string) {
	h.sendJSONResponse(w, statusCode, map[string]string{"error": message})
}
