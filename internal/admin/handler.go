// Package admin implements the admin HTTP CRUD surface of spec.md §6: the
// collaborator that manages endpoint lifecycle (create/merge, list, get,
// update, soft-delete) against the EndpointStore.
//
// Handler style (bearer-token auth check, http.Error for failures, a
// trailing JSON envelope on success) is grounded on
// kagenti-mcp-gateway's internal/broker/config_handler.go, which also
// supplies the request-body convention: bodies are parsed with
// sigs.k8s.io/yaml, which accepts either JSON or YAML (JSON is valid YAML),
// so callers can submit a swagger_content payload either way.
package admin

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"sigs.k8s.io/yaml"

	"github.com/swagger-mcp/gateway/internal/store"
)

// Handler serves every /api/endpoint* route.
type Handler struct {
	store     *store.Store
	authToken string
	logger    *slog.Logger
}

func New(st *store.Store, authToken string, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{store: st, authToken: authToken, logger: logger}
}

func (h *Handler) authorize(w http.ResponseWriter, r *http.Request) bool {
	if h.authToken == "" {
		return true
	}
	if r.Header.Get("Authorization") == "Bearer "+h.authToken {
		return true
	}
	http.Error(w, "unauthorized", http.StatusUnauthorized)
	return false
}

type createRequest struct {
	Name           string `json:"name"`
	Description    string `json:"description"`
	SwaggerContent string `json:"swagger_content"`
}

// Create serves POST /api/endpoint.
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	if !h.authorize(w, r) {
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "failed to read request", http.StatusBadRequest)
		return
	}
	var req createRequest
	if err := yaml.Unmarshal(body, &req); err != nil {
		http.Error(w, "invalid JSON/YAML body", http.StatusBadRequest)
		return
	}
	if req.Name == "" || req.SwaggerContent == "" {
		http.Error(w, "name and swagger_content are required", http.StatusBadRequest)
		return
	}

	ep, err := h.store.Create(req.Name, req.Description, []byte(req.SwaggerContent))
	if err != nil {
		h.writeCompileError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, endpointSummary(ep))
}

// List serves GET /api/endpoints?page&page_size&search&status.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	if !h.authorize(w, r) {
		return
	}

	q := r.URL.Query()
	page := parseIntDefault(q.Get("page"), 1)
	pageSize := parseIntDefault(q.Get("page_size"), 20)
	search := q.Get("search")
	status := store.Status(q.Get("status"))

	result := h.store.List(page, pageSize, search, status)

	records := make([]map[string]any, 0, len(result.Records))
	for _, ep := range result.Records {
		records = append(records, endpointSummary(ep))
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"records":     records,
		"page":        result.PageNum,
		"page_size":   result.PageSize,
		"total":       result.Total,
		"total_pages": result.TotalPages,
	})
}

// Get serves GET /api/endpoint/{id}.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	if !h.authorize(w, r) {
		return
	}

	ep, err := h.store.Get(r.PathValue("id"))
	if err != nil {
		h.writeNotFoundOrError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"id":           ep.ID,
		"name":         ep.Name,
		"description":  ep.Description,
		"base_url":     ep.BaseURL,
		"status":       ep.Status,
		"swagger_spec": ep.SpecDoc,
		"api_details":  ep.Catalog,
		"created_at":   ep.CreatedAt,
		"updated_at":   ep.UpdatedAt,
	})
}

type updateRequest struct {
	Name           *string `json:"name"`
	Description    *string `json:"description"`
	SwaggerContent *string `json:"swagger_content"`
}

// Update serves PUT /api/endpoint/{id}.
func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
	if !h.authorize(w, r) {
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "failed to read request", http.StatusBadRequest)
		return
	}
	var req updateRequest
	if err := yaml.Unmarshal(body, &req); err != nil {
		http.Error(w, "invalid JSON/YAML body", http.StatusBadRequest)
		return
	}

	fields := store.UpdateFields{Name: req.Name, Description: req.Description}
	if req.SwaggerContent != nil {
		fields.SpecContent = []byte(*req.SwaggerContent)
	}

	ep, err := h.store.Update(r.PathValue("id"), fields)
	if err != nil {
		h.writeNotFoundOrError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, endpointSummary(ep))
}

// Delete serves DELETE /api/endpoint/{id}.
func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	if !h.authorize(w, r) {
		return
	}

	if err := h.store.Delete(r.PathValue("id")); err != nil {
		h.writeNotFoundOrError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) writeCompileError(w http.ResponseWriter, err error) {
	h.logger.Warn("endpoint create/merge rejected", "error", err)
	writeJSON(w, http.StatusBadRequest, map[string]any{"error": err.Error()})
}

func (h *Handler) writeNotFoundOrError(w http.ResponseWriter, err error) {
	var nf *store.NotFoundError
	if errors.As(err, &nf) {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	h.logger.Warn("endpoint operation rejected", "error", err)
	writeJSON(w, http.StatusBadRequest, map[string]any{"error": err.Error()})
}

func endpointSummary(ep *store.Endpoint) map[string]any {
	return map[string]any{
		"id":          ep.ID,
		"name":        ep.Name,
		"description": ep.Description,
		"base_url":    ep.BaseURL,
		"status":      ep.Status,
		"tool_count":  len(ep.Catalog),
		"created_at":  ep.CreatedAt,
		"updated_at":  ep.UpdatedAt,
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func parseIntDefault(raw string, def int) int {
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v <= 0 {
		return def
	}
	return v
}
