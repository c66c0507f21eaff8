// Package store implements the EndpointStore: the authoritative record of
// endpoints and their compiled tool catalogs, with name and (path, method)
// uniqueness enforcement, per spec.md §4.2.
package store

import (
	"time"

	"github.com/swagger-mcp/gateway/internal/compiler"
)

// Status is an endpoint's lifecycle state.
type Status string

const (
	StatusRunning Status = "running"
	StatusStopped Status = "stopped"
	StatusDeleted Status = "deleted"
)

// Endpoint is one registered API, compiled into an MCP tool catalog.
type Endpoint struct {
	ID          string
	Name        string
	Description string
	BaseURL     string
	SpecDoc     map[string]any
	Catalog     []compiler.Tool
	Status      Status
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Page is one page of a List call's results.
type Page struct {
	Records    []*Endpoint
	PageNum    int
	PageSize   int
	Total      int
	TotalPages int
}
