// Package compiler turns a Swagger/OpenAPI 3.x document into the gateway's
// deterministic tool catalog: base URL, tool_name generation, and the
// input/output JSON Schemas each tool exposes to MCP clients.
package compiler

// HTTP methods accepted by the compiler, matching spec.md's Tool.http_method
// enumeration. Declared the way mcolomerc-confluent-openapi-mcp's
// internal/tools/types.go enumerates the same small set of verbs.
const (
	MethodGet    = "GET"
	MethodPost   = "POST"
	MethodPut    = "PUT"
	MethodDelete = "DELETE"
	MethodPatch  = "PATCH"
)

// acceptedMethods lists the verbs considered by the compiler, in the
// spec-lowercase form that appears directly inside the paths object.
var acceptedMethods = []string{"get", "post", "put", "delete", "patch"}

// JSON Schema parameter groups a tool's input_schema partitions arguments
// into, per spec.md §3/§4.1.
const (
	GroupPath   = "path"
	GroupQuery  = "query"
	GroupHeader = "header"
	GroupBody   = "body"
)

// Tool is one operation derived from a Swagger document.
type Tool struct {
	Name         string         `json:"tool_name"`
	Title        string         `json:"title"`
	Description  string         `json:"description"`
	HTTPMethod   string         `json:"http_method"`
	PathTemplate string         `json:"path_template"`
	InputSchema  map[string]any `json:"input_schema"`
	OutputSchema map[string]any `json:"output_schema,omitempty"`
}

// apiPath is the uniqueness key spec.md §3 calls ApiPath: (path, method)
// scoped to one endpoint. The endpoint_id half of the key lives in the
// store package, which is the thing that actually enforces cross-endpoint
// uniqueness.
type apiPath struct {
	Path   string
	Method string
}

// CompiledSpec is the output of a successful compile: the base URL the
// dispatcher will target, the ordered tool catalog, and the normalized
// document retained verbatim as spec_document.
type CompiledSpec struct {
	BaseURL  string
	Tools    []Tool
	Document map[string]any
}

// apiPaths returns the (path, method) pairs this compiled spec occupies,
// in catalog order.
func (c *CompiledSpec) apiPaths() []apiPath {
	paths := make([]apiPath, 0, len(c.Tools))
	for _, t := range c.Tools {
		paths = append(paths, apiPath{Path: t.PathTemplate, Method: t.HTTPMethod})
	}
	return paths
}
