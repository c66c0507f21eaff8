package compiler

import "fmt"

// ValidationError reports a structural problem with an incoming Swagger
// document, naming the exact field path so the admin caller can fix the
// request. Mirrors the error-wrapping style of kagenti-mcp-gateway's
// internal/broker package: a small typed error, never a bare string.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("field %q: %s", e.Field, e.Reason)
}

// NameCollisionError reports two operations in the same document deriving
// the same tool_name.
type NameCollisionError struct {
	ToolName string
	FirstOp  string
	SecondOp string
}

func (e *NameCollisionError) Error() string {
	return fmt.Sprintf("tool name %q collides between %s and %s", e.ToolName, e.FirstOp, e.SecondOp)
}

// PathConflictError is the conflict-rejecting compile's failure mode, per
// spec.md §4.1: "API path 'P' with method 'M' already exists". The message
// text is load-bearing: scenario 2 in spec.md §8 asserts on it verbatim.
type PathConflictError struct {
	Path   string
	Method string
}

func (e *PathConflictError) Error() string {
	return fmt.Sprintf("API path '%s' with method '%s' already exists", e.Path, e.Method)
}
