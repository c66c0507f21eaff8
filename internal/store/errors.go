package store

import "fmt"

// NotFoundError reports an operation against an endpoint id that doesn't
// exist or has been deleted where deleted records are not eligible.
type NotFoundError struct {
	ID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("endpoint %q not found", e.ID)
}

// ImmutableFieldError reports an attempt to edit a field spec.md §4.2 marks
// read-only for clients, such as base_url.
type ImmutableFieldError struct {
	Field string
}

func (e *ImmutableFieldError) Error() string {
	return fmt.Sprintf("field %q is immutable after compile", e.Field)
}
