// Package ids generates the identifiers used across the gateway: endpoint
// IDs and transport session IDs. Both are 128-bit values, string-encoded.
package ids

import "github.com/google/uuid"

// NewEndpointID returns a fresh globally unique endpoint identifier.
func NewEndpointID() string {
	return uuid.NewString()
}

// NewSessionID returns a fresh session identifier for a transport connection.
func NewSessionID() string {
	return uuid.NewString()
}
