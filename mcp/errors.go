package mcp

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Sentinel errors for the transport and registry layers.
var (
	// ErrNotRunning indicates the server process is not running or its pipes
	// are closed.
	ErrNotRunning = errors.New("mcp: server process is not running")

	// ErrNoResponse indicates the server closed its output before answering a
	// request. The client is marked dead when this happens.
	ErrNoResponse = errors.New("mcp: no response from server")

	// ErrMalformedResponse indicates a response line that is not valid JSON,
	// carries neither result nor error, or answers the wrong request id.
	ErrMalformedResponse = errors.New("mcp: malformed response")

	// ErrUnknownServer indicates an operation referenced a server name that
	// was never registered.
	ErrUnknownServer = errors.New("mcp: unknown server")

	// ErrHandshakeTimeout indicates the initialize exchange did not complete
	// within the configured per-attempt timeout.
	ErrHandshakeTimeout = errors.New("mcp: handshake timed out")
)

// ProviderError is an error object carried in a JSON-RPC response. The
// server's code and message are propagated intact.
type ProviderError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("mcp: server error %d: %s", e.Code, e.Message)
}

// ValidationError reports a field-level argument failure detected before any
// process interaction.
type ValidationError struct {
	Tool    string
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("mcp: invalid arguments for tool %q: field %q %s", e.Tool, e.Field, e.Message)
}
