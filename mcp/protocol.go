package mcp

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ProtocolVersion is the MCP protocol revision sent during the handshake.
const ProtocolVersion = "2024-11-05"

// request is a single JSON-RPC 2.0 request, framed as one line on the wire.
type request struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int64  `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

// response is a single JSON-RPC 2.0 response line. Exactly one of Result and
// Error must be present.
type response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int64           `json:"id"`
	Result  json.RawMessage `json:"result"`
	Error   *ProviderError  `json:"error"`
}

// ClientInfo is the client identity advertised to the server during initialize.
type ClientInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// ServerInfo describes the server identity returned by initialize.
type ServerInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// InitializeResult captures the server response to the initialize handshake.
type InitializeResult struct {
	ProtocolVersion string         `json:"protocolVersion"`
	Capabilities    map[string]any `json:"capabilities"`
	ServerInfo      ServerInfo     `json:"serverInfo"`
}

// ToolSchema is a tool declaration as returned by tools/list. InputSchema is
// kept raw; CompileSchema turns it into a validator.
type ToolSchema struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"inputSchema"`
}

type listToolsResult struct {
	Tools []ToolSchema `json:"tools"`
}

// ToolResult is the normalized outcome of a tools/call. The provider may send
// a single text block, a list of heterogeneous blocks, or a bare value; all of
// them collapse into Blocks immediately after deserialization so callers never
// inspect raw payloads.
type ToolResult struct {
	Blocks []string
}

// Text joins all content blocks with newlines.
func (r *ToolResult) Text() string {
	if r == nil {
		return ""
	}
	return strings.TrimSpace(strings.Join(r.Blocks, "\n"))
}

type contentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// normalizeToolResult converts a raw tools/call result into a ToolResult.
func normalizeToolResult(raw json.RawMessage) (*ToolResult, error) {
	var envelope struct {
		Content json.RawMessage `json:"content"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	if len(envelope.Content) == 0 {
		return &ToolResult{}, nil
	}
	return normalizeContent(envelope.Content)
}

func normalizeContent(raw json.RawMessage) (*ToolResult, error) {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" || trimmed == "null" {
		return &ToolResult{}, nil
	}

	switch trimmed[0] {
	case '[':
		var blocks []json.RawMessage
		if err := json.Unmarshal(raw, &blocks); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
		}
		result := &ToolResult{Blocks: make([]string, 0, len(blocks))}
		for _, b := range blocks {
			result.Blocks = append(result.Blocks, blockText(b))
		}
		return result, nil
	case '{':
		return &ToolResult{Blocks: []string{blockText(raw)}}, nil
	default:
		// Bare JSON value: string, number or boolean.
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			return &ToolResult{Blocks: []string{s}}, nil
		}
		return &ToolResult{Blocks: []string{trimmed}}, nil
	}
}

// blockText extracts the text of one content block, falling back to the raw
// JSON for block types we do not understand.
func blockText(raw json.RawMessage) string {
	var block contentBlock
	if err := json.Unmarshal(raw, &block); err == nil && block.Text != "" {
		return block.Text
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}
