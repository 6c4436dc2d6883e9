package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
)

// stubToolClient is an in-memory ToolClient for adapter and registry tests.
type stubToolClient struct {
	name    string
	schemas []ToolSchema

	mu          sync.Mutex
	alive       bool
	listCalls   int
	callCount   int
	lastTool    string
	lastArgs    map[string]any
	callResult  *ToolResult
	callErr     error
	invalidated int
}

func newStubToolClient(name string, schemas ...ToolSchema) *stubToolClient {
	return &stubToolClient{
		name:       name,
		schemas:    schemas,
		alive:      true,
		callResult: &ToolResult{Blocks: []string{"stub result"}},
	}
}

func (s *stubToolClient) Name() string { return s.name }

func (s *stubToolClient) IsAlive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.alive
}

func (s *stubToolClient) setAlive(alive bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.alive = alive
}

func (s *stubToolClient) ListTools(ctx context.Context) ([]ToolSchema, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.alive {
		return nil, fmt.Errorf("%w: %s", ErrNotRunning, s.name)
	}
	s.listCalls++
	return append([]ToolSchema(nil), s.schemas...), nil
}

func (s *stubToolClient) InvalidateTools() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.invalidated++
}

func (s *stubToolClient) CallTool(ctx context.Context, name string, args map[string]any) (*ToolResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.callCount++
	s.lastTool = name
	s.lastArgs = args
	return s.callResult, s.callErr
}

func textSchema(name, description string) ToolSchema {
	return ToolSchema{
		Name:        name,
		Description: description,
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {"text": {"type": "string"}},
			"required": ["text"]
		}`),
	}
}

func TestToolAdapterInvoke(t *testing.T) {
	client := newStubToolClient("files")
	adapter, err := NewToolAdapter("files", textSchema("read", "Read a file"), client)
	if err != nil {
		t.Fatalf("build adapter: %v", err)
	}

	out, err := adapter.Invoke(context.Background(), map[string]any{"text": "path"})
	if err != nil {
		t.Fatalf("invoke failed: %v", err)
	}
	if out != "stub result" {
		t.Errorf("output = %q, want %q", out, "stub result")
	}
	if client.lastTool != "read" {
		t.Errorf("called tool %q, want read", client.lastTool)
	}
	if len(client.lastArgs) != 1 || client.lastArgs["text"] != "path" {
		t.Errorf("wire args = %v, want exactly the validated arguments", client.lastArgs)
	}
}

func TestToolAdapterValidationFailsFast(t *testing.T) {
	client := newStubToolClient("files")
	adapter, err := NewToolAdapter("files", textSchema("read", ""), client)
	if err != nil {
		t.Fatalf("build adapter: %v", err)
	}

	_, err = adapter.Invoke(context.Background(), map[string]any{})
	var valErr *ValidationError
	if !errors.As(err, &valErr) {
		t.Fatalf("got %v, want *ValidationError", err)
	}
	if client.callCount != 0 {
		t.Error("invalid arguments must never reach the transport")
	}
}

func TestToolAdapterDeadClient(t *testing.T) {
	client := newStubToolClient("files")
	adapter, err := NewToolAdapter("files", textSchema("read", ""), client)
	if err != nil {
		t.Fatalf("build adapter: %v", err)
	}
	client.setAlive(false)

	_, err = adapter.Invoke(context.Background(), map[string]any{"text": "x"})
	if !errors.Is(err, ErrNotRunning) {
		t.Fatalf("got %v, want ErrNotRunning", err)
	}
	if client.callCount != 0 {
		t.Error("dead client must not be called")
	}
	if adapter.Available() {
		t.Error("adapter should report unavailable")
	}
}

func TestToolAdapterInvokeUsesRemoteName(t *testing.T) {
	client := newStubToolClient("files")
	adapter, err := NewToolAdapter("files", textSchema("read", ""), client)
	if err != nil {
		t.Fatalf("build adapter: %v", err)
	}
	adapter.rename("files_read")

	if _, err := adapter.Invoke(context.Background(), map[string]any{"text": "x"}); err != nil {
		t.Fatalf("invoke failed: %v", err)
	}
	if adapter.Name() != "files_read" {
		t.Errorf("registry name = %q, want files_read", adapter.Name())
	}
	if client.lastTool != "read" {
		t.Errorf("wire name = %q, want the original remote name", client.lastTool)
	}
}

func TestToolCollectionLoadCaches(t *testing.T) {
	client := newStubToolClient("files", textSchema("read", ""), textSchema("write", ""))
	collection := NewToolCollection("files", client)

	first, err := collection.Load(context.Background())
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if len(first) != 2 {
		t.Fatalf("loaded %d adapters, want 2", len(first))
	}

	if _, err := collection.Load(context.Background()); err != nil {
		t.Fatalf("second load failed: %v", err)
	}
	if client.listCalls != 1 {
		t.Errorf("list calls = %d, want 1 (cached)", client.listCalls)
	}
}

func TestToolCollectionSkipsInvalidSchema(t *testing.T) {
	bad := ToolSchema{Name: "broken", InputSchema: json.RawMessage(`{"properties": 3}`)}
	client := newStubToolClient("files", textSchema("read", ""), bad)
	collection := NewToolCollection("files", client)

	adapters, err := collection.Load(context.Background())
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if len(adapters) != 1 || adapters[0].Name() != "read" {
		t.Fatalf("expected only the valid tool, got %+v", adapters)
	}
}

func TestToolCollectionReload(t *testing.T) {
	client := newStubToolClient("files", textSchema("read", ""))
	collection := NewToolCollection("files", client)

	if _, err := collection.Load(context.Background()); err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if _, err := collection.Reload(context.Background()); err != nil {
		t.Fatalf("reload failed: %v", err)
	}
	if client.invalidated != 1 {
		t.Errorf("invalidate calls = %d, want 1", client.invalidated)
	}
	if client.listCalls != 2 {
		t.Errorf("list calls = %d, want 2", client.listCalls)
	}
}
