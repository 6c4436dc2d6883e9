package tool

import (
	"context"
	"errors"
	"testing"

	agenterrors "github.com/2606364644/sandbox-agent/errors"
)

func TestToolExecution(t *testing.T) {
	ctx := context.Background()

	tool := &Tool{
		Name:        "test_tool",
		Description: "A test tool",
		Parameters: []Parameter{
			{Name: "input", Type: "string", Description: "Test input", Required: true},
		},
		Handler: func(ctx context.Context, args map[string]interface{}) (string, error) {
			return args["input"].(string) + "_processed", nil
		},
	}

	result, err := tool.Execute(ctx, map[string]interface{}{"input": "test"})
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	if result != "test_processed" {
		t.Errorf("Expected 'test_processed', got '%s'", result)
	}
}

func TestToolValidation(t *testing.T) {
	ctx := context.Background()

	tool := &Tool{
		Name:        "test_tool",
		Description: "A test tool",
		Parameters: []Parameter{
			{Name: "required_param", Type: "string", Description: "Required parameter", Required: true},
		},
		Handler: func(ctx context.Context, args map[string]interface{}) (string, error) {
			return "ok", nil
		},
	}

	// Test with missing required parameter
	_, err := tool.Execute(ctx, map[string]interface{}{})
	if err == nil {
		t.Error("Expected error for missing required parameter, got nil")
	}

	// Test with required parameter
	_, err = tool.Execute(ctx, map[string]interface{}{"required_param": "value"})
	if err != nil {
		t.Errorf("Expected no error, got %v", err)
	}
}

func TestRegistry(t *testing.T) {
	registry := NewRegistry()

	tool1 := &Tool{Name: "tool1", Description: "First tool"}
	tool2 := &Tool{Name: "tool2", Description: "Second tool"}

	// Register tools
	if err := registry.Register(tool1); err != nil {
		t.Fatalf("Failed to register tool1: %v", err)
	}

	if err := registry.Register(tool2); err != nil {
		t.Fatalf("Failed to register tool2: %v", err)
	}

	// Test duplicate registration
	if err := registry.Register(tool1); err == nil {
		t.Error("Expected error for duplicate registration, got nil")
	}

	// Test Get
	retrieved, err := registry.Get("tool1")
	if err != nil {
		t.Fatalf("Failed to get tool1: %v", err)
	}

	if retrieved.Name != "tool1" {
		t.Errorf("Expected tool name 'tool1', got '%s'", retrieved.Name)
	}

	// Test List
	tools := registry.List()
	if len(tools) != 2 {
		t.Errorf("Expected 2 tools, got %d", len(tools))
	}
}

func TestToolDefaults(t *testing.T) {
	tool := &Tool{
		Name: "greet",
		Parameters: []Parameter{
			{Name: "name", Type: "string", Required: true},
			{Name: "greeting", Type: "string", Default: "hello"},
		},
		Handler: func(ctx context.Context, args map[string]interface{}) (string, error) {
			return args["greeting"].(string) + " " + args["name"].(string), nil
		},
	}

	out, err := tool.Execute(context.Background(), map[string]interface{}{"name": "world"})
	if err != nil {
		t.Fatalf("execute failed: %v", err)
	}
	if out != "hello world" {
		t.Errorf("expected default greeting applied, got %q", out)
	}
}

func TestToolDoesNotMutateCallerArgs(t *testing.T) {
	tool := &Tool{
		Name: "noop",
		Parameters: []Parameter{
			{Name: "level", Type: "string", Default: "info"},
		},
		Handler: func(ctx context.Context, args map[string]interface{}) (string, error) {
			return "", nil
		},
	}

	args := map[string]interface{}{}
	if _, err := tool.Execute(context.Background(), args); err != nil {
		t.Fatalf("execute failed: %v", err)
	}
	if _, ok := args["level"]; ok {
		t.Error("caller args were mutated with a default")
	}
}

func TestRegistryRemoveAndHas(t *testing.T) {
	registry := NewRegistry()
	if err := registry.Register(&Tool{Name: "temp"}); err != nil {
		t.Fatalf("register failed: %v", err)
	}
	if !registry.Has("temp") {
		t.Fatal("expected tool to be registered")
	}

	registry.Remove("temp")
	if registry.Has("temp") {
		t.Error("expected tool to be removed")
	}
	registry.Remove("temp") // no-op

	_, err := registry.Get("temp")
	if !errors.Is(err, agenterrors.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}
