package runtime

import (
	"context"
	"strings"
	"testing"

	"github.com/2606364644/sandbox-agent/mcp"
	"github.com/2606364644/sandbox-agent/tool"
)

func newTestTool(name, description, output string) *tool.Tool {
	return &tool.Tool{
		Name:        name,
		Description: description,
		Handler: func(ctx context.Context, args map[string]interface{}) (string, error) {
			return output, nil
		},
	}
}

func newTestUTM(t *testing.T) *UnifiedToolManager {
	t.Helper()
	m := NewUnifiedToolManager(mcp.NewServerManager())
	t.Cleanup(m.Cleanup)
	return m
}

func TestManagerRegisterAndExecute(t *testing.T) {
	m := newTestUTM(t)
	if err := m.RegisterNative("misc", newTestTool("ping", "Ping", "pong")); err != nil {
		t.Fatalf("register failed: %v", err)
	}

	handle, ok := m.Get("ping")
	if !ok {
		t.Fatal("expected handle for ping")
	}
	if handle.Origin() != "native" {
		t.Errorf("origin = %q, want native", handle.Origin())
	}

	out, err := m.Execute(context.Background(), "ping", nil)
	if err != nil {
		t.Fatalf("execute failed: %v", err)
	}
	if out != "pong" {
		t.Errorf("output = %q, want pong", out)
	}
}

func TestManagerUnknownTool(t *testing.T) {
	m := newTestUTM(t)
	if _, err := m.Execute(context.Background(), "ghost", nil); err == nil {
		t.Fatal("expected error for unknown tool")
	}
	if _, ok := m.Get("ghost"); ok {
		t.Fatal("expected no handle for unknown tool")
	}
}

func TestManagerCategories(t *testing.T) {
	m := newTestUTM(t)
	err := m.RegisterCategory("file", []*tool.Tool{
		newTestTool("read", "", ""),
		newTestTool("write", "", ""),
	})
	if err != nil {
		t.Fatalf("register category failed: %v", err)
	}
	if err := m.RegisterNative("web", newTestTool("fetch", "", "")); err != nil {
		t.Fatalf("register failed: %v", err)
	}

	categories := m.Categories()
	if len(categories) != 2 || categories[0] != "file" || categories[1] != "web" {
		t.Errorf("categories = %v", categories)
	}
	if got := m.CategoryTools("file"); len(got) != 2 || got[0] != "read" {
		t.Errorf("file tools = %v", got)
	}

	m.UnregisterNative("fetch")
	if _, ok := m.Get("fetch"); ok {
		t.Error("fetch should be gone")
	}
	if len(m.Categories()) != 1 {
		t.Errorf("empty category should be dropped, have %v", m.Categories())
	}
}

func TestManagerRegisterDuplicate(t *testing.T) {
	m := newTestUTM(t)
	if err := m.RegisterNative("misc", newTestTool("dup", "", "")); err != nil {
		t.Fatalf("register failed: %v", err)
	}
	if err := m.RegisterNative("misc", newTestTool("dup", "", "")); err == nil {
		t.Fatal("expected error for duplicate native tool")
	}
}

func TestManagerSearch(t *testing.T) {
	m := newTestUTM(t)
	if err := m.RegisterNative("web", newTestTool("fetch_page", "Download a page", "")); err != nil {
		t.Fatalf("register failed: %v", err)
	}
	if err := m.RegisterNative("file", newTestTool("read_file", "Read from disk", "")); err != nil {
		t.Fatalf("register failed: %v", err)
	}

	if got := m.Search("download"); len(got) != 1 || got[0].Name() != "fetch_page" {
		t.Errorf("search by description failed: %d matches", len(got))
	}
	if got := m.Search("FILE"); len(got) != 1 || got[0].Name() != "read_file" {
		t.Errorf("search by name failed: %d matches", len(got))
	}
}

func TestManagerStats(t *testing.T) {
	m := newTestUTM(t)
	if err := m.RegisterCategory("file", []*tool.Tool{
		newTestTool("read", "", ""),
		newTestTool("write", "", ""),
	}); err != nil {
		t.Fatalf("register failed: %v", err)
	}

	stats := m.Stats()
	if stats.NativeTools != 2 || stats.ExternalTools != 0 || stats.TotalTools != 2 {
		t.Errorf("stats = %+v", stats)
	}
	if stats.Categories["file"] != 2 {
		t.Errorf("category counts = %v", stats.Categories)
	}
}

func TestManagerTruncatesResults(t *testing.T) {
	m := newTestUTM(t)
	m.SetTruncator(NewTruncator(10))

	long := strings.Repeat("word ", 500)
	if err := m.RegisterNative("misc", newTestTool("talk", "", long)); err != nil {
		t.Fatalf("register failed: %v", err)
	}

	out, err := m.Execute(context.Background(), "talk", nil)
	if err != nil {
		t.Fatalf("execute failed: %v", err)
	}
	if len(out) >= len(long) {
		t.Error("expected result to be truncated")
	}
	if !strings.Contains(out, "truncated") {
		t.Error("expected truncation notice")
	}
}

func TestManagerNilTruncator(t *testing.T) {
	m := newTestUTM(t)
	m.SetTruncator(nil)

	long := strings.Repeat("x", 100000)
	if err := m.RegisterNative("misc", newTestTool("talk", "", long)); err != nil {
		t.Fatalf("register failed: %v", err)
	}
	out, err := m.Execute(context.Background(), "talk", nil)
	if err != nil {
		t.Fatalf("execute failed: %v", err)
	}
	if out != long {
		t.Error("nil truncator must pass results through")
	}
}

func TestManagerListAvailableServers(t *testing.T) {
	servers := mcp.NewServerManager()
	err := servers.Register(mcp.ServerConfig{
		Name:    "demo",
		Command: []string{"./nonexistent-server"},
	})
	if err != nil {
		t.Fatalf("register failed: %v", err)
	}

	m := NewUnifiedToolManager(servers)
	t.Cleanup(m.Cleanup)

	statuses := m.ListAvailableServers()
	if len(statuses) != 1 || statuses[0].Name != "demo" {
		t.Fatalf("statuses = %+v", statuses)
	}
	if statuses[0].State != mcp.StateStopped {
		t.Errorf("state = %s, want stopped", statuses[0].State)
	}
}
