package native

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/2606364644/sandbox-agent/tool"
)

func findTool(t *testing.T, tools []*tool.Tool, name string) *tool.Tool {
	t.Helper()
	for _, tl := range tools {
		if tl.Name == name {
			return tl
		}
	}
	t.Fatalf("tool %s not found", name)
	return nil
}

func TestReadWriteRoundTrip(t *testing.T) {
	tools := FileTools()
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "note.txt")
	ctx := context.Background()

	out, err := findTool(t, tools, "write_file").Execute(ctx, map[string]interface{}{
		"path":    path,
		"content": "hello",
	})
	if err != nil {
		t.Fatalf("write failed: %v", err)
	}
	if !strings.Contains(out, "5 bytes") {
		t.Errorf("write report = %q", out)
	}

	got, err := findTool(t, tools, "read_file").Execute(ctx, map[string]interface{}{"path": path})
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if got != "hello" {
		t.Errorf("read = %q, want hello", got)
	}
}

func TestWriteFileAppend(t *testing.T) {
	tools := FileTools()
	path := filepath.Join(t.TempDir(), "log.txt")
	ctx := context.Background()
	write := findTool(t, tools, "write_file")

	for _, chunk := range []string{"one\n", "two\n"} {
		_, err := write.Execute(ctx, map[string]interface{}{
			"path": path, "content": chunk, "append": true,
		})
		if err != nil {
			t.Fatalf("append failed: %v", err)
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read back failed: %v", err)
	}
	if string(data) != "one\ntwo\n" {
		t.Errorf("content = %q", data)
	}
}

func TestReadFileMissing(t *testing.T) {
	tools := FileTools()
	_, err := findTool(t, tools, "read_file").Execute(context.Background(), map[string]interface{}{
		"path": filepath.Join(t.TempDir(), "absent"),
	})
	if err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestListDirectory(t *testing.T) {
	dir := t.TempDir()
	if err := os.Mkdir(filepath.Join(dir, "sub"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "a.txt"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	out, err := findTool(t, FileTools(), "list_directory").Execute(context.Background(),
		map[string]interface{}{"path": dir})
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	lines := strings.Split(out, "\n")
	if len(lines) != 2 || lines[0] != "a.txt" || lines[1] != "sub/" {
		t.Errorf("listing = %q", out)
	}
}

func TestListDirectoryDefaultsToCwd(t *testing.T) {
	out, err := findTool(t, FileTools(), "list_directory").Execute(context.Background(),
		map[string]interface{}{})
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if out == "" {
		t.Error("expected some output for the working directory")
	}
}

func TestSearchFiles(t *testing.T) {
	dir := t.TempDir()
	paths := []string{"a.go", "b.txt", filepath.Join("deep", "c.go")}
	for _, p := range paths {
		full := filepath.Join(dir, p)
		if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(full, []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	search := findTool(t, FileTools(), "search_files")
	out, err := search.Execute(context.Background(), map[string]interface{}{
		"pattern": "*.go", "path": dir,
	})
	if err != nil {
		t.Fatalf("search failed: %v", err)
	}
	if got := strings.Split(out, "\n"); len(got) != 2 {
		t.Errorf("matches = %q", out)
	}

	out, err = search.Execute(context.Background(), map[string]interface{}{
		"pattern": "*.rs", "path": dir,
	})
	if err != nil {
		t.Fatalf("search failed: %v", err)
	}
	if !strings.Contains(out, "no files matching") {
		t.Errorf("empty search report = %q", out)
	}
}
