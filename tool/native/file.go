package native

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/2606364644/sandbox-agent/tool"
)

const maxReadBytes = 1 << 20 // 1 MiB per read_file call

// FileTools returns the native file access tools.
func FileTools() []*tool.Tool {
	return []*tool.Tool{
		readFileTool(),
		writeFileTool(),
		listDirectoryTool(),
		searchFilesTool(),
	}
}

func readFileTool() *tool.Tool {
	return &tool.Tool{
		Name:        "read_file",
		Description: "Read the contents of a text file",
		Parameters: []tool.Parameter{
			{Name: "path", Type: "string", Description: "Path of the file to read", Required: true},
		},
		Handler: func(ctx context.Context, args map[string]interface{}) (string, error) {
			path, _ := args["path"].(string)
			info, err := os.Stat(path)
			if err != nil {
				return "", fmt.Errorf("read_file: %w", err)
			}
			if info.Size() > maxReadBytes {
				return "", fmt.Errorf("read_file: %s is too large (%d bytes)", path, info.Size())
			}
			data, err := os.ReadFile(path)
			if err != nil {
				return "", fmt.Errorf("read_file: %w", err)
			}
			return string(data), nil
		},
	}
}

func writeFileTool() *tool.Tool {
	return &tool.Tool{
		Name:        "write_file",
		Description: "Write content to a file, creating parent directories as needed",
		Parameters: []tool.Parameter{
			{Name: "path", Type: "string", Description: "Path of the file to write", Required: true},
			{Name: "content", Type: "string", Description: "Content to write", Required: true},
			{Name: "append", Type: "boolean", Description: "Append instead of overwrite", Default: false},
		},
		Handler: func(ctx context.Context, args map[string]interface{}) (string, error) {
			path, _ := args["path"].(string)
			content, _ := args["content"].(string)
			appendMode, _ := args["append"].(bool)

			if dir := filepath.Dir(path); dir != "." {
				if err := os.MkdirAll(dir, 0o755); err != nil {
					return "", fmt.Errorf("write_file: %w", err)
				}
			}

			flags := os.O_CREATE | os.O_WRONLY
			if appendMode {
				flags |= os.O_APPEND
			} else {
				flags |= os.O_TRUNC
			}
			f, err := os.OpenFile(path, flags, 0o644)
			if err != nil {
				return "", fmt.Errorf("write_file: %w", err)
			}
			defer f.Close()
			if _, err := f.WriteString(content); err != nil {
				return "", fmt.Errorf("write_file: %w", err)
			}
			return fmt.Sprintf("wrote %d bytes to %s", len(content), path), nil
		},
	}
}

func listDirectoryTool() *tool.Tool {
	return &tool.Tool{
		Name:        "list_directory",
		Description: "List the entries of a directory",
		Parameters: []tool.Parameter{
			{Name: "path", Type: "string", Description: "Directory to list", Default: "."},
		},
		Handler: func(ctx context.Context, args map[string]interface{}) (string, error) {
			path, _ := args["path"].(string)
			entries, err := os.ReadDir(path)
			if err != nil {
				return "", fmt.Errorf("list_directory: %w", err)
			}
			lines := make([]string, 0, len(entries))
			for _, entry := range entries {
				name := entry.Name()
				if entry.IsDir() {
					name += "/"
				}
				lines = append(lines, name)
			}
			sort.Strings(lines)
			if len(lines) == 0 {
				return fmt.Sprintf("%s is empty", path), nil
			}
			return strings.Join(lines, "\n"), nil
		},
	}
}

func searchFilesTool() *tool.Tool {
	return &tool.Tool{
		Name:        "search_files",
		Description: "Find files under a directory whose name matches a glob pattern",
		Parameters: []tool.Parameter{
			{Name: "pattern", Type: "string", Description: "Glob pattern to match file names against", Required: true},
			{Name: "path", Type: "string", Description: "Directory to search from", Default: "."},
		},
		Handler: func(ctx context.Context, args map[string]interface{}) (string, error) {
			pattern, _ := args["pattern"].(string)
			root, _ := args["path"].(string)

			var matches []string
			err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
				if err != nil {
					return nil // skip unreadable entries
				}
				if ctx.Err() != nil {
					return ctx.Err()
				}
				if d.IsDir() {
					return nil
				}
				ok, matchErr := filepath.Match(pattern, d.Name())
				if matchErr != nil {
					return matchErr
				}
				if ok {
					matches = append(matches, path)
				}
				return nil
			})
			if err != nil {
				return "", fmt.Errorf("search_files: %w", err)
			}
			if len(matches) == 0 {
				return fmt.Sprintf("no files matching %q under %s", pattern, root), nil
			}
			sort.Strings(matches)
			return strings.Join(matches, "\n"), nil
		},
	}
}
