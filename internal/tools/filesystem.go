package tools

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

const readFileLimit = 256 * 1024

// ReadFileTool reads a file inside the workspace.
type ReadFileTool struct {
	workspace string
	restrict  bool
}

func NewReadFileTool(workspace string, restrict bool) *ReadFileTool {
	return &ReadFileTool{workspace: workspace, restrict: restrict}
}

func (t *ReadFileTool) Name() string        { return "read_file" }
func (t *ReadFileTool) Description() string { return "Read a text file and return its contents" }

func (t *ReadFileTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"path": map[string]any{
				"type":        "string",
				"description": "File path, absolute or relative to the workspace",
			},
		},
		"required": []string{"path"},
	}
}

func (t *ReadFileTool) Execute(_ context.Context, args map[string]any) *Result {
	path, res := resolvePath(t.workspace, t.restrict, args)
	if res != nil {
		return res
	}
	info, err := os.Stat(path)
	if err != nil {
		return ErrorResult(fmt.Sprintf("cannot read %s: %v", path, err)).WithError(err)
	}
	if info.IsDir() {
		return ErrorResult(fmt.Sprintf("%s is a directory; use list_dir", path))
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return ErrorResult(fmt.Sprintf("cannot read %s: %v", path, err)).WithError(err)
	}
	if len(data) > readFileLimit {
		return NewResult(string(data[:readFileLimit]) + "\n[...file truncated...]")
	}
	return NewResult(string(data))
}

// WriteFileTool writes a file inside the workspace, creating parent
// directories as needed.
type WriteFileTool struct {
	workspace string
	restrict  bool
}

func NewWriteFileTool(workspace string, restrict bool) *WriteFileTool {
	return &WriteFileTool{workspace: workspace, restrict: restrict}
}

func (t *WriteFileTool) Name() string        { return "write_file" }
func (t *WriteFileTool) Description() string { return "Write content to a file, replacing what was there" }

func (t *WriteFileTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"path": map[string]any{
				"type":        "string",
				"description": "File path, absolute or relative to the workspace",
			},
			"content": map[string]any{
				"type":        "string",
				"description": "Full file content to write",
			},
		},
		"required": []string{"path", "content"},
	}
}

func (t *WriteFileTool) Execute(_ context.Context, args map[string]any) *Result {
	path, res := resolvePath(t.workspace, t.restrict, args)
	if res != nil {
		return res
	}
	content, _ := args["content"].(string)

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return ErrorResult(fmt.Sprintf("cannot create parent directory: %v", err)).WithError(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return ErrorResult(fmt.Sprintf("cannot write %s: %v", path, err)).WithError(err)
	}
	return NewResult(fmt.Sprintf("wrote %d bytes to %s", len(content), path))
}

// ListDirTool lists a directory inside the workspace.
type ListDirTool struct {
	workspace string
	restrict  bool
}

func NewListDirTool(workspace string, restrict bool) *ListDirTool {
	return &ListDirTool{workspace: workspace, restrict: restrict}
}

func (t *ListDirTool) Name() string        { return "list_dir" }
func (t *ListDirTool) Description() string { return "List the entries of a directory" }

func (t *ListDirTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"path": map[string]any{
				"type":        "string",
				"description": "Directory path, absolute or relative to the workspace; defaults to the workspace root",
			},
		},
	}
}

func (t *ListDirTool) Execute(_ context.Context, args map[string]any) *Result {
	if _, ok := args["path"]; !ok {
		args = map[string]any{"path": "."}
	}
	path, res := resolvePath(t.workspace, t.restrict, args)
	if res != nil {
		return res
	}
	entries, err := os.ReadDir(path)
	if err != nil {
		return ErrorResult(fmt.Sprintf("cannot list %s: %v", path, err)).WithError(err)
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() {
			name += "/"
		}
		names = append(names, name)
	}
	sort.Strings(names)

	if len(names) == 0 {
		return NewResult("(empty directory)")
	}
	return NewResult(strings.Join(names, "\n"))
}

func resolvePath(workspace string, restrict bool, args map[string]any) (string, *Result) {
	raw, _ := args["path"].(string)
	if raw == "" {
		return "", ErrorResult("path is required")
	}
	path := raw
	if !filepath.IsAbs(path) {
		path = filepath.Join(workspace, path)
	}
	if restrict && !pathWithin(workspace, path) {
		return "", ErrorResult(fmt.Sprintf("path escapes the workspace: %s", raw))
	}
	return path, nil
}
