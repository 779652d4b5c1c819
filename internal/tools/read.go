package tools

import (
	"context"
	"encoding/json"
	"os"
	"strings"

	"sidekick/internal/security"
)

const maxReadBytes = 256 * 1024

// ReadTool 读取工作区内的文件，支持按行窗口读取
// ReadTool reads a workspace file, optionally a line window of it.
type ReadTool struct {
	ws *security.Workspace
}

func NewReadTool(ws *security.Workspace) *ReadTool { return &ReadTool{ws: ws} }

func (t *ReadTool) Name() string { return "read_file" }

func (t *ReadTool) Description() string {
	return "Read a file from the workspace. Supports an optional line offset and limit for large files."
}

func (t *ReadTool) Permission() Permission { return PermissionRead }

func (t *ReadTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"path": map[string]any{
				"type":        "string",
				"description": "File path, absolute or relative to the workspace root",
			},
			"offset": map[string]any{
				"type":        "integer",
				"description": "1-based line number to start reading from",
			},
			"limit": map[string]any{
				"type":        "integer",
				"description": "Maximum number of lines to return",
			},
		},
		"required": []string{"path"},
	}
}

func (t *ReadTool) Execute(ctx context.Context, args json.RawMessage) (Result, error) {
	var in struct {
		Path   string `json:"path"`
		Offset int    `json:"offset"`
		Limit  int    `json:"limit"`
	}
	if err := json.Unmarshal(args, &in); err != nil {
		return Fail("invalid arguments: %v", err), nil
	}
	path, err := t.ws.Resolve(in.Path)
	if err != nil {
		return Fail("%s", err), nil
	}
	info, err := os.Stat(path)
	if err != nil {
		return Fail("cannot read %s: %v", in.Path, err), nil
	}
	if info.IsDir() {
		return Fail("%s is a directory", in.Path), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Fail("cannot read %s: %v", in.Path, err), nil
	}
	truncated := false
	if len(data) > maxReadBytes {
		data = data[:maxReadBytes]
		truncated = true
	}
	content := string(data)
	if in.Offset > 0 || in.Limit > 0 {
		lines := strings.Split(content, "\n")
		start := 0
		if in.Offset > 0 {
			start = in.Offset - 1
		}
		if start >= len(lines) {
			return Fail("offset %d is past end of file (%d lines)", in.Offset, len(lines)), nil
		}
		end := len(lines)
		if in.Limit > 0 && start+in.Limit < end {
			end = start + in.Limit
		}
		content = strings.Join(lines[start:end], "\n")
	}
	if truncated {
		content += "\n[truncated]"
	}
	return OK(content), nil
}

var _ Tool = (*ReadTool)(nil)
