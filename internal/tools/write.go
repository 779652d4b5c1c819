package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"sidekick/internal/security"
)

// WriteTool 覆盖写入工作区文件，必要时创建父目录
// WriteTool writes a file inside the workspace, creating parent
// directories as needed.
type WriteTool struct {
	ws *security.Workspace
}

func NewWriteTool(ws *security.Workspace) *WriteTool { return &WriteTool{ws: ws} }

func (t *WriteTool) Name() string { return "write_file" }

func (t *WriteTool) Description() string {
	return "Write content to a file in the workspace, overwriting any existing content. Parent directories are created automatically."
}

func (t *WriteTool) Permission() Permission { return PermissionWrite }

func (t *WriteTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"path": map[string]any{
				"type":        "string",
				"description": "File path, absolute or relative to the workspace root",
			},
			"content": map[string]any{
				"type":        "string",
				"description": "Full file content to write",
			},
		},
		"required": []string{"path", "content"},
	}
}

func (t *WriteTool) Execute(ctx context.Context, args json.RawMessage) (Result, error) {
	var in struct {
		Path    string `json:"path"`
		Content string `json:"content"`
	}
	if err := json.Unmarshal(args, &in); err != nil {
		return Fail("invalid arguments: %v", err), nil
	}
	path, err := t.ws.Resolve(in.Path)
	if err != nil {
		return Fail("%s", err), nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return Fail("cannot create parent directory: %v", err), nil
	}
	if err := os.WriteFile(path, []byte(in.Content), 0o644); err != nil {
		return Fail("cannot write %s: %v", in.Path, err), nil
	}
	return OK(fmt.Sprintf("Wrote %d bytes to %s", len(in.Content), in.Path)), nil
}

var _ Tool = (*WriteTool)(nil)
