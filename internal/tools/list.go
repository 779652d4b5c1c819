package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"

	"sidekick/internal/security"
)

// ListTool lists directory entries inside the workspace.
type ListTool struct {
	ws *security.Workspace
}

func NewListTool(ws *security.Workspace) *ListTool { return &ListTool{ws: ws} }

func (t *ListTool) Name() string { return "list_dir" }

func (t *ListTool) Description() string {
	return "List the entries of a workspace directory. Directories are suffixed with a slash."
}

func (t *ListTool) Permission() Permission { return PermissionRead }

func (t *ListTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"path": map[string]any{
				"type":        "string",
				"description": "Directory path, absolute or relative to the workspace root. Defaults to the root.",
			},
		},
	}
}

func (t *ListTool) Execute(ctx context.Context, args json.RawMessage) (Result, error) {
	var in struct {
		Path string `json:"path"`
	}
	if len(args) > 0 {
		if err := json.Unmarshal(args, &in); err != nil {
			return Fail("invalid arguments: %v", err), nil
		}
	}
	if in.Path == "" {
		in.Path = "."
	}
	path, err := t.ws.Resolve(in.Path)
	if err != nil {
		return Fail("%s", err), nil
	}
	entries, err := os.ReadDir(path)
	if err != nil {
		return Fail("cannot list %s: %v", in.Path, err), nil
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() {
			name += "/"
		}
		names = append(names, name)
	}
	sort.Strings(names)
	if len(names) == 0 {
		return OK(fmt.Sprintf("%s is empty", in.Path)), nil
	}
	return OK(strings.Join(names, "\n")), nil
}

var _ Tool = (*ListTool)(nil)
