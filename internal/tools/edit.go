package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"sidekick/internal/security"
)

// EditTool 在文件内做一次精确字符串替换；old_text 必须唯一匹配
// EditTool performs one exact string replacement in a file. The old
// text must match exactly once unless replace_all is set.
type EditTool struct {
	ws *security.Workspace
}

func NewEditTool(ws *security.Workspace) *EditTool { return &EditTool{ws: ws} }

func (t *EditTool) Name() string { return "edit_file" }

func (t *EditTool) Description() string {
	return "Replace an exact text fragment in a workspace file. The fragment must appear exactly once unless replace_all is true."
}

func (t *EditTool) Permission() Permission { return PermissionWrite }

func (t *EditTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"path": map[string]any{
				"type":        "string",
				"description": "File path, absolute or relative to the workspace root",
			},
			"old_text": map[string]any{
				"type":        "string",
				"description": "Exact text to replace, including indentation",
			},
			"new_text": map[string]any{
				"type":        "string",
				"description": "Replacement text",
			},
			"replace_all": map[string]any{
				"type":        "boolean",
				"description": "Replace every occurrence instead of requiring a unique match",
			},
		},
		"required": []string{"path", "old_text", "new_text"},
	}
}

func (t *EditTool) Execute(ctx context.Context, args json.RawMessage) (Result, error) {
	var in struct {
		Path       string `json:"path"`
		OldText    string `json:"old_text"`
		NewText    string `json:"new_text"`
		ReplaceAll bool   `json:"replace_all"`
	}
	if err := json.Unmarshal(args, &in); err != nil {
		return Fail("invalid arguments: %v", err), nil
	}
	if in.OldText == "" {
		return Fail("old_text must not be empty"), nil
	}
	if in.OldText == in.NewText {
		return Fail("old_text and new_text are identical"), nil
	}
	path, err := t.ws.Resolve(in.Path)
	if err != nil {
		return Fail("%s", err), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Fail("cannot read %s: %v", in.Path, err), nil
	}
	content := string(data)
	count := strings.Count(content, in.OldText)
	switch {
	case count == 0:
		return Fail("old_text not found in %s", in.Path), nil
	case count > 1 && !in.ReplaceAll:
		return Fail("old_text appears %d times in %s; provide more context or set replace_all", count, in.Path), nil
	}
	replaced := strings.ReplaceAll(content, in.OldText, in.NewText)
	if err := os.WriteFile(path, []byte(replaced), 0o644); err != nil {
		return Fail("cannot write %s: %v", in.Path, err), nil
	}
	if count > 1 {
		return OK(fmt.Sprintf("Replaced %d occurrences in %s", count, in.Path)), nil
	}
	return OK(fmt.Sprintf("Edited %s", in.Path)), nil
}

var _ Tool = (*EditTool)(nil)
