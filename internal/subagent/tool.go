package subagent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"sidekick/internal/tools"
)

// Tool 主循环里的子代理派发工具；detached=true 时立即返回句柄
// Tool lets the main model delegate a scoped job to a subagent. With
// detached=true it returns immediately with a handle instead of the
// report.
type Tool struct {
	mgr *Manager
}

func NewTool(mgr *Manager) *Tool { return &Tool{mgr: mgr} }

func (t *Tool) Name() string { return "spawn_agent" }

func (t *Tool) Description() string {
	names := make([]string, 0, len(profiles))
	for _, k := range Kinds() {
		names = append(names, string(k))
	}
	return "Delegate a focused job to a subagent and return its report. Kinds: " +
		strings.Join(names, ", ") +
		". Set detached=true for long jobs; you get a handle and the report goes to a log file."
}

func (t *Tool) Permission() tools.Permission { return tools.PermissionExecute }

func (t *Tool) Parameters() map[string]any {
	kinds := make([]string, 0, len(profiles))
	for _, k := range Kinds() {
		kinds = append(kinds, string(k))
	}
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"kind": map[string]any{
				"type":        "string",
				"enum":        kinds,
				"description": "Subagent specialization",
			},
			"prompt": map[string]any{
				"type":        "string",
				"description": "The job, with all context the subagent needs",
			},
			"detached": map[string]any{
				"type":        "boolean",
				"description": "Run in the background and return a handle",
			},
		},
		"required": []string{"kind", "prompt"},
	}
}

func (t *Tool) Execute(ctx context.Context, args json.RawMessage) (tools.Result, error) {
	var in struct {
		Kind     string `json:"kind"`
		Prompt   string `json:"prompt"`
		Detached bool   `json:"detached"`
	}
	if err := json.Unmarshal(args, &in); err != nil {
		return tools.Fail("invalid arguments: %v", err), nil
	}
	kind, err := ParseKind(in.Kind)
	if err != nil {
		return tools.Fail("%s", err), nil
	}
	if strings.TrimSpace(in.Prompt) == "" {
		return tools.Fail("prompt must not be empty"), nil
	}

	if in.Detached {
		h, err := t.mgr.SpawnDetached(kind, in.Prompt)
		if err != nil {
			return tools.Fail("cannot start detached subagent: %v", err), nil
		}
		return tools.OK(fmt.Sprintf("Detached %s subagent started.\nid: %s\nlog: %s", kind, h.ID, h.LogPath)), nil
	}

	report, err := t.mgr.Spawn(ctx, kind, in.Prompt)
	if err != nil {
		if ctx.Err() != nil {
			return tools.Result{}, err
		}
		return tools.Fail("subagent failed: %v", err), nil
	}
	return tools.OK(report), nil
}

var _ tools.Tool = (*Tool)(nil)
