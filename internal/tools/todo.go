package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"sidekick/internal/state"
	"sidekick/internal/task"
)

// TodoWriteTool 维护会话任务列表：批量新增、开始、完成、删除
// TodoWriteTool maintains the session task list. One task at most is
// in progress at a time; violating starts are reported back to the
// model as failed results, not silently fixed.
//
// The tool is available in both plan and act mode, but plan mode is
// read-only: every action except list is rejected there at execution
// time.
type TodoWriteTool struct {
	tasks *task.List
	mode  func() state.Mode
}

// NewTodoWriteTool builds the task-list tool. mode reports the current
// conversation mode; nil means unrestricted.
func NewTodoWriteTool(tasks *task.List, mode func() state.Mode) *TodoWriteTool {
	return &TodoWriteTool{tasks: tasks, mode: mode}
}

func (t *TodoWriteTool) Name() string { return NameTodoWrite }

func (t *TodoWriteTool) Description() string {
	return "Manage the task list. Actions: add (bulk items), start, complete, remove, clear_completed, list. " +
		"Only one task may be in progress at a time."
}

func (t *TodoWriteTool) Permission() Permission { return PermissionRead }

func (t *TodoWriteTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"action": map[string]any{
				"type":        "string",
				"enum":        []string{"add", "start", "complete", "remove", "clear_completed", "list"},
				"description": "Operation to perform",
			},
			"items": map[string]any{
				"type": "array",
				"items": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"content": map[string]any{
							"type":        "string",
							"description": "Imperative task description",
						},
						"active_form": map[string]any{
							"type":        "string",
							"description": "Present-continuous form shown while the task runs",
						},
					},
					"required": []string{"content", "active_form"},
				},
				"description": "For add: tasks to create, in order",
			},
			"id": map[string]any{
				"type":        "string",
				"description": "For start, complete, remove: the task ID",
			},
		},
		"required": []string{"action"},
	}
}

func (t *TodoWriteTool) Execute(ctx context.Context, args json.RawMessage) (Result, error) {
	var in struct {
		Action string `json:"action"`
		Items  []struct {
			Content    string `json:"content"`
			ActiveForm string `json:"active_form"`
		} `json:"items"`
		ID string `json:"id"`
	}
	if err := json.Unmarshal(args, &in); err != nil {
		return Fail("invalid arguments: %v", err), nil
	}
	if in.Action != "list" && t.mode != nil && t.mode() == state.ModePlan {
		return Fail("task mutations are not allowed in plan mode; only list is available"), nil
	}

	switch in.Action {
	case "add":
		if len(in.Items) == 0 {
			return Fail("add requires at least one item"), nil
		}
		specs := make([]task.Spec, 0, len(in.Items))
		for _, item := range in.Items {
			if strings.TrimSpace(item.Content) == "" {
				return Fail("task content must not be empty"), nil
			}
			active := item.ActiveForm
			if strings.TrimSpace(active) == "" {
				active = "Working on: " + item.Content
			}
			specs = append(specs, task.Spec{Content: item.Content, ActiveForm: active})
		}
		created, err := t.tasks.AddAll(specs)
		if err != nil {
			return Fail("cannot add tasks: %v", err), nil
		}
		return OK(fmt.Sprintf("Added %d tasks.\n%s", len(created), t.tasks.Render())), nil

	case "start":
		if in.ID == "" {
			return Fail("start requires an id"), nil
		}
		started, err := t.tasks.Start(in.ID)
		if err != nil {
			return Fail("%s", err), nil
		}
		return OK(fmt.Sprintf("Started: %s", started.ActiveForm)), nil

	case "complete":
		if in.ID == "" {
			return Fail("complete requires an id"), nil
		}
		done, err := t.tasks.Complete(in.ID)
		if err != nil {
			return Fail("%s", err), nil
		}
		return OK(fmt.Sprintf("Completed: %s (%s)", done.Content, t.tasks.ProgressLine())), nil

	case "remove":
		if in.ID == "" {
			return Fail("remove requires an id"), nil
		}
		removed, err := t.tasks.Remove(in.ID)
		if err != nil {
			return Fail("cannot remove task: %v", err), nil
		}
		if !removed {
			return Fail("task not found: %s", in.ID), nil
		}
		return OK(fmt.Sprintf("Removed task %s.", in.ID)), nil

	case "clear_completed":
		n, err := t.tasks.ClearCompleted()
		if err != nil {
			return Fail("cannot clear tasks: %v", err), nil
		}
		return OK(fmt.Sprintf("Cleared %d completed tasks.", n)), nil

	case "list":
		return OK(t.tasks.Render()), nil

	default:
		return Fail("unknown action %q", in.Action), nil
	}
}

var _ Tool = (*TodoWriteTool)(nil)
