package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"sidekick/internal/chat"
	"sidekick/internal/state"
)

// Permission 工具的权限级别，与模式一起决定可达性与审批
// Permission classifies a tool; together with the mode it decides
// reachability and approval.
type Permission string

const (
	// PermissionRead covers read-only operations: allowed in both plan
	// and act mode, never needs approval.
	PermissionRead Permission = "read"
	// PermissionWrite covers file mutations: act mode only, approval required.
	PermissionWrite Permission = "write"
	// PermissionExecute covers command execution: act mode only, approval required.
	PermissionExecute Permission = "execute"
	// PermissionPlan covers planning operations: plan mode only.
	PermissionPlan Permission = "plan"
)

// AllowedInMode reports whether a tool with the given permission is
// reachable at all in the given mode. Bash mode exposes no tools; the
// user drives the shell directly.
func AllowedInMode(p Permission, mode state.Mode) bool {
	switch mode {
	case state.ModePlan:
		return p == PermissionRead || p == PermissionPlan
	case state.ModeAct:
		return p == PermissionRead || p == PermissionWrite || p == PermissionExecute
	default:
		return false
	}
}

// RequiresApproval reports whether executing a tool with the given
// permission needs an explicit user approval in the given mode.
func RequiresApproval(p Permission, mode state.Mode) bool {
	switch mode {
	case state.ModePlan:
		return p != PermissionRead && p != PermissionPlan
	case state.ModeAct:
		return p == PermissionWrite || p == PermissionExecute
	default:
		return true
	}
}

// Result is the uniform tool execution outcome.
type Result struct {
	Success bool
	Output  string
	Error   string
}

// Text renders the result the way it is fed back to the model.
func (r Result) Text() string {
	if r.Success {
		return r.Output
	}
	if r.Error != "" {
		return "Error: " + r.Error
	}
	return "Error: " + r.Output
}

func OK(output string) Result {
	return Result{Success: true, Output: output}
}

func Fail(format string, args ...any) Result {
	return Result{Success: false, Error: fmt.Sprintf(format, args...)}
}

// Tool is the single capability contract every tool implements.
type Tool interface {
	Name() string
	Description() string
	Permission() Permission
	// Parameters returns the JSON-Schema declaration for the arguments.
	Parameters() map[string]any
	Execute(ctx context.Context, args json.RawMessage) (Result, error)
}

// Definition builds the OpenAI-compatible function schema for a tool.
func Definition(t Tool) chat.ToolDef {
	return chat.ToolDef{
		Type: "function",
		Function: chat.ToolFunction{
			Name:        t.Name(),
			Description: t.Description(),
			Parameters:  t.Parameters(),
		},
	}
}
