package tools

import (
	"sort"

	"sidekick/internal/chat"
	"sidekick/internal/state"
)

// Names of tools whose visibility depends on whether a plan exists.
// create_plan stays visible even with an active plan so the model can
// restart planning from scratch; the refinement tools appear only once
// there is a plan to refine.
const (
	NameCreatePlan   = "create_plan"
	NameUpdatePlan   = "update_plan"
	NameFinalizePlan = "finalize_plan"
	NameTodoWrite    = "todo_write"
)

// Registry 以名称为键的工具表，启动时填充，不做反射发现
// Registry is a name-keyed tool table populated at startup.
type Registry struct {
	tools map[string]Tool
}

func NewRegistry(ts ...Tool) *Registry {
	m := make(map[string]Tool, len(ts))
	for _, t := range ts {
		m[t.Name()] = t
	}
	return &Registry{tools: m}
}

func (r *Registry) Register(t Tool) {
	r.tools[t.Name()] = t
}

func (r *Registry) Get(name string) (Tool, bool) {
	t, ok := r.tools[name]
	return t, ok
}

func (r *Registry) Has(name string) bool {
	_, ok := r.tools[name]
	return ok
}

func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (r *Registry) All() []Tool {
	out := make([]Tool, 0, len(r.tools))
	for _, name := range r.Names() {
		out = append(out, r.tools[name])
	}
	return out
}

// ForMode filters by the mode/permission matrix only.
func (r *Registry) ForMode(mode state.Mode) []Tool {
	out := make([]Tool, 0, len(r.tools))
	for _, name := range r.Names() {
		t := r.tools[name]
		if AllowedInMode(t.Permission(), mode) {
			out = append(out, t)
		}
	}
	return out
}

// ForContext 在模式过滤之上再按会话状态过滤；每回合重新求值，不缓存
// ForContext layers session-state filtering on top of mode filtering.
// It is re-evaluated on every turn rather than cached: plan refinement
// tools (update/finalize) and todo_write are hidden in plan mode until
// a plan exists.
func (r *Registry) ForContext(mode state.Mode, hasPlan bool) []Tool {
	out := make([]Tool, 0, len(r.tools))
	for _, t := range r.ForMode(mode) {
		if mode == state.ModePlan && !hasPlan {
			switch t.Name() {
			case NameUpdatePlan, NameFinalizePlan, NameTodoWrite:
				continue
			}
		}
		out = append(out, t)
	}
	return out
}

// Restricted returns the subset of tools whose names appear in allowed.
// Used for subagent tool sets.
func (r *Registry) Restricted(allowed []string) []Tool {
	set := make(map[string]bool, len(allowed))
	for _, name := range allowed {
		set[name] = true
	}
	out := make([]Tool, 0, len(allowed))
	for _, name := range r.Names() {
		if set[name] {
			out = append(out, r.tools[name])
		}
	}
	return out
}

// Definitions renders tool schemas in stable name order.
func Definitions(ts []Tool) []chat.ToolDef {
	out := make([]chat.ToolDef, 0, len(ts))
	for _, t := range ts {
		out = append(out, Definition(t))
	}
	return out
}
