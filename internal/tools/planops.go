package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"sidekick/internal/plan"
)

// PlanStore 计划文档的宿主；由运行中的会话实现
// PlanStore is where the active plan document lives. The running
// session implements it; tools mutate the plan through it.
type PlanStore interface {
	Plan() *plan.Plan
	SetPlan(p *plan.Plan)
	PlanBasePath() string
}

// CreatePlanTool starts a new plan document. Creating over an existing
// plan replaces the draft; the superseded files are overwritten.
type CreatePlanTool struct {
	store PlanStore
}

func NewCreatePlanTool(store PlanStore) *CreatePlanTool { return &CreatePlanTool{store: store} }

func (t *CreatePlanTool) Name() string { return NameCreatePlan }

func (t *CreatePlanTool) Description() string {
	return "Start a structured plan document with a title and objective. Use this before exploring so findings accumulate in one place."
}

func (t *CreatePlanTool) Permission() Permission { return PermissionPlan }

func (t *CreatePlanTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"title": map[string]any{
				"type":        "string",
				"description": "Short plan title",
			},
			"objective": map[string]any{
				"type":        "string",
				"description": "What the plan should accomplish",
			},
		},
		"required": []string{"title", "objective"},
	}
}

func (t *CreatePlanTool) Execute(ctx context.Context, args json.RawMessage) (Result, error) {
	var in struct {
		Title     string `json:"title"`
		Objective string `json:"objective"`
	}
	if err := json.Unmarshal(args, &in); err != nil {
		return Fail("invalid arguments: %v", err), nil
	}
	if strings.TrimSpace(in.Title) == "" || strings.TrimSpace(in.Objective) == "" {
		return Fail("title and objective must not be empty"), nil
	}
	p, err := plan.Create(in.Title, in.Objective, t.store.PlanBasePath())
	if err != nil {
		return Fail("cannot create plan: %v", err), nil
	}
	t.store.SetPlan(p)
	return OK(fmt.Sprintf("Plan %q created in phase %s.", in.Title, p.Phase)), nil
}

// UpdatePlanTool applies one mutation to the active plan: recording
// findings, questions, the approach, files, risks, steps, or advancing
// the phase.
type UpdatePlanTool struct {
	store PlanStore
}

func NewUpdatePlanTool(store PlanStore) *UpdatePlanTool { return &UpdatePlanTool{store: store} }

func (t *UpdatePlanTool) Name() string { return NameUpdatePlan }

func (t *UpdatePlanTool) Description() string {
	return "Update the active plan. Actions: add_context, add_question, answer_question, set_approach, " +
		"add_alternative, add_critical_file, add_risk, add_step, add_verification, advance_phase."
}

func (t *UpdatePlanTool) Permission() Permission { return PermissionPlan }

func (t *UpdatePlanTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"action": map[string]any{
				"type": "string",
				"enum": []string{
					"add_context", "add_question", "answer_question", "set_approach",
					"add_alternative", "add_critical_file", "add_risk",
					"add_step", "add_verification", "advance_phase",
				},
				"description": "Which part of the plan to update",
			},
			"text": map[string]any{
				"type":        "string",
				"description": "Payload for single-string actions (context, question, alternative, file, risk, verification)",
			},
			"question": map[string]any{
				"type":        "string",
				"description": "For answer_question: the question being answered",
			},
			"answer": map[string]any{
				"type":        "string",
				"description": "For answer_question: the user's answer",
			},
			"approach": map[string]any{
				"type":        "string",
				"description": "For set_approach: the chosen approach",
			},
			"rationale": map[string]any{
				"type":        "string",
				"description": "For set_approach: why this approach was chosen",
			},
			"description": map[string]any{
				"type":        "string",
				"description": "For add_step: what the step does, imperative mood",
			},
			"files": map[string]any{
				"type":        "array",
				"items":       map[string]any{"type": "string"},
				"description": "For add_step: files the step touches",
			},
			"complexity": map[string]any{
				"type":        "string",
				"enum":        []string{"low", "medium", "high"},
				"description": "For add_step: estimated complexity",
			},
			"notes": map[string]any{
				"type":        "string",
				"description": "For add_step: extra notes",
			},
		},
		"required": []string{"action"},
	}
}

func (t *UpdatePlanTool) Execute(ctx context.Context, args json.RawMessage) (Result, error) {
	var in struct {
		Action      string   `json:"action"`
		Text        string   `json:"text"`
		Question    string   `json:"question"`
		Answer      string   `json:"answer"`
		Approach    string   `json:"approach"`
		Rationale   string   `json:"rationale"`
		Description string   `json:"description"`
		Files       []string `json:"files"`
		Complexity  string   `json:"complexity"`
		Notes       string   `json:"notes"`
	}
	if err := json.Unmarshal(args, &in); err != nil {
		return Fail("invalid arguments: %v", err), nil
	}
	p := t.store.Plan()
	if p == nil {
		return Fail("no active plan; call %s first", NameCreatePlan), nil
	}

	var err error
	msg := "Plan updated."
	switch in.Action {
	case "add_context":
		err = p.AddContext(in.Text)
	case "add_question":
		err = p.AddQuestion(in.Text)
	case "answer_question":
		if in.Question == "" {
			return Fail("answer_question requires the question field"), nil
		}
		err = p.AnswerQuestion(in.Question, in.Answer)
	case "set_approach":
		err = p.SetApproach(in.Approach, in.Rationale)
	case "add_alternative":
		err = p.AddAlternative(in.Text)
	case "add_critical_file":
		err = p.AddCriticalFile(in.Text)
	case "add_risk":
		err = p.AddRisk(in.Text)
	case "add_step":
		if strings.TrimSpace(in.Description) == "" {
			return Fail("add_step requires a description"), nil
		}
		err = p.AddStep(plan.Step{
			Description: in.Description,
			Files:       in.Files,
			Complexity:  in.Complexity,
			Notes:       in.Notes,
		})
		msg = fmt.Sprintf("Step %d added.", len(p.Steps))
	case "add_verification":
		err = p.AddVerification(in.Text)
	case "advance_phase":
		err = p.AdvancePhase()
		msg = fmt.Sprintf("Plan advanced to phase %s.", p.Phase)
	default:
		return Fail("unknown action %q", in.Action), nil
	}
	if err != nil {
		return Fail("cannot update plan: %v", err), nil
	}
	return OK(msg), nil
}

// FinalizePlanTool marks the plan ready to execute, or sends it back
// to review when the model reports it incomplete.
type FinalizePlanTool struct {
	store PlanStore
}

func NewFinalizePlanTool(store PlanStore) *FinalizePlanTool { return &FinalizePlanTool{store: store} }

func (t *FinalizePlanTool) Name() string { return NameFinalizePlan }

func (t *FinalizePlanTool) Description() string {
	return "Finalize the active plan. Set complete=true when the plan is ready to execute, false to return it to review."
}

func (t *FinalizePlanTool) Permission() Permission { return PermissionPlan }

func (t *FinalizePlanTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"complete": map[string]any{
				"type":        "boolean",
				"description": "Whether the plan is complete and ready to execute",
			},
		},
		"required": []string{"complete"},
	}
}

func (t *FinalizePlanTool) Execute(ctx context.Context, args json.RawMessage) (Result, error) {
	var in struct {
		Complete bool `json:"complete"`
	}
	if err := json.Unmarshal(args, &in); err != nil {
		return Fail("invalid arguments: %v", err), nil
	}
	p := t.store.Plan()
	if p == nil {
		return Fail("no active plan; call %s first", NameCreatePlan), nil
	}
	if err := p.Finalize(in.Complete); err != nil {
		return Fail("cannot finalize plan: %v", err), nil
	}
	if in.Complete {
		return OK("Plan finalized: ready_to_execute. Switch to act mode to start implementing."), nil
	}
	return OK("Plan returned to review."), nil
}

var (
	_ Tool = (*CreatePlanTool)(nil)
	_ Tool = (*UpdatePlanTool)(nil)
	_ Tool = (*FinalizePlanTool)(nil)
)
