package tools

import (
	"context"
	"encoding/json"
	"strings"
)

// AskFunc delivers a question to the user and returns their answer.
type AskFunc func(ctx context.Context, question string, options []string) (string, error)

// QuestionTool 让模型在规划阶段向用户提问澄清需求
// QuestionTool lets the model ask the user a clarifying question.
// Carries the plan permission so it stays available while planning.
type QuestionTool struct {
	ask AskFunc
}

func NewQuestionTool(ask AskFunc) *QuestionTool { return &QuestionTool{ask: ask} }

func (t *QuestionTool) Name() string { return "ask_user" }

func (t *QuestionTool) Description() string {
	return "Ask the user a clarifying question and wait for their answer. Optionally offer a short list of choices."
}

func (t *QuestionTool) Permission() Permission { return PermissionPlan }

func (t *QuestionTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"question": map[string]any{
				"type":        "string",
				"description": "Question to put to the user",
			},
			"options": map[string]any{
				"type":        "array",
				"items":       map[string]any{"type": "string"},
				"description": "Optional answer choices to present",
			},
		},
		"required": []string{"question"},
	}
}

func (t *QuestionTool) Execute(ctx context.Context, args json.RawMessage) (Result, error) {
	var in struct {
		Question string   `json:"question"`
		Options  []string `json:"options"`
	}
	if err := json.Unmarshal(args, &in); err != nil {
		return Fail("invalid arguments: %v", err), nil
	}
	if strings.TrimSpace(in.Question) == "" {
		return Fail("question must not be empty"), nil
	}
	if t.ask == nil {
		return Fail("no interactive user is available"), nil
	}
	answer, err := t.ask(ctx, in.Question, in.Options)
	if err != nil {
		return Result{}, err
	}
	return OK(answer), nil
}

var _ Tool = (*QuestionTool)(nil)
