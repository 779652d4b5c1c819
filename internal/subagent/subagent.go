package subagent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"sidekick/internal/chat"
	"sidekick/internal/provider"
	"sidekick/internal/tools"
)

// Kind 子代理类型；每种类型绑定固定的工具子集与提示词
// Kind selects a subagent specialization. Each kind is bound to a
// fixed tool subset and a fixed system prompt; callers cannot widen
// the subset at spawn time.
type Kind string

const (
	KindExplore        Kind = "explore"
	KindPlan           Kind = "plan"
	KindTestRunner     Kind = "test_runner"
	KindBuildValidator Kind = "build_validator"
	KindCodeReviewer   Kind = "code_reviewer"
)

type profile struct {
	tools  []string
	prompt string
}

var profiles = map[Kind]profile{
	KindExplore: {
		tools: []string{"read_file", "list_dir", "glob", "grep"},
		prompt: "You are an exploration agent. Investigate the codebase to answer the request. " +
			"Read files, search, and report your findings concisely. You cannot modify anything.",
	},
	KindPlan: {
		tools: []string{"read_file", "list_dir", "glob", "grep", "fetch"},
		prompt: "You are a planning agent. Study the relevant code and produce a concrete, " +
			"step-by-step implementation proposal. Do not modify anything.",
	},
	KindTestRunner: {
		tools: []string{"bash", "read_file"},
		prompt: "You are a test runner. Run the project's tests, inspect failures, and report " +
			"which tests pass and which fail with the relevant output.",
	},
	KindBuildValidator: {
		tools: []string{"bash", "read_file"},
		prompt: "You are a build validator. Build the project, report whether it compiles, " +
			"and include any errors verbatim.",
	},
	KindCodeReviewer: {
		tools: []string{"read_file", "list_dir", "glob", "grep"},
		prompt: "You are a code reviewer. Read the indicated changes and report defects, " +
			"risks, and style problems. Be specific: file, line, issue.",
	},
}

// ParseKind validates a kind string.
func ParseKind(s string) (Kind, error) {
	k := Kind(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := profiles[k]; !ok {
		return "", fmt.Errorf("unknown subagent kind: %s", s)
	}
	return k, nil
}

// Kinds lists the available kinds in a stable order.
func Kinds() []Kind {
	return []Kind{KindExplore, KindPlan, KindTestRunner, KindBuildValidator, KindCodeReviewer}
}

// ToolNames returns the fixed tool subset for a kind.
func ToolNames(k Kind) []string {
	return append([]string(nil), profiles[k].tools...)
}

// run drives a bounded conversation loop for one subagent: the model
// plus its restricted tool subset, no user approvals, hard iteration
// cap. Returns the final assistant text.
func run(ctx context.Context, prov provider.Provider, reg *tools.Registry, k Kind, prompt string, maxIterations int) (string, error) {
	restricted := tools.NewRegistry(reg.Restricted(profiles[k].tools)...)
	defs := tools.Definitions(restricted.All())

	messages := []chat.Message{
		{Role: "system", Content: profiles[k].prompt},
		{Role: "user", Content: prompt},
	}

	var lastContent string
	for i := 0; i < maxIterations; i++ {
		if err := ctx.Err(); err != nil {
			return lastContent, err
		}
		resp, err := prov.Chat(ctx, provider.Request{
			Model:    prov.CurrentModel(),
			Messages: messages,
			Tools:    defs,
		})
		if err != nil {
			return lastContent, fmt.Errorf("subagent %s: %w", k, err)
		}
		if resp.Content != "" {
			lastContent = resp.Content
		}
		if len(resp.ToolCalls) == 0 {
			return lastContent, nil
		}
		messages = append(messages, chat.Message{
			Role:      "assistant",
			Content:   resp.Content,
			ToolCalls: resp.ToolCalls,
		})
		for _, call := range resp.ToolCalls {
			output := executeCall(ctx, restricted, call)
			messages = append(messages, chat.Message{
				Role:       "tool",
				Content:    output,
				Name:       call.Function.Name,
				ToolCallID: call.ID,
			})
		}
	}
	if lastContent == "" {
		return "", fmt.Errorf("subagent %s: iteration limit reached with no answer", k)
	}
	return lastContent + "\n[stopped at iteration limit]", nil
}

func executeCall(ctx context.Context, reg *tools.Registry, call chat.ToolCall) string {
	tool, ok := reg.Get(call.Function.Name)
	if !ok {
		return fmt.Sprintf("Error: tool %q is not available to this agent", call.Function.Name)
	}
	res, err := tool.Execute(ctx, json.RawMessage(call.Function.Arguments))
	if err != nil {
		return fmt.Sprintf("Error: %v", err)
	}
	return res.Text()
}
