package agent

import (
	"fmt"
	"strings"

	"sidekick/internal/plan"
	"sidekick/internal/state"
	"sidekick/internal/task"
)

// buildSystemPrompt 组装本回合的系统提示词；同样的输入必须产出同样的文本
// buildSystemPrompt assembles the per-turn system prompt. It is a pure
// function of mode, workdir, tasks and plan so identical state always
// produces identical text.
func buildSystemPrompt(mode state.Mode, workdir string, tasks *task.List, p *plan.Plan) string {
	var b strings.Builder

	b.WriteString("You are Sidekick, a pair-programming assistant working inside the user's repository.\n")
	fmt.Fprintf(&b, "Working directory: %s\n\n", workdir)

	switch mode {
	case state.ModePlan:
		b.WriteString("Current mode: PLAN.\n")
		b.WriteString("Investigate and design; do not modify files or run commands. ")
		b.WriteString("Record findings, decisions and steps in the plan document as you go. ")
		b.WriteString("When the plan is complete, finalize it and tell the user to switch to act mode.\n")
	case state.ModeAct:
		b.WriteString("Current mode: ACT.\n")
		b.WriteString("Implement the work. Keep the task list current: start a task before working ")
		b.WriteString("on it and complete it when done, one task in progress at a time. ")
		b.WriteString("Prefer small verifiable steps.\n")
	default:
		b.WriteString("Current mode: BASH.\n")
		b.WriteString("The user is driving the shell directly; you have no tools.\n")
	}

	if tasks != nil {
		if render := tasks.Render(); render != "No tasks." {
			b.WriteString("\nTask list:\n")
			b.WriteString(render)
			b.WriteString("\n")
		}
	}

	if p != nil {
		fmt.Fprintf(&b, "\nActive plan: %q (phase: %s)\n", p.Title, p.Phase)
		if p.Approach != "" {
			fmt.Fprintf(&b, "Approach: %s\n", p.Approach)
		}
		if len(p.Steps) > 0 {
			fmt.Fprintf(&b, "Planned steps: %d\n", len(p.Steps))
		}
	}

	return b.String()
}
