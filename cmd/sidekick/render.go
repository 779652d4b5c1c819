package main

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"

	"sidekick/internal/state"
)

var (
	planStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("12")).Bold(true)
	actStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Bold(true)
	bashStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("11")).Bold(true)
	toolStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	noticeStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("13"))
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
)

// renderer wraps terminal output: markdown for assistant replies,
// styled one-liners for everything else.
type renderer struct {
	md *glamour.TermRenderer
}

func newRenderer() *renderer {
	md, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(100),
	)
	if err != nil {
		md = nil
	}
	return &renderer{md: md}
}

// Assistant renders model output as markdown, falling back to plain
// text when the terminal renderer is unavailable.
func (r *renderer) Assistant(content string) {
	if strings.TrimSpace(content) == "" {
		return
	}
	if r.md != nil {
		if out, err := r.md.Render(content); err == nil {
			fmt.Print(out)
			return
		}
	}
	fmt.Println(content)
}

func (r *renderer) Error(format string, args ...any) {
	fmt.Println(errorStyle.Render(fmt.Sprintf(format, args...)))
}

func (r *renderer) Notice(format string, args ...any) {
	fmt.Println(noticeStyle.Render(fmt.Sprintf(format, args...)))
}

func (r *renderer) Success(format string, args ...any) {
	fmt.Println(successStyle.Render(fmt.Sprintf(format, args...)))
}

func (r *renderer) Plain(format string, args ...any) {
	fmt.Printf(format+"\n", args...)
}

// ToolStart / ToolDone implement agent.Notifier.
func (r *renderer) ToolStart(name, summary string) {
	fmt.Println(toolStyle.Render("  → " + summary))
}

func (r *renderer) ToolDone(name string, success bool) {
	if !success {
		fmt.Println(toolStyle.Render("  ✗ " + name + " failed"))
	}
}

// promptFor styles the readline prompt by mode.
func promptFor(mode state.Mode) string {
	switch mode {
	case state.ModePlan:
		return planStyle.Render("plan") + " › "
	case state.ModeBash:
		return bashStyle.Render("bash") + " $ "
	default:
		return actStyle.Render("act") + " › "
	}
}
