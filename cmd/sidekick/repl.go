package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/chzyer/readline"

	"sidekick/internal/agent"
	"sidekick/internal/config"
	"sidekick/internal/contextmgr"
	"sidekick/internal/provider"
	"sidekick/internal/session"
	"sidekick/internal/state"
	"sidekick/internal/storage"
	"sidekick/internal/subagent"
	"sidekick/internal/task"
	"sidekick/internal/tools"
)

type replOptions struct {
	config   config.Config
	provider provider.Provider
	registry *tools.Registry
	conv     *state.Conversation
	tasks    *task.List
	sessions *session.Manager
	session  *session.Session
	history  *storage.HistoryStore
}

// repl 交互主循环：读取输入、分发斜杠命令、驱动回合、渲染输出
// repl is the interactive surface: reads input, routes slash commands,
// drives agent turns, and renders everything.
type repl struct {
	cfg      config.Config
	prov     provider.Provider
	reg      *tools.Registry
	conv     *state.Conversation
	tasks    *task.List
	sessions *session.Manager
	sess     *session.Session
	history  *storage.HistoryStore

	agent  *agent.Agent
	agents *subagent.Manager

	rl  *readline.Instance
	out *renderer
	est *contextmgr.Estimator
}

func newREPL(opts replOptions) (*repl, error) {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          promptFor(opts.conv.Mode()),
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
		HistoryFile:     historyFile(opts.config),
	})
	if err != nil {
		return nil, fmt.Errorf("init readline: %w", err)
	}
	return &repl{
		cfg:      opts.config,
		prov:     opts.provider,
		reg:      opts.registry,
		conv:     opts.conv,
		tasks:    opts.tasks,
		sessions: opts.sessions,
		sess:     opts.session,
		history:  opts.history,
		rl:       rl,
		out:      newRenderer(),
		est:      contextmgr.Default(),
	}, nil
}

func historyFile(cfg config.Config) string {
	return filepath.Join(cfg.Storage.BaseDir, "repl_history")
}

func (r *repl) Close() error { return r.rl.Close() }

func (r *repl) Run() error {
	r.out.Notice("sidekick — %s | session %s", r.prov.CurrentModel(), shortID(r.sess.ID))
	r.out.Plain("Type /help for commands. Modes: /plan, /act, /bash.")

	for {
		r.rl.SetPrompt(promptFor(r.conv.Mode()))
		line, err := r.rl.Readline()
		if err == readline.ErrInterrupt {
			continue
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		if strings.HasPrefix(line, "/") {
			exit, err := r.handleCommand(line)
			if err != nil {
				r.out.Error("%v", err)
			}
			if exit {
				return nil
			}
			continue
		}

		if r.conv.Mode() == state.ModeBash {
			r.runBash(line)
			continue
		}
		r.runTurn(line)
	}
}

// runTurn drives one agent turn with Ctrl-C wired to cancellation,
// then persists the transcript to the session files and history db.
func (r *repl) runTurn(input string) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reply, err := r.agent.RunTurn(ctx, input)
	switch {
	case err == nil:
		r.out.Assistant(reply)
	case errors.Is(err, agent.ErrDeclined):
		r.out.Notice("Declined; the turn was stopped. Completed steps are kept.")
	case errors.Is(err, agent.ErrInterrupted):
		r.out.Notice("Interrupted; partial results are kept in the transcript.")
	case errors.Is(err, agent.ErrIterationLimit):
		r.out.Error("Turn stopped: %v. Break the work into smaller tasks.", err)
	case errors.Is(err, provider.ErrProvider):
		r.out.Error("Model backend failed: %v", err)
	default:
		r.out.Error("%v", err)
	}
	r.persist()
}

func (r *repl) persist() {
	if err := r.sess.SaveConversation(r.conv.Snapshot()); err != nil {
		r.out.Error("save conversation: %v", err)
	}
	if err := r.history.SaveMessages(r.sess.ID, r.conv.Messages()); err != nil {
		r.out.Error("sync history: %v", err)
	}
}

// runBash is pass-through mode: the line goes straight to the shell
// and the result is echoed into the conversation as context.
func (r *repl) runBash(line string) {
	bt, ok := r.reg.Get("bash")
	if !ok {
		r.out.Error("bash tool is not registered")
		return
	}
	bash, ok := bt.(*tools.BashTool)
	if !ok {
		r.out.Error("bash tool has an unexpected type")
		return
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	output, exitCode, err := bash.Run(ctx, line, time.Duration(r.cfg.Safety.CommandTimeoutMS)*time.Millisecond)
	if err != nil {
		r.out.Error("%v", err)
		return
	}
	if output != "" {
		r.out.Plain("%s", output)
	}
	if exitCode != 0 {
		r.out.Error("exit status %d", exitCode)
	}
	// the model sees what the user ran when the conversation resumes
	r.conv.AddSystem(fmt.Sprintf("User ran in bash mode: `%s` (exit %d)\n%s", line, exitCode, output))
	r.persist()
}

// approve implements agent.ApproveFunc and records the decision in the
// audit log.
func (r *repl) approve(ctx context.Context, toolName, summary string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	r.out.Notice("Approval needed: %s", summary)
	answer, err := r.prompt("Allow? [y/N] ")
	if err != nil {
		return false, err
	}
	approved := answer == "y" || answer == "yes"
	decision := "denied"
	if approved {
		decision = "approved"
	}
	if err := r.history.LogApproval(storage.ApprovalEntry{
		SessionID: r.sess.ID,
		Tool:      toolName,
		Decision:  decision,
		Reason:    summary,
	}); err != nil {
		r.out.Error("log approval: %v", err)
	}
	return approved, nil
}

// confirmContinue implements agent.ContinueFunc for long act turns.
func (r *repl) confirmContinue(iteration, limit int) bool {
	r.out.Notice("This turn is at iteration %d of %d.", iteration, limit)
	answer, err := r.prompt("Keep going? [Y/n] ")
	if err != nil {
		return false
	}
	return answer != "n" && answer != "no"
}

// askUser implements the ask_user tool callback.
func (r *repl) askUser(ctx context.Context, question string, options []string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	r.out.Notice("The assistant asks: %s", question)
	for i, opt := range options {
		r.out.Plain("  %d. %s", i+1, opt)
	}
	answer, err := r.prompt("> ")
	if err != nil {
		return "", err
	}
	if n, convErr := strconv.Atoi(answer); convErr == nil && n >= 1 && n <= len(options) {
		return options[n-1], nil
	}
	return answer, nil
}

// prompt reads one trimmed, lowercased line with a temporary prompt.
func (r *repl) prompt(label string) (string, error) {
	r.rl.SetPrompt(label)
	defer r.rl.SetPrompt(promptFor(r.conv.Mode()))
	line, err := r.rl.Readline()
	if err != nil {
		return "", err
	}
	return strings.ToLower(strings.TrimSpace(line)), nil
}

// snapshot assembles the full checkpoint payload from live state.
func (r *repl) snapshot() session.Snapshot {
	return session.Snapshot{
		Conversation: r.conv.Snapshot(),
		Mode:         r.conv.Mode().String(),
		Tasks:        session.TasksSnapshot{Tasks: r.tasks.Tasks()},
		Plan:         r.agent.Plan(),
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
