package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"sidekick/internal/agent"
	"sidekick/internal/config"
	"sidekick/internal/provider"
	"sidekick/internal/security"
	"sidekick/internal/session"
	"sidekick/internal/state"
	"sidekick/internal/storage"
	"sidekick/internal/subagent"
	"sidekick/internal/task"
	"sidekick/internal/tools"
)

func main() {
	var (
		configPath = flag.String("config", "", "path to config file (JSON)")
		workspace  = flag.String("workspace", ".", "workspace root directory")
		model      = flag.String("model", "", "override the configured model")
		resumeID   = flag.String("resume", "", "resume a session by ID")
		cont       = flag.Bool("continue", false, "resume the most recent session for this workspace")
		modeFlag   = flag.String("mode", "act", "starting mode: plan, act or bash")

		// detached subagent re-exec entry
		subKind   = flag.String("subagent", "", "internal: run as a detached subagent of this kind")
		subPrompt = flag.String("subagent-prompt", "", "internal: detached subagent prompt")
		subIters  = flag.Int("subagent-iterations", 15, "internal: detached subagent iteration cap")
	)
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fatal(err)
	}
	if *model != "" {
		cfg.Provider.Model = *model
	}
	if cfg.Runtime.WorkspaceRoot == "" {
		cfg.Runtime.WorkspaceRoot = *workspace
	}

	ws, err := security.NewWorkspace(cfg.Runtime.WorkspaceRoot)
	if err != nil {
		fatal(err)
	}
	prov := provider.NewOpenAIProvider(provider.OpenAIConfig{
		BaseURL:    cfg.Provider.BaseURL,
		APIKey:     cfg.Provider.APIKey,
		Model:      cfg.Provider.Model,
		TimeoutMS:  cfg.Provider.TimeoutMS,
		MaxRetries: cfg.Provider.MaxRetries,
	})

	if *subKind != "" {
		if err := runDetached(prov, ws, cfg, *subKind, *subPrompt, *subIters); err != nil {
			fatal(err)
		}
		return
	}

	if err := runInteractive(prov, ws, cfg, *resumeID, *cont, *modeFlag); err != nil {
		fatal(err)
	}
}

// runDetached is the re-exec entry for background subagents: no REPL,
// no session, report to stdout (captured in the log file).
func runDetached(prov provider.Provider, ws *security.Workspace, cfg config.Config, kindStr, prompt string, iterations int) error {
	kind, err := subagent.ParseKind(kindStr)
	if err != nil {
		return err
	}
	reg := newWorkspaceRegistry(ws, cfg)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return subagent.RunStandalone(ctx, prov, reg, kind, prompt, iterations)
}

// newWorkspaceRegistry builds the registry of workspace-scoped tools
// shared by the main agent and subagents.
func newWorkspaceRegistry(ws *security.Workspace, cfg config.Config) *tools.Registry {
	return tools.NewRegistry(
		tools.NewReadTool(ws),
		tools.NewWriteTool(ws),
		tools.NewEditTool(ws),
		tools.NewListTool(ws),
		tools.NewGlobTool(ws),
		tools.NewGrepTool(ws),
		tools.NewBashTool(ws, cfg.Safety),
		tools.NewFetchTool(time.Duration(cfg.Safety.FetchTimeoutMS)*time.Millisecond),
	)
}

func runInteractive(prov provider.Provider, ws *security.Workspace, cfg config.Config, resumeID string, cont bool, modeStr string) error {
	mgr, err := session.NewManager(cfg.Storage.BaseDir)
	if err != nil {
		return err
	}

	var sess *session.Session
	switch {
	case resumeID != "":
		sess, err = mgr.LoadSession(resumeID)
	case cont:
		var found bool
		sess, found, err = mgr.MostRecent(ws.Root())
		if err == nil && !found {
			sess, err = mgr.CreateSession(ws.Root(), "")
		}
	default:
		sess, err = mgr.CreateSession(ws.Root(), "")
	}
	if err != nil {
		return err
	}

	tasks, err := task.Load(sess.TasksPath())
	if err != nil {
		return err
	}

	conv := state.NewConversation(ws.Root())
	conv.SetProvider(prov.Name(), prov.CurrentModel())
	if snap, ok, err := sess.LoadConversation(); err != nil {
		return err
	} else if ok && len(snap.Messages) > 0 {
		conv.Restore(snap)
	}
	if mode, ok := state.ParseMode(modeStr); ok {
		conv.SetMode(mode)
	}

	history, err := storage.NewHistoryStore(filepath.Join(cfg.Storage.BaseDir, "history.db"))
	if err != nil {
		return err
	}
	defer history.Close()

	reg := newWorkspaceRegistry(ws, cfg)

	repl, err := newREPL(replOptions{
		config:   cfg,
		provider: prov,
		registry: reg,
		conv:     conv,
		tasks:    tasks,
		sessions: mgr,
		session:  sess,
		history:  history,
	})
	if err != nil {
		return err
	}
	defer repl.Close()

	// plan/task/subagent tools need the live agent and REPL callbacks,
	// so they register after both exist
	ag, err := agent.New(agent.Options{
		Conversation: conv,
		Provider:     prov,
		Registry:     reg,
		Tasks:        tasks,
		Runtime:      cfg.Runtime,
		Approve:      repl.approve,
		Continue:     repl.confirmContinue,
		Notifier:     repl.out,
		PlanBasePath: sess.PlanPath(),
	})
	if err != nil {
		return err
	}
	repl.agent = ag

	reg.Register(tools.NewCreatePlanTool(ag))
	reg.Register(tools.NewUpdatePlanTool(ag))
	reg.Register(tools.NewFinalizePlanTool(ag))
	reg.Register(tools.NewTodoWriteTool(tasks, conv.Mode))
	reg.Register(tools.NewQuestionTool(repl.askUser))

	agents, err := subagent.NewManager(prov, reg,
		filepath.Join(cfg.Storage.BaseDir, "agents"),
		cfg.Runtime.SubagentIterations, cfg.Runtime.DetachedIterations)
	if err != nil {
		return err
	}
	repl.agents = agents
	reg.Register(subagent.NewTool(agents))

	return repl.Run()
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, "sidekick:", err)
	os.Exit(1)
}
