package main

import (
	"fmt"
	"strconv"
	"strings"

	"sidekick/internal/state"
	"sidekick/internal/task"
)

// reloadTasks reads a session's task sidecar into a plain slice.
func reloadTasks(path string) ([]task.Task, error) {
	list, err := task.Load(path)
	if err != nil {
		return nil, err
	}
	return list.Tasks(), nil
}

// handleCommand routes one slash command. The returned bool asks the
// REPL to exit.
func (r *repl) handleCommand(line string) (bool, error) {
	fields := strings.Fields(line)
	cmd := fields[0]
	args := fields[1:]
	rest := strings.TrimSpace(strings.TrimPrefix(line, cmd))

	switch cmd {
	case "/help":
		r.printHelp()

	case "/plan":
		r.switchMode(state.ModePlan)
	case "/act":
		r.switchMode(state.ModeAct)
	case "/bash":
		r.switchMode(state.ModeBash)
	case "/mode":
		if len(args) == 0 {
			r.out.Plain("Current mode: %s", r.conv.Mode())
			return false, nil
		}
		mode, ok := state.ParseMode(args[0])
		if !ok {
			return false, fmt.Errorf("unknown mode %q (plan, act, bash)", args[0])
		}
		r.switchMode(mode)

	case "/new":
		return false, r.newSession()
	case "/clear":
		r.conv.Clear()
		r.persist()
		r.out.Success("Conversation cleared. Mode and tasks are kept.")
	case "/sessions":
		return false, r.listSessions()
	case "/resume":
		if len(args) == 0 {
			return false, fmt.Errorf("usage: /resume <session-id>")
		}
		return false, r.resumeSession(args[0])

	case "/checkpoint":
		return false, r.createCheckpoint(rest)
	case "/rewind":
		if len(args) == 0 {
			return false, fmt.Errorf("usage: /rewind <checkpoint-number>")
		}
		n, err := strconv.Atoi(args[0])
		if err != nil {
			return false, fmt.Errorf("invalid checkpoint number %q", args[0])
		}
		return false, r.rewind(n)

	case "/tasks":
		return false, r.tasksCommand(args)
	case "/plan-show":
		p := r.agent.Plan()
		if p == nil {
			r.out.Plain("No active plan. Switch to plan mode and ask for one.")
			return false, nil
		}
		r.out.Assistant(p.Markdown())

	case "/agents":
		if len(args) > 0 {
			h, ok := r.agents.Status(args[0])
			if !ok {
				return false, fmt.Errorf("no detached agent %s", args[0])
			}
			r.out.Plain("%s  %s\n  status:  %s\n  started: %s\n  log:     %s",
				shortID(h.ID), h.Kind, h.Status, h.StartedAt, h.LogPath)
			return false, nil
		}
		handles := r.agents.Handles()
		if len(handles) == 0 {
			r.out.Plain("No detached agents.")
			return false, nil
		}
		for _, h := range handles {
			r.out.Plain("%s  %-16s %-10s %s", shortID(h.ID), h.Kind, h.Status, h.LogPath)
		}

	case "/model":
		if len(args) == 0 {
			r.out.Plain("Current model: %s", r.prov.CurrentModel())
			return false, nil
		}
		if err := r.prov.SetModel(args[0]); err != nil {
			return false, err
		}
		r.conv.SetProvider(r.prov.Name(), r.prov.CurrentModel())
		r.out.Success("Model set to %s", args[0])

	case "/tokens":
		count := r.est.Messages(r.conv.WireMessages())
		precision := "estimated"
		if r.est.Precise() {
			precision = "tokenized"
		}
		r.out.Plain("Context: ~%d tokens (%s), limit %d", count, precision, r.cfg.Runtime.ContextTokenLimit)

	case "/exit", "/quit":
		r.persist()
		return true, nil

	default:
		return false, fmt.Errorf("unknown command %s (try /help)", cmd)
	}
	return false, nil
}

func (r *repl) switchMode(mode state.Mode) {
	r.conv.SetMode(mode)
	switch mode {
	case state.ModePlan:
		r.out.Notice("Plan mode: read-only exploration and plan building.")
	case state.ModeAct:
		r.out.Notice("Act mode: writes and commands run with approval.")
	case state.ModeBash:
		r.out.Notice("Bash mode: your input goes straight to the shell.")
	}
}

func (r *repl) newSession() error {
	sess, err := r.sessions.CreateSession(r.conv.Workdir(), "")
	if err != nil {
		return err
	}
	r.sess = sess
	r.conv.Clear()
	if err := r.tasks.SetPersistPath(sess.TasksPath()); err != nil {
		return err
	}
	if err := r.tasks.ClearAll(); err != nil {
		return err
	}
	if err := r.agent.BindSession(sess.PlanPath()); err != nil {
		return err
	}
	r.persist()
	r.out.Success("New session %s", shortID(sess.ID))
	return nil
}

func (r *repl) listSessions() error {
	sessions, err := r.sessions.ListSessions(r.conv.Workdir())
	if err != nil {
		return err
	}
	if len(sessions) == 0 {
		r.out.Plain("No sessions for this workspace yet.")
		return nil
	}
	for _, s := range sessions {
		marker := " "
		if s.ID == r.sess.ID {
			marker = "*"
		}
		r.out.Plain("%s %s  %-20s updated %s  checkpoints %d",
			marker, shortID(s.ID), s.Name, s.UpdatedAt, len(s.Checkpoints))
	}
	return nil
}

func (r *repl) resumeSession(id string) error {
	sess, err := r.sessions.LoadSession(id)
	if err != nil {
		return err
	}
	snap, ok, err := sess.LoadConversation()
	if err != nil {
		return err
	}
	r.sess = sess
	r.conv.Clear()
	if ok {
		r.conv.Restore(snap)
	}
	if err := r.tasks.SetPersistPath(sess.TasksPath()); err != nil {
		return err
	}
	loaded, err := reloadTasks(sess.TasksPath())
	if err != nil {
		return err
	}
	if err := r.tasks.Restore(loaded); err != nil {
		return err
	}
	if err := r.agent.BindSession(sess.PlanPath()); err != nil {
		return err
	}
	r.out.Success("Resumed session %s (%d messages, %d checkpoints)",
		shortID(sess.ID), r.conv.Len(), len(sess.Checkpoints))
	return nil
}

func (r *repl) createCheckpoint(message string) error {
	if message == "" {
		message = "checkpoint"
	}
	cp, err := r.sess.CreateCheckpoint(message, r.snapshot())
	if err != nil {
		return err
	}
	r.out.Success("Checkpoint %d created: %s", cp.Number, cp.Message)
	return nil
}

func (r *repl) rewind(n int) error {
	snap, err := r.sess.RewindTo(n)
	if err != nil {
		return err
	}
	r.conv.Restore(snap.Conversation)
	if err := r.tasks.Restore(snap.Tasks.Tasks); err != nil {
		return err
	}
	if err := r.agent.RestorePlan(snap.Plan); err != nil {
		return err
	}
	r.persist()
	r.out.Success("Rewound to checkpoint %d. Later checkpoints were discarded.", n)
	return nil
}

func (r *repl) tasksCommand(args []string) error {
	if len(args) == 0 {
		r.out.Plain("%s", r.tasks.Render())
		r.out.Plain("Progress: %s", r.tasks.ProgressLine())
		return nil
	}
	switch args[0] {
	case "from-plan":
		p := r.agent.Plan()
		if p == nil {
			return fmt.Errorf("no active plan to project tasks from")
		}
		specs := p.ToTasks()
		if len(specs) == 0 {
			return fmt.Errorf("the plan has no implementation steps yet")
		}
		// projection replaces the list, it does not append
		if err := r.tasks.ClearAll(); err != nil {
			return err
		}
		created, err := r.tasks.AddAll(specs)
		if err != nil {
			return err
		}
		r.out.Success("Created %d tasks from the plan.", len(created))
		r.out.Plain("%s", r.tasks.Render())
		return nil
	case "clear":
		n, err := r.tasks.ClearCompleted()
		if err != nil {
			return err
		}
		r.out.Success("Cleared %d completed tasks.", n)
		return nil
	default:
		return fmt.Errorf("usage: /tasks [from-plan|clear]")
	}
}

func (r *repl) printHelp() {
	r.out.Plain(`Commands:
  /plan /act /bash      switch mode (/mode <m> also works)
  /new                  start a fresh session
  /clear                clear the conversation, keep tasks and mode
  /sessions             list sessions for this workspace
  /resume <id>          resume a session
  /checkpoint [msg]     snapshot conversation, tasks and plan
  /rewind <n>           restore checkpoint n, discard later ones
  /tasks [from-plan]    show tasks, or project them from the plan
  /plan-show            render the active plan document
  /agents [id]          list detached subagents, or probe one
  /model [name]         show or set the model
  /tokens               estimate context size
  /exit                 quit`)
}
