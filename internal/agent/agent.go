package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"sidekick/internal/chat"
	"sidekick/internal/config"
	"sidekick/internal/plan"
	"sidekick/internal/provider"
	"sidekick/internal/state"
	"sidekick/internal/task"
	"sidekick/internal/tools"
)

// ApproveFunc asks the user to approve one tool execution. The summary
// is a short human-readable rendering of the call.
type ApproveFunc func(ctx context.Context, toolName, summary string) (bool, error)

// ContinueFunc is the cooperative long-turn signal: fired once per act
// turn at the warning iteration. Returning false stops the turn.
type ContinueFunc func(iteration, limit int) bool

// Notifier receives progress events for rendering. Any method may be
// called from the middle of a turn.
type Notifier interface {
	ToolStart(name, summary string)
	ToolDone(name string, success bool)
}

// Agent 回合驱动器：一次用户输入对应一次 RunTurn，内部做模型/工具步进循环
// Agent drives one conversation turn per user input: a step loop of
// model call, ordered tool dispatch, and result feedback, until the
// model answers with no tool calls or a stop condition fires.
type Agent struct {
	conv    *state.Conversation
	prov    provider.Provider
	reg     *tools.Registry
	tasks   *task.List
	runtime config.RuntimeConfig

	approve  ApproveFunc
	cont     ContinueFunc
	notifier Notifier

	plan     *plan.Plan
	planBase string
}

type Options struct {
	Conversation *state.Conversation
	Provider     provider.Provider
	Registry     *tools.Registry
	Tasks        *task.List
	Runtime      config.RuntimeConfig
	Approve      ApproveFunc
	Continue     ContinueFunc
	Notifier     Notifier
	// PlanBasePath is the extensionless base for plan persistence.
	PlanBasePath string
}

func New(opts Options) (*Agent, error) {
	if opts.Conversation == nil || opts.Provider == nil || opts.Registry == nil || opts.Tasks == nil {
		return nil, fmt.Errorf("agent: conversation, provider, registry and tasks are required")
	}
	a := &Agent{
		conv:     opts.Conversation,
		prov:     opts.Provider,
		reg:      opts.Registry,
		tasks:    opts.Tasks,
		runtime:  opts.Runtime,
		approve:  opts.Approve,
		cont:     opts.Continue,
		notifier: opts.Notifier,
		planBase: opts.PlanBasePath,
	}
	if a.planBase != "" {
		p, err := plan.Load(a.planBase)
		if err != nil {
			return nil, err
		}
		a.plan = p
	}
	return a, nil
}

// Plan / SetPlan / PlanBasePath let plan tools mutate the active plan
// through the agent.
func (a *Agent) Plan() *plan.Plan        { return a.plan }
func (a *Agent) SetPlan(p *plan.Plan)    { a.plan = p }
func (a *Agent) PlanBasePath() string    { return a.planBase }
func (a *Agent) Tasks() *task.List       { return a.tasks }
func (a *Agent) Conversation() *state.Conversation { return a.conv }

var _ tools.PlanStore = (*Agent)(nil)

// BindSession repoints plan persistence at a different session and
// loads whatever plan that session has.
func (a *Agent) BindSession(planBase string) error {
	a.planBase = planBase
	if planBase == "" {
		a.plan = nil
		return nil
	}
	p, err := plan.Load(planBase)
	if err != nil {
		return err
	}
	a.plan = p
	return nil
}

// RestorePlan swaps the active plan after a checkpoint rewind and
// rewrites its persisted artifacts to the restored state.
func (a *Agent) RestorePlan(p *plan.Plan) error {
	if p != nil && a.planBase != "" {
		if err := p.SetPersistPath(a.planBase); err != nil {
			return err
		}
		if err := p.Save(); err != nil {
			return err
		}
	}
	a.plan = p
	return nil
}

// RunTurn processes one user input to completion.
//
// Plan mode is unbounded: exploration length is the model's business.
// Act mode is capped, with a single cooperative continue prompt at the
// warning iteration. Tool calls within a step execute sequentially in
// the model's order; results are fed back in that same order.
func (a *Agent) RunTurn(ctx context.Context, userInput string) (string, error) {
	mode := a.conv.Mode()
	if mode == state.ModeBash {
		return "", fmt.Errorf("bash mode has no agent loop; run commands directly")
	}
	a.conv.AddUser(userInput)

	limit := 0 // unbounded
	if mode == state.ModeAct {
		limit = a.runtime.MaxTurnIterations
	}
	warned := false

	for iteration := 1; ; iteration++ {
		if err := ctx.Err(); err != nil {
			return "", fmt.Errorf("%w: %v", ErrInterrupted, err)
		}
		if limit > 0 && iteration > limit {
			return "", fmt.Errorf("%w after %d iterations", ErrIterationLimit, limit)
		}
		if limit > 0 && !warned && iteration == a.runtime.IterationWarningAt {
			warned = true
			if a.cont != nil && !a.cont(iteration, limit) {
				return "Stopped at your request before finishing the turn.", nil
			}
		}

		// tool visibility is re-derived every step from current state
		visible := a.reg.ForContext(mode, a.plan != nil)
		req := provider.Request{
			Model:    a.prov.CurrentModel(),
			Messages: a.wireMessages(mode),
			Tools:    tools.Definitions(visible),
		}
		resp, err := a.prov.Chat(ctx, req)
		if err != nil {
			if ctx.Err() != nil {
				return "", fmt.Errorf("%w: %v", ErrInterrupted, ctx.Err())
			}
			return "", err
		}

		calls := decodeCalls(resp.ToolCalls)
		a.conv.AddAssistant(resp.Content, calls)
		if len(calls) == 0 {
			return resp.Content, nil
		}

		if err := a.dispatch(ctx, mode, resp.ToolCalls); err != nil {
			return "", err
		}
	}
}

// wireMessages prepends the freshly built system prompt to the stored
// transcript.
func (a *Agent) wireMessages(mode state.Mode) []chat.Message {
	system := chat.Message{
		Role:    string(state.RoleSystem),
		Content: buildSystemPrompt(mode, a.conv.Workdir(), a.tasks, a.plan),
	}
	return append([]chat.Message{system}, a.conv.WireMessages()...)
}

// dispatch executes one step's tool calls strictly in order. Every call
// in the batch gets a result message, success or not: when a decline or
// interrupt ends the turn early, the calls that never ran still get
// failed results so the assistant message's tool_calls all have matching
// tool messages and the transcript replays cleanly next turn.
func (a *Agent) dispatch(ctx context.Context, mode state.Mode, calls []chat.ToolCall) error {
	for i, call := range calls {
		name := call.Function.Name
		result, err := a.runCall(ctx, mode, call)
		if err != nil {
			if errors.Is(err, ErrDeclined) {
				a.record(call, tools.Fail("user declined to run %s; the operation was not performed", name))
				a.failRemaining(calls[i+1:], "not executed: an earlier call in this batch was declined")
				return ErrDeclined
			}
			if ctx.Err() != nil || errors.Is(err, ErrInterrupted) {
				a.record(call, tools.Fail("interrupted"))
				a.failRemaining(calls[i+1:], "not executed: an earlier call in this batch was interrupted")
				return fmt.Errorf("%w: %s", ErrInterrupted, name)
			}
			// tool-internal failure: feed it back, keep the turn going
			result = tools.Fail("%v", err)
		}
		a.record(call, result)
	}
	return nil
}

// failRemaining records a failed result for every call that was skipped
// when its batch ended early.
func (a *Agent) failRemaining(calls []chat.ToolCall, reason string) {
	for _, call := range calls {
		a.record(call, tools.Fail("%s", reason))
	}
}

func (a *Agent) runCall(ctx context.Context, mode state.Mode, call chat.ToolCall) (tools.Result, error) {
	name := call.Function.Name
	tool, ok := a.reg.Get(name)
	if !ok {
		return tools.Fail("unknown tool: %s", name), nil
	}
	if !tools.AllowedInMode(tool.Permission(), mode) {
		return tools.Fail("tool %s is not allowed in %s mode", name, mode), nil
	}
	if mode == state.ModePlan && a.plan == nil {
		switch name {
		case tools.NameUpdatePlan, tools.NameFinalizePlan, tools.NameTodoWrite:
			return tools.Fail("tool %s requires an active plan; call %s first", name, tools.NameCreatePlan), nil
		}
	}

	summary := callSummary(call)
	if tools.RequiresApproval(tool.Permission(), mode) {
		if a.approve == nil {
			return tools.Fail("tool %s requires approval and no approver is attached", name), nil
		}
		ok, err := a.approve(ctx, name, summary)
		if err != nil {
			return tools.Result{}, err
		}
		if !ok {
			return tools.Result{}, ErrDeclined
		}
	}

	if a.notifier != nil {
		a.notifier.ToolStart(name, summary)
	}
	res, err := tool.Execute(ctx, json.RawMessage(call.Function.Arguments))
	if a.notifier != nil {
		a.notifier.ToolDone(name, err == nil && res.Success)
	}
	return res, err
}

func (a *Agent) record(call chat.ToolCall, res tools.Result) {
	a.conv.AddToolResult(state.ToolResult{
		ToolCallID: call.ID,
		Name:       call.Function.Name,
		Result:     res.Text(),
		Success:    res.Success,
	})
}

// decodeCalls converts wire tool calls into transcript form with
// decoded argument maps. Undecodable arguments are kept as raw text
// under a single key so the transcript stays faithful.
func decodeCalls(calls []chat.ToolCall) []state.ToolCall {
	if len(calls) == 0 {
		return nil
	}
	out := make([]state.ToolCall, 0, len(calls))
	for _, c := range calls {
		args := map[string]any{}
		if err := json.Unmarshal([]byte(c.Function.Arguments), &args); err != nil {
			args = map[string]any{"_raw": c.Function.Arguments}
		}
		out = append(out, state.ToolCall{ID: c.ID, Name: c.Function.Name, Arguments: args})
	}
	return out
}

// callSummary renders a one-line description of a call for approval
// prompts and progress display.
func callSummary(call chat.ToolCall) string {
	var args map[string]any
	if err := json.Unmarshal([]byte(call.Function.Arguments), &args); err != nil || len(args) == 0 {
		return call.Function.Name
	}
	for _, key := range []string{"command", "path", "url", "pattern", "kind", "question", "title", "action"} {
		if v, ok := args[key].(string); ok && v != "" {
			if len(v) > 120 {
				v = v[:120] + "..."
			}
			return fmt.Sprintf("%s %s", call.Function.Name, v)
		}
	}
	return call.Function.Name
}
