package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"sidekick/internal/chat"
	"sidekick/internal/config"
	"sidekick/internal/provider"
	"sidekick/internal/security"
	"sidekick/internal/state"
	"sidekick/internal/task"
	"sidekick/internal/tools"
)

// scriptedProvider replays canned responses and records every request.
type scriptedProvider struct {
	mu        sync.Mutex
	responses []provider.Response
	requests  []provider.Request
	repeat    bool // when out of script, repeat the last response
}

func (p *scriptedProvider) Chat(ctx context.Context, req provider.Request) (provider.Response, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.requests = append(p.requests, req)
	idx := len(p.requests) - 1
	if idx >= len(p.responses) {
		if p.repeat && len(p.responses) > 0 {
			return p.responses[len(p.responses)-1], nil
		}
		return provider.Response{}, fmt.Errorf("%w: script exhausted", provider.ErrProvider)
	}
	return p.responses[idx], nil
}

func (p *scriptedProvider) Name() string               { return "scripted" }
func (p *scriptedProvider) CurrentModel() string       { return "test-model" }
func (p *scriptedProvider) SetModel(model string) error { return nil }

func (p *scriptedProvider) calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.requests)
}

// recordingTool notes every execution in arrival order.
type recordingTool struct {
	name string
	perm tools.Permission

	mu   sync.Mutex
	log  *[]string
	fail bool
}

func (r *recordingTool) Name() string                 { return r.name }
func (r *recordingTool) Description() string          { return "recording stub" }
func (r *recordingTool) Permission() tools.Permission { return r.perm }
func (r *recordingTool) Parameters() map[string]any   { return map[string]any{"type": "object"} }
func (r *recordingTool) Execute(ctx context.Context, args json.RawMessage) (tools.Result, error) {
	r.mu.Lock()
	*r.log = append(*r.log, r.name)
	r.mu.Unlock()
	if r.fail {
		return tools.Fail("stub failure"), nil
	}
	return tools.OK("ok from " + r.name), nil
}

func toolCall(id, name string) chat.ToolCall {
	return toolCallArgs(id, name, "{}")
}

func toolCallArgs(id, name, args string) chat.ToolCall {
	return chat.ToolCall{
		ID:   id,
		Type: "function",
		Function: chat.ToolCallFunction{
			Name:      name,
			Arguments: args,
		},
	}
}

func runtimeDefaults() config.RuntimeConfig {
	return config.RuntimeConfig{
		MaxTurnIterations:  25,
		IterationWarningAt: 20,
		SubagentIterations: 10,
		DetachedIterations: 15,
		ContextTokenLimit:  24000,
	}
}

type fixture struct {
	agent *Agent
	conv  *state.Conversation
	prov  *scriptedProvider
	log   []string
}

func newFixture(t *testing.T, mode state.Mode, prov *scriptedProvider, opts func(o *Options), toolSet ...tools.Tool) *fixture {
	t.Helper()
	f := &fixture{prov: prov}
	f.conv = state.NewConversation(t.TempDir())
	f.conv.SetMode(mode)

	reg := tools.NewRegistry(toolSet...)
	o := Options{
		Conversation: f.conv,
		Provider:     prov,
		Registry:     reg,
		Tasks:        task.NewList(),
		Runtime:      runtimeDefaults(),
	}
	if opts != nil {
		opts(&o)
	}
	ag, err := New(o)
	if err != nil {
		t.Fatalf("new agent: %v", err)
	}
	f.agent = ag
	return f
}

func TestTurnEndsWhenModelStopsCallingTools(t *testing.T) {
	prov := &scriptedProvider{responses: []provider.Response{
		{Content: "all done"},
	}}
	f := newFixture(t, state.ModeAct, prov, nil)

	reply, err := f.agent.RunTurn(context.Background(), "hello")
	if err != nil {
		t.Fatalf("run turn: %v", err)
	}
	if reply != "all done" {
		t.Fatalf("reply = %q", reply)
	}
	if prov.calls() != 1 {
		t.Fatalf("model calls = %d, want 1", prov.calls())
	}
}

func TestToolCallsExecuteInOrder(t *testing.T) {
	var log []string
	read := &recordingTool{name: "read_file", perm: tools.PermissionRead, log: &log}
	grep := &recordingTool{name: "grep", perm: tools.PermissionRead, log: &log}
	list := &recordingTool{name: "list_dir", perm: tools.PermissionRead, log: &log}

	prov := &scriptedProvider{responses: []provider.Response{
		{ToolCalls: []chat.ToolCall{
			toolCall("c1", "grep"),
			toolCall("c2", "read_file"),
			toolCall("c3", "list_dir"),
		}},
		{Content: "done"},
	}}
	f := newFixture(t, state.ModeAct, prov, nil, read, grep, list)

	if _, err := f.agent.RunTurn(context.Background(), "go"); err != nil {
		t.Fatalf("run turn: %v", err)
	}
	want := []string{"grep", "read_file", "list_dir"}
	if len(log) != len(want) {
		t.Fatalf("executed %v, want %v", log, want)
	}
	for i := range want {
		if log[i] != want[i] {
			t.Fatalf("execution order %v, want %v", log, want)
		}
	}

	// transcript results correlate with the calls, in the same order
	var results []state.ToolResult
	for _, m := range f.conv.Messages() {
		if m.ToolResult != nil {
			results = append(results, *m.ToolResult)
		}
	}
	wantIDs := []string{"c1", "c2", "c3"}
	if len(results) != 3 {
		t.Fatalf("result count = %d", len(results))
	}
	for i, res := range results {
		if res.ToolCallID != wantIDs[i] {
			t.Fatalf("result %d correlates %s, want %s", i, res.ToolCallID, wantIDs[i])
		}
	}
}

// The second call depends on the first's side effect: it can only
// succeed if calls run sequentially in emission order.
func TestDependentToolCallsRunSequentially(t *testing.T) {
	dir := t.TempDir()
	ws, err := security.NewWorkspace(dir)
	if err != nil {
		t.Fatalf("workspace: %v", err)
	}

	prov := &scriptedProvider{responses: []provider.Response{
		{ToolCalls: []chat.ToolCall{
			toolCallArgs("w1", "write_file", `{"path": "note.txt", "content": "written first"}`),
			toolCallArgs("r2", "read_file", `{"path": "note.txt"}`),
		}},
		{Content: "done"},
	}}
	f := newFixture(t, state.ModeAct, prov, func(o *Options) {
		o.Approve = func(ctx context.Context, toolName, summary string) (bool, error) {
			return true, nil
		}
	}, tools.NewWriteTool(ws), tools.NewReadTool(ws))

	if _, err := f.agent.RunTurn(context.Background(), "write then read it back"); err != nil {
		t.Fatalf("run turn: %v", err)
	}

	var readRes *state.ToolResult
	for _, m := range f.conv.Messages() {
		if m.ToolResult != nil && m.ToolResult.ToolCallID == "r2" {
			res := *m.ToolResult
			readRes = &res
		}
	}
	if readRes == nil {
		t.Fatalf("read call has no result")
	}
	if !readRes.Success || !strings.Contains(readRes.Result, "written first") {
		t.Fatalf("read after write failed: %+v", readRes)
	}
}

// A declined approval records exactly one failed result, runs nothing,
// and makes no further model calls.
func TestDeclinedApprovalEndsTurn(t *testing.T) {
	var log []string
	write := &recordingTool{name: "write_file", perm: tools.PermissionWrite, log: &log}

	prov := &scriptedProvider{responses: []provider.Response{
		{ToolCalls: []chat.ToolCall{toolCall("w1", "write_file")}},
		{Content: "should never be reached"},
	}}
	f := newFixture(t, state.ModeAct, prov, func(o *Options) {
		o.Approve = func(ctx context.Context, toolName, summary string) (bool, error) {
			return false, nil
		}
	}, write)

	_, err := f.agent.RunTurn(context.Background(), "write it")
	if !errors.Is(err, ErrDeclined) {
		t.Fatalf("err = %v, want ErrDeclined", err)
	}
	if len(log) != 0 {
		t.Fatalf("declined tool ran anyway: %v", log)
	}
	if prov.calls() != 1 {
		t.Fatalf("model calls after decline = %d, want 1", prov.calls())
	}

	msgs := f.conv.Messages()
	last := msgs[len(msgs)-1]
	if last.ToolResult == nil || last.ToolResult.Success {
		t.Fatalf("decline not recorded as failed result: %+v", last)
	}
	if last.ToolResult.ToolCallID != "w1" {
		t.Fatalf("decline result correlates %s", last.ToolResult.ToolCallID)
	}
}

// A decline halfway through a batch still records a result for every
// call the model emitted, so the assistant message's tool_calls all
// have matching tool messages and the next turn's replay is accepted.
func TestDeclineMidBatchRecordsRemainingResults(t *testing.T) {
	var log []string
	write := &recordingTool{name: "write_file", perm: tools.PermissionWrite, log: &log}
	read := &recordingTool{name: "read_file", perm: tools.PermissionRead, log: &log}

	prov := &scriptedProvider{responses: []provider.Response{
		{ToolCalls: []chat.ToolCall{
			toolCall("c1", "write_file"),
			toolCall("c2", "read_file"),
		}},
	}}
	f := newFixture(t, state.ModeAct, prov, func(o *Options) {
		o.Approve = func(ctx context.Context, toolName, summary string) (bool, error) {
			return false, nil
		}
	}, write, read)

	_, err := f.agent.RunTurn(context.Background(), "write then read")
	if !errors.Is(err, ErrDeclined) {
		t.Fatalf("err = %v, want ErrDeclined", err)
	}
	if len(log) != 0 {
		t.Fatalf("tools ran after decline: %v", log)
	}

	results := map[string]state.ToolResult{}
	for _, m := range f.conv.Messages() {
		if m.ToolResult != nil {
			results[m.ToolResult.ToolCallID] = *m.ToolResult
		}
	}
	for _, id := range []string{"c1", "c2"} {
		res, ok := results[id]
		if !ok {
			t.Fatalf("call %s has no recorded result (results: %v)", id, results)
		}
		if res.Success {
			t.Fatalf("call %s recorded as success after decline", id)
		}
	}
	if !strings.Contains(results["c2"].Result, "not executed") {
		t.Fatalf("skipped call result = %q", results["c2"].Result)
	}
}

func TestApprovedToolRuns(t *testing.T) {
	var log []string
	write := &recordingTool{name: "write_file", perm: tools.PermissionWrite, log: &log}

	prov := &scriptedProvider{responses: []provider.Response{
		{ToolCalls: []chat.ToolCall{toolCall("w1", "write_file")}},
		{Content: "written"},
	}}
	approvals := 0
	f := newFixture(t, state.ModeAct, prov, func(o *Options) {
		o.Approve = func(ctx context.Context, toolName, summary string) (bool, error) {
			approvals++
			return true, nil
		}
	}, write)

	reply, err := f.agent.RunTurn(context.Background(), "write it")
	if err != nil {
		t.Fatalf("run turn: %v", err)
	}
	if reply != "written" || approvals != 1 || len(log) != 1 {
		t.Fatalf("reply=%q approvals=%d executions=%v", reply, approvals, log)
	}
}

func TestUnknownToolBecomesFailedResult(t *testing.T) {
	prov := &scriptedProvider{responses: []provider.Response{
		{ToolCalls: []chat.ToolCall{toolCall("x1", "no_such_tool")}},
		{Content: "recovered"},
	}}
	f := newFixture(t, state.ModeAct, prov, nil)

	reply, err := f.agent.RunTurn(context.Background(), "try it")
	if err != nil {
		t.Fatalf("run turn: %v", err)
	}
	if reply != "recovered" {
		t.Fatalf("reply = %q", reply)
	}
	var found bool
	for _, m := range f.conv.Messages() {
		if m.ToolResult != nil && !m.ToolResult.Success {
			found = true
		}
	}
	if !found {
		t.Fatalf("unknown tool did not produce a failed result")
	}
}

func TestModeDisallowedToolBecomesFailedResult(t *testing.T) {
	var log []string
	write := &recordingTool{name: "write_file", perm: tools.PermissionWrite, log: &log}

	prov := &scriptedProvider{responses: []provider.Response{
		{ToolCalls: []chat.ToolCall{toolCall("w1", "write_file")}},
		{Content: "ok"},
	}}
	f := newFixture(t, state.ModePlan, prov, nil, write)

	if _, err := f.agent.RunTurn(context.Background(), "sneaky write"); err != nil {
		t.Fatalf("run turn: %v", err)
	}
	if len(log) != 0 {
		t.Fatalf("write ran in plan mode")
	}
	msgs := f.conv.Messages()
	var res *state.ToolResult
	for i := range msgs {
		if msgs[i].ToolResult != nil {
			res = msgs[i].ToolResult
		}
	}
	if res == nil || res.Success {
		t.Fatalf("disallowed call not failed: %+v", res)
	}
}

// Act turns hit the hard cap, with exactly one continue signal at the
// warning iteration.
func TestIterationCapWithSingleWarning(t *testing.T) {
	var log []string
	read := &recordingTool{name: "read_file", perm: tools.PermissionRead, log: &log}

	prov := &scriptedProvider{
		responses: []provider.Response{
			{ToolCalls: []chat.ToolCall{toolCall("r", "read_file")}},
		},
		repeat: true,
	}
	warnings := 0
	f := newFixture(t, state.ModeAct, prov, func(o *Options) {
		o.Continue = func(iteration, limit int) bool {
			warnings++
			if iteration != 20 || limit != 25 {
				t.Fatalf("warning at iteration=%d limit=%d", iteration, limit)
			}
			return true
		}
	}, read)

	_, err := f.agent.RunTurn(context.Background(), "loop forever")
	if !errors.Is(err, ErrIterationLimit) {
		t.Fatalf("err = %v, want ErrIterationLimit", err)
	}
	if warnings != 1 {
		t.Fatalf("continue signal fired %d times, want exactly 1", warnings)
	}
	if prov.calls() != 25 {
		t.Fatalf("model calls = %d, want 25", prov.calls())
	}
}

func TestContinueDeclineStopsTurn(t *testing.T) {
	var log []string
	read := &recordingTool{name: "read_file", perm: tools.PermissionRead, log: &log}

	prov := &scriptedProvider{
		responses: []provider.Response{
			{ToolCalls: []chat.ToolCall{toolCall("r", "read_file")}},
		},
		repeat: true,
	}
	f := newFixture(t, state.ModeAct, prov, func(o *Options) {
		o.Continue = func(iteration, limit int) bool { return false }
	}, read)

	reply, err := f.agent.RunTurn(context.Background(), "loop")
	if err != nil {
		t.Fatalf("declining the warning is not an error: %v", err)
	}
	if reply == "" {
		t.Fatalf("expected a stop notice")
	}
	// the warning fires before iteration 20's model call
	if prov.calls() != 19 {
		t.Fatalf("model calls = %d, want 19", prov.calls())
	}
}

func TestProviderErrorAbortsTurn(t *testing.T) {
	prov := &scriptedProvider{} // empty script: first call fails
	f := newFixture(t, state.ModeAct, prov, nil)

	_, err := f.agent.RunTurn(context.Background(), "hi")
	if !errors.Is(err, provider.ErrProvider) {
		t.Fatalf("err = %v, want wrapped ErrProvider", err)
	}
}

func TestCancelledContextIsInterrupted(t *testing.T) {
	prov := &scriptedProvider{responses: []provider.Response{{Content: "x"}}}
	f := newFixture(t, state.ModeAct, prov, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := f.agent.RunTurn(ctx, "hi")
	if !errors.Is(err, ErrInterrupted) {
		t.Fatalf("err = %v, want ErrInterrupted", err)
	}
}

func TestSystemPromptDeterministic(t *testing.T) {
	tasks := task.NewList()
	a := buildSystemPrompt(state.ModeAct, "/w", tasks, nil)
	b := buildSystemPrompt(state.ModeAct, "/w", tasks, nil)
	if a != b {
		t.Fatalf("system prompt differs between identical builds")
	}
	if a == buildSystemPrompt(state.ModePlan, "/w", tasks, nil) {
		t.Fatalf("plan and act prompts should differ")
	}
}

func TestBashModeHasNoAgentLoop(t *testing.T) {
	prov := &scriptedProvider{}
	f := newFixture(t, state.ModeBash, prov, nil)
	if _, err := f.agent.RunTurn(context.Background(), "ls"); err == nil {
		t.Fatalf("bash mode turn must be rejected")
	}
	if prov.calls() != 0 {
		t.Fatalf("bash mode called the model")
	}
}
