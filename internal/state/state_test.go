package state

import (
	"encoding/json"
	"reflect"
	"testing"
)

func TestParseMode(t *testing.T) {
	cases := []struct {
		in   string
		want Mode
		ok   bool
	}{
		{"plan", ModePlan, true},
		{"ACT", ModeAct, true},
		{"  bash ", ModeBash, true},
		{"yolo", "", false},
		{"", "", false},
	}
	for _, c := range cases {
		got, ok := ParseMode(c.in)
		if ok != c.ok || got != c.want {
			t.Fatalf("ParseMode(%q) = %q, %v; want %q, %v", c.in, got, ok, c.want, c.ok)
		}
	}
}

func TestSnapshotRoundTrip(t *testing.T) {
	c := NewConversation("/tmp/project")
	c.SetMode(ModePlan)
	c.SetProvider("openai", "gpt-test")
	c.AddUser("add a retry helper")
	c.AddAssistant("reading the code", []ToolCall{
		{ID: "call_1", Name: "read_file", Arguments: map[string]any{"path": "main.go"}},
	})
	c.AddToolResult(ToolResult{ToolCallID: "call_1", Name: "read_file", Result: "package main", Success: true})
	c.AddAssistant("done", nil)

	snap := c.Snapshot()

	// through JSON, like a checkpoint file
	data, err := json.Marshal(snap)
	if err != nil {
		t.Fatalf("marshal snapshot: %v", err)
	}
	var decoded Snapshot
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal snapshot: %v", err)
	}

	restored := NewConversation("elsewhere")
	restored.Restore(decoded)

	if restored.Mode() != ModePlan {
		t.Fatalf("mode = %s, want plan", restored.Mode())
	}
	if restored.Workdir() != "/tmp/project" {
		t.Fatalf("workdir = %s", restored.Workdir())
	}
	if restored.Provider() != "openai" || restored.Model() != "gpt-test" {
		t.Fatalf("provider/model = %s/%s", restored.Provider(), restored.Model())
	}
	got := restored.Messages()
	want := c.Messages()
	if len(got) != len(want) {
		t.Fatalf("message count = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if !reflect.DeepEqual(got[i], want[i]) {
			t.Fatalf("message %d differs:\n got %+v\nwant %+v", i, got[i], want[i])
		}
	}
}

func TestWireToolResult(t *testing.T) {
	m := Message{
		Role:    RoleTool,
		Content: "42 lines",
		ToolResult: &ToolResult{
			ToolCallID: "call_9",
			Name:       "grep",
			Result:     "42 lines",
			Success:    true,
		},
	}
	wire := m.Wire()
	if wire.Role != "tool" {
		t.Fatalf("role = %s, want tool", wire.Role)
	}
	if wire.ToolCallID != "call_9" || wire.Name != "grep" {
		t.Fatalf("correlation lost: id=%s name=%s", wire.ToolCallID, wire.Name)
	}
	if wire.Content != "42 lines" {
		t.Fatalf("content = %q", wire.Content)
	}
}

func TestWirePreservesToolCallOrder(t *testing.T) {
	c := NewConversation(".")
	calls := []ToolCall{
		{ID: "a", Name: "read_file", Arguments: map[string]any{"path": "a.go"}},
		{ID: "b", Name: "grep", Arguments: map[string]any{"pattern": "TODO"}},
		{ID: "c", Name: "list_dir", Arguments: map[string]any{}},
	}
	c.AddAssistant("", calls)

	wire := c.WireMessages()
	if len(wire) != 1 {
		t.Fatalf("wire count = %d", len(wire))
	}
	for i, id := range []string{"a", "b", "c"} {
		if wire[0].ToolCalls[i].ID != id {
			t.Fatalf("call %d has id %s, want %s", i, wire[0].ToolCalls[i].ID, id)
		}
	}
}

func TestClearKeepsIdentity(t *testing.T) {
	c := NewConversation("/w")
	c.SetMode(ModeBash)
	c.AddUser("hello")
	c.Clear()
	if c.Len() != 0 {
		t.Fatalf("len after clear = %d", c.Len())
	}
	if c.Mode() != ModeBash {
		t.Fatalf("mode after clear = %s", c.Mode())
	}
	if c.Workdir() != "/w" {
		t.Fatalf("workdir after clear = %s", c.Workdir())
	}
}
