package storage

import (
	"path/filepath"
	"testing"

	"sidekick/internal/state"
)

func newStore(t *testing.T) *HistoryStore {
	t.Helper()
	s, err := NewHistoryStore(filepath.Join(t.TempDir(), "history.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSaveLoadMessages(t *testing.T) {
	s := newStore(t)
	msgs := []state.Message{
		{Role: state.RoleUser, Content: "add logging", Timestamp: "2026-08-01T10:00:00Z"},
		{
			Role:      state.RoleAssistant,
			Content:   "reading main",
			Timestamp: "2026-08-01T10:00:01Z",
			ToolCalls: []state.ToolCall{
				{ID: "c1", Name: "read_file", Arguments: map[string]any{"path": "main.go"}},
			},
		},
		{
			Role:      state.RoleTool,
			Content:   "package main",
			Timestamp: "2026-08-01T10:00:02Z",
			ToolResult: &state.ToolResult{
				ToolCallID: "c1", Name: "read_file", Result: "package main", Success: true,
			},
		},
	}
	if err := s.SaveMessages("sess-1", msgs); err != nil {
		t.Fatalf("save: %v", err)
	}

	got, err := s.LoadMessages("sess-1")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(got) != len(msgs) {
		t.Fatalf("loaded %d messages, want %d", len(got), len(msgs))
	}
	if got[1].ToolCalls[0].ID != "c1" || got[1].ToolCalls[0].Name != "read_file" {
		t.Fatalf("tool call lost: %+v", got[1])
	}
	if got[2].ToolResult == nil || !got[2].ToolResult.Success {
		t.Fatalf("tool result lost: %+v", got[2])
	}
	if got[0].Timestamp != msgs[0].Timestamp {
		t.Fatalf("timestamp drifted: %s", got[0].Timestamp)
	}
}

func TestSaveReplacesPriorHistory(t *testing.T) {
	s := newStore(t)
	if err := s.SaveMessages("sess-1", []state.Message{
		{Role: state.RoleUser, Content: "one", Timestamp: "2026-08-01T10:00:00Z"},
		{Role: state.RoleUser, Content: "two", Timestamp: "2026-08-01T10:00:01Z"},
	}); err != nil {
		t.Fatalf("save: %v", err)
	}
	// a rewind truncates the transcript; the next sync must not keep
	// orphan rows
	if err := s.SaveMessages("sess-1", []state.Message{
		{Role: state.RoleUser, Content: "one", Timestamp: "2026-08-01T10:00:00Z"},
	}); err != nil {
		t.Fatalf("resave: %v", err)
	}
	got, err := s.LoadMessages("sess-1")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(got) != 1 || got[0].Content != "one" {
		t.Fatalf("replace-all failed: %+v", got)
	}
}

func TestSessionsIsolated(t *testing.T) {
	s := newStore(t)
	s.SaveMessages("a", []state.Message{{Role: state.RoleUser, Content: "for a", Timestamp: "2026-08-01T10:00:00Z"}})
	s.SaveMessages("b", []state.Message{{Role: state.RoleUser, Content: "for b", Timestamp: "2026-08-01T10:00:00Z"}})

	got, err := s.LoadMessages("a")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(got) != 1 || got[0].Content != "for a" {
		t.Fatalf("session isolation broken: %+v", got)
	}
}

func TestApprovalLog(t *testing.T) {
	s := newStore(t)
	entries := []ApprovalEntry{
		{SessionID: "sess-1", Tool: "write_file", Decision: "approved", Reason: "write_file main.go"},
		{SessionID: "sess-1", Tool: "bash", Decision: "denied", Reason: "bash rm -rf build"},
		{SessionID: "sess-2", Tool: "bash", Decision: "approved", Reason: "bash go test"},
	}
	for _, e := range entries {
		if err := s.LogApproval(e); err != nil {
			t.Fatalf("log: %v", err)
		}
	}
	got, err := s.Approvals("sess-1")
	if err != nil {
		t.Fatalf("approvals: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("approval count = %d, want 2", len(got))
	}
	if got[0].Decision != "approved" || got[1].Decision != "denied" {
		t.Fatalf("approval order/content: %+v", got)
	}
}
