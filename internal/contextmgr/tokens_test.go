package contextmgr

import (
	"strings"
	"testing"

	"sidekick/internal/chat"
)

func TestTextCounts(t *testing.T) {
	e := Default()
	if got := e.Text(""); got != 0 {
		t.Fatalf("empty text = %d tokens", got)
	}
	short := e.Text("hello world")
	long := e.Text(strings.Repeat("hello world ", 100))
	if short <= 0 {
		t.Fatalf("short text = %d tokens", short)
	}
	if long <= short {
		t.Fatalf("longer text should cost more: %d vs %d", long, short)
	}
}

func TestHeuristicFallback(t *testing.T) {
	e := New("no-such-encoding")
	if e.Precise() {
		t.Fatalf("unknown encoding should fall back to the heuristic")
	}
	if got := e.Text("四个汉字"); got < 4 {
		t.Fatalf("CJK heuristic undercounts: %d", got)
	}
	if got := e.Text("plain ascii words here"); got <= 0 {
		t.Fatalf("ascii heuristic = %d", got)
	}
}

func TestMessagesAddOverhead(t *testing.T) {
	e := New("no-such-encoding")
	msgs := []chat.Message{
		{Role: "user", Content: "hello"},
		{Role: "assistant", Content: "hi", ToolCalls: []chat.ToolCall{
			{ID: "1", Function: chat.ToolCallFunction{Name: "read_file", Arguments: `{"path":"a"}`}},
		}},
	}
	perMessage := e.Messages(msgs[:1])
	both := e.Messages(msgs)
	if perMessage <= e.Text("hello") {
		t.Fatalf("message overhead missing: %d", perMessage)
	}
	if both <= perMessage {
		t.Fatalf("second message added nothing: %d vs %d", both, perMessage)
	}
}
