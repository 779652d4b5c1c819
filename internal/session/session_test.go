package session

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"sidekick/internal/state"
	"sidekick/internal/task"
)

func newTestSession(t *testing.T) (*Manager, *Session) {
	t.Helper()
	mgr, err := NewManager(t.TempDir())
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	sess, err := mgr.CreateSession(t.TempDir(), "test")
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	return mgr, sess
}

func snapshotN(n int) Snapshot {
	conv := state.NewConversation("/w")
	for i := 0; i < n; i++ {
		conv.AddUser(fmt.Sprintf("message %d", i))
	}
	return Snapshot{
		Conversation: conv.Snapshot(),
		Mode:         "act",
		Tasks:        TasksSnapshot{Tasks: []task.Task{{ID: fmt.Sprintf("t%d", n), Content: "X", State: task.StatePending}}},
	}
}

func TestCheckpointNumbersAreSequential(t *testing.T) {
	_, sess := newTestSession(t)
	for i := 1; i <= 5; i++ {
		cp, err := sess.CreateCheckpoint(fmt.Sprintf("cp %d", i), snapshotN(i))
		if err != nil {
			t.Fatalf("checkpoint %d: %v", i, err)
		}
		if cp.Number != i {
			t.Fatalf("checkpoint number = %d, want %d", cp.Number, i)
		}
	}
	if len(sess.Checkpoints) != 5 {
		t.Fatalf("checkpoint count = %d", len(sess.Checkpoints))
	}
}

func TestRewind(t *testing.T) {
	_, sess := newTestSession(t)
	for i := 1; i <= 5; i++ {
		if _, err := sess.CreateCheckpoint(fmt.Sprintf("cp %d", i), snapshotN(i)); err != nil {
			t.Fatalf("checkpoint %d: %v", i, err)
		}
	}

	snap, err := sess.RewindTo(3)
	if err != nil {
		t.Fatalf("rewind: %v", err)
	}
	if len(snap.Conversation.Messages) != 3 {
		t.Fatalf("restored %d messages, want 3", len(snap.Conversation.Messages))
	}
	if len(sess.Checkpoints) != 3 {
		t.Fatalf("checkpoints after rewind = %d, want 3", len(sess.Checkpoints))
	}
	for n := 4; n <= 5; n++ {
		if _, err := os.Stat(sess.checkpointPath(n)); !os.IsNotExist(err) {
			t.Fatalf("checkpoint file %d survived the rewind", n)
		}
	}
	for n := 1; n <= 3; n++ {
		if _, err := os.Stat(sess.checkpointPath(n)); err != nil {
			t.Fatalf("checkpoint file %d missing: %v", n, err)
		}
	}
}

func TestRewindOutOfRange(t *testing.T) {
	_, sess := newTestSession(t)
	for i := 1; i <= 2; i++ {
		sess.CreateCheckpoint("cp", snapshotN(i))
	}
	for _, n := range []int{0, 3, -1} {
		if _, err := sess.RewindTo(n); err == nil {
			t.Fatalf("rewind to %d must fail", n)
		}
	}
	if len(sess.Checkpoints) != 2 {
		t.Fatalf("failed rewind mutated state: %d checkpoints", len(sess.Checkpoints))
	}
}

func TestConversationRoundTrip(t *testing.T) {
	_, sess := newTestSession(t)
	conv := state.NewConversation("/w")
	conv.AddUser("hi")
	conv.AddAssistant("hello", nil)
	if err := sess.SaveConversation(conv.Snapshot()); err != nil {
		t.Fatalf("save: %v", err)
	}
	snap, ok, err := sess.LoadConversation()
	if err != nil || !ok {
		t.Fatalf("load: ok=%v err=%v", ok, err)
	}
	if len(snap.Messages) != 2 {
		t.Fatalf("loaded %d messages", len(snap.Messages))
	}
}

func TestListSessionsFiltersByProject(t *testing.T) {
	base := t.TempDir()
	mgr, err := NewManager(base)
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	projA := t.TempDir()
	projB := t.TempDir()

	first, err := mgr.CreateSession(projA, "one")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	time.Sleep(1100 * time.Millisecond) // updated_at has second precision
	second, err := mgr.CreateSession(projA, "two")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := mgr.CreateSession(projB, "other"); err != nil {
		t.Fatalf("create: %v", err)
	}

	got, err := mgr.ListSessions(projA)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("listed %d sessions for project A, want 2", len(got))
	}
	if got[0].ID != second.ID {
		t.Fatalf("newest first: got %s, want %s", got[0].ID, second.ID)
	}
	if got[1].ID != first.ID {
		t.Fatalf("order: got %s, want %s", got[1].ID, first.ID)
	}

	all, err := mgr.ListSessions("")
	if err != nil {
		t.Fatalf("list all: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("listed %d sessions total, want 3", len(all))
	}
}

func TestSessionFilesLayout(t *testing.T) {
	_, sess := newTestSession(t)
	for _, name := range []string{"session.json", "conversation.json", "tasks.json"} {
		if _, err := os.Stat(filepath.Join(sess.Dir(), name)); err != nil {
			t.Fatalf("%s missing: %v", name, err)
		}
	}
	if _, err := os.Stat(filepath.Join(sess.Dir(), "checkpoints")); err != nil {
		t.Fatalf("checkpoints dir missing: %v", err)
	}
}
