package task

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// ErrTaskInProgress 已有任务进行中时再次 Start 返回该错误
// ErrTaskInProgress is returned when Start is called while a different
// task is already in progress.
var ErrTaskInProgress = errors.New("another task is already in progress")

// State of a single task.
type State string

const (
	StatePending    State = "pending"
	StateInProgress State = "in_progress"
	StateCompleted  State = "completed"
)

// Task 待办条目；content 为祈使句，active_form 为进行时表述
// Task is one todo entry; content is imperative phrasing, active_form
// is the present-continuous phrasing shown while it runs.
type Task struct {
	ID          string            `json:"id"`
	Content     string            `json:"content"`
	ActiveForm  string            `json:"active_form"`
	State       State             `json:"state"`
	CreatedAt   string            `json:"created_at"`
	StartedAt   string            `json:"started_at,omitempty"`
	CompletedAt string            `json:"completed_at,omitempty"`
	ParentID    string            `json:"parent_id,omitempty"`
	Metadata    map[string]any    `json:"metadata,omitempty"`
}

// Spec is the input shape for bulk task creation.
type Spec struct {
	Content    string         `json:"content"`
	ActiveForm string         `json:"active_form"`
	ParentID   string         `json:"parent_id,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// List 任务列表；持久化为 write-through JSON sidecar
// List holds tasks and rewrites its JSON sidecar after every mutation.
type List struct {
	tasks       []Task
	persistPath string
}

func NewList() *List {
	return &List{}
}

// SetPersistPath enables write-through persistence to the given file.
func (l *List) SetPersistPath(path string) error {
	if strings.TrimSpace(path) == "" {
		return fmt.Errorf("persist path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create task directory: %w", err)
	}
	l.persistPath = path
	return nil
}

// Load reads a task list from its sidecar file. A missing file yields
// an empty list bound to that path.
func Load(path string) (*List, error) {
	l := NewList()
	if err := l.SetPersistPath(path); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return l, nil
		}
		return nil, fmt.Errorf("read tasks: %w", err)
	}
	var file sidecar
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("decode tasks: %w", err)
	}
	l.tasks = file.Tasks
	return l, nil
}

type sidecar struct {
	Tasks []Task `json:"tasks"`
}

func (l *List) persist() error {
	if l.persistPath == "" {
		return nil
	}
	data, err := json.MarshalIndent(sidecar{Tasks: l.tasks}, "", "  ")
	if err != nil {
		return fmt.Errorf("encode tasks: %w", err)
	}
	tmp := l.persistPath + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write tasks: %w", err)
	}
	return os.Rename(tmp, l.persistPath)
}

func newTaskID() string {
	buf := make([]byte, 4)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

func nowUTC() string {
	return time.Now().UTC().Format(time.RFC3339)
}

// Add creates a single pending task and persists the list.
func (l *List) Add(spec Spec) (Task, error) {
	t := Task{
		ID:         newTaskID(),
		Content:    spec.Content,
		ActiveForm: spec.ActiveForm,
		State:      StatePending,
		CreatedAt:  nowUTC(),
		ParentID:   spec.ParentID,
		Metadata:   spec.Metadata,
	}
	l.tasks = append(l.tasks, t)
	if err := l.persist(); err != nil {
		return Task{}, err
	}
	return t, nil
}

// AddAll creates tasks in order; the sidecar is rewritten once per task
// (write-through, matching single adds).
func (l *List) AddAll(specs []Spec) ([]Task, error) {
	created := make([]Task, 0, len(specs))
	for _, spec := range specs {
		t, err := l.Add(spec)
		if err != nil {
			return created, err
		}
		created = append(created, t)
	}
	return created, nil
}

// Get returns the task with the given ID.
func (l *List) Get(id string) (Task, bool) {
	for _, t := range l.tasks {
		if t.ID == id {
			return t, true
		}
	}
	return Task{}, false
}

// InProgress returns the currently active task, if any. The list
// invariant keeps this to at most one.
func (l *List) InProgress() (Task, bool) {
	for _, t := range l.tasks {
		if t.State == StateInProgress {
			return t, true
		}
	}
	return Task{}, false
}

// Start marks a task in_progress. Starting a second task while another
// is active is a reported error and leaves both tasks unchanged.
func (l *List) Start(id string) (Task, error) {
	if current, ok := l.InProgress(); ok && current.ID != id {
		return Task{}, fmt.Errorf(
			"cannot start task %s: task %q is already in progress; complete it first or mark it as pending: %w",
			id, current.Content, ErrTaskInProgress)
	}
	for i := range l.tasks {
		if l.tasks[i].ID == id {
			l.tasks[i].State = StateInProgress
			l.tasks[i].StartedAt = nowUTC()
			if err := l.persist(); err != nil {
				return Task{}, err
			}
			return l.tasks[i], nil
		}
	}
	return Task{}, fmt.Errorf("task not found: %s", id)
}

// Complete marks a task completed regardless of its prior state.
func (l *List) Complete(id string) (Task, error) {
	for i := range l.tasks {
		if l.tasks[i].ID == id {
			l.tasks[i].State = StateCompleted
			l.tasks[i].CompletedAt = nowUTC()
			if err := l.persist(); err != nil {
				return Task{}, err
			}
			return l.tasks[i], nil
		}
	}
	return Task{}, fmt.Errorf("task not found: %s", id)
}

// Remove deletes a task by ID.
func (l *List) Remove(id string) (bool, error) {
	for i := range l.tasks {
		if l.tasks[i].ID == id {
			l.tasks = append(l.tasks[:i], l.tasks[i+1:]...)
			if err := l.persist(); err != nil {
				return false, err
			}
			return true, nil
		}
	}
	return false, nil
}

// ClearCompleted removes all completed tasks and reports how many.
func (l *List) ClearCompleted() (int, error) {
	kept := l.tasks[:0]
	removed := 0
	for _, t := range l.tasks {
		if t.State == StateCompleted {
			removed++
			continue
		}
		kept = append(kept, t)
	}
	l.tasks = kept
	if removed > 0 {
		if err := l.persist(); err != nil {
			return 0, err
		}
	}
	return removed, nil
}

// ClearAll removes every task.
func (l *List) ClearAll() error {
	l.tasks = l.tasks[:0]
	return l.persist()
}

// Restore replaces the whole list, used when rewinding to a
// checkpoint, and rewrites the sidecar.
func (l *List) Restore(tasks []Task) error {
	l.tasks = append(l.tasks[:0], tasks...)
	return l.persist()
}

// Tasks returns a copy of the ordered list.
func (l *List) Tasks() []Task {
	return append([]Task(nil), l.tasks...)
}

// Pending returns tasks still waiting to run.
func (l *List) Pending() []Task {
	var out []Task
	for _, t := range l.tasks {
		if t.State == StatePending {
			out = append(out, t)
		}
	}
	return out
}

// NextPending returns the first pending task.
func (l *List) NextPending() (Task, bool) {
	for _, t := range l.tasks {
		if t.State == StatePending {
			return t, true
		}
	}
	return Task{}, false
}

// Progress returns (completed, total).
func (l *List) Progress() (int, int) {
	completed := 0
	for _, t := range l.tasks {
		if t.State == StateCompleted {
			completed++
		}
	}
	return completed, len(l.tasks)
}

// ProgressLine formats progress for status display.
func (l *List) ProgressLine() string {
	completed, total := l.Progress()
	if total == 0 {
		return "No tasks"
	}
	percent := completed * 100 / total
	return fmt.Sprintf("%d/%d (%d%%)", completed, total, percent)
}

// Render 渲染任务列表；用户展示与提示词注入共用同一标记约定
// Render formats the list with IDs and state markers. The same
// rendering is used for user-facing listing and for prompt injection,
// so the bracket convention must not drift between the two.
//
//	[id] [ ] content     pending
//	[id] [>] active_form in progress
//	[id] [x] content     completed
func (l *List) Render() string {
	if len(l.tasks) == 0 {
		return "No tasks."
	}
	lines := make([]string, 0, len(l.tasks))
	for _, t := range l.tasks {
		switch t.State {
		case StateInProgress:
			lines = append(lines, fmt.Sprintf("[%s] [>] %s", t.ID, t.ActiveForm))
		case StateCompleted:
			lines = append(lines, fmt.Sprintf("[%s] [x] %s", t.ID, t.Content))
		default:
			lines = append(lines, fmt.Sprintf("[%s] [ ] %s", t.ID, t.Content))
		}
	}
	return strings.Join(lines, "\n")
}
