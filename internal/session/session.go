package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"sidekick/internal/plan"
	"sidekick/internal/state"
	"sidekick/internal/task"
)

// ErrCheckpointRange is returned when a rewind targets a checkpoint
// number outside 1..len(checkpoints).
var ErrCheckpointRange = errors.New("checkpoint out of range")

// Checkpoint 会话内的一个编号快照点；创建后不可变，只在 rewind 时删除
// Checkpoint is a numbered snapshot marker within a session. Immutable
// once created; only rewind deletes it.
type Checkpoint struct {
	Number    int    `json:"number"`
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
}

// TasksSnapshot mirrors the task sidecar layout inside checkpoints.
type TasksSnapshot struct {
	Tasks []task.Task `json:"tasks"`
}

// Snapshot is the full per-checkpoint state: conversation, mode, tasks
// and plan, written to checkpoints/<number>.json.
type Snapshot struct {
	Conversation state.Snapshot `json:"conversation"`
	Mode         string         `json:"mode"`
	Tasks        TasksSnapshot  `json:"tasks"`
	Plan         *plan.Plan     `json:"plan"`
}

// Session owns one conversation's on-disk layout:
//
//	<base>/sessions/<id>/session.json
//	<base>/sessions/<id>/conversation.json
//	<base>/sessions/<id>/tasks.json
//	<base>/sessions/<id>/plan.{json,md}
//	<base>/sessions/<id>/checkpoints/<n>.json
type Session struct {
	ID          string       `json:"id"`
	Name        string       `json:"name"`
	ProjectPath string       `json:"project_path"`
	CreatedAt   string       `json:"created_at"`
	UpdatedAt   string       `json:"updated_at"`
	Checkpoints []Checkpoint `json:"checkpoints"`

	dir string
}

func (s *Session) Dir() string { return s.dir }

// TasksPath is where the session's task.List persists.
func (s *Session) TasksPath() string { return filepath.Join(s.dir, "tasks.json") }

// PlanPath is the extensionless base path for the session plan.
func (s *Session) PlanPath() string { return filepath.Join(s.dir, "plan") }

func nowISO() string { return time.Now().UTC().Format(time.RFC3339) }

func (s *Session) saveMetadata() error {
	s.UpdatedAt = nowISO()
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("encode session metadata: %w", err)
	}
	return os.WriteFile(filepath.Join(s.dir, "session.json"), data, 0o644)
}

func (s *Session) checkpointPath(number int) string {
	return filepath.Join(s.dir, "checkpoints", fmt.Sprintf("%d.json", number))
}

// CreateCheckpoint appends the next sequential checkpoint and writes
// its snapshot to a number-keyed file.
func (s *Session) CreateCheckpoint(message string, snap Snapshot) (Checkpoint, error) {
	cp := Checkpoint{
		Number:    len(s.Checkpoints) + 1,
		Message:   message,
		Timestamp: nowISO(),
	}
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return Checkpoint{}, fmt.Errorf("encode checkpoint: %w", err)
	}
	if err := os.MkdirAll(filepath.Join(s.dir, "checkpoints"), 0o755); err != nil {
		return Checkpoint{}, fmt.Errorf("create checkpoints dir: %w", err)
	}
	if err := os.WriteFile(s.checkpointPath(cp.Number), data, 0o644); err != nil {
		return Checkpoint{}, fmt.Errorf("write checkpoint %d: %w", cp.Number, err)
	}
	s.Checkpoints = append(s.Checkpoints, cp)
	if err := s.saveMetadata(); err != nil {
		return Checkpoint{}, err
	}
	return cp, nil
}

// LoadCheckpoint reads the snapshot for an existing checkpoint number.
func (s *Session) LoadCheckpoint(number int) (Snapshot, error) {
	data, err := os.ReadFile(s.checkpointPath(number))
	if err != nil {
		return Snapshot{}, fmt.Errorf("read checkpoint %d: %w", number, err)
	}
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return Snapshot{}, fmt.Errorf("decode checkpoint %d: %w", number, err)
	}
	return snap, nil
}

// RewindTo validates the target, loads its snapshot, then deletes every
// later checkpoint record and file. Out-of-range numbers are a reported
// error with no state mutated.
func (s *Session) RewindTo(number int) (Snapshot, error) {
	if number < 1 || number > len(s.Checkpoints) {
		return Snapshot{}, fmt.Errorf("invalid checkpoint %d: valid range 1-%d: %w", number, len(s.Checkpoints), ErrCheckpointRange)
	}
	snap, err := s.LoadCheckpoint(number)
	if err != nil {
		return Snapshot{}, err
	}
	for n := number + 1; n <= len(s.Checkpoints); n++ {
		_ = os.Remove(s.checkpointPath(n))
	}
	s.Checkpoints = s.Checkpoints[:number]
	if err := s.saveMetadata(); err != nil {
		return Snapshot{}, err
	}
	return snap, nil
}

// SaveConversation persists the running conversation outside the
// checkpoint stream (continuously updated, unlike checkpoints).
func (s *Session) SaveConversation(snap state.Snapshot) error {
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("encode conversation: %w", err)
	}
	return os.WriteFile(filepath.Join(s.dir, "conversation.json"), data, 0o644)
}

func (s *Session) LoadConversation() (state.Snapshot, bool, error) {
	data, err := os.ReadFile(filepath.Join(s.dir, "conversation.json"))
	if err != nil {
		if os.IsNotExist(err) {
			return state.Snapshot{}, false, nil
		}
		return state.Snapshot{}, false, fmt.Errorf("read conversation: %w", err)
	}
	var snap state.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return state.Snapshot{}, false, fmt.Errorf("decode conversation: %w", err)
	}
	return snap, true, nil
}

// Manager 管理 <base>/sessions/ 下的全部会话；同一工作目录同时只有一个当前会话
// Manager owns the sessions directory; one session is current at a time.
type Manager struct {
	sessionsDir string
	current     *Session
}

func NewManager(baseDir string) (*Manager, error) {
	if strings.TrimSpace(baseDir) == "" {
		return nil, fmt.Errorf("session base dir is empty")
	}
	sessionsDir := filepath.Join(baseDir, "sessions")
	if err := os.MkdirAll(sessionsDir, 0o755); err != nil {
		return nil, fmt.Errorf("create sessions dir: %w", err)
	}
	return &Manager{sessionsDir: sessionsDir}, nil
}

func (m *Manager) Current() *Session { return m.current }

// CreateSession allocates a fresh UUID session, initializes its empty
// sidecar files, and makes it current.
func (m *Manager) CreateSession(projectPath, name string) (*Session, error) {
	resolved, err := filepath.Abs(projectPath)
	if err != nil {
		return nil, fmt.Errorf("resolve project path: %w", err)
	}
	if name == "" {
		name = "New Session"
	}
	now := nowISO()
	s := &Session{
		ID:          uuid.NewString(),
		Name:        name,
		ProjectPath: resolved,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	s.dir = filepath.Join(m.sessionsDir, s.ID)
	if err := os.MkdirAll(filepath.Join(s.dir, "checkpoints"), 0o755); err != nil {
		return nil, fmt.Errorf("create session dir: %w", err)
	}
	if err := os.WriteFile(filepath.Join(s.dir, "conversation.json"), []byte("{}"), 0o644); err != nil {
		return nil, fmt.Errorf("init conversation file: %w", err)
	}
	if err := os.WriteFile(s.TasksPath(), []byte(`{"tasks": []}`), 0o644); err != nil {
		return nil, fmt.Errorf("init tasks file: %w", err)
	}
	if err := s.saveMetadata(); err != nil {
		return nil, err
	}
	m.current = s
	return s, nil
}

// LoadSession reads a session by ID and makes it current.
func (m *Manager) LoadSession(id string) (*Session, error) {
	dir := filepath.Join(m.sessionsDir, id)
	data, err := os.ReadFile(filepath.Join(dir, "session.json"))
	if err != nil {
		return nil, fmt.Errorf("session not found: %s", id)
	}
	var s Session
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("decode session %s: %w", id, err)
	}
	s.dir = dir
	m.current = &s
	return &s, nil
}

// ListSessions returns sessions filtered by exact resolved project path
// (empty means all), sorted by updated_at descending.
func (m *Manager) ListSessions(projectPath string) ([]*Session, error) {
	filter := ""
	if strings.TrimSpace(projectPath) != "" {
		resolved, err := filepath.Abs(projectPath)
		if err != nil {
			return nil, fmt.Errorf("resolve project path: %w", err)
		}
		filter = resolved
	}
	entries, err := os.ReadDir(m.sessionsDir)
	if err != nil {
		return nil, fmt.Errorf("read sessions dir: %w", err)
	}
	var out []*Session
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		dir := filepath.Join(m.sessionsDir, entry.Name())
		data, err := os.ReadFile(filepath.Join(dir, "session.json"))
		if err != nil {
			continue
		}
		var s Session
		if err := json.Unmarshal(data, &s); err != nil {
			continue
		}
		s.dir = dir
		if filter != "" && s.ProjectPath != filter {
			continue
		}
		out = append(out, &s)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].UpdatedAt > out[j].UpdatedAt
	})
	return out, nil
}

// MostRecent returns the newest session for a project, if any.
func (m *Manager) MostRecent(projectPath string) (*Session, bool, error) {
	sessions, err := m.ListSessions(projectPath)
	if err != nil {
		return nil, false, err
	}
	if len(sessions) == 0 {
		return nil, false, nil
	}
	return sessions[0], true, nil
}
