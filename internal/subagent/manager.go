package subagent

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"sidekick/internal/provider"
	"sidekick/internal/tools"
)

// Handle status values for detached subagents.
const (
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// Handle 后台子代理的外部可见句柄：ID、状态与日志文件路径
// Handle is the caller-visible record of a detached subagent. Output
// goes to LogPath; Status moves running -> completed|failed exactly
// once.
type Handle struct {
	ID        string `json:"id"`
	Kind      Kind   `json:"kind"`
	Status    string `json:"status"`
	LogPath   string `json:"log_path"`
	StartedAt string `json:"started_at"`
}

// Result pairs one in-process subagent run with its outcome.
type Result struct {
	Kind   Kind
	Output string
	Err    error
}

// Manager spawns subagents, in-process or detached.
type Manager struct {
	prov    provider.Provider
	reg     *tools.Registry
	logDir  string
	inProc  int // iteration cap for in-process runs
	detach  int // iteration cap forwarded to detached runs
	binPath string

	mu       sync.Mutex
	detached map[string]*Handle
}

func NewManager(prov provider.Provider, reg *tools.Registry, logDir string, inProcIterations, detachedIterations int) (*Manager, error) {
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return nil, fmt.Errorf("create agent log dir: %w", err)
	}
	bin, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("locate executable: %w", err)
	}
	return &Manager{
		prov:     prov,
		reg:      reg,
		logDir:   logDir,
		inProc:   inProcIterations,
		detach:   detachedIterations,
		binPath:  bin,
		detached: make(map[string]*Handle),
	}, nil
}

// Spawn runs one subagent to completion in process and returns its
// final report.
func (m *Manager) Spawn(ctx context.Context, k Kind, prompt string) (string, error) {
	if _, ok := profiles[k]; !ok {
		return "", fmt.Errorf("unknown subagent kind: %s", k)
	}
	return run(ctx, m.prov, m.reg, k, prompt, m.inProc)
}

// SpawnParallel runs several subagents concurrently and returns their
// results in spawn order. Individual failures are carried in the
// result, not returned as a combined error.
func (m *Manager) SpawnParallel(ctx context.Context, kinds []Kind, prompts []string) ([]Result, error) {
	if len(kinds) != len(prompts) {
		return nil, fmt.Errorf("kinds and prompts length mismatch: %d vs %d", len(kinds), len(prompts))
	}
	results := make([]Result, len(kinds))
	var wg sync.WaitGroup
	for i := range kinds {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			out, err := m.Spawn(ctx, kinds[i], prompts[i])
			results[i] = Result{Kind: kinds[i], Output: out, Err: err}
		}(i)
	}
	wg.Wait()
	return results, nil
}

// SpawnDetached re-executes the binary in subagent mode as a detached
// subprocess. The handle stays valid after the parent REPL turn ends;
// progress is observable only through the log file and Status.
func (m *Manager) SpawnDetached(k Kind, prompt string) (Handle, error) {
	if _, ok := profiles[k]; !ok {
		return Handle{}, fmt.Errorf("unknown subagent kind: %s", k)
	}
	id := uuid.NewString()
	logPath := filepath.Join(m.logDir, id+".log")
	logFile, err := os.Create(logPath)
	if err != nil {
		return Handle{}, fmt.Errorf("create agent log: %w", err)
	}

	cmd := exec.Command(m.binPath,
		"--subagent", string(k),
		"--subagent-prompt", prompt,
		"--subagent-iterations", fmt.Sprintf("%d", m.detach),
	)
	cmd.Stdout = logFile
	cmd.Stderr = logFile
	cmd.Env = os.Environ()
	if err := cmd.Start(); err != nil {
		logFile.Close()
		return Handle{}, fmt.Errorf("start detached subagent: %w", err)
	}

	h := &Handle{
		ID:        id,
		Kind:      k,
		Status:    StatusRunning,
		LogPath:   logPath,
		StartedAt: time.Now().UTC().Format(time.RFC3339),
	}
	m.mu.Lock()
	m.detached[id] = h
	m.mu.Unlock()

	go func() {
		err := cmd.Wait()
		logFile.Close()
		m.mu.Lock()
		defer m.mu.Unlock()
		if err != nil {
			h.Status = StatusFailed
		} else {
			h.Status = StatusCompleted
		}
	}()
	return *h, nil
}

// Status returns a copy of a detached handle. A unique ID prefix is
// accepted, so callers can use the short form shown in listings.
func (m *Manager) Status(id string) (Handle, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if h, ok := m.detached[id]; ok {
		return *h, true
	}
	var match *Handle
	for full, h := range m.detached {
		if strings.HasPrefix(full, id) {
			if match != nil {
				return Handle{}, false // ambiguous
			}
			match = h
		}
	}
	if match == nil {
		return Handle{}, false
	}
	return *match, true
}

// Handles lists detached subagents, newest first.
func (m *Manager) Handles() []Handle {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Handle, 0, len(m.detached))
	for _, h := range m.detached {
		out = append(out, *h)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt > out[j].StartedAt })
	return out
}

// RunStandalone is the detached-mode entry: the re-executed binary
// calls this with its own provider and registry, streaming the report
// to stdout (the log file).
func RunStandalone(ctx context.Context, prov provider.Provider, reg *tools.Registry, k Kind, prompt string, maxIterations int) error {
	out, err := run(ctx, prov, reg, k, prompt, maxIterations)
	if err != nil {
		return err
	}
	fmt.Println(out)
	return nil
}
