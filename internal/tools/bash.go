package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"sidekick/internal/config"
	"sidekick/internal/security"
)

// BashTool 在工作区根目录执行 shell 命令，带超时与输出上限
// BashTool runs a shell command rooted at the workspace, with a
// timeout and a byte cap on captured output.
type BashTool struct {
	ws     *security.Workspace
	safety config.SafetyConfig
}

func NewBashTool(ws *security.Workspace, safety config.SafetyConfig) *BashTool {
	return &BashTool{ws: ws, safety: safety}
}

func (t *BashTool) Name() string { return "bash" }

func (t *BashTool) Description() string {
	return "Execute a shell command in the workspace root. Output is captured and truncated when oversized."
}

func (t *BashTool) Permission() Permission { return PermissionExecute }

func (t *BashTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"command": map[string]any{
				"type":        "string",
				"description": "Shell command to execute",
			},
			"timeout_ms": map[string]any{
				"type":        "integer",
				"description": "Optional timeout override in milliseconds",
			},
		},
		"required": []string{"command"},
	}
}

func (t *BashTool) Execute(ctx context.Context, args json.RawMessage) (Result, error) {
	var in struct {
		Command   string `json:"command"`
		TimeoutMS int    `json:"timeout_ms"`
	}
	if err := json.Unmarshal(args, &in); err != nil {
		return Fail("invalid arguments: %v", err), nil
	}
	if strings.TrimSpace(in.Command) == "" {
		return Fail("command must not be empty"), nil
	}
	timeout := time.Duration(t.safety.CommandTimeoutMS) * time.Millisecond
	if in.TimeoutMS > 0 && in.TimeoutMS < t.safety.CommandTimeoutMS {
		timeout = time.Duration(in.TimeoutMS) * time.Millisecond
	}
	output, exitCode, err := t.Run(ctx, in.Command, timeout)
	if err != nil {
		return Fail("%s", err), nil
	}
	if exitCode != 0 {
		if output != "" {
			return Fail("exit status %d\n%s", exitCode, output), nil
		}
		return Fail("exit status %d", exitCode), nil
	}
	if output == "" {
		output = "(no output)"
	}
	return OK(output), nil
}

// Run executes a command and returns combined output and exit code.
// Shared with the REPL's bash passthrough mode.
func (t *BashTool) Run(ctx context.Context, command string, timeout time.Duration) (string, int, error) {
	runCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	cmd := exec.CommandContext(runCtx, "bash", "-c", command)
	cmd.Dir = t.ws.Root()

	var buf bytes.Buffer
	cmd.Stdout = &buf
	cmd.Stderr = &buf

	err := cmd.Run()
	output := t.capOutput(buf.Bytes())

	if runCtx.Err() == context.DeadlineExceeded {
		return output, -1, fmt.Errorf("command timed out after %s", timeout)
	}
	if runCtx.Err() == context.Canceled {
		return output, -1, fmt.Errorf("command cancelled")
	}
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			return output, exitErr.ExitCode(), nil
		}
		return output, -1, fmt.Errorf("cannot run command: %w", err)
	}
	return output, 0, nil
}

func (t *BashTool) capOutput(data []byte) string {
	limit := t.safety.OutputLimitBytes
	if limit <= 0 || len(data) <= limit {
		return strings.TrimRight(string(data), "\n")
	}
	// keep head and tail, drop the middle
	head := limit / 2
	tail := limit - head
	return strings.TrimRight(
		string(data[:head])+
			fmt.Sprintf("\n[... %d bytes truncated ...]\n", len(data)-limit)+
			string(data[len(data)-tail:]), "\n")
}

var _ Tool = (*BashTool)(nil)
