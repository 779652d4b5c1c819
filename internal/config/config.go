package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

type ProviderConfig struct {
	BaseURL    string `json:"base_url"`
	Model      string `json:"model"`
	APIKey     string `json:"api_key"`
	TimeoutMS  int    `json:"timeout_ms"`
	MaxRetries int    `json:"max_retries"`
}

type RuntimeConfig struct {
	WorkspaceRoot string `json:"workspace_root"`
	// MaxTurnIterations caps one act-mode turn; plan mode is unbounded.
	MaxTurnIterations int `json:"max_turn_iterations"`
	// IterationWarningAt is where the cooperative "continuing?" signal fires.
	IterationWarningAt int `json:"iteration_warning_at"`
	SubagentIterations int `json:"subagent_iterations"`
	DetachedIterations int `json:"detached_iterations"`
	ContextTokenLimit  int `json:"context_token_limit"`
}

type SafetyConfig struct {
	CommandTimeoutMS int `json:"command_timeout_ms"`
	OutputLimitBytes int `json:"output_limit_bytes"`
	FetchTimeoutMS   int `json:"fetch_timeout_ms"`
}

type StorageConfig struct {
	// BaseDir holds sessions/ plus the sqlite history database.
	BaseDir string `json:"base_dir"`
}

// Config 进程启动时构造一次，显式传入各组件；没有全局单例
// Config is built once at process start and passed explicitly into the
// agent and providers; there is no ambient global.
type Config struct {
	Provider ProviderConfig `json:"provider"`
	Runtime  RuntimeConfig  `json:"runtime"`
	Safety   SafetyConfig   `json:"safety"`
	Storage  StorageConfig  `json:"storage"`
}

func Default() Config {
	home, _ := os.UserHomeDir()
	base := filepath.Join(home, ".sidekick")
	if home == "" {
		base = ".sidekick"
	}
	return Config{
		Provider: ProviderConfig{
			BaseURL:    "https://openrouter.ai/api/v1",
			Model:      "anthropic/claude-sonnet-4",
			TimeoutMS:  120000,
			MaxRetries: 3,
		},
		Runtime: RuntimeConfig{
			MaxTurnIterations:  25,
			IterationWarningAt: 20,
			SubagentIterations: 10,
			DetachedIterations: 15,
			ContextTokenLimit:  24000,
		},
		Safety: SafetyConfig{
			CommandTimeoutMS: 60000,
			OutputLimitBytes: 200000,
			FetchTimeoutMS:   30000,
		},
		Storage: StorageConfig{
			BaseDir: base,
		},
	}
}

// Load reads config from path (JSON with // line comments tolerated),
// overlaying it onto defaults. An empty path returns defaults with env
// overrides applied.
func Load(path string) (Config, error) {
	cfg := Default()
	if strings.TrimSpace(path) != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := json.Unmarshal(stripLineComments(data), &cfg); err != nil {
			return Config{}, fmt.Errorf("decode config %s: %w", path, err)
		}
	}
	applyEnv(&cfg)
	normalize(&cfg)
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := strings.TrimSpace(os.Getenv("SIDEKICK_API_KEY")); v != "" {
		cfg.Provider.APIKey = v
	}
	if v := strings.TrimSpace(os.Getenv("SIDEKICK_BASE_URL")); v != "" {
		cfg.Provider.BaseURL = v
	}
	if v := strings.TrimSpace(os.Getenv("SIDEKICK_MODEL")); v != "" {
		cfg.Provider.Model = v
	}
}

func normalize(cfg *Config) {
	def := Default()
	if cfg.Runtime.MaxTurnIterations <= 0 {
		cfg.Runtime.MaxTurnIterations = def.Runtime.MaxTurnIterations
	}
	if cfg.Runtime.IterationWarningAt <= 0 || cfg.Runtime.IterationWarningAt > cfg.Runtime.MaxTurnIterations {
		cfg.Runtime.IterationWarningAt = def.Runtime.IterationWarningAt
	}
	if cfg.Runtime.SubagentIterations <= 0 {
		cfg.Runtime.SubagentIterations = def.Runtime.SubagentIterations
	}
	if cfg.Runtime.DetachedIterations <= 0 {
		cfg.Runtime.DetachedIterations = def.Runtime.DetachedIterations
	}
	if cfg.Runtime.ContextTokenLimit <= 0 {
		cfg.Runtime.ContextTokenLimit = def.Runtime.ContextTokenLimit
	}
	if cfg.Safety.CommandTimeoutMS <= 0 {
		cfg.Safety.CommandTimeoutMS = def.Safety.CommandTimeoutMS
	}
	if cfg.Safety.OutputLimitBytes <= 0 {
		cfg.Safety.OutputLimitBytes = def.Safety.OutputLimitBytes
	}
	if cfg.Safety.FetchTimeoutMS <= 0 {
		cfg.Safety.FetchTimeoutMS = def.Safety.FetchTimeoutMS
	}
	if strings.TrimSpace(cfg.Storage.BaseDir) == "" {
		cfg.Storage.BaseDir = def.Storage.BaseDir
	}
}

// stripLineComments removes // comments outside of string literals so
// hand-edited config files can carry notes.
func stripLineComments(data []byte) []byte {
	var out bytes.Buffer
	inString := false
	escaped := false
	for i := 0; i < len(data); i++ {
		ch := data[i]
		if inString {
			out.WriteByte(ch)
			if escaped {
				escaped = false
			} else if ch == '\\' {
				escaped = true
			} else if ch == '"' {
				inString = false
			}
			continue
		}
		if ch == '"' {
			inString = true
			out.WriteByte(ch)
			continue
		}
		if ch == '/' && i+1 < len(data) && data[i+1] == '/' {
			for i < len(data) && data[i] != '\n' {
				i++
			}
			if i < len(data) {
				out.WriteByte('\n')
			}
			continue
		}
		out.WriteByte(ch)
	}
	return out.Bytes()
}
