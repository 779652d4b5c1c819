package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"sidekick/internal/security"
)

const maxGlobResults = 500

// GlobTool matches workspace files against a doublestar pattern.
type GlobTool struct {
	ws *security.Workspace
}

func NewGlobTool(ws *security.Workspace) *GlobTool { return &GlobTool{ws: ws} }

func (t *GlobTool) Name() string { return "glob" }

func (t *GlobTool) Description() string {
	return "Find workspace files matching a glob pattern such as **/*.go or src/**/*.ts."
}

func (t *GlobTool) Permission() Permission { return PermissionRead }

func (t *GlobTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"pattern": map[string]any{
				"type":        "string",
				"description": "Glob pattern, supports ** for recursive matching",
			},
			"path": map[string]any{
				"type":        "string",
				"description": "Directory to search under. Defaults to the workspace root.",
			},
		},
		"required": []string{"pattern"},
	}
}

func (t *GlobTool) Execute(ctx context.Context, args json.RawMessage) (Result, error) {
	var in struct {
		Pattern string `json:"pattern"`
		Path    string `json:"path"`
	}
	if err := json.Unmarshal(args, &in); err != nil {
		return Fail("invalid arguments: %v", err), nil
	}
	if in.Pattern == "" {
		return Fail("pattern must not be empty"), nil
	}
	if in.Path == "" {
		in.Path = "."
	}
	root, err := t.ws.Resolve(in.Path)
	if err != nil {
		return Fail("%s", err), nil
	}
	matches, err := doublestar.Glob(os.DirFS(root), in.Pattern,
		doublestar.WithFilesOnly(), doublestar.WithNoFollow())
	if err != nil {
		return Fail("bad pattern %q: %v", in.Pattern, err), nil
	}
	// newest first, like most code-search surfaces
	type match struct {
		rel string
		mod int64
	}
	found := make([]match, 0, len(matches))
	for _, rel := range matches {
		info, err := fs.Stat(os.DirFS(root), rel)
		if err != nil {
			continue
		}
		found = append(found, match{rel: rel, mod: info.ModTime().UnixNano()})
	}
	sort.Slice(found, func(i, j int) bool {
		if found[i].mod != found[j].mod {
			return found[i].mod > found[j].mod
		}
		return found[i].rel < found[j].rel
	})
	if len(found) == 0 {
		return OK(fmt.Sprintf("No files match %q", in.Pattern)), nil
	}
	truncated := false
	if len(found) > maxGlobResults {
		found = found[:maxGlobResults]
		truncated = true
	}
	lines := make([]string, 0, len(found)+1)
	for _, m := range found {
		lines = append(lines, filepath.Join(in.Path, m.rel))
	}
	if truncated {
		lines = append(lines, fmt.Sprintf("[truncated to %d results]", maxGlobResults))
	}
	return OK(strings.Join(lines, "\n")), nil
}

var _ Tool = (*GlobTool)(nil)
