package tools

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"sidekick/internal/security"
)

const maxGrepMatches = 200

var skipDirs = map[string]bool{
	".git":         true,
	"node_modules": true,
	"vendor":       true,
	".idea":        true,
}

// GrepTool 在工作区内做正则搜索，跳过常见的生成目录和二进制文件
// GrepTool searches workspace files with a regular expression,
// skipping binary files and common generated directories.
type GrepTool struct {
	ws *security.Workspace
}

func NewGrepTool(ws *security.Workspace) *GrepTool { return &GrepTool{ws: ws} }

func (t *GrepTool) Name() string { return "grep" }

func (t *GrepTool) Description() string {
	return "Search workspace file contents with a Go regular expression. Returns path:line:text matches."
}

func (t *GrepTool) Permission() Permission { return PermissionRead }

func (t *GrepTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"pattern": map[string]any{
				"type":        "string",
				"description": "Regular expression to search for",
			},
			"path": map[string]any{
				"type":        "string",
				"description": "Directory to search under. Defaults to the workspace root.",
			},
			"include": map[string]any{
				"type":        "string",
				"description": "Optional glob filter on file names, e.g. *.go",
			},
		},
		"required": []string{"pattern"},
	}
}

func (t *GrepTool) Execute(ctx context.Context, args json.RawMessage) (Result, error) {
	var in struct {
		Pattern string `json:"pattern"`
		Path    string `json:"path"`
		Include string `json:"include"`
	}
	if err := json.Unmarshal(args, &in); err != nil {
		return Fail("invalid arguments: %v", err), nil
	}
	re, err := regexp.Compile(in.Pattern)
	if err != nil {
		return Fail("bad pattern %q: %v", in.Pattern, err), nil
	}
	if in.Path == "" {
		in.Path = "."
	}
	root, err := t.ws.Resolve(in.Path)
	if err != nil {
		return Fail("%s", err), nil
	}

	var lines []string
	total := 0
	walkErr := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() {
			if skipDirs[d.Name()] {
				return filepath.SkipDir
			}
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return nil
		}
		if in.Include != "" {
			ok, err := doublestar.Match(in.Include, filepath.Base(rel))
			if err != nil || !ok {
				return nil
			}
		}
		matches, err := grepFile(path, re)
		if err != nil {
			return nil
		}
		for _, m := range matches {
			if total >= maxGrepMatches {
				return fs.SkipAll
			}
			lines = append(lines, fmt.Sprintf("%s:%d:%s", filepath.Join(in.Path, rel), m.line, m.text))
			total++
		}
		return nil
	})
	if walkErr != nil && walkErr == ctx.Err() {
		return Fail("search cancelled"), nil
	}
	if total == 0 {
		return OK(fmt.Sprintf("No matches for %q", in.Pattern)), nil
	}
	out := strings.Join(lines, "\n")
	if total >= maxGrepMatches {
		out += fmt.Sprintf("\n[truncated to %d matches]", maxGrepMatches)
	}
	return OK(out), nil
}

type grepMatch struct {
	line int
	text string
}

func grepFile(path string, re *regexp.Regexp) ([]grepMatch, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var matches []grepMatch
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		text := scanner.Text()
		if lineNo == 1 && strings.ContainsRune(text, '\x00') {
			return nil, nil // binary
		}
		if re.MatchString(text) {
			if len(text) > 400 {
				text = text[:400] + "..."
			}
			matches = append(matches, grepMatch{line: lineNo, text: text})
		}
	}
	return matches, scanner.Err()
}

var _ Tool = (*GrepTool)(nil)
