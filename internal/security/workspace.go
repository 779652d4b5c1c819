package security

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrOutsideWorkspace is returned when a path escapes the workspace root.
var ErrOutsideWorkspace = errors.New("path outside workspace")

// Workspace confines filesystem tool paths to a resolved root directory.
type Workspace struct {
	root string
}

func NewWorkspace(root string) (*Workspace, error) {
	if strings.TrimSpace(root) == "" {
		return nil, errors.New("workspace root is empty")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("abs workspace root: %w", err)
	}
	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		resolved = abs
	}
	return &Workspace{root: resolved}, nil
}

func (w *Workspace) Root() string { return w.root }

// Resolve turns a tool-supplied path into an absolute path inside the
// workspace, following symlinks. Paths that resolve outside the root
// are rejected with ErrOutsideWorkspace.
func (w *Workspace) Resolve(path string) (string, error) {
	target := strings.TrimSpace(path)
	if target == "" {
		target = w.root
	}
	if !filepath.IsAbs(target) {
		target = filepath.Join(w.root, target)
	}
	resolved, err := resolveBestEffort(filepath.Clean(target))
	if err != nil {
		return "", err
	}
	rel, err := filepath.Rel(w.root, resolved)
	if err != nil {
		return "", fmt.Errorf("relative path check: %w", err)
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(os.PathSeparator)) {
		return "", ErrOutsideWorkspace
	}
	return resolved, nil
}

// resolveBestEffort follows symlinks; for not-yet-existing targets it
// resolves the parent directory instead so new files can be created.
func resolveBestEffort(path string) (string, error) {
	resolved, err := filepath.EvalSymlinks(path)
	if err == nil {
		return resolved, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return "", fmt.Errorf("resolve symlink: %w", err)
	}
	parent, perr := filepath.EvalSymlinks(filepath.Dir(path))
	if perr != nil {
		if !errors.Is(perr, os.ErrNotExist) {
			return "", fmt.Errorf("resolve parent symlink: %w", perr)
		}
		parent = filepath.Dir(path)
	}
	return filepath.Join(parent, filepath.Base(path)), nil
}
