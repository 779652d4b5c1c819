package security

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestResolveInsideWorkspace(t *testing.T) {
	root := t.TempDir()
	sub := filepath.Join(root, "pkg")
	if err := os.MkdirAll(sub, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	ws, err := NewWorkspace(root)
	if err != nil {
		t.Fatalf("new workspace: %v", err)
	}

	cases := []string{
		"pkg",
		"pkg/file.go",        // not yet existing
		"./pkg/../pkg",       // cleanable
		filepath.Join(root, "pkg"),
	}
	for _, in := range cases {
		got, err := ws.Resolve(in)
		if err != nil {
			t.Fatalf("Resolve(%q): %v", in, err)
		}
		if !strings.HasPrefix(got, ws.Root()) {
			t.Fatalf("Resolve(%q) = %q escapes root %q", in, got, ws.Root())
		}
	}
}

func TestResolveRejectsEscapes(t *testing.T) {
	root := t.TempDir()
	ws, err := NewWorkspace(root)
	if err != nil {
		t.Fatalf("new workspace: %v", err)
	}
	cases := []string{
		"..",
		"../outside.txt",
		"pkg/../../outside.txt",
		"/etc/passwd",
	}
	for _, in := range cases {
		if _, err := ws.Resolve(in); !errors.Is(err, ErrOutsideWorkspace) {
			t.Fatalf("Resolve(%q) err = %v, want ErrOutsideWorkspace", in, err)
		}
	}
}

func TestResolveRejectsSymlinkEscape(t *testing.T) {
	root := t.TempDir()
	outside := t.TempDir()
	link := filepath.Join(root, "sneaky")
	if err := os.Symlink(outside, link); err != nil {
		t.Skipf("symlinks unavailable: %v", err)
	}
	ws, err := NewWorkspace(root)
	if err != nil {
		t.Fatalf("new workspace: %v", err)
	}
	if _, err := ws.Resolve("sneaky/file.txt"); !errors.Is(err, ErrOutsideWorkspace) {
		t.Fatalf("symlink escape err = %v, want ErrOutsideWorkspace", err)
	}
}

func TestEmptyRootRejected(t *testing.T) {
	if _, err := NewWorkspace("  "); err == nil {
		t.Fatalf("empty root must be rejected")
	}
}
