// Copyright 2026 The Papermill Authors
// SPDX-License-Identifier: Apache-2.0

package testutil

import (
	"os"
	"os/exec"
	"path/filepath"
	"testing"
)

// InitRepo creates a git repository in a temp directory with one
// initial commit and returns its path. Several packages exercise real
// git worktree and staging behavior, so the scratch repository lives
// here rather than being duplicated per package.
func InitRepo(t *testing.T) string {
	t.Helper()

	dir := t.TempDir()
	GitRun(t, dir, "init", "-b", "main")
	GitRun(t, dir, "config", "user.name", "Test")
	GitRun(t, dir, "config", "user.email", "test@test.local")

	readme := filepath.Join(dir, "README")
	if err := os.WriteFile(readme, []byte("test\n"), 0o644); err != nil {
		t.Fatalf("write README: %v", err)
	}
	GitRun(t, dir, "add", "README")
	GitRun(t, dir, "commit", "-m", "initial")

	// macOS puts temp directories behind /private symlinks; resolve
	// so path comparisons against git output are stable.
	resolved, err := filepath.EvalSymlinks(dir)
	if err != nil {
		t.Fatalf("resolving repo dir: %v", err)
	}
	return resolved
}

// GitRun executes a git command in dir and fails the test on error.
func GitRun(t *testing.T, dir string, args ...string) string {
	t.Helper()

	command := exec.Command("git", append([]string{"-C", dir}, args...)...)
	command.Env = append(os.Environ(),
		"GIT_AUTHOR_NAME=Test",
		"GIT_AUTHOR_EMAIL=test@test.local",
		"GIT_COMMITTER_NAME=Test",
		"GIT_COMMITTER_EMAIL=test@test.local",
	)
	output, err := command.CombinedOutput()
	if err != nil {
		t.Fatalf("git %v: %v\n%s", args, err, output)
	}
	return string(output)
}

// WriteFile writes content to path, creating parent directories, and
// fails the test on error.
func WriteFile(t *testing.T, path, content string) {
	t.Helper()

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir %s: %v", filepath.Dir(path), err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}
