// Copyright 2026 The Papermill Authors
// SPDX-License-Identifier: Apache-2.0

// Package git provides typed access to the git CLI for repository
// operations. Papermill uses git for worktree lifecycle management
// (adding and removing per-task worktrees, branch bookkeeping) and
// for checkpoint commits of worker output. All commands target a
// specific repository directory via the -C flag, which is
// automatically injected by all Repository methods.
package git

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"
)

// Repository represents a git repository at a specific directory. All
// operations target this directory via "git -C <dir>". There is no
// default directory — callers must always specify which repository
// they mean.
type Repository struct {
	dir string
}

// NewRepository returns a Repository targeting the given directory.
// The directory may be the repository root or any directory inside a
// working tree.
func NewRepository(dir string) *Repository {
	return &Repository{dir: dir}
}

// Dir returns the repository directory.
func (r *Repository) Dir() string {
	return r.dir
}

// Run executes a git command targeting this repository and returns
// stdout. Stderr is captured separately and included in error messages
// on failure.
func (r *Repository) Run(ctx context.Context, args ...string) (string, error) {
	fullArgs := append([]string{"-C", r.dir}, args...)
	var stdout, stderr bytes.Buffer
	command := exec.CommandContext(ctx, "git", fullArgs...)
	command.Stdout = &stdout
	command.Stderr = &stderr

	if err := command.Run(); err != nil {
		return "", fmt.Errorf("git %s in %s: %w (stderr: %s)",
			strings.Join(args, " "), r.dir, err, strings.TrimSpace(stderr.String()))
	}
	return stdout.String(), nil
}

// Command returns an *exec.Cmd for a git command without running it.
// The caller gets full control over Stdin, Stdout, Stderr, and
// SysProcAttr before starting the process. The -C flag targeting
// this repository is automatically prepended.
func (r *Repository) Command(ctx context.Context, args ...string) *exec.Cmd {
	fullArgs := append([]string{"-C", r.dir}, args...)
	return exec.CommandContext(ctx, "git", fullArgs...)
}

// Toplevel returns the absolute path of the working tree root, with
// symlinks resolved. Fails when the repository directory is not
// inside a git working tree.
func (r *Repository) Toplevel(ctx context.Context) (string, error) {
	out, err := r.Run(ctx, "rev-parse", "--show-toplevel")
	if err != nil {
		return "", err
	}
	top := strings.TrimSpace(out)
	resolved, err := filepath.EvalSymlinks(top)
	if err != nil {
		return "", fmt.Errorf("resolving toplevel %s: %w", top, err)
	}
	return resolved, nil
}

// CurrentBranch returns the checked-out branch name, or "" when HEAD
// is detached.
func (r *Repository) CurrentBranch(ctx context.Context) (string, error) {
	out, err := r.Run(ctx, "rev-parse", "--abbrev-ref", "HEAD")
	if err != nil {
		return "", err
	}
	branch := strings.TrimSpace(out)
	if branch == "HEAD" {
		return "", nil
	}
	return branch, nil
}

// HasRemote reports whether the named remote is configured.
func (r *Repository) HasRemote(ctx context.Context, remote string) bool {
	_, err := r.Run(ctx, "remote", "get-url", remote)
	return err == nil
}

// StagedFiles returns the repo-relative paths of all staged changes.
func (r *Repository) StagedFiles(ctx context.Context) ([]string, error) {
	out, err := r.Run(ctx, "diff", "--cached", "--name-only")
	if err != nil {
		return nil, err
	}
	var files []string
	for _, line := range strings.Split(out, "\n") {
		if trimmed := strings.TrimSpace(line); trimmed != "" {
			files = append(files, trimmed)
		}
	}
	return files, nil
}

// WorktreeInfo describes one entry from the repository's worktree
// registry.
type WorktreeInfo struct {
	// Path is the worktree's absolute directory.
	Path string

	// Branch is the checked-out branch without the refs/heads/
	// prefix, or "" for a detached or bare entry.
	Branch string
}

// Worktrees lists the repository's registered worktrees by parsing
// "git worktree list --porcelain". The porcelain format groups
// attribute lines under each "worktree <path>" line, separated by
// blank lines.
func (r *Repository) Worktrees(ctx context.Context) ([]WorktreeInfo, error) {
	out, err := r.Run(ctx, "worktree", "list", "--porcelain")
	if err != nil {
		return nil, err
	}

	var worktrees []WorktreeInfo
	var current *WorktreeInfo
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(line, "worktree "):
			if current != nil {
				worktrees = append(worktrees, *current)
			}
			current = &WorktreeInfo{Path: strings.TrimPrefix(line, "worktree ")}
		case strings.HasPrefix(line, "branch ") && current != nil:
			ref := strings.TrimPrefix(line, "branch ")
			current.Branch = strings.TrimPrefix(ref, "refs/heads/")
		}
	}
	if current != nil {
		worktrees = append(worktrees, *current)
	}
	return worktrees, nil
}

// BranchForWorktree returns the branch checked out in the worktree at
// the given path, or "" when the path is not a registered worktree.
// Paths are compared with symlinks resolved.
func (r *Repository) BranchForWorktree(ctx context.Context, worktreePath string) (string, error) {
	wanted, err := filepath.EvalSymlinks(worktreePath)
	if err != nil {
		wanted = filepath.Clean(worktreePath)
	}

	worktrees, err := r.Worktrees(ctx)
	if err != nil {
		return "", err
	}
	for _, wt := range worktrees {
		resolved, err := filepath.EvalSymlinks(wt.Path)
		if err != nil {
			resolved = filepath.Clean(wt.Path)
		}
		if resolved == wanted {
			return wt.Branch, nil
		}
	}
	return "", nil
}
