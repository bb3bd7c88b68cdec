// Copyright 2026 The Papermill Authors
// SPDX-License-Identifier: Apache-2.0

// Package worktree manages the lifecycle of per-task git worktrees.
// Each worker gets a private worktree on its own branch, with the
// task's payload and the policy bundle copied in and an output
// directory created, so concurrent workers never touch the shared
// checkout or each other. Create and Remove form a strict pair: a
// failed Create leaves no worktree and no branch behind.
package worktree

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/papermill-foundation/papermill/lib/clock"
	"github.com/papermill-foundation/papermill/lib/git"
	"github.com/papermill-foundation/papermill/lib/pathsafe"
	"github.com/papermill-foundation/papermill/sandbox"
)

// DefaultBranchPrefix namespaces task branches away from human work.
const DefaultBranchPrefix = "papermill"

// DefaultWorktreesDir is where task worktrees live, relative to the
// repository root. Keeping the root inside the repository makes the
// worktrees subject to the same containment rules as every other
// caller-supplied path.
const DefaultWorktreesDir = ".papermill/worktrees"

// branchStampLayout is the wall-clock component of generated branch
// names.
const branchStampLayout = "20060102-150405"

// Manager creates and removes task worktrees against one repository.
type Manager struct {
	repo   *git.Repository
	clock  clock.Clock
	logger *slog.Logger
}

// Config holds configuration for creating a Manager.
type Config struct {
	// Repository is the shared repository worktrees are created from.
	Repository *git.Repository

	// Clock supplies the branch-name timestamp. Defaults to the real
	// clock.
	Clock clock.Clock

	// Logger for lifecycle operations. Defaults to slog.Default().
	Logger *slog.Logger
}

// NewManager creates a Manager.
func NewManager(config Config) *Manager {
	c := config.Clock
	if c == nil {
		c = clock.Real()
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{repo: config.Repository, clock: c, logger: logger}
}

// CreateOptions describes one worktree creation request. PayloadDir
// and PolicyDir are repository-relative; everything else has a
// usable default.
type CreateOptions struct {
	// PayloadDir is the task's input directory, relative to the
	// repository root. It must exist.
	PayloadDir string

	// PolicyDir is the policy bundle directory, relative to the
	// repository root. It must exist.
	PolicyDir string

	// OutputDir is where the worker writes results, relative to the
	// worktree root. Defaults to <PayloadDir>/output.
	OutputDir string

	// WorktreesDir is where new worktrees are placed, relative to the
	// repository root. Defaults to DefaultWorktreesDir.
	WorktreesDir string

	// BranchPrefix namespaces the generated branch. Defaults to
	// DefaultBranchPrefix.
	BranchPrefix string

	// BaseRef is the commit the worktree branch starts from. Defaults
	// to HEAD.
	BaseRef string
}

// CreateResult is the record a caller needs to run and later tear down
// a task: where the worktree is, which branch holds it, and the
// sandbox manifest for its gate run.
type CreateResult struct {
	Path     string            `json:"worktree"`
	Branch   string            `json:"branch"`
	Manifest *sandbox.Manifest `json:"manifest"`
}

// Create provisions an isolated worktree for one task: a fresh branch
// from BaseRef, the payload and policy trees copied to their
// repository-relative locations, an output directory, and the sandbox
// manifest covering exactly those paths. On any failure after the
// worktree exists, Create rolls it back along with its branch.
func (m *Manager) Create(ctx context.Context, opts CreateOptions) (*CreateResult, error) {
	repoRoot, err := m.repo.Toplevel(ctx)
	if err != nil {
		return nil, err
	}

	payloadSrc, err := pathsafe.Resolve(repoRoot, opts.PayloadDir)
	if err != nil {
		return nil, fmt.Errorf("payload dir: %w", err)
	}
	if info, err := os.Stat(payloadSrc); err != nil || !info.IsDir() {
		return nil, &InputNotFoundError{Kind: "payload", Path: payloadSrc}
	}
	policySrc, err := pathsafe.Resolve(repoRoot, opts.PolicyDir)
	if err != nil {
		return nil, fmt.Errorf("policy dir: %w", err)
	}
	if info, err := os.Stat(policySrc); err != nil || !info.IsDir() {
		return nil, &InputNotFoundError{Kind: "policy", Path: policySrc}
	}

	branch, leaf := m.branchName(opts.BranchPrefix, opts.PayloadDir)

	worktreesRel := opts.WorktreesDir
	if worktreesRel == "" {
		worktreesRel = DefaultWorktreesDir
	}
	worktreesDir, err := pathsafe.Resolve(repoRoot, worktreesRel)
	if err != nil {
		return nil, fmt.Errorf("worktrees dir: %w", err)
	}
	if err := os.MkdirAll(worktreesDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating worktrees dir: %w", err)
	}
	worktreePath := filepath.Join(worktreesDir, leaf)

	baseRef := opts.BaseRef
	if baseRef == "" {
		baseRef = "HEAD"
	}

	if _, err := m.repo.Run(ctx, "worktree", "add", "-b", branch, worktreePath, baseRef); err != nil {
		return nil, &CreationError{Branch: branch, Err: err}
	}

	// From here on every failure must tear the worktree and branch
	// back down.
	if err := m.stage(ctx, worktreePath, payloadSrc, policySrc, opts); err != nil {
		m.rollback(ctx, worktreePath, branch)
		return nil, &StagingError{Err: err}
	}

	outputRel := opts.OutputDir
	if outputRel == "" {
		outputRel = filepath.Join(opts.PayloadDir, "output")
	}

	manifest, err := sandbox.NewManifest(worktreePath, opts.PayloadDir, opts.PolicyDir, outputRel)
	if err != nil {
		m.rollback(ctx, worktreePath, branch)
		return nil, &StagingError{Err: err}
	}
	if err := os.MkdirAll(manifest.Output, 0o755); err != nil {
		m.rollback(ctx, worktreePath, branch)
		return nil, &StagingError{Err: fmt.Errorf("creating output dir: %w", err)}
	}

	m.logger.Info("created worktree",
		"path", worktreePath,
		"branch", branch,
		"payload", opts.PayloadDir,
		"sandbox", manifest.ID(),
	)
	return &CreateResult{Path: worktreePath, Branch: branch, Manifest: manifest}, nil
}

// stage copies the payload and policy trees into the worktree at their
// repository-relative locations, replacing whatever the base ref put
// there.
func (m *Manager) stage(ctx context.Context, worktreePath, payloadSrc, policySrc string, opts CreateOptions) error {
	payloadDst, err := pathsafe.Resolve(worktreePath, opts.PayloadDir)
	if err != nil {
		return err
	}
	if err := copyTree(payloadSrc, payloadDst); err != nil {
		return fmt.Errorf("payload: %w", err)
	}

	policyDst, err := pathsafe.Resolve(worktreePath, opts.PolicyDir)
	if err != nil {
		return err
	}
	if err := copyTree(policySrc, policyDst); err != nil {
		return fmt.Errorf("policy: %w", err)
	}
	return nil
}

// branchName derives the task branch and the worktree directory leaf.
// The name combines a sanitized payload slug with a timestamp, the
// creating pid, and a random component, so concurrent creations in the
// same process and the same second still get distinct branches.
func (m *Manager) branchName(prefix, payloadDir string) (branch, leaf string) {
	if prefix == "" {
		prefix = DefaultBranchPrefix
	}
	slug := pathsafe.SanitizeIdentifier(filepath.Base(payloadDir))

	entropy := make([]byte, 3)
	rand.Read(entropy)

	leaf = fmt.Sprintf("%s-%s-%d-%s",
		slug,
		m.clock.Now().UTC().Format(branchStampLayout),
		os.Getpid(),
		hex.EncodeToString(entropy),
	)
	return prefix + "/" + leaf, leaf
}

// rollback removes a half-built worktree and its branch. Failures are
// logged, not returned: the caller already has the primary error.
func (m *Manager) rollback(ctx context.Context, worktreePath, branch string) {
	if _, err := m.repo.Run(ctx, "worktree", "remove", "--force", worktreePath); err != nil {
		m.logger.Warn("rollback: removing worktree failed", "path", worktreePath, "error", err)
		// worktree remove refuses some states; fall back to pruning
		// the registration after deleting the directory.
		os.RemoveAll(worktreePath)
		m.repo.Run(ctx, "worktree", "prune")
	}
	if _, err := m.repo.Run(ctx, "branch", "-D", branch); err != nil {
		m.logger.Warn("rollback: deleting branch failed", "branch", branch, "error", err)
	}
}

// RemoveOptions describes one worktree removal request.
type RemoveOptions struct {
	// Path is the worktree directory to remove.
	Path string

	// Branch is the worktree's branch. When empty it is looked up
	// from the worktree registry.
	Branch string

	// KeepBranch leaves the branch in place after the worktree is
	// gone, for callers that merge or inspect it later.
	KeepBranch bool

	// ArchiveDir, when set, receives a .tar.zst of OutputDir before
	// the worktree is destroyed.
	ArchiveDir string

	// OutputDir is the worktree-relative directory to archive.
	// Defaults to scanning being skipped when empty; only used with
	// ArchiveDir.
	OutputDir string
}

// RemoveResult reports what a removal actually did.
type RemoveResult struct {
	Path          string `json:"worktree"`
	Branch        string `json:"branch,omitempty"`
	BranchDeleted bool   `json:"branch_deleted"`
	ArchivePath   string `json:"archive,omitempty"`
}

// Remove destroys a task worktree, dirty or not. The branch is deleted
// unless KeepBranch is set; a branch-delete failure is reported in the
// result without failing the removal, since the isolation the worktree
// provided is already gone. Removing a path that no longer exists,
// including a second removal of the same worktree, returns
// *NotFoundError.
func (m *Manager) Remove(ctx context.Context, opts RemoveOptions) (*RemoveResult, error) {
	if info, err := os.Stat(opts.Path); err != nil || !info.IsDir() {
		return nil, &NotFoundError{Path: opts.Path}
	}

	branch := opts.Branch
	if branch == "" {
		found, err := m.repo.BranchForWorktree(ctx, opts.Path)
		if err != nil {
			return nil, err
		}
		branch = found
	}

	result := &RemoveResult{Path: opts.Path, Branch: branch}

	if opts.ArchiveDir != "" && opts.OutputDir != "" {
		archivePath, err := archiveOutput(opts.Path, opts.OutputDir, opts.ArchiveDir)
		if err != nil {
			m.logger.Warn("archiving output failed", "path", opts.Path, "error", err)
		} else if archivePath != "" {
			result.ArchivePath = archivePath
		}
	}

	if _, err := m.repo.Run(ctx, "worktree", "remove", "--force", opts.Path); err != nil {
		return nil, fmt.Errorf("removing worktree: %w", err)
	}

	if branch != "" && !opts.KeepBranch {
		if _, err := m.repo.Run(ctx, "branch", "-D", branch); err != nil {
			m.logger.Warn("deleting branch failed", "branch", branch, "error", err)
		} else {
			result.BranchDeleted = true
		}
	}

	m.logger.Info("removed worktree",
		"path", opts.Path,
		"branch", branch,
		"branch_deleted", result.BranchDeleted,
	)
	return result, nil
}
