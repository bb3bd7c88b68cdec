// Copyright 2026 The Papermill Authors
// SPDX-License-Identifier: Apache-2.0

package worktree

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"golang.org/x/sys/unix"

	"github.com/papermill-foundation/papermill/lib/clock"
	"github.com/papermill-foundation/papermill/lib/git"
	"github.com/papermill-foundation/papermill/lib/pathsafe"
	"github.com/papermill-foundation/papermill/lib/testutil"
	"github.com/papermill-foundation/papermill/sandbox"
)

// stageRepo builds a scratch repository with one task payload and a
// policy bundle committed on main.
func stageRepo(t *testing.T) (*git.Repository, string) {
	t.Helper()
	root := testutil.InitRepo(t)

	testutil.WriteFile(t, filepath.Join(root, ".gitignore"), ".papermill/\n")
	testutil.WriteFile(t, filepath.Join(root, "payload/paper-1/input.json"), `{"doi": "10.1000/x"}`)
	testutil.WriteFile(t, filepath.Join(root, "policy", sandbox.PolicyFile), "# extraction rules\n")
	testutil.WriteFile(t, filepath.Join(root, "policy", sandbox.PolicyReferencesDir, "schema.md"), "fields\n")
	testutil.WriteFile(t, filepath.Join(root, "policy", sandbox.PolicyScriptsDir, "check.sh"), "#!/bin/sh\n")
	testutil.GitRun(t, root, "add", ".")
	testutil.GitRun(t, root, "commit", "-m", "add task inputs")

	return git.NewRepository(root), root
}

func newManager(t *testing.T, repo *git.Repository) *Manager {
	t.Helper()
	return NewManager(Config{
		Repository: repo,
		Logger:     slog.New(slog.NewTextHandler(os.Stderr, nil)),
	})
}

func TestCreateAndRemove(t *testing.T) {
	t.Parallel()

	repo, root := stageRepo(t)
	manager := newManager(t, repo)
	ctx := context.Background()

	result, err := manager.Create(ctx, CreateOptions{
		PayloadDir: "payload/paper-1",
		PolicyDir:  "policy",
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	if !strings.HasPrefix(result.Branch, DefaultBranchPrefix+"/paper-1-") {
		t.Errorf("branch = %q", result.Branch)
	}
	if !strings.HasPrefix(result.Path, filepath.Join(root, DefaultWorktreesDir)+string(filepath.Separator)) {
		t.Errorf("worktree outside default root: %q", result.Path)
	}
	for _, rel := range []string{
		"payload/paper-1/input.json",
		filepath.Join("policy", sandbox.PolicyFile),
		filepath.Join("policy", sandbox.PolicyScriptsDir, "check.sh"),
	} {
		if _, err := os.Stat(filepath.Join(result.Path, rel)); err != nil {
			t.Errorf("worktree missing %s: %v", rel, err)
		}
	}
	if info, err := os.Stat(result.Manifest.Output); err != nil || !info.IsDir() {
		t.Errorf("output dir: info=%v err=%v", info, err)
	}
	if result.Manifest.WorkDir != result.Manifest.Payload {
		t.Errorf("manifest workdir = %q", result.Manifest.WorkDir)
	}

	// The shared checkout is untouched.
	if out := testutil.GitRun(t, root, "status", "--porcelain"); strings.TrimSpace(out) != "" {
		t.Errorf("main checkout dirty after create:\n%s", out)
	}

	removed, err := manager.Remove(ctx, RemoveOptions{Path: result.Path})
	if err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if !removed.BranchDeleted || removed.Branch != result.Branch {
		t.Errorf("remove result = %+v", removed)
	}
	if _, err := os.Stat(result.Path); !os.IsNotExist(err) {
		t.Errorf("worktree still present: %v", err)
	}
	if _, err := repo.Run(ctx, "rev-parse", "--verify", "refs/heads/"+result.Branch); err == nil {
		t.Errorf("branch %s still exists", result.Branch)
	}

	// Second removal of the same path fails cleanly.
	_, err = manager.Remove(ctx, RemoveOptions{Path: result.Path})
	var notFound *NotFoundError
	if !errors.As(err, &notFound) {
		t.Fatalf("second remove err = %v, want NotFoundError", err)
	}
}

func TestCreateMissingInputs(t *testing.T) {
	t.Parallel()

	repo, _ := stageRepo(t)
	manager := newManager(t, repo)
	ctx := context.Background()

	_, err := manager.Create(ctx, CreateOptions{
		PayloadDir: "payload/no-such-paper",
		PolicyDir:  "policy",
	})
	var notFound *InputNotFoundError
	if !errors.As(err, &notFound) || notFound.Kind != "payload" {
		t.Fatalf("err = %v, want payload InputNotFoundError", err)
	}

	_, err = manager.Create(ctx, CreateOptions{
		PayloadDir: "payload/paper-1",
		PolicyDir:  "no-such-policy",
	})
	if !errors.As(err, &notFound) || notFound.Kind != "policy" {
		t.Fatalf("err = %v, want policy InputNotFoundError", err)
	}
}

func TestCreateRejectsEscapingWorktreesDir(t *testing.T) {
	t.Parallel()

	repo, root := stageRepo(t)
	manager := newManager(t, repo)
	ctx := context.Background()

	for _, dir := range []string{"../elsewhere", t.TempDir()} {
		_, err := manager.Create(ctx, CreateOptions{
			PayloadDir:   "payload/paper-1",
			PolicyDir:    "policy",
			WorktreesDir: dir,
		})
		var escape *pathsafe.EscapeError
		if !errors.As(err, &escape) {
			t.Errorf("WorktreesDir %q: err = %v, want EscapeError", dir, err)
		}
	}

	if _, err := os.Stat(filepath.Join(filepath.Dir(root), "elsewhere")); !os.IsNotExist(err) {
		t.Errorf("escaped worktrees dir was created: %v", err)
	}
}

func TestCreateStagingFailureRollsBack(t *testing.T) {
	t.Parallel()

	repo, root := stageRepo(t)
	manager := newManager(t, repo)
	ctx := context.Background()

	// A fifo in the payload makes the staging copy fail partway
	// through.
	if err := unix.Mkfifo(filepath.Join(root, "payload/paper-1/pipe"), 0o644); err != nil {
		t.Skipf("mkfifo: %v", err)
	}

	_, err := manager.Create(ctx, CreateOptions{
		PayloadDir: "payload/paper-1",
		PolicyDir:  "policy",
	})
	var stagingErr *StagingError
	if !errors.As(err, &stagingErr) {
		t.Fatalf("err = %v, want StagingError", err)
	}

	entries, readErr := os.ReadDir(filepath.Join(root, DefaultWorktreesDir))
	if readErr != nil {
		t.Fatal(readErr)
	}
	if len(entries) != 0 {
		t.Errorf("worktree left behind after rollback: %v", entries)
	}
	out, runErr := repo.Run(ctx, "branch", "--list", DefaultBranchPrefix+"/*")
	if runErr != nil {
		t.Fatal(runErr)
	}
	if strings.TrimSpace(out) != "" {
		t.Errorf("branch left behind after rollback:\n%s", out)
	}
}

func TestCreateBranchesAreDistinct(t *testing.T) {
	t.Parallel()

	repo, _ := stageRepo(t)
	frozen := clock.Fake(time.Date(2026, 8, 23, 12, 0, 0, 0, time.UTC))
	manager := NewManager(Config{Repository: repo, Clock: frozen})
	ctx := context.Background()

	// Same payload, same pid, same frozen instant: only the random
	// component separates the branches.
	seen := map[string]bool{}
	for range 3 {
		result, err := manager.Create(ctx, CreateOptions{
			PayloadDir: "payload/paper-1",
			PolicyDir:  "policy",
		})
		if err != nil {
			t.Fatalf("Create: %v", err)
		}
		if seen[result.Branch] {
			t.Fatalf("duplicate branch %q", result.Branch)
		}
		seen[result.Branch] = true
		if !strings.Contains(result.Branch, "20260823-120000") {
			t.Errorf("branch missing frozen stamp: %q", result.Branch)
		}
	}
}

func TestRemoveDirtyWorktree(t *testing.T) {
	t.Parallel()

	repo, _ := stageRepo(t)
	manager := newManager(t, repo)
	ctx := context.Background()

	result, err := manager.Create(ctx, CreateOptions{
		PayloadDir: "payload/paper-1",
		PolicyDir:  "policy",
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	testutil.WriteFile(t, filepath.Join(result.Manifest.Output, "partial.json"), "{}")

	if _, err := manager.Remove(ctx, RemoveOptions{Path: result.Path}); err != nil {
		t.Fatalf("Remove of dirty worktree: %v", err)
	}
}

func TestRemoveKeepBranch(t *testing.T) {
	t.Parallel()

	repo, _ := stageRepo(t)
	manager := newManager(t, repo)
	ctx := context.Background()

	result, err := manager.Create(ctx, CreateOptions{
		PayloadDir: "payload/paper-1",
		PolicyDir:  "policy",
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	removed, err := manager.Remove(ctx, RemoveOptions{Path: result.Path, KeepBranch: true})
	if err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if removed.BranchDeleted {
		t.Error("branch deleted despite KeepBranch")
	}
	if _, err := repo.Run(ctx, "rev-parse", "--verify", "refs/heads/"+result.Branch); err != nil {
		t.Errorf("branch %s gone: %v", result.Branch, err)
	}
}
