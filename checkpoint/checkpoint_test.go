// Copyright 2026 The Papermill Authors
// SPDX-License-Identifier: Apache-2.0

package checkpoint

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/papermill-foundation/papermill/lib/git"
	"github.com/papermill-foundation/papermill/lib/testutil"
)

func stageRepo(t *testing.T) (*git.Repository, string) {
	t.Helper()
	root := testutil.InitRepo(t)
	testutil.WriteFile(t, filepath.Join(root, "output/.keep"), "")
	testutil.GitRun(t, root, "add", ".")
	testutil.GitRun(t, root, "commit", "-m", "add output dir")
	return git.NewRepository(root), root
}

func TestCommitOnCadence(t *testing.T) {
	t.Parallel()

	repo, root := stageRepo(t)
	testutil.WriteFile(t, filepath.Join(root, "output/paper-1.json"), "{}")

	committer := NewCommitter(repo, nil)
	summary, err := committer.Run(context.Background(), Options{
		ProcessedCount: 10,
		CommitEvery:    5,
		PushEvery:      20,
		OutputDir:      "output",
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if !summary.Committed || summary.StagedFiles != 1 {
		t.Errorf("summary = %+v", summary)
	}
	if summary.Pushed || summary.PushSkipped == "" {
		t.Errorf("push should be off cadence: %+v", summary)
	}

	log := testutil.GitRun(t, root, "log", "-1", "--format=%s")
	if strings.TrimSpace(log) != "checkpoint: 10 papers processed" {
		t.Errorf("commit message = %q", log)
	}
}

func TestCommitSkippedOffCadence(t *testing.T) {
	t.Parallel()

	repo, root := stageRepo(t)
	testutil.WriteFile(t, filepath.Join(root, "output/paper-1.json"), "{}")

	committer := NewCommitter(repo, nil)
	summary, err := committer.Run(context.Background(), Options{
		ProcessedCount: 7,
		CommitEvery:    5,
		PushEvery:      20,
		OutputDir:      "output",
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if summary.Committed || summary.CommitSkipped == "" {
		t.Errorf("summary = %+v", summary)
	}
	// The pending change stays in the working tree for the next
	// checkpoint.
	status := testutil.GitRun(t, root, "status", "--porcelain")
	if !strings.Contains(status, "output/paper-1.json") {
		t.Errorf("working tree status = %q", status)
	}
}

func TestCommitSkippedWhenNothingStaged(t *testing.T) {
	t.Parallel()

	repo, _ := stageRepo(t)
	committer := NewCommitter(repo, nil)
	summary, err := committer.Run(context.Background(), Options{
		ProcessedCount: 5,
		CommitEvery:    5,
		PushEvery:      5,
		OutputDir:      "output",
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if summary.Committed || summary.CommitSkipped != "nothing staged" {
		t.Errorf("summary = %+v", summary)
	}
}

func TestAuditRejectsOutsidePaths(t *testing.T) {
	t.Parallel()

	repo, root := stageRepo(t)
	testutil.WriteFile(t, filepath.Join(root, "output/paper-1.json"), "{}")
	// A path staged before the checkpoint call, outside the output
	// dir, must abort the commit.
	testutil.WriteFile(t, filepath.Join(root, "src/tool.py"), "pass")
	testutil.GitRun(t, root, "add", "src/tool.py")

	committer := NewCommitter(repo, nil)
	_, err := committer.Run(context.Background(), Options{
		ProcessedCount: 5,
		CommitEvery:    5,
		PushEvery:      5,
		OutputDir:      "output",
	})
	var auditErr *AuditError
	if !errors.As(err, &auditErr) {
		t.Fatalf("err = %v, want AuditError", err)
	}
	if len(auditErr.Paths) != 1 || auditErr.Paths[0] != "src/tool.py" {
		t.Errorf("audit paths = %v", auditErr.Paths)
	}

	// Nothing was committed and the stage was reset.
	staged, err := repo.StagedFiles(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(staged) != 0 {
		t.Errorf("stage not reset: %v", staged)
	}
}

func TestPushToConfiguredRemote(t *testing.T) {
	t.Parallel()

	repo, root := stageRepo(t)
	remote := testutil.InitRepo(t)
	testutil.GitRun(t, remote, "config", "receive.denyCurrentBranch", "ignore")
	testutil.GitRun(t, root, "remote", "add", "origin", remote)
	testutil.WriteFile(t, filepath.Join(root, "output/paper-1.json"), "{}")

	committer := NewCommitter(repo, nil)
	summary, err := committer.Run(context.Background(), Options{
		ProcessedCount: 5,
		CommitEvery:    5,
		PushEvery:      5,
		OutputDir:      "output",
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !summary.Committed || !summary.Pushed || summary.Branch != "main" {
		t.Errorf("summary = %+v", summary)
	}
}

func TestPushSkippedWithoutRemote(t *testing.T) {
	t.Parallel()

	repo, root := stageRepo(t)
	testutil.WriteFile(t, filepath.Join(root, "output/paper-1.json"), "{}")

	committer := NewCommitter(repo, nil)
	summary, err := committer.Run(context.Background(), Options{
		ProcessedCount: 5,
		CommitEvery:    5,
		PushEvery:      5,
		OutputDir:      "output",
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if summary.Pushed || !strings.Contains(summary.PushSkipped, "origin") {
		t.Errorf("summary = %+v", summary)
	}
}

func TestRejectsBadOptions(t *testing.T) {
	t.Parallel()

	repo, root := stageRepo(t)
	committer := NewCommitter(repo, nil)
	ctx := context.Background()

	cases := []Options{
		{ProcessedCount: -1, CommitEvery: 5, PushEvery: 5, OutputDir: "output"},
		// Zero is a multiple of every cadence; it must not fire an
		// immediate commit and push.
		{ProcessedCount: 0, CommitEvery: 5, PushEvery: 20, OutputDir: "output"},
		{ProcessedCount: 5, CommitEvery: 0, PushEvery: 5, OutputDir: "output"},
		{ProcessedCount: 5, CommitEvery: 5, PushEvery: -2, OutputDir: "output"},
		{ProcessedCount: 5, CommitEvery: 5, PushEvery: 5},
		{ProcessedCount: 5, CommitEvery: 5, PushEvery: 5, OutputDir: "../elsewhere"},
	}
	for _, opts := range cases {
		if _, err := committer.Run(ctx, opts); err == nil {
			t.Errorf("opts %+v: expected error", opts)
		}
	}

	// None of the rejected options reached git.
	if log := testutil.GitRun(t, root, "log", "--format=%s"); strings.Contains(log, "checkpoint") {
		t.Errorf("rejected options produced a commit:\n%s", log)
	}
}
