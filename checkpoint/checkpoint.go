// Copyright 2026 The Papermill Authors
// SPDX-License-Identifier: Apache-2.0

// Package checkpoint commits and pushes worker output on a processing
// cadence. A long extraction run calls it after every paper; the
// committer decides from the processed count whether a commit or push
// is due, stages only the output directory, and audits the staged set
// so a misconfigured run can never sweep unrelated repository changes
// into a checkpoint commit.
package checkpoint

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/papermill-foundation/papermill/lib/git"
	"github.com/papermill-foundation/papermill/lib/pathsafe"
)

// DefaultMessageTemplate is the commit message when none is supplied.
// {count} expands to the processed count.
const DefaultMessageTemplate = "checkpoint: {count} papers processed"

// AuditError reports staged paths outside the output directory. The
// stage has been reset by the time this is returned; nothing was
// committed.
type AuditError struct {
	OutputDir string
	Paths     []string
}

func (e *AuditError) Error() string {
	return fmt.Sprintf("staged paths outside %s: %s",
		e.OutputDir, strings.Join(e.Paths, ", "))
}

// Options describes one checkpoint decision.
type Options struct {
	// ProcessedCount is how many papers the run has completed so far.
	// It must be positive: a count of zero means no work happened, and
	// zero is a multiple of every cadence.
	ProcessedCount int

	// CommitEvery and PushEvery are the cadences: a commit is due
	// when ProcessedCount is a multiple of CommitEvery, a push when it
	// is a multiple of PushEvery. Both must be positive.
	CommitEvery int
	PushEvery   int

	// OutputDir is the repository-relative directory to stage.
	OutputDir string

	// Remote to push to. Defaults to origin.
	Remote string

	// Branch to push. Defaults to the current branch; a detached HEAD
	// with no explicit branch is an error.
	Branch string

	// MessageTemplate for the commit message, with {count} expanding
	// to ProcessedCount. Defaults to DefaultMessageTemplate.
	MessageTemplate string
}

// Summary records what one checkpoint call actually did, as a
// structured record callers emit as JSON.
type Summary struct {
	ProcessedCount int    `json:"processed_count"`
	Committed      bool   `json:"committed"`
	CommitSkipped  string `json:"commit_skipped,omitempty"`
	StagedFiles    int    `json:"staged_files"`
	Pushed         bool   `json:"pushed"`
	PushSkipped    string `json:"push_skipped,omitempty"`
	Branch         string `json:"branch,omitempty"`
}

// Committer runs cadence checkpoints against one repository.
type Committer struct {
	repo   *git.Repository
	logger *slog.Logger
}

// NewCommitter creates a Committer. A nil logger falls back to
// slog.Default().
func NewCommitter(repo *git.Repository, logger *slog.Logger) *Committer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Committer{repo: repo, logger: logger}
}

// Run performs at most one commit and one push according to the
// cadence in opts and reports what happened. Skipping is normal
// operation; errors are reserved for bad options, failed git commands,
// and the staging audit.
func (c *Committer) Run(ctx context.Context, opts Options) (*Summary, error) {
	if opts.ProcessedCount <= 0 {
		return nil, fmt.Errorf("processed count must be positive, got %d", opts.ProcessedCount)
	}
	if opts.CommitEvery <= 0 || opts.PushEvery <= 0 {
		return nil, fmt.Errorf("cadences must be positive, got commit=%d push=%d",
			opts.CommitEvery, opts.PushEvery)
	}
	if opts.OutputDir == "" {
		return nil, fmt.Errorf("output dir is required")
	}

	repoRoot, err := c.repo.Toplevel(ctx)
	if err != nil {
		return nil, err
	}
	if _, err := pathsafe.Resolve(repoRoot, opts.OutputDir); err != nil {
		return nil, fmt.Errorf("output dir: %w", err)
	}
	outputRel := strings.TrimSuffix(opts.OutputDir, "/")

	summary := &Summary{ProcessedCount: opts.ProcessedCount}

	if opts.ProcessedCount%opts.CommitEvery == 0 {
		if err := c.commit(ctx, outputRel, opts, summary); err != nil {
			return nil, err
		}
	} else {
		summary.CommitSkipped = fmt.Sprintf("not due at count %d (every %d)",
			opts.ProcessedCount, opts.CommitEvery)
	}

	if opts.ProcessedCount%opts.PushEvery == 0 {
		if err := c.push(ctx, opts, summary); err != nil {
			return nil, err
		}
	} else {
		summary.PushSkipped = fmt.Sprintf("not due at count %d (every %d)",
			opts.ProcessedCount, opts.PushEvery)
	}

	c.logger.Info("checkpoint",
		"processed", summary.ProcessedCount,
		"committed", summary.Committed,
		"staged", summary.StagedFiles,
		"pushed", summary.Pushed,
	)
	return summary, nil
}

func (c *Committer) commit(ctx context.Context, outputRel string, opts Options, summary *Summary) error {
	if _, err := c.repo.Run(ctx, "add", "--", outputRel); err != nil {
		return fmt.Errorf("staging %s: %w", outputRel, err)
	}

	staged, err := c.repo.StagedFiles(ctx)
	if err != nil {
		return err
	}
	if outside := pathsOutside(staged, outputRel); len(outside) > 0 {
		// Unstage everything before reporting: leave the repository
		// exactly as it was found.
		c.repo.Run(ctx, "reset")
		return &AuditError{OutputDir: outputRel, Paths: outside}
	}
	summary.StagedFiles = len(staged)

	if len(staged) == 0 {
		summary.CommitSkipped = "nothing staged"
		return nil
	}

	template := opts.MessageTemplate
	if template == "" {
		template = DefaultMessageTemplate
	}
	message := strings.ReplaceAll(template, "{count}", strconv.Itoa(opts.ProcessedCount))

	if _, err := c.repo.Run(ctx, "commit", "-m", message); err != nil {
		return fmt.Errorf("committing: %w", err)
	}
	summary.Committed = true
	return nil
}

func (c *Committer) push(ctx context.Context, opts Options, summary *Summary) error {
	branch := opts.Branch
	if branch == "" {
		current, err := c.repo.CurrentBranch(ctx)
		if err != nil {
			return err
		}
		if current == "" {
			return fmt.Errorf("cannot push from a detached HEAD without an explicit branch")
		}
		branch = current
	}
	summary.Branch = branch

	remote := opts.Remote
	if remote == "" {
		remote = "origin"
	}
	if !c.repo.HasRemote(ctx, remote) {
		summary.PushSkipped = fmt.Sprintf("remote %q not configured", remote)
		return nil
	}

	if _, err := c.repo.Run(ctx, "push", remote, branch); err != nil {
		return fmt.Errorf("pushing %s to %s: %w", branch, remote, err)
	}
	summary.Pushed = true
	return nil
}

// pathsOutside returns the staged paths that are not the output dir or
// one of its descendants.
func pathsOutside(staged []string, outputRel string) []string {
	var outside []string
	for _, path := range staged {
		if path != outputRel && !strings.HasPrefix(path, outputRel+"/") {
			outside = append(outside, path)
		}
	}
	return outside
}
