// Copyright 2026 The Papermill Authors
// SPDX-License-Identifier: Apache-2.0

// Package batch drives the full task lifecycle for a list of papers:
// worktree create, sandboxed worker run, worktree remove, with bounded
// parallelism. One task's failure or nonzero worker exit is recorded
// in its result and never aborts the rest of the batch.
package batch

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/tidwall/jsonc"
	"golang.org/x/sync/errgroup"

	"github.com/papermill-foundation/papermill/sandbox"
	"github.com/papermill-foundation/papermill/worktree"
)

// DefaultParallelism bounds concurrent tasks when the caller does not.
const DefaultParallelism = 2

// Task is one entry of the batch file.
type Task struct {
	// PaperDir is the payload directory, relative to the repository
	// root.
	PaperDir string `json:"paper_dir"`

	// Command is the worker argv to run inside the sandbox.
	Command []string `json:"command"`

	// WorkdirMode is "payload" (default) or "workspace".
	WorkdirMode string `json:"workdir_mode,omitempty"`
}

// LoadTasks reads a task list from a JSONC file. Comments and trailing
// commas are allowed so operators can annotate long batch files.
func LoadTasks(path string) ([]Task, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var tasks []Task
	if err := json.Unmarshal(jsonc.ToJSON(data), &tasks); err != nil {
		return nil, fmt.Errorf("decoding task list %s: %w", path, err)
	}
	for i, task := range tasks {
		if task.PaperDir == "" {
			return nil, fmt.Errorf("task %d: paper_dir is required", i)
		}
		if len(task.Command) == 0 {
			return nil, fmt.Errorf("task %d (%s): command is required", i, task.PaperDir)
		}
		if task.WorkdirMode != "" {
			if _, err := sandbox.ParseWorkdirMode(task.WorkdirMode); err != nil {
				return nil, fmt.Errorf("task %d (%s): %w", i, task.PaperDir, err)
			}
		}
	}
	return tasks, nil
}

// SandboxRunner runs one command inside a sandbox boundary. Satisfied
// by *sandbox.Gate.
type SandboxRunner interface {
	Run(ctx context.Context, manifest *sandbox.Manifest, mode sandbox.WorkdirMode, command []string) (int, error)
}

// Config holds the collaborators and shared settings for a batch run.
type Config struct {
	// Manager provisions and tears down worktrees.
	Manager *worktree.Manager

	// Gate runs the worker commands.
	Gate SandboxRunner

	// PolicyDir is the policy bundle, relative to the repository
	// root, shared by every task.
	PolicyDir string

	// WorktreesDir (repo-relative), ArchiveDir, and BranchPrefix are
	// passed through to the lifecycle manager.
	WorktreesDir string
	ArchiveDir   string
	BranchPrefix string

	// Parallelism bounds concurrent tasks. Defaults to
	// DefaultParallelism.
	Parallelism int

	// Logger for per-task progress. Defaults to slog.Default().
	Logger *slog.Logger
}

// TaskResult records the outcome of one task.
type TaskResult struct {
	PaperDir string `json:"paper_dir"`
	Branch   string `json:"branch,omitempty"`
	ExitCode int    `json:"exit_code"`
	Error    string `json:"error,omitempty"`
	Archive  string `json:"archive,omitempty"`
}

// Failed reports whether the task failed, either through a lifecycle
// error or a nonzero worker exit.
func (r *TaskResult) Failed() bool {
	return r.Error != "" || r.ExitCode != 0
}

// Runner executes batches.
type Runner struct {
	config Config
	logger *slog.Logger
}

// NewRunner creates a Runner.
func NewRunner(config Config) *Runner {
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if config.Parallelism <= 0 {
		config.Parallelism = DefaultParallelism
	}
	return &Runner{config: config, logger: logger}
}

// Run executes every task and returns one result per task, in task
// order. The error return is reserved for context cancellation; task
// failures live in the results.
func (r *Runner) Run(ctx context.Context, tasks []Task) ([]TaskResult, error) {
	results := make([]TaskResult, len(tasks))

	group, ctx := errgroup.WithContext(ctx)
	group.SetLimit(r.config.Parallelism)
	for i, task := range tasks {
		group.Go(func() error {
			if err := ctx.Err(); err != nil {
				results[i] = TaskResult{PaperDir: task.PaperDir, Error: err.Error()}
				return err
			}
			results[i] = r.runTask(ctx, task)
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return results, err
	}
	return results, nil
}

// runTask does create, sandboxed run, remove for one paper. The
// worktree is removed even when the worker failed; its output survives
// in the archive when one is configured.
func (r *Runner) runTask(ctx context.Context, task Task) TaskResult {
	result := TaskResult{PaperDir: task.PaperDir}

	created, err := r.config.Manager.Create(ctx, worktree.CreateOptions{
		PayloadDir:   task.PaperDir,
		PolicyDir:    r.config.PolicyDir,
		WorktreesDir: r.config.WorktreesDir,
		BranchPrefix: r.config.BranchPrefix,
	})
	if err != nil {
		result.Error = fmt.Sprintf("create: %v", err)
		return result
	}
	result.Branch = created.Branch

	mode := sandbox.WorkdirPayload
	if task.WorkdirMode != "" {
		mode, _ = sandbox.ParseWorkdirMode(task.WorkdirMode)
	}

	exitCode, runErr := r.config.Gate.Run(ctx, created.Manifest, mode, task.Command)
	result.ExitCode = exitCode
	if runErr != nil {
		result.Error = fmt.Sprintf("run: %v", runErr)
	}

	removed, removeErr := r.config.Manager.Remove(ctx, worktree.RemoveOptions{
		Path:       created.Path,
		Branch:     created.Branch,
		ArchiveDir: r.config.ArchiveDir,
		OutputDir:  created.Manifest.OutputRel(),
	})
	if removeErr != nil {
		if result.Error == "" {
			result.Error = fmt.Sprintf("remove: %v", removeErr)
		} else {
			r.logger.Warn("removing worktree after failed run",
				"paper", task.PaperDir, "error", removeErr)
		}
	} else if removed.ArchivePath != "" {
		result.Archive = removed.ArchivePath
	}

	r.logger.Info("task finished",
		"paper", task.PaperDir,
		"branch", result.Branch,
		"exit_code", result.ExitCode,
		"failed", result.Failed(),
	)
	return result
}
