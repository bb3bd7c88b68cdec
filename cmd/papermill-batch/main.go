// Copyright 2026 The Papermill Authors
// SPDX-License-Identifier: Apache-2.0

// papermill-batch runs the full task lifecycle for a list of papers:
// worktree create, sandboxed worker run, worktree remove, with bounded
// parallelism.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/papermill-foundation/papermill/batch"
	"github.com/papermill-foundation/papermill/lib/config"
	"github.com/papermill-foundation/papermill/lib/git"
	"github.com/papermill-foundation/papermill/lib/process"
	"github.com/papermill-foundation/papermill/lib/version"
	"github.com/papermill-foundation/papermill/sandbox"
	"github.com/papermill-foundation/papermill/worktree"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		process.Fatal(err)
	}
}

func run(args []string) error {
	fs := pflag.NewFlagSet("papermill-batch", pflag.ExitOnError)
	fs.Usage = printUsage
	configPath := fs.String("config", "", "Path to papermill.yaml")
	tasksPath := fs.String("tasks", "", "Task list file, JSONC (required)")
	repoDir := fs.String("repo", "", "Shared repository directory (required)")
	policyDir := fs.String("policy", "", "Policy bundle directory, repo-relative")
	worktreesDir := fs.String("worktrees-dir", "", "Directory to place worktrees in, repo-relative")
	archiveDir := fs.String("archive-dir", "", "Archive each task's output dir here")
	branchPrefix := fs.String("branch-prefix", "", "Branch namespace prefix")
	parallelism := fs.IntP("parallelism", "j", 0, "Concurrent task limit")
	showVersion := fs.BoolP("version", "v", false, "Show version")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *showVersion {
		fmt.Printf("papermill-batch %s\n", version.Info())
		return nil
	}
	if *tasksPath == "" {
		return fmt.Errorf("--tasks is required")
	}

	cfg := config.Default()
	path := *configPath
	if path == "" {
		path = os.Getenv("PAPERMILL_CONFIG")
	}
	if path != "" {
		loaded, err := config.LoadFile(path)
		if err != nil {
			return err
		}
		cfg = loaded
	}
	if *repoDir == "" {
		*repoDir = cfg.Paths.Repository
	}
	if *repoDir == "" {
		return fmt.Errorf("--repo is required")
	}
	if *policyDir == "" {
		*policyDir = cfg.Policy.Dir
	}
	if *worktreesDir == "" {
		*worktreesDir = cfg.Paths.Worktrees
	}
	if *archiveDir == "" {
		*archiveDir = cfg.Paths.Archives
	}
	if *branchPrefix == "" {
		*branchPrefix = cfg.Sandbox.BranchPrefix
	}
	if *parallelism == 0 {
		*parallelism = cfg.Batch.Parallelism
	}

	logLevel := slog.LevelInfo
	if os.Getenv("PAPERMILL_DEBUG") != "" {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel,
	}))

	tasks, err := batch.LoadTasks(*tasksPath)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	runner := batch.NewRunner(batch.Config{
		Manager: worktree.NewManager(worktree.Config{
			Repository: git.NewRepository(*repoDir),
			Logger:     logger,
		}),
		Gate:         sandbox.NewGate(sandbox.Config{Logger: logger}),
		PolicyDir:    *policyDir,
		WorktreesDir: *worktreesDir,
		ArchiveDir:   *archiveDir,
		BranchPrefix: *branchPrefix,
		Parallelism:  *parallelism,
		Logger:       logger,
	})
	results, runErr := runner.Run(ctx, tasks)

	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(results); err != nil {
		return err
	}
	if runErr != nil {
		return runErr
	}

	failed := 0
	for i := range results {
		if results[i].Failed() {
			failed++
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d tasks failed", failed, len(results))
	}
	return nil
}

func printUsage() {
	fmt.Print(`papermill-batch - Run the task lifecycle for a list of papers

USAGE
    papermill-batch --tasks=<file> [flags]

FLAGS
    --tasks            Task list file, JSONC (required)
    --repo             Shared repository directory (required)
    --policy           Policy bundle directory, repo-relative
    --worktrees-dir    Directory to place worktrees in, repo-relative
    --archive-dir      Archive each task's output dir here
    --branch-prefix    Branch namespace prefix
    -j, --parallelism  Concurrent task limit (default 2)
    --config           Path to papermill.yaml (supplies flag defaults)

TASK FILE
    A JSONC array; comments and trailing commas are allowed:
        [
          // paper 42 first
          {"paper_dir": "payload/paper-42", "command": ["python3", "extract.py"]},
        ]

EXAMPLES
    papermill-batch --tasks=batch.jsonc --repo=/data/papers --policy=policy -j 4

ENVIRONMENT
    PAPERMILL_CONFIG  Path to papermill.yaml
    PAPERMILL_DEBUG   Enable debug logging
`)
}
