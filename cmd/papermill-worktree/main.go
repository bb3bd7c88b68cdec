// Copyright 2026 The Papermill Authors
// SPDX-License-Identifier: Apache-2.0

// papermill-worktree provisions and tears down isolated task worktrees.
//
// Usage:
//
//	papermill-worktree create [flags]
//	papermill-worktree remove [flags]
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/pflag"

	"github.com/papermill-foundation/papermill/lib/config"
	"github.com/papermill-foundation/papermill/lib/git"
	"github.com/papermill-foundation/papermill/lib/version"
	"github.com/papermill-foundation/papermill/worktree"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	logLevel := slog.LevelInfo
	if os.Getenv("PAPERMILL_DEBUG") != "" {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel,
	}))

	cmd := os.Args[1]
	args := os.Args[2:]

	var err error
	switch cmd {
	case "create":
		err = createCmd(args, logger)
	case "remove":
		err = removeCmd(args, logger)
	case "version", "--version", "-v":
		fmt.Printf("papermill-worktree %s\n", version.Info())
		return
	case "help", "--help", "-h":
		printUsage()
		return
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Print(`papermill-worktree - Provision isolated task worktrees

USAGE
    papermill-worktree <command> [flags]

COMMANDS
    create    Create a worktree for one paper and print its record
    remove    Remove a task worktree and its branch
    version   Show version

EXAMPLES
    # Create a worktree for one paper
    papermill-worktree create --repo=/data/papers --payload=payload/paper-42 --policy=policy

    # Remove it when the worker is done
    papermill-worktree remove --repo=/data/papers --path=/data/papermill-worktrees/paper-42-...

ENVIRONMENT
    PAPERMILL_CONFIG  Path to papermill.yaml (supplies flag defaults)
    PAPERMILL_DEBUG   Enable debug logging
`)
}

// loadConfig reads the optional config file named by --config or
// PAPERMILL_CONFIG. A missing config is fine; flags stand alone.
func loadConfig(path string) *config.Config {
	if path == "" {
		path = os.Getenv("PAPERMILL_CONFIG")
	}
	if path == "" {
		return config.Default()
	}
	cfg, err := config.LoadFile(path)
	if err != nil {
		return config.Default()
	}
	return cfg
}

func createCmd(args []string, logger *slog.Logger) error {
	fs := pflag.NewFlagSet("create", pflag.ExitOnError)
	configPath := fs.String("config", "", "Path to papermill.yaml")
	repoDir := fs.String("repo", "", "Shared repository directory (required)")
	payloadDir := fs.String("payload", "", "Paper payload directory, repo-relative (required)")
	policyDir := fs.String("policy", "", "Policy bundle directory, repo-relative")
	outputDir := fs.String("output", "", "Output directory, worktree-relative (default <payload>/output)")
	worktreesDir := fs.String("worktrees-dir", "", "Directory to place worktrees in, repo-relative")
	branchPrefix := fs.String("branch-prefix", "", "Branch namespace prefix")
	baseRef := fs.String("base-ref", "", "Commit to branch from (default HEAD)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg := loadConfig(*configPath)
	if *repoDir == "" {
		*repoDir = cfg.Paths.Repository
	}
	if *repoDir == "" {
		return fmt.Errorf("--repo is required")
	}
	if *payloadDir == "" {
		return fmt.Errorf("--payload is required")
	}
	if *policyDir == "" {
		*policyDir = cfg.Policy.Dir
	}
	if *worktreesDir == "" {
		*worktreesDir = cfg.Paths.Worktrees
	}
	if *branchPrefix == "" {
		*branchPrefix = cfg.Sandbox.BranchPrefix
	}

	manager := worktree.NewManager(worktree.Config{
		Repository: git.NewRepository(*repoDir),
		Logger:     logger,
	})
	result, err := manager.Create(context.Background(), worktree.CreateOptions{
		PayloadDir:   *payloadDir,
		PolicyDir:    *policyDir,
		OutputDir:    *outputDir,
		WorktreesDir: *worktreesDir,
		BranchPrefix: *branchPrefix,
		BaseRef:      *baseRef,
	})
	if err != nil {
		return err
	}
	return printJSON(result)
}

func removeCmd(args []string, logger *slog.Logger) error {
	fs := pflag.NewFlagSet("remove", pflag.ExitOnError)
	configPath := fs.String("config", "", "Path to papermill.yaml")
	repoDir := fs.String("repo", "", "Shared repository directory (required)")
	path := fs.String("path", "", "Worktree directory to remove (required)")
	branch := fs.String("branch", "", "Worktree branch (default: looked up)")
	keepBranch := fs.Bool("keep-branch", false, "Leave the branch in place")
	archiveDir := fs.String("archive-dir", "", "Archive the output dir here before removal")
	outputDir := fs.String("output", "", "Output directory to archive, worktree-relative")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg := loadConfig(*configPath)
	if *repoDir == "" {
		*repoDir = cfg.Paths.Repository
	}
	if *repoDir == "" {
		return fmt.Errorf("--repo is required")
	}
	if *path == "" {
		return fmt.Errorf("--path is required")
	}
	if *archiveDir == "" {
		*archiveDir = cfg.Paths.Archives
	}

	manager := worktree.NewManager(worktree.Config{
		Repository: git.NewRepository(*repoDir),
		Logger:     logger,
	})
	result, err := manager.Remove(context.Background(), worktree.RemoveOptions{
		Path:       *path,
		Branch:     *branch,
		KeepBranch: *keepBranch,
		ArchiveDir: *archiveDir,
		OutputDir:  *outputDir,
	})
	if err != nil {
		return err
	}
	return printJSON(result)
}

func printJSON(value any) error {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(value)
}
