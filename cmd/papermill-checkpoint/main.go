// Copyright 2026 The Papermill Authors
// SPDX-License-Identifier: Apache-2.0

// papermill-checkpoint commits and pushes worker output on a
// processing cadence. Call it after every processed paper; it decides
// from the count whether anything is due.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/pflag"

	"github.com/papermill-foundation/papermill/checkpoint"
	"github.com/papermill-foundation/papermill/lib/config"
	"github.com/papermill-foundation/papermill/lib/git"
	"github.com/papermill-foundation/papermill/lib/process"
	"github.com/papermill-foundation/papermill/lib/version"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		process.Fatal(err)
	}
}

func run(args []string) error {
	fs := pflag.NewFlagSet("papermill-checkpoint", pflag.ExitOnError)
	fs.Usage = printUsage
	configPath := fs.String("config", "", "Path to papermill.yaml")
	repoDir := fs.String("repo", "", "Repository directory (required)")
	outputDir := fs.String("output", "", "Output directory to stage, repo-relative (required)")
	processed := fs.Int("processed", 0, "Number of papers processed so far (required, positive)")
	commitEvery := fs.Int("commit-every", 0, "Commit cadence in papers")
	pushEvery := fs.Int("push-every", 0, "Push cadence in papers")
	remote := fs.String("remote", "", "Remote to push to")
	branch := fs.String("branch", "", "Branch to push (default: current)")
	message := fs.String("message", "", "Commit message template; {count} expands")
	showVersion := fs.BoolP("version", "v", false, "Show version")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *showVersion {
		fmt.Printf("papermill-checkpoint %s\n", version.Info())
		return nil
	}

	cfg := config.Default()
	if path := firstNonEmpty(*configPath, os.Getenv("PAPERMILL_CONFIG")); path != "" {
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
	if *commitEvery == 0 {
		*commitEvery = cfg.Checkpoint.CommitEvery
	}
	if *pushEvery == 0 {
		*pushEvery = cfg.Checkpoint.PushEvery
	}
	if *remote == "" {
		*remote = cfg.Checkpoint.Remote
	}
	if *message == "" {
		*message = cfg.Checkpoint.MessageTemplate
	}

	logLevel := slog.LevelInfo
	if os.Getenv("PAPERMILL_DEBUG") != "" {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel,
	}))

	committer := checkpoint.NewCommitter(git.NewRepository(*repoDir), logger)
	summary, err := committer.Run(context.Background(), checkpoint.Options{
		ProcessedCount:  *processed,
		CommitEvery:     *commitEvery,
		PushEvery:       *pushEvery,
		OutputDir:       *outputDir,
		Remote:          *remote,
		Branch:          *branch,
		MessageTemplate: *message,
	})
	if err != nil {
		return err
	}

	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(summary)
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if value != "" {
			return value
		}
	}
	return ""
}

func printUsage() {
	fmt.Print(`papermill-checkpoint - Cadence commits and pushes of worker output

USAGE
    papermill-checkpoint [flags]

FLAGS
    --repo            Repository directory (required)
    --output          Output directory to stage, repo-relative (required)
    --processed       Number of papers processed so far (required, positive)
    --commit-every    Commit cadence in papers
    --push-every      Push cadence in papers
    --remote          Remote to push to (default origin)
    --branch          Branch to push (default: current branch)
    --message         Commit message template; {count} expands
    --config          Path to papermill.yaml (supplies flag defaults)

EXAMPLES
    # After paper 35 with commit-every=5 push-every=20: commits, no push
    papermill-checkpoint --repo=/data/papers --output=output --processed=35 --commit-every=5 --push-every=20

ENVIRONMENT
    PAPERMILL_CONFIG  Path to papermill.yaml
    PAPERMILL_DEBUG   Enable debug logging
`)
}
