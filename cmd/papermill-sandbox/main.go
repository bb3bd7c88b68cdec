// Copyright 2026 The Papermill Authors
// SPDX-License-Identifier: Apache-2.0

// papermill-sandbox runs worker commands inside the bubblewrap
// boundary of a task worktree.
//
// Usage:
//
//	papermill-sandbox run [flags] -- <command> [args...]
//	papermill-sandbox validate [flags]
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/papermill-foundation/papermill/lib/process"
	"github.com/papermill-foundation/papermill/lib/version"
	"github.com/papermill-foundation/papermill/sandbox"
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
	case "run":
		err = runCmd(args, logger)
	case "validate":
		err = validateCmd(args)
	case "version", "--version", "-v":
		fmt.Printf("papermill-sandbox %s\n", version.Full())
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
		// The worker's own exit code passes through untouched.
		if code, ok := sandbox.IsExitError(err); ok {
			process.Exit(code)
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Print(`papermill-sandbox - Run worker commands in an isolated sandbox

USAGE
    papermill-sandbox <command> [flags] [-- <args>...]

COMMANDS
    run       Run a command inside a worktree's sandbox boundary
    validate  Preflight the host and a worktree's manifest paths
    version   Show version

EXAMPLES
    # Run the extraction worker over one paper
    papermill-sandbox run --worktree=/work/paper-42-... --payload=payload/paper-42 -- python3 extract.py

    # Start in the workspace root instead of the payload directory
    papermill-sandbox run --worktree=/work/paper-42-... --payload=payload/paper-42 --workdir=workspace -- bash

    # Check the host before a long batch
    papermill-sandbox validate --worktree=/work/paper-42-... --payload=payload/paper-42

ENVIRONMENT
    PAPERMILL_DEBUG   Enable debug logging
`)
}

// manifestFlags are the flags shared by run and validate that identify
// the boundary.
func manifestFlags(fs *pflag.FlagSet) (worktreePath, payload, policy, output *string) {
	worktreePath = fs.String("worktree", "", "Task worktree directory (required)")
	payload = fs.String("payload", "", "Payload directory, worktree-relative (required)")
	policy = fs.String("policy", "policy", "Policy bundle directory, worktree-relative")
	output = fs.String("output", "", "Output directory, worktree-relative (default <payload>/output)")
	return
}

func buildManifest(worktreePath, payload, policy, output string) (*sandbox.Manifest, error) {
	if worktreePath == "" {
		return nil, fmt.Errorf("--worktree is required")
	}
	if payload == "" {
		return nil, fmt.Errorf("--payload is required")
	}
	if output == "" {
		output = payload + "/output"
	}
	return sandbox.NewManifest(worktreePath, payload, policy, output)
}

func runCmd(args []string, logger *slog.Logger) error {
	fs := pflag.NewFlagSet("run", pflag.ExitOnError)
	worktreePath, payload, policy, output := manifestFlags(fs)
	workdir := fs.String("workdir", string(sandbox.WorkdirPayload), "Working directory mode: payload or workspace")
	extraEnvs := fs.StringArray("env", nil, "Extra environment variable (KEY=VALUE), repeatable")
	if err := fs.Parse(args); err != nil {
		return err
	}

	command := fs.Args()
	if len(command) == 0 {
		return &sandbox.EmptyCommandError{}
	}

	mode, err := sandbox.ParseWorkdirMode(*workdir)
	if err != nil {
		return err
	}
	manifest, err := buildManifest(*worktreePath, *payload, *policy, *output)
	if err != nil {
		return err
	}

	extraEnv := map[string]string{}
	for _, env := range *extraEnvs {
		key, value, found := strings.Cut(env, "=")
		if !found {
			return fmt.Errorf("invalid env %q: must be KEY=VALUE", env)
		}
		extraEnv[key] = value
	}

	// Cancel on SIGINT/SIGTERM; the gate kills the worker's process
	// group.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	gate := sandbox.NewGate(sandbox.Config{Logger: logger})
	code, err := gate.RunOptions(ctx, &sandbox.BwrapOptions{
		Manifest: manifest,
		Mode:     mode,
		Command:  command,
		ExtraEnv: extraEnv,
	})
	if err != nil {
		return err
	}
	if code != 0 {
		return &sandbox.ExitError{Code: code}
	}
	return nil
}

func validateCmd(args []string) error {
	fs := pflag.NewFlagSet("validate", pflag.ExitOnError)
	worktreePath, payload, policy, output := manifestFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}

	manifest, err := buildManifest(*worktreePath, *payload, *policy, *output)
	if err != nil {
		return err
	}

	results := sandbox.Validate(manifest)
	for _, result := range results {
		line := fmt.Sprintf("[%s] %s", strings.ToUpper(string(result.Status)), result.Name)
		if result.Detail != "" {
			line += ": " + result.Detail
		}
		fmt.Println(line)
	}
	if !sandbox.Viable(results) {
		return fmt.Errorf("validation failed")
	}
	return nil
}
