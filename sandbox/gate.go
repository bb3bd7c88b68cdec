// Copyright 2026 The Papermill Authors
// SPDX-License-Identifier: Apache-2.0

package sandbox

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"syscall"
)

// Gate launches worker commands inside the restricted boundary
// described by a manifest.
type Gate struct {
	logger *slog.Logger

	// detect is swappable for tests that exercise the capability
	// refusal path on hosts that do have bwrap.
	detect func() *Capabilities
}

// Config holds configuration for creating a Gate.
type Config struct {
	// Logger for gate operations. Defaults to slog.Default().
	Logger *slog.Logger
}

// NewGate creates a Gate.
func NewGate(config Config) *Gate {
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Gate{logger: logger, detect: DetectCapabilities}
}

// Run executes command synchronously inside the boundary built from
// manifest and returns the worker's exit code unchanged. A nonzero
// worker exit is a normal result, not an error. Errors are reserved
// for gate failures: empty command, missing host capability, missing
// manifest paths, or an unstartable bwrap process.
//
// Run has no timeout of its own. Callers that need bounded execution
// cancel ctx, which kills the worker's process group; a worktree
// holding the partial output can still be removed afterward.
func (g *Gate) Run(ctx context.Context, manifest *Manifest, mode WorkdirMode, command []string) (int, error) {
	return g.RunOptions(ctx, &BwrapOptions{Manifest: manifest, Mode: mode, Command: command})
}

// RunOptions is Run with full control over the boundary options,
// including extra environment variables for the worker.
func (g *Gate) RunOptions(ctx context.Context, opts *BwrapOptions) (int, error) {
	cmd, err := g.CommandOptions(ctx, opts)
	if err != nil {
		return 0, err
	}

	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	g.logger.Info("running sandboxed command",
		"sandbox", opts.Manifest.ID(),
		"worktree", opts.Manifest.Root,
		"workdir_mode", string(opts.Mode),
		"command", opts.Command,
	)

	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return exitErr.ExitCode(), nil
		}
		return 0, fmt.Errorf("sandbox command failed to run: %w", err)
	}
	return 0, nil
}

// Command builds the exec.Cmd for a sandboxed run without starting
// it. Useful for custom I/O handling and for tests.
func (g *Gate) Command(ctx context.Context, manifest *Manifest, mode WorkdirMode, command []string) (*exec.Cmd, error) {
	return g.CommandOptions(ctx, &BwrapOptions{Manifest: manifest, Mode: mode, Command: command})
}

// CommandOptions is Command with full control over the boundary
// options.
func (g *Gate) CommandOptions(ctx context.Context, opts *BwrapOptions) (*exec.Cmd, error) {
	if len(opts.Command) == 0 {
		return nil, &EmptyCommandError{}
	}
	if opts.Manifest == nil {
		return nil, fmt.Errorf("manifest is required")
	}

	caps := g.detect()
	if !caps.CanRunSandbox() {
		return nil, &CapabilityError{Reason: caps.SkipReason()}
	}

	if err := checkManifestPaths(opts.Manifest); err != nil {
		return nil, err
	}

	args, err := BuildBwrapArgs(opts)
	if err != nil {
		return nil, err
	}

	cmd := exec.CommandContext(ctx, caps.BwrapPath, args...)

	// Explicitly set a minimal environment for the bwrap process
	// itself. bwrap clears the environment inside the sandbox, but
	// the bwrap process would otherwise carry the parent's full
	// environment in /proc/<pid>/environ.
	cmd.Env = []string{
		"PATH=/usr/local/bin:/usr/bin:/bin",
	}

	// Own process group so cancellation kills the whole worker tree.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	return cmd, nil
}

// checkManifestPaths verifies every manifest path exists in the form
// the boundary needs: the payload and policy directories must already
// be there, the policy file must be a file, and the output directory
// is created when absent. The first missing path fails the run; the
// gate never widens the view to compensate.
func checkManifestPaths(manifest *Manifest) error {
	info, err := os.Stat(manifest.Payload)
	if err != nil {
		return &ManifestPathError{Path: manifest.Payload, Reason: "payload directory not found"}
	}
	if !info.IsDir() {
		return &ManifestPathError{Path: manifest.Payload, Reason: "payload must be a directory"}
	}

	for i, policyPath := range manifest.Policy {
		info, err := os.Stat(policyPath)
		if err != nil {
			return &ManifestPathError{Path: policyPath, Reason: "policy path not found"}
		}
		// The first policy entry is the instruction file; the rest
		// are directories.
		if i == 0 && info.IsDir() {
			return &ManifestPathError{Path: policyPath, Reason: "policy file must be a regular file"}
		}
		if i > 0 && !info.IsDir() {
			return &ManifestPathError{Path: policyPath, Reason: "policy path must be a directory"}
		}
	}

	if err := os.MkdirAll(manifest.Output, 0o755); err != nil {
		return &ManifestPathError{Path: manifest.Output, Reason: fmt.Sprintf("cannot create output directory: %v", err)}
	}
	return nil
}
