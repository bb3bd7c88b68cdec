// Copyright 2026 The Papermill Authors
// SPDX-License-Identifier: Apache-2.0

package sandbox

import (
	"fmt"
	"os"
	"os/exec"
	"path"
	"sort"
	"strings"

	"github.com/papermill-foundation/papermill/lib/pathsafe"
)

// WorkspaceRoot is the synthetic mount namespace root every manifest
// path is mapped under. Workers see their worktree slice at
// /workspace/<repo-relative path> regardless of where the worktree
// lives on the host.
const WorkspaceRoot = "/workspace"

// MarkerVariable is the environment variable that identifies the
// sandbox to the worker. Its value is the manifest ID.
const MarkerVariable = "PAPERMILL_SANDBOX"

// systemReadOnlyPaths are the host directories bound read-only so the
// worker command can execute at all: interpreters, shared libraries,
// and name resolution configuration. Missing entries are skipped.
var systemReadOnlyPaths = []string{
	"/usr",
	"/bin",
	"/sbin",
	"/lib",
	"/lib64",
	"/etc",
	"/opt",
}

// WorkdirMode selects the worker's working directory inside the
// sandbox.
type WorkdirMode string

const (
	// WorkdirWorkspace starts the worker at the synthetic workspace
	// root.
	WorkdirWorkspace WorkdirMode = "workspace"

	// WorkdirPayload starts the worker in its mapped payload
	// directory.
	WorkdirPayload WorkdirMode = "payload"
)

// ParseWorkdirMode parses a mode name from the CLI.
func ParseWorkdirMode(raw string) (WorkdirMode, error) {
	switch WorkdirMode(raw) {
	case WorkdirWorkspace, WorkdirPayload:
		return WorkdirMode(raw), nil
	default:
		return "", fmt.Errorf("invalid workdir mode %q: must be %q or %q",
			raw, WorkdirWorkspace, WorkdirPayload)
	}
}

// BwrapOptions holds options for building a bwrap argument list.
type BwrapOptions struct {
	// Manifest is the path allow-list to realize as bind mounts.
	Manifest *Manifest

	// Mode selects the working directory inside the sandbox.
	Mode WorkdirMode

	// Command is the worker argv to run inside the sandbox.
	Command []string

	// ExtraEnv are additional environment variables set after the
	// environment is cleared.
	ExtraEnv map[string]string
}

// BuildBwrapArgs constructs the bubblewrap argument list realizing
// the manifest. The order is: isolation flags, base mounts, host
// system read-only binds, /workspace directory scaffolding, manifest
// binds, environment, chdir, then the command after "--".
func BuildBwrapArgs(opts *BwrapOptions) ([]string, error) {
	manifest := opts.Manifest
	if manifest == nil {
		return nil, fmt.Errorf("manifest is required")
	}
	if len(opts.Command) == 0 {
		return nil, &EmptyCommandError{}
	}

	payloadDest, err := workspaceDest(manifest.Root, manifest.Payload)
	if err != nil {
		return nil, err
	}
	outputDest, err := workspaceDest(manifest.Root, manifest.Output)
	if err != nil {
		return nil, err
	}

	args := []string{
		"--die-with-parent",
		"--new-session",
		"--unshare-pid",
		"--proc", "/proc",
		"--dev", "/dev",
		"--tmpfs", "/tmp",
	}

	for _, hostPath := range systemReadOnlyPaths {
		if _, err := os.Stat(hostPath); err == nil {
			args = append(args, "--ro-bind", hostPath, hostPath)
		}
	}

	// bwrap's --dir creates a single directory, so every ancestor of
	// a bind destination has to be created explicitly, shallowest
	// first.
	scaffold := map[string]bool{WorkspaceRoot: true}
	addHierarchy(scaffold, payloadDest)
	addHierarchy(scaffold, outputDest)
	for _, policyPath := range manifest.Policy {
		dest, err := workspaceDest(manifest.Root, policyPath)
		if err != nil {
			return nil, err
		}
		// The bind target itself is created by bwrap for directories;
		// the file entry (SKILL.md) only needs its parent.
		addHierarchy(scaffold, path.Dir(dest))
	}
	for _, dir := range sortedDirs(scaffold) {
		args = append(args, "--dir", dir)
	}

	args = append(args, "--bind", manifest.Payload, payloadDest)
	args = append(args, "--bind", manifest.Output, outputDest)
	for _, policyPath := range manifest.Policy {
		dest, err := workspaceDest(manifest.Root, policyPath)
		if err != nil {
			return nil, err
		}
		args = append(args, "--ro-bind", policyPath, dest)
	}

	args = append(args, "--clearenv")
	env := map[string]string{
		MarkerVariable: manifest.ID(),
		"HOME":         "/tmp",
		"PATH":         "/usr/local/bin:/usr/bin:/bin",
	}
	for key, value := range opts.ExtraEnv {
		env[key] = value
	}
	keys := make([]string, 0, len(env))
	for key := range env {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		args = append(args, "--setenv", key, env[key])
	}

	chdir := WorkspaceRoot
	if opts.Mode == WorkdirPayload {
		chdir = payloadDest
	}
	args = append(args, "--chdir", chdir)

	args = append(args, "--")
	args = append(args, opts.Command...)
	return args, nil
}

// workspaceDest maps a manifest path to its destination under the
// synthetic workspace root, mirroring its position inside the
// worktree.
func workspaceDest(root, hostPath string) (string, error) {
	rel, err := pathsafe.RelativeTo(root, hostPath)
	if err != nil {
		return "", err
	}
	if rel == "." {
		return WorkspaceRoot, nil
	}
	return path.Join(WorkspaceRoot, rel), nil
}

// addHierarchy records dest and every ancestor up to the workspace
// root in the scaffold set.
func addHierarchy(scaffold map[string]bool, dest string) {
	for current := dest; strings.HasPrefix(current, WorkspaceRoot); current = path.Dir(current) {
		scaffold[current] = true
	}
}

// sortedDirs orders scaffold directories shallowest first so each
// --dir has an existing parent.
func sortedDirs(scaffold map[string]bool) []string {
	dirs := make([]string, 0, len(scaffold))
	for dir := range scaffold {
		dirs = append(dirs, dir)
	}
	sort.Slice(dirs, func(i, j int) bool {
		di := strings.Count(dirs[i], "/")
		dj := strings.Count(dirs[j], "/")
		if di != dj {
			return di < dj
		}
		return dirs[i] < dirs[j]
	})
	return dirs
}

// BwrapPath returns the path to the bwrap executable, checking PATH
// first and then the standard install locations.
func BwrapPath() (string, error) {
	if found, err := exec.LookPath("bwrap"); err == nil {
		return found, nil
	}
	for _, candidate := range []string{"/usr/bin/bwrap", "/usr/local/bin/bwrap", "/bin/bwrap"} {
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("bwrap not found in PATH or standard locations")
}
