// Copyright 2026 The Papermill Authors
// SPDX-License-Identifier: Apache-2.0

package sandbox

import "fmt"

// EmptyCommandError reports a run request with no worker command.
type EmptyCommandError struct{}

func (e *EmptyCommandError) Error() string {
	return "missing worker command (pass it after --)"
}

// CapabilityError reports that the host cannot run sandboxes at all:
// bubblewrap is missing or unprivileged user namespaces are disabled.
type CapabilityError struct {
	Reason string
}

func (e *CapabilityError) Error() string {
	return "sandbox unavailable on this host: " + e.Reason
}

// ManifestPathError reports the first manifest path that failed its
// existence precondition. The gate refuses to run rather than fall
// back to a wider filesystem view.
type ManifestPathError struct {
	// Path is the missing or malformed manifest entry.
	Path string

	// Reason says what was expected there.
	Reason string
}

func (e *ManifestPathError) Error() string {
	return fmt.Sprintf("manifest path %s: %s", e.Path, e.Reason)
}

// ExitError carries the worker's own exit code through the gate
// unchanged. It is a result, not a failure of the gate.
type ExitError struct {
	Code int
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("command exited with code %d", e.Code)
}

// IsExitError checks if an error is an ExitError and returns the code.
func IsExitError(err error) (int, bool) {
	if exitErr, ok := err.(*ExitError); ok {
		return exitErr.Code, true
	}
	return 0, false
}
