// Copyright 2026 The Papermill Authors
// SPDX-License-Identifier: Apache-2.0

// Package sandbox runs worker commands inside a bubblewrap filesystem
// sandbox built from an explicit path manifest.
//
// The manifest is the contract between the worktree lifecycle manager
// and the gate: it names the one payload directory and one output
// directory a worker may write, and the policy bundle paths it may
// read. The gate maps those paths into a synthetic /workspace root,
// binds a minimal set of host system directories read-only, and
// exposes nothing else: no ambient access to the rest of the
// worktree, the repository, or the host filesystem. Worker exit codes
// are results, not errors, and are propagated verbatim.
package sandbox
