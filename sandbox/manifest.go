// Copyright 2026 The Papermill Authors
// SPDX-License-Identifier: Apache-2.0

package sandbox

import (
	"encoding/hex"
	"fmt"
	"path/filepath"

	"github.com/zeebo/blake3"

	"github.com/papermill-foundation/papermill/lib/pathsafe"
)

// Policy bundle entries exposed read-only to every worker. The bundle
// directory holds one instruction file and two fixed subdirectories.
const (
	PolicyFile          = "SKILL.md"
	PolicyReferencesDir = "references"
	PolicyScriptsDir    = "scripts"
)

// Manifest names every path a sandboxed worker may touch. It is
// computed once, when the worktree is created, and treated as
// immutable input by the gate. All paths are absolute and contained
// in Root; NewManifest enforces this, so a Manifest in hand is proof
// of containment.
type Manifest struct {
	// Root is the worktree the manifest was computed for.
	Root string `json:"worktree"`

	// Payload is the task's private input directory (read-write).
	// It must exist before the gate will run anything.
	Payload string `json:"payload"`

	// Output is the worker's output directory (read-write). The gate
	// creates it when absent.
	Output string `json:"output"`

	// Policy holds the read-only policy bundle paths: the instruction
	// file, the references directory, and the scripts directory.
	Policy []string `json:"policy"`

	// WorkDir is the recommended working directory for the worker,
	// the payload copy by default.
	WorkDir string `json:"entry_cwd"`
}

// NewManifest resolves the payload, policy, and output locations
// (given relative to the worktree root) and returns the manifest. The
// policy bundle expands to its three fixed sub-paths. Any input that
// resolves outside the root fails with *pathsafe.EscapeError.
func NewManifest(root, payloadRel, policyRel, outputRel string) (*Manifest, error) {
	// Resolve symlinks in the root once so every stored path shares
	// the same canonical prefix and maps lexically under /workspace.
	resolvedRoot, err := filepath.EvalSymlinks(root)
	if err != nil {
		return nil, fmt.Errorf("worktree root: %w", err)
	}
	root = resolvedRoot

	payload, err := pathsafe.Resolve(root, payloadRel)
	if err != nil {
		return nil, fmt.Errorf("payload dir: %w", err)
	}
	policy, err := pathsafe.Resolve(root, policyRel)
	if err != nil {
		return nil, fmt.Errorf("policy dir: %w", err)
	}
	output, err := pathsafe.Resolve(root, outputRel)
	if err != nil {
		return nil, fmt.Errorf("output dir: %w", err)
	}

	return &Manifest{
		Root:    root,
		Payload: payload,
		Output:  output,
		Policy: []string{
			filepath.Join(policy, PolicyFile),
			filepath.Join(policy, PolicyReferencesDir),
			filepath.Join(policy, PolicyScriptsDir),
		},
		WorkDir: payload,
	}, nil
}

// ReadWrite returns the read-write path set: exactly the payload copy
// and the output directory.
func (m *Manifest) ReadWrite() []string {
	return []string{m.Payload, m.Output}
}

// ReadOnly returns the read-only path set: the policy bundle's three
// fixed sub-paths.
func (m *Manifest) ReadOnly() []string {
	return m.Policy
}

// OutputRel returns the output directory relative to the worktree
// root, in slash form. Containment was proven at construction, so the
// lookup cannot fail.
func (m *Manifest) OutputRel() string {
	rel, err := pathsafe.RelativeTo(m.Root, m.Output)
	if err != nil {
		return ""
	}
	return rel
}

// ID returns a short stable identifier derived from a BLAKE3 digest
// of the manifest's canonical encoding. It is exported into the
// sandbox as the value of the identity marker variable so workers
// (and their logs) can name the boundary they ran under.
func (m *Manifest) ID() string {
	hasher := blake3.New()
	for _, p := range append([]string{m.Root, m.Payload, m.Output, m.WorkDir}, m.Policy...) {
		hasher.Write([]byte(p))
		hasher.Write([]byte{0})
	}
	digest := hasher.Sum(nil)
	return "sbx-" + hex.EncodeToString(digest[:6])
}
