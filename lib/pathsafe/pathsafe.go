// Copyright 2026 The Papermill Authors
// SPDX-License-Identifier: Apache-2.0

// Package pathsafe resolves caller-supplied relative paths against a
// root directory and proves the result stays inside that root. Every
// path Papermill accepts from a task identifier, a config file, or a
// command-line flag passes through this package before it is used in
// filesystem or process-argument construction; there is no other
// path-joining code in the repository.
package pathsafe

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// EscapeError reports a relative path whose resolution lands outside
// its declared root. It is always fatal to the operation that supplied
// the path; callers never retry it.
type EscapeError struct {
	// Root is the directory the path was required to stay under.
	Root string

	// Path is the offending input as supplied by the caller.
	Path string
}

func (e *EscapeError) Error() string {
	return fmt.Sprintf("path %q escapes root %s", e.Path, e.Root)
}

// Resolve joins relative onto root and returns the absolute result,
// or an *EscapeError when relative is absolute, climbs out via "..",
// or reaches outside root through a symlink. Symlinks in both root
// and the joined path are resolved before the containment check, so a
// link pointing at /etc cannot smuggle an outside path past a purely
// lexical check. Components of the joined path that do not exist yet
// are checked lexically after resolving the deepest existing ancestor.
func Resolve(root, relative string) (string, error) {
	if filepath.IsAbs(relative) {
		return "", &EscapeError{Root: root, Path: relative}
	}

	resolvedRoot, err := filepath.EvalSymlinks(root)
	if err != nil {
		return "", fmt.Errorf("resolving root %s: %w", root, err)
	}

	joined := filepath.Join(resolvedRoot, relative)

	// filepath.Join cleans ".." segments, so a lexical check on the
	// cleaned result catches dot-dot escapes. Symlink escapes need the
	// deepest existing ancestor resolved as well.
	resolved, err := evalExisting(joined)
	if err != nil {
		return "", err
	}

	if !within(resolvedRoot, resolved) {
		return "", &EscapeError{Root: root, Path: relative}
	}
	return joined, nil
}

// evalExisting resolves symlinks in the longest existing prefix of
// path and rejoins the remaining (not yet created) components. This
// lets Resolve validate destinations that will be created later, such
// as a worktree output directory.
func evalExisting(path string) (string, error) {
	remainder := ""
	current := path
	for {
		resolved, err := filepath.EvalSymlinks(current)
		if err == nil {
			return filepath.Join(resolved, remainder), nil
		}
		if !os.IsNotExist(err) {
			return "", fmt.Errorf("resolving %s: %w", path, err)
		}
		parent := filepath.Dir(current)
		if parent == current {
			return "", fmt.Errorf("resolving %s: no existing ancestor", path)
		}
		remainder = filepath.Join(filepath.Base(current), remainder)
		current = parent
	}
}

// within reports whether path equals root or is a descendant of it.
// Both arguments must already be absolute and symlink-free.
func within(root, path string) bool {
	root = filepath.Clean(root)
	path = filepath.Clean(path)
	if path == root {
		return true
	}
	return strings.HasPrefix(path, root+string(filepath.Separator))
}

// RelativeTo returns the slash-separated path of abs relative to
// root, or an *EscapeError when abs is not root or one of its
// descendants. The comparison is lexical; callers pass paths that
// already went through Resolve.
func RelativeTo(root, abs string) (string, error) {
	rel, err := filepath.Rel(filepath.Clean(root), filepath.Clean(abs))
	if err != nil {
		return "", &EscapeError{Root: root, Path: abs}
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", &EscapeError{Root: root, Path: abs}
	}
	return filepath.ToSlash(rel), nil
}

// DefaultIdentifier is the fallback returned by SanitizeIdentifier
// when nothing usable survives sanitization.
const DefaultIdentifier = "task"

// SanitizeIdentifier derives a filesystem- and branch-safe token from
// an arbitrary string such as an untrusted folder name. Runs of
// characters outside [A-Za-z0-9._-] collapse to a single dash,
// leading and trailing separator characters are trimmed, and an empty
// result falls back to DefaultIdentifier.
func SanitizeIdentifier(raw string) string {
	var b strings.Builder
	pendingDash := false
	for _, r := range strings.TrimSpace(raw) {
		safe := r == '.' || r == '_' || r == '-' ||
			(r >= '0' && r <= '9') ||
			(r >= 'a' && r <= 'z') ||
			(r >= 'A' && r <= 'Z')
		if safe {
			if pendingDash && b.Len() > 0 {
				b.WriteByte('-')
			}
			pendingDash = false
			b.WriteRune(r)
		} else {
			pendingDash = true
		}
	}
	cleaned := strings.Trim(b.String(), "-_.")
	if cleaned == "" {
		return DefaultIdentifier
	}
	return cleaned
}
