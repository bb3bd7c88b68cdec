// Copyright 2026 The Papermill Authors
// SPDX-License-Identifier: Apache-2.0

package worktree

import "fmt"

// InputNotFoundError reports a payload or policy directory that does
// not exist under the repository root. Nothing has been created when
// this is returned.
type InputNotFoundError struct {
	// Kind is "payload" or "policy".
	Kind string

	// Path is the absolute directory that was expected to exist.
	Path string
}

func (e *InputNotFoundError) Error() string {
	return fmt.Sprintf("%s directory not found: %s", e.Kind, e.Path)
}

// CreationError reports a failed "git worktree add". The branch was
// never created, so there is nothing to roll back.
type CreationError struct {
	Branch string
	Err    error
}

func (e *CreationError) Error() string {
	return fmt.Sprintf("creating worktree for branch %s: %v", e.Branch, e.Err)
}

func (e *CreationError) Unwrap() error { return e.Err }

// StagingError reports a failure while copying payload or policy trees
// into a freshly created worktree. The worktree and its branch have
// been rolled back by the time this is returned.
type StagingError struct {
	Err error
}

func (e *StagingError) Error() string {
	return fmt.Sprintf("staging worktree contents: %v", e.Err)
}

func (e *StagingError) Unwrap() error { return e.Err }

// NotFoundError reports a removal request for a path that is not a
// worktree, including a second removal of an already-removed one.
type NotFoundError struct {
	Path string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("worktree not found: %s", e.Path)
}
