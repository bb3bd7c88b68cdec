// Copyright 2026 The Papermill Authors
// SPDX-License-Identifier: Apache-2.0

// Package process provides binary entrypoint helpers for Papermill
// tools: fatal error reporting to stderr before the structured logger
// exists, and exit-code propagation for sandboxed workers.
package process

import (
	"fmt"
	"os"
)

// Fatal writes "error: err" to stderr and exits with code 1. Use it in
// main() for errors from run() where the structured logger may not be
// initialized.
func Fatal(err error) {
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	os.Exit(1)
}

// Exit exits with the given code. It exists so worker exit codes pass
// through a binary untouched without the temptation to remap them.
func Exit(code int) {
	os.Exit(code)
}
