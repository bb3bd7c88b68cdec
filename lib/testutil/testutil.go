// Copyright 2026 The Papermill Authors
// SPDX-License-Identifier: Apache-2.0

// Package testutil provides shared test helpers for Papermill
// packages.
package testutil

import (
	"fmt"
	"sync/atomic"
)

var uniqueCounter atomic.Uint64

// UniqueID returns a string of the form "prefix-N" where N is a
// monotonically increasing integer. Use this instead of time.Now()
// when tests need identifiers that must be distinguishable across
// parallel subtests.
//
//	slug := testutil.UniqueID("paper") // "paper-1", "paper-2", ...
func UniqueID(prefix string) string {
	return fmt.Sprintf("%s-%d", prefix, uniqueCounter.Add(1))
}
