// Copyright 2026 The Papermill Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock abstracts time for testability. Production code
// injects Real(); tests inject Fake() with deterministic control over
// the current time. The lifecycle manager stamps branch names with
// the clock, so collision tests need two creations observing the same
// instant, which wall time cannot deliver on demand.
package clock

import "time"

// Clock provides the current time. Every production function that
// would call time.Now should accept a Clock (or be a method on a
// struct carrying one) instead of calling the time package directly.
type Clock interface {
	// Now returns the current time.
	Now() time.Time
}

// Real returns a Clock backed by the standard time package.
func Real() Clock { return realClock{} }

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }
