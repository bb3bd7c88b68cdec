// Copyright 2026 The Papermill Authors
// SPDX-License-Identifier: Apache-2.0

package clock

import (
	"testing"
	"time"
)

func TestFakeClock_NowIsStable(t *testing.T) {
	t.Parallel()

	initial := time.Date(2026, 2, 3, 4, 5, 6, 0, time.UTC)
	c := Fake(initial)

	if got := c.Now(); !got.Equal(initial) {
		t.Errorf("Now() = %v, want %v", got, initial)
	}
	if got := c.Now(); !got.Equal(initial) {
		t.Errorf("second Now() = %v, want %v (time must stand still)", got, initial)
	}
}

func TestFakeClock_Advance(t *testing.T) {
	t.Parallel()

	initial := time.Date(2026, 2, 3, 4, 5, 6, 0, time.UTC)
	c := Fake(initial)

	c.Advance(90 * time.Second)
	want := initial.Add(90 * time.Second)
	if got := c.Now(); !got.Equal(want) {
		t.Errorf("Now() after Advance = %v, want %v", got, want)
	}
}
