// Copyright 2026 The Papermill Authors
// SPDX-License-Identifier: Apache-2.0

package calc

import (
	"math"
	"testing"
)

func TestEval(t *testing.T) {
	t.Parallel()

	tests := []struct {
		expr string
		vars map[string]float64
		want float64
	}{
		{expr: "141.4 / 2", want: 70.7},
		{expr: "2 + 3 * 4", want: 14},
		{expr: "(2 + 3) * 4", want: 20},
		{expr: "8 - 3 - 2", want: 3},
		{expr: "2 ** 10", want: 1024},
		{expr: "2 ** 3 ** 2", want: 512},
		{expr: "-2 ** 2", want: -4},
		{expr: "2 ** -1", want: 0.5},
		{expr: "a + b ** 2", vars: map[string]float64{"a": 1, "b": 3}, want: 10},
		{expr: "10 % 3", want: 1},
		{expr: "+5", want: 5},
		{expr: "--4", want: 4},
		{expr: "(b / 2) ** 2", vars: map[string]float64{"b": 100}, want: 2500},
		{expr: "3.14159 * r0 ** 2", vars: map[string]float64{"r0": 10}, want: 314.159},
	}
	for _, tt := range tests {
		got, err := Eval(tt.expr, tt.vars)
		if err != nil {
			t.Errorf("Eval(%q): %v", tt.expr, err)
			continue
		}
		if math.Abs(got-tt.want) > 1e-9 {
			t.Errorf("Eval(%q) = %v, want %v", tt.expr, got, tt.want)
		}
	}
}

func TestEvalErrors(t *testing.T) {
	t.Parallel()

	exprs := []string{
		"",
		"1 +",
		"(1 + 2",
		"1 / 0",
		"10 % 0",
		"unknown + 1",
		"len(x)",
		`"text"`,
		"a = 1",
		"1; 2",
		"5//2",
		"10 + 1 // and the rest must not be ignored",
		"1 /* junk */ + 2",
	}
	for _, expr := range exprs {
		if _, err := Eval(expr, nil); err == nil {
			t.Errorf("Eval(%q): expected error", expr)
		}
	}
}

func TestParseVars(t *testing.T) {
	t.Parallel()

	vars, err := ParseVars([]string{"b=100", "h = 120.5", "t=4"})
	if err != nil {
		t.Fatalf("ParseVars: %v", err)
	}
	if vars["b"] != 100 || vars["h"] != 120.5 || vars["t"] != 4 {
		t.Errorf("vars = %v", vars)
	}

	for _, bad := range []string{"novalue", "2x=1", "b=abc", "=5"} {
		if _, err := ParseVars([]string{bad}); err == nil {
			t.Errorf("ParseVars(%q): expected error", bad)
		}
	}
}

func TestRound(t *testing.T) {
	t.Parallel()

	if got := Round(70.70707, 3); got != 70.707 {
		t.Errorf("Round = %v", got)
	}
	if got := Round(2.5, 0); got != 3 {
		t.Errorf("Round(2.5, 0) = %v", got)
	}
}
