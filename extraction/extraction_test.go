// Copyright 2026 The Papermill Authors
// SPDX-License-Identifier: Apache-2.0

package extraction

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/papermill-foundation/papermill/lib/testutil"
)

// specimen returns a record that passes every rule for the given
// group, with overrides applied on top.
func specimen(group, label string, overrides map[string]any) map[string]any {
	base := map[string]any{
		"ref_no":          "",
		"specimen_label":  label,
		"fc_value":        40.5,
		"fc_type":         "Cylinder 100x200",
		"fy":              355.0,
		"fcy150":          nil,
		"r_ratio":         0.5,
		"b":               100.0,
		"h":               100.0,
		"t":               4.0,
		"r0":              50.0,
		"L":               300.0,
		"e1":              0.0,
		"e2":              0.0,
		"n_exp":           1250.0,
		"source_evidence": "Table 2, page 5",
	}
	if group == "Group_A" {
		base["r0"] = 0.0
	}
	for key, value := range overrides {
		base[key] = value
	}
	return base
}

func record(groups map[string][]any) map[string]any {
	payload := map[string]any{
		"is_valid": true,
		"reason":   "complete specimen tables",
		"ref_info": map[string]any{
			"title":   "Behaviour of concrete-filled steel tubes",
			"authors": []any{"A. Author"},
			"journal": "J. Constr. Steel Res.",
			"year":    float64(2020),
		},
		"Group_A": []any{},
		"Group_B": []any{},
		"Group_C": []any{},
	}
	for name, group := range groups {
		payload[name] = group
	}
	return payload
}

func assertError(t *testing.T, report *Report, fragment string) {
	t.Helper()
	for _, msg := range report.Errors {
		if strings.Contains(msg, fragment) {
			return
		}
	}
	t.Errorf("no error containing %q in %v", fragment, report.Errors)
}

func TestValidRecordPasses(t *testing.T) {
	t.Parallel()

	report := Validate(record(map[string][]any{
		"Group_B": {specimen("Group_B", "S1", nil)},
	}), Expectations{})
	if !report.OK() {
		t.Fatalf("errors: %v", report.Errors)
	}
	if report.SpecimenCount != 1 {
		t.Errorf("count = %d", report.SpecimenCount)
	}
	if len(report.Warnings) != 0 {
		t.Errorf("warnings: %v", report.Warnings)
	}
}

func TestTopLevelShape(t *testing.T) {
	t.Parallel()

	report := Validate([]any{}, Expectations{})
	assertError(t, report, "top-level JSON must be an object")

	payload := record(nil)
	delete(payload, "reason")
	delete(payload, "Group_C")
	report = Validate(payload, Expectations{})
	assertError(t, report, "missing top-level keys: Group_C, reason")
}

func TestReasonRules(t *testing.T) {
	t.Parallel()

	payload := record(map[string][]any{"Group_A": {specimen("Group_A", "S1", nil)}})
	payload["reason"] = "line one\nline two"
	report := Validate(payload, Expectations{})
	assertError(t, report, "single-line")

	payload["reason"] = "   "
	report = Validate(payload, Expectations{})
	assertError(t, report, "non-empty")
}

func TestFcTypeGrammar(t *testing.T) {
	t.Parallel()

	cases := []struct {
		fcType string
		ok     bool
	}{
		{"cube", true},
		{"Cylinder", true},
		{"Unknown", true},
		{"Cylinder 100x200", true},
		{"prism 100 x 100 x 300 mm", true},
		{"cube 150mm", true},
		{"fcu", false},
		{"f'c cylinder", false},
		{"fck 150mm cube", false},
		{"sphere 100", false},
		{"", false},
	}
	for _, tt := range cases {
		payload := record(map[string][]any{
			"Group_A": {specimen("Group_A", "S1", map[string]any{"fc_type": tt.fcType})},
		})
		report := Validate(payload, Expectations{})
		if report.OK() != tt.ok {
			t.Errorf("fc_type %q: ok=%v errors=%v", tt.fcType, report.OK(), report.Errors)
		}
	}
}

func TestGeometryInvariants(t *testing.T) {
	t.Parallel()

	report := Validate(record(map[string][]any{
		"Group_A": {specimen("Group_A", "S1", map[string]any{"r0": 5.0})},
	}), Expectations{})
	assertError(t, report, "r0 must be 0 for Group_A")

	report = Validate(record(map[string][]any{
		"Group_B": {specimen("Group_B", "S1", map[string]any{"b": 100.0, "h": 120.0, "r0": 60.0})},
	}), Expectations{})
	assertError(t, report, "b == h for Group_B")

	report = Validate(record(map[string][]any{
		"Group_B": {specimen("Group_B", "S1", map[string]any{"r0": 10.0})},
	}), Expectations{})
	assertError(t, report, "r0 must equal h/2 for Group_B")

	report = Validate(record(map[string][]any{
		"Group_C": {specimen("Group_C", "S1", map[string]any{"b": 80.0, "h": 120.0, "r0": 60.0})},
	}), Expectations{})
	assertError(t, report, "b >= h for Group_C")

	report = Validate(record(map[string][]any{
		"Group_C": {specimen("Group_C", "S1", map[string]any{"b": 150.0, "h": 100.0, "r0": 50.0})},
	}), Expectations{})
	if !report.OK() {
		t.Errorf("valid Group_C specimen rejected: %v", report.Errors)
	}
}

func TestDuplicateLabels(t *testing.T) {
	t.Parallel()

	report := Validate(record(map[string][]any{
		"Group_A": {specimen("Group_A", "S1", nil)},
		"Group_B": {specimen("Group_B", "S1", nil)},
	}), Expectations{})
	assertError(t, report, `specimen_label "S1" duplicated`)
}

func TestRoundingGrid(t *testing.T) {
	t.Parallel()

	payload := record(map[string][]any{
		"Group_A": {specimen("Group_A", "S1", map[string]any{"fc_value": 40.12345})},
	})

	report := Validate(payload, Expectations{})
	if !report.OK() {
		t.Errorf("off-grid value must only warn by default: %v", report.Errors)
	}
	if len(report.Warnings) == 0 {
		t.Error("expected rounding warning")
	}

	report = Validate(payload, Expectations{StrictRounding: true})
	assertError(t, report, "not rounded to 0.001")
}

func TestValidityConsistency(t *testing.T) {
	t.Parallel()

	report := Validate(record(nil), Expectations{})
	assertError(t, report, "is_valid=true but specimen count is 0")

	payload := record(map[string][]any{"Group_A": {specimen("Group_A", "S1", nil)}})
	payload["is_valid"] = false
	report = Validate(payload, Expectations{})
	if len(report.Warnings) == 0 {
		t.Error("expected warning for invalid record with specimens")
	}

	// An invalid record may keep its metadata empty.
	payload = record(nil)
	payload["is_valid"] = false
	payload["ref_info"] = map[string]any{}
	report = Validate(payload, Expectations{})
	if !report.OK() {
		t.Errorf("empty ref_info on invalid record rejected: %v", report.Errors)
	}
}

func TestExpectations(t *testing.T) {
	t.Parallel()

	valid := true
	count := 2
	payload := record(map[string][]any{"Group_A": {specimen("Group_A", "S1", nil)}})

	report := Validate(payload, Expectations{Valid: &valid, Count: &count})
	assertError(t, report, "specimen total expected 2, got 1")

	wantInvalid := false
	report = Validate(payload, Expectations{Valid: &wantInvalid})
	assertError(t, report, "is_valid expected false, got true")
}

func TestNExpPositive(t *testing.T) {
	t.Parallel()

	report := Validate(record(map[string][]any{
		"Group_A": {specimen("Group_A", "S1", map[string]any{"n_exp": 0.0})},
	}), Expectations{})
	assertError(t, report, "n_exp must be > 0")
}

func TestValidateFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "extraction.json")
	testutil.WriteFile(t, path, `{"is_valid": true`)
	if _, err := ValidateFile(path, Expectations{}); err == nil {
		t.Error("expected decode error for truncated JSON")
	}

	testutil.WriteFile(t, path, `{"is_valid": false, "reason": "scanned image only",
		"ref_info": {}, "Group_A": [], "Group_B": [], "Group_C": []}`)
	report, err := ValidateFile(path, Expectations{})
	if err != nil {
		t.Fatalf("ValidateFile: %v", err)
	}
	if !report.OK() {
		t.Errorf("errors: %v", report.Errors)
	}
}
