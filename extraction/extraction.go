// Copyright 2026 The Papermill Authors
// SPDX-License-Identifier: Apache-2.0

// Package extraction validates single-paper extraction records against
// the shape and consistency rules workers must satisfy before their
// output is checkpointed. Validation never mutates the record; it
// accumulates errors and warnings and leaves the pass/fail decision to
// the caller.
package extraction

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"regexp"
	"sort"
	"strings"
)

// epsilon is the tolerance for geometric equality checks and the
// rounding grid.
const epsilon = 1e-3

var groupNames = []string{"Group_A", "Group_B", "Group_C"}

var topLevelKeys = []string{
	"is_valid", "reason", "ref_info", "Group_A", "Group_B", "Group_C",
}

var specimenKeys = []string{
	"ref_no", "specimen_label", "fc_value", "fc_type", "fy", "fcy150",
	"r_ratio", "b", "h", "t", "r0", "L", "e1", "e2", "n_exp",
	"source_evidence",
}

var numericFields = []string{
	"fc_value", "fy", "r_ratio", "b", "h", "t", "r0", "L", "e1", "e2", "n_exp",
}

// fc_type grammar: a bare shape word, or a shape with up to three
// dimensions. Symbolic strength notation is banned outright.
var (
	shapeOnlyTypes = map[string]bool{
		"cube": true, "cylinder": true, "prism": true, "unknown": true,
	}
	sizedTypePattern = regexp.MustCompile(
		`^(?i)(cube|cylinder|prism)\s+\d+(\.\d+)?(?:\s*[x×*]\s*\d+(\.\d+)?){0,2}\s*(mm)?$`)
	symbolNotationPattern = regexp.MustCompile(`(?i)\b(f'?c|fc'|fcu|fck|fcm|fcd)\b`)
)

// Expectations are the caller's optional assertions about a record.
type Expectations struct {
	// Valid, when non-nil, requires is_valid to have this value.
	Valid *bool

	// Count, when non-nil, requires the total specimen count across
	// all groups to equal it.
	Count *int

	// StrictRounding promotes off-grid numeric values from warnings
	// to errors.
	StrictRounding bool
}

// Report is the outcome of validating one record.
type Report struct {
	Errors        []string `json:"errors"`
	Warnings      []string `json:"warnings"`
	SpecimenCount int      `json:"specimen_count"`
}

// OK reports whether validation produced no errors. Warnings do not
// fail a record.
func (r *Report) OK() bool {
	return len(r.Errors) == 0
}

func (r *Report) errorf(format string, args ...any) {
	r.Errors = append(r.Errors, fmt.Sprintf(format, args...))
}

func (r *Report) warnf(format string, args ...any) {
	r.Warnings = append(r.Warnings, fmt.Sprintf(format, args...))
}

// ValidateFile reads and validates the extraction JSON at path. File
// and decode failures are returned as errors; rule violations go into
// the report.
func ValidateFile(path string, exp Expectations) (*Report, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var payload any
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("invalid JSON in %s: %w", path, err)
	}
	return Validate(payload, exp), nil
}

// Validate checks one decoded extraction record.
func Validate(payload any, exp Expectations) *Report {
	report := &Report{}

	record, ok := payload.(map[string]any)
	if !ok {
		report.errorf("top-level JSON must be an object")
		return report
	}

	var missing []string
	for _, key := range topLevelKeys {
		if _, ok := record[key]; !ok {
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		report.errorf("missing top-level keys: %s", strings.Join(missing, ", "))
	}

	isValid, hasValidFlag := record["is_valid"].(bool)
	if raw, ok := record["is_valid"]; ok && !hasValidFlag {
		report.errorf("is_valid must be boolean, got %T", raw)
	}
	validateReason(record, report)

	for _, groupName := range groupNames {
		if raw, ok := record[groupName]; ok {
			if _, isList := raw.([]any); !isList {
				report.errorf("%s must be a list", groupName)
			}
		}
	}

	if raw, ok := record["ref_info"]; ok {
		allowEmpty := hasValidFlag && !isValid
		validateRefInfo(raw, allowEmpty, report)
	}

	if exp.Valid != nil && hasValidFlag && isValid != *exp.Valid {
		report.errorf("is_valid expected %v, got %v", *exp.Valid, isValid)
	}

	labels := map[string][]string{}
	var labelOrder []string
	for _, groupName := range groupNames {
		group, ok := record[groupName].([]any)
		if !ok {
			continue
		}
		report.SpecimenCount += len(group)
		for idx, raw := range group {
			tag := fmt.Sprintf("%s[%d]", groupName, idx)
			specimen, ok := raw.(map[string]any)
			if !ok {
				report.errorf("%s must be an object", tag)
				continue
			}
			validateSpecimen(groupName, tag, specimen, exp.StrictRounding, report)

			if label, ok := specimen["specimen_label"].(string); ok {
				if trimmed := strings.TrimSpace(label); trimmed != "" {
					if len(labels[trimmed]) == 0 {
						labelOrder = append(labelOrder, trimmed)
					}
					labels[trimmed] = append(labels[trimmed], tag)
				}
			}
		}
	}

	for _, label := range labelOrder {
		if tags := labels[label]; len(tags) > 1 {
			report.errorf("specimen_label %q duplicated across rows: %s",
				label, strings.Join(tags, ", "))
		}
	}

	if exp.Count != nil && report.SpecimenCount != *exp.Count {
		report.errorf("specimen total expected %d, got %d", *exp.Count, report.SpecimenCount)
	}

	if hasValidFlag && isValid && report.SpecimenCount == 0 {
		report.errorf("is_valid=true but specimen count is 0")
	}
	if hasValidFlag && !isValid && report.SpecimenCount > 0 {
		report.warnf("is_valid=false but specimens exist; verify the validity decision")
	}

	return report
}

func validateReason(record map[string]any, report *Report) {
	raw, ok := record["reason"]
	if !ok {
		return
	}
	reason, ok := raw.(string)
	if !ok {
		report.errorf("reason must be string, got %T", raw)
		return
	}
	if strings.TrimSpace(reason) == "" {
		report.errorf("reason must be non-empty")
	}
	if strings.ContainsAny(reason, "\n\r") {
		report.errorf("reason must be single-line")
	}
	for _, r := range reason {
		if r < 32 {
			report.errorf("reason must not contain control characters")
			break
		}
	}
}

func validateRefInfo(raw any, allowEmpty bool, report *Report) {
	info, ok := raw.(map[string]any)
	if !ok {
		report.errorf("ref_info must be an object")
		return
	}
	// A record marked invalid may leave bibliographic metadata empty.
	if allowEmpty && len(info) == 0 {
		return
	}

	for _, key := range []string{"title", "authors", "journal", "year"} {
		if _, ok := info[key]; !ok {
			report.errorf("ref_info.%s is required", key)
		}
	}
	if raw, ok := info["title"]; ok {
		if _, isString := raw.(string); !isString {
			report.errorf("ref_info.title must be string")
		}
	}
	if raw, ok := info["authors"]; ok {
		if _, isList := raw.([]any); !isList {
			report.errorf("ref_info.authors must be list")
		}
	}
	if raw, ok := info["journal"]; ok {
		if _, isString := raw.(string); !isString {
			report.errorf("ref_info.journal must be string")
		}
	}
	if raw, ok := info["year"]; ok {
		if year, isNumber := raw.(float64); !isNumber || year != math.Trunc(year) {
			report.errorf("ref_info.year must be integer")
		}
	}
}

func validateSpecimen(groupName, tag string, specimen map[string]any, strictRounding bool, report *Report) {
	var missing []string
	for _, key := range specimenKeys {
		if _, ok := specimen[key]; !ok {
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		report.errorf("%s missing keys: %s", tag, strings.Join(missing, ", "))
	}

	for _, key := range numericFields {
		if raw, ok := specimen[key]; ok {
			if _, isNumber := raw.(float64); !isNumber {
				report.errorf("%s.%s must be numeric", tag, key)
			}
		}
	}

	if raw, ok := specimen["specimen_label"]; ok {
		if _, isString := raw.(string); !isString {
			report.errorf("%s.specimen_label must be string", tag)
		}
	}
	if raw, ok := specimen["ref_no"]; ok {
		if refNo, isString := raw.(string); !isString {
			report.errorf("%s.ref_no must be string", tag)
		} else if refNo != "" {
			report.errorf("%s.ref_no must be empty string", tag)
		}
	}

	validateFcType(tag, specimen, report)
	validateEvidence(tag, specimen, report)

	if n, ok := specimen["n_exp"].(float64); ok && n <= 0 {
		report.errorf("%s.n_exp must be > 0", tag)
	}

	validateGeometry(groupName, tag, specimen, report)

	for _, key := range numericFields {
		if value, ok := specimen[key].(float64); ok && !onRoundingGrid(value) {
			if strictRounding {
				report.errorf("%s.%s is not rounded to 0.001: %v", tag, key, value)
			} else {
				report.warnf("%s.%s is not rounded to 0.001: %v", tag, key, value)
			}
		}
	}
}

func validateFcType(tag string, specimen map[string]any, report *Report) {
	raw, ok := specimen["fc_type"]
	if !ok {
		return
	}
	fcType, ok := raw.(string)
	if !ok {
		report.errorf("%s.fc_type must be string", tag)
		return
	}
	fcType = strings.TrimSpace(fcType)
	if fcType == "" {
		report.errorf("%s.fc_type must be non-empty", tag)
		return
	}
	if symbolNotationPattern.MatchString(fcType) {
		report.errorf("%s.fc_type must not use symbolic notation like f'c/fcu/fck; use cube/cylinder/prism (with optional size) or Unknown", tag)
		return
	}
	if !shapeOnlyTypes[strings.ToLower(fcType)] && !sizedTypePattern.MatchString(fcType) {
		report.errorf("%s.fc_type invalid; allowed forms: cube/cylinder/prism/Unknown or sized forms like \"Cylinder 100x200\"", tag)
	}
}

func validateEvidence(tag string, specimen map[string]any, report *Report) {
	raw, ok := specimen["source_evidence"]
	if !ok {
		return
	}
	evidence, ok := raw.(string)
	if !ok {
		report.errorf("%s.source_evidence must be string", tag)
		return
	}
	if strings.TrimSpace(evidence) == "" {
		report.errorf("%s.source_evidence must be non-empty", tag)
		return
	}
	lowered := strings.ToLower(evidence)
	if !strings.Contains(lowered, "page") {
		report.warnf("%s.source_evidence should include page localization", tag)
	}
	hasLocator := false
	for _, token := range []string{"table", "fig", "figure", "text section"} {
		if strings.Contains(lowered, token) {
			hasLocator = true
		}
	}
	if !hasLocator {
		report.warnf("%s.source_evidence should include a table/figure/text locator", tag)
	}
}

// validateGeometry enforces the per-group section invariants: circular
// sections (A) have no corner radius, square sections (B) are square
// with r0 = h/2, rectangular sections (C) have b >= h with r0 = h/2.
func validateGeometry(groupName, tag string, specimen map[string]any, report *Report) {
	number := func(key string) (float64, bool) {
		value, ok := specimen[key].(float64)
		return value, ok
	}

	switch groupName {
	case "Group_A":
		if r0, ok := number("r0"); ok && !roughlyEqual(r0, 0) {
			report.errorf("%s.r0 must be 0 for Group_A", tag)
		}
	case "Group_B":
		b, hasB := number("b")
		h, hasH := number("h")
		if hasB && hasH && !roughlyEqual(b, h) {
			report.errorf("%s must satisfy b == h for Group_B", tag)
		}
		if r0, ok := number("r0"); ok && hasH && !roughlyEqual(r0, h/2) {
			report.errorf("%s.r0 must equal h/2 for Group_B", tag)
		}
	case "Group_C":
		b, hasB := number("b")
		h, hasH := number("h")
		if hasB && hasH && b+epsilon < h {
			report.errorf("%s must satisfy b >= h for Group_C", tag)
		}
		if r0, ok := number("r0"); ok && hasH && !roughlyEqual(r0, h/2) {
			report.errorf("%s.r0 must equal h/2 for Group_C", tag)
		}
	}
}

func roughlyEqual(a, b float64) bool {
	return math.Abs(a-b) <= epsilon
}

// onRoundingGrid reports whether value is already rounded to 0.001.
func onRoundingGrid(value float64) bool {
	return math.Abs(math.Round(value*1000)/1000-value) <= 1e-6
}
