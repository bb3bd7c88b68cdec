// Copyright 2026 The Papermill Authors
// SPDX-License-Identifier: Apache-2.0

// papermill-validate checks one extraction JSON record against the
// single-paper shape and consistency rules.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/pflag"

	"github.com/papermill-foundation/papermill/extraction"
	"github.com/papermill-foundation/papermill/lib/process"
	"github.com/papermill-foundation/papermill/lib/version"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		process.Fatal(err)
	}
}

func run(args []string) error {
	fs := pflag.NewFlagSet("papermill-validate", pflag.ExitOnError)
	fs.Usage = printUsage
	jsonPath := fs.String("json-path", "", "Path to the extraction JSON file (required)")
	expectValid := fs.String("expect-valid", "", "Expected is_valid value: true or false")
	expectCount := fs.Int("expect-count", -1, "Expected total specimen count")
	strictRounding := fs.Bool("strict-rounding", false, "Fail on values not rounded to 0.001")
	showVersion := fs.BoolP("version", "v", false, "Show version")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *showVersion {
		fmt.Printf("papermill-validate %s\n", version.Info())
		return nil
	}
	if *jsonPath == "" {
		return fmt.Errorf("--json-path is required")
	}

	exp := extraction.Expectations{StrictRounding: *strictRounding}
	switch *expectValid {
	case "":
	case "true", "yes", "1":
		value := true
		exp.Valid = &value
	case "false", "no", "0":
		value := false
		exp.Valid = &value
	default:
		return fmt.Errorf("invalid --expect-valid %q: must be true or false", *expectValid)
	}
	if *expectCount >= 0 {
		exp.Count = expectCount
	}

	report, err := extraction.ValidateFile(*jsonPath, exp)
	if err != nil {
		return err
	}

	fmt.Printf("[INFO] Specimen count: %d\n", report.SpecimenCount)
	if len(report.Warnings) > 0 {
		fmt.Println("[WARN] Validation warnings:")
		for _, msg := range report.Warnings {
			fmt.Printf("- %s\n", msg)
		}
	}
	if !report.OK() {
		fmt.Println("[FAIL] Validation errors:")
		for _, msg := range report.Errors {
			fmt.Printf("- %s\n", msg)
		}
		os.Exit(1)
	}
	fmt.Println("[OK] Validation passed.")
	return nil
}

func printUsage() {
	fmt.Print(`papermill-validate - Validate a single-paper extraction record

USAGE
    papermill-validate --json-path=<file> [flags]

FLAGS
    --json-path        Path to the extraction JSON file (required)
    --expect-valid     Expected is_valid value (true/false)
    --expect-count     Expected total specimen count across all groups
    --strict-rounding  Fail when numeric fields are not rounded to 0.001

EXAMPLES
    papermill-validate --json-path=output/paper-42.json
    papermill-validate --json-path=output/paper-42.json --expect-valid=true --expect-count=18
`)
}
