// Copyright 2026 The Papermill Authors
// SPDX-License-Identifier: Apache-2.0

// papermill-calc evaluates one arithmetic expression. It exists so
// sandboxed workers can do derived-quantity arithmetic without an
// eval in sight.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/pflag"

	"github.com/papermill-foundation/papermill/calc"
	"github.com/papermill-foundation/papermill/lib/process"
	"github.com/papermill-foundation/papermill/lib/version"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		process.Fatal(err)
	}
}

func run(args []string) error {
	fs := pflag.NewFlagSet("papermill-calc", pflag.ExitOnError)
	fs.Usage = printUsage
	assignments := fs.StringArray("var", nil, "Variable assignment (name=value), repeatable")
	digits := fs.Int("round", -1, "Decimal places to round the result to (default: full precision)")
	showVersion := fs.BoolP("version", "v", false, "Show version")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *showVersion {
		fmt.Printf("papermill-calc %s\n", version.Info())
		return nil
	}
	if fs.NArg() != 1 {
		printUsage()
		return fmt.Errorf("expected exactly one expression argument")
	}

	variables, err := calc.ParseVars(*assignments)
	if err != nil {
		return err
	}
	result, err := calc.Eval(fs.Arg(0), variables)
	if err != nil {
		return err
	}
	if *digits >= 0 {
		result = calc.Round(result, *digits)
	}
	fmt.Printf("%g\n", result)
	return nil
}

func printUsage() {
	fmt.Print(`papermill-calc - Evaluate an arithmetic expression

USAGE
    papermill-calc [flags] <expression>

FLAGS
    --var    Variable assignment (name=value), repeatable
    --round  Decimal places to round the result to (default: full precision)

EXAMPLES
    papermill-calc '3.14159 * (150/2)**2'
    papermill-calc --round=3 --var fc=42.3 --var d=150 'fc * d / 1000'
`)
}
