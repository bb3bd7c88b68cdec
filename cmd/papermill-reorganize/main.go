// Copyright 2026 The Papermill Authors
// SPDX-License-Identifier: Apache-2.0

// papermill-reorganize flattens raw MinerU parse output into one
// directory per paper with the markdown, images, and caption-named
// table crops.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/pflag"

	"github.com/papermill-foundation/papermill/lib/process"
	"github.com/papermill-foundation/papermill/lib/version"
	"github.com/papermill-foundation/papermill/reorganize"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		process.Fatal(err)
	}
}

func run(args []string) error {
	fs := pflag.NewFlagSet("papermill-reorganize", pflag.ExitOnError)
	fs.Usage = printUsage
	outputDir := fs.StringP("output", "o", "", "Output directory (default <input>_with_tables)")
	idRegex := fs.String("id-regex", "", "Regex extracting the paper id from folder names")
	nameTemplate := fs.String("name-template", "", "Output name template; {paper_id} expands")
	strictID := fs.Bool("strict-id", false, "Skip folders whose id the regex cannot extract")
	dryRun := fs.Bool("dry-run", false, "Count everything without writing")
	showVersion := fs.BoolP("version", "v", false, "Show version")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *showVersion {
		fmt.Printf("papermill-reorganize %s\n", version.Info())
		return nil
	}
	if fs.NArg() != 1 {
		printUsage()
		return fmt.Errorf("expected exactly one input directory argument")
	}

	logLevel := slog.LevelInfo
	if os.Getenv("PAPERMILL_DEBUG") != "" {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel,
	}))

	totals, err := reorganize.Run(reorganize.Options{
		InputDir:     fs.Arg(0),
		OutputDir:    *outputDir,
		IDRegex:      *idRegex,
		NameTemplate: *nameTemplate,
		StrictID:     *strictID,
		DryRun:       *dryRun,
		Logger:       logger,
	})
	if err != nil {
		return err
	}

	fmt.Printf("Papers:          %d\n", totals.Papers)
	fmt.Printf("Skipped:         %d\n", totals.Skipped)
	fmt.Printf("Images kept:     %d\n", totals.ImagesKept)
	fmt.Printf("Tables detected: %d\n", totals.TablesDetected)
	fmt.Printf("Tables copied:   %d\n", totals.TablesCopied)
	fmt.Printf("Tables missing:  %d\n", totals.TablesMissing)
	return nil
}

func printUsage() {
	fmt.Print(`papermill-reorganize - Normalize raw parse output into per-paper directories

USAGE
    papermill-reorganize [flags] <input-dir>

FLAGS
    -o, --output     Output directory (default <input>_with_tables)
    --id-regex       Regex extracting the paper id from folder names
    --name-template  Output directory name template; {paper_id} expands
    --strict-id      Skip folders whose id the regex cannot extract
    --dry-run        Count everything without writing

EXAMPLES
    papermill-reorganize /data/parsed
    papermill-reorganize --id-regex='\[(?P<id>[^\]]+)\]' --strict-id /data/parsed
`)
}
