// Copyright 2026 The Papermill Authors
// SPDX-License-Identifier: Apache-2.0

// Package reorganize normalizes raw MinerU parse output into the
// per-paper layout the extraction pipeline consumes: one directory per
// paper holding the markdown, the v2 content list, the full images
// tree, and table images renamed by their caption titles.
package reorganize

import (
	"encoding/json"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
)

var (
	invalidFilenameChars = regexp.MustCompile(`[\\/:*?"<>|]+`)
	whitespaceRuns       = regexp.MustCompile(`\s+`)
	bracketedID          = regexp.MustCompile(`\[([^\[\]]+)\]`)
)

// Options configures one reorganization run.
type Options struct {
	// InputDir is the raw parsed root, one subdirectory per paper.
	InputDir string

	// OutputDir receives the normalized layout. Defaults to an
	// "<input>_with_tables" sibling.
	OutputDir string

	// IDRegex optionally extracts the paper id from each source
	// folder name, via a group named "id", the first group, or the
	// whole match.
	IDRegex string

	// NameTemplate shapes the output directory name; {paper_id}
	// expands to the extracted id. Defaults to "{paper_id}".
	NameTemplate string

	// StrictID skips folders whose id the regex cannot extract
	// instead of falling back to inference.
	StrictID bool

	// DryRun counts everything without writing.
	DryRun bool

	// Logger for per-paper progress. Defaults to slog.Default().
	Logger *slog.Logger
}

// PaperStats counts what one paper's normalization did.
type PaperStats struct {
	ImagesKept     int `json:"images_kept"`
	TablesDetected int `json:"tables_detected"`
	TablesCopied   int `json:"tables_copied"`
	TablesMissing  int `json:"tables_missing"`
}

// Totals aggregates a whole run.
type Totals struct {
	Papers         int `json:"papers"`
	Skipped        int `json:"skipped"`
	ImagesKept     int `json:"images_kept"`
	TablesDetected int `json:"tables_detected"`
	TablesCopied   int `json:"tables_copied"`
	TablesMissing  int `json:"tables_missing"`
}

// Run normalizes every paper directory under opts.InputDir. Papers
// missing a parse leaf, markdown, or the v2 content list are skipped
// and counted, not fatal.
func Run(opts Options) (*Totals, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	info, err := os.Stat(opts.InputDir)
	if err != nil || !info.IsDir() {
		return nil, fmt.Errorf("input dir %s is not a directory", opts.InputDir)
	}

	var idPattern *regexp.Regexp
	if opts.IDRegex != "" {
		idPattern, err = regexp.Compile(opts.IDRegex)
		if err != nil {
			return nil, fmt.Errorf("invalid id regex: %w", err)
		}
	}

	outputDir := opts.OutputDir
	if outputDir == "" {
		outputDir = filepath.Join(filepath.Dir(opts.InputDir),
			filepath.Base(opts.InputDir)+"_with_tables")
	}
	template := opts.NameTemplate
	if template == "" {
		template = "{paper_id}"
	}

	entries, err := os.ReadDir(opts.InputDir)
	if err != nil {
		return nil, err
	}

	totals := &Totals{}
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}

		paperID := extractPaperID(entry.Name(), idPattern)
		if paperID == "" {
			if opts.StrictID {
				logger.Warn("skipping paper, id not extracted", "folder", entry.Name())
				totals.Skipped++
				continue
			}
			paperID = inferPaperID(entry.Name())
		}
		paperToken := strings.ReplaceAll(template, "{paper_id}", paperID)

		stats, err := reorganizeOnePaper(
			filepath.Join(opts.InputDir, entry.Name()), outputDir, paperToken, opts.DryRun)
		if err != nil {
			logger.Warn("skipping paper", "folder", entry.Name(), "reason", err)
			totals.Skipped++
			continue
		}

		totals.Papers++
		totals.ImagesKept += stats.ImagesKept
		totals.TablesDetected += stats.TablesDetected
		totals.TablesCopied += stats.TablesCopied
		totals.TablesMissing += stats.TablesMissing
		logger.Info("reorganized paper",
			"paper", paperToken,
			"images", stats.ImagesKept,
			"tables_copied", stats.TablesCopied,
			"tables_detected", stats.TablesDetected,
		)
	}
	return totals, nil
}

// inferPaperID guesses the paper id from a folder name: a bracketed
// token, the head before a double underscore, or the trimmed name.
func inferPaperID(folderName string) string {
	if match := bracketedID.FindStringSubmatch(folderName); match != nil {
		return strings.TrimSpace(match[1])
	}
	if head, _, found := strings.Cut(folderName, "__"); found {
		if trimmed := strings.Trim(strings.TrimSpace(head), "[] "); trimmed != "" {
			return trimmed
		}
	}
	if trimmed := strings.Trim(strings.TrimSpace(folderName), "[] "); trimmed != "" {
		return trimmed
	}
	return strings.TrimSpace(folderName)
}

// extractPaperID applies the user regex when given, preferring a group
// named "id", then the first group, then the whole match. Without a
// regex it falls back to inference. Returns "" when the regex does not
// match.
func extractPaperID(folderName string, pattern *regexp.Regexp) string {
	if pattern == nil {
		return inferPaperID(folderName)
	}
	match := pattern.FindStringSubmatch(folderName)
	if match == nil {
		return ""
	}
	if idx := pattern.SubexpIndex("id"); idx >= 0 && idx < len(match) && match[idx] != "" {
		return strings.TrimSpace(match[idx])
	}
	if len(match) > 1 {
		return strings.TrimSpace(match[1])
	}
	return strings.TrimSpace(match[0])
}

// findParseDir locates the parse leaf under a paper directory,
// preferring hybrid_auto over auto, lexically first when several
// exist.
func findParseDir(paperDir string) string {
	var hybrid, auto []string
	filepath.WalkDir(paperDir, func(path string, entry fs.DirEntry, err error) error {
		if err != nil || !entry.IsDir() {
			return nil
		}
		switch entry.Name() {
		case "hybrid_auto":
			hybrid = append(hybrid, path)
		case "auto":
			auto = append(auto, path)
		}
		return nil
	})
	sort.Strings(hybrid)
	sort.Strings(auto)
	if len(hybrid) > 0 {
		return hybrid[0]
	}
	if len(auto) > 0 {
		return auto[0]
	}
	return ""
}

func reorganizeOnePaper(paperDir, outputDir, paperToken string, dryRun bool) (*PaperStats, error) {
	parseDir := findParseDir(paperDir)
	if parseDir == "" {
		return nil, fmt.Errorf("parse leaf not found (expect auto or hybrid_auto)")
	}

	mdFiles, _ := filepath.Glob(filepath.Join(parseDir, "*.md"))
	v2Files, _ := filepath.Glob(filepath.Join(parseDir, "*_content_list_v2.json"))
	legacyFiles, _ := filepath.Glob(filepath.Join(parseDir, "*_content_list.json"))
	sort.Strings(mdFiles)
	sort.Strings(v2Files)
	sort.Strings(legacyFiles)

	if len(mdFiles) == 0 {
		return nil, fmt.Errorf("markdown not found")
	}
	if len(v2Files) == 0 {
		return nil, fmt.Errorf("*_content_list_v2.json not found")
	}

	var legacyContent any
	if len(legacyFiles) > 0 {
		if err := readJSON(legacyFiles[0], &legacyContent); err != nil {
			return nil, err
		}
	}
	var v2Content any
	if err := readJSON(v2Files[0], &v2Content); err != nil {
		return nil, err
	}
	tableItems := collectTableImages(legacyContent, v2Content)

	paperDst := filepath.Join(outputDir, paperToken)
	stats := &PaperStats{TablesDetected: len(tableItems)}

	if !dryRun {
		if err := os.MkdirAll(paperDst, 0o755); err != nil {
			return nil, err
		}
		if err := copyFile(mdFiles[0], filepath.Join(paperDst, paperToken+".md")); err != nil {
			return nil, err
		}
		if err := copyFile(v2Files[0], filepath.Join(paperDst, paperToken+"_content_list_v2.json")); err != nil {
			return nil, err
		}
	}

	imagesKept, err := copyImagesDir(
		filepath.Join(parseDir, "images"), filepath.Join(paperDst, "images"), dryRun)
	if err != nil {
		return nil, err
	}
	stats.ImagesKept = imagesKept

	copied, missing, err := copyTableImages(parseDir, tableItems, filepath.Join(paperDst, "table"), dryRun)
	if err != nil {
		return nil, err
	}
	stats.TablesCopied = copied
	stats.TablesMissing = missing
	return stats, nil
}

// sanitizeTableTitle turns a caption into a filename base: collapsed
// whitespace, filename-hostile characters replaced, capped at 120
// runes.
func sanitizeTableTitle(title string) string {
	cleaned := whitespaceRuns.ReplaceAllString(title, " ")
	cleaned = invalidFilenameChars.ReplaceAllString(cleaned, " ")
	cleaned = strings.Trim(whitespaceRuns.ReplaceAllString(cleaned, " "), " .")
	if runes := []rune(cleaned); len(runes) > 120 {
		cleaned = strings.TrimRight(string(runes[:120]), " .")
	}
	return cleaned
}

// uniqueFilename appends _2, _3, ... until the name is unused.
func uniqueFilename(baseName, suffix string, used map[string]bool) string {
	if baseName == "" {
		baseName = "table"
	}
	candidate := baseName + suffix
	for idx := 2; used[candidate]; idx++ {
		candidate = fmt.Sprintf("%s_%d%s", baseName, idx, suffix)
	}
	used[candidate] = true
	return candidate
}

// resolveTableImagePath finds the actual file for a content-list image
// reference, which may be absolute, parse-dir relative, or just a
// basename under images/.
func resolveTableImagePath(parseDir, rawImgPath string) string {
	var candidates []string
	if filepath.IsAbs(rawImgPath) {
		candidates = append(candidates, rawImgPath)
	} else {
		normalized := strings.TrimSpace(rawImgPath)
		normalized = strings.TrimPrefix(normalized, "./")
		normalized = strings.TrimPrefix(normalized, `.\`)
		candidates = append(candidates,
			filepath.Join(parseDir, filepath.FromSlash(normalized)),
			filepath.Join(parseDir, "images", filepath.Base(filepath.FromSlash(normalized))),
		)
	}
	for _, candidate := range candidates {
		if info, err := os.Stat(candidate); err == nil && info.Mode().IsRegular() {
			return candidate
		}
	}
	return ""
}

func copyTableImages(parseDir string, tableItems []tableRecord, dstTableDir string, dryRun bool) (copied, missing int, err error) {
	used := map[string]bool{}
	if !dryRun && len(tableItems) > 0 {
		if err := os.MkdirAll(dstTableDir, 0o755); err != nil {
			return 0, 0, err
		}
	}

	for idx, item := range tableItems {
		src := resolveTableImagePath(parseDir, strings.TrimSpace(item.ImgPath))
		if src == "" {
			missing++
			continue
		}

		suffix := filepath.Ext(src)
		if suffix == "" {
			suffix = ".jpg"
		}
		baseName := sanitizeTableTitle(item.Caption)
		if baseName == "" {
			baseName = fmt.Sprintf("table_%d", idx+1)
		}
		filename := uniqueFilename(baseName, suffix, used)

		if !dryRun {
			if err := copyFile(src, filepath.Join(dstTableDir, filename)); err != nil {
				return copied, missing, err
			}
		}
		copied++
	}
	return copied, missing, nil
}

// copyImagesDir merges the parse images tree into the destination and
// returns the file count. A missing source is zero images, not an
// error.
func copyImagesDir(srcImages, dstImages string, dryRun bool) (int, error) {
	info, err := os.Stat(srcImages)
	if err != nil || !info.IsDir() {
		return 0, nil
	}

	count := 0
	err = filepath.WalkDir(srcImages, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(srcImages, path)
		if err != nil {
			return err
		}
		if entry.IsDir() {
			if !dryRun {
				return os.MkdirAll(filepath.Join(dstImages, rel), 0o755)
			}
			return nil
		}
		count++
		if dryRun {
			return nil
		}
		return copyFile(path, filepath.Join(dstImages, rel))
	})
	if err != nil {
		return 0, err
	}
	return count, nil
}

func readJSON(path string, out any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decoding %s: %w", path, err)
	}
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return fmt.Errorf("copying %s: %w", src, err)
	}
	return out.Close()
}
