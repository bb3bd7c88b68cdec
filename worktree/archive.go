// Copyright 2026 The Papermill Authors
// SPDX-License-Identifier: Apache-2.0

package worktree

import (
	"archive/tar"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zstd"

	"github.com/papermill-foundation/papermill/lib/pathsafe"
)

// archiveOutput writes a .tar.zst of the worktree's output directory
// into archiveDir, so partial results of killed workers survive the
// teardown. Returns "" without error when the output directory does
// not exist. The archive is named after the worktree leaf, which
// already carries the task slug, timestamp, pid, and random suffix.
func archiveOutput(worktreePath, outputRel, archiveDir string) (string, error) {
	outputDir, err := pathsafe.Resolve(worktreePath, outputRel)
	if err != nil {
		return "", err
	}
	if info, err := os.Stat(outputDir); err != nil || !info.IsDir() {
		return "", nil
	}

	if err := os.MkdirAll(archiveDir, 0o755); err != nil {
		return "", fmt.Errorf("creating archive dir: %w", err)
	}
	archivePath := filepath.Join(archiveDir, filepath.Base(worktreePath)+"-output.tar.zst")

	file, err := os.Create(archivePath)
	if err != nil {
		return "", err
	}
	defer file.Close()

	compressor, err := zstd.NewWriter(file)
	if err != nil {
		return "", err
	}
	writer := tar.NewWriter(compressor)

	err = filepath.WalkDir(outputDir, func(path string, entry os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(outputDir, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		info, err := entry.Info()
		if err != nil {
			return err
		}
		header, err := tar.FileInfoHeader(info, "")
		if err != nil {
			return err
		}
		header.Name = filepath.ToSlash(rel)

		if err := writer.WriteHeader(header); err != nil {
			return err
		}
		if !info.Mode().IsRegular() {
			return nil
		}
		source, err := os.Open(path)
		if err != nil {
			return err
		}
		defer source.Close()
		_, err = io.Copy(writer, source)
		return err
	})
	if err != nil {
		writer.Close()
		compressor.Close()
		os.Remove(archivePath)
		return "", fmt.Errorf("archiving %s: %w", outputDir, err)
	}

	if err := writer.Close(); err != nil {
		return "", err
	}
	if err := compressor.Close(); err != nil {
		return "", err
	}
	return archivePath, nil
}
