// Copyright 2026 The Papermill Authors
// SPDX-License-Identifier: Apache-2.0

package sandbox

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// minFreeBytes is the free-space floor for the filesystem holding the
// worktree. Extraction outputs for a large document run to a few
// hundred megabytes, so refuse to start below 1 GiB.
const minFreeBytes = 1 << 30

// CheckResult is the outcome of a single validation check.
type CheckResult struct {
	Name   string
	Status CheckStatus
	Detail string
}

// CheckStatus classifies a check result.
type CheckStatus string

const (
	CheckPass CheckStatus = "pass"
	CheckWarn CheckStatus = "warn"
	CheckFail CheckStatus = "fail"
)

// Validate runs the host and manifest preflight checks and returns
// every result. The run is viable when no check failed; warnings are
// reported but do not block.
func Validate(manifest *Manifest) []CheckResult {
	var results []CheckResult

	caps := DetectCapabilities()
	if caps.CanRunSandbox() {
		detail := caps.BwrapVersion
		if detail == "" {
			detail = caps.BwrapPath
		}
		results = append(results, CheckResult{Name: "bubblewrap", Status: CheckPass, Detail: detail})
	} else {
		results = append(results, CheckResult{Name: "bubblewrap", Status: CheckFail, Detail: caps.SkipReason()})
	}

	if err := checkManifestPaths(manifest); err != nil {
		results = append(results, CheckResult{Name: "manifest paths", Status: CheckFail, Detail: err.Error()})
	} else {
		results = append(results, CheckResult{Name: "manifest paths", Status: CheckPass})
	}

	results = append(results, checkDiskSpace(manifest.Root))
	results = append(results, checkTmpExec())
	return results
}

// Viable reports whether a result set contains no failures.
func Viable(results []CheckResult) bool {
	for _, result := range results {
		if result.Status == CheckFail {
			return false
		}
	}
	return true
}

// checkDiskSpace verifies the filesystem holding the worktree has room
// for worker output.
func checkDiskSpace(root string) CheckResult {
	var stat unix.Statfs_t
	if err := unix.Statfs(root, &stat); err != nil {
		return CheckResult{Name: "disk space", Status: CheckWarn,
			Detail: fmt.Sprintf("statfs %s: %v", root, err)}
	}
	free := stat.Bavail * uint64(stat.Bsize)
	detail := fmt.Sprintf("%d MiB free", free>>20)
	if free < minFreeBytes {
		return CheckResult{Name: "disk space", Status: CheckFail, Detail: detail}
	}
	return CheckResult{Name: "disk space", Status: CheckPass, Detail: detail}
}

// checkTmpExec warns when /tmp on the host is mounted noexec. The
// sandbox mounts its own tmpfs over /tmp, so this only matters for
// workers that escape to host-visible scratch space via the payload.
func checkTmpExec() CheckResult {
	var stat unix.Statfs_t
	if err := unix.Statfs(os.TempDir(), &stat); err != nil {
		return CheckResult{Name: "tmp exec", Status: CheckWarn, Detail: err.Error()}
	}
	if stat.Flags&unix.ST_NOEXEC != 0 {
		return CheckResult{Name: "tmp exec", Status: CheckWarn, Detail: "host /tmp is mounted noexec"}
	}
	return CheckResult{Name: "tmp exec", Status: CheckPass}
}
