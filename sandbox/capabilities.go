// Copyright 2026 The Papermill Authors
// SPDX-License-Identifier: Apache-2.0

package sandbox

import (
	"os"
	"os/exec"
	"strings"
)

// Capabilities describes what sandbox features are available on this
// host.
type Capabilities struct {
	// BwrapAvailable is true if bubblewrap is installed.
	BwrapAvailable bool

	// BwrapPath is the path to bwrap if available.
	BwrapPath string

	// BwrapVersion is the bwrap version string.
	BwrapVersion string

	// UserNamespacesEnabled is true if unprivileged user namespaces
	// work.
	UserNamespacesEnabled bool
}

// DetectCapabilities checks what sandbox features are available.
func DetectCapabilities() *Capabilities {
	caps := &Capabilities{}

	if path, err := BwrapPath(); err == nil {
		caps.BwrapAvailable = true
		caps.BwrapPath = path

		if out, err := exec.Command(path, "--version").Output(); err == nil {
			caps.BwrapVersion = strings.TrimSpace(string(out))
		}
	}

	caps.UserNamespacesEnabled = checkUserNamespaces()
	return caps
}

// CanRunSandbox returns true if basic sandbox execution is possible.
func (c *Capabilities) CanRunSandbox() bool {
	return c.BwrapAvailable && c.UserNamespacesEnabled
}

// SkipReason returns a human-readable reason why sandboxing isn't
// available, or empty string if it is.
func (c *Capabilities) SkipReason() string {
	if !c.BwrapAvailable {
		return "bubblewrap not installed"
	}
	if !c.UserNamespacesEnabled {
		return "unprivileged user namespaces not enabled (set kernel.unprivileged_userns_clone=1)"
	}
	return ""
}

// checkUserNamespaces tests if unprivileged user namespaces work.
func checkUserNamespaces() bool {
	// First check the sysctl. File not existing usually means userns
	// is allowed.
	data, err := os.ReadFile("/proc/sys/kernel/unprivileged_userns_clone")
	if err == nil && strings.TrimSpace(string(data)) == "0" {
		return false
	}

	bwrapPath, err := BwrapPath()
	if err != nil {
		return false
	}

	// Actually create a namespace: run true inside a minimal sandbox.
	cmd := exec.Command(bwrapPath,
		"--unshare-user",
		"--ro-bind", "/", "/",
		"--",
		"true",
	)
	return cmd.Run() == nil
}
