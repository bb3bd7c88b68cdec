// Copyright 2026 The Papermill Authors
// SPDX-License-Identifier: Apache-2.0

package sandbox

import (
	"errors"
	"slices"
	"strings"
	"testing"
)

func testManifest(t *testing.T) *Manifest {
	t.Helper()
	manifest, err := NewManifest(t.TempDir(), "payload/task", "policy", "payload/task/output")
	if err != nil {
		t.Fatalf("NewManifest: %v", err)
	}
	return manifest
}

// argPair finds flag in args and returns its two following values.
func argPairs(args []string, flag string) [][2]string {
	var pairs [][2]string
	for i := 0; i < len(args)-2; i++ {
		if args[i] == flag {
			pairs = append(pairs, [2]string{args[i+1], args[i+2]})
		}
	}
	return pairs
}

func TestBuildBwrapArgsIsolation(t *testing.T) {
	t.Parallel()

	args, err := BuildBwrapArgs(&BwrapOptions{
		Manifest: testManifest(t),
		Mode:     WorkdirWorkspace,
		Command:  []string{"true"},
	})
	if err != nil {
		t.Fatalf("BuildBwrapArgs: %v", err)
	}

	for _, flag := range []string{"--die-with-parent", "--new-session", "--unshare-pid", "--clearenv"} {
		if !slices.Contains(args, flag) {
			t.Errorf("args missing %s", flag)
		}
	}
	if pairs := argPairs(args, "--tmpfs"); len(pairs) != 1 || pairs[0][0] != "/tmp" {
		t.Errorf("tmpfs binds = %v", pairs)
	}
}

func TestBuildBwrapArgsBinds(t *testing.T) {
	t.Parallel()

	manifest := testManifest(t)
	args, err := BuildBwrapArgs(&BwrapOptions{
		Manifest: manifest,
		Mode:     WorkdirWorkspace,
		Command:  []string{"true"},
	})
	if err != nil {
		t.Fatalf("BuildBwrapArgs: %v", err)
	}

	binds := argPairs(args, "--bind")
	wantRW := map[string]string{
		manifest.Payload: "/workspace/payload/task",
		manifest.Output:  "/workspace/payload/task/output",
	}
	for src, dest := range wantRW {
		found := false
		for _, pair := range binds {
			if pair[0] == src && pair[1] == dest {
				found = true
			}
		}
		if !found {
			t.Errorf("missing --bind %s %s in %v", src, dest, binds)
		}
	}

	roBinds := argPairs(args, "--ro-bind")
	for _, policyPath := range manifest.Policy {
		found := false
		for _, pair := range roBinds {
			if pair[0] == policyPath && strings.HasPrefix(pair[1], "/workspace/policy/") {
				found = true
			}
		}
		if !found {
			t.Errorf("missing ro-bind for policy path %s", policyPath)
		}
	}
}

func TestBuildBwrapArgsScaffoldOrder(t *testing.T) {
	t.Parallel()

	args, err := BuildBwrapArgs(&BwrapOptions{
		Manifest: testManifest(t),
		Mode:     WorkdirWorkspace,
		Command:  []string{"true"},
	})
	if err != nil {
		t.Fatalf("BuildBwrapArgs: %v", err)
	}

	var dirs []string
	for _, pair := range argPairs(args, "--dir") {
		dirs = append(dirs, pair[0])
	}
	// argPairs grabs two values per flag; --dir takes one, so keep the
	// first of each pair only (done above) and check parent-first order.
	for i, dir := range dirs {
		for _, earlier := range dirs[:i] {
			if strings.HasPrefix(earlier, dir+"/") {
				t.Errorf("dir %q created after its child %q", dir, earlier)
			}
		}
	}
	if !slices.Contains(dirs, "/workspace") {
		t.Errorf("scaffold missing /workspace: %v", dirs)
	}
}

func TestBuildBwrapArgsEnvironment(t *testing.T) {
	t.Parallel()

	manifest := testManifest(t)
	args, err := BuildBwrapArgs(&BwrapOptions{
		Manifest: manifest,
		Mode:     WorkdirWorkspace,
		Command:  []string{"env"},
		ExtraEnv: map[string]string{"TASK_HINT": "fast"},
	})
	if err != nil {
		t.Fatalf("BuildBwrapArgs: %v", err)
	}

	env := map[string]string{}
	for _, pair := range argPairs(args, "--setenv") {
		env[pair[0]] = pair[1]
	}
	if env[MarkerVariable] != manifest.ID() {
		t.Errorf("%s = %q, want %q", MarkerVariable, env[MarkerVariable], manifest.ID())
	}
	if env["HOME"] != "/tmp" {
		t.Errorf("HOME = %q", env["HOME"])
	}
	if env["TASK_HINT"] != "fast" {
		t.Errorf("TASK_HINT = %q", env["TASK_HINT"])
	}

	clearIdx := slices.Index(args, "--clearenv")
	setIdx := slices.Index(args, "--setenv")
	if clearIdx == -1 || setIdx == -1 || clearIdx > setIdx {
		t.Errorf("--clearenv must precede --setenv: clear=%d set=%d", clearIdx, setIdx)
	}
}

func TestBuildBwrapArgsChdir(t *testing.T) {
	t.Parallel()

	manifest := testManifest(t)

	tests := []struct {
		mode WorkdirMode
		want string
	}{
		{WorkdirWorkspace, "/workspace"},
		{WorkdirPayload, "/workspace/payload/task"},
	}
	for _, tt := range tests {
		args, err := BuildBwrapArgs(&BwrapOptions{
			Manifest: manifest,
			Mode:     tt.mode,
			Command:  []string{"pwd"},
		})
		if err != nil {
			t.Fatalf("BuildBwrapArgs(%s): %v", tt.mode, err)
		}
		idx := slices.Index(args, "--chdir")
		if idx == -1 || args[idx+1] != tt.want {
			t.Errorf("mode %s: chdir = %q, want %q", tt.mode, args[idx+1], tt.want)
		}
	}
}

func TestBuildBwrapArgsCommandLast(t *testing.T) {
	t.Parallel()

	command := []string{"python3", "-c", "print(1)"}
	args, err := BuildBwrapArgs(&BwrapOptions{
		Manifest: testManifest(t),
		Mode:     WorkdirPayload,
		Command:  command,
	})
	if err != nil {
		t.Fatalf("BuildBwrapArgs: %v", err)
	}

	sep := slices.Index(args, "--")
	if sep == -1 {
		t.Fatal("args missing -- separator")
	}
	if !slices.Equal(args[sep+1:], command) {
		t.Errorf("command tail = %v, want %v", args[sep+1:], command)
	}
}

func TestBuildBwrapArgsEmptyCommand(t *testing.T) {
	t.Parallel()

	_, err := BuildBwrapArgs(&BwrapOptions{
		Manifest: testManifest(t),
		Mode:     WorkdirWorkspace,
	})
	var emptyErr *EmptyCommandError
	if !errors.As(err, &emptyErr) {
		t.Fatalf("err = %v, want EmptyCommandError", err)
	}
}

func TestParseWorkdirMode(t *testing.T) {
	t.Parallel()

	if mode, err := ParseWorkdirMode("workspace"); err != nil || mode != WorkdirWorkspace {
		t.Errorf("workspace: mode=%q err=%v", mode, err)
	}
	if mode, err := ParseWorkdirMode("payload"); err != nil || mode != WorkdirPayload {
		t.Errorf("payload: mode=%q err=%v", mode, err)
	}
	if _, err := ParseWorkdirMode("root"); err == nil {
		t.Error("root: expected error")
	}
}
