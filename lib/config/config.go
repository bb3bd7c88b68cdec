// Copyright 2026 The Papermill Authors
// SPDX-License-Identifier: Apache-2.0

// Package config provides configuration loading for Papermill tools.
//
// Configuration is loaded from a single file specified by:
//   - PAPERMILL_CONFIG environment variable, or
//   - --config flag passed to the command
//
// There are no fallbacks or automatic discovery. This ensures
// deterministic, auditable configuration with no hidden overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"gopkg.in/yaml.v3"

	"github.com/papermill-foundation/papermill/sandbox"
)

// Config is the master configuration for Papermill.
type Config struct {
	// Paths configures directory locations.
	Paths PathsConfig `yaml:"paths"`

	// Policy configures the shared policy bundle.
	Policy PolicyConfig `yaml:"policy"`

	// Sandbox configures worker execution.
	Sandbox SandboxConfig `yaml:"sandbox"`

	// Checkpoint configures the cadence committer.
	Checkpoint CheckpointConfig `yaml:"checkpoint"`

	// Batch configures the batch runner.
	Batch BatchConfig `yaml:"batch"`
}

// PathsConfig configures directory locations.
type PathsConfig struct {
	// Root is the base directory for Papermill data.
	Root string `yaml:"root"`

	// Repository is the shared git repository worktrees are created
	// from.
	Repository string `yaml:"repository"`

	// Worktrees is where task worktrees are created, relative to the
	// repository root.
	Worktrees string `yaml:"worktrees"`

	// Archives is where output archives from removed worktrees land.
	Archives string `yaml:"archives"`
}

// PolicyConfig configures the policy bundle shared by all tasks.
type PolicyConfig struct {
	// Dir is the bundle directory, relative to the repository root.
	Dir string `yaml:"dir"`
}

// SandboxConfig configures worker execution.
type SandboxConfig struct {
	// WorkdirMode is the default working directory mode, "payload" or
	// "workspace".
	WorkdirMode string `yaml:"workdir_mode"`

	// BranchPrefix namespaces the task branches.
	BranchPrefix string `yaml:"branch_prefix"`
}

// CheckpointConfig configures the cadence committer.
type CheckpointConfig struct {
	// CommitEvery and PushEvery are the checkpoint cadences in
	// processed papers.
	CommitEvery int `yaml:"commit_every"`
	PushEvery   int `yaml:"push_every"`

	// Remote to push checkpoints to.
	Remote string `yaml:"remote"`

	// MessageTemplate for checkpoint commits; {count} expands to the
	// processed count.
	MessageTemplate string `yaml:"message_template"`
}

// BatchConfig configures the batch runner.
type BatchConfig struct {
	// Parallelism bounds concurrent tasks.
	Parallelism int `yaml:"parallelism"`
}

// Default returns the default configuration. These defaults ensure all
// fields have sensible zero-values before the file is merged in; the
// config file is still required for anything repository-specific.
func Default() *Config {
	homeDir, _ := os.UserHomeDir()
	defaultRoot := filepath.Join(homeDir, ".cache", "papermill")

	return &Config{
		Paths: PathsConfig{
			Root:      defaultRoot,
			Worktrees: ".papermill/worktrees",
			Archives:  filepath.Join(defaultRoot, "archives"),
		},
		Policy: PolicyConfig{
			Dir: "policy",
		},
		Sandbox: SandboxConfig{
			WorkdirMode:  string(sandbox.WorkdirPayload),
			BranchPrefix: "papermill",
		},
		Checkpoint: CheckpointConfig{
			CommitEvery:     5,
			PushEvery:       20,
			Remote:          "origin",
			MessageTemplate: "checkpoint: {count} papers processed",
		},
		Batch: BatchConfig{
			Parallelism: 2,
		},
	}
}

// Load loads configuration from the PAPERMILL_CONFIG environment
// variable. There are no fallbacks: if the variable is not set, this
// fails.
func Load() (*Config, error) {
	configPath := os.Getenv("PAPERMILL_CONFIG")
	if configPath == "" {
		return nil, fmt.Errorf("PAPERMILL_CONFIG environment variable not set; " +
			"set it to the path of your papermill.yaml config file, or use --config flag")
	}
	return LoadFile(configPath)
}

// LoadFile loads configuration from a specific file path. The config
// file is the single source of truth; the only expansion performed is
// ${VAR} and ${VAR:-default} in path fields, for portability.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	cfg.expandVariables()
	return cfg, nil
}

// expandVariables expands ${VAR} patterns in path fields.
func (c *Config) expandVariables() {
	vars := map[string]string{
		"PAPERMILL_ROOT": c.Paths.Root,
		"HOME":           os.Getenv("HOME"),
	}

	c.Paths.Root = expandVars(c.Paths.Root, vars)
	vars["PAPERMILL_ROOT"] = c.Paths.Root // Update for dependent paths.

	c.Paths.Repository = expandVars(c.Paths.Repository, vars)
	c.Paths.Worktrees = expandVars(c.Paths.Worktrees, vars)
	c.Paths.Archives = expandVars(c.Paths.Archives, vars)
}

// expandVars expands ${VAR} and ${VAR:-default} patterns.
var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

func expandVars(s string, vars map[string]string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}

		name := parts[1]
		defaultValue := ""
		if len(parts) >= 3 {
			defaultValue = parts[2]
		}

		// Check provided vars first, then environment.
		if value, ok := vars[name]; ok && value != "" {
			return value
		}
		if value := os.Getenv(name); value != "" {
			return value
		}
		return defaultValue
	})
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []error

	if c.Paths.Root == "" {
		errs = append(errs, fmt.Errorf("paths.root is required"))
	}
	if c.Paths.Repository == "" {
		errs = append(errs, fmt.Errorf("paths.repository is required"))
	}
	if c.Policy.Dir == "" {
		errs = append(errs, fmt.Errorf("policy.dir is required"))
	}
	if _, err := sandbox.ParseWorkdirMode(c.Sandbox.WorkdirMode); err != nil {
		errs = append(errs, fmt.Errorf("sandbox.workdir_mode: %w", err))
	}
	if c.Checkpoint.CommitEvery <= 0 {
		errs = append(errs, fmt.Errorf("checkpoint.commit_every must be positive"))
	}
	if c.Checkpoint.PushEvery <= 0 {
		errs = append(errs, fmt.Errorf("checkpoint.push_every must be positive"))
	}
	if c.Batch.Parallelism <= 0 {
		errs = append(errs, fmt.Errorf("batch.parallelism must be positive"))
	}

	return errors.Join(errs...)
}
