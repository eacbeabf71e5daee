// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvVar is the environment variable naming the configuration file.
const EnvVar = "CONVEYOR_CONFIG"

// Config is the master configuration for conveyor.
type Config struct {
	// Paths configures where conveyor keeps its data.
	Paths PathsConfig `yaml:"paths"`

	// Runner configures plan execution.
	Runner RunnerConfig `yaml:"runner"`

	// Runners maps runs_on labels to execution targets. Entries here
	// are merged over the canonical table from Default, so a config
	// file can add labels or redefine a canonical one without
	// restating the rest.
	Runners map[string]RunnerTarget `yaml:"runners"`

	// History configures the run history database.
	History HistoryConfig `yaml:"history"`

	// Secrets configures the age identity and sealed secrets file.
	Secrets SecretsConfig `yaml:"secrets"`

	// LogStore configures the step output blob store.
	LogStore LogStoreConfig `yaml:"log_store"`

	// Log configures diagnostic logging.
	Log LogConfig `yaml:"log"`
}

// PathsConfig configures directory locations. Every path supports
// ${VAR} expansion; ${CONVEYOR_DATA} refers to Data after its own
// expansion, so derived paths follow when only Data is changed.
type PathsConfig struct {
	// Data is the root directory for conveyor state.
	Data string `yaml:"data"`

	// Workspaces is where per-instance build workspaces are created.
	// Scratch space: removed after each run unless the runner is told
	// to keep them.
	Workspaces string `yaml:"workspaces"`

	// Logs is where JSONL run logs and CBOR run archives are written.
	Logs string `yaml:"logs"`

	// Blobs is the content-addressed step output store.
	Blobs string `yaml:"blobs"`

	// Spool is the pending push-event directory fed by the git hook.
	Spool string `yaml:"spool"`

	// HistoryDB is the SQLite run history database file.
	HistoryDB string `yaml:"history_db"`
}

// RunnerConfig configures plan execution.
type RunnerConfig struct {
	// Workers is how many instances execute concurrently.
	Workers int `yaml:"workers"`

	// StepTimeout is the default per-step timeout, overridden by a
	// step's own timeout field.
	StepTimeout string `yaml:"step_timeout"`

	// GracePeriod is the default SIGTERM-to-SIGKILL window for
	// cancelled or timed-out steps. Zero kills immediately.
	GracePeriod string `yaml:"grace_period"`

	// CloneDepth controls workspace checkouts: zero clones with
	// shared objects (cheap for local repositories), a positive value
	// makes a shallow clone of that depth.
	CloneDepth int `yaml:"clone_depth"`

	// KeepWorkspaces leaves workspaces on disk after a run for
	// debugging instead of removing them.
	KeepWorkspaces bool `yaml:"keep_workspaces"`
}

// RunnerTarget is one entry of the runner-label table: how instances
// scheduled on a label execute.
type RunnerTarget struct {
	// OS is surfaced to steps as RUNNER_OS ("Linux", "Windows",
	// "macOS").
	OS string `yaml:"os"`

	// Arch is surfaced to steps as RUNNER_ARCH ("X64", "ARM64").
	Arch string `yaml:"arch"`

	// Env is extra environment for every step under this label
	// (toolchain paths, cross-compilation targets).
	Env map[string]string `yaml:"env,omitempty"`

	// Setup is shell commands run in the workspace before the first
	// step (toolchain bootstrap).
	Setup []string `yaml:"setup,omitempty"`
}

// HistoryConfig configures run history retention.
type HistoryConfig struct {
	// Keep is how many runs `conveyor history prune` retains.
	// Zero keeps everything.
	Keep int `yaml:"keep"`
}

// SecretsConfig configures sealed secrets.
type SecretsConfig struct {
	// IdentityFile is the age identity used to unseal secrets.
	IdentityFile string `yaml:"identity_file"`

	// File is the sealed secrets file, relative to the repository
	// root when not absolute.
	File string `yaml:"file"`
}

// LogStoreConfig configures the step output blob store.
type LogStoreConfig struct {
	// KeyFile is the path of a 32-byte hex master key ("-" reads
	// stdin). When set, blobs are encrypted at rest; when empty they
	// are stored compressed but in the clear.
	KeyFile string `yaml:"key_file"`
}

// LogConfig configures diagnostic logging.
type LogConfig struct {
	// Level is the minimum slog level: debug, info, warn, or error.
	Level string `yaml:"level"`
}

// Default returns the zero-configuration defaults: data under the
// user's home, two concurrent instances, and the three canonical
// runner labels executing on the host shell. A loaded config file
// overlays these, so every field has a working value even when the
// file sets nothing.
func Default() *Config {
	homeDir, _ := os.UserHomeDir()
	dataDir := filepath.Join(homeDir, ".local", "share", "conveyor")
	configDir := filepath.Join(homeDir, ".config", "conveyor")

	return &Config{
		Paths: PathsConfig{
			Data:       dataDir,
			Workspaces: filepath.Join(dataDir, "workspaces"),
			Logs:       filepath.Join(dataDir, "logs"),
			Blobs:      filepath.Join(dataDir, "blobs"),
			Spool:      filepath.Join(dataDir, "spool"),
			HistoryDB:  filepath.Join(dataDir, "history.db"),
		},
		Runner: RunnerConfig{
			Workers:     2,
			StepTimeout: "30m",
			GracePeriod: "10s",
			CloneDepth:  0,
		},
		Runners: map[string]RunnerTarget{
			"ubuntu-latest":  {OS: "Linux", Arch: hostArch()},
			"windows-latest": {OS: "Windows", Arch: hostArch()},
			"macos-latest":   {OS: "macOS", Arch: hostArch()},
		},
		History: HistoryConfig{
			Keep: 200,
		},
		Secrets: SecretsConfig{
			IdentityFile: filepath.Join(configDir, "identity.txt"),
			File:         ".conveyor/secrets.age",
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// hostArch maps the host architecture to its RUNNER_ARCH name.
func hostArch() string {
	switch runtime.GOARCH {
	case "amd64":
		return "X64"
	case "arm64":
		return "ARM64"
	case "386":
		return "X86"
	default:
		return runtime.GOARCH
	}
}

// DefaultPath returns the default configuration file location,
// ~/.config/conveyor/config.yaml.
func DefaultPath() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolving home directory: %w", err)
	}
	return filepath.Join(homeDir, ".config", "conveyor", "config.yaml"), nil
}

// Load loads configuration. With a non-empty path (the --config flag)
// that file is loaded and must exist. With an empty path the
// CONVEYOR_CONFIG environment variable is consulted next, and must
// name an existing file when set. Otherwise the default location is
// tried, and a missing file there simply yields Default.
//
// Environment variables do not override values from the file; the
// file is the single source of truth. The only expansion performed is
// ${VAR} and ${VAR:-default} in path fields.
func Load(path string) (*Config, error) {
	explicit := path != ""
	if path == "" {
		path = os.Getenv(EnvVar)
		explicit = path != ""
	}
	if path == "" {
		defaultPath, err := DefaultPath()
		if err != nil {
			return nil, err
		}
		path = defaultPath
	}

	cfg := Default()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", path, err)
		}
	case os.IsNotExist(err) && !explicit:
		// No config file: pure defaults.
	default:
		return nil, err
	}

	cfg.expandVariables()
	return cfg, nil
}

// expandVariables expands ${VAR} and ${VAR:-default} patterns in path
// fields. ${CONVEYOR_DATA} resolves to the expanded data directory so
// derived paths can be stated relative to it.
func (c *Config) expandVariables() {
	homeDir, _ := os.UserHomeDir()
	vars := map[string]string{
		"CONVEYOR_DATA": c.Paths.Data,
		"HOME":          homeDir,
	}

	c.Paths.Data = expandVars(c.Paths.Data, vars)
	vars["CONVEYOR_DATA"] = c.Paths.Data // Update for dependent paths.

	c.Paths.Workspaces = expandVars(c.Paths.Workspaces, vars)
	c.Paths.Logs = expandVars(c.Paths.Logs, vars)
	c.Paths.Blobs = expandVars(c.Paths.Blobs, vars)
	c.Paths.Spool = expandVars(c.Paths.Spool, vars)
	c.Paths.HistoryDB = expandVars(c.Paths.HistoryDB, vars)
	c.Secrets.IdentityFile = expandVars(c.Secrets.IdentityFile, vars)
	c.Secrets.File = expandVars(c.Secrets.File, vars)
	c.LogStore.KeyFile = expandVars(c.LogStore.KeyFile, vars)
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

	if c.Paths.Data == "" {
		errs = append(errs, fmt.Errorf("paths.data is required"))
	}

	if c.Runner.Workers < 1 {
		errs = append(errs, fmt.Errorf("runner.workers must be at least 1, got %d", c.Runner.Workers))
	}
	if c.Runner.CloneDepth < 0 {
		errs = append(errs, fmt.Errorf("runner.clone_depth must not be negative, got %d", c.Runner.CloneDepth))
	}
	if c.Runner.StepTimeout != "" {
		if _, err := time.ParseDuration(c.Runner.StepTimeout); err != nil {
			errs = append(errs, fmt.Errorf("runner.step_timeout: invalid duration %q", c.Runner.StepTimeout))
		}
	}
	if c.Runner.GracePeriod != "" {
		if _, err := time.ParseDuration(c.Runner.GracePeriod); err != nil {
			errs = append(errs, fmt.Errorf("runner.grace_period: invalid duration %q", c.Runner.GracePeriod))
		}
	}

	if len(c.Runners) == 0 {
		errs = append(errs, fmt.Errorf("runners table must not be empty"))
	}
	for label, target := range c.Runners {
		if label == "" {
			errs = append(errs, fmt.Errorf("runners: empty label"))
			continue
		}
		if target.OS == "" {
			errs = append(errs, fmt.Errorf("runners.%s: os is required", label))
		}
	}

	if c.History.Keep < 0 {
		errs = append(errs, fmt.Errorf("history.keep must not be negative, got %d", c.History.Keep))
	}

	levelValues := []string{"debug", "info", "warn", "error"}
	if c.Log.Level != "" && !contains(levelValues, c.Log.Level) {
		errs = append(errs, fmt.Errorf("log.level must be one of: %v", levelValues))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// EnsurePaths creates all configured data directories if they don't
// exist. The identity file's directory is not created here; it is
// created with restrictive permissions when an identity is saved.
func (c *Config) EnsurePaths() error {
	paths := []string{
		c.Paths.Data,
		c.Paths.Workspaces,
		c.Paths.Logs,
		c.Paths.Blobs,
		c.Paths.Spool,
		filepath.Dir(c.Paths.HistoryDB),
	}

	for _, path := range paths {
		if path == "" {
			continue
		}
		if err := os.MkdirAll(path, 0755); err != nil {
			return fmt.Errorf("creating %s: %w", path, err)
		}
	}

	return nil
}

// StepTimeout returns the parsed default step timeout, or zero when
// unset or unparseable (Validate reports the latter).
func (c *Config) StepTimeout() time.Duration {
	d, _ := time.ParseDuration(c.Runner.StepTimeout)
	return d
}

// GracePeriod returns the parsed default grace period, or zero when
// unset or unparseable (Validate reports the latter).
func (c *Config) GracePeriod() time.Duration {
	d, _ := time.ParseDuration(c.Runner.GracePeriod)
	return d
}

func contains(slice []string, s string) bool {
	for _, v := range slice {
		if v == s {
			return true
		}
	}
	return false
}
