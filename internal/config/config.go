package config

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
	"github.com/tidwall/jsonc"
)

//go:embed sample_config.json
var sampleConfig string

const (
	// StateDirName is the per-workspace directory holding all daemon files.
	StateDirName = ".dreamstate"
	// WorkspaceEnv overrides the workspace root when no flag is given.
	WorkspaceEnv = "DREAMSTATE_WORKSPACE"

	jsonConfigName = "config.json"
	tomlConfigName = "config.toml"
)

// ErrMalformed marks a config file that could not be parsed or holds invalid
// values. Load still returns a usable config alongside it: defaults for an
// unparseable file, defaults for each invalid section otherwise. Callers log
// it and continue.
var ErrMalformed = errors.New("malformed config")

// Daemon contains the idle detection and budget settings.
type Daemon struct {
	IdleTimeoutMinutes int    `json:"idle_timeout_minutes" toml:"idle_timeout_minutes"`
	TokenBudgetPerHour int    `json:"token_budget_per_hour" toml:"token_budget_per_hour"`
	Model              string `json:"model" toml:"model"`
}

// Watch contains the file watcher include and exclude globs.
type Watch struct {
	Patterns []string `json:"patterns" toml:"patterns"`
	Ignore   []string `json:"ignore" toml:"ignore"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format        string `json:"format" toml:"format"`
	Level         string `json:"level" toml:"level"`
	RetentionDays int    `json:"retention_days" toml:"retention_days"`
}

// Runtime contains daemon timer intervals.
type Runtime struct {
	PollIntervalMS   int `json:"poll_interval_ms" toml:"poll_interval_ms"`
	StatusIntervalMS int `json:"status_interval_ms" toml:"status_interval_ms"`
	IdleCheckSeconds int `json:"idle_check_seconds" toml:"idle_check_seconds"`
	StabilityMS      int `json:"stability_ms" toml:"stability_ms"`
}

// Config encapsulates all configuration values for dreamstate.
//
// Configuration sections by subsystem:
//   - Daemon: idle timeout, token budget, model identifier
//   - Watch: include patterns and ignore globs for the file watcher
//   - Logging: log format, level, and retention
//   - Runtime: poll, heartbeat, idle check, and debounce intervals
type Config struct {
	Daemon  Daemon  `json:"daemon" toml:"daemon"`
	Watch   Watch   `json:"watch" toml:"watch"`
	Logging Logging `json:"logging" toml:"logging"`
	Runtime Runtime `json:"runtime" toml:"runtime"`
}

// Load reads the workspace config file, merges it over defaults, and
// validates the result. It returns the path consulted and whether the file
// existed. Parse and validation failures yield an error wrapping ErrMalformed
// together with the fallback config.
func Load(workspace string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(workspace)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		data, err := os.ReadFile(resolvedPath)
		if err != nil {
			return nil, resolvedPath, true, fmt.Errorf("read config: %w", err)
		}
		if err := decode(resolvedPath, data, &cfg); err != nil {
			defaults := Default()
			return &defaults, resolvedPath, true, fmt.Errorf("%w: %s: %v", ErrMalformed, resolvedPath, err)
		}
	}

	cfg.normalize()

	if problems := cfg.resetInvalidSections(); len(problems) > 0 {
		return &cfg, resolvedPath, exists, fmt.Errorf("%w: %s: %s", ErrMalformed, resolvedPath, strings.Join(problems, "; "))
	}

	return &cfg, resolvedPath, exists, nil
}

func decode(path string, data []byte, cfg *Config) error {
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		return toml.NewDecoder(bytes.NewReader(data)).Decode(cfg)
	}
	stripped := jsonc.ToJSON(data)
	if len(bytes.TrimSpace(stripped)) == 0 {
		return nil
	}
	return json.Unmarshal(stripped, cfg)
}

func resolveConfigPath(workspace string) (string, bool, error) {
	dir := StateDir(workspace)
	jsonPath := filepath.Join(dir, jsonConfigName)
	for _, candidate := range []string{jsonPath, filepath.Join(dir, tomlConfigName)} {
		info, err := os.Stat(candidate)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		if !info.IsDir() {
			return candidate, true, nil
		}
	}
	return jsonPath, false, nil
}

// StateDir returns the State Directory for a workspace root.
func StateDir(workspace string) string {
	return filepath.Join(workspace, StateDirName)
}

// ConfigPath returns the path of the JSON config file for a workspace.
func ConfigPath(workspace string) string {
	return filepath.Join(StateDir(workspace), jsonConfigName)
}

// ResolveWorkspace picks the workspace root: the explicit value if non-empty,
// then DREAMSTATE_WORKSPACE, then the current directory. The result is absolute.
func ResolveWorkspace(explicit string) (string, error) {
	candidate := strings.TrimSpace(explicit)
	if candidate == "" {
		candidate = strings.TrimSpace(os.Getenv(WorkspaceEnv))
	}
	if candidate == "" {
		wd, err := os.Getwd()
		if err != nil {
			return "", fmt.Errorf("resolve working directory: %w", err)
		}
		candidate = wd
	}
	expanded, err := expandPath(candidate)
	if err != nil {
		return "", err
	}
	return expanded, nil
}

// IdleTimeout returns the idle threshold as a duration.
func (c *Config) IdleTimeout() time.Duration {
	return time.Duration(c.Daemon.IdleTimeoutMinutes) * time.Minute
}

// PollInterval returns the task poll cadence.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Runtime.PollIntervalMS) * time.Millisecond
}

// StatusInterval returns the heartbeat cadence.
func (c *Config) StatusInterval() time.Duration {
	return time.Duration(c.Runtime.StatusIntervalMS) * time.Millisecond
}

// IdleCheckInterval returns how often the audit detector re-evaluates idleness.
func (c *Config) IdleCheckInterval() time.Duration {
	return time.Duration(c.Runtime.IdleCheckSeconds) * time.Second
}

// StabilityWindow returns the watcher debounce window.
func (c *Config) StabilityWindow() time.Duration {
	return time.Duration(c.Runtime.StabilityMS) * time.Millisecond
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}
	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
