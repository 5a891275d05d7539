package config_test

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"dreamstate/internal/config"
)

func writeConfig(t *testing.T, workspace, name, body string) string {
	t.Helper()
	dir := config.StateDir(workspace)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("mkdir state dir: %v", err)
	}
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadWithoutFileUsesDefaults(t *testing.T) {
	workspace := t.TempDir()

	cfg, resolved, exists, err := config.Load(workspace)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if exists {
		t.Fatal("expected config file to be absent")
	}
	if resolved != config.ConfigPath(workspace) {
		t.Fatalf("unexpected resolved path %q", resolved)
	}
	if cfg.Daemon.IdleTimeoutMinutes != 5 {
		t.Fatalf("idle timeout = %d, want 5", cfg.Daemon.IdleTimeoutMinutes)
	}
	if cfg.Daemon.TokenBudgetPerHour != 10000 {
		t.Fatalf("token budget = %d, want 10000", cfg.Daemon.TokenBudgetPerHour)
	}
	if cfg.Daemon.Model != "haiku" {
		t.Fatalf("model = %q, want haiku", cfg.Daemon.Model)
	}
	wantPatterns := []string{"**/*.ts", "**/*.tsx", "**/*.js", "**/*.jsx"}
	if !reflect.DeepEqual(cfg.Watch.Patterns, wantPatterns) {
		t.Fatalf("patterns = %v, want %v", cfg.Watch.Patterns, wantPatterns)
	}
	wantIgnore := []string{"node_modules", "dist", ".git", ".dreamstate"}
	if !reflect.DeepEqual(cfg.Watch.Ignore, wantIgnore) {
		t.Fatalf("ignore = %v, want %v", cfg.Watch.Ignore, wantIgnore)
	}
	if cfg.IdleTimeout() != 5*time.Minute {
		t.Fatalf("IdleTimeout() = %v", cfg.IdleTimeout())
	}
	if cfg.PollInterval() != 500*time.Millisecond || cfg.StatusInterval() != 5*time.Second {
		t.Fatalf("unexpected intervals: poll=%v status=%v", cfg.PollInterval(), cfg.StatusInterval())
	}
	if cfg.IdleCheckInterval() != 30*time.Second || cfg.StabilityWindow() != 300*time.Millisecond {
		t.Fatalf("unexpected idle check/stability: %v %v", cfg.IdleCheckInterval(), cfg.StabilityWindow())
	}
}

func TestLoadMergesSectionsShallowly(t *testing.T) {
	workspace := t.TempDir()
	writeConfig(t, workspace, "config.json", `{
  // only override the timeout
  "daemon": {"idle_timeout_minutes": 10},
  "watch": {"patterns": ["**/*.go"]}
}`)

	cfg, _, exists, err := config.Load(workspace)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if !exists {
		t.Fatal("expected config file to exist")
	}
	if cfg.Daemon.IdleTimeoutMinutes != 10 {
		t.Fatalf("idle timeout = %d, want 10", cfg.Daemon.IdleTimeoutMinutes)
	}
	if cfg.Daemon.Model != "haiku" || cfg.Daemon.TokenBudgetPerHour != 10000 {
		t.Fatalf("untouched daemon keys should keep defaults: %+v", cfg.Daemon)
	}
	if !reflect.DeepEqual(cfg.Watch.Patterns, []string{"**/*.go"}) {
		t.Fatalf("patterns should be replaced, got %v", cfg.Watch.Patterns)
	}
	if len(cfg.Watch.Ignore) != 4 {
		t.Fatalf("ignore should keep defaults, got %v", cfg.Watch.Ignore)
	}
}

func TestLoadFallsBackToTOML(t *testing.T) {
	workspace := t.TempDir()
	path := writeConfig(t, workspace, "config.toml", `
[daemon]
idle_timeout_minutes = 2

[logging]
format = "JSON"
`)

	cfg, resolved, exists, err := config.Load(workspace)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if !exists || resolved != path {
		t.Fatalf("expected toml config to be used, got %q exists=%v", resolved, exists)
	}
	if cfg.Daemon.IdleTimeoutMinutes != 2 {
		t.Fatalf("idle timeout = %d, want 2", cfg.Daemon.IdleTimeoutMinutes)
	}
	if cfg.Logging.Format != "json" {
		t.Fatalf("format should be normalized, got %q", cfg.Logging.Format)
	}
}

func TestLoadPrefersJSONOverTOML(t *testing.T) {
	workspace := t.TempDir()
	jsonPath := writeConfig(t, workspace, "config.json", `{"daemon": {"idle_timeout_minutes": 7}}`)
	writeConfig(t, workspace, "config.toml", "[daemon]\nidle_timeout_minutes = 3\n")

	cfg, resolved, _, err := config.Load(workspace)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if resolved != jsonPath || cfg.Daemon.IdleTimeoutMinutes != 7 {
		t.Fatalf("expected json config, got %q timeout=%d", resolved, cfg.Daemon.IdleTimeoutMinutes)
	}
}

func TestLoadMalformedReturnsErrMalformed(t *testing.T) {
	workspace := t.TempDir()
	writeConfig(t, workspace, "config.json", `{"daemon": `)

	cfg, _, exists, err := config.Load(workspace)
	if !errors.Is(err, config.ErrMalformed) {
		t.Fatalf("expected ErrMalformed, got %v", err)
	}
	if !exists {
		t.Fatal("malformed file still exists")
	}
	if cfg == nil || !reflect.DeepEqual(*cfg, config.Default()) {
		t.Fatalf("expected defaults alongside ErrMalformed, got %+v", cfg)
	}
}

func TestLoadInvalidSectionsFallBackToDefaults(t *testing.T) {
	workspace := t.TempDir()
	writeConfig(t, workspace, "config.json", `{
  "daemon": {"idle_timeout_minutes": 9},
  "watch": {"patterns": ["src/[abc"]},
  "logging": {"format": "xml", "level": "debug"}
}`)

	cfg, _, _, err := config.Load(workspace)
	if !errors.Is(err, config.ErrMalformed) {
		t.Fatalf("expected ErrMalformed, got %v", err)
	}
	if cfg == nil {
		t.Fatal("expected a usable config")
	}
	defaults := config.Default()
	if cfg.Daemon.IdleTimeoutMinutes != 9 {
		t.Fatalf("valid daemon section should be kept, got %+v", cfg.Daemon)
	}
	if !reflect.DeepEqual(cfg.Watch, defaults.Watch) {
		t.Fatalf("watch = %+v, want defaults", cfg.Watch)
	}
	if cfg.Logging != defaults.Logging {
		t.Fatalf("logging = %+v, want defaults", cfg.Logging)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("fallback config should validate: %v", err)
	}
}

func TestLoadNormalizesNonPositiveValues(t *testing.T) {
	workspace := t.TempDir()
	writeConfig(t, workspace, "config.json", `{
  "daemon": {"idle_timeout_minutes": 0, "model": "  "},
  "runtime": {"poll_interval_ms": -1},
  "watch": {"ignore": ["dist", " dist ", ""]}
}`)

	cfg, _, _, err := config.Load(workspace)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Daemon.IdleTimeoutMinutes != 5 || cfg.Daemon.Model != "haiku" {
		t.Fatalf("expected defaults restored, got %+v", cfg.Daemon)
	}
	if cfg.Runtime.PollIntervalMS != 500 {
		t.Fatalf("poll interval = %d, want 500", cfg.Runtime.PollIntervalMS)
	}
	if !reflect.DeepEqual(cfg.Watch.Ignore, []string{"dist"}) {
		t.Fatalf("ignore = %v, want [dist]", cfg.Watch.Ignore)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*config.Config)
	}{
		{"format", func(c *config.Config) { c.Logging.Format = "xml" }},
		{"level", func(c *config.Config) { c.Logging.Level = "loud" }},
		{"pattern", func(c *config.Config) { c.Watch.Patterns = []string{"[unterminated"} }},
		{"budget", func(c *config.Config) { c.Daemon.TokenBudgetPerHour = -1 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.Default()
			tt.mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

func TestCreateSampleIsLoadable(t *testing.T) {
	workspace := t.TempDir()
	if err := config.CreateSample(config.ConfigPath(workspace)); err != nil {
		t.Fatalf("CreateSample: %v", err)
	}
	cfg, _, exists, err := config.Load(workspace)
	if err != nil {
		t.Fatalf("Load sample: %v", err)
	}
	if !exists {
		t.Fatal("sample should exist")
	}
	def := config.Default()
	if !reflect.DeepEqual(*cfg, def) {
		t.Fatalf("sample should match defaults:\n got %+v\nwant %+v", *cfg, def)
	}
}

func TestResolveWorkspace(t *testing.T) {
	explicit := t.TempDir()
	fromEnv := t.TempDir()
	t.Setenv(config.WorkspaceEnv, fromEnv)

	got, err := config.ResolveWorkspace(explicit)
	if err != nil || got != explicit {
		t.Fatalf("explicit: got %q err=%v", got, err)
	}
	got, err = config.ResolveWorkspace("")
	if err != nil || got != fromEnv {
		t.Fatalf("env: got %q err=%v", got, err)
	}

	t.Setenv(config.WorkspaceEnv, "")
	wd, _ := os.Getwd()
	got, err = config.ResolveWorkspace("")
	if err != nil || got != wd {
		t.Fatalf("cwd: got %q want %q err=%v", got, wd, err)
	}
}
