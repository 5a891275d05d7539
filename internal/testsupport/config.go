package testsupport

import (
	"os"
	"testing"

	"dreamstate/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*config.Config)

// NewWorkspace creates a temp workspace root with its State Directory.
func NewWorkspace(t testing.TB) string {
	t.Helper()
	workspace := t.TempDir()
	if err := os.MkdirAll(config.StateDir(workspace), 0o755); err != nil {
		t.Fatalf("mkdir state dir: %v", err)
	}
	return workspace
}

// NewConfig produces a default config with fast timers suitable for tests,
// then applies any provided options.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	cfg := config.Default()
	cfg.Runtime.PollIntervalMS = 20
	cfg.Runtime.StatusIntervalMS = 50
	cfg.Runtime.IdleCheckSeconds = 1
	cfg.Runtime.StabilityMS = 50

	for _, opt := range opts {
		opt(&cfg)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("test config invalid: %v", err)
	}
	return &cfg
}

// WithIdleTimeoutMinutes overrides the idle threshold.
func WithIdleTimeoutMinutes(minutes int) ConfigOption {
	return func(c *config.Config) {
		c.Daemon.IdleTimeoutMinutes = minutes
	}
}

// WithWatchPatterns replaces the watcher include globs.
func WithWatchPatterns(patterns ...string) ConfigOption {
	return func(c *config.Config) {
		c.Watch.Patterns = patterns
	}
}

// WithStabilityMS overrides the watcher debounce window.
func WithStabilityMS(ms int) ConfigOption {
	return func(c *config.Config) {
		c.Runtime.StabilityMS = ms
	}
}
