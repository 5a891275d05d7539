package config

import (
	"fmt"

	"github.com/bmatcuk/doublestar/v4"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateDaemon(); err != nil {
		return err
	}
	if err := c.validateWatch(); err != nil {
		return err
	}
	return c.validateLogging()
}

func (c *Config) validateDaemon() error {
	if c.Daemon.TokenBudgetPerHour < 0 {
		return fmt.Errorf("daemon.token_budget_per_hour must be >= 0, got %d", c.Daemon.TokenBudgetPerHour)
	}
	return nil
}

func (c *Config) validateWatch() error {
	for _, pattern := range c.Watch.Patterns {
		if !doublestar.ValidatePattern(pattern) {
			return fmt.Errorf("watch.patterns: invalid glob %q", pattern)
		}
	}
	for _, pattern := range c.Watch.Ignore {
		if !doublestar.ValidatePattern(pattern) {
			return fmt.Errorf("watch.ignore: invalid glob %q", pattern)
		}
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format: unsupported value %q (want console or json)", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("logging.level: unsupported value %q", c.Logging.Level)
	}
	return nil
}

// resetInvalidSections replaces each section that fails validation with its
// defaults and returns the validation messages.
func (c *Config) resetInvalidSections() []string {
	defaults := Default()
	var problems []string
	if err := c.validateDaemon(); err != nil {
		problems = append(problems, err.Error())
		c.Daemon = defaults.Daemon
	}
	if err := c.validateWatch(); err != nil {
		problems = append(problems, err.Error())
		c.Watch = defaults.Watch
	}
	if err := c.validateLogging(); err != nil {
		problems = append(problems, err.Error())
		c.Logging = defaults.Logging
	}
	return problems
}
