package config

import "strings"

func (c *Config) normalize() {
	c.normalizeDaemon()
	c.normalizeWatch()
	c.normalizeLogging()
	c.normalizeRuntime()
}

func (c *Config) normalizeDaemon() {
	if c.Daemon.IdleTimeoutMinutes <= 0 {
		c.Daemon.IdleTimeoutMinutes = defaultIdleTimeoutMinutes
	}
	c.Daemon.Model = strings.TrimSpace(c.Daemon.Model)
	if c.Daemon.Model == "" {
		c.Daemon.Model = defaultModel
	}
}

func (c *Config) normalizeWatch() {
	c.Watch.Patterns = cleanList(c.Watch.Patterns)
	c.Watch.Ignore = cleanList(c.Watch.Ignore)
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
	if c.Logging.RetentionDays < 0 {
		c.Logging.RetentionDays = 0
	}
}

func (c *Config) normalizeRuntime() {
	if c.Runtime.PollIntervalMS <= 0 {
		c.Runtime.PollIntervalMS = defaultPollIntervalMS
	}
	if c.Runtime.StatusIntervalMS <= 0 {
		c.Runtime.StatusIntervalMS = defaultStatusIntervalMS
	}
	if c.Runtime.IdleCheckSeconds <= 0 {
		c.Runtime.IdleCheckSeconds = defaultIdleCheckSeconds
	}
	if c.Runtime.StabilityMS <= 0 {
		c.Runtime.StabilityMS = defaultStabilityMS
	}
}

func cleanList(values []string) []string {
	if len(values) == 0 {
		return values
	}
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, value := range values {
		trimmed := strings.TrimSpace(value)
		if trimmed == "" {
			continue
		}
		if _, ok := seen[trimmed]; ok {
			continue
		}
		seen[trimmed] = struct{}{}
		out = append(out, trimmed)
	}
	return out
}
