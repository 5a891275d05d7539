package config

const (
	defaultIdleTimeoutMinutes = 5
	defaultTokenBudgetPerHour = 10000
	defaultModel              = "haiku"
	defaultLogFormat          = "console"
	defaultLogLevel           = "info"
	defaultLogRetentionDays   = 7
	defaultPollIntervalMS     = 500
	defaultStatusIntervalMS   = 5000
	defaultIdleCheckSeconds   = 30
	defaultStabilityMS        = 300
)

var (
	defaultWatchPatterns = []string{"**/*.ts", "**/*.tsx", "**/*.js", "**/*.jsx"}
	defaultWatchIgnore   = []string{"node_modules", "dist", ".git", StateDirName}
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Daemon: Daemon{
			IdleTimeoutMinutes: defaultIdleTimeoutMinutes,
			TokenBudgetPerHour: defaultTokenBudgetPerHour,
			Model:              defaultModel,
		},
		Watch: Watch{
			Patterns: append([]string(nil), defaultWatchPatterns...),
			Ignore:   append([]string(nil), defaultWatchIgnore...),
		},
		Logging: Logging{
			Format:        defaultLogFormat,
			Level:         defaultLogLevel,
			RetentionDays: defaultLogRetentionDays,
		},
		Runtime: Runtime{
			PollIntervalMS:   defaultPollIntervalMS,
			StatusIntervalMS: defaultStatusIntervalMS,
			IdleCheckSeconds: defaultIdleCheckSeconds,
			StabilityMS:      defaultStabilityMS,
		},
	}
}
