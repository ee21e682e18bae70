package config

import (
	"os"
	"path/filepath"
	"time"
)

// DefaultConfig returns the built-in configuration.
func DefaultConfig() *Config {
	return &Config{
		Scheduler: SchedulerConfig{
			InterTaskDelay:    500 * time.Millisecond,
			PollInterval:      500 * time.Millisecond,
			DeadlockPolls:     3,
			BackoffUnit:       time.Second,
			MaxBackoff:        5 * time.Minute,
			DefaultMaxRetries: 3,
			Breaker: BreakerConfig{
				Enabled:          true,
				FailureThreshold: 5,
				Cooldown:         30 * time.Second,
			},
		},
		Automation: AutomationConfig{
			CommentStyle: "friendly",
			DailyLimit:   20,
		},
		Profiles: map[string]Profile{},
		Driver: DriverConfig{
			Type:    "http",
			Timeout: 30 * time.Second,
		},
		History: HistoryConfig{
			Path: defaultHistoryPath(),
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

func defaultHistoryPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".taskpilot", "history.db")
	}
	return filepath.Join(home, ".taskpilot", "history.db")
}
