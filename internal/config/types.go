package config

import "time"

// SchedulerConfig controls pacing, deadlock confirmation and retry policy.
type SchedulerConfig struct {
	InterTaskDelay    time.Duration `yaml:"inter_task_delay" mapstructure:"inter_task_delay"`
	PollInterval      time.Duration `yaml:"poll_interval" mapstructure:"poll_interval"`
	DeadlockPolls     int           `yaml:"deadlock_polls" mapstructure:"deadlock_polls"`
	BackoffUnit       time.Duration `yaml:"backoff_unit" mapstructure:"backoff_unit"`
	MaxBackoff        time.Duration `yaml:"max_backoff" mapstructure:"max_backoff"`
	DefaultMaxRetries int           `yaml:"default_max_retries" mapstructure:"default_max_retries"`
	Breaker           BreakerConfig `yaml:"breaker" mapstructure:"breaker"`
}

// BreakerConfig configures the per-kind circuit breakers.
type BreakerConfig struct {
	Enabled          bool          `yaml:"enabled" mapstructure:"enabled"`
	FailureThreshold int           `yaml:"failure_threshold" mapstructure:"failure_threshold"` // consecutive failed tasks before opening
	Cooldown         time.Duration `yaml:"cooldown" mapstructure:"cooldown"`                   // time spent open before a trial task
}

// AutomationConfig holds operational defaults pulled by kind hooks.
type AutomationConfig struct {
	CommentStyle string `yaml:"comment_style" mapstructure:"comment_style"`
	DailyLimit   int    `yaml:"daily_limit" mapstructure:"daily_limit"`
	LoginURL     string `yaml:"login_url" mapstructure:"login_url"`
	FeedURL      string `yaml:"feed_url" mapstructure:"feed_url"`
}

// Profile is a stored credential set. Password holds an encrypted token.
type Profile struct {
	Username string `yaml:"username" mapstructure:"username"`
	Password string `yaml:"password" mapstructure:"password"`
}

// DriverConfig selects the executor handle.
type DriverConfig struct {
	Type      string        `yaml:"type" mapstructure:"type"` // "http" or "process"
	Command   string        `yaml:"command,omitempty" mapstructure:"command"`
	Args      []string      `yaml:"args,omitempty" mapstructure:"args"`
	Timeout   time.Duration `yaml:"timeout" mapstructure:"timeout"`
	UserAgent string        `yaml:"user_agent,omitempty" mapstructure:"user_agent"`
}

// HistoryConfig locates the run history database.
type HistoryConfig struct {
	Path string `yaml:"path" mapstructure:"path"`
}

// LogConfig controls the slog handler.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`   // debug, info, warn, error
	Format string `yaml:"format" mapstructure:"format"` // json or text
}

// MetricsConfig controls the metrics and control endpoint.
type MetricsConfig struct {
	Addr string `yaml:"addr" mapstructure:"addr"` // empty disables the server
}

// Config is the top-level configuration.
type Config struct {
	Scheduler      SchedulerConfig    `yaml:"scheduler" mapstructure:"scheduler"`
	Automation     AutomationConfig   `yaml:"automation" mapstructure:"automation"`
	Profiles       map[string]Profile `yaml:"profiles" mapstructure:"profiles"`
	CurrentProfile string             `yaml:"current_profile" mapstructure:"current_profile"`
	Driver         DriverConfig       `yaml:"driver" mapstructure:"driver"`
	History        HistoryConfig      `yaml:"history" mapstructure:"history"`
	Log            LogConfig          `yaml:"log" mapstructure:"log"`
	Metrics        MetricsConfig      `yaml:"metrics" mapstructure:"metrics"`
}
