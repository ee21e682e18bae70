package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes environment overrides, e.g. TASKPILOT_SCHEDULER_DEADLOCK_POLLS.
const EnvPrefix = "TASKPILOT"

// Load reads and merges configuration from global and project paths.
// Order of precedence (highest to lowest): environment, project config,
// global config, defaults. Missing files are not errors; malformed files are.
func Load(globalPath, projectPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	defaults, err := yaml.Marshal(DefaultConfig())
	if err != nil {
		return nil, fmt.Errorf("encoding defaults: %w", err)
	}
	if err := v.ReadConfig(bytes.NewReader(defaults)); err != nil {
		return nil, fmt.Errorf("reading defaults: %w", err)
	}

	if err := mergeConfigFile(v, globalPath); err != nil {
		return nil, fmt.Errorf("loading global config: %w", err)
	}
	if err := mergeConfigFile(v, projectPath); err != nil {
		return nil, fmt.Errorf("loading project config: %w", err)
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}
	if cfg.Profiles == nil {
		cfg.Profiles = map[string]Profile{}
	}
	return cfg, nil
}

// LoadDefault loads configuration from conventional paths.
// Global: ~/.taskpilot/config.yaml
// Project: .taskpilot/config.yaml (relative to cwd)
func LoadDefault() (*Config, error) {
	global, err := GlobalPath()
	if err != nil {
		return nil, err
	}
	return Load(global, ProjectPath())
}

// GlobalPath is the per-user config location.
func GlobalPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("getting home directory: %w", err)
	}
	return filepath.Join(home, ".taskpilot", "config.yaml"), nil
}

// ProjectPath is the per-directory config location.
func ProjectPath() string {
	return filepath.Join(".taskpilot", "config.yaml")
}

// mergeConfigFile merges a YAML or JSON file into v. Missing files are skipped.
func mergeConfigFile(v *viper.Viper, path string) error {
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		v.SetConfigType("json")
	default:
		v.SetConfigType("yaml")
	}
	v.SetConfigFile(path)
	if err := v.MergeInConfig(); err != nil {
		return fmt.Errorf("parsing %s: %w", path, err)
	}
	return nil
}

// Value returns a single setting addressed by section and key, mirroring the
// on-disk layout (e.g. "automation", "comment_style"). An empty section
// addresses top-level keys.
func (c *Config) Value(section, key string) (any, bool) {
	tree, err := c.tree()
	if err != nil {
		return nil, false
	}
	if section == "" {
		v, ok := tree[key]
		return v, ok
	}
	sec, ok := tree[section].(map[string]any)
	if !ok {
		return nil, false
	}
	v, ok := sec[key]
	return v, ok
}

// tree renders the config as the generic map written to disk.
func (c *Config) tree() (map[string]any, error) {
	data, err := yaml.Marshal(c)
	if err != nil {
		return nil, err
	}
	var tree map[string]any
	if err := yaml.Unmarshal(data, &tree); err != nil {
		return nil, err
	}
	return tree, nil
}

// Profile returns the currently selected credential profile.
func (c *Config) Profile() (Profile, bool) {
	if c.CurrentProfile == "" {
		return Profile{}, false
	}
	if p, ok := c.Profiles[c.CurrentProfile]; ok {
		return p, true
	}
	// Viper lowercases map keys on load.
	p, ok := c.Profiles[strings.ToLower(c.CurrentProfile)]
	return p, ok
}
