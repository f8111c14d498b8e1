// Package config provides configuration management for cmdsched.
// It uses koanf v2 to load configuration from a YAML file and supports
// writing a default configuration (cmdsched config init).
//
// Configuration is loaded from /etc/cmdsched/config.yaml by default. A
// missing file is not an error: every setting has a default, so cmdsched
// runs out of the box against the platform default commands file.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	goyaml "gopkg.in/yaml.v3"

	"github.com/doughall/cmdsched/internal/cmdspec"
	"github.com/doughall/cmdsched/internal/executor"
	"github.com/doughall/cmdsched/internal/logging"
)

// DefaultConfigPath is the default location for the configuration file.
const DefaultConfigPath = "/etc/cmdsched/config.yaml"

// Output modes for child process streams.
const (
	OutputInherit = "inherit"
	OutputDiscard = "discard"
)

// Config holds the settings loaded from the YAML config file.
// Fields are tagged for both koanf (loading) and yaml (saving).
type Config struct {
	// CommandsFile is the file of command specifications.
	// Default: /tmp/commands.txt (C:\tmp\commands.txt on Windows).
	CommandsFile string `koanf:"commands_file" yaml:"commands_file"`

	// LogLevel controls logging verbosity: "debug", "info", "warn", "error".
	// Default: "info".
	LogLevel string `koanf:"log_level" yaml:"log_level"`

	// LogFormat is "json" or "text". Default: "json".
	LogFormat string `koanf:"log_format" yaml:"log_format"`

	// PoolSize bounds how many commands run at the same time. Default: 10.
	PoolSize int `koanf:"pool_size" yaml:"pool_size"`

	// GracePeriod is how long (in seconds) running commands may take to
	// finish after a shutdown signal before they are killed. Default: 5.
	GracePeriod int `koanf:"grace_period" yaml:"grace_period"`

	// Shell overrides the command interpreter (must be allowlisted).
	// Default: sh, or cmd.exe on Windows.
	Shell string `koanf:"shell" yaml:"shell,omitempty"`

	// CommandTimeout kills a command after this many seconds. 0 disables.
	CommandTimeout int `koanf:"command_timeout" yaml:"command_timeout"`

	// Output is "inherit" (child output goes to our stdout/stderr) or "discard".
	// Default: "inherit".
	Output string `koanf:"output" yaml:"output"`

	// Watch reloads the schedule when the commands file changes.
	Watch bool `koanf:"watch" yaml:"watch"`

	// HistoryPath is the execution journal database. Empty disables history.
	HistoryPath string `koanf:"history_path" yaml:"history_path,omitempty"`

	// HistoryKeep is the maximum number of journal records kept. Default: 1000.
	HistoryKeep int `koanf:"history_keep" yaml:"history_keep"`
}

// Validation errors returned by Load.
var (
	ErrInvalidPoolSize    = errors.New("pool_size must be positive")
	ErrInvalidGracePeriod = errors.New("grace_period must be positive")
	ErrInvalidTimeout     = errors.New("command_timeout must not be negative")
	ErrInvalidLogLevel    = errors.New("log_level must be one of debug, info, warn, error")
	ErrInvalidLogFormat   = errors.New("log_format must be json or text")
	ErrInvalidOutput      = errors.New("output must be inherit or discard")
	ErrInvalidShell       = errors.New("shell is not an allowed interpreter")
	ErrInvalidHistoryKeep = errors.New("history_keep must be positive")
)

// Default returns a Config with every default applied.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// Load reads configuration from the YAML file at path, applies defaults and
// validates the result. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if _, err := os.Stat(path); err == nil {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config from %s: %w", path, err)
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to stat config %s: %w", path, err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// applyDefaults sets default values for optional configuration fields.
func (c *Config) applyDefaults() {
	if c.CommandsFile == "" {
		c.CommandsFile = cmdspec.DefaultPath()
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.LogFormat == "" {
		c.LogFormat = logging.FormatJSON
	}
	if c.PoolSize == 0 {
		c.PoolSize = 10
	}
	if c.GracePeriod == 0 {
		c.GracePeriod = 5
	}
	if c.Output == "" {
		c.Output = OutputInherit
	}
	if c.HistoryKeep == 0 {
		c.HistoryKeep = 1000
	}
}

// validate checks that configuration values are usable.
func (c *Config) validate() error {
	if c.PoolSize < 0 {
		return ErrInvalidPoolSize
	}
	if c.GracePeriod < 0 {
		return ErrInvalidGracePeriod
	}
	if c.CommandTimeout < 0 {
		return ErrInvalidTimeout
	}
	if !logging.ValidLevel(c.LogLevel) {
		return ErrInvalidLogLevel
	}
	switch strings.ToLower(c.LogFormat) {
	case logging.FormatJSON, logging.FormatText:
	default:
		return ErrInvalidLogFormat
	}
	if c.Output != OutputInherit && c.Output != OutputDiscard {
		return ErrInvalidOutput
	}
	if c.Shell != "" && !executor.IsValidShell(c.Shell) {
		return fmt.Errorf("%w: %q", ErrInvalidShell, c.Shell)
	}
	if c.HistoryKeep < 0 {
		return ErrInvalidHistoryKeep
	}
	return nil
}

// Save writes the configuration to the YAML file at path, creating the
// parent directory if needed.
func Save(path string, cfg *Config) error {
	data, err := goyaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config to %s: %w", path, err)
	}

	return nil
}

// GraceDuration returns GracePeriod as a time.Duration.
func (c *Config) GraceDuration() time.Duration {
	return time.Duration(c.GracePeriod) * time.Second
}

// TimeoutDuration returns CommandTimeout as a time.Duration (0 = none).
func (c *Config) TimeoutDuration() time.Duration {
	return time.Duration(c.CommandTimeout) * time.Second
}

// HistoryEnabled reports whether the execution journal is configured.
func (c *Config) HistoryEnabled() bool {
	return c.HistoryPath != ""
}
