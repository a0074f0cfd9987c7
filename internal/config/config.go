// Package config loads grove configuration from files, environment
// variables and built-in defaults via viper. Precedence, lowest to
// highest: defaults, user config (XDG), project-local .grove.yaml,
// GROVE_* environment variables, command-line flags.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all grove settings.
type Config struct {
	// MaxParallel bounds the worker pool.
	MaxParallel int `mapstructure:"max_parallel"`
	// MaxAttempts is the per-task attempt budget.
	MaxAttempts int `mapstructure:"max_attempts"`
	// TaskTimeout is the per-attempt execution deadline.
	TaskTimeout time.Duration `mapstructure:"task_timeout"`
	// BackoffBase is the base retry delay.
	BackoffBase time.Duration `mapstructure:"backoff_base"`
	// BackoffCap caps the retry delay.
	BackoffCap time.Duration `mapstructure:"backoff_cap"`

	// BreakerWindow is the circuit breaker's sliding window size.
	BreakerWindow int `mapstructure:"breaker_window"`
	// BreakerRatio is the failure fraction that opens the breaker.
	BreakerRatio float64 `mapstructure:"breaker_ratio"`
	// BreakerCooldown is how long the breaker stays open.
	BreakerCooldown time.Duration `mapstructure:"breaker_cooldown"`

	// BaseRef is the git ref task workspaces start from.
	BaseRef string `mapstructure:"base_ref"`
	// WorkspaceDir is where task worktrees are created.
	WorkspaceDir string `mapstructure:"workspace_dir"`
	// CheckpointDir is where run checkpoints are written.
	CheckpointDir string `mapstructure:"checkpoint_dir"`
	// HistoryPath is the SQLite run-history database.
	HistoryPath string `mapstructure:"history_path"`

	// ExecutorCommand is the command invoked per task, first element is
	// the binary.
	ExecutorCommand []string `mapstructure:"executor_command"`

	// Debug enables the file-backed debug log.
	Debug bool `mapstructure:"debug"`
}

func setDefaults(v *viper.Viper, dataDir string) {
	v.SetDefault("max_parallel", 4)
	v.SetDefault("max_attempts", 3)
	v.SetDefault("task_timeout", 30*time.Minute)
	v.SetDefault("backoff_base", 2*time.Second)
	v.SetDefault("backoff_cap", 60*time.Second)
	v.SetDefault("breaker_window", 10)
	v.SetDefault("breaker_ratio", 0.5)
	v.SetDefault("breaker_cooldown", 30*time.Second)
	v.SetDefault("base_ref", "")
	v.SetDefault("workspace_dir", filepath.Join(dataDir, "workspaces"))
	v.SetDefault("checkpoint_dir", filepath.Join(dataDir, "checkpoints"))
	v.SetDefault("history_path", filepath.Join(dataDir, "history.db"))
	v.SetDefault("executor_command", []string{})
	v.SetDefault("debug", false)
}

// dataDir returns the grove data directory, respecting XDG.
func dataDir() string {
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, "grove")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".grove"
	}
	return filepath.Join(home, ".local", "share", "grove")
}

// Load reads configuration. cfgFile, when non-empty, names an explicit
// config file; otherwise the standard locations are searched.
func Load(cfgFile string) (*Config, error) {
	v := viper.New()
	setDefaults(v, dataDir())

	v.SetEnvPrefix("GROVE")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", cfgFile, err)
		}
	} else {
		v.SetConfigName(".grove")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if cfgDir, err := os.UserConfigDir(); err == nil {
			v.AddConfigPath(filepath.Join(cfgDir, "grove"))
		}
		if err := v.ReadInConfig(); err != nil {
			// Missing config is fine, defaults apply.
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects configurations the engine cannot run with.
func (c *Config) Validate() error {
	if c.MaxParallel < 1 {
		return fmt.Errorf("max_parallel must be at least 1, got %d", c.MaxParallel)
	}
	if c.MaxAttempts < 1 {
		return fmt.Errorf("max_attempts must be at least 1, got %d", c.MaxAttempts)
	}
	if c.TaskTimeout <= 0 {
		return fmt.Errorf("task_timeout must be positive, got %s", c.TaskTimeout)
	}
	if c.BreakerRatio <= 0 || c.BreakerRatio >= 1 {
		return fmt.Errorf("breaker_ratio must be in (0, 1), got %v", c.BreakerRatio)
	}
	return nil
}
