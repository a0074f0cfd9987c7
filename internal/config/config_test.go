package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func chdir(t *testing.T, dir string) {
	t.Helper()
	old, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.Chdir(old) })
}

func TestLoadDefaults(t *testing.T) {
	chdir(t, t.TempDir())

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.MaxParallel != 4 {
		t.Errorf("max_parallel = %d, want 4", cfg.MaxParallel)
	}
	if cfg.MaxAttempts != 3 {
		t.Errorf("max_attempts = %d, want 3", cfg.MaxAttempts)
	}
	if cfg.BackoffBase != 2*time.Second || cfg.BackoffCap != 60*time.Second {
		t.Errorf("backoff = %s/%s", cfg.BackoffBase, cfg.BackoffCap)
	}
	if cfg.BreakerWindow != 10 || cfg.BreakerRatio != 0.5 {
		t.Errorf("breaker = %d/%v", cfg.BreakerWindow, cfg.BreakerRatio)
	}
}

func TestLoadProjectFile(t *testing.T) {
	dir := t.TempDir()
	content := []byte("max_parallel: 8\ntask_timeout: 5m\nexecutor_command: [\"make\", \"task\"]\n")
	if err := os.WriteFile(filepath.Join(dir, ".grove.yaml"), content, 0644); err != nil {
		t.Fatal(err)
	}
	chdir(t, dir)

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.MaxParallel != 8 {
		t.Errorf("max_parallel = %d, want 8", cfg.MaxParallel)
	}
	if cfg.TaskTimeout != 5*time.Minute {
		t.Errorf("task_timeout = %s, want 5m", cfg.TaskTimeout)
	}
	if len(cfg.ExecutorCommand) != 2 || cfg.ExecutorCommand[0] != "make" {
		t.Errorf("executor_command = %v", cfg.ExecutorCommand)
	}
	// Untouched keys keep their defaults.
	if cfg.MaxAttempts != 3 {
		t.Errorf("max_attempts = %d, want default 3", cfg.MaxAttempts)
	}
}

func TestLoadEnvOverride(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("GROVE_MAX_PARALLEL", "2")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.MaxParallel != 2 {
		t.Errorf("max_parallel = %d, want env override 2", cfg.MaxParallel)
	}
}

func TestLoadExplicitFileMissing(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "no-such.yaml")); err == nil {
		t.Fatal("expected error for missing explicit config file")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero parallel", func(c *Config) { c.MaxParallel = 0 }},
		{"zero attempts", func(c *Config) { c.MaxAttempts = 0 }},
		{"zero timeout", func(c *Config) { c.TaskTimeout = 0 }},
		{"ratio too high", func(c *Config) { c.BreakerRatio = 1.5 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{
				MaxParallel:  4,
				MaxAttempts:  3,
				TaskTimeout:  time.Minute,
				BreakerRatio: 0.5,
			}
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}
