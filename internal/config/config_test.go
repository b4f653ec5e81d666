package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Defaults.MaxIterations != 10 {
		t.Errorf("expected default max_iterations 10, got %d", cfg.Defaults.MaxIterations)
	}

	if !cfg.Defaults.AutoCheckpoint {
		t.Error("expected defaults.auto_checkpoint to be true")
	}

	if !cfg.Defaults.RecoveryEnabled {
		t.Error("expected defaults.recovery_enabled to be true")
	}

	if cfg.Timeouts.Task != 15*time.Minute {
		t.Errorf("expected task timeout 15m, got %v", cfg.Timeouts.Task)
	}

	if cfg.Retry.BaseDelay != time.Second {
		t.Errorf("expected retry base delay 1s, got %v", cfg.Retry.BaseDelay)
	}

	if cfg.Retry.BackoffBase != 2.0 {
		t.Errorf("expected backoff base 2.0, got %v", cfg.Retry.BackoffBase)
	}

	if cfg.Retry.MaxDelay != 60*time.Second {
		t.Errorf("expected retry max delay 60s, got %v", cfg.Retry.MaxDelay)
	}

	if cfg.Retry.MaxRetries != 3 {
		t.Errorf("expected max retries 3, got %d", cfg.Retry.MaxRetries)
	}

	if len(cfg.Executor.Chain) != 2 || cfg.Executor.Chain[0] != "claude" {
		t.Errorf("expected executor chain [claude api], got %v", cfg.Executor.Chain)
	}
}

func TestLoadFromPath(t *testing.T) {
	// Create a temporary config file
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `
anthropic:
  api_key: test-key
defaults:
  max_iterations: 25
  auto_checkpoint: false
  recovery_enabled: true
timeouts:
  task: 20m
  validation: 5m
  session: 8h
retry:
  base_delay: 2s
  backoff_base: 3.0
  max_delay: 90s
  max_retries: 5
executor:
  chain: [api]
  model: claude-opus-4
  use_bedrock: true
  bedrock_region: us-west-2
validation:
  test_command: "go test ./..."
`
	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}

	cfg, err := LoadFromPath(configPath)
	if err != nil {
		t.Fatalf("LoadFromPath failed: %v", err)
	}

	if cfg.Anthropic.APIKey != "test-key" {
		t.Errorf("expected api_key 'test-key', got %q", cfg.Anthropic.APIKey)
	}

	if cfg.Defaults.MaxIterations != 25 {
		t.Errorf("expected max_iterations 25, got %d", cfg.Defaults.MaxIterations)
	}

	if cfg.Defaults.AutoCheckpoint {
		t.Error("expected auto_checkpoint to be false")
	}

	if cfg.Timeouts.Task != 20*time.Minute {
		t.Errorf("expected task timeout 20m, got %v", cfg.Timeouts.Task)
	}

	if cfg.Retry.BaseDelay != 2*time.Second {
		t.Errorf("expected base delay 2s, got %v", cfg.Retry.BaseDelay)
	}

	if cfg.Retry.MaxRetries != 5 {
		t.Errorf("expected max retries 5, got %d", cfg.Retry.MaxRetries)
	}

	if len(cfg.Executor.Chain) != 1 || cfg.Executor.Chain[0] != "api" {
		t.Errorf("expected executor chain [api], got %v", cfg.Executor.Chain)
	}

	if !cfg.Executor.UseBedrock {
		t.Error("expected use_bedrock to be true")
	}

	if cfg.Executor.BedrockRegion != "us-west-2" {
		t.Errorf("expected bedrock_region us-west-2, got %q", cfg.Executor.BedrockRegion)
	}

	if cfg.Validation.TestCommand != "go test ./..." {
		t.Errorf("expected test_command 'go test ./...', got %q", cfg.Validation.TestCommand)
	}
}

func TestLoadFromPathKeepsDefaults(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	// Partial config: everything unset falls back to defaults.
	configContent := `
defaults:
  max_iterations: 3
`
	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}

	cfg, err := LoadFromPath(configPath)
	if err != nil {
		t.Fatalf("LoadFromPath failed: %v", err)
	}

	if cfg.Defaults.MaxIterations != 3 {
		t.Errorf("expected max_iterations 3, got %d", cfg.Defaults.MaxIterations)
	}
	if cfg.Retry.MaxRetries != 3 {
		t.Errorf("expected default max retries 3, got %d", cfg.Retry.MaxRetries)
	}
	if cfg.Retry.MaxDelay != 60*time.Second {
		t.Errorf("expected default max delay 60s, got %v", cfg.Retry.MaxDelay)
	}
}

func TestExpandEnv(t *testing.T) {
	// Set environment variable
	os.Setenv("TEST_VAR", "expanded-value")
	defer os.Unsetenv("TEST_VAR")

	result := expandEnv("${TEST_VAR}")
	if result != "expanded-value" {
		t.Errorf("expected 'expanded-value', got %q", result)
	}

	result = expandEnv("prefix-${TEST_VAR}-suffix")
	if result != "prefix-expanded-value-suffix" {
		t.Errorf("expected 'prefix-expanded-value-suffix', got %q", result)
	}
}

func TestGetUserConfigDir(t *testing.T) {
	// Test with XDG_CONFIG_HOME set
	os.Setenv("XDG_CONFIG_HOME", "/custom/config")
	defer os.Unsetenv("XDG_CONFIG_HOME")

	dir := getUserConfigDir()
	expected := "/custom/config/helmsman"
	if dir != expected {
		t.Errorf("expected %q, got %q", expected, dir)
	}
}
