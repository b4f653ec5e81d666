// Package config handles configuration loading and management for Helmsman.
// It supports XDG config paths, project-level overrides, and environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for Helmsman.
type Config struct {
	Anthropic  AnthropicConfig  `mapstructure:"anthropic"`
	Defaults   DefaultsConfig   `mapstructure:"defaults"`
	Timeouts   TimeoutsConfig   `mapstructure:"timeouts"`
	Retry      RetryConfig      `mapstructure:"retry"`
	Executor   ExecutorConfig   `mapstructure:"executor"`
	Validation ValidationConfig `mapstructure:"validation"`
}

// AnthropicConfig holds Anthropic API settings.
type AnthropicConfig struct {
	APIKey string `mapstructure:"api_key"`
}

// DefaultsConfig holds default values for Helmsman sessions.
type DefaultsConfig struct {
	MaxIterations   int  `mapstructure:"max_iterations"`
	AutoCheckpoint  bool `mapstructure:"auto_checkpoint"`
	RecoveryEnabled bool `mapstructure:"recovery_enabled"`
}

// TimeoutsConfig holds timeout settings per workload.
type TimeoutsConfig struct {
	Task       time.Duration `mapstructure:"task"`
	Validation time.Duration `mapstructure:"validation"`
	Session    time.Duration `mapstructure:"session"`
}

// RetryConfig holds the backoff schedule for transient-failure recovery.
type RetryConfig struct {
	// BaseDelay is the delay applied on the second attempt.
	BaseDelay time.Duration `mapstructure:"base_delay"`
	// BackoffBase is the exponential growth factor.
	BackoffBase float64 `mapstructure:"backoff_base"`
	// MaxDelay caps the computed delay.
	MaxDelay time.Duration `mapstructure:"max_delay"`
	// MaxRetries bounds attempts before escalation.
	MaxRetries int `mapstructure:"max_retries"`
}

// ExecutorConfig holds executor selection settings.
type ExecutorConfig struct {
	// Chain is the ordered fallback chain of executor names.
	Chain []string `mapstructure:"chain"`
	// Model is the model identifier handed to API executors.
	Model string `mapstructure:"model"`
	// UseBedrock routes API calls through AWS Bedrock instead of the
	// Anthropic API directly.
	UseBedrock bool `mapstructure:"use_bedrock"`
	// BedrockRegion overrides the AWS region for Bedrock calls.
	BedrockRegion string `mapstructure:"bedrock_region"`
}

// ValidationConfig holds checkpoint validation settings.
type ValidationConfig struct {
	// TestCommand runs during state validation. Empty disables the
	// best-effort test check.
	TestCommand string `mapstructure:"test_command"`
}

// Load loads configuration from XDG paths, project overrides, and environment variables.
// Precedence (highest to lowest):
// 1. Environment variables (HELMSMAN_*, ANTHROPIC_API_KEY)
// 2. Project config (.helmsman/config.yaml in current directory or parent)
// 3. User config (~/.config/helmsman/config.yaml)
// 4. Built-in defaults
func Load() (*Config, error) {
	v := viper.New()

	setDefaults(v)

	userConfigDir := getUserConfigDir()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(userConfigDir)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading user config: %w", err)
		}
	}

	// Load project config if present
	projectConfig := findProjectConfig()
	if projectConfig != "" {
		projectViper := viper.New()
		projectViper.SetConfigFile(projectConfig)
		if err := projectViper.ReadInConfig(); err == nil {
			// Merge project config (takes precedence)
			if err := v.MergeConfigMap(projectViper.AllSettings()); err != nil {
				return nil, fmt.Errorf("merging project config: %w", err)
			}
		}
	}

	// Environment variable overrides
	v.SetEnvPrefix("HELMSMAN")
	v.AutomaticEnv()

	// Map specific environment variables
	v.BindEnv("anthropic.api_key", "ANTHROPIC_API_KEY")
	v.BindEnv("defaults.max_iterations", "HELMSMAN_MAX_ITERATIONS")
	v.BindEnv("executor.model", "HELMSMAN_MODEL")
	v.BindEnv("executor.use_bedrock", "HELMSMAN_USE_BEDROCK")

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	// Expand ${VAR} references
	cfg.Anthropic.APIKey = expandEnv(cfg.Anthropic.APIKey)

	return cfg, nil
}

// LoadFromPath loads configuration from a specific path (for testing).
func LoadFromPath(path string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	cfg.Anthropic.APIKey = expandEnv(cfg.Anthropic.APIKey)

	return cfg, nil
}

// Save writes the current configuration to the user config file.
func Save(cfg *Config) error {
	userConfigDir := getUserConfigDir()
	if err := os.MkdirAll(userConfigDir, 0700); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	configPath := filepath.Join(userConfigDir, "config.yaml")

	v := viper.New()
	v.SetConfigFile(configPath)

	v.Set("anthropic.api_key", cfg.Anthropic.APIKey)
	v.Set("defaults.max_iterations", cfg.Defaults.MaxIterations)
	v.Set("defaults.auto_checkpoint", cfg.Defaults.AutoCheckpoint)
	v.Set("defaults.recovery_enabled", cfg.Defaults.RecoveryEnabled)
	v.Set("timeouts.task", cfg.Timeouts.Task.String())
	v.Set("timeouts.validation", cfg.Timeouts.Validation.String())
	v.Set("timeouts.session", cfg.Timeouts.Session.String())
	v.Set("retry.base_delay", cfg.Retry.BaseDelay.String())
	v.Set("retry.backoff_base", cfg.Retry.BackoffBase)
	v.Set("retry.max_delay", cfg.Retry.MaxDelay.String())
	v.Set("retry.max_retries", cfg.Retry.MaxRetries)
	v.Set("executor.chain", cfg.Executor.Chain)
	v.Set("executor.model", cfg.Executor.Model)
	v.Set("executor.use_bedrock", cfg.Executor.UseBedrock)
	v.Set("executor.bedrock_region", cfg.Executor.BedrockRegion)
	v.Set("validation.test_command", cfg.Validation.TestCommand)

	return v.WriteConfig()
}

// GetUserConfigPath returns the path to the user config file.
func GetUserConfigPath() string {
	return filepath.Join(getUserConfigDir(), "config.yaml")
}

// GetProjectConfigPath returns the path to the project config file if it exists.
func GetProjectConfigPath() string {
	return findProjectConfig()
}

// setDefaults configures default values.
func setDefaults(v *viper.Viper) {
	v.SetDefault("anthropic.api_key", "")

	// Session defaults
	v.SetDefault("defaults.max_iterations", 10)
	v.SetDefault("defaults.auto_checkpoint", true)
	v.SetDefault("defaults.recovery_enabled", true)

	// Timeout defaults
	v.SetDefault("timeouts.task", "15m")
	v.SetDefault("timeouts.validation", "10m")
	v.SetDefault("timeouts.session", "4h")

	// Retry defaults
	v.SetDefault("retry.base_delay", "1s")
	v.SetDefault("retry.backoff_base", 2.0)
	v.SetDefault("retry.max_delay", "60s")
	v.SetDefault("retry.max_retries", 3)

	// Executor defaults
	v.SetDefault("executor.chain", []string{"claude", "api"})
	v.SetDefault("executor.model", "claude-sonnet-4-5")
	v.SetDefault("executor.use_bedrock", false)
	v.SetDefault("executor.bedrock_region", "")

	// Validation defaults
	v.SetDefault("validation.test_command", "")
}

// getUserConfigDir returns the XDG config directory for Helmsman.
func getUserConfigDir() string {
	// Check XDG_CONFIG_HOME first
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "helmsman")
	}

	// Fall back to ~/.config/helmsman
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".config", "helmsman")
	}
	return filepath.Join(home, ".config", "helmsman")
}

// findProjectConfig searches for .helmsman/config.yaml in the current
// directory and parents.
func findProjectConfig() string {
	cwd, err := os.Getwd()
	if err != nil {
		return ""
	}

	for {
		configPath := filepath.Join(cwd, ".helmsman", "config.yaml")
		if _, err := os.Stat(configPath); err == nil {
			return configPath
		}

		parent := filepath.Dir(cwd)
		if parent == cwd {
			break
		}
		cwd = parent
	}

	return ""
}

// expandEnv expands ${VAR} references in a string.
func expandEnv(s string) string {
	return os.ExpandEnv(s)
}

// Default returns a Config with default values.
func Default() *Config {
	return &Config{
		Defaults: DefaultsConfig{
			MaxIterations:   10,
			AutoCheckpoint:  true,
			RecoveryEnabled: true,
		},
		Timeouts: TimeoutsConfig{
			Task:       15 * time.Minute,
			Validation: 10 * time.Minute,
			Session:    4 * time.Hour,
		},
		Retry: RetryConfig{
			BaseDelay:   time.Second,
			BackoffBase: 2.0,
			MaxDelay:    60 * time.Second,
			MaxRetries:  3,
		},
		Executor: ExecutorConfig{
			Chain: []string{"claude", "api"},
			Model: "claude-sonnet-4-5",
		},
	}
}
