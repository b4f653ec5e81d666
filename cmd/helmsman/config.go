package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/helmsman-dev/helmsman/internal/config"
	"github.com/spf13/cobra"
)

var configCmd = &cobra.Command{
	Use:   "config [key] [value]",
	Short: "Manage configuration",
	Long: `View or modify Helmsman configuration.

Without arguments, displays current configuration.
With one argument (key), displays the value for that key.
With two arguments (key value), sets the configuration value.

Configuration is stored at ~/.config/helmsman/config.yaml
Project-specific overrides can be placed in .helmsman/config.yaml`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := config.Load()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
			os.Exit(1)
		}

		switch len(args) {
		case 0:
			displayAllConfig(cfg)
		case 1:
			displayConfigKey(cfg, args[0])
		default:
			setConfigKey(cfg, args[0], args[1])
		}
	},
}

// displayAllConfig prints all configuration values.
func displayAllConfig(cfg *config.Config) {
	fmt.Printf("anthropic.api_key: %s\n", config.MaskAPIKey(cfg.Anthropic.APIKey))
	fmt.Printf("defaults.max_iterations: %d\n", cfg.Defaults.MaxIterations)
	fmt.Printf("defaults.auto_checkpoint: %t\n", cfg.Defaults.AutoCheckpoint)
	fmt.Printf("defaults.recovery_enabled: %t\n", cfg.Defaults.RecoveryEnabled)
	fmt.Printf("timeouts.task: %s\n", cfg.Timeouts.Task)
	fmt.Printf("timeouts.validation: %s\n", cfg.Timeouts.Validation)
	fmt.Printf("timeouts.session: %s\n", cfg.Timeouts.Session)
	fmt.Printf("retry.base_delay: %s\n", cfg.Retry.BaseDelay)
	fmt.Printf("retry.backoff_base: %g\n", cfg.Retry.BackoffBase)
	fmt.Printf("retry.max_delay: %s\n", cfg.Retry.MaxDelay)
	fmt.Printf("retry.max_retries: %d\n", cfg.Retry.MaxRetries)
	fmt.Printf("executor.chain: %s\n", strings.Join(cfg.Executor.Chain, ", "))
	fmt.Printf("executor.model: %s\n", cfg.Executor.Model)
	fmt.Printf("executor.use_bedrock: %t\n", cfg.Executor.UseBedrock)
	fmt.Printf("validation.test_command: %s\n", cfg.Validation.TestCommand)
}

// displayConfigKey prints a single configuration value.
func displayConfigKey(cfg *config.Config, key string) {
	value, err := getConfigValue(cfg, key)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(value)
}

// setConfigKey sets a configuration value and saves the config.
func setConfigKey(cfg *config.Config, key, value string) {
	if err := setConfigValue(cfg, key, value); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	if err := config.Save(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Error saving config: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Set %s = %s\n", key, value)
}

// getConfigValue retrieves a configuration value by dot-notation key.
func getConfigValue(cfg *config.Config, key string) (string, error) {
	switch strings.ToLower(key) {
	case "anthropic.api_key":
		return config.MaskAPIKey(cfg.Anthropic.APIKey), nil
	case "defaults.max_iterations":
		return strconv.Itoa(cfg.Defaults.MaxIterations), nil
	case "defaults.auto_checkpoint":
		return strconv.FormatBool(cfg.Defaults.AutoCheckpoint), nil
	case "defaults.recovery_enabled":
		return strconv.FormatBool(cfg.Defaults.RecoveryEnabled), nil
	case "timeouts.task":
		return cfg.Timeouts.Task.String(), nil
	case "timeouts.validation":
		return cfg.Timeouts.Validation.String(), nil
	case "timeouts.session":
		return cfg.Timeouts.Session.String(), nil
	case "retry.base_delay":
		return cfg.Retry.BaseDelay.String(), nil
	case "retry.backoff_base":
		return strconv.FormatFloat(cfg.Retry.BackoffBase, 'g', -1, 64), nil
	case "retry.max_delay":
		return cfg.Retry.MaxDelay.String(), nil
	case "retry.max_retries":
		return strconv.Itoa(cfg.Retry.MaxRetries), nil
	case "executor.chain":
		return strings.Join(cfg.Executor.Chain, ", "), nil
	case "executor.model":
		return cfg.Executor.Model, nil
	case "executor.use_bedrock":
		return strconv.FormatBool(cfg.Executor.UseBedrock), nil
	case "executor.bedrock_region":
		return cfg.Executor.BedrockRegion, nil
	case "validation.test_command":
		return cfg.Validation.TestCommand, nil
	default:
		return "", fmt.Errorf("unknown configuration key: %s", key)
	}
}

// setConfigValue sets a configuration value by dot-notation key.
func setConfigValue(cfg *config.Config, key, value string) error {
	switch strings.ToLower(key) {
	case "anthropic.api_key":
		cfg.Anthropic.APIKey = value
	case "defaults.max_iterations":
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid value for max_iterations: %w", err)
		}
		cfg.Defaults.MaxIterations = n
	case "defaults.auto_checkpoint":
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("invalid boolean for auto_checkpoint: %w", err)
		}
		cfg.Defaults.AutoCheckpoint = b
	case "defaults.recovery_enabled":
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("invalid boolean for recovery_enabled: %w", err)
		}
		cfg.Defaults.RecoveryEnabled = b
	case "timeouts.task":
		d, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("invalid duration for timeouts.task: %w", err)
		}
		cfg.Timeouts.Task = d
	case "timeouts.validation":
		d, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("invalid duration for timeouts.validation: %w", err)
		}
		cfg.Timeouts.Validation = d
	case "timeouts.session":
		d, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("invalid duration for timeouts.session: %w", err)
		}
		cfg.Timeouts.Session = d
	case "retry.base_delay":
		d, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("invalid duration for retry.base_delay: %w", err)
		}
		cfg.Retry.BaseDelay = d
	case "retry.backoff_base":
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return fmt.Errorf("invalid number for retry.backoff_base: %w", err)
		}
		cfg.Retry.BackoffBase = f
	case "retry.max_delay":
		d, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("invalid duration for retry.max_delay: %w", err)
		}
		cfg.Retry.MaxDelay = d
	case "retry.max_retries":
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid value for max_retries: %w", err)
		}
		cfg.Retry.MaxRetries = n
	case "executor.chain":
		var chain []string
		for _, name := range strings.Split(value, ",") {
			if name = strings.TrimSpace(name); name != "" {
				chain = append(chain, name)
			}
		}
		cfg.Executor.Chain = chain
	case "executor.model":
		cfg.Executor.Model = value
	case "executor.use_bedrock":
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("invalid boolean for use_bedrock: %w", err)
		}
		cfg.Executor.UseBedrock = b
	case "executor.bedrock_region":
		cfg.Executor.BedrockRegion = value
	case "validation.test_command":
		cfg.Validation.TestCommand = value
	default:
		return fmt.Errorf("unknown configuration key: %s", key)
	}
	return nil
}
