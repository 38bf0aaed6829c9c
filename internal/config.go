package internal

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

const defaultBlurIterations = 1

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() Configuration {
	pamService := "system-auth"
	if _, err := os.Stat("/etc/pam.d/frostlock"); err == nil {
		pamService = "frostlock"
	}

	return Configuration{
		BackgroundColor: "000000",
		LiveCapture:     true,
		Blur: BlurConfig{
			Iterations: defaultBlurIterations,
			Radius:     0,
			Sigma:      0,
		},
		IdleTimeout: 600,
		PamService:  pamService,
		DebugExit:   false, // Disabled by default for security
	}
}

// DefaultConfigPath returns ~/.config/frostlock/config.json
func DefaultConfigPath() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user home directory: %w", err)
	}
	return filepath.Join(homeDir, ".config", "frostlock", "config.json"), nil
}

// LoadConfig loads configuration from the specified file path
func LoadConfig(path string, config *Configuration) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := json.Unmarshal(data, config); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := validateConfig(config); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	return nil
}

// SaveConfig saves the current configuration to the specified file path
func SaveConfig(path string, config Configuration) error {
	if err := validateConfig(&config); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	data, err := json.MarshalIndent(config, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config to JSON: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// validateConfig checks if the configuration is valid
func validateConfig(config *Configuration) error {
	if _, err := ParseHexColor(config.BackgroundColor); err != nil {
		return err
	}

	if config.ImagePath != "" {
		if _, err := os.Stat(config.ImagePath); err != nil {
			return fmt.Errorf("error accessing background image: %w", err)
		}
	}

	if !config.LiveCapture && config.ImagePath == "" {
		Debug("Live capture disabled and no image set, background will be a flat color")
	}

	if config.Blur.Iterations < 1 {
		return fmt.Errorf("blur iterations must be at least 1, got %d", config.Blur.Iterations)
	}
	if config.Blur.Radius < 0 || config.Blur.Sigma < 0 {
		return fmt.Errorf("blur radius and sigma must not be negative")
	}

	if config.IdleTimeout <= 0 {
		return fmt.Errorf("idle timeout must be positive")
	}

	return nil
}

// GenerateDefaultConfigFile creates a default configuration file if it doesn't exist
func GenerateDefaultConfigFile() (string, error) {
	configPath, err := DefaultConfigPath()
	if err != nil {
		return "", err
	}

	if _, err := os.Stat(configPath); err == nil {
		return configPath, nil
	}

	if err := SaveConfig(configPath, DefaultConfig()); err != nil {
		return "", fmt.Errorf("failed to save default config: %w", err)
	}

	return configPath, nil
}
