package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Default values for Config.
const (
	DefaultControllerURL       = "ws://127.0.0.1:7733/sync"
	DefaultAnimationSeconds    = 2.0
	DefaultTickMillis          = 100
	DefaultSettleMillis        = 300
	DefaultRecencyMinutes      = 5.0
	DefaultStalenessHours      = 6.0
	DefaultReconnectSeconds    = 5.0
	DefaultNotificationSeconds = 30.0
)

// EnvAuthToken overrides controller.auth_token when set.
const EnvAuthToken = "PREFILL_AUTH_TOKEN"

// DefaultConfig returns a Config with sensible default values.
func DefaultConfig() Config {
	return Config{
		Controller: Controller{
			URL: DefaultControllerURL,
		},
		Pacing: Pacing{
			AnimationSeconds: DefaultAnimationSeconds,
			TickMillis:       DefaultTickMillis,
			SettleMillis:     DefaultSettleMillis,
		},
		Recovery: Recovery{
			RecencyMinutes: DefaultRecencyMinutes,
			StalenessHours: DefaultStalenessHours,
		},
		ReconnectSeconds:    DefaultReconnectSeconds,
		NotificationSeconds: DefaultNotificationSeconds,
	}
}

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("validation error: %s: %s", e.Field, e.Message)
}

// DefaultStateDir returns the directory holding config and durable state.
func DefaultStateDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to resolve home directory: %w", err)
	}
	return filepath.Join(home, ".prefill"), nil
}

// LoadConfig reads and parses config.yaml from the given state directory.
// If the file doesn't exist, returns default config.
// Applies defaults for any missing fields.
func LoadConfig(stateDir string) (*Config, error) {
	configPath := filepath.Join(stateDir, "config.yaml")

	cfg := DefaultConfig()
	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			applyEnv(&cfg)
			return &cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	applyEnv(&cfg)

	if err := ValidateConfig(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func applyEnv(cfg *Config) {
	if token := os.Getenv(EnvAuthToken); token != "" {
		cfg.Controller.AuthToken = token
	}
}

// ValidateConfig checks that all config values are valid.
func ValidateConfig(cfg *Config) error {
	if cfg.Controller.URL == "" {
		return ValidationError{Field: "controller.url", Message: "must not be empty"}
	}
	if cfg.Pacing.AnimationSeconds <= 0 {
		return ValidationError{Field: "pacing.animation_seconds", Message: "must be positive"}
	}
	if cfg.Pacing.TickMillis <= 0 {
		return ValidationError{Field: "pacing.tick_millis", Message: "must be positive"}
	}
	if cfg.Pacing.SettleMillis < 0 {
		return ValidationError{Field: "pacing.settle_millis", Message: "must not be negative"}
	}
	if cfg.Recovery.RecencyMinutes <= 0 {
		return ValidationError{Field: "recovery.recency_minutes", Message: "must be positive"}
	}
	if cfg.Recovery.StalenessHours <= 0 {
		return ValidationError{Field: "recovery.staleness_hours", Message: "must be positive"}
	}
	if cfg.ReconnectSeconds <= 0 {
		return ValidationError{Field: "reconnect_seconds", Message: "must be positive"}
	}
	if cfg.NotificationSeconds <= 0 {
		return ValidationError{Field: "notification_seconds", Message: "must be positive"}
	}
	return nil
}
