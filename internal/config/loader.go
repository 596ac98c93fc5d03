package config

import (
	"fmt"
	"os"

	"github.com/pelletier/go-toml/v2"
)

// Load reads and parses the configuration file and environment variables
func Load(configPath string) (*Config, *Secrets, error) {
	// Read config file
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Parse TOML
	var cfg Config
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// Apply defaults
	applyDefaults(&cfg)

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, nil, fmt.Errorf("invalid configuration: %w", err)
	}

	// Load secrets from environment
	secrets, err := LoadSecrets()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load secrets: %w", err)
	}

	return &cfg, secrets, nil
}

// applyDefaults sets default values for optional configuration fields
func applyDefaults(cfg *Config) {
	if cfg.Contribution.LedgerPath == "" {
		cfg.Contribution.LedgerPath = "CONTRIBUTORS.md"
	}
	if cfg.Contribution.BaseBranch == "" {
		cfg.Contribution.BaseBranch = "main"
	}

	if cfg.Hosting.BaseURL == "" {
		cfg.Hosting.BaseURL = "https://api.github.com"
	}
	if cfg.Hosting.RateLimitPerMinute == 0 {
		cfg.Hosting.RateLimitPerMinute = 60
	}
	if cfg.Hosting.HTTPTimeoutSeconds == 0 {
		cfg.Hosting.HTTPTimeoutSeconds = 30
	}
	if cfg.Hosting.PropagationDelaySeconds == 0 {
		cfg.Hosting.PropagationDelaySeconds = 2
	}
	if cfg.Hosting.PropagationMaxAttempts == 0 {
		cfg.Hosting.PropagationMaxAttempts = 5
	}

	if cfg.Tutor.BaseURL != "" {
		if cfg.Tutor.Temperature == 0 {
			cfg.Tutor.Temperature = 0.7
		}
		if cfg.Tutor.TopP == 0 {
			cfg.Tutor.TopP = 1.0
		}
		if cfg.Tutor.MaxOutputTokens == 0 {
			cfg.Tutor.MaxOutputTokens = 2048
		}
		if cfg.Tutor.RateLimitPerMinute == 0 {
			cfg.Tutor.RateLimitPerMinute = 60
		}
		if cfg.Tutor.MaxRetries == 0 {
			cfg.Tutor.MaxRetries = 3
		}
		if cfg.Tutor.HTTPTimeoutSeconds == 0 {
			cfg.Tutor.HTTPTimeoutSeconds = 120
		}
	}
}
