package config

import (
	"fmt"
	"os"
	"strings"
)

// Config represents the complete application configuration
type Config struct {
	Contribution ContributionConfig `toml:"contribution"`
	Learner      LearnerConfig      `toml:"learner"`
	Hosting      HostingConfig      `toml:"hosting"`
	Tutor        TutorConfig        `toml:"tutor"`
}

// ContributionConfig identifies the template repository the final stage
// contributes to and the tracked ledger file inside it.
type ContributionConfig struct {
	UpstreamOwner string `toml:"upstream_owner"`
	UpstreamRepo  string `toml:"upstream_repo"`
	LedgerPath    string `toml:"ledger_path"`
	BaseBranch    string `toml:"base_branch"`
}

// LearnerConfig holds the learner's hosting identity used for the fork and
// the ledger entry. Login must match the hosting account the token belongs to.
type LearnerConfig struct {
	Login       string `toml:"login"`
	DisplayName string `toml:"display_name"`
}

// HostingConfig holds settings for the repository-hosting API client.
type HostingConfig struct {
	BaseURL            string `toml:"base_url"`
	RateLimitPerMinute int    `toml:"rate_limit_per_minute"`
	HTTPTimeoutSeconds int    `toml:"http_timeout_seconds"`

	// Fork propagation poll: the fork's default branch is not readable the
	// instant the fork request is accepted, so the workflow polls the ledger
	// read up to PropagationMaxAttempts times, doubling the delay each time.
	PropagationDelaySeconds int `toml:"propagation_delay_seconds"`
	PropagationMaxAttempts  int `toml:"propagation_max_attempts"`
}

// TutorConfig represents configuration for the text-generation endpoint
type TutorConfig struct {
	BaseURL            string  `toml:"base_url"`
	ModelName          string  `toml:"model_name"`
	Temperature        float64 `toml:"temperature"`
	TopP               float64 `toml:"top_p"`
	MaxOutputTokens    int     `toml:"max_output_tokens"`
	RateLimitPerMinute int     `toml:"rate_limit_per_minute"`
	MaxRetries         int     `toml:"max_retries"`
	HTTPTimeoutSeconds int     `toml:"http_timeout_seconds"`
}

// Secrets holds sensitive credentials loaded from environment variables
type Secrets struct {
	ContentKey   string
	HostingToken string
}

const (
	// MaxPropagationAttempts bounds the fork readiness poll
	MaxPropagationAttempts = 20
)

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Contribution.UpstreamOwner == "" {
		return fmt.Errorf("contribution.upstream_owner is required")
	}
	if c.Contribution.UpstreamRepo == "" {
		return fmt.Errorf("contribution.upstream_repo is required")
	}
	if err := validateRepoComponent("contribution.upstream_owner", c.Contribution.UpstreamOwner); err != nil {
		return err
	}
	if err := validateRepoComponent("contribution.upstream_repo", c.Contribution.UpstreamRepo); err != nil {
		return err
	}
	if c.Contribution.LedgerPath == "" {
		return fmt.Errorf("contribution.ledger_path is required")
	}
	if strings.HasPrefix(c.Contribution.LedgerPath, "/") || strings.Contains(c.Contribution.LedgerPath, "..") {
		return fmt.Errorf("contribution.ledger_path must be a relative path inside the repository (got %s)", c.Contribution.LedgerPath)
	}

	if c.Learner.Login == "" {
		return fmt.Errorf("learner.login is required")
	}
	if err := validateRepoComponent("learner.login", c.Learner.Login); err != nil {
		return err
	}

	if c.Hosting.BaseURL == "" {
		return fmt.Errorf("hosting.base_url is required")
	}
	if c.Hosting.RateLimitPerMinute < 1 {
		return fmt.Errorf("hosting.rate_limit_per_minute must be at least 1")
	}
	if c.Hosting.PropagationMaxAttempts < 1 {
		return fmt.Errorf("hosting.propagation_max_attempts must be at least 1 (got %d)", c.Hosting.PropagationMaxAttempts)
	}
	if c.Hosting.PropagationMaxAttempts > MaxPropagationAttempts {
		return fmt.Errorf("hosting.propagation_max_attempts must not exceed %d (got %d)", MaxPropagationAttempts, c.Hosting.PropagationMaxAttempts)
	}
	if c.Hosting.PropagationDelaySeconds < 0 {
		return fmt.Errorf("hosting.propagation_delay_seconds must not be negative (got %d)", c.Hosting.PropagationDelaySeconds)
	}

	if c.Tutor.BaseURL != "" {
		if c.Tutor.ModelName == "" {
			return fmt.Errorf("tutor.model_name is required when tutor.base_url is set")
		}
		if c.Tutor.Temperature < 0 || c.Tutor.Temperature > 2 {
			return fmt.Errorf("tutor.temperature must be between 0 and 2")
		}
		if c.Tutor.TopP < 0 || c.Tutor.TopP > 1 {
			return fmt.Errorf("tutor.top_p must be between 0 and 1")
		}
		if c.Tutor.MaxOutputTokens < 1 {
			return fmt.Errorf("tutor.max_output_tokens must be at least 1")
		}
		if c.Tutor.RateLimitPerMinute < 1 {
			return fmt.Errorf("tutor.rate_limit_per_minute must be at least 1")
		}
	}

	return nil
}

// validateRepoComponent rejects strings that cannot appear as a single path
// segment of the hosting API (owner, repo, login).
func validateRepoComponent(field, value string) error {
	if strings.ContainsAny(value, " /\\?#%") {
		return fmt.Errorf("%s contains invalid characters (got %q)", field, value)
	}
	return nil
}

// LoadSecrets loads sensitive credentials from environment variables
func LoadSecrets() (*Secrets, error) {
	secrets := &Secrets{}

	if key := os.Getenv("CONTENT_API_KEY"); key != "" {
		secrets.ContentKey = key
	}

	// HOSTING_TOKEN takes precedence; GITHUB_TOKEN is the conventional fallback
	if token := os.Getenv("HOSTING_TOKEN"); token != "" {
		secrets.HostingToken = token
	} else if token := os.Getenv("GITHUB_TOKEN"); token != "" {
		secrets.HostingToken = token
	}

	if secrets.HostingToken == "" {
		return nil, fmt.Errorf("no hosting token found: set HOSTING_TOKEN or GITHUB_TOKEN")
	}

	return secrets, nil
}
