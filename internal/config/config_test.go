package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}
	return path
}

const minimalConfig = `
[contribution]
upstream_owner = "upstream"
upstream_repo = "practice"

[learner]
login = "learner"
display_name = "Lea R. Ner"
`

func TestLoad_AppliesDefaults(t *testing.T) {
	t.Setenv("HOSTING_TOKEN", "token-123")

	cfg, secrets, err := Load(writeConfig(t, minimalConfig))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Contribution.LedgerPath != "CONTRIBUTORS.md" {
		t.Errorf("Expected default ledger path, got %q", cfg.Contribution.LedgerPath)
	}
	if cfg.Contribution.BaseBranch != "main" {
		t.Errorf("Expected default base branch, got %q", cfg.Contribution.BaseBranch)
	}
	if cfg.Hosting.BaseURL != "https://api.github.com" {
		t.Errorf("Expected default base URL, got %q", cfg.Hosting.BaseURL)
	}
	if cfg.Hosting.RateLimitPerMinute != 60 {
		t.Errorf("Expected default rate limit 60, got %d", cfg.Hosting.RateLimitPerMinute)
	}
	if cfg.Hosting.PropagationDelaySeconds != 2 || cfg.Hosting.PropagationMaxAttempts != 5 {
		t.Errorf("Expected propagation defaults 2s/5, got %d/%d",
			cfg.Hosting.PropagationDelaySeconds, cfg.Hosting.PropagationMaxAttempts)
	}
	if secrets.HostingToken != "token-123" {
		t.Errorf("Expected token from env, got %q", secrets.HostingToken)
	}
}

func TestLoad_GithubTokenFallback(t *testing.T) {
	t.Setenv("HOSTING_TOKEN", "")
	t.Setenv("GITHUB_TOKEN", "gh-token")

	_, secrets, err := Load(writeConfig(t, minimalConfig))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if secrets.HostingToken != "gh-token" {
		t.Errorf("Expected GITHUB_TOKEN fallback, got %q", secrets.HostingToken)
	}
}

func TestLoad_MissingToken(t *testing.T) {
	t.Setenv("HOSTING_TOKEN", "")
	t.Setenv("GITHUB_TOKEN", "")

	_, _, err := Load(writeConfig(t, minimalConfig))
	if err == nil || !strings.Contains(err.Error(), "hosting token") {
		t.Fatalf("Expected missing token error, got %v", err)
	}
}

func TestValidate_Errors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
		want   string
	}{
		{
			"missing owner",
			func(c *Config) { c.Contribution.UpstreamOwner = "" },
			"upstream_owner",
		},
		{
			"missing login",
			func(c *Config) { c.Learner.Login = "" },
			"learner.login",
		},
		{
			"login with slash",
			func(c *Config) { c.Learner.Login = "a/b" },
			"invalid characters",
		},
		{
			"ledger path escape",
			func(c *Config) { c.Contribution.LedgerPath = "../outside.md" },
			"ledger_path",
		},
		{
			"absolute ledger path",
			func(c *Config) { c.Contribution.LedgerPath = "/etc/passwd" },
			"ledger_path",
		},
		{
			"excessive propagation attempts",
			func(c *Config) { c.Hosting.PropagationMaxAttempts = 100 },
			"propagation_max_attempts",
		},
		{
			"negative propagation attempts",
			func(c *Config) { c.Hosting.PropagationMaxAttempts = -1 },
			"propagation_max_attempts",
		},
		{
			"negative propagation delay",
			func(c *Config) { c.Hosting.PropagationDelaySeconds = -2 },
			"propagation_delay_seconds",
		},
		{
			"tutor without model",
			func(c *Config) { c.Tutor.BaseURL = "https://example.com/v1" },
			"tutor.model_name",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{
				Contribution: ContributionConfig{
					UpstreamOwner: "upstream",
					UpstreamRepo:  "practice",
					LedgerPath:    "CONTRIBUTORS.md",
					BaseBranch:    "main",
				},
				Learner: LearnerConfig{Login: "learner"},
				Hosting: HostingConfig{
					BaseURL:                 "https://api.github.com",
					RateLimitPerMinute:      60,
					PropagationDelaySeconds: 2,
					PropagationMaxAttempts:  5,
				},
			}
			tt.mutate(cfg)

			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Expected error mentioning %q, got %v", tt.want, err)
			}
		})
	}
}

func TestLoad_TutorDefaults(t *testing.T) {
	t.Setenv("HOSTING_TOKEN", "token-123")

	cfg, _, err := Load(writeConfig(t, minimalConfig+`
[tutor]
base_url = "https://example.com/v1"
model_name = "test-model"
`))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Tutor.Temperature != 0.7 {
		t.Errorf("Expected default temperature 0.7, got %v", cfg.Tutor.Temperature)
	}
	if cfg.Tutor.MaxOutputTokens != 2048 {
		t.Errorf("Expected default max tokens 2048, got %d", cfg.Tutor.MaxOutputTokens)
	}
	if cfg.Tutor.MaxRetries != 3 {
		t.Errorf("Expected default max retries 3, got %d", cfg.Tutor.MaxRetries)
	}
}
