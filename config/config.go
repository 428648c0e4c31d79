// Package config loads git-glance configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const envPrefix = "GLANCE"

// DefaultMergePatterns match the default merge-commit phrasing of GitHub and GitLab.
var DefaultMergePatterns = []string{
	`^Merge pull request #(\d+) from `,
	`(?m)^See merge request [\w./-]*!(\d+)$`,
}

// Load reads configuration from v (already pointed at a config file and bound to flags by the caller),
// the environment and an optional dotenv file, applies defaults and validates the result.
func Load(v *viper.Viper, envFile string) (*Config, error) {
	if v == nil {
		v = viper.New()
	}
	// godotenv.Load never overrides variables already set; a missing file is not an error.
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("read env file %s: %w", envFile, err)
		}
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)
	bindEnvs(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("logging.level", "info")

	v.SetDefault("repo.path", ".")

	v.SetDefault("github.source", SourceAPI)
	v.SetDefault("github.token", "")
	v.SetDefault("github.owner", "")
	v.SetDefault("github.repo", "")
	v.SetDefault("github.base_url", "https://api.github.com")
	v.SetDefault("github.timeout", 15*time.Second)
	v.SetDefault("github.workers", 4)
	v.SetDefault("github.max_retries", 2)

	v.SetDefault("association.merge_patterns", DefaultMergePatterns)
	v.SetDefault("association.squash_patterns", []string{})

	v.SetDefault("ai.providers", []string{ProviderOpenAI, ProviderAnthropic, ProviderOllama})
	v.SetDefault("ai.concurrency", 4)
	v.SetDefault("ai.max_retries", 2)
	v.SetDefault("ai.initial_backoff", 500*time.Millisecond)
	v.SetDefault("ai.max_backoff", 5*time.Second)
	v.SetDefault("ai.request_timeout", 30*time.Second)

	v.SetDefault("ai.openai.api_key", "")
	v.SetDefault("ai.openai.model", "gpt-4o-mini")
	v.SetDefault("ai.openai.base_url", "")
	v.SetDefault("ai.openai.max_tokens", 300)
	v.SetDefault("ai.openai.temperature", 0.2)

	v.SetDefault("ai.anthropic.api_key", "")
	v.SetDefault("ai.anthropic.model", "claude-3-5-haiku-latest")
	v.SetDefault("ai.anthropic.base_url", "https://api.anthropic.com")
	v.SetDefault("ai.anthropic.max_tokens", 300)
	v.SetDefault("ai.anthropic.temperature", 0.2)

	v.SetDefault("ai.ollama.api_key", "ollama")
	v.SetDefault("ai.ollama.model", "llama3.1")
	v.SetDefault("ai.ollama.base_url", "http://localhost:11434/v1")
	v.SetDefault("ai.ollama.max_tokens", 300)
	v.SetDefault("ai.ollama.temperature", 0.2)

	v.SetDefault("output.format", FormatMarkdown)
	v.SetDefault("output.path", "")
	v.SetDefault("output.title", "")
	v.SetDefault("output.debug", false)

	v.SetDefault("probe.timeout", 5*time.Second)
}

// bindEnvs lets the conventional provider variables stand in for the prefixed ones.
func bindEnvs(v *viper.Viper) {
	_ = v.BindEnv("github.token", envPrefix+"_GITHUB_TOKEN", "GITHUB_TOKEN", "GH_TOKEN")
	_ = v.BindEnv("ai.openai.api_key", envPrefix+"_AI_OPENAI_API_KEY", "OPENAI_API_KEY")
	_ = v.BindEnv("ai.anthropic.api_key", envPrefix+"_AI_ANTHROPIC_API_KEY", "ANTHROPIC_API_KEY")
}
