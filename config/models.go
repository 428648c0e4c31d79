package config

import (
	"errors"
	"fmt"
	"time"
)

// Config holds everything a run needs. It is built once and passed into constructors.
type Config struct {
	Logging     LoggingConfig     `mapstructure:"logging"`
	Repo        RepoConfig        `mapstructure:"repo"`
	GitHub      GitHubConfig      `mapstructure:"github"`
	Association AssociationConfig `mapstructure:"association"`
	AI          AIConfig          `mapstructure:"ai"`
	Output      OutputConfig      `mapstructure:"output"`
	Probe       ProbeConfig       `mapstructure:"probe"`
}

type LoggingConfig struct {
	Level string `mapstructure:"level"`
}

type RepoConfig struct {
	Path string `mapstructure:"path"`
}

// GitHubConfig configures the pull request source.
type GitHubConfig struct {
	Source     string        `mapstructure:"source"`
	Token      string        `mapstructure:"token"`
	Owner      string        `mapstructure:"owner"`
	Repo       string        `mapstructure:"repo"`
	BaseURL    string        `mapstructure:"base_url"`
	Timeout    time.Duration `mapstructure:"timeout"`
	Workers    int           `mapstructure:"workers"`
	MaxRetries int           `mapstructure:"max_retries"`
}

type AssociationConfig struct {
	MergePatterns  []string `mapstructure:"merge_patterns"`
	SquashPatterns []string `mapstructure:"squash_patterns"`
}

// AIConfig lists providers in priority order plus the shared retry policy.
type AIConfig struct {
	Providers      []string       `mapstructure:"providers"`
	Concurrency    int            `mapstructure:"concurrency"`
	MaxRetries     int            `mapstructure:"max_retries"`
	InitialBackoff time.Duration  `mapstructure:"initial_backoff"`
	MaxBackoff     time.Duration  `mapstructure:"max_backoff"`
	RequestTimeout time.Duration  `mapstructure:"request_timeout"`
	OpenAI         ProviderConfig `mapstructure:"openai"`
	Anthropic      ProviderConfig `mapstructure:"anthropic"`
	Ollama         ProviderConfig `mapstructure:"ollama"`
}

type ProviderConfig struct {
	APIKey      string  `mapstructure:"api_key"`
	Model       string  `mapstructure:"model"`
	BaseURL     string  `mapstructure:"base_url"`
	MaxTokens   int     `mapstructure:"max_tokens"`
	Temperature float32 `mapstructure:"temperature"`
}

type OutputConfig struct {
	Format string `mapstructure:"format"`
	Path   string `mapstructure:"path"`
	Title  string `mapstructure:"title"`
	Debug  bool   `mapstructure:"debug"`
}

type ProbeConfig struct {
	Timeout time.Duration `mapstructure:"timeout"`
}

const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
	ProviderOllama    = "ollama"

	SourceAPI = "api"
	SourceGH  = "gh"

	FormatMarkdown = "md"
	FormatHTML     = "html"
)

// Provider returns the settings block for a named provider.
func (c AIConfig) Provider(name string) (ProviderConfig, error) {
	switch name {
	case ProviderOpenAI:
		return c.OpenAI, nil
	case ProviderAnthropic:
		return c.Anthropic, nil
	case ProviderOllama:
		return c.Ollama, nil
	default:
		return ProviderConfig{}, fmt.Errorf("unknown ai provider: %s", name)
	}
}

// Validate ensures the configuration is usable.
func (c Config) Validate() error {
	if len(c.AI.Providers) == 0 {
		return errors.New("ai.providers must list at least one provider")
	}
	seen := map[string]bool{}
	for _, p := range c.AI.Providers {
		if _, err := c.AI.Provider(p); err != nil {
			return err
		}
		if seen[p] {
			return fmt.Errorf("ai.providers lists %s twice", p)
		}
		seen[p] = true
	}
	if c.AI.Concurrency < 1 {
		return errors.New("ai.concurrency must be at least 1")
	}
	if c.AI.MaxRetries < 0 || c.GitHub.MaxRetries < 0 {
		return errors.New("max_retries must not be negative")
	}
	if c.AI.RequestTimeout <= 0 || c.GitHub.Timeout <= 0 {
		return errors.New("timeouts must be positive")
	}
	if c.GitHub.Workers < 1 {
		return errors.New("github.workers must be at least 1")
	}
	switch c.GitHub.Source {
	case SourceAPI, SourceGH:
	default:
		return fmt.Errorf("unknown github.source: %s", c.GitHub.Source)
	}
	switch c.Output.Format {
	case FormatMarkdown, FormatHTML:
	default:
		return fmt.Errorf("unknown output.format: %s", c.Output.Format)
	}
	return nil
}
