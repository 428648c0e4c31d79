// Package ai talks to the language model providers that classify and summarize change units.
package ai

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/schacon/git-glance/config"
	"github.com/schacon/git-glance/model"
)

// Backend classifies one change unit. Errors are *model.ProviderError.
type Backend interface {
	Name() string
	Classify(ctx context.Context, unit model.ChangeUnit) (model.ClassificationResult, error)
	Check(ctx context.Context) error
}

// completer sends one system + user prompt pair and returns the raw text answer.
type completer interface {
	complete(ctx context.Context, system, user string) (string, error)
}

func classify(ctx context.Context, name string, c completer, unit model.ChangeUnit) (model.ClassificationResult, error) {
	raw, err := c.complete(ctx, systemPrompt, BuildPrompt(unit))
	if err != nil {
		return model.ClassificationResult{}, err
	}
	return ParseResult(name, raw)
}

// New builds the backend for a provider name from the closed provider set.
func New(name string, cfg config.ProviderConfig) (Backend, error) {
	switch name {
	case config.ProviderOpenAI, config.ProviderOllama:
		return NewOpenAI(name, cfg), nil
	case config.ProviderAnthropic:
		return NewAnthropic(cfg), nil
	default:
		return nil, fmt.Errorf("unknown ai provider: %s", name)
	}
}

// FromConfig builds every configured backend in priority order.
func FromConfig(cfg config.AIConfig) ([]Backend, error) {
	backends := make([]Backend, 0, len(cfg.Providers))
	for _, name := range cfg.Providers {
		pc, err := cfg.Provider(name)
		if err != nil {
			return nil, err
		}
		b, err := New(name, pc)
		if err != nil {
			return nil, err
		}
		backends = append(backends, b)
	}
	return backends, nil
}

// kindForStatus maps an HTTP status onto the provider error taxonomy.
func kindForStatus(status int) model.ProviderErrorKind {
	switch {
	case status == http.StatusUnauthorized, status == http.StatusForbidden:
		return model.KindAuth
	case status == http.StatusTooManyRequests:
		return model.KindRateLimit
	case status == http.StatusRequestTimeout, status == http.StatusGatewayTimeout:
		return model.KindTimeout
	case status >= 500:
		return model.KindServer
	default:
		return model.KindMalformed
	}
}

// transportErr classifies a failure that happened before any HTTP status was seen.
func transportErr(ctx context.Context, provider string, err error) *model.ProviderError {
	var netErr net.Error
	if ctx.Err() != nil || errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return model.NewProviderError(provider, model.KindTimeout, err)
	}
	return model.NewProviderError(provider, model.KindServer, err)
}
