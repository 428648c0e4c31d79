package ai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/go-resty/resty/v2"

	"github.com/schacon/git-glance/config"
	"github.com/schacon/git-glance/model"
)

const (
	anthropicBaseURL = "https://api.anthropic.com"
	anthropicVersion = "2023-06-01"
)

// Anthropic calls the Messages API.
type Anthropic struct {
	baseURL     string
	model       string
	maxTokens   int
	temperature float32
	keyed       bool
	client      *resty.Client
}

type messagesRequest struct {
	Model       string    `json:"model"`
	MaxTokens   int       `json:"max_tokens"`
	Temperature float32   `json:"temperature"`
	System      string    `json:"system,omitempty"`
	Messages    []message `json:"messages"`
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type messagesResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	StopReason string `json:"stop_reason"`
}

type anthropicError struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

func NewAnthropic(cfg config.ProviderConfig) *Anthropic {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = anthropicBaseURL
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 300
	}

	client := resty.New().
		SetHeader("x-api-key", cfg.APIKey).
		SetHeader("anthropic-version", anthropicVersion).
		SetHeader("Content-Type", "application/json")

	return &Anthropic{
		baseURL:     strings.TrimSuffix(baseURL, "/"),
		model:       cfg.Model,
		maxTokens:   maxTokens,
		temperature: cfg.Temperature,
		keyed:       cfg.APIKey != "",
		client:      client,
	}
}

func (a *Anthropic) Name() string { return config.ProviderAnthropic }

func (a *Anthropic) Check(ctx context.Context) error {
	if !a.keyed {
		return model.NewProviderError(a.Name(), model.KindAuth, errors.New("api key not set"))
	}
	resp, err := a.client.R().SetContext(ctx).Get(a.baseURL + "/v1/models")
	if err != nil {
		return transportErr(ctx, a.Name(), err)
	}
	if resp.IsError() {
		return a.statusErr(resp)
	}
	return nil
}

func (a *Anthropic) Classify(ctx context.Context, unit model.ChangeUnit) (model.ClassificationResult, error) {
	return classify(ctx, a.Name(), a, unit)
}

func (a *Anthropic) complete(ctx context.Context, system, user string) (string, error) {
	var out messagesResponse
	resp, err := a.client.R().
		SetContext(ctx).
		SetBody(messagesRequest{
			Model:       a.model,
			MaxTokens:   a.maxTokens,
			Temperature: a.temperature,
			System:      system,
			Messages:    []message{{Role: "user", Content: user}},
		}).
		SetResult(&out).
		Post(a.baseURL + "/v1/messages")
	if err != nil {
		return "", transportErr(ctx, a.Name(), err)
	}
	if resp.IsError() {
		return "", a.statusErr(resp)
	}

	var b strings.Builder
	for _, block := range out.Content {
		if block.Type == "text" {
			b.WriteString(block.Text)
		}
	}
	if b.Len() == 0 {
		return "", model.NewProviderError(a.Name(), model.KindMalformed, errors.New("response has no text content"))
	}
	return b.String(), nil
}

// statusErr maps an error response. 529 means the API is overloaded.
func (a *Anthropic) statusErr(resp *resty.Response) error {
	msg := resp.Status()
	var apiErr anthropicError
	if jsonErr := json.Unmarshal(resp.Body(), &apiErr); jsonErr == nil && apiErr.Error.Message != "" {
		msg = fmt.Sprintf("%s: %s", apiErr.Error.Type, apiErr.Error.Message)
	}
	return model.NewProviderError(a.Name(), kindForStatus(resp.StatusCode()), errors.New(msg))
}
