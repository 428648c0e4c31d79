package ai

import (
	"context"
	"errors"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/schacon/git-glance/config"
	"github.com/schacon/git-glance/model"
)

// OpenAI speaks the chat completions API. Local runtimes that expose an
// OpenAI-compatible endpoint use it too, with a different base URL.
type OpenAI struct {
	name        string
	model       string
	maxTokens   int
	temperature float32
	keyed       bool
	client      *openai.Client
}

func NewOpenAI(name string, cfg config.ProviderConfig) *OpenAI {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = strings.TrimSuffix(cfg.BaseURL, "/")
	}
	return &OpenAI{
		name:        name,
		model:       cfg.Model,
		maxTokens:   cfg.MaxTokens,
		temperature: cfg.Temperature,
		keyed:       cfg.APIKey != "",
		client:      openai.NewClientWithConfig(clientCfg),
	}
}

func (o *OpenAI) Name() string { return o.name }

// Check lists models, which needs a valid key and a reachable endpoint.
func (o *OpenAI) Check(ctx context.Context) error {
	if !o.keyed {
		return model.NewProviderError(o.name, model.KindAuth, errors.New("api key not set"))
	}
	if _, err := o.client.ListModels(ctx); err != nil {
		return o.wrap(ctx, err)
	}
	return nil
}

func (o *OpenAI) Classify(ctx context.Context, unit model.ChangeUnit) (model.ClassificationResult, error) {
	return classify(ctx, o.name, o, unit)
}

func (o *OpenAI) complete(ctx context.Context, system, user string) (string, error) {
	resp, err := o.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: o.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: user},
		},
		MaxTokens:   o.maxTokens,
		Temperature: o.temperature,
	})
	if err != nil {
		return "", o.wrap(ctx, err)
	}
	if len(resp.Choices) == 0 {
		return "", model.NewProviderError(o.name, model.KindMalformed, errors.New("response has no choices"))
	}
	return resp.Choices[0].Message.Content, nil
}

func (o *OpenAI) wrap(ctx context.Context, err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) && apiErr.HTTPStatusCode != 0 {
		return model.NewProviderError(o.name, kindForStatus(apiErr.HTTPStatusCode), err)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) && reqErr.HTTPStatusCode != 0 {
		return model.NewProviderError(o.name, kindForStatus(reqErr.HTTPStatusCode), err)
	}
	return transportErr(ctx, o.name, err)
}
