package ai

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/schacon/git-glance/config"
	"github.com/schacon/git-glance/model"
)

var testUnit = model.ChangeUnit{
	Commits:  []string{"abc1234"},
	Messages: []string{"add search"},
	PR:       &model.PullRequest{Number: 10, Title: "feature: search"},
}

func chatCompletion(content string) string {
	b, _ := json.Marshal(map[string]any{
		"id":     "chatcmpl-1",
		"object": "chat.completion",
		"model":  "gpt-4o-mini",
		"choices": []map[string]any{{
			"index":         0,
			"message":       map[string]string{"role": "assistant", "content": content},
			"finish_reason": "stop",
		}},
	})
	return string(b)
}

func requireKind(t *testing.T, err error, kind model.ProviderErrorKind) {
	t.Helper()
	var pe *model.ProviderError
	require.True(t, errors.As(err, &pe), "got %v", err)
	require.Equal(t, kind, pe.Kind)
}

func TestOpenAIClassify(t *testing.T) {
	var got struct {
		Model    string `json:"model"`
		Messages []struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"messages"`
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/chat/completions", r.URL.Path)
		require.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(chatCompletion("```json\n{\"category\": \"feature\", \"summary\": \"Add search\"}\n```")))
	}))
	defer srv.Close()

	b := NewOpenAI(config.ProviderOpenAI, config.ProviderConfig{APIKey: "sk-test", Model: "gpt-4o-mini", BaseURL: srv.URL + "/v1"})
	res, err := b.Classify(context.Background(), testUnit)
	require.NoError(t, err)
	require.Equal(t, model.CategoryFeature, res.Category)
	require.Equal(t, "Add search", res.Summary)
	require.Equal(t, "openai", res.Provider)

	require.Equal(t, "gpt-4o-mini", got.Model)
	require.Len(t, got.Messages, 2)
	require.Equal(t, "system", got.Messages[0].Role)
	require.Contains(t, got.Messages[1].Content, "Title: feature: search")
}

func TestOpenAIErrorKinds(t *testing.T) {
	tests := []struct {
		status int
		body   string
		kind   model.ProviderErrorKind
	}{
		{http.StatusUnauthorized, `{"error":{"message":"bad key","type":"invalid_request_error"}}`, model.KindAuth},
		{http.StatusTooManyRequests, `{"error":{"message":"slow down","type":"rate_limit"}}`, model.KindRateLimit},
		{http.StatusInternalServerError, `oops`, model.KindServer},
		{http.StatusBadRequest, `{"error":{"message":"no such model","type":"invalid_request_error"}}`, model.KindMalformed},
	}

	for _, tc := range tests {
		t.Run(http.StatusText(tc.status), func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(tc.body))
			}))
			defer srv.Close()

			b := NewOpenAI(config.ProviderOllama, config.ProviderConfig{APIKey: "ollama", Model: "llama3.1", BaseURL: srv.URL + "/v1"})
			_, err := b.Classify(context.Background(), testUnit)
			requireKind(t, err, tc.kind)
		})
	}
}

func TestOpenAIMalformedAnswer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(chatCompletion("I think this is a feature.")))
	}))
	defer srv.Close()

	b := NewOpenAI(config.ProviderOpenAI, config.ProviderConfig{APIKey: "k", BaseURL: srv.URL})
	_, err := b.Classify(context.Background(), testUnit)
	requireKind(t, err, model.KindMalformed)
}

func TestOpenAITimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	b := NewOpenAI(config.ProviderOpenAI, config.ProviderConfig{APIKey: "k", BaseURL: srv.URL})
	_, err := b.Classify(ctx, testUnit)
	requireKind(t, err, model.KindTimeout)
}

func TestOpenAICheck(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/models", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"object":"list","data":[{"id":"llama3.1","object":"model"}]}`))
	}))
	defer srv.Close()

	b := NewOpenAI(config.ProviderOllama, config.ProviderConfig{APIKey: "ollama", BaseURL: srv.URL + "/v1/"})
	require.NoError(t, b.Check(context.Background()))

	missing := NewOpenAI(config.ProviderOpenAI, config.ProviderConfig{BaseURL: srv.URL + "/v1"})
	err := missing.Check(context.Background())
	requireKind(t, err, model.KindAuth)
	require.ErrorIs(t, err, model.ErrProviderUnavailable)
}

func TestAnthropicClassify(t *testing.T) {
	var got messagesRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/messages", r.URL.Path)
		require.Equal(t, "key", r.Header.Get("x-api-key"))
		require.Equal(t, anthropicVersion, r.Header.Get("anthropic-version"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"content":[{"type":"text","text":"{\"category\": \"fix\", \"summary\": \"Fix crash\"}"}],"stop_reason":"end_turn"}`))
	}))
	defer srv.Close()

	b := NewAnthropic(config.ProviderConfig{APIKey: "key", Model: "claude-3-5-haiku-latest", BaseURL: srv.URL, MaxTokens: 200})
	res, err := b.Classify(context.Background(), testUnit)
	require.NoError(t, err)
	require.Equal(t, model.CategoryFix, res.Category)
	require.Equal(t, "Fix crash", res.Summary)
	require.Equal(t, "anthropic", res.Provider)

	require.Equal(t, "claude-3-5-haiku-latest", got.Model)
	require.Equal(t, 200, got.MaxTokens)
	require.Equal(t, systemPrompt, got.System)
	require.Len(t, got.Messages, 1)
	require.Equal(t, "user", got.Messages[0].Role)
}

func TestAnthropicErrorKinds(t *testing.T) {
	tests := []struct {
		status int
		kind   model.ProviderErrorKind
	}{
		{http.StatusUnauthorized, model.KindAuth},
		{http.StatusTooManyRequests, model.KindRateLimit},
		{529, model.KindServer},
		{http.StatusBadGateway, model.KindServer},
	}

	for _, tc := range tests {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(tc.status)
			_, _ = w.Write([]byte(`{"type":"error","error":{"type":"overloaded_error","message":"try later"}}`))
		}))

		b := NewAnthropic(config.ProviderConfig{APIKey: "key", BaseURL: srv.URL})
		_, err := b.Classify(context.Background(), testUnit)
		requireKind(t, err, tc.kind)
		require.Contains(t, err.Error(), "try later")
		srv.Close()
	}
}

func TestAnthropicEmptyContent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"content":[],"stop_reason":"max_tokens"}`))
	}))
	defer srv.Close()

	b := NewAnthropic(config.ProviderConfig{APIKey: "key", BaseURL: srv.URL})
	_, err := b.Classify(context.Background(), testUnit)
	requireKind(t, err, model.KindMalformed)
}

func TestFromConfigKeepsPriorityOrder(t *testing.T) {
	backends, err := FromConfig(config.AIConfig{Providers: []string{"ollama", "anthropic", "openai"}})
	require.NoError(t, err)
	require.Len(t, backends, 3)
	require.Equal(t, "ollama", backends[0].Name())
	require.Equal(t, "anthropic", backends[1].Name())
	require.Equal(t, "openai", backends[2].Name())

	_, err = FromConfig(config.AIConfig{Providers: []string{"bard"}})
	require.Error(t, err)
}
