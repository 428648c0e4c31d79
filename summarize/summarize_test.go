package summarize

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/schacon/git-glance/ai"
	"github.com/schacon/git-glance/model"
)

// scriptedBackend fails with the queued errors first, then answers with its classifier.
type scriptedBackend struct {
	name   string
	mu     sync.Mutex
	errs   []error
	calls  atomic.Int32
	answer func(ctx context.Context, unit model.ChangeUnit) (model.ClassificationResult, error)
}

func (b *scriptedBackend) Name() string                    { return b.name }
func (b *scriptedBackend) Check(ctx context.Context) error { return nil }

func (b *scriptedBackend) Classify(ctx context.Context, unit model.ChangeUnit) (model.ClassificationResult, error) {
	b.calls.Add(1)
	b.mu.Lock()
	if len(b.errs) > 0 {
		err := b.errs[0]
		b.errs = b.errs[1:]
		b.mu.Unlock()
		return model.ClassificationResult{}, err
	}
	b.mu.Unlock()
	if b.answer == nil {
		return model.ClassificationResult{Category: model.CategoryFeature, Summary: "summary of " + unit.Commits[0], Provider: b.name}, nil
	}
	return b.answer(ctx, unit)
}

func failing(name string, kind model.ProviderErrorKind) *scriptedBackend {
	return &scriptedBackend{name: name, answer: func(context.Context, model.ChangeUnit) (model.ClassificationResult, error) {
		return model.ClassificationResult{}, model.NewProviderError(name, kind, errors.New("nope"))
	}}
}

func testPolicy() Policy {
	return Policy{MaxRetries: 1, InitialBackoff: time.Millisecond, MaxBackoff: 2 * time.Millisecond, RequestTimeout: time.Second, Concurrency: 4}
}

func newSummarizer(policy Policy, backends ...ai.Backend) *Summarizer {
	return New(zap.NewNop().Sugar(), backends, policy)
}

func units(n int) []model.ChangeUnit {
	out := make([]model.ChangeUnit, n)
	for i := range out {
		hash := string(rune('a' + i))
		out[i] = model.ChangeUnit{Commits: []string{hash}, Messages: []string{"commit " + hash + "\n\nbody"}, Fallback: "commit " + hash + "\n\nbody"}
	}
	return out
}

func TestSummarizeUsesFirstProvider(t *testing.T) {
	first := &scriptedBackend{name: "openai"}
	second := &scriptedBackend{name: "anthropic"}

	out, warnings, err := newSummarizer(testPolicy(), first, second).Summarize(context.Background(), units(3))
	require.NoError(t, err)
	require.Empty(t, warnings)
	require.Len(t, out, 3)
	for i, u := range out {
		require.Equal(t, model.CategoryFeature, u.Category)
		require.Equal(t, "summary of "+string(rune('a'+i)), u.Summary)
		require.Equal(t, "openai", u.Provider)
		require.False(t, u.Degraded)
	}
	require.Zero(t, second.calls.Load())
}

func TestSummarizeFallsBackToNextProviderAfterTimeouts(t *testing.T) {
	timeout := model.NewProviderError("openai", model.KindTimeout, context.DeadlineExceeded)
	first := &scriptedBackend{name: "openai", errs: []error{timeout, timeout}}
	second := &scriptedBackend{name: "anthropic"}

	out, warnings, err := newSummarizer(testPolicy(), first, second).Summarize(context.Background(), units(1))
	require.NoError(t, err)
	require.Empty(t, warnings)
	require.Equal(t, "anthropic", out[0].Provider)
	require.Equal(t, "summary of a", out[0].Summary)
	require.EqualValues(t, 2, first.calls.Load())
	require.EqualValues(t, 1, second.calls.Load())
}

func TestSummarizeRetriesSameProvider(t *testing.T) {
	first := &scriptedBackend{name: "openai", errs: []error{model.NewProviderError("openai", model.KindRateLimit, errors.New("429"))}}
	second := &scriptedBackend{name: "anthropic"}

	out, _, err := newSummarizer(testPolicy(), first, second).Summarize(context.Background(), units(1))
	require.NoError(t, err)
	require.Equal(t, "openai", out[0].Provider)
	require.EqualValues(t, 2, first.calls.Load())
	require.Zero(t, second.calls.Load())
}

func TestSummarizeRequestTimeoutBoundsEachCall(t *testing.T) {
	slow := &scriptedBackend{name: "ollama", answer: func(ctx context.Context, _ model.ChangeUnit) (model.ClassificationResult, error) {
		<-ctx.Done()
		return model.ClassificationResult{}, model.NewProviderError("ollama", model.KindTimeout, ctx.Err())
	}}
	fast := &scriptedBackend{name: "openai"}

	policy := testPolicy()
	policy.RequestTimeout = 10 * time.Millisecond
	out, _, err := newSummarizer(policy, slow, fast).Summarize(context.Background(), units(1))
	require.NoError(t, err)
	require.Equal(t, "openai", out[0].Provider)
	require.EqualValues(t, 2, slow.calls.Load())
}

func TestSummarizeAuthFailureDisablesProvider(t *testing.T) {
	bad := failing("openai", model.KindAuth)
	good := &scriptedBackend{name: "anthropic"}

	policy := testPolicy()
	policy.Concurrency = 1
	out, warnings, err := newSummarizer(policy, bad, good).Summarize(context.Background(), units(3))
	require.NoError(t, err)
	require.Empty(t, warnings)
	for _, u := range out {
		require.Equal(t, "anthropic", u.Provider)
	}
	require.EqualValues(t, 1, bad.calls.Load())
	require.EqualValues(t, 3, good.calls.Load())
}

func TestSummarizeFallbackWhenEveryProviderFails(t *testing.T) {
	in := units(2)
	in[1].PR = &model.PullRequest{Number: 11, Title: "fix: Y"}
	in[1].Fallback = "fix: Y"

	out, warnings, err := newSummarizer(testPolicy(), failing("openai", model.KindServer), failing("anthropic", model.KindMalformed)).
		Summarize(context.Background(), in)
	require.NoError(t, err)
	require.Len(t, out, 2)

	require.Equal(t, model.CategoryOther, out[0].Category)
	require.Equal(t, "commit a", out[0].Summary)
	require.True(t, out[0].Degraded)
	require.Empty(t, out[0].Provider)

	require.Equal(t, model.CategoryOther, out[1].Category)
	require.Equal(t, "fix: Y", out[1].Summary)
	require.Equal(t, 11, out[1].PR.Number)

	require.Len(t, warnings, 1)
	require.ErrorIs(t, warnings[0], model.ErrClassificationDegraded)
}

func TestSummarizeWithoutProviders(t *testing.T) {
	out, warnings, err := newSummarizer(testPolicy()).Summarize(context.Background(), units(2))
	require.NoError(t, err)
	for _, u := range out {
		require.Equal(t, model.CategoryOther, u.Category)
		require.True(t, u.Degraded)
		require.True(t, strings.HasPrefix(u.Summary, "commit "))
	}
	require.Len(t, warnings, 1)
}

func TestSummarizeKeepsInputOrderUnderConcurrency(t *testing.T) {
	b := &scriptedBackend{name: "openai", answer: func(_ context.Context, u model.ChangeUnit) (model.ClassificationResult, error) {
		// Earlier units finish last.
		time.Sleep(time.Duration('j'-u.Commits[0][0]) * time.Millisecond)
		return model.ClassificationResult{Category: model.CategoryFix, Summary: u.Commits[0], Provider: "openai"}, nil
	}}

	in := units(8)
	policy := testPolicy()
	policy.Concurrency = 8
	out, _, err := newSummarizer(policy, b).Summarize(context.Background(), in)
	require.NoError(t, err)
	for i := range in {
		require.Equal(t, in[i].Commits, out[i].Commits)
		require.Equal(t, in[i].Commits[0], out[i].Summary)
	}
}

func TestSummarizeCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	b := &scriptedBackend{name: "openai", answer: func(ctx context.Context, _ model.ChangeUnit) (model.ClassificationResult, error) {
		cancel()
		<-ctx.Done()
		return model.ClassificationResult{}, ctx.Err()
	}}

	_, _, err := newSummarizer(testPolicy(), b).Summarize(ctx, units(3))
	require.ErrorIs(t, err, context.Canceled)
}
