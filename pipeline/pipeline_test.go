package pipeline

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/schacon/git-glance/ai"
	"github.com/schacon/git-glance/config"
	"github.com/schacon/git-glance/git"
	"github.com/schacon/git-glance/model"
	"github.com/schacon/git-glance/probe"
	"github.com/schacon/git-glance/render"
)

// history is an in-memory commit source with a linear list of commits.
type history struct {
	refs    map[string]string
	commits []model.Commit
	tag     string
}

func (h history) ResolveRef(_ context.Context, ref string) (string, error) {
	if sha, ok := h.refs[ref]; ok {
		return sha, nil
	}
	return "", model.ErrUnresolvableRef
}

func (h history) IsAncestor(context.Context, string, string) (bool, error) { return true, nil }

func (h history) Log(_ context.Context, from, to string) ([]model.Commit, error) {
	var out []model.Commit
	started := false
	for _, c := range h.commits {
		if started {
			out = append(out, c)
		}
		if c.Hash == from {
			started = true
		}
		if c.Hash == to {
			break
		}
	}
	return out, nil
}

func (h history) Parents(context.Context, string) ([]string, error) { return nil, nil }

func (h history) LatestTag(_ context.Context, ref string) (string, error) {
	if h.tag == "" {
		return "", model.ErrUnresolvableRef
	}
	return h.tag, nil
}

func (h history) CommitTime(context.Context, string) (time.Time, error) {
	return time.Date(2024, time.June, 1, 0, 0, 0, 0, time.UTC), nil
}

type prs map[int]*model.PullRequest

func (p prs) PullRequest(_ context.Context, n int) (*model.PullRequest, error) {
	if pr, ok := p[n]; ok {
		return pr, nil
	}
	return nil, model.ErrPRNotFound
}

func (p prs) PullRequestForCommit(context.Context, string) (*model.PullRequest, error) {
	return nil, model.ErrPRNotFound
}

// cannedBackend classifies from the pull request title prefix.
type cannedBackend struct{ name string }

func (b cannedBackend) Name() string                { return b.name }
func (b cannedBackend) Check(context.Context) error { return nil }

func (b cannedBackend) Classify(_ context.Context, u model.ChangeUnit) (model.ClassificationResult, error) {
	if u.PR == nil {
		return model.ClassificationResult{}, model.NewProviderError(b.name, model.KindMalformed, errors.New("no idea"))
	}
	tag, summary, _ := strings.Cut(u.PR.Title, ": ")
	c, _ := model.ParseCategory(tag)
	return model.ClassificationResult{Category: c, Summary: summary, Provider: b.name}, nil
}

func testConfig() *config.Config {
	return &config.Config{
		GitHub:      config.GitHubConfig{Workers: 2, Timeout: time.Second},
		Association: config.AssociationConfig{MergePatterns: config.DefaultMergePatterns},
		AI: config.AIConfig{
			Concurrency:    2,
			InitialBackoff: time.Millisecond,
			MaxBackoff:     time.Millisecond,
			RequestTimeout: time.Second,
		},
	}
}

func sampleHistory() history {
	return history{
		refs: map[string]string{"v1.0.0": "base", "HEAD": "c3", "v1.1.0": "c3"},
		tag:  "v1.0.0",
		commits: []model.Commit{
			{Hash: "base", Message: "initial"},
			{Hash: "m10aaaaaaa", Parents: []string{"base", "f1"}, Message: "Merge pull request #10 from org/x\n\nfeature: X"},
			{Hash: "m11bbbbbbb", Parents: []string{"m10aaaaaaa", "f2"}, Message: "Merge pull request #11 from org/y\n\nfix: Y"},
			{Hash: "c3", Parents: []string{"m11bbbbbbb"}, Message: "tweak readme\n\ndetails"},
		},
	}
}

func samplePRs() prs {
	return prs{
		10: {Number: 10, Title: "feature: X", URL: "https://github.com/org/repo/pull/10"},
		11: {Number: 11, Title: "fix: Y", URL: "https://github.com/org/repo/pull/11"},
	}
}

func TestRunEndToEnd(t *testing.T) {
	p, err := New(zap.NewNop().Sugar(), testConfig(), Deps{
		Commits:  sampleHistory(),
		PRs:      samplePRs(),
		Backends: []ai.Backend{cannedBackend{name: "openai"}},
	})
	require.NoError(t, err)

	var stages []Stage
	p.OnStage = func(s Stage) { stages = append(stages, s) }

	res, err := p.Run(context.Background(), git.RangeExpr{From: "v1.0.0", To: "HEAD"}, render.Options{Title: "Changelog"})
	require.NoError(t, err)
	require.NotEmpty(t, res.RunID)
	require.Equal(t, []Stage{StageResolve, StageAssociate, StageSummarize, StageRender}, stages)
	require.Len(t, res.Range.Commits, 3)
	require.Len(t, res.Units, 3)

	want := `# Changelog

## Features

- X ([#10](https://github.com/org/repo/pull/10) feature: X)

## Fixes

- Y ([#11](https://github.com/org/repo/pull/11) fix: Y)

## Other

- tweak readme (c3)
`
	require.Equal(t, want, res.Markdown)

	// Only the orphan fell back.
	require.Len(t, res.Warnings, 1)
	require.ErrorIs(t, res.Warnings[0], model.ErrClassificationDegraded)
}

func TestRunWithoutCollaborators(t *testing.T) {
	p, err := New(zap.NewNop().Sugar(), testConfig(), Deps{Commits: sampleHistory()})
	require.NoError(t, err)

	res, err := p.Run(context.Background(), git.RangeExpr{}, render.Options{})
	require.NoError(t, err)
	require.Len(t, res.Units, 3)
	for _, u := range res.Units {
		require.True(t, u.Orphan())
		require.Equal(t, model.CategoryOther, u.Category)
	}
	require.Contains(t, res.Markdown, "- Merge pull request #10 from org/x (m10aaaa)")
	require.Contains(t, res.Markdown, "- tweak readme (c3)")

	var assoc, class bool
	for _, w := range res.Warnings {
		assoc = assoc || errors.Is(w, model.ErrAssociationDegraded)
		class = class || errors.Is(w, model.ErrClassificationDegraded)
	}
	require.True(t, assoc)
	require.True(t, class)
}

func TestRunReleaseHeading(t *testing.T) {
	p, err := New(zap.NewNop().Sugar(), testConfig(), Deps{Commits: sampleHistory(), PRs: samplePRs()})
	require.NoError(t, err)

	res, err := p.Run(context.Background(), git.RangeExpr{To: "v1.1.0"}, render.Options{})
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(res.Markdown, "# v1.1.0 (June 1, 2024)\n"), res.Markdown)
}

func TestRunRangeErrorIsFatal(t *testing.T) {
	p, err := New(zap.NewNop().Sugar(), testConfig(), Deps{Commits: sampleHistory()})
	require.NoError(t, err)

	_, err = p.Run(context.Background(), git.RangeExpr{From: "nope", To: "HEAD"}, render.Options{})
	require.ErrorIs(t, err, model.ErrRange)
}

func TestNewRejectsBadPatterns(t *testing.T) {
	cfg := testConfig()
	cfg.Association.MergePatterns = []string{"("}
	_, err := New(zap.NewNop().Sugar(), cfg, Deps{Commits: sampleHistory()})
	require.Error(t, err)
}

func TestAvailable(t *testing.T) {
	backends := []ai.Backend{cannedBackend{name: "openai"}, cannedBackend{name: "anthropic"}, cannedBackend{name: "ollama"}}
	checkers := make([]probe.Checker, len(backends))
	for i, b := range backends {
		checkers[i] = b
	}
	snap := probe.Take(context.Background(), zap.NewNop().Sugar(), time.Second, checkers...)
	require.Len(t, Available(snap, backends), 3)

	empty := probe.Take(context.Background(), zap.NewNop().Sugar(), time.Second)
	require.Empty(t, Available(empty, backends))
}
