// Package pipeline wires range resolution, association, summarization and
// rendering into a single run.
package pipeline

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/schacon/git-glance/ai"
	"github.com/schacon/git-glance/associate"
	"github.com/schacon/git-glance/config"
	"github.com/schacon/git-glance/git"
	"github.com/schacon/git-glance/github"
	"github.com/schacon/git-glance/model"
	"github.com/schacon/git-glance/probe"
	"github.com/schacon/git-glance/render"
	"github.com/schacon/git-glance/summarize"
)

type Stage string

const (
	StageResolve   Stage = "Resolving commit range"
	StageAssociate Stage = "Matching commits to pull requests"
	StageSummarize Stage = "Summarizing changes"
	StageRender    Stage = "Rendering changelog"
)

// Deps are the collaborators of a run. PRs is nil when the pull request source
// was unavailable; Backends holds only the providers that passed their check.
type Deps struct {
	Commits  git.CommitSource
	PRs      github.Source
	Backends []ai.Backend
}

type Pipeline struct {
	log        *zap.SugaredLogger
	resolver   *git.Resolver
	associator *associate.Associator
	summarizer *summarize.Summarizer

	// OnStage, if set, is called as each stage starts.
	OnStage func(Stage)
}

type Result struct {
	RunID    string
	Range    git.Resolved
	Units    []model.ChangeUnit
	Markdown string
	Warnings []error
}

func New(log *zap.SugaredLogger, cfg *config.Config, deps Deps) (*Pipeline, error) {
	matcher, err := associate.NewMatcher(cfg.Association.MergePatterns, cfg.Association.SquashPatterns)
	if err != nil {
		return nil, fmt.Errorf("association patterns: %w", err)
	}

	assoc := associate.New(log, deps.PRs, deps.Commits, matcher, associate.Options{
		Workers:        cfg.GitHub.Workers,
		Timeout:        cfg.GitHub.Timeout,
		MaxRetries:     cfg.GitHub.MaxRetries,
		InitialBackoff: cfg.AI.InitialBackoff,
		MaxBackoff:     cfg.AI.MaxBackoff,
	})
	sum := summarize.New(log, deps.Backends, summarize.Policy{
		MaxRetries:     cfg.AI.MaxRetries,
		InitialBackoff: cfg.AI.InitialBackoff,
		MaxBackoff:     cfg.AI.MaxBackoff,
		RequestTimeout: cfg.AI.RequestTimeout,
		Concurrency:    cfg.AI.Concurrency,
	})

	return &Pipeline{
		log:        log,
		resolver:   git.NewResolver(log, deps.Commits),
		associator: assoc,
		summarizer: sum,
	}, nil
}

// Available keeps the backends whose check passed, in their original order.
func Available(snap probe.Snapshot, backends []ai.Backend) []ai.Backend {
	out := make([]ai.Backend, 0, len(backends))
	for _, b := range backends {
		if snap.Available(b.Name()) {
			out = append(out, b)
		}
	}
	return out
}

// Run produces the changelog for expr. Nothing is written anywhere; the caller
// decides what to do with the document once the whole run has finished.
func (p *Pipeline) Run(ctx context.Context, expr git.RangeExpr, opts render.Options) (Result, error) {
	res := Result{RunID: uuid.NewString()}
	log := p.log.With("run_id", res.RunID)
	log.Infow("starting run", "range", expr.String())

	p.stage(StageResolve)
	rng, err := p.resolver.Resolve(ctx, expr)
	if err != nil {
		return res, err
	}
	res.Range = rng

	p.stage(StageAssociate)
	units, report, err := p.associator.Associate(ctx, rng.Commits)
	if err != nil {
		return res, err
	}
	res.Warnings = append(res.Warnings, report.Warnings...)

	p.stage(StageSummarize)
	units, warnings, err := p.summarizer.Summarize(ctx, units)
	if err != nil {
		return res, err
	}
	res.Warnings = append(res.Warnings, warnings...)
	res.Units = units

	p.stage(StageRender)
	if opts.Title == "" && opts.Release == "" && rng.Expr.To != "HEAD" {
		opts.Release = rng.Expr.To
		opts.Date = rng.ToTime
	}
	res.Markdown = render.Markdown(units, opts)

	log.Infow("run finished", "commits", len(rng.Commits), "entries", len(units), "warnings", len(res.Warnings))
	return res, nil
}

func (p *Pipeline) stage(s Stage) {
	if p.OnStage != nil {
		p.OnStage(s)
	}
}
