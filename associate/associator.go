package associate

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/schacon/git-glance/git"
	"github.com/schacon/git-glance/github"
	"github.com/schacon/git-glance/model"
)

type Options struct {
	Workers        int
	Timeout        time.Duration
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

func (o Options) withDefaults() Options {
	if o.Workers < 1 {
		o.Workers = 1
	}
	if o.Timeout <= 0 {
		o.Timeout = 15 * time.Second
	}
	if o.InitialBackoff <= 0 {
		o.InitialBackoff = 250 * time.Millisecond
	}
	if o.MaxBackoff <= 0 {
		o.MaxBackoff = 2 * time.Second
	}
	return o
}

// Report describes how far association had to degrade.
type Report struct {
	Warnings []error
	// Degraded is set when the pull request source was unusable for the run.
	Degraded bool
	Orphans  int
}

// Associator maps commits to pull requests. A nil source means the platform was
// unavailable at run start and every commit becomes an orphan.
type Associator struct {
	log     *zap.SugaredLogger
	prs     github.Source
	commits git.CommitSource
	matcher *Matcher
	opts    Options
	cache   *prCache

	unavailable atomic.Bool
}

func New(log *zap.SugaredLogger, prs github.Source, commits git.CommitSource, matcher *Matcher, opts Options) *Associator {
	return &Associator{
		log:     log,
		prs:     prs,
		commits: commits,
		matcher: matcher,
		opts:    opts.withDefaults(),
		cache:   newPRCache(),
	}
}

// Associate returns one change unit per pull request plus one per orphan commit, ordered by
// each unit's earliest commit. Only cancellation of ctx is returned as an error.
func (a *Associator) Associate(ctx context.Context, commits []model.Commit) ([]model.ChangeUnit, Report, error) {
	var report Report
	if len(commits) == 0 {
		return nil, report, nil
	}

	if a.prs == nil {
		a.unavailable.Store(true)
	}

	assocs := make([]model.Association, len(commits))
	var g errgroup.Group
	g.SetLimit(a.opts.Workers)
	for i, c := range commits {
		g.Go(func() error {
			assocs[i] = a.resolve(ctx, c)
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return nil, report, err
	}

	failed, attempted := 0, 0
	for i, as := range assocs {
		if as.Via == model.ViaRemote || as.Via == model.ViaPattern {
			attempted++
		}
		if as.Kind == model.Resolved || as.Err == nil || errors.Is(as.Err, model.ErrPRNotFound) {
			continue
		}
		failed++
		if errors.Is(as.Err, model.ErrPRSourceUnavailable) {
			continue
		}
		warn := fmt.Errorf("%w: commit %s: %v", model.ErrAssociationDegraded, commits[i].ShortHash(), as.Err)
		report.Warnings = append(report.Warnings, warn)
		a.log.Warnw("pull request lookup failed, keeping commit as orphan", "commit", commits[i].ShortHash(), "error", as.Err)
	}

	if a.unavailable.Load() || (attempted > 1 && failed == attempted) {
		report.Degraded = true
		report.Warnings = append(report.Warnings, fmt.Errorf("%w: pull request source unavailable, every unmatched commit is listed on its own", model.ErrAssociationDegraded))
		a.log.Warnw("pull request source unavailable, association degraded")
	}

	units := group(commits, assocs)
	for _, u := range units {
		if u.Orphan() {
			report.Orphans++
		}
	}
	a.log.Infow("associated commits", "commits", len(commits), "units", len(units), "orphans", report.Orphans)
	return units, report, nil
}

// resolve applies the cheap pattern path first and falls back to a remote lookup.
func (a *Associator) resolve(ctx context.Context, c model.Commit) model.Association {
	if ctx.Err() != nil {
		return model.Association{Kind: model.Unresolved, Err: ctx.Err()}
	}
	if c.Parents == nil && a.commits != nil {
		parents, err := a.commits.Parents(ctx, c.Hash)
		if err != nil {
			a.log.Debugw("could not read parents", "commit", c.ShortHash(), "error", err)
		}
		c.Parents = parents
	}

	if n, ok := a.matcher.Match(c); ok {
		if a.unavailable.Load() {
			return model.Association{Kind: model.Unresolved, Number: n, Via: model.ViaPattern, Err: model.ErrPRSourceUnavailable}
		}
		pr, err := a.pullRequest(ctx, n)
		return a.association(n, model.ViaPattern, pr, err)
	}

	if a.unavailable.Load() {
		return model.Association{Kind: model.Unresolved}
	}
	found, err := a.call(ctx, func(ctx context.Context) (*model.PullRequest, error) {
		return a.prs.PullRequestForCommit(ctx, c.Hash)
	})
	if err != nil {
		return a.association(0, model.ViaRemote, nil, err)
	}

	// Commit lookups carry no comments; every commit of a pull request shares one full fetch.
	pr, err := a.pullRequest(ctx, found.Number)
	if err != nil {
		if ctx.Err() != nil {
			return a.association(found.Number, model.ViaRemote, nil, ctx.Err())
		}
		a.log.Debugw("could not fetch pull request details", "pr", found.Number, "error", err)
		pr = a.cache.put(found)
	}
	return a.association(pr.Number, model.ViaRemote, pr, nil)
}

// pullRequest returns the cached metadata for number, fetching it at most once per run.
func (a *Associator) pullRequest(ctx context.Context, number int) (*model.PullRequest, error) {
	return a.cache.get(ctx, number, func(ctx context.Context) (*model.PullRequest, error) {
		return a.call(ctx, func(ctx context.Context) (*model.PullRequest, error) {
			return a.prs.PullRequest(ctx, number)
		})
	})
}

func (a *Associator) association(n int, via model.AssociationVia, pr *model.PullRequest, err error) model.Association {
	switch {
	case err == nil && pr != nil:
		return model.Association{Kind: model.Resolved, Number: pr.Number, Via: via, PR: pr}
	case err == nil, errors.Is(err, model.ErrPRNotFound):
		return model.Association{Kind: model.Unresolved, Number: n, Via: via, Err: err}
	case errors.Is(err, model.ErrPRSourceUnavailable):
		return model.Association{Kind: model.Unresolved, Number: n, Via: via, Err: err}
	default:
		return model.Association{Kind: model.TransientFailure, Number: n, Via: via, Err: err}
	}
}

// call runs one lookup under a per-call timeout, retrying transient failures with backoff.
// "Not found" is never retried; an unavailable source disables lookups for the rest of the run.
func (a *Associator) call(ctx context.Context, fn func(context.Context) (*model.PullRequest, error)) (*model.PullRequest, error) {
	var pr *model.PullRequest
	op := func() error {
		if a.unavailable.Load() {
			return backoff.Permanent(model.ErrPRSourceUnavailable)
		}
		callCtx, cancel := context.WithTimeout(ctx, a.opts.Timeout)
		defer cancel()

		p, err := fn(callCtx)
		switch {
		case err == nil:
			pr = p
			return nil
		case ctx.Err() != nil:
			return backoff.Permanent(ctx.Err())
		case errors.Is(err, context.DeadlineExceeded):
			return fmt.Errorf("%w: timed out after %s", model.ErrPRTransient, a.opts.Timeout)
		case errors.Is(err, model.ErrPRTransient):
			return err
		case errors.Is(err, model.ErrPRSourceUnavailable):
			if a.unavailable.CompareAndSwap(false, true) {
				a.log.Warnw("pull request source rejected the request, skipping further lookups", "error", err)
			}
			return backoff.Permanent(err)
		default:
			return backoff.Permanent(err)
		}
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = a.opts.InitialBackoff
	b.MaxInterval = a.opts.MaxBackoff
	b.MaxElapsedTime = 0
	err := backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(b, uint64(a.opts.MaxRetries)), ctx))
	return pr, err
}

func group(commits []model.Commit, assocs []model.Association) []model.ChangeUnit {
	units := make([]model.ChangeUnit, 0, len(commits))
	byNumber := map[int]int{}
	for i, c := range commits {
		as := assocs[i]
		if as.Kind == model.Resolved && as.PR != nil {
			if idx, ok := byNumber[as.PR.Number]; ok {
				units[idx].Commits = append(units[idx].Commits, c.Hash)
				units[idx].Messages = append(units[idx].Messages, c.Message)
				continue
			}
			byNumber[as.PR.Number] = len(units)
		}
		u := model.ChangeUnit{
			Commits:  []string{c.Hash},
			Messages: []string{c.Message},
			Fallback: c.Message,
		}
		if as.Kind == model.Resolved {
			u.PR = as.PR
		}
		units = append(units, u)
	}
	return units
}
