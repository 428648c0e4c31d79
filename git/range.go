package git

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/schacon/git-glance/model"
)

// RangeExpr names the exclusive lower and inclusive upper bound of a range.
// An empty From means "the latest tag reachable from To".
type RangeExpr struct {
	From string
	To   string
}

func (e RangeExpr) String() string {
	return fmt.Sprintf("%s..%s", e.From, e.To)
}

// ParseRange accepts "from..to", "from.." or a single "from" (meaning from..HEAD).
func ParseRange(expr string) (RangeExpr, error) {
	expr = strings.TrimSpace(expr)
	if strings.Contains(expr, "...") {
		return RangeExpr{}, fmt.Errorf("%w: symmetric difference %q is not supported", model.ErrRange, expr)
	}
	from, to, found := strings.Cut(expr, "..")
	if !found {
		to = ""
	}
	from, to = strings.TrimSpace(from), strings.TrimSpace(to)
	if to == "" {
		to = "HEAD"
	}
	return RangeExpr{From: from, To: to}, nil
}

// Resolved is a concrete range: both ends pinned to commit hashes.
type Resolved struct {
	Expr    RangeExpr
	FromSHA string
	ToSHA   string
	ToTime  time.Time
	Commits []model.Commit
}

type Resolver struct {
	src CommitSource
	log *zap.SugaredLogger
}

func NewResolver(log *zap.SugaredLogger, src CommitSource) *Resolver {
	return &Resolver{src: src, log: log}
}

// Resolve turns a range expression into an ordered commit list, oldest first.
func (r *Resolver) Resolve(ctx context.Context, expr RangeExpr) (Resolved, error) {
	if expr.To == "" {
		expr.To = "HEAD"
	}

	toSHA, err := r.resolveRef(ctx, expr.To)
	if err != nil {
		return Resolved{}, err
	}

	if expr.From == "" {
		tag, err := r.lowerBoundTag(ctx, expr.To, toSHA)
		if err != nil {
			return Resolved{}, err
		}
		expr.From = tag
		r.log.Infow("no lower bound given, using latest tag", "tag", tag)
	}

	fromSHA, err := r.resolveRef(ctx, expr.From)
	if err != nil {
		return Resolved{}, err
	}

	ok, err := r.src.IsAncestor(ctx, fromSHA, toSHA)
	if err != nil {
		return Resolved{}, r.fatal(err)
	}
	if !ok {
		return Resolved{}, fmt.Errorf("%w: %w: %s is not an ancestor of %s", model.ErrRange, model.ErrDisconnectedRange, expr.From, expr.To)
	}

	res := Resolved{Expr: expr, FromSHA: fromSHA, ToSHA: toSHA}
	if ts, err := r.src.CommitTime(ctx, toSHA); err == nil {
		res.ToTime = ts
	}
	if fromSHA == toSHA {
		return res, nil
	}

	commits, err := r.src.Log(ctx, fromSHA, toSHA)
	if err != nil {
		return Resolved{}, r.fatal(err)
	}
	res.Commits = commits

	r.log.Infow("resolved range", "range", expr.String(), "commits", len(commits))
	return res, nil
}

func (r *Resolver) resolveRef(ctx context.Context, ref string) (string, error) {
	sha, err := r.src.ResolveRef(ctx, ref)
	if err != nil {
		if errors.Is(err, model.ErrUnresolvableRef) {
			return "", fmt.Errorf("%w: %w", model.ErrRange, err)
		}
		return "", r.fatal(err)
	}
	return sha, nil
}

// lowerBoundTag finds the latest tag strictly before toSHA, so that running on a
// freshly tagged release still covers the commits since the previous tag.
func (r *Resolver) lowerBoundTag(ctx context.Context, to, toSHA string) (string, error) {
	tag, err := r.src.LatestTag(ctx, to)
	if err == nil {
		tagSHA, rerr := r.src.ResolveRef(ctx, tag)
		if rerr == nil && tagSHA != toSHA {
			return tag, nil
		}
		tag, err = r.src.LatestTag(ctx, toSHA+"^")
	}
	if err != nil {
		if errors.Is(err, model.ErrUnresolvableRef) {
			return "", fmt.Errorf("%w: no tags found and no lower bound given", model.ErrRange)
		}
		return "", r.fatal(err)
	}
	return tag, nil
}

func (r *Resolver) fatal(err error) error {
	if errors.Is(err, model.ErrCommitSourceUnavailable) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("%w: %w", model.ErrCommitSourceUnavailable, err)
}
