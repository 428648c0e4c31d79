// Package summarize turns change units into categorized one line summaries,
// falling back across AI providers and finally to the units' own text.
package summarize

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/schacon/git-glance/ai"
	"github.com/schacon/git-glance/model"
)

// Policy bounds the work spent on each provider.
type Policy struct {
	// MaxRetries is the number of extra attempts per provider after the first.
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	RequestTimeout time.Duration
	Concurrency    int
}

func (p Policy) withDefaults() Policy {
	if p.MaxRetries < 0 {
		p.MaxRetries = 0
	}
	if p.InitialBackoff <= 0 {
		p.InitialBackoff = 500 * time.Millisecond
	}
	if p.MaxBackoff <= 0 {
		p.MaxBackoff = 5 * time.Second
	}
	if p.RequestTimeout <= 0 {
		p.RequestTimeout = 30 * time.Second
	}
	if p.Concurrency < 1 {
		p.Concurrency = 1
	}
	return p
}

type Summarizer struct {
	log      *zap.SugaredLogger
	backends []ai.Backend
	policy   Policy

	mu       sync.Mutex
	disabled map[string]error
}

// New takes the backends in priority order, already filtered to the ones that were
// available when the run started.
func New(log *zap.SugaredLogger, backends []ai.Backend, policy Policy) *Summarizer {
	return &Summarizer{
		log:      log,
		backends: backends,
		policy:   policy.withDefaults(),
		disabled: map[string]error{},
	}
}

// Summarize classifies every unit and returns them in input order. A unit no provider
// could classify gets category other, its fallback summary and Degraded set.
// Only cancellation of ctx is returned as an error.
func (s *Summarizer) Summarize(ctx context.Context, units []model.ChangeUnit) ([]model.ChangeUnit, []error, error) {
	out := make([]model.ChangeUnit, len(units))
	copy(out, units)
	if len(units) == 0 {
		return out, nil, nil
	}
	if len(s.backends) == 0 {
		s.log.Warnw("no ai provider available, using commit and pull request text")
	}

	var g errgroup.Group
	g.SetLimit(s.policy.Concurrency)
	for i := range out {
		g.Go(func() error {
			res := s.classify(ctx, out[i])
			out[i].Category = res.Category
			out[i].Summary = res.Summary
			out[i].Provider = res.Provider
			out[i].Degraded = res.Fallback
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	var warnings []error
	degraded := 0
	for _, u := range out {
		if u.Degraded {
			degraded++
		}
	}
	if degraded > 0 {
		warnings = append(warnings, fmt.Errorf("%w: %d of %d entries were not summarized by any provider", model.ErrClassificationDegraded, degraded, len(out)))
		s.log.Warnw("classification degraded", "entries", degraded, "total", len(out))
	}
	s.log.Infow("summarized change units", "units", len(out), "degraded", degraded)
	return out, warnings, nil
}

// classify walks the providers in priority order and falls back to the unit's own text.
func (s *Summarizer) classify(ctx context.Context, unit model.ChangeUnit) model.ClassificationResult {
	for _, b := range s.backends {
		if ctx.Err() != nil {
			break
		}
		if s.isDisabled(b.Name()) {
			continue
		}
		res, err := s.attempt(ctx, b, unit)
		if err == nil {
			if res.Provider == "" {
				res.Provider = b.Name()
			}
			return res
		}
		if ctx.Err() != nil {
			break
		}
		if errors.Is(err, model.ErrProviderUnavailable) {
			s.disable(b.Name(), err)
		}
		s.log.Debugw("provider failed, trying next", "provider", b.Name(), "commits", len(unit.Commits), "error", err)
	}
	return model.ClassificationResult{
		Category: model.CategoryOther,
		Summary:  unit.FallbackSummary(),
		Fallback: true,
	}
}

// attempt sends the unit to one provider, retrying retryable failures with backoff.
func (s *Summarizer) attempt(ctx context.Context, b ai.Backend, unit model.ChangeUnit) (model.ClassificationResult, error) {
	op := func() (model.ClassificationResult, error) {
		reqCtx, cancel := context.WithTimeout(ctx, s.policy.RequestTimeout)
		defer cancel()

		res, err := b.Classify(reqCtx, unit)
		if err == nil {
			return res, nil
		}
		if ctx.Err() != nil {
			return res, backoff.Permanent(ctx.Err())
		}
		var pe *model.ProviderError
		if errors.As(err, &pe) && !pe.Retryable() {
			return res, backoff.Permanent(err)
		}
		return res, err
	}

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = s.policy.InitialBackoff
	eb.MaxInterval = s.policy.MaxBackoff
	eb.MaxElapsedTime = 0
	return backoff.RetryWithData(op, backoff.WithContext(backoff.WithMaxRetries(eb, uint64(s.policy.MaxRetries)), ctx))
}

func (s *Summarizer) isDisabled(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.disabled[name]
	return ok
}

func (s *Summarizer) disable(name string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.disabled[name]; ok {
		return
	}
	s.disabled[name] = err
	s.log.Warnw("provider rejected the request, disabled for this run", "provider", name, "error", err)
}
