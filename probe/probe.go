// Package probe checks which external collaborators are usable before a run starts.
package probe

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

type Checker interface {
	Name() string
	Check(ctx context.Context) error
}

// Snapshot records, once per run, whether each collaborator answered its check.
type Snapshot struct {
	results map[string]error
}

func (s Snapshot) Available(name string) bool {
	err, ok := s.results[name]
	return ok && err == nil
}

// Err returns the check failure for name, or nil.
func (s Snapshot) Err(name string) error {
	return s.results[name]
}

// Names returns the checked names in sorted order.
func (s Snapshot) Names() []string {
	names := make([]string, 0, len(s.results))
	for n := range s.results {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Take runs every check concurrently, each under its own timeout.
func Take(ctx context.Context, log *zap.SugaredLogger, timeout time.Duration, checkers ...Checker) Snapshot {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	snap := Snapshot{results: make(map[string]error, len(checkers))}
	var mu sync.Mutex

	var g errgroup.Group
	for _, c := range checkers {
		g.Go(func() error {
			checkCtx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			err := c.Check(checkCtx)
			mu.Lock()
			snap.results[c.Name()] = err
			mu.Unlock()

			if err != nil {
				log.Debugw("collaborator unavailable", "name", c.Name(), "error", err)
			}
			return nil
		})
	}
	_ = g.Wait()
	return snap
}
