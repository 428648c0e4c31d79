package associate

import (
	"context"
	"errors"
	"strconv"

	"github.com/patrickmn/go-cache"
	"golang.org/x/sync/singleflight"

	"github.com/schacon/git-glance/model"
)

// prCache holds pull request metadata for one run. Each number is fetched at most once
// at a time; successes and "not found" answers are remembered, transient failures are not.
type prCache struct {
	store *cache.Cache
	group singleflight.Group
}

type cacheEntry struct {
	pr  *model.PullRequest
	err error
}

func newPRCache() *prCache {
	return &prCache{store: cache.New(cache.NoExpiration, 0)}
}

func (c *prCache) get(ctx context.Context, number int, fetch func(context.Context) (*model.PullRequest, error)) (*model.PullRequest, error) {
	key := strconv.Itoa(number)
	if e, ok := c.lookup(key); ok {
		return e.pr, e.err
	}

	v, err, _ := c.group.Do(key, func() (any, error) {
		if e, ok := c.lookup(key); ok {
			return e.pr, e.err
		}
		pr, err := fetch(ctx)
		if err == nil || errors.Is(err, model.ErrPRNotFound) {
			c.store.SetDefault(key, cacheEntry{pr: pr, err: err})
		}
		return pr, err
	})
	pr, _ := v.(*model.PullRequest)
	return pr, err
}

// put records metadata discovered through a commit lookup and returns the canonical
// copy, so every commit of a pull request shares one value.
func (c *prCache) put(pr *model.PullRequest) *model.PullRequest {
	if pr == nil {
		return nil
	}
	key := strconv.Itoa(pr.Number)
	if err := c.store.Add(key, cacheEntry{pr: pr}, cache.NoExpiration); err != nil {
		if e, ok := c.lookup(key); ok && e.pr != nil {
			return e.pr
		}
		c.store.SetDefault(key, cacheEntry{pr: pr})
	}
	return pr
}

func (c *prCache) lookup(key string) (cacheEntry, bool) {
	v, ok := c.store.Get(key)
	if !ok {
		return cacheEntry{}, false
	}
	return v.(cacheEntry), true
}
