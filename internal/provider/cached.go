package provider

import (
	"context"
	"slices"

	"github.com/fairyhunter13/drug-price-aggregator/internal/cache"
	"github.com/fairyhunter13/drug-price-aggregator/internal/model"
	"github.com/fairyhunter13/drug-price-aggregator/internal/textnorm"
)

type cached struct {
	p Provider
	c *cache.Cache[[]model.RawCandidate]
}

// WithCache memoizes successful fetches of p in c, keyed by source and
// normalized query. Failures are never cached.
func WithCache(p Provider, c *cache.Cache[[]model.RawCandidate]) Provider {
	if c == nil {
		return p
	}
	return &cached{p: p, c: c}
}

func (c *cached) Name() string { return c.p.Name() }

func (c *cached) Fetch(ctx context.Context, query string) ([]model.RawCandidate, error) {
	key := c.p.Name() + "\x00" + textnorm.Key(query)
	if v, ok := c.c.Get(key); ok {
		return slices.Clone(v), nil
	}
	v, err := c.p.Fetch(ctx, query)
	if err != nil {
		return nil, err
	}
	c.c.Set(key, slices.Clone(v))
	return v, nil
}
