package oracle

import (
	"context"
	"fmt"
	"time"

	"github.com/alanyoungcy/yieldbet/internal/domain"
)

// Cached serves the latest observation the price feed wrote to the cache.
// A tick older than maxAge is refused, so a dead feed cannot settle a pool
// on its last value.
type Cached struct {
	cache  domain.PriceCache
	asset  string
	maxAge time.Duration
	clock  domain.Clock
}

// NewCached returns an oracle reading asset from cache. maxAge <= 0 accepts
// any age; a nil clock is the system clock.
func NewCached(cache domain.PriceCache, asset string, maxAge time.Duration, clock domain.Clock) *Cached {
	if clock == nil {
		clock = domain.SystemClock{}
	}
	return &Cached{cache: cache, asset: asset, maxAge: maxAge, clock: clock}
}

// LatestValue returns the cached observation. A missing entry is
// domain.ErrNotFound and an old one domain.ErrStale.
func (c *Cached) LatestValue(ctx context.Context) (domain.Observation, error) {
	obs, err := c.cache.GetObservation(ctx, c.asset)
	if err != nil {
		return domain.Observation{}, fmt.Errorf("oracle: latest %s: %w", c.asset, err)
	}
	if c.maxAge > 0 {
		if age := c.clock.Now().Sub(obs.UpdatedAt); age > c.maxAge {
			return domain.Observation{}, fmt.Errorf("oracle: latest %s: round %d is %s old (max %s): %w",
				c.asset, obs.Round, age.Round(time.Second), c.maxAge, domain.ErrStale)
		}
	}
	return obs, nil
}
