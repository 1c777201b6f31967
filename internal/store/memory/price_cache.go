package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/alanyoungcy/yieldbet/internal/domain"
)

// PriceCache implements domain.PriceCache in process. Like the Redis cache
// it ignores observations older than the stored round.
type PriceCache struct {
	mu  sync.RWMutex
	obs map[string]domain.Observation
}

// NewPriceCache creates an empty PriceCache.
func NewPriceCache() *PriceCache {
	return &PriceCache{obs: make(map[string]domain.Observation)}
}

// SetObservation stores obs unless a newer round is already cached.
func (c *PriceCache) SetObservation(_ context.Context, asset string, obs domain.Observation) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if prev, ok := c.obs[asset]; ok && prev.Round > obs.Round {
		return nil
	}
	c.obs[asset] = obs
	return nil
}

// GetObservation returns the cached observation or domain.ErrNotFound.
func (c *PriceCache) GetObservation(_ context.Context, asset string) (domain.Observation, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	obs, ok := c.obs[asset]
	if !ok {
		return domain.Observation{}, fmt.Errorf("memory: observation %s: %w", asset, domain.ErrNotFound)
	}
	return obs, nil
}
