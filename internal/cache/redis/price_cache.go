package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/yieldbet/internal/domain"
)

// PriceCache implements domain.PriceCache using Redis hashes. Each asset is
// a hash at "price:{asset}" with fields "value", "round" and "ts" (Unix
// nanoseconds).
type PriceCache struct {
	c   *Client
	rdb *redis.Client
}

// NewPriceCache creates a PriceCache backed by the given Client.
func NewPriceCache(c *Client) *PriceCache {
	return &PriceCache{c: c, rdb: c.Underlying()}
}

func (pc *PriceCache) key(asset string) string {
	return pc.c.Key("price:" + asset)
}

// SetObservation stores obs unless the cache already holds a later round.
func (pc *PriceCache) SetObservation(ctx context.Context, asset string, obs domain.Observation) error {
	err := setIfNewer.Run(ctx, pc.rdb, []string{pc.key(asset)},
		strconv.FormatInt(obs.Value, 10),
		strconv.FormatUint(obs.Round, 10),
		strconv.FormatInt(obs.UpdatedAt.UnixNano(), 10),
	).Err()
	if err != nil {
		return fmt.Errorf("redis: set observation %s: %w", asset, err)
	}
	return nil
}

// GetObservation returns the latest observation for asset, or
// domain.ErrNotFound when none has been written.
func (pc *PriceCache) GetObservation(ctx context.Context, asset string) (domain.Observation, error) {
	vals, err := pc.rdb.HGetAll(ctx, pc.key(asset)).Result()
	if err != nil {
		return domain.Observation{}, fmt.Errorf("redis: get observation %s: %w", asset, err)
	}
	obs, err := parseObservation(vals)
	if err != nil {
		return domain.Observation{}, fmt.Errorf("redis: get observation %s: %w", asset, err)
	}
	return obs, nil
}

// setIfNewer writes the hash only when the incoming round is not older than
// the stored one.
var setIfNewer = redis.NewScript(`
local cur = redis.call('HGET', KEYS[1], 'round')
if cur and tonumber(cur) > tonumber(ARGV[2]) then
    return 0
end
redis.call('HSET', KEYS[1], 'value', ARGV[1], 'round', ARGV[2], 'ts', ARGV[3])
return 1
`)

func parseObservation(vals map[string]string) (domain.Observation, error) {
	if len(vals) == 0 {
		return domain.Observation{}, domain.ErrNotFound
	}
	valueStr, ok1 := vals["value"]
	roundStr, ok2 := vals["round"]
	tsStr, ok3 := vals["ts"]
	if !ok1 || !ok2 || !ok3 {
		return domain.Observation{}, domain.ErrNotFound
	}

	value, err := strconv.ParseInt(valueStr, 10, 64)
	if err != nil {
		return domain.Observation{}, fmt.Errorf("parse value: %w", err)
	}
	round, err := strconv.ParseUint(roundStr, 10, 64)
	if err != nil {
		return domain.Observation{}, fmt.Errorf("parse round: %w", err)
	}
	tsNano, err := strconv.ParseInt(tsStr, 10, 64)
	if err != nil {
		return domain.Observation{}, fmt.Errorf("parse ts: %w", err)
	}
	return domain.Observation{Value: value, Round: round, UpdatedAt: time.Unix(0, tsNano).UTC()}, nil
}

// Compile-time interface check.
var _ domain.PriceCache = (*PriceCache)(nil)
