package redis

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/yieldbet/internal/domain"
)

// releaseTimeout bounds the DEL issued on unlock, which runs on a fresh
// context because the holder's context is often already done.
const releaseTimeout = 5 * time.Second

// compareAndDelete removes KEYS[1] only while it still carries ARGV[1].
var compareAndDelete = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('DEL', KEYS[1])
end
return 0
`)

// LockManager hands out TTL-bounded exclusive locks. Keepers use it so a
// pool is resolved by one process at a time.
type LockManager struct {
	c *Client
}

func NewLockManager(c *Client) *LockManager {
	return &LockManager{c: c}
}

// Acquire fails with domain.ErrLockHeld while another holder's token is
// live. The unlock func may be called more than once.
func (lm *LockManager) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	k := lm.lockKey(key)
	token := uuid.NewString()

	acquired, err := lm.c.Underlying().SetNX(ctx, k, token, ttl).Result()
	switch {
	case err != nil:
		return nil, fmt.Errorf("redis: lock %s: %w", key, err)
	case !acquired:
		return nil, fmt.Errorf("redis: lock %s: %w", key, domain.ErrLockHeld)
	}

	var once sync.Once
	return func() {
		once.Do(func() { lm.release(k, token) })
	}, nil
}

func (lm *LockManager) lockKey(key string) string {
	return lm.c.Key("lock:" + key)
}

func (lm *LockManager) release(key, token string) {
	ctx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
	defer cancel()
	_ = compareAndDelete.Run(ctx, lm.c.Underlying(), []string{key}, token).Err()
}

var _ domain.LockManager = (*LockManager)(nil)
