package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/alanyoungcy/yieldbet/internal/domain"
)

// LockManager implements domain.LockManager in process with the same TTL
// semantics as the Redis locks.
type LockManager struct {
	mu   sync.Mutex
	held map[string]heldLock
	seq  uint64
	now  func() time.Time
}

type heldLock struct {
	token   uint64
	expires time.Time
}

func NewLockManager() *LockManager {
	return &LockManager{held: make(map[string]heldLock), now: time.Now}
}

// Acquire fails with domain.ErrLockHeld while an unexpired holder exists.
func (m *LockManager) Acquire(_ context.Context, key string, ttl time.Duration) (func(), error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if h, ok := m.held[key]; ok && now.Before(h.expires) {
		return nil, fmt.Errorf("memory: lock %s: %w", key, domain.ErrLockHeld)
	}
	m.seq++
	token := m.seq
	m.held[key] = heldLock{token: token, expires: now.Add(ttl)}

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			defer m.mu.Unlock()
			if h, ok := m.held[key]; ok && h.token == token {
				delete(m.held, key)
			}
		})
	}, nil
}
