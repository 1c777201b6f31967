// Package oracle provides domain.PriceOracle implementations.
package oracle

import (
	"context"
	"sync"
	"time"

	"github.com/alanyoungcy/yieldbet/internal/domain"
)

// Static returns whatever observation was last set. It is used in dev mode
// and tests.
type Static struct {
	mu    sync.Mutex
	obs   domain.Observation
	err   error
	reads int
}

// NewStatic returns an oracle reporting value at round 1.
func NewStatic(value int64, updatedAt time.Time) *Static {
	return &Static{obs: domain.Observation{Value: value, Round: 1, UpdatedAt: updatedAt}}
}

// LatestValue returns the stored observation or the injected error.
func (s *Static) LatestValue(ctx context.Context) (domain.Observation, error) {
	if err := ctx.Err(); err != nil {
		return domain.Observation{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reads++
	if s.err != nil {
		return domain.Observation{}, s.err
	}
	return s.obs, nil
}

// Set replaces the observation and bumps the round.
func (s *Static) Set(value int64, updatedAt time.Time) {
	s.mu.Lock()
	s.obs = domain.Observation{Value: value, Round: s.obs.Round + 1, UpdatedAt: updatedAt}
	s.mu.Unlock()
}

// Fail makes LatestValue return err until Fail(nil).
func (s *Static) Fail(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
}

// Reads returns how many times LatestValue has been called.
func (s *Static) Reads() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reads
}
