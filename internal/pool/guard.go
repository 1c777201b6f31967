package pool

import (
	"context"
	"fmt"

	"github.com/alanyoungcy/yieldbet/internal/domain"
)

type guardKey struct{ p *Pool }

// enter marks ctx as running inside an operation on p. A context that already
// carries the mark belongs to a call made from one of p's adapters or sinks,
// which would otherwise block on p.mu forever.
func (p *Pool) enter(ctx context.Context, op string) (context.Context, error) {
	if ctx.Value(guardKey{p}) != nil {
		return nil, fmt.Errorf("pool %s: %s: %w", p.addr.Hex(), op, domain.ErrReentrantCall)
	}
	return context.WithValue(ctx, guardKey{p}, op), nil
}

// claim flags a ticket as in flight until the returned release is called.
// Must be called with p.mu held.
func (p *Pool) claim(id uint64) (release func(), err error) {
	if _, busy := p.inFlight[id]; busy {
		return nil, fmt.Errorf("ticket %d: %w", id, domain.ErrReentrantCall)
	}
	p.inFlight[id] = struct{}{}
	return func() { delete(p.inFlight, id) }, nil
}
