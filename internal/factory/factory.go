// Package factory creates settlement pools and keeps the registry of every
// pool it has created.
package factory

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/alanyoungcy/yieldbet/internal/domain"
	"github.com/alanyoungcy/yieldbet/internal/pool"
)

// Factory hands out pools whose addresses are derived from the factory
// address and a creation nonce, the same way a contract deployer would.
type Factory struct {
	addr   common.Address
	deps   pool.Deps
	logger *slog.Logger

	mu    sync.RWMutex
	nonce uint64
	pools map[common.Address]*pool.Pool
	order []common.Address
}

// New returns a factory at addr. deps is the template every pool is built
// with.
func New(addr common.Address, deps pool.Deps) *Factory {
	if deps.Clock == nil {
		deps.Clock = domain.SystemClock{}
	}
	if deps.Sink == nil {
		deps.Sink = domain.DiscardEvents
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &Factory{
		addr:   addr,
		deps:   deps,
		logger: deps.Logger.With(slog.String("component", "factory")),
		nonce:  1,
		pools:  make(map[common.Address]*pool.Pool),
	}
}

// Address returns the factory address.
func (f *Factory) Address() common.Address { return f.addr }

// CreatePool validates params and starts a new round.
func (f *Factory) CreatePool(ctx context.Context, params domain.PoolParams) (*pool.Pool, error) {
	if err := params.Validate(); err != nil {
		return nil, fmt.Errorf("factory: create pool: %w", err)
	}
	now := f.deps.Clock.Now()
	if !now.Before(params.BettingEndsAt) {
		return nil, fmt.Errorf("factory: create pool: %w: betting period already ended", domain.ErrInvalidPoolParameters)
	}

	f.mu.Lock()
	addr := f.nextAddressLocked()
	p := pool.New(addr, params, now, f.deps)
	f.pools[addr] = p
	f.order = append(f.order, addr)
	f.mu.Unlock()

	f.logger.Info("pool created",
		slog.String("pool", addr.Hex()),
		slog.Time("betting_ends_at", params.BettingEndsAt),
		slog.Time("lock_in_ends_at", params.LockInEndsAt),
		slog.String("stake_amount", params.StakeAmount.Dec()),
	)

	p.FlushEvents()
	return p, nil
}

// Restore registers a pool rebuilt from persistence. Restored pools keep
// their original address.
func (f *Factory) Restore(snap domain.PoolSnapshot, tickets []domain.Ticket) (*pool.Pool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, dup := f.pools[snap.Address]; dup {
		return nil, fmt.Errorf("factory: restore %s: pool already registered", snap.Address.Hex())
	}
	p, err := pool.Restore(snap, tickets, f.deps)
	if err != nil {
		return nil, fmt.Errorf("factory: %w", err)
	}
	f.pools[snap.Address] = p
	f.order = append(f.order, snap.Address)
	return p, nil
}

// Pool looks up a pool by address.
func (f *Factory) Pool(addr common.Address) (*pool.Pool, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	p, ok := f.pools[addr]
	if !ok {
		return nil, fmt.Errorf("factory: pool %s: %w", addr.Hex(), domain.ErrUnknownPool)
	}
	return p, nil
}

// Pools returns every pool in creation order.
func (f *Factory) Pools() []*pool.Pool {
	f.mu.RLock()
	defer f.mu.RUnlock()

	out := make([]*pool.Pool, 0, len(f.order))
	for _, addr := range f.order {
		out = append(out, f.pools[addr])
	}
	return out
}

// Len returns the number of registered pools.
func (f *Factory) Len() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.order)
}

// nextAddressLocked derives the next unused pool address. Nonces that
// collide with a restored pool are skipped.
func (f *Factory) nextAddressLocked() common.Address {
	for {
		addr := crypto.CreateAddress(f.addr, f.nonce)
		f.nonce++
		if _, taken := f.pools[addr]; !taken {
			return addr
		}
	}
}
