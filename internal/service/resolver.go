package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/alanyoungcy/yieldbet/internal/domain"
)

const defaultLockTTL = 30 * time.Second

// Resolver is the keeper loop. It calls findWinner on every pool that has
// passed its lock-in period and still holds active tickets. With a lock
// manager several keepers can run side by side.
type Resolver struct {
	svc      *PoolService
	locks    domain.LockManager
	lockTTL  time.Duration
	interval time.Duration
	logger   *slog.Logger
}

// NewResolver creates a Resolver. locks may be nil for a single keeper.
func NewResolver(svc *PoolService, locks domain.LockManager, interval, lockTTL time.Duration, logger *slog.Logger) *Resolver {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	if lockTTL <= 0 {
		lockTTL = defaultLockTTL
	}
	return &Resolver{
		svc:      svc,
		locks:    locks,
		lockTTL:  lockTTL,
		interval: interval,
		logger:   logger.With(slog.String("component", "resolver")),
	}
}

// Run sweeps on every tick until ctx is cancelled.
func (r *Resolver) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.logger.InfoContext(ctx, "resolver started", slog.Duration("interval", r.interval))
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			r.Sweep(ctx)
		}
	}
}

// Sweep resolves every due pool once and returns how many were resolved.
func (r *Resolver) Sweep(ctx context.Context) int {
	resolved := 0
	for _, p := range r.svc.Factory().Pools() {
		if p.CurrentPhase() != domain.PhasePostLockIn || len(p.ActiveTickets()) == 0 {
			continue
		}
		addr := p.Address()
		log := r.logger.With(slog.String("pool", addr.Hex()))

		unlock := func() {}
		if r.locks != nil {
			var err error
			unlock, err = r.locks.Acquire(ctx, "resolve:"+addr.Hex(), r.lockTTL)
			if errors.Is(err, domain.ErrLockHeld) {
				log.DebugContext(ctx, "resolve lock held elsewhere")
				continue
			}
			if err != nil {
				log.ErrorContext(ctx, "acquire resolve lock failed", slog.String("error", err.Error()))
				continue
			}
		}

		t, err := r.svc.FindWinner(ctx, addr)
		unlock()
		switch {
		case err == nil:
			resolved++
			log.InfoContext(ctx, "pool resolved",
				slog.Uint64("ticket_id", t.ID),
				slog.Int64("guess", t.Guess),
			)
		case errors.Is(err, domain.ErrAlreadyResolved), errors.Is(err, domain.ErrNoParticipants):
			log.DebugContext(ctx, "pool not resolvable", slog.String("reason", err.Error()))
		default:
			log.ErrorContext(ctx, "find winner failed", slog.String("error", err.Error()))
		}
	}
	return resolved
}
