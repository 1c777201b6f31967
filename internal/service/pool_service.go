// Package service orchestrates pools, persistence and event fan-out.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/alanyoungcy/yieldbet/internal/domain"
	"github.com/alanyoungcy/yieldbet/internal/factory"
	"github.com/alanyoungcy/yieldbet/internal/pool"
)

// PoolService is the entry point the API and the keeper use to drive pools.
// Every committed mutation is persisted and audited afterwards. Persistence
// failures are logged and never undo the mutation.
type PoolService struct {
	factory *factory.Factory
	store   domain.PoolStore
	events  domain.EventStore
	audit   domain.AuditStore
	logger  *slog.Logger

	// persistMu orders snapshot writes so an older snapshot never lands
	// after a newer one.
	persistMu sync.Mutex
}

// NewPoolService creates a PoolService. store, events and audit may be nil.
func NewPoolService(
	f *factory.Factory,
	store domain.PoolStore,
	events domain.EventStore,
	audit domain.AuditStore,
	logger *slog.Logger,
) *PoolService {
	return &PoolService{
		factory: f,
		store:   store,
		events:  events,
		audit:   audit,
		logger:  logger.With(slog.String("component", "pool_service")),
	}
}

// Factory returns the underlying factory.
func (s *PoolService) Factory() *factory.Factory { return s.factory }

// CreatePool starts a new pool.
func (s *PoolService) CreatePool(ctx context.Context, params domain.PoolParams) (domain.PoolSnapshot, error) {
	p, err := s.factory.CreatePool(ctx, params)
	if err != nil {
		return domain.PoolSnapshot{}, err
	}
	snap := s.persist(ctx, p)
	s.auditLog(ctx, "pool.create", map[string]any{
		"pool":            p.Address().Hex(),
		"stake_amount":    params.StakeAmount.Dec(),
		"betting_ends_at": params.BettingEndsAt,
		"lock_in_ends_at": params.LockInEndsAt,
	})
	return snap, nil
}

// ListPools returns pool snapshots in creation order.
func (s *PoolService) ListPools(opts domain.ListOpts) []domain.PoolSnapshot {
	pools := s.factory.Pools()
	out := make([]domain.PoolSnapshot, 0, len(pools))
	for _, p := range pools {
		snap := p.Snapshot()
		if opts.Since != nil && snap.CreatedAt.Before(*opts.Since) {
			continue
		}
		if opts.Until != nil && snap.CreatedAt.After(*opts.Until) {
			continue
		}
		out = append(out, snap)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })

	if opts.Offset > 0 {
		if opts.Offset >= len(out) {
			return nil
		}
		out = out[opts.Offset:]
	}
	if opts.Limit > 0 && opts.Limit < len(out) {
		out = out[:opts.Limit]
	}
	return out
}

// GetPool returns the snapshot of one pool.
func (s *PoolService) GetPool(addr common.Address) (domain.PoolSnapshot, error) {
	p, err := s.factory.Pool(addr)
	if err != nil {
		return domain.PoolSnapshot{}, err
	}
	return p.Snapshot(), nil
}

// Phase returns the current phase of a pool.
func (s *PoolService) Phase(addr common.Address) (domain.Phase, error) {
	p, err := s.factory.Pool(addr)
	if err != nil {
		return "", err
	}
	return p.CurrentPhase(), nil
}

// PlaceBet places a bet and returns the minted ticket.
func (s *PoolService) PlaceBet(ctx context.Context, addr, caller common.Address, guess int64, stake *uint256.Int) (domain.Ticket, error) {
	p, err := s.factory.Pool(addr)
	if err != nil {
		return domain.Ticket{}, err
	}
	id, err := p.PlaceBet(ctx, caller, guess, stake)
	if err != nil {
		return domain.Ticket{}, err
	}
	s.persist(ctx, p, id)
	s.auditLog(ctx, "pool.bet", map[string]any{
		"pool":   addr.Hex(),
		"ticket": id,
		"owner":  caller.Hex(),
		"guess":  guess,
	})
	return p.Ticket(id)
}

// Withdraw withdraws a ticket and returns the amount credited.
func (s *PoolService) Withdraw(ctx context.Context, addr, caller common.Address, id uint64) (*uint256.Int, error) {
	p, err := s.factory.Pool(addr)
	if err != nil {
		return nil, err
	}
	amount, err := p.WithdrawFunds(ctx, caller, id)
	if err != nil {
		// A failed credit re-deposits the funds, which changes the shares.
		if !rejected(err) {
			s.persist(ctx, p, id)
		}
		return nil, err
	}
	s.persist(ctx, p, id)
	s.auditLog(ctx, "pool.withdraw", map[string]any{
		"pool":   addr.Hex(),
		"ticket": id,
		"owner":  caller.Hex(),
		"amount": amount.Dec(),
	})
	return amount, nil
}

// FindWinner resolves a pool and returns the winning ticket.
func (s *PoolService) FindWinner(ctx context.Context, addr common.Address) (domain.Ticket, error) {
	p, err := s.factory.Pool(addr)
	if err != nil {
		return domain.Ticket{}, err
	}
	id, err := p.FindWinner(ctx)
	if err != nil {
		return domain.Ticket{}, err
	}
	snap := s.persist(ctx, p)
	detail := map[string]any{"pool": addr.Hex(), "ticket": id}
	if snap.Resolution != nil {
		detail["value"] = snap.Resolution.Value
		detail["round"] = snap.Resolution.Round
	}
	s.auditLog(ctx, "pool.resolve", detail)
	return p.Ticket(id)
}

// Transfer moves a ticket to another account.
func (s *PoolService) Transfer(ctx context.Context, addr, caller common.Address, id uint64, to common.Address) error {
	p, err := s.factory.Pool(addr)
	if err != nil {
		return err
	}
	if err := p.TransferTicket(ctx, caller, id, to); err != nil {
		return err
	}
	s.persist(ctx, p, id)
	s.auditLog(ctx, "pool.transfer", map[string]any{
		"pool":   addr.Hex(),
		"ticket": id,
		"from":   caller.Hex(),
		"to":     to.Hex(),
	})
	return nil
}

// Ticket returns one ticket.
func (s *PoolService) Ticket(addr common.Address, id uint64) (domain.Ticket, error) {
	p, err := s.factory.Pool(addr)
	if err != nil {
		return domain.Ticket{}, err
	}
	return p.Ticket(id)
}

// OwnerOf returns the owner of one ticket.
func (s *PoolService) OwnerOf(addr common.Address, id uint64) (common.Address, error) {
	p, err := s.factory.Pool(addr)
	if err != nil {
		return common.Address{}, err
	}
	return p.OwnerOf(id)
}

// TicketsOf returns the ids account holds in a pool.
func (s *PoolService) TicketsOf(addr, account common.Address) ([]uint64, error) {
	p, err := s.factory.Pool(addr)
	if err != nil {
		return nil, err
	}
	return p.TicketsOf(account), nil
}

// PreviewWithdraw returns the current vault value of a ticket.
func (s *PoolService) PreviewWithdraw(ctx context.Context, addr common.Address, id uint64) (*uint256.Int, error) {
	p, err := s.factory.Pool(addr)
	if err != nil {
		return nil, err
	}
	return p.PreviewWithdraw(ctx, id)
}

// Events returns a pool's persisted event log.
func (s *PoolService) Events(ctx context.Context, addr common.Address, opts domain.ListOpts) ([]domain.Event, error) {
	if _, err := s.factory.Pool(addr); err != nil {
		return nil, err
	}
	if s.events == nil {
		return nil, nil
	}
	events, err := s.events.ListByPool(ctx, addr, opts)
	if err != nil {
		return nil, fmt.Errorf("service: list events %s: %w", addr.Hex(), err)
	}
	return events, nil
}

// persist writes the pool snapshot and the named tickets and returns the
// snapshot that was written.
func (s *PoolService) persist(ctx context.Context, p *pool.Pool, ticketIDs ...uint64) domain.PoolSnapshot {
	s.persistMu.Lock()
	defer s.persistMu.Unlock()

	snap := p.Snapshot()
	if s.store == nil {
		return snap
	}
	ctx = context.WithoutCancel(ctx)

	if err := s.store.SavePool(ctx, snap); err != nil {
		s.logger.ErrorContext(ctx, "persist pool failed",
			slog.String("pool", snap.Address.Hex()),
			slog.String("error", err.Error()),
		)
	}
	for _, id := range ticketIDs {
		t, err := p.Ticket(id)
		if err != nil {
			continue
		}
		if err := s.store.SaveTicket(ctx, snap.Address, t); err != nil {
			s.logger.ErrorContext(ctx, "persist ticket failed",
				slog.String("pool", snap.Address.Hex()),
				slog.Uint64("ticket", id),
				slog.String("error", err.Error()),
			)
		}
	}
	return snap
}

// rejected reports whether err was raised before the pool touched any
// adapter.
func rejected(err error) bool {
	for _, target := range []error{
		domain.ErrUnknownTicket,
		domain.ErrNotTicketOwner,
		domain.ErrAlreadyWithdrawn,
		domain.ErrWrongPhase,
		domain.ErrReentrantCall,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

func (s *PoolService) auditLog(ctx context.Context, event string, detail map[string]any) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Log(context.WithoutCancel(ctx), event, detail); err != nil {
		s.logger.WarnContext(ctx, "audit log failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}
