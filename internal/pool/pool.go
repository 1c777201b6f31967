// Package pool implements a single settlement round: participants stake a
// fixed amount on a guess, the stakes earn yield in a vault, and after the
// lock-in period the guess nearest to the oracle value wins.
//
// Every operation on a Pool is serialized and all-or-nothing. Adapter calls
// happen before any pool state is mutated, and events are handed to the sink
// only after the mutation has committed, one at a time and in sequence order.
package pool

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/holiman/uint256"

	"github.com/alanyoungcy/yieldbet/internal/domain"
	"github.com/alanyoungcy/yieldbet/internal/ticket"
)

// Deps are the collaborators a pool calls into.
type Deps struct {
	Oracle domain.PriceOracle
	Vault  domain.YieldVault
	Ledger domain.Ledger
	Clock  domain.Clock
	Sink   domain.EventSink
	Logger *slog.Logger

	// MaxOracleStaleness rejects observations older than this at resolution.
	// Zero accepts any age.
	MaxOracleStaleness time.Duration
}

func (d Deps) withDefaults() Deps {
	if d.Clock == nil {
		d.Clock = domain.SystemClock{}
	}
	if d.Sink == nil {
		d.Sink = domain.DiscardEvents
	}
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	return d
}

// Pool is one settlement round. Distinct pools share no mutable state.
type Pool struct {
	addr      common.Address
	params    domain.PoolParams
	createdAt time.Time
	deps      Deps
	logger    *slog.Logger

	mu             sync.Mutex
	tickets        *ticket.Registry
	totalDeposited *uint256.Int
	forfeited      *uint256.Int
	resolution     *domain.Resolution
	nextSeq        uint64
	inFlight       map[uint64]struct{}
	archivedAt     *time.Time
	outbox         []pending

	emitting sync.Mutex
}

// New returns an empty pool with its pool_created event (sequence 0) queued.
// The event reaches the sink on FlushEvents or with the first operation.
func New(addr common.Address, params domain.PoolParams, createdAt time.Time, deps Deps) *Pool {
	p := newPool(addr, params, createdAt, deps)
	created := p.Params()
	p.outbox = append(p.outbox, pending{
		ctx: context.Background(),
		ev: domain.Event{
			ID:     uuid.NewString(),
			Type:   domain.EventPoolCreated,
			Pool:   addr,
			Seq:    0,
			At:     createdAt,
			Amount: created.StakeAmount,
			Params: &created,
		},
	})
	return p
}

func newPool(addr common.Address, params domain.PoolParams, createdAt time.Time, deps Deps) *Pool {
	deps = deps.withDefaults()
	params.StakeAmount = params.StakeAmount.Clone()
	return &Pool{
		addr:           addr,
		params:         params,
		createdAt:      createdAt,
		deps:           deps,
		logger:         deps.Logger.With(slog.String("component", "pool"), slog.String("pool", addr.Hex())),
		tickets:        ticket.NewRegistry(),
		totalDeposited: new(uint256.Int),
		forfeited:      new(uint256.Int),
		nextSeq:        1,
		inFlight:       make(map[uint64]struct{}),
	}
}

// Restore rebuilds a pool from a persisted snapshot and its tickets.
func Restore(snap domain.PoolSnapshot, tickets []domain.Ticket, deps Deps) (*Pool, error) {
	if err := snap.Params.Validate(); err != nil {
		return nil, fmt.Errorf("pool: restore %s: %w", snap.Address.Hex(), err)
	}
	reg, err := ticket.Restore(tickets, snap.NextTicketID)
	if err != nil {
		return nil, fmt.Errorf("pool: restore %s: %w", snap.Address.Hex(), err)
	}

	p := newPool(snap.Address, snap.Params, snap.CreatedAt, deps)
	p.tickets = reg
	if snap.TotalDeposited != nil {
		p.totalDeposited = snap.TotalDeposited.Clone()
	}
	if snap.Forfeited != nil {
		p.forfeited = snap.Forfeited.Clone()
	}
	if snap.Resolution != nil {
		r := *snap.Resolution
		p.resolution = &r
	}
	if snap.NextSeq > p.nextSeq {
		p.nextSeq = snap.NextSeq
	}
	if snap.ArchivedAt != nil {
		at := *snap.ArchivedAt
		p.archivedAt = &at
	}
	return p, nil
}

// Address returns the pool address.
func (p *Pool) Address() common.Address { return p.addr }

// Params returns a copy of the creation parameters.
func (p *Pool) Params() domain.PoolParams {
	params := p.params
	params.StakeAmount = p.params.StakeAmount.Clone()
	return params
}

// PlaceBet takes stake from caller, deposits it into the vault and mints a
// ticket carrying guess.
func (p *Pool) PlaceBet(ctx context.Context, caller common.Address, guess int64, stake *uint256.Int) (uint64, error) {
	ctx, err := p.enter(ctx, "place bet")
	if err != nil {
		return 0, err
	}

	p.mu.Lock()
	ev, err := p.placeBetLocked(ctx, caller, guess, stake)
	if err == nil {
		p.queueLocked(ctx, ev)
	}
	p.mu.Unlock()
	if err != nil {
		return 0, p.fail("place bet", err)
	}

	p.FlushEvents()
	return ev.TicketID, nil
}

func (p *Pool) placeBetLocked(ctx context.Context, caller common.Address, guess int64, stake *uint256.Int) (domain.Event, error) {
	now := p.deps.Clock.Now()
	if p.phaseLocked(now) != domain.PhaseBetting {
		return domain.Event{}, domain.WrongPhase(domain.ReasonBettingClosed)
	}
	if stake == nil || !stake.Eq(p.params.StakeAmount) {
		return domain.Event{}, domain.ErrInvalidStakeAmount
	}
	if guess < 0 {
		return domain.Event{}, fmt.Errorf("%w: %d is negative", domain.ErrInvalidGuess, guess)
	}
	if caller == (common.Address{}) {
		return domain.Event{}, domain.ErrInvalidAccount
	}

	if err := p.deps.Ledger.Debit(ctx, caller, stake); err != nil {
		return domain.Event{}, err
	}
	shares, err := p.deps.Vault.Deposit(ctx, stake)
	if err != nil {
		if cerr := p.deps.Ledger.Credit(context.WithoutCancel(ctx), caller, stake); cerr != nil {
			p.logger.Error("refund after failed deposit",
				slog.String("account", caller.Hex()),
				slog.String("amount", stake.Dec()),
				slog.String("error", cerr.Error()),
			)
		}
		return domain.Event{}, &domain.AdapterError{Adapter: "vault", Op: "deposit", Err: err}
	}

	id := p.tickets.Mint(caller, guess, shares, now)
	p.totalDeposited.Add(p.totalDeposited, shares)

	ev := p.eventLocked(domain.EventBetPlaced, now)
	ev.TicketID = id
	ev.Owner = caller
	ev.Guess = guess
	ev.Amount = stake.Clone()
	return ev, nil
}

// WithdrawFunds redeems the ticket's shares and pays the owner. Withdrawals
// are refused during the lock-in period. A withdrawn ticket can no longer
// win.
func (p *Pool) WithdrawFunds(ctx context.Context, caller common.Address, id uint64) (*uint256.Int, error) {
	ctx, err := p.enter(ctx, "withdraw")
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	ev, err := p.withdrawLocked(ctx, caller, id)
	if err == nil {
		p.queueLocked(ctx, ev)
	}
	p.mu.Unlock()
	if err != nil {
		return nil, p.fail("withdraw", err)
	}

	p.FlushEvents()
	return ev.Amount.Clone(), nil
}

func (p *Pool) withdrawLocked(ctx context.Context, caller common.Address, id uint64) (domain.Event, error) {
	tk, err := p.tickets.Get(id)
	if err != nil {
		return domain.Event{}, err
	}
	if tk.Owner != caller {
		return domain.Event{}, fmt.Errorf("ticket %d: %w", id, domain.ErrNotTicketOwner)
	}
	if tk.Withdrawn {
		return domain.Event{}, fmt.Errorf("ticket %d: %w", id, domain.ErrAlreadyWithdrawn)
	}
	now := p.deps.Clock.Now()
	phase := p.phaseLocked(now)
	if phase == domain.PhaseLockIn {
		return domain.Event{}, domain.WrongPhase(domain.ReasonLockedIn)
	}

	release, err := p.claim(id)
	if err != nil {
		return domain.Event{}, err
	}
	defer release()

	redeemed, err := p.deps.Vault.Redeem(ctx, tk.Shares)
	if err != nil {
		return domain.Event{}, &domain.AdapterError{Adapter: "vault", Op: "redeem", Err: err}
	}

	payout := redeemed.Clone()
	penalty := new(uint256.Int)
	if phase == domain.PhaseBetting && p.params.EarlyExitPenaltyBps > 0 {
		penalty.MulDivOverflow(redeemed, uint256.NewInt(uint64(p.params.EarlyExitPenaltyBps)), uint256.NewInt(domain.BasisPoints))
		payout.Sub(payout, penalty)
	}
	bonus := p.resolution != nil && p.resolution.TicketID == id
	if bonus {
		payout.Add(payout, p.forfeited)
	}

	if err := p.deps.Ledger.Credit(context.WithoutCancel(ctx), caller, payout); err != nil {
		p.redepositLocked(ctx, id, tk.Shares, redeemed)
		return domain.Event{}, err
	}

	if err := p.tickets.MarkWithdrawn(id, payout, now); err != nil {
		return domain.Event{}, err
	}
	p.totalDeposited.Sub(p.totalDeposited, tk.Shares)
	p.forfeited.Add(p.forfeited, penalty)
	if bonus {
		p.forfeited.Clear()
	}

	ev := p.eventLocked(domain.EventFundsWithdrawn, now)
	ev.TicketID = id
	ev.Owner = caller
	ev.Amount = payout
	return ev, nil
}

// redepositLocked puts redeemed funds back into the vault when the owner
// could not be credited, so the ticket stays backed.
func (p *Pool) redepositLocked(ctx context.Context, id uint64, oldShares, amount *uint256.Int) {
	shares, err := p.deps.Vault.Deposit(context.WithoutCancel(ctx), amount)
	if err == nil {
		err = p.tickets.Reshare(id, shares)
	}
	if err != nil {
		p.logger.Error("re-deposit after failed credit",
			slog.Uint64("ticket_id", id),
			slog.String("amount", amount.Dec()),
			slog.String("error", err.Error()),
		)
		return
	}
	p.totalDeposited.Sub(p.totalDeposited, oldShares)
	p.totalDeposited.Add(p.totalDeposited, shares)
}

// FindWinner reads the oracle once and records the active ticket whose guess
// is nearest to the observed value. Ties go to the lowest ticket id. No funds
// move; the winner withdraws like everyone else.
func (p *Pool) FindWinner(ctx context.Context) (uint64, error) {
	ctx, err := p.enter(ctx, "find winner")
	if err != nil {
		return 0, err
	}

	p.mu.Lock()
	ev, err := p.findWinnerLocked(ctx)
	if err == nil {
		p.queueLocked(ctx, ev)
	}
	p.mu.Unlock()
	if err != nil {
		return 0, p.fail("find winner", err)
	}

	p.FlushEvents()
	return ev.TicketID, nil
}

func (p *Pool) findWinnerLocked(ctx context.Context) (domain.Event, error) {
	if p.resolution != nil {
		return domain.Event{}, domain.ErrAlreadyResolved
	}
	now := p.deps.Clock.Now()
	if p.phaseLocked(now) != domain.PhasePostLockIn {
		return domain.Event{}, domain.WrongPhase(domain.ReasonNotYetEnded)
	}
	active := p.tickets.Active()
	if len(active) == 0 {
		return domain.Event{}, domain.ErrNoParticipants
	}

	obs, err := p.deps.Oracle.LatestValue(ctx)
	if err == nil {
		err = p.checkObservation(obs, now)
	}
	if err != nil {
		return domain.Event{}, &domain.AdapterError{Adapter: "oracle", Op: "latest value", Err: err}
	}

	win := closest(active, obs.Value)
	p.resolution = &domain.Resolution{
		TicketID:   win.ID,
		Guess:      win.Guess,
		Value:      obs.Value,
		Round:      obs.Round,
		ResolvedAt: now,
	}

	ev := p.eventLocked(domain.EventWinnerFound, now)
	ev.TicketID = win.ID
	ev.Owner = win.Owner
	ev.Guess = win.Guess
	ev.Value = obs.Value
	return ev, nil
}

func (p *Pool) checkObservation(obs domain.Observation, now time.Time) error {
	if obs.Value <= 0 {
		return fmt.Errorf("non-positive value %d in round %d", obs.Value, obs.Round)
	}
	if maxAge := p.deps.MaxOracleStaleness; maxAge > 0 && now.Sub(obs.UpdatedAt) > maxAge {
		return fmt.Errorf("round %d is stale: updated %s, max age %s",
			obs.Round, obs.UpdatedAt.Format(time.RFC3339), maxAge)
	}
	return nil
}

// TransferTicket hands custody of a ticket to another account. The guess,
// the shares and the withdrawal state stay with the ticket.
func (p *Pool) TransferTicket(ctx context.Context, caller common.Address, id uint64, to common.Address) error {
	ctx, err := p.enter(ctx, "transfer")
	if err != nil {
		return err
	}

	p.mu.Lock()
	ev, err := p.transferLocked(caller, id, to)
	if err == nil {
		p.queueLocked(ctx, ev)
	}
	p.mu.Unlock()
	if err != nil {
		return p.fail("transfer", err)
	}

	p.FlushEvents()
	return nil
}

func (p *Pool) transferLocked(caller common.Address, id uint64, to common.Address) (domain.Event, error) {
	owner, err := p.tickets.OwnerOf(id)
	if err != nil {
		return domain.Event{}, err
	}
	if owner != caller {
		return domain.Event{}, fmt.Errorf("ticket %d: %w", id, domain.ErrNotTicketOwner)
	}
	if _, busy := p.inFlight[id]; busy {
		return domain.Event{}, fmt.Errorf("ticket %d: %w", id, domain.ErrReentrantCall)
	}
	if err := p.tickets.Transfer(id, to); err != nil {
		return domain.Event{}, err
	}

	ev := p.eventLocked(domain.EventTicketTransferred, p.deps.Clock.Now())
	ev.TicketID = id
	ev.Owner = owner
	ev.To = to
	return ev, nil
}

// Phase returns the phase at now.
func (p *Pool) Phase(now time.Time) domain.Phase {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.phaseLocked(now)
}

// CurrentPhase returns the phase according to the pool clock.
func (p *Pool) CurrentPhase() domain.Phase {
	return p.Phase(p.deps.Clock.Now())
}

// Snapshot returns the persistable state of the pool.
func (p *Pool) Snapshot() domain.PoolSnapshot {
	p.mu.Lock()
	defer p.mu.Unlock()

	snap := domain.PoolSnapshot{
		Address:        p.addr,
		Params:         p.Params(),
		CreatedAt:      p.createdAt,
		NextTicketID:   p.tickets.NextID(),
		NextSeq:        p.nextSeq,
		TotalDeposited: p.totalDeposited.Clone(),
		Forfeited:      p.forfeited.Clone(),
		ActiveTickets:  p.tickets.ActiveCount(),
		TotalTickets:   p.tickets.Len(),
	}
	if p.resolution != nil {
		r := *p.resolution
		snap.Resolution = &r
	}
	if p.archivedAt != nil {
		at := *p.archivedAt
		snap.ArchivedAt = &at
	}
	return snap
}

// Ticket returns a copy of ticket id.
func (p *Pool) Ticket(id uint64) (domain.Ticket, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.tickets.Get(id)
}

// OwnerOf returns the current owner of ticket id.
func (p *Pool) OwnerOf(id uint64) (common.Address, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.tickets.OwnerOf(id)
}

// Winner returns the winning ticket id once the pool is resolved.
func (p *Pool) Winner() (uint64, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.resolution == nil {
		return 0, false
	}
	return p.resolution.TicketID, true
}

// Resolution returns the recorded outcome, or nil before resolution.
func (p *Pool) Resolution() *domain.Resolution {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.resolution == nil {
		return nil
	}
	r := *p.resolution
	return &r
}

// ActiveTickets returns every ticket not yet withdrawn, by ascending id.
func (p *Pool) ActiveTickets() []domain.Ticket {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.tickets.Active()
}

// Tickets returns every ticket ever minted, by ascending id.
func (p *Pool) Tickets() []domain.Ticket {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.tickets.All()
}

// TicketsOf returns the ids held by account.
func (p *Pool) TicketsOf(account common.Address) []uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.tickets.TicketsOf(account)
}

// PreviewWithdraw returns what the ticket's shares are worth in the vault
// right now, before any early exit penalty or winner bonus.
func (p *Pool) PreviewWithdraw(ctx context.Context, id uint64) (*uint256.Int, error) {
	ctx, err := p.enter(ctx, "preview withdraw")
	if err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	tk, err := p.tickets.Get(id)
	if err != nil {
		return nil, p.fail("preview withdraw", err)
	}
	if tk.Withdrawn {
		return new(uint256.Int), nil
	}
	amount, err := p.deps.Vault.PreviewRedeem(ctx, tk.Shares)
	if err != nil {
		return nil, p.fail("preview withdraw", &domain.AdapterError{Adapter: "vault", Op: "preview redeem", Err: err})
	}
	return amount, nil
}

func (p *Pool) phaseLocked(now time.Time) domain.Phase {
	return p.params.PhaseAt(now, p.resolution != nil)
}

func (p *Pool) eventLocked(typ domain.EventType, at time.Time) domain.Event {
	ev := domain.Event{
		ID:   uuid.NewString(),
		Type: typ,
		Pool: p.addr,
		Seq:  p.nextSeq,
		At:   at,
	}
	p.nextSeq++
	return ev
}

func (p *Pool) fail(op string, err error) error {
	return fmt.Errorf("pool %s: %s: %w", p.addr.Hex(), op, err)
}
