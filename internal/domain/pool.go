package domain

import (
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Phase is the lifecycle stage of a pool. It is always derived from the
// clock, the two period boundaries and the resolved flag.
type Phase string

const (
	PhaseBetting    Phase = "betting"
	PhaseLockIn     Phase = "lock_in"
	PhasePostLockIn Phase = "post_lock_in"
	PhaseResolved   Phase = "resolved"
)

// BasisPoints is the denominator for EarlyExitPenaltyBps.
const BasisPoints = 10_000

// PoolParams are fixed when a pool is created and never change.
type PoolParams struct {
	BettingEndsAt time.Time    `json:"betting_ends_at"`
	LockInEndsAt  time.Time    `json:"lock_in_ends_at"`
	StakeAmount   *uint256.Int `json:"stake_amount"`

	// EarlyExitPenaltyBps is withheld from withdrawals made while betting is
	// still open. The withheld amount goes to the winner.
	EarlyExitPenaltyBps uint32 `json:"early_exit_penalty_bps"`
}

// Validate checks the structural invariants of the parameters.
func (p PoolParams) Validate() error {
	if p.BettingEndsAt.IsZero() || p.LockInEndsAt.IsZero() {
		return fmt.Errorf("%w: period boundaries must be set", ErrInvalidPoolParameters)
	}
	if !p.BettingEndsAt.Before(p.LockInEndsAt) {
		return fmt.Errorf("%w: betting period must end before lock-in period", ErrInvalidPoolParameters)
	}
	if p.StakeAmount == nil || p.StakeAmount.IsZero() {
		return fmt.Errorf("%w: stake amount must be positive", ErrInvalidPoolParameters)
	}
	if p.EarlyExitPenaltyBps > BasisPoints {
		return fmt.Errorf("%w: early exit penalty exceeds %d bps", ErrInvalidPoolParameters, BasisPoints)
	}
	return nil
}

// PhaseAt derives the phase at now. resolved overrides the clock.
func (p PoolParams) PhaseAt(now time.Time, resolved bool) Phase {
	switch {
	case resolved:
		return PhaseResolved
	case now.Before(p.BettingEndsAt):
		return PhaseBetting
	case now.Before(p.LockInEndsAt):
		return PhaseLockIn
	default:
		return PhasePostLockIn
	}
}

// Resolution records the outcome of a pool.
type Resolution struct {
	TicketID   uint64    `json:"ticket_id"`
	Guess      int64     `json:"guess"`
	Value      int64     `json:"value"`
	Round      uint64    `json:"round"`
	ResolvedAt time.Time `json:"resolved_at"`
}

// PoolSnapshot is the persisted record of a pool.
type PoolSnapshot struct {
	Address        common.Address `json:"address"`
	Params         PoolParams     `json:"params"`
	CreatedAt      time.Time      `json:"created_at"`
	NextTicketID   uint64         `json:"next_ticket_id"`
	NextSeq        uint64         `json:"next_seq"`
	TotalDeposited *uint256.Int   `json:"total_deposited"`
	Forfeited      *uint256.Int   `json:"forfeited"`
	ActiveTickets  int            `json:"active_tickets"`
	TotalTickets   int            `json:"total_tickets"`
	Resolution     *Resolution    `json:"resolution,omitempty"`
	ArchivedAt     *time.Time     `json:"archived_at,omitempty"`
}

// Resolved reports whether a winner has been recorded.
func (s PoolSnapshot) Resolved() bool { return s.Resolution != nil }

// Ticket is one accepted bet.
type Ticket struct {
	ID          uint64         `json:"id"`
	Owner       common.Address `json:"owner"`
	Guess       int64          `json:"guess"`
	Shares      *uint256.Int   `json:"shares"`
	Withdrawn   bool           `json:"withdrawn"`
	PlacedAt    time.Time      `json:"placed_at"`
	WithdrawnAt *time.Time     `json:"withdrawn_at,omitempty"`
	Payout      *uint256.Int   `json:"payout,omitempty"`
}

// Observation is a single reading from the price oracle.
type Observation struct {
	Value     int64     `json:"value"`
	Round     uint64    `json:"round"`
	UpdatedAt time.Time `json:"updated_at"`
}
