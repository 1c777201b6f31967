// Package ticket keeps the ticket ledger of a single pool: id allocation,
// custody, and per-bet bookkeeping.
//
// Ownership and bet data live in separate maps so that a transfer can never
// touch the guess, the shares, or the withdrawal flag of a ticket.
package ticket

import (
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/alanyoungcy/yieldbet/internal/domain"
)

// bet is the economic half of a ticket.
type bet struct {
	guess       int64
	shares      *uint256.Int
	withdrawn   bool
	placedAt    time.Time
	withdrawnAt *time.Time
	payout      *uint256.Int
}

// Registry is not safe for concurrent use; the owning pool serializes access.
type Registry struct {
	owners map[uint64]common.Address
	bets   map[uint64]*bet
	order  []uint64
	nextID uint64
}

// NewRegistry returns an empty registry whose first ticket id is 1.
func NewRegistry() *Registry {
	return &Registry{
		owners: make(map[uint64]common.Address),
		bets:   make(map[uint64]*bet),
		nextID: 1,
	}
}

// Restore rebuilds a registry from persisted tickets. nextID is the id the
// next Mint will hand out; it is raised past the highest restored id.
func Restore(tickets []domain.Ticket, nextID uint64) (*Registry, error) {
	r := NewRegistry()
	if nextID > r.nextID {
		r.nextID = nextID
	}
	for _, t := range tickets {
		if t.ID == 0 {
			return nil, fmt.Errorf("ticket: restore: ticket id 0 is reserved")
		}
		if _, dup := r.bets[t.ID]; dup {
			return nil, fmt.Errorf("ticket: restore: duplicate ticket %d", t.ID)
		}
		r.owners[t.ID] = t.Owner
		r.bets[t.ID] = &bet{
			guess:       t.Guess,
			shares:      cloneOrZero(t.Shares),
			withdrawn:   t.Withdrawn,
			placedAt:    t.PlacedAt,
			withdrawnAt: t.WithdrawnAt,
			payout:      t.Payout,
		}
		r.insertOrdered(t.ID)
		if t.ID >= r.nextID {
			r.nextID = t.ID + 1
		}
	}
	return r, nil
}

// Mint records a new bet and returns its id. Ids are never reused.
func (r *Registry) Mint(owner common.Address, guess int64, shares *uint256.Int, at time.Time) uint64 {
	id := r.nextID
	r.nextID++
	r.owners[id] = owner
	r.bets[id] = &bet{
		guess:    guess,
		shares:   cloneOrZero(shares),
		placedAt: at,
	}
	r.order = append(r.order, id)
	return id
}

// Transfer moves custody of a ticket to newOwner.
func (r *Registry) Transfer(id uint64, newOwner common.Address) error {
	if _, ok := r.owners[id]; !ok {
		return fmt.Errorf("ticket %d: %w", id, domain.ErrUnknownTicket)
	}
	if newOwner == (common.Address{}) {
		return fmt.Errorf("ticket %d: transfer to zero address: %w", id, domain.ErrInvalidAccount)
	}
	r.owners[id] = newOwner
	return nil
}

// OwnerOf returns the current owner of a ticket.
func (r *Registry) OwnerOf(id uint64) (common.Address, error) {
	owner, ok := r.owners[id]
	if !ok {
		return common.Address{}, fmt.Errorf("ticket %d: %w", id, domain.ErrUnknownTicket)
	}
	return owner, nil
}

// Get returns a copy of the ticket.
func (r *Registry) Get(id uint64) (domain.Ticket, error) {
	b, ok := r.bets[id]
	if !ok {
		return domain.Ticket{}, fmt.Errorf("ticket %d: %w", id, domain.ErrUnknownTicket)
	}
	return r.view(id, b), nil
}

// MarkWithdrawn flags a ticket as paid out. It fails if the ticket has
// already been withdrawn.
func (r *Registry) MarkWithdrawn(id uint64, payout *uint256.Int, at time.Time) error {
	b, ok := r.bets[id]
	if !ok {
		return fmt.Errorf("ticket %d: %w", id, domain.ErrUnknownTicket)
	}
	if b.withdrawn {
		return fmt.Errorf("ticket %d: %w", id, domain.ErrAlreadyWithdrawn)
	}
	b.withdrawn = true
	b.withdrawnAt = &at
	b.payout = cloneOrZero(payout)
	return nil
}

// Reshare replaces the vault shares backing an active ticket.
func (r *Registry) Reshare(id uint64, shares *uint256.Int) error {
	b, ok := r.bets[id]
	if !ok {
		return fmt.Errorf("ticket %d: %w", id, domain.ErrUnknownTicket)
	}
	if b.withdrawn {
		return fmt.Errorf("ticket %d: %w", id, domain.ErrAlreadyWithdrawn)
	}
	b.shares = cloneOrZero(shares)
	return nil
}

// Active returns every ticket that has not been withdrawn, by ascending id.
func (r *Registry) Active() []domain.Ticket {
	out := make([]domain.Ticket, 0, len(r.order))
	for _, id := range r.order {
		if b := r.bets[id]; !b.withdrawn {
			out = append(out, r.view(id, b))
		}
	}
	return out
}

// All returns every ticket by ascending id.
func (r *Registry) All() []domain.Ticket {
	out := make([]domain.Ticket, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.view(id, r.bets[id]))
	}
	return out
}

// ActiveCount returns the number of tickets not yet withdrawn.
func (r *Registry) ActiveCount() int {
	n := 0
	for _, b := range r.bets {
		if !b.withdrawn {
			n++
		}
	}
	return n
}

// Len returns the number of tickets ever minted.
func (r *Registry) Len() int { return len(r.order) }

// NextID returns the id the next Mint will assign.
func (r *Registry) NextID() uint64 { return r.nextID }

// TicketsOf returns the ids currently owned by account, ascending.
func (r *Registry) TicketsOf(account common.Address) []uint64 {
	var ids []uint64
	for _, id := range r.order {
		if r.owners[id] == account {
			ids = append(ids, id)
		}
	}
	return ids
}

func (r *Registry) view(id uint64, b *bet) domain.Ticket {
	t := domain.Ticket{
		ID:        id,
		Owner:     r.owners[id],
		Guess:     b.guess,
		Shares:    b.shares.Clone(),
		Withdrawn: b.withdrawn,
		PlacedAt:  b.placedAt,
	}
	if b.withdrawnAt != nil {
		at := *b.withdrawnAt
		t.WithdrawnAt = &at
	}
	if b.payout != nil {
		t.Payout = b.payout.Clone()
	}
	return t
}

// insertOrdered keeps r.order sorted when restoring out-of-order records.
func (r *Registry) insertOrdered(id uint64) {
	i := len(r.order)
	for i > 0 && r.order[i-1] > id {
		i--
	}
	r.order = append(r.order, 0)
	copy(r.order[i+1:], r.order[i:])
	r.order[i] = id
}

func cloneOrZero(v *uint256.Int) *uint256.Int {
	if v == nil {
		return new(uint256.Int)
	}
	return v.Clone()
}
