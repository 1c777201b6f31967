package domain

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// EventType names a pool event.
type EventType string

const (
	EventPoolCreated       EventType = "pool_created"
	EventBetPlaced         EventType = "bet_placed"
	EventFundsWithdrawn    EventType = "funds_withdrawn"
	EventWinnerFound       EventType = "winner_found"
	EventTicketTransferred EventType = "ticket_transferred"
)

// Event is emitted after a pool mutation commits. Only the fields relevant to
// Type are populated. Seq increases by one per event within a pool; the
// pool_created event is always Seq 0.
type Event struct {
	ID       string         `json:"id"`
	Type     EventType      `json:"type"`
	Pool     common.Address `json:"pool"`
	Seq      uint64         `json:"seq"`
	At       time.Time      `json:"at"`
	TicketID uint64         `json:"ticket_id,omitempty"`
	Owner    common.Address `json:"owner,omitempty"`
	To       common.Address `json:"to,omitempty"`
	Guess    int64          `json:"guess,omitempty"`
	Value    int64          `json:"value,omitempty"`
	Amount   *uint256.Int   `json:"amount,omitempty"`
	Params   *PoolParams    `json:"params,omitempty"`

	// Signature is the operator attestation of a winner_found event.
	Signature string `json:"signature,omitempty"`
}

// EventSink receives committed events. Emit must not call back into the pool
// that produced the event.
type EventSink interface {
	Emit(ctx context.Context, ev Event)
}

// EventSinkFunc adapts a function to EventSink.
type EventSinkFunc func(ctx context.Context, ev Event)

// Emit calls f.
func (f EventSinkFunc) Emit(ctx context.Context, ev Event) { f(ctx, ev) }

// DiscardEvents drops every event.
var DiscardEvents EventSink = EventSinkFunc(func(context.Context, Event) {})
