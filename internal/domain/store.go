package domain

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// PoolStore persists pool and ticket records.
type PoolStore interface {
	SavePool(ctx context.Context, snap PoolSnapshot) error
	SaveTicket(ctx context.Context, pool common.Address, t Ticket) error
	GetPool(ctx context.Context, pool common.Address) (PoolSnapshot, error)
	ListPools(ctx context.Context, opts ListOpts) ([]PoolSnapshot, error)
	ListTickets(ctx context.Context, pool common.Address) ([]Ticket, error)
	ListResolvedBefore(ctx context.Context, before time.Time) ([]PoolSnapshot, error)
	MarkArchived(ctx context.Context, pool common.Address, at time.Time) error
}

// EventStore persists the append-only event log.
type EventStore interface {
	Append(ctx context.Context, ev Event) error
	ListByPool(ctx context.Context, pool common.Address, opts ListOpts) ([]Event, error)
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}

// VaultState is the persisted liquidity index of the yield vault. The share
// supply is not stored; it is rebuilt from the active tickets on restore.
type VaultState struct {
	Index     *uint256.Int
	UpdatedAt time.Time
}

// VaultStore keeps the vault index across restarts. GetVaultState returns
// ErrNotFound before the first save.
type VaultStore interface {
	SaveVaultState(ctx context.Context, st VaultState) error
	GetVaultState(ctx context.Context) (VaultState, error)
}
