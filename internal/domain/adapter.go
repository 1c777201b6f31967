package domain

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// PriceOracle returns the latest observed value of the settlement asset.
// A stale or unavailable reading must be reported as an error, never as a
// default value.
type PriceOracle interface {
	LatestValue(ctx context.Context) (Observation, error)
}

// YieldVault is the external lending venue that backs every stake.
// Redeem must return at least the amount originally deposited for the given
// shares under normal operation; callers assume no particular rate.
type YieldVault interface {
	Deposit(ctx context.Context, amount *uint256.Int) (shares *uint256.Int, err error)
	Redeem(ctx context.Context, shares *uint256.Int) (amount *uint256.Int, err error)
	PreviewRedeem(ctx context.Context, shares *uint256.Int) (*uint256.Int, error)
}

// Ledger holds participant balances outside the pools.
type Ledger interface {
	Debit(ctx context.Context, account common.Address, amount *uint256.Int) error
	Credit(ctx context.Context, account common.Address, amount *uint256.Int) error
	Balance(ctx context.Context, account common.Address) (*uint256.Int, error)
}

// Clock supplies the current time. Pools never read the wall clock directly.
type Clock interface {
	Now() time.Time
}

// SystemClock is the wall clock in UTC.
type SystemClock struct{}

// Now returns time.Now in UTC.
func (SystemClock) Now() time.Time { return time.Now().UTC() }

// ClockFunc adapts a function to Clock.
type ClockFunc func() time.Time

// Now calls f.
func (f ClockFunc) Now() time.Time { return f() }
