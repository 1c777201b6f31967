// Package vault provides in-process yield venues that satisfy
// domain.YieldVault.
package vault

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/holiman/uint256"

	"github.com/alanyoungcy/yieldbet/internal/domain"
)

// ray is the fixed-point unit of the liquidity index (1e27).
var ray = new(uint256.Int).Exp(uint256.NewInt(10), uint256.NewInt(27))

// Simulated is a lending venue modelled on an interest-bearing token: every
// share is worth index/ray of the underlying asset and the index only grows.
// Shares are rounded up on deposit and amounts rounded down on redeem, so a
// depositor always gets back at least what they put in.
type Simulated struct {
	mu     sync.Mutex
	index  *uint256.Int
	supply *uint256.Int
	fail   error
}

// NewSimulated returns a vault with a unit index and no deposits.
func NewSimulated() *Simulated {
	return &Simulated{
		index:  ray.Clone(),
		supply: new(uint256.Int),
	}
}

// Deposit converts amount into shares at the current index.
func (v *Simulated) Deposit(ctx context.Context, amount *uint256.Int) (*uint256.Int, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if amount == nil || amount.IsZero() {
		return nil, errors.New("vault: deposit: amount must be positive")
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	if v.fail != nil {
		return nil, fmt.Errorf("vault: deposit: %w", v.fail)
	}
	shares, overflow := mulDivUp(amount, ray, v.index)
	if overflow {
		return nil, errors.New("vault: deposit: amount overflows")
	}
	v.supply.Add(v.supply, shares)
	return shares, nil
}

// Redeem burns shares and returns their current value.
func (v *Simulated) Redeem(ctx context.Context, shares *uint256.Int) (*uint256.Int, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if shares == nil || shares.IsZero() {
		return nil, errors.New("vault: redeem: shares must be positive")
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	if v.fail != nil {
		return nil, fmt.Errorf("vault: redeem: %w", v.fail)
	}
	if shares.Gt(v.supply) {
		return nil, fmt.Errorf("vault: redeem %s of %s shares: %w", shares.Dec(), v.supply.Dec(), domain.ErrInsufficientFunds)
	}
	amount, overflow := new(uint256.Int).MulDivOverflow(shares, v.index, ray)
	if overflow {
		return nil, errors.New("vault: redeem: value overflows")
	}
	v.supply.Sub(v.supply, shares)
	return amount, nil
}

// PreviewRedeem returns what Redeem would pay for shares right now.
func (v *Simulated) PreviewRedeem(ctx context.Context, shares *uint256.Int) (*uint256.Int, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if shares == nil {
		return new(uint256.Int), nil
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	if v.fail != nil {
		return nil, fmt.Errorf("vault: preview: %w", v.fail)
	}
	amount, overflow := new(uint256.Int).MulDivOverflow(shares, v.index, ray)
	if overflow {
		return nil, errors.New("vault: preview: value overflows")
	}
	return amount, nil
}

// Accrue grows the index by bps basis points.
func (v *Simulated) Accrue(bps uint32) {
	_ = v.accrue(bps, nil)
}

// accrue computes the grown index and hands it to commit before it takes
// effect. A commit error leaves the index unchanged, so a persisted index is
// never behind the one shares were priced at.
func (v *Simulated) accrue(bps uint32, commit func(next *uint256.Int) error) error {
	if bps == 0 {
		return nil
	}
	v.mu.Lock()
	defer v.mu.Unlock()

	growth, overflow := new(uint256.Int).MulDivOverflow(v.index, uint256.NewInt(uint64(bps)), uint256.NewInt(domain.BasisPoints))
	if overflow {
		return errors.New("vault: accrue: index overflows")
	}
	next := new(uint256.Int).Add(v.index, growth)
	if commit != nil {
		if err := commit(next.Clone()); err != nil {
			return err
		}
	}
	v.index = next
	return nil
}

// Restore resets the vault after a restart. index is the persisted liquidity
// index (nil keeps the current one) and supply the shares held by every
// active ticket.
func (v *Simulated) Restore(index, supply *uint256.Int) error {
	if index != nil && index.Lt(ray) {
		return fmt.Errorf("vault: restore: index %s is below one", index.Dec())
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	if index != nil {
		v.index = index.Clone()
	}
	v.supply = new(uint256.Int)
	if supply != nil {
		v.supply.Set(supply)
	}
	return nil
}

// Fail makes every subsequent call return err. Fail(nil) restores service.
func (v *Simulated) Fail(err error) {
	v.mu.Lock()
	v.fail = err
	v.mu.Unlock()
}

// Index returns the current liquidity index scaled by 1e27.
func (v *Simulated) Index() *uint256.Int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.index.Clone()
}

// Supply returns the number of outstanding shares.
func (v *Simulated) Supply() *uint256.Int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.supply.Clone()
}

// RunAccrual grows the index by bps every interval until ctx is cancelled.
// With a store, each new index is saved before it applies; a failed save
// skips that tick.
func (v *Simulated) RunAccrual(ctx context.Context, interval time.Duration, bps uint32, store domain.VaultStore, logger *slog.Logger) error {
	if interval <= 0 || bps == 0 {
		<-ctx.Done()
		return nil
	}
	logger.Info("vault accrual started",
		slog.Duration("interval", interval),
		slog.Int("bps", int(bps)),
	)

	var commit func(*uint256.Int) error
	if store != nil {
		commit = func(next *uint256.Int) error {
			return store.SaveVaultState(ctx, domain.VaultState{Index: next, UpdatedAt: time.Now().UTC()})
		}
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("vault accrual stopped")
			return nil
		case <-ticker.C:
			if err := v.accrue(bps, commit); err != nil {
				logger.Warn("vault accrual skipped", slog.String("error", err.Error()))
				continue
			}
			logger.Debug("vault accrued", slog.String("index", v.Index().Dec()))
		}
	}
}

// mulDivUp returns ceil(x*y/d).
func mulDivUp(x, y, d *uint256.Int) (*uint256.Int, bool) {
	q, overflow := new(uint256.Int).MulDivOverflow(x, y, d)
	if overflow {
		return nil, true
	}
	if !new(uint256.Int).MulMod(x, y, d).IsZero() {
		q.AddUint64(q, 1)
	}
	return q, false
}
