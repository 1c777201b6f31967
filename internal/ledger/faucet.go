package ledger

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/alanyoungcy/yieldbet/internal/domain"
)

// ErrFaucetCooldown is returned when an account asks again too soon.
var ErrFaucetCooldown = errors.New("faucet cooldown")

// Faucet credits a fixed amount to dev accounts, at most once per cooldown.
type Faucet struct {
	ledger   domain.Ledger
	amount   *uint256.Int
	cooldown time.Duration
	clock    domain.Clock

	mu   sync.Mutex
	last map[common.Address]time.Time
}

// NewFaucet returns a faucet paying amount per drip.
func NewFaucet(ledger domain.Ledger, amount *uint256.Int, cooldown time.Duration, clock domain.Clock) *Faucet {
	return &Faucet{
		ledger:   ledger,
		amount:   amount.Clone(),
		cooldown: cooldown,
		clock:    clock,
		last:     make(map[common.Address]time.Time),
	}
}

// Drip credits the faucet amount to account and returns it.
func (f *Faucet) Drip(ctx context.Context, account common.Address) (*uint256.Int, error) {
	now := f.clock.Now()

	f.mu.Lock()
	defer f.mu.Unlock()

	if prev, ok := f.last[account]; ok && f.cooldown > 0 && now.Sub(prev) < f.cooldown {
		return nil, fmt.Errorf("ledger: faucet %s: retry in %s: %w",
			account.Hex(), f.cooldown-now.Sub(prev), ErrFaucetCooldown)
	}
	if err := f.ledger.Credit(ctx, account, f.amount); err != nil {
		return nil, err
	}
	f.last[account] = now
	return f.amount.Clone(), nil
}
