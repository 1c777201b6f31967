// Package ledger keeps participant balances outside the pools.
package ledger

import (
	"context"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/alanyoungcy/yieldbet/internal/domain"
)

// Memory is an in-process domain.Ledger. The zero value is not usable; call
// NewMemory.
type Memory struct {
	mu       sync.Mutex
	balances map[common.Address]*uint256.Int
}

// NewMemory returns an empty ledger.
func NewMemory() *Memory {
	return &Memory{balances: make(map[common.Address]*uint256.Int)}
}

// Debit removes amount from account.
func (m *Memory) Debit(ctx context.Context, account common.Address, amount *uint256.Int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if account == (common.Address{}) {
		return fmt.Errorf("ledger: debit: %w", domain.ErrInvalidAccount)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	bal := m.balances[account]
	if bal == nil || bal.Lt(amount) {
		have := "0"
		if bal != nil {
			have = bal.Dec()
		}
		return fmt.Errorf("ledger: debit %s from %s (balance %s): %w",
			amount.Dec(), account.Hex(), have, domain.ErrInsufficientFunds)
	}
	bal.Sub(bal, amount)
	return nil
}

// Credit adds amount to account.
func (m *Memory) Credit(ctx context.Context, account common.Address, amount *uint256.Int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if account == (common.Address{}) {
		return fmt.Errorf("ledger: credit: %w", domain.ErrInvalidAccount)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	bal := m.balances[account]
	if bal == nil {
		bal = new(uint256.Int)
		m.balances[account] = bal
	}
	if _, overflow := bal.AddOverflow(bal, amount); overflow {
		bal.Sub(bal, amount)
		return fmt.Errorf("ledger: credit %s: balance overflows", account.Hex())
	}
	return nil
}

// Balance returns a copy of the account balance.
func (m *Memory) Balance(ctx context.Context, account common.Address) (*uint256.Int, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if bal := m.balances[account]; bal != nil {
		return bal.Clone(), nil
	}
	return new(uint256.Int), nil
}

// Accounts returns the number of accounts ever credited.
func (m *Memory) Accounts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.balances)
}
