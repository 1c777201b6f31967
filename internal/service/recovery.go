package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/holiman/uint256"

	"github.com/alanyoungcy/yieldbet/internal/domain"
	"github.com/alanyoungcy/yieldbet/internal/factory"
)

// recoverPage is how many pools Recover loads per query.
const recoverPage = 200

// Recover loads every persisted pool with its tickets into f and returns how
// many pools were restored.
func Recover(ctx context.Context, store domain.PoolStore, f *factory.Factory, logger *slog.Logger) (int, error) {
	logger = logger.With(slog.String("component", "recovery"))

	restored := 0
	for offset := 0; ; offset += recoverPage {
		snaps, err := store.ListPools(ctx, domain.ListOpts{Limit: recoverPage, Offset: offset})
		if err != nil {
			return restored, fmt.Errorf("service: recover: list pools: %w", err)
		}
		for _, snap := range snaps {
			tickets, err := store.ListTickets(ctx, snap.Address)
			if err != nil {
				return restored, fmt.Errorf("service: recover: tickets %s: %w", snap.Address.Hex(), err)
			}
			if _, err := f.Restore(snap, tickets); err != nil {
				return restored, fmt.Errorf("service: recover: %w", err)
			}
			restored++
		}
		if len(snaps) < recoverPage {
			break
		}
	}

	logger.InfoContext(ctx, "pools restored", slog.Int("count", restored))
	return restored, nil
}

// RestorableVault is a vault whose index and share supply can be reset after
// a restart.
type RestorableVault interface {
	Restore(index, supply *uint256.Int) error
}

// RestoreVault brings v back in line with the pools already restored into f:
// the index comes from store and the supply is the sum of shares held by
// active tickets, so every restored ticket stays redeemable.
func RestoreVault(ctx context.Context, store domain.VaultStore, v RestorableVault, f *factory.Factory, logger *slog.Logger) error {
	var index *uint256.Int
	st, err := store.GetVaultState(ctx)
	switch {
	case err == nil:
		index = st.Index
	case errors.Is(err, domain.ErrNotFound):
	default:
		return fmt.Errorf("service: restore vault: %w", err)
	}

	supply := new(uint256.Int)
	for _, p := range f.Pools() {
		for _, tk := range p.ActiveTickets() {
			if tk.Shares != nil {
				supply.Add(supply, tk.Shares)
			}
		}
	}
	if err := v.Restore(index, supply); err != nil {
		return fmt.Errorf("service: restore vault: %w", err)
	}

	attrs := []any{slog.String("supply", supply.Dec())}
	if index != nil {
		attrs = append(attrs, slog.String("index", index.Dec()))
	}
	logger.With(slog.String("component", "recovery")).InfoContext(ctx, "vault restored", attrs...)
	return nil
}
