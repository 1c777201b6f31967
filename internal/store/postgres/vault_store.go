package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/yieldbet/internal/domain"
)

// VaultStore keeps the vault index in the single-row vault_state table.
type VaultStore struct {
	pool *pgxpool.Pool
}

func NewVaultStore(pool *pgxpool.Pool) *VaultStore {
	return &VaultStore{pool: pool}
}

// SaveVaultState upserts the row. The index only grows, so a lower value
// from a lagging writer is ignored.
func (s *VaultStore) SaveVaultState(ctx context.Context, st domain.VaultState) error {
	const query = `
		INSERT INTO vault_state (id, liquidity_index, updated_at)
		VALUES (1, $1::numeric, $2)
		ON CONFLICT (id) DO UPDATE
		SET liquidity_index = EXCLUDED.liquidity_index, updated_at = EXCLUDED.updated_at
		WHERE vault_state.liquidity_index <= EXCLUDED.liquidity_index`
	if _, err := s.pool.Exec(ctx, query, dec(st.Index), st.UpdatedAt); err != nil {
		return fmt.Errorf("postgres: save vault state: %w", err)
	}
	return nil
}

// GetVaultState returns the saved index or domain.ErrNotFound.
func (s *VaultStore) GetVaultState(ctx context.Context) (domain.VaultState, error) {
	var (
		raw string
		st  domain.VaultState
	)
	err := s.pool.QueryRow(ctx,
		`SELECT liquidity_index::text, updated_at FROM vault_state WHERE id = 1`,
	).Scan(&raw, &st.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.VaultState{}, fmt.Errorf("postgres: get vault state: %w", domain.ErrNotFound)
	}
	if err != nil {
		return domain.VaultState{}, fmt.Errorf("postgres: get vault state: %w", err)
	}
	if st.Index, err = parseDec(raw); err != nil {
		return domain.VaultState{}, fmt.Errorf("postgres: get vault state: %w", err)
	}
	return st, nil
}

var _ domain.VaultStore = (*VaultStore)(nil)
