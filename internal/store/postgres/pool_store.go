package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/yieldbet/internal/domain"
)

// PoolStore implements domain.PoolStore using PostgreSQL. Amounts are kept
// in NUMERIC(78,0) columns and move through pgx as decimal text.
type PoolStore struct {
	pool *pgxpool.Pool
}

// NewPoolStore creates a new PoolStore backed by the given connection pool.
func NewPoolStore(pool *pgxpool.Pool) *PoolStore {
	return &PoolStore{pool: pool}
}

const poolColumns = `address, betting_ends_at, lock_in_ends_at, stake_amount::text, early_exit_penalty_bps,
	created_at, next_ticket_id, next_seq, total_deposited::text, forfeited::text, active_tickets, total_tickets,
	winner_ticket_id, winner_guess, observed_value, oracle_round, resolved_at, archived_at`

// SavePool upserts the pool row.
func (s *PoolStore) SavePool(ctx context.Context, snap domain.PoolSnapshot) error {
	const query = `
		INSERT INTO pools (address, betting_ends_at, lock_in_ends_at, stake_amount, early_exit_penalty_bps,
			created_at, next_ticket_id, next_seq, total_deposited, forfeited, active_tickets, total_tickets,
			winner_ticket_id, winner_guess, observed_value, oracle_round, resolved_at, archived_at, updated_at)
		VALUES ($1, $2, $3, $4::numeric, $5, $6, $7, $8, $9::numeric, $10::numeric, $11, $12,
			$13, $14, $15, $16, $17, $18, NOW())
		ON CONFLICT (address) DO UPDATE SET
			next_ticket_id   = EXCLUDED.next_ticket_id,
			next_seq         = GREATEST(pools.next_seq, EXCLUDED.next_seq),
			total_deposited  = EXCLUDED.total_deposited,
			forfeited        = EXCLUDED.forfeited,
			active_tickets   = EXCLUDED.active_tickets,
			total_tickets    = EXCLUDED.total_tickets,
			winner_ticket_id = COALESCE(pools.winner_ticket_id, EXCLUDED.winner_ticket_id),
			winner_guess     = COALESCE(pools.winner_guess, EXCLUDED.winner_guess),
			observed_value   = COALESCE(pools.observed_value, EXCLUDED.observed_value),
			oracle_round     = COALESCE(pools.oracle_round, EXCLUDED.oracle_round),
			resolved_at      = COALESCE(pools.resolved_at, EXCLUDED.resolved_at),
			archived_at      = COALESCE(EXCLUDED.archived_at, pools.archived_at),
			updated_at       = NOW()`

	var (
		winnerID, winnerGuess, value, round *int64
		resolvedAt                          *time.Time
	)
	if r := snap.Resolution; r != nil {
		id, g, v, rd := int64(r.TicketID), r.Guess, r.Value, int64(r.Round)
		winnerID, winnerGuess, value, round = &id, &g, &v, &rd
		resolvedAt = &r.ResolvedAt
	}

	_, err := s.pool.Exec(ctx, query,
		snap.Address.Hex(), snap.Params.BettingEndsAt, snap.Params.LockInEndsAt, dec(snap.Params.StakeAmount),
		int32(snap.Params.EarlyExitPenaltyBps), snap.CreatedAt, int64(snap.NextTicketID), int64(snap.NextSeq),
		dec(snap.TotalDeposited), dec(snap.Forfeited), snap.ActiveTickets, snap.TotalTickets,
		winnerID, winnerGuess, value, round, resolvedAt, snap.ArchivedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: save pool %s: %w", snap.Address.Hex(), err)
	}
	return nil
}

// SaveTicket upserts one ticket row.
func (s *PoolStore) SaveTicket(ctx context.Context, poolAddr common.Address, t domain.Ticket) error {
	const query = `
		INSERT INTO tickets (pool_address, ticket_id, owner, guess, shares, withdrawn, placed_at, withdrawn_at, payout)
		VALUES ($1, $2, $3, $4, $5::numeric, $6, $7, $8, $9::numeric)
		ON CONFLICT (pool_address, ticket_id) DO UPDATE SET
			owner        = EXCLUDED.owner,
			shares       = EXCLUDED.shares,
			withdrawn    = EXCLUDED.withdrawn,
			withdrawn_at = EXCLUDED.withdrawn_at,
			payout       = EXCLUDED.payout`

	var payout *string
	if t.Payout != nil {
		p := t.Payout.Dec()
		payout = &p
	}
	_, err := s.pool.Exec(ctx, query,
		poolAddr.Hex(), int64(t.ID), t.Owner.Hex(), t.Guess, dec(t.Shares), t.Withdrawn, t.PlacedAt, t.WithdrawnAt, payout,
	)
	if err != nil {
		return fmt.Errorf("postgres: save ticket %s/%d: %w", poolAddr.Hex(), t.ID, err)
	}
	return nil
}

// GetPool returns a pool by address or domain.ErrNotFound.
func (s *PoolStore) GetPool(ctx context.Context, poolAddr common.Address) (domain.PoolSnapshot, error) {
	query := `SELECT ` + poolColumns + ` FROM pools WHERE address = $1`
	snap, err := scanPool(s.pool.QueryRow(ctx, query, poolAddr.Hex()))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.PoolSnapshot{}, fmt.Errorf("postgres: get pool %s: %w", poolAddr.Hex(), domain.ErrNotFound)
	}
	if err != nil {
		return domain.PoolSnapshot{}, fmt.Errorf("postgres: get pool %s: %w", poolAddr.Hex(), err)
	}
	return snap, nil
}

// ListPools returns pools in creation order.
func (s *PoolStore) ListPools(ctx context.Context, opts domain.ListOpts) ([]domain.PoolSnapshot, error) {
	query := `SELECT ` + poolColumns + ` FROM pools WHERE 1=1`
	args := []any{}
	argIdx := 1

	if opts.Since != nil {
		query += fmt.Sprintf(" AND created_at >= $%d", argIdx)
		args = append(args, *opts.Since)
		argIdx++
	}
	if opts.Until != nil {
		query += fmt.Sprintf(" AND created_at <= $%d", argIdx)
		args = append(args, *opts.Until)
		argIdx++
	}

	query += " ORDER BY created_at, address"

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	return s.queryPools(ctx, "list pools", query, args...)
}

// ListResolvedBefore returns resolved, not yet archived pools whose
// resolution happened before the cutoff.
func (s *PoolStore) ListResolvedBefore(ctx context.Context, before time.Time) ([]domain.PoolSnapshot, error) {
	query := `SELECT ` + poolColumns + `
		FROM pools
		WHERE resolved_at IS NOT NULL AND resolved_at < $1 AND archived_at IS NULL
		ORDER BY resolved_at`
	return s.queryPools(ctx, "list resolved pools", query, before)
}

// MarkArchived stamps archived_at on a pool.
func (s *PoolStore) MarkArchived(ctx context.Context, poolAddr common.Address, at time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE pools SET archived_at = $2, updated_at = NOW() WHERE address = $1`,
		poolAddr.Hex(), at,
	)
	if err != nil {
		return fmt.Errorf("postgres: mark pool %s archived: %w", poolAddr.Hex(), err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: mark pool %s archived: %w", poolAddr.Hex(), domain.ErrNotFound)
	}
	return nil
}

// ListTickets returns every ticket of a pool by ascending id.
func (s *PoolStore) ListTickets(ctx context.Context, poolAddr common.Address) ([]domain.Ticket, error) {
	const query = `
		SELECT ticket_id, owner, guess, shares::text, withdrawn, placed_at, withdrawn_at, payout::text
		FROM tickets WHERE pool_address = $1 ORDER BY ticket_id`

	rows, err := s.pool.Query(ctx, query, poolAddr.Hex())
	if err != nil {
		return nil, fmt.Errorf("postgres: list tickets %s: %w", poolAddr.Hex(), err)
	}
	defer rows.Close()

	var out []domain.Ticket
	for rows.Next() {
		var (
			t       domain.Ticket
			id      int64
			owner   string
			shares  string
			payout  *string
			scanErr error
		)
		if err := rows.Scan(&id, &owner, &t.Guess, &shares, &t.Withdrawn, &t.PlacedAt, &t.WithdrawnAt, &payout); err != nil {
			return nil, fmt.Errorf("postgres: scan ticket: %w", err)
		}
		t.ID = uint64(id)
		t.Owner = common.HexToAddress(owner)
		if t.Shares, scanErr = parseDec(shares); scanErr != nil {
			return nil, fmt.Errorf("postgres: ticket %d shares: %w", id, scanErr)
		}
		if payout != nil {
			if t.Payout, scanErr = parseDec(*payout); scanErr != nil {
				return nil, fmt.Errorf("postgres: ticket %d payout: %w", id, scanErr)
			}
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list tickets rows: %w", err)
	}
	return out, nil
}

func (s *PoolStore) queryPools(ctx context.Context, op, query string, args ...any) ([]domain.PoolSnapshot, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: %s: %w", op, err)
	}
	defer rows.Close()

	var out []domain.PoolSnapshot
	for rows.Next() {
		snap, err := scanPool(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: %s: %w", op, err)
		}
		out = append(out, snap)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: %s rows: %w", op, err)
	}
	return out, nil
}

func scanPool(row pgx.Row) (domain.PoolSnapshot, error) {
	var (
		snap                                domain.PoolSnapshot
		addr, stake, deposited, forfeited   string
		bps                                 int32
		nextTicket, nextSeq                 int64
		winnerID, winnerGuess, value, round *int64
		resolvedAt                          *time.Time
	)
	err := row.Scan(
		&addr, &snap.Params.BettingEndsAt, &snap.Params.LockInEndsAt, &stake, &bps,
		&snap.CreatedAt, &nextTicket, &nextSeq, &deposited, &forfeited, &snap.ActiveTickets, &snap.TotalTickets,
		&winnerID, &winnerGuess, &value, &round, &resolvedAt, &snap.ArchivedAt,
	)
	if err != nil {
		return domain.PoolSnapshot{}, err
	}

	snap.Address = common.HexToAddress(addr)
	snap.Params.EarlyExitPenaltyBps = uint32(bps)
	snap.NextTicketID = uint64(nextTicket)
	snap.NextSeq = uint64(nextSeq)
	if snap.Params.StakeAmount, err = parseDec(stake); err != nil {
		return domain.PoolSnapshot{}, fmt.Errorf("stake_amount: %w", err)
	}
	if snap.TotalDeposited, err = parseDec(deposited); err != nil {
		return domain.PoolSnapshot{}, fmt.Errorf("total_deposited: %w", err)
	}
	if snap.Forfeited, err = parseDec(forfeited); err != nil {
		return domain.PoolSnapshot{}, fmt.Errorf("forfeited: %w", err)
	}
	if winnerID != nil && resolvedAt != nil {
		snap.Resolution = &domain.Resolution{
			TicketID:   uint64(*winnerID),
			Guess:      deref(winnerGuess),
			Value:      deref(value),
			Round:      uint64(deref(round)),
			ResolvedAt: *resolvedAt,
		}
	}
	return snap, nil
}

func dec(v *uint256.Int) string {
	if v == nil {
		return "0"
	}
	return v.Dec()
}

func parseDec(s string) (*uint256.Int, error) {
	v, err := uint256.FromDecimal(s)
	if err != nil {
		return nil, fmt.Errorf("parse %q: %w", s, err)
	}
	return v, nil
}

func deref(p *int64) int64 {
	if p == nil {
		return 0
	}
	return *p
}
