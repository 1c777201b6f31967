package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/yieldbet/internal/domain"
)

// EventStore implements domain.EventStore. Each event is stored whole as
// JSONB next to the columns it is queried by.
type EventStore struct {
	pool *pgxpool.Pool
}

// NewEventStore creates a new EventStore backed by the given connection pool.
func NewEventStore(pool *pgxpool.Pool) *EventStore {
	return &EventStore{pool: pool}
}

// Append inserts ev. Re-appending an event with the same id is a no-op.
func (s *EventStore) Append(ctx context.Context, ev domain.Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("postgres: marshal event %s: %w", ev.ID, err)
	}

	const query = `
		INSERT INTO pool_events (id, pool_address, seq, type, at, payload)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO NOTHING`
	_, err = s.pool.Exec(ctx, query, ev.ID, ev.Pool.Hex(), int64(ev.Seq), string(ev.Type), ev.At, payload)
	if err != nil {
		return fmt.Errorf("postgres: append event %s %s/%d: %w", ev.Type, ev.Pool.Hex(), ev.Seq, err)
	}
	return nil
}

// ListByPool returns a pool's events in sequence order.
func (s *EventStore) ListByPool(ctx context.Context, poolAddr common.Address, opts domain.ListOpts) ([]domain.Event, error) {
	query := `SELECT payload FROM pool_events WHERE pool_address = $1`
	args := []any{poolAddr.Hex()}
	argIdx := 2

	if opts.Since != nil {
		query += fmt.Sprintf(" AND at >= $%d", argIdx)
		args = append(args, *opts.Since)
		argIdx++
	}
	if opts.Until != nil {
		query += fmt.Sprintf(" AND at <= $%d", argIdx)
		args = append(args, *opts.Until)
		argIdx++
	}

	query += " ORDER BY seq"

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list events %s: %w", poolAddr.Hex(), err)
	}
	defer rows.Close()

	var events []domain.Event
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("postgres: scan event: %w", err)
		}
		var ev domain.Event
		if err := json.Unmarshal(payload, &ev); err != nil {
			return nil, fmt.Errorf("postgres: unmarshal event: %w", err)
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list events rows: %w", err)
	}
	return events, nil
}
