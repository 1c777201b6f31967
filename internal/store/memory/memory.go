// Package memory holds in-process implementations of the domain stores. dev
// mode runs on these instead of PostgreSQL.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/yieldbet/internal/domain"
)

// PoolStore implements domain.PoolStore.
type PoolStore struct {
	mu      sync.RWMutex
	pools   map[common.Address]domain.PoolSnapshot
	tickets map[common.Address]map[uint64]domain.Ticket
}

// NewPoolStore creates an empty PoolStore.
func NewPoolStore() *PoolStore {
	return &PoolStore{
		pools:   make(map[common.Address]domain.PoolSnapshot),
		tickets: make(map[common.Address]map[uint64]domain.Ticket),
	}
}

// SavePool upserts snap. A recorded resolution is never replaced and the
// event sequence never moves backwards.
func (s *PoolStore) SavePool(_ context.Context, snap domain.PoolSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if prev, ok := s.pools[snap.Address]; ok {
		if prev.Resolution != nil {
			snap.Resolution = prev.Resolution
		}
		if prev.NextSeq > snap.NextSeq {
			snap.NextSeq = prev.NextSeq
		}
		if snap.ArchivedAt == nil {
			snap.ArchivedAt = prev.ArchivedAt
		}
	}
	s.pools[snap.Address] = snap
	return nil
}

// SaveTicket upserts t.
func (s *PoolStore) SaveTicket(_ context.Context, pool common.Address, t domain.Ticket) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	byID, ok := s.tickets[pool]
	if !ok {
		byID = make(map[uint64]domain.Ticket)
		s.tickets[pool] = byID
	}
	byID[t.ID] = t
	return nil
}

// GetPool returns the pool or domain.ErrNotFound.
func (s *PoolStore) GetPool(_ context.Context, pool common.Address) (domain.PoolSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap, ok := s.pools[pool]
	if !ok {
		return domain.PoolSnapshot{}, fmt.Errorf("memory: get pool %s: %w", pool.Hex(), domain.ErrNotFound)
	}
	return snap, nil
}

// ListPools returns pools in creation order.
func (s *PoolStore) ListPools(_ context.Context, opts domain.ListOpts) ([]domain.PoolSnapshot, error) {
	s.mu.RLock()
	out := make([]domain.PoolSnapshot, 0, len(s.pools))
	for _, snap := range s.pools {
		if opts.Since != nil && snap.CreatedAt.Before(*opts.Since) {
			continue
		}
		if opts.Until != nil && snap.CreatedAt.After(*opts.Until) {
			continue
		}
		out = append(out, snap)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].Address.Cmp(out[j].Address) < 0
	})
	return page(out, opts), nil
}

// ListTickets returns a pool's tickets by ascending id.
func (s *PoolStore) ListTickets(_ context.Context, pool common.Address) ([]domain.Ticket, error) {
	s.mu.RLock()
	byID := s.tickets[pool]
	out := make([]domain.Ticket, 0, len(byID))
	for _, t := range byID {
		out = append(out, t)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// ListResolvedBefore returns unarchived pools resolved before the cutoff,
// oldest resolution first.
func (s *PoolStore) ListResolvedBefore(_ context.Context, before time.Time) ([]domain.PoolSnapshot, error) {
	s.mu.RLock()
	var out []domain.PoolSnapshot
	for _, snap := range s.pools {
		if snap.Resolution == nil || snap.ArchivedAt != nil {
			continue
		}
		if snap.Resolution.ResolvedAt.Before(before) {
			out = append(out, snap)
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].Resolution.ResolvedAt.Before(out[j].Resolution.ResolvedAt)
	})
	return out, nil
}

// MarkArchived stamps the archive time on a pool.
func (s *PoolStore) MarkArchived(_ context.Context, pool common.Address, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap, ok := s.pools[pool]
	if !ok {
		return fmt.Errorf("memory: mark pool %s archived: %w", pool.Hex(), domain.ErrNotFound)
	}
	snap.ArchivedAt = &at
	s.pools[pool] = snap
	return nil
}

// EventStore implements domain.EventStore.
type EventStore struct {
	mu     sync.RWMutex
	seen   map[string]struct{}
	byPool map[common.Address][]domain.Event
}

// NewEventStore creates an empty EventStore.
func NewEventStore() *EventStore {
	return &EventStore{
		seen:   make(map[string]struct{}),
		byPool: make(map[common.Address][]domain.Event),
	}
}

// Append records ev. An id already stored is ignored.
func (s *EventStore) Append(_ context.Context, ev domain.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, dup := s.seen[ev.ID]; dup {
		return nil
	}
	s.seen[ev.ID] = struct{}{}

	events := append(s.byPool[ev.Pool], ev)
	sort.SliceStable(events, func(i, j int) bool { return events[i].Seq < events[j].Seq })
	s.byPool[ev.Pool] = events
	return nil
}

// ListByPool returns a pool's events in sequence order.
func (s *EventStore) ListByPool(_ context.Context, pool common.Address, opts domain.ListOpts) ([]domain.Event, error) {
	s.mu.RLock()
	var out []domain.Event
	for _, ev := range s.byPool[pool] {
		if opts.Since != nil && ev.At.Before(*opts.Since) {
			continue
		}
		if opts.Until != nil && ev.At.After(*opts.Until) {
			continue
		}
		out = append(out, ev)
	}
	s.mu.RUnlock()
	return page(out, opts), nil
}

// AuditStore implements domain.AuditStore.
type AuditStore struct {
	mu      sync.Mutex
	entries []domain.AuditEntry
	now     func() time.Time
}

// NewAuditStore creates an empty AuditStore.
func NewAuditStore() *AuditStore {
	return &AuditStore{now: func() time.Time { return time.Now().UTC() }}
}

// Log appends an entry.
func (s *AuditStore) Log(_ context.Context, event string, detail map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries = append(s.entries, domain.AuditEntry{
		ID:        int64(len(s.entries) + 1),
		Event:     event,
		Detail:    detail,
		CreatedAt: s.now(),
	})
	return nil
}

// List returns entries newest first.
func (s *AuditStore) List(_ context.Context, opts domain.ListOpts) ([]domain.AuditEntry, error) {
	s.mu.Lock()
	out := make([]domain.AuditEntry, 0, len(s.entries))
	for i := len(s.entries) - 1; i >= 0; i-- {
		e := s.entries[i]
		if opts.Since != nil && e.CreatedAt.Before(*opts.Since) {
			continue
		}
		if opts.Until != nil && e.CreatedAt.After(*opts.Until) {
			continue
		}
		out = append(out, e)
	}
	s.mu.Unlock()
	return page(out, opts), nil
}

func page[T any](items []T, opts domain.ListOpts) []T {
	if opts.Offset > 0 {
		if opts.Offset >= len(items) {
			return nil
		}
		items = items[opts.Offset:]
	}
	if opts.Limit > 0 && opts.Limit < len(items) {
		items = items[:opts.Limit]
	}
	return items
}
