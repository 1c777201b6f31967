package memory_test

import (
	"context"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/yieldbet/internal/domain"
	"github.com/alanyoungcy/yieldbet/internal/store/memory"
)

var (
	poolA = common.HexToAddress("0x000000000000000000000000000000000000000a")
	poolB = common.HexToAddress("0x000000000000000000000000000000000000000b")
	t0    = time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
)

func snapshot(addr common.Address, created time.Time) domain.PoolSnapshot {
	return domain.PoolSnapshot{
		Address:        addr,
		CreatedAt:      created,
		NextTicketID:   1,
		NextSeq:        1,
		TotalDeposited: uint256.NewInt(0),
		Forfeited:      uint256.NewInt(0),
	}
}

func TestPoolStoreFirstResolutionWins(t *testing.T) {
	ctx := context.Background()
	s := memory.NewPoolStore()

	snap := snapshot(poolA, t0)
	snap.Resolution = &domain.Resolution{TicketID: 2, ResolvedAt: t0}
	require.NoError(t, s.SavePool(ctx, snap))

	snap.Resolution = &domain.Resolution{TicketID: 3, ResolvedAt: t0.Add(time.Hour)}
	snap.NextSeq = 0
	require.NoError(t, s.SavePool(ctx, snap))

	got, err := s.GetPool(ctx, poolA)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), got.Resolution.TicketID)
	assert.Equal(t, uint64(1), got.NextSeq)

	_, err = s.GetPool(ctx, poolB)
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestPoolStoreListing(t *testing.T) {
	ctx := context.Background()
	s := memory.NewPoolStore()

	require.NoError(t, s.SavePool(ctx, snapshot(poolB, t0.Add(time.Minute))))
	require.NoError(t, s.SavePool(ctx, snapshot(poolA, t0)))

	all, err := s.ListPools(ctx, domain.ListOpts{})
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, poolA, all[0].Address)

	paged, err := s.ListPools(ctx, domain.ListOpts{Offset: 1, Limit: 5})
	require.NoError(t, err)
	require.Len(t, paged, 1)
	assert.Equal(t, poolB, paged[0].Address)

	require.NoError(t, s.SaveTicket(ctx, poolA, domain.Ticket{ID: 2}))
	require.NoError(t, s.SaveTicket(ctx, poolA, domain.Ticket{ID: 1}))
	tickets, err := s.ListTickets(ctx, poolA)
	require.NoError(t, err)
	require.Len(t, tickets, 2)
	assert.Equal(t, uint64(1), tickets[0].ID)
}

func TestPoolStoreResolvedBefore(t *testing.T) {
	ctx := context.Background()
	s := memory.NewPoolStore()

	resolved := snapshot(poolA, t0)
	resolved.Resolution = &domain.Resolution{TicketID: 1, ResolvedAt: t0}
	require.NoError(t, s.SavePool(ctx, resolved))
	require.NoError(t, s.SavePool(ctx, snapshot(poolB, t0)))

	got, err := s.ListResolvedBefore(ctx, t0.Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, poolA, got[0].Address)

	require.NoError(t, s.MarkArchived(ctx, poolA, t0.Add(2*time.Hour)))
	got, err = s.ListResolvedBefore(ctx, t0.Add(time.Hour))
	require.NoError(t, err)
	assert.Empty(t, got)

	require.ErrorIs(t, s.MarkArchived(ctx, common.Address{}, t0), domain.ErrNotFound)
}

func TestEventStoreOrderAndDedup(t *testing.T) {
	ctx := context.Background()
	s := memory.NewEventStore()

	require.NoError(t, s.Append(ctx, domain.Event{ID: "b", Pool: poolA, Seq: 1, At: t0}))
	require.NoError(t, s.Append(ctx, domain.Event{ID: "a", Pool: poolA, Seq: 0, At: t0}))
	require.NoError(t, s.Append(ctx, domain.Event{ID: "b", Pool: poolA, Seq: 1, At: t0}))

	events, err := s.ListByPool(ctx, poolA, domain.ListOpts{})
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "a", events[0].ID)
	assert.Equal(t, "b", events[1].ID)

	events, err = s.ListByPool(ctx, poolB, domain.ListOpts{})
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestAuditStoreNewestFirst(t *testing.T) {
	ctx := context.Background()
	s := memory.NewAuditStore()

	require.NoError(t, s.Log(ctx, "first", nil))
	require.NoError(t, s.Log(ctx, "second", map[string]any{"k": "v"}))

	entries, err := s.List(ctx, domain.ListOpts{Limit: 1})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "second", entries[0].Event)
	assert.Equal(t, int64(2), entries[0].ID)
}

func TestPriceCacheKeepsNewestRound(t *testing.T) {
	ctx := context.Background()
	c := memory.NewPriceCache()

	_, err := c.GetObservation(ctx, "ETH")
	require.ErrorIs(t, err, domain.ErrNotFound)

	require.NoError(t, c.SetObservation(ctx, "ETH", domain.Observation{Value: 10, Round: 5}))
	require.NoError(t, c.SetObservation(ctx, "ETH", domain.Observation{Value: 9, Round: 4}))

	got, err := c.GetObservation(ctx, "ETH")
	require.NoError(t, err)
	assert.Equal(t, int64(10), got.Value)
}

func TestSignalBusPublishSubscribe(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	b := memory.NewSignalBus()

	all, err := b.Subscribe(ctx, "pool:*")
	require.NoError(t, err)
	exact, err := b.Subscribe(ctx, "events")
	require.NoError(t, err)

	require.NoError(t, b.Publish(ctx, "pool:0xabc", []byte("a")))
	require.NoError(t, b.Publish(ctx, "events", []byte("b")))

	assert.Equal(t, []byte("a"), <-all)
	assert.Equal(t, []byte("b"), <-exact)

	cancel()
	require.Eventually(t, func() bool {
		_, open := <-all
		return !open
	}, time.Second, 5*time.Millisecond)
}

func TestSignalBusStreams(t *testing.T) {
	ctx := context.Background()
	b := memory.NewSignalBus()

	for _, p := range []string{"one", "two", "three"} {
		require.NoError(t, b.StreamAppend(ctx, "s", []byte(p)))
	}

	msgs, err := b.StreamRead(ctx, "s", "0", 2)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "1-0", msgs[0].ID)

	msgs, err = b.StreamRead(ctx, "s", msgs[1].ID, 10)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, []byte("three"), msgs[0].Payload)
}

func TestLockManagerExclusiveUntilReleaseOrExpiry(t *testing.T) {
	ctx := context.Background()
	m := memory.NewLockManager()

	unlock, err := m.Acquire(ctx, "resolve:a", time.Minute)
	require.NoError(t, err)
	_, err = m.Acquire(ctx, "resolve:a", time.Minute)
	require.ErrorIs(t, err, domain.ErrLockHeld)

	unlock()
	unlock()
	again, err := m.Acquire(ctx, "resolve:a", 300*time.Millisecond)
	require.NoError(t, err)

	// A stale unlock from the first holder must not free the new one.
	unlock()
	_, err = m.Acquire(ctx, "resolve:a", time.Minute)
	require.ErrorIs(t, err, domain.ErrLockHeld)

	time.Sleep(400 * time.Millisecond)
	_, err = m.Acquire(ctx, "resolve:a", time.Minute)
	require.NoError(t, err)
	again()
}

func TestVaultStoreKeepsHighestIndex(t *testing.T) {
	ctx := context.Background()
	s := memory.NewVaultStore()

	_, err := s.GetVaultState(ctx)
	require.ErrorIs(t, err, domain.ErrNotFound)

	require.NoError(t, s.SaveVaultState(ctx, domain.VaultState{Index: uint256.NewInt(20), UpdatedAt: t0}))
	require.NoError(t, s.SaveVaultState(ctx, domain.VaultState{Index: uint256.NewInt(10), UpdatedAt: t0.Add(time.Hour)}))

	st, err := s.GetVaultState(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(20), st.Index.Uint64())
	assert.Equal(t, t0, st.UpdatedAt)
}
