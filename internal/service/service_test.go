package service_test

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/yieldbet/internal/crypto"
	"github.com/alanyoungcy/yieldbet/internal/domain"
	"github.com/alanyoungcy/yieldbet/internal/factory"
	"github.com/alanyoungcy/yieldbet/internal/ledger"
	"github.com/alanyoungcy/yieldbet/internal/oracle"
	"github.com/alanyoungcy/yieldbet/internal/pool"
	"github.com/alanyoungcy/yieldbet/internal/service"
	"github.com/alanyoungcy/yieldbet/internal/store/memory"
	"github.com/alanyoungcy/yieldbet/internal/vault"
)

var (
	t0          = time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	factoryAddr = common.HexToAddress("0x00000000000000000000000000000000000fac70")
	stake       = uint256.NewInt(1_000)
	quiet       = slog.New(slog.NewTextHandler(io.Discard, nil))
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type heldLocks struct{}

func (heldLocks) Acquire(context.Context, string, time.Duration) (func(), error) {
	return nil, fmt.Errorf("redis: acquire: %w", domain.ErrLockHeld)
}

type env struct {
	clock    *clock
	oracle   *oracle.Static
	ledger   *ledger.Memory
	pools    *memory.PoolStore
	events   *memory.EventStore
	audit    *memory.AuditStore
	bus      *memory.SignalBus
	attestor *crypto.Attestor
	deps     pool.Deps
	svc      *service.PoolService
}

func newEnv(t *testing.T) *env {
	t.Helper()
	key, err := ethcrypto.GenerateKey()
	require.NoError(t, err)

	e := &env{
		clock:    &clock{now: t0},
		oracle:   oracle.NewStatic(24_800, t0),
		ledger:   ledger.NewMemory(),
		pools:    memory.NewPoolStore(),
		events:   memory.NewEventStore(),
		audit:    memory.NewAuditStore(),
		bus:      memory.NewSignalBus(),
		attestor: crypto.NewAttestor(key),
	}
	e.deps = pool.Deps{
		Oracle: e.oracle,
		Vault:  vault.NewSimulated(),
		Ledger: e.ledger,
		Clock:  e.clock,
		Sink:   service.NewEventDispatcher(e.bus, e.events, nil, e.attestor, quiet),
		Logger: quiet,
	}
	e.svc = service.NewPoolService(factory.New(factoryAddr, e.deps), e.pools, e.events, e.audit, quiet)
	return e
}

func (e *env) params() domain.PoolParams {
	return domain.PoolParams{
		BettingEndsAt: t0.Add(time.Hour),
		LockInEndsAt:  t0.Add(2 * time.Hour),
		StakeAmount:   stake.Clone(),
	}
}

func (e *env) fund(t *testing.T, a common.Address) {
	t.Helper()
	require.NoError(t, e.ledger.Credit(context.Background(), a, stake))
}

func account(n byte) common.Address {
	var a common.Address
	a[19] = n
	return a
}

func TestPoolLifecyclePersistsAndAudits(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)

	snap, err := e.svc.CreatePool(ctx, e.params())
	require.NoError(t, err)
	addr := snap.Address

	guesses := []int64{30_000, 21_000, 26_000, 23_000}
	for i, g := range guesses {
		a := account(byte(i + 1))
		e.fund(t, a)
		tk, err := e.svc.PlaceBet(ctx, addr, a, g, stake)
		require.NoError(t, err)
		assert.Equal(t, uint64(i+1), tk.ID)
	}

	_, err = e.svc.Withdraw(ctx, addr, account(1), 1)
	require.NoError(t, err)

	e.fund(t, account(5))
	_, err = e.svc.PlaceBet(ctx, addr, account(5), 25_000, stake)
	require.NoError(t, err)

	stored, err := e.pools.GetPool(ctx, addr)
	require.NoError(t, err)
	assert.Equal(t, 5, stored.TotalTickets)
	assert.Equal(t, 4, stored.ActiveTickets)

	tickets, err := e.pools.ListTickets(ctx, addr)
	require.NoError(t, err)
	require.Len(t, tickets, 5)
	assert.True(t, tickets[0].Withdrawn)

	e.clock.advance(3 * time.Hour)
	r := service.NewResolver(e.svc, nil, time.Second, 0, quiet)
	require.Equal(t, 1, r.Sweep(ctx))
	require.Equal(t, 0, r.Sweep(ctx))

	stored, err = e.pools.GetPool(ctx, addr)
	require.NoError(t, err)
	require.NotNil(t, stored.Resolution)
	assert.Equal(t, uint64(5), stored.Resolution.TicketID)
	assert.Equal(t, int64(24_800), stored.Resolution.Value)

	events, err := e.svc.Events(ctx, addr, domain.ListOpts{})
	require.NoError(t, err)
	require.Len(t, events, 8)
	for i, ev := range events {
		assert.Equal(t, uint64(i), ev.Seq)
	}
	assert.Equal(t, domain.EventPoolCreated, events[0].Type)
	winner := events[len(events)-1]
	require.Equal(t, domain.EventWinnerFound, winner.Type)
	require.NoError(t, crypto.VerifyWinner(winner, winner.Signature, e.attestor.Address()))

	msgs, err := e.bus.StreamRead(ctx, "pool:"+addr.Hex(), "0", 100)
	require.NoError(t, err)
	assert.Len(t, msgs, 8)

	entries, err := e.audit.List(ctx, domain.ListOpts{})
	require.NoError(t, err)
	require.Len(t, entries, 8)
	assert.Equal(t, "pool.resolve", entries[0].Event)
	assert.Equal(t, "pool.create", entries[len(entries)-1].Event)
}

func TestResolverSkipsHeldLock(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)

	snap, err := e.svc.CreatePool(ctx, e.params())
	require.NoError(t, err)
	e.fund(t, account(1))
	_, err = e.svc.PlaceBet(ctx, snap.Address, account(1), 10, stake)
	require.NoError(t, err)

	e.clock.advance(3 * time.Hour)
	r := service.NewResolver(e.svc, heldLocks{}, time.Second, time.Second, quiet)
	assert.Equal(t, 0, r.Sweep(ctx))

	phase, err := e.svc.Phase(snap.Address)
	require.NoError(t, err)
	assert.Equal(t, domain.PhasePostLockIn, phase)
}

func TestResolverIgnoresEmptyAndEarlyPools(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)

	_, err := e.svc.CreatePool(ctx, e.params())
	require.NoError(t, err)

	r := service.NewResolver(e.svc, nil, time.Second, 0, quiet)
	assert.Equal(t, 0, r.Sweep(ctx))
	e.clock.advance(3 * time.Hour)
	assert.Equal(t, 0, r.Sweep(ctx))
}

func TestRejectedWithdrawIsNotPersisted(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)

	snap, err := e.svc.CreatePool(ctx, e.params())
	require.NoError(t, err)
	e.fund(t, account(1))
	_, err = e.svc.PlaceBet(ctx, snap.Address, account(1), 10, stake)
	require.NoError(t, err)

	_, err = e.svc.Withdraw(ctx, snap.Address, account(2), 1)
	require.ErrorIs(t, err, domain.ErrNotTicketOwner)

	entries, err := e.audit.List(ctx, domain.ListOpts{})
	require.NoError(t, err)
	assert.Equal(t, "pool.bet", entries[0].Event)
}

func TestUnknownPool(t *testing.T) {
	e := newEnv(t)
	_, err := e.svc.GetPool(common.HexToAddress("0xdead"))
	require.ErrorIs(t, err, domain.ErrUnknownPool)
	_, err = e.svc.Events(context.Background(), common.HexToAddress("0xdead"), domain.ListOpts{})
	require.ErrorIs(t, err, domain.ErrUnknownPool)
}

func TestTransferAndListing(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)

	first, err := e.svc.CreatePool(ctx, e.params())
	require.NoError(t, err)
	e.clock.advance(time.Minute)
	_, err = e.svc.CreatePool(ctx, e.params())
	require.NoError(t, err)

	all := e.svc.ListPools(domain.ListOpts{})
	require.Len(t, all, 2)
	assert.Equal(t, first.Address, all[0].Address)
	assert.Len(t, e.svc.ListPools(domain.ListOpts{Offset: 1}), 1)
	assert.Empty(t, e.svc.ListPools(domain.ListOpts{Offset: 5}))

	e.fund(t, account(1))
	_, err = e.svc.PlaceBet(ctx, first.Address, account(1), 7, stake)
	require.NoError(t, err)
	require.NoError(t, e.svc.Transfer(ctx, first.Address, account(1), 1, account(9)))

	owner, err := e.svc.OwnerOf(first.Address, 1)
	require.NoError(t, err)
	assert.Equal(t, account(9), owner)

	tickets, err := e.pools.ListTickets(ctx, first.Address)
	require.NoError(t, err)
	require.Len(t, tickets, 1)
	assert.Equal(t, account(9), tickets[0].Owner)

	preview, err := e.svc.PreviewWithdraw(ctx, first.Address, 1)
	require.NoError(t, err)
	assert.True(t, preview.Eq(stake))
}

func TestRecover(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)

	snap, err := e.svc.CreatePool(ctx, e.params())
	require.NoError(t, err)
	e.fund(t, account(1))
	_, err = e.svc.PlaceBet(ctx, snap.Address, account(1), 42, stake)
	require.NoError(t, err)

	fresh := factory.New(factoryAddr, e.deps)
	n, err := service.Recover(ctx, e.pools, fresh, quiet)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	p, err := fresh.Pool(snap.Address)
	require.NoError(t, err)
	tk, err := p.Ticket(1)
	require.NoError(t, err)
	assert.Equal(t, int64(42), tk.Guess)
	assert.Equal(t, uint64(2), p.Snapshot().NextTicketID)

	next, err := fresh.CreatePool(ctx, e.params())
	require.NoError(t, err)
	assert.NotEqual(t, snap.Address, next.Address())
}

func TestRestartKeepsTicketsRedeemable(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	v := e.deps.Vault.(*vault.Simulated)
	vaults := memory.NewVaultStore()

	snap, err := e.svc.CreatePool(ctx, e.params())
	require.NoError(t, err)
	e.fund(t, account(1))
	_, err = e.svc.PlaceBet(ctx, snap.Address, account(1), 42, stake)
	require.NoError(t, err)

	v.Accrue(100)
	require.NoError(t, vaults.SaveVaultState(ctx, domain.VaultState{Index: v.Index(), UpdatedAt: t0}))

	// A new process starts with an empty vault.
	restarted := vault.NewSimulated()
	deps := e.deps
	deps.Vault = restarted
	f := factory.New(factoryAddr, deps)
	_, err = service.Recover(ctx, e.pools, f, quiet)
	require.NoError(t, err)
	require.NoError(t, service.RestoreVault(ctx, vaults, restarted, f, quiet))
	assert.Equal(t, v.Index(), restarted.Index())
	assert.Equal(t, v.Supply(), restarted.Supply())

	svc := service.NewPoolService(f, e.pools, e.events, e.audit, quiet)
	e.clock.advance(3 * time.Hour)
	paid, err := svc.Withdraw(ctx, snap.Address, account(1), 1)
	require.NoError(t, err)
	assert.Equal(t, uint64(1_010), paid.Uint64())
	assert.True(t, restarted.Supply().IsZero())
}

func TestRestoreVaultWithoutSavedIndex(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	snap, err := e.svc.CreatePool(ctx, e.params())
	require.NoError(t, err)
	e.fund(t, account(1))
	_, err = e.svc.PlaceBet(ctx, snap.Address, account(1), 42, stake)
	require.NoError(t, err)

	restarted := vault.NewSimulated()
	deps := e.deps
	deps.Vault = restarted
	f := factory.New(factoryAddr, deps)
	_, err = service.Recover(ctx, e.pools, f, quiet)
	require.NoError(t, err)
	require.NoError(t, service.RestoreVault(ctx, memory.NewVaultStore(), restarted, f, quiet))

	preview, err := restarted.PreviewRedeem(ctx, restarted.Supply())
	require.NoError(t, err)
	assert.True(t, preview.Eq(stake))
}
