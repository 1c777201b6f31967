package factory_test

import (
	"context"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/yieldbet/internal/domain"
	"github.com/alanyoungcy/yieldbet/internal/factory"
	"github.com/alanyoungcy/yieldbet/internal/ledger"
	"github.com/alanyoungcy/yieldbet/internal/oracle"
	"github.com/alanyoungcy/yieldbet/internal/pool"
	"github.com/alanyoungcy/yieldbet/internal/vault"
)

var (
	factoryAddr = common.HexToAddress("0x00000000000000000000000000000000000fac70")
	now         = time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
)

func newFactory(events *[]domain.Event) *factory.Factory {
	return factory.New(factoryAddr, pool.Deps{
		Oracle: oracle.NewStatic(1, now),
		Vault:  vault.NewSimulated(),
		Ledger: ledger.NewMemory(),
		Clock:  domain.ClockFunc(func() time.Time { return now }),
		Sink: domain.EventSinkFunc(func(_ context.Context, ev domain.Event) {
			*events = append(*events, ev)
		}),
	})
}

func params() domain.PoolParams {
	return domain.PoolParams{
		BettingEndsAt: now.Add(time.Hour),
		LockInEndsAt:  now.Add(2 * time.Hour),
		StakeAmount:   uint256.NewInt(100),
	}
}

func TestCreatePool(t *testing.T) {
	var events []domain.Event
	f := newFactory(&events)

	p1, err := f.CreatePool(context.Background(), params())
	require.NoError(t, err)
	p2, err := f.CreatePool(context.Background(), params())
	require.NoError(t, err)

	require.Equal(t, crypto.CreateAddress(factoryAddr, 1), p1.Address())
	require.Equal(t, crypto.CreateAddress(factoryAddr, 2), p2.Address())
	require.NotEqual(t, p1.Address(), p2.Address())

	got, err := f.Pool(p2.Address())
	require.NoError(t, err)
	require.Same(t, p2, got)
	require.Equal(t, []*pool.Pool{p1, p2}, f.Pools())

	require.Len(t, events, 2)
	require.Equal(t, domain.EventPoolCreated, events[0].Type)
	require.Equal(t, uint64(0), events[0].Seq)
	require.Equal(t, p1.Address(), events[0].Pool)
	require.NotNil(t, events[0].Params)
	require.Equal(t, uint64(100), events[0].Amount.Uint64())
}

func TestCreatePoolRejectsBadParams(t *testing.T) {
	var events []domain.Event
	f := newFactory(&events)

	tests := []struct {
		name   string
		mutate func(p *domain.PoolParams)
	}{
		{name: "betting after lock-in", mutate: func(p *domain.PoolParams) { p.BettingEndsAt = p.LockInEndsAt.Add(time.Second) }},
		{name: "equal boundaries", mutate: func(p *domain.PoolParams) { p.BettingEndsAt = p.LockInEndsAt }},
		{name: "zero stake", mutate: func(p *domain.PoolParams) { p.StakeAmount = new(uint256.Int) }},
		{name: "nil stake", mutate: func(p *domain.PoolParams) { p.StakeAmount = nil }},
		{name: "betting already over", mutate: func(p *domain.PoolParams) { p.BettingEndsAt = now }},
		{name: "penalty above 100%", mutate: func(p *domain.PoolParams) { p.EarlyExitPenaltyBps = domain.BasisPoints + 1 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := params()
			tt.mutate(&p)
			_, err := f.CreatePool(context.Background(), p)
			require.ErrorIs(t, err, domain.ErrInvalidPoolParameters)
		})
	}
	require.Zero(t, f.Len())
	require.Empty(t, events)
}

func TestUnknownPool(t *testing.T) {
	var events []domain.Event
	f := newFactory(&events)
	_, err := f.Pool(common.HexToAddress("0xdead"))
	require.ErrorIs(t, err, domain.ErrUnknownPool)
}

func TestRestoreSkipsTakenAddress(t *testing.T) {
	var events []domain.Event
	f := newFactory(&events)

	snap := domain.PoolSnapshot{
		Address:      crypto.CreateAddress(factoryAddr, 1),
		Params:       params(),
		CreatedAt:    now,
		NextTicketID: 1,
	}
	restored, err := f.Restore(snap, nil)
	require.NoError(t, err)
	require.Equal(t, snap.Address, restored.Address())

	_, err = f.Restore(snap, nil)
	require.Error(t, err)

	fresh, err := f.CreatePool(context.Background(), params())
	require.NoError(t, err)
	require.Equal(t, crypto.CreateAddress(factoryAddr, 2), fresh.Address())
	require.Equal(t, 2, f.Len())
}
