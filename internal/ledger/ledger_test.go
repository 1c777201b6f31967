package ledger_test

import (
	"context"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/yieldbet/internal/domain"
	"github.com/alanyoungcy/yieldbet/internal/ledger"
)

var acct = common.HexToAddress("0x0000000000000000000000000000000000000abc")

func TestCreditDebit(t *testing.T) {
	ctx := context.Background()
	l := ledger.NewMemory()

	require.NoError(t, l.Credit(ctx, acct, uint256.NewInt(100)))
	require.NoError(t, l.Debit(ctx, acct, uint256.NewInt(40)))

	bal, err := l.Balance(ctx, acct)
	require.NoError(t, err)
	require.Equal(t, uint64(60), bal.Uint64())

	err = l.Debit(ctx, acct, uint256.NewInt(61))
	require.ErrorIs(t, err, domain.ErrInsufficientFunds)

	bal, err = l.Balance(ctx, acct)
	require.NoError(t, err)
	require.Equal(t, uint64(60), bal.Uint64())
}

func TestUnknownAccountHasZeroBalance(t *testing.T) {
	ctx := context.Background()
	l := ledger.NewMemory()

	bal, err := l.Balance(ctx, acct)
	require.NoError(t, err)
	require.True(t, bal.IsZero())
	require.ErrorIs(t, l.Debit(ctx, acct, uint256.NewInt(1)), domain.ErrInsufficientFunds)
}

func TestZeroAddressRejected(t *testing.T) {
	ctx := context.Background()
	l := ledger.NewMemory()
	require.ErrorIs(t, l.Credit(ctx, common.Address{}, uint256.NewInt(1)), domain.ErrInvalidAccount)
	require.ErrorIs(t, l.Debit(ctx, common.Address{}, uint256.NewInt(1)), domain.ErrInvalidAccount)
}

func TestFaucetCooldown(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := domain.ClockFunc(func() time.Time { return now })

	l := ledger.NewMemory()
	f := ledger.NewFaucet(l, uint256.NewInt(500), time.Hour, clock)

	got, err := f.Drip(ctx, acct)
	require.NoError(t, err)
	require.Equal(t, uint64(500), got.Uint64())

	_, err = f.Drip(ctx, acct)
	require.ErrorIs(t, err, ledger.ErrFaucetCooldown)

	now = now.Add(time.Hour)
	_, err = f.Drip(ctx, acct)
	require.NoError(t, err)

	bal, err := l.Balance(ctx, acct)
	require.NoError(t, err)
	require.Equal(t, uint64(1000), bal.Uint64())
}
