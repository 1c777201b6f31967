package vault_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/yieldbet/internal/domain"
	"github.com/alanyoungcy/yieldbet/internal/vault"
)

func TestDepositRedeemRoundTrip(t *testing.T) {
	ctx := context.Background()
	v := vault.NewSimulated()

	shares, err := v.Deposit(ctx, uint256.NewInt(1_000))
	require.NoError(t, err)
	require.Equal(t, uint64(1_000), shares.Uint64())

	amount, err := v.Redeem(ctx, shares)
	require.NoError(t, err)
	require.Equal(t, uint64(1_000), amount.Uint64())
	require.True(t, v.Supply().IsZero())
}

func TestAccrueGrowsRedeemValue(t *testing.T) {
	ctx := context.Background()
	v := vault.NewSimulated()

	shares, err := v.Deposit(ctx, uint256.NewInt(10_000))
	require.NoError(t, err)

	v.Accrue(100) // 1%

	preview, err := v.PreviewRedeem(ctx, shares)
	require.NoError(t, err)
	require.Equal(t, uint64(10_100), preview.Uint64())

	amount, err := v.Redeem(ctx, shares)
	require.NoError(t, err)
	require.Equal(t, uint64(10_100), amount.Uint64())
}

func TestRedeemNeverBelowDeposit(t *testing.T) {
	ctx := context.Background()
	v := vault.NewSimulated()
	v.Accrue(37)

	for _, a := range []uint64{1, 3, 7, 999, 1_000_003} {
		shares, err := v.Deposit(ctx, uint256.NewInt(a))
		require.NoError(t, err)
		got, err := v.Redeem(ctx, shares)
		require.NoError(t, err)
		require.GreaterOrEqual(t, got.Uint64(), a, "deposit %d", a)
	}
}

func TestFailInjection(t *testing.T) {
	ctx := context.Background()
	v := vault.NewSimulated()
	shares, err := v.Deposit(ctx, uint256.NewInt(5))
	require.NoError(t, err)

	boom := errors.New("venue paused")
	v.Fail(boom)

	_, err = v.Deposit(ctx, uint256.NewInt(5))
	require.ErrorIs(t, err, boom)
	_, err = v.Redeem(ctx, shares)
	require.ErrorIs(t, err, boom)
	require.Equal(t, uint64(5), v.Supply().Uint64())

	v.Fail(nil)
	_, err = v.Redeem(ctx, shares)
	require.NoError(t, err)
}

func TestRedeemMoreThanSupply(t *testing.T) {
	v := vault.NewSimulated()
	_, err := v.Redeem(context.Background(), uint256.NewInt(1))
	require.ErrorIs(t, err, domain.ErrInsufficientFunds)
}

func TestRestoreResumesIndexAndSupply(t *testing.T) {
	ctx := context.Background()
	before := vault.NewSimulated()
	shares, err := before.Deposit(ctx, uint256.NewInt(10_000))
	require.NoError(t, err)
	before.Accrue(100)

	after := vault.NewSimulated()
	_, err = after.Redeem(ctx, shares)
	require.ErrorIs(t, err, domain.ErrInsufficientFunds)

	require.NoError(t, after.Restore(before.Index(), shares))
	amount, err := after.Redeem(ctx, shares)
	require.NoError(t, err)
	require.Equal(t, uint64(10_100), amount.Uint64())

	require.Error(t, after.Restore(uint256.NewInt(1), nil), "index below one")
	require.NoError(t, after.Restore(nil, uint256.NewInt(3)))
	require.Equal(t, before.Index(), after.Index())
	require.Equal(t, uint64(3), after.Supply().Uint64())
}

type recordingStore struct {
	mu    sync.Mutex
	saved []domain.VaultState
	err   error
}

func (s *recordingStore) SaveVaultState(_ context.Context, st domain.VaultState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.saved = append(s.saved, st)
	return nil
}

func (s *recordingStore) GetVaultState(context.Context) (domain.VaultState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.saved) == 0 {
		return domain.VaultState{}, domain.ErrNotFound
	}
	return s.saved[len(s.saved)-1], nil
}

func (s *recordingStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.saved)
}

func TestRunAccrualSavesIndexBeforeApplying(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	t.Run("failed save skips the tick", func(t *testing.T) {
		v := vault.NewSimulated()
		start := v.Index()
		store := &recordingStore{err: errors.New("db down")}

		ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
		defer cancel()
		require.NoError(t, v.RunAccrual(ctx, 5*time.Millisecond, 100, store, logger))
		require.Equal(t, start, v.Index())
	})

	t.Run("saved index matches the applied one", func(t *testing.T) {
		v := vault.NewSimulated()
		start := v.Index()
		store := &recordingStore{}

		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan error, 1)
		go func() { done <- v.RunAccrual(ctx, 5*time.Millisecond, 100, store, logger) }()
		require.Eventually(t, func() bool { return store.count() >= 2 }, 5*time.Second, 5*time.Millisecond)
		cancel()
		require.NoError(t, <-done)

		last, err := store.GetVaultState(context.Background())
		require.NoError(t, err)
		require.Equal(t, v.Index(), last.Index)
		require.True(t, last.Index.Gt(start))
	})
}
