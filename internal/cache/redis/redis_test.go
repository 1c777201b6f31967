package redis

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/yieldbet/internal/domain"
)

func TestParseObservation(t *testing.T) {
	ts := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

	obs, err := parseObservation(map[string]string{
		"value": "61234",
		"round": "18446744073709551615",
		"ts":    "1717200000000000000",
	})
	require.NoError(t, err)
	require.Equal(t, domain.Observation{Value: 61234, Round: 18446744073709551615, UpdatedAt: ts}, obs)

	_, err = parseObservation(nil)
	require.ErrorIs(t, err, domain.ErrNotFound)

	_, err = parseObservation(map[string]string{"value": "1", "round": "1"})
	require.ErrorIs(t, err, domain.ErrNotFound)

	_, err = parseObservation(map[string]string{"value": "x", "round": "1", "ts": "1"})
	require.Error(t, err)
	require.NotErrorIs(t, err, domain.ErrNotFound)
}

func TestKeyPrefix(t *testing.T) {
	c := &Client{prefix: "yieldbet:"}
	require.Equal(t, "yieldbet:price:BTC-USD", NewPriceCache(c).key("BTC-USD"))
	require.Equal(t, "yieldbet:lock:resolve:0x1", NewLockManager(c).lockKey("resolve:0x1"))
	require.Equal(t, "plain", (&Client{}).Key("plain"))
}

func TestHasPattern(t *testing.T) {
	require.True(t, hasPattern("events:*"))
	require.False(t, hasPattern("events"))
}

func TestPayloadBytes(t *testing.T) {
	b, ok := payloadBytes("abc")
	require.True(t, ok)
	require.Equal(t, []byte("abc"), b)
	_, ok = payloadBytes(42)
	require.False(t, ok)
}
