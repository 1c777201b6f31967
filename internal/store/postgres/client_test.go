package postgres

import (
	"strings"
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"
)

func TestDSN(t *testing.T) {
	tests := []struct {
		name string
		cfg  ClientConfig
		want string
	}{
		{
			name: "explicit dsn wins",
			cfg:  ClientConfig{DSN: "postgres://x@y/z", Host: "ignored"},
			want: "postgres://x@y/z",
		},
		{
			name: "defaults",
			cfg:  ClientConfig{Host: "db", Database: "yieldbet", User: "u", Password: "p"},
			want: "postgres://u:p@db:5432/yieldbet?sslmode=disable",
		},
		{
			name: "custom port and ssl",
			cfg:  ClientConfig{Host: "db", Port: 6543, Database: "d", User: "u", Password: "p", SSLMode: "require"},
			want: "postgres://u:p@db:6543/d?sslmode=require",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, DSN(tt.cfg))
		})
	}
}

func TestMigrationsEmbedded(t *testing.T) {
	data, err := migrationsFS.ReadFile("migrations/001_init.sql")
	require.NoError(t, err)
	sql := string(data)
	for _, table := range []string{"pools", "tickets", "pool_events", "audit_log"} {
		require.True(t, strings.Contains(sql, "CREATE TABLE IF NOT EXISTS "+table+" ("), table)
	}
	data, err = migrationsFS.ReadFile("migrations/002_vault_state.sql")
	require.NoError(t, err)
	require.Contains(t, string(data), "CREATE TABLE IF NOT EXISTS vault_state (")
}

func TestDecimalRoundTrip(t *testing.T) {
	v := uint256.MustFromDecimal("115792089237316195423570985008687907853269984665640564039457584007913129639935")
	got, err := parseDec(dec(v))
	require.NoError(t, err)
	require.True(t, v.Eq(got))

	require.Equal(t, "0", dec(nil))
	_, err = parseDec("1.5")
	require.Error(t, err)
}
