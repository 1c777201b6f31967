package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultsValidate(t *testing.T) {
	cfg := Defaults()
	require.NoError(t, cfg.Validate())
	assert.True(t, cfg.Dev())

	stake, err := cfg.StakeAmount()
	require.NoError(t, err)
	assert.Equal(t, "1000000", stake.Dec())
}

func TestLoadMergesFileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "yieldbet.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
mode = "full"

[pool]
stake_amount = "500"
betting_period = "2h"

[keeper]
interval = "5s"
`), 0o600))

	t.Setenv("YIELDBET_POOL_EARLY_EXIT_PENALTY_BPS", "250")
	t.Setenv("YIELDBET_SERVER_CORS_ORIGINS", "https://a.example, https://b.example")
	t.Setenv("YIELDBET_OPERATOR_PRIVATE_KEY", "0xabc")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "full", cfg.Mode)
	assert.Equal(t, "500", cfg.Pool.StakeAmount)
	assert.Equal(t, 2*time.Hour, cfg.Pool.BettingPeriod.Duration)
	assert.Equal(t, 7*24*time.Hour, cfg.Pool.LockInPeriod.Duration)
	assert.Equal(t, 5*time.Second, cfg.Keeper.Interval.Duration)
	assert.Equal(t, uint32(250), cfg.Pool.EarlyExitPenaltyBps)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.Server.CORSOrigins)
	assert.True(t, cfg.HasOperatorKey())
}

func TestLoadRejectsBadTOML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.toml")
	require.NoError(t, os.WriteFile(path, []byte("mode = "), 0o600))
	_, err := Load(path)
	require.Error(t, err)
}

func TestValidateCollectsEveryProblem(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "trade"
	cfg.Oracle.Source = "feed"
	cfg.Pool.StakeAmount = "0"
	cfg.Pool.EarlyExitPenaltyBps = 20_000
	cfg.Operator.KeyFile = "/etc/yieldbet/key.json"

	err := cfg.Validate()
	require.Error(t, err)
	for _, want := range []string{
		`unknown mode "trade"`,
		"feed: url is required",
		"pool: stake_amount must be > 0",
		"early_exit_penalty_bps must be <= 10000",
		"key_password is required",
	} {
		assert.Contains(t, err.Error(), want)
	}
}

func TestValidateFaucetOnlyInDev(t *testing.T) {
	cfg := Defaults()
	cfg.Server.Faucet.Enabled = true
	require.NoError(t, cfg.Validate())

	cfg.Mode = "server"
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "only available in dev mode")
}

func TestValidateSignaturesRequiredOutsideDev(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "server"
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "require_signatures must be true outside dev mode")

	cfg.Server.RequireSignatures = true
	err = cfg.Validate()
	if err != nil {
		assert.NotContains(t, err.Error(), "require_signatures")
	}

	// Keepers serve no signed routes.
	cfg.Mode = "keeper"
	cfg.Server.RequireSignatures = false
	err = cfg.Validate()
	if err != nil {
		assert.NotContains(t, err.Error(), "require_signatures")
	}
}

func TestValidateFeedNeedsStalenessBound(t *testing.T) {
	cfg := Defaults()
	assert.Equal(t, time.Duration(0), cfg.OracleStaleness(), "static values never age")

	cfg.Oracle.Source = "feed"
	cfg.Feed.URL = "wss://feed.example/ws"
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 10*time.Minute, cfg.OracleStaleness())

	cfg.Oracle.MaxStaleness.Duration = 0
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "max_staleness must be > 0 when source is feed")
}

func TestRedactedConfig(t *testing.T) {
	cfg := Defaults()
	cfg.Postgres.Password = "pw"
	cfg.Operator.PrivateKey = "0xdead"
	cfg.Server.APIKey = "k"

	out := RedactedConfig(&cfg)
	assert.Equal(t, "***", out.Postgres.Password)
	assert.Equal(t, "***", out.Operator.PrivateKey)
	assert.Equal(t, "***", out.Server.APIKey)
	assert.Equal(t, "", out.Redis.Password)
	assert.Equal(t, "pw", cfg.Postgres.Password)

	out.Server.CORSOrigins[0] = "mutated"
	assert.NotEqual(t, "mutated", cfg.Server.CORSOrigins[0])
}
