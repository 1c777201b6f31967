package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies YIELDBET_* environment variable overrides, and
// returns the final Config. An empty path skips the file. The returned
// Config has NOT been validated; the caller should invoke Config.Validate()
// after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, fmt.Errorf("config: decode %s: %w", path, err)
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known YIELDBET_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "YIELDBET_POSTGRES_DSN")
	setStr(&cfg.Postgres.DSN, "DATABASE_URL") // compatibility alias
	setStr(&cfg.Postgres.Host, "YIELDBET_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "YIELDBET_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "YIELDBET_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "YIELDBET_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "YIELDBET_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "YIELDBET_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "YIELDBET_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "YIELDBET_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "YIELDBET_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "YIELDBET_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "YIELDBET_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "YIELDBET_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "YIELDBET_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "YIELDBET_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "YIELDBET_REDIS_TLS_ENABLED")
	setStr(&cfg.Redis.KeyPrefix, "YIELDBET_REDIS_KEY_PREFIX")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "YIELDBET_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "YIELDBET_S3_REGION")
	setStr(&cfg.S3.Bucket, "YIELDBET_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "YIELDBET_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "YIELDBET_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "YIELDBET_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "YIELDBET_S3_FORCE_PATH_STYLE")

	// ── Oracle / feed / vault ──
	setStr(&cfg.Oracle.Source, "YIELDBET_ORACLE_SOURCE")
	setStr(&cfg.Oracle.Asset, "YIELDBET_ORACLE_ASSET")
	setInt64(&cfg.Oracle.StaticValue, "YIELDBET_ORACLE_STATIC_VALUE")
	setDuration(&cfg.Oracle.MaxStaleness, "YIELDBET_ORACLE_MAX_STALENESS")
	setStr(&cfg.Feed.URL, "YIELDBET_FEED_URL")
	setDuration(&cfg.Vault.AccrualInterval, "YIELDBET_VAULT_ACCRUAL_INTERVAL")
	setUint32(&cfg.Vault.AccrualBps, "YIELDBET_VAULT_ACCRUAL_BPS")

	// ── Pool ──
	setStr(&cfg.Pool.FactoryAddress, "YIELDBET_POOL_FACTORY_ADDRESS")
	setStr(&cfg.Pool.StakeAmount, "YIELDBET_POOL_STAKE_AMOUNT")
	setUint32(&cfg.Pool.EarlyExitPenaltyBps, "YIELDBET_POOL_EARLY_EXIT_PENALTY_BPS")
	setDuration(&cfg.Pool.BettingPeriod, "YIELDBET_POOL_BETTING_PERIOD")
	setDuration(&cfg.Pool.LockInPeriod, "YIELDBET_POOL_LOCK_IN_PERIOD")

	// ── Keeper / archive ──
	setDuration(&cfg.Keeper.Interval, "YIELDBET_KEEPER_INTERVAL")
	setDuration(&cfg.Keeper.LockTTL, "YIELDBET_KEEPER_LOCK_TTL")
	setBool(&cfg.Archive.Enabled, "YIELDBET_ARCHIVE_ENABLED")
	setStr(&cfg.Archive.Cron, "YIELDBET_ARCHIVE_CRON")
	setInt(&cfg.Archive.RetentionDays, "YIELDBET_ARCHIVE_RETENTION_DAYS")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "YIELDBET_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "YIELDBET_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "YIELDBET_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "YIELDBET_SERVER_API_KEY")
	setBool(&cfg.Server.RequireSignatures, "YIELDBET_SERVER_REQUIRE_SIGNATURES")
	setDuration(&cfg.Server.SignatureSkew, "YIELDBET_SERVER_SIGNATURE_SKEW")
	setInt(&cfg.Server.RateLimit, "YIELDBET_SERVER_RATE_LIMIT")
	setDuration(&cfg.Server.RateWindow, "YIELDBET_SERVER_RATE_WINDOW")
	setBool(&cfg.Server.Faucet.Enabled, "YIELDBET_SERVER_FAUCET_ENABLED")
	setStr(&cfg.Server.Faucet.Amount, "YIELDBET_SERVER_FAUCET_AMOUNT")
	setDuration(&cfg.Server.Faucet.Cooldown, "YIELDBET_SERVER_FAUCET_COOLDOWN")

	// ── Operator ──
	setStr(&cfg.Operator.PrivateKey, "YIELDBET_OPERATOR_PRIVATE_KEY")
	setStr(&cfg.Operator.KeyFile, "YIELDBET_OPERATOR_KEY_FILE")
	setStr(&cfg.Operator.KeyPassword, "YIELDBET_OPERATOR_KEY_PASSWORD")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "YIELDBET_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "YIELDBET_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "YIELDBET_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "YIELDBET_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "YIELDBET_MODE")
	setStr(&cfg.LogLevel, "YIELDBET_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setUint32(dst *uint32, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseUint(v, 10, 32); err == nil {
			*dst = uint32(n)
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
