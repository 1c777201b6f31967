// Package config defines the top-level configuration for the settlement
// engine and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by YIELDBET_* environment variables.
type Config struct {
	Postgres PostgresConfig `toml:"postgres"`
	Redis    RedisConfig    `toml:"redis"`
	S3       S3Config       `toml:"s3"`
	Oracle   OracleConfig   `toml:"oracle"`
	Feed     FeedConfig     `toml:"feed"`
	Vault    VaultConfig    `toml:"vault"`
	Pool     PoolConfig     `toml:"pool"`
	Keeper   KeeperConfig   `toml:"keeper"`
	Archive  ArchiveConfig  `toml:"archive"`
	Server   ServerConfig   `toml:"server"`
	Operator OperatorConfig `toml:"operator"`
	Notify   NotifyConfig   `toml:"notify"`
	Mode     string         `toml:"mode"`
	LogLevel string         `toml:"log_level"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
	KeyPrefix  string `toml:"key_prefix"`
}

// S3Config holds S3-compatible object storage parameters.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// OracleConfig selects where resolution values come from.
type OracleConfig struct {
	// Source is "static" (fixed value, dev and tests) or "feed" (latest
	// tick the price feed cached).
	Source       string   `toml:"source"`
	Asset        string   `toml:"asset"`
	StaticValue  int64    `toml:"static_value"`
	// MaxStaleness bounds the age of a feed tick used for resolution. A
	// static source has no freshness and ignores it.
	MaxStaleness duration `toml:"max_staleness"`
}

// FeedConfig configures the websocket price feed.
type FeedConfig struct {
	URL string `toml:"url"`
}

// VaultConfig configures interest accrual on the simulated vault.
type VaultConfig struct {
	AccrualInterval duration `toml:"accrual_interval"`
	AccrualBps      uint32   `toml:"accrual_bps"`
}

// PoolConfig holds the factory address and defaults for new pools.
type PoolConfig struct {
	FactoryAddress      string   `toml:"factory_address"`
	StakeAmount         string   `toml:"stake_amount"`
	EarlyExitPenaltyBps uint32   `toml:"early_exit_penalty_bps"`
	BettingPeriod       duration `toml:"betting_period"`
	LockInPeriod        duration `toml:"lock_in_period"`
}

// KeeperConfig controls the resolver loop.
type KeeperConfig struct {
	Interval duration `toml:"interval"`
	LockTTL  duration `toml:"lock_ttl"`
}

// ArchiveConfig controls the S3 archival job.
type ArchiveConfig struct {
	Enabled       bool   `toml:"enabled"`
	Cron          string `toml:"cron"`
	RetentionDays int    `toml:"retention_days"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`

	// APIKey guards pool creation.
	APIKey string `toml:"api_key"`

	RequireSignatures bool     `toml:"require_signatures"`
	SignatureSkew     duration `toml:"signature_skew"`

	RateLimit  int      `toml:"rate_limit"`
	RateWindow duration `toml:"rate_window"`

	Faucet FaucetConfig `toml:"faucet"`
}

// FaucetConfig configures the dev-mode faucet.
type FaucetConfig struct {
	Enabled  bool     `toml:"enabled"`
	Amount   string   `toml:"amount"`
	Cooldown duration `toml:"cooldown"`
}

// OperatorConfig locates the key that attests resolutions. Both fields
// empty disables attestation.
type OperatorConfig struct {
	PrivateKey  string `toml:"private_key"`
	KeyFile     string `toml:"key_file"`
	KeyPassword string `toml:"key_password"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "yieldbet",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			PoolSize:   20,
			MaxRetries: 3,
			KeyPrefix:  "yieldbet:",
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "yieldbet-archive",
			ForcePathStyle: true,
		},
		Oracle: OracleConfig{
			Source:      "static",
			Asset:       "BTC-USD",
			StaticValue:  25_000,
			MaxStaleness: duration{10 * time.Minute},
		},
		Vault: VaultConfig{
			AccrualInterval: duration{time.Minute},
			AccrualBps:      1,
		},
		Pool: PoolConfig{
			FactoryAddress: "0x00000000000000000000000000000000000fac70",
			StakeAmount:    "1000000",
			BettingPeriod:  duration{24 * time.Hour},
			LockInPeriod:   duration{7 * 24 * time.Hour},
		},
		Keeper: KeeperConfig{
			Interval: duration{30 * time.Second},
			LockTTL:  duration{time.Minute},
		},
		Archive: ArchiveConfig{
			Cron:          "0 3 1 * *",
			RetentionDays: 90,
		},
		Server: ServerConfig{
			Enabled:       true,
			Port:          8000,
			CORSOrigins:   []string{"http://localhost:3000", "http://localhost:5173"},
			SignatureSkew: duration{5 * time.Minute},
			RateLimit:     120,
			RateWindow:    duration{time.Minute},
			Faucet: FaucetConfig{
				Amount:   "10000000",
				Cooldown: duration{time.Hour},
			},
		},
		Notify: NotifyConfig{
			Events: []string{"pool_created", "winner_found"},
		},
		Mode:     "dev",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"server": true,
	"keeper": true,
	"full":   true,
	"dev":    true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Dev reports whether the process runs on in-memory backends only.
func (c *Config) Dev() bool { return strings.EqualFold(c.Mode, "dev") }

// StakeAmount returns the parsed default stake.
func (c *Config) StakeAmount() (*uint256.Int, error) {
	return parsePositive("pool: stake_amount", c.Pool.StakeAmount)
}

// FaucetAmount returns the parsed faucet drip.
func (c *Config) FaucetAmount() (*uint256.Int, error) {
	return parsePositive("server.faucet: amount", c.Server.Faucet.Amount)
}

// FactoryAddress returns the configured factory address.
func (c *Config) FactoryAddress() common.Address {
	return common.HexToAddress(c.Pool.FactoryAddress)
}

// HasOperatorKey reports whether an attestation key is configured.
func (c *Config) HasOperatorKey() bool {
	return c.Operator.PrivateKey != "" || c.Operator.KeyFile != ""
}

func parsePositive(field, raw string) (*uint256.Int, error) {
	v, err := uint256.FromDecimal(raw)
	if err != nil {
		return nil, fmt.Errorf("%s %q is not a base-10 integer", field, raw)
	}
	if v.IsZero() {
		return nil, fmt.Errorf("%s must be > 0", field)
	}
	return v, nil
}

// OracleStaleness is the maximum observation age pools accept at
// resolution, zero for the static source.
func (c *Config) OracleStaleness() time.Duration {
	if strings.EqualFold(c.Oracle.Source, "static") {
		return 0
	}
	return c.Oracle.MaxStaleness.Duration
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: server, keeper, full, dev)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Backing services are only dialled outside dev mode.
	if !c.Dev() {
		if strings.TrimSpace(c.Postgres.DSN) == "" {
			if c.Postgres.Host == "" {
				errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
			}
			if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
				errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
			}
			if c.Postgres.Database == "" {
				errs = append(errs, "postgres: database must not be empty")
			}
		}
		if c.Postgres.PoolMaxConns < 1 {
			errs = append(errs, "postgres: pool_max_conns must be >= 1")
		}
		if c.Postgres.PoolMinConns < 0 {
			errs = append(errs, "postgres: pool_min_conns must be >= 0")
		}
		if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
		}
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
		if c.Archive.Enabled {
			if c.S3.Endpoint == "" {
				errs = append(errs, "s3: endpoint must not be empty when archive is enabled")
			}
			if c.S3.Bucket == "" {
				errs = append(errs, "s3: bucket must not be empty when archive is enabled")
			}
			if c.Archive.Cron == "" {
				errs = append(errs, "archive: cron must not be empty when enabled")
			}
			if c.Archive.RetentionDays < 1 {
				errs = append(errs, "archive: retention_days must be >= 1")
			}
		}
		if c.Server.Faucet.Enabled {
			errs = append(errs, "server.faucet: only available in dev mode")
		}
	}

	switch strings.ToLower(c.Oracle.Source) {
	case "static":
		if c.Oracle.StaticValue <= 0 {
			errs = append(errs, "oracle: static_value must be > 0")
		}
	case "feed":
		if c.Feed.URL == "" {
			errs = append(errs, "feed: url is required when oracle.source is feed")
		}
		if c.Oracle.Asset == "" {
			errs = append(errs, "oracle: asset must not be empty")
		}
		if c.Oracle.MaxStaleness.Duration <= 0 {
			errs = append(errs, "oracle: max_staleness must be > 0 when source is feed")
		}
	default:
		errs = append(errs, fmt.Sprintf("oracle: unknown source %q (valid: static, feed)", c.Oracle.Source))
	}
	if c.Oracle.MaxStaleness.Duration < 0 {
		errs = append(errs, "oracle: max_staleness must be >= 0")
	}

	if !common.IsHexAddress(c.Pool.FactoryAddress) {
		errs = append(errs, fmt.Sprintf("pool: factory_address %q is not a hex address", c.Pool.FactoryAddress))
	}
	if _, err := c.StakeAmount(); err != nil {
		errs = append(errs, err.Error())
	}
	if c.Pool.EarlyExitPenaltyBps > 10_000 {
		errs = append(errs, fmt.Sprintf("pool: early_exit_penalty_bps must be <= 10000, got %d", c.Pool.EarlyExitPenaltyBps))
	}
	if c.Pool.BettingPeriod.Duration <= 0 {
		errs = append(errs, "pool: betting_period must be > 0")
	}
	if c.Pool.LockInPeriod.Duration <= 0 {
		errs = append(errs, "pool: lock_in_period must be > 0")
	}

	if c.Keeper.Interval.Duration <= 0 {
		errs = append(errs, "keeper: interval must be > 0")
	}

	if c.Operator.KeyFile != "" && c.Operator.KeyPassword == "" {
		errs = append(errs, "operator: key_password is required when key_file is set")
	}

	if c.Server.Enabled {
		if !c.Dev() && !strings.EqualFold(c.Mode, "keeper") && !c.Server.RequireSignatures {
			errs = append(errs, "server: require_signatures must be true outside dev mode")
		}
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
		if c.Server.RateLimit < 0 {
			errs = append(errs, "server: rate_limit must be >= 0")
		}
		if c.Server.RateLimit > 0 && c.Server.RateWindow.Duration <= 0 {
			errs = append(errs, "server: rate_window must be > 0 when rate_limit is set")
		}
		if c.Server.Faucet.Enabled {
			if _, err := c.FaucetAmount(); err != nil {
				errs = append(errs, err.Error())
			}
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
