package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	s3blob "github.com/alanyoungcy/yieldbet/internal/blob/s3"
	"github.com/alanyoungcy/yieldbet/internal/cache/redis"
	"github.com/alanyoungcy/yieldbet/internal/config"
	"github.com/alanyoungcy/yieldbet/internal/crypto"
	"github.com/alanyoungcy/yieldbet/internal/domain"
	"github.com/alanyoungcy/yieldbet/internal/ledger"
	"github.com/alanyoungcy/yieldbet/internal/notify"
	"github.com/alanyoungcy/yieldbet/internal/oracle"
	"github.com/alanyoungcy/yieldbet/internal/server/handler"
	"github.com/alanyoungcy/yieldbet/internal/store/memory"
	"github.com/alanyoungcy/yieldbet/internal/store/postgres"
	"github.com/alanyoungcy/yieldbet/internal/vault"
)

// Dependencies bundles every backend the application modes need. It is
// constructed by Wire and torn down by the returned cleanup function.
type Dependencies struct {
	// Stores
	PoolStore  domain.PoolStore
	EventStore domain.EventStore
	AuditStore domain.AuditStore
	VaultStore domain.VaultStore

	// Caches. RateLimiter is nil in dev mode.
	PriceCache  domain.PriceCache
	LockManager domain.LockManager
	RateLimiter domain.RateLimiter
	SignalBus   domain.SignalBus

	// Archiver is nil unless archival is enabled.
	Archiver domain.Archiver

	// Adapters
	Oracle domain.PriceOracle
	Vault  *vault.Simulated
	Ledger *ledger.Memory

	// Attestor is nil when no operator key is configured.
	Attestor *crypto.Attestor
	Notifier *notify.Notifier

	// Checks feed the health endpoint.
	Checks map[string]handler.Check
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources. Dev mode wires in-memory
// backends and dials nothing.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{
		Vault:  vault.NewSimulated(),
		Ledger: ledger.NewMemory(),
		Checks: make(map[string]handler.Check),
	}

	if cfg.Dev() {
		deps.PoolStore = memory.NewPoolStore()
		deps.EventStore = memory.NewEventStore()
		deps.AuditStore = memory.NewAuditStore()
		deps.VaultStore = memory.NewVaultStore()
		deps.LockManager = memory.NewLockManager()
		deps.PriceCache = memory.NewPriceCache()
		deps.SignalBus = memory.NewSignalBus()
	} else {
		// --- PostgreSQL ---
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Postgres.DSN,
			Host:     cfg.Postgres.Host,
			Port:     cfg.Postgres.Port,
			Database: cfg.Postgres.Database,
			User:     cfg.Postgres.User,
			Password: cfg.Postgres.Password,
			SSLMode:  cfg.Postgres.SSLMode,
			MaxConns: cfg.Postgres.PoolMaxConns,
			MinConns: cfg.Postgres.PoolMinConns,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres: %w", err)
		}
		closers = append(closers, pgClient.Close)

		if cfg.Postgres.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
			}
		}

		pool := pgClient.Pool()
		deps.PoolStore = postgres.NewPoolStore(pool)
		deps.EventStore = postgres.NewEventStore(pool)
		deps.AuditStore = postgres.NewAuditStore(pool)
		deps.VaultStore = postgres.NewVaultStore(pool)
		deps.Checks["postgres"] = pgClient.Ping

		// --- Redis ---
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
			KeyPrefix:  cfg.Redis.KeyPrefix,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: redis: %w", err)
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		deps.PriceCache = redis.NewPriceCache(redisClient)
		deps.LockManager = redis.NewLockManager(redisClient)
		deps.RateLimiter = redis.NewRateLimiter(redisClient)
		deps.SignalBus = redis.NewSignalBus(redisClient)
		deps.Checks["redis"] = redisClient.Ping

		// --- S3 archive ---
		if cfg.Archive.Enabled {
			s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
				Endpoint:       cfg.S3.Endpoint,
				Region:         cfg.S3.Region,
				Bucket:         cfg.S3.Bucket,
				AccessKey:      cfg.S3.AccessKey,
				SecretKey:      cfg.S3.SecretKey,
				UseSSL:         cfg.S3.UseSSL,
				ForcePathStyle: cfg.S3.ForcePathStyle,
			})
			if err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("wire: s3: %w", err)
			}
			deps.Archiver = s3blob.NewArchiver(
				s3blob.NewWriter(s3Client),
				s3blob.NewReader(s3Client),
				postgres.NewPoolStore(pool),
				postgres.NewEventStore(pool),
				deps.AuditStore,
			)
			deps.Checks["s3"] = s3Client.Health
		}
	}

	// --- Oracle ---
	switch strings.ToLower(cfg.Oracle.Source) {
	case "feed":
		deps.Oracle = oracle.NewCached(deps.PriceCache, cfg.Oracle.Asset, cfg.Oracle.MaxStaleness.Duration, nil)
	default:
		deps.Oracle = oracle.NewStatic(cfg.Oracle.StaticValue, time.Now().UTC())
	}

	// --- Operator key ---
	if cfg.HasOperatorKey() {
		key, err := crypto.LoadOperatorKey(crypto.KeySource{
			RawPrivateKey: cfg.Operator.PrivateKey,
			KeyFilePath:   cfg.Operator.KeyFile,
			Password:      cfg.Operator.KeyPassword,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: operator key: %w", err)
		}
		deps.Attestor = crypto.NewAttestor(key)
		logger.Info("operator key loaded", slog.String("operator", deps.Attestor.Address().Hex()))
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(
			cfg.Notify.TelegramToken,
			cfg.Notify.TelegramChatID,
		))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	return deps, cleanup, nil
}
