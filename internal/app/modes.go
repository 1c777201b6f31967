package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/yieldbet/internal/domain"
	"github.com/alanyoungcy/yieldbet/internal/factory"
	"github.com/alanyoungcy/yieldbet/internal/feed"
	"github.com/alanyoungcy/yieldbet/internal/ledger"
	"github.com/alanyoungcy/yieldbet/internal/pipeline"
	"github.com/alanyoungcy/yieldbet/internal/pool"
	"github.com/alanyoungcy/yieldbet/internal/server"
	"github.com/alanyoungcy/yieldbet/internal/server/handler"
	"github.com/alanyoungcy/yieldbet/internal/server/middleware"
	"github.com/alanyoungcy/yieldbet/internal/server/ws"
	"github.com/alanyoungcy/yieldbet/internal/service"
)

// core is the pool engine every mode drives.
type core struct {
	clock   domain.Clock
	factory *factory.Factory
	svc     *service.PoolService
}

// buildCore assembles the factory and pool service on top of deps and
// restores persisted pools into the factory.
func (a *App) buildCore(ctx context.Context, deps *Dependencies) (*core, error) {
	clock := domain.SystemClock{}

	// Typed nils must not reach the dispatcher's interfaces.
	var attestor service.WinnerAttestor
	if deps.Attestor != nil {
		attestor = deps.Attestor
	}
	var notifier service.EventNotifier
	if deps.Notifier != nil && deps.Notifier.Enabled() {
		notifier = deps.Notifier
	}

	f := factory.New(a.cfg.FactoryAddress(), pool.Deps{
		Oracle:             deps.Oracle,
		Vault:              deps.Vault,
		Ledger:             deps.Ledger,
		Clock:              clock,
		Sink:               service.NewEventDispatcher(deps.SignalBus, deps.EventStore, notifier, attestor, a.logger),
		Logger:             a.logger,
		MaxOracleStaleness: a.cfg.OracleStaleness(),
	})
	svc := service.NewPoolService(f, deps.PoolStore, deps.EventStore, deps.AuditStore, a.logger)

	if _, err := service.Recover(ctx, deps.PoolStore, f, a.logger); err != nil {
		return nil, fmt.Errorf("app: recover pools: %w", err)
	}
	if deps.VaultStore != nil {
		if err := service.RestoreVault(ctx, deps.VaultStore, deps.Vault, f, a.logger); err != nil {
			return nil, fmt.Errorf("app: %w", err)
		}
	}
	return &core{clock: clock, factory: f, svc: svc}, nil
}

// ServerMode serves the HTTP API and websocket hub. Resolution is left to a
// keeper; manual resolution stays available through the API.
func (a *App) ServerMode(ctx context.Context, deps *Dependencies, c *core) error {
	a.logger.InfoContext(ctx, "starting server mode")

	g, ctx := errgroup.WithContext(ctx)
	if err := a.startServer(ctx, g, deps, c); err != nil {
		return err
	}
	a.startAccrual(ctx, g, deps)
	return g.Wait()
}

// KeeperMode runs the resolver, the price feed and the archive job without
// an HTTP surface.
func (a *App) KeeperMode(ctx context.Context, deps *Dependencies, c *core) error {
	a.logger.InfoContext(ctx, "starting keeper mode")

	g, ctx := errgroup.WithContext(ctx)
	a.startKeeper(ctx, g, deps, c)
	a.startFeed(ctx, g, deps)
	a.startArchiver(ctx, g, deps, c)
	a.startAccrual(ctx, g, deps)
	return g.Wait()
}

// FullMode runs every component in one process. Dev mode is full mode on
// in-memory backends.
func (a *App) FullMode(ctx context.Context, deps *Dependencies, c *core) error {
	a.logger.InfoContext(ctx, "starting full mode", slog.Bool("dev", a.cfg.Dev()))

	g, ctx := errgroup.WithContext(ctx)
	if err := a.startServer(ctx, g, deps, c); err != nil {
		return err
	}
	a.startKeeper(ctx, g, deps, c)
	a.startFeed(ctx, g, deps)
	a.startArchiver(ctx, g, deps, c)
	a.startAccrual(ctx, g, deps)
	return g.Wait()
}

func (a *App) startServer(ctx context.Context, g *errgroup.Group, deps *Dependencies, c *core) error {
	if !a.cfg.Server.Enabled {
		a.logger.InfoContext(ctx, "HTTP server disabled")
		return nil
	}

	stake, err := a.cfg.StakeAmount()
	if err != nil {
		return fmt.Errorf("app: %w", err)
	}

	var faucet *ledger.Faucet
	if a.cfg.Dev() && a.cfg.Server.Faucet.Enabled {
		amount, err := a.cfg.FaucetAmount()
		if err != nil {
			return fmt.Errorf("app: %w", err)
		}
		faucet = ledger.NewFaucet(deps.Ledger, amount, a.cfg.Server.Faucet.Cooldown.Duration, c.clock)
		a.logger.InfoContext(ctx, "dev faucet enabled", slog.String("amount", amount.Dec()))
	}

	var operator common.Address
	if deps.Attestor != nil {
		operator = deps.Attestor.Address()
	}

	startedAt := time.Now().UTC()
	mode := strings.ToLower(a.cfg.Mode)
	handlers := server.Handlers{
		Health: handler.NewHealthHandler(deps.Checks, a.logger),
		Status: handler.NewStatusHandler(mode, c.factory.Address(), operator, c.factory, startedAt),
		Pools: handler.NewPoolHandler(c.svc, handler.PoolDefaults{
			StakeAmount:         stake,
			EarlyExitPenaltyBps: a.cfg.Pool.EarlyExitPenaltyBps,
			BettingPeriod:       a.cfg.Pool.BettingPeriod.Duration,
			LockInPeriod:        a.cfg.Pool.LockInPeriod.Duration,
		}, c.clock, a.logger),
		Accounts: handler.NewAccountHandler(deps.Ledger, faucet, a.logger),
	}

	hub := ws.NewHub(deps.SignalBus, a.logger, ws.Config{
		Mode:      mode,
		Channel:   service.EventsChannel,
		Stream:    service.PoolStream,
		StartedAt: startedAt,
	})

	srv := server.NewServer(server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		APIKey:      a.cfg.Server.APIKey,
		Signatures: middleware.SignatureConfig{
			Required: a.cfg.Server.RequireSignatures,
			MaxSkew:  a.cfg.Server.SignatureSkew.Duration,
			Replay:   deps.LockManager,
		},
		RateLimit:  a.cfg.Server.RateLimit,
		RateWindow: a.cfg.Server.RateWindow.Duration,
	}, handlers, hub, deps.RateLimiter, a.logger)

	g.Go(func() error {
		return hub.Run(ctx)
	})
	g.Go(srv.Start)
	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
	return nil
}

func (a *App) startKeeper(ctx context.Context, g *errgroup.Group, deps *Dependencies, c *core) {
	resolver := service.NewResolver(c.svc, deps.LockManager,
		a.cfg.Keeper.Interval.Duration, a.cfg.Keeper.LockTTL.Duration, a.logger)
	g.Go(func() error {
		return resolver.Run(ctx)
	})
}

func (a *App) startFeed(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	if !strings.EqualFold(a.cfg.Oracle.Source, "feed") {
		return
	}
	pf := feed.NewPriceFeed(a.cfg.Feed.URL, a.cfg.Oracle.Asset, deps.PriceCache, a.logger)
	g.Go(func() error {
		return pf.Run(ctx)
	})
}

func (a *App) startArchiver(ctx context.Context, g *errgroup.Group, deps *Dependencies, c *core) {
	if deps.Archiver == nil {
		return
	}
	retention := time.Duration(a.cfg.Archive.RetentionDays) * 24 * time.Hour
	archiver := pipeline.NewArchiver(deps.Archiver, retention, c.clock, a.logger)
	g.Go(func() error {
		return archiver.RunCron(ctx, a.cfg.Archive.Cron)
	})
}

func (a *App) startAccrual(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	log := a.logger.With(slog.String("component", "vault"))
	g.Go(func() error {
		return deps.Vault.RunAccrual(ctx, a.cfg.Vault.AccrualInterval.Duration, a.cfg.Vault.AccrualBps, deps.VaultStore, log)
	})
}
