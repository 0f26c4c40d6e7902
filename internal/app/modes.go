package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/synthex/internal/domain"
	"github.com/alanyoungcy/synthex/internal/metrics"
	"github.com/alanyoungcy/synthex/internal/orchestrator"
	"github.com/alanyoungcy/synthex/internal/server"
	"github.com/alanyoungcy/synthex/internal/server/handler"
	"github.com/alanyoungcy/synthex/internal/server/ws"
	"github.com/alanyoungcy/synthex/internal/units"
)

const (
	historyProbeEvery  = 30 * time.Second
	guardCleanupEvery  = time.Minute
	journalExportEvery = 24 * time.Hour
	accountSweepFactor = 5 // account sweeps run every N poll intervals
	shutdownTimeout    = 5 * time.Second
)

// ServerMode runs the HTTP + WebSocket API over every catalogued market.
func (a *App) ServerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting server mode")
	registerHooks(deps, a.logger)

	markets, err := deps.Resolver.List(ctx)
	if err != nil {
		return fmt.Errorf("server mode: list markets: %w", err)
	}
	if err := checkCollateralDecimals(ctx, deps.Reader, markets, a.logger); err != nil {
		return fmt.Errorf("server mode: %w", err)
	}

	g, ctx := errgroup.WithContext(ctx)
	a.startHTTPServer(ctx, g, deps, markets, nil)
	a.startMaintenance(ctx, g, deps)
	a.startAccountSweep(ctx, g, deps, markets)
	return g.Wait()
}

// WatchMode polls every catalogued market and logs each snapshot. With a
// wallet configured it also sweeps the account so risk alerts fire. The HTTP
// API is started alongside when server.enabled is set.
func (a *App) WatchMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting watch mode")
	registerHooks(deps, a.logger)

	markets, err := deps.Resolver.List(ctx)
	if err != nil {
		return fmt.Errorf("watch mode: list markets: %w", err)
	}
	if err := checkCollateralDecimals(ctx, deps.Reader, markets, a.logger); err != nil {
		return fmt.Errorf("watch mode: %w", err)
	}
	if len(markets) == 0 {
		a.logger.WarnContext(ctx, "watch mode: catalogue is empty, nothing to poll")
	}

	logState := func(st domain.MarketState) {
		a.logger.Info("watch: snapshot",
			slog.String("market", st.Slug),
			slog.Uint64("block", st.Block),
			slog.String("mark", units.Wad(st.MarkPrice).StringFixed(4)),
			slog.String("long_oi", units.Wad(st.LongOI).StringFixed(2)),
			slog.String("short_oi", units.Wad(st.ShortOI).StringFixed(2)),
		)
	}

	g, ctx := errgroup.WithContext(ctx)
	if a.cfg.Server.Enabled {
		a.startHTTPServer(ctx, g, deps, markets, logState)
	} else {
		a.startPoller(ctx, g, deps, nil, markets, logState)
	}
	a.startMaintenance(ctx, g, deps)
	a.startAccountSweep(ctx, g, deps, markets)
	return g.Wait()
}

// PositionsMode prints the configured wallet's account view for every
// catalogued market as JSON and returns.
func (a *App) PositionsMode(ctx context.Context, deps *Dependencies) error {
	if deps.Session == nil {
		return errors.New("positions mode: no wallet configured")
	}
	registerHooks(deps, a.logger)

	markets, err := deps.Resolver.List(ctx)
	if err != nil {
		return fmt.Errorf("positions mode: list markets: %w", err)
	}
	if err := checkCollateralDecimals(ctx, deps.Reader, markets, a.logger); err != nil {
		return fmt.Errorf("positions mode: %w", err)
	}

	views := make([]orchestrator.AccountView, 0, len(markets))
	for _, m := range markets {
		view, err := deps.Orchestrator.AccountView(ctx, m.Slug, deps.Session.User)
		if err != nil {
			return fmt.Errorf("positions mode: %s: %w", m.Slug, err)
		}
		views = append(views, view)
	}

	enc := json.NewEncoder(a.out)
	enc.SetIndent("", "  ")
	if err := enc.Encode(map[string]any{
		"user":     deps.Session.User,
		"accounts": views,
	}); err != nil {
		return fmt.Errorf("positions mode: write: %w", err)
	}
	return nil
}

// collateralReader is the part of *ledger.Reader the decimals check needs.
type collateralReader interface {
	CollateralToken(ctx context.Context, engine common.Address) (common.Address, error)
	TokenDecimals(ctx context.Context, token common.Address) (uint8, error)
}

// checkCollateralDecimals refuses to run against an engine whose collateral
// token is not 6-decimal, since every amount is scaled on that assumption.
// An unreachable ledger only logs; the views degrade on their own.
func checkCollateralDecimals(ctx context.Context, r collateralReader, markets []domain.Market, logger *slog.Logger) error {
	checked := make(map[common.Address]bool, len(markets))
	for _, m := range markets {
		engine := m.Contracts.Engine
		if checked[engine] {
			continue
		}
		checked[engine] = true

		token, err := r.CollateralToken(ctx, engine)
		if err == nil {
			var dec uint8
			if dec, err = r.TokenDecimals(ctx, token); err == nil {
				if int32(dec) != units.CollateralDecimals {
					return fmt.Errorf("market %s: collateral %s has %d decimals, want %d",
						m.Slug, token.Hex(), dec, units.CollateralDecimals)
				}
				continue
			}
		}
		logger.WarnContext(ctx, "collateral decimals unchecked",
			slog.String("market", m.Slug),
			slog.String("error", err.Error()),
		)
	}
	return nil
}

// startPoller watches markets and publishes snapshots on the signal bus.
// Without redis the snapshots go straight to hub, when there is one.
func (a *App) startPoller(
	ctx context.Context,
	g *errgroup.Group,
	deps *Dependencies,
	hub *ws.Hub,
	markets []domain.Market,
	onState func(domain.MarketState),
) *orchestrator.Poller {
	bus := deps.SignalBus
	if bus == nil && hub != nil {
		bus = hubBus{hub: hub}
	}

	poller := orchestrator.NewPoller(deps.Reader, orchestrator.PollerConfig{
		Interval: a.cfg.Trading.PollInterval.Duration,
		Cache:    deps.SnapshotCache,
		Bus:      bus,
		OnState: func(st domain.MarketState) {
			metrics.ObserveState(st)
			if onState != nil {
				onState(st)
			}
		},
	}, a.logger)
	for _, m := range markets {
		poller.Watch(m)
	}

	g.Go(func() error {
		err := poller.Run(ctx)
		// Late reads must settle before cleanup closes the cache and bus.
		poller.Wait()
		return err
	})
	return poller
}

// startHTTPServer builds the hub, the poller feeding it and the API server,
// and runs them on g. The server is shut down when ctx is cancelled.
func (a *App) startHTTPServer(
	ctx context.Context,
	g *errgroup.Group,
	deps *Dependencies,
	markets []domain.Market,
	onState func(domain.MarketState),
) {
	var poller *orchestrator.Poller
	hub := ws.NewHub(deps.SignalBus, a.logger, ws.Config{
		Mode:           a.cfg.Mode,
		StartedAt:      time.Now().UTC(),
		AllowedOrigins: a.cfg.Server.CORSOrigins,
		Watched:        func() []string { return poller.Watched() },
	})
	poller = a.startPoller(ctx, g, deps, hub, markets, onState)

	g.Go(func() error {
		return hub.Run(ctx)
	})

	critical, optional := a.healthChecks(deps)
	srv := server.NewServer(server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		APIKey:      a.cfg.Server.APIKey,
		RateLimit:   a.cfg.Server.RateLimit,
		RateWindow:  a.cfg.Server.RateWindow.Duration,
	}, server.Handlers{
		Health:     handler.NewHealthHandler(critical, optional, a.logger),
		Markets:    handler.NewMarketHandler(deps.Orchestrator, deps.Resolver, deps.History, a.logger),
		Trades:     handler.NewTradeHandler(deps.Orchestrator, deps.Session, a.logger),
		Executions: handler.NewExecutionHandler(deps.ExecutionStore, a.logger),
		Audit:      handler.NewAuditHandler(deps.AuditStore, a.logger),
	}, hub, deps.RateLimiter, a.logger)

	g.Go(func() error {
		a.logger.InfoContext(ctx, "HTTP server listening",
			slog.Int("port", a.cfg.Server.Port),
			slog.String("url", fmt.Sprintf("http://localhost:%d", a.cfg.Server.Port)),
			slog.Int("markets", len(markets)),
		)
		return srv.Start()
	})

	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
}

// healthChecks splits dependency checks into critical (the ledger) and
// optional (everything that only degrades the API).
func (a *App) healthChecks(deps *Dependencies) (critical, optional map[string]handler.Check) {
	critical = map[string]handler.Check{
		"ledger": func(ctx context.Context) error {
			_, err := deps.Reader.LatestBlock(ctx)
			return err
		},
	}
	optional = map[string]handler.Check{}
	if deps.Postgres != nil {
		optional["postgres"] = deps.Postgres.Ping
	}
	if deps.Redis != nil {
		optional["redis"] = deps.Redis.Ping
	}
	if deps.S3 != nil {
		optional["s3"] = deps.S3.Health
	}
	if a.cfg.History.GraphQLURL != "" {
		optional["history"] = func(ctx context.Context) error {
			if !deps.History.Probe(ctx) {
				return errors.New("index unavailable")
			}
			return nil
		}
	}
	return critical, optional
}

// startMaintenance runs the periodic housekeeping loops.
func (a *App) startMaintenance(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	g.Go(func() error {
		return runEvery(ctx, guardCleanupEvery, func(context.Context) {
			deps.Orchestrator.Guard().Cleanup()
		})
	})

	if a.cfg.History.GraphQLURL != "" {
		g.Go(func() error {
			deps.History.Probe(ctx)
			return runEvery(ctx, historyProbeEvery, func(ctx context.Context) {
				deps.History.Probe(ctx)
			})
		})
	}

	if deps.Journal != nil && deps.ExecutionStore != nil && a.cfg.S3.ExportAfterDays > 0 {
		days := a.cfg.S3.ExportAfterDays
		g.Go(func() error {
			return runEvery(ctx, journalExportEvery, func(ctx context.Context) {
				before := time.Now().UTC().AddDate(0, 0, -days)
				n, err := deps.Journal.ExportBefore(ctx, before)
				if err != nil {
					a.logger.WarnContext(ctx, "journal export failed", slog.String("error", err.Error()))
					return
				}
				a.logger.InfoContext(ctx, "journal export complete",
					slog.Int64("executions", n),
					slog.Time("before", before),
				)
			})
		})
	}
}

// startAccountSweep refreshes the wallet's account view per market so
// positions drifting toward liquidation raise risk alerts.
func (a *App) startAccountSweep(ctx context.Context, g *errgroup.Group, deps *Dependencies, markets []domain.Market) {
	if deps.Session == nil || len(markets) == 0 {
		return
	}
	every := a.cfg.Trading.PollInterval.Duration * accountSweepFactor
	if every <= 0 {
		every = 15 * time.Second
	}
	user := deps.Session.User
	g.Go(func() error {
		return runEvery(ctx, every, func(ctx context.Context) {
			for _, m := range markets {
				if _, err := deps.Orchestrator.AccountView(ctx, m.Slug, user); err != nil {
					a.logger.WarnContext(ctx, "account sweep failed",
						slog.String("market", m.Slug),
						slog.String("error", err.Error()),
					)
				}
			}
		})
	})
}

// runEvery calls fn on every tick until ctx is cancelled.
func runEvery(ctx context.Context, every time.Duration, fn func(context.Context)) error {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			fn(ctx)
		}
	}
}

// hubBus publishes straight to the local hub when no redis bus is wired.
type hubBus struct {
	hub *ws.Hub
}

func (b hubBus) Publish(_ context.Context, channel string, payload []byte) error {
	b.hub.Broadcast(strings.TrimPrefix(channel, domain.MarketChannel("")), payload)
	return nil
}

func (hubBus) Subscribe(context.Context, string) (<-chan []byte, error) {
	return nil, errors.New("app: in-process bus does not support subscribe")
}
