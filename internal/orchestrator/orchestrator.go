// Package orchestrator joins the metadata store, ledger reads, the history
// index and the risk calculator into market and position views, and drives
// opens and closes through the ledger writer.
package orchestrator

import (
	"context"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/synthex/internal/domain"
	"github.com/alanyoungcy/synthex/internal/ledger"
	"github.com/alanyoungcy/synthex/internal/positions"
	"github.com/alanyoungcy/synthex/internal/risk"
)

// LedgerReader is the read surface the orchestrator needs. *ledger.Reader
// satisfies it.
type LedgerReader interface {
	positions.Source
	ReadMarketState(ctx context.Context, ref ledger.MarketRef) (domain.MarketState, error)
	InternalBalance(ctx context.Context, engine, user common.Address) (*big.Int, error)
	CollateralToken(ctx context.Context, engine common.Address) (common.Address, error)
	FundBalances(ctx context.Context, engine common.Address) (domain.FundBalances, error)
	TokenBalance(ctx context.Context, token, owner common.Address) (*big.Int, error)
	Allowance(ctx context.Context, token, owner, spender common.Address) (*big.Int, error)
	PermitNonce(ctx context.Context, token, owner common.Address) (*big.Int, error)
	TokenName(ctx context.Context, token common.Address) (string, error)
	TokenVersion(ctx context.Context, token common.Address) string
	SimulateOpenLong(ctx context.Context, vamm common.Address, quoteIn *big.Int) (domain.Quote, error)
	SimulateOpenShort(ctx context.Context, vamm common.Address, quoteOut *big.Int) (domain.Quote, error)
	SimulateCloseLong(ctx context.Context, vamm common.Address, baseIn *big.Int) (domain.Quote, error)
	SimulateCloseShort(ctx context.Context, vamm common.Address, baseOut *big.Int) (domain.Quote, error)
}

// MarketResolver turns a slug into a market. *metadata.Resolver satisfies it.
type MarketResolver interface {
	Resolve(ctx context.Context, slug string) (domain.Market, error)
	// GetMarketMetadata never fails; it falls back to slug-named defaults.
	GetMarketMetadata(ctx context.Context, slug string) domain.MarketMetadata
}

// PositionSource derives open positions. *positions.Reconciler satisfies it.
type PositionSource interface {
	OpenPositions(ctx context.Context, market domain.Market, user *common.Address) (positions.Snapshot, error)
}

// HistorySource is the best-effort analytics index. *history.Index
// satisfies it.
type HistorySource interface {
	MarketHistory(ctx context.Context, market, interval string, since time.Time) domain.MarketHistory
	UserHistory(ctx context.Context, user, market string) []domain.TradeRecord
	Ready() bool
}

// Config holds trade validation bounds and cache cadence.
type Config struct {
	MinLeverage int64
	MaxLeverage int64
	PermitTTL   time.Duration
	// Production signs permits for the exact shortfall instead of the
	// maximum uint256.
	Production bool
	// InvalidationGrace is the delay of the second cache invalidation after
	// a confirmed transaction.
	InvalidationGrace time.Duration
	// PositionTTL bounds the in-process position cache.
	PositionTTL time.Duration
	// SnapshotMaxAge is the oldest cached market state a view accepts.
	SnapshotMaxAge  time.Duration
	HistoryInterval string
	HistoryWindow   time.Duration
	Thresholds      risk.Thresholds
}

// DefaultConfig mirrors config.Defaults.
func DefaultConfig() Config {
	return Config{
		MinLeverage:       1,
		MaxLeverage:       10,
		PermitTTL:         20 * time.Minute,
		InvalidationGrace: 2 * time.Second,
		PositionTTL:       3 * time.Second,
		SnapshotMaxAge:    6 * time.Second,
		HistoryInterval:   "1h",
		HistoryWindow:     24 * time.Hour,
		Thresholds:        risk.DefaultThresholds(),
	}
}

// RiskAlert is raised once when a position enters the high-risk bucket.
type RiskAlert struct {
	Market     string
	Position   domain.Position
	Assessment risk.Assessment
}

// Deps are the orchestrator's collaborators. Snapshots is optional.
type Deps struct {
	Reader    LedgerReader
	Markets   MarketResolver
	Positions PositionSource
	History   HistorySource
	Snapshots domain.SnapshotCache
}

// Orchestrator is safe for concurrent use. It holds no lock across opens and
// closes; identical in-flight actions are rejected by its ActionGuard.
type Orchestrator struct {
	cfg       Config
	reader    LedgerReader
	markets   MarketResolver
	positions PositionSource
	history   HistorySource
	snapshots domain.SnapshotCache
	risk      *risk.Calculator
	guard     *ActionGuard
	logger    *slog.Logger
	now       func() time.Time
	afterFunc func(time.Duration, func()) *time.Timer

	mu          sync.Mutex
	posCache    map[string]cachedSnapshot // market|user -> snapshot
	alerted     map[string]bool           // market|position id -> alert raised
	onExecution []func(context.Context, domain.ExecutionResult)
	onRisk      []func(context.Context, RiskAlert)
}

type cachedSnapshot struct {
	snap    positions.Snapshot
	fetched time.Time
}

// New creates an Orchestrator.
func New(cfg Config, deps Deps, logger *slog.Logger) *Orchestrator {
	def := DefaultConfig()
	if cfg.MaxLeverage <= 0 {
		cfg.MinLeverage, cfg.MaxLeverage = def.MinLeverage, def.MaxLeverage
	}
	if cfg.PermitTTL <= 0 {
		cfg.PermitTTL = def.PermitTTL
	}
	if cfg.HistoryInterval == "" {
		cfg.HistoryInterval = def.HistoryInterval
	}
	if cfg.HistoryWindow <= 0 {
		cfg.HistoryWindow = def.HistoryWindow
	}
	return &Orchestrator{
		cfg:       cfg,
		reader:    deps.Reader,
		markets:   deps.Markets,
		positions: deps.Positions,
		history:   deps.History,
		snapshots: deps.Snapshots,
		risk:      risk.NewCalculator(cfg.Thresholds),
		guard:     NewActionGuard(0),
		logger:    logger.With(slog.String("component", "orchestrator")),
		now:       time.Now,
		afterFunc: time.AfterFunc,
		posCache:  make(map[string]cachedSnapshot),
		alerted:   make(map[string]bool),
	}
}

// OnExecution registers fn to run after every open or close, successful or
// not. Hooks run synchronously with a context detached from the caller's
// cancellation.
func (o *Orchestrator) OnExecution(fn func(context.Context, domain.ExecutionResult)) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.onExecution = append(o.onExecution, fn)
}

// OnRiskAlert registers fn for positions entering the high-risk bucket.
func (o *Orchestrator) OnRiskAlert(fn func(context.Context, RiskAlert)) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.onRisk = append(o.onRisk, fn)
}

// Guard exposes the single-action guard for maintenance loops.
func (o *Orchestrator) Guard() *ActionGuard { return o.guard }

func (o *Orchestrator) emitExecution(ctx context.Context, res domain.ExecutionResult) {
	o.mu.Lock()
	hooks := append([]func(context.Context, domain.ExecutionResult){}, o.onExecution...)
	o.mu.Unlock()

	hctx := context.WithoutCancel(ctx)
	for _, fn := range hooks {
		fn(hctx, res)
	}
}

func (o *Orchestrator) emitRisk(ctx context.Context, alert RiskAlert) {
	o.mu.Lock()
	hooks := append([]func(context.Context, RiskAlert){}, o.onRisk...)
	o.mu.Unlock()

	for _, fn := range hooks {
		fn(ctx, alert)
	}
}

func cacheKey(market string, user *common.Address) string {
	if user == nil {
		return market + "|*"
	}
	return market + "|" + user.Hex()
}

// openPositions serves from the position cache while it is fresh.
func (o *Orchestrator) openPositions(ctx context.Context, market domain.Market, user *common.Address) (positions.Snapshot, error) {
	key := cacheKey(market.Slug, user)
	if o.cfg.PositionTTL > 0 {
		o.mu.Lock()
		c, ok := o.posCache[key]
		o.mu.Unlock()
		if ok && o.now().Sub(c.fetched) < o.cfg.PositionTTL {
			return c.snap, nil
		}
	}

	snap, err := o.positions.OpenPositions(ctx, market, user)
	if err != nil {
		return positions.Snapshot{}, err
	}
	if o.cfg.PositionTTL > 0 {
		o.mu.Lock()
		o.posCache[key] = cachedSnapshot{snap: snap, fetched: o.now()}
		o.mu.Unlock()
	}
	return snap, nil
}

// invalidate drops cached state for market now and again after the grace
// period, so reads that raced the confirmation and the history indexer
// catch up.
func (o *Orchestrator) invalidate(ctx context.Context, slug string) {
	o.invalidateNow(ctx, slug)
	if o.cfg.InvalidationGrace > 0 {
		bg := context.WithoutCancel(ctx)
		o.afterFunc(o.cfg.InvalidationGrace, func() { o.invalidateNow(bg, slug) })
	}
}

func (o *Orchestrator) invalidateNow(ctx context.Context, slug string) {
	o.mu.Lock()
	for key := range o.posCache {
		if len(key) > len(slug) && key[:len(slug)+1] == slug+"|" {
			delete(o.posCache, key)
		}
	}
	o.mu.Unlock()

	if o.snapshots != nil {
		if err := o.snapshots.Invalidate(ctx, slug); err != nil {
			o.logger.Warn("orchestrator: snapshot invalidation failed",
				slog.String("market", slug),
				slog.String("error", err.Error()),
			)
		}
	}
}

// marketState prefers a fresh cached snapshot and falls back to the ledger.
func (o *Orchestrator) marketState(ctx context.Context, market domain.Market) (domain.MarketState, error) {
	if o.snapshots != nil {
		st, err := o.snapshots.GetState(ctx, market.Slug)
		if err == nil && (o.cfg.SnapshotMaxAge <= 0 || !st.Stale(o.now(), o.cfg.SnapshotMaxAge)) {
			return st, nil
		}
	}
	return o.reader.ReadMarketState(ctx, ledger.MarketRef{Slug: market.Slug, Contracts: market.Contracts})
}
