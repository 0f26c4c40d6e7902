// Package positions derives a user's open positions from the engine's
// append-only event log and fetches registry records only for ids that are
// still open.
package positions

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/synthex/internal/domain"
	"github.com/alanyoungcy/synthex/internal/ledger"
)

// fetchConcurrency bounds parallel getPosition calls per reconcile.
const fetchConcurrency = 8

// Source is the ledger surface the reconciler reads. *ledger.Reader
// satisfies it.
type Source interface {
	LatestBlock(ctx context.Context) (uint64, error)
	ScanOpened(ctx context.Context, engine common.Address, from, to uint64, user *common.Address) ([]ledger.OpenedEvent, error)
	ScanClosed(ctx context.Context, engine common.Address, from, to uint64, user *common.Address) ([]ledger.ClosedEvent, error)
	ScanLiquidated(ctx context.Context, engine common.Address, from, to uint64, user *common.Address) ([]ledger.LiquidatedEvent, error)
	GetPosition(ctx context.Context, registry common.Address, id *big.Int) (domain.Position, error)
}

// Snapshot is the open set as of one block.
type Snapshot struct {
	Market    string            `json:"market"`
	Positions []domain.Position `json:"positions"`
	ScannedTo uint64            `json:"scanned_to"`
	Opened    int               `json:"opened"`
	Closed    int               `json:"closed"`
}

// Reconciler re-derives open positions on demand. It holds no state between
// calls, so two calls over the same log return the same snapshot.
type Reconciler struct {
	src    Source
	logger *slog.Logger
}

// NewReconciler creates a Reconciler.
func NewReconciler(src Source, logger *slog.Logger) *Reconciler {
	return &Reconciler{
		src:    src,
		logger: logger.With(slog.String("component", "position_reconciler")),
	}
}

// OpenPositions scans deploymentBlock..latest. A nil user returns every open
// position in the market.
func (r *Reconciler) OpenPositions(ctx context.Context, market domain.Market, user *common.Address) (Snapshot, error) {
	head, err := r.src.LatestBlock(ctx)
	if err != nil {
		return Snapshot{}, fmt.Errorf("positions: latest block: %w", err)
	}
	engine := market.Contracts.Engine
	from := market.Contracts.DeploymentBlock

	var (
		opened     []ledger.OpenedEvent
		closed     []ledger.ClosedEvent
		liquidated []ledger.LiquidatedEvent
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		opened, err = r.src.ScanOpened(gctx, engine, from, head, user)
		return err
	})
	g.Go(func() error {
		var err error
		closed, err = r.src.ScanClosed(gctx, engine, from, head, user)
		return err
	})
	g.Go(func() error {
		var err error
		liquidated, err = r.src.ScanLiquidated(gctx, engine, from, head, user)
		return err
	})
	if err := g.Wait(); err != nil {
		return Snapshot{}, fmt.Errorf("positions: scan %s: %w", market.Slug, err)
	}

	done := make(map[string]struct{}, len(closed)+len(liquidated))
	for _, ev := range closed {
		done[ev.PositionID.String()] = struct{}{}
	}
	for _, ev := range liquidated {
		done[ev.PositionID.String()] = struct{}{}
	}

	openIDs := make(map[string]*big.Int)
	for _, ev := range opened {
		key := ev.PositionID.String()
		if _, ok := done[key]; ok {
			continue
		}
		openIDs[key] = ev.PositionID
	}

	records, err := r.fetch(ctx, market, openIDs)
	if err != nil {
		return Snapshot{}, err
	}

	r.logger.Debug("positions: reconciled",
		slog.String("market", market.Slug),
		slog.Uint64("from", from),
		slog.Uint64("to", head),
		slog.Int("opened", len(opened)),
		slog.Int("closed", len(done)),
		slog.Int("open", len(records)),
	)

	return Snapshot{
		Market:    market.Slug,
		Positions: records,
		ScannedTo: head,
		Opened:    len(opened),
		Closed:    len(done),
	}, nil
}

// fetch reads registry records for ids and returns them sorted by id.
// Records the registry no longer reports as open are dropped; the event scan
// and the registry can disagree for a block or two.
func (r *Reconciler) fetch(ctx context.Context, market domain.Market, ids map[string]*big.Int) ([]domain.Position, error) {
	var (
		mu  sync.Mutex
		out = make([]domain.Position, 0, len(ids))
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(fetchConcurrency)
	for _, id := range ids {
		g.Go(func() error {
			pos, err := r.src.GetPosition(gctx, market.Contracts.PositionRegistry, id)
			if err != nil {
				return fmt.Errorf("positions: get %s/%s: %w", market.Slug, id, err)
			}
			if !pos.IsOpen() {
				r.logger.Debug("positions: registry reports position closed ahead of events",
					slog.String("market", market.Slug),
					slog.String("position_id", id.String()),
				)
				return nil
			}
			pos.Market = market.Slug
			mu.Lock()
			out = append(out, pos)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	sort.Slice(out, func(i, j int) bool { return out[i].ID.Cmp(out[j].ID) < 0 })
	return out, nil
}
