package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/synthex/internal/domain"
	"github.com/alanyoungcy/synthex/internal/ledger"
)

// Close closes position id in market slug on behalf of sess. Position ids are
// only unique within a market, so slug is mandatory. The registry record is
// checked before anything is signed.
func (o *Orchestrator) Close(ctx context.Context, sess *Session, slug string, id *big.Int) (domain.ExecutionResult, error) {
	res := domain.ExecutionResult{
		Action:     "close",
		Market:     slug,
		PositionID: id,
		CreatedAt:  o.now().UTC(),
	}
	if sess != nil {
		res.User = sess.User
	}

	if slug == "" {
		return o.reject(ctx, res, domain.Preflight(domain.CodeUnsupported, "closing a position requires its market"))
	}
	if id == nil || id.Sign() <= 0 {
		return o.reject(ctx, res, domain.Preflight(domain.CodeInvalidAmount, "position id must be positive"))
	}
	if !sess.CanSign() {
		return o.reject(ctx, res, decodeError(domain.ErrNoSigner))
	}

	actionID, release, ok := o.guard.Acquire(fmt.Sprintf("close|%s|%s", slug, id))
	if !ok {
		return o.reject(ctx, res, decodeError(domain.ErrActionInFlight))
	}
	defer release()
	res.ID = actionID

	market, err := o.markets.Resolve(ctx, slug)
	if err != nil {
		return o.reject(ctx, res, decodeError(err))
	}

	pos, err := o.reader.GetPosition(ctx, market.Contracts.PositionRegistry, id)
	if err != nil {
		return o.reject(ctx, res, decodeError(err))
	}
	// The registry answers unknown ids with a zeroed record.
	if pos.Owner == (common.Address{}) {
		return o.reject(ctx, res, domain.Preflight(domain.CodePositionNotOpen,
			fmt.Sprintf("position %s does not exist in %s", id, slug)))
	}
	if !pos.IsOpen() {
		return o.reject(ctx, res, domain.Preflight(domain.CodePositionNotOpen,
			fmt.Sprintf("position %s is %s", id, pos.Status)))
	}
	if pos.Owner != sess.User {
		return o.reject(ctx, res, domain.Preflight(domain.CodeNotPositionOwner,
			fmt.Sprintf("position %s belongs to %s", id, pos.Owner.Hex())))
	}

	data, err := ledger.EngineABI().Pack("closePosition", id)
	if err != nil {
		return o.reject(ctx, res, decodeError(err))
	}
	if err := ctx.Err(); err != nil {
		return o.reject(ctx, res, decodeError(err))
	}

	o.logger.Info("orchestrator: submitting close",
		slog.String("market", slug),
		slog.String("user", sess.User.Hex()),
		slog.String("position_id", id.String()),
	)
	engine := market.Contracts.Engine
	out, err := sess.writer.Submit(ctx, engine, data, "close")
	res = o.settle(ctx, res, out, err)
	if res.Status == domain.ExecConfirmed {
		if ev, found := ledger.FindClosed(out.Receipt, engine); found {
			res.RealizedPnL = ev.TotalPnL
		} else {
			res.Error = domain.NewTradeError(domain.KindOnchain, domain.CodeMissingEvent,
				"receipt carries no PositionClosed event")
		}
	}
	if res.Status == domain.ExecConfirmed {
		o.clearAlert(slug, id)
	}
	return o.finish(ctx, res)
}
