package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/synthex/internal/crypto"
	"github.com/alanyoungcy/synthex/internal/domain"
	"github.com/alanyoungcy/synthex/internal/ledger"
)

// Open validates intent, selects an execution path and submits exactly one
// open transaction for sess in market slug. Preflight, signing and
// pre-submission failures come back as a *domain.TradeError with a result
// whose Status is rejected or cancelled; once the transaction is sent the
// outcome is reported in the result and err is nil.
func (o *Orchestrator) Open(ctx context.Context, sess *Session, slug string, intent domain.TradeIntent) (domain.ExecutionResult, error) {
	res := domain.ExecutionResult{
		Action:    "open",
		Market:    slug,
		CreatedAt: o.now().UTC(),
	}
	if sess != nil {
		res.User = sess.User
	}

	if te := o.validateIntent(slug, intent); te != nil {
		return o.reject(ctx, res, te)
	}
	if !sess.CanSign() {
		return o.reject(ctx, res, decodeError(domain.ErrNoSigner))
	}

	key := fmt.Sprintf("open|%s|%s|%s|%s|%d", slug, sess.User.Hex(), intent.Side, intent.Amount, intent.Leverage)
	id, release, ok := o.guard.Acquire(key)
	if !ok {
		return o.reject(ctx, res, decodeError(domain.ErrActionInFlight))
	}
	defer release()
	res.ID = id

	market, err := o.markets.Resolve(ctx, slug)
	if err != nil {
		return o.reject(ctx, res, decodeError(err))
	}
	engine := market.Contracts.Engine

	facts, token, err := o.fundingFacts(ctx, engine, sess.User, intent)
	if err != nil {
		return o.reject(ctx, res, decodeError(err))
	}
	path, err := SelectPath(facts)
	if err != nil {
		return o.reject(ctx, res, decodeError(err))
	}
	res.Path = path.Kind()

	data, err := o.openCalldata(ctx, sess, market, token, path, intent)
	if err != nil {
		return o.reject(ctx, res, decodeError(err))
	}
	if err := ctx.Err(); err != nil {
		return o.reject(ctx, res, decodeError(err))
	}

	o.logger.Info("orchestrator: submitting open",
		slog.String("market", slug),
		slog.String("user", sess.User.Hex()),
		slog.String("path", string(path.Kind())),
		slog.String("side", string(intent.Side)),
		slog.String("amount", intent.Amount.String()),
		slog.Int64("leverage", intent.Leverage),
	)
	out, err := sess.writer.Submit(ctx, engine, data, "open:"+string(path.Kind()))
	res = o.settle(ctx, res, out, err)
	if res.Status == domain.ExecConfirmed {
		if ev, found := ledger.FindOpened(out.Receipt, engine); found {
			res.PositionID = ev.PositionID
		} else {
			res.Error = domain.NewTradeError(domain.KindOnchain, domain.CodeMissingEvent,
				"receipt carries no PositionOpened event")
		}
	}
	return o.finish(ctx, res)
}

// validateIntent performs the client-side checks that need no ledger read.
func (o *Orchestrator) validateIntent(slug string, intent domain.TradeIntent) *domain.TradeError {
	if slug == "" {
		return domain.Preflight(domain.CodeUnsupported, "a market is required")
	}
	if !intent.Side.Valid() {
		return domain.Preflight(domain.CodeUnsupported, fmt.Sprintf("unknown side %q", intent.Side))
	}
	if intent.Amount == nil || intent.Amount.Sign() <= 0 {
		return domain.Preflight(domain.CodeInvalidAmount, "amount must be positive")
	}
	if intent.Leverage < o.cfg.MinLeverage || intent.Leverage > o.cfg.MaxLeverage {
		return domain.Preflight(domain.CodeInvalidLeverage, fmt.Sprintf(
			"leverage %d outside [%d, %d]", intent.Leverage, o.cfg.MinLeverage, o.cfg.MaxLeverage))
	}
	return nil
}

// fundingFacts reads the three balances path selection needs in parallel.
func (o *Orchestrator) fundingFacts(ctx context.Context, engine, user common.Address, intent domain.TradeIntent) (FundingFacts, common.Address, error) {
	token, err := o.reader.CollateralToken(ctx, engine)
	if err != nil {
		return FundingFacts{}, common.Address{}, err
	}

	facts := FundingFacts{Amount: intent.Amount, Source: intent.FundingSource}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		v, err := o.reader.InternalBalance(gctx, engine, user)
		facts.Internal = v
		return err
	})
	g.Go(func() error {
		v, err := o.reader.TokenBalance(gctx, token, user)
		facts.Wallet = v
		return err
	})
	g.Go(func() error {
		v, err := o.reader.Allowance(gctx, token, user, engine)
		facts.Allowance = v
		return err
	})
	if err := g.Wait(); err != nil {
		return FundingFacts{}, common.Address{}, err
	}
	return facts, token, nil
}

// openCalldata encodes the engine call for path. The permit path reads the
// token nonce immediately before signing.
func (o *Orchestrator) openCalldata(ctx context.Context, sess *Session, market domain.Market, token common.Address, path ExecutionPath, intent domain.TradeIntent) ([]byte, error) {
	engine := ledger.EngineABI()
	lev := big.NewInt(intent.Leverage)
	isLong := intent.Side.IsLong()

	switch p := path.(type) {
	case DirectPath:
		return engine.Pack("openPosition", isLong, p.Amount, lev)
	case AllowancePath:
		return engine.Pack("depositAndOpenPosition", p.Deposit, isLong, p.Amount, lev)
	case PermitPath:
		sig, err := o.signPermit(ctx, sess, market, token, p.Deposit)
		if err != nil {
			return nil, err
		}
		return engine.Pack("depositAndOpenPositionWithPermit",
			p.Deposit, sig.Value, isLong, p.Amount, lev, sig.Deadline, sig.V, sig.R, sig.S)
	default:
		return nil, domain.Preflight(domain.CodeUnsupported, fmt.Sprintf("unknown execution path %T", path))
	}
}

func (o *Orchestrator) signPermit(ctx context.Context, sess *Session, market domain.Market, token common.Address, deposit *big.Int) (domain.PermitSignature, error) {
	if sess.permit == nil {
		return domain.PermitSignature{}, domain.ErrNoSigner
	}
	name, err := o.reader.TokenName(ctx, token)
	if err != nil {
		return domain.PermitSignature{}, err
	}
	version := o.reader.TokenVersion(ctx, token)

	value := new(big.Int).Set(deposit)
	if !o.cfg.Production {
		value = new(big.Int).Set(crypto.MaxPermitValue)
	}
	deadline := big.NewInt(o.now().Add(o.cfg.PermitTTL).Unix())

	nonce, err := o.reader.PermitNonce(ctx, token, sess.User)
	if err != nil {
		return domain.PermitSignature{}, err
	}
	req := crypto.PermitRequest{
		TokenName:    name,
		TokenVersion: version,
		Token:        token,
		ChainID:      big.NewInt(market.Contracts.ChainID),
		Spender:      market.Contracts.Engine,
		Value:        value,
		Nonce:        nonce,
		Deadline:     deadline,
	}
	sig, err := sess.permit.Sign(ctx, req)
	if err != nil {
		return domain.PermitSignature{}, err
	}

	// A wallet that signs with another key would only fail on-chain.
	signer, err := crypto.RecoverPermitSigner(sess.User, req, sig)
	if err != nil {
		return domain.PermitSignature{}, fmt.Errorf("orchestrator: %w: %w", domain.ErrSigningFailed, err)
	}
	if signer != sess.User {
		return domain.PermitSignature{}, fmt.Errorf("orchestrator: %w: permit signed by %s, want %s",
			domain.ErrSigningFailed, signer.Hex(), sess.User.Hex())
	}
	return sig, nil
}

// reject finalises an action that never reached the ledger.
func (o *Orchestrator) reject(ctx context.Context, res domain.ExecutionResult, te *domain.TradeError) (domain.ExecutionResult, error) {
	res.Status = domain.ExecRejected
	if te.Kind == domain.KindCancelled {
		res.Status = domain.ExecCancelled
	}
	res.Error = te
	o.logger.Warn("orchestrator: action rejected",
		slog.String("action", res.Action),
		slog.String("market", res.Market),
		slog.String("code", te.Code),
		slog.String("error", te.Error()),
	)
	if res.ID != "" {
		o.emitExecution(ctx, res)
	}
	return res, te
}

// settle folds a writer outcome into res. A send that failed before the
// transaction left the client is a rejection; anything after is a result.
func (o *Orchestrator) settle(ctx context.Context, res domain.ExecutionResult, out ledger.Outcome, err error) domain.ExecutionResult {
	res.TxHash = out.TxHash
	if out.Receipt != nil {
		res.GasUsed = out.Receipt.GasUsed
		if out.Receipt.BlockNumber != nil {
			res.Block = out.Receipt.BlockNumber.Uint64()
		}
	}

	if err != nil {
		if out.TxHash != (common.Hash{}) {
			// Sent, but the wait was interrupted. The hash is the only handle.
			o.logger.Warn("orchestrator: confirmation wait interrupted",
				slog.String("tx", out.TxHash.Hex()),
				slog.String("error", err.Error()),
			)
			res.Status = domain.ExecPending
			return res
		}
		te := decodeError(err)
		res.Error = te
		res.Status = domain.ExecRejected
		if te.Kind == domain.KindCancelled {
			res.Status = domain.ExecCancelled
		}
		return res
	}

	res.Status = out.Status
	if out.Status == domain.ExecReverted && out.Revert != nil {
		res.Error = revertError(*out.Revert)
	}
	return res
}

// finish invalidates caches after a confirmed action and runs hooks.
func (o *Orchestrator) finish(ctx context.Context, res domain.ExecutionResult) (domain.ExecutionResult, error) {
	if res.Status == domain.ExecConfirmed || res.Status == domain.ExecPending {
		o.invalidate(ctx, res.Market)
	}
	o.logger.Info("orchestrator: action finished",
		slog.String("id", res.ID),
		slog.String("action", res.Action),
		slog.String("market", res.Market),
		slog.String("status", string(res.Status)),
		slog.String("tx", res.TxHash.Hex()),
	)
	o.emitExecution(ctx, res)

	if res.TxHash == (common.Hash{}) && res.Error != nil {
		return res, res.Error
	}
	return res, nil
}
