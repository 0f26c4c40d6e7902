package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/synthex/internal/domain"
)

// MarketRef names a market and the contracts behind it.
type MarketRef struct {
	Slug      string
	Contracts domain.Contracts
}

// MarketStateResult carries one market's snapshot or the error that stopped
// it. A failure never affects other markets in the same batch.
type MarketStateResult struct {
	Slug  string
	State domain.MarketState
	Err   error
}

// Reader performs view calls against the venue's contracts. It does not
// retry; callers poll.
type Reader struct {
	backend   Backend
	chunkSize uint64
	logger    *slog.Logger
	now       func() time.Time
}

// NewReader creates a Reader. chunkSize bounds each eth_getLogs window; zero
// scans deploymentBlock..latest in a single request.
func NewReader(backend Backend, chunkSize uint64, logger *slog.Logger) *Reader {
	return &Reader{
		backend:   backend,
		chunkSize: chunkSize,
		logger:    logger.With(slog.String("component", "ledger_reader")),
		now:       time.Now,
	}
}

// call packs method against contract, executes an eth_call at block (nil for
// latest) and unpacks the outputs.
func (r *Reader) call(ctx context.Context, contract abi.ABI, to common.Address, block *big.Int, method string, args ...any) ([]any, error) {
	data, err := contract.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("ledger: pack %s: %w", method, err)
	}
	out, err := r.backend.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, block)
	if err != nil {
		return nil, fmt.Errorf("ledger: call %s on %s: %w", method, to.Hex(), err)
	}
	vals, err := contract.Unpack(method, out)
	if err != nil {
		return nil, fmt.Errorf("ledger: unpack %s: %w", method, err)
	}
	return vals, nil
}

func (r *Reader) callUint(ctx context.Context, contract abi.ABI, to common.Address, block *big.Int, method string, args ...any) (*big.Int, error) {
	vals, err := r.call(ctx, contract, to, block, method, args...)
	if err != nil {
		return nil, err
	}
	v, ok := vals[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("ledger: %s returned %T", method, vals[0])
	}
	return v, nil
}

// LatestBlock returns the head block number.
func (r *Reader) LatestBlock(ctx context.Context) (uint64, error) {
	n, err := r.backend.BlockNumber(ctx)
	if err != nil {
		return 0, fmt.Errorf("ledger: block number: %w", err)
	}
	return n, nil
}

// ReadMarketState reads mark price, both reserves and both open-interest
// figures concurrently, pinned to the same block so the five values are
// mutually consistent.
func (r *Reader) ReadMarketState(ctx context.Context, ref MarketRef) (domain.MarketState, error) {
	head, err := r.LatestBlock(ctx)
	if err != nil {
		return domain.MarketState{}, err
	}
	at := new(big.Int).SetUint64(head)
	vamm := ref.Contracts.VAMM

	var mark, base, quote, longOI, shortOI *big.Int
	g, gctx := errgroup.WithContext(ctx)
	read := func(dst **big.Int, method string) {
		g.Go(func() error {
			v, err := r.callUint(gctx, vammABI, vamm, at, method)
			if err != nil {
				return err
			}
			*dst = v
			return nil
		})
	}
	read(&mark, "markPrice")
	read(&base, "baseReserve")
	read(&quote, "quoteReserve")
	read(&longOI, "longOpenInterest")
	read(&shortOI, "shortOpenInterest")
	if err := g.Wait(); err != nil {
		return domain.MarketState{}, err
	}

	return domain.MarketState{
		Slug:         ref.Slug,
		MarkPrice:    mark,
		BaseReserve:  base,
		QuoteReserve: quote,
		LongOI:       longOI,
		ShortOI:      shortOI,
		Block:        head,
		FetchedAt:    r.now().UTC(),
	}, nil
}

// ReadMarketStates fans ReadMarketState out across refs with no global cap.
// Results are returned in input order.
func (r *Reader) ReadMarketStates(ctx context.Context, refs []MarketRef) []MarketStateResult {
	results := make([]MarketStateResult, len(refs))
	var g errgroup.Group
	for i, ref := range refs {
		g.Go(func() error {
			state, err := r.ReadMarketState(ctx, ref)
			results[i] = MarketStateResult{Slug: ref.Slug, State: state, Err: err}
			if err != nil {
				r.logger.Warn("ledger: market read failed",
					slog.String("market", ref.Slug),
					slog.String("error", err.Error()),
				)
			}
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// InternalBalance is the user's collateral already deposited in the engine.
func (r *Reader) InternalBalance(ctx context.Context, engine, user common.Address) (*big.Int, error) {
	return r.callUint(ctx, engineABI, engine, nil, "getWalletBalance", user)
}

// CollateralToken returns the engine's collateral token address.
func (r *Reader) CollateralToken(ctx context.Context, engine common.Address) (common.Address, error) {
	vals, err := r.call(ctx, engineABI, engine, nil, "collateralToken")
	if err != nil {
		return common.Address{}, err
	}
	addr, ok := vals[0].(common.Address)
	if !ok {
		return common.Address{}, fmt.Errorf("ledger: collateralToken returned %T", vals[0])
	}
	return addr, nil
}

// FundBalances returns the engine's trade, insurance and protocol pools.
func (r *Reader) FundBalances(ctx context.Context, engine common.Address) (domain.FundBalances, error) {
	var out struct {
		Trade     *big.Int
		Insurance *big.Int
		Protocol  *big.Int
	}
	if err := r.callInto(ctx, engineABI, engine, "getFundBalances", &out); err != nil {
		return domain.FundBalances{}, err
	}
	return domain.FundBalances{Trade: out.Trade, Insurance: out.Insurance, Protocol: out.Protocol}, nil
}

// TokenBalance is the wallet balance of owner in token.
func (r *Reader) TokenBalance(ctx context.Context, token, owner common.Address) (*big.Int, error) {
	return r.callUint(ctx, tokenABI, token, nil, "balanceOf", owner)
}

// Allowance is how much spender may pull from owner.
func (r *Reader) Allowance(ctx context.Context, token, owner, spender common.Address) (*big.Int, error) {
	return r.callUint(ctx, tokenABI, token, nil, "allowance", owner, spender)
}

// PermitNonce is owner's current EIP-2612 nonce.
func (r *Reader) PermitNonce(ctx context.Context, token, owner common.Address) (*big.Int, error) {
	return r.callUint(ctx, tokenABI, token, nil, "nonces", owner)
}

// TokenName is the token's name() used in the EIP-712 domain.
func (r *Reader) TokenName(ctx context.Context, token common.Address) (string, error) {
	vals, err := r.call(ctx, tokenABI, token, nil, "name")
	if err != nil {
		return "", err
	}
	name, _ := vals[0].(string)
	return name, nil
}

// TokenVersion returns version(), or "1" for tokens that do not expose it.
func (r *Reader) TokenVersion(ctx context.Context, token common.Address) string {
	vals, err := r.call(ctx, tokenABI, token, nil, "version")
	if err != nil {
		return "1"
	}
	if v, _ := vals[0].(string); v != "" {
		return v
	}
	return "1"
}

// TokenDecimals returns decimals().
func (r *Reader) TokenDecimals(ctx context.Context, token common.Address) (uint8, error) {
	vals, err := r.call(ctx, tokenABI, token, nil, "decimals")
	if err != nil {
		return 0, err
	}
	d, ok := vals[0].(uint8)
	if !ok {
		return 0, fmt.Errorf("ledger: decimals returned %T", vals[0])
	}
	return d, nil
}

// GetPosition reads one registry record.
func (r *Reader) GetPosition(ctx context.Context, registry common.Address, id *big.Int) (domain.Position, error) {
	var out struct {
		Id            *big.Int
		User          common.Address
		IsLong        bool
		BaseSize      *big.Int
		EntryPrice    *big.Int
		EntryNotional *big.Int
		Margin        *big.Int
		CarrySnapshot *big.Int
		OpenBlock     *big.Int
		Status        uint8
		RealizedPnl   *big.Int
	}
	if err := r.callInto(ctx, registryABI, registry, "getPosition", &out, id); err != nil {
		return domain.Position{}, err
	}
	return domain.Position{
		ID:            out.Id,
		Owner:         out.User,
		Side:          domain.SideFromLong(out.IsLong),
		EntryPrice:    out.EntryPrice,
		BaseSize:      out.BaseSize,
		Margin:        out.Margin,
		EntryNotional: out.EntryNotional,
		CarrySnapshot: out.CarrySnapshot,
		OpenBlock:     out.OpenBlock.Uint64(),
		Status:        domain.PositionStatusFromCode(out.Status),
		RealizedPnL:   out.RealizedPnl,
	}, nil
}

// SimulateOpenLong asks the vAMM what quoteIn buys.
func (r *Reader) SimulateOpenLong(ctx context.Context, vamm common.Address, quoteIn *big.Int) (domain.Quote, error) {
	return r.simulate(ctx, vamm, "simulateOpenLong", quoteIn)
}

// SimulateOpenShort asks the vAMM how much base must be sold to raise quoteOut.
func (r *Reader) SimulateOpenShort(ctx context.Context, vamm common.Address, quoteOut *big.Int) (domain.Quote, error) {
	return r.simulate(ctx, vamm, "simulateOpenShort", quoteOut)
}

// SimulateCloseLong prices selling baseIn back to the vAMM. BaseAmount in the
// returned Quote is the quote received.
func (r *Reader) SimulateCloseLong(ctx context.Context, vamm common.Address, baseIn *big.Int) (domain.Quote, error) {
	return r.simulate(ctx, vamm, "simulateCloseLong", baseIn)
}

// SimulateCloseShort prices buying baseOut back. BaseAmount in the returned
// Quote is the quote paid.
func (r *Reader) SimulateCloseShort(ctx context.Context, vamm common.Address, baseOut *big.Int) (domain.Quote, error) {
	return r.simulate(ctx, vamm, "simulateCloseShort", baseOut)
}

func (r *Reader) simulate(ctx context.Context, vamm common.Address, method string, amount *big.Int) (domain.Quote, error) {
	vals, err := r.call(ctx, vammABI, vamm, nil, method, amount)
	if err != nil {
		return domain.Quote{}, err
	}
	if len(vals) != 2 {
		return domain.Quote{}, fmt.Errorf("ledger: %s returned %d values", method, len(vals))
	}
	amt, _ := vals[0].(*big.Int)
	avg, _ := vals[1].(*big.Int)
	return domain.Quote{BaseAmount: amt, AvgPrice: avg}, nil
}

func (r *Reader) callInto(ctx context.Context, contract abi.ABI, to common.Address, method string, out any, args ...any) error {
	data, err := contract.Pack(method, args...)
	if err != nil {
		return fmt.Errorf("ledger: pack %s: %w", method, err)
	}
	raw, err := r.backend.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, nil)
	if err != nil {
		return fmt.Errorf("ledger: call %s on %s: %w", method, to.Hex(), err)
	}
	if err := contract.UnpackIntoInterface(out, method, raw); err != nil {
		return fmt.Errorf("ledger: unpack %s: %w", method, err)
	}
	return nil
}
