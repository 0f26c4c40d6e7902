package orchestrator

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math/big"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/synthex/internal/crypto"
	"github.com/alanyoungcy/synthex/internal/domain"
	"github.com/alanyoungcy/synthex/internal/history"
	"github.com/alanyoungcy/synthex/internal/ledger"
	lt "github.com/alanyoungcy/synthex/internal/ledger/ledgertest"
	"github.com/alanyoungcy/synthex/internal/metadata"
	"github.com/alanyoungcy/synthex/internal/positions"
)

const testKey = "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"

var (
	engineAddr   = common.HexToAddress("0x00000000000000000000000000000000000000e1")
	vammAddr     = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	registryAddr = common.HexToAddress("0x00000000000000000000000000000000000000b1")
	tokenAddr    = common.HexToAddress("0x00000000000000000000000000000000000000c1")
	bob          = common.HexToAddress("0x0000000000000000000000000000000000000b0b")
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testMarket() domain.Market {
	return domain.Market{
		MarketMetadata: domain.MarketMetadata{ID: "m-aapl", Slug: "aapl", Name: "Apple"},
		Contracts: domain.Contracts{
			Engine:           engineAddr,
			VAMM:             vammAddr,
			PositionRegistry: registryAddr,
			ChainID:          31337,
		},
	}
}

// countingSigner wraps a LocalSigner and counts digest signatures.
type countingSigner struct {
	*crypto.LocalSigner
	calls atomic.Int32
}

func (c *countingSigner) SignDigest(ctx context.Context, digest []byte) ([]byte, error) {
	c.calls.Add(1)
	return c.LocalSigner.SignDigest(ctx, digest)
}

type fixture struct {
	b       *lt.Backend
	orch    *Orchestrator
	sess    *Session
	signer  *countingSigner
	results []domain.ExecutionResult
	alerts  []RiskAlert
	mu      sync.Mutex
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	b := lt.New()
	logger := quietLogger()

	local, err := crypto.NewLocalSigner(testKey)
	require.NoError(t, err)
	signer := &countingSigner{LocalSigner: local}

	reader := ledger.NewReader(b, 0, logger)
	writer := ledger.NewWriter(b, local, b.Chain, ledger.WriterConfig{ReceiptPoll: time.Millisecond}, logger)
	resolver := metadata.NewResolver(metadata.NewStaticStore([]domain.Market{testMarket()}), nil, logger)

	orch := New(cfg, Deps{
		Reader:    reader,
		Markets:   resolver,
		Positions: positions.NewReconciler(reader, logger),
		History:   history.NewIndex(nil, logger),
	}, logger)
	orch.afterFunc = func(time.Duration, func()) *time.Timer { return nil }

	f := &fixture{
		b:      b,
		orch:   orch,
		sess:   NewSession(writer, crypto.NewPermitSigner(signer)),
		signer: signer,
	}
	orch.OnExecution(func(_ context.Context, res domain.ExecutionResult) {
		f.mu.Lock()
		f.results = append(f.results, res)
		f.mu.Unlock()
	})
	orch.OnRiskAlert(func(_ context.Context, a RiskAlert) {
		f.mu.Lock()
		f.alerts = append(f.alerts, a)
		f.mu.Unlock()
	})
	return f
}

func (f *fixture) funding(internal, wallet, allowance *big.Int) {
	f.b.Return("collateralToken", tokenAddr)
	f.b.Return("getWalletBalance", internal)
	f.b.Return("balanceOf", wallet)
	f.b.Return("allowance", allowance)
	f.b.Return("nonces", big.NewInt(3))
	f.b.Return("name", "USD Coin")
}

// confirmOpens makes every open method simulate to id and confirm with an
// Opened event for the session's user.
func (f *fixture) confirmOpens(id int64) {
	for _, m := range []string{"openPosition", "depositAndOpenPosition", "depositAndOpenPositionWithPermit"} {
		f.b.Return(m, big.NewInt(id))
	}
	user := f.sess.User
	f.b.OnSend(func(_ *types.Transaction, method string, _ []any) *types.Receipt {
		l := lt.OpenedLog(engineAddr, id, user, true, lt.Wad(1), lt.Wad(100), lt.Micro(100), 0)
		return &types.Receipt{Status: types.ReceiptStatusSuccessful, Logs: []*types.Log{&l}}
	})
}

func (f *fixture) sentArgs(t *testing.T) (string, []any) {
	t.Helper()
	sent := f.b.Sent()
	require.Len(t, sent, 1)
	m, err := ledger.LookupMethod(sent[0].Data())
	require.NoError(t, err)
	args, err := m.Inputs.Unpack(sent[0].Data()[4:])
	require.NoError(t, err)
	return m.Name, args
}

func longIntent(amount *big.Int, lev int64) domain.TradeIntent {
	return domain.TradeIntent{Side: domain.SideLong, Amount: amount, Leverage: lev, FundingSource: domain.FundingAuto}
}

func TestSelectPath(t *testing.T) {
	tests := []struct {
		name    string
		facts   FundingFacts
		kind    domain.PathKind
		deposit int64
		code    string
	}{
		{"internal covers", FundingFacts{Amount: lt.Micro(100), Internal: lt.Micro(100)}, domain.PathDirect, 0, ""},
		{"allowance covers shortfall", FundingFacts{Amount: lt.Micro(100), Internal: lt.Micro(50), Wallet: lt.Micro(80), Allowance: lt.Micro(50)}, domain.PathAllowance, 50, ""},
		{"permit needed", FundingFacts{Amount: lt.Micro(100), Internal: lt.Micro(50), Wallet: lt.Micro(80), Allowance: lt.Micro(49)}, domain.PathPermit, 50, ""},
		{"insufficient", FundingFacts{Amount: lt.Micro(100), Internal: lt.Micro(50), Wallet: lt.Micro(10)}, "", 0, domain.CodeInsufficientBalance},
		{"internal only short", FundingFacts{Amount: lt.Micro(100), Internal: lt.Micro(50), Wallet: lt.Micro(500), Source: domain.FundingInternal}, "", 0, domain.CodeInsufficientBalance},
		{"wallet deposits everything", FundingFacts{Amount: lt.Micro(100), Internal: lt.Micro(500), Wallet: lt.Micro(100), Allowance: lt.Micro(100), Source: domain.FundingWallet}, domain.PathAllowance, 100, ""},
		{"zero amount", FundingFacts{Amount: big.NewInt(0)}, "", 0, domain.CodeInvalidAmount},
		{"unknown source", FundingFacts{Amount: lt.Micro(1), Source: "margin"}, "", 0, domain.CodeUnsupported},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			path, err := SelectPath(tc.facts)
			if tc.code != "" {
				assert.True(t, domain.HasCode(err, tc.code), "got %v", err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.kind, path.Kind())
			switch p := path.(type) {
			case AllowancePath:
				assert.Equal(t, lt.Micro(tc.deposit), p.Deposit)
			case PermitPath:
				assert.Equal(t, lt.Micro(tc.deposit), p.Deposit)
			}
			assert.Equal(t, tc.facts.Amount, path.Total())
		})
	}
}

func TestSelectPathNeverDirectWhenInternalShort(t *testing.T) {
	for _, wallet := range []int64{50, 100, 1000} {
		for _, allowance := range []int64{0, 49, 50, 1000} {
			path, err := SelectPath(FundingFacts{
				Amount:    lt.Micro(100),
				Internal:  lt.Micro(50),
				Wallet:    lt.Micro(wallet),
				Allowance: lt.Micro(allowance),
			})
			require.NoError(t, err)
			assert.NotEqual(t, domain.PathDirect, path.Kind(), "wallet=%d allowance=%d", wallet, allowance)
		}
	}
}

func TestOpenDirect(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	f.funding(lt.Micro(200), lt.Micro(0), lt.Micro(0))
	f.confirmOpens(7)

	res, err := f.orch.Open(context.Background(), f.sess, "aapl", longIntent(lt.Micro(100), 5))
	require.NoError(t, err)
	assert.True(t, res.Succeeded())
	assert.Equal(t, domain.PathDirect, res.Path)
	assert.Equal(t, int64(7), res.PositionID.Int64())
	assert.NotEmpty(t, res.ID)

	method, args := f.sentArgs(t)
	assert.Equal(t, "openPosition", method)
	assert.Equal(t, true, args[0])
	assert.Equal(t, lt.Micro(100), args[1])
	assert.Equal(t, big.NewInt(5), args[2])
	assert.Zero(t, f.signer.calls.Load())
	require.Len(t, f.results, 1)
}

func TestOpenAllowancePathNeverSigns(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	f.funding(lt.Micro(50), lt.Micro(100), lt.Micro(60))
	f.confirmOpens(8)

	res, err := f.orch.Open(context.Background(), f.sess, "aapl", longIntent(lt.Micro(100), 2))
	require.NoError(t, err)
	assert.Equal(t, domain.PathAllowance, res.Path)
	assert.Equal(t, domain.ExecConfirmed, res.Status)

	method, args := f.sentArgs(t)
	assert.Equal(t, "depositAndOpenPosition", method)
	assert.Equal(t, lt.Micro(50), args[0], "deposits only the shortfall")
	assert.Equal(t, lt.Micro(100), args[2])
	assert.Zero(t, f.signer.calls.Load(), "permit signer must not be invoked")
	assert.Zero(t, f.b.CallCount("nonces"))
}

func TestOpenPermitPath(t *testing.T) {
	for _, production := range []bool{false, true} {
		cfg := DefaultConfig()
		cfg.Production = production
		f := newFixture(t, cfg)
		f.funding(lt.Micro(50), lt.Micro(100), lt.Micro(0))
		f.confirmOpens(9)

		res, err := f.orch.Open(context.Background(), f.sess, "aapl", longIntent(lt.Micro(100), 3))
		require.NoError(t, err)
		assert.Equal(t, domain.PathPermit, res.Path)
		assert.Equal(t, int32(1), f.signer.calls.Load())
		assert.Equal(t, 1, f.b.CallCount("nonces"))

		method, args := f.sentArgs(t)
		assert.Equal(t, "depositAndOpenPositionWithPermit", method)
		assert.Equal(t, lt.Micro(50), args[0])
		if production {
			assert.Equal(t, lt.Micro(50), args[1], "production permits the exact shortfall")
		} else {
			assert.Equal(t, crypto.MaxPermitValue, args[1])
		}
		v := args[6].(uint8)
		assert.Contains(t, []uint8{27, 28}, v)
	}
}

// foreignKeySigner claims one address but signs with another key.
type foreignKeySigner struct {
	claimed common.Address
	*crypto.LocalSigner
}

func (s foreignKeySigner) Address() common.Address { return s.claimed }

func TestOpenPermitRejectsForeignSignature(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	f.funding(lt.Micro(50), lt.Micro(100), lt.Micro(0))
	f.confirmOpens(9)

	other, err := crypto.NewLocalSigner("8f2a55949038a9610f50fb23b5883af3b4ecb3c3bb792cbcefbd1542c692be63")
	require.NoError(t, err)
	sess := NewSession(f.sess.writer, crypto.NewPermitSigner(foreignKeySigner{claimed: f.sess.User, LocalSigner: other}))

	res, err := f.orch.Open(context.Background(), sess, "aapl", longIntent(lt.Micro(100), 3))
	assert.True(t, domain.HasCode(err, domain.CodeSigningFailed), "got %v", err)
	assert.Equal(t, domain.ExecRejected, res.Status)
	assert.Empty(t, f.b.Sent())
}

func TestOpenValidation(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	f.funding(lt.Micro(500), lt.Micro(0), lt.Micro(0))
	ctx := context.Background()

	res, err := f.orch.Open(ctx, f.sess, "aapl", longIntent(lt.Micro(100), 11))
	assert.True(t, domain.HasCode(err, domain.CodeInvalidLeverage))
	assert.Equal(t, domain.ExecRejected, res.Status)

	_, err = f.orch.Open(ctx, f.sess, "aapl", longIntent(big.NewInt(0), 2))
	assert.True(t, domain.HasCode(err, domain.CodeInvalidAmount))

	_, err = f.orch.Open(ctx, ReadOnlySession(bob), "aapl", longIntent(lt.Micro(1), 2))
	te, ok := domain.AsTradeError(err)
	require.True(t, ok)
	assert.Equal(t, domain.CodeNoSigner, te.Code)
	assert.Equal(t, domain.KindConnectivity, te.Kind)

	_, err = f.orch.Open(ctx, f.sess, "msft", longIntent(lt.Micro(1), 2))
	assert.True(t, domain.HasCode(err, domain.CodeMarketNotFound))

	assert.Empty(t, f.b.Sent())
}

func TestOpenSimulationRevertIsPreflightFailure(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	f.funding(lt.Micro(500), lt.Micro(0), lt.Micro(0))
	f.b.Handle("openPosition", func(common.Address, []any) ([]any, error) {
		return nil, lt.CustomError("InvalidLeverage", big.NewInt(5))
	})

	res, err := f.orch.Open(context.Background(), f.sess, "aapl", longIntent(lt.Micro(100), 5))
	te, ok := domain.AsTradeError(err)
	require.True(t, ok)
	assert.Equal(t, domain.KindOnchain, te.Kind)
	assert.Equal(t, domain.CodeInvalidLeverage, te.Code)
	assert.Equal(t, domain.ExecRejected, res.Status)
	assert.Empty(t, f.b.Sent())
}

func TestOpenRevertAfterSendIsResult(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	f.funding(lt.Micro(500), lt.Micro(0), lt.Micro(0))
	var calls atomic.Int32
	f.b.Handle("openPosition", func(common.Address, []any) ([]any, error) {
		// simulate and estimate pass; the post-mortem replay reverts
		if calls.Add(1) > 2 {
			return nil, lt.CustomError("SlippageExceeded", big.NewInt(1), big.NewInt(2))
		}
		return []any{big.NewInt(1)}, nil
	})
	f.b.OnSend(func(*types.Transaction, string, []any) *types.Receipt {
		return &types.Receipt{Status: types.ReceiptStatusFailed}
	})

	res, err := f.orch.Open(context.Background(), f.sess, "aapl", longIntent(lt.Micro(100), 5))
	require.NoError(t, err, "post-submission reverts are results, not errors")
	assert.Equal(t, domain.ExecReverted, res.Status)
	require.NotNil(t, res.Error)
	assert.Equal(t, domain.CodeSlippageExceeded, res.Error.Code)
	assert.NotEqual(t, common.Hash{}, res.TxHash)
	assert.False(t, res.Succeeded())
}

func TestOpenMissingEvent(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	f.funding(lt.Micro(500), lt.Micro(0), lt.Micro(0))
	f.b.Return("openPosition", big.NewInt(1))
	f.b.OnSend(func(*types.Transaction, string, []any) *types.Receipt {
		return &types.Receipt{Status: types.ReceiptStatusSuccessful}
	})

	res, err := f.orch.Open(context.Background(), f.sess, "aapl", longIntent(lt.Micro(100), 5))
	require.NoError(t, err)
	assert.Equal(t, domain.ExecConfirmed, res.Status)
	assert.False(t, res.Succeeded())
	assert.Equal(t, domain.CodeMissingEvent, res.Error.Code)
}

func TestOpenCancelledContext(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	f.funding(lt.Micro(500), lt.Micro(0), lt.Micro(0))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := f.orch.Open(ctx, f.sess, "aapl", longIntent(lt.Micro(100), 5))
	assert.True(t, domain.HasCode(err, domain.CodeUserCancelled), "got %v", err)
	assert.Equal(t, domain.ExecCancelled, res.Status)
	assert.Empty(t, f.b.Sent())
}

func stubPosition(f *fixture, owner common.Address, status uint8) {
	f.b.Handle("getPosition", func(_ common.Address, args []any) ([]any, error) {
		id := args[0].(*big.Int).Int64()
		return lt.PositionRecord(id, owner, true, lt.Wad(5), lt.Wad(100), lt.Wad(500), lt.Micro(100), status), nil
	})
}

func TestCloseForeignPosition(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	stubPosition(f, bob, 0)

	res, err := f.orch.Close(context.Background(), f.sess, "aapl", big.NewInt(4))
	assert.True(t, domain.HasCode(err, domain.CodeNotPositionOwner), "got %v", err)
	assert.Equal(t, domain.ExecRejected, res.Status)
	assert.Empty(t, f.b.Sent())
}

func TestCloseNonOpenPosition(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	stubPosition(f, f.sess.User, 1)

	_, err := f.orch.Close(context.Background(), f.sess, "aapl", big.NewInt(4))
	assert.True(t, domain.HasCode(err, domain.CodePositionNotOpen), "got %v", err)
	assert.Empty(t, f.b.Sent())
}

func TestCloseUnknownPosition(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	stubPosition(f, common.Address{}, 0)

	_, err := f.orch.Close(context.Background(), f.sess, "aapl", big.NewInt(999))
	assert.True(t, domain.HasCode(err, domain.CodePositionNotOpen), "got %v", err)
	assert.NotContains(t, err.Error(), "belongs to")
	assert.Empty(t, f.b.Sent())
}

func TestCloseRequiresMarket(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	_, err := f.orch.Close(context.Background(), f.sess, "", big.NewInt(4))
	assert.True(t, domain.HasCode(err, domain.CodeUnsupported))
	assert.Zero(t, f.b.CallCount("getPosition"))
}

func TestCloseConfirmedReportsPnL(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	stubPosition(f, f.sess.User, 0)
	f.b.Return("closePosition", big.NewInt(0))
	user := f.sess.User
	f.b.OnSend(func(*types.Transaction, string, []any) *types.Receipt {
		l := lt.ClosedLog(engineAddr, 4, user, big.NewInt(-12_500_000), lt.Wad(98), 0)
		return &types.Receipt{Status: types.ReceiptStatusSuccessful, Logs: []*types.Log{&l}}
	})

	res, err := f.orch.Close(context.Background(), f.sess, "aapl", big.NewInt(4))
	require.NoError(t, err)
	assert.True(t, res.Succeeded())
	assert.Equal(t, int64(-12_500_000), res.RealizedPnL.Int64())
	assert.Equal(t, []string{"closePosition"}, f.b.SentMethods())
	require.Len(t, f.results, 1)
	assert.Equal(t, "close", f.results[0].Action)
}

func TestDuplicateActionRejected(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	stubPosition(f, f.sess.User, 0)

	_, release, ok := f.orch.Guard().Acquire("close|aapl|4")
	require.True(t, ok)
	defer release()

	_, err := f.orch.Close(context.Background(), f.sess, "aapl", big.NewInt(4))
	assert.True(t, domain.HasCode(err, domain.CodeDuplicateAction))
	assert.Zero(t, f.b.CallCount("getPosition"))
}

func TestDecodeError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		kind domain.ErrorKind
		code string
	}{
		{"no signer", domain.ErrNoSigner, domain.KindConnectivity, domain.CodeNoSigner},
		{"rejected", domain.ErrUserRejected, domain.KindCancelled, domain.CodeUserCancelled},
		{"cancelled", context.Canceled, domain.KindCancelled, domain.CodeUserCancelled},
		{"signing", domain.ErrSigningFailed, domain.KindConnectivity, domain.CodeSigningFailed},
		{"mapped revert", lt.CustomError("PermitExpired", big.NewInt(1)), domain.KindOnchain, domain.CodePermitExpired},
		{"plain revert", &ledger.RevertError{Revert: ledger.Revert{Name: "Error", Message: "paused"}}, domain.KindOnchain, domain.CodeReverted},
		{"unmapped custom", &ledger.RevertError{Revert: ledger.Revert{Name: "MarketPaused"}}, domain.KindOnchain, "MarketPaused"},
		{"network", io.ErrUnexpectedEOF, domain.KindConnectivity, domain.CodeNetwork},
		{"bare custom name", errors.New("execution reverted: NotPositionOwner"), domain.KindOnchain, domain.CodeNotPositionOwner},
		{"require string", errors.New("execution reverted: Position not open"), domain.KindOnchain, domain.CodePositionNotOpen},
		{"custom name with parens", errors.New("execution reverted: InsufficientBalance()"), domain.KindOnchain, domain.CodeInsufficientBalance},
		{"decoded require string", &ledger.RevertError{Revert: ledger.Revert{Name: "Error", Message: "engine: invalid leverage"}}, domain.KindOnchain, domain.CodeInvalidLeverage},
		{"short owner phrase", errors.New("execution reverted: not owner"), domain.KindOnchain, domain.CodeNotPositionOwner},
		{"unknown string", errors.New("execution reverted: paused"), domain.KindOnchain, domain.CodeReverted},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			te := decodeError(tc.err)
			require.NotNil(t, te)
			assert.Equal(t, tc.kind, te.Kind)
			assert.Equal(t, tc.code, te.Code)
		})
	}
	assert.Nil(t, decodeError(nil))
}

func stubState(b *lt.Backend, mark int64) {
	b.Return("markPrice", lt.Wad(mark))
	b.Return("baseReserve", lt.Wad(1000))
	b.Return("quoteReserve", lt.Wad(1000*mark))
	b.Return("longOpenInterest", lt.Wad(10))
	b.Return("shortOpenInterest", lt.Wad(4))
}

func TestAccountViewAssessesRiskAndAlertsOnce(t *testing.T) {
	cfg := DefaultConfig()
	cfg.PositionTTL = 0
	f := newFixture(t, cfg)
	user := f.sess.User
	f.b.Logs = []types.Log{lt.OpenedLog(engineAddr, 4, user, true, lt.Wad(5), lt.Wad(100), lt.Micro(100), 10)}
	stubPosition(f, user, 0)
	stubState(f.b, 81)
	f.funding(lt.Micro(20), lt.Micro(30), lt.Micro(0))

	for i := 0; i < 2; i++ {
		view, err := f.orch.AccountView(context.Background(), "aapl", user)
		require.NoError(t, err)
		require.Len(t, view.Positions, 1)
		require.NotNil(t, view.Positions[0].Risk)
		assert.Equal(t, "high", string(view.Positions[0].Risk.Bucket))
		assert.Equal(t, lt.Micro(20), view.Internal)
		assert.Equal(t, lt.Micro(30), view.Wallet)
		assert.Contains(t, view.Unavailable, "history")
	}
	assert.Len(t, f.alerts, 1, "alert fires once while the position stays high risk")
}

func TestAccountViewUsesPositionCache(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	user := f.sess.User
	f.b.Logs = []types.Log{lt.OpenedLog(engineAddr, 4, user, true, lt.Wad(5), lt.Wad(100), lt.Micro(100), 10)}
	stubPosition(f, user, 0)
	stubState(f.b, 100)
	f.funding(lt.Micro(0), lt.Micro(0), lt.Micro(0))

	ctx := context.Background()
	_, err := f.orch.AccountView(ctx, "aapl", user)
	require.NoError(t, err)
	_, err = f.orch.AccountView(ctx, "aapl", user)
	require.NoError(t, err)
	assert.Equal(t, 1, f.b.CallCount("getPosition"))

	f.orch.invalidate(ctx, "aapl")
	_, err = f.orch.AccountView(ctx, "aapl", user)
	require.NoError(t, err)
	assert.Equal(t, 2, f.b.CallCount("getPosition"))
}

func TestMarketViewDegrades(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	stubState(f.b, 2)

	view, err := f.orch.MarketView(context.Background(), "aapl")
	require.NoError(t, err)
	require.NotNil(t, view.State)
	assert.Equal(t, lt.Wad(2), view.State.MarkPrice)
	assert.Zero(t, view.MarkDeviationBps)
	assert.Nil(t, view.Funds)
	assert.ElementsMatch(t, []string{"funds", "history"}, view.Unavailable)

	_, err = f.orch.MarketView(context.Background(), "nope")
	assert.True(t, domain.HasCode(err, domain.CodeMarketNotFound))
}

type downStore struct{}

var errStoreDown = errors.New("connection refused")

func (downStore) GetMetadata(context.Context, string) (domain.MarketMetadata, error) {
	return domain.MarketMetadata{}, errStoreDown
}
func (downStore) GetContracts(context.Context, string) (domain.Contracts, error) {
	return domain.Contracts{}, errStoreDown
}
func (downStore) List(context.Context) ([]domain.Market, error) { return nil, errStoreDown }
func (downStore) Upsert(context.Context, domain.Market) error   { return errStoreDown }

func TestMarketViewSurvivesMetadataOutage(t *testing.T) {
	logger := quietLogger()
	b := lt.New()
	reader := ledger.NewReader(b, 0, logger)
	orch := New(DefaultConfig(), Deps{
		Reader:    reader,
		Markets:   metadata.NewResolver(downStore{}, nil, logger),
		Positions: positions.NewReconciler(reader, logger),
		History:   history.NewIndex(nil, logger),
	}, logger)

	view, err := orch.MarketView(context.Background(), "aapl")
	require.NoError(t, err)
	assert.Equal(t, "aapl", view.Market.Slug)
	assert.Nil(t, view.State)
	assert.Nil(t, view.Funds)
	assert.Subset(t, view.Unavailable, []string{"metadata", "state", "funds"})
	assert.Zero(t, b.CallCount("markPrice"), "no ledger reads without contracts")
}

func TestMarketViewUnknownSlugStillFails(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	_, err := f.orch.MarketView(context.Background(), "nope")
	te, ok := domain.AsTradeError(err)
	require.True(t, ok)
	assert.Equal(t, domain.CodeMarketNotFound, te.Code)
}

func TestPreviewOpen(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	stubState(f.b, 1)
	f.b.Handle("simulateOpenLong", func(_ common.Address, args []any) ([]any, error) {
		assert.Equal(t, lt.Wad(100), args[0])
		return []any{lt.Wad(90), lt.Wad(1)}, nil
	})

	p, err := f.orch.PreviewOpen(context.Background(), "aapl", domain.SideLong, lt.Micro(10), 10)
	require.NoError(t, err)
	assert.Equal(t, "90.909", p.Local.Base.StringFixed(3))
	assert.Equal(t, "10.00", p.Local.SlippagePct.StringFixed(2))
	require.NotNil(t, p.Ledger)
	assert.Equal(t, lt.Wad(90), p.Ledger.BaseAmount)
	assert.Nil(t, p.KDriftBps)
}

func TestPreviewCloseFallsBackWithoutLedgerQuote(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	stubState(f.b, 100)
	stubPosition(f, bob, 0)

	p, err := f.orch.PreviewClose(context.Background(), "aapl", big.NewInt(4))
	require.NoError(t, err)
	assert.Nil(t, p.Ledger, "simulateCloseLong has no handler")
	require.NotNil(t, p.EstimatedPnL)
	assert.True(t, p.EstimatedPnL.IsNegative(), "selling into the curve fills below entry")
}
