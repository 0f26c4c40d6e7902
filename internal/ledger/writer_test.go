package ledger_test

import (
	"context"
	"math/big"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/synthex/internal/crypto"
	"github.com/alanyoungcy/synthex/internal/domain"
	"github.com/alanyoungcy/synthex/internal/ledger"
	"github.com/alanyoungcy/synthex/internal/ledger/ledgertest"
)

const testKey = "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"

func newWriter(t *testing.T, b *ledgertest.Backend, cfg ledger.WriterConfig) *ledger.Writer {
	t.Helper()
	signer, err := crypto.NewLocalSigner(testKey)
	require.NoError(t, err)
	return ledger.NewWriter(b, signer, b.Chain, cfg, discardLogger())
}

func packClose(t *testing.T, id int64) []byte {
	t.Helper()
	data, err := ledger.EngineABI().Pack("closePosition", big.NewInt(id))
	require.NoError(t, err)
	return data
}

func TestWriterConfirmed(t *testing.T) {
	b := ledgertest.New()
	b.Return("closePosition", big.NewInt(0))
	b.OnSend(func(tx *types.Transaction, method string, args []any) *types.Receipt {
		l := ledgertest.ClosedLog(engineAddr, 1, alice, big.NewInt(5), ledgertest.Wad(1), 0)
		return &types.Receipt{Status: types.ReceiptStatusSuccessful, Logs: []*types.Log{&l}}
	})
	w := newWriter(t, b, ledger.WriterConfig{GasLimitBufferPct: 20, GasPriceBumpPct: 10, ReceiptPoll: time.Millisecond})

	out, err := w.Submit(context.Background(), engineAddr, packClose(t, 1), "close")
	require.NoError(t, err)
	assert.Equal(t, domain.ExecConfirmed, out.Status)
	require.NotNil(t, out.Receipt)

	sent := b.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, uint64(120_000), sent[0].Gas())
	assert.Equal(t, int64(1_100_000_000), sent[0].GasPrice().Int64())
	assert.Equal(t, sent[0].Hash(), out.TxHash)

	ev, ok := ledger.FindClosed(out.Receipt, engineAddr)
	require.True(t, ok)
	assert.Equal(t, int64(5), ev.TotalPnL.Int64())
}

func TestWriterSimulationRevert(t *testing.T) {
	b := ledgertest.New()
	b.Handle("closePosition", func(common.Address, []any) ([]any, error) {
		return nil, ledgertest.CustomError("PositionNotOpen", big.NewInt(1))
	})
	w := newWriter(t, b, ledger.DefaultWriterConfig())

	_, err := w.Submit(context.Background(), engineAddr, packClose(t, 1), "close")
	re, ok := ledger.AsRevert(err)
	require.True(t, ok)
	assert.Equal(t, "PositionNotOpen", re.Revert.Name)
	assert.Empty(t, b.Sent(), "nothing is sent after a failed simulation")
}

func TestWriterRevertAfterSend(t *testing.T) {
	var calls atomic.Int32
	b := ledgertest.New()
	b.Handle("closePosition", func(common.Address, []any) ([]any, error) {
		// simulate + estimate succeed, the post-mortem replay reverts
		if calls.Add(1) <= 2 {
			return []any{big.NewInt(0)}, nil
		}
		return nil, ledgertest.CustomError("SlippageExceeded", big.NewInt(10), big.NewInt(12))
	})
	b.OnSend(func(*types.Transaction, string, []any) *types.Receipt {
		return &types.Receipt{Status: types.ReceiptStatusFailed}
	})
	w := newWriter(t, b, ledger.WriterConfig{ReceiptPoll: time.Millisecond})

	out, err := w.Submit(context.Background(), engineAddr, packClose(t, 1), "close")
	require.NoError(t, err, "post-submission reverts are outcomes, not errors")
	assert.Equal(t, domain.ExecReverted, out.Status)
	require.NotNil(t, out.Revert)
	assert.Equal(t, "SlippageExceeded", out.Revert.Name)
	assert.Contains(t, out.Revert.Message, "expected=10")
}

func TestWriterPendingAfterConfirmTimeout(t *testing.T) {
	b := ledgertest.New()
	b.Return("closePosition", big.NewInt(0))
	w := newWriter(t, b, ledger.WriterConfig{ConfirmTimeout: 30 * time.Millisecond, ReceiptPoll: 5 * time.Millisecond})

	out, err := w.Submit(context.Background(), engineAddr, packClose(t, 1), "close")
	require.NoError(t, err)
	assert.Equal(t, domain.ExecPending, out.Status)
	assert.NotEqual(t, common.Hash{}, out.TxHash)
}

func TestWriterNoSigner(t *testing.T) {
	w := ledger.NewWriter(ledgertest.New(), nil, big.NewInt(1), ledger.DefaultWriterConfig(), discardLogger())
	_, err := w.Submit(context.Background(), engineAddr, nil, "close")
	assert.ErrorIs(t, err, domain.ErrNoSigner)
	assert.Equal(t, common.Address{}, w.Account())
}
