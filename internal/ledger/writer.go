package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/alanyoungcy/synthex/internal/crypto"
	"github.com/alanyoungcy/synthex/internal/domain"
)

// WriterConfig tunes the submission pipeline.
type WriterConfig struct {
	// GasLimitBufferPct is added on top of the node's gas estimate.
	GasLimitBufferPct int64
	// GasPriceBumpPct is added on top of the suggested gas price.
	GasPriceBumpPct int64
	// ConfirmTimeout bounds the receipt wait. Zero waits until ctx is done.
	ConfirmTimeout time.Duration
	// ReceiptPoll is the interval between receipt lookups.
	ReceiptPoll time.Duration
}

// DefaultWriterConfig mirrors the buffers used by the venue's own frontend.
func DefaultWriterConfig() WriterConfig {
	return WriterConfig{
		GasLimitBufferPct: 20,
		GasPriceBumpPct:   10,
		ReceiptPoll:       2 * time.Second,
	}
}

// Outcome is the result of a submitted transaction. Status is confirmed,
// reverted or pending (confirmation budget exhausted).
type Outcome struct {
	TxHash  common.Hash
	Status  domain.ExecutionStatus
	Receipt *types.Receipt
	Revert  *Revert
}

// Writer drives simulate→sign→submit→confirm for one signing account.
type Writer struct {
	backend Backend
	signer  crypto.TxSigner
	chainID *big.Int
	cfg     WriterConfig
	logger  *slog.Logger
}

// NewWriter creates a Writer. A nil signer is allowed; every Submit then
// fails with domain.ErrNoSigner.
func NewWriter(backend Backend, signer crypto.TxSigner, chainID *big.Int, cfg WriterConfig, logger *slog.Logger) *Writer {
	if cfg.ReceiptPoll <= 0 {
		cfg.ReceiptPoll = 2 * time.Second
	}
	return &Writer{
		backend: backend,
		signer:  signer,
		chainID: chainID,
		cfg:     cfg,
		logger:  logger.With(slog.String("component", "ledger_writer")),
	}
}

// Account returns the signing account, or the zero address without a signer.
func (w *Writer) Account() common.Address {
	if w.signer == nil {
		return common.Address{}
	}
	return w.signer.Address()
}

// Submit simulates calldata against to, then signs, sends and waits for the
// receipt. Errors before the transaction is sent (including simulation
// reverts, returned as *RevertError) come back as errors; once sent, a revert
// is reported in Outcome.Status and never as an error.
func (w *Writer) Submit(ctx context.Context, to common.Address, data []byte, label string) (Outcome, error) {
	if w.signer == nil {
		return Outcome{}, domain.ErrNoSigner
	}
	from := w.signer.Address()
	msg := ethereum.CallMsg{From: from, To: &to, Data: data}

	if _, err := w.backend.CallContract(ctx, msg, nil); err != nil {
		if re, ok := AsRevert(err); ok {
			return Outcome{}, re
		}
		return Outcome{}, fmt.Errorf("ledger: simulate %s: %w", label, err)
	}

	gasLimit, err := w.backend.EstimateGas(ctx, msg)
	if err != nil {
		if re, ok := AsRevert(err); ok {
			return Outcome{}, re
		}
		return Outcome{}, fmt.Errorf("ledger: estimate gas %s: %w", label, err)
	}
	gasLimit = gasLimit * uint64(100+w.cfg.GasLimitBufferPct) / 100

	nonce, err := w.backend.PendingNonceAt(ctx, from)
	if err != nil {
		return Outcome{}, fmt.Errorf("ledger: nonce: %w", err)
	}
	gasPrice, err := w.backend.SuggestGasPrice(ctx)
	if err != nil {
		return Outcome{}, fmt.Errorf("ledger: gas price: %w", err)
	}
	if w.cfg.GasPriceBumpPct > 0 {
		gasPrice = new(big.Int).Div(
			new(big.Int).Mul(gasPrice, big.NewInt(100+w.cfg.GasPriceBumpPct)),
			big.NewInt(100),
		)
	}

	tx := types.NewTransaction(nonce, to, big.NewInt(0), gasLimit, gasPrice, data)
	signed, err := w.signer.SignTx(ctx, tx, w.chainID)
	if err != nil {
		return Outcome{}, err
	}
	if err := w.backend.SendTransaction(ctx, signed); err != nil {
		if re, ok := AsRevert(err); ok {
			return Outcome{}, re
		}
		return Outcome{}, fmt.Errorf("ledger: send %s: %w", label, err)
	}

	hash := signed.Hash()
	w.logger.Info("ledger: transaction sent",
		slog.String("action", label),
		slog.String("tx", hash.Hex()),
		slog.Uint64("nonce", nonce),
		slog.Uint64("gas_limit", gasLimit),
	)

	receipt, err := w.waitForReceipt(ctx, hash)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			w.logger.Warn("ledger: confirmation budget exhausted, transaction still pending",
				slog.String("action", label),
				slog.String("tx", hash.Hex()),
			)
			return Outcome{TxHash: hash, Status: domain.ExecPending}, nil
		}
		return Outcome{TxHash: hash, Status: domain.ExecPending}, fmt.Errorf("ledger: wait receipt %s: %w", hash.Hex(), err)
	}

	if receipt.Status != types.ReceiptStatusSuccessful {
		rev := w.replayRevert(ctx, msg, receipt.BlockNumber)
		w.logger.Warn("ledger: transaction reverted",
			slog.String("action", label),
			slog.String("tx", hash.Hex()),
			slog.String("reason", rev.Message),
		)
		return Outcome{TxHash: hash, Status: domain.ExecReverted, Receipt: receipt, Revert: &rev}, nil
	}

	w.logger.Info("ledger: transaction confirmed",
		slog.String("action", label),
		slog.String("tx", hash.Hex()),
		slog.Uint64("gas_used", receipt.GasUsed),
	)
	return Outcome{TxHash: hash, Status: domain.ExecConfirmed, Receipt: receipt}, nil
}

// waitForReceipt polls until the receipt is available. With a confirm timeout
// configured, the wait is bounded by it.
func (w *Writer) waitForReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	if w.cfg.ConfirmTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, w.cfg.ConfirmTimeout)
		defer cancel()
	}

	ticker := time.NewTicker(w.cfg.ReceiptPoll)
	defer ticker.Stop()
	for {
		receipt, err := w.backend.TransactionReceipt(ctx, hash)
		if err == nil && receipt != nil {
			return receipt, nil
		}
		if err != nil && !errors.Is(err, ethereum.NotFound) {
			w.logger.Debug("ledger: receipt lookup failed",
				slog.String("tx", hash.Hex()),
				slog.String("error", err.Error()),
			)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// replayRevert re-executes the call at the block that mined the failed
// transaction to recover its revert reason.
func (w *Writer) replayRevert(ctx context.Context, msg ethereum.CallMsg, block *big.Int) Revert {
	_, err := w.backend.CallContract(ctx, msg, block)
	if err == nil {
		return Revert{Message: "transaction reverted"}
	}
	if re, ok := AsRevert(err); ok {
		if re.Revert.Message == "" {
			re.Revert.Message = "transaction reverted"
		}
		return re.Revert
	}
	return Revert{Message: err.Error()}
}
