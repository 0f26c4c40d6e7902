package domain

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// FundingSource is the caller's hint about where collateral comes from.
type FundingSource string

const (
	// FundingAuto lets the orchestrator pick the cheapest safe path.
	FundingAuto FundingSource = "auto"
	// FundingInternal requires the engine's internal balance to cover the amount.
	FundingInternal FundingSource = "internal"
	// FundingWallet deposits the full amount from the wallet.
	FundingWallet FundingSource = "wallet"
)

// TradeIntent is a request to open a leveraged position. Amount is in
// collateral units (6 decimals).
type TradeIntent struct {
	Side          Side          `json:"side"`
	Amount        *big.Int      `json:"amount"`
	Leverage      int64         `json:"leverage"`
	FundingSource FundingSource `json:"funding_source"`
}

// PathKind tags the execution path chosen for an open.
type PathKind string

const (
	PathDirect    PathKind = "direct"
	PathAllowance PathKind = "allowance"
	PathPermit    PathKind = "permit"
)

// ExecutionStatus is the terminal state of a submitted action.
type ExecutionStatus string

const (
	ExecConfirmed ExecutionStatus = "confirmed"
	ExecReverted  ExecutionStatus = "reverted"
	ExecCancelled ExecutionStatus = "cancelled"
	ExecPending   ExecutionStatus = "pending"
	ExecRejected  ExecutionStatus = "rejected"
)

// ExecutionResult is what the orchestrator returns for an open or close.
type ExecutionResult struct {
	ID          string          `json:"id"`
	Action      string          `json:"action"`
	Market      string          `json:"market"`
	User        common.Address  `json:"user"`
	Path        PathKind        `json:"path,omitempty"`
	TxHash      common.Hash     `json:"tx_hash"`
	PositionID  *big.Int        `json:"position_id,omitempty"`
	RealizedPnL *big.Int        `json:"realized_pnl,omitempty"`
	Status      ExecutionStatus `json:"status"`
	Error       *TradeError     `json:"error,omitempty"`
	Block       uint64          `json:"block,omitempty"`
	GasUsed     uint64          `json:"gas_used,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
}

// Succeeded reports whether the action was confirmed on the ledger and the
// expected event was found in its receipt.
func (r ExecutionResult) Succeeded() bool { return r.Status == ExecConfirmed && r.Error == nil }

// PermitSignature is an EIP-2612 approval bound to one
// owner/spender/value/nonce/chain tuple.
type PermitSignature struct {
	Token    common.Address `json:"token"`
	Owner    common.Address `json:"owner"`
	Spender  common.Address `json:"spender"`
	Value    *big.Int       `json:"value"`
	Nonce    *big.Int       `json:"nonce"`
	Deadline *big.Int       `json:"deadline"`
	ChainID  *big.Int       `json:"chain_id"`
	V        uint8          `json:"v"`
	R        [32]byte       `json:"r"`
	S        [32]byte       `json:"s"`
}

// Quote is the ledger's own simulation of a vAMM trade (18 decimals).
type Quote struct {
	BaseAmount *big.Int `json:"base_amount"`
	AvgPrice   *big.Int `json:"avg_price"`
}
