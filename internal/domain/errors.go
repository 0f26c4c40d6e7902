package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound       = errors.New("not found")
	ErrAlreadyExists  = errors.New("already exists")
	ErrUnauthorized   = errors.New("unauthorized")
	ErrNoSigner       = errors.New("no signer attached")
	ErrSigningFailed  = errors.New("signing failed")
	ErrUserRejected   = errors.New("user rejected signature")
	ErrIndexNotReady  = errors.New("history index not ready")
	ErrActionInFlight = errors.New("identical action already in flight")
	ErrNoMarket       = errors.New("market context required")
)

// ErrorKind groups trade failures by where they originate.
type ErrorKind string

const (
	KindConnectivity ErrorKind = "connectivity"
	KindPreflight    ErrorKind = "preflight"
	KindCancelled    ErrorKind = "cancelled"
	KindOnchain      ErrorKind = "onchain"
	KindUnavailable  ErrorKind = "unavailable"
)

// Error codes surfaced to callers. Ledger custom errors that have no explicit
// mapping keep their own name as the code.
const (
	CodeNoSigner            = "NO_SIGNER"
	CodeNetwork             = "NETWORK"
	CodeInsufficientBalance = "INSUFFICIENT_BALANCE"
	CodeInvalidLeverage     = "INVALID_LEVERAGE"
	CodeInvalidAmount       = "INVALID_AMOUNT"
	CodePositionNotOpen     = "POSITION_NOT_OPEN"
	CodeNotPositionOwner    = "NOT_POSITION_OWNER"
	CodeMarketNotFound      = "MARKET_NOT_FOUND"
	CodeUnsupported         = "UNSUPPORTED"
	CodeUserCancelled       = "USER_CANCELLED"
	CodeDuplicateAction     = "DUPLICATE_ACTION"
	CodePermitExpired       = "PERMIT_EXPIRED"
	CodeSlippageExceeded    = "SLIPPAGE_EXCEEDED"
	CodeReverted            = "REVERTED"
	CodeSigningFailed       = "SIGNING_FAILED"
	CodeMissingEvent        = "MISSING_EVENT"
)

// TradeError is the only error shape that leaves the orchestrator.
type TradeError struct {
	Kind    ErrorKind `json:"kind"`
	Code    string    `json:"code"`
	Message string    `json:"message"`
	Cause   error     `json:"-"`
}

func (e *TradeError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *TradeError) Unwrap() error { return e.Cause }

// NewTradeError builds a TradeError without a cause.
func NewTradeError(kind ErrorKind, code, msg string) *TradeError {
	return &TradeError{Kind: kind, Code: code, Message: msg}
}

// Preflight is shorthand for a client-side validation failure.
func Preflight(code, msg string) *TradeError {
	return NewTradeError(KindPreflight, code, msg)
}

// AsTradeError extracts a *TradeError from err's chain.
func AsTradeError(err error) (*TradeError, bool) {
	var te *TradeError
	if errors.As(err, &te) {
		return te, true
	}
	return nil, false
}

// HasCode reports whether err carries a TradeError with the given code.
func HasCode(err error, code string) bool {
	te, ok := AsTradeError(err)
	return ok && te.Code == code
}
