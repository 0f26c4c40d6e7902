package orchestrator

import (
	"fmt"
	"math/big"

	"github.com/alanyoungcy/synthex/internal/domain"
	"github.com/alanyoungcy/synthex/internal/units"
)

// FundingFacts are the balances read immediately before path selection. All
// amounts are in collateral units.
type FundingFacts struct {
	Amount    *big.Int
	Internal  *big.Int
	Wallet    *big.Int
	Allowance *big.Int
	Source    domain.FundingSource
}

// ExecutionPath is one of DirectPath, AllowancePath or PermitPath. It is
// chosen exactly once per open by SelectPath.
type ExecutionPath interface {
	Kind() domain.PathKind
	// Total is the collateral committed to the position.
	Total() *big.Int
	isPath()
}

// DirectPath opens from the engine's internal balance alone.
type DirectPath struct {
	Amount *big.Int
}

// AllowancePath deposits Deposit from the wallet under an existing approval
// and opens in the same transaction.
type AllowancePath struct {
	Deposit *big.Int
	Amount  *big.Int
}

// PermitPath is AllowancePath with a freshly signed EIP-2612 permit.
type PermitPath struct {
	Deposit *big.Int
	Amount  *big.Int
}

func (DirectPath) Kind() domain.PathKind    { return domain.PathDirect }
func (AllowancePath) Kind() domain.PathKind { return domain.PathAllowance }
func (PermitPath) Kind() domain.PathKind    { return domain.PathPermit }

func (p DirectPath) Total() *big.Int    { return p.Amount }
func (p AllowancePath) Total() *big.Int { return p.Amount }
func (p PermitPath) Total() *big.Int    { return p.Amount }

func (DirectPath) isPath()    {}
func (AllowancePath) isPath() {}
func (PermitPath) isPath()    {}

// SelectPath picks the execution path for f. Failures are preflight
// TradeErrors.
//
// auto: internal ≥ amount → direct; else the shortfall comes from the wallet,
// under the existing allowance when it covers the shortfall, otherwise under
// a permit. internal: direct only. wallet: the whole amount is deposited.
func SelectPath(f FundingFacts) (ExecutionPath, error) {
	if f.Amount == nil || f.Amount.Sign() <= 0 {
		return nil, domain.Preflight(domain.CodeInvalidAmount, "amount must be positive")
	}
	internal := orZero(f.Internal)
	wallet := orZero(f.Wallet)
	allowance := orZero(f.Allowance)

	source := f.Source
	if source == "" {
		source = domain.FundingAuto
	}

	var deposit *big.Int
	switch source {
	case domain.FundingInternal:
		if internal.Cmp(f.Amount) < 0 {
			return nil, insufficient(f.Amount, internal, "internal balance")
		}
		return DirectPath{Amount: new(big.Int).Set(f.Amount)}, nil
	case domain.FundingWallet:
		deposit = new(big.Int).Set(f.Amount)
	case domain.FundingAuto:
		if internal.Cmp(f.Amount) >= 0 {
			return DirectPath{Amount: new(big.Int).Set(f.Amount)}, nil
		}
		deposit = new(big.Int).Sub(f.Amount, internal)
	default:
		return nil, domain.Preflight(domain.CodeUnsupported, fmt.Sprintf("unknown funding source %q", source))
	}

	if wallet.Cmp(deposit) < 0 {
		have := wallet
		if source == domain.FundingAuto {
			have = new(big.Int).Add(internal, wallet)
		}
		return nil, insufficient(f.Amount, have, "available funds")
	}
	if allowance.Cmp(deposit) >= 0 {
		return AllowancePath{Deposit: deposit, Amount: new(big.Int).Set(f.Amount)}, nil
	}
	return PermitPath{Deposit: deposit, Amount: new(big.Int).Set(f.Amount)}, nil
}

func insufficient(need, have *big.Int, what string) *domain.TradeError {
	return domain.Preflight(domain.CodeInsufficientBalance, fmt.Sprintf(
		"%s %s is below the requested %s",
		what, units.FormatCollateral(have), units.FormatCollateral(need),
	))
}

func orZero(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return v
}
