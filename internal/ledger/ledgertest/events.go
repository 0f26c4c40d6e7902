package ledgertest

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/alanyoungcy/synthex/internal/ledger"
)

func idTopic(id *big.Int) common.Hash { return common.BigToHash(id) }

func addrTopic(a common.Address) common.Hash { return common.BytesToHash(a.Bytes()) }

func packData(event string, vals ...any) []byte {
	ev := ledger.EngineABI().Events[event]
	data, err := ev.Inputs.NonIndexed().Pack(vals...)
	if err != nil {
		panic("ledgertest: pack " + event + ": " + err.Error())
	}
	return data
}

// OpenedLog builds a PositionOpened log emitted by engine.
func OpenedLog(engine common.Address, id int64, user common.Address, isLong bool, baseSize, entryPrice, margin *big.Int, block uint64) types.Log {
	return types.Log{
		Address:     engine,
		Topics:      []common.Hash{ledger.EventID(ledger.EventOpened), idTopic(big.NewInt(id)), addrTopic(user)},
		Data:        packData(ledger.EventOpened, isLong, baseSize, entryPrice, margin),
		BlockNumber: block,
	}
}

// ClosedLog builds a PositionClosed log emitted by engine.
func ClosedLog(engine common.Address, id int64, user common.Address, pnl, exitPrice *big.Int, block uint64) types.Log {
	return types.Log{
		Address:     engine,
		Topics:      []common.Hash{ledger.EventID(ledger.EventClosed), idTopic(big.NewInt(id)), addrTopic(user)},
		Data:        packData(ledger.EventClosed, pnl, exitPrice),
		BlockNumber: block,
	}
}

// LiquidatedLog builds a PositionLiquidated log emitted by engine.
func LiquidatedLog(engine common.Address, id int64, user, liquidator common.Address, price *big.Int, block uint64) types.Log {
	return types.Log{
		Address: engine,
		Topics: []common.Hash{
			ledger.EventID(ledger.EventLiquidated),
			idTopic(big.NewInt(id)),
			addrTopic(user),
			addrTopic(liquidator),
		},
		Data:        packData(ledger.EventLiquidated, price),
		BlockNumber: block,
	}
}

// PositionRecord returns getPosition outputs in ABI order.
func PositionRecord(id int64, user common.Address, isLong bool, baseSize, entryPrice, entryNotional, margin *big.Int, status uint8) []any {
	return []any{
		big.NewInt(id), user, isLong, baseSize, entryPrice, entryNotional, margin,
		big.NewInt(0), big.NewInt(1), status, big.NewInt(0),
	}
}

// Wad returns n * 1e18.
func Wad(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil))
}

// Micro returns n * 1e6.
func Micro(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), big.NewInt(1_000_000))
}
