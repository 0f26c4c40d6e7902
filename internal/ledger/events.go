package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/alanyoungcy/synthex/internal/domain"
)

// Event names as declared in the engine ABI.
const (
	EventOpened     = "PositionOpened"
	EventClosed     = "PositionClosed"
	EventLiquidated = "PositionLiquidated"
)

// OpenedEvent is a decoded PositionOpened log.
type OpenedEvent struct {
	PositionID *big.Int
	User       common.Address
	Side       domain.Side
	BaseSize   *big.Int
	EntryPrice *big.Int
	Margin     *big.Int
	Block      uint64
	TxHash     common.Hash
}

// ClosedEvent is a decoded PositionClosed log.
type ClosedEvent struct {
	PositionID *big.Int
	User       common.Address
	TotalPnL   *big.Int
	ExitPrice  *big.Int
	Block      uint64
	TxHash     common.Hash
}

// LiquidatedEvent is a decoded PositionLiquidated log.
type LiquidatedEvent struct {
	PositionID       *big.Int
	User             common.Address
	Liquidator       common.Address
	LiquidationPrice *big.Int
	Block            uint64
	TxHash           common.Hash
}

// EventID returns the topic0 of the named engine event.
func EventID(name string) common.Hash {
	return engineABI.Events[name].ID
}

// ScanOpened returns PositionOpened logs emitted by engine in [from, to],
// optionally restricted to one user via the indexed topic.
func (r *Reader) ScanOpened(ctx context.Context, engine common.Address, from, to uint64, user *common.Address) ([]OpenedEvent, error) {
	logs, err := r.filterLogs(ctx, engine, topicsFor(EventOpened, user), from, to)
	if err != nil {
		return nil, err
	}
	out := make([]OpenedEvent, 0, len(logs))
	for _, l := range logs {
		ev, err := ParseOpened(l)
		if err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	return out, nil
}

// ScanClosed returns PositionClosed logs in [from, to].
func (r *Reader) ScanClosed(ctx context.Context, engine common.Address, from, to uint64, user *common.Address) ([]ClosedEvent, error) {
	logs, err := r.filterLogs(ctx, engine, topicsFor(EventClosed, user), from, to)
	if err != nil {
		return nil, err
	}
	out := make([]ClosedEvent, 0, len(logs))
	for _, l := range logs {
		ev, err := ParseClosed(l)
		if err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	return out, nil
}

// ScanLiquidated returns PositionLiquidated logs in [from, to].
func (r *Reader) ScanLiquidated(ctx context.Context, engine common.Address, from, to uint64, user *common.Address) ([]LiquidatedEvent, error) {
	logs, err := r.filterLogs(ctx, engine, topicsFor(EventLiquidated, user), from, to)
	if err != nil {
		return nil, err
	}
	out := make([]LiquidatedEvent, 0, len(logs))
	for _, l := range logs {
		ev, err := ParseLiquidated(l)
		if err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	return out, nil
}

func topicsFor(event string, user *common.Address) [][]common.Hash {
	topics := [][]common.Hash{{EventID(event)}, nil}
	if user != nil {
		topics = append(topics, []common.Hash{common.BytesToHash(user.Bytes())})
	}
	return topics
}

// filterLogs runs eth_getLogs over [from, to]. With a zero chunk size the
// whole range goes out as one request; otherwise it is split into
// consecutive windows of chunkSize blocks.
func (r *Reader) filterLogs(ctx context.Context, addr common.Address, topics [][]common.Hash, from, to uint64) ([]types.Log, error) {
	if from > to {
		return nil, nil
	}
	step := r.chunkSize
	if step == 0 {
		step = to - from + 1
	}

	var out []types.Log
	for start := from; start <= to; start += step {
		end := start + step - 1
		if end > to || end < start {
			end = to
		}
		q := ethereum.FilterQuery{
			FromBlock: new(big.Int).SetUint64(start),
			ToBlock:   new(big.Int).SetUint64(end),
			Addresses: []common.Address{addr},
			Topics:    topics,
		}
		logs, err := r.backend.FilterLogs(ctx, q)
		if err != nil {
			return nil, fmt.Errorf("ledger: filter logs %d-%d: %w", start, end, err)
		}
		for _, l := range logs {
			if !l.Removed {
				out = append(out, l)
			}
		}
		if r.chunkSize > 0 {
			r.logger.Debug("ledger: scanned log window",
				slog.Uint64("from", start),
				slog.Uint64("to", end),
				slog.Int("logs", len(logs)),
			)
		}
		if end == to {
			break
		}
	}
	return out, nil
}

// ParseOpened decodes a PositionOpened log.
func ParseOpened(l types.Log) (OpenedEvent, error) {
	if err := checkTopics(l, EventOpened, 3); err != nil {
		return OpenedEvent{}, err
	}
	var data struct {
		IsLong     bool
		BaseSize   *big.Int
		EntryPrice *big.Int
		Margin     *big.Int
	}
	if err := engineABI.UnpackIntoInterface(&data, EventOpened, l.Data); err != nil {
		return OpenedEvent{}, fmt.Errorf("ledger: unpack %s: %w", EventOpened, err)
	}
	return OpenedEvent{
		PositionID: new(big.Int).SetBytes(l.Topics[1].Bytes()),
		User:       common.BytesToAddress(l.Topics[2].Bytes()),
		Side:       domain.SideFromLong(data.IsLong),
		BaseSize:   data.BaseSize,
		EntryPrice: data.EntryPrice,
		Margin:     data.Margin,
		Block:      l.BlockNumber,
		TxHash:     l.TxHash,
	}, nil
}

// ParseClosed decodes a PositionClosed log.
func ParseClosed(l types.Log) (ClosedEvent, error) {
	if err := checkTopics(l, EventClosed, 3); err != nil {
		return ClosedEvent{}, err
	}
	var data struct {
		TotalPnl  *big.Int
		ExitPrice *big.Int
	}
	if err := engineABI.UnpackIntoInterface(&data, EventClosed, l.Data); err != nil {
		return ClosedEvent{}, fmt.Errorf("ledger: unpack %s: %w", EventClosed, err)
	}
	return ClosedEvent{
		PositionID: new(big.Int).SetBytes(l.Topics[1].Bytes()),
		User:       common.BytesToAddress(l.Topics[2].Bytes()),
		TotalPnL:   data.TotalPnl,
		ExitPrice:  data.ExitPrice,
		Block:      l.BlockNumber,
		TxHash:     l.TxHash,
	}, nil
}

// ParseLiquidated decodes a PositionLiquidated log.
func ParseLiquidated(l types.Log) (LiquidatedEvent, error) {
	if err := checkTopics(l, EventLiquidated, 4); err != nil {
		return LiquidatedEvent{}, err
	}
	var data struct {
		LiquidationPrice *big.Int
	}
	if err := engineABI.UnpackIntoInterface(&data, EventLiquidated, l.Data); err != nil {
		return LiquidatedEvent{}, fmt.Errorf("ledger: unpack %s: %w", EventLiquidated, err)
	}
	return LiquidatedEvent{
		PositionID:       new(big.Int).SetBytes(l.Topics[1].Bytes()),
		User:             common.BytesToAddress(l.Topics[2].Bytes()),
		Liquidator:       common.BytesToAddress(l.Topics[3].Bytes()),
		LiquidationPrice: data.LiquidationPrice,
		Block:            l.BlockNumber,
		TxHash:           l.TxHash,
	}, nil
}

func checkTopics(l types.Log, event string, want int) error {
	if len(l.Topics) != want {
		return fmt.Errorf("ledger: %s log has %d topics, want %d", event, len(l.Topics), want)
	}
	if l.Topics[0] != EventID(event) {
		return fmt.Errorf("ledger: log topic %s is not %s", l.Topics[0].Hex(), event)
	}
	return nil
}

// FindOpened returns the first PositionOpened log emitted by engine in a
// receipt.
func FindOpened(receipt *types.Receipt, engine common.Address) (OpenedEvent, bool) {
	for _, l := range receipt.Logs {
		if l.Address != engine || len(l.Topics) == 0 || l.Topics[0] != EventID(EventOpened) {
			continue
		}
		if ev, err := ParseOpened(*l); err == nil {
			return ev, true
		}
	}
	return OpenedEvent{}, false
}

// FindClosed returns the first PositionClosed log emitted by engine in a
// receipt.
func FindClosed(receipt *types.Receipt, engine common.Address) (ClosedEvent, bool) {
	for _, l := range receipt.Logs {
		if l.Address != engine || len(l.Topics) == 0 || l.Topics[0] != EventID(EventClosed) {
			continue
		}
		if ev, err := ParseClosed(*l); err == nil {
			return ev, true
		}
	}
	return ClosedEvent{}, false
}
