package notify

import (
	"context"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/synthex/internal/domain"
	"github.com/alanyoungcy/synthex/internal/units"
)

// ExecutionEvent classifies a result into one of the event names.
func ExecutionEvent(res domain.ExecutionResult) string {
	switch {
	case !res.Succeeded():
		return EventExecutionFailed
	case res.Action == "close":
		return EventPositionClosed
	default:
		return EventPositionOpened
	}
}

// FormatExecution renders a result as a title and body.
func FormatExecution(res domain.ExecutionResult) (string, string) {
	var title string
	switch ExecutionEvent(res) {
	case EventPositionOpened:
		title = fmt.Sprintf("Opened position %s on %s", res.PositionID, res.Market)
	case EventPositionClosed:
		title = fmt.Sprintf("Closed position %s on %s", res.PositionID, res.Market)
	default:
		title = fmt.Sprintf("%s on %s: %s", res.Action, res.Market, res.Status)
	}

	lines := []string{"user: " + res.User.Hex()}
	if res.Path != "" {
		lines = append(lines, "path: "+string(res.Path))
	}
	if res.RealizedPnL != nil {
		lines = append(lines, "pnl: "+units.FormatCollateral(res.RealizedPnL))
	}
	if res.TxHash != (common.Hash{}) {
		lines = append(lines, "tx: "+res.TxHash.Hex())
	}
	if res.Error != nil {
		lines = append(lines, fmt.Sprintf("error: %s (%s)", res.Error.Code, res.Error.Message))
	}
	return title, strings.Join(lines, "\n")
}

// Execution notifies about one orchestrator result.
func (n *Notifier) Execution(ctx context.Context, res domain.ExecutionResult) error {
	title, body := FormatExecution(res)
	return n.Notify(ctx, ExecutionEvent(res), title, body)
}

// LiquidationRisk notifies that a position is close to its liquidation price.
// distance is in percent, mark and liquidation in display units.
func (n *Notifier) LiquidationRisk(ctx context.Context, market string, positionID fmt.Stringer, distance, mark, liquidation string) error {
	title := fmt.Sprintf("Position %s on %s near liquidation", positionID, market)
	body := fmt.Sprintf("distance: %s%%\nmark: %s\nliquidation: %s", distance, mark, liquidation)
	return n.Notify(ctx, EventLiquidationRisk, title, body)
}
