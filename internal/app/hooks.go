package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/alanyoungcy/synthex/internal/domain"
	"github.com/alanyoungcy/synthex/internal/metrics"
	"github.com/alanyoungcy/synthex/internal/orchestrator"
)

// executionSinks are the optional destinations of every execution result.
type executionSinks struct {
	store    domain.ExecutionStore
	journal  domain.Journal
	audit    domain.AuditStore
	notifier interface {
		Execution(ctx context.Context, res domain.ExecutionResult) error
	}
}

func sinksFrom(deps *Dependencies) executionSinks {
	s := executionSinks{
		store:   deps.ExecutionStore,
		journal: deps.Journal,
		audit:   deps.AuditStore,
	}
	if deps.Notifier.Enabled() {
		s.notifier = deps.Notifier
	}
	return s
}

// executionHook journals, archives, audits, notifies and counts one result.
// Sink failures are logged; none of them affects the trade outcome.
func executionHook(sinks executionSinks, logger *slog.Logger) func(context.Context, domain.ExecutionResult) {
	return func(ctx context.Context, res domain.ExecutionResult) {
		metrics.ObserveExecution(res)

		warn := func(sink string, err error) {
			logger.WarnContext(ctx, "app: execution sink failed",
				slog.String("sink", sink),
				slog.String("id", res.ID),
				slog.String("error", err.Error()),
			)
		}
		if sinks.store != nil {
			if err := sinks.store.Record(ctx, res); err != nil {
				warn("postgres", err)
			}
		}
		if sinks.journal != nil {
			if err := sinks.journal.ArchiveExecution(ctx, res); err != nil {
				warn("s3", err)
			}
		}
		if sinks.audit != nil {
			detail := map[string]any{
				"id":     res.ID,
				"market": res.Market,
				"user":   strings.ToLower(res.User.Hex()),
				"status": string(res.Status),
				"tx":     res.TxHash.Hex(),
			}
			if res.Error != nil {
				detail["code"] = res.Error.Code
			}
			if err := sinks.audit.Log(ctx, "execution."+res.Action, detail); err != nil {
				warn("audit", err)
			}
		}
		if sinks.notifier != nil {
			if err := sinks.notifier.Execution(ctx, res); err != nil {
				warn("notify", err)
			}
		}
	}
}

// riskNotifier is the notify.Notifier method the risk hook uses.
type riskNotifier interface {
	LiquidationRisk(ctx context.Context, market string, positionID fmt.Stringer, distance, mark, liquidation string) error
}

// riskHook counts and announces positions entering the high-risk bucket.
func riskHook(notifier riskNotifier, logger *slog.Logger) func(context.Context, orchestrator.RiskAlert) {
	return func(ctx context.Context, alert orchestrator.RiskAlert) {
		metrics.RiskAlerts.WithLabelValues(alert.Market).Inc()
		logger.WarnContext(ctx, "app: position at liquidation risk",
			slog.String("market", alert.Market),
			slog.String("position", alert.Position.ID.String()),
			slog.String("distance_pct", alert.Assessment.DistancePct.StringFixed(2)),
		)
		if notifier == nil {
			return
		}
		a := alert.Assessment
		if err := notifier.LiquidationRisk(ctx, alert.Market, alert.Position.ID,
			a.DistancePct.StringFixed(2), a.Mark.StringFixed(4), a.LiquidationPrice.StringFixed(4)); err != nil {
			logger.WarnContext(ctx, "app: risk notification failed", slog.String("error", err.Error()))
		}
	}
}

// registerHooks attaches the execution and risk hooks to the orchestrator.
func registerHooks(deps *Dependencies, logger *slog.Logger) {
	deps.Orchestrator.OnExecution(executionHook(sinksFrom(deps), logger))
	var rn riskNotifier
	if deps.Notifier.Enabled() {
		rn = deps.Notifier
	}
	deps.Orchestrator.OnRiskAlert(riskHook(rn, logger))
}
