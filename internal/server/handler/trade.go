package handler

import (
	"context"
	"log/slog"
	"math/big"
	"net/http"

	"github.com/alanyoungcy/synthex/internal/domain"
	"github.com/alanyoungcy/synthex/internal/orchestrator"
	"github.com/alanyoungcy/synthex/internal/units"
)

// TradeService submits opens and closes. *orchestrator.Orchestrator
// satisfies it.
type TradeService interface {
	Open(ctx context.Context, sess *orchestrator.Session, slug string, intent domain.TradeIntent) (domain.ExecutionResult, error)
	Close(ctx context.Context, sess *orchestrator.Session, slug string, id *big.Int) (domain.ExecutionResult, error)
}

// TradeHandler trades on behalf of the server's configured wallet. Without a
// wallet the session is nil and every trade is rejected with NO_SIGNER.
type TradeHandler struct {
	trades  TradeService
	session *orchestrator.Session
	logger  *slog.Logger
}

// NewTradeHandler creates a TradeHandler. sess may be nil.
func NewTradeHandler(trades TradeService, sess *orchestrator.Session, logger *slog.Logger) *TradeHandler {
	return &TradeHandler{
		trades:  trades,
		session: sess,
		logger:  logHandler(logger, "trade"),
	}
}

// openRequest is the JSON body of an open. Amount is collateral as a decimal
// string ("100.00"); funding_source defaults to auto.
type openRequest struct {
	Side          domain.Side          `json:"side"`
	Amount        string               `json:"amount"`
	Leverage      int64                `json:"leverage"`
	FundingSource domain.FundingSource `json:"funding_source"`
}

// Open opens a leveraged position.
// POST /api/markets/{slug}/open
func (h *TradeHandler) Open(w http.ResponseWriter, r *http.Request) {
	var req openRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		writeTradeError(w, h.logger, err)
		return
	}
	if req.FundingSource == "" {
		req.FundingSource = domain.FundingAuto
	}

	res, err := h.trades.Open(r.Context(), h.session, r.PathValue("slug"), domain.TradeIntent{
		Side:          req.Side,
		Amount:        amount,
		Leverage:      req.Leverage,
		FundingSource: req.FundingSource,
	})
	h.respond(w, res, err)
}

// Close closes one of the wallet's positions.
// POST /api/markets/{slug}/positions/{id}/close
func (h *TradeHandler) Close(w http.ResponseWriter, r *http.Request) {
	id, ok := parsePositionID(r.PathValue("id"))
	if !ok {
		writeError(w, http.StatusBadRequest, "position id must be a positive integer")
		return
	}
	res, err := h.trades.Close(r.Context(), h.session, r.PathValue("slug"), id)
	h.respond(w, res, err)
}

// respond writes the TradeError for rejected actions and the full result for
// anything that reached the ledger.
func (h *TradeHandler) respond(w http.ResponseWriter, res domain.ExecutionResult, err error) {
	if err != nil {
		writeTradeError(w, h.logger, err)
		return
	}
	writeJSON(w, resultStatus(res), res)
}

// parseAmount reads a collateral amount, reporting failures as INVALID_AMOUNT.
func parseAmount(s string) (*big.Int, error) {
	amount, err := units.ParseCollateral(s)
	if err != nil {
		return nil, domain.Preflight(domain.CodeInvalidAmount, err.Error())
	}
	return amount, nil
}
