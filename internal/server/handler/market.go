package handler

import (
	"context"
	"log/slog"
	"math/big"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/synthex/internal/domain"
	"github.com/alanyoungcy/synthex/internal/orchestrator"
)

// MarketService is the read side of the orchestrator the market handler
// needs. *orchestrator.Orchestrator satisfies it.
type MarketService interface {
	MarketView(ctx context.Context, slug string) (orchestrator.MarketView, error)
	MarketPositions(ctx context.Context, slug string) ([]domain.Position, error)
	AccountView(ctx context.Context, slug string, user common.Address) (orchestrator.AccountView, error)
	PreviewOpen(ctx context.Context, slug string, side domain.Side, amount *big.Int, leverage int64) (orchestrator.Preview, error)
	PreviewClose(ctx context.Context, slug string, id *big.Int) (orchestrator.Preview, error)
}

// MarketLister lists the catalogue. *metadata.Resolver satisfies it.
type MarketLister interface {
	List(ctx context.Context) ([]domain.Market, error)
}

// HistoryService serves indexed analytics. *history.Index satisfies it.
type HistoryService interface {
	MarketHistory(ctx context.Context, market, interval string, since time.Time) domain.MarketHistory
}

// MarketHandler serves market views, positions, previews and history.
type MarketHandler struct {
	markets MarketService
	catalog MarketLister
	history HistoryService
	logger  *slog.Logger
}

// NewMarketHandler creates a MarketHandler.
func NewMarketHandler(markets MarketService, catalog MarketLister, history HistoryService, logger *slog.Logger) *MarketHandler {
	return &MarketHandler{
		markets: markets,
		catalog: catalog,
		history: history,
		logger:  logHandler(logger, "market"),
	}
}

type listMarketsResponse struct {
	Markets []domain.Market `json:"markets"`
	Total   int             `json:"total"`
}

// ListMarkets returns the market catalogue.
// GET /api/markets
func (h *MarketHandler) ListMarkets(w http.ResponseWriter, r *http.Request) {
	markets, err := h.catalog.List(r.Context())
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list markets failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list markets")
		return
	}
	if markets == nil {
		markets = []domain.Market{}
	}
	writeJSON(w, http.StatusOK, listMarketsResponse{Markets: markets, Total: len(markets)})
}

// GetMarket returns the unified market view.
// GET /api/markets/{slug}
func (h *MarketHandler) GetMarket(w http.ResponseWriter, r *http.Request) {
	view, err := h.markets.MarketView(r.Context(), r.PathValue("slug"))
	if err != nil {
		writeTradeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

type listPositionsResponse struct {
	Positions []domain.Position `json:"positions"`
}

// ListPositions returns a user's account view when ?user= is given, or every
// open position in the market otherwise.
// GET /api/markets/{slug}/positions?user=0x...
func (h *MarketHandler) ListPositions(w http.ResponseWriter, r *http.Request) {
	slug := r.PathValue("slug")

	if raw := r.URL.Query().Get("user"); raw != "" {
		user, err := parseAddress(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "user: "+err.Error())
			return
		}
		view, err := h.markets.AccountView(r.Context(), slug, user)
		if err != nil {
			writeTradeError(w, h.logger, err)
			return
		}
		writeJSON(w, http.StatusOK, view)
		return
	}

	positions, err := h.markets.MarketPositions(r.Context(), slug)
	if err != nil {
		writeTradeError(w, h.logger, err)
		return
	}
	if positions == nil {
		positions = []domain.Position{}
	}
	writeJSON(w, http.StatusOK, listPositionsResponse{Positions: positions})
}

// previewRequest selects an open or a close simulation. Amount is a
// collateral decimal string such as "100.00".
type previewRequest struct {
	Action     string      `json:"action"`
	Side       domain.Side `json:"side"`
	Amount     string      `json:"amount"`
	Leverage   int64       `json:"leverage"`
	PositionID string      `json:"position_id"`
}

// Preview simulates an open or a close without sending anything.
// POST /api/markets/{slug}/preview
func (h *MarketHandler) Preview(w http.ResponseWriter, r *http.Request) {
	slug := r.PathValue("slug")

	var req previewRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	var (
		preview orchestrator.Preview
		err     error
	)
	switch req.Action {
	case "", "open":
		amount, perr := parseAmount(req.Amount)
		if perr != nil {
			writeTradeError(w, h.logger, perr)
			return
		}
		preview, err = h.markets.PreviewOpen(r.Context(), slug, req.Side, amount, req.Leverage)
	case "close":
		id, ok := parsePositionID(req.PositionID)
		if !ok {
			writeError(w, http.StatusBadRequest, "position_id must be a positive integer")
			return
		}
		preview, err = h.markets.PreviewClose(r.Context(), slug, id)
	default:
		writeError(w, http.StatusBadRequest, "action must be open or close")
		return
	}
	if err != nil {
		writeTradeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, preview)
}

// History returns indexed trades, candles and 24h volume. The indexer being
// behind is not an error: the bundle comes back with ready=false.
// GET /api/markets/{slug}/history?interval=1h&window=24h
func (h *MarketHandler) History(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	interval := q.Get("interval")
	if interval == "" {
		interval = "1h"
	}
	window := 24 * time.Hour
	if v := q.Get("window"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			writeError(w, http.StatusBadRequest, "window must be a positive duration")
			return
		}
		window = d
	}

	hist := h.history.MarketHistory(r.Context(), r.PathValue("slug"), interval, time.Now().Add(-window))
	writeJSON(w, http.StatusOK, hist)
}
