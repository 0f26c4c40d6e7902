package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"math/big"
	"net/http"
	"strconv"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/synthex/internal/domain"
)

// writeJSON marshals v as JSON and writes it to the response with the given
// HTTP status code. If marshaling fails, it falls back to a plain-text 500.
func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	w.Write(data)
}

// writeError sends a JSON-formatted error response.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeTradeError maps an orchestrator error onto an HTTP status and writes
// the TradeError as the body. Anything that is not a TradeError is a 500.
func writeTradeError(w http.ResponseWriter, logger *slog.Logger, err error) {
	te, ok := domain.AsTradeError(err)
	if !ok {
		logger.Error("handler: unexpected error", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	writeJSON(w, tradeErrorStatus(te), map[string]any{"error": te})
}

func tradeErrorStatus(te *domain.TradeError) int {
	switch te.Code {
	case domain.CodeMarketNotFound:
		return http.StatusNotFound
	case domain.CodeDuplicateAction:
		return http.StatusConflict
	case domain.CodeNoSigner:
		return http.StatusForbidden
	}
	switch te.Kind {
	case domain.KindPreflight:
		return http.StatusBadRequest
	case domain.KindCancelled:
		return http.StatusConflict
	case domain.KindOnchain:
		return http.StatusUnprocessableEntity
	case domain.KindConnectivity, domain.KindUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// resultStatus picks the HTTP status for an execution result that came back
// without a Go error: 200 when mined and found, 202 while pending, 422 for
// a mined revert or a receipt without the expected event.
func resultStatus(res domain.ExecutionResult) int {
	switch {
	case res.Succeeded():
		return http.StatusOK
	case res.Status == domain.ExecPending:
		return http.StatusAccepted
	default:
		return http.StatusUnprocessableEntity
	}
}

// parseListOpts extracts standard pagination parameters from the query string.
// Defaults: limit=50 (max 500), offset=0.
func parseListOpts(r *http.Request) domain.ListOpts {
	q := r.URL.Query()

	limit := 50
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	if limit > 500 {
		limit = 500
	}

	offset := 0
	if v := q.Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}

	return domain.ListOpts{
		Limit:  limit,
		Offset: offset,
	}
}

var errBadAddress = errors.New("not a hex address")

// parseAddress reads a 0x-prefixed account address.
func parseAddress(s string) (common.Address, error) {
	if !common.IsHexAddress(s) {
		return common.Address{}, errBadAddress
	}
	return common.HexToAddress(s), nil
}

// parsePositionID reads a positive decimal position id.
func parsePositionID(s string) (*big.Int, bool) {
	id, ok := new(big.Int).SetString(s, 10)
	if !ok || id.Sign() <= 0 {
		return nil, false
	}
	return id, true
}

// decodeBody decodes a JSON request body into v, rejecting unknown fields.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

// logHandler is a convenience to attach slog fields in handler code.
func logHandler(logger *slog.Logger, handler string) *slog.Logger {
	return logger.With(slog.String("handler", handler))
}
