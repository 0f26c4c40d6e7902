package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/alanyoungcy/synthex/internal/domain"
)

// ExecutionLister reads the execution journal. *postgres.ExecutionStore
// satisfies it.
type ExecutionLister interface {
	ListByUser(ctx context.Context, user string, opts domain.ListOpts) ([]domain.ExecutionResult, error)
}

// ExecutionHandler serves the execution journal.
type ExecutionHandler struct {
	executions ExecutionLister
	logger     *slog.Logger
}

// NewExecutionHandler creates an ExecutionHandler. executions may be nil when
// no database is configured; the endpoint then answers 503.
func NewExecutionHandler(executions ExecutionLister, logger *slog.Logger) *ExecutionHandler {
	return &ExecutionHandler{
		executions: executions,
		logger:     logHandler(logger, "execution"),
	}
}

type listExecutionsResponse struct {
	Executions []domain.ExecutionResult `json:"executions"`
	Limit      int                      `json:"limit"`
	Offset     int                      `json:"offset"`
}

// ListExecutions returns a user's journaled opens and closes, newest first.
// GET /api/executions?user=0x...&limit=50&offset=0
func (h *ExecutionHandler) ListExecutions(w http.ResponseWriter, r *http.Request) {
	if h.executions == nil {
		writeError(w, http.StatusServiceUnavailable, "execution journal not configured")
		return
	}
	user, err := parseAddress(r.URL.Query().Get("user"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "user: "+err.Error())
		return
	}
	opts := parseListOpts(r)

	execs, err := h.executions.ListByUser(r.Context(), strings.ToLower(user.Hex()), opts)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list executions failed",
			slog.String("user", user.Hex()),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list executions")
		return
	}
	if execs == nil {
		execs = []domain.ExecutionResult{}
	}
	writeJSON(w, http.StatusOK, listExecutionsResponse{Executions: execs, Limit: opts.Limit, Offset: opts.Offset})
}
