package handler

import (
	"context"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// Check probes one dependency. A nil error means healthy.
type Check func(ctx context.Context) error

// HealthHandler serves the health-check endpoint.
type HealthHandler struct {
	critical map[string]Check
	optional map[string]Check
	timeout  time.Duration
	logger   *slog.Logger
}

// NewHealthHandler creates a HealthHandler. A failing critical check turns
// the response into a 503; optional checks only mark the status degraded.
func NewHealthHandler(critical, optional map[string]Check, logger *slog.Logger) *HealthHandler {
	return &HealthHandler{
		critical: critical,
		optional: optional,
		timeout:  3 * time.Second,
		logger:   logHandler(logger, "health"),
	}
}

type healthResponse struct {
	Status    string            `json:"status"`
	Timestamp string            `json:"timestamp"`
	Checks    map[string]string `json:"checks,omitempty"`
}

// HealthCheck runs every probe concurrently and reports each one.
// GET /api/health
func (h *HealthHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	critFailed, critResults := h.run(ctx, h.critical)
	optFailed, optResults := h.run(ctx, h.optional)

	checks := make(map[string]string, len(critResults)+len(optResults))
	for k, v := range critResults {
		checks[k] = v
	}
	for k, v := range optResults {
		checks[k] = v
	}

	resp := healthResponse{
		Status:    "ok",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Checks:    checks,
	}
	status := http.StatusOK
	switch {
	case len(critFailed) > 0:
		resp.Status = "down"
		status = http.StatusServiceUnavailable
		h.logger.WarnContext(r.Context(), "handler: health check failing",
			slog.Any("failed", critFailed),
		)
	case len(optFailed) > 0:
		resp.Status = "degraded"
	}
	writeJSON(w, status, resp)
}

func (h *HealthHandler) run(ctx context.Context, checks map[string]Check) ([]string, map[string]string) {
	var (
		mu      sync.Mutex
		g       errgroup.Group
		failed  []string
		results = make(map[string]string, len(checks))
	)
	for name, check := range checks {
		g.Go(func() error {
			res := "ok"
			if err := check(ctx); err != nil {
				res = err.Error()
			}
			mu.Lock()
			defer mu.Unlock()
			results[name] = res
			if res != "ok" {
				failed = append(failed, name)
			}
			return nil
		})
	}
	_ = g.Wait()
	sort.Strings(failed)
	return failed, results
}
