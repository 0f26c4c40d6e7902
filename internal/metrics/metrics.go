// Package metrics provides Prometheus instrumentation for synthex.
package metrics

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/synthex/internal/domain"
	"github.com/alanyoungcy/synthex/internal/units"
)

var (
	// ExecutionsTotal counts opens and closes by outcome.
	ExecutionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "synthex_executions_total",
		Help: "Open and close actions by action, path, status and error code",
	}, []string{"action", "path", "status", "code"})

	// GasUsed tracks gas consumed by mined transactions.
	GasUsed = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "synthex_gas_used",
		Help:    "Gas used by mined open/close transactions",
		Buckets: prometheus.ExponentialBuckets(50_000, 1.5, 10),
	}, []string{"action"})

	// MarkPrice is the last polled mark price per market.
	MarkPrice = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "synthex_mark_price",
		Help: "Last polled vAMM mark price",
	}, []string{"market"})

	// OpenInterest is the last polled open interest per market and side.
	OpenInterest = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "synthex_open_interest",
		Help: "Last polled open interest in base units",
	}, []string{"market", "side"})

	// SnapshotBlock is the block of the last accepted snapshot per market.
	SnapshotBlock = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "synthex_snapshot_block",
		Help: "Ledger block of the last accepted market snapshot",
	}, []string{"market"})

	// RiskAlerts counts positions entering the high-risk bucket.
	RiskAlerts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "synthex_risk_alerts_total",
		Help: "Positions that entered the high liquidation-risk bucket",
	}, []string{"market"})

	// BusDropped counts snapshots a slow bus subscriber never saw.
	BusDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "synthex_bus_dropped_total",
		Help: "Snapshots dropped because a bus subscriber fell behind",
	}, []string{"channel"})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "synthex_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "synthex_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "synthex_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 5.0},
	}, []string{"method", "path"})
)

// ObserveExecution records one orchestrator result.
func ObserveExecution(res domain.ExecutionResult) {
	code := ""
	if res.Error != nil {
		code = res.Error.Code
	}
	ExecutionsTotal.WithLabelValues(res.Action, string(res.Path), string(res.Status), code).Inc()
	if res.GasUsed > 0 {
		GasUsed.WithLabelValues(res.Action).Observe(float64(res.GasUsed))
	}
}

// ObserveState records one accepted market snapshot.
func ObserveState(st domain.MarketState) {
	MarkPrice.WithLabelValues(st.Slug).Set(toFloat(units.Wad(st.MarkPrice)))
	OpenInterest.WithLabelValues(st.Slug, string(domain.SideLong)).Set(toFloat(units.Wad(st.LongOI)))
	OpenInterest.WithLabelValues(st.Slug, string(domain.SideShort)).Set(toFloat(units.Wad(st.ShortOI)))
	SnapshotBlock.WithLabelValues(st.Slug).Set(float64(st.Block))
}

// toFloat is for gauges only; nothing reads the value back.
func toFloat(d decimal.Decimal) float64 {
	f, _ := d.Float64()
	return f
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware returns an HTTP middleware that records request metrics. The
// route pattern is used as the path label to bound cardinality.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(wrapped, r)

		path := r.Pattern
		if path == "" {
			path = "unmatched"
		}
		HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.status)).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// Hijack lets WebSocket upgrades pass through the middleware.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("metrics: response writer does not support hijacking")
	}
	w.status = http.StatusSwitchingProtocols
	return h.Hijack()
}
