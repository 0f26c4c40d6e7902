package metrics

import (
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"github.com/alanyoungcy/synthex/internal/domain"
)

func TestObserveExecution(t *testing.T) {
	res := domain.ExecutionResult{
		Action:  "open",
		Path:    domain.PathPermit,
		Status:  domain.ExecReverted,
		Error:   domain.NewTradeError(domain.KindOnchain, domain.CodeSlippageExceeded, "slipped"),
		GasUsed: 120_000,
	}
	before := testutil.ToFloat64(ExecutionsTotal.WithLabelValues("open", "permit", "reverted", "SLIPPAGE_EXCEEDED"))
	ObserveExecution(res)
	after := testutil.ToFloat64(ExecutionsTotal.WithLabelValues("open", "permit", "reverted", "SLIPPAGE_EXCEEDED"))
	assert.Equal(t, before+1, after)
}

func TestObserveState(t *testing.T) {
	wad := new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)
	ObserveState(domain.MarketState{
		Slug:      "aapl",
		MarkPrice: new(big.Int).Mul(big.NewInt(187), wad),
		LongOI:    new(big.Int).Mul(big.NewInt(3), wad),
		ShortOI:   new(big.Int),
		Block:     42,
	})
	assert.Equal(t, 187.0, testutil.ToFloat64(MarkPrice.WithLabelValues("aapl")))
	assert.Equal(t, 3.0, testutil.ToFloat64(OpenInterest.WithLabelValues("aapl", "long")))
	assert.Equal(t, 42.0, testutil.ToFloat64(SnapshotBlock.WithLabelValues("aapl")))
}

func TestMiddlewareUsesRoutePattern(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/markets/{slug}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})
	h := Middleware(mux)

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/markets/aapl", nil))
	assert.Equal(t, 1.0, testutil.ToFloat64(
		HTTPRequestsTotal.WithLabelValues("GET", "GET /api/markets/{slug}", "418")))
}
