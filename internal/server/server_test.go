package server

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/synthex/internal/domain"
	"github.com/alanyoungcy/synthex/internal/orchestrator"
	"github.com/alanyoungcy/synthex/internal/server/handler"
	"github.com/alanyoungcy/synthex/internal/server/middleware"
	"github.com/alanyoungcy/synthex/internal/server/ws"
)

type stubOrchestrator struct{}

func (stubOrchestrator) MarketView(_ context.Context, slug string) (orchestrator.MarketView, error) {
	return orchestrator.MarketView{Market: domain.Market{MarketMetadata: domain.MarketMetadata{Slug: slug}}}, nil
}

func (stubOrchestrator) MarketPositions(context.Context, string) ([]domain.Position, error) {
	return nil, nil
}

func (stubOrchestrator) AccountView(_ context.Context, slug string, user common.Address) (orchestrator.AccountView, error) {
	return orchestrator.AccountView{Market: slug, User: user}, nil
}

func (stubOrchestrator) PreviewOpen(_ context.Context, slug string, _ domain.Side, _ *big.Int, _ int64) (orchestrator.Preview, error) {
	return orchestrator.Preview{Market: slug}, nil
}

func (stubOrchestrator) PreviewClose(_ context.Context, slug string, _ *big.Int) (orchestrator.Preview, error) {
	return orchestrator.Preview{Market: slug}, nil
}

func (stubOrchestrator) Open(_ context.Context, sess *orchestrator.Session, slug string, _ domain.TradeIntent) (domain.ExecutionResult, error) {
	if !sess.CanSign() {
		return domain.ExecutionResult{}, domain.NewTradeError(domain.KindConnectivity, domain.CodeNoSigner, "no wallet")
	}
	return domain.ExecutionResult{Market: slug, Status: domain.ExecConfirmed}, nil
}

func (stubOrchestrator) Close(_ context.Context, _ *orchestrator.Session, slug string, id *big.Int) (domain.ExecutionResult, error) {
	return domain.ExecutionResult{Market: slug, PositionID: id, Status: domain.ExecConfirmed}, nil
}

type stubCatalog struct{}

func (stubCatalog) List(context.Context) ([]domain.Market, error) { return nil, nil }

type stubHistory struct{}

func (stubHistory) MarketHistory(context.Context, string, string, time.Time) domain.MarketHistory {
	return domain.MarketHistory{}
}

// countingLimiter allows the first limit calls per key.
type countingLimiter struct {
	mu   sync.Mutex
	seen map[string]int
}

func (l *countingLimiter) Take(_ context.Context, key string, limit int, window time.Duration) (domain.RateQuota, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.seen == nil {
		l.seen = map[string]int{}
	}
	if l.seen[key] >= limit {
		return domain.RateQuota{ResetIn: window / 2}, nil
	}
	l.seen[key]++
	return domain.RateQuota{Allowed: true, Remaining: limit - l.seen[key]}, nil
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testHandlers() Handlers {
	orch := stubOrchestrator{}
	logger := quietLogger()
	return Handlers{
		Health:     handler.NewHealthHandler(nil, nil, logger),
		Markets:    handler.NewMarketHandler(orch, stubCatalog{}, stubHistory{}, logger),
		Trades:     handler.NewTradeHandler(orch, nil, logger),
		Executions: handler.NewExecutionHandler(nil, logger),
		Audit:      handler.NewAuditHandler(nil, logger),
	}
}

func do(h http.Handler, method, target, body string, headers map[string]string) *httptest.ResponseRecorder {
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, rd)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestRoutesAndAuth(t *testing.T) {
	h := NewHandler(Config{APIKey: "sekrit"}, testHandlers(), nil, nil, quietLogger())

	rec := do(h, http.MethodGet, "/api/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code, "health is public")
	assert.NotEmpty(t, rec.Header().Get(middleware.RequestIDHeader))

	rec = do(h, http.MethodGet, "/metrics", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code, "metrics are public")

	rec = do(h, http.MethodGet, "/api/markets/aapl", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = do(h, http.MethodGet, "/api/markets/aapl", "", map[string]string{"Authorization": "Bearer sekrit"})
	require.Equal(t, http.StatusOK, rec.Code)
	var view orchestrator.MarketView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	assert.Equal(t, "aapl", view.Market.Slug)

	rec = do(h, http.MethodPost, "/api/markets/aapl/positions/3/close", "", map[string]string{"X-API-Key": "sekrit"})
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = do(h, http.MethodGet, "/api/markets/aapl/open", "", map[string]string{"X-API-Key": "sekrit"})
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestOpenWithoutWalletIsForbidden(t *testing.T) {
	h := NewHandler(Config{}, testHandlers(), nil, nil, quietLogger())
	rec := do(h, http.MethodPost, "/api/markets/aapl/open", `{"side":"long","amount":"10","leverage":2}`, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Contains(t, rec.Body.String(), domain.CodeNoSigner)
}

func TestCORSPreflight(t *testing.T) {
	h := NewHandler(Config{CORSOrigins: []string{"https://app.example"}}, testHandlers(), nil, nil, quietLogger())

	rec := do(h, http.MethodOptions, "/api/markets", "", map[string]string{"Origin": "https://app.example"})
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "https://app.example", rec.Header().Get("Access-Control-Allow-Origin"))

	rec = do(h, http.MethodGet, "/api/markets", "", map[string]string{"Origin": "https://evil.example"})
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestRateLimitTradeBucket(t *testing.T) {
	limiter := &countingLimiter{}
	h := NewHandler(Config{RateLimit: 20, RateWindow: time.Second}, testHandlers(), nil, limiter, quietLogger())

	body := `{"side":"long","amount":"10","leverage":2}`
	first := do(h, http.MethodPost, "/api/markets/aapl/open", body, nil)
	assert.Equal(t, http.StatusForbidden, first.Code)
	do(h, http.MethodPost, "/api/markets/aapl/open", body, nil)
	third := do(h, http.MethodPost, "/api/markets/aapl/open", body, nil)
	assert.Equal(t, http.StatusTooManyRequests, third.Code, "trades get limit/10 per window")
	assert.Equal(t, "2", third.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, "0", third.Header().Get("X-RateLimit-Remaining"))
	assert.Equal(t, "1", third.Header().Get("Retry-After"))

	rec := do(h, http.MethodGet, "/api/markets", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code, "reads use their own bucket")
	assert.Equal(t, "19", rec.Header().Get("X-RateLimit-Remaining"))
}

func TestWebSocketRelay(t *testing.T) {
	hub := ws.NewHub(nil, quietLogger(), ws.Config{Mode: "server", Watched: func() []string { return []string{"aapl"} }})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	srv := httptest.NewServer(NewHandler(Config{APIKey: "k"}, testHandlers(), hub, nil, quietLogger()))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?markets=aapl&api_key=k"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var hello map[string]any
	require.NoError(t, conn.ReadJSON(&hello))
	assert.Equal(t, "hello", hello["type"])
	assert.Equal(t, []any{"aapl"}, hello["markets"])

	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, time.Second, 5*time.Millisecond)
	hub.Broadcast("tsla", []byte(`{"type":"snapshot","slug":"tsla"}`))
	hub.Broadcast("aapl", []byte(`{"type":"snapshot","slug":"aapl"}`))

	msgType, data, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, websocket.TextMessage, msgType)
	assert.JSONEq(t, `{"type":"snapshot","slug":"aapl"}`, string(data), "unsubscribed markets are filtered")
}
