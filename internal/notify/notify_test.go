package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/synthex/internal/domain"
)

type recordingSender struct {
	name   string
	titles []string
	err    error
}

func (r *recordingSender) Send(_ context.Context, title, _ string) error {
	r.titles = append(r.titles, title)
	return r.err
}

func (r *recordingSender) Name() string { return r.name }

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNotifierFiltersEvents(t *testing.T) {
	s := &recordingSender{name: "rec"}
	n := NewNotifier([]Sender{s}, []string{EventLiquidationRisk, " "}, quietLogger())

	require.NoError(t, n.Notify(context.Background(), EventPositionOpened, "opened", ""))
	require.NoError(t, n.Notify(context.Background(), EventLiquidationRisk, "risk", ""))
	require.NoError(t, n.NotifyAll(context.Background(), "all", ""))
	assert.Equal(t, []string{"risk", "all"}, s.titles)
}

func TestNotifierCollectsSenderErrors(t *testing.T) {
	ok := &recordingSender{name: "ok"}
	bad := &recordingSender{name: "bad", err: errors.New("boom")}
	n := NewNotifier([]Sender{bad, ok}, nil, quietLogger())

	err := n.Notify(context.Background(), EventPositionClosed, "closed", "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad: boom")
	assert.Equal(t, []string{"closed"}, ok.titles, "one failure does not stop the rest")
}

func TestExecutionEventAndFormat(t *testing.T) {
	res := domain.ExecutionResult{
		Action:      "close",
		Market:      "aapl",
		User:        common.HexToAddress("0x000000000000000000000000000000000000a11c"),
		PositionID:  big.NewInt(4),
		RealizedPnL: big.NewInt(1_500_000),
		Status:      domain.ExecConfirmed,
		TxHash:      common.HexToHash("0x01"),
	}
	assert.Equal(t, EventPositionClosed, ExecutionEvent(res))
	title, body := FormatExecution(res)
	assert.Equal(t, "Closed position 4 on aapl", title)
	assert.Contains(t, body, "pnl: 1.50")

	res.Status = domain.ExecReverted
	res.Error = domain.NewTradeError(domain.KindOnchain, domain.CodeReverted, "nope")
	assert.Equal(t, EventExecutionFailed, ExecutionEvent(res))
	title, body = FormatExecution(res)
	assert.Equal(t, "close on aapl: reverted", title)
	assert.Contains(t, body, "error: REVERTED (nope)")

	res = domain.ExecutionResult{Action: "open", Market: "aapl", PositionID: big.NewInt(9), Status: domain.ExecConfirmed}
	assert.Equal(t, EventPositionOpened, ExecutionEvent(res))
}

func TestTelegramSender(t *testing.T) {
	var got map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/botTOKEN/sendMessage", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s := NewTelegramSender("TOKEN", "42").WithBaseURL(srv.URL + "/")
	require.NoError(t, s.Send(context.Background(), "Title", "body"))
	assert.Equal(t, "42", got["chat_id"])
	assert.Equal(t, "*Title*\nbody", got["text"])
}

func TestDiscordSenderStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	err := NewDiscordSender(srv.URL).Send(context.Background(), "t", "m")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "discord: unexpected status 429")
}

func TestDiscordSenderEmbed(t *testing.T) {
	var got struct {
		Username string         `json:"username"`
		Embeds   []discordEmbed `json:"embeds"`
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	long := strings.Repeat("x", discordBodyMax+10)
	require.NoError(t, NewDiscordSender(srv.URL).Send(context.Background(), "Position 7 on aapl near liquidation", long))
	assert.Equal(t, "synthex", got.Username)
	require.Len(t, got.Embeds, 1)
	assert.Equal(t, colourAlert, got.Embeds[0].Color)
	assert.Equal(t, discordBodyMax, len([]rune(got.Embeds[0].Description)))
	assert.True(t, strings.HasSuffix(got.Embeds[0].Description, "…"))

	assert.Equal(t, colourInfo, embedColour("Opened position 3 on tsla"))
}
