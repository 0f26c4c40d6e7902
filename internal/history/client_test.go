package history

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/synthex/internal/domain"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// subgraph answers by the first top-level field named in the query.
func subgraph(t *testing.T, answers map[string]string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req graphqlRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		for key, body := range answers {
			if strings.Contains(req.Query, key) {
				_, _ = io.WriteString(w, body)
				return
			}
		}
		http.Error(w, "unexpected query", http.StatusBadRequest)
	}))
}

const tradesBody = `{"data":{"trades":[
	{"id":"0xab-1","market":"aapl","positionId":"7","user":"0xa11c","kind":"open","isLong":true,
	 "baseSize":"2000000000000000000","price":"100000000000000000000","pnl":"",
	 "transactionHash":"0xab","blockNumber":"12","timestamp":"1700000000"},
	{"id":"0xcd-1","market":"aapl","positionId":"7","user":"0xa11c","kind":"close","isLong":true,
	 "baseSize":"2000000000000000000","price":"110000000000000000000","pnl":"20000000",
	 "transactionHash":"0xcd","blockNumber":"15","timestamp":"1700000600"}
]}}`

func TestClientTradesAndVolume(t *testing.T) {
	srv := subgraph(t, map[string]string{"trades(": tradesBody})
	defer srv.Close()
	c := NewClient(srv.URL, " secret ", time.Second)

	trades, err := c.Trades(context.Background(), "aapl", time.Unix(0, 0), 10)
	require.NoError(t, err)
	require.Len(t, trades, 2)
	assert.Equal(t, int64(7), trades[0].PositionID.Int64())
	assert.Equal(t, domain.SideLong, trades[0].Side)
	assert.Nil(t, trades[0].PnL)
	assert.Equal(t, int64(20_000_000), trades[1].PnL.Int64())
	assert.Equal(t, uint64(15), trades[1].Block)
	assert.Equal(t, int64(1700000600), trades[1].Timestamp.Unix())

	vol, err := c.Volume24h(context.Background(), "aapl", time.Unix(1700000700, 0))
	require.NoError(t, err)
	assert.Equal(t, "420000000000000000000", vol.String())
}

func TestClientMeta(t *testing.T) {
	srv := subgraph(t, map[string]string{"_meta": `{"data":{"_meta":{"block":{"number":1234},"hasIndexingErrors":false}}}`})
	defer srv.Close()

	meta, err := NewClient(srv.URL, "secret", 0).Meta(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(1234), meta.Block)
}

func TestClientNotReady(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{"503", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusServiceUnavailable) }},
		{"404", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusNotFound) }},
		{"not synced", func(w http.ResponseWriter, _ *http.Request) {
			_, _ = io.WriteString(w, `{"errors":[{"message":"subgraph has not started syncing yet"}]}`)
		}},
		{"indexing errors", func(w http.ResponseWriter, _ *http.Request) {
			_, _ = io.WriteString(w, `{"data":{"_meta":{"block":{"number":1},"hasIndexingErrors":true}}}`)
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(tt.handler)
			defer srv.Close()
			_, err := NewClient(srv.URL, "", time.Second).Meta(context.Background())
			assert.ErrorIs(t, err, domain.ErrIndexNotReady)
		})
	}
}

func TestClientGraphQLError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, `{"errors":[{"message":"Type Query has no field trades"}]}`)
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, "", time.Second).Trades(context.Background(), "aapl", time.Now(), 1)
	require.Error(t, err)
	assert.NotErrorIs(t, err, domain.ErrIndexNotReady)
}

func TestIndexDegradesToEmpty(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()
	ix := NewIndex(NewClient(srv.URL, "", time.Second), discardLogger())

	h := ix.MarketHistory(context.Background(), "aapl", "1h", time.Now().Add(-time.Hour))
	assert.False(t, h.Ready)
	assert.NotNil(t, h.Trades)
	assert.Empty(t, h.Trades)
	assert.Empty(t, h.Candles)
	assert.Equal(t, int64(0), h.Volume24h.Int64())
	assert.False(t, ix.Ready())

	assert.Empty(t, ix.UserHistory(context.Background(), "0xa11c", ""))
	assert.False(t, ix.Probe(context.Background()))
}

func TestIndexReady(t *testing.T) {
	srv := subgraph(t, map[string]string{
		"candles(": `{"data":{"candles":[{"start":"1700000000","open":"1","high":"2","low":"1","close":"2","volume":"5"}]}}`,
		"trades(":  tradesBody,
		"_meta":    `{"data":{"_meta":{"block":{"number":99},"hasIndexingErrors":false}}}`,
	})
	defer srv.Close()
	ix := NewIndex(NewClient(srv.URL, "secret", time.Second), discardLogger())
	ix.now = func() time.Time { return time.Unix(1700000700, 0) }

	h := ix.MarketHistory(context.Background(), "aapl", "1h", time.Unix(0, 0))
	assert.True(t, h.Ready)
	assert.Len(t, h.Trades, 2)
	require.Len(t, h.Candles, 1)
	assert.Equal(t, int64(2), h.Candles[0].Close.Int64())
	assert.True(t, ix.Ready())

	assert.True(t, ix.Probe(context.Background()))
}

func TestNilIndex(t *testing.T) {
	ix := NewIndex(nil, discardLogger())
	h := ix.MarketHistory(context.Background(), "aapl", "1h", time.Now())
	assert.False(t, h.Ready)
	assert.Empty(t, ix.UserHistory(context.Background(), "0x1", "aapl"))
}

func TestClientEnvelopeErrors(t *testing.T) {
	replies := map[string]string{
		"no data": `{"data":null}`,
		"joined":  `{"errors":[{"message":"first"},{"message":"second"}]}`,
		"garbage": `<html>`,
	}
	for name, body := range replies {
		t.Run(name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				_, _ = io.WriteString(w, body)
			}))
			defer srv.Close()

			_, err := NewClient(srv.URL, "", time.Second).Candles(context.Background(), "aapl", "1h", time.Now())
			require.Error(t, err)
			assert.Contains(t, err.Error(), "history: candles:")
			if name == "joined" {
				assert.Contains(t, err.Error(), "first; second")
			}
		})
	}
}
