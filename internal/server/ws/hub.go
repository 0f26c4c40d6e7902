// Package ws relays market snapshots to WebSocket clients. Snapshots arrive
// from the signal bus (market:* channels) or, without a bus, straight from
// the in-process poller through Broadcast.
package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/synthex/internal/domain"
	"github.com/alanyoungcy/synthex/internal/metrics"
)

const queueSize = 256

// allMarkets is the bus pattern the hub subscribes to.
var allMarkets = domain.MarketChannel("*")

// Config carries the hub's status metadata and origin policy.
type Config struct {
	Mode           string
	StartedAt      time.Time
	AllowedOrigins []string
	// Watched lists the markets currently polled, for the hello message.
	Watched func() []string
}

// Hub tracks connected clients and hands each snapshot to the clients
// subscribed to its market. A client that falls behind only ever holds the
// newest snapshot per market.
type Hub struct {
	bus      domain.SignalBus
	cfg      Config
	upgrader websocket.Upgrader
	logger   *slog.Logger

	queue   chan snapshot
	join    chan *client
	leave   chan *client
	stopped chan struct{}

	mu      sync.RWMutex
	clients map[*client]struct{}
}

type snapshot struct {
	market  string
	payload []byte
}

// NewHub creates a hub. bus may be nil.
func NewHub(bus domain.SignalBus, logger *slog.Logger, cfg Config) *Hub {
	cfg.Mode = strings.ToLower(strings.TrimSpace(cfg.Mode))
	if cfg.Mode == "" {
		cfg.Mode = "unknown"
	}
	if cfg.StartedAt.IsZero() {
		cfg.StartedAt = time.Now().UTC()
	}
	h := &Hub{
		bus:     bus,
		cfg:     cfg,
		logger:  logger.With(slog.String("component", "ws_hub")),
		queue:   make(chan snapshot, queueSize),
		join:    make(chan *client),
		leave:   make(chan *client),
		stopped: make(chan struct{}),
		clients: make(map[*client]struct{}),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin:     h.originAllowed,
	}
	return h
}

// originAllowed admits requests without an Origin header, and every origin
// when none are configured.
func (h *Hub) originAllowed(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || len(h.cfg.AllowedOrigins) == 0 {
		return true
	}
	return slices.ContainsFunc(h.cfg.AllowedOrigins, func(o string) bool {
		return o == "*" || strings.EqualFold(o, origin)
	})
}

// Run owns the client set until ctx is cancelled, then disconnects every
// client.
func (h *Hub) Run(ctx context.Context) error {
	defer close(h.stopped)
	if h.bus != nil {
		go h.relay(ctx)
	}

	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for c := range h.clients {
				c.close()
			}
			clear(h.clients)
			h.mu.Unlock()
			metrics.WebSocketClients.Set(0)
			return ctx.Err()

		case c := <-h.join:
			h.track(c, true)

		case c := <-h.leave:
			h.track(c, false)

		case s := <-h.queue:
			h.mu.RLock()
			for c := range h.clients {
				c.offer(s.market, s.payload)
			}
			h.mu.RUnlock()
		}
	}
}

func (h *Hub) track(c *client, joined bool) {
	h.mu.Lock()
	if joined {
		h.clients[c] = struct{}{}
	} else if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		c.close()
	}
	n := len(h.clients)
	h.mu.Unlock()

	metrics.WebSocketClients.Set(float64(n))
	msg := "ws: client disconnected"
	if joined {
		msg = "ws: client connected"
	}
	h.logger.Info(msg, slog.String("remote", c.conn.RemoteAddr().String()), slog.Int("clients", n))
}

// Broadcast queues a snapshot payload for market without blocking; a full
// queue drops it.
func (h *Hub) Broadcast(market string, payload []byte) {
	select {
	case h.queue <- snapshot{market: market, payload: payload}:
	default:
		h.logger.Warn("ws: broadcast queue full", slog.String("market", market))
	}
}

// relay feeds market:* bus messages into Broadcast.
func (h *Hub) relay(ctx context.Context) {
	msgs, err := h.bus.Subscribe(ctx, allMarkets)
	if err != nil {
		h.logger.Error("ws: bus subscribe failed",
			slog.String("channel", allMarkets),
			slog.String("error", err.Error()),
		)
		return
	}
	h.logger.Info("ws: relaying bus channel", slog.String("channel", allMarkets))

	for data := range msgs {
		slug := snapshotSlug(data)
		if slug == "" {
			h.logger.Warn("ws: bus message without slug", slog.Int("bytes", len(data)))
			continue
		}
		h.Broadcast(slug, data)
	}
	if ctx.Err() == nil {
		h.logger.Warn("ws: bus subscription closed")
	}
}

// snapshotSlug reads the market out of a SnapshotMessage payload.
func snapshotSlug(data []byte) string {
	var env struct {
		Slug string `json:"slug"`
	}
	if json.Unmarshal(data, &env) != nil {
		return ""
	}
	return env.Slug
}

// HandleWS upgrades the request and registers the client. ?markets=a,b
// narrows the initial subscription; otherwise every market is sent.
// GET /ws
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("ws: upgrade failed", slog.String("error", err.Error()))
		return
	}

	subs := []string{"*"}
	if m := r.URL.Query().Get("markets"); m != "" {
		subs = strings.Split(m, ",")
	}
	c := newClient(h, conn, subs)

	select {
	case h.join <- c:
	case <-h.stopped:
		conn.Close()
		return
	}
	c.reply(h.hello())

	go c.writePump()
	go c.readPump()
}

func (h *Hub) hello() map[string]any {
	watched := []string{}
	if h.cfg.Watched != nil {
		watched = h.cfg.Watched()
	}
	return map[string]any{
		"type":           "hello",
		"mode":           h.cfg.Mode,
		"uptime_seconds": int64(time.Since(h.cfg.StartedAt).Seconds()),
		"markets":        watched,
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
