package ws

import (
	"encoding/json"
	"log/slog"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = pongWait * 9 / 10
	maxMessageSize = 4096
)

// command is what a client sends to change its market set, e.g.
// {"action":"subscribe","markets":["aapl","tsla"]}. "only" replaces the set.
type command struct {
	Action  string   `json:"action"`
	Markets []string `json:"markets"`
}

// client is one WebSocket connection. Outgoing data waits in two places:
// control replies in order, and the newest snapshot per market.
type client struct {
	hub  *Hub
	conn *websocket.Conn

	mu      sync.Mutex
	subs    map[string]bool // market slugs, or "*" for every market
	control [][]byte
	latest  map[string][]byte

	wake      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

func newClient(h *Hub, conn *websocket.Conn, markets []string) *client {
	c := &client{
		hub:    h,
		conn:   conn,
		subs:   make(map[string]bool),
		latest: make(map[string][]byte),
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	c.add(markets)
	return c
}

func normaliseSlug(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// add subscribes to markets; the caller holds mu or owns c exclusively.
func (c *client) add(markets []string) {
	for _, m := range markets {
		if m = normaliseSlug(m); m != "" {
			c.subs[m] = true
		}
	}
}

// offer replaces any unsent snapshot for market with payload.
func (c *client) offer(market string, payload []byte) {
	c.mu.Lock()
	ok := c.subs["*"] || c.subs[market]
	if ok {
		c.latest[market] = payload
	}
	c.mu.Unlock()
	if ok {
		c.signal()
	}
}

// reply queues a JSON control message ahead of pending snapshots.
func (c *client) reply(v any) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	c.mu.Lock()
	c.control = append(c.control, data)
	c.mu.Unlock()
	c.signal()
}

func (c *client) signal() {
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

func (c *client) close() {
	c.closeOnce.Do(func() { close(c.done) })
}

// drain takes everything queued: control replies first, then snapshots in
// market order.
func (c *client) drain() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := c.control
	c.control = nil
	for _, m := range slices.Sorted(maps.Keys(c.latest)) {
		out = append(out, c.latest[m])
	}
	clear(c.latest)
	return out
}

func (c *client) apply(cmd command) {
	c.mu.Lock()
	switch cmd.Action {
	case "subscribe":
		c.add(cmd.Markets)
	case "unsubscribe":
		for _, m := range cmd.Markets {
			delete(c.subs, normaliseSlug(m))
		}
	case "only":
		clear(c.subs)
		c.add(cmd.Markets)
	default:
		c.mu.Unlock()
		c.reply(map[string]string{"type": "error", "error": "unknown action " + cmd.Action})
		return
	}
	markets := slices.Sorted(maps.Keys(c.subs))
	c.mu.Unlock()
	c.reply(map[string]any{"type": "subscribed", "markets": markets})
}

// readPump applies subscription commands until the connection drops.
func (c *client) readPump() {
	defer func() {
		select {
		case c.hub.leave <- c:
		case <-c.hub.stopped:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("ws: unexpected close", slog.String("error", err.Error()))
			}
			return
		}
		var cmd command
		if err := json.Unmarshal(data, &cmd); err != nil {
			c.reply(map[string]string{"type": "error", "error": "invalid json"})
			continue
		}
		c.apply(cmd)
	}
}

// writePump writes queued messages as text frames and pings on idle.
func (c *client) writePump() {
	ping := time.NewTicker(pingPeriod)
	defer func() {
		ping.Stop()
		c.conn.Close()
	}()

	write := func(kind int, data []byte) error {
		c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		return c.conn.WriteMessage(kind, data)
	}

	for {
		select {
		case <-c.done:
			write(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
			return
		case <-c.wake:
			for _, msg := range c.drain() {
				if err := write(websocket.TextMessage, msg); err != nil {
					return
				}
			}
		case <-ping.C:
			if err := write(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
