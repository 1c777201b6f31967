// Package ws relays pool events from the signal bus to websocket clients.
package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/yieldbet/internal/domain"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
	sendBufferSize = 256

	// replayLimit caps how many stream entries one replay request returns.
	replayLimit = 500
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// Config captures the bus channel and pool stream naming used by the hub.
type Config struct {
	Mode      string
	Channel   string
	Stream    func(pool common.Address) string
	StartedAt time.Time
}

// Hub fans events from one bus channel out to connected clients. Clients
// may narrow delivery to a set of pools and replay a pool's stream.
type Hub struct {
	bus    domain.SignalBus
	cfg    Config
	logger *slog.Logger

	register   chan *client
	unregister chan *client
	// stopped is closed when Run returns; register and unregister have no
	// reader after that.
	stopped chan struct{}

	mu      sync.RWMutex
	clients map[*client]bool
}

// clientMsg is what a client may send:
//
//	{"action":"subscribe","pools":["0x.."]}
//	{"action":"unsubscribe","pools":["0x.."]}
//	{"action":"replay","pool":"0x..","last_id":"0"}
type clientMsg struct {
	Action string   `json:"action"`
	Pools  []string `json:"pools"`
	Pool   string   `json:"pool"`
	LastID string   `json:"last_id"`
}

type client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte

	// done is closed by the hub when the client is dropped. send is never
	// closed.
	done      chan struct{}
	closeOnce sync.Once

	mu    sync.RWMutex
	pools map[common.Address]bool
}

// NewHub creates a hub reading cfg.Channel from bus.
func NewHub(bus domain.SignalBus, logger *slog.Logger, cfg Config) *Hub {
	if cfg.Channel == "" {
		cfg.Channel = "events"
	}
	if cfg.Stream == nil {
		cfg.Stream = func(pool common.Address) string { return "pool:" + pool.Hex() }
	}
	if cfg.StartedAt.IsZero() {
		cfg.StartedAt = time.Now().UTC()
	}
	cfg.Mode = strings.ToLower(strings.TrimSpace(cfg.Mode))
	return &Hub{
		bus:        bus,
		cfg:        cfg,
		logger:     logger.With(slog.String("component", "ws_hub")),
		register:   make(chan *client),
		unregister: make(chan *client),
		stopped:    make(chan struct{}),
		clients:    make(map[*client]bool),
	}
}

// Run subscribes to the bus and serves clients until ctx is cancelled.
func (h *Hub) Run(ctx context.Context) error {
	defer close(h.stopped)

	msgCh, err := h.bus.Subscribe(ctx, h.cfg.Channel)
	if err != nil {
		return err
	}
	h.logger.Info("subscribed to channel", slog.String("channel", h.cfg.Channel))

	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for c := range h.clients {
				c.close()
				delete(h.clients, c)
			}
			h.mu.Unlock()
			return ctx.Err()

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			n := len(h.clients)
			h.mu.Unlock()
			h.logger.Debug("client connected", slog.Int("total_clients", n))

		case c := <-h.unregister:
			h.mu.Lock()
			if h.clients[c] {
				delete(h.clients, c)
				c.close()
			}
			n := len(h.clients)
			h.mu.Unlock()
			h.logger.Debug("client disconnected", slog.Int("total_clients", n))

		case data, ok := <-msgCh:
			if !ok {
				h.logger.Warn("channel subscription closed", slog.String("channel", h.cfg.Channel))
				msgCh = nil
				continue
			}
			h.deliver(eventPool(data), data)
		}
	}
}

func (h *Hub) deliver(pool common.Address, data []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		if !c.wants(pool) {
			continue
		}
		select {
		case c.send <- data:
		default:
			h.logger.Warn("dropping message for slow client")
		}
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// HandleWS upgrades the request and registers the client.
// GET /ws
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("upgrade failed", slog.String("error", err.Error()))
		return
	}
	c := &client{
		hub:   h,
		conn:  conn,
		send:  make(chan []byte, sendBufferSize),
		done:  make(chan struct{}),
		pools: make(map[common.Address]bool),
	}
	select {
	case h.register <- c:
	case <-h.stopped:
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"))
		conn.Close()
		return
	}
	c.sendHello()

	go c.writePump()
	go c.readPump()
}

func eventPool(data []byte) common.Address {
	var ev struct {
		Pool common.Address `json:"pool"`
	}
	_ = json.Unmarshal(data, &ev)
	return ev.Pool
}

func (c *client) close() { c.closeOnce.Do(func() { close(c.done) }) }

// wants reports whether the client receives events of pool. No filter means
// every pool.
func (c *client) wants(pool common.Address) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.pools) == 0 || c.pools[pool]
}

func (c *client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
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
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("unexpected close error", slog.String("error", err.Error()))
			}
			return
		}
		var msg clientMsg
		if json.Unmarshal(message, &msg) != nil {
			continue
		}
		c.handle(msg)
	}
}

func (c *client) handle(msg clientMsg) {
	switch msg.Action {
	case "subscribe", "unsubscribe":
		c.mu.Lock()
		for _, raw := range msg.Pools {
			if !common.IsHexAddress(raw) {
				continue
			}
			if msg.Action == "subscribe" {
				c.pools[common.HexToAddress(raw)] = true
			} else {
				delete(c.pools, common.HexToAddress(raw))
			}
		}
		c.mu.Unlock()
	case "replay":
		if common.IsHexAddress(msg.Pool) {
			c.replay(common.HexToAddress(msg.Pool), msg.LastID)
		}
	}
}

// replay queues the pool's stream entries after lastID.
func (c *client) replay(pool common.Address, lastID string) {
	if lastID == "" {
		lastID = "0"
	}
	ctx, cancel := context.WithTimeout(context.Background(), writeWait)
	defer cancel()

	msgs, err := c.hub.bus.StreamRead(ctx, c.hub.cfg.Stream(pool), lastID, replayLimit)
	if err != nil {
		c.hub.logger.Warn("replay failed", slog.String("pool", pool.Hex()), slog.String("error", err.Error()))
		return
	}
	for _, m := range msgs {
		select {
		case c.send <- m.Payload:
		case <-c.done:
			return
		default:
			return
		}
	}
}

func (c *client) sendHello() {
	msg, err := json.Marshal(map[string]any{
		"type":           "hello",
		"mode":           c.hub.cfg.Mode,
		"uptime_seconds": int64(time.Since(c.hub.cfg.StartedAt).Seconds()),
	})
	if err != nil {
		return
	}
	select {
	case c.send <- msg:
	default:
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		case message := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
