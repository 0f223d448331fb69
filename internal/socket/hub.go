// Package socket is the websocket transport: it owns live connections and writes pushes to them.
package socket

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/anonto42/nano-midea/pulse/internal/metrics"
	"github.com/anonto42/nano-midea/pulse/internal/models"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Lifecycle is notified as connections come and go and ask for rooms
type Lifecycle interface {
	OnConnect(connID string, userID uint)
	OnReconnect(connID string, userID uint)
	OnDisconnect(connID string)
	OnJoinRoom(connID, roomID string) error
	OnLeaveRoom(connID, roomID string)
}

type Config struct {
	SendBuffer   int
	PingInterval time.Duration
	RateLimit    float64 // inbound control messages per second
	RateBurst    int
	Metrics      metrics.Collector
	Logger       *zap.Logger
}

func (c *Config) defaults() {
	if c.SendBuffer <= 0 {
		c.SendBuffer = 64
	}
	if c.PingInterval <= 0 {
		c.PingInterval = 30 * time.Second
	}
	if c.RateLimit <= 0 {
		c.RateLimit = 10
	}
	if c.RateBurst <= 0 {
		c.RateBurst = 20
	}
	if c.Metrics == nil {
		c.Metrics = metrics.NopCollector{}
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
}

// Hub is the table of live connections. It implements dispatch.Pusher.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]*Client

	lifecycle Lifecycle
	cfg       Config
	log       *zap.Logger
	now       func() time.Time
}

func NewHub(lifecycle Lifecycle, cfg Config) *Hub {
	cfg.defaults()
	return &Hub{
		clients:   make(map[string]*Client),
		lifecycle: lifecycle,
		cfg:       cfg,
		log:       cfg.Logger.With(zap.String("component", "socket.hub")),
		now:       time.Now,
	}
}

// Send queues payload for one connection. It fails fast with models.ErrDeliveryUnreachable
// when the connection is unknown or closed, or its buffer stays full until ctx ends.
func (h *Hub) Send(ctx context.Context, connID string, payload []byte) error {
	h.mu.RLock()
	c, ok := h.clients[connID]
	h.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %w: %s", models.ErrDeliveryUnreachable, models.ErrUnknownConnection, connID)
	}
	return c.enqueue(ctx, payload)
}

// Serve runs one upgraded connection until it closes. It blocks.
func (h *Hub) Serve(conn *websocket.Conn, userID uint, reconnect bool) {
	id := uuid.NewString()
	c := &Client{
		id:      id,
		userID:  userID,
		conn:    conn,
		hub:     h,
		send:    make(chan []byte, h.cfg.SendBuffer),
		done:    make(chan struct{}),
		limiter: rate.NewLimiter(rate.Limit(h.cfg.RateLimit), h.cfg.RateBurst),
		log:     h.log.With(zap.String("conn_id", id), zap.Uint("user_id", userID)),
	}

	h.mu.Lock()
	h.clients[c.id] = c
	h.mu.Unlock()

	if reconnect {
		h.lifecycle.OnReconnect(c.id, userID)
	} else {
		h.lifecycle.OnConnect(c.id, userID)
	}
	h.cfg.Metrics.ConnectionOpened()
	c.log.Info("connection opened", zap.Bool("reconnect", reconnect))

	c.reply(models.TypeConnected, map[string]any{"connection_id": c.id, "user_id": userID})

	go c.writePump()
	c.readPump()
	c.close()

	h.lifecycle.OnDisconnect(c.id)
	h.mu.Lock()
	delete(h.clients, c.id)
	h.mu.Unlock()
	h.cfg.Metrics.ConnectionClosed()
	c.log.Info("connection closed")
}

// Count returns the number of live connections
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close asks every connection to shut down. Serve calls return as their sockets close.
func (h *Hub) Close() {
	h.mu.RLock()
	clients := make([]*Client, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		c.close()
	}
}

func (h *Hub) envelope(typ string, data any) []byte {
	raw, err := json.Marshal(models.NewEnvelope(typ, data, h.now()))
	if err != nil {
		h.log.Error("encode envelope", zap.String("type", typ), zap.Error(err))
		return nil
	}
	return raw
}
