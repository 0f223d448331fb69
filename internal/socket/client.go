package socket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/anonto42/nano-midea/pulse/internal/models"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	writeWait      = 10 * time.Second
	replyWait      = time.Second
	maxMessageSize = 4096
)

// Inbound control message types
const (
	MsgJoinRoom  = "join_room"
	MsgLeaveRoom = "leave_room"
	MsgPing      = "ping"
)

var errClientClosed = errors.New("connection closed")

type inbound struct {
	Type string `json:"type"`
	Room string `json:"room"`
}

// Client is one live websocket connection
type Client struct {
	id     string
	userID uint
	conn   *websocket.Conn
	hub    *Hub

	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once

	limiter *rate.Limiter
	log     *zap.Logger
}

func (c *Client) enqueue(ctx context.Context, payload []byte) error {
	select {
	case <-c.done:
		return fmt.Errorf("%w: %w", models.ErrDeliveryUnreachable, errClientClosed)
	default:
	}

	select {
	case c.send <- payload:
		return nil
	case <-c.done:
		return fmt.Errorf("%w: %w", models.ErrDeliveryUnreachable, errClientClosed)
	case <-ctx.Done():
		return fmt.Errorf("%w: send buffer full: %w", models.ErrDeliveryUnreachable, ctx.Err())
	}
}

func (c *Client) close() {
	c.closeOnce.Do(func() { close(c.done) })
}

func (c *Client) reply(typ string, data any) {
	raw := c.hub.envelope(typ, data)
	if raw == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), replyWait)
	defer cancel()
	if err := c.enqueue(ctx, raw); err != nil {
		c.log.Debug("reply dropped", zap.String("type", typ), zap.Error(err))
	}
}

func (c *Client) pongWait() time.Duration {
	return c.hub.cfg.PingInterval * 2
}

func (c *Client) readPump() {
	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(c.pongWait()))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(c.pongWait()))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.log.Debug("read failed", zap.Error(err))
			}
			return
		}

		if !c.limiter.Allow() {
			c.reply(models.TypeError, map[string]string{"message": "rate limit exceeded"})
			continue
		}

		var msg inbound
		if err := json.Unmarshal(raw, &msg); err != nil {
			c.reply(models.TypeError, map[string]string{"message": "malformed message"})
			continue
		}
		c.handle(msg)
	}
}

func (c *Client) handle(msg inbound) {
	switch msg.Type {
	case MsgJoinRoom:
		if err := c.hub.lifecycle.OnJoinRoom(c.id, msg.Room); err != nil {
			c.reply(models.TypeError, map[string]string{"message": err.Error()})
			return
		}
		c.reply(models.TypeRoomJoined, map[string]string{"room": msg.Room})
	case MsgLeaveRoom:
		c.hub.lifecycle.OnLeaveRoom(c.id, msg.Room)
		c.reply(models.TypeRoomLeft, map[string]string{"room": msg.Room})
	case MsgPing:
		c.reply(models.TypePong, nil)
	default:
		c.reply(models.TypeError, map[string]string{"message": "unknown message type " + msg.Type})
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(c.hub.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		c.close()
		c.conn.Close()
	}()

	for {
		select {
		case payload := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				c.log.Debug("write failed", zap.Error(err))
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			_ = c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
			return
		}
	}
}
