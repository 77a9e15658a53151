package chat

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"
	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/srijan-bhandari07/Neighborhood-Help-Exchange/internal/wire"
)

const (
	writeWait      = 10 * time.Second    // Time allowed to write a message to the peer.
	pongWait       = 60 * time.Second    // Time allowed to read the next pong message from the peer.
	pingPeriod     = (pongWait * 9) / 10 // Must be less than pongWait.
	maxMessageSize = 8192                // Maximum inbound frame size.
	sendBuffer     = 256
)

// FrameHandler processes one inbound frame for a connection. Frames from one
// connection are handled one at a time, in arrival order.
type FrameHandler func(ctx context.Context, c *Client, frame wire.Frame)

// Client is a middleman between the websocket connection and the hub.
type Client struct {
	ID       string
	UserID   int64
	Username string

	hub     *Hub
	conn    *websocket.Conn
	send    chan []byte
	limiter *rate.Limiter
	handle  FrameHandler
	log     *zap.Logger
}

func NewClient(hub *Hub, conn *websocket.Conn, userID int64, username string,
	limiter *rate.Limiter, handle FrameHandler, log *zap.Logger) *Client {
	id := ulid.Make().String()
	return &Client{
		ID:       id,
		UserID:   userID,
		Username: username,
		hub:      hub,
		conn:     conn,
		send:     make(chan []byte, sendBuffer),
		limiter:  limiter,
		handle:   handle,
		log:      log.With(zap.String("conn", id), zap.Int64("user", userID)),
	}
}

// ReadPump pumps frames from the websocket connection to the frame handler.
func (c *Client) ReadPump(ctx context.Context) {
	defer func() {
		select {
		case c.hub.Unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.log.Info("websocket closed", zap.Error(err))
			}
			return
		}

		if c.limiter != nil && !c.limiter.Allow() {
			c.reply(ctx, wire.EventMessageError, wire.MessageError{Error: "rate limit exceeded"})
			continue
		}

		var frame wire.Frame
		if err := json.Unmarshal(message, &frame); err != nil || frame.Event == "" {
			c.reply(ctx, wire.EventMessageError, wire.MessageError{Error: "malformed frame"})
			continue
		}
		c.handle(ctx, c, frame)
	}
}

// WritePump pumps frames from the hub to the websocket connection.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the channel.
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)

			// Coalesce queued frames into one websocket message, newline separated.
			n := len(c.send)
			for i := 0; i < n; i++ {
				w.Write([]byte{'\n'})
				w.Write(<-c.send)
			}

			if err := w.Close(); err != nil {
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

// reply sends a frame to this connection only.
func (c *Client) reply(ctx context.Context, event string, payload interface{}) {
	if err := c.hub.EmitToClient(ctx, c, event, payload); err != nil {
		c.log.Debug("reply dropped", zap.String("event", event), zap.Error(err))
	}
}
