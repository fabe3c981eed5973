package ws

import (
	"errors"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/mmuslimabdulj/goat-space/internal/domain"
	"github.com/mmuslimabdulj/goat-space/internal/logging"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period (must be less than pongWait)
	pingPeriod = (pongWait * 9) / 10
)

// Client represents a single websocket connection
type Client struct {
	ID      string
	hub     *Hub
	conn    *websocket.Conn
	send    chan []byte
	limiter *rate.Limiter
	closed  atomic.Bool

	// Owned by the hub goroutine
	persona    string
	dashboard  bool
	sendClosed bool
}

// NewClient creates a new Client with a freshly allocated user id
func NewClient(hub *Hub, conn *websocket.Conn) *Client {
	limit, burst := hub.opts.FrameRate, hub.opts.FrameBurst
	if limit <= 0 {
		limit = rate.Inf
	}
	return &Client{
		ID:      domain.NewUserID(),
		hub:     hub,
		conn:    conn,
		send:    make(chan []byte, hub.opts.SendBufferSize),
		limiter: rate.NewLimiter(limit, burst),
	}
}

// ReadPump pumps messages from the websocket connection to the hub
func (c *Client) ReadPump() {
	defer func() {
		c.closed.Store(true)
		c.hub.Unregister(c)
		c.conn.Close()
	}()
	defer logging.Recover(c.hub.log.With().Str("user", c.ID).Logger(), "read pump")

	c.conn.SetReadLimit(c.hub.opts.MaxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		messageType, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				c.hub.log.Debug().Err(err).Str("user", c.ID).Msg("connection closed unexpectedly")
			}
			return
		}
		if messageType != websocket.TextMessage {
			c.hub.metrics.RecordMessageRejected("binary")
			continue
		}
		c.handleMessage(message)
	}
}

// handleMessage rate limits and decodes one raw frame and hands it to the hub
func (c *Client) handleMessage(raw []byte) {
	if !c.limiter.Allow() {
		c.hub.metrics.RecordMessageRejected("rate_limited")
		return
	}

	msg, err := domain.DecodeInbound(raw)
	if err != nil {
		reason := "malformed"
		if errors.Is(err, domain.ErrUnknownType) {
			reason = "unknown_type"
		}
		c.hub.metrics.RecordMessageRejected(reason)
		c.hub.log.Warn().Err(err).Str("user", c.ID).Int("bytes", len(raw)).Msg("dropped inbound frame")
		return
	}

	c.hub.Deliver(c, msg)
}

// WritePump pumps messages from the hub to the websocket connection.
// Every message goes out in its own text frame.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.closed.Store(true)
		c.conn.Close()
	}()
	defer logging.Recover(c.hub.log.With().Str("user", c.ID).Logger(), "write pump")

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// Hub closed the channel
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.closed.Store(true)
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.closed.Store(true)
				return
			}
		}
	}
}

// Send adds a message to the client's send queue and reports whether it was queued.
// Only the hub goroutine may call it.
func (c *Client) Send(msg []byte) bool {
	if c.closed.Load() {
		return false
	}
	select {
	case c.send <- msg:
		return true
	default:
		// Buffer full
		return false
	}
}

func (c *Client) isClosed() bool {
	return c.closed.Load()
}

// close marks the client dead and ends its write pump. Hub goroutine only.
func (c *Client) close() {
	c.closed.Store(true)
	if !c.sendClosed {
		c.sendClosed = true
		close(c.send)
	}
}
