package ws

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

var (
	errClosed     = errors.New("connection closed")
	errSlowClient = errors.New("send buffer full")
)

// client is one WebSocket connection. It is the bus transport for its id.
type client struct {
	id   string
	conn *websocket.Conn
	send chan []byte
	gw   *Gateway

	mu     sync.Mutex
	closed bool
}

// Send queues frame without blocking. A full buffer closes the client; the
// bus is told asynchronously because Send runs under the bus lock.
func (c *client) Send(frame []byte) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return errClosed
	}
	select {
	case c.send <- frame:
		c.mu.Unlock()
		return nil
	default:
	}
	c.mu.Unlock()

	slog.Warn("ws: client too slow, disconnecting", "conn", c.id)
	go c.gw.drop(c)
	return errSlowClient
}

func (c *client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

// writePump drains the send channel to the socket and pings periodically.
// Runs in its own goroutine per client.
func (c *client) writePump() {
	opts := c.gw.opts
	ticker := time.NewTicker(opts.pingPeriod())
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(opts.WriteTimeout))
			if !ok {
				// Closed by the gateway: shutdown or slow client.
				c.conn.WriteMessage(websocket.CloseMessage, []byte{}) //nolint:errcheck
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(opts.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump dispatches client frames until the connection closes.
func (c *client) readPump() {
	opts := c.gw.opts
	defer c.conn.Close()
	c.conn.SetReadLimit(opts.MaxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(opts.PongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(opts.PongWait))
		return nil
	})
	for {
		_, msg, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Debug("ws: read error", "conn", c.id, "err", err)
			}
			return
		}
		c.conn.SetReadDeadline(time.Now().Add(opts.PongWait))
		c.gw.handle(c, msg)
	}
}
