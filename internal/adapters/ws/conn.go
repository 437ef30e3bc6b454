// Package ws adapts gorilla websockets to the core Conn contract: a
// bounded send channel with a non-blocking TrySend, one write pump and one
// read pump per socket.
package ws

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/trendke/livehub/internal/core"
)

type wsConn struct {
	conn         *websocket.Conn
	send         chan []byte
	writeTimeout time.Duration
	pingPeriod   time.Duration

	mu     sync.RWMutex
	closed bool
}

func newWSConn(conn *websocket.Conn, sendBuffer int, writeTimeout, pingPeriod time.Duration) *wsConn {
	return &wsConn{
		conn:         conn,
		send:         make(chan []byte, sendBuffer),
		writeTimeout: writeTimeout,
		pingPeriod:   pingPeriod,
	}
}

// TrySend queues a frame without blocking. A full buffer means the client
// is too slow to keep up and is reported as a send failure.
func (c *wsConn) TrySend(data []byte) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return core.ErrConnectionClosed
	}
	select {
	case c.send <- data:
		return nil
	default:
		return core.ErrBackpressure
	}
}

func (c *wsConn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	_ = c.conn.Close()
	c.mu.Unlock()
}

func (c *wsConn) writePump(ctx context.Context) {
	ticker := time.NewTicker(c.pingPeriod)
	defer func() {
		ticker.Stop()
		c.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case data, ok := <-c.send:
			if !ok {
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
				log.Error().Err(err).Str("module", "ws").Msg("writePump set deadline")
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Warn().Err(err).Str("module", "ws").Msg("writePump write error")
				return
			}
		case <-ticker.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
				return
			}
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump feeds inbound frames to handle until the socket dies, then runs
// the cleanup exactly once via the caller's sync.Once.
func (c *wsConn) readPump(ctx context.Context, handle func(data []byte)) {
	defer c.Close()

	for {
		select {
		case <-ctx.Done():
			return
		default:
			_, data, err := c.conn.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					log.Warn().Err(err).Str("module", "ws").Msg("readPump read error")
				}
				return
			}
			handle(data)
		}
	}
}

// refuse sends a policy-violation close frame before any registration
// happened, then drops the socket.
func refuse(conn *websocket.Conn, reason string) {
	msg := websocket.FormatCloseMessage(websocket.ClosePolicyViolation, reason)
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	_ = conn.Close()
}
