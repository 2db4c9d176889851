package relay

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/oaktech/musicsync-relay/internal/logging"
	"github.com/oaktech/musicsync-relay/internal/metrics"
)

// wsConnection is the subset of *websocket.Conn the connection needs,
// abstracted for testability.
type wsConnection interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	SetPongHandler(h func(string) error)
}

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	sendBuffer = 256
)

// ClientConnection is the abstract client handle every component above the
// WebSocket Endpoint operates on: role, session membership, kiosk flag, and
// a transport-agnostic send/close surface.
type ClientConnection struct {
	conn      wsConnection
	send      chan []byte
	hub       *Hub
	id        string
	SessionID string
	Role      Role
	Kiosk     bool

	mu     sync.Mutex
	closed bool
}

func newClientConnection(conn wsConnection, hub *Hub, id, sessionID string, role Role, kiosk bool) *ClientConnection {
	return &ClientConnection{
		conn:      conn,
		send:      make(chan []byte, sendBuffer),
		hub:       hub,
		id:        id,
		SessionID: sessionID,
		Role:      role,
		Kiosk:     kiosk,
	}
}

// Send enqueues a frame for delivery, dropping it if the client's outbound
// buffer is full rather than blocking the fan-out loop.
func (c *ClientConnection) Send(payload []byte) {
	select {
	case c.send <- payload:
	default:
		logging.Warn(context.Background(), "relay: client send buffer full, dropping frame")
		metrics.FramesDropped.WithLabelValues("send_buffer_full").Inc()
	}
}

// Close closes the underlying transport with the given close code and
// reason, writing a close frame first when possible.
func (c *ClientConnection) Close(code int, reason string) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()

	closeMsg := websocket.FormatCloseMessage(code, reason)
	_ = c.conn.WriteMessage(websocket.CloseMessage, closeMsg)
	_ = c.conn.Close()
}

// readPump reads inbound frames until the connection errors or closes,
// handing each to handler. It runs on its own goroutine, one per connection.
func (c *ClientConnection) readPump(handler func(payload []byte)) {
	defer func() {
		c.hub.handleClose(c)
		_ = c.conn.Close()
		metrics.ActiveConnections.WithLabelValues(string(c.Role)).Dec()
	}()

	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		messageType, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}
		if len(data) > maxFrameBytes {
			metrics.FramesDropped.WithLabelValues("too_large").Inc()
			continue
		}
		handler(data)
	}
}

// writePump delivers queued outbound frames and periodic pings until the
// send channel closes.
func (c *ClientConnection) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
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
