package relay

import (
	"context"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/oaktech/musicsync-relay/internal/logging"
	"github.com/oaktech/musicsync-relay/internal/metrics"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// earlyBuffer holds inbound frames a display pushes before join setup
// completes. Frames are popped and replayed into the hub strictly in
// arrival order; the buffering flag stays set for the whole flush so a
// frame arriving mid-flush is appended rather than raced past it.
type earlyBuffer struct {
	mu        sync.Mutex
	buffering bool
	frames    [][]byte
}

const (
	earlyQueued = iota
	earlyForwardNow
	earlyDropped
)

// handle atomically decides a frame's fate: queue it while setup is in
// flight, forward it immediately once setup has completed, or drop it if
// the buffer has overflowed. Deciding and mutating frames under one lock
// avoids a check-then-act race against the flushing goroutine in ServeWS.
func (b *earlyBuffer) handle(payload []byte) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.buffering {
		return earlyForwardNow
	}
	if len(b.frames) >= maxBufferedEarlyFrames {
		return earlyDropped
	}
	b.frames = append(b.frames, payload)
	return earlyQueued
}

func (b *earlyBuffer) pop() ([]byte, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.frames) == 0 {
		b.buffering = false
		return nil, false
	}
	next := b.frames[0]
	b.frames = b.frames[1:]
	return next, true
}

// ServeWS upgrades the connection, parses role/session/kiosk from the
// query string, joins the session, and starts the read/write pumps. The
// endpoint is the only place that touches the transport; every other
// component only ever sees a *ClientConnection.
func (h *Hub) ServeWS(c *gin.Context) {
	role := ParseRole(c.Query("role"))
	requestedSessionID := c.Query("session")
	kiosk := c.Query("kiosk") == "true"

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logging.Warn(c.Request.Context(), "relay: websocket upgrade failed")
		return
	}

	clientConn := newClientConnection(conn, h, uuid.NewString(), "", role, kiosk)

	buf := &earlyBuffer{buffering: true}
	go clientConn.writePump()
	go clientConn.readPump(func(payload []byte) {
		switch buf.handle(payload) {
		case earlyForwardNow:
			h.HandleInbound(context.Background(), clientConn, payload)
		case earlyDropped:
			metrics.FramesDropped.WithLabelValues("early_buffer_overflow").Inc()
		case earlyQueued:
			// held until setup completes; replayed by the flush loop below.
		}
	})

	ctx := c.Request.Context()
	if err := h.joinSession(ctx, clientConn, requestedSessionID); err != nil {
		sendInvalidSessionError(clientConn)
		clientConn.Close(closeInvalidSession, "invalid session")
		return
	}

	for {
		frame, ok := buf.pop()
		if !ok {
			break
		}
		h.HandleInbound(ctx, clientConn, frame)
	}
}

func sendInvalidSessionError(conn *ClientConnection) {
	conn.Send([]byte(`{"type":"error","message":"Invalid session code"}`))
}
