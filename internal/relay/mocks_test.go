package relay

import (
	"sync"
	"time"
)

// mockConn implements wsConnection for tests.
type mockConn struct {
	mu       sync.Mutex
	closed   bool
	written  [][]byte
	readFunc func() (int, []byte, error)
	client   *ClientConnection
}

func (m *mockConn) ReadMessage() (int, []byte, error) {
	if m.readFunc != nil {
		return m.readFunc()
	}
	<-make(chan struct{}) // block forever unless overridden
	return 0, nil, nil
}

func (m *mockConn) WriteMessage(messageType int, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make([]byte, len(data))
	copy(cp, data)
	m.written = append(m.written, cp)
	return nil
}

func (m *mockConn) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func (m *mockConn) SetReadDeadline(t time.Time) error  { return nil }
func (m *mockConn) SetWriteDeadline(t time.Time) error { return nil }
func (m *mockConn) SetPongHandler(h func(string) error) {}

// sentMessages returns every frame delivered to this connection so far.
// Tests run no writePump, so frames queued by ClientConnection.Send are
// drained from its outbound buffer here, after any direct transport writes.
func (m *mockConn) sentMessages() [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.client != nil {
	drain:
		for {
			select {
			case msg := <-m.client.send:
				m.written = append(m.written, msg)
			default:
				break drain
			}
		}
	}
	out := make([][]byte, len(m.written))
	copy(out, m.written)
	return out
}

func newTestConn(hub *Hub, role Role, sessionID string, kiosk bool) (*ClientConnection, *mockConn) {
	mc := &mockConn{}
	cc := newClientConnection(mc, hub, "test-client", sessionID, role, kiosk)
	mc.client = cc
	return cc, mc
}
