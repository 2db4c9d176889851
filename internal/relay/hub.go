package relay

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/oaktech/musicsync-relay/internal/kv"
	"github.com/oaktech/musicsync-relay/internal/logging"
	"github.com/oaktech/musicsync-relay/internal/sessionstore"
)

// Hub is the central coordinator: role-based fan-out, the disconnect-grace
// FSM, and cross-process publish/subscribe. One Hub is instantiated per
// process; tests construct their own.
type Hub struct {
	instanceID  string
	sessions    *sessionstore.Store
	kv          *kv.Adapter
	reg         *registry
	grace       *graceFSM
	requireCode bool

	subMu      sync.Mutex
	subscribed map[string]bool
}

// New constructs a Hub. requireCode disables the reserved open-session
// fallback when true.
func New(sessions *sessionstore.Store, adapter *kv.Adapter, requireCode bool, roomReap, disconnectGrace time.Duration) *Hub {
	h := &Hub{
		instanceID:  uuid.NewString(),
		sessions:    sessions,
		kv:          adapter,
		requireCode: requireCode,
		grace:       newGraceFSM(disconnectGrace),
		subscribed:  make(map[string]bool),
	}
	h.reg = newRegistry(roomReap, h.handleReap)
	return h
}

// handleReap is invoked by the registry once a room has been empty past
// its reap window; it releases the cross-process subscription for it.
func (h *Hub) handleReap(sessionID string) {
	h.unsubscribeSession(sessionID)
}

// joinSession implements the join protocol: resolving/minting the session
// id, registering the connection, subscribing to its cross-process
// channel, and replaying cached state to the new member. On success
// conn.SessionID holds the resolved session id; on failure the caller must
// close the connection with code 4001.
func (h *Hub) joinSession(ctx context.Context, conn *ClientConnection, requestedSessionID string) error {
	sessionID, err := h.resolveSessionID(ctx, conn.Role, requestedSessionID)
	if err != nil {
		return err
	}
	conn.SessionID = sessionID

	h.reg.attach(conn)
	h.subscribeSession(sessionID)

	if conn.Kiosk && conn.Role == RoleDisplay {
		h.reg.setKiosk(sessionID)
	}

	switch conn.Role {
	case RoleController:
		h.replayCachedFrames(ctx, conn)
		h.grace.cancel(sessionID)
		h.notifyDisplaysRemoteStatus(sessionID, true)
	case RoleViewer:
		h.replayCachedFrames(ctx, conn)
		if frame, ok := h.reg.audioFrame(sessionID); ok {
			conn.Send(frame)
		}
		h.sendKioskStatus(conn, h.reg.isKiosk(sessionID))
	case RoleDisplay:
		if requestedSessionID == "" {
			h.sendSessionAssigned(conn, sessionID)
		}
	}

	return nil
}

func (h *Hub) resolveSessionID(ctx context.Context, role Role, requested string) (string, error) {
	if !h.requireCode {
		if err := h.sessions.Ensure(ctx, sessionstore.OpenSessionID); err != nil {
			logging.Warn(ctx, "relay: failed to ensure open session")
		}
		return sessionstore.OpenSessionID, nil
	}

	if role == RoleDisplay {
		if requested != "" {
			exists, err := h.sessions.Exists(ctx, requested)
			if err == nil && exists {
				return requested, nil
			}
		}
		return h.sessions.Create(ctx)
	}

	// controller or viewer: a valid requested session is required, except
	// controllers may mint a fresh one when none was supplied.
	if requested == "" {
		if role == RoleController {
			return h.sessions.Create(ctx)
		}
		return "", ErrInvalidSession
	}

	exists, err := h.sessions.Exists(ctx, requested)
	if err != nil || !exists {
		return "", ErrInvalidSession
	}
	return requested, nil
}

func (h *Hub) replayCachedFrames(ctx context.Context, conn *ClientConnection) {
	frames, err := h.sessions.GetFrames(ctx, conn.SessionID)
	if err != nil {
		return
	}
	for _, payload := range [][]byte{frames.State, frames.Song, frames.Beat} {
		if payload != nil {
			conn.Send(payload)
		}
	}
}

func (h *Hub) sendSessionAssigned(conn *ClientConnection, sessionID string) {
	msg, _ := json.Marshal(map[string]string{"type": "session", "sessionId": sessionID})
	conn.Send(msg)
}

func (h *Hub) sendKioskStatus(conn *ClientConnection, connected bool) {
	msg, _ := json.Marshal(map[string]any{"type": "kioskStatus", "connected": connected})
	conn.Send(msg)
}

func (h *Hub) notifyDisplaysRemoteStatus(sessionID string, connected bool) {
	count := h.reg.countByRole(sessionID, RoleController)
	msg, _ := json.Marshal(map[string]any{
		"type":        "remoteStatus",
		"connected":   connected,
		"controllers": count,
	})
	for _, display := range h.reg.byRole(sessionID, RoleDisplay) {
		display.Send(msg)
	}
}

// handleClose removes conn from its room and runs the grace-period /
// kiosk cleanup implied by its role.
func (h *Hub) handleClose(conn *ClientConnection) {
	h.reg.detach(conn)

	switch conn.Role {
	case RoleController:
		remaining := h.reg.countByRole(conn.SessionID, RoleController)
		if remaining > 0 {
			h.notifyDisplaysRemoteStatus(conn.SessionID, true)
			return
		}
		sessionID := conn.SessionID
		h.grace.startOrIgnore(sessionID, func() {
			count := h.reg.countByRole(sessionID, RoleController)
			h.notifyDisplaysRemoteStatus(sessionID, count > 0)
		})
	case RoleDisplay:
		if conn.Kiosk {
			h.reg.clearKiosk(conn.SessionID)
			h.reg.clearAudioFrame(conn.SessionID)
			h.notifyViewersKioskStatus(conn.SessionID, false)
		}
	}
}

func (h *Hub) notifyViewersKioskStatus(sessionID string, connected bool) {
	msg, _ := json.Marshal(map[string]any{"type": "kioskStatus", "connected": connected})
	for _, viewer := range h.reg.byRole(sessionID, RoleViewer) {
		viewer.Send(msg)
	}
}
