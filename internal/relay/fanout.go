package relay

import (
	"context"
	"encoding/json"

	"k8s.io/utils/set"

	"github.com/oaktech/musicsync-relay/internal/logging"
	"github.com/oaktech/musicsync-relay/internal/metrics"
	"github.com/oaktech/musicsync-relay/internal/sessionstore"
)

// fanoutTable maps a sender's role to the set of roles that receive its
// frames: display -> controllers+viewers, controller/viewer -> displays only.
var fanoutTable = map[Role]set.Set[Role]{
	RoleDisplay:    set.New(RoleController, RoleViewer),
	RoleController: set.New(RoleDisplay),
	RoleViewer:     set.New(RoleDisplay),
}

// Start begins accepting inbound traffic. Subscriptions are established
// lazily per-session on join rather than eagerly here, so Start is
// currently a readiness log line; it exists to give callers an explicit
// lifecycle hook symmetric with handleClose/joinSession.
func (h *Hub) Start() {
	logging.Info(context.Background(), "relay: hub started")
}

// HandleInbound validates a raw frame from conn, applies display-side
// caching side effects, fans it out locally, and publishes it to the
// cross-process channel. Invalid frames are dropped silently per the
// spec's InvalidInput handling.
func (h *Hub) HandleInbound(ctx context.Context, conn *ClientConnection, payload []byte) {
	if len(payload) > maxFrameBytes {
		metrics.FramesDropped.WithLabelValues("too_large").Inc()
		return
	}

	var header struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(payload, &header); err != nil {
		metrics.FramesDropped.WithLabelValues("malformed_json").Inc()
		return
	}
	if !frameTypes[header.Type] {
		metrics.FramesDropped.WithLabelValues("unknown_type").Inc()
		return
	}

	if err := h.sessions.Touch(ctx, conn.SessionID); err != nil {
		logging.Warn(ctx, "relay: failed to touch session TTL")
	}

	if conn.Role == RoleDisplay {
		h.applyDisplayCachingSideEffects(ctx, conn.SessionID, header.Type, payload)
	}

	h.localFanout(conn.SessionID, conn.Role, payload, conn)

	env, err := marshalEnvelope(h.instanceID, conn.Role, payload)
	if err == nil {
		h.kv.Publish(ctx, channelName(conn.SessionID), env)
	}
}

func (h *Hub) applyDisplayCachingSideEffects(ctx context.Context, sessionID, frameType string, payload []byte) {
	switch frameType {
	case "state":
		h.sessions.CacheFrame(ctx, sessionID, sessionstore.FrameState, payload)
	case "song":
		h.sessions.CacheFrame(ctx, sessionID, sessionstore.FrameSong, payload)
	case "beat":
		h.sessions.CacheFrame(ctx, sessionID, sessionstore.FrameBeat, payload)
	case "audioFeatures":
		// ~30 Hz stream: memory-only, never replicated to the shared substrate.
		h.reg.setAudioFrame(sessionID, payload)
	}
}

// localFanout delivers payload to every local recipient the sender's role
// reaches, per the fan-out policy table: display -> controllers+viewers,
// controller -> displays, viewer -> displays. excludeConn is the local
// sender, if any (nil for envelopes arriving from another process).
func (h *Hub) localFanout(sessionID string, senderRole Role, payload []byte, excludeConn *ClientConnection) {
	var recipients []*ClientConnection
	for role := range fanoutTable[senderRole] {
		recipients = append(recipients, h.reg.byRole(sessionID, role)...)
	}

	for _, conn := range recipients {
		if conn == excludeConn {
			continue
		}
		conn.Send(payload)
	}
	metrics.FrameFanout.WithLabelValues(string(senderRole)).Inc()
}

// subscribeSession starts the cross-process subscriber for sessionID if
// one is not already active.
func (h *Hub) subscribeSession(sessionID string) {
	h.subMu.Lock()
	if h.subscribed[sessionID] {
		h.subMu.Unlock()
		return
	}
	h.subscribed[sessionID] = true
	h.subMu.Unlock()

	h.kv.Subscribe(context.Background(), channelName(sessionID), func(raw string) {
		h.ingestRemoteEnvelope(sessionID, raw)
	})
}

// unsubscribeSession releases sessionID's cross-process subscription. Called
// when the registry reaps an empty room.
func (h *Hub) unsubscribeSession(sessionID string) {
	h.subMu.Lock()
	delete(h.subscribed, sessionID)
	h.subMu.Unlock()
	h.kv.Unsubscribe(channelName(sessionID))
}

// ingestRemoteEnvelope parses an envelope received from another process,
// discards it if it originated from this instance, and otherwise re-enters
// the local fan-out path with no excluded sender.
func (h *Hub) ingestRemoteEnvelope(sessionID, raw string) {
	var env envelope
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		return
	}
	if env.FromInstanceID == h.instanceID {
		return
	}
	h.localFanout(sessionID, Role(env.SenderRole), env.Payload, nil)
}
