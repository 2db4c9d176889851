package relay

import (
	"sync"
	"time"

	"k8s.io/utils/set"

	"github.com/oaktech/musicsync-relay/internal/logging"
	"github.com/oaktech/musicsync-relay/internal/metrics"
)

// registry owns the process-local session->connections membership map, the
// kiosk flag set, the in-memory audio-features snapshot per session, and
// the reap timers that delete empty rooms after roomReap. It never blocks
// on I/O: every method only edits in-process maps under mu.
type registry struct {
	mu sync.Mutex

	members map[string]map[*ClientConnection]struct{}
	kiosk   set.Set[string]
	audio   map[string][]byte

	reapTimers map[string]*time.Timer
	roomReap   time.Duration

	onReap func(sessionID string) // invoked with mu released, after deletion
}

func newRegistry(roomReap time.Duration, onReap func(sessionID string)) *registry {
	return &registry{
		members:    make(map[string]map[*ClientConnection]struct{}),
		kiosk:      set.New[string](),
		audio:      make(map[string][]byte),
		reapTimers: make(map[string]*time.Timer),
		roomReap:   roomReap,
		onReap:     onReap,
	}
}

// attach registers conn under its session id, cancelling any pending reap.
func (reg *registry) attach(conn *ClientConnection) {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	reg.cancelReapLocked(conn.SessionID)

	set, ok := reg.members[conn.SessionID]
	if !ok {
		set = make(map[*ClientConnection]struct{})
		reg.members[conn.SessionID] = set
		metrics.ActiveSessions.Inc()
	}
	set[conn] = struct{}{}
	metrics.ActiveConnections.WithLabelValues(string(conn.Role)).Inc()
}

// detach removes conn from its session; if the room becomes empty it
// schedules a reap timer.
func (reg *registry) detach(conn *ClientConnection) {
	reg.mu.Lock()

	set, ok := reg.members[conn.SessionID]
	if !ok {
		reg.mu.Unlock()
		return
	}
	delete(set, conn)

	if len(set) > 0 {
		reg.mu.Unlock()
		return
	}

	reg.scheduleReapLocked(conn.SessionID)
	reg.mu.Unlock()
}

// byRole returns a snapshot slice of every connection with the given role
// in sessionID, for fan-out iteration outside the lock.
func (reg *registry) byRole(sessionID string, role Role) []*ClientConnection {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	set, ok := reg.members[sessionID]
	if !ok {
		return nil
	}
	out := make([]*ClientConnection, 0, len(set))
	for conn := range set {
		if conn.Role == role {
			out = append(out, conn)
		}
	}
	return out
}

// countByRole returns the number of connections of role in sessionID.
func (reg *registry) countByRole(sessionID string, role Role) int {
	return len(reg.byRole(sessionID, role))
}

// setKiosk records that sessionID's display joined with kiosk=true.
func (reg *registry) setKiosk(sessionID string) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	reg.kiosk.Insert(sessionID)
}

// clearKiosk removes sessionID from the kiosk set.
func (reg *registry) clearKiosk(sessionID string) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	reg.kiosk.Delete(sessionID)
}

// isKiosk reports whether sessionID's display is kiosk-flagged.
func (reg *registry) isKiosk(sessionID string) bool {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	return reg.kiosk.Has(sessionID)
}

// setAudioFrame overwrites the in-memory audioFeatures snapshot for sessionID.
func (reg *registry) setAudioFrame(sessionID string, payload []byte) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	reg.audio[sessionID] = payload
}

// audioFrame returns the latest audioFeatures snapshot for sessionID, if any.
func (reg *registry) audioFrame(sessionID string) ([]byte, bool) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	v, ok := reg.audio[sessionID]
	return v, ok
}

// clearAudioFrame drops the in-memory audioFeatures snapshot for sessionID.
func (reg *registry) clearAudioFrame(sessionID string) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	delete(reg.audio, sessionID)
}

func (reg *registry) cancelReapLocked(sessionID string) {
	if t, ok := reg.reapTimers[sessionID]; ok {
		t.Stop()
		delete(reg.reapTimers, sessionID)
	}
}

func (reg *registry) scheduleReapLocked(sessionID string) {
	if _, pending := reg.reapTimers[sessionID]; pending {
		return
	}
	reg.reapTimers[sessionID] = time.AfterFunc(reg.roomReap, func() {
		reg.fireReap(sessionID)
	})
}

func (reg *registry) fireReap(sessionID string) {
	reg.mu.Lock()
	delete(reg.reapTimers, sessionID)

	set, ok := reg.members[sessionID]
	if ok && len(set) > 0 {
		// A connection rejoined between the timer firing and this callback
		// running; leave the room intact.
		reg.mu.Unlock()
		return
	}

	delete(reg.members, sessionID)
	reg.kiosk.Delete(sessionID)
	delete(reg.audio, sessionID)
	reg.mu.Unlock()

	metrics.ActiveSessions.Dec()
	logging.Info(nil, "relay: reaped empty room")

	if reg.onReap != nil {
		reg.onReap(sessionID)
	}
}
