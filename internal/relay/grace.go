package relay

import (
	"sync"
	"time"

	"github.com/oaktech/musicsync-relay/internal/metrics"
)

// graceFSM tracks, per session, the disconnect-grace timer absorbing
// transient controller disconnects (phones sleeping). At most one timer is
// outstanding per session; a controller joining while one is pending
// cancels it with no emitted event.
//
//	READY --last controller close--> GRACE(15s)
//	GRACE --any controller join----> READY   (cancel timer, no event)
//	GRACE --timer fires, still 0---> EMPTY   (emit remoteStatus connected=false)
//	EMPTY --controller join--------> READY   (emit remoteStatus connected=true)
type graceFSM struct {
	mu     sync.Mutex
	timers map[string]*time.Timer
	grace  time.Duration
}

func newGraceFSM(grace time.Duration) *graceFSM {
	return &graceFSM{
		timers: make(map[string]*time.Timer),
		grace:  grace,
	}
}

// startOrIgnore starts the grace timer for sessionID unless one is already
// pending. fire is invoked if the timer elapses without cancellation.
func (g *graceFSM) startOrIgnore(sessionID string, fire func()) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, pending := g.timers[sessionID]; pending {
		return
	}
	metrics.GraceTimerEvents.WithLabelValues("start").Inc()
	g.timers[sessionID] = time.AfterFunc(g.grace, func() {
		g.mu.Lock()
		delete(g.timers, sessionID)
		g.mu.Unlock()
		metrics.GraceTimerEvents.WithLabelValues("fire").Inc()
		fire()
	})
}

// cancel stops sessionID's pending grace timer, if any.
func (g *graceFSM) cancel(sessionID string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if t, ok := g.timers[sessionID]; ok {
		t.Stop()
		delete(g.timers, sessionID)
		metrics.GraceTimerEvents.WithLabelValues("cancel").Inc()
	}
}
