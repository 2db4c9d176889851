// Package relay implements the session-scoped WebSocket relay: the Room
// Registry (process-local membership by session), the Relay Hub (role
// fan-out, cross-process publish/subscribe, the disconnect-grace FSM), and
// the WebSocket Endpoint that upgrades connections and buffers early
// inbound frames during setup.
package relay

import "errors"

// Role is one of the three client roles this relay routes between.
type Role string

const (
	RoleController Role = "controller"
	RoleDisplay    Role = "display"
	RoleViewer     Role = "viewer"
)

// ParseRole coerces an arbitrary query-string role value onto the closed
// role set, defaulting unknown values to controller.
func ParseRole(s string) Role {
	switch Role(s) {
	case RoleDisplay:
		return RoleDisplay
	case RoleViewer:
		return RoleViewer
	default:
		return RoleController
	}
}

// frameTypes is the closed set of wire message `type` values the hub
// accepts. Anything else is dropped silently.
var frameTypes = map[string]bool{
	"state": true, "song": true, "beat": true, "command": true,
	"visualizer": true, "lyrics": true, "video": true, "nowPlaying": true,
	"seekTo": true, "display": true, "remoteStatus": true, "session": true,
	"error": true, "ping": true, "pong": true, "audioFeatures": true,
	"kioskStatus": true,
}

// maxFrameBytes is the inbound message size cap (50 KiB).
const maxFrameBytes = 50 * 1024

// maxBufferedEarlyFrames bounds the setup-race buffer per connection.
const maxBufferedEarlyFrames = 64

// ErrInvalidSession is sent to a client whose requested session code is
// unknown and closes its connection with code 4001.
var ErrInvalidSession = errors.New("relay: invalid session code")

// ErrFrameTooLarge marks an inbound frame dropped for exceeding the size cap.
var ErrFrameTooLarge = errors.New("relay: frame exceeds size limit")

// ErrUnknownFrameType marks an inbound frame dropped for an unrecognized type.
var ErrUnknownFrameType = errors.New("relay: unknown frame type")

const closeInvalidSession = 4001
