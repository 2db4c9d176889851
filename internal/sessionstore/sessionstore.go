// Package sessionstore allocates and validates session codes and caches the
// latest state/song/beat frame per session, refreshing a four-key TTL
// layout on every touch.
package sessionstore

import (
	"context"
	"crypto/rand"
	"fmt"
	"sync"
	"time"

	"github.com/oaktech/musicsync-relay/internal/kv"
)

// OpenSessionID is the reserved session id used when code gating is disabled.
const OpenSessionID = "__open__"

const codeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
const codeLength = 6

// FrameKind names one of the three cacheable per-session frame slots.
type FrameKind string

const (
	FrameState FrameKind = "state"
	FrameSong  FrameKind = "song"
	FrameBeat  FrameKind = "beat"
)

// Frames holds the latest cached frame of each kind for a session. A nil
// entry means that frame has never been cached.
type Frames struct {
	State []byte
	Song  []byte
	Beat  []byte
}

// Store allocates session codes and caches per-session frames with a
// sliding 24-hour TTL, backed by the shared KV adapter.
type Store struct {
	kv  *kv.Adapter
	ttl time.Duration

	mu      sync.Mutex
	created map[string]time.Time // in-process record of sessions this process minted, for metrics/logging only
}

// New constructs a Store. ttl is the inactivity expiry applied to every key.
func New(adapter *kv.Adapter, ttl time.Duration) *Store {
	return &Store{
		kv:      adapter,
		ttl:     ttl,
		created: make(map[string]time.Time),
	}
}

// Create mints a fresh six-character session code and writes its metadata
// entry with the store's TTL. The alphabet excludes I, O, 0, 1 to stay
// unambiguous on small screens.
func (s *Store) Create(ctx context.Context) (string, error) {
	id, err := generateCode()
	if err != nil {
		return "", err
	}
	if err := s.writeCreatedAt(ctx, id); err != nil {
		return "", err
	}
	s.mu.Lock()
	s.created[id] = time.Now()
	s.mu.Unlock()
	return id, nil
}

// Exists reports whether id has a live metadata entry in the substrate.
func (s *Store) Exists(ctx context.Context, id string) (bool, error) {
	_, ok, err := s.kv.Get(ctx, metaKey(id))
	if err != nil {
		return false, err
	}
	return ok, nil
}

// Ensure idempotently materializes id if it does not already exist,
// refreshing its TTL either way. Used to materialize the reserved open
// session id when code gating is disabled.
func (s *Store) Ensure(ctx context.Context, id string) error {
	exists, err := s.Exists(ctx, id)
	if err != nil {
		return err
	}
	if !exists {
		return s.writeCreatedAt(ctx, id)
	}
	return s.Touch(ctx, id)
}

// CacheFrame overwrites the cached frame of the given kind for id, storing
// the payload verbatim with the store's TTL.
func (s *Store) CacheFrame(ctx context.Context, id string, kind FrameKind, payload []byte) error {
	return s.kv.Set(ctx, frameKey(id, kind), string(payload), s.ttl)
}

// GetFrames returns the latest cached frame of every kind for id. A kind
// never cached is nil in the result.
func (s *Store) GetFrames(ctx context.Context, id string) (Frames, error) {
	var frames Frames
	for _, kind := range []FrameKind{FrameState, FrameSong, FrameBeat} {
		v, ok, err := s.kv.Get(ctx, frameKey(id, kind))
		if err != nil {
			return Frames{}, err
		}
		if !ok {
			continue
		}
		switch kind {
		case FrameState:
			frames.State = []byte(v)
		case FrameSong:
			frames.Song = []byte(v)
		case FrameBeat:
			frames.Beat = []byte(v)
		}
	}
	return frames, nil
}

// Touch refreshes the TTL on a session's metadata and all three frame keys.
func (s *Store) Touch(ctx context.Context, id string) error {
	keys := []string{metaKey(id), frameKey(id, FrameState), frameKey(id, FrameSong), frameKey(id, FrameBeat)}
	var firstErr error
	for _, key := range keys {
		if err := s.kv.Expire(ctx, key, s.ttl); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (s *Store) writeCreatedAt(ctx context.Context, id string) error {
	return s.kv.Set(ctx, metaKey(id), time.Now().UTC().Format(time.RFC3339), s.ttl)
}

func metaKey(id string) string {
	return fmt.Sprintf("ws:session:%s", id)
}

func frameKey(id string, kind FrameKind) string {
	return fmt.Sprintf("ws:session:%s:%s", id, kind)
}

// generateCode draws codeLength cryptographically random bytes and maps each
// modulo len(codeAlphabet) onto the reduced alphabet.
func generateCode() (string, error) {
	buf := make([]byte, codeLength)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("sessionstore: failed to generate code: %w", err)
	}
	out := make([]byte, codeLength)
	for i, b := range buf {
		out[i] = codeAlphabet[int(b)%len(codeAlphabet)]
	}
	return string(out), nil
}
