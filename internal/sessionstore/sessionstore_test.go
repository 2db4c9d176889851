package sessionstore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oaktech/musicsync-relay/internal/kv"
)

func newTestStore(t *testing.T) *Store {
	adapter, err := kv.New("")
	require.NoError(t, err)
	t.Cleanup(func() { adapter.Close() })
	return New(adapter, time.Hour)
}

func TestCreateProducesValidCode(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id, err := store.Create(ctx)
		require.NoError(t, err)
		assert.Len(t, id, codeLength)
		for _, ch := range id {
			assert.Contains(t, codeAlphabet, string(ch))
		}
		assert.NotContains(t, id, "I")
		assert.NotContains(t, id, "O")
		assert.NotContains(t, id, "0")
		assert.NotContains(t, id, "1")
		seen[id] = true
	}
	assert.Len(t, seen, 100, "100 consecutive calls should produce 100 distinct codes")
}

func TestCreateThenExists(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	id, err := store.Create(ctx)
	require.NoError(t, err)

	exists, err := store.Exists(ctx, id)
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestExistsFalseForUnknownSession(t *testing.T) {
	store := newTestStore(t)
	exists, err := store.Exists(context.Background(), "ZZZZZZ")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestEnsureIsIdempotent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Ensure(ctx, OpenSessionID))
	require.NoError(t, store.Ensure(ctx, OpenSessionID))

	exists, err := store.Exists(ctx, OpenSessionID)
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestCacheFrameOverwritesLatest(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	id, err := store.Create(ctx)
	require.NoError(t, err)

	require.NoError(t, store.CacheFrame(ctx, id, FrameState, []byte(`{"a":1}`)))
	require.NoError(t, store.CacheFrame(ctx, id, FrameState, []byte(`{"a":2}`)))

	frames, err := store.GetFrames(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, `{"a":2}`, string(frames.State))
}

func TestCacheFrameKindsCoexist(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	id, err := store.Create(ctx)
	require.NoError(t, err)

	require.NoError(t, store.CacheFrame(ctx, id, FrameState, []byte("state-payload")))
	require.NoError(t, store.CacheFrame(ctx, id, FrameSong, []byte("song-payload")))
	require.NoError(t, store.CacheFrame(ctx, id, FrameBeat, []byte("beat-payload")))

	frames, err := store.GetFrames(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "state-payload", string(frames.State))
	assert.Equal(t, "song-payload", string(frames.Song))
	assert.Equal(t, "beat-payload", string(frames.Beat))
}

func TestGetFramesMissingKindsAreNil(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	id, err := store.Create(ctx)
	require.NoError(t, err)

	frames, err := store.GetFrames(ctx, id)
	require.NoError(t, err)
	assert.Nil(t, frames.State)
	assert.Nil(t, frames.Song)
	assert.Nil(t, frames.Beat)
}

func TestTouchRefreshesAllFourKeys(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	id, err := store.Create(ctx)
	require.NoError(t, err)
	require.NoError(t, store.CacheFrame(ctx, id, FrameState, []byte("x")))

	assert.NoError(t, store.Touch(ctx, id))
}
