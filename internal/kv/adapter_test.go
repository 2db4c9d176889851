package kv

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestAdapter(t *testing.T) (*Adapter, *miniredis.Miniredis) {
	mr, err := miniredis.Run()
	require.NoError(t, err)

	a, err := New("redis://" + mr.Addr())
	require.NoError(t, err)

	return a, mr
}

func TestGetSetSubstrate(t *testing.T) {
	a, mr := newTestAdapter(t)
	defer mr.Close()
	defer a.Close()

	ctx := context.Background()
	err := a.Set(ctx, "ws:session:ABCDEF", "value1", time.Hour)
	require.NoError(t, err)

	v, ok, err := a.Get(ctx, "ws:session:ABCDEF")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "value1", v)
}

func TestGetMissingSubstrate(t *testing.T) {
	a, mr := newTestAdapter(t)
	defer mr.Close()
	defer a.Close()

	_, ok, err := a.Get(context.Background(), "ws:session:missing")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestIncrSubstrate(t *testing.T) {
	a, mr := newTestAdapter(t)
	defer mr.Close()
	defer a.Close()

	ctx := context.Background()
	n, err := a.Incr(ctx, "counter:1", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	n, err = a.Incr(ctx, "counter:1", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func TestPublishSubscribeSubstrate(t *testing.T) {
	a, mr := newTestAdapter(t)
	defer mr.Close()
	defer a.Close()

	ctx := context.Background()
	received := make(chan string, 1)
	a.Subscribe(ctx, "room:chan-1", func(payload string) {
		received <- payload
	})

	// allow subscription goroutine to attach
	time.Sleep(50 * time.Millisecond)

	err := a.Publish(ctx, "room:chan-1", `{"type":"beat"}`)
	require.NoError(t, err)

	select {
	case payload := <-received:
		assert.Equal(t, `{"type":"beat"}`, payload)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for published message")
	}

	a.Unsubscribe("room:chan-1")
}

func TestSlidingWindowCountSubstrate(t *testing.T) {
	a, mr := newTestAdapter(t)
	defer mr.Close()
	defer a.Close()

	ctx := context.Background()
	now := time.Now()
	window := 10 * time.Second

	for i := 0; i < 3; i++ {
		n, err := a.SlidingWindowCount(ctx, "rl:identify:1.2.3.4", now, window)
		require.NoError(t, err)
		assert.Equal(t, int64(i+1), n)
	}
}

func TestSlidingWindowCountPrunesOldEntries(t *testing.T) {
	a, mr := newTestAdapter(t)
	defer mr.Close()
	defer a.Close()

	ctx := context.Background()
	window := 50 * time.Millisecond
	start := time.Now()

	n, err := a.SlidingWindowCount(ctx, "rl:identify:prune", start, window)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	mr.FastForward(200 * time.Millisecond)

	n, err = a.SlidingWindowCount(ctx, "rl:identify:prune", start.Add(200*time.Millisecond), window)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n, "stale entry from before the window should have been pruned")
}

func TestLocalOnlyModeFallsBackCleanly(t *testing.T) {
	a, err := New("")
	require.NoError(t, err)
	defer a.Close()

	ctx := context.Background()
	assert.NoError(t, a.Set(ctx, "k", "v", time.Minute))

	v, ok, err := a.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "v", v)

	n, err := a.Incr(ctx, "counter", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	// Publish/Subscribe are no-ops in local-only mode: no panics, no delivery.
	require.NoError(t, a.Publish(ctx, "chan", "payload"))
	a.Subscribe(ctx, "chan", func(string) { t.Fatal("handler should never fire in local-only mode") })

	count, err := a.SlidingWindowCount(ctx, "rl:x", time.Now(), time.Second)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	assert.NoError(t, a.Ping(ctx))
}

func TestPingSubstrate(t *testing.T) {
	a, mr := newTestAdapter(t)
	defer mr.Close()
	defer a.Close()

	assert.NoError(t, a.Ping(context.Background()))
}
