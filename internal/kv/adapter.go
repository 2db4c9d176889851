// Package kv implements the Cache / KV Adapter: a uniform get/set/incr
// /expire/publish/subscribe surface (plus the sliding-window ordered-set
// op the rate limiter needs) over a shared Redis substrate, with an
// in-process fallback when that substrate is unavailable.
package kv

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	mathrand "math/rand/v2"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/oaktech/musicsync-relay/internal/logging"
	"github.com/oaktech/musicsync-relay/internal/metrics"
)

const (
	localCacheCapacity  = 500
	localWindowMaxKeys  = 10_000
	localWindowSweepGap = 60 * time.Second
)

// Adapter is the uniform substrate surface. A nil *redis.Client means the
// adapter runs in local-only mode from construction; a non-nil client that
// starts failing trips the circuit breaker, which also degrades every
// subsequent call to the local fallback until the breaker recovers.
type Adapter struct {
	client *redis.Client
	cb     *gobreaker.CircuitBreaker

	local       *lruCache
	localWindow *localWindowStore

	subMu  sync.Mutex
	subs   map[string]context.CancelFunc
	ctx    context.Context
	cancel context.CancelFunc

	sweepOnce sync.Once
}

// New connects to the shared substrate at redisURL. An empty redisURL
// constructs an adapter permanently in local-only mode (the accepted
// degradation for a deployment with no shared substrate configured).
func New(redisURL string) (*Adapter, error) {
	ctx, cancel := context.WithCancel(context.Background())
	a := &Adapter{
		local:       newLRUCache(localCacheCapacity),
		localWindow: newLocalWindowStore(localWindowMaxKeys),
		subs:        make(map[string]context.CancelFunc),
		ctx:         ctx,
		cancel:      cancel,
	}

	if redisURL == "" {
		a.startWindowSweep()
		return a, nil
	}

	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("kv: invalid redis url: %w", err)
	}
	client := redis.NewClient(opts)

	pingCtx, pingCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer pingCancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		logging.Warn(context.Background(), "kv: substrate unreachable at startup, running local-only")
	}

	st := gobreaker.Settings{
		Name:        "substrate",
		MaxRequests: 5,
		Interval:    1 * time.Minute,
		Timeout:     15 * time.Second,
		OnStateChange: func(name string, from, to gobreaker.State) {
			var v float64
			switch to {
			case gobreaker.StateClosed:
				v = 0
			case gobreaker.StateOpen:
				v = 1
			case gobreaker.StateHalfOpen:
				v = 2
			}
			metrics.SubstrateCircuitState.Set(v)
		},
	}

	a.client = client
	a.cb = gobreaker.NewCircuitBreaker(st)
	a.startWindowSweep()
	return a, nil
}

func (a *Adapter) startWindowSweep() {
	a.sweepOnce.Do(func() {
		go func() {
			ticker := time.NewTicker(localWindowSweepGap)
			defer ticker.Stop()
			for {
				select {
				case <-a.ctx.Done():
					return
				case t := <-ticker.C:
					a.localWindow.sweep(t, localWindowSweepGap)
				}
			}
		}()
	})
}

// Close releases the adapter's background goroutines and substrate client.
func (a *Adapter) Close() error {
	a.cancel()
	a.subMu.Lock()
	for ch, cancel := range a.subs {
		cancel()
		delete(a.subs, ch)
	}
	a.subMu.Unlock()
	if a.client != nil {
		return a.client.Close()
	}
	return nil
}

// degraded reports whether calls should bypass the substrate entirely
// because none was configured. An open circuit breaker is handled per call
// by execute, which returns errDegraded so the caller uses the local path.
func (a *Adapter) degraded() bool {
	return a.client == nil
}

func (a *Adapter) execute(op string, fn func() (any, error)) (any, error) {
	res, err := a.cb.Execute(fn)
	if err != nil {
		if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
			metrics.SubstrateDegradedOps.WithLabelValues(op).Inc()
			return nil, errDegraded
		}
		return nil, err
	}
	return res, nil
}

// errDegraded signals the caller should fall through to the local path;
// it is never returned to callers outside this package.
var errDegraded = fmt.Errorf("kv: substrate degraded")

// Get returns the value for key and whether it was present.
func (a *Adapter) Get(ctx context.Context, key string) (string, bool, error) {
	if a.degraded() {
		v, ok := a.local.get(key)
		return v, ok, nil
	}

	res, err := a.execute("get", func() (any, error) {
		return a.client.Get(ctx, key).Result()
	})
	if err == errDegraded {
		v, ok := a.local.get(key)
		return v, ok, nil
	}
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		logging.Error(ctx, "kv: get failed", loggingErrField(err))
		return "", false, nil
	}
	return res.(string), true, nil
}

// Set stores value under key with the given TTL (zero means no expiry).
func (a *Adapter) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if a.degraded() {
		a.local.set(key, value, ttl)
		return nil
	}

	_, err := a.execute("set", func() (any, error) {
		return nil, a.client.Set(ctx, key, value, ttl).Err()
	})
	if err == errDegraded {
		a.local.set(key, value, ttl)
		return nil
	}
	if err != nil {
		logging.Error(ctx, "kv: set failed", loggingErrField(err))
	}
	return nil
}

// Incr increments key by one, applying ttl only when the counter reaches 1.
func (a *Adapter) Incr(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	if a.degraded() {
		return a.local.incr(key, ttl), nil
	}

	res, err := a.execute("incr", func() (any, error) {
		pipe := a.client.TxPipeline()
		incr := pipe.Incr(ctx, key)
		_, perr := pipe.Exec(ctx)
		if perr != nil {
			return nil, perr
		}
		n := incr.Val()
		if n == 1 && ttl > 0 {
			a.client.Expire(ctx, key, ttl)
		}
		return n, nil
	})
	if err == errDegraded {
		return a.local.incr(key, ttl), nil
	}
	if err != nil {
		logging.Error(ctx, "kv: incr failed", loggingErrField(err))
		return a.local.incr(key, ttl), nil
	}
	return res.(int64), nil
}

// Expire refreshes the TTL on an existing key.
func (a *Adapter) Expire(ctx context.Context, key string, ttl time.Duration) error {
	if a.degraded() {
		a.local.expire(key, ttl)
		return nil
	}

	_, err := a.execute("expire", func() (any, error) {
		return nil, a.client.Expire(ctx, key, ttl).Err()
	})
	if err == errDegraded {
		a.local.expire(key, ttl)
		return nil
	}
	if err != nil {
		logging.Error(ctx, "kv: expire failed", loggingErrField(err))
	}
	return nil
}

// Publish broadcasts payload on channel. Failure is swallowed: publish is
// always best-effort.
func (a *Adapter) Publish(ctx context.Context, channel, payload string) error {
	if a.degraded() {
		return nil // local-only mode: cross-instance fan-out is silently single-process
	}

	_, err := a.execute("publish", func() (any, error) {
		return nil, a.client.Publish(ctx, channel, payload).Err()
	})
	if err != nil && err != errDegraded {
		logging.Warn(ctx, "kv: publish failed, dropping", loggingErrField(err))
	}
	return nil
}

// Subscribe starts a background goroutine delivering messages published on
// channel to handler until Unsubscribe(channel) is called or the adapter is
// closed. Subscribing while in local-only mode is a no-op: there is no
// cross-instance channel to listen on.
func (a *Adapter) Subscribe(ctx context.Context, channel string, handler func(payload string)) {
	if a.degraded() {
		return
	}

	a.subMu.Lock()
	if _, exists := a.subs[channel]; exists {
		a.subMu.Unlock()
		return
	}
	subCtx, cancel := context.WithCancel(a.ctx)
	a.subs[channel] = cancel
	a.subMu.Unlock()

	pubsub := a.client.Subscribe(subCtx, channel)
	go func() {
		defer pubsub.Close()
		ch := pubsub.Channel()
		for {
			select {
			case <-subCtx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				handler(msg.Payload)
			}
		}
	}()
}

// Unsubscribe stops delivering messages for channel and releases its
// subscription goroutine.
func (a *Adapter) Unsubscribe(channel string) {
	a.subMu.Lock()
	defer a.subMu.Unlock()
	if cancel, ok := a.subs[channel]; ok {
		cancel()
		delete(a.subs, channel)
	}
}

// SlidingWindowCount performs the rate limiter's atomic sequence: prune
// entries older than now-window, insert now (with a random tie-breaker so
// concurrent requests in the same instant coexist as distinct members),
// read the resulting cardinality, and refresh the key's TTL to window.
// Returns the post-insert request count within the window.
func (a *Adapter) SlidingWindowCount(ctx context.Context, key string, now time.Time, window time.Duration) (int64, error) {
	if a.degraded() {
		return a.localWindow.add(key, now, window), nil
	}

	member := fmt.Sprintf("%d-%s", now.UnixNano(), tieBreaker())
	cutoff := float64(now.Add(-window).UnixNano())
	score := float64(now.UnixNano())

	res, err := a.execute("sliding_window", func() (any, error) {
		pipe := a.client.TxPipeline()
		pipe.ZRemRangeByScore(ctx, key, "-inf", strconv.FormatFloat(cutoff, 'f', 0, 64))
		pipe.ZAdd(ctx, key, redis.Z{Score: score, Member: member})
		card := pipe.ZCard(ctx, key)
		pipe.Expire(ctx, key, window)
		_, perr := pipe.Exec(ctx)
		if perr != nil {
			return nil, perr
		}
		return card.Val(), nil
	})
	if err == errDegraded {
		return a.localWindow.add(key, now, window), nil
	}
	if err != nil {
		logging.Error(ctx, "kv: sliding window failed", loggingErrField(err))
		return a.localWindow.add(key, now, window), nil
	}
	return res.(int64), nil
}

// Ping reports whether the shared substrate is reachable. Used by the
// health endpoint's readiness check.
func (a *Adapter) Ping(ctx context.Context) error {
	if a.degraded() {
		return nil
	}
	_, err := a.execute("ping", func() (any, error) {
		return nil, a.client.Ping(ctx).Err()
	})
	if err == errDegraded {
		return nil
	}
	return err
}

func tieBreaker() string {
	var b [6]byte
	if _, err := rand.Read(b[:]); err != nil {
		return strconv.FormatInt(mathrand.Int64(), 36)
	}
	return base64.RawURLEncoding.EncodeToString(b[:])
}

func loggingErrField(err error) zap.Field {
	return zap.Error(err)
}
