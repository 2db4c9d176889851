package kv

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLRUCacheEvictsLeastRecentlyUsed(t *testing.T) {
	c := newLRUCache(2)
	c.set("a", "1", 0)
	c.set("b", "2", 0)
	c.set("c", "3", 0) // evicts "a"

	_, ok := c.get("a")
	assert.False(t, ok)

	v, ok := c.get("b")
	assert.True(t, ok)
	assert.Equal(t, "2", v)
}

func TestLRUCacheKeyNormalization(t *testing.T) {
	c := newLRUCache(10)
	c.set("  Ws:Session:ABCDEF  ", "v", 0)

	v, ok := c.get("ws:session:abcdef")
	assert.True(t, ok)
	assert.Equal(t, "v", v)
}

func TestLRUCacheExpiry(t *testing.T) {
	c := newLRUCache(10)
	c.set("k", "v", time.Millisecond)
	time.Sleep(5 * time.Millisecond)

	_, ok := c.get("k")
	assert.False(t, ok)
}

func TestLRUCacheIncrCreatesAndIncrements(t *testing.T) {
	c := newLRUCache(10)
	n := c.incr("counter", time.Minute)
	assert.Equal(t, int64(1), n)

	n = c.incr("counter", time.Minute)
	assert.Equal(t, int64(2), n)
}

func TestLRUCacheIncrResetsAfterExpiry(t *testing.T) {
	c := newLRUCache(10)
	c.incr("counter", time.Millisecond)
	time.Sleep(5 * time.Millisecond)

	n := c.incr("counter", time.Minute)
	assert.Equal(t, int64(1), n)
}
