package ratelimit

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oaktech/musicsync-relay/internal/kv"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newTestContext(method, target string) (*httptest.ResponseRecorder, *gin.Context) {
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(method, target, nil)
	return w, c
}

func TestMiddlewareAllowsWithinLimit(t *testing.T) {
	adapter, err := kv.New("")
	require.NoError(t, err)
	defer adapter.Close()

	l := New(adapter, "test", time.Second, 5, ByClientIP)
	handler := l.Middleware()

	for i := 0; i < 5; i++ {
		w, c := newTestContext("GET", "/x")
		handler(c)
		assert.Equal(t, 200, w.Code)
	}
}

func TestMiddlewareRejectsOverLimit(t *testing.T) {
	adapter, err := kv.New("")
	require.NoError(t, err)
	defer adapter.Close()

	l := New(adapter, "test-overlimit", time.Second, 5, ByClientIP)
	handler := l.Middleware()

	var lastCode int
	for i := 0; i < 6; i++ {
		w, c := newTestContext("GET", "/x")
		handler(c)
		lastCode = w.Code
		if i == 5 {
			assert.Equal(t, 429, lastCode)
			assert.Equal(t, "1", w.Header().Get("Retry-After"))
		}
	}
}

func TestBySessionQueryParamFallsBackToIP(t *testing.T) {
	_, c := newTestContext("GET", "/x")
	key := BySessionQueryParam(c)
	assert.NotEmpty(t, key)
}

func TestBySessionQueryParamUsesSession(t *testing.T) {
	_, c := newTestContext("GET", "/x?session=ABCDEF")
	assert.Equal(t, "ABCDEF", BySessionQueryParam(c))
}
