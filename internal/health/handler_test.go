package health

import (
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"

	"github.com/oaktech/musicsync-relay/internal/kv"
)

func TestLiveness(t *testing.T) {
	gin.SetMode(gin.TestMode)
	handler := NewHandler(nil)

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest("GET", "/healthz/live", nil)

	handler.Liveness(c)

	assert.Equal(t, 200, w.Code)
	assert.Contains(t, w.Body.String(), "alive")
	assert.Contains(t, w.Body.String(), "timestamp")
}

func TestReadinessNilAdapter(t *testing.T) {
	gin.SetMode(gin.TestMode)
	handler := NewHandler(nil)

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest("GET", "/healthz/ready", nil)

	handler.Readiness(c)

	assert.Equal(t, 200, w.Code)
	assert.Contains(t, w.Body.String(), "ready")
	assert.Contains(t, w.Body.String(), "healthy")
	assert.Contains(t, w.Body.String(), "substrate")
}

func TestReadinessLocalOnlyAdapterReportsHealthy(t *testing.T) {
	gin.SetMode(gin.TestMode)
	adapter, err := kv.New("")
	assert.NoError(t, err)
	t.Cleanup(func() { adapter.Close() })

	handler := NewHandler(adapter)

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest("GET", "/healthz/ready", nil)

	handler.Readiness(c)

	assert.Equal(t, 200, w.Code)
	assert.Contains(t, w.Body.String(), "healthy")
}

func TestLivenessAlwaysSucceeds(t *testing.T) {
	gin.SetMode(gin.TestMode)
	handler := NewHandler(nil)

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest("GET", "/healthz/live", nil)

	handler.Liveness(c)

	assert.Equal(t, 200, w.Code)
}
