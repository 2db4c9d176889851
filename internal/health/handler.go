// Package health exposes liveness and readiness probes for the relay process.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/oaktech/musicsync-relay/internal/kv"
	"github.com/oaktech/musicsync-relay/internal/logging"
)

// LivenessResponse is the liveness probe body.
type LivenessResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
}

// ReadinessResponse is the readiness probe body.
type ReadinessResponse struct {
	Status    string            `json:"status"`
	Checks    map[string]string `json:"checks"`
	Timestamp string            `json:"timestamp"`
}

// Handler serves the relay's health endpoints.
type Handler struct {
	kv *kv.Adapter
}

// NewHandler builds a Handler backed by the given substrate adapter. A nil
// adapter (or one running local-only) is reported as healthy, since the
// relay degrades to in-process fan-out rather than failing.
func NewHandler(adapter *kv.Adapter) *Handler {
	return &Handler{kv: adapter}
}

// Liveness handles GET /healthz/live. Returns 200 as long as the process is
// scheduling goroutines at all; it performs no dependency checks.
func (h *Handler) Liveness(c *gin.Context) {
	c.JSON(http.StatusOK, LivenessResponse{
		Status:    "alive",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

// Readiness handles GET /healthz/ready. A substrate circuit that's merely
// open (degraded mode) still reports healthy here: the relay keeps accepting
// connections on local-only fan-out, so pulling it from a load balancer over
// a transient substrate blip would be wrong. Only a hard ping failure with
// the circuit closed counts as unready.
func (h *Handler) Readiness(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
	defer cancel()

	checks := make(map[string]string)
	allHealthy := true

	substrateStatus := h.checkSubstrate(ctx)
	checks["substrate"] = substrateStatus
	if substrateStatus == "unhealthy" {
		allHealthy = false
	}

	status := "ready"
	statusCode := http.StatusOK
	if !allHealthy {
		status = "unavailable"
		statusCode = http.StatusServiceUnavailable
	}

	c.JSON(statusCode, ReadinessResponse{
		Status:    status,
		Checks:    checks,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

func (h *Handler) checkSubstrate(ctx context.Context) string {
	if h.kv == nil {
		return "healthy"
	}
	if err := h.kv.Ping(ctx); err != nil {
		logging.Error(ctx, "substrate health check failed", zap.Error(err))
		return "unhealthy"
	}
	return "healthy"
}

// MarshalJSON gives ReadinessResponse a stable field order in the response body.
func (r ReadinessResponse) MarshalJSON() ([]byte, error) {
	type Alias ReadinessResponse
	return json.Marshal(&struct{ *Alias }{Alias: (*Alias)(&r)})
}
