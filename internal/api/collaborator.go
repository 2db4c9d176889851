// Package api serves the relay's collaborator HTTP surface: thin contract
// handlers for concerns (recognition, search, video search, client config)
// that are fulfilled by external services outside this repo's scope. Only
// /api/identify is backed by a real in-process component, the Identify Pool;
// the rest return the documented shape without reaching out anywhere.
package api

import (
	"io"
	"net/http"
	"os"

	"github.com/gin-gonic/gin"

	"github.com/oaktech/musicsync-relay/internal/identify"
)

const maxIdentifyUploadBytes = 3 << 20 // 3 MiB

// Handler serves the collaborator endpoints.
type Handler struct {
	pool *identify.Pool
}

// NewHandler builds a collaborator Handler backed by the given Identify Pool.
func NewHandler(pool *identify.Pool) *Handler {
	return &Handler{pool: pool}
}

// Identify handles POST /api/identify: a multipart audio upload, submitted
// to the Identify Pool and awaited synchronously. Returns 503 when the pool
// is overloaded, matching the pool's OVERLOADED contract.
func (h *Handler) Identify(c *gin.Context) {
	file, _, err := c.Request.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing audio file"})
		return
	}
	defer file.Close()

	tmp, err := os.CreateTemp("", "identify-*.audio")
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	defer os.Remove(tmp.Name())
	defer tmp.Close()

	if _, err := io.CopyN(tmp, file, maxIdentifyUploadBytes+1); err != nil && err != io.EOF {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	if info, err := tmp.Stat(); err == nil && info.Size() > maxIdentifyUploadBytes {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "audio file exceeds 3 MiB limit"})
		return
	}

	match, err := h.pool.Submit(c.Request.Context(), tmp.Name())
	if err != nil {
		if err == identify.ErrOverloaded {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Server overloaded, try again shortly"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"match": nil})
		return
	}
	c.JSON(http.StatusOK, gin.H{"match": match})
}

// Search handles GET /api/search. Contract-only: returns an empty result set
// without calling out to any real metadata provider.
func (h *Handler) Search(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"query": c.Query("q"), "results": []any{}})
}

// VideoSearch handles GET /api/video/search. Contract-only, same shape as Search.
func (h *Handler) VideoSearch(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"query": c.Query("q"), "results": []any{}})
}

// Config handles GET /api/config: client-facing feature flags and limits.
func (h *Handler) Config(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"maxIdentifyUploadBytes": maxIdentifyUploadBytes,
		"maxFrameBytes":          50 * 1024,
	})
}

// Health handles GET /api/health: the collaborator-facing liveness contract,
// distinct from the operator-facing /healthz probes.
func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
