package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

const healthProbeTimeout = 5 * time.Second

// Health reports whether the upstream answers at all. Any HTTP status
// counts as reachable.
func (h *Handler) Health(c *gin.Context) {
	now := time.Now().UTC().Format(time.RFC3339)

	ctx, cancel := context.WithTimeout(c.Request.Context(), healthProbeTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.upstream.String()+"/", nil)
	if err == nil {
		var resp *http.Response
		resp, err = h.client.Do(req)
		if err == nil {
			resp.Body.Close()
			c.JSON(http.StatusOK, gin.H{
				"success":        true,
				"message":        "backend is reachable",
				"upstreamStatus": resp.StatusCode,
				"timestamp":      now,
			})
			return
		}
	}
	c.JSON(http.StatusInternalServerError, gin.H{
		"success":   false,
		"message":   "backend is not reachable",
		"error":     err.Error(),
		"timestamp": now,
	})
}
