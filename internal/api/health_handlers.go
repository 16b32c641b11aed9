package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

const readinessTimeout = 5 * time.Second

// Probe checks one upstream the control plane cannot serve without.
type Probe struct {
	Name  string
	Check func(ctx context.Context) error
}

// HealthHandler serves liveness and readiness endpoints.
type HealthHandler struct {
	startTime time.Time
	probes    []Probe
}

func NewHealthHandler(probes ...Probe) *HealthHandler {
	return &HealthHandler{
		startTime: time.Now(),
		probes:    probes,
	}
}

// HealthCheck handles GET /health.
func (h *HealthHandler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "healthy",
		"service": "blockgate-hosting",
		"uptime":  time.Since(h.startTime).String(),
	})
}

// ReadinessCheck handles GET /ready. It fails on the first unreachable
// upstream and names it, so orchestrators keep traffic away until the
// datastore and the container engine both answer.
func (h *HealthHandler) ReadinessCheck(c *gin.Context) {
	for _, probe := range h.probes {
		ctx, cancel := context.WithTimeout(c.Request.Context(), readinessTimeout)
		err := probe.Check(ctx)
		cancel()
		if err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status": "not_ready",
				"reason": probe.Name + "_unavailable",
				"error":  err.Error(),
			})
			return
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"status": "ready",
		"uptime": time.Since(h.startTime).String(),
	})
}

// LivenessCheck handles GET /live.
func (h *HealthHandler) LivenessCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "alive",
		"uptime": time.Since(h.startTime).String(),
	})
}
