package api

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/blockgate/hosting/internal/middleware"
	"github.com/blockgate/hosting/internal/models"
)

// FleetReconciler is the slice of the proxy reconciler the admin
// surface drives.
type FleetReconciler interface {
	Reconcile(ctx context.Context) error
	Health() []models.ProxyHealth
}

// AdminHandler serves operator-only endpoints.
type AdminHandler struct {
	reconciler FleetReconciler
}

func NewAdminHandler(reconciler FleetReconciler) *AdminHandler {
	return &AdminHandler{reconciler: reconciler}
}

// Reconcile handles POST /admin/reconcile. It runs a full fleet pass
// synchronously so the operator sees the outcome in the response.
func (h *AdminHandler) Reconcile(c *gin.Context) {
	if err := h.reconciler.Reconcile(c.Request.Context()); err != nil {
		middleware.Respond(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "reconciled"})
}

// ProxyHealth handles GET /admin/proxies/health.
func (h *AdminHandler) ProxyHealth(c *gin.Context) {
	proxies := h.reconciler.Health()
	if proxies == nil {
		proxies = []models.ProxyHealth{}
	}

	c.JSON(http.StatusOK, gin.H{"proxies": proxies})
}
