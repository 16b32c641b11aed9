package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/blockgate/hosting/internal/middleware"
	"github.com/blockgate/hosting/internal/models"
	"github.com/blockgate/hosting/internal/service"
)

// ServerHandler serves the game-server lifecycle endpoints.
type ServerHandler struct {
	servers *service.ServerService
}

func NewServerHandler(servers *service.ServerService) *ServerHandler {
	return &ServerHandler{servers: servers}
}

// DeleteServerRequest names the server to tear down.
type DeleteServerRequest struct {
	UniqueID string `json:"unique-id" binding:"required"`
}

// CheckSubdomainRequest is the payload for the subdomain probe.
type CheckSubdomainRequest struct {
	Subdomain string `json:"subdomain" binding:"required"`
}

// CreateServer handles POST /server/create. A 201 with success=false
// means the server exists but DNS publication is still pending; the
// details list names the step that failed.
func (h *ServerHandler) CreateServer(c *gin.Context) {
	var req service.CreateServerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, middleware.ErrorResponse{Error: err.Error(), Code: "BAD_REQUEST"})
		return
	}

	result, err := h.servers.CreateServer(c.Request.Context(), middleware.CallerEmail(c), req)
	if err != nil {
		middleware.Respond(c, err)
		return
	}

	c.JSON(http.StatusCreated, result)
}

// DeleteServer handles POST /server/delete. Teardown always runs to the
// end, so the response reports every step even when some failed.
func (h *ServerHandler) DeleteServer(c *gin.Context) {
	var req DeleteServerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, middleware.ErrorResponse{Error: err.Error(), Code: "BAD_REQUEST"})
		return
	}

	result, err := h.servers.DeleteServer(c.Request.Context(), middleware.CallerEmail(c), req.UniqueID)
	if err != nil {
		middleware.Respond(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

// ListServers handles GET /server/list.
func (h *ServerHandler) ListServers(c *gin.Context) {
	servers, err := h.servers.ListServers(c.Request.Context(), middleware.CallerEmail(c))
	if err != nil {
		middleware.Respond(c, err)
		return
	}
	if servers == nil {
		servers = []models.Server{}
	}

	c.JSON(http.StatusOK, gin.H{"servers": servers})
}

// GetServer handles GET /server/:id.
func (h *ServerHandler) GetServer(c *gin.Context) {
	server, err := h.servers.GetServer(c.Request.Context(), middleware.CallerEmail(c), c.Param("id"))
	if err != nil {
		middleware.Respond(c, err)
		return
	}

	c.JSON(http.StatusOK, server)
}

// StartServer handles POST /server/:id/start.
func (h *ServerHandler) StartServer(c *gin.Context) {
	server, err := h.servers.StartServer(c.Request.Context(), middleware.CallerEmail(c), c.Param("id"))
	if err != nil {
		middleware.Respond(c, err)
		return
	}

	c.JSON(http.StatusOK, server)
}

// StopServer handles POST /server/:id/stop.
func (h *ServerHandler) StopServer(c *gin.Context) {
	server, err := h.servers.StopServer(c.Request.Context(), middleware.CallerEmail(c), c.Param("id"))
	if err != nil {
		middleware.Respond(c, err)
		return
	}

	c.JSON(http.StatusOK, server)
}

// CheckSubdomain handles POST /server/check-subdomain.
func (h *ServerHandler) CheckSubdomain(c *gin.Context) {
	var req CheckSubdomainRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, middleware.ErrorResponse{Error: err.Error(), Code: "BAD_REQUEST"})
		return
	}

	check, err := h.servers.CheckSubdomain(c.Request.Context(), middleware.CallerEmail(c), req.Subdomain)
	if err != nil {
		middleware.Respond(c, err)
		return
	}

	c.JSON(http.StatusOK, check)
}
