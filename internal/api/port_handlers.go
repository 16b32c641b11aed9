package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/blockgate/hosting/internal/middleware"
	"github.com/blockgate/hosting/internal/service"
)

// PortHandler serves availability probes and admin port reservations.
type PortHandler struct {
	ports *service.PortService
}

func NewPortHandler(ports *service.PortService) *PortHandler {
	return &PortHandler{ports: ports}
}

// CheckAvailability handles GET /server/check-availability. The rcon
// query flag asks for an RCON port to be probed alongside the game port.
func (h *PortHandler) CheckAvailability(c *gin.Context) {
	needsRcon, _ := strconv.ParseBool(c.DefaultQuery("rcon", "false"))

	result, err := h.ports.CheckAvailability(c.Request.Context(), middleware.CallerEmail(c), needsRcon)
	if err != nil {
		middleware.Respond(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

// ReservePorts handles POST /admin/ports/reserve.
func (h *PortHandler) ReservePorts(c *gin.Context) {
	var req service.ReserveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, middleware.ErrorResponse{Error: err.Error(), Code: "BAD_REQUEST"})
		return
	}

	user, err := h.ports.ReserveRange(c.Request.Context(), middleware.CallerEmail(c), req)
	if err != nil {
		middleware.Respond(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"email":                user.Email,
		"reserved-ports":       user.ReservedPorts,
		"reserved-port-ranges": user.ReservedPortRanges,
	})
}
