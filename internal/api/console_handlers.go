package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/blockgate/hosting/internal/middleware"
	"github.com/blockgate/hosting/internal/service"
)

// ConsoleHandler relays console commands to running servers.
type ConsoleHandler struct {
	console *service.ConsoleService
}

func NewConsoleHandler(console *service.ConsoleService) *ConsoleHandler {
	return &ConsoleHandler{console: console}
}

// CommandRequest carries one console command line.
type CommandRequest struct {
	Command string `json:"command" binding:"required"`
}

// ExecuteCommand handles POST /server/:id/command.
func (h *ConsoleHandler) ExecuteCommand(c *gin.Context) {
	var req CommandRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, middleware.ErrorResponse{Error: err.Error(), Code: "BAD_REQUEST"})
		return
	}

	response, err := h.console.ExecuteCommand(c.Request.Context(), middleware.CallerEmail(c), c.Param("id"), req.Command)
	if err != nil {
		middleware.Respond(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"response": response})
}
