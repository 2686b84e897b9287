package rest

import (
	"errors"
	"net/http"

	"github.com/Saturday-Vinyl/machine-link/internal/grbl"
	"github.com/Saturday-Vinyl/machine-link/internal/machine"
	"github.com/Saturday-Vinyl/machine-link/internal/types"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// GET /api/v1/machine/status
func (s *Server) getMachineStatus(c *gin.Context) {
	status := s.lm.MachineController().GetStatus()
	c.JSON(http.StatusOK, status)
}

// POST /api/v1/machine/connect
func (s *Server) connect(c *gin.Context) {
	var req struct {
		Port string `json:"port" binding:"required"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, types.NewErrorResponse("MACHINE_400", "Invalid request body", err.Error()))
		return
	}

	if err := s.lm.MachineController().Connect(c.Request.Context(), req.Port); err != nil {
		s.logger.Error("Connect failed",
			zap.String("port", req.Port),
			zap.Error(err))
		c.JSON(machineErrorStatus(err), types.NewErrorResponse("MACHINE_CONNECT", "Connection failed", err.Error()))
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": "Connected",
		"port":    req.Port,
	})
}

// POST /api/v1/machine/disconnect
func (s *Server) disconnect(c *gin.Context) {
	if err := s.lm.MachineController().Disconnect(); err != nil {
		c.JSON(machineErrorStatus(err), types.NewErrorResponse("MACHINE_DISCONNECT", "Disconnect failed", err.Error()))
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Disconnected"})
}

// POST /api/v1/machine/home
func (s *Server) home(c *gin.Context) {
	if err := s.lm.MachineController().Home(c.Request.Context()); err != nil {
		s.logger.Error("Homing failed", zap.Error(err))
		c.JSON(machineErrorStatus(err), types.NewErrorResponse("MACHINE_HOME", "Homing failed", err.Error()))
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Homing complete"})
}

// POST /api/v1/machine/unlock
func (s *Server) unlock(c *gin.Context) {
	if err := s.lm.MachineController().Unlock(c.Request.Context()); err != nil {
		c.JSON(machineErrorStatus(err), types.NewErrorResponse("MACHINE_UNLOCK", "Unlock failed", err.Error()))
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Alarm cleared"})
}

// POST /api/v1/machine/zero
func (s *Server) setZero(c *gin.Context) {
	var req struct {
		Axes []string `json:"axes" binding:"required,min=1"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, types.NewErrorResponse("MACHINE_400", "Invalid request body", err.Error()))
		return
	}

	if err := s.lm.MachineController().SetZero(c.Request.Context(), req.Axes); err != nil {
		c.JSON(machineErrorStatus(err), types.NewErrorResponse("MACHINE_ZERO", "Set zero failed", err.Error()))
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": "Work zero set",
		"axes":    req.Axes,
	})
}

// POST /api/v1/machine/command
func (s *Server) executeMachineCommand(c *gin.Context) {
	var req struct {
		Command string `json:"command" binding:"required"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, types.NewErrorResponse("MACHINE_400", "Invalid request body", err.Error()))
		return
	}

	cmd := machine.Command(req.Command)

	if err := s.lm.MachineController().ExecuteCommand(c.Request.Context(), cmd); err != nil {
		s.logger.Error("Machine command failed",
			zap.String("command", req.Command),
			zap.Error(err))
		c.JSON(http.StatusBadRequest, types.NewErrorResponse("MACHINE_400", "Command execution failed", err.Error()))
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"message": "Command accepted",
		"command": req.Command,
	})
}

// POST /api/v1/machine/estop
func (s *Server) emergencyStop(c *gin.Context) {
	s.lm.MachineController().EmergencyStop()

	c.JSON(http.StatusAccepted, gin.H{"message": "Emergency stop issued"})
}

func machineErrorStatus(err error) int {
	switch {
	case errors.Is(err, grbl.ErrInvalidRequest):
		return http.StatusBadRequest
	case errors.Is(err, grbl.ErrNotConnected),
		errors.Is(err, grbl.ErrAlreadyConnected):
		return http.StatusConflict
	case errors.Is(err, grbl.ErrAckTimeout),
		errors.Is(err, grbl.ErrNoResponse):
		return http.StatusGatewayTimeout
	default:
		return http.StatusBadGateway
	}
}
