package rest

import (
	"errors"
	"net/http"

	"github.com/Saturday-Vinyl/machine-link/internal/jog"
	"github.com/Saturday-Vinyl/machine-link/internal/types"
	"github.com/gin-gonic/gin"
)

// POST /api/v1/jog/start
func (s *Server) jogStart(c *gin.Context) {
	var req struct {
		Axis string `json:"axis" binding:"required"`
		Sign int    `json:"sign" binding:"required"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, types.NewErrorResponse("JOG_400", "Invalid request body", err.Error()))
		return
	}

	if err := s.lm.MachineController().JogStart(req.Axis, req.Sign); err != nil {
		c.JSON(jogErrorStatus(err), types.NewErrorResponse("JOG_START", "Jog rejected", err.Error()))
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"message": "Jog started",
		"axis":    req.Axis,
		"sign":    req.Sign,
	})
}

// POST /api/v1/jog/stop
func (s *Server) jogStop(c *gin.Context) {
	if err := s.lm.MachineController().JogStop(); err != nil {
		c.JSON(jogErrorStatus(err), types.NewErrorResponse("JOG_STOP", "Jog stop failed", err.Error()))
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Jog stopped"})
}

// POST /api/v1/jog/mode
func (s *Server) setJogMode(c *gin.Context) {
	var req struct {
		Mode string `json:"mode" binding:"required"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, types.NewErrorResponse("JOG_400", "Invalid request body", err.Error()))
		return
	}

	if err := s.lm.MachineController().SetJogMode(req.Mode); err != nil {
		c.JSON(jogErrorStatus(err), types.NewErrorResponse("JOG_MODE", "Invalid jog mode", err.Error()))
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": "Jog mode set",
		"mode":    req.Mode,
	})
}

func jogErrorStatus(err error) int {
	switch {
	case errors.Is(err, jog.ErrInvalidMode),
		errors.Is(err, jog.ErrInvalidSign):
		return http.StatusBadRequest
	case errors.Is(err, jog.ErrNotReady):
		return http.StatusConflict
	default:
		return http.StatusBadGateway
	}
}
