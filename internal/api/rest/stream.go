package rest

import (
	"errors"
	"net/http"

	"github.com/Saturday-Vinyl/machine-link/internal/stream"
	"github.com/Saturday-Vinyl/machine-link/internal/types"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// POST /api/v1/stream
func (s *Server) startStream(c *gin.Context) {
	var req struct {
		Lines []string `json:"lines" binding:"required"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, types.NewErrorResponse("STREAM_400", "Invalid request body", err.Error()))
		return
	}

	job, err := s.lm.MachineController().StartStream(req.Lines)
	if err != nil {
		s.logger.Warn("Stream start rejected", zap.Error(err))
		c.JSON(streamErrorStatus(err), types.NewErrorResponse("STREAM_START", "Stream start rejected", err.Error()))
		return
	}

	status := job.Status()
	c.JSON(http.StatusAccepted, gin.H{
		"message": "Stream started",
		"job":     status,
	})
}

// POST /api/v1/stream/pause
func (s *Server) pauseStream(c *gin.Context) {
	if err := s.lm.MachineController().PauseStream(); err != nil {
		c.JSON(streamErrorStatus(err), types.NewErrorResponse("STREAM_PAUSE", "Pause failed", err.Error()))
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Stream paused"})
}

// POST /api/v1/stream/resume
func (s *Server) resumeStream(c *gin.Context) {
	if err := s.lm.MachineController().ResumeStream(); err != nil {
		c.JSON(streamErrorStatus(err), types.NewErrorResponse("STREAM_RESUME", "Resume failed", err.Error()))
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Stream resumed"})
}

// POST /api/v1/stream/stop
func (s *Server) stopStream(c *gin.Context) {
	if err := s.lm.MachineController().StopStream(); err != nil {
		c.JSON(streamErrorStatus(err), types.NewErrorResponse("STREAM_STOP", "Stop failed", err.Error()))
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"message": "Stream aborted"})
}

// GET /api/v1/stream/job
func (s *Server) getJob(c *gin.Context) {
	job := s.lm.MachineController().ActiveJob()
	if job == nil {
		c.JSON(http.StatusNotFound, types.NewErrorResponse("STREAM_404", "No job", "no job has been started"))
		return
	}

	c.JSON(http.StatusOK, job.Status())
}

func streamErrorStatus(err error) int {
	switch {
	case errors.Is(err, stream.ErrEmptyProgram):
		return http.StatusBadRequest
	case errors.Is(err, stream.ErrNoJob):
		return http.StatusNotFound
	case errors.Is(err, stream.ErrAlreadyRunning),
		errors.Is(err, stream.ErrNotReady):
		return http.StatusConflict
	default:
		return http.StatusBadGateway
	}
}
