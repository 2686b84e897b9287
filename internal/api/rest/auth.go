package rest

import (
	"errors"
	"net/http"

	"github.com/Saturday-Vinyl/machine-link/internal/auth"
	"github.com/Saturday-Vinyl/machine-link/internal/types"
	"github.com/gin-gonic/gin"
)

// POST /api/v1/auth/login
func (s *Server) login(c *gin.Context) {
	var req struct {
		Username string `json:"username" binding:"required"`
		Password string `json:"password" binding:"required"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, types.NewErrorResponse("AUTH_400", "Invalid request body", err.Error()))
		return
	}

	token, err := s.authService.Login(req.Username, req.Password)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			c.JSON(http.StatusUnauthorized, types.NewErrorResponse("AUTH_401", "Invalid credentials", ""))
			return
		}
		c.JSON(http.StatusInternalServerError, types.NewErrorResponse("AUTH_500", "Login failed", err.Error()))
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"access_token": token,
		"token_type":   "Bearer",
		"role":         auth.RoleOperator,
	})
}
