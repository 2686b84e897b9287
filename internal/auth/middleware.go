package auth

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

const roleKey = "role"

// Middleware validates the bearer token and stores the caller's role in
// the request context.
func (s *Service) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.JSON(http.StatusUnauthorized, gin.H{
				"error": "missing authorization header",
			})
			c.Abort()
			return
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" {
			c.JSON(http.StatusUnauthorized, gin.H{
				"error": "invalid authorization header format",
			})
			c.Abort()
			return
		}

		role, err := s.ValidateToken(parts[1])
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{
				"error": "invalid or expired token",
			})
			c.Abort()
			return
		}

		c.Set(roleKey, role)
		c.Next()
	}
}

// RequireRole aborts the request unless the caller holds one of the
// given roles.
func RequireRole(roles ...Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		value, exists := c.Get(roleKey)
		if !exists {
			c.JSON(http.StatusForbidden, gin.H{"error": "no role in context"})
			c.Abort()
			return
		}

		current, _ := value.(Role)
		for _, role := range roles {
			if current == role {
				c.Next()
				return
			}
		}

		c.JSON(http.StatusForbidden, gin.H{"error": "insufficient permissions"})
		c.Abort()
	}
}

// RoleFrom extracts the caller's role from the request context.
func RoleFrom(c *gin.Context) Role {
	value, _ := c.Get(roleKey)
	role, _ := value.(Role)
	return role
}
