package handlers

import (
	"net/http"
	"strings"

	"github.com/SAP-F-2025/proctoring-service/internal/auth"
	"github.com/SAP-F-2025/proctoring-service/internal/models"
	"github.com/gin-gonic/gin"
)

// Gin context keys set by AuthMiddleware.
const (
	ContextIdentity = "identity"
	ContextUserID   = "user_id"
)

func ParseStringIDParam(c *gin.Context, param string) string {
	idStr := c.Param(param)
	idStr = strings.TrimSpace(idStr)
	if idStr == "" {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Message: "Invalid " + param,
			Details: "ID cannot be empty",
		})
		return ""
	}
	return idStr
}

// AuthMiddleware resolves the caller from a bearer token or, when no token is
// presented, from the X-User-ID / X-User-Role headers.
func AuthMiddleware(authenticator auth.Authenticator) gin.HandlerFunc {
	return func(c *gin.Context) {
		identity, err := authenticator.Authenticate(c.Request.Context(), credentialsFromRequest(c))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, ErrorResponse{
				Message: "User not authenticated",
				Code:    "UNAUTHENTICATED",
			})
			return
		}

		c.Set(ContextIdentity, identity)
		c.Set(ContextUserID, identity.UserID)
		c.Next()
	}
}

func credentialsFromRequest(c *gin.Context) auth.Credentials {
	locale := c.GetHeader("X-User-Locale")
	if locale == "" {
		locale = c.GetHeader("Accept-Language")
	}
	return auth.Credentials{
		Token:  auth.BearerToken(c.GetHeader("Authorization")),
		UserID: c.GetHeader("X-User-ID"),
		Role:   c.GetHeader("X-User-Role"),
		Locale: locale,
	}
}

// StaffOnly rejects callers outside the monitoring staff group.
func StaffOnly() gin.HandlerFunc {
	return func(c *gin.Context) {
		identity := identityFrom(c)
		if identity == nil || !identity.Role.IsStaff() {
			c.AbortWithStatusJSON(http.StatusForbidden, ErrorResponse{
				Message: "Access denied",
				Code:    "FORBIDDEN",
			})
			return
		}
		c.Next()
	}
}

func identityFrom(c *gin.Context) *models.Identity {
	value, exists := c.Get(ContextIdentity)
	if !exists {
		return nil
	}
	identity, _ := value.(*models.Identity)
	return identity
}
