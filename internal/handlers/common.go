package handlers

import (
	"net/http"
	"time"

	"github.com/SAP-F-2025/proctoring-service/internal/services"
	"github.com/SAP-F-2025/proctoring-service/internal/utils"
	"github.com/gin-gonic/gin"
)

// ===== COMMON RESPONSE STRUCTURES =====

// ErrorResponse represents an error response
type ErrorResponse struct {
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
	Code    string      `json:"code,omitempty"`
}

// SuccessResponse represents a success response
type SuccessResponse struct {
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// ===== BASE HANDLER STRUCT =====

// BaseHandler provides common logging functionality for all handlers
type BaseHandler struct {
	logger utils.Logger
}

// NewBaseHandler creates a new base handler with logging capability
func NewBaseHandler(logger utils.Logger) BaseHandler {
	return BaseHandler{
		logger: logger,
	}
}

func (h *BaseHandler) requestFields(c *gin.Context, additionalFields ...interface{}) []interface{} {
	fields := []interface{}{
		"request_id", c.GetHeader("X-Request-ID"),
		"user_id", h.extractUserID(c),
		"method", c.Request.Method,
		"path", c.Request.URL.Path,
	}
	return append(fields, additionalFields...)
}

// LogRequest logs incoming HTTP requests with context information
func (h *BaseHandler) LogRequest(c *gin.Context, message string, additionalFields ...interface{}) {
	fields := h.requestFields(c, "remote_addr", c.ClientIP(), "timestamp", time.Now().Format(time.RFC3339))
	h.logger.Info(message, append(fields, additionalFields...)...)
}

// LogError logs error details with context information
func (h *BaseHandler) LogError(c *gin.Context, err error, message string, additionalFields ...interface{}) {
	h.logger.LogError(err, message, h.requestFields(c, additionalFields...)...)
}

func (h *BaseHandler) LogWarn(c *gin.Context, message string, additionalFields ...interface{}) {
	h.logger.Warn(message, h.requestFields(c, additionalFields...)...)
}

// Helper method to extract user ID from context
func (h *BaseHandler) extractUserID(c *gin.Context) interface{} {
	if userID, exists := c.Get(ContextUserID); exists {
		return userID
	}
	return nil
}

// RespondWithError sends a consistent error response and logs it
func (h *BaseHandler) RespondWithError(c *gin.Context, statusCode int, message string, err error, details ...interface{}) {
	errorResp := ErrorResponse{
		Message: message,
	}

	if len(details) > 0 {
		errorResp.Details = details[0]
	}

	if err != nil {
		h.LogError(c, err, message, "status_code", statusCode)
	} else {
		h.LogWarn(c, message, "status_code", statusCode)
	}

	c.JSON(statusCode, errorResp)
}

// handleServiceError maps a service error onto an HTTP response.
func (h *BaseHandler) handleServiceError(c *gin.Context, err error) {
	status, code, message := classifyError(err)

	resp := ErrorResponse{Message: message, Code: code}
	if status == http.StatusBadRequest {
		resp.Details = err.Error()
	}

	if status >= http.StatusInternalServerError {
		h.LogError(c, err, message, "status_code", status)
	} else {
		h.LogWarn(c, message, "status_code", status, "error", err.Error())
	}

	c.JSON(status, resp)
}

// classifyError is shared by the HTTP and realtime layers.
func classifyError(err error) (status int, code, message string) {
	switch {
	case services.IsNotFound(err):
		return http.StatusNotFound, "NOT_FOUND", err.Error()
	case services.IsConflict(err):
		return http.StatusConflict, "CONFLICT", err.Error()
	case services.IsForbidden(err):
		return http.StatusForbidden, "FORBIDDEN", "Access denied"
	case services.IsValidation(err):
		return http.StatusBadRequest, "VALIDATION_ERROR", "Validation failed"
	case services.IsPersistence(err):
		return http.StatusInternalServerError, "PERSISTENCE_ERROR", "Failed to persist proctoring data"
	}
	return http.StatusInternalServerError, "INTERNAL_ERROR", "Internal server error"
}
