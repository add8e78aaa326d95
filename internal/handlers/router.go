package handlers

import (
	"net/http"

	"github.com/SAP-F-2025/proctoring-service/internal/auth"
	"github.com/SAP-F-2025/proctoring-service/internal/realtime"
	"github.com/SAP-F-2025/proctoring-service/internal/services"
	"github.com/SAP-F-2025/proctoring-service/internal/utils"
	"github.com/SAP-F-2025/proctoring-service/internal/validator"
	"github.com/gin-gonic/gin"
)

type HandlerManager struct {
	proctoringHandler *ProctoringHandler
	websocket         http.Handler
	hub               *realtime.Hub
	authenticator     auth.Authenticator
}

// NewHandlerManager wires the HTTP handlers and installs the socket handler
// on the hub.
func NewHandlerManager(
	service services.ProctoringService,
	hub *realtime.Hub,
	websocket http.Handler,
	authenticator auth.Authenticator,
	validator *validator.Validator,
	logger utils.Logger,
) *HandlerManager {
	hub.SetHandler(NewSocketHandler(hub, service, logger))

	return &HandlerManager{
		proctoringHandler: NewProctoringHandler(service, validator, logger),
		websocket:         websocket,
		hub:               hub,
		authenticator:     authenticator,
	}
}

// SetupRoutes sets up all API routes
func (hm *HandlerManager) SetupRoutes(router *gin.Engine) {
	router.GET("/health", hm.HealthCheck)
	router.GET("/ws", gin.WrapH(hm.websocket))

	v1 := router.Group("/api/v1")
	v1.Use(AuthMiddleware(hm.authenticator))
	{
		sessions := v1.Group("/proctoring/sessions")
		{
			sessions.POST("", hm.proctoringHandler.StartSession)
			sessions.GET("/:attempt_id", hm.proctoringHandler.GetSession)
			sessions.POST("/:attempt_id/violations", hm.proctoringHandler.RecordViolation)
			sessions.PUT("/:attempt_id/webcam", hm.proctoringHandler.UpdateWebcamStatus)
			sessions.POST("/:attempt_id/screenshots", hm.proctoringHandler.CaptureScreenshot)
			sessions.POST("/:attempt_id/end", hm.proctoringHandler.EndSession)

			// Monitoring staff
			staff := sessions.Group("", StaffOnly())
			staff.GET("", hm.proctoringHandler.ListActiveSessions)
			staff.GET("/:attempt_id/violations", hm.proctoringHandler.GetViolations)
			staff.POST("/:attempt_id/terminate", hm.proctoringHandler.TerminateSession)
			staff.GET("/:attempt_id/report", hm.proctoringHandler.GetReport)
			staff.GET("/:attempt_id/report.xlsx", hm.proctoringHandler.ExportReport)
		}
	}
}

func (hm *HandlerManager) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":             "healthy",
		"service":            "proctoring-service",
		"onlineUsers":        hm.hub.OnlineUsersCount(),
		"onlineInstructors":  hm.hub.OnlineInstructorsCount(),
		"activeSessionCount": len(hm.proctoringHandler.service.GetAllActiveSessions(c.Request.Context())),
	})
}
