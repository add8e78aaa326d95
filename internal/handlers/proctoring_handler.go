package handlers

import (
	"fmt"
	"net/http"
	"time"

	"github.com/SAP-F-2025/proctoring-service/internal/models"
	"github.com/SAP-F-2025/proctoring-service/internal/services"
	"github.com/SAP-F-2025/proctoring-service/internal/utils"
	"github.com/SAP-F-2025/proctoring-service/internal/validator"
	"github.com/gin-gonic/gin"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

type ProctoringHandler struct {
	BaseHandler
	service   services.ProctoringService
	validator *validator.Validator
}

func NewProctoringHandler(
	service services.ProctoringService,
	validator *validator.Validator,
	logger utils.Logger,
) *ProctoringHandler {
	return &ProctoringHandler{
		BaseHandler: NewBaseHandler(logger),
		service:     service,
		validator:   validator,
	}
}

// ===== REQUEST STRUCTURES =====

type StartSessionRequest struct {
	TestSessionID string            `json:"testSessionId" binding:"required"`
	TestID        string            `json:"testId" binding:"required"`
	UserID        string            `json:"userId,omitempty"`
	Strictness    models.Strictness `json:"strictness,omitempty"`
}

type RecordViolationRequest struct {
	ViolationType models.ViolationType   `json:"violationType" binding:"required"`
	Data          map[string]interface{} `json:"data,omitempty"`
}

type WebcamStatusRequest struct {
	IsEnabled *bool `json:"isEnabled" binding:"required"`
}

type ScreenshotRequest struct {
	ImageData     string                `json:"imageData" binding:"required"`
	ViolationType *models.ViolationType `json:"violationType,omitempty"`
	Timestamp     *time.Time            `json:"timestamp,omitempty"`
}

type TerminateRequest struct {
	Reason string `json:"reason" validate:"omitempty,termination_reason"`
}

type EndSessionRequest struct {
	Reason string `json:"reason,omitempty"`
}

type violationFilter struct {
	Type string `form:"type" json:"type" validate:"omitempty,violation_type"`
}

// ===== SESSION LIFECYCLE =====

// StartSession starts proctoring an attempt. Students always start for
// themselves; staff may start on behalf of a student.
// @Router /proctoring/sessions [post]
func (h *ProctoringHandler) StartSession(c *gin.Context) {
	var req StartSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Message: "Invalid request payload",
			Details: err.Error(),
		})
		return
	}

	identity := identityFrom(c)
	userID := identity.UserID
	if identity.Role.IsStaff() && req.UserID != "" {
		userID = req.UserID
	}

	h.LogRequest(c, "Starting proctoring session", "test_session_id", req.TestSessionID)

	snapshot, err := h.service.StartProctoring(c.Request.Context(), &services.StartProctoringRequest{
		TestSessionID: req.TestSessionID,
		UserID:        userID,
		TestID:        req.TestID,
		Strictness:    req.Strictness,
		Locale:        identity.Locale,
	})
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusCreated, snapshot)
}

// ListActiveSessions returns every live session on this instance.
// @Router /proctoring/sessions [get]
func (h *ProctoringHandler) ListActiveSessions(c *gin.Context) {
	sessions := h.service.GetAllActiveSessions(c.Request.Context())
	c.JSON(http.StatusOK, gin.H{
		"sessions": sessions,
		"total":    len(sessions),
	})
}

// @Router /proctoring/sessions/{attempt_id} [get]
func (h *ProctoringHandler) GetSession(c *gin.Context) {
	snapshot, ok := h.ownedSession(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, snapshot)
}

// @Router /proctoring/sessions/{attempt_id}/violations [post]
func (h *ProctoringHandler) RecordViolation(c *gin.Context) {
	snapshot, ok := h.ownedSession(c)
	if !ok {
		return
	}

	var req RecordViolationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Message: "Invalid request payload",
			Details: err.Error(),
		})
		return
	}

	result, err := h.service.RecordViolation(c.Request.Context(), snapshot.TestSessionID, req.ViolationType, req.Data)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusCreated, result)
}

// GetViolations lists an attempt's violations, optionally filtered by ?type=.
// @Router /proctoring/sessions/{attempt_id}/violations [get]
func (h *ProctoringHandler) GetViolations(c *gin.Context) {
	attemptID := ParseStringIDParam(c, "attempt_id")
	if attemptID == "" {
		return
	}

	var filter violationFilter
	if err := c.ShouldBindQuery(&filter); err != nil {
		h.RespondWithError(c, http.StatusBadRequest, "Invalid query parameters", nil, err.Error())
		return
	}
	if err := h.validator.Validate(&filter); err != nil {
		h.handleServiceError(c, err)
		return
	}

	violations, err := h.service.GetSessionViolations(c.Request.Context(), attemptID)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	if filter.Type != "" {
		filtered := make([]models.ProctoringViolation, 0, len(violations))
		for _, v := range violations {
			if v.ViolationType == models.ViolationType(filter.Type) {
				filtered = append(filtered, v)
			}
		}
		violations = filtered
	}

	c.JSON(http.StatusOK, gin.H{
		"testSessionId": attemptID,
		"violations":    violations,
		"total":         len(violations),
	})
}

// @Router /proctoring/sessions/{attempt_id}/webcam [put]
func (h *ProctoringHandler) UpdateWebcamStatus(c *gin.Context) {
	snapshot, ok := h.ownedSession(c)
	if !ok {
		return
	}

	var req WebcamStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Message: "Invalid request payload",
			Details: err.Error(),
		})
		return
	}

	result, err := h.service.UpdateWebcamStatus(c.Request.Context(), snapshot.TestSessionID, *req.IsEnabled)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"testSessionId": snapshot.TestSessionID,
		"isEnabled":     *req.IsEnabled,
		"violation":     result,
	})
}

// @Router /proctoring/sessions/{attempt_id}/screenshots [post]
func (h *ProctoringHandler) CaptureScreenshot(c *gin.Context) {
	snapshot, ok := h.ownedSession(c)
	if !ok {
		return
	}

	var req ScreenshotRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Message: "Invalid request payload",
			Details: err.Error(),
		})
		return
	}

	screenshot, err := h.service.CaptureScreenshot(c.Request.Context(), &services.CaptureScreenshotRequest{
		TestSessionID: snapshot.TestSessionID,
		ImageData:     req.ImageData,
		ViolationType: req.ViolationType,
		Timestamp:     req.Timestamp,
	})
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusCreated, screenshot)
}

// @Router /proctoring/sessions/{attempt_id}/terminate [post]
func (h *ProctoringHandler) TerminateSession(c *gin.Context) {
	attemptID := ParseStringIDParam(c, "attempt_id")
	if attemptID == "" {
		return
	}

	var req TerminateRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, ErrorResponse{
				Message: "Invalid request payload",
				Details: err.Error(),
			})
			return
		}
	}
	if err := h.validator.Validate(&req); err != nil {
		h.handleServiceError(c, err)
		return
	}

	h.LogRequest(c, "Terminating proctored test", "test_session_id", attemptID, "reason", req.Reason)

	report, err := h.service.TerminateTest(c.Request.Context(), attemptID, req.Reason)
	h.respondWithReport(c, report, err)
}

// @Router /proctoring/sessions/{attempt_id}/end [post]
func (h *ProctoringHandler) EndSession(c *gin.Context) {
	snapshot, ok := h.ownedSession(c)
	if !ok {
		return
	}

	var req EndSessionRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, ErrorResponse{
				Message: "Invalid request payload",
				Details: err.Error(),
			})
			return
		}
	}
	// Students may only finish normally; other reasons go through terminate.
	if !identityFrom(c).Role.IsStaff() || req.Reason == "" {
		req.Reason = models.EndReasonCompleted
	}

	report, err := h.service.EndProctoring(c.Request.Context(), snapshot.TestSessionID, req.Reason)
	h.respondWithReport(c, report, err)
}

// ===== REPORTS =====

// @Router /proctoring/sessions/{attempt_id}/report [get]
func (h *ProctoringHandler) GetReport(c *gin.Context) {
	attemptID := ParseStringIDParam(c, "attempt_id")
	if attemptID == "" {
		return
	}

	report, err := h.service.GetReport(c.Request.Context(), attemptID)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, report)
}

// @Router /proctoring/sessions/{attempt_id}/report.xlsx [get]
func (h *ProctoringHandler) ExportReport(c *gin.Context) {
	attemptID := ParseStringIDParam(c, "attempt_id")
	if attemptID == "" {
		return
	}

	data, err := h.service.ExportReport(c.Request.Context(), attemptID)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="proctoring-report-%s.xlsx"`, attemptID))
	c.Data(http.StatusOK, xlsxContentType, data)
}

// ===== HELPERS =====

// ownedSession loads the live session named in the path and checks that the
// caller is its student or staff.
func (h *ProctoringHandler) ownedSession(c *gin.Context) (*services.SessionSnapshot, bool) {
	attemptID := ParseStringIDParam(c, "attempt_id")
	if attemptID == "" {
		return nil, false
	}

	snapshot, err := h.service.GetActiveSession(c.Request.Context(), attemptID)
	if err != nil {
		h.handleServiceError(c, err)
		return nil, false
	}
	if !canAct(identityFrom(c), snapshot.UserID) {
		h.handleServiceError(c, services.ErrForbidden)
		return nil, false
	}
	return snapshot, true
}

// respondWithReport sends the end-of-session report. A flagged report still
// goes back with the persistence error.
func (h *ProctoringHandler) respondWithReport(c *gin.Context, report *models.ProctoringReport, err error) {
	if err != nil {
		if report == nil {
			h.handleServiceError(c, err)
			return
		}
		status, code, message := classifyError(err)
		h.LogError(c, err, message, "status_code", status)
		c.JSON(status, ErrorResponse{Message: message, Code: code, Details: report})
		return
	}
	if report == nil {
		c.JSON(http.StatusOK, SuccessResponse{Message: "No active proctoring session"})
		return
	}
	c.JSON(http.StatusOK, report)
}
