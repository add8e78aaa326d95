package handlers

import (
	"context"
	"encoding/json"
	"time"

	"github.com/SAP-F-2025/proctoring-service/internal/models"
	"github.com/SAP-F-2025/proctoring-service/internal/realtime"
	"github.com/SAP-F-2025/proctoring-service/internal/services"
	"github.com/SAP-F-2025/proctoring-service/internal/utils"
)

// Replies sent back on the originating connection.
const (
	EventProctoringStarted = "proctoring_started"
	EventViolationAck      = "proctoring_violation_recorded"
	EventProctoringEnded   = "proctoring_ended"
)

// RealtimeReplier is the part of the hub the socket handler talks back through.
type RealtimeReplier interface {
	SendTo(connID, event string, payload interface{})
	EmitToInstructors(event string, payload interface{})
	JoinRoom(connID, room string)
}

// SocketHandler turns inbound realtime messages into aggregator calls.
type SocketHandler struct {
	replier RealtimeReplier
	service services.ProctoringService
	logger  utils.Logger
}

func NewSocketHandler(replier RealtimeReplier, service services.ProctoringService, logger utils.Logger) *SocketHandler {
	return &SocketHandler{
		replier: replier,
		service: service,
		logger:  logger.With("component", "socket_handler"),
	}
}

type startMessage struct {
	TestSessionID string            `json:"testSessionId"`
	TestID        string            `json:"testId,omitempty"`
	Strictness    models.Strictness `json:"strictness,omitempty"`
}

type violationMessage struct {
	TestSessionID string                 `json:"testSessionId"`
	ViolationType models.ViolationType   `json:"violationType"`
	Data          map[string]interface{} `json:"data,omitempty"`
}

type webcamMessage struct {
	TestSessionID string `json:"testSessionId"`
	IsEnabled     *bool  `json:"isEnabled"`
}

type screenshotMessage struct {
	TestSessionID string                `json:"testSessionId"`
	ImageData     string                `json:"imageData"`
	ViolationType *models.ViolationType `json:"violationType,omitempty"`
	Timestamp     *time.Time            `json:"timestamp,omitempty"`
}

func (h *SocketHandler) HandleInbound(ctx context.Context, sender realtime.Sender, msg realtime.Message) {
	switch msg.Event {
	case realtime.EventProctoringStart:
		h.handleStart(ctx, sender, msg)
	case realtime.EventProctoringViolation:
		h.handleViolation(ctx, sender, msg)
	case realtime.EventProctoringShot:
		h.handleScreenshot(ctx, sender, msg)
	case realtime.EventWebcamStatusUpdate:
		h.handleWebcam(ctx, sender, msg)
	case realtime.EventProctoringEnd:
		h.handleEnd(ctx, sender, msg)
	default:
		h.logger.Debug("Ignoring unknown realtime event", "event", msg.Event, "conn_id", sender.ConnID)
	}
}

func (h *SocketHandler) handleStart(ctx context.Context, sender realtime.Sender, msg realtime.Message) {
	var payload startMessage
	if !h.decode(sender, msg, &payload) {
		return
	}

	snapshot, err := h.service.GetActiveSession(ctx, payload.TestSessionID)
	if err != nil && services.IsNotFound(err) && payload.TestID != "" {
		snapshot, err = h.service.StartProctoring(ctx, &services.StartProctoringRequest{
			TestSessionID: payload.TestSessionID,
			UserID:        sender.Identity.UserID,
			TestID:        payload.TestID,
			Strictness:    payload.Strictness,
			Locale:        sender.Identity.Locale,
		})
	}
	if err != nil {
		h.replyError(sender, msg.Event, err)
		return
	}
	if !canAct(sender.Identity, snapshot.UserID) {
		h.replyError(sender, msg.Event, services.ErrForbidden)
		return
	}

	h.replier.JoinRoom(sender.ConnID, models.ProctoringRoom(snapshot.TestSessionID))
	h.replier.SendTo(sender.ConnID, EventProctoringStarted, snapshot)
}

func (h *SocketHandler) handleViolation(ctx context.Context, sender realtime.Sender, msg realtime.Message) {
	var payload violationMessage
	if !h.decode(sender, msg, &payload) || !h.authorize(ctx, sender, msg.Event, payload.TestSessionID) {
		return
	}

	// Staff see the raw client report as well as the aggregated event.
	h.replier.EmitToInstructors(realtime.EventProctoringViolation, map[string]interface{}{
		"userId":        sender.Identity.UserID,
		"testSessionId": payload.TestSessionID,
		"violationType": payload.ViolationType,
		"data":          payload.Data,
	})

	result, err := h.service.RecordViolation(ctx, payload.TestSessionID, payload.ViolationType, payload.Data)
	if err != nil {
		h.replyError(sender, msg.Event, err)
		return
	}
	h.replier.SendTo(sender.ConnID, EventViolationAck, map[string]interface{}{
		"testSessionId":   payload.TestSessionID,
		"violationId":     result.Violation.ViolationID,
		"totalViolations": result.TotalViolations,
	})
}

func (h *SocketHandler) handleScreenshot(ctx context.Context, sender realtime.Sender, msg realtime.Message) {
	var payload screenshotMessage
	if !h.decode(sender, msg, &payload) || !h.authorize(ctx, sender, msg.Event, payload.TestSessionID) {
		return
	}

	screenshot, err := h.service.CaptureScreenshot(ctx, &services.CaptureScreenshotRequest{
		TestSessionID: payload.TestSessionID,
		ImageData:     payload.ImageData,
		ViolationType: payload.ViolationType,
		Timestamp:     payload.Timestamp,
	})
	if err != nil {
		h.replyError(sender, msg.Event, err)
		return
	}

	h.replier.EmitToInstructors(realtime.EventProctoringShot, map[string]interface{}{
		"userId":        sender.Identity.UserID,
		"testSessionId": payload.TestSessionID,
		"screenshot":    screenshot,
	})
}

func (h *SocketHandler) handleWebcam(ctx context.Context, sender realtime.Sender, msg realtime.Message) {
	var payload webcamMessage
	if !h.decode(sender, msg, &payload) {
		return
	}
	if payload.IsEnabled == nil {
		h.replyError(sender, msg.Event, services.NewValidationError("isEnabled", "isEnabled is required", nil))
		return
	}
	if !h.authorize(ctx, sender, msg.Event, payload.TestSessionID) {
		return
	}

	if _, err := h.service.UpdateWebcamStatus(ctx, payload.TestSessionID, *payload.IsEnabled); err != nil {
		h.replyError(sender, msg.Event, err)
	}
}

func (h *SocketHandler) handleEnd(ctx context.Context, sender realtime.Sender, msg realtime.Message) {
	var payload startMessage
	if !h.decode(sender, msg, &payload) || !h.authorize(ctx, sender, msg.Event, payload.TestSessionID) {
		return
	}

	report, err := h.service.EndProctoring(ctx, payload.TestSessionID, models.EndReasonCompleted)
	if err != nil {
		h.replyError(sender, msg.Event, err)
		return
	}
	h.replier.SendTo(sender.ConnID, EventProctoringEnded, map[string]interface{}{
		"testSessionId": payload.TestSessionID,
		"report":        report,
	})
}

// authorize lets staff act on any attempt and students only on their own.
func (h *SocketHandler) authorize(ctx context.Context, sender realtime.Sender, event, testSessionID string) bool {
	snapshot, err := h.service.GetActiveSession(ctx, testSessionID)
	if err != nil {
		h.replyError(sender, event, err)
		return false
	}
	if !canAct(sender.Identity, snapshot.UserID) {
		h.replyError(sender, event, services.ErrForbidden)
		return false
	}
	return true
}

func canAct(identity *models.Identity, owner string) bool {
	return identity != nil && (identity.Role.IsStaff() || identity.UserID == owner)
}

func (h *SocketHandler) decode(sender realtime.Sender, msg realtime.Message, target interface{}) bool {
	if err := json.Unmarshal(msg.Data, target); err != nil {
		h.replier.SendTo(sender.ConnID, realtime.EventError, map[string]string{
			"event":   msg.Event,
			"message": "invalid payload",
		})
		return false
	}
	if attempt, ok := target.(interface{ attemptID() string }); ok && attempt.attemptID() == "" {
		h.replier.SendTo(sender.ConnID, realtime.EventError, map[string]string{
			"event":   msg.Event,
			"message": "testSessionId is required",
		})
		return false
	}
	return true
}

func (m *startMessage) attemptID() string      { return m.TestSessionID }
func (m *violationMessage) attemptID() string  { return m.TestSessionID }
func (m *webcamMessage) attemptID() string     { return m.TestSessionID }
func (m *screenshotMessage) attemptID() string { return m.TestSessionID }

func (h *SocketHandler) replyError(sender realtime.Sender, event string, err error) {
	status, code, message := classifyError(err)
	if status >= 500 {
		h.logger.LogError(err, "Realtime request failed", "event", event, "conn_id", sender.ConnID)
	}
	h.replier.SendTo(sender.ConnID, realtime.EventError, map[string]string{
		"event":   event,
		"code":    code,
		"message": message,
	})
}
