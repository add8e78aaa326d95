package events

import (
	"time"

	"github.com/SAP-F-2025/proctoring-service/internal/models"
	"github.com/google/uuid"
)

// EventType represents different types of proctoring domain events
type EventType string

const (
	EventSessionStarted    EventType = "proctoring.session_started"
	EventViolationRecorded EventType = "proctoring.violation_recorded"
	EventWarningIssued     EventType = "proctoring.warning_issued"
	EventTestTerminated    EventType = "proctoring.test_terminated"
	EventSessionEnded      EventType = "proctoring.session_ended"
)

const (
	eventSource  = "proctoring-service"
	eventVersion = "1.0"
)

// ProctoringEvent is the envelope for every event on the proctoring topic
type ProctoringEvent struct {
	ID            string                 `json:"id"`
	Type          EventType              `json:"type"`
	Timestamp     time.Time              `json:"timestamp"`
	Source        string                 `json:"source"`
	Version       string                 `json:"version"`
	TestSessionID string                 `json:"test_session_id"`
	Data          interface{}            `json:"data"`
	Metadata      map[string]interface{} `json:"metadata,omitempty"`
}

// Event payloads

type SessionStartedEvent struct {
	SessionID     string    `json:"session_id"`
	TestSessionID string    `json:"test_session_id"`
	UserID        string    `json:"user_id"`
	TestID        string    `json:"test_id"`
	StartTime     time.Time `json:"start_time"`
}

type ViolationRecordedEvent struct {
	ViolationID     string               `json:"violation_id"`
	SessionID       string               `json:"session_id"`
	UserID          string               `json:"user_id"`
	ViolationType   models.ViolationType `json:"violation_type"`
	Severity        models.Severity      `json:"severity"`
	TotalViolations int                  `json:"total_violations"`
	ShouldWarn      bool                 `json:"should_warn"`
	ShouldTerminate bool                 `json:"should_terminate"`
}

type WarningIssuedEvent struct {
	UserID  string         `json:"user_id"`
	Warning models.Warning `json:"warning"`
}

type TestTerminatedEvent struct {
	UserID string `json:"user_id"`
	Reason string `json:"reason"`
}

type SessionEndedEvent struct {
	UserID         string `json:"user_id"`
	EndReason      string `json:"end_reason"`
	Integrity      int    `json:"integrity"`
	TotalViolation int    `json:"total_violations"`
	Incomplete     bool   `json:"incomplete"`
}

// NewProctoringEvent stamps a payload with a fresh envelope.
func NewProctoringEvent(eventType EventType, testSessionID string, data interface{}) *ProctoringEvent {
	return &ProctoringEvent{
		ID:            GenerateEventID(),
		Type:          eventType,
		Timestamp:     time.Now(),
		Source:        eventSource,
		Version:       eventVersion,
		TestSessionID: testSessionID,
		Data:          data,
	}
}

// GenerateEventID returns a unique event ID
func GenerateEventID() string {
	return uuid.NewString()
}
