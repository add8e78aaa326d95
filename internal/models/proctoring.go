package models

import (
	"time"

	"gorm.io/datatypes"
)

type ViolationType string

const (
	ViolationTabSwitch               ViolationType = "tab_switch"
	ViolationMultipleFaces           ViolationType = "multiple_faces"
	ViolationNoFaceDetected          ViolationType = "no_face_detected"
	ViolationSuspiciousMovement      ViolationType = "suspicious_movement"
	ViolationWebcamDisabled          ViolationType = "webcam_disabled"
	ViolationWebcamError             ViolationType = "webcam_error"
	ViolationUnauthorizedApplication ViolationType = "unauthorized_application"
	ViolationRightClickAttempt       ViolationType = "right_click_attempt"
	ViolationKeyboardShortcut        ViolationType = "keyboard_shortcut_attempt"
	ViolationDeveloperTools          ViolationType = "developer_tools_attempt"
)

// KnownViolationTypes lists every type the classifier has a table entry for.
var KnownViolationTypes = []ViolationType{
	ViolationTabSwitch,
	ViolationMultipleFaces,
	ViolationNoFaceDetected,
	ViolationSuspiciousMovement,
	ViolationWebcamDisabled,
	ViolationWebcamError,
	ViolationUnauthorizedApplication,
	ViolationRightClickAttempt,
	ViolationKeyboardShortcut,
	ViolationDeveloperTools,
}

func (t ViolationType) IsKnown() bool {
	for _, known := range KnownViolationTypes {
		if known == t {
			return true
		}
	}
	return false
}

type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

type SessionStatus string

const (
	SessionActive     SessionStatus = "active"
	SessionCompleted  SessionStatus = "completed"
	SessionTerminated SessionStatus = "terminated"
)

type Strictness string

const (
	StrictnessLow    Strictness = "low"
	StrictnessMedium Strictness = "medium"
	StrictnessHigh   Strictness = "high"
)

const (
	EndReasonCompleted               = "completed"
	EndReasonExcessiveViolations     = "excessive_violations"
	EndReasonWebcamDisabled          = "webcam_disabled"
	EndReasonUnauthorizedApplication = "unauthorized_application"
	EndReasonManualTermination       = "manual_termination"
	EndReasonSessionTimeout          = "session_timeout"
)

// ViolationCounters holds the per-type counters that drive warnings and termination.
type ViolationCounters struct {
	TabSwitches        int `json:"tabSwitches"`
	MultipleFaces      int `json:"multipleFaces"`
	NoFaceDetected     int `json:"noFaceDetected"`
	SuspiciousMovement int `json:"suspiciousMovement"`
}

// Increment bumps the counter matching t and returns its new value.
// Types without a counter return 0 and leave the counters untouched.
func (c *ViolationCounters) Increment(t ViolationType) int {
	switch t {
	case ViolationTabSwitch:
		c.TabSwitches++
		return c.TabSwitches
	case ViolationMultipleFaces:
		c.MultipleFaces++
		return c.MultipleFaces
	case ViolationNoFaceDetected:
		c.NoFaceDetected++
		return c.NoFaceDetected
	case ViolationSuspiciousMovement:
		c.SuspiciousMovement++
		return c.SuspiciousMovement
	}
	return 0
}

func (c ViolationCounters) Count(t ViolationType) int {
	switch t {
	case ViolationTabSwitch:
		return c.TabSwitches
	case ViolationMultipleFaces:
		return c.MultipleFaces
	case ViolationNoFaceDetected:
		return c.NoFaceDetected
	case ViolationSuspiciousMovement:
		return c.SuspiciousMovement
	}
	return 0
}

type Warning struct {
	Type      ViolationType `json:"type"`
	Message   string        `json:"message"`
	Timestamp time.Time     `json:"timestamp"`
	Count     int           `json:"count"`
}

// Screenshot is the in-memory evidence record kept on a live session.
type Screenshot struct {
	ID            string         `json:"id"`
	TestSessionID string         `json:"testSessionId"`
	Timestamp     time.Time      `json:"timestamp"`
	ViolationType *ViolationType `json:"violationType,omitempty"`
	ContentType   string         `json:"contentType"`
	Size          int            `json:"size"`
	SHA256        string         `json:"sha256"`
	Data          []byte         `json:"-"`
}

// ProctoringSession is the durable mirror of a live proctoring session.
type ProctoringSession struct {
	SessionID       string         `json:"sessionId" gorm:"primaryKey;size:36"`
	TestSessionID   string         `json:"testSessionId" gorm:"not null;size:64;index"`
	UserID          string         `json:"userId" gorm:"not null;size:255;index"`
	TestID          string         `json:"testId" gorm:"not null;size:64;index"`
	Status          SessionStatus  `json:"status" gorm:"not null;size:20;default:active;index"`
	Strictness      Strictness     `json:"strictness" gorm:"size:10;default:medium"`
	StartTime       time.Time      `json:"startTime" gorm:"not null"`
	EndTime         *time.Time     `json:"endTime"`
	EndReason       *string        `json:"endReason" gorm:"size:50"`
	WebcamEnabled   bool           `json:"webcamEnabled" gorm:"default:false"`
	TotalViolations int            `json:"totalViolations" gorm:"default:0"`
	Counters        datatypes.JSON `json:"counters" gorm:"type:jsonb"`
	IntegrityScore  *int           `json:"integrityScore"`
	CreatedAt       time.Time      `json:"createdAt"`
	UpdatedAt       time.Time      `json:"updatedAt"`

	Violations []ProctoringViolation `json:"violations,omitempty" gorm:"foreignKey:SessionID;references:SessionID"`
}

func (ProctoringSession) TableName() string {
	return "proctoring_sessions"
}

// ProctoringViolation is immutable after insert.
type ProctoringViolation struct {
	ViolationID   string         `json:"violationId" gorm:"primaryKey;size:36"`
	SessionID     string         `json:"sessionId" gorm:"not null;size:36;index"`
	TestSessionID string         `json:"testSessionId" gorm:"not null;size:64;index"`
	UserID        string         `json:"userId" gorm:"not null;size:255;index"`
	ViolationType ViolationType  `json:"type" gorm:"column:violation_type;not null;size:50;index"`
	Severity      Severity       `json:"severity" gorm:"not null;size:10"`
	Description   string         `json:"description" gorm:"type:text"`
	Metadata      datatypes.JSON `json:"data" gorm:"type:jsonb"`
	CreatedAt     time.Time      `json:"timestamp" gorm:"not null;index"`
}

func (ProctoringViolation) TableName() string {
	return "proctoring_violations"
}

type ProctoringScreenshot struct {
	ID            string         `json:"id" gorm:"primaryKey;size:36"`
	SessionID     string         `json:"sessionId" gorm:"not null;size:36;index"`
	TestSessionID string         `json:"testSessionId" gorm:"not null;size:64;index"`
	ViolationType *ViolationType `json:"violationType" gorm:"size:50"`
	ContentType   string         `json:"contentType" gorm:"size:50"`
	Size          int            `json:"size"`
	SHA256        string         `json:"sha256" gorm:"size:64"`
	Data          []byte         `json:"-" gorm:"type:bytea"`
	CapturedAt    time.Time      `json:"capturedAt" gorm:"not null"`
}

func (ProctoringScreenshot) TableName() string {
	return "proctoring_screenshots"
}

type ViolationSummary struct {
	Total   int                   `json:"total"`
	ByType  map[ViolationType]int `json:"byType"`
	Details []ProctoringViolation `json:"details"`
}

// ProctoringReport is the final, authoritative summary of an ended session.
type ProctoringReport struct {
	SessionID       string           `json:"sessionId"`
	TestSessionID   string           `json:"testSessionId"`
	UserID          string           `json:"userId"`
	TestID          string           `json:"testId"`
	Duration        time.Duration    `json:"duration"`
	StartTime       time.Time        `json:"startTime"`
	EndTime         time.Time        `json:"endTime"`
	EndReason       string           `json:"endReason"`
	Violations      ViolationSummary `json:"violations"`
	Warnings        []Warning        `json:"warnings"`
	ScreenshotCount int              `json:"screenshotCount"`
	WebcamDisabled  bool             `json:"webcamDisabled"`
	Integrity       int              `json:"integrity"`

	// Set when the durable record of the session end could not be written.
	Incomplete bool   `json:"incomplete,omitempty"`
	Error      string `json:"error,omitempty"`
}

// ProctoringRoom names the realtime room shared by every connection of one attempt.
func ProctoringRoom(testSessionID string) string {
	return "proctoring-" + testSessionID
}
