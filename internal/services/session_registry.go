package services

import (
	"sync"
	"time"

	"github.com/SAP-F-2025/proctoring-service/internal/models"
)

// liveSession is the in-memory state of one supervised attempt. Every field
// below mu is guarded by it; once active is false the session is frozen.
type liveSession struct {
	mu sync.Mutex

	sessionID     string
	testSessionID string
	userID        string
	testID        string
	strictness    models.Strictness
	locale        string
	thresholds    Thresholds
	startTime     time.Time

	active         bool
	webcamEnabled  bool
	webcamDisabled bool
	counters       models.ViolationCounters
	violations     []models.ProctoringViolation
	warnings       []models.Warning
	screenshots    []models.Screenshot
	endReason      string
}

// SessionSnapshot is a point-in-time copy of a live session.
type SessionSnapshot struct {
	SessionID       string                   `json:"sessionId"`
	TestSessionID   string                   `json:"testSessionId"`
	UserID          string                   `json:"userId"`
	TestID          string                   `json:"testId"`
	Strictness      models.Strictness        `json:"strictness"`
	Locale          string                   `json:"locale"`
	StartTime       time.Time                `json:"startTime"`
	IsActive        bool                     `json:"isActive"`
	WebcamEnabled   bool                     `json:"webcamEnabled"`
	Counters        models.ViolationCounters `json:"counters"`
	TotalViolations int                      `json:"totalViolations"`
	Warnings        []models.Warning         `json:"warnings"`
	ScreenshotCount int                      `json:"screenshotCount"`
	Thresholds      Thresholds               `json:"thresholds"`
}

func (s *liveSession) snapshotLocked() *SessionSnapshot {
	return &SessionSnapshot{
		SessionID:       s.sessionID,
		TestSessionID:   s.testSessionID,
		UserID:          s.userID,
		TestID:          s.testID,
		Strictness:      s.strictness,
		Locale:          s.locale,
		StartTime:       s.startTime,
		IsActive:        s.active,
		WebcamEnabled:   s.webcamEnabled,
		Counters:        s.counters,
		TotalViolations: len(s.violations),
		Warnings:        append([]models.Warning(nil), s.warnings...),
		ScreenshotCount: len(s.screenshots),
		Thresholds:      s.thresholds,
	}
}

// reportLocked summarizes the session as of endTime.
func (s *liveSession) reportLocked(endTime time.Time) *models.ProctoringReport {
	report := &models.ProctoringReport{
		SessionID:       s.sessionID,
		TestSessionID:   s.testSessionID,
		UserID:          s.userID,
		TestID:          s.testID,
		Duration:        endTime.Sub(s.startTime),
		StartTime:       s.startTime,
		EndTime:         endTime,
		EndReason:       s.endReason,
		Violations:      summarizeViolations(s.violations),
		Warnings:        append([]models.Warning{}, s.warnings...),
		ScreenshotCount: len(s.screenshots),
		WebcamDisabled:  s.webcamDisabled,
	}
	report.Integrity = IntegrityScore(report.Violations.Details, s.webcamDisabled)
	return report
}

func summarizeViolations(violations []models.ProctoringViolation) models.ViolationSummary {
	summary := models.ViolationSummary{
		Total:   len(violations),
		ByType:  make(map[models.ViolationType]int),
		Details: append([]models.ProctoringViolation{}, violations...),
	}
	for _, v := range violations {
		summary.ByType[v.ViolationType]++
	}
	return summary
}

// IntegrityScore starts at 100, deducts per violation severity and a flat 30
// when the webcam was ever disabled. The result never drops below 0.
func IntegrityScore(violations []models.ProctoringViolation, webcamDisabled bool) int {
	score := 100
	for _, v := range violations {
		score -= integrityDeduction(v.Severity)
	}
	if webcamDisabled {
		score -= 30
	}
	return max(score, 0)
}

// sessionRegistry maps exam attempts to their live session.
type sessionRegistry struct {
	mu       sync.RWMutex
	sessions map[string]*liveSession
}

func newSessionRegistry() *sessionRegistry {
	return &sessionRegistry{sessions: make(map[string]*liveSession)}
}

// add registers s unless the attempt already has a session.
func (r *sessionRegistry) add(s *liveSession) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.sessions[s.testSessionID]; exists {
		return false
	}
	r.sessions[s.testSessionID] = s
	return true
}

func (r *sessionRegistry) get(testSessionID string) *liveSession {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sessions[testSessionID]
}

// remove drops the entry only while it still points at s.
func (r *sessionRegistry) remove(s *liveSession) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sessions[s.testSessionID] == s {
		delete(r.sessions, s.testSessionID)
	}
}

func (r *sessionRegistry) list() []*liveSession {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sessions := make([]*liveSession, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	return sessions
}
