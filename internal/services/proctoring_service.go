package services

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/SAP-F-2025/proctoring-service/internal/cache"
	"github.com/SAP-F-2025/proctoring-service/internal/events"
	"github.com/SAP-F-2025/proctoring-service/internal/i18n"
	"github.com/SAP-F-2025/proctoring-service/internal/models"
	"github.com/SAP-F-2025/proctoring-service/internal/repositories"
	"github.com/SAP-F-2025/proctoring-service/internal/validator"
	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// Realtime event names pushed by the aggregator.
const (
	NotifyWarning           = "proctoring_warning"
	NotifyTestTerminated    = "test_terminated"
	NotifySessionStarted    = "proctoring_session_started"
	NotifyViolation         = "proctoring_violation"
	NotifySessionEnded      = "proctoring_session_ended"
	NotifyScreenshot        = "proctoring_screenshot"
	NotifyProctoringStopped = "proctoring_stopped"
)

const (
	activeKeyPrefix = "proctoring:active:"
	reportKeyPrefix = "proctoring:report:"

	publishTimeout = 5 * time.Second
)

// Notifier pushes best-effort realtime events. Implementations must not block.
type Notifier interface {
	EmitToUser(userID, event string, payload interface{})
	EmitToInstructors(event string, payload interface{})
	EmitToRoom(room, event string, payload interface{})
}

// ProctoringService is the authoritative owner of live proctoring sessions.
type ProctoringService interface {
	// Session lifecycle
	StartProctoring(ctx context.Context, req *StartProctoringRequest) (*SessionSnapshot, error)
	RecordViolation(ctx context.Context, testSessionID string, violationType models.ViolationType, metadata map[string]interface{}) (*ViolationResult, error)
	UpdateWebcamStatus(ctx context.Context, testSessionID string, enabled bool) (*ViolationResult, error)
	CaptureScreenshot(ctx context.Context, req *CaptureScreenshotRequest) (*models.Screenshot, error)
	TerminateTest(ctx context.Context, testSessionID, reason string) (*models.ProctoringReport, error)
	EndProctoring(ctx context.Context, testSessionID, reason string) (*models.ProctoringReport, error)

	// Reporting
	GenerateProctoringReport(ctx context.Context, testSessionID string) (*models.ProctoringReport, error)
	GetReport(ctx context.Context, testSessionID string) (*models.ProctoringReport, error)
	ExportReport(ctx context.Context, testSessionID string) ([]byte, error)

	// Queries
	GetActiveSession(ctx context.Context, testSessionID string) (*SessionSnapshot, error)
	GetAllActiveSessions(ctx context.Context) []*SessionSnapshot
	GetSessionViolations(ctx context.Context, testSessionID string) ([]models.ProctoringViolation, error)

	// Housekeeping
	SweepExpired(ctx context.Context) int
	RunExpirySweeper(ctx context.Context)
	Close() error
}

// ProctoringConfig tunes the aggregator.
type ProctoringConfig struct {
	Profiles           map[models.Strictness]Thresholds
	DefaultStrictness  models.Strictness
	DefaultLocale      string
	MaxSessionDuration time.Duration
	SweepInterval      time.Duration
	ReportCacheTTL     time.Duration
}

func DefaultProctoringConfig() ProctoringConfig {
	return ProctoringConfig{
		Profiles:           DefaultProfiles(),
		DefaultStrictness:  models.StrictnessMedium,
		DefaultLocale:      i18n.Thai,
		MaxSessionDuration: 4 * time.Hour,
		SweepInterval:      time.Minute,
		ReportCacheTTL:     24 * time.Hour,
	}
}

// ===== REQUEST / RESULT TYPES =====

type StartProctoringRequest struct {
	TestSessionID string            `json:"testSessionId" validate:"required,max=64"`
	UserID        string            `json:"userId" validate:"required,max=255"`
	TestID        string            `json:"testId" validate:"required,max=64"`
	Strictness    models.Strictness `json:"strictness,omitempty" validate:"omitempty,strictness"`
	Locale        string            `json:"locale,omitempty" validate:"omitempty,max=35"`
}

type CaptureScreenshotRequest struct {
	TestSessionID string                `json:"testSessionId" validate:"required,max=64"`
	ImageData     string                `json:"imageData" validate:"required,image_data"`
	ViolationType *models.ViolationType `json:"violationType,omitempty"`
	Timestamp     *time.Time            `json:"timestamp,omitempty"`
}

type ViolationResult struct {
	Violation       *models.ProctoringViolation `json:"violation"`
	ShouldWarn      bool                        `json:"shouldWarn"`
	ShouldTerminate bool                        `json:"shouldTerminate"`
	TotalViolations int                         `json:"totalViolations"`
	Warning         *models.Warning             `json:"warning,omitempty"`
}

// ===== SERVICE =====

type proctoringService struct {
	repo      repositories.ProctoringRepository
	notifier  Notifier
	publisher events.EventPublisher
	cache     cache.CacheService
	logger    *slog.Logger
	slog      *ServiceLogger
	validator *validator.Validator
	config    ProctoringConfig

	registry *sessionRegistry
	now      func() time.Time
	inflight sync.WaitGroup
}

// Option customizes a ProctoringService.
type Option func(*proctoringService)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *proctoringService) { s.now = now }
}

// WithCache enables the cross-instance active guard and report cache.
func WithCache(c cache.CacheService) Option {
	return func(s *proctoringService) { s.cache = c }
}

func NewProctoringService(
	repo repositories.ProctoringRepository,
	notifier Notifier,
	publisher events.EventPublisher,
	logger *slog.Logger,
	validator *validator.Validator,
	config ProctoringConfig,
	opts ...Option,
) ProctoringService {
	if config.Profiles == nil {
		config.Profiles = DefaultProfiles()
	}
	if config.DefaultStrictness == "" {
		config.DefaultStrictness = models.StrictnessMedium
	}
	s := &proctoringService{
		repo:      repo,
		notifier:  notifier,
		publisher: publisher,
		logger:    logger,
		slog:      NewServiceLogger(logger, LogConfig{Service: "proctoring-service", Component: "session_aggregator"}),
		validator: validator,
		config:    config,
		registry:  newSessionRegistry(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ===== SESSION LIFECYCLE =====

func (s *proctoringService) StartProctoring(ctx context.Context, req *StartProctoringRequest) (snapshot *SessionSnapshot, err error) {
	op := s.slog.WithOperation(ctx, "start_proctoring", req.UserID, req.TestSessionID)
	defer func() { op.LogResult(err) }()

	if err := s.validator.Validate(req); err != nil {
		return nil, err
	}

	strictness := req.Strictness
	if strictness == "" {
		strictness = s.config.DefaultStrictness
	}
	thresholds, ok := s.config.Profiles[strictness]
	if !ok {
		thresholds = DefaultThresholds()
	}

	session := &liveSession{
		sessionID:     uuid.NewString(),
		testSessionID: req.TestSessionID,
		userID:        req.UserID,
		testID:        req.TestID,
		strictness:    strictness,
		locale:        i18n.Match(s.config.DefaultLocale, req.Locale),
		thresholds:    thresholds,
		startTime:     s.now(),
	}

	// Hold the session until it is durably recorded so that concurrent callers
	// never observe a half-created entry.
	session.mu.Lock()
	defer session.mu.Unlock()

	if !s.registry.add(session) {
		return nil, ErrSessionAlreadyActive
	}

	if err := s.ensureNotTerminated(ctx, session.testSessionID); err != nil {
		s.registry.remove(session)
		return nil, err
	}

	if !s.claimAttempt(ctx, session.testSessionID, session.sessionID) {
		s.registry.remove(session)
		return nil, ErrSessionAlreadyActive
	}

	record := &models.ProctoringSession{
		SessionID:     session.sessionID,
		TestSessionID: session.testSessionID,
		UserID:        session.userID,
		TestID:        session.testID,
		Status:        models.SessionActive,
		Strictness:    session.strictness,
		StartTime:     session.startTime,
	}
	if err := s.repo.CreateSession(ctx, record); err != nil {
		s.registry.remove(session)
		s.releaseAttempt(ctx, session.testSessionID)
		return nil, newPersistenceError("create session", err)
	}

	session.active = true
	snapshot = session.snapshotLocked()

	s.notifier.EmitToInstructors(NotifySessionStarted, fields{
		"sessionId":     session.sessionID,
		"testSessionId": session.testSessionID,
		"userId":        session.userID,
		"testId":        session.testID,
		"startTime":     session.startTime,
	})
	s.publish(events.NewProctoringEvent(events.EventSessionStarted, session.testSessionID, events.SessionStartedEvent{
		SessionID:     session.sessionID,
		TestSessionID: session.testSessionID,
		UserID:        session.userID,
		TestID:        session.testID,
		StartTime:     session.startTime,
	}))

	s.logger.Info("Proctoring session started",
		"session_id", session.sessionID,
		"test_session_id", session.testSessionID,
		"user_id", session.userID,
		"strictness", session.strictness)

	return snapshot, nil
}

func (s *proctoringService) RecordViolation(ctx context.Context, testSessionID string, violationType models.ViolationType, metadata map[string]interface{}) (result *ViolationResult, err error) {
	op := s.slog.WithOperation(ctx, "record_violation", "", testSessionID)
	defer func() { op.LogResult(err) }()

	if violationType == "" {
		return nil, NewValidationError("violationType", "violation type is required", violationType)
	}

	session, err := s.lockActive(testSessionID)
	if err != nil {
		return nil, err
	}
	defer session.mu.Unlock()

	return s.recordViolationLocked(ctx, session, violationType, metadata)
}

// recordViolationLocked persists the violation before any in-memory mutation
// so a storage failure leaves the session untouched.
func (s *proctoringService) recordViolationLocked(ctx context.Context, session *liveSession, violationType models.ViolationType, metadata map[string]interface{}) (*ViolationResult, error) {
	payload, err := json.Marshal(metadataOrEmpty(metadata))
	if err != nil {
		return nil, NewValidationError("data", "metadata must be JSON serializable", nil)
	}

	severity := SeverityOf(violationType)
	violation := models.ProctoringViolation{
		ViolationID:   uuid.NewString(),
		SessionID:     session.sessionID,
		TestSessionID: session.testSessionID,
		UserID:        session.userID,
		ViolationType: violationType,
		Severity:      severity,
		Description:   DescriptionOf(violationType, session.locale),
		Metadata:      datatypes.JSON(payload),
		CreatedAt:     s.now(),
	}

	counters := session.counters
	count := counters.Increment(violationType)
	total := len(session.violations) + 1

	if err := s.repo.CreateViolation(ctx, &violation, repositories.SessionTotals{
		TotalViolations: total,
		Counters:        counters,
	}); err != nil {
		return nil, newPersistenceError("create violation", err)
	}

	session.counters = counters
	session.violations = append(session.violations, violation)

	result := &ViolationResult{
		Violation:       &violation,
		TotalViolations: total,
		ShouldWarn:      count > 0 && session.thresholds.ShouldWarn(violationType, count),
		ShouldTerminate: session.thresholds.ShouldTerminate(counters),
	}

	s.slog.LogViolation(ctx, session.userID, session.testSessionID, &violation)

	if result.ShouldWarn {
		warning := models.Warning{
			Type:      violationType,
			Message:   WarningMessage(violationType, count, session.thresholds.TabSwitchMaximum, session.locale),
			Timestamp: s.now(),
			Count:     count,
		}
		session.warnings = append(session.warnings, warning)
		result.Warning = &warning

		s.notifier.EmitToUser(session.userID, NotifyWarning, warning)
		s.publish(events.NewProctoringEvent(events.EventWarningIssued, session.testSessionID, events.WarningIssuedEvent{
			UserID:  session.userID,
			Warning: warning,
		}))
	}

	s.notifier.EmitToInstructors(NotifyViolation, fields{
		"testSessionId":   session.testSessionID,
		"userId":          session.userID,
		"violation":       violation,
		"totalViolations": total,
		"shouldWarn":      result.ShouldWarn,
		"shouldTerminate": result.ShouldTerminate,
	})
	s.publish(events.NewProctoringEvent(events.EventViolationRecorded, session.testSessionID, events.ViolationRecordedEvent{
		ViolationID:     violation.ViolationID,
		SessionID:       session.sessionID,
		UserID:          session.userID,
		ViolationType:   violationType,
		Severity:        severity,
		TotalViolations: total,
		ShouldWarn:      result.ShouldWarn,
		ShouldTerminate: result.ShouldTerminate,
	}))

	if result.ShouldTerminate {
		if _, err := s.terminateLocked(ctx, session, models.EndReasonExcessiveViolations); err != nil {
			return result, err
		}
	}

	return result, nil
}

func (s *proctoringService) UpdateWebcamStatus(ctx context.Context, testSessionID string, enabled bool) (result *ViolationResult, err error) {
	op := s.slog.WithOperation(ctx, "update_webcam_status", "", testSessionID)
	defer func() { op.LogResult(err) }()

	session, err := s.lockActive(testSessionID)
	if err != nil {
		return nil, err
	}
	defer session.mu.Unlock()

	if err := s.repo.UpdateWebcamStatus(ctx, session.sessionID, enabled); err != nil {
		return nil, newPersistenceError("update webcam status", err)
	}
	session.webcamEnabled = enabled

	if enabled {
		return nil, nil
	}

	session.webcamDisabled = true
	return s.recordViolationLocked(ctx, session, models.ViolationWebcamDisabled, map[string]interface{}{
		"isEnabled": false,
	})
}

func (s *proctoringService) CaptureScreenshot(ctx context.Context, req *CaptureScreenshotRequest) (screenshot *models.Screenshot, err error) {
	op := s.slog.WithOperation(ctx, "capture_screenshot", "", req.TestSessionID)
	defer func() { op.LogResult(err) }()

	if err := s.validator.Validate(req); err != nil {
		return nil, err
	}
	contentType, data, err := decodeImageData(req.ImageData)
	if err != nil {
		return nil, err
	}

	session, err := s.lockActive(req.TestSessionID)
	if err != nil {
		return nil, err
	}
	defer session.mu.Unlock()

	capturedAt := s.now()
	if req.Timestamp != nil && !req.Timestamp.IsZero() {
		capturedAt = *req.Timestamp
	}

	record := &models.ProctoringScreenshot{
		ID:            uuid.NewString(),
		SessionID:     session.sessionID,
		TestSessionID: session.testSessionID,
		ViolationType: req.ViolationType,
		ContentType:   contentType,
		Size:          len(data),
		SHA256:        checksum(data),
		Data:          data,
		CapturedAt:    capturedAt,
	}
	if err := s.repo.CreateScreenshot(ctx, record); err != nil {
		return nil, newPersistenceError("create screenshot", err)
	}

	screenshot = &models.Screenshot{
		ID:            record.ID,
		TestSessionID: record.TestSessionID,
		Timestamp:     record.CapturedAt,
		ViolationType: record.ViolationType,
		ContentType:   record.ContentType,
		Size:          record.Size,
		SHA256:        record.SHA256,
	}
	session.screenshots = append(session.screenshots, *screenshot)

	s.notifier.EmitToInstructors(NotifyScreenshot, fields{
		"testSessionId": session.testSessionID,
		"userId":        session.userID,
		"screenshot":    screenshot,
	})

	return screenshot, nil
}

func (s *proctoringService) TerminateTest(ctx context.Context, testSessionID, reason string) (report *models.ProctoringReport, err error) {
	op := s.slog.WithOperation(ctx, "terminate_test", "", testSessionID)
	defer func() { op.LogResult(err) }()

	if reason == "" {
		reason = models.EndReasonManualTermination
	}

	session, err := s.lockActive(testSessionID)
	if err != nil {
		return nil, err
	}
	defer session.mu.Unlock()

	return s.terminateLocked(ctx, session, reason)
}

func (s *proctoringService) terminateLocked(ctx context.Context, session *liveSession, reason string) (*models.ProctoringReport, error) {
	timestamp := s.now()

	s.notifier.EmitToUser(session.userID, NotifyTestTerminated, fields{
		"reason":  reason,
		"message": TerminationMessage(reason, session.locale),
	})
	s.notifier.EmitToInstructors(NotifyTestTerminated, fields{
		"testSessionId": session.testSessionID,
		"userId":        session.userID,
		"reason":        reason,
		"timestamp":     timestamp,
	})
	s.publish(events.NewProctoringEvent(events.EventTestTerminated, session.testSessionID, events.TestTerminatedEvent{
		UserID: session.userID,
		Reason: reason,
	}))

	s.logger.Warn("Proctoring test terminated",
		"test_session_id", session.testSessionID,
		"user_id", session.userID,
		"reason", reason)

	return s.endLocked(ctx, session, reason)
}

// EndProctoring returns nil without error when the attempt has no live session.
func (s *proctoringService) EndProctoring(ctx context.Context, testSessionID, reason string) (report *models.ProctoringReport, err error) {
	op := s.slog.WithOperation(ctx, "end_proctoring", "", testSessionID)
	defer func() { op.LogResult(err) }()

	if reason == "" {
		reason = models.EndReasonCompleted
	}

	session, err := s.lockActive(testSessionID)
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			s.logger.Debug("No active proctoring session to end", "test_session_id", testSessionID)
			return nil, nil
		}
		return nil, err
	}
	defer session.mu.Unlock()

	return s.endLocked(ctx, session, reason)
}

// endLocked freezes the session and removes it from the live registry. A
// failed durable write still ends the session; the report is flagged instead.
func (s *proctoringService) endLocked(ctx context.Context, session *liveSession, reason string) (*models.ProctoringReport, error) {
	endTime := s.now()
	session.active = false
	session.endReason = reason
	s.registry.remove(session)

	report := session.reportLocked(endTime)

	status := models.SessionTerminated
	if reason == models.EndReasonCompleted {
		status = models.SessionCompleted
	}

	var persistErr error
	if err := s.repo.EndSession(ctx, repositories.SessionEnd{
		SessionID:      session.sessionID,
		Status:         status,
		EndTime:        endTime,
		EndReason:      reason,
		IntegrityScore: report.Integrity,
	}); err != nil {
		persistErr = newPersistenceError("end session", err)
		report.Incomplete = true
		report.Error = persistErr.Error()
		s.logger.Error("Failed to persist proctoring session end",
			"test_session_id", session.testSessionID,
			"error", err)
	}

	s.releaseAttempt(ctx, session.testSessionID)
	s.cacheReport(ctx, report)

	s.notifier.EmitToInstructors(NotifySessionEnded, fields{
		"testSessionId": session.testSessionID,
		"userId":        session.userID,
		"report":        report,
	})
	s.notifier.EmitToRoom(models.ProctoringRoom(session.testSessionID), NotifyProctoringStopped, fields{
		"testSessionId": session.testSessionID,
		"reason":        reason,
	})
	s.publish(events.NewProctoringEvent(events.EventSessionEnded, session.testSessionID, events.SessionEndedEvent{
		UserID:         session.userID,
		EndReason:      reason,
		Integrity:      report.Integrity,
		TotalViolation: report.Violations.Total,
		Incomplete:     report.Incomplete,
	}))

	s.logger.Info("Proctoring session ended",
		"test_session_id", session.testSessionID,
		"reason", reason,
		"integrity", report.Integrity,
		"total_violations", report.Violations.Total)

	return report, persistErr
}

// ===== REPORTING =====

// GenerateProctoringReport summarizes a live session as of now.
func (s *proctoringService) GenerateProctoringReport(ctx context.Context, testSessionID string) (*models.ProctoringReport, error) {
	session, err := s.lockActive(testSessionID)
	if err != nil {
		return nil, err
	}
	defer session.mu.Unlock()

	return session.reportLocked(s.now()), nil
}

// GetReport serves the live report, then the cached final report, then a
// report rebuilt from the durable log.
func (s *proctoringService) GetReport(ctx context.Context, testSessionID string) (*models.ProctoringReport, error) {
	if report, err := s.GenerateProctoringReport(ctx, testSessionID); err == nil {
		return report, nil
	}

	if s.cache != nil {
		var cached models.ProctoringReport
		err := s.cache.Get(ctx, reportKeyPrefix+testSessionID, &cached)
		if err == nil {
			return &cached, nil
		}
		if !errors.Is(err, cache.ErrCacheMiss) {
			s.logger.Warn("Report cache read failed", "test_session_id", testSessionID, "error", err)
		}
	}

	report, err := s.rebuildReport(ctx, testSessionID)
	if err != nil {
		return nil, err
	}
	s.cacheReport(ctx, report)
	return report, nil
}

func (s *proctoringService) rebuildReport(ctx context.Context, testSessionID string) (*models.ProctoringReport, error) {
	record, err := s.repo.GetLatestSessionByAttempt(ctx, testSessionID)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return nil, ErrReportNotFound
		}
		return nil, newPersistenceError("get session", err)
	}

	violations, err := s.repo.ListViolations(ctx, record.SessionID)
	if err != nil {
		return nil, newPersistenceError("list violations", err)
	}
	screenshots, err := s.repo.CountScreenshots(ctx, record.SessionID)
	if err != nil {
		return nil, newPersistenceError("count screenshots", err)
	}

	details := make([]models.ProctoringViolation, 0, len(violations))
	webcamDisabled := false
	for _, v := range violations {
		details = append(details, *v)
		if v.ViolationType == models.ViolationWebcamDisabled {
			webcamDisabled = true
		}
	}

	endTime := s.now()
	if record.EndTime != nil {
		endTime = *record.EndTime
	}
	report := &models.ProctoringReport{
		SessionID:       record.SessionID,
		TestSessionID:   record.TestSessionID,
		UserID:          record.UserID,
		TestID:          record.TestID,
		Duration:        endTime.Sub(record.StartTime),
		StartTime:       record.StartTime,
		EndTime:         endTime,
		Violations:      summarizeViolations(details),
		Warnings:        []models.Warning{},
		ScreenshotCount: int(screenshots),
		WebcamDisabled:  webcamDisabled,
	}
	if record.EndReason != nil {
		report.EndReason = *record.EndReason
	}
	report.Integrity = IntegrityScore(details, webcamDisabled)
	if record.IntegrityScore != nil {
		report.Integrity = *record.IntegrityScore
	}
	return report, nil
}

func (s *proctoringService) cacheReport(ctx context.Context, report *models.ProctoringReport) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Set(ctx, reportKeyPrefix+report.TestSessionID, report, s.config.ReportCacheTTL); err != nil {
		s.logger.Warn("Failed to cache proctoring report", "test_session_id", report.TestSessionID, "error", err)
	}
}

// ===== QUERIES =====

func (s *proctoringService) GetActiveSession(ctx context.Context, testSessionID string) (*SessionSnapshot, error) {
	session, err := s.lockActive(testSessionID)
	if err != nil {
		return nil, err
	}
	defer session.mu.Unlock()
	return session.snapshotLocked(), nil
}

func (s *proctoringService) GetAllActiveSessions(ctx context.Context) []*SessionSnapshot {
	snapshots := make([]*SessionSnapshot, 0)
	for _, session := range s.registry.list() {
		session.mu.Lock()
		if session.active {
			snapshots = append(snapshots, session.snapshotLocked())
		}
		session.mu.Unlock()
	}
	return snapshots
}

// GetSessionViolations reads the live log, falling back to the durable log
// of the most recent session for the attempt.
func (s *proctoringService) GetSessionViolations(ctx context.Context, testSessionID string) ([]models.ProctoringViolation, error) {
	if session, err := s.lockActive(testSessionID); err == nil {
		defer session.mu.Unlock()
		return append([]models.ProctoringViolation{}, session.violations...), nil
	}

	record, err := s.repo.GetLatestSessionByAttempt(ctx, testSessionID)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return nil, ErrSessionNotFound
		}
		return nil, newPersistenceError("get session", err)
	}
	violations, err := s.repo.ListViolations(ctx, record.SessionID)
	if err != nil {
		return nil, newPersistenceError("list violations", err)
	}
	result := make([]models.ProctoringViolation, 0, len(violations))
	for _, v := range violations {
		result = append(result, *v)
	}
	return result, nil
}

// ===== HOUSEKEEPING =====

// SweepExpired terminates sessions older than the configured maximum
// duration and returns how many it ended.
func (s *proctoringService) SweepExpired(ctx context.Context) int {
	if s.config.MaxSessionDuration <= 0 {
		return 0
	}

	cutoff := s.now().Add(-s.config.MaxSessionDuration)
	ended := 0
	for _, session := range s.registry.list() {
		session.mu.Lock()
		if session.active && session.startTime.Before(cutoff) {
			if _, err := s.terminateLocked(ctx, session, models.EndReasonSessionTimeout); err != nil {
				s.logger.Error("Failed to expire proctoring session",
					"test_session_id", session.testSessionID,
					"error", err)
			}
			ended++
		}
		session.mu.Unlock()
	}
	return ended
}

func (s *proctoringService) RunExpirySweeper(ctx context.Context) {
	if s.config.MaxSessionDuration <= 0 || s.config.SweepInterval <= 0 {
		s.logger.Info("Proctoring session expiry disabled")
		return
	}

	ticker := time.NewTicker(s.config.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := s.SweepExpired(ctx); n > 0 {
				s.logger.Info("Expired proctoring sessions", "count", n)
			}
		}
	}
}

// Close waits for in-flight event publications.
func (s *proctoringService) Close() error {
	s.inflight.Wait()
	return nil
}

// ===== HELPERS =====

// fields is a realtime payload.
type fields = map[string]interface{}

// ensureNotTerminated refuses attempts whose latest durable session was
// terminated. Termination ends the attempt, not just the session.
func (s *proctoringService) ensureNotTerminated(ctx context.Context, testSessionID string) error {
	latest, err := s.repo.GetLatestSessionByAttempt(ctx, testSessionID)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return nil
		}
		return newPersistenceError("load latest session", err)
	}
	if latest.Status == models.SessionTerminated {
		return ErrAttemptTerminated
	}
	return nil
}

// lockActive returns the live session for the attempt with its lock held.
func (s *proctoringService) lockActive(testSessionID string) (*liveSession, error) {
	session := s.registry.get(testSessionID)
	if session == nil {
		return nil, ErrSessionNotFound
	}
	session.mu.Lock()
	if !session.active {
		session.mu.Unlock()
		return nil, ErrSessionNotFound
	}
	return session, nil
}

// claimAttempt takes the cross-instance guard. A cache outage does not block
// the exam; the in-process registry still applies.
func (s *proctoringService) claimAttempt(ctx context.Context, testSessionID, sessionID string) bool {
	if s.cache == nil {
		return true
	}
	ttl := s.config.MaxSessionDuration
	if ttl > 0 {
		ttl += s.config.SweepInterval
	}
	claimed, err := s.cache.SetNX(ctx, activeKeyPrefix+testSessionID, sessionID, ttl)
	if err != nil {
		s.logger.Warn("Active session guard unavailable", "test_session_id", testSessionID, "error", err)
		return true
	}
	return claimed
}

func (s *proctoringService) releaseAttempt(ctx context.Context, testSessionID string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Delete(ctx, activeKeyPrefix+testSessionID); err != nil {
		s.logger.Warn("Failed to release active session guard", "test_session_id", testSessionID, "error", err)
	}
}

// publish hands the event to the broker without holding up the caller.
func (s *proctoringService) publish(event *events.ProctoringEvent) {
	if s.publisher == nil {
		return
	}
	s.inflight.Add(1)
	go func() {
		defer s.inflight.Done()
		ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
		defer cancel()
		if err := s.publisher.PublishProctoringEvent(ctx, event); err != nil {
			s.logger.Error("Failed to publish proctoring event",
				"event_type", event.Type,
				"test_session_id", event.TestSessionID,
				"error", err)
		}
	}()
}

func metadataOrEmpty(metadata map[string]interface{}) map[string]interface{} {
	if metadata == nil {
		return map[string]interface{}{}
	}
	return metadata
}
