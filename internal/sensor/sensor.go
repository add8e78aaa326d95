// Package sensor runs the exam-taker side of proctoring: it owns the camera,
// runs the presence heuristic, watches focus and input, and reports what it
// sees to the proctoring server.
//
// The server is authoritative. The loop only counts locally for status
// feedback and never decides to warn or terminate.
package sensor

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/SAP-F-2025/proctoring-service/internal/models"
	"github.com/SAP-F-2025/proctoring-service/internal/realtime"
	"github.com/SAP-F-2025/proctoring-service/internal/services"
)

var (
	ErrCameraUnavailable = errors.New("sensor: camera unavailable")
	ErrAlreadyStarted    = errors.New("sensor: loop already started")
)

// CameraError carries the device-level reason a camera could not be used.
type CameraError struct {
	Name string // NotAllowedError, NotFoundError, ...
	Err  error
}

func (e *CameraError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", ErrCameraUnavailable, e.Name)
	}
	return fmt.Sprintf("%s: %s: %v", ErrCameraUnavailable, e.Name, e.Err)
}

func (e *CameraError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrCameraUnavailable}
	}
	return []error{ErrCameraUnavailable, e.Err}
}

type State int

const (
	StateIdle State = iota
	StateInitializing
	StateActive
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateInitializing:
		return "initializing"
	case StateActive:
		return "active"
	case StateStopped:
		return "stopped"
	}
	return "unknown"
}

// Stop reasons.
const (
	StopCompleted  = "completed"
	StopTerminated = "terminated"
	StopServerEnd  = "server_ended"
	StopUnload     = "unload"
)

// Camera is a video-only frame source.
type Camera interface {
	Open(ctx context.Context) error
	Capture(ctx context.Context) (image.Image, error)
	Close() error
}

// Detection is the outcome of one presence check.
type Detection struct {
	Faces      int
	Brightness float64
	Difference float64 // summed red-channel delta against the previous frame
	Motion     float64 // mean per-pixel delta, 0-255
}

type FaceDetector interface {
	Detect(frame image.Image) Detection
}

// Screenshot is an encoded evidence frame ready to send.
type Screenshot struct {
	ImageData     string
	ViolationType *models.ViolationType
	Timestamp     time.Time
}

// Reporter delivers sensor output to the proctoring server.
type Reporter interface {
	ReportViolation(ctx context.Context, attemptID string, violationType models.ViolationType, data map[string]interface{}) error
	ReportScreenshot(ctx context.Context, attemptID string, shot Screenshot) error
	ReportWebcamStatus(ctx context.Context, attemptID string, enabled bool) error
	ReportEnd(ctx context.Context, attemptID string) error
}

type Status string

const (
	StatusInfo    Status = "info"
	StatusSuccess Status = "success"
	StatusActive  Status = "active"
	StatusWarning Status = "warning"
	StatusError   Status = "error"
)

// StatusIndicator is the exam-taker facing feedback surface.
type StatusIndicator interface {
	SetStatus(status Status, message string)
	ShowWarning(message string)
}

type Config struct {
	DetectionInterval   time.Duration
	ScreenshotInterval  time.Duration
	CameraRetryInterval time.Duration
	NoFaceReportEvery   int
	// SuspiciousMotion is the mean per-pixel delta reported as
	// suspicious_movement. Zero disables it.
	SuspiciousMotion float64
	JPEGQuality      int
	UserAgent        string
}

func DefaultConfig() Config {
	return Config{
		DetectionInterval:   time.Second,
		ScreenshotInterval:  30 * time.Second,
		CameraRetryInterval: 10 * time.Second,
		NoFaceReportEvery:   5,
		SuspiciousMotion:    64,
		JPEGQuality:         70,
		UserAgent:           "proctoring-sensor",
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.DetectionInterval <= 0 {
		c.DetectionInterval = def.DetectionInterval
	}
	if c.ScreenshotInterval <= 0 {
		c.ScreenshotInterval = def.ScreenshotInterval
	}
	if c.CameraRetryInterval <= 0 {
		c.CameraRetryInterval = def.CameraRetryInterval
	}
	if c.NoFaceReportEvery <= 0 {
		c.NoFaceReportEvery = def.NoFaceReportEvery
	}
	if c.JPEGQuality <= 0 || c.JPEGQuality > 100 {
		c.JPEGQuality = def.JPEGQuality
	}
	if c.UserAgent == "" {
		c.UserAgent = def.UserAgent
	}
	return c
}

// Loop is one sensor session. It is started once and stopped once.
type Loop struct {
	camera    Camera
	detector  FaceDetector
	reporter  Reporter
	indicator StatusIndicator
	logger    *slog.Logger
	now       func() time.Time

	mu            sync.Mutex
	state         State
	attemptID     string
	config        Config
	degraded      bool
	paused        bool
	counters      models.ViolationCounters
	noFaceStreak  int
	lastViolation *models.ViolationType

	cancel context.CancelFunc
	done   chan struct{}
}

type LoopOption func(*Loop)

func WithIndicator(indicator StatusIndicator) LoopOption {
	return func(l *Loop) { l.indicator = indicator }
}

func WithClock(now func() time.Time) LoopOption {
	return func(l *Loop) { l.now = now }
}

func NewLoop(camera Camera, detector FaceDetector, reporter Reporter, logger *slog.Logger, opts ...LoopOption) *Loop {
	l := &Loop{
		camera:   camera,
		detector: detector,
		reporter: reporter,
		logger:   logger.With("component", "sensor"),
		now:      time.Now,
		state:    StateIdle,
	}
	l.indicator = &logIndicator{logger: l.logger}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Start acquires the camera and begins the detection and screenshot ticks.
// A camera failure does not abort the loop: it runs degraded, the failure is
// reported as webcam_error, and the camera is retried at CameraRetryInterval.
// The returned error is that camera failure, if any.
func (l *Loop) Start(ctx context.Context, attemptID string, config Config) error {
	l.mu.Lock()
	if l.state != StateIdle {
		l.mu.Unlock()
		return ErrAlreadyStarted
	}
	l.state = StateInitializing
	l.attemptID = attemptID
	l.config = config.withDefaults()
	l.mu.Unlock()

	l.indicator.SetStatus(StatusInfo, "Preparing camera")

	camErr := l.camera.Open(ctx)

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	l.mu.Lock()
	if l.state != StateInitializing {
		// Stopped while the camera request was in flight.
		l.mu.Unlock()
		cancel()
		if camErr == nil {
			l.camera.Close()
		}
		return camErr
	}
	l.state = StateActive
	l.degraded = camErr != nil
	l.cancel = cancel
	l.done = make(chan struct{})
	l.mu.Unlock()

	if camErr != nil {
		l.cameraFailed(runCtx, camErr)
	} else {
		l.cameraReady(runCtx)
	}
	l.indicator.SetStatus(StatusActive, "Proctoring active")

	go l.run(runCtx)

	l.logger.Info("Sensor loop started", "attempt_id", attemptID, "degraded", camErr != nil)
	return camErr
}

func (l *Loop) run(ctx context.Context) {
	defer close(l.done)

	l.mu.Lock()
	config := l.config
	l.mu.Unlock()

	detect := time.NewTicker(config.DetectionInterval)
	screenshot := time.NewTicker(config.ScreenshotInterval)
	retry := time.NewTicker(config.CameraRetryInterval)
	defer detect.Stop()
	defer screenshot.Stop()
	defer retry.Stop()

	l.captureScreenshot(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-detect.C:
			l.detectOnce(ctx)
		case <-screenshot.C:
			l.captureScreenshot(ctx)
		case <-retry.C:
			l.retryCamera(ctx)
		}
	}
}

// Stop releases the camera and, unless the server ended the session itself,
// tells the server the attempt is over. Calling Stop again is a no-op.
func (l *Loop) Stop(ctx context.Context, reason string) {
	l.mu.Lock()
	previous := l.state
	if previous == StateStopped {
		l.mu.Unlock()
		return
	}
	l.state = StateStopped
	cancel, done, attemptID := l.cancel, l.done, l.attemptID
	l.mu.Unlock()

	if previous == StateIdle {
		return
	}
	// An in-flight Start owns the camera until it sees the stop.
	if previous == StateActive {
		cancel()
		<-done
		if err := l.camera.Close(); err != nil {
			l.logger.Warn("Failed to release camera", "error", err)
		}
	}
	l.indicator.SetStatus(StatusInfo, "Proctoring stopped")

	if reason != StopTerminated && reason != StopServerEnd {
		if err := l.reporter.ReportEnd(ctx, attemptID); err != nil {
			l.logger.Warn("Failed to report proctoring end", "attempt_id", attemptID, "error", err)
		}
	}
	l.logger.Info("Sensor loop stopped", "attempt_id", attemptID, "reason", reason)
}

func (l *Loop) Pause() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state == StateActive {
		l.paused = true
		l.indicator.SetStatus(StatusWarning, "Proctoring paused")
	}
}

func (l *Loop) Resume() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state == StateActive && l.paused {
		l.paused = false
		l.indicator.SetStatus(StatusActive, "Proctoring active")
	}
}

func (l *Loop) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

func (l *Loop) Degraded() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.degraded
}

// CurrentViolations returns the local counters. They drive status feedback
// only; the server keeps its own.
func (l *Loop) CurrentViolations() models.ViolationCounters {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.counters
}

// observing reports whether events should be acted on right now.
func (l *Loop) observing() (string, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.attemptID, l.state == StateActive && !l.paused
}

// ===== CAMERA =====

func (l *Loop) cameraReady(ctx context.Context) {
	l.indicator.SetStatus(StatusSuccess, "Camera connected")
	if err := l.reporter.ReportWebcamStatus(ctx, l.attemptID, true); err != nil {
		l.logger.Warn("Failed to report webcam status", "error", err)
	}
}

func (l *Loop) cameraFailed(ctx context.Context, err error) {
	name := "CameraError"
	var camErr *CameraError
	if errors.As(err, &camErr) && camErr.Name != "" {
		name = camErr.Name
	}

	message := "Camera is unavailable"
	switch name {
	case "NotAllowedError":
		message = "Please allow camera access to take this exam"
	case "NotFoundError":
		message = "No camera was found on this device"
	}
	l.indicator.SetStatus(StatusError, message)
	l.indicator.ShowWarning(message)

	l.report(ctx, models.ViolationWebcamError, map[string]interface{}{
		"errorName":    name,
		"errorMessage": err.Error(),
	})
}

func (l *Loop) retryCamera(ctx context.Context) {
	l.mu.Lock()
	retry := l.state == StateActive && l.degraded
	l.mu.Unlock()
	if !retry {
		return
	}

	if err := l.camera.Open(ctx); err != nil {
		l.logger.Debug("Camera still unavailable", "error", err)
		return
	}

	l.mu.Lock()
	l.degraded = false
	l.mu.Unlock()
	l.cameraReady(ctx)
}

// ===== DETECTION =====

// detectOnce runs one presence check. Nothing is reported while degraded.
func (l *Loop) detectOnce(ctx context.Context) {
	l.mu.Lock()
	skip := l.state != StateActive || l.paused || l.degraded
	l.mu.Unlock()
	if skip {
		return
	}

	frame, err := l.camera.Capture(ctx)
	if err != nil {
		l.captureFailed(ctx, err)
		return
	}
	detection := l.detector.Detect(frame)

	l.mu.Lock()
	cfg := l.config
	var (
		violationType models.ViolationType
		data          map[string]interface{}
	)
	switch {
	case detection.Faces == 0:
		l.noFaceStreak++
		l.counters.NoFaceDetected++
		if l.noFaceStreak%cfg.NoFaceReportEvery == 0 {
			violationType = models.ViolationNoFaceDetected
			data = map[string]interface{}{"count": l.noFaceStreak}
		}
	case detection.Faces > 1:
		l.noFaceStreak = 0
		l.counters.MultipleFaces++
		violationType = models.ViolationMultipleFaces
		data = map[string]interface{}{"faceCount": detection.Faces, "count": l.counters.MultipleFaces}
	default:
		l.noFaceStreak = 0
	}
	movement := cfg.SuspiciousMotion > 0 && detection.Motion >= cfg.SuspiciousMotion
	if movement {
		l.counters.SuspiciousMovement++
	}
	l.mu.Unlock()

	switch {
	case detection.Faces == 0:
		l.indicator.SetStatus(StatusWarning, "No face detected")
	case detection.Faces > 1:
		l.indicator.SetStatus(StatusError, fmt.Sprintf("%d faces detected", detection.Faces))
	default:
		l.indicator.SetStatus(StatusSuccess, "Face detected")
	}

	if violationType != "" {
		l.report(ctx, violationType, data)
	}
	if movement {
		l.report(ctx, models.ViolationSuspiciousMovement, map[string]interface{}{
			"magnitude": detection.Motion,
		})
	}
}

func (l *Loop) captureFailed(ctx context.Context, err error) {
	if !errors.Is(err, ErrCameraUnavailable) {
		l.logger.Warn("Frame capture failed", "error", err)
		return
	}
	l.mu.Lock()
	already := l.degraded
	l.degraded = true
	l.mu.Unlock()
	if !already {
		l.cameraFailed(ctx, err)
	}
}

// ===== SCREENSHOTS =====

func (l *Loop) captureScreenshot(ctx context.Context) {
	l.mu.Lock()
	skip := l.state != StateActive || l.paused || l.degraded
	quality := l.config.JPEGQuality
	attemptID := l.attemptID
	var tag *models.ViolationType
	if l.lastViolation != nil {
		t := *l.lastViolation
		tag = &t
	}
	l.mu.Unlock()
	if skip {
		return
	}

	frame, err := l.camera.Capture(ctx)
	if err != nil {
		l.captureFailed(ctx, err)
		return
	}

	imageData, err := EncodeJPEG(frame, quality)
	if err != nil {
		l.logger.Warn("Failed to encode screenshot", "error", err)
		return
	}

	shot := Screenshot{ImageData: imageData, ViolationType: tag, Timestamp: l.now()}
	if err := l.reporter.ReportScreenshot(ctx, attemptID, shot); err != nil {
		l.logger.Warn("Failed to report screenshot", "attempt_id", attemptID, "error", err)
	}
}

// EncodeJPEG renders frame as a base64 JPEG data URL.
func EncodeJPEG(frame image.Image, quality int) (string, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, frame, &jpeg.Options{Quality: quality}); err != nil {
		return "", err
	}
	return "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

// ===== BROWSER-STYLE EVENTS =====

// VisibilityChanged counts a tab switch whenever the exam view becomes hidden.
func (l *Loop) VisibilityChanged(ctx context.Context, hidden bool) {
	if _, ok := l.observing(); !ok || !hidden {
		return
	}
	l.mu.Lock()
	l.counters.TabSwitches++
	count := l.counters.TabSwitches
	l.mu.Unlock()

	l.report(ctx, models.ViolationTabSwitch, map[string]interface{}{"count": count})
}

// FocusChanged only updates the indicator; window focus loss is not counted.
func (l *Loop) FocusChanged(focused bool) {
	if _, ok := l.observing(); !ok {
		return
	}
	if focused {
		l.indicator.SetStatus(StatusActive, "Back on the exam window")
	} else {
		l.indicator.SetStatus(StatusWarning, "Window change detected")
	}
}

type KeyEvent struct {
	Key   string
	Ctrl  bool
	Shift bool
}

// KeyPressed reports blocked shortcuts and returns whether the key should be
// suppressed.
func (l *Loop) KeyPressed(ctx context.Context, ev KeyEvent) bool {
	if _, ok := l.observing(); !ok {
		return false
	}

	if ev.Key == "F12" || (ev.Ctrl && ev.Shift && strings.EqualFold(ev.Key, "i")) {
		l.report(ctx, models.ViolationDeveloperTools, nil)
		return true
	}
	if ev.Ctrl && !ev.Shift {
		switch strings.ToLower(ev.Key) {
		case "c", "v", "a", "t":
			l.report(ctx, models.ViolationKeyboardShortcut, map[string]interface{}{"key": ev.Key})
			return true
		}
	}
	return false
}

// ContextMenu reports a right-click and returns whether to suppress it.
func (l *Loop) ContextMenu(ctx context.Context) bool {
	if _, ok := l.observing(); !ok {
		return false
	}
	l.report(ctx, models.ViolationRightClickAttempt, nil)
	return true
}

// ===== SERVER EVENTS =====

// HandleServerEvent reacts to pushes from the proctoring server.
func (l *Loop) HandleServerEvent(ctx context.Context, event string, message string) {
	switch event {
	case services.NotifyWarning:
		l.indicator.ShowWarning(message)
	case services.NotifyTestTerminated:
		l.indicator.ShowWarning(message)
		l.Stop(ctx, StopTerminated)
	case services.NotifyProctoringStopped:
		l.Stop(ctx, StopServerEnd)
	}
}

// HandleMessage adapts a realtime push for HandleServerEvent.
func (l *Loop) HandleMessage(ctx context.Context, msg realtime.Message) {
	var payload struct {
		Message string `json:"message"`
	}
	if len(msg.Data) > 0 {
		if err := json.Unmarshal(msg.Data, &payload); err != nil {
			l.logger.Debug("Ignoring malformed server push", "event", msg.Event, "error", err)
		}
	}
	l.HandleServerEvent(ctx, msg.Event, payload.Message)
}

// report sends a violation and remembers its type for the next screenshot.
func (l *Loop) report(ctx context.Context, violationType models.ViolationType, data map[string]interface{}) {
	l.mu.Lock()
	attemptID := l.attemptID
	userAgent := l.config.UserAgent
	t := violationType
	l.lastViolation = &t
	l.mu.Unlock()

	if data == nil {
		data = map[string]interface{}{}
	}
	data["timestamp"] = l.now()
	data["userAgent"] = userAgent

	if services.SeverityOf(violationType) == models.SeverityHigh {
		l.indicator.SetStatus(StatusError, "Violation reported")
	}

	if err := l.reporter.ReportViolation(ctx, attemptID, violationType, data); err != nil {
		l.logger.Warn("Failed to report violation",
			"attempt_id", attemptID,
			"violation_type", violationType,
			"error", err)
	}
}

// logIndicator is the default indicator for headless runs.
type logIndicator struct {
	logger *slog.Logger
}

func (i *logIndicator) SetStatus(status Status, message string) {
	i.logger.Debug("Sensor status", "status", status, "message", message)
}

func (i *logIndicator) ShowWarning(message string) {
	i.logger.Warn("Proctoring warning", "message", message)
}
