package sensor

import (
	"context"
	"encoding/base64"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/SAP-F-2025/proctoring-service/internal/models"
	"github.com/SAP-F-2025/proctoring-service/internal/realtime"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ===== FAKES =====

type fakeCamera struct {
	mu         sync.Mutex
	openErr    error
	captureErr error
	opens      int
	closes     int
}

func (c *fakeCamera) Open(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.opens++
	return c.openErr
}

func (c *fakeCamera) Capture(ctx context.Context) (image.Image, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.captureErr != nil {
		return nil, c.captureErr
	}
	return solidFrame(120), nil
}

func (c *fakeCamera) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closes++
	return nil
}

func (c *fakeCamera) set(fn func(c *fakeCamera)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fn(c)
}

type scriptedDetector struct {
	mu      sync.Mutex
	results []Detection
}

func (d *scriptedDetector) Detect(frame image.Image) Detection {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.results) == 0 {
		return Detection{Faces: 1}
	}
	next := d.results[0]
	d.results = d.results[1:]
	return next
}

func (d *scriptedDetector) push(results ...Detection) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.results = append(d.results, results...)
}

type reportedViolation struct {
	violationType models.ViolationType
	data          map[string]interface{}
}

type recordingReporter struct {
	mu          sync.Mutex
	violations  []reportedViolation
	screenshots []Screenshot
	webcam      []bool
	ends        int
}

func (r *recordingReporter) ReportViolation(ctx context.Context, attemptID string, violationType models.ViolationType, data map[string]interface{}) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.violations = append(r.violations, reportedViolation{violationType: violationType, data: data})
	return nil
}

func (r *recordingReporter) ReportScreenshot(ctx context.Context, attemptID string, shot Screenshot) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.screenshots = append(r.screenshots, shot)
	return nil
}

func (r *recordingReporter) ReportWebcamStatus(ctx context.Context, attemptID string, enabled bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.webcam = append(r.webcam, enabled)
	return nil
}

func (r *recordingReporter) ReportEnd(ctx context.Context, attemptID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ends++
	return nil
}

func (r *recordingReporter) types() []models.ViolationType {
	r.mu.Lock()
	defer r.mu.Unlock()
	types := make([]models.ViolationType, 0, len(r.violations))
	for _, v := range r.violations {
		types = append(types, v.violationType)
	}
	return types
}

func (r *recordingReporter) violation(i int) reportedViolation {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.violations[i]
}

func (r *recordingReporter) screenshotCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.screenshots)
}

type recordingIndicator struct {
	mu       sync.Mutex
	statuses []Status
	warnings []string
}

func (i *recordingIndicator) SetStatus(status Status, message string) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.statuses = append(i.statuses, status)
}

func (i *recordingIndicator) ShowWarning(message string) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.warnings = append(i.warnings, message)
}

func solidFrame(level uint8) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, 16, 12))
	for y := 0; y < 12; y++ {
		for x := 0; x < 16; x++ {
			img.Set(x, y, color.RGBA{R: level, G: level, B: level, A: 255})
		}
	}
	return img
}

// quietConfig keeps the tickers out of the way so tests drive the loop.
func quietConfig() Config {
	return Config{
		DetectionInterval:   time.Hour,
		ScreenshotInterval:  time.Hour,
		CameraRetryInterval: time.Hour,
		NoFaceReportEvery:   5,
		SuspiciousMotion:    64,
	}
}

type loopFixture struct {
	loop      *Loop
	camera    *fakeCamera
	detector  *scriptedDetector
	reporter  *recordingReporter
	indicator *recordingIndicator
}

func newLoopFixture(t *testing.T) *loopFixture {
	t.Helper()
	f := &loopFixture{
		camera:    &fakeCamera{},
		detector:  &scriptedDetector{},
		reporter:  &recordingReporter{},
		indicator: &recordingIndicator{},
	}
	f.loop = NewLoop(f.camera, f.detector, f.reporter,
		slog.New(slog.NewTextHandler(io.Discard, nil)),
		WithIndicator(f.indicator))
	t.Cleanup(func() { f.loop.Stop(context.Background(), StopUnload) })
	return f
}

func (f *loopFixture) start(t *testing.T) {
	t.Helper()
	require.NoError(t, f.loop.Start(context.Background(), "attempt-1", quietConfig()))
	// The loop captures one screenshot as soon as it runs.
	require.Eventually(t, func() bool { return f.reporter.screenshotCount() == 1 }, time.Second, 5*time.Millisecond)
}

// ===== TESTS =====

func TestLoop_StartAcquiresCamera(t *testing.T) {
	f := newLoopFixture(t)
	assert.Equal(t, StateIdle, f.loop.State())

	f.start(t)

	assert.Equal(t, StateActive, f.loop.State())
	assert.False(t, f.loop.Degraded())
	assert.Equal(t, []bool{true}, f.reporter.webcam)
	assert.ErrorIs(t, f.loop.Start(context.Background(), "attempt-1", quietConfig()), ErrAlreadyStarted)
}

func TestLoop_CameraFailureRunsDegraded(t *testing.T) {
	f := newLoopFixture(t)
	f.camera.openErr = &CameraError{Name: "NotAllowedError", Err: errors.New("permission denied")}

	err := f.loop.Start(context.Background(), "attempt-1", quietConfig())
	require.ErrorIs(t, err, ErrCameraUnavailable)

	assert.Equal(t, StateActive, f.loop.State())
	assert.True(t, f.loop.Degraded())
	require.Equal(t, []models.ViolationType{models.ViolationWebcamError}, f.reporter.types())
	assert.Equal(t, "NotAllowedError", f.reporter.violation(0).data["errorName"])
	assert.Len(t, f.indicator.warnings, 1)

	// No video-derived signals while degraded.
	f.detector.push(Detection{Faces: 0}, Detection{Faces: 0}, Detection{Faces: 0}, Detection{Faces: 0}, Detection{Faces: 0})
	for i := 0; i < 5; i++ {
		f.loop.detectOnce(context.Background())
	}
	f.loop.captureScreenshot(context.Background())
	assert.Len(t, f.reporter.types(), 1)
	assert.Equal(t, 0, f.reporter.screenshotCount())

	// Camera comes back on retry.
	f.camera.set(func(c *fakeCamera) { c.openErr = nil })
	f.loop.retryCamera(context.Background())
	assert.False(t, f.loop.Degraded())
	assert.Equal(t, []bool{true}, f.reporter.webcam)
}

func TestLoop_CameraLostMidSession(t *testing.T) {
	f := newLoopFixture(t)
	f.start(t)

	f.camera.set(func(c *fakeCamera) { c.captureErr = &CameraError{Name: "NotReadableError"} })
	f.loop.detectOnce(context.Background())
	f.loop.detectOnce(context.Background())

	assert.True(t, f.loop.Degraded())
	assert.Equal(t, []models.ViolationType{models.ViolationWebcamError}, f.reporter.types())
}

func TestLoop_NoFaceReportedEveryFifthDetection(t *testing.T) {
	f := newLoopFixture(t)
	f.start(t)

	for i := 0; i < 10; i++ {
		f.detector.push(Detection{Faces: 0})
		f.loop.detectOnce(context.Background())
	}

	require.Equal(t, []models.ViolationType{models.ViolationNoFaceDetected, models.ViolationNoFaceDetected}, f.reporter.types())
	assert.Equal(t, 5, f.reporter.violation(0).data["count"])
	assert.Equal(t, 10, f.reporter.violation(1).data["count"])
	assert.Equal(t, 10, f.loop.CurrentViolations().NoFaceDetected)
}

func TestLoop_FacePresenceResetsNoFaceStreak(t *testing.T) {
	f := newLoopFixture(t)
	f.start(t)

	f.detector.push(
		Detection{Faces: 0}, Detection{Faces: 0}, Detection{Faces: 0}, Detection{Faces: 0},
		Detection{Faces: 1},
		Detection{Faces: 0}, Detection{Faces: 0}, Detection{Faces: 0}, Detection{Faces: 0},
	)
	for i := 0; i < 9; i++ {
		f.loop.detectOnce(context.Background())
	}

	assert.Empty(t, f.reporter.types())
}

func TestLoop_MultipleFacesAndMovement(t *testing.T) {
	f := newLoopFixture(t)
	f.start(t)

	f.detector.push(Detection{Faces: 2}, Detection{Faces: 1, Motion: 90})
	f.loop.detectOnce(context.Background())
	f.loop.detectOnce(context.Background())

	require.Equal(t, []models.ViolationType{models.ViolationMultipleFaces, models.ViolationSuspiciousMovement}, f.reporter.types())
	assert.Equal(t, 2, f.reporter.violation(0).data["faceCount"])
	assert.Equal(t, 90.0, f.reporter.violation(1).data["magnitude"])
	assert.Contains(t, f.indicator.statuses, StatusError)
}

func TestLoop_FocusAndVisibility(t *testing.T) {
	f := newLoopFixture(t)
	f.start(t)
	ctx := context.Background()

	f.loop.FocusChanged(false)
	f.loop.FocusChanged(true)
	f.loop.VisibilityChanged(ctx, false)
	assert.Empty(t, f.reporter.types())

	f.loop.VisibilityChanged(ctx, true)
	f.loop.VisibilityChanged(ctx, true)

	require.Equal(t, []models.ViolationType{models.ViolationTabSwitch, models.ViolationTabSwitch}, f.reporter.types())
	assert.Equal(t, 2, f.reporter.violation(1).data["count"])
	assert.Equal(t, 2, f.loop.CurrentViolations().TabSwitches)
}

func TestLoop_InputInterception(t *testing.T) {
	f := newLoopFixture(t)
	f.start(t)
	ctx := context.Background()

	assert.True(t, f.loop.KeyPressed(ctx, KeyEvent{Key: "c", Ctrl: true}))
	assert.True(t, f.loop.KeyPressed(ctx, KeyEvent{Key: "t", Ctrl: true}))
	assert.True(t, f.loop.KeyPressed(ctx, KeyEvent{Key: "F12"}))
	assert.True(t, f.loop.KeyPressed(ctx, KeyEvent{Key: "I", Ctrl: true, Shift: true}))
	assert.False(t, f.loop.KeyPressed(ctx, KeyEvent{Key: "c"}))
	assert.False(t, f.loop.KeyPressed(ctx, KeyEvent{Key: "z", Ctrl: true}))
	assert.True(t, f.loop.ContextMenu(ctx))

	assert.Equal(t, []models.ViolationType{
		models.ViolationKeyboardShortcut,
		models.ViolationKeyboardShortcut,
		models.ViolationDeveloperTools,
		models.ViolationDeveloperTools,
		models.ViolationRightClickAttempt,
	}, f.reporter.types())
	assert.Equal(t, "c", f.reporter.violation(0).data["key"])
}

func TestLoop_PauseIgnoresSignals(t *testing.T) {
	f := newLoopFixture(t)
	f.start(t)
	ctx := context.Background()

	f.loop.Pause()
	f.loop.VisibilityChanged(ctx, true)
	assert.False(t, f.loop.ContextMenu(ctx))
	f.detector.push(Detection{Faces: 2})
	f.loop.detectOnce(ctx)
	assert.Empty(t, f.reporter.types())

	f.loop.Resume()
	f.loop.VisibilityChanged(ctx, true)
	assert.Equal(t, []models.ViolationType{models.ViolationTabSwitch}, f.reporter.types())
}

func TestLoop_ScreenshotTaggedWithLastViolation(t *testing.T) {
	f := newLoopFixture(t)
	f.start(t)
	ctx := context.Background()

	f.loop.ContextMenu(ctx)
	f.loop.captureScreenshot(ctx)

	f.reporter.mu.Lock()
	defer f.reporter.mu.Unlock()
	require.Len(t, f.reporter.screenshots, 2)
	assert.Nil(t, f.reporter.screenshots[0].ViolationType)

	shot := f.reporter.screenshots[1]
	require.NotNil(t, shot.ViolationType)
	assert.Equal(t, models.ViolationRightClickAttempt, *shot.ViolationType)

	require.True(t, strings.HasPrefix(shot.ImageData, "data:image/jpeg;base64,"))
	raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(shot.ImageData, "data:image/jpeg;base64,"))
	require.NoError(t, err)
	_, err = jpeg.Decode(strings.NewReader(string(raw)))
	assert.NoError(t, err)
}

func TestLoop_StopIsIdempotent(t *testing.T) {
	f := newLoopFixture(t)
	f.start(t)
	ctx := context.Background()

	f.loop.Stop(ctx, StopCompleted)
	f.loop.Stop(ctx, StopCompleted)

	assert.Equal(t, StateStopped, f.loop.State())
	assert.Equal(t, 1, f.reporter.ends)
	assert.Equal(t, 1, f.camera.closes)

	f.loop.VisibilityChanged(ctx, true)
	assert.Empty(t, f.reporter.types())
	assert.ErrorIs(t, f.loop.Start(ctx, "attempt-1", quietConfig()), ErrAlreadyStarted)
}

func TestLoop_ServerTerminationStopsWithoutEndNotice(t *testing.T) {
	f := newLoopFixture(t)
	f.start(t)
	ctx := context.Background()

	f.loop.HandleMessage(ctx, realtime.Message{Event: "proctoring_warning", Data: []byte(`{"message":"stay on the page"}`)})
	assert.Equal(t, StateActive, f.loop.State())

	f.loop.HandleMessage(ctx, realtime.Message{Event: "test_terminated", Data: []byte(`{"reason":"excessive_violations","message":"terminated"}`)})

	assert.Equal(t, StateStopped, f.loop.State())
	assert.Equal(t, 0, f.reporter.ends)
	assert.Equal(t, []string{"stay on the page", "terminated"}, f.indicator.warnings)
}

func TestLoop_TicksDriveDetection(t *testing.T) {
	f := newLoopFixture(t)
	config := quietConfig()
	config.DetectionInterval = 5 * time.Millisecond
	config.NoFaceReportEvery = 1

	f.detector.push(Detection{Faces: 0}, Detection{Faces: 0})
	require.NoError(t, f.loop.Start(context.Background(), "attempt-1", config))

	assert.Eventually(t, func() bool {
		return len(f.reporter.types()) >= 2
	}, time.Second, 5*time.Millisecond)
}
