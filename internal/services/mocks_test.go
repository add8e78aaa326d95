package services

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/SAP-F-2025/proctoring-service/internal/events"
	"github.com/SAP-F-2025/proctoring-service/internal/models"
	"github.com/SAP-F-2025/proctoring-service/internal/repositories"
	"github.com/SAP-F-2025/proctoring-service/internal/validator"
	"github.com/stretchr/testify/mock"
	"gorm.io/gorm"
)

// MockProctoringRepository for testing
type MockProctoringRepository struct {
	mock.Mock
}

func (m *MockProctoringRepository) CreateSession(ctx context.Context, session *models.ProctoringSession) error {
	args := m.Called(ctx, session)
	return args.Error(0)
}

func (m *MockProctoringRepository) GetSession(ctx context.Context, sessionID string) (*models.ProctoringSession, error) {
	args := m.Called(ctx, sessionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.ProctoringSession), args.Error(1)
}

func (m *MockProctoringRepository) GetLatestSessionByAttempt(ctx context.Context, testSessionID string) (*models.ProctoringSession, error) {
	args := m.Called(ctx, testSessionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.ProctoringSession), args.Error(1)
}

func (m *MockProctoringRepository) UpdateWebcamStatus(ctx context.Context, sessionID string, enabled bool) error {
	args := m.Called(ctx, sessionID, enabled)
	return args.Error(0)
}

func (m *MockProctoringRepository) EndSession(ctx context.Context, end repositories.SessionEnd) error {
	args := m.Called(ctx, end)
	return args.Error(0)
}

func (m *MockProctoringRepository) CreateViolation(ctx context.Context, violation *models.ProctoringViolation, totals repositories.SessionTotals) error {
	args := m.Called(ctx, violation, totals)
	return args.Error(0)
}

func (m *MockProctoringRepository) ListViolations(ctx context.Context, sessionID string) ([]*models.ProctoringViolation, error) {
	args := m.Called(ctx, sessionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.ProctoringViolation), args.Error(1)
}

func (m *MockProctoringRepository) CreateScreenshot(ctx context.Context, screenshot *models.ProctoringScreenshot) error {
	args := m.Called(ctx, screenshot)
	return args.Error(0)
}

func (m *MockProctoringRepository) CountScreenshots(ctx context.Context, sessionID string) (int64, error) {
	args := m.Called(ctx, sessionID)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockProctoringRepository) Migrate(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

// noHistory stubs the attempt lookup as never seen before.
func (m *MockProctoringRepository) noHistory() *MockProctoringRepository {
	m.On("GetLatestSessionByAttempt", mock.Anything, mock.Anything).Return(nil, gorm.ErrRecordNotFound).Maybe()
	return m
}

// happyPath stubs every write to succeed.
func (m *MockProctoringRepository) happyPath() *MockProctoringRepository {
	m.noHistory()
	m.On("CreateSession", mock.Anything, mock.Anything).Return(nil).Maybe()
	m.On("CreateViolation", mock.Anything, mock.Anything, mock.Anything).Return(nil).Maybe()
	m.On("UpdateWebcamStatus", mock.Anything, mock.Anything, mock.Anything).Return(nil).Maybe()
	m.On("CreateScreenshot", mock.Anything, mock.Anything).Return(nil).Maybe()
	m.On("EndSession", mock.Anything, mock.Anything).Return(nil).Maybe()
	return m
}

type emitted struct {
	Target  string
	Event   string
	Payload interface{}
}

// recordingNotifier captures every realtime push.
type recordingNotifier struct {
	mu    sync.Mutex
	emits []emitted
}

func (n *recordingNotifier) EmitToUser(userID, event string, payload interface{}) {
	n.record("user:"+userID, event, payload)
}

func (n *recordingNotifier) EmitToInstructors(event string, payload interface{}) {
	n.record("instructors", event, payload)
}

func (n *recordingNotifier) EmitToRoom(room, event string, payload interface{}) {
	n.record("room:"+room, event, payload)
}

func (n *recordingNotifier) record(target, event string, payload interface{}) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.emits = append(n.emits, emitted{Target: target, Event: event, Payload: payload})
}

func (n *recordingNotifier) find(target, event string) []emitted {
	n.mu.Lock()
	defer n.mu.Unlock()
	var matches []emitted
	for _, e := range n.emits {
		if e.Target == target && e.Event == event {
			matches = append(matches, e)
		}
	}
	return matches
}

// fakeClock is a manually advanced time source.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type testHarness struct {
	service   ProctoringService
	repo      *MockProctoringRepository
	notifier  *recordingNotifier
	publisher *events.MockEventPublisher
	clock     *fakeClock
}

func newTestHarness(t *testing.T, repo *MockProctoringRepository, opts ...Option) *testHarness {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := &testHarness{
		repo:      repo,
		notifier:  &recordingNotifier{},
		publisher: events.NewMockEventPublisher(logger),
		clock:     &fakeClock{now: time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)},
	}
	opts = append([]Option{WithClock(h.clock.Now)}, opts...)
	h.service = NewProctoringService(repo, h.notifier, h.publisher, logger, validator.New(), DefaultProctoringConfig(), opts...)
	t.Cleanup(func() { h.service.Close() })
	return h
}

func (h *testHarness) start(t *testing.T, attemptID string) *SessionSnapshot {
	t.Helper()
	snapshot, err := h.service.StartProctoring(context.Background(), &StartProctoringRequest{
		TestSessionID: attemptID,
		UserID:        "student-" + attemptID,
		TestID:        "test-1",
	})
	if err != nil {
		t.Fatalf("failed to start proctoring: %v", err)
	}
	return snapshot
}
