package handlers

import (
	"context"
	"io"
	"log/slog"
	"sync"

	"github.com/SAP-F-2025/proctoring-service/internal/models"
	"github.com/SAP-F-2025/proctoring-service/internal/services"
	"github.com/SAP-F-2025/proctoring-service/internal/utils"
	"github.com/stretchr/testify/mock"
)

type MockProctoringService struct {
	mock.Mock
}

func (m *MockProctoringService) StartProctoring(ctx context.Context, req *services.StartProctoringRequest) (*services.SessionSnapshot, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*services.SessionSnapshot), args.Error(1)
}

func (m *MockProctoringService) RecordViolation(ctx context.Context, testSessionID string, violationType models.ViolationType, metadata map[string]interface{}) (*services.ViolationResult, error) {
	args := m.Called(ctx, testSessionID, violationType, metadata)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*services.ViolationResult), args.Error(1)
}

func (m *MockProctoringService) UpdateWebcamStatus(ctx context.Context, testSessionID string, enabled bool) (*services.ViolationResult, error) {
	args := m.Called(ctx, testSessionID, enabled)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*services.ViolationResult), args.Error(1)
}

func (m *MockProctoringService) CaptureScreenshot(ctx context.Context, req *services.CaptureScreenshotRequest) (*models.Screenshot, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Screenshot), args.Error(1)
}

func (m *MockProctoringService) TerminateTest(ctx context.Context, testSessionID, reason string) (*models.ProctoringReport, error) {
	args := m.Called(ctx, testSessionID, reason)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.ProctoringReport), args.Error(1)
}

func (m *MockProctoringService) EndProctoring(ctx context.Context, testSessionID, reason string) (*models.ProctoringReport, error) {
	args := m.Called(ctx, testSessionID, reason)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.ProctoringReport), args.Error(1)
}

func (m *MockProctoringService) GenerateProctoringReport(ctx context.Context, testSessionID string) (*models.ProctoringReport, error) {
	args := m.Called(ctx, testSessionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.ProctoringReport), args.Error(1)
}

func (m *MockProctoringService) GetReport(ctx context.Context, testSessionID string) (*models.ProctoringReport, error) {
	args := m.Called(ctx, testSessionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.ProctoringReport), args.Error(1)
}

func (m *MockProctoringService) ExportReport(ctx context.Context, testSessionID string) ([]byte, error) {
	args := m.Called(ctx, testSessionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]byte), args.Error(1)
}

func (m *MockProctoringService) GetActiveSession(ctx context.Context, testSessionID string) (*services.SessionSnapshot, error) {
	args := m.Called(ctx, testSessionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*services.SessionSnapshot), args.Error(1)
}

func (m *MockProctoringService) GetAllActiveSessions(ctx context.Context) []*services.SessionSnapshot {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil
	}
	return args.Get(0).([]*services.SessionSnapshot)
}

func (m *MockProctoringService) GetSessionViolations(ctx context.Context, testSessionID string) ([]models.ProctoringViolation, error) {
	args := m.Called(ctx, testSessionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.ProctoringViolation), args.Error(1)
}

func (m *MockProctoringService) SweepExpired(ctx context.Context) int {
	return m.Called(ctx).Int(0)
}

func (m *MockProctoringService) RunExpirySweeper(ctx context.Context) {
	m.Called(ctx)
}

func (m *MockProctoringService) Close() error {
	return m.Called().Error(0)
}

type sentMessage struct {
	target  string
	event   string
	payload interface{}
}

// recordingReplier stands in for the hub.
type recordingReplier struct {
	mu    sync.Mutex
	sent  []sentMessage
	rooms []string
}

func (r *recordingReplier) SendTo(connID, event string, payload interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, sentMessage{target: "conn:" + connID, event: event, payload: payload})
}

func (r *recordingReplier) EmitToInstructors(event string, payload interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, sentMessage{target: "instructors", event: event, payload: payload})
}

func (r *recordingReplier) JoinRoom(connID, room string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rooms = append(r.rooms, connID+"@"+room)
}

func (r *recordingReplier) joined() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.rooms...)
}

func (r *recordingReplier) events(target string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var names []string
	for _, m := range r.sent {
		if m.target == target {
			names = append(names, m.event)
		}
	}
	return names
}

func (r *recordingReplier) last(target, event string) interface{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.sent) - 1; i >= 0; i-- {
		if r.sent[i].target == target && r.sent[i].event == event {
			return r.sent[i].payload
		}
	}
	return nil
}

func discardLogger() utils.Logger {
	return utils.NewSlogLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))
}
