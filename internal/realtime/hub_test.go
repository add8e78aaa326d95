package realtime

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/SAP-F-2025/proctoring-service/internal/auth"
	"github.com/SAP-F-2025/proctoring-service/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeConn struct {
	id       string
	mu       sync.Mutex
	messages []Message
	fail     error
}

func (c *fakeConn) ID() string { return c.id }

func (c *fakeConn) Send(msg Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail != nil {
		return c.fail
	}
	c.messages = append(c.messages, msg)
	return nil
}

func (c *fakeConn) Close() error { return nil }

func (c *fakeConn) events() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	names := make([]string, 0, len(c.messages))
	for _, m := range c.messages {
		names = append(names, m.Event)
	}
	return names
}

type recordingHandler struct {
	mu       sync.Mutex
	received []Message
	senders  []Sender
}

func (h *recordingHandler) HandleInbound(ctx context.Context, sender Sender, msg Message) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.received = append(h.received, msg)
	h.senders = append(h.senders, sender)
}

func newTestHub() (*Hub, *recordingHandler) {
	hub := NewHub(auth.NewHeaderAuthenticator(), slog.New(slog.NewTextHandler(io.Discard, nil)))
	handler := &recordingHandler{}
	hub.SetHandler(handler)
	return hub, handler
}

func message(t *testing.T, event string, data interface{}) Message {
	t.Helper()
	raw, err := json.Marshal(data)
	require.NoError(t, err)
	return Message{Event: event, Data: raw}
}

func connect(t *testing.T, hub *Hub, id, userID string, role models.UserRole) *fakeConn {
	t.Helper()
	conn := &fakeConn{id: id}
	hub.Register(conn)
	hub.Dispatch(context.Background(), id, message(t, EventAuthenticate, map[string]string{
		"userId": userID,
		"role":   string(role),
	}))
	return conn
}

func TestHub_EmitToUserWithoutConnectionIsNoop(t *testing.T) {
	hub, _ := newTestHub()
	bystander := connect(t, hub, "c1", "student-1", models.RoleStudent)
	staff := connect(t, hub, "c2", "teacher-1", models.RoleTeacher)

	assert.NotPanics(t, func() {
		hub.EmitToUser("nobody", "proctoring_warning", map[string]string{"message": "hi"})
	})

	assert.Equal(t, []string{EventAuthenticated}, bystander.events())
	assert.Equal(t, []string{EventAuthenticated}, staff.events())
}

func TestHub_HandshakeRegistersUsersAndStaff(t *testing.T) {
	hub, _ := newTestHub()
	student := connect(t, hub, "c1", "student-1", models.RoleStudent)
	teacher := connect(t, hub, "c2", "teacher-1", models.RoleTeacher)
	proctor := connect(t, hub, "c3", "proctor-1", models.RoleProctor)

	assert.True(t, hub.IsUserOnline("student-1"))
	assert.Equal(t, 3, hub.OnlineUsersCount())
	assert.Equal(t, 2, hub.OnlineInstructorsCount())

	hub.EmitToInstructors("proctoring_violation", map[string]string{"testSessionId": "a1"})
	hub.EmitToUser("student-1", "proctoring_warning", map[string]string{"message": "stop"})

	assert.Equal(t, []string{EventAuthenticated, "proctoring_warning"}, student.events())
	assert.Equal(t, []string{EventAuthenticated, "proctoring_violation"}, teacher.events())
	assert.Equal(t, []string{EventAuthenticated, "proctoring_violation"}, proctor.events())
}

func TestHub_DisconnectRemovesFromBothMaps(t *testing.T) {
	hub, _ := newTestHub()
	connect(t, hub, "c1", "teacher-1", models.RoleInstructor)

	hub.Unregister("c1")

	assert.False(t, hub.IsUserOnline("teacher-1"))
	assert.Equal(t, 0, hub.OnlineInstructorsCount())
	assert.NotPanics(t, func() { hub.EmitToInstructors("proctoring_violation", nil) })
}

func TestHub_ReconnectReplacesConnection(t *testing.T) {
	hub, _ := newTestHub()
	old := connect(t, hub, "c1", "student-1", models.RoleStudent)
	fresh := connect(t, hub, "c2", "student-1", models.RoleStudent)

	// The stale connection closing must not evict the new one.
	hub.Unregister("c1")
	assert.True(t, hub.IsUserOnline("student-1"))

	hub.EmitToUser("student-1", "proctoring_warning", map[string]string{})
	assert.Equal(t, []string{EventAuthenticated}, old.events())
	assert.Equal(t, []string{EventAuthenticated, "proctoring_warning"}, fresh.events())
}

func TestHub_RejectsUnauthenticatedProctoringMessages(t *testing.T) {
	hub, handler := newTestHub()
	conn := &fakeConn{id: "c1"}
	hub.Register(conn)

	hub.Dispatch(context.Background(), "c1", message(t, EventProctoringViolation, map[string]string{"testSessionId": "a1"}))

	assert.Equal(t, []string{EventError}, conn.events())
	assert.Empty(t, handler.received)
}

func TestHub_FailedHandshake(t *testing.T) {
	hub, _ := newTestHub()
	conn := &fakeConn{id: "c1"}
	hub.Register(conn)

	hub.Dispatch(context.Background(), "c1", message(t, EventAuthenticate, map[string]string{"role": "student"}))

	assert.Equal(t, []string{EventError}, conn.events())
	assert.Equal(t, 0, hub.OnlineUsersCount())
}

func TestHub_ProctoringStartLeavesRoomsToHandler(t *testing.T) {
	hub, handler := newTestHub()
	connect(t, hub, "c1", "student-1", models.RoleStudent)
	intruder := connect(t, hub, "c2", "student-2", models.RoleStudent)

	hub.Dispatch(context.Background(), "c2", message(t, EventProctoringStart, map[string]string{"testSessionId": "a1"}))

	require.Len(t, handler.received, 1)
	assert.Equal(t, EventProctoringStart, handler.received[0].Event)
	assert.Equal(t, "student-2", handler.senders[0].Identity.UserID)

	hub.EmitToRoom(models.ProctoringRoom("a1"), "proctoring_stopped", map[string]string{"testSessionId": "a1"})
	assert.NotContains(t, intruder.events(), "proctoring_stopped")

	hub.JoinRoom("c1", models.ProctoringRoom("a1"))
	hub.Unregister("c1")
	assert.NotPanics(t, func() {
		hub.EmitToRoom(models.ProctoringRoom("a1"), "proctoring_stopped", nil)
	})
}

func TestHub_JoinRoom(t *testing.T) {
	t.Run("requires authentication", func(t *testing.T) {
		hub, _ := newTestHub()
		anon := &fakeConn{id: "c1"}
		hub.Register(anon)

		hub.Dispatch(context.Background(), "c1", message(t, EventJoinRoom, "lobby"))
		hub.EmitToRoom("lobby", "announcement", nil)

		assert.Equal(t, []string{EventError}, anon.events())
	})

	t.Run("students cannot join attempt rooms", func(t *testing.T) {
		hub, _ := newTestHub()
		student := connect(t, hub, "c1", "student-2", models.RoleStudent)

		hub.Dispatch(context.Background(), "c1", message(t, EventJoinRoom, models.ProctoringRoom("a1")))
		hub.EmitToRoom(models.ProctoringRoom("a1"), "proctoring_stopped", nil)

		assert.Equal(t, []string{EventAuthenticated, EventError}, student.events())
	})

	t.Run("staff may watch an attempt room", func(t *testing.T) {
		hub, _ := newTestHub()
		proctor := connect(t, hub, "c1", "proctor-1", models.RoleProctor)

		hub.Dispatch(context.Background(), "c1", message(t, EventJoinRoom, models.ProctoringRoom("a1")))
		hub.EmitToRoom(models.ProctoringRoom("a1"), "proctoring_stopped", nil)

		assert.Contains(t, proctor.events(), "proctoring_stopped")
	})
}

func TestHub_SendFailureIsBestEffort(t *testing.T) {
	hub, _ := newTestHub()
	broken := connect(t, hub, "c1", "teacher-1", models.RoleTeacher)
	healthy := connect(t, hub, "c2", "teacher-2", models.RoleTeacher)
	broken.fail = ErrSendBufferFull

	assert.NotPanics(t, func() {
		hub.EmitToInstructors("proctoring_violation", map[string]string{})
	})
	assert.Contains(t, healthy.events(), "proctoring_violation")
}
