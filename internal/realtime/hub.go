// Package realtime delivers proctoring events to live connections.
//
// The hub keeps three registries: every open connection, the current
// connection of each authenticated user, and the monitoring staff group.
// Delivery is best-effort: an event for a user without a live connection is
// dropped, nothing is queued or replayed on reconnect.
package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"sync"

	"github.com/SAP-F-2025/proctoring-service/internal/auth"
	"github.com/SAP-F-2025/proctoring-service/internal/models"
)

// Inbound event names (client -> server).
const (
	EventAuthenticate        = "authenticate"
	EventProctoringStart     = "proctoring-start"
	EventProctoringViolation = "proctoring-violation"
	EventProctoringShot      = "proctoring-screenshot"
	EventWebcamStatusUpdate  = "webcam_status_update"
	EventProctoringEnd       = "proctoring-end"
	EventJoinRoom            = "join-room"
	EventLeaveRoom           = "leave-room"
)

// Outbound event names (server -> client).
const (
	EventAuthenticated = "authenticated"
	EventError         = "proctoring_error"
)

// ErrSendBufferFull is returned by a Conn whose outbound buffer is saturated.
var ErrSendBufferFull = errors.New("realtime: send buffer full")

// Message is the wire envelope for both directions.
type Message struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Conn is one live bidirectional connection.
type Conn interface {
	ID() string
	Send(msg Message) error
	Close() error
}

// Sender identifies the connection an inbound message arrived on.
type Sender struct {
	ConnID   string
	Identity *models.Identity
}

// InboundHandler receives the client messages the hub does not handle itself.
type InboundHandler interface {
	HandleInbound(ctx context.Context, sender Sender, msg Message)
}

type client struct {
	conn     Conn
	identity *models.Identity
	rooms    map[string]struct{}
}

type Hub struct {
	mu          sync.RWMutex
	clients     map[string]*client             // conn id -> client
	users       map[string]string              // user id -> conn id
	instructors map[string]string              // user id -> conn id
	rooms       map[string]map[string]struct{} // room -> conn ids

	authenticator auth.Authenticator
	handler       InboundHandler
	logger        *slog.Logger
}

func NewHub(authenticator auth.Authenticator, logger *slog.Logger) *Hub {
	return &Hub{
		clients:       make(map[string]*client),
		users:         make(map[string]string),
		instructors:   make(map[string]string),
		rooms:         make(map[string]map[string]struct{}),
		authenticator: authenticator,
		logger:        logger.With("component", "realtime_hub"),
	}
}

// SetHandler installs the handler for proctoring messages. It must be called
// before connections are accepted.
func (h *Hub) SetHandler(handler InboundHandler) {
	h.handler = handler
}

// ===== CONNECTION LIFECYCLE =====

func (h *Hub) Register(conn Conn) {
	h.mu.Lock()
	h.clients[conn.ID()] = &client{conn: conn, rooms: make(map[string]struct{})}
	h.mu.Unlock()

	h.logger.Debug("Connection registered", "conn_id", conn.ID())
}

// Unregister removes a connection from every registry. A user mapping is only
// dropped when it still points at this connection.
func (h *Hub) Unregister(connID string) {
	h.mu.Lock()
	c, ok := h.clients[connID]
	if !ok {
		h.mu.Unlock()
		return
	}
	delete(h.clients, connID)
	for room := range c.rooms {
		h.leaveLocked(connID, room)
	}
	if c.identity != nil {
		if h.users[c.identity.UserID] == connID {
			delete(h.users, c.identity.UserID)
		}
		if h.instructors[c.identity.UserID] == connID {
			delete(h.instructors, c.identity.UserID)
		}
	}
	h.mu.Unlock()

	h.logger.Debug("Connection unregistered", "conn_id", connID)
}

// Authenticate binds an identity to a connection. Staff roles also join the
// instructors group.
func (h *Hub) Authenticate(connID string, identity models.Identity) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	c, ok := h.clients[connID]
	if !ok {
		return errors.New("realtime: unknown connection")
	}

	if c.identity != nil && c.identity.UserID != identity.UserID {
		if h.users[c.identity.UserID] == connID {
			delete(h.users, c.identity.UserID)
		}
		if h.instructors[c.identity.UserID] == connID {
			delete(h.instructors, c.identity.UserID)
		}
	}

	c.identity = &identity
	h.users[identity.UserID] = connID
	if identity.Role.IsStaff() {
		h.instructors[identity.UserID] = connID
	} else if h.instructors[identity.UserID] == connID {
		delete(h.instructors, identity.UserID)
	}
	return nil
}

func (h *Hub) JoinRoom(connID, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	c, ok := h.clients[connID]
	if !ok {
		return
	}
	members, ok := h.rooms[room]
	if !ok {
		members = make(map[string]struct{})
		h.rooms[room] = members
	}
	members[connID] = struct{}{}
	c.rooms[room] = struct{}{}
}

func (h *Hub) LeaveRoom(connID, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.leaveLocked(connID, room)
}

func (h *Hub) leaveLocked(connID, room string) {
	if c, ok := h.clients[connID]; ok {
		delete(c.rooms, room)
	}
	members, ok := h.rooms[room]
	if !ok {
		return
	}
	delete(members, connID)
	if len(members) == 0 {
		delete(h.rooms, room)
	}
}

// ===== EMITTERS =====

// EmitToUser delivers to the user's current connection, if any.
func (h *Hub) EmitToUser(userID, event string, payload interface{}) {
	h.mu.RLock()
	var target Conn
	if connID, ok := h.users[userID]; ok {
		if c, ok := h.clients[connID]; ok {
			target = c.conn
		}
	}
	h.mu.RUnlock()

	if target == nil {
		h.logger.Debug("No live connection for user, dropping event", "user_id", userID, "event", event)
		return
	}
	h.deliver([]Conn{target}, event, payload)
}

// EmitToInstructors broadcasts to the monitoring staff group.
func (h *Hub) EmitToInstructors(event string, payload interface{}) {
	h.mu.RLock()
	targets := make([]Conn, 0, len(h.instructors))
	for _, connID := range h.instructors {
		if c, ok := h.clients[connID]; ok {
			targets = append(targets, c.conn)
		}
	}
	h.mu.RUnlock()

	h.deliver(targets, event, payload)
}

func (h *Hub) EmitToRoom(room, event string, payload interface{}) {
	h.mu.RLock()
	targets := make([]Conn, 0, len(h.rooms[room]))
	for connID := range h.rooms[room] {
		if c, ok := h.clients[connID]; ok {
			targets = append(targets, c.conn)
		}
	}
	h.mu.RUnlock()

	h.deliver(targets, event, payload)
}

func (h *Hub) Broadcast(event string, payload interface{}) {
	h.mu.RLock()
	targets := make([]Conn, 0, len(h.clients))
	for _, c := range h.clients {
		targets = append(targets, c.conn)
	}
	h.mu.RUnlock()

	h.deliver(targets, event, payload)
}

// SendTo replies on a single connection.
func (h *Hub) SendTo(connID, event string, payload interface{}) {
	h.mu.RLock()
	c, ok := h.clients[connID]
	h.mu.RUnlock()
	if !ok {
		return
	}
	h.deliver([]Conn{c.conn}, event, payload)
}

func (h *Hub) deliver(targets []Conn, event string, payload interface{}) {
	if len(targets) == 0 {
		return
	}
	data, err := json.Marshal(payload)
	if err != nil {
		h.logger.Error("Failed to marshal realtime payload", "event", event, "error", err)
		return
	}
	msg := Message{Event: event, Data: data}
	for _, conn := range targets {
		if err := conn.Send(msg); err != nil {
			h.logger.Warn("Dropped realtime event", "event", event, "conn_id", conn.ID(), "error", err)
		}
	}
}

// ===== PRESENCE =====

func (h *Hub) IsUserOnline(userID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.users[userID]
	return ok
}

func (h *Hub) OnlineUsersCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.users)
}

func (h *Hub) OnlineInstructorsCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.instructors)
}

// ===== INBOUND DISPATCH =====

type authenticatePayload struct {
	UserID string `json:"userId"`
	Role   string `json:"role"`
	Token  string `json:"token,omitempty"`
	Locale string `json:"locale,omitempty"`
}

// Dispatch routes one inbound message. Connection-management events are
// handled here; everything else goes to the installed InboundHandler. Only
// the handshake is accepted from an unauthenticated connection.
func (h *Hub) Dispatch(ctx context.Context, connID string, msg Message) {
	if msg.Event == EventAuthenticate {
		h.handleAuthenticate(ctx, connID, msg)
		return
	}

	identity := h.identityOf(connID)
	if identity == nil {
		h.SendTo(connID, EventError, errorPayload(msg.Event, "not authenticated"))
		return
	}

	switch msg.Event {
	case EventJoinRoom, EventLeaveRoom:
		var room string
		if err := json.Unmarshal(msg.Data, &room); err != nil || room == "" {
			h.SendTo(connID, EventError, errorPayload(msg.Event, "invalid room"))
			return
		}
		if msg.Event == EventLeaveRoom {
			h.LeaveRoom(connID, room)
			return
		}
		// Attempt rooms are joined through proctoring-start once ownership is checked.
		if strings.HasPrefix(room, models.ProctoringRoom("")) && !identity.Role.IsStaff() {
			h.SendTo(connID, EventError, errorPayload(msg.Event, "forbidden room"))
			return
		}
		h.JoinRoom(connID, room)
		return
	}

	if h.handler == nil {
		return
	}
	h.handler.HandleInbound(ctx, Sender{ConnID: connID, Identity: identity}, msg)
}

func (h *Hub) handleAuthenticate(ctx context.Context, connID string, msg Message) {
	var payload authenticatePayload
	if err := json.Unmarshal(msg.Data, &payload); err != nil {
		h.SendTo(connID, EventError, errorPayload(msg.Event, "invalid payload"))
		return
	}

	identity, err := h.authenticator.Authenticate(ctx, auth.Credentials{
		Token:  payload.Token,
		UserID: payload.UserID,
		Role:   payload.Role,
		Locale: payload.Locale,
	})
	if err != nil {
		h.logger.Warn("Realtime handshake rejected", "conn_id", connID, "error", err)
		h.SendTo(connID, EventError, errorPayload(msg.Event, "authentication failed"))
		return
	}

	if err := h.Authenticate(connID, *identity); err != nil {
		return
	}
	h.logger.Info("Realtime connection authenticated",
		"conn_id", connID,
		"user_id", identity.UserID,
		"role", identity.Role)
	h.SendTo(connID, EventAuthenticated, identity)
}

func (h *Hub) identityOf(connID string) *models.Identity {
	h.mu.RLock()
	defer h.mu.RUnlock()
	c, ok := h.clients[connID]
	if !ok || c.identity == nil {
		return nil
	}
	identity := *c.identity
	return &identity
}

func errorPayload(event, message string) map[string]string {
	return map[string]string{"event": event, "message": message}
}
