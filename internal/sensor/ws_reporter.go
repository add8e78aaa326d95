package sensor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/SAP-F-2025/proctoring-service/internal/models"
	"github.com/SAP-F-2025/proctoring-service/internal/realtime"
	"github.com/gorilla/websocket"
)

const handshakeTimeout = 10 * time.Second

var ErrHandshakeRejected = errors.New("sensor: realtime handshake rejected")

type Handshake struct {
	UserID string
	Role   string
	Token  string
	Locale string
}

// WSReporter is a Reporter over the proctoring websocket.
type WSReporter struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
	logger  *slog.Logger
}

// DialReporter connects and authenticates. It returns once the server has
// accepted the handshake.
func DialReporter(ctx context.Context, url string, handshake Handshake, logger *slog.Logger) (*WSReporter, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	r := &WSReporter{conn: conn, logger: logger.With("component", "ws_reporter")}

	if err := r.send(realtime.EventAuthenticate, map[string]string{
		"userId": handshake.UserID,
		"role":   handshake.Role,
		"token":  handshake.Token,
		"locale": handshake.Locale,
	}); err != nil {
		conn.Close()
		return nil, err
	}

	conn.SetReadDeadline(time.Now().Add(handshakeTimeout))
	var reply realtime.Message
	if err := conn.ReadJSON(&reply); err != nil {
		conn.Close()
		return nil, fmt.Errorf("read handshake reply: %w", err)
	}
	conn.SetReadDeadline(time.Time{})

	if reply.Event != realtime.EventAuthenticated {
		conn.Close()
		return nil, fmt.Errorf("%w: %s", ErrHandshakeRejected, string(reply.Data))
	}
	return r, nil
}

// JoinAttempt announces the attempt, starting its session when testID is set.
func (r *WSReporter) JoinAttempt(ctx context.Context, attemptID, testID string) error {
	return r.send(realtime.EventProctoringStart, map[string]string{
		"testSessionId": attemptID,
		"testId":        testID,
	})
}

func (r *WSReporter) ReportViolation(ctx context.Context, attemptID string, violationType models.ViolationType, data map[string]interface{}) error {
	return r.send(realtime.EventProctoringViolation, map[string]interface{}{
		"testSessionId": attemptID,
		"violationType": violationType,
		"data":          data,
	})
}

func (r *WSReporter) ReportScreenshot(ctx context.Context, attemptID string, shot Screenshot) error {
	return r.send(realtime.EventProctoringShot, map[string]interface{}{
		"testSessionId": attemptID,
		"imageData":     shot.ImageData,
		"violationType": shot.ViolationType,
		"timestamp":     shot.Timestamp,
	})
}

func (r *WSReporter) ReportWebcamStatus(ctx context.Context, attemptID string, enabled bool) error {
	return r.send(realtime.EventWebcamStatusUpdate, map[string]interface{}{
		"testSessionId": attemptID,
		"isEnabled":     enabled,
	})
}

func (r *WSReporter) ReportEnd(ctx context.Context, attemptID string) error {
	return r.send(realtime.EventProctoringEnd, map[string]string{
		"testSessionId": attemptID,
	})
}

// Listen delivers server pushes to fn until the connection drops or ctx ends.
func (r *WSReporter) Listen(ctx context.Context, fn func(realtime.Message)) error {
	stop := context.AfterFunc(ctx, func() { r.conn.Close() })
	defer stop()

	for {
		var msg realtime.Message
		if err := r.conn.ReadJSON(&msg); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
		fn(msg)
	}
}

func (r *WSReporter) Close() error {
	r.writeMu.Lock()
	r.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	r.writeMu.Unlock()
	return r.conn.Close()
}

func (r *WSReporter) send(event string, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	r.writeMu.Lock()
	defer r.writeMu.Unlock()
	r.conn.SetWriteDeadline(time.Now().Add(handshakeTimeout))
	if err := r.conn.WriteJSON(realtime.Message{Event: event, Data: data}); err != nil {
		return fmt.Errorf("send %s: %w", event, err)
	}
	return nil
}
