package realtime

import (
	"io"
	"log/slog"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/SAP-F-2025/proctoring-service/internal/auth"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWebsocketServer_HandshakeAndDelivery(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	hub := NewHub(auth.NewHeaderAuthenticator(), logger)
	server := httptest.NewServer(NewWebsocketServer(hub, nil, logger))
	t.Cleanup(server.Close)

	url := "ws" + strings.TrimPrefix(server.URL, "http")
	client, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	require.NoError(t, client.WriteJSON(map[string]interface{}{
		"event": EventAuthenticate,
		"data":  map[string]string{"userId": "teacher-1", "role": "teacher"},
	}))

	client.SetReadDeadline(time.Now().Add(5 * time.Second))
	var reply Message
	require.NoError(t, client.ReadJSON(&reply))
	assert.Equal(t, EventAuthenticated, reply.Event)

	require.Eventually(t, func() bool { return hub.OnlineInstructorsCount() == 1 }, 2*time.Second, 10*time.Millisecond)

	hub.EmitToInstructors("proctoring_session_started", map[string]string{"testSessionId": "a1"})
	require.NoError(t, client.ReadJSON(&reply))
	assert.Equal(t, "proctoring_session_started", reply.Event)
	assert.JSONEq(t, `{"testSessionId":"a1"}`, string(reply.Data))

	require.NoError(t, client.Close())
	assert.Eventually(t, func() bool { return !hub.IsUserOnline("teacher-1") }, 2*time.Second, 10*time.Millisecond)
}
