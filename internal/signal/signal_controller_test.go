package signal

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	echo "github.com/labstack/echo/v4"
	"github.com/romashorodok/meeting-signaling/pkg/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T, h *harness) string {
	t.Helper()

	ctrl := &signalController{
		relay:  h.relay,
		logger: discard,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		queueDepth: 16,
		pongWait:   5 * time.Second,
		pingPeriod: time.Second,
	}

	e := echo.New()
	require.NoError(t, ctrl.Resolve(e))
	server := httptest.NewServer(e)
	t.Cleanup(server.Close)

	return "ws" + strings.TrimPrefix(server.URL, "http") + "/ws"
}

func readUntil(t *testing.T, conn *websocket.Conn, event string) protocol.Message {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	for {
		var msg protocol.Message
		require.NoError(t, conn.ReadJSON(&msg))
		if msg.Event == event {
			return msg
		}
	}
}

func TestSignalControllerSession(t *testing.T) {
	h := newHarness(t, harnessOption{})
	url := newTestServer(t, h)

	first, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer first.Close()

	require.NoError(t, first.WriteJSON(protocol.Message{
		Event: protocol.EventJoinRoom,
		Data:  []byte(`{"roomId":"abc123","userId":"a","userName":"Alice"}`),
	}))
	joined := decodeAs[protocol.Joined](t, readUntil(t, first, protocol.EventJoined))
	assert.Equal(t, "abc123", joined.RoomID)
	assert.Equal(t, "a", joined.HostUserID)

	second, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)

	require.NoError(t, second.WriteJSON(protocol.Message{
		Event: protocol.EventJoinRoom,
		Data:  []byte(`{"roomId":"abc123","userId":"b","userName":"Bob"}`),
	}))
	existing := decodeAs[[]protocol.ParticipantInfo](t, readUntil(t, second, protocol.EventAllUsers))
	require.Len(t, existing, 1)
	assert.Equal(t, "Alice", existing[0].UserName)

	announced := decodeAs[protocol.ParticipantInfo](t, readUntil(t, first, protocol.EventUserJoined))
	assert.Equal(t, "b", announced.UserID)

	require.NoError(t, first.WriteJSON(protocol.Message{Event: protocol.EventPingCheck}))
	pong := decodeAs[protocol.PongCheck](t, readUntil(t, first, protocol.EventPongCheck))
	assert.Equal(t, "srv-test", pong.InstanceID)

	require.NoError(t, second.Close())

	left := decodeAs[protocol.ParticipantInfo](t, readUntil(t, first, protocol.EventUserLeft))
	assert.Equal(t, "b", left.UserID)
	require.Eventually(t, func() bool { return h.relay.hub.Len() == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 1, h.registry.Size("abc123"))
}

func TestSignalControllerRejectsGarbage(t *testing.T) {
	h := newHarness(t, harnessOption{})
	url := newTestServer(t, h)

	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(protocol.Message{Event: "unknown"}))
	failure := decodeAs[protocol.ErrorMessage](t, readUntil(t, conn, protocol.EventError))
	assert.Equal(t, "unknown", failure.Event)

	require.NoError(t, conn.WriteJSON(protocol.Message{Event: protocol.EventPingCheck}))
	readUntil(t, conn, protocol.EventPongCheck)
}

func TestSignalControllerSurvivesMalformedFrames(t *testing.T) {
	h := newHarness(t, harnessOption{})
	url := newTestServer(t, h)

	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(protocol.Message{
		Event: protocol.EventJoinRoom,
		Data:  []byte(`{"roomId":"r","userId":"a","userName":"Alice"}`),
	}))
	readUntil(t, conn, protocol.EventJoined)

	for _, frame := range []string{`not json`, `{"event":5}`} {
		require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(frame)))
		failure := decodeAs[protocol.ErrorMessage](t, readUntil(t, conn, protocol.EventError))
		assert.Equal(t, "wrong data format", failure.Message, frame)
	}

	require.NoError(t, conn.WriteJSON(protocol.Message{Event: protocol.EventPingCheck}))
	readUntil(t, conn, protocol.EventPongCheck)

	assert.Equal(t, 1, h.registry.Size("r"))
	assert.EqualValues(t, 1, h.relay.hub.Len())
}
