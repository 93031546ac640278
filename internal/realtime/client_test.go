package realtime

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startClientServer(t *testing.T, h *harness) string {
	t.Helper()
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		client := NewClient(ClientConfig{
			Conn:            conn,
			Router:          h.router,
			Sessions:        h.sessions,
			Dispatcher:      h.dispatcher,
			MaxMessageBytes: 4096,
		})
		client.Serve(r.Context())
	}))
	t.Cleanup(server.Close)
	return "ws" + strings.TrimPrefix(server.URL, "http")
}

func dialClient(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func writeEvent(t *testing.T, conn *websocket.Conn, event string, payload any) {
	t.Helper()
	frame, err := NewFrame(event, payload)
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(frame))
}

func readEvent(t *testing.T, conn *websocket.Conn, event string) Frame {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var frame Frame
	require.NoError(t, conn.ReadJSON(&frame))
	require.Equal(t, event, frame.Event, "unexpected frame %s", string(frame.Data))
	return frame
}

func TestClientRoundTripAndDisconnect(t *testing.T) {
	h := newHarness(t)
	room := h.createRoom(t, "SOCK01")
	url := startClientServer(t, h)

	alice := dialClient(t, url)
	writeEvent(t, alice, EventJoinRoom, JoinRoomEvent{RoomID: room.ID, User: UserPayload{ID: "u1", Name: "Alice"}})
	readEvent(t, alice, EventRoomState)

	bob := dialClient(t, url)
	writeEvent(t, bob, EventJoinRoom, JoinRoomEvent{RoomID: room.ID, User: UserPayload{ID: "u2", Name: "Bob"}})
	readEvent(t, bob, EventRoomState)
	readEvent(t, alice, EventUserJoined)

	writeEvent(t, bob, EventNoteUpdate, NoteUpdateEvent{RoomID: room.ID, Content: noteText("<h1>Plan</h1>"), UserID: "u2", UserName: "Bob"})
	var note NoteBroadcast
	require.NoError(t, json.Unmarshal(readEvent(t, alice, EventNoteUpdate).Data, &note))
	assert.Equal(t, "<h1>Plan</h1>", note.Content)

	require.NoError(t, bob.Close())
	var left UserLeftPayload
	require.NoError(t, json.Unmarshal(readEvent(t, alice, EventUserLeft).Data, &left))
	assert.Equal(t, "u2", left.UserID)
	assert.Eventually(t, func() bool { return h.registry.Count() == 1 }, time.Second, 10*time.Millisecond)
}

func TestClientAnswersGarbageWithErrorEvent(t *testing.T) {
	h := newHarness(t)
	url := startClientServer(t, h)

	conn := dialClient(t, url)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("not json")))
	var payload ErrorPayload
	require.NoError(t, json.Unmarshal(readEvent(t, conn, EventError).Data, &payload))
	assert.Equal(t, "realtime.decode_frame.malformed_frame", payload.Code)
}
