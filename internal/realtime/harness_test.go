package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/MarcoPoloResearchLab/studyroom/internal/presence"
	"github.com/MarcoPoloResearchLab/studyroom/internal/rooms"
)

const frameTimeout = time.Second

type faultyStore struct {
	RoomStore
	addErr    error
	updateErr error
	appendErr error
	removeErr error

	beforeFind func()
}

func (s *faultyStore) FindRoomByID(ctx context.Context, roomID rooms.RoomID) (rooms.Room, error) {
	if s.beforeFind != nil {
		s.beforeFind()
	}
	return s.RoomStore.FindRoomByID(ctx, roomID)
}

func (s *faultyStore) AddMember(ctx context.Context, roomID rooms.RoomID, userID rooms.UserID) error {
	if s.addErr != nil {
		return s.addErr
	}
	return s.RoomStore.AddMember(ctx, roomID, userID)
}

func (s *faultyStore) RemoveMember(ctx context.Context, roomID rooms.RoomID, userID rooms.UserID) error {
	if s.removeErr != nil {
		return s.removeErr
	}
	return s.RoomStore.RemoveMember(ctx, roomID, userID)
}

func (s *faultyStore) UpdateNote(ctx context.Context, update rooms.NoteUpdate) error {
	if s.updateErr != nil {
		return s.updateErr
	}
	return s.RoomStore.UpdateNote(ctx, update)
}

func (s *faultyStore) AppendMessage(ctx context.Context, draft rooms.MessageDraft) (rooms.Message, error) {
	if s.appendErr != nil {
		return rooms.Message{}, s.appendErr
	}
	return s.RoomStore.AppendMessage(ctx, draft)
}

type harness struct {
	store      *rooms.Store
	faults     *faultyStore
	registry   *presence.Registry
	dispatcher *Dispatcher
	sessions   *SessionManager
	router     *Router
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:realtime_%s_%d?mode=memory&cache=shared", name, time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&rooms.RoomRecord{}, &rooms.MemberRecord{}, &rooms.MessageRecord{}))
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})

	store, err := rooms.NewStore(rooms.StoreConfig{Database: db, IDProvider: rooms.NewUUIDProvider()})
	require.NoError(t, err)
	faults := &faultyStore{RoomStore: store}
	registry := presence.NewRegistry()
	dispatcher := NewDispatcher(64)

	sessions, err := NewSessionManager(SessionConfig{
		Store:      faults,
		Registry:   registry,
		Dispatcher: dispatcher,
	})
	require.NoError(t, err)
	router, err := NewRouter(RouterConfig{
		Sessions:   sessions,
		Store:      faults,
		Registry:   registry,
		Dispatcher: dispatcher,
	})
	require.NoError(t, err)

	return &harness{
		store:      store,
		faults:     faults,
		registry:   registry,
		dispatcher: dispatcher,
		sessions:   sessions,
		router:     router,
	}
}

func (h *harness) createRoom(t *testing.T, code string) rooms.Room {
	t.Helper()
	roomCode, err := rooms.NewRoomCode(code)
	require.NoError(t, err)
	room, err := h.store.CreateRoom(testContext(t), roomCode, "owner-1", "Owner")
	require.NoError(t, err)
	return room
}

func (h *harness) connect(t *testing.T, connectionID string) <-chan Frame {
	t.Helper()
	stream, cleanup := h.dispatcher.Subscribe(testContext(t), connectionID)
	t.Cleanup(cleanup)
	return stream
}

func (h *harness) send(t *testing.T, ctx context.Context, connectionID, event string, payload any) error {
	t.Helper()
	frame, err := NewFrame(event, payload)
	require.NoError(t, err)
	raw, err := json.Marshal(frame)
	require.NoError(t, err)
	return h.router.Dispatch(ctx, connectionID, raw)
}

func (h *harness) join(t *testing.T, connectionID, roomID, userID, userName string) {
	t.Helper()
	err := h.send(t, testContext(t), connectionID, EventJoinRoom, JoinRoomEvent{
		RoomID: roomID,
		User:   UserPayload{ID: userID, Name: userName, Color: "#336699"},
	})
	require.NoError(t, err)
}

func receive(t *testing.T, stream <-chan Frame) Frame {
	t.Helper()
	select {
	case frame, ok := <-stream:
		require.True(t, ok, "stream closed unexpectedly")
		return frame
	case <-time.After(frameTimeout):
		t.Fatal("expected frame within deadline")
		return Frame{}
	}
}

func receiveEvent(t *testing.T, stream <-chan Frame, event string) Frame {
	t.Helper()
	frame := receive(t, stream)
	require.Equal(t, event, frame.Event, "unexpected frame %s", string(frame.Data))
	return frame
}

func expectSilence(t *testing.T, stream <-chan Frame) {
	t.Helper()
	select {
	case frame := <-stream:
		t.Fatalf("did not expect frame %s %s", frame.Event, string(frame.Data))
	case <-time.After(50 * time.Millisecond):
	}
}

func drain(stream <-chan Frame) {
	for {
		select {
		case <-stream:
		default:
			return
		}
	}
}

func noteText(content string) *string {
	return &content
}

func decodeFrame[T any](t *testing.T, frame Frame) T {
	t.Helper()
	var payload T
	require.NoError(t, json.Unmarshal(frame.Data, &payload))
	return payload
}
