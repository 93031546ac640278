package realtime

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/MarcoPoloResearchLab/studyroom/internal/presence"
	"github.com/MarcoPoloResearchLab/studyroom/internal/rooms"
)

const (
	opSessionsNew       = "realtime.sessions.new"
	opJoin              = "realtime.join_room"
	opLeave             = "realtime.leave_room"
	opDisconnect        = "realtime.disconnect"
	reasonMissingDep    = "missing_dependency"
	reasonInvalidUser   = "invalid_user"
	reasonInvalidRoom   = "invalid_room"
	reasonIdentity      = "identity_mismatch"
	reasonRemoveFailed  = "remove_member_failed"
	reasonSnapshotRead  = "snapshot_failed"
	reasonAddMemberFail = "add_member_failed"
)

var (
	errMissingRoomStore  = errors.New("room store is required")
	errMissingRegistry   = errors.New("presence registry is required")
	errMissingDispatcher = errors.New("dispatcher is required")
)

// RoomStore is the durable state the realtime engine reads and writes.
type RoomStore interface {
	FindRoomByID(ctx context.Context, roomID rooms.RoomID) (rooms.Room, error)
	AddMember(ctx context.Context, roomID rooms.RoomID, userID rooms.UserID) error
	RemoveMember(ctx context.Context, roomID rooms.RoomID, userID rooms.UserID) error
	UpdateNote(ctx context.Context, update rooms.NoteUpdate) error
	AppendMessage(ctx context.Context, draft rooms.MessageDraft) (rooms.Message, error)
	RecentMessages(ctx context.Context, roomID rooms.RoomID, limit int) ([]rooms.Message, error)
}

// SessionState is the lifecycle position of one connection.
type SessionState int

const (
	StateDisconnected SessionState = iota
	StateJoining
	StateJoined
)

func (s SessionState) String() string {
	switch s {
	case StateJoining:
		return "joining"
	case StateJoined:
		return "joined"
	default:
		return "disconnected"
	}
}

// SessionConfig wires the session manager.
type SessionConfig struct {
	Store        RoomStore
	Registry     *presence.Registry
	Dispatcher   *Dispatcher
	Logger       *zap.Logger
	Observer     Observer
	MessageLimit int
}

// SessionManager moves connections in and out of rooms, keeping live presence,
// durable membership and the peers' view in step.
type SessionManager struct {
	store        RoomStore
	registry     *presence.Registry
	fanout       fanout
	logger       *zap.Logger
	messageLimit int
	notes        *roomLocks

	mu     sync.Mutex
	states map[string]SessionState
}

func NewSessionManager(cfg SessionConfig) (*SessionManager, error) {
	if cfg.Store == nil {
		return nil, rooms.NewServiceError(opSessionsNew, reasonMissingDep, rooms.ErrValidation, errMissingRoomStore)
	}
	if cfg.Registry == nil {
		return nil, rooms.NewServiceError(opSessionsNew, reasonMissingDep, rooms.ErrValidation, errMissingRegistry)
	}
	if cfg.Dispatcher == nil {
		return nil, rooms.NewServiceError(opSessionsNew, reasonMissingDep, rooms.ErrValidation, errMissingDispatcher)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	var observer Observer = noopObserver{}
	if cfg.Observer != nil {
		observer = cfg.Observer
	}
	messageLimit := cfg.MessageLimit
	if messageLimit <= 0 {
		messageLimit = rooms.DefaultMessageLimit
	}
	return &SessionManager{
		store:    cfg.Store,
		registry: cfg.Registry,
		fanout: fanout{
			registry:   cfg.Registry,
			dispatcher: cfg.Dispatcher,
			logger:     logger,
			observer:   observer,
		},
		logger:       logger,
		messageLimit: messageLimit,
		notes:        newRoomLocks(),
		states:       make(map[string]SessionState),
	}, nil
}

// State reports the lifecycle state of connectionID.
func (m *SessionManager) State(connectionID string) SessionState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.states[connectionID]
}

func (m *SessionManager) setState(connectionID string, state SessionState) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if state == StateDisconnected {
		delete(m.states, connectionID)
		return
	}
	m.states[connectionID] = state
}

// Join registers the connection in the room, records durable membership and sends the
// joiner a room-state snapshot while the other participants receive user-joined.
// A connection already in a different room leaves it first.
func (m *SessionManager) Join(ctx context.Context, connectionID string, event JoinRoomEvent) error {
	roomID, err := rooms.NewRoomID(event.RoomID)
	if err != nil {
		return rooms.NewServiceError(opJoin, reasonInvalidRoom, rooms.ErrValidation, err)
	}
	userID, err := rooms.NewUserID(event.User.ID)
	if err != nil {
		return rooms.NewServiceError(opJoin, reasonInvalidUser, rooms.ErrValidation, err)
	}
	userName, err := rooms.NewUserName(event.User.Name)
	if err != nil {
		return rooms.NewServiceError(opJoin, reasonInvalidUser, rooms.ErrValidation, err)
	}

	if current, ok := m.registry.Lookup(connectionID); ok && current.RoomID != roomID.String() {
		if _, departed := m.registry.UnregisterFromRoom(connectionID, current.RoomID); departed {
			if departErr := m.depart(ctx, current); departErr != nil {
				m.logger.Warn("implicit leave could not update membership",
					zap.String("connection_id", connectionID),
					zap.String("room_id", current.RoomID),
					zap.Error(departErr))
			}
		}
	}

	m.setState(connectionID, StateJoining)
	entry := presence.Entry{
		ConnectionID: connectionID,
		UserID:       userID.String(),
		UserName:     userName.String(),
		Email:        event.User.Email,
		Color:        event.User.Color,
		RoomID:       roomID.String(),
	}
	m.registry.Register(entry)

	if err := m.store.AddMember(ctx, roomID, userID); err != nil {
		m.abortJoin(connectionID)
		if errors.Is(err, rooms.ErrNotFound) {
			return err
		}
		return rooms.NewServiceError(opJoin, reasonAddMemberFail, rooms.ErrStorage, err)
	}

	unlock := m.notes.lock(roomID.String())
	defer unlock()
	room, err := m.store.FindRoomByID(ctx, roomID)
	if err != nil {
		m.abortJoin(connectionID)
		return rooms.NewServiceError(opJoin, reasonSnapshotRead, rooms.ErrStorage, err)
	}
	messages, err := m.store.RecentMessages(ctx, roomID, m.messageLimit)
	if err != nil {
		m.abortJoin(connectionID)
		return rooms.NewServiceError(opJoin, reasonSnapshotRead, rooms.ErrStorage, err)
	}

	members := m.registry.ListByRoom(roomID.String())
	m.fanout.encodeToConnection(connectionID, EventRoomState, RoomStatePayload{
		Members:  members,
		Note:     room.Note,
		Messages: messages,
	})
	m.fanout.encodeToRoom(roomID.String(), EventUserJoined, UserJoinedPayload{
		User:    entry,
		Members: members,
	}, connectionID)

	m.setState(connectionID, StateJoined)
	m.logger.Info("user joined room",
		zap.String("connection_id", connectionID),
		zap.String("room_id", roomID.String()),
		zap.String("user_id", userID.String()),
		zap.Int("live_members", len(members)))
	return nil
}

// Leave removes the connection from the room it is registered to. A connection that is
// not in the room is left untouched and no error is reported.
func (m *SessionManager) Leave(ctx context.Context, connectionID string, event LeaveRoomEvent) error {
	current, ok := m.registry.Lookup(connectionID)
	if !ok || current.RoomID != event.RoomID {
		return nil
	}
	if current.UserID != event.UserID {
		return rooms.NewServiceError(opLeave, reasonIdentity, ErrForbidden, nil)
	}
	entry, ok := m.registry.UnregisterFromRoom(connectionID, event.RoomID)
	if !ok {
		return nil
	}
	m.setState(connectionID, StateDisconnected)
	if err := m.depart(ctx, entry); err != nil {
		return rooms.NewServiceError(opLeave, reasonRemoveFailed, rooms.ErrStorage, err)
	}
	return nil
}

// Disconnect has the effect of Leave for whatever room the connection is registered to.
// It is safe to call more than once and for connections that never joined.
func (m *SessionManager) Disconnect(ctx context.Context, connectionID string) error {
	m.setState(connectionID, StateDisconnected)
	entry, ok := m.registry.Unregister(connectionID)
	if !ok {
		return nil
	}
	if err := m.depart(ctx, entry); err != nil {
		return rooms.NewServiceError(opDisconnect, reasonRemoveFailed, rooms.ErrStorage, err)
	}
	return nil
}

// depart runs after the entry has left the registry. Peers are told about the departure
// even when the durable membership write fails.
func (m *SessionManager) depart(ctx context.Context, entry presence.Entry) error {
	removeErr := m.store.RemoveMember(ctx, rooms.RoomID(entry.RoomID), rooms.UserID(entry.UserID))
	if removeErr != nil {
		m.logger.Error("remove member failed",
			zap.String("operation", opLeave),
			zap.String("room_id", entry.RoomID),
			zap.String("user_id", entry.UserID),
			zap.Error(removeErr))
	}
	m.fanout.encodeToRoom(entry.RoomID, EventUserLeft, UserLeftPayload{
		UserID:   entry.UserID,
		UserName: entry.UserName,
	}, entry.ConnectionID)
	m.logger.Info("user left room",
		zap.String("connection_id", entry.ConnectionID),
		zap.String("room_id", entry.RoomID),
		zap.String("user_id", entry.UserID))
	return removeErr
}

func (m *SessionManager) abortJoin(connectionID string) {
	m.registry.Unregister(connectionID)
	m.setState(connectionID, StateDisconnected)
}
