package realtime

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/MarcoPoloResearchLab/studyroom/internal/auth"
	"github.com/MarcoPoloResearchLab/studyroom/internal/presence"
	"github.com/MarcoPoloResearchLab/studyroom/internal/rooms"
)

const (
	opRouterNew       = "realtime.router.new"
	opNoteUpdate      = "realtime.note_update"
	opChatMessage     = "realtime.chat_message"
	opUserTyping      = "realtime.user_typing"
	opDispatch        = "realtime.dispatch"
	reasonNotJoined   = "not_joined"
	reasonPersistFail = "persist_failed"
	outcomeOK         = "ok"
	outcomeRejected   = "rejected"
	outcomeFailed     = "failed"
	outcomeDegraded   = "persist_failed"
	eventUnknownLabel = "unknown"
)

var errMissingSessions = errors.New("session manager is required")

// RouterConfig wires the event router.
type RouterConfig struct {
	Sessions   *SessionManager
	Store      RoomStore
	Registry   *presence.Registry
	Dispatcher *Dispatcher
	Logger     *zap.Logger
	Observer   Observer
}

// Router decodes inbound frames and applies them to the room they name.
// Frames from one connection are handled in arrival order by the caller's goroutine;
// frames from different connections interleave freely and note writes are last-write-wins.
type Router struct {
	sessions *SessionManager
	store    RoomStore
	registry *presence.Registry
	fanout   fanout
	logger   *zap.Logger
	observer Observer
}

func NewRouter(cfg RouterConfig) (*Router, error) {
	if cfg.Sessions == nil {
		return nil, rooms.NewServiceError(opRouterNew, reasonMissingDep, rooms.ErrValidation, errMissingSessions)
	}
	if cfg.Store == nil {
		return nil, rooms.NewServiceError(opRouterNew, reasonMissingDep, rooms.ErrValidation, errMissingRoomStore)
	}
	if cfg.Registry == nil {
		return nil, rooms.NewServiceError(opRouterNew, reasonMissingDep, rooms.ErrValidation, errMissingRegistry)
	}
	if cfg.Dispatcher == nil {
		return nil, rooms.NewServiceError(opRouterNew, reasonMissingDep, rooms.ErrValidation, errMissingDispatcher)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	var observer Observer = noopObserver{}
	if cfg.Observer != nil {
		observer = cfg.Observer
	}
	return &Router{
		sessions: cfg.Sessions,
		store:    cfg.Store,
		registry: cfg.Registry,
		fanout: fanout{
			registry:   cfg.Registry,
			dispatcher: cfg.Dispatcher,
			logger:     logger,
			observer:   observer,
		},
		logger:   logger,
		observer: observer,
	}, nil
}

// Dispatch handles one raw frame received on connectionID. Failures are answered with an
// error event on the same connection and returned to the caller.
func (r *Router) Dispatch(ctx context.Context, connectionID string, raw []byte) error {
	frame, err := ParseFrame(raw)
	if err != nil {
		r.reject(connectionID, eventUnknownLabel, err)
		return err
	}

	switch frame.Event {
	case EventJoinRoom:
		err = r.handleJoin(ctx, connectionID, frame)
	case EventLeaveRoom:
		err = r.handleLeave(ctx, connectionID, frame)
	case EventNoteUpdate:
		err = r.handleNoteUpdate(ctx, connectionID, frame)
	case EventChatMessage:
		err = r.handleChatMessage(ctx, connectionID, frame)
	case EventUserTyping:
		err = r.handleTyping(ctx, connectionID, frame)
	}
	if err != nil {
		r.reject(connectionID, frame.Event, err)
		return err
	}
	r.observer.ObserveEvent(frame.Event, outcomeOK)
	return nil
}

func (r *Router) handleJoin(ctx context.Context, connectionID string, frame Frame) error {
	event, err := decodePayload[JoinRoomEvent](frame)
	if err != nil {
		return err
	}
	if err := authorize(ctx, event.User.ID); err != nil {
		return err
	}
	return r.sessions.Join(ctx, connectionID, event)
}

func (r *Router) handleLeave(ctx context.Context, connectionID string, frame Frame) error {
	event, err := decodePayload[LeaveRoomEvent](frame)
	if err != nil {
		return err
	}
	if err := authorize(ctx, event.UserID); err != nil {
		return err
	}
	return r.sessions.Leave(ctx, connectionID, event)
}

func (r *Router) handleNoteUpdate(ctx context.Context, connectionID string, frame Frame) error {
	event, err := decodePayload[NoteUpdateEvent](frame)
	if err != nil {
		return err
	}
	sender, err := r.requireMember(ctx, opNoteUpdate, connectionID, event.RoomID, event.UserID)
	if err != nil {
		return err
	}
	update := rooms.NoteUpdate{
		RoomID:   rooms.RoomID(sender.RoomID),
		Content:  *event.Content,
		UserID:   rooms.UserID(sender.UserID),
		UserName: rooms.UserName(event.UserName),
	}
	unlock := r.sessions.notes.lock(sender.RoomID)
	defer unlock()
	if err := r.store.UpdateNote(ctx, update); err != nil {
		r.logger.Error("note update not persisted",
			zap.String("operation", opNoteUpdate),
			zap.String("reason", reasonPersistFail),
			zap.String("room_id", sender.RoomID),
			zap.Error(err))
		return err
	}
	r.fanout.encodeToRoom(sender.RoomID, EventNoteUpdate, NoteBroadcast{
		Content:  *event.Content,
		UserID:   event.UserID,
		UserName: event.UserName,
	}, connectionID)
	return nil
}

// handleChatMessage persists the message and rebroadcasts the client's original payload to
// the whole room, sender included. A persistence failure does not hold the broadcast back.
func (r *Router) handleChatMessage(ctx context.Context, connectionID string, frame Frame) error {
	event, err := decodePayload[ChatMessageEvent](frame)
	if err != nil {
		return err
	}
	message, err := decodeChatMessage(event.Message)
	if err != nil {
		return err
	}
	sender, err := r.requireMember(ctx, opChatMessage, connectionID, event.RoomID, message.UserID)
	if err != nil {
		return err
	}
	_, persistErr := r.store.AppendMessage(ctx, rooms.MessageDraft{
		RoomID:   rooms.RoomID(sender.RoomID),
		UserID:   rooms.UserID(sender.UserID),
		UserName: rooms.UserName(message.UserName),
		Content:  message.Content,
	})
	if persistErr != nil {
		r.observer.ObserveEvent(EventChatMessage, outcomeDegraded)
		r.logger.Error("chat message not persisted",
			zap.String("operation", opChatMessage),
			zap.String("reason", reasonPersistFail),
			zap.String("room_id", sender.RoomID),
			zap.Error(persistErr))
	}
	r.fanout.toRoom(sender.RoomID, Frame{Event: EventChatMessage, Data: event.Message}, "")
	return nil
}

func (r *Router) handleTyping(ctx context.Context, connectionID string, frame Frame) error {
	event, err := decodePayload[TypingEvent](frame)
	if err != nil {
		return err
	}
	sender, err := r.requireMember(ctx, opUserTyping, connectionID, event.RoomID, event.UserID)
	if err != nil {
		return err
	}
	r.fanout.encodeToRoom(sender.RoomID, EventUserTyping, TypingBroadcast{
		UserID:   event.UserID,
		UserName: event.UserName,
	}, connectionID)
	return nil
}

// requireMember returns the sender's presence entry when the connection is joined to roomID
// under claimedUserID.
func (r *Router) requireMember(ctx context.Context, operation, connectionID, roomID, claimedUserID string) (presence.Entry, error) {
	if err := authorize(ctx, claimedUserID); err != nil {
		return presence.Entry{}, err
	}
	entry, ok := r.registry.Lookup(connectionID)
	if !ok || entry.RoomID != roomID {
		return presence.Entry{}, rooms.NewServiceError(operation, reasonNotJoined, ErrNotJoined, nil)
	}
	if entry.UserID != claimedUserID {
		return presence.Entry{}, rooms.NewServiceError(operation, reasonIdentity, ErrForbidden, nil)
	}
	return entry, nil
}

func (r *Router) reject(connectionID, event string, err error) {
	outcome := outcomeFailed
	if errors.Is(err, rooms.ErrValidation) || errors.Is(err, ErrNotJoined) || errors.Is(err, ErrForbidden) || errors.Is(err, rooms.ErrNotFound) {
		outcome = outcomeRejected
	}
	r.observer.ObserveEvent(event, outcome)
	fields := []zap.Field{
		zap.String("operation", opDispatch),
		zap.String("connection_id", connectionID),
		zap.String("event", event),
		zap.String("code", rooms.ErrorCode(err)),
		zap.Error(err),
	}
	if outcome == outcomeRejected {
		r.logger.Debug("realtime event rejected", fields...)
	} else {
		r.logger.Error("realtime event failed", fields...)
	}
	r.fanout.toConnection(connectionID, newErrorFrame(err))
}

// authorize rejects a claimed identity that differs from the authenticated session, if any.
func authorize(ctx context.Context, claimedUserID string) error {
	verified, ok := auth.UserIDFromContext(ctx)
	if !ok || verified == claimedUserID {
		return nil
	}
	return rooms.NewServiceError(opDispatch, reasonIdentity, ErrForbidden, nil)
}
