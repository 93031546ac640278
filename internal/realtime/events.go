package realtime

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"

	"github.com/MarcoPoloResearchLab/studyroom/internal/presence"
	"github.com/MarcoPoloResearchLab/studyroom/internal/rooms"
)

// Inbound event names.
const (
	EventJoinRoom    = "join-room"
	EventLeaveRoom   = "leave-room"
	EventNoteUpdate  = "note-update"
	EventChatMessage = "chat-message"
	EventUserTyping  = "user-typing"
)

// Outbound event names.
const (
	EventRoomState  = "room-state"
	EventUserJoined = "user-joined"
	EventUserLeft   = "user-left"
	EventError      = "error"
)

const (
	opDecodeFrame    = "realtime.decode_frame"
	reasonMalformed  = "malformed_frame"
	reasonUnknown    = "unknown_event"
	reasonInvalid    = "invalid_payload"
	reasonEncode     = "encode_failed"
	opEncodeFrame    = "realtime.encode_frame"
	errorMessageData = "invalid event payload"
)

var (
	payloadValidator = validator.New(validator.WithRequiredStructEnabled())
	jsonNull         = []byte("null")
)

// Frame is the wire envelope exchanged over a realtime connection.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// UserPayload identifies the person behind a connection.
type UserPayload struct {
	ID    string `json:"id" validate:"required,max=190"`
	Name  string `json:"name" validate:"required,max=320"`
	Email string `json:"email,omitempty" validate:"omitempty,max=320"`
	Color string `json:"color,omitempty" validate:"omitempty,max=64"`
}

type JoinRoomEvent struct {
	RoomID string      `json:"roomId" validate:"required,max=190"`
	User   UserPayload `json:"user" validate:"required"`
}

type LeaveRoomEvent struct {
	RoomID string `json:"roomId" validate:"required,max=190"`
	UserID string `json:"userId" validate:"required,max=190"`
}

// NoteUpdateEvent replaces the room note. Content must be present; an empty string clears the note.
type NoteUpdateEvent struct {
	RoomID   string  `json:"roomId" validate:"required,max=190"`
	Content  *string `json:"content" validate:"required"`
	UserID   string  `json:"userId" validate:"required,max=190"`
	UserName string  `json:"userName" validate:"required,max=320"`
}

// ChatMessageEvent carries the client's message verbatim so it can be rebroadcast unchanged.
type ChatMessageEvent struct {
	RoomID  string          `json:"roomId" validate:"required,max=190"`
	Message json.RawMessage `json:"message" validate:"required"`
}

// ChatMessagePayload is the part of a chat message the server reads and persists.
type ChatMessagePayload struct {
	ID        string `json:"id"`
	UserID    string `json:"userId" validate:"required,max=190"`
	UserName  string `json:"userName" validate:"required,max=320"`
	Content   string `json:"content" validate:"required"`
	Timestamp int64  `json:"timestamp"`
}

type TypingEvent struct {
	RoomID   string `json:"roomId" validate:"required,max=190"`
	UserID   string `json:"userId" validate:"required,max=190"`
	UserName string `json:"userName" validate:"required,max=320"`
}

type RoomStatePayload struct {
	Members  []presence.Entry `json:"members"`
	Note     string           `json:"note"`
	Messages []rooms.Message  `json:"messages"`
}

type UserJoinedPayload struct {
	User    presence.Entry   `json:"user"`
	Members []presence.Entry `json:"members"`
}

type NoteBroadcast struct {
	Content  string `json:"content"`
	UserID   string `json:"userId"`
	UserName string `json:"userName"`
}

type TypingBroadcast struct {
	UserID   string `json:"userId"`
	UserName string `json:"userName"`
}

type UserLeftPayload struct {
	UserID   string `json:"userId"`
	UserName string `json:"userName"`
}

type ErrorPayload struct {
	Message string `json:"message"`
	Code    string `json:"code"`
}

// ParseFrame decodes the wire envelope and rejects events the router does not know.
func ParseFrame(raw []byte) (Frame, error) {
	var frame Frame
	if err := json.Unmarshal(raw, &frame); err != nil {
		return Frame{}, rooms.NewServiceError(opDecodeFrame, reasonMalformed, rooms.ErrValidation, err)
	}
	switch frame.Event {
	case EventJoinRoom, EventLeaveRoom, EventNoteUpdate, EventChatMessage, EventUserTyping:
		return frame, nil
	case "":
		return Frame{}, rooms.NewServiceError(opDecodeFrame, reasonMalformed, rooms.ErrValidation, errors.New("missing event name"))
	default:
		return Frame{}, rooms.NewServiceError(opDecodeFrame, reasonUnknown, rooms.ErrValidation, fmt.Errorf("unknown event %q", frame.Event))
	}
}

func decodePayload[T any](frame Frame) (T, error) {
	var payload T
	if len(frame.Data) == 0 || bytes.Equal(bytes.TrimSpace(frame.Data), jsonNull) {
		return payload, rooms.NewServiceError(opDecodeFrame, reasonInvalid, rooms.ErrValidation, errors.New("missing data"))
	}
	if err := json.Unmarshal(frame.Data, &payload); err != nil {
		return payload, rooms.NewServiceError(opDecodeFrame, reasonInvalid, rooms.ErrValidation, err)
	}
	if err := payloadValidator.Struct(payload); err != nil {
		return payload, rooms.NewServiceError(opDecodeFrame, reasonInvalid, rooms.ErrValidation, err)
	}
	return payload, nil
}

func decodeChatMessage(raw json.RawMessage) (ChatMessagePayload, error) {
	return decodePayload[ChatMessagePayload](Frame{Event: EventChatMessage, Data: raw})
}

// NewFrame encodes payload under the given event name.
func NewFrame(event string, payload any) (Frame, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Frame{}, rooms.NewServiceError(opEncodeFrame, reasonEncode, ErrTransport, err)
	}
	return Frame{Event: event, Data: data}, nil
}

func newErrorFrame(err error) Frame {
	payload := ErrorPayload{Message: clientMessage(err), Code: rooms.ErrorCode(err)}
	data, _ := json.Marshal(payload)
	return Frame{Event: EventError, Data: data}
}

func clientMessage(err error) string {
	switch {
	case errors.Is(err, ErrForbidden):
		return "identity does not match the authenticated session"
	case errors.Is(err, ErrNotJoined):
		return "join the room before sending events to it"
	case errors.Is(err, rooms.ErrNotFound):
		return "room not found"
	case errors.Is(err, rooms.ErrValidation):
		return errorMessageData
	case errors.Is(err, rooms.ErrStorage):
		return "storage unavailable"
	default:
		return "internal error"
	}
}
