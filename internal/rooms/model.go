package rooms

import (
	"errors"
	"fmt"
	"strings"
)

const (
	maxIdentifierLength = 190
	maxDisplayNameLen   = 320
	roomIDPrefix        = "room_"
	// CodeLength is the number of characters in a generated room code.
	CodeLength = 6
	// CodeAlphabet lists the characters allowed in room codes.
	CodeAlphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ"
)

var (
	// ErrNotFound indicates that a room could not be resolved.
	ErrNotFound = errors.New("rooms: not found")
	// ErrValidation indicates that caller supplied input is missing or malformed.
	ErrValidation = errors.New("rooms: validation failed")
	// ErrStorage indicates a durable store read or write failure.
	ErrStorage = errors.New("rooms: storage failure")
	// ErrDuplicateCode indicates that a room with the same code already exists.
	ErrDuplicateCode = errors.New("rooms: duplicate room code")

	// ErrInvalidRoomID indicates that a room identifier is empty or exceeds storage bounds.
	ErrInvalidRoomID = fmt.Errorf("%w: invalid room id", ErrValidation)
	// ErrInvalidRoomCode indicates that a room code is not CodeLength characters of CodeAlphabet.
	ErrInvalidRoomCode = fmt.Errorf("%w: invalid room code", ErrValidation)
	// ErrInvalidUserID indicates that a user identifier is empty or exceeds storage bounds.
	ErrInvalidUserID = fmt.Errorf("%w: invalid user id", ErrValidation)
	// ErrInvalidUserName indicates that a display name is empty or exceeds storage bounds.
	ErrInvalidUserName = fmt.Errorf("%w: invalid user name", ErrValidation)
)

// RoomCode is a short human-shareable room token.
type RoomCode string

// NewRoomCode normalizes raw input to upper case and validates it.
func NewRoomCode(rawInput string) (RoomCode, error) {
	normalized := strings.ToUpper(strings.TrimSpace(rawInput))
	if len(normalized) != CodeLength {
		return "", fmt.Errorf("%w: expected %d characters", ErrInvalidRoomCode, CodeLength)
	}
	for _, character := range normalized {
		if !strings.ContainsRune(CodeAlphabet, character) {
			return "", fmt.Errorf("%w: unexpected character %q", ErrInvalidRoomCode, character)
		}
	}
	return RoomCode(normalized), nil
}

// RoomID derives the stable room identifier for the code.
func (code RoomCode) RoomID() RoomID {
	return RoomID(roomIDPrefix + string(code))
}

// String returns the underlying code.
func (code RoomCode) String() string {
	return string(code)
}

// RoomID represents a validated room identifier.
type RoomID string

// NewRoomID validates raw input and returns a RoomID.
func NewRoomID(rawInput string) (RoomID, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidRoomID)
	}
	if len(trimmed) > maxIdentifierLength {
		return "", fmt.Errorf("%w: exceeds %d characters", ErrInvalidRoomID, maxIdentifierLength)
	}
	return RoomID(trimmed), nil
}

// String returns the underlying string identifier.
func (id RoomID) String() string {
	return string(id)
}

// UserID represents a validated user identifier.
type UserID string

// NewUserID validates raw input and returns a UserID.
func NewUserID(rawInput string) (UserID, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidUserID)
	}
	if len(trimmed) > maxIdentifierLength {
		return "", fmt.Errorf("%w: exceeds %d characters", ErrInvalidUserID, maxIdentifierLength)
	}
	return UserID(trimmed), nil
}

// String returns the underlying string identifier.
func (id UserID) String() string {
	return string(id)
}

// UserName represents a validated display name.
type UserName string

// NewUserName validates raw input and returns a UserName.
func NewUserName(rawInput string) (UserName, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidUserName)
	}
	if len(trimmed) > maxDisplayNameLen {
		return "", fmt.Errorf("%w: exceeds %d characters", ErrInvalidUserName, maxDisplayNameLen)
	}
	return UserName(trimmed), nil
}

// String returns the underlying display name.
func (name UserName) String() string {
	return string(name)
}

// RoomRecord models the persisted room row.
type RoomRecord struct {
	RoomID            string `gorm:"column:room_id;primaryKey;size:190;not null"`
	Code              string `gorm:"column:code;size:16;not null;uniqueIndex:idx_rooms_code"`
	OwnerID           string `gorm:"column:owner_id;size:190;not null"`
	OwnerName         string `gorm:"column:owner_name;size:320;not null"`
	Note              string `gorm:"column:note;type:text;not null;default:''"`
	CreatedAtMillis   int64  `gorm:"column:created_at_ms;not null;index:idx_rooms_created"`
	LastUpdatedMillis int64  `gorm:"column:last_updated_ms;not null;default:0"`
	LastUpdatedBy     string `gorm:"column:last_updated_by;size:320;not null;default:''"`
}

// TableName provides the explicit table binding for GORM.
func (RoomRecord) TableName() string {
	return "rooms"
}

// MemberRecord is one entry of the durable room membership set.
type MemberRecord struct {
	RoomID         string `gorm:"column:room_id;primaryKey;size:190;not null"`
	UserID         string `gorm:"column:user_id;primaryKey;size:190;not null"`
	JoinedAtMillis int64  `gorm:"column:joined_at_ms;not null"`
}

// TableName provides the explicit table binding for GORM.
func (MemberRecord) TableName() string {
	return "room_members"
}

// MessageRecord stores an append-only chat message.
type MessageRecord struct {
	Sequence        int64  `gorm:"column:sequence;primaryKey;autoIncrement"`
	MessageID       string `gorm:"column:message_id;size:64;not null;uniqueIndex:idx_room_messages_id"`
	RoomID          string `gorm:"column:room_id;size:190;not null;index:idx_room_messages_room_time,priority:1"`
	UserID          string `gorm:"column:user_id;size:190;not null"`
	UserName        string `gorm:"column:user_name;size:320;not null"`
	Content         string `gorm:"column:content;type:text;not null"`
	TimestampMillis int64  `gorm:"column:timestamp_ms;not null;index:idx_room_messages_room_time,priority:2"`
}

// TableName provides the explicit table binding for GORM.
func (MessageRecord) TableName() string {
	return "room_messages"
}

// Room is the client-facing view of a room.
type Room struct {
	ID            string   `json:"id"`
	Code          string   `json:"code"`
	Owner         string   `json:"owner"`
	OwnerName     string   `json:"ownerName"`
	Note          string   `json:"note"`
	Members       []string `json:"members"`
	CreatedAt     int64    `json:"createdAt"`
	LastUpdated   int64    `json:"lastUpdated,omitempty"`
	LastUpdatedBy string   `json:"lastUpdatedBy,omitempty"`
}

// Message is the client-facing view of a persisted chat message.
type Message struct {
	ID        string `json:"id"`
	UserID    string `json:"userId"`
	UserName  string `json:"userName"`
	Content   string `json:"content"`
	Timestamp int64  `json:"timestamp"`
}

// NoteUpdate describes a last-write-wins replacement of a room note.
type NoteUpdate struct {
	RoomID   RoomID
	Content  string
	UserID   UserID
	UserName UserName
}

// MessageDraft is a chat message before the store assigns its id and timestamp.
type MessageDraft struct {
	RoomID   RoomID
	UserID   UserID
	UserName UserName
	Content  string
}

func roomFromRecord(record RoomRecord, members []string) Room {
	if members == nil {
		members = []string{}
	}
	return Room{
		ID:            record.RoomID,
		Code:          record.Code,
		Owner:         record.OwnerID,
		OwnerName:     record.OwnerName,
		Note:          record.Note,
		Members:       members,
		CreatedAt:     record.CreatedAtMillis,
		LastUpdated:   record.LastUpdatedMillis,
		LastUpdatedBy: record.LastUpdatedBy,
	}
}

func messageFromRecord(record MessageRecord) Message {
	return Message{
		ID:        record.MessageID,
		UserID:    record.UserID,
		UserName:  record.UserName,
		Content:   record.Content,
		Timestamp: record.TimestampMillis,
	}
}
