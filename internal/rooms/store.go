package rooms

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	opStoreNew         = "rooms.store.new"
	opCreateRoom       = "rooms.create_room"
	opFindRoom         = "rooms.find_room"
	opListRooms        = "rooms.list_rooms"
	opAddMember        = "rooms.add_member"
	opRemoveMember     = "rooms.remove_member"
	opUpdateNote       = "rooms.update_note"
	opAppendMessage    = "rooms.append_message"
	opRecentMessages   = "rooms.recent_messages"
	fieldRoomID        = "room_id"
	fieldUserID        = "user_id"
	queryRoomID        = fieldRoomID + " = ?"
	queryRoomIDIn      = fieldRoomID + " IN ?"
	queryRoomMember    = fieldRoomID + " = ? AND " + fieldUserID + " = ?"
	orderMembers       = "joined_at_ms ASC, user_id ASC"
	orderRoomsNewest   = "created_at_ms DESC, room_id ASC"
	orderMessagesNewer = "timestamp_ms DESC, sequence DESC"
	reasonMissingDB    = "missing_database"
	reasonMissingIDs   = "missing_id_provider"
	reasonInvalidInput = "invalid_input"
	reasonDuplicate    = "duplicate_code"
	reasonInsertFailed = "insert_failed"
	reasonQueryFailed  = "query_failed"
	reasonUpdateFailed = "update_failed"
	reasonDeleteFailed = "delete_failed"
	reasonNotFound     = "not_found"
	reasonIDFailed     = "id_generation_failed"
)

var noOpLogger = zap.NewNop()

// StoreConfig describes the dependencies of the durable room store.
type StoreConfig struct {
	Database   *gorm.DB
	Clock      func() time.Time
	IDProvider IDProvider
	Logger     *zap.Logger
}

// Store persists rooms, their membership set and their message log.
type Store struct {
	db         *gorm.DB
	clock      func() time.Time
	idProvider IDProvider
	logger     *zap.Logger
}

// NewStore validates the configuration and constructs a Store.
func NewStore(cfg StoreConfig) (*Store, error) {
	if cfg.Database == nil {
		return nil, NewServiceError(opStoreNew, reasonMissingDB, ErrStorage, errMissingDatabase)
	}
	if cfg.IDProvider == nil {
		return nil, NewServiceError(opStoreNew, reasonMissingIDs, ErrStorage, errMissingIDProvider)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Store{
		db:         cfg.Database,
		clock:      clock,
		idProvider: cfg.IDProvider,
		logger:     logger,
	}, nil
}

// CreateRoom inserts a fresh room with an empty note and an empty membership set.
// The note counts as last updated at creation time.
func (s *Store) CreateRoom(ctx context.Context, code RoomCode, ownerID UserID, ownerName UserName) (Room, error) {
	if s.db == nil {
		return Room{}, NewServiceError(opCreateRoom, reasonMissingDB, ErrStorage, errMissingDatabase)
	}
	createdAt := s.nowMillis()
	record := RoomRecord{
		RoomID:            code.RoomID().String(),
		Code:              code.String(),
		OwnerID:           ownerID.String(),
		OwnerName:         ownerName.String(),
		Note:              "",
		CreatedAtMillis:   createdAt,
		LastUpdatedMillis: createdAt,
	}
	result := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&record)
	if result.Error != nil {
		s.logError(opCreateRoom, reasonInsertFailed, result.Error, zap.String("code", code.String()))
		return Room{}, NewServiceError(opCreateRoom, reasonInsertFailed, ErrStorage, result.Error)
	}
	if result.RowsAffected == 0 {
		return Room{}, NewServiceError(opCreateRoom, reasonDuplicate, ErrDuplicateCode, nil)
	}
	return roomFromRecord(record, nil), nil
}

// FindRoomByID loads a room together with its durable member set.
func (s *Store) FindRoomByID(ctx context.Context, roomID RoomID) (Room, error) {
	if s.db == nil {
		return Room{}, NewServiceError(opFindRoom, reasonMissingDB, ErrStorage, errMissingDatabase)
	}
	var record RoomRecord
	err := s.db.WithContext(ctx).Where(queryRoomID, roomID.String()).Take(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Room{}, NewServiceError(opFindRoom, reasonNotFound, ErrNotFound, nil)
	}
	if err != nil {
		s.logError(opFindRoom, reasonQueryFailed, err, zap.String(fieldRoomID, roomID.String()))
		return Room{}, NewServiceError(opFindRoom, reasonQueryFailed, ErrStorage, err)
	}
	membersByRoom, err := s.loadMembers(ctx, []string{record.RoomID})
	if err != nil {
		s.logError(opFindRoom, reasonQueryFailed, err, zap.String(fieldRoomID, roomID.String()))
		return Room{}, NewServiceError(opFindRoom, reasonQueryFailed, ErrStorage, err)
	}
	return roomFromRecord(record, membersByRoom[record.RoomID]), nil
}

// ListRecentRooms returns up to limit rooms, newest first.
func (s *Store) ListRecentRooms(ctx context.Context, limit int) ([]Room, error) {
	if s.db == nil {
		return nil, NewServiceError(opListRooms, reasonMissingDB, ErrStorage, errMissingDatabase)
	}
	if limit <= 0 {
		return nil, NewServiceError(opListRooms, reasonInvalidInput, ErrValidation, nil)
	}
	var records []RoomRecord
	if err := s.db.WithContext(ctx).Order(orderRoomsNewest).Limit(limit).Find(&records).Error; err != nil {
		s.logError(opListRooms, reasonQueryFailed, err)
		return nil, NewServiceError(opListRooms, reasonQueryFailed, ErrStorage, err)
	}
	roomIDs := make([]string, 0, len(records))
	for _, record := range records {
		roomIDs = append(roomIDs, record.RoomID)
	}
	membersByRoom, err := s.loadMembers(ctx, roomIDs)
	if err != nil {
		s.logError(opListRooms, reasonQueryFailed, err)
		return nil, NewServiceError(opListRooms, reasonQueryFailed, ErrStorage, err)
	}
	result := make([]Room, 0, len(records))
	for _, record := range records {
		result = append(result, roomFromRecord(record, membersByRoom[record.RoomID]))
	}
	return result, nil
}

// AddMember adds the user to the room's durable member set. Repeated adds are no-ops.
func (s *Store) AddMember(ctx context.Context, roomID RoomID, userID UserID) error {
	if s.db == nil {
		return NewServiceError(opAddMember, reasonMissingDB, ErrStorage, errMissingDatabase)
	}
	return s.db.WithContext(ctx).Transaction(func(transaction *gorm.DB) error {
		var existing RoomRecord
		err := transaction.Select(fieldRoomID).Where(queryRoomID, roomID.String()).Take(&existing).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return NewServiceError(opAddMember, reasonNotFound, ErrNotFound, nil)
		}
		if err != nil {
			s.logError(opAddMember, reasonQueryFailed, err, zap.String(fieldRoomID, roomID.String()))
			return NewServiceError(opAddMember, reasonQueryFailed, ErrStorage, err)
		}
		member := MemberRecord{
			RoomID:         roomID.String(),
			UserID:         userID.String(),
			JoinedAtMillis: s.nowMillis(),
		}
		if err := transaction.Clauses(clause.OnConflict{DoNothing: true}).Create(&member).Error; err != nil {
			s.logError(opAddMember, reasonInsertFailed, err,
				zap.String(fieldRoomID, roomID.String()),
				zap.String(fieldUserID, userID.String()))
			return NewServiceError(opAddMember, reasonInsertFailed, ErrStorage, err)
		}
		return nil
	})
}

// RemoveMember deletes the user from the room's durable member set. Absent members are ignored.
func (s *Store) RemoveMember(ctx context.Context, roomID RoomID, userID UserID) error {
	if s.db == nil {
		return NewServiceError(opRemoveMember, reasonMissingDB, ErrStorage, errMissingDatabase)
	}
	err := s.db.WithContext(ctx).
		Where(queryRoomMember, roomID.String(), userID.String()).
		Delete(&MemberRecord{}).Error
	if err != nil {
		s.logError(opRemoveMember, reasonDeleteFailed, err,
			zap.String(fieldRoomID, roomID.String()),
			zap.String(fieldUserID, userID.String()))
		return NewServiceError(opRemoveMember, reasonDeleteFailed, ErrStorage, err)
	}
	return nil
}

// UpdateNote overwrites the room note and its provenance. The last write to land wins.
func (s *Store) UpdateNote(ctx context.Context, update NoteUpdate) error {
	if s.db == nil {
		return NewServiceError(opUpdateNote, reasonMissingDB, ErrStorage, errMissingDatabase)
	}
	result := s.db.WithContext(ctx).
		Model(&RoomRecord{}).
		Where(queryRoomID, update.RoomID.String()).
		Updates(map[string]any{
			"note":            update.Content,
			"last_updated_ms": s.nowMillis(),
			"last_updated_by": update.UserName.String(),
		})
	if result.Error != nil {
		s.logError(opUpdateNote, reasonUpdateFailed, result.Error, zap.String(fieldRoomID, update.RoomID.String()))
		return NewServiceError(opUpdateNote, reasonUpdateFailed, ErrStorage, result.Error)
	}
	if result.RowsAffected == 0 {
		return NewServiceError(opUpdateNote, reasonNotFound, ErrNotFound, nil)
	}
	return nil
}

// AppendMessage stores a chat message with a store-assigned id and timestamp.
func (s *Store) AppendMessage(ctx context.Context, draft MessageDraft) (Message, error) {
	if s.db == nil {
		return Message{}, NewServiceError(opAppendMessage, reasonMissingDB, ErrStorage, errMissingDatabase)
	}
	if s.idProvider == nil {
		return Message{}, NewServiceError(opAppendMessage, reasonMissingIDs, ErrStorage, errMissingIDProvider)
	}
	messageID, err := s.idProvider.NewID()
	if err != nil {
		s.logError(opAppendMessage, reasonIDFailed, err, zap.String(fieldRoomID, draft.RoomID.String()))
		return Message{}, NewServiceError(opAppendMessage, reasonIDFailed, ErrStorage, err)
	}
	record := MessageRecord{
		MessageID:       messageID,
		RoomID:          draft.RoomID.String(),
		UserID:          draft.UserID.String(),
		UserName:        draft.UserName.String(),
		Content:         draft.Content,
		TimestampMillis: s.nowMillis(),
	}
	if err := s.db.WithContext(ctx).Create(&record).Error; err != nil {
		s.logError(opAppendMessage, reasonInsertFailed, err, zap.String(fieldRoomID, draft.RoomID.String()))
		return Message{}, NewServiceError(opAppendMessage, reasonInsertFailed, ErrStorage, err)
	}
	return messageFromRecord(record), nil
}

// RecentMessages returns the newest limit messages of the room in chronological order.
func (s *Store) RecentMessages(ctx context.Context, roomID RoomID, limit int) ([]Message, error) {
	if s.db == nil {
		return nil, NewServiceError(opRecentMessages, reasonMissingDB, ErrStorage, errMissingDatabase)
	}
	if limit <= 0 {
		return nil, NewServiceError(opRecentMessages, reasonInvalidInput, ErrValidation, nil)
	}
	var records []MessageRecord
	if err := s.db.WithContext(ctx).
		Where(queryRoomID, roomID.String()).
		Order(orderMessagesNewer).
		Limit(limit).
		Find(&records).Error; err != nil {
		s.logError(opRecentMessages, reasonQueryFailed, err, zap.String(fieldRoomID, roomID.String()))
		return nil, NewServiceError(opRecentMessages, reasonQueryFailed, ErrStorage, err)
	}
	messages := make([]Message, len(records))
	for index, record := range records {
		messages[len(records)-1-index] = messageFromRecord(record)
	}
	return messages, nil
}

func (s *Store) loadMembers(ctx context.Context, roomIDs []string) (map[string][]string, error) {
	membersByRoom := make(map[string][]string, len(roomIDs))
	if len(roomIDs) == 0 {
		return membersByRoom, nil
	}
	var members []MemberRecord
	if err := s.db.WithContext(ctx).
		Where(queryRoomIDIn, roomIDs).
		Order(orderMembers).
		Find(&members).Error; err != nil {
		return nil, err
	}
	for _, member := range members {
		membersByRoom[member.RoomID] = append(membersByRoom[member.RoomID], member.UserID)
	}
	return membersByRoom, nil
}

func (s *Store) nowMillis() int64 {
	return s.clock().UTC().UnixMilli()
}

func (s *Store) loggerOrDefault() *zap.Logger {
	if s == nil || s.logger == nil {
		return noOpLogger
	}
	return s.logger
}

func (s *Store) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.loggerOrDefault().Error("room store error", attrs...)
}
