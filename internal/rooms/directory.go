package rooms

import (
	"context"
	"errors"

	"go.uber.org/zap"
)

const (
	opDirectoryNew      = "rooms.directory.new"
	opDirectoryCreate   = "rooms.directory.create_room"
	opDirectoryResolve  = "rooms.directory.get_room"
	reasonMissingStore  = "missing_store"
	reasonMissingCodes  = "missing_code_generator"
	reasonCodeFailed    = "code_generation_failed"
	reasonCodeExhausted = "code_space_exhausted"

	// DefaultMessageLimit caps the chat history returned with a resolved room.
	DefaultMessageLimit = 50
	// DefaultListingLimit caps the number of rooms returned by ListRecentRooms.
	DefaultListingLimit = 20
	maxCodeAttempts     = 5
)

// DirectoryStore is the subset of Store the directory reads and writes.
type DirectoryStore interface {
	CreateRoom(ctx context.Context, code RoomCode, ownerID UserID, ownerName UserName) (Room, error)
	FindRoomByID(ctx context.Context, roomID RoomID) (Room, error)
	ListRecentRooms(ctx context.Context, limit int) ([]Room, error)
	RecentMessages(ctx context.Context, roomID RoomID, limit int) ([]Message, error)
}

// DirectoryConfig wires the room directory.
type DirectoryConfig struct {
	Store         DirectoryStore
	Codes         CodeGenerator
	Logger        *zap.Logger
	MessageLimit  int
	ListingLimit  int
	MaxCodeTrials int
}

// Directory creates rooms and resolves room codes for the REST surface.
type Directory struct {
	store         DirectoryStore
	codes         CodeGenerator
	logger        *zap.Logger
	messageLimit  int
	listingLimit  int
	maxCodeTrials int
}

func NewDirectory(cfg DirectoryConfig) (*Directory, error) {
	if cfg.Store == nil {
		return nil, NewServiceError(opDirectoryNew, reasonMissingStore, ErrValidation, errMissingStore)
	}
	if cfg.Codes == nil {
		return nil, NewServiceError(opDirectoryNew, reasonMissingCodes, ErrValidation, errMissingCodeGenerator)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	messageLimit := cfg.MessageLimit
	if messageLimit <= 0 {
		messageLimit = DefaultMessageLimit
	}
	listingLimit := cfg.ListingLimit
	if listingLimit <= 0 {
		listingLimit = DefaultListingLimit
	}
	maxCodeTrials := cfg.MaxCodeTrials
	if maxCodeTrials <= 0 {
		maxCodeTrials = maxCodeAttempts
	}
	return &Directory{
		store:         cfg.Store,
		codes:         cfg.Codes,
		logger:        logger,
		messageLimit:  messageLimit,
		listingLimit:  listingLimit,
		maxCodeTrials: maxCodeTrials,
	}, nil
}

// CreateRoom mints a fresh room owned by the creator. A code collision draws a new code;
// any other storage failure is returned as is.
func (d *Directory) CreateRoom(ctx context.Context, rawCreatorID, rawCreatorName string) (Room, error) {
	creatorID, err := NewUserID(rawCreatorID)
	if err != nil {
		return Room{}, NewServiceError(opDirectoryCreate, reasonInvalidInput, ErrValidation, err)
	}
	creatorName, err := NewUserName(rawCreatorName)
	if err != nil {
		return Room{}, NewServiceError(opDirectoryCreate, reasonInvalidInput, ErrValidation, err)
	}

	for attempt := 1; attempt <= d.maxCodeTrials; attempt++ {
		code, codeErr := d.codes.NewCode()
		if codeErr != nil {
			d.logError(opDirectoryCreate, reasonCodeFailed, codeErr)
			return Room{}, NewServiceError(opDirectoryCreate, reasonCodeFailed, ErrStorage, codeErr)
		}
		room, createErr := d.store.CreateRoom(ctx, code, creatorID, creatorName)
		if createErr == nil {
			d.logger.Info("room created",
				zap.String("room_id", room.ID),
				zap.String("owner_id", room.Owner))
			return room, nil
		}
		if !errors.Is(createErr, ErrDuplicateCode) {
			return Room{}, createErr
		}
		d.logger.Debug("room code collision",
			zap.String("code", code.String()),
			zap.Int("attempt", attempt))
	}
	d.logError(opDirectoryCreate, reasonCodeExhausted, errCodeSpaceExhausted, zap.Int("attempts", d.maxCodeTrials))
	return Room{}, NewServiceError(opDirectoryCreate, reasonCodeExhausted, ErrStorage, errCodeSpaceExhausted)
}

// GetRoomByCode resolves a code to its room and the most recent chat messages in
// chronological order. It never writes.
func (d *Directory) GetRoomByCode(ctx context.Context, rawCode string) (Room, []Message, error) {
	code, err := NewRoomCode(rawCode)
	if err != nil {
		return Room{}, nil, NewServiceError(opDirectoryResolve, reasonInvalidInput, ErrValidation, err)
	}
	room, err := d.store.FindRoomByID(ctx, code.RoomID())
	if err != nil {
		return Room{}, nil, err
	}
	messages, err := d.store.RecentMessages(ctx, code.RoomID(), d.messageLimit)
	if err != nil {
		return Room{}, nil, err
	}
	return room, messages, nil
}

// ListRecentRooms returns the newest rooms first, capped at the listing limit.
func (d *Directory) ListRecentRooms(ctx context.Context) ([]Room, error) {
	return d.store.ListRecentRooms(ctx, d.listingLimit)
}

func (d *Directory) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	d.logger.Error("room directory error", attrs...)
}
