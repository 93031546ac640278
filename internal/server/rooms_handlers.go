package server

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/MarcoPoloResearchLab/studyroom/internal/auth"
	"github.com/MarcoPoloResearchLab/studyroom/internal/rooms"
)

const (
	codeInvalidRequest   = "rooms.invalid_request"
	codeIdentityMismatch = "rooms.create_room.identity_mismatch"
	codeUnauthorized     = "auth.unauthorized"
	codeInternal         = "rooms.internal"
)

// RoomDirectory is the room lookup and creation surface used by the REST handlers.
type RoomDirectory interface {
	CreateRoom(ctx context.Context, creatorID, creatorName string) (rooms.Room, error)
	GetRoomByCode(ctx context.Context, code string) (rooms.Room, []rooms.Message, error)
	ListRecentRooms(ctx context.Context) ([]rooms.Room, error)
}

type createRoomRequest struct {
	UserID   string `json:"userId"`
	UserName string `json:"userName"`
}

type roomResponse struct {
	Success bool       `json:"success"`
	Room    rooms.Room `json:"room"`
}

type roomWithMessagesResponse struct {
	Success  bool            `json:"success"`
	Room     rooms.Room      `json:"room"`
	Messages []rooms.Message `json:"messages"`
}

type roomListResponse struct {
	Success bool         `json:"success"`
	Rooms   []rooms.Room `json:"rooms"`
}

type failureResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Code    string `json:"code"`
}

func (h *httpHandler) handleCreateRoom(c *gin.Context) {
	var request createRoomRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, failureResponse{Error: "invalid request body", Code: codeInvalidRequest})
		return
	}
	if verified, ok := auth.UserIDFromContext(c.Request.Context()); ok && verified != request.UserID {
		c.JSON(http.StatusForbidden, failureResponse{Error: "user does not match the authenticated session", Code: codeIdentityMismatch})
		return
	}

	room, err := h.directory.CreateRoom(c.Request.Context(), request.UserID, request.UserName)
	if err != nil {
		h.writeError(c, "create room failed", err)
		return
	}
	c.JSON(http.StatusOK, roomResponse{Success: true, Room: room})
}

func (h *httpHandler) handleGetRoom(c *gin.Context) {
	room, messages, err := h.directory.GetRoomByCode(c.Request.Context(), c.Param("code"))
	if err != nil {
		h.writeError(c, "get room failed", err)
		return
	}
	if messages == nil {
		messages = []rooms.Message{}
	}
	c.JSON(http.StatusOK, roomWithMessagesResponse{Success: true, Room: room, Messages: messages})
}

func (h *httpHandler) handleListRooms(c *gin.Context) {
	list, err := h.directory.ListRecentRooms(c.Request.Context())
	if err != nil {
		h.writeError(c, "list rooms failed", err)
		return
	}
	if list == nil {
		list = []rooms.Room{}
	}
	c.JSON(http.StatusOK, roomListResponse{Success: true, Rooms: list})
}

func (h *httpHandler) writeError(c *gin.Context, message string, err error) {
	status, public := classifyError(err)
	code := rooms.ErrorCode(err)
	if code == "" {
		code = codeInternal
	}
	if status >= http.StatusInternalServerError {
		h.logger.Error(message, zap.String("code", code), zap.Error(err))
	} else {
		h.logger.Debug(message, zap.String("code", code), zap.Error(err))
	}
	c.JSON(status, failureResponse{Error: public, Code: code})
}

func classifyError(err error) (int, string) {
	switch {
	case errors.Is(err, rooms.ErrNotFound):
		return http.StatusNotFound, "room not found"
	case errors.Is(err, rooms.ErrValidation):
		return http.StatusBadRequest, "invalid input"
	default:
		return http.StatusInternalServerError, "internal error"
	}
}
