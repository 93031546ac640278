package server

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/MarcoPoloResearchLab/studyroom/internal/realtime"
)

func (h *httpHandler) handleWebsocket(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade has already written the HTTP error response.
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	client := realtime.NewClient(realtime.ClientConfig{
		Conn:            conn,
		Router:          h.eventRouter,
		Sessions:        h.sessions,
		Dispatcher:      h.dispatcher,
		Logger:          h.logger,
		Observer:        h.observer,
		MaxMessageBytes: h.maxMessageBytes,
	})
	h.logger.Debug("websocket connected", zap.String("connection_id", client.ID()))
	client.Serve(c.Request.Context())
}
