package server

import (
	"errors"
	"net/http"
	"slices"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/MarcoPoloResearchLab/studyroom/internal/auth"
	"github.com/MarcoPoloResearchLab/studyroom/internal/metrics"
	"github.com/MarcoPoloResearchLab/studyroom/internal/realtime"
)

const (
	bannerMessage = "Study Room API"
	wildcardOrig  = "*"
)

var (
	errMissingDirectory   = errors.New("room directory dependency required")
	errMissingSessions    = errors.New("session manager dependency required")
	errMissingEventRouter = errors.New("event router dependency required")
	errMissingDispatcher  = errors.New("dispatcher dependency required")
)

// SessionValidator authenticates inbound requests.
type SessionValidator interface {
	ValidateRequest(r *http.Request) (auth.SessionClaims, error)
}

type Dependencies struct {
	Directory        RoomDirectory
	Sessions         *realtime.SessionManager
	EventRouter      *realtime.Router
	Dispatcher       *realtime.Dispatcher
	SessionValidator SessionValidator
	Observer         realtime.Observer
	Logger           *zap.Logger
	AllowedOrigins   []string
	MaxMessageBytes  int64
}

// NewHTTPHandler assembles the REST surface, the websocket endpoint and the metrics endpoint.
// Without a SessionValidator, caller supplied identities are trusted.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.Directory == nil {
		return nil, errMissingDirectory
	}
	if deps.Sessions == nil {
		return nil, errMissingSessions
	}
	if deps.EventRouter == nil {
		return nil, errMissingEventRouter
	}
	if deps.Dispatcher == nil {
		return nil, errMissingDispatcher
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(metrics.Middleware())
	router.Use(corsMiddleware(deps.AllowedOrigins))

	handler := &httpHandler{
		directory:       deps.Directory,
		sessions:        deps.Sessions,
		eventRouter:     deps.EventRouter,
		dispatcher:      deps.Dispatcher,
		validator:       deps.SessionValidator,
		observer:        deps.Observer,
		logger:          logger,
		maxMessageBytes: deps.MaxMessageBytes,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     originChecker(deps.AllowedOrigins),
		},
	}

	router.GET("/", handler.handleBanner)
	router.GET("/healthz", handler.handleHealth)
	router.GET("/metrics", gin.WrapH(metrics.Handler()))

	api := router.Group("/api/rooms")
	api.POST("/create", handler.authenticate, handler.handleCreateRoom)
	api.GET("", handler.handleListRooms)
	api.GET("/:code", handler.handleGetRoom)

	router.GET("/ws", handler.authenticate, handler.handleWebsocket)

	return router, nil
}

type httpHandler struct {
	directory       RoomDirectory
	sessions        *realtime.SessionManager
	eventRouter     *realtime.Router
	dispatcher      *realtime.Dispatcher
	validator       SessionValidator
	observer        realtime.Observer
	logger          *zap.Logger
	maxMessageBytes int64
	upgrader        websocket.Upgrader
}

func (h *httpHandler) handleBanner(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"message": bannerMessage})
}

func (h *httpHandler) handleHealth(c *gin.Context) {
	c.String(http.StatusOK, "ok")
}

// authenticate attaches the verified user id to the request context when sessions are enabled.
func (h *httpHandler) authenticate(c *gin.Context) {
	if h.validator == nil {
		c.Next()
		return
	}
	claims, err := h.validator.ValidateRequest(c.Request)
	if err != nil {
		if errors.Is(err, auth.ErrExpiredSessionToken) || errors.Is(err, auth.ErrMissingSessionToken) {
			h.logger.Info("session validation failed", zap.Error(err))
		} else {
			h.logger.Warn("session validation failed", zap.Error(err))
		}
		c.AbortWithStatusJSON(http.StatusUnauthorized, failureResponse{
			Success: false,
			Error:   "unauthorized",
			Code:    codeUnauthorized,
		})
		return
	}
	c.Request = c.Request.WithContext(auth.WithUserID(c.Request.Context(), claims.UserID))
	c.Next()
}

func corsMiddleware(allowedOrigins []string) gin.HandlerFunc {
	config := cors.Config{
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders:     []string{"Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	if len(allowedOrigins) == 0 || slices.Contains(allowedOrigins, wildcardOrig) {
		config.AllowAllOrigins = true
		config.AllowCredentials = false
	} else {
		config.AllowOrigins = allowedOrigins
	}
	return cors.New(config)
}

// originChecker admits websocket upgrades from the CORS allow-list and from non-browser clients.
func originChecker(allowedOrigins []string) func(r *http.Request) bool {
	allowAll := len(allowedOrigins) == 0 || slices.Contains(allowedOrigins, wildcardOrig)
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" || allowAll {
			return true
		}
		return slices.Contains(allowedOrigins, origin)
	}
}
