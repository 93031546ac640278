package realtime

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait = 10 * time.Second
	pongWait  = 60 * time.Second
	// pingPeriod must stay below pongWait.
	pingPeriod = (pongWait * 9) / 10
	// DefaultMaxMessageBytes bounds a single inbound frame.
	DefaultMaxMessageBytes = 1 << 20
)

// ClientConfig wires a websocket connection to the realtime engine.
type ClientConfig struct {
	Conn            *websocket.Conn
	Router          *Router
	Sessions        *SessionManager
	Dispatcher      *Dispatcher
	Logger          *zap.Logger
	Observer        Observer
	MaxMessageBytes int64
}

// Client pumps frames between one websocket connection and the router.
type Client struct {
	id              string
	conn            *websocket.Conn
	router          *Router
	sessions        *SessionManager
	dispatcher      *Dispatcher
	logger          *zap.Logger
	observer        Observer
	maxMessageBytes int64
}

func NewClient(cfg ClientConfig) *Client {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	var observer Observer = noopObserver{}
	if cfg.Observer != nil {
		observer = cfg.Observer
	}
	maxMessageBytes := cfg.MaxMessageBytes
	if maxMessageBytes <= 0 {
		maxMessageBytes = DefaultMaxMessageBytes
	}
	id := uuid.NewString()
	return &Client{
		id:              id,
		conn:            cfg.Conn,
		router:          cfg.Router,
		sessions:        cfg.Sessions,
		dispatcher:      cfg.Dispatcher,
		logger:          logger.With(zap.String("connection_id", id)),
		observer:        observer,
		maxMessageBytes: maxMessageBytes,
	}
}

// ID returns the connection identifier used by presence and the dispatcher.
func (c *Client) ID() string {
	return c.id
}

// Serve runs both pumps and blocks until the connection ends. On the way out the
// connection is disconnected from whatever room it had joined.
func (c *Client) Serve(ctx context.Context) {
	c.observer.ConnectionOpened()
	defer c.observer.ConnectionClosed()

	streamCtx, cancel := context.WithCancel(ctx)
	stream, unsubscribe := c.dispatcher.Subscribe(streamCtx, c.id)

	var waitGroup sync.WaitGroup
	waitGroup.Add(1)
	go func() {
		defer waitGroup.Done()
		c.writePump(stream)
	}()

	c.readPump(ctx)

	if err := c.sessions.Disconnect(context.WithoutCancel(ctx), c.id); err != nil {
		c.logger.Warn("disconnect cleanup incomplete", zap.Error(err))
	}
	unsubscribe()
	cancel()
	waitGroup.Wait()
	c.logger.Debug("realtime connection closed")
}

func (c *Client) readPump(ctx context.Context) {
	defer c.conn.Close()
	c.conn.SetReadLimit(c.maxMessageBytes)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		messageType, payload, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Warn("realtime read failed", zap.Error(err))
			}
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}
		if err := c.router.Dispatch(ctx, c.id, payload); err != nil {
			c.logger.Debug("realtime frame not applied", zap.Error(err))
		}
	}
}

func (c *Client) writePump(stream <-chan Frame) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case frame, ok := <-stream:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			encoded, err := json.Marshal(frame)
			if err != nil {
				c.logger.Error("realtime frame encode failed", zap.String("event", frame.Event), zap.Error(err))
				continue
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, encoded); err != nil {
				c.logger.Debug("realtime write failed", zap.Error(err))
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
