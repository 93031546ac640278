package realtime

import (
	"go.uber.org/zap"

	"github.com/MarcoPoloResearchLab/studyroom/internal/presence"
)

// Observer receives realtime activity for metrics.
type Observer interface {
	ObserveEvent(event, outcome string)
	ConnectionOpened()
	ConnectionClosed()
	FrameDropped()
}

type noopObserver struct{}

func (noopObserver) ObserveEvent(string, string) {}
func (noopObserver) ConnectionOpened()           {}
func (noopObserver) ConnectionClosed()           {}
func (noopObserver) FrameDropped()               {}

type fanout struct {
	registry   *presence.Registry
	dispatcher *Dispatcher
	logger     *zap.Logger
	observer   Observer
}

func (f fanout) toConnection(connectionID string, frame Frame) {
	if err := f.dispatcher.Publish(connectionID, frame); err != nil {
		f.observer.FrameDropped()
		f.logger.Warn("realtime frame dropped",
			zap.String("connection_id", connectionID),
			zap.String("event", frame.Event),
			zap.Error(err))
	}
}

// toRoom publishes frame to every connection registered to roomID except excludeConnectionID.
func (f fanout) toRoom(roomID string, frame Frame, excludeConnectionID string) {
	for _, entry := range f.registry.ListByRoom(roomID) {
		if entry.ConnectionID == excludeConnectionID {
			continue
		}
		f.toConnection(entry.ConnectionID, frame)
	}
}

func (f fanout) encodeToConnection(connectionID, event string, payload any) {
	frame, err := NewFrame(event, payload)
	if err != nil {
		f.logger.Error("realtime frame encode failed", zap.String("event", event), zap.Error(err))
		return
	}
	f.toConnection(connectionID, frame)
}

func (f fanout) encodeToRoom(roomID, event string, payload any, excludeConnectionID string) {
	frame, err := NewFrame(event, payload)
	if err != nil {
		f.logger.Error("realtime frame encode failed", zap.String("event", event), zap.Error(err))
		return
	}
	f.toRoom(roomID, frame, excludeConnectionID)
}
