package realtime

import (
	"context"
	"errors"
	"sync"

	"github.com/MarcoPoloResearchLab/studyroom/internal/rooms"
)

const (
	// DefaultBufferSize is the number of outbound frames queued per connection.
	DefaultBufferSize  = 32
	opPublish          = "realtime.publish"
	reasonUnknownConn  = "unknown_connection"
	reasonBufferFull   = "buffer_full"
	reasonMissingEvent = "missing_event"
)

var (
	// ErrTransport indicates that a frame could not be handed to a connection.
	ErrTransport = errors.New("realtime: transport failure")
	// ErrNotJoined indicates that a connection sent a room event without being joined to that room.
	ErrNotJoined = errors.New("realtime: connection not joined to room")
	// ErrForbidden indicates that an event claimed an identity other than the authenticated one.
	ErrForbidden = errors.New("realtime: identity mismatch")
)

// Dispatcher owns one buffered outbound stream per connection.
type Dispatcher struct {
	mu         sync.RWMutex
	streams    map[string]chan Frame
	bufferSize int
}

func NewDispatcher(bufferSize int) *Dispatcher {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	return &Dispatcher{
		streams:    make(map[string]chan Frame),
		bufferSize: bufferSize,
	}
}

// Subscribe opens the outbound stream for connectionID. The stream is closed by the
// returned cleanup or when ctx ends, whichever comes first. A second subscription for
// the same connection replaces the first.
func (d *Dispatcher) Subscribe(ctx context.Context, connectionID string) (<-chan Frame, func()) {
	if connectionID == "" {
		ch := make(chan Frame)
		close(ch)
		return ch, func() {}
	}
	stream := make(chan Frame, d.bufferSize)
	d.mu.Lock()
	if previous, ok := d.streams[connectionID]; ok {
		close(previous)
	}
	d.streams[connectionID] = stream
	d.mu.Unlock()

	var once sync.Once
	cleanup := func() {
		once.Do(func() {
			d.unregister(connectionID, stream)
		})
	}
	go func() {
		<-ctx.Done()
		cleanup()
	}()
	return stream, cleanup
}

// Publish queues frame for connectionID without blocking.
func (d *Dispatcher) Publish(connectionID string, frame Frame) error {
	if frame.Event == "" {
		return rooms.NewServiceError(opPublish, reasonMissingEvent, ErrTransport, nil)
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	stream, ok := d.streams[connectionID]
	if !ok {
		return rooms.NewServiceError(opPublish, reasonUnknownConn, ErrTransport, nil)
	}
	select {
	case stream <- frame:
		return nil
	default:
		return rooms.NewServiceError(opPublish, reasonBufferFull, ErrTransport, nil)
	}
}

func (d *Dispatcher) unregister(connectionID string, stream chan Frame) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if current, ok := d.streams[connectionID]; ok && current == stream {
		delete(d.streams, connectionID)
		close(stream)
	}
}
