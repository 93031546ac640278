package realtime

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestDispatcherPublishesToSubscriber(t *testing.T) {
	dispatcher := NewDispatcher(4)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stream, cleanup := dispatcher.Subscribe(ctx, "conn-1")
	defer cleanup()

	if err := dispatcher.Publish("conn-1", Frame{Event: EventUserTyping, Data: []byte(`{"userId":"u1"}`)}); err != nil {
		t.Fatalf("unexpected publish error: %v", err)
	}

	select {
	case received := <-stream:
		if received.Event != EventUserTyping {
			t.Fatalf("expected event %s, got %s", EventUserTyping, received.Event)
		}
	case <-time.After(500 * time.Millisecond):
		t.Fatal("expected frame within deadline")
	}
}

func TestDispatcherIsolatedByConnection(t *testing.T) {
	dispatcher := NewDispatcher(4)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	first, firstCleanup := dispatcher.Subscribe(ctx, "conn-1")
	defer firstCleanup()
	second, secondCleanup := dispatcher.Subscribe(ctx, "conn-2")
	defer secondCleanup()

	if err := dispatcher.Publish("conn-2", Frame{Event: EventUserLeft}); err != nil {
		t.Fatalf("unexpected publish error: %v", err)
	}

	select {
	case <-first:
		t.Fatal("did not expect frame for unrelated connection")
	case <-time.After(100 * time.Millisecond):
	}
	select {
	case frame := <-second:
		if frame.Event != EventUserLeft {
			t.Fatalf("unexpected event %s", frame.Event)
		}
	case <-time.After(500 * time.Millisecond):
		t.Fatal("expected frame for subscribed connection")
	}
}

func TestDispatcherReportsTransportFailures(t *testing.T) {
	dispatcher := NewDispatcher(1)
	if err := dispatcher.Publish("ghost", Frame{Event: EventUserLeft}); !errors.Is(err, ErrTransport) {
		t.Fatalf("expected transport error for unknown connection, got %v", err)
	}

	_, cleanup := dispatcher.Subscribe(context.Background(), "conn-1")
	defer cleanup()
	if err := dispatcher.Publish("conn-1", Frame{Event: EventUserLeft}); err != nil {
		t.Fatalf("unexpected publish error: %v", err)
	}
	if err := dispatcher.Publish("conn-1", Frame{Event: EventUserLeft}); !errors.Is(err, ErrTransport) {
		t.Fatalf("expected transport error for full buffer, got %v", err)
	}
	if err := dispatcher.Publish("conn-1", Frame{}); !errors.Is(err, ErrTransport) {
		t.Fatalf("expected transport error for frame without event, got %v", err)
	}
}

func TestDispatcherCleanupClosesStream(t *testing.T) {
	dispatcher := NewDispatcher(1)
	ctx, cancel := context.WithCancel(context.Background())
	stream, _ := dispatcher.Subscribe(ctx, "conn-1")
	cancel()

	select {
	case _, ok := <-stream:
		if ok {
			t.Fatal("expected closed stream")
		}
	case <-time.After(500 * time.Millisecond):
		t.Fatal("expected stream to close after context cancellation")
	}
	if err := dispatcher.Publish("conn-1", Frame{Event: EventUserTyping}); !errors.Is(err, ErrTransport) {
		t.Fatalf("expected connection to be forgotten, got %v", err)
	}
}
