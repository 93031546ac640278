package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMiddlewareCountsByRouteTemplate(t *testing.T) {
	gin.SetMode(gin.TestMode)
	engine := gin.New()
	engine.Use(Middleware())
	engine.GET("/api/rooms/:code", func(c *gin.Context) {
		c.Status(http.StatusNotFound)
	})

	before := testutil.ToFloat64(httpRequests.WithLabelValues(http.MethodGet, "/api/rooms/:code", "404"))
	for _, code := range []string{"AAAAAA", "BBBBBB"} {
		recorder := httptest.NewRecorder()
		engine.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/api/rooms/"+code, nil))
	}
	after := testutil.ToFloat64(httpRequests.WithLabelValues(http.MethodGet, "/api/rooms/:code", "404"))
	if after-before != 2 {
		t.Fatalf("expected two requests on the route template, got %v", after-before)
	}
}

func TestRealtimeObserverUpdatesCollectors(t *testing.T) {
	observer := NewRealtime()

	beforeEvents := testutil.ToFloat64(realtimeEvents.WithLabelValues("note-update", "ok"))
	observer.ObserveEvent("note-update", "ok")
	if testutil.ToFloat64(realtimeEvents.WithLabelValues("note-update", "ok"))-beforeEvents != 1 {
		t.Fatalf("expected event counter to increment")
	}

	beforeConnections := testutil.ToFloat64(realtimeConnections)
	observer.ConnectionOpened()
	observer.ConnectionOpened()
	observer.ConnectionClosed()
	if testutil.ToFloat64(realtimeConnections)-beforeConnections != 1 {
		t.Fatalf("expected one open connection")
	}

	beforeDropped := testutil.ToFloat64(realtimeDropped)
	observer.FrameDropped()
	if testutil.ToFloat64(realtimeDropped)-beforeDropped != 1 {
		t.Fatalf("expected dropped counter to increment")
	}
}

func TestHandlerExposesCollectors(t *testing.T) {
	NewRealtime().ObserveEvent("chat-message", "ok")
	recorder := httptest.NewRecorder()
	Handler().ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", recorder.Code)
	}
	if !strings.Contains(recorder.Body.String(), "studyroom_realtime_events_total") {
		t.Fatalf("expected realtime collector in exposition")
	}
}
