package subscription

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/workbench/server/internal/logbus"
)

// testUserID is the caller identity every test dial is treated as, paired
// with an OwnershipCheck that only allows "app-1" — enough to exercise both
// the happy join path and the ownership rejection path.
const testUserID = int64(42)

func allowOnlyApp1(userID int64, workspaceID string) bool {
	return userID == testUserID && workspaceID == "app-1"
}

func newTestFabricServer(fabric *Fabric) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fabric.ServeHTTP(w, r, testUserID)
	}))
}

func TestJoinAppReceivesPublishedLogs(t *testing.T) {
	bus := logbus.New(32, 0)
	fabric := New(bus, []string{"*"}, 0, 0, allowOnlyApp1)

	srv := newTestFabricServer(fabric)
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	join, _ := json.Marshal(map[string]string{"event": "join-app", "workspaceId": "app-1"})
	if err := conn.WriteMessage(websocket.TextMessage, join); err != nil {
		t.Fatalf("write join: %v", err)
	}

	// Give the server a moment to process the join before publishing, since
	// join registers the subscriber asynchronously relative to this test.
	time.Sleep(50 * time.Millisecond)
	bus.Publish("app-1", logbus.Line{Stream: "stdout", Text: "hello", Timestamp: time.Now()})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}

	var frame outboundLog
	if err := json.Unmarshal(data, &frame); err != nil {
		t.Fatalf("unmarshal frame: %v", err)
	}
	if frame.Event != "terminal:log" {
		t.Errorf("expected event terminal:log, got %q", frame.Event)
	}
	if frame.Data.AppID != "app-1" || frame.Data.Message != "hello" {
		t.Errorf("unexpected frame data: %+v", frame.Data)
	}
}

func TestLeaveAppStopsForwarding(t *testing.T) {
	bus := logbus.New(32, 0)
	fabric := New(bus, []string{"*"}, 0, 0, allowOnlyApp1)

	srv := newTestFabricServer(fabric)
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	join, _ := json.Marshal(map[string]string{"event": "join-app", "workspaceId": "app-1"})
	_ = conn.WriteMessage(websocket.TextMessage, join)
	time.Sleep(50 * time.Millisecond)

	leave, _ := json.Marshal(map[string]string{"event": "leave-app", "workspaceId": "app-1"})
	_ = conn.WriteMessage(websocket.TextMessage, leave)
	time.Sleep(50 * time.Millisecond)

	bus.Publish("app-1", logbus.Line{Stream: "stdout", Text: "should not arrive", Timestamp: time.Now()})

	conn.SetReadDeadline(time.Now().Add(300 * time.Millisecond))
	_, _, err = conn.ReadMessage()
	if err == nil {
		t.Fatal("expected no message after leave-app, but one arrived")
	}
}

func TestJoinAppRejectsUnownedWorkspace(t *testing.T) {
	bus := logbus.New(32, 0)
	fabric := New(bus, []string{"*"}, 0, 0, allowOnlyApp1)

	srv := newTestFabricServer(fabric)
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	join, _ := json.Marshal(map[string]string{"event": "join-app", "workspaceId": "someone-elses-app"})
	if err := conn.WriteMessage(websocket.TextMessage, join); err != nil {
		t.Fatalf("write join: %v", err)
	}
	time.Sleep(50 * time.Millisecond)

	bus.Publish("someone-elses-app", logbus.Line{Stream: "stdout", Text: "should not arrive", Timestamp: time.Now()})

	conn.SetReadDeadline(time.Now().Add(300 * time.Millisecond))
	_, _, err = conn.ReadMessage()
	if err == nil {
		t.Fatal("expected no message for a workspace the caller doesn't own")
	}
}

func TestNewDefaultsToDenyAllWithoutOwnershipCheck(t *testing.T) {
	bus := logbus.New(32, 0)
	fabric := New(bus, []string{"*"}, 0, 0, nil)

	srv := newTestFabricServer(fabric)
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	join, _ := json.Marshal(map[string]string{"event": "join-app", "workspaceId": "app-1"})
	_ = conn.WriteMessage(websocket.TextMessage, join)
	time.Sleep(50 * time.Millisecond)

	bus.Publish("app-1", logbus.Line{Stream: "stdout", Text: "should not arrive", Timestamp: time.Now()})

	conn.SetReadDeadline(time.Now().Add(300 * time.Millisecond))
	_, _, err = conn.ReadMessage()
	if err == nil {
		t.Fatal("expected nil OwnershipCheck to fail closed")
	}
}
