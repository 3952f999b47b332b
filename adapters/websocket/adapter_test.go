package websocket

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"testing"
	"time"

	gorillaws "github.com/gorilla/websocket"

	"salkit/core"
	"salkit/realtime"
)

func dial(t *testing.T, url string) *gorillaws.Conn {
	t.Helper()
	wsURL := "ws" + url[len("http"):] // convert http->ws
	conn, _, err := gorillaws.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial ws: %v", err)
	}
	return conn
}

func waitSubscribers(t *testing.T, hub *realtime.Hub, n int) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for hub.Subscribers() < n {
		if time.Now().After(deadline) {
			t.Fatalf("subscriber not registered")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestHandlerStreamsEvents(t *testing.T) {
	hub := realtime.NewHub()
	server := httptest.NewServer(Handler(hub, nil))
	defer server.Close()

	conn := dial(t, server.URL)
	defer conn.Close()
	waitSubscribers(t, hub, 1)

	hub.Broadcast(context.Background(), core.NewDispatched("req-9", "upload_score", 3))

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read message: %v", err)
	}

	var received core.Event
	if err := json.Unmarshal(msg, &received); err != nil {
		t.Fatalf("decode event: %v", err)
	}
	if received.RequestID != "req-9" || received.CallID != 3 {
		t.Fatalf("unexpected event: %+v", received)
	}
}

func TestHandlerFiltersByType(t *testing.T) {
	hub := realtime.NewHub()
	server := httptest.NewServer(Handler(hub, nil))
	defer server.Close()

	conn := dial(t, server.URL+"?type=request_failed")
	defer conn.Close()
	waitSubscribers(t, hub, 1)

	hub.Broadcast(context.Background(), core.NewCompleted("req-1", "find_leaderboard", 1, time.Millisecond))
	hub.Broadcast(context.Background(), core.NewFailed("req-2", "find_leaderboard", 2, core.Timeout("find_leaderboard", "slow"), time.Millisecond))

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read message: %v", err)
	}
	var received core.Event
	if err := json.Unmarshal(msg, &received); err != nil {
		t.Fatalf("decode event: %v", err)
	}
	if received.RequestID != "req-2" || received.Kind != core.KindTimeout {
		t.Fatalf("unexpected event: %+v", received)
	}
}

func TestHandlerUnsubscribesOnClose(t *testing.T) {
	hub := realtime.NewHub()
	server := httptest.NewServer(Handler(hub, nil))
	defer server.Close()

	conn := dial(t, server.URL)
	waitSubscribers(t, hub, 1)
	_ = conn.Close()

	deadline := time.Now().Add(time.Second)
	for hub.Subscribers() != 0 {
		if time.Now().After(deadline) {
			t.Fatal("subscription leaked after client close")
		}
		time.Sleep(5 * time.Millisecond)
	}
}
