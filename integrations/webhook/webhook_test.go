package webhook

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"salkit/core"
)

func TestSink_OnEventPostsToEndpoints(t *testing.T) {
	var hits int32
	var got core.Event
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		_ = json.NewDecoder(r.Body).Decode(&got)
		_ = r.Body.Close()
	}))
	defer srv.Close()

	sink := New([]string{srv.URL, srv.URL})
	sink.OnEvent(core.NewCompleted("req-1", "upload_score", 4, time.Millisecond))

	if atomic.LoadInt32(&hits) != 2 {
		t.Fatalf("expected 2 hits, got %d", hits)
	}
	if got.Op != "upload_score" || got.Type != core.EventRequestCompleted {
		t.Fatalf("unexpected payload: %+v", got)
	}
}

func TestSink_TypeFilter(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
	}))
	defer srv.Close()

	sink := New([]string{srv.URL}, WithTypes(core.EventRequestFailed))
	sink.Handle(context.Background(), core.NewDispatched("req-1", "upload_score", 1))
	sink.Handle(context.Background(), core.NewFailed("req-1", "upload_score", 1, core.Transport("upload_score", "io"), 0))

	if atomic.LoadInt32(&hits) != 1 {
		t.Fatalf("expected 1 hit, got %d", hits)
	}
}

func TestSink_EndpointErrorDoesNotStopOthers(t *testing.T) {
	var hits int32
	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer bad.Close()
	good := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
	}))
	defer good.Close()

	sink := New([]string{bad.URL, "http://127.0.0.1:0", good.URL}, WithClient(&http.Client{Timeout: time.Second}))
	sink.OnEvent(core.NewDiscarded("req-2", "get_avatar", 0))

	if atomic.LoadInt32(&hits) != 1 {
		t.Fatalf("expected good endpoint hit once, got %d", hits)
	}
}
