package analytics

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"salkit/core"
	"salkit/engine"
)

func TestRequestMetrics_OnEvent(t *testing.T) {
	m := NewRequestMetrics()

	m.OnEvent(core.NewDispatched("r1", "upload_score", 1))
	m.OnEvent(core.NewCompleted("r1", "upload_score", 1, 10*time.Millisecond))
	m.OnEvent(core.NewDispatched("r2", "upload_score", 2))
	m.OnEvent(core.NewFailed("r2", "upload_score", 2, core.Transport("upload_score", "io failure"), 30*time.Millisecond))
	m.OnEvent(core.NewDispatched("r3", "get_avatar", 0))
	m.OnEvent(core.NewDiscarded("r3", "get_avatar", 0))
	m.OnEvent(core.NewDispatched("r4", "get_avatar", 0))
	m.OnEvent(core.NewAvatarCacheHit("76561197960287930", core.AvatarSmall))

	snap := m.Snapshot()
	up := snap.Op("upload_score")
	assert.Equal(t, int64(2), up.Dispatched)
	assert.Equal(t, int64(1), up.Completed)
	assert.Equal(t, int64(1), up.Failed)
	assert.Equal(t, int64(1), up.ByKind[core.KindTransport])
	assert.Equal(t, 20*time.Millisecond, up.MeanTime())
	assert.Equal(t, 30*time.Millisecond, up.MaxTime)

	av := snap.Op("get_avatar")
	assert.Equal(t, int64(1), av.Discarded)
	assert.Equal(t, int64(1), snap.CacheHits)
	assert.Equal(t, int64(1), snap.Outstanding)
	assert.Equal(t, int64(1), snap.ByKind[core.KindTransport])

	m.Reset()
	assert.Empty(t, m.Snapshot().Ops)
}

func TestRequestMetrics_FailedStep(t *testing.T) {
	m := NewRequestMetrics()
	err := core.Transport("upload_score_with_ugc", "write failed")
	err.Step = "file_write"
	m.OnEvent(core.NewFailed("r1", "upload_score_with_ugc", 0, err, time.Millisecond))

	assert.Equal(t, int64(1), m.Snapshot().Op("upload_score_with_ugc").FailedStep["file_write"])
}

func TestDailyRequests(t *testing.T) {
	d := NewDailyRequests()
	ev := core.NewDispatched("r1", "find_leaderboard", 1)
	d.OnEvent(ev)
	d.OnEvent(core.NewCompleted("r1", "find_leaderboard", 1, 0))

	assert.Equal(t, int64(1), d.Count(ev.Time.Format("2006-01-02")))
}

func TestAttachToBus(t *testing.T) {
	bus := engine.NewEventBus(engine.DispatchSync)
	m := NewRequestMetrics()
	d := NewDailyRequests()
	unsub := Attach(bus, NewBridge(m, d))

	bus.Publish(context.Background(), core.NewDispatched("r1", "find_leaderboard", 1))
	unsub()
	bus.Publish(context.Background(), core.NewDispatched("r2", "find_leaderboard", 2))

	assert.Equal(t, int64(1), m.Snapshot().Op("find_leaderboard").Dispatched)
}

func TestHTTPExporterBatches(t *testing.T) {
	var posts atomic.Int32
	var got []Snapshot
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		posts.Add(1)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
	}))
	defer srv.Close()

	ex := NewHTTPExporter(srv.URL, "secret", 2)
	m := NewRequestMetrics()
	m.OnEvent(core.NewDispatched("r1", "find_leaderboard", 1))

	require.NoError(t, ex.Export(context.Background(), m.Snapshot()))
	assert.Equal(t, int32(0), posts.Load())
	require.NoError(t, ex.Export(context.Background(), m.Snapshot()))
	assert.Equal(t, int32(1), posts.Load())
	assert.Len(t, got, 2)

	require.NoError(t, ex.Close())
	assert.Equal(t, int32(1), posts.Load())
}

func TestHTTPExporterStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusBadGateway)
	}))
	defer srv.Close()

	ex := NewHTTPExporter(srv.URL, "", 1)
	err := ex.Export(context.Background(), NewRequestMetrics().Snapshot())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
}

func TestMultiAndLogExporter(t *testing.T) {
	ex := NewMultiExporter(NewLogExporter(nil), NewLogExporter(nil))
	m := NewRequestMetrics()
	m.OnEvent(core.NewDispatched("r1", "find_leaderboard", 1))

	assert.NoError(t, ex.Export(context.Background(), m.Snapshot()))
	assert.NoError(t, ex.Flush(context.Background()))
	assert.NoError(t, ex.Close())
}

func TestReportStopsOnCancel(t *testing.T) {
	var posts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		posts.Add(1)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		Report(ctx, NewRequestMetrics(), NewHTTPExporter(srv.URL, "", 100), 5*time.Millisecond, nil)
		close(done)
	}()
	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("report did not stop")
	}
	assert.Equal(t, int32(1), posts.Load())
}
