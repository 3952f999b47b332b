package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"runtime"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"salkit/config"
	"salkit/core"
	"salkit/engine"
)

func buildTestApp(t *testing.T) *App {
	t.Helper()
	app, cleanup, err := BuildApp(context.Background(), Flags{Profile: "testing"})
	require.NoError(t, err)
	t.Cleanup(cleanup)
	return app
}

func createBoard(t *testing.T, h http.Handler, name string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/leaderboards", strings.NewReader(`{"name":"`+name+`"}`))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestBuildAppServesRequests(t *testing.T) {
	app := buildTestApp(t)
	assert.Equal(t, engine.DeliverQueued, app.Client.Runtime().Mode())
	assert.Nil(t, app.Webhooks)
	assert.Nil(t, app.Reporter)

	rec := createBoard(t, app.Handler, "Feet Traveled")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), `"name":"Feet Traveled"`)
}

func TestAvatarCacheSurvivesGC(t *testing.T) {
	app := buildTestApp(t)
	require.True(t, app.Config.Client.AvatarCacheRetain)

	var hits atomic.Int32
	unsub := app.Client.Runtime().Bus().Subscribe(core.EventAvatarCacheHit, func(context.Context, core.Event) { hits.Add(1) })
	defer unsub()

	fetch := func() {
		req := httptest.NewRequest(http.MethodGet, "/api/avatars/"+app.Config.Platform.LocalUser+"?size=small", nil)
		rec := httptest.NewRecorder()
		app.Handler.ServeHTTP(rec, req)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))
	}
	fetch()
	runtime.GC()
	runtime.GC()
	fetch()

	assert.Eventually(t, func() bool { return hits.Load() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, app.Client.Avatars().Len())
}

func TestManualDeliveryIsPumped(t *testing.T) {
	t.Setenv("SALKIT_CLIENT_DELIVERY_MODE", "manual")
	app := buildTestApp(t)
	require.Equal(t, engine.DeliverManual, app.Client.Runtime().Mode())

	rec := createBoard(t, app.Handler, "Pumped")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func TestWebhooksReceiveLifecycleEvents(t *testing.T) {
	var got atomic.Int32
	hook := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var e core.Event
		if json.NewDecoder(r.Body).Decode(&e) == nil && e.Type == core.EventRequestCompleted {
			got.Add(1)
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer hook.Close()
	t.Setenv("SALKIT_WEBHOOK_ENDPOINTS", hook.URL)
	t.Setenv("SALKIT_WEBHOOK_TYPES", string(core.EventRequestCompleted))

	app := buildTestApp(t)
	require.NotNil(t, app.Webhooks)
	require.Equal(t, http.StatusOK, createBoard(t, app.Handler, "Hooked").Code)

	assert.Eventually(t, func() bool { return got.Load() == 1 }, time.Second, 10*time.Millisecond)
}

func TestMetricsReporterLogsSnapshots(t *testing.T) {
	t.Setenv("SALKIT_METRICS_ENABLED", "true")
	t.Setenv("SALKIT_METRICS_LOG_SNAPSHOTS", "true")
	t.Setenv("SALKIT_METRICS_INTERVAL", "10ms")
	app := buildTestApp(t)
	require.NotNil(t, app.Reporter)

	require.Equal(t, http.StatusOK, createBoard(t, app.Handler, "Measured").Code)
	req := httptest.NewRequest(http.MethodGet, "/api/metrics", nil)
	rec := httptest.NewRecorder()
	app.Handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "create_leaderboard")
}

func TestSetupStorage(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Storage.Adapter = "file"
	cfg.Storage.File.Path = filepath.Join(t.TempDir(), "salkit.json")
	s, cleanup, err := setupStorage(context.Background(), cfg)
	require.NoError(t, err)
	require.NotNil(t, s)
	cleanup()

	cfg.Storage.Adapter = "tape"
	_, _, err = setupStorage(context.Background(), cfg)
	assert.Error(t, err)
}

func TestPumpFramesDrainsQueue(t *testing.T) {
	rt := engine.NewRuntime(engine.WithDeliveryMode(engine.DeliverManual))
	defer rt.Close()

	var ran atomic.Bool
	rt.Loop().Post(func() { ran.Store(true) })
	stop := pumpFrames(rt, time.Millisecond)
	assert.Eventually(t, ran.Load, time.Second, time.Millisecond)
	stop()
}

func TestParseLogLevel(t *testing.T) {
	assert.Equal(t, "DEBUG", parseLogLevel("debug").String())
	assert.Equal(t, "INFO", parseLogLevel("bogus").String())
}
