package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"image/png"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	gorillaws "github.com/gorilla/websocket"

	mem "salkit/adapters/memory"
	"salkit/analytics"
	"salkit/core"
	"salkit/engine"
	"salkit/platform/sim"
	"salkit/realtime"
	"salkit/sal"
)

const friend = "76561197960287931"

type fixture struct {
	client  *sal.Client
	sim     *sim.Platform
	hub     *realtime.Hub
	metrics *analytics.RequestMetrics
	handler http.Handler
}

func newFixture(t *testing.T, opts Options) *fixture {
	t.Helper()
	p := sim.New(mem.New(), sim.Config{
		AvatarReadyAfter: 1,
		Friends:          []core.SubjectID{friend},
		Personas:         map[core.SubjectID]string{friend: "Robin"},
		Achievements:     []sim.AchievementDef{{APIName: "ACH_WIN_ONE_GAME", DisplayName: "Winner", Description: "Win a game"}},
	})
	t.Cleanup(p.Close)
	hub := realtime.NewHub()
	c, err := sal.New(
		sal.WithServices(p.Services()),
		sal.WithPollConfig(engine.PollConfig{Interval: 5 * time.Millisecond, MaxAttempts: 20}),
		sal.WithRealtime(hub),
	)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	t.Cleanup(c.Close)
	m := analytics.NewRequestMetrics()
	t.Cleanup(analytics.Attach(c.Runtime().Bus(), m))
	if opts.PathPrefix == "" {
		opts.PathPrefix = "/api"
	}
	opts.Metrics = m
	return &fixture{client: c, sim: p, hub: hub, metrics: m, handler: NewMux(c, hub, opts)}
}

func (f *fixture) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rd *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		rd = bytes.NewReader(b)
	} else {
		rd = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, rd)
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return v
}

func (f *fixture) createBoard(t *testing.T, name string) LeaderboardInfo {
	t.Helper()
	rec := f.do(t, http.MethodPost, "/api/leaderboards", CreateLeaderboardRequest{Name: name, Sort: "descending"})
	if rec.Code != http.StatusOK {
		t.Fatalf("create leaderboard: %d %s", rec.Code, rec.Body.String())
	}
	return decode[LeaderboardInfo](t, rec)
}

func TestLeaderboardFlow(t *testing.T) {
	f := newFixture(t, Options{})
	info := f.createBoard(t, "Feet Traveled")
	if !info.Handle.Valid() || info.Sort != "descending" {
		t.Fatalf("unexpected info: %+v", info)
	}

	rec := f.do(t, http.MethodGet, "/api/leaderboards/by-name/Feet%20Traveled", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("find: %d %s", rec.Code, rec.Body.String())
	}
	if got := decode[LeaderboardInfo](t, rec); got.Handle != info.Handle {
		t.Fatalf("find returned %d, want %d", got.Handle, info.Handle)
	}

	path := "/api/leaderboards/" + itoa(info.Handle)
	rec = f.do(t, http.MethodPost, path+"/scores", ScoreRequest{Score: 42, Details: []int32{1, 2}})
	if rec.Code != http.StatusOK {
		t.Fatalf("upload: %d %s", rec.Code, rec.Body.String())
	}
	up := decode[core.UploadResult](t, rec)
	if !up.ScoreChanged || up.RankNew != 1 {
		t.Fatalf("unexpected upload result: %+v", up)
	}

	rec = f.do(t, http.MethodGet, path+"/entries?type=global&start=1&end=5&details=2", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("entries: %d %s", rec.Code, rec.Body.String())
	}
	entries := decode[EntriesResponse](t, rec)
	if len(entries.Entries) != 1 || entries.Entries[0].Score != 42 || len(entries.Entries[0].Details) != 2 {
		t.Fatalf("unexpected entries: %+v", entries)
	}

	rec = f.do(t, http.MethodGet, path, nil)
	if got := decode[LeaderboardInfo](t, rec); got.EntryCount != 1 {
		t.Fatalf("expected 1 entry, got %+v", got)
	}

	snap := f.metrics.Snapshot()
	if snap.Op(sal.OpUploadScore).Completed != 1 {
		t.Fatalf("metrics did not see upload: %+v", snap.Op(sal.OpUploadScore))
	}
}

func itoa(h core.LeaderboardHandle) string {
	b, _ := json.Marshal(h)
	return string(b)
}

func TestFailureStatusCodes(t *testing.T) {
	f := newFixture(t, Options{})
	info := f.createBoard(t, "Kills")
	path := "/api/leaderboards/" + itoa(info.Handle)

	tests := []struct {
		name   string
		setup  func()
		method string
		path   string
		body   any
		status int
		code   string
	}{
		{name: "bad handle", method: http.MethodGet, path: "/api/leaderboards/abc/entries", status: http.StatusBadRequest, code: "invalid_handle"},
		{name: "zero handle", method: http.MethodPost, path: "/api/leaderboards/0/scores", body: ScoreRequest{Score: 1}, status: http.StatusBadRequest, code: string(core.KindValidation)},
		{name: "inverted range", method: http.MethodGet, path: path + "/entries?start=5&end=1", status: http.StatusBadRequest, code: string(core.KindValidation)},
		{name: "empty user list", method: http.MethodPost, path: path + "/entries/users", body: UsersRequest{}, status: http.StatusBadRequest, code: string(core.KindValidation)},
		{name: "unknown leaderboard", method: http.MethodGet, path: "/api/leaderboards/by-name/missing", status: http.StatusUnprocessableEntity, code: string(core.KindLogical)},
		{name: "rejected dispatch", setup: func() { f.sim.Faults().Once(sim.CallUploadScore, sim.FaultInvalidCall) }, method: http.MethodPost, path: path + "/scores", body: ScoreRequest{Score: 1}, status: http.StatusBadGateway, code: string(core.KindRejected)},
		{name: "transport failure", setup: func() { f.sim.Faults().Once(sim.CallUploadScore, sim.FaultIOFailure) }, method: http.MethodPost, path: path + "/scores", body: ScoreRequest{Score: 1}, status: http.StatusBadGateway, code: string(core.KindTransport)},
		{name: "unknown body field", method: http.MethodPost, path: path + "/scores", body: map[string]any{"points": 1}, status: http.StatusBadRequest, code: "invalid_body"},
		{name: "unknown route", method: http.MethodGet, path: "/api/nope", status: http.StatusNotFound, code: "not_found"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.setup != nil {
				tt.setup()
			}
			rec := f.do(t, tt.method, tt.path, tt.body)
			if rec.Code != tt.status {
				t.Fatalf("expected %d, got %d: %s", tt.status, rec.Code, rec.Body.String())
			}
			if got := decode[apiError](t, rec); got.Code != tt.code {
				t.Fatalf("expected code %q, got %q", tt.code, got.Code)
			}
		})
	}
}

func TestUploadScoreWithUGCAndDownload(t *testing.T) {
	f := newFixture(t, Options{})
	info := f.createBoard(t, "Replays")

	rec := f.do(t, http.MethodPost, "/api/leaderboards/"+itoa(info.Handle)+"/ugc-scores", UGCScoreRequest{Score: 7, File: "replay.bin", Data: []byte("replay-data")})
	if rec.Code != http.StatusOK {
		t.Fatalf("ugc upload: %d %s", rec.Code, rec.Body.String())
	}
	up := decode[core.UGCUpload](t, rec)
	if up.Score != 7 || !up.Handle.Valid() {
		t.Fatalf("unexpected upload: %+v", up)
	}

	b, _ := json.Marshal(up.Handle)
	rec = f.do(t, http.MethodGet, "/api/ugc/"+string(b)+"?max_bytes=6", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("ugc download: %d %s", rec.Code, rec.Body.String())
	}
	if rec.Body.String() != "replay" {
		t.Fatalf("unexpected body %q", rec.Body.String())
	}
}

func TestUGCStepFailureReportsStep(t *testing.T) {
	f := newFixture(t, Options{})
	info := f.createBoard(t, "Replays")
	f.sim.Faults().Once(sim.CallFileShare, sim.FaultIOFailure)

	rec := f.do(t, http.MethodPost, "/api/leaderboards/"+itoa(info.Handle)+"/ugc-scores", UGCScoreRequest{Score: 7, File: "replay.bin", Data: []byte("x")})
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d: %s", rec.Code, rec.Body.String())
	}
	var body struct {
		Details failureDetails `json:"details"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Details.Step != sal.StepFileShare || len(body.Details.Completed) != 1 || body.Details.Completed[0] != sal.StepFileWrite {
		t.Fatalf("unexpected details: %+v", body.Details)
	}
}

func TestStatsAndAchievements(t *testing.T) {
	f := newFixture(t, Options{})

	if rec := f.do(t, http.MethodPost, "/api/stats/refresh", nil); rec.Code != http.StatusOK {
		t.Fatalf("refresh: %d %s", rec.Code, rec.Body.String())
	}
	if rec := f.do(t, http.MethodPut, "/api/stats/NumGames", StatWriteRequest{Type: "integer", Integer: 3}); rec.Code != http.StatusOK {
		t.Fatalf("set stat: %d %s", rec.Code, rec.Body.String())
	}
	rec := f.do(t, http.MethodPost, "/api/stats/NumGames/add", AddStatRequest{Type: "integer", Delta: 2})
	if got := decode[map[string]float64](t, rec); got["value"] != 5 {
		t.Fatalf("unexpected add result: %v", got)
	}
	rec = f.do(t, http.MethodGet, "/api/stats/NumGames?type=integer", nil)
	if got := decode[core.StoredStat](t, rec); got.Integer != 5 || !got.Succeeded {
		t.Fatalf("unexpected stat: %+v", got)
	}
	rec = f.do(t, http.MethodPost, "/api/stats/query", []core.StatQuery{{APIName: "NumGames", FriendlyName: "Games"}, {APIName: "Missing"}})
	q := decode[StatQueryResponse](t, rec)
	if q.Succeeded || len(q.Stats) != 2 || q.Stats[0].FriendlyName != "Games" {
		t.Fatalf("unexpected query: %+v", q)
	}

	if rec := f.do(t, http.MethodPost, "/api/achievements/ACH_WIN_ONE_GAME", nil); rec.Code != http.StatusOK {
		t.Fatalf("set achievement: %d %s", rec.Code, rec.Body.String())
	}
	rec = f.do(t, http.MethodGet, "/api/achievements", nil)
	list := decode[[]Achievement](t, rec)
	if len(list) != 1 || !list[0].Unlocked || list[0].DisplayName != "Winner" {
		t.Fatalf("unexpected achievements: %+v", list)
	}
	if rec := f.do(t, http.MethodPost, "/api/stats/store", nil); rec.Code != http.StatusOK {
		t.Fatalf("store: %d %s", rec.Code, rec.Body.String())
	}
	if rec := f.do(t, http.MethodGet, "/api/achievements/ACH_NOPE", nil); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestAvatarPNG(t *testing.T) {
	f := newFixture(t, Options{})
	rec := f.do(t, http.MethodGet, "/api/avatars/"+friend+"?size=small", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("avatar: %d %s", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); ct != "image/png" {
		t.Fatalf("unexpected content type %q", ct)
	}
	img, err := png.Decode(rec.Body)
	if err != nil {
		t.Fatalf("decode png: %v", err)
	}
	if img.Bounds().Dx() != 32 {
		t.Fatalf("unexpected width %d", img.Bounds().Dx())
	}

	if rec := f.do(t, http.MethodGet, "/api/avatars/not-a-number", nil); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestAvatarTimeout(t *testing.T) {
	f := newFixture(t, Options{})
	f.sim.Faults().Set(sim.CallAvatarHandle, sim.FaultNotReady)

	rec := f.do(t, http.MethodGet, "/api/avatars/"+friend, nil)
	if rec.Code != http.StatusGatewayTimeout {
		t.Fatalf("expected 504, got %d: %s", rec.Code, rec.Body.String())
	}
	if got := decode[apiError](t, rec); got.Code != string(core.KindTimeout) {
		t.Fatalf("unexpected code %q", got.Code)
	}
}

func TestRequestTimeoutDiscards(t *testing.T) {
	f := newFixture(t, Options{RequestTimeout: 20 * time.Millisecond})
	f.sim.Faults().Set(sim.CallAvatarHandle, sim.FaultNotReady)

	rec := f.do(t, http.MethodGet, "/api/avatars/"+friend, nil)
	if rec.Code != http.StatusGatewayTimeout {
		t.Fatalf("expected 504, got %d: %s", rec.Code, rec.Body.String())
	}
	if got := decode[apiError](t, rec); got.Code != "request_timeout" {
		t.Fatalf("unexpected code %q", got.Code)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := f.client.Runtime().Wait(ctx); err != nil {
		t.Fatalf("in-flight request not torn down: %v", err)
	}
	if f.metrics.Snapshot().Op(sal.OpGetAvatar).Discarded != 1 {
		t.Fatalf("expected discarded avatar request")
	}
}

func TestHealthz(t *testing.T) {
	f := newFixture(t, Options{APIKeys: []string{"k"}})
	rec := f.do(t, http.MethodGet, "/api/healthz", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 without key, got %d", rec.Code)
	}

	f.sim.SetLoggedOn(false)
	rec = f.do(t, http.MethodGet, "/api/healthz", nil)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
}

func TestAPIKeyAuth(t *testing.T) {
	f := newFixture(t, Options{APIKeys: []string{"secret"}})

	rec := f.do(t, http.MethodGet, "/api/achievements", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/metrics", nil)
	req.Header.Set("Authorization", "Bearer secret")
	rr := httptest.NewRecorder()
	f.handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
}

func TestRateLimit(t *testing.T) {
	f := newFixture(t, Options{RateLimitEnabled: true, RateLimitRPM: 1, RateLimitBurst: 2})
	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		codes = append(codes, f.do(t, http.MethodGet, "/api/metrics", nil).Code)
	}
	if codes[0] != http.StatusOK || codes[1] != http.StatusOK || codes[2] != http.StatusTooManyRequests {
		t.Fatalf("unexpected status codes %v", codes)
	}
}

func TestCORSPreflight(t *testing.T) {
	f := newFixture(t, Options{AllowCORSOrigin: "https://game.example"})
	rec := f.do(t, http.MethodOptions, "/api/leaderboards", nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "https://game.example" {
		t.Fatalf("unexpected origin %q", got)
	}
}

func TestWebSocketStreamsLifecycleEvents(t *testing.T) {
	f := newFixture(t, Options{})
	srv := httptest.NewServer(f.handler)
	defer srv.Close()

	conn, _, err := gorillaws.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/api/ws?type=request_completed", nil)
	if err != nil {
		t.Fatalf("dial ws: %v", err)
	}
	defer conn.Close()
	deadline := time.Now().Add(time.Second)
	for f.hub.Subscribers() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("websocket never subscribed")
		}
		time.Sleep(5 * time.Millisecond)
	}

	f.createBoard(t, "Streamed")

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var ev core.Event
	if err := json.Unmarshal(msg, &ev); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if ev.Type != core.EventRequestCompleted || ev.Op != sal.OpCreateLeaderboard {
		t.Fatalf("unexpected event: %+v", ev)
	}
}
