package sdk

import (
	"bytes"
	"context"
	"errors"
	"image/png"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	mem "salkit/adapters/memory"
	"salkit/analytics"
	"salkit/api/httpapi"
	"salkit/core"
	"salkit/engine"
	"salkit/platform/sim"
	"salkit/realtime"
	"salkit/sal"
)

const friend = "76561197960287931"

// newTestServer runs the real API over a simulated platform.
func newTestServer(t *testing.T, opts httpapi.Options) (*httptest.Server, *sim.Platform) {
	t.Helper()
	p := sim.New(mem.New(), sim.Config{
		AvatarReadyAfter: 1,
		Friends:          []core.SubjectID{friend},
		Achievements:     []sim.AchievementDef{{APIName: "ACH_WIN_ONE_GAME", DisplayName: "Winner"}},
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
	opts.PathPrefix = "/api"
	opts.Metrics = m
	srv := httptest.NewServer(httpapi.NewMux(c, hub, opts))
	t.Cleanup(srv.Close)
	return srv, p
}

func newTestClient(t *testing.T, srv *httptest.Server, opts ...Option) *Client {
	t.Helper()
	client, err := NewClient(srv.URL+"/api", opts...)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return client
}

func TestClient_HealthAndLeaderboards(t *testing.T) {
	srv, _ := newTestServer(t, httpapi.Options{})
	client := newTestClient(t, srv)
	ctx := context.Background()

	hs, err := client.Health(ctx)
	if err != nil {
		t.Fatalf("health: %v", err)
	}
	if hs.Status != "healthy" {
		t.Fatalf("unexpected health status: %s", hs.Status)
	}

	board, err := client.CreateLeaderboard(ctx, "Feet Traveled", "", "")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	found, err := client.FindLeaderboard(ctx, "Feet Traveled")
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if found.Handle != board.Handle || found.Sort != "descending" {
		t.Fatalf("unexpected leaderboard: %+v", found)
	}

	res, err := client.UploadScore(ctx, board.Handle, Score{Score: 42, Details: []int32{7}})
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	if !res.ScoreChanged || res.RankNew != 1 {
		t.Fatalf("unexpected upload result: %+v", res)
	}
	rows, err := client.Entries(ctx, board.Handle, EntriesQuery{Details: 1})
	if err != nil {
		t.Fatalf("entries: %v", err)
	}
	if len(rows) != 1 || rows[0].Score != 42 || len(rows[0].Details) != 1 {
		t.Fatalf("unexpected rows: %+v", rows)
	}
	info, err := client.Leaderboard(ctx, board.Handle)
	if err != nil {
		t.Fatalf("info: %v", err)
	}
	if info.EntryCount != 1 {
		t.Fatalf("expected one entry, got %d", info.EntryCount)
	}
}

func TestClient_UGCRoundTrip(t *testing.T) {
	srv, _ := newTestServer(t, httpapi.Options{})
	client := newTestClient(t, srv)
	ctx := context.Background()

	board, err := client.CreateLeaderboard(ctx, "Replays", "ascending", "time_seconds")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	up, err := client.UploadScoreWithUGC(ctx, board.Handle, UGCScore{Score: 90, File: "run.dat", Data: []byte("replay-data")})
	if err != nil {
		t.Fatalf("upload ugc: %v", err)
	}
	data, size, err := client.DownloadUGC(ctx, up.Handle, 0)
	if err != nil {
		t.Fatalf("download: %v", err)
	}
	if !bytes.Equal(data, []byte("replay-data")) || size != len("replay-data") {
		t.Fatalf("unexpected download: %q size=%d", data, size)
	}
	data, _, err = client.DownloadUGC(ctx, up.Handle, 6)
	if err != nil {
		t.Fatalf("truncated download: %v", err)
	}
	if string(data) != "replay" {
		t.Fatalf("unexpected truncated data: %q", data)
	}
}

func TestClient_APIError(t *testing.T) {
	srv, p := newTestServer(t, httpapi.Options{})
	client := newTestClient(t, srv)
	ctx := context.Background()

	board, err := client.CreateLeaderboard(ctx, "Faulty", "", "")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	p.Faults().Once(sim.CallUploadScore, sim.FaultIOFailure)
	_, err = client.UploadScore(ctx, board.Handle, Score{Score: 1})
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.Status != http.StatusBadGateway || apiErr.Kind() != core.KindTransport {
		t.Fatalf("unexpected api error: %+v", apiErr)
	}

	if _, err := client.FindLeaderboard(ctx, " "); !errors.Is(err, ErrEmptyName) {
		t.Fatalf("expected ErrEmptyName, got %v", err)
	}
	if _, err := client.Avatar(ctx, "", ""); !errors.Is(err, ErrEmptySubject) {
		t.Fatalf("expected ErrEmptySubject, got %v", err)
	}
}

func TestClient_StatsAndAchievements(t *testing.T) {
	srv, _ := newTestServer(t, httpapi.Options{})
	client := newTestClient(t, srv)
	ctx := context.Background()

	if err := client.RefreshStats(ctx); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if err := client.SetStat(ctx, "NumGames", StatWrite{Type: "integer", Integer: 2}); err != nil {
		t.Fatalf("set stat: %v", err)
	}
	v, err := client.AddStat(ctx, "NumGames", "integer", 3)
	if err != nil {
		t.Fatalf("add stat: %v", err)
	}
	if v != 5 {
		t.Fatalf("expected 5, got %v", v)
	}
	st, err := client.Stat(ctx, "NumGames", "integer")
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if st.Integer != 5 {
		t.Fatalf("unexpected stat: %+v", st)
	}
	q, err := client.QueryStats(ctx, []core.StatQuery{{APIName: "NumGames", Type: core.StatInteger}})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if !q.Succeeded || len(q.Stats) != 1 {
		t.Fatalf("unexpected query result: %+v", q)
	}

	if err := client.SetAchievement(ctx, "ACH_WIN_ONE_GAME"); err != nil {
		t.Fatalf("set achievement: %v", err)
	}
	ach, err := client.Achievement(ctx, "ACH_WIN_ONE_GAME")
	if err != nil {
		t.Fatalf("achievement: %v", err)
	}
	if !ach.Unlocked || ach.DisplayName != "Winner" {
		t.Fatalf("unexpected achievement: %+v", ach)
	}
	if err := client.StoreStats(ctx); err != nil {
		t.Fatalf("store: %v", err)
	}
}

func TestClient_AvatarAndMetrics(t *testing.T) {
	srv, _ := newTestServer(t, httpapi.Options{})
	client := newTestClient(t, srv)
	ctx := context.Background()

	b, err := client.Avatar(ctx, friend, "small")
	if err != nil {
		t.Fatalf("avatar: %v", err)
	}
	img, err := png.Decode(bytes.NewReader(b))
	if err != nil {
		t.Fatalf("decode png: %v", err)
	}
	if img.Bounds().Dx() != 32 {
		t.Fatalf("unexpected avatar width %d", img.Bounds().Dx())
	}

	// The completion event is published right after the handle settles.
	deadline := time.Now().Add(time.Second)
	for {
		snap, err := client.Metrics(ctx)
		if err != nil {
			t.Fatalf("metrics: %v", err)
		}
		if snap.Op(sal.OpGetAvatar).Completed == 1 {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("expected one completed avatar request, got %+v", snap.Op(sal.OpGetAvatar))
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestClient_APIKey(t *testing.T) {
	srv, _ := newTestServer(t, httpapi.Options{APIKeys: []string{"secret"}})
	ctx := context.Background()

	if _, err := newTestClient(t, srv).Achievements(ctx); err == nil {
		t.Fatal("expected unauthorized error")
	}
	if _, err := newTestClient(t, srv, WithAPIKey("secret")).Achievements(ctx); err != nil {
		t.Fatalf("authorized call: %v", err)
	}
}

func TestClient_SubscribeEvents(t *testing.T) {
	srv, _ := newTestServer(t, httpapi.Options{})
	client := newTestClient(t, srv)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	events, err := client.SubscribeEvents(ctx, core.EventRequestCompleted)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	// The hub registers the subscriber after the upgrade; retry until an event lands.
	for {
		if _, err := client.CreateLeaderboard(ctx, "Streamed", "", ""); err != nil {
			t.Fatalf("create: %v", err)
		}
		select {
		case evt := <-events:
			if evt.Type != core.EventRequestCompleted || evt.Op != sal.OpCreateLeaderboard {
				t.Fatalf("unexpected event: %+v", evt)
			}
			return
		case <-time.After(50 * time.Millisecond):
		case <-ctx.Done():
			t.Fatal("timed out waiting for event")
		}
	}
}

func TestDeriveWSURL(t *testing.T) {
	cases := map[string]string{
		"http://localhost:8080/api": "ws://localhost:8080/api/ws",
		"https://example.com":       "wss://example.com/ws",
	}
	for in, want := range cases {
		if got := deriveWSURL(in); got != want {
			t.Fatalf("deriveWSURL(%q) = %q, want %q", in, got, want)
		}
	}
}
