// Command salkit-demo drives the binding layer the way a game does: requests
// are issued from a scene, and completions are delivered once per frame.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"time"

	mem "salkit/adapters/memory"
	"salkit/core"
	"salkit/engine"
	"salkit/imaging"
	"salkit/platform/sim"
	"salkit/sal"
)

const friend core.SubjectID = "76561197960287931"

func main() {
	textHandler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})
	slog.SetDefault(slog.New(textHandler))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := runDemo(ctx, os.Stdout, 16*time.Millisecond); err != nil {
		slog.Error("demo failed", "error", err)
		os.Exit(1)
	}
}

// scene is the demo's owner object. Destroying it discards its requests.
type scene struct {
	c    *sal.Client
	life *engine.Lifetime
	out  io.Writer
	done chan error
}

func runDemo(ctx context.Context, out io.Writer, frame time.Duration) error {
	p := sim.New(mem.New(), sim.Config{
		Latency:          5 * time.Millisecond,
		AvatarReadyAfter: 3,
		Friends:          []core.SubjectID{friend},
		Personas:         map[core.SubjectID]string{friend: "Robin"},
	})
	defer p.Close()

	c, err := sal.New(
		sal.WithServices(p.Services()),
		sal.WithDeliveryMode(engine.DeliverManual),
		sal.WithPollConfig(engine.PollConfig{Interval: frame, MaxAttempts: 30}),
	)
	if err != nil {
		return err
	}
	defer c.Close()

	s := &scene{c: c, life: engine.NewLifetime(), out: out, done: make(chan error, 1)}
	s.start()

	// A second scene that goes away before its avatar arrives.
	doomed := engine.NewLifetime()
	c.GetAvatar(engine.Ref(doomed), string(friend), core.AvatarLarge, sal.Callbacks[*imaging.Texture]{
		OnSuccess: func(*imaging.Texture) { fmt.Fprintln(out, "unexpected: doomed avatar delivered") },
	})
	doomed.Destroy()

	tick := time.NewTicker(frame)
	defer tick.Stop()
	frames := 0
	for {
		select {
		case <-ctx.Done():
			s.life.Destroy()
			return ctx.Err()
		case err := <-s.done:
			s.life.Destroy()
			c.Runtime().Drain()
			fmt.Fprintf(out, "finished after %d frames, %d requests in flight\n", frames, c.Runtime().InFlight())
			return err
		case <-tick.C:
			frames++
			c.Runtime().Drain()
		}
	}
}

func (s *scene) owner() engine.OwnerRef { return engine.Ref(s.life) }

func (s *scene) fail(e *core.Error) { s.done <- e }

func (s *scene) start() {
	s.c.CreateLeaderboard(s.owner(), "Feet Traveled", core.SortDescending, core.DisplayNumeric, sal.Callbacks[core.LeaderboardHandle]{
		OnSuccess: s.upload,
		OnFailure: s.fail,
	})
}

func (s *scene) upload(h core.LeaderboardHandle) {
	fmt.Fprintf(s.out, "leaderboard ready: handle=%d\n", h)
	s.c.UploadScore(s.owner(), h, 1200, core.UploadKeepBest, []int32{3, 7}, sal.Callbacks[core.UploadResult]{
		OnSuccess: func(r core.UploadResult) {
			fmt.Fprintf(s.out, "score uploaded: score=%d rank=%d changed=%t\n", r.Score, r.RankNew, r.ScoreChanged)
			s.entries(h)
		},
		OnFailure: s.fail,
	})
}

func (s *scene) entries(h core.LeaderboardHandle) {
	s.c.DownloadLeaderboardEntries(s.owner(), h, core.RequestGlobal, 1, 10, 2, sal.Callbacks[[]core.EntryRow]{
		OnSuccess: func(rows []core.EntryRow) {
			for _, r := range rows {
				fmt.Fprintf(s.out, "  #%d %s %d %v\n", r.GlobalRank, r.PlayerName, r.Score, r.Details)
			}
			s.avatar()
		},
		OnFailure: s.fail,
	})
}

func (s *scene) avatar() {
	s.c.GetAvatar(s.owner(), string(friend), core.AvatarMedium, sal.Callbacks[*imaging.Texture]{
		OnSuccess: func(t *imaging.Texture) {
			fmt.Fprintf(s.out, "avatar loaded: %dx%d %s\n", t.Width, t.Height, t.Format)
			s.done <- nil
		},
		OnFailure: s.fail,
	})
}
