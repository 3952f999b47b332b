package memory

import (
	"context"
	"errors"
	"testing"

	"salkit/core"
)

func TestMemoryLeaderboards(t *testing.T) {
	s := New()
	ctx := context.Background()
	if _, err := s.FindLeaderboard(ctx, "Fastest"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	lb := core.Leaderboard{Handle: 11, Name: "Fastest", Sort: core.SortAscending, Display: core.DisplayTimeMilliseconds}
	if _, err := s.CreateLeaderboard(ctx, lb); err != nil {
		t.Fatal(err)
	}
	again, err := s.CreateLeaderboard(ctx, core.Leaderboard{Handle: 99, Name: "Fastest", Sort: core.SortDescending})
	if err != nil || again != lb {
		t.Fatalf("create should return the existing board: %+v %v", again, err)
	}
	got, err := s.FindLeaderboard(ctx, "Fastest")
	if err != nil || got.Handle != 11 {
		t.Fatalf("got %+v %v", got, err)
	}
}

func TestMemoryKeepBestAndForce(t *testing.T) {
	s := New()
	ctx := context.Background()
	s.CreateLeaderboard(ctx, core.Leaderboard{Handle: 1, Name: "Lap", Sort: core.SortAscending})

	ch, err := s.SubmitScore(ctx, 1, core.ScoreRecord{Subject: "7", Score: 900}, core.UploadKeepBest)
	if err != nil || !ch.Changed || ch.Score != 900 {
		t.Fatalf("first submit: %+v %v", ch, err)
	}
	ch, _ = s.SubmitScore(ctx, 1, core.ScoreRecord{Subject: "7", Score: 950}, core.UploadKeepBest)
	if ch.Changed || ch.Score != 900 {
		t.Fatalf("worse lap must not replace: %+v", ch)
	}
	ch, _ = s.SubmitScore(ctx, 1, core.ScoreRecord{Subject: "7", Score: 800, Details: []int32{1, 2}}, core.UploadKeepBest)
	if !ch.Changed || ch.Score != 800 {
		t.Fatalf("better lap must replace: %+v", ch)
	}
	ch, _ = s.SubmitScore(ctx, 1, core.ScoreRecord{Subject: "7", Score: 1000}, core.UploadForceUpdate)
	if !ch.Changed || ch.Score != 1000 {
		t.Fatalf("force must replace: %+v", ch)
	}
	if _, err := s.SubmitScore(ctx, 2, core.ScoreRecord{Subject: "7"}, core.UploadForceUpdate); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("unknown board: %v", err)
	}
	if err := s.SetScoreUGC(ctx, 1, "8", 5); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("attach without score: %v", err)
	}
	if err := s.SetScoreUGC(ctx, 1, "7", 5); err != nil {
		t.Fatal(err)
	}
	scores, _ := s.Scores(ctx, 1)
	if len(scores) != 1 || scores[0].UGC != 5 {
		t.Fatalf("unexpected scores %+v", scores)
	}
}

func TestMemoryStatsFilesAndSnapshot(t *testing.T) {
	s := New()
	ctx := context.Background()
	s.PutStats(ctx, "7", map[string]core.StatValue{"NumGames": {Type: core.StatInteger, Integer: 3}})
	s.PutAchievements(ctx, "7", map[string]core.AchievementState{"ACH_WIN": {Unlocked: true}})
	s.WriteFile(ctx, "7", "replay.dat", []byte("abc"))
	s.ShareFile(ctx, core.SharedFile{Handle: 42, Owner: "7", Name: "replay.dat", Data: []byte("abc")})

	snap := s.Snapshot()
	restored := New()
	restored.Restore(snap)

	st, _ := restored.Stats(ctx, "7")
	if st["NumGames"].Integer != 3 {
		t.Fatalf("stats lost: %+v", st)
	}
	f, err := restored.SharedFile(ctx, 42)
	if err != nil || string(f.Data) != "abc" {
		t.Fatalf("shared file lost: %+v %v", f, err)
	}
	if b, err := restored.ReadFile(ctx, "7", "replay.dat"); err != nil || string(b) != "abc" {
		t.Fatalf("file lost: %q %v", b, err)
	}

	restored.ResetStats(ctx, "7", false)
	st, _ = restored.Stats(ctx, "7")
	ach, _ := restored.Achievements(ctx, "7")
	if len(st) != 0 || !ach["ACH_WIN"].Unlocked {
		t.Fatalf("reset without achievements: %+v %+v", st, ach)
	}
}
