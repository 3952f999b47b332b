package jsonfile

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"salkit/core"
)

func TestStorePersistAndLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "state.json")

	store, err := New(path)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	ctx := context.Background()

	lb := core.Leaderboard{Handle: 5, Name: "HighScores", Sort: core.SortDescending}
	if _, err := store.CreateLeaderboard(ctx, lb); err != nil {
		t.Fatalf("create leaderboard: %v", err)
	}
	ch, err := store.SubmitScore(ctx, 5, core.ScoreRecord{Subject: "76561197960287930", Score: 1200, Details: []int32{3}}, core.UploadKeepBest)
	if err != nil || !ch.Changed {
		t.Fatalf("submit: %+v %v", ch, err)
	}
	if err := store.PutStats(ctx, "76561197960287930", map[string]core.StatValue{"AvgSpeed": {Type: core.StatAverage, Float: 2.5, Count: 5, Seconds: 2}}); err != nil {
		t.Fatalf("put stats: %v", err)
	}
	if err := store.ShareFile(ctx, core.SharedFile{Handle: 77, Owner: "76561197960287930", Name: "ghost.bin", Data: []byte{1, 2, 3}}); err != nil {
		t.Fatalf("share: %v", err)
	}

	// ensure file written
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected file at %s", path)
	}

	// reload
	reloaded, err := New(path)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}

	got, err := reloaded.FindLeaderboard(ctx, "HighScores")
	if err != nil || got != lb {
		t.Fatalf("leaderboard: %+v %v", got, err)
	}
	scores, err := reloaded.Scores(ctx, 5)
	if err != nil || len(scores) != 1 || scores[0].Score != 1200 || scores[0].Details[0] != 3 {
		t.Fatalf("scores: %+v %v", scores, err)
	}
	stats, _ := reloaded.Stats(ctx, "76561197960287930")
	if stats["AvgSpeed"].Float != 2.5 {
		t.Fatalf("expected avg 2.5, got %+v", stats["AvgSpeed"])
	}
	f, err := reloaded.SharedFile(ctx, 77)
	if err != nil || len(f.Data) != 3 {
		t.Fatalf("shared: %+v %v", f, err)
	}
}

func TestStoreFailedWriteDoesNotPersist(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	store, err := New(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := store.SetScoreUGC(context.Background(), 1, "7", 9); err == nil {
		t.Fatal("expected not found")
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("nothing should be written, stat err=%v", err)
	}
}
