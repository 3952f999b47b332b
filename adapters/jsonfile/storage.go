package jsonfile

import (
	"context"
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"salkit/adapters/memory"
	"salkit/core"
)

// Store persists entire state to a single JSON file.
// Suitable for demos and small deployments.
type Store struct {
	path string
	mu   sync.Mutex
	// in-memory copy for reads
	mem *memory.Store
}

func New(path string) (*Store, error) {
	s := &Store{path: path, mem: memory.New()}
	if err := s.load(); err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
	}
	return s, nil
}

func (s *Store) load() error {
	b, err := os.ReadFile(s.path)
	if err != nil {
		return err
	}
	var st memory.State
	if err := json.Unmarshal(b, &st); err != nil {
		return err
	}
	s.mem.Restore(st)
	return nil
}

func (s *Store) persist() error {
	tmp := s.path + ".tmp"
	b, err := json.MarshalIndent(s.mem.Snapshot(), "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return err
	}
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}

// write applies fn to the in-memory copy and persists the result.
func (s *Store) write(fn func() error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := fn(); err != nil {
		return err
	}
	return s.persist()
}

func (s *Store) FindLeaderboard(ctx context.Context, name string) (core.Leaderboard, error) {
	return s.mem.FindLeaderboard(ctx, name)
}

func (s *Store) CreateLeaderboard(ctx context.Context, lb core.Leaderboard) (core.Leaderboard, error) {
	var out core.Leaderboard
	err := s.write(func() (err error) {
		out, err = s.mem.CreateLeaderboard(ctx, lb)
		return err
	})
	return out, err
}

func (s *Store) Leaderboard(ctx context.Context, h core.LeaderboardHandle) (core.Leaderboard, error) {
	return s.mem.Leaderboard(ctx, h)
}

func (s *Store) SubmitScore(ctx context.Context, h core.LeaderboardHandle, rec core.ScoreRecord, method core.UploadMethod) (core.ScoreChange, error) {
	var out core.ScoreChange
	err := s.write(func() (err error) {
		out, err = s.mem.SubmitScore(ctx, h, rec, method)
		return err
	})
	return out, err
}

func (s *Store) Scores(ctx context.Context, h core.LeaderboardHandle) ([]core.ScoreRecord, error) {
	return s.mem.Scores(ctx, h)
}

func (s *Store) SetScoreUGC(ctx context.Context, h core.LeaderboardHandle, subject core.SubjectID, ugc core.UGCHandle) error {
	return s.write(func() error { return s.mem.SetScoreUGC(ctx, h, subject, ugc) })
}

func (s *Store) Stats(ctx context.Context, subject core.SubjectID) (map[string]core.StatValue, error) {
	return s.mem.Stats(ctx, subject)
}

func (s *Store) PutStats(ctx context.Context, subject core.SubjectID, stats map[string]core.StatValue) error {
	return s.write(func() error { return s.mem.PutStats(ctx, subject, stats) })
}

func (s *Store) Achievements(ctx context.Context, subject core.SubjectID) (map[string]core.AchievementState, error) {
	return s.mem.Achievements(ctx, subject)
}

func (s *Store) PutAchievements(ctx context.Context, subject core.SubjectID, states map[string]core.AchievementState) error {
	return s.write(func() error { return s.mem.PutAchievements(ctx, subject, states) })
}

func (s *Store) WriteFile(ctx context.Context, owner core.SubjectID, name string, data []byte) error {
	return s.write(func() error { return s.mem.WriteFile(ctx, owner, name, data) })
}

func (s *Store) ReadFile(ctx context.Context, owner core.SubjectID, name string) ([]byte, error) {
	return s.mem.ReadFile(ctx, owner, name)
}

func (s *Store) ShareFile(ctx context.Context, f core.SharedFile) error {
	return s.write(func() error { return s.mem.ShareFile(ctx, f) })
}

func (s *Store) SharedFile(ctx context.Context, h core.UGCHandle) (core.SharedFile, error) {
	return s.mem.SharedFile(ctx, h)
}

func (s *Store) ResetStats(ctx context.Context, subject core.SubjectID, achievementsToo bool) error {
	return s.write(func() error { return s.mem.ResetStats(ctx, subject, achievementsToo) })
}
