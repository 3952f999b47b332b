package memory

import (
	"context"
	"maps"
	"slices"
	"sync"
	"time"

	"salkit/core"
)

// Store is a concurrent in-memory storage backend for the reference platform.
type Store struct {
	mu           sync.RWMutex
	boards       map[core.LeaderboardHandle]*board
	byName       map[string]core.LeaderboardHandle
	stats        map[core.SubjectID]map[string]core.StatValue
	achievements map[core.SubjectID]map[string]core.AchievementState
	files        map[fileKey][]byte
	shared       map[core.UGCHandle]core.SharedFile
}

type board struct {
	lb     core.Leaderboard
	scores map[core.SubjectID]core.ScoreRecord
}

type fileKey struct {
	owner core.SubjectID
	name  string
}

func New() *Store {
	return &Store{
		boards:       map[core.LeaderboardHandle]*board{},
		byName:       map[string]core.LeaderboardHandle{},
		stats:        map[core.SubjectID]map[string]core.StatValue{},
		achievements: map[core.SubjectID]map[string]core.AchievementState{},
		files:        map[fileKey][]byte{},
		shared:       map[core.UGCHandle]core.SharedFile{},
	}
}

func (s *Store) FindLeaderboard(_ context.Context, name string) (core.Leaderboard, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	h, ok := s.byName[name]
	if !ok {
		return core.Leaderboard{}, core.ErrNotFound
	}
	return s.boards[h].lb, nil
}

// CreateLeaderboard stores lb unless a leaderboard with that name exists, in
// which case the existing definition is returned unchanged.
func (s *Store) CreateLeaderboard(_ context.Context, lb core.Leaderboard) (core.Leaderboard, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if h, ok := s.byName[lb.Name]; ok {
		return s.boards[h].lb, nil
	}
	s.byName[lb.Name] = lb.Handle
	s.boards[lb.Handle] = &board{lb: lb, scores: map[core.SubjectID]core.ScoreRecord{}}
	return lb, nil
}

func (s *Store) Leaderboard(_ context.Context, h core.LeaderboardHandle) (core.Leaderboard, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.boards[h]
	if !ok {
		return core.Leaderboard{}, core.ErrNotFound
	}
	return b.lb, nil
}

func (s *Store) SubmitScore(_ context.Context, h core.LeaderboardHandle, rec core.ScoreRecord, method core.UploadMethod) (core.ScoreChange, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.boards[h]
	if !ok {
		return core.ScoreChange{}, core.ErrNotFound
	}
	prev, had := b.scores[rec.Subject]
	if had && method == core.UploadKeepBest && !b.lb.Sort.Better(rec.Score, prev.Score) {
		return core.ScoreChange{Score: prev.Score}, nil
	}
	if rec.Updated.IsZero() {
		rec.Updated = time.Now().UTC()
	}
	rec.Details = slices.Clone(rec.Details)
	b.scores[rec.Subject] = rec
	return core.ScoreChange{Score: rec.Score, Changed: !had || prev.Score != rec.Score}, nil
}

func (s *Store) Scores(_ context.Context, h core.LeaderboardHandle) ([]core.ScoreRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.boards[h]
	if !ok {
		return nil, core.ErrNotFound
	}
	out := make([]core.ScoreRecord, 0, len(b.scores))
	for _, r := range b.scores {
		r.Details = slices.Clone(r.Details)
		out = append(out, r)
	}
	return out, nil
}

func (s *Store) SetScoreUGC(_ context.Context, h core.LeaderboardHandle, subject core.SubjectID, ugc core.UGCHandle) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.boards[h]
	if !ok {
		return core.ErrNotFound
	}
	rec, ok := b.scores[subject]
	if !ok {
		return core.ErrNotFound
	}
	rec.UGC = ugc
	b.scores[subject] = rec
	return nil
}

func (s *Store) Stats(_ context.Context, subject core.SubjectID) (map[string]core.StatValue, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return maps.Clone(s.stats[subject]), nil
}

func (s *Store) PutStats(_ context.Context, subject core.SubjectID, stats map[string]core.StatValue) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur := s.stats[subject]
	if cur == nil {
		cur = map[string]core.StatValue{}
		s.stats[subject] = cur
	}
	maps.Copy(cur, stats)
	return nil
}

func (s *Store) Achievements(_ context.Context, subject core.SubjectID) (map[string]core.AchievementState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return maps.Clone(s.achievements[subject]), nil
}

func (s *Store) PutAchievements(_ context.Context, subject core.SubjectID, states map[string]core.AchievementState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur := s.achievements[subject]
	if cur == nil {
		cur = map[string]core.AchievementState{}
		s.achievements[subject] = cur
	}
	maps.Copy(cur, states)
	return nil
}

func (s *Store) WriteFile(_ context.Context, owner core.SubjectID, name string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.files[fileKey{owner, name}] = slices.Clone(data)
	return nil
}

func (s *Store) ReadFile(_ context.Context, owner core.SubjectID, name string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.files[fileKey{owner, name}]
	if !ok {
		return nil, core.ErrNotFound
	}
	return slices.Clone(b), nil
}

func (s *Store) ShareFile(_ context.Context, f core.SharedFile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	f.Data = slices.Clone(f.Data)
	s.shared[f.Handle] = f
	return nil
}

func (s *Store) SharedFile(_ context.Context, h core.UGCHandle) (core.SharedFile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	f, ok := s.shared[h]
	if !ok {
		return core.SharedFile{}, core.ErrNotFound
	}
	f.Data = slices.Clone(f.Data)
	return f, nil
}

func (s *Store) ResetStats(_ context.Context, subject core.SubjectID, achievementsToo bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.stats, subject)
	if achievementsToo {
		delete(s.achievements, subject)
	}
	return nil
}

// State is a serializable copy of the whole store.
type State struct {
	Leaderboards []BoardState                                        `json:"leaderboards"`
	Stats        map[core.SubjectID]map[string]core.StatValue        `json:"stats"`
	Achievements map[core.SubjectID]map[string]core.AchievementState `json:"achievements"`
	Files        []FileState                                         `json:"files"`
	Shared       []core.SharedFile                                   `json:"shared"`
}

type BoardState struct {
	Leaderboard core.Leaderboard   `json:"leaderboard"`
	Scores      []core.ScoreRecord `json:"scores"`
}

type FileState struct {
	Owner core.SubjectID `json:"owner"`
	Name  string         `json:"name"`
	Data  []byte         `json:"data"`
}

// Snapshot copies the store's contents.
func (s *Store) Snapshot() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st := State{
		Stats:        make(map[core.SubjectID]map[string]core.StatValue, len(s.stats)),
		Achievements: make(map[core.SubjectID]map[string]core.AchievementState, len(s.achievements)),
	}
	for _, b := range s.boards {
		bs := BoardState{Leaderboard: b.lb}
		for _, r := range b.scores {
			bs.Scores = append(bs.Scores, r)
		}
		st.Leaderboards = append(st.Leaderboards, bs)
	}
	for k, v := range s.stats {
		st.Stats[k] = maps.Clone(v)
	}
	for k, v := range s.achievements {
		st.Achievements[k] = maps.Clone(v)
	}
	for k, v := range s.files {
		st.Files = append(st.Files, FileState{Owner: k.owner, Name: k.name, Data: slices.Clone(v)})
	}
	for _, f := range s.shared {
		st.Shared = append(st.Shared, f)
	}
	return st
}

// Restore replaces the store's contents with st.
func (s *Store) Restore(st State) {
	fresh := New()
	for _, bs := range st.Leaderboards {
		b := &board{lb: bs.Leaderboard, scores: map[core.SubjectID]core.ScoreRecord{}}
		for _, r := range bs.Scores {
			b.scores[r.Subject] = r
		}
		fresh.boards[bs.Leaderboard.Handle] = b
		fresh.byName[bs.Leaderboard.Name] = bs.Leaderboard.Handle
	}
	for k, v := range st.Stats {
		fresh.stats[k] = maps.Clone(v)
	}
	for k, v := range st.Achievements {
		fresh.achievements[k] = maps.Clone(v)
	}
	for _, f := range st.Files {
		fresh.files[fileKey{f.Owner, f.Name}] = f.Data
	}
	for _, f := range st.Shared {
		fresh.shared[f.Handle] = f
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.boards, s.byName = fresh.boards, fresh.byName
	s.stats, s.achievements = fresh.stats, fresh.achievements
	s.files, s.shared = fresh.files, fresh.shared
}

var _ interface {
	FindLeaderboard(context.Context, string) (core.Leaderboard, error)
	CreateLeaderboard(context.Context, core.Leaderboard) (core.Leaderboard, error)
	SubmitScore(context.Context, core.LeaderboardHandle, core.ScoreRecord, core.UploadMethod) (core.ScoreChange, error)
	SharedFile(context.Context, core.UGCHandle) (core.SharedFile, error)
} = (*Store)(nil)
