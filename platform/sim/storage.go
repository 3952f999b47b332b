package sim

import (
	"context"

	"salkit/core"
)

// Storage persists everything the reference platform serves. Lookups of
// missing records return core.ErrNotFound.
type Storage interface {
	FindLeaderboard(ctx context.Context, name string) (core.Leaderboard, error)
	// CreateLeaderboard returns the existing definition when the name is taken.
	CreateLeaderboard(ctx context.Context, lb core.Leaderboard) (core.Leaderboard, error)
	Leaderboard(ctx context.Context, h core.LeaderboardHandle) (core.Leaderboard, error)
	SubmitScore(ctx context.Context, h core.LeaderboardHandle, rec core.ScoreRecord, method core.UploadMethod) (core.ScoreChange, error)
	Scores(ctx context.Context, h core.LeaderboardHandle) ([]core.ScoreRecord, error)
	SetScoreUGC(ctx context.Context, h core.LeaderboardHandle, subject core.SubjectID, ugc core.UGCHandle) error

	Stats(ctx context.Context, subject core.SubjectID) (map[string]core.StatValue, error)
	PutStats(ctx context.Context, subject core.SubjectID, stats map[string]core.StatValue) error
	Achievements(ctx context.Context, subject core.SubjectID) (map[string]core.AchievementState, error)
	PutAchievements(ctx context.Context, subject core.SubjectID, states map[string]core.AchievementState) error
	ResetStats(ctx context.Context, subject core.SubjectID, achievementsToo bool) error

	WriteFile(ctx context.Context, owner core.SubjectID, name string, data []byte) error
	ReadFile(ctx context.Context, owner core.SubjectID, name string) ([]byte, error)
	ShareFile(ctx context.Context, f core.SharedFile) error
	SharedFile(ctx context.Context, h core.UGCHandle) (core.SharedFile, error)
}
