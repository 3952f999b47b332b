// Package platform defines the boundary to the game-platform SDK: call ids,
// callback payloads and the service interfaces the binding layer consumes.
package platform

import (
	"fmt"
	"sync/atomic"
	"time"

	"salkit/core"
)

// CallID correlates an issued call with its later completion. Zero is invalid.
type CallID uint64

const InvalidCall CallID = 0

func (c CallID) Valid() bool { return c != InvalidCall }

// CallIDs hands out increasing call ids, starting at 1.
type CallIDs struct{ last atomic.Uint64 }

func (g *CallIDs) Next() CallID { return CallID(g.last.Add(1)) }

// EResult is the platform's result code carried by most callback payloads.
type EResult int

const (
	ResultOK            EResult = 1
	ResultFail          EResult = 2
	ResultNoConnection  EResult = 3
	ResultInvalidParam  EResult = 8
	ResultFileNotFound  EResult = 9
	ResultAccessDenied  EResult = 15
	ResultTimeout       EResult = 16
	ResultLimitExceeded EResult = 25
)

func (r EResult) String() string {
	switch r {
	case ResultOK:
		return "ok"
	case ResultFail:
		return "fail"
	case ResultNoConnection:
		return "no_connection"
	case ResultInvalidParam:
		return "invalid_param"
	case ResultFileNotFound:
		return "file_not_found"
	case ResultAccessDenied:
		return "access_denied"
	case ResultTimeout:
		return "timeout"
	case ResultLimitExceeded:
		return "limit_exceeded"
	}
	return fmt.Sprintf("result(%d)", int(r))
}

// Completion receives a call's payload. A nil payload or ioFailure means the
// transport failed, whatever the payload holds.
type Completion[T any] func(result *T, ioFailure bool)

// EntriesHandle references a downloaded batch of leaderboard entries.
type EntriesHandle uint64

type LeaderboardFindResult struct {
	Leaderboard core.LeaderboardHandle
	Found       bool
}

type ScoresDownloaded struct {
	Leaderboard core.LeaderboardHandle
	Entries     EntriesHandle
	Count       int
}

// LeaderboardEntry is one row read back from an EntriesHandle.
type LeaderboardEntry struct {
	Subject    core.SubjectID
	GlobalRank int
	Score      int32
	UGC        core.UGCHandle
	Details    []int32
}

type ScoreUploaded struct {
	Success      bool
	Leaderboard  core.LeaderboardHandle
	Score        int32
	ScoreChanged bool
	RankNew      int
	RankPrevious int
}

type UGCAttached struct {
	Result      EResult
	Leaderboard core.LeaderboardHandle
}

type UserStatsReceived struct {
	GameID uint64
	Result EResult
	User   core.SubjectID
}

type GlobalStatsReceived struct {
	GameID uint64
	Result EResult
}

type UserStatsStored struct {
	GameID uint64
	Result EResult
}

type UserAchievementStored struct {
	GameID   uint64
	APIName  string
	Progress uint32
	Max      uint32
}

type FileShareResult struct {
	Result   EResult
	Handle   core.UGCHandle
	FileName string
}

type UGCDownloadResult struct {
	Result   EResult
	Handle   core.UGCHandle
	AppID    uint32
	Size     int
	FileName string
	Owner    core.SubjectID
}

// UserStats covers leaderboards, stats and achievements.
type UserStats interface {
	FindLeaderboard(name string, done Completion[LeaderboardFindResult]) CallID
	FindOrCreateLeaderboard(name string, sort core.SortMethod, display core.DisplayType, done Completion[LeaderboardFindResult]) CallID
	DownloadLeaderboardEntries(h core.LeaderboardHandle, t core.RequestType, start, end int, done Completion[ScoresDownloaded]) CallID
	DownloadLeaderboardEntriesForUsers(h core.LeaderboardHandle, users []core.SubjectID, done Completion[ScoresDownloaded]) CallID
	// DownloadedEntry reads row index of a downloaded batch with at most detailsMax details.
	DownloadedEntry(entries EntriesHandle, index, detailsMax int) (LeaderboardEntry, bool)
	// ReleaseEntries frees a downloaded batch once its rows are read.
	ReleaseEntries(entries EntriesHandle)
	UploadLeaderboardScore(h core.LeaderboardHandle, method core.UploadMethod, score int32, details []int32, done Completion[ScoreUploaded]) CallID
	AttachLeaderboardUGC(h core.LeaderboardHandle, ugc core.UGCHandle, done Completion[UGCAttached]) CallID

	LeaderboardName(h core.LeaderboardHandle) string
	LeaderboardEntryCount(h core.LeaderboardHandle) int
	LeaderboardSortMethod(h core.LeaderboardHandle) core.SortMethod
	LeaderboardDisplayType(h core.LeaderboardHandle) core.DisplayType

	RequestUserStats(user core.SubjectID, done Completion[UserStatsReceived]) CallID
	RequestGlobalStats(days int, done Completion[GlobalStatsReceived]) CallID
	// StoreStats commits the session. Both callbacks may fire; false means nothing was queued.
	StoreStats(onStats func(*UserStatsStored), onAchievement func(*UserAchievementStored)) bool

	GetStatInt(name string) (int32, bool)
	GetStatFloat(name string) (float64, bool)
	SetStatInt(name string, v int32) bool
	SetStatFloat(name string, v float64) bool
	UpdateAvgRateStat(name string, countThisSession, sessionSeconds float64) bool
	ResetAllStats(achievementsToo bool) bool
	GlobalStatInt(name string) (int64, bool)
	GlobalStatFloat(name string) (float64, bool)

	GetAchievement(name string) (unlocked bool, ok bool)
	GetAchievementAndUnlockTime(name string) (unlocked bool, at time.Time, ok bool)
	SetAchievement(name string) bool
	ClearAchievement(name string) bool
	IndicateAchievementProgress(name string, current, max uint32) bool
	NumAchievements() int
	AchievementName(index int) string
	// AchievementDisplayAttribute returns "name", "desc" or "hidden" attributes.
	AchievementDisplayAttribute(name, key string) string
	AchievementAchievedPercent(name string) (float32, bool)
	// AchievementIcon returns an image handle, 0 when none is loaded yet.
	AchievementIcon(name string) int
}

// RemoteStorage covers cloud files and shared user-generated content.
type RemoteStorage interface {
	FileWrite(name string, data []byte) bool
	FileShare(name string, done Completion[FileShareResult]) CallID
	UGCDownload(h core.UGCHandle, priority int, done Completion[UGCDownloadResult]) CallID
	// UGCRead copies downloaded bytes into buf from offset and returns the count, or -1.
	UGCRead(h core.UGCHandle, buf []byte, offset int) int
}

type Friends interface {
	// PersonaName returns "" when the name is not known locally yet.
	PersonaName(id core.SubjectID) string
	// RequestUserInformation schedules a profile fetch and reports whether one was needed.
	RequestUserInformation(id core.SubjectID, nameOnly bool) bool
	// AvatarHandle returns an image handle, or <= 0 while the image is not ready.
	AvatarHandle(id core.SubjectID, size core.AvatarSize) int
}

type Utils interface {
	AppID() uint32
	ImageSize(handle int) (w, h int, ok bool)
	// ImageRGBA fills dst with w*h*4 bytes of RGBA8 pixels.
	ImageRGBA(handle int, dst []byte) bool
}

type User interface {
	LoggedOn() bool
	SubjectID() core.SubjectID
}

// Services aggregates the SDK interfaces. A nil member is an uninitialized service.
type Services struct {
	UserStats     UserStats
	RemoteStorage RemoteStorage
	Friends       Friends
	Utils         Utils
	User          User
}

// Available reports whether the session is usable: every service present,
// a nonzero app id and a logged-on user.
func (s Services) Available() bool {
	if s.UserStats == nil || s.RemoteStorage == nil || s.Friends == nil || s.Utils == nil || s.User == nil {
		return false
	}
	return s.Utils.AppID() != 0 && s.User.LoggedOn()
}
