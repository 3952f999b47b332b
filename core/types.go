package core

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// SubjectID identifies a platform account as a 64-bit decimal string.
type SubjectID string

// ParseSubjectID trims and validates a decimal 64-bit account identifier.
func ParseSubjectID(s string) (SubjectID, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", errors.New("empty subject id")
	}
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return "", fmt.Errorf("invalid subject id %q", s)
	}
	if v == 0 {
		return "", fmt.Errorf("invalid subject id %q", s)
	}
	return SubjectID(strconv.FormatUint(v, 10)), nil
}

// Uint64 returns the numeric form of the id, or 0 when it does not parse.
func (s SubjectID) Uint64() uint64 {
	v, _ := strconv.ParseUint(string(s), 10, 64)
	return v
}

// LeaderboardHandle is the platform's opaque leaderboard reference. Zero is invalid.
type LeaderboardHandle int64

func (h LeaderboardHandle) Valid() bool { return h != 0 }

// UGCHandle references a shared cloud file. Zero is invalid.
type UGCHandle uint64

func (h UGCHandle) Valid() bool { return h != 0 }

const (
	// MaxDetails caps the number of int32 details stored with a score.
	MaxDetails = 64
	// MaxUsersPerQuery caps the user list of a per-user leaderboard download.
	MaxUsersPerQuery = 100
)

// SortMethod decides whether lower or higher scores rank first.
type SortMethod int

const (
	SortAscending SortMethod = iota
	SortDescending
)

func (m SortMethod) String() string {
	switch m {
	case SortAscending:
		return "ascending"
	case SortDescending:
		return "descending"
	}
	return "unknown"
}

// Better reports whether score a beats score b under m.
func (m SortMethod) Better(a, b int32) bool {
	if m == SortAscending {
		return a < b
	}
	return a > b
}

func ParseSortMethod(s string) (SortMethod, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "ascending", "asc":
		return SortAscending, nil
	case "descending", "desc", "":
		return SortDescending, nil
	}
	return 0, fmt.Errorf("unknown sort method %q", s)
}

// DisplayType controls how clients render a score.
type DisplayType int

const (
	DisplayNumeric DisplayType = iota
	DisplayTimeSeconds
	DisplayTimeMilliseconds
)

func (d DisplayType) String() string {
	switch d {
	case DisplayNumeric:
		return "numeric"
	case DisplayTimeSeconds:
		return "time_seconds"
	case DisplayTimeMilliseconds:
		return "time_milliseconds"
	}
	return "unknown"
}

func ParseDisplayType(s string) (DisplayType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "numeric", "":
		return DisplayNumeric, nil
	case "time_seconds", "seconds":
		return DisplayTimeSeconds, nil
	case "time_milliseconds", "milliseconds", "ms":
		return DisplayTimeMilliseconds, nil
	}
	return 0, fmt.Errorf("unknown display type %q", s)
}

// RequestType selects which slice of a leaderboard to download.
type RequestType int

const (
	// RequestGlobal downloads absolute ranks [start..end], 1-based.
	RequestGlobal RequestType = iota
	// RequestGlobalAroundUser downloads ranks relative to the local user, e.g. -5..5.
	RequestGlobalAroundUser
	// RequestFriends downloads friends with scores; the range is ignored.
	RequestFriends
)

func (t RequestType) String() string {
	switch t {
	case RequestGlobal:
		return "global"
	case RequestGlobalAroundUser:
		return "around_user"
	case RequestFriends:
		return "friends"
	}
	return "unknown"
}

func ParseRequestType(s string) (RequestType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "global", "":
		return RequestGlobal, nil
	case "around_user", "around", "global_around_user":
		return RequestGlobalAroundUser, nil
	case "friends":
		return RequestFriends, nil
	}
	return 0, fmt.Errorf("unknown request type %q", s)
}

// UploadMethod decides whether a worse score overwrites the stored one.
type UploadMethod int

const (
	UploadKeepBest UploadMethod = iota
	UploadForceUpdate
)

func (m UploadMethod) String() string {
	if m == UploadForceUpdate {
		return "force_update"
	}
	return "keep_best"
}

func ParseUploadMethod(s string) (UploadMethod, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "keep_best", "keep", "":
		return UploadKeepBest, nil
	case "force_update", "force":
		return UploadForceUpdate, nil
	}
	return 0, fmt.Errorf("unknown upload method %q", s)
}

// StatType describes how a stat is read and written.
type StatType int

const (
	StatInteger StatType = iota
	StatFloat
	// StatAverage is read as a float and written as a count over a session length.
	StatAverage
)

func (t StatType) String() string {
	switch t {
	case StatInteger:
		return "integer"
	case StatFloat:
		return "float"
	case StatAverage:
		return "average"
	}
	return "unknown"
}

func ParseStatType(s string) (StatType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "integer", "int", "":
		return StatInteger, nil
	case "float":
		return StatFloat, nil
	case "average", "avg":
		return StatAverage, nil
	}
	return 0, fmt.Errorf("unknown stat type %q", s)
}

// AvatarSize is the small closed set of avatar variants.
type AvatarSize int

const (
	AvatarSmall AvatarSize = iota
	AvatarMedium
	AvatarLarge
)

func (s AvatarSize) String() string {
	switch s {
	case AvatarSmall:
		return "small"
	case AvatarMedium:
		return "medium"
	case AvatarLarge:
		return "large"
	}
	return "unknown"
}

// Pixels returns the edge length of the square avatar image.
func (s AvatarSize) Pixels() int {
	switch s {
	case AvatarSmall:
		return 32
	case AvatarLarge:
		return 184
	default:
		return 64
	}
}

func ParseAvatarSize(s string) (AvatarSize, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "small":
		return AvatarSmall, nil
	case "medium", "":
		return AvatarMedium, nil
	case "large":
		return AvatarLarge, nil
	}
	return 0, fmt.Errorf("unknown avatar size %q", s)
}

// Leaderboard is the persisted definition of a leaderboard.
type Leaderboard struct {
	Handle  LeaderboardHandle `json:"handle"`
	Name    string            `json:"name"`
	Sort    SortMethod        `json:"sort"`
	Display DisplayType       `json:"display"`
}

// ScoreRecord is one stored score, unranked.
type ScoreRecord struct {
	Subject SubjectID `json:"subject"`
	Score   int32     `json:"score"`
	Details []int32   `json:"details,omitempty"`
	UGC     UGCHandle `json:"ugc,omitempty"`
	Updated time.Time `json:"updated"`
}

// EntryRow is a ranked leaderboard row as delivered to callers.
type EntryRow struct {
	Subject    SubjectID `json:"subject"`
	GlobalRank int       `json:"global_rank"`
	Score      int32     `json:"score"`
	Details    []int32   `json:"details,omitempty"`
	UGC        UGCHandle `json:"ugc,omitempty"`
	// PlayerName may be empty when the display name is not resolved yet.
	PlayerName string `json:"player_name"`
}

// ScoreChange is what a storage backend reports after a score submit.
type ScoreChange struct {
	Score        int32 `json:"score"`
	Changed      bool  `json:"changed"`
	RankNew      int   `json:"rank_new"`
	RankPrevious int   `json:"rank_previous"`
}

// UploadResult is the success payload of a score upload.
type UploadResult struct {
	Leaderboard  LeaderboardHandle `json:"leaderboard"`
	Score        int32             `json:"score"`
	ScoreChanged bool              `json:"score_changed"`
	RankNew      int               `json:"rank_new"`
	RankPrevious int               `json:"rank_previous"`
}

// StatValue holds one stored stat. Float and average stats use Float.
type StatValue struct {
	Type    StatType `json:"type"`
	Integer int32    `json:"integer,omitempty"`
	Float   float64  `json:"float,omitempty"`
	// Count and Seconds accumulate average-rate samples.
	Count   float64 `json:"count,omitempty"`
	Seconds float64 `json:"seconds,omitempty"`
}

// StatQuery names a stat to read and how to read it.
type StatQuery struct {
	APIName      string   `json:"api_name"`
	Type         StatType `json:"type"`
	FriendlyName string   `json:"friendly_name,omitempty"`
}

// StoredStat is the result of reading one StatQuery.
type StoredStat struct {
	FriendlyName string   `json:"friendly_name"`
	APIName      string   `json:"api_name"`
	Type         StatType `json:"type"`
	Integer      int32    `json:"integer"`
	Float        float64  `json:"float"`
	Succeeded    bool     `json:"succeeded"`
}

// StatWrite is one stat update.
type StatWrite struct {
	APIName string   `json:"api_name"`
	Type    StatType `json:"type"`
	Integer int32    `json:"integer,omitempty"`
	Float   float64  `json:"float,omitempty"`
	Count   float64  `json:"count,omitempty"`
	Seconds float64  `json:"seconds,omitempty"`
}

// AchievementState is a user's state for one achievement.
type AchievementState struct {
	Unlocked   bool      `json:"unlocked"`
	UnlockedAt time.Time `json:"unlocked_at,omitempty"`
	Progress   uint32    `json:"progress,omitempty"`
	Max        uint32    `json:"max,omitempty"`
}

// AchievementInfo is the schema entry of an achievement.
type AchievementInfo struct {
	APIName       string  `json:"api_name"`
	DisplayName   string  `json:"display_name"`
	Description   string  `json:"description"`
	GlobalPercent float32 `json:"global_percent"`
}

// UGCUpload is the result of the score-with-file pipeline.
type UGCUpload struct {
	Score  int32     `json:"score"`
	Handle UGCHandle `json:"handle"`
}

// UGCFile is a downloaded shared file.
type UGCFile struct {
	Handle UGCHandle `json:"handle"`
	Data   []byte    `json:"data"`
	Size   int       `json:"size"`
}

// SharedFile is a cloud file published under a UGC handle. Data is the
// content at share time.
type SharedFile struct {
	Handle UGCHandle `json:"handle"`
	Owner  SubjectID `json:"owner"`
	Name   string    `json:"name"`
	Data   []byte    `json:"data"`
	Shared time.Time `json:"shared"`
}
