package sal

import (
	"errors"
	"fmt"

	"salkit/core"
	"salkit/engine"
	"salkit/platform"
)

const (
	OpFindLeaderboard            = "find_leaderboard"
	OpCreateLeaderboard          = "create_leaderboard"
	OpDownloadLeaderboardEntries = "download_leaderboard_entries"
	OpDownloadLeaderboardForUser = "download_leaderboard_for_users"
	OpUploadScore                = "upload_score"
)

type findInput struct {
	name    string
	sort    core.SortMethod
	display core.DisplayType
}

func (c *Client) findOp(name string, create bool) engine.Operation[findInput, platform.LeaderboardFindResult, core.LeaderboardHandle] {
	return engine.Operation[findInput, platform.LeaderboardFindResult, core.LeaderboardHandle]{
		Name: name,
		Validate: func(in findInput) (findInput, error) {
			if err := core.ValidateLeaderboardName(in.name); err != nil {
				return in, err
			}
			if create {
				if in.sort != core.SortAscending && in.sort != core.SortDescending {
					return in, fmt.Errorf("unknown sort method %d", int(in.sort))
				}
				switch in.display {
				case core.DisplayNumeric, core.DisplayTimeSeconds, core.DisplayTimeMilliseconds:
				default:
					return in, fmt.Errorf("unknown display type %d", int(in.display))
				}
			}
			return in, nil
		},
		Ready: need(c.hasStats()),
		Call: func(in findInput, done platform.Completion[platform.LeaderboardFindResult]) platform.CallID {
			if create {
				return c.svc.UserStats.FindOrCreateLeaderboard(in.name, in.sort, in.display, done)
			}
			return c.svc.UserStats.FindLeaderboard(in.name, done)
		},
		Extract: func(in findInput, raw *platform.LeaderboardFindResult) (core.LeaderboardHandle, error) {
			if !raw.Found || !raw.Leaderboard.Valid() {
				return 0, core.Logicalf(name, "leaderboard %q not found", in.name)
			}
			return raw.Leaderboard, nil
		},
	}
}

// FindLeaderboard resolves an existing leaderboard by name.
func (c *Client) FindLeaderboard(owner engine.OwnerRef, name string, cb Callbacks[core.LeaderboardHandle]) *engine.Handle {
	return engine.Submit(c.rt, owner, c.findOp(OpFindLeaderboard, false), findInput{name: name}, cb)
}

// CreateLeaderboard finds a leaderboard or creates it with the given sort and
// display. An existing leaderboard keeps its definition.
func (c *Client) CreateLeaderboard(owner engine.OwnerRef, name string, sort core.SortMethod, display core.DisplayType, cb Callbacks[core.LeaderboardHandle]) *engine.Handle {
	in := findInput{name: name, sort: sort, display: display}
	return engine.Submit(c.rt, owner, c.findOp(OpCreateLeaderboard, true), in, cb)
}

type downloadInput struct {
	board      core.LeaderboardHandle
	kind       core.RequestType
	start, end int
	detailsMax int
	users      []core.SubjectID
}

// readEntries copies a downloaded batch into rows and releases it. Rows the
// platform fails to return are skipped.
func (c *Client) readEntries(op string, in downloadInput, raw *platform.ScoresDownloaded) []core.EntryRow {
	defer c.svc.UserStats.ReleaseEntries(raw.Entries)
	if raw.Count <= 0 {
		return []core.EntryRow{}
	}
	if raw.Leaderboard != in.board {
		c.log.Warn("callback for a different leaderboard handle", "op", op, "want", int64(in.board), "got", int64(raw.Leaderboard))
	}
	rows := make([]core.EntryRow, 0, raw.Count)
	for i := 0; i < raw.Count; i++ {
		e, ok := c.svc.UserStats.DownloadedEntry(raw.Entries, i, in.detailsMax)
		if !ok {
			c.log.Warn("downloaded entry unavailable", "op", op, "index", i)
			continue
		}
		row := core.EntryRow{
			Subject:    e.Subject,
			GlobalRank: e.GlobalRank,
			Score:      e.Score,
			UGC:        e.UGC,
			PlayerName: c.personaName(e.Subject),
		}
		if in.detailsMax > 0 && len(e.Details) > 0 {
			n := min(len(e.Details), in.detailsMax)
			row.Details = append([]int32(nil), e.Details[:n]...)
		}
		rows = append(rows, row)
	}
	return rows
}

// DownloadLeaderboardEntries downloads a slice of a leaderboard. Friends
// requests ignore the range; detailsMax is clamped to core.MaxDetails.
func (c *Client) DownloadLeaderboardEntries(owner engine.OwnerRef, board core.LeaderboardHandle, kind core.RequestType, start, end, detailsMax int, cb Callbacks[[]core.EntryRow]) *engine.Handle {
	op := engine.Operation[downloadInput, platform.ScoresDownloaded, []core.EntryRow]{
		Name: OpDownloadLeaderboardEntries,
		Validate: func(in downloadInput) (downloadInput, error) {
			if !in.board.Valid() {
				return in, errors.New("invalid leaderboard handle, find the leaderboard first")
			}
			switch in.kind {
			case core.RequestGlobal, core.RequestGlobalAroundUser, core.RequestFriends:
			default:
				return in, fmt.Errorf("unknown request type %d", int(in.kind))
			}
			if err := core.ValidateRange(in.kind, in.start, in.end); err != nil {
				return in, err
			}
			if err := core.ValidateDetailsMax(in.detailsMax); err != nil {
				return in, err
			}
			in.detailsMax = core.ClampDetails(in.detailsMax)
			if in.kind == core.RequestFriends {
				in.start, in.end = 0, 0
			}
			return in, nil
		},
		Ready: need(c.hasStats()),
		Call: func(in downloadInput, done platform.Completion[platform.ScoresDownloaded]) platform.CallID {
			return c.svc.UserStats.DownloadLeaderboardEntries(in.board, in.kind, in.start, in.end, done)
		},
		Extract: func(in downloadInput, raw *platform.ScoresDownloaded) ([]core.EntryRow, error) {
			return c.readEntries(OpDownloadLeaderboardEntries, in, raw), nil
		},
	}
	in := downloadInput{board: board, kind: kind, start: start, end: end, detailsMax: detailsMax}
	return engine.Submit(c.rt, owner, op, in, cb)
}

// DownloadLeaderboardForUsers downloads the rows of specific users. Only the
// first core.MaxUsersPerQuery ids are used and unparsable ids are skipped.
func (c *Client) DownloadLeaderboardForUsers(owner engine.OwnerRef, board core.LeaderboardHandle, ids []string, cb Callbacks[[]core.EntryRow]) *engine.Handle {
	op := engine.Operation[downloadInput, platform.ScoresDownloaded, []core.EntryRow]{
		Name: OpDownloadLeaderboardForUser,
		Validate: func(in downloadInput) (downloadInput, error) {
			if !in.board.Valid() {
				return in, errors.New("invalid leaderboard handle, find the leaderboard first")
			}
			if len(ids) == 0 {
				return in, errors.New("no subject ids given")
			}
			if len(ids) > core.MaxUsersPerQuery {
				c.log.Warn("subject list trimmed", "op", OpDownloadLeaderboardForUser, "given", len(ids), "used", core.MaxUsersPerQuery)
				ids = ids[:core.MaxUsersPerQuery]
			}
			users := make([]core.SubjectID, 0, len(ids))
			for _, s := range ids {
				id, err := core.ParseSubjectID(s)
				if err != nil {
					c.log.Warn("skipping subject id", "op", OpDownloadLeaderboardForUser, "id", s, "error", err)
					continue
				}
				users = append(users, id)
			}
			if len(users) == 0 {
				return in, errors.New("no valid subject ids")
			}
			in.users = users
			return in, nil
		},
		Ready: need(c.hasStats()),
		Call: func(in downloadInput, done platform.Completion[platform.ScoresDownloaded]) platform.CallID {
			return c.svc.UserStats.DownloadLeaderboardEntriesForUsers(in.board, in.users, done)
		},
		Extract: func(in downloadInput, raw *platform.ScoresDownloaded) ([]core.EntryRow, error) {
			return c.readEntries(OpDownloadLeaderboardForUser, in, raw), nil
		},
	}
	return engine.Submit(c.rt, owner, op, downloadInput{board: board, detailsMax: core.MaxDetails}, cb)
}

type uploadInput struct {
	board   core.LeaderboardHandle
	method  core.UploadMethod
	score   int32
	details []int32
}

func validateUpload(in uploadInput) (uploadInput, error) {
	if !in.board.Valid() {
		return in, errors.New("invalid leaderboard handle, find the leaderboard first")
	}
	if in.method != core.UploadKeepBest && in.method != core.UploadForceUpdate {
		return in, fmt.Errorf("unknown upload method %d", int(in.method))
	}
	n := min(len(in.details), core.MaxDetails)
	in.details = append([]int32(nil), in.details[:n]...)
	return in, nil
}

// UploadScore submits the local user's score. Details beyond core.MaxDetails are dropped.
func (c *Client) UploadScore(owner engine.OwnerRef, board core.LeaderboardHandle, score int32, method core.UploadMethod, details []int32, cb Callbacks[core.UploadResult]) *engine.Handle {
	op := engine.Operation[uploadInput, platform.ScoreUploaded, core.UploadResult]{
		Name:     OpUploadScore,
		Validate: validateUpload,
		Ready:    need(c.hasStats()),
		Call: func(in uploadInput, done platform.Completion[platform.ScoreUploaded]) platform.CallID {
			return c.svc.UserStats.UploadLeaderboardScore(in.board, in.method, in.score, in.details, done)
		},
		Extract: func(in uploadInput, raw *platform.ScoreUploaded) (core.UploadResult, error) {
			if !raw.Success {
				return core.UploadResult{}, core.Logical(OpUploadScore, "platform reported upload failure")
			}
			if raw.Leaderboard != in.board {
				c.log.Warn("callback for a different leaderboard handle", "op", OpUploadScore, "want", int64(in.board), "got", int64(raw.Leaderboard))
			}
			return core.UploadResult{
				Leaderboard:  in.board,
				Score:        raw.Score,
				ScoreChanged: raw.ScoreChanged,
				RankNew:      raw.RankNew,
				RankPrevious: raw.RankPrevious,
			}, nil
		},
	}
	in := uploadInput{board: board, method: method, score: score, details: details}
	return engine.Submit(c.rt, owner, op, in, cb)
}
