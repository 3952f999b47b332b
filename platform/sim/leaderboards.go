package sim

import (
	"context"
	"errors"
	"slices"

	"salkit/core"
	"salkit/leaderboard"
	"salkit/platform"
)

// handleFor derives a stable nonzero leaderboard handle from the name.
func handleFor(name string) core.LeaderboardHandle {
	h := core.LeaderboardHandle(hash64(name) >> 1)
	if h == 0 {
		h = 1
	}
	return h
}

func mismatched(h core.LeaderboardHandle, f Fault) core.LeaderboardHandle {
	if f == FaultMismatch {
		return h + 1
	}
	return h
}

func (p *Platform) FindLeaderboard(name string, done platform.Completion[platform.LeaderboardFindResult]) platform.CallID {
	return dispatch(p, CallFindLeaderboard, done, func(ctx context.Context, f Fault) (*platform.LeaderboardFindResult, error) {
		if f == FaultLogical {
			return &platform.LeaderboardFindResult{}, nil
		}
		lb, err := p.store.FindLeaderboard(ctx, name)
		if errors.Is(err, core.ErrNotFound) {
			return &platform.LeaderboardFindResult{}, nil
		}
		if err != nil {
			return nil, err
		}
		return &platform.LeaderboardFindResult{Leaderboard: mismatched(lb.Handle, f), Found: true}, nil
	})
}

func (p *Platform) FindOrCreateLeaderboard(name string, sort core.SortMethod, display core.DisplayType, done platform.Completion[platform.LeaderboardFindResult]) platform.CallID {
	return dispatch(p, CallFindOrCreateLeaderboard, done, func(ctx context.Context, f Fault) (*platform.LeaderboardFindResult, error) {
		if f == FaultLogical {
			return &platform.LeaderboardFindResult{}, nil
		}
		lb, err := p.store.CreateLeaderboard(ctx, core.Leaderboard{Handle: handleFor(name), Name: name, Sort: sort, Display: display})
		if err != nil {
			return nil, err
		}
		return &platform.LeaderboardFindResult{Leaderboard: mismatched(lb.Handle, f), Found: true}, nil
	})
}

// ranked loads a leaderboard and ranks its scores.
func (p *Platform) ranked(ctx context.Context, h core.LeaderboardHandle) (*leaderboard.SkipList, map[core.SubjectID]core.ScoreRecord, error) {
	lb, err := p.store.Leaderboard(ctx, h)
	if err != nil {
		return nil, nil, err
	}
	scores, err := p.store.Scores(ctx, h)
	if err != nil {
		return nil, nil, err
	}
	list := leaderboard.NewSkipList(lb.Sort)
	recs := make(map[core.SubjectID]core.ScoreRecord, len(scores))
	for _, r := range scores {
		list.Update(r.Subject, r.Score)
		recs[r.Subject] = r
	}
	return list, recs, nil
}

// batch stores rows for later DownloadedEntry reads and returns the payload.
func (p *Platform) batch(h core.LeaderboardHandle, rows []leaderboard.Entry, recs map[core.SubjectID]core.ScoreRecord) *platform.ScoresDownloaded {
	out := make([]platform.LeaderboardEntry, 0, len(rows))
	for _, e := range rows {
		r := recs[e.Subject]
		out = append(out, platform.LeaderboardEntry{
			Subject:    e.Subject,
			GlobalRank: e.Rank,
			Score:      e.Score,
			UGC:        r.UGC,
			Details:    slices.Clone(r.Details),
		})
	}
	p.mu.Lock()
	p.lastEntries++
	id := p.lastEntries
	p.entries[id] = out
	p.mu.Unlock()
	return &platform.ScoresDownloaded{Leaderboard: h, Entries: id, Count: len(out)}
}

// byRank picks the ranked entries of subjects, best first.
func byRank(list *leaderboard.SkipList, subjects []core.SubjectID) []leaderboard.Entry {
	var rows []leaderboard.Entry
	seen := map[core.SubjectID]bool{}
	for _, s := range subjects {
		if seen[s] {
			continue
		}
		seen[s] = true
		if e, ok := list.Get(s); ok {
			rows = append(rows, e)
		}
	}
	slices.SortFunc(rows, func(a, b leaderboard.Entry) int { return a.Rank - b.Rank })
	return rows
}

func (p *Platform) DownloadLeaderboardEntries(h core.LeaderboardHandle, t core.RequestType, start, end int, done platform.Completion[platform.ScoresDownloaded]) platform.CallID {
	return dispatch(p, CallDownloadEntries, done, func(ctx context.Context, f Fault) (*platform.ScoresDownloaded, error) {
		list, recs, err := p.ranked(ctx, h)
		if err != nil {
			return nil, err
		}
		var rows []leaderboard.Entry
		switch t {
		case core.RequestGlobal:
			rows = list.Range(start, end)
		case core.RequestGlobalAroundUser:
			rows = list.Around(p.cfg.LocalUser, start, end)
		case core.RequestFriends:
			rows = byRank(list, append([]core.SubjectID{p.cfg.LocalUser}, p.cfg.Friends...))
		}
		return p.batch(mismatched(h, f), rows, recs), nil
	})
}

func (p *Platform) DownloadLeaderboardEntriesForUsers(h core.LeaderboardHandle, users []core.SubjectID, done platform.Completion[platform.ScoresDownloaded]) platform.CallID {
	users = slices.Clone(users)
	return dispatch(p, CallDownloadEntriesForUsers, done, func(ctx context.Context, f Fault) (*platform.ScoresDownloaded, error) {
		list, recs, err := p.ranked(ctx, h)
		if err != nil {
			return nil, err
		}
		return p.batch(mismatched(h, f), byRank(list, users), recs), nil
	})
}

func (p *Platform) DownloadedEntry(entries platform.EntriesHandle, index, detailsMax int) (platform.LeaderboardEntry, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	rows, ok := p.entries[entries]
	if !ok || index < 0 || index >= len(rows) {
		return platform.LeaderboardEntry{}, false
	}
	e := rows[index]
	n := min(len(e.Details), max(detailsMax, 0))
	e.Details = slices.Clone(e.Details[:n])
	return e, true
}

// ReleaseEntries forgets a downloaded batch.
func (p *Platform) ReleaseEntries(entries platform.EntriesHandle) {
	p.mu.Lock()
	delete(p.entries, entries)
	p.mu.Unlock()
}

// PendingEntries counts downloaded batches not yet released.
func (p *Platform) PendingEntries() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.entries)
}

func (p *Platform) UploadLeaderboardScore(h core.LeaderboardHandle, method core.UploadMethod, score int32, details []int32, done platform.Completion[platform.ScoreUploaded]) platform.CallID {
	details = slices.Clone(details)
	return dispatch(p, CallUploadScore, done, func(ctx context.Context, f Fault) (*platform.ScoreUploaded, error) {
		if f == FaultLogical {
			return &platform.ScoreUploaded{Leaderboard: h, Score: score}, nil
		}
		list, _, err := p.ranked(ctx, h)
		if errors.Is(err, core.ErrNotFound) {
			return &platform.ScoreUploaded{Leaderboard: h, Score: score}, nil
		}
		if err != nil {
			return nil, err
		}
		me := p.cfg.LocalUser
		prev := list.Rank(me)
		ch, err := p.store.SubmitScore(ctx, h, core.ScoreRecord{Subject: me, Score: score, Details: details}, method)
		if err != nil {
			return nil, err
		}
		if ch.Changed {
			list.Update(me, ch.Score)
		}
		return &platform.ScoreUploaded{
			Success:      true,
			Leaderboard:  mismatched(h, f),
			Score:        score,
			ScoreChanged: ch.Changed,
			RankNew:      list.Rank(me),
			RankPrevious: prev,
		}, nil
	})
}

func (p *Platform) AttachLeaderboardUGC(h core.LeaderboardHandle, ugc core.UGCHandle, done platform.Completion[platform.UGCAttached]) platform.CallID {
	return dispatch(p, CallAttachUGC, done, func(ctx context.Context, f Fault) (*platform.UGCAttached, error) {
		if f == FaultLogical {
			return &platform.UGCAttached{Result: platform.ResultFail, Leaderboard: h}, nil
		}
		if _, err := p.store.SharedFile(ctx, ugc); err != nil {
			if errors.Is(err, core.ErrNotFound) {
				return &platform.UGCAttached{Result: platform.ResultFileNotFound, Leaderboard: h}, nil
			}
			return nil, err
		}
		if err := p.store.SetScoreUGC(ctx, h, p.cfg.LocalUser, ugc); err != nil {
			if errors.Is(err, core.ErrNotFound) {
				return &platform.UGCAttached{Result: platform.ResultFail, Leaderboard: h}, nil
			}
			return nil, err
		}
		return &platform.UGCAttached{Result: platform.ResultOK, Leaderboard: mismatched(h, f)}, nil
	})
}

func (p *Platform) LeaderboardName(h core.LeaderboardHandle) string {
	lb, err := p.store.Leaderboard(p.ctx, h)
	if err != nil {
		return ""
	}
	return lb.Name
}

func (p *Platform) LeaderboardEntryCount(h core.LeaderboardHandle) int {
	scores, err := p.store.Scores(p.ctx, h)
	if err != nil {
		return 0
	}
	return len(scores)
}

func (p *Platform) LeaderboardSortMethod(h core.LeaderboardHandle) core.SortMethod {
	lb, _ := p.store.Leaderboard(p.ctx, h)
	return lb.Sort
}

func (p *Platform) LeaderboardDisplayType(h core.LeaderboardHandle) core.DisplayType {
	lb, _ := p.store.Leaderboard(p.ctx, h)
	return lb.Display
}
