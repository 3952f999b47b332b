package sim

import (
	"context"
	"maps"
	"slices"
	"time"

	"github.com/shopspring/decimal"

	"salkit/core"
	"salkit/platform"
)

// statsSession is the local user's loaded stats and achievements. Writes stay
// in the session until StoreStats commits them.
type statsSession struct {
	stats        map[string]core.StatValue
	achievements map[string]core.AchievementState
	// notify lists achievements to report on the next commit.
	notify []string
}

func (p *Platform) RequestUserStats(user core.SubjectID, done platform.Completion[platform.UserStatsReceived]) platform.CallID {
	return dispatch(p, CallRequestUserStats, done, func(ctx context.Context, f Fault) (*platform.UserStatsReceived, error) {
		res := &platform.UserStatsReceived{GameID: p.gameID(f), Result: platform.ResultOK, User: user}
		if f == FaultLogical {
			res.Result = platform.ResultFail
			return res, nil
		}
		stats, err := p.store.Stats(ctx, user)
		if err != nil {
			return nil, err
		}
		ach, err := p.store.Achievements(ctx, user)
		if err != nil {
			return nil, err
		}
		if user == p.cfg.LocalUser {
			if stats == nil {
				stats = map[string]core.StatValue{}
			}
			if ach == nil {
				ach = map[string]core.AchievementState{}
			}
			p.mu.Lock()
			p.session = &statsSession{stats: stats, achievements: ach}
			p.mu.Unlock()
		}
		return res, nil
	})
}

func (p *Platform) RequestGlobalStats(days int, done platform.Completion[platform.GlobalStatsReceived]) platform.CallID {
	return dispatch(p, CallRequestGlobalStats, done, func(_ context.Context, f Fault) (*platform.GlobalStatsReceived, error) {
		res := &platform.GlobalStatsReceived{GameID: p.gameID(f), Result: platform.ResultOK}
		if f == FaultLogical {
			res.Result = platform.ResultFail
			return res, nil
		}
		p.mu.Lock()
		p.globalLoaded = true
		p.mu.Unlock()
		p.log.Debug("global stats loaded", "days", days)
		return res, nil
	})
}

// StoreStats commits the session, then reports the stats commit followed by
// one achievement notification per newly unlocked or progressed achievement.
func (p *Platform) StoreStats(onStats func(*platform.UserStatsStored), onAchievement func(*platform.UserAchievementStored)) bool {
	f := p.faults.take(CallStoreStats)
	p.mu.Lock()
	s := p.session
	if f == FaultInvalidCall || s == nil || p.ctx.Err() != nil {
		p.mu.Unlock()
		return false
	}
	stats := maps.Clone(s.stats)
	ach := maps.Clone(s.achievements)
	notify := s.notify
	s.notify = nil
	p.mu.Unlock()

	p.after(func() {
		switch f {
		case FaultIOFailure, FaultNilPayload:
			if onStats != nil {
				onStats(nil)
			}
			return
		}
		res := &platform.UserStatsStored{GameID: p.gameID(f), Result: platform.ResultOK}
		if f == FaultLogical {
			res.Result = platform.ResultFail
		} else {
			me := p.cfg.LocalUser
			if err := p.store.PutStats(p.ctx, me, stats); err != nil {
				p.log.Warn("store stats failed", "error", err)
				res.Result = platform.ResultFail
			} else if err := p.store.PutAchievements(p.ctx, me, ach); err != nil {
				p.log.Warn("store achievements failed", "error", err)
				res.Result = platform.ResultFail
			}
		}
		if onStats != nil {
			onStats(res)
			if f == FaultDuplicate {
				onStats(res)
			}
		}
		if onAchievement == nil || res.Result != platform.ResultOK {
			return
		}
		for _, name := range notify {
			st := ach[name]
			onAchievement(&platform.UserAchievementStored{GameID: res.GameID, APIName: name, Progress: st.Progress, Max: st.Max})
		}
	})
	return true
}

// withSession runs fn on the loaded session, or reports false.
func (p *Platform) withSession(fn func(s *statsSession) bool) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.session == nil {
		return false
	}
	return fn(p.session)
}

// statType resolves name against the schema. Without a schema any stat
// exists with the type it was first written as.
func (p *Platform) statType(s *statsSession, name string, want core.StatType) bool {
	if len(p.cfg.StatSchema) > 0 {
		t, ok := p.cfg.StatSchema[name]
		return ok && t == want
	}
	if v, ok := s.stats[name]; ok {
		return v.Type == want
	}
	return true
}

func (p *Platform) GetStatInt(name string) (v int32, ok bool) {
	ok = p.withSession(func(s *statsSession) bool {
		if !p.statType(s, name, core.StatInteger) {
			return false
		}
		v = s.stats[name].Integer
		return true
	})
	return v, ok
}

// GetStatFloat reads float and average-rate stats.
func (p *Platform) GetStatFloat(name string) (v float64, ok bool) {
	ok = p.withSession(func(s *statsSession) bool {
		if !p.statType(s, name, core.StatFloat) && !p.statType(s, name, core.StatAverage) {
			return false
		}
		v = s.stats[name].Float
		return true
	})
	return v, ok
}

func (p *Platform) SetStatInt(name string, v int32) bool {
	return p.withSession(func(s *statsSession) bool {
		if !p.statType(s, name, core.StatInteger) {
			return false
		}
		s.stats[name] = core.StatValue{Type: core.StatInteger, Integer: v}
		return true
	})
}

func (p *Platform) SetStatFloat(name string, v float64) bool {
	return p.withSession(func(s *statsSession) bool {
		if !p.statType(s, name, core.StatFloat) {
			return false
		}
		s.stats[name] = core.StatValue{Type: core.StatFloat, Float: v}
		return true
	})
}

// UpdateAvgRateStat accumulates count over seconds; the stat reads as the
// running total count divided by total seconds.
func (p *Platform) UpdateAvgRateStat(name string, countThisSession, sessionSeconds float64) bool {
	if sessionSeconds <= 0 {
		return false
	}
	return p.withSession(func(s *statsSession) bool {
		if !p.statType(s, name, core.StatAverage) {
			return false
		}
		cur := s.stats[name]
		count := decimal.NewFromFloat(cur.Count).Add(decimal.NewFromFloat(countThisSession))
		secs := decimal.NewFromFloat(cur.Seconds).Add(decimal.NewFromFloat(sessionSeconds))
		c, _ := count.Float64()
		sec, _ := secs.Float64()
		rate, _ := count.DivRound(secs, 8).Float64()
		s.stats[name] = core.StatValue{Type: core.StatAverage, Float: rate, Count: c, Seconds: sec}
		return true
	})
}

// ResetAllStats clears the session and the stored stats right away.
func (p *Platform) ResetAllStats(achievementsToo bool) bool {
	ok := p.withSession(func(s *statsSession) bool {
		s.stats = map[string]core.StatValue{}
		if achievementsToo {
			s.achievements = map[string]core.AchievementState{}
		}
		return true
	})
	if !ok {
		return false
	}
	if err := p.store.ResetStats(p.ctx, p.cfg.LocalUser, achievementsToo); err != nil {
		p.log.Warn("reset stats failed", "error", err)
		return false
	}
	return true
}

func (p *Platform) globalStat(name string) (float64, bool) {
	p.mu.Lock()
	loaded := p.globalLoaded
	p.mu.Unlock()
	if !loaded {
		return 0, false
	}
	v, ok := p.cfg.GlobalStats[name]
	return v, ok
}

func (p *Platform) GlobalStatInt(name string) (int64, bool) {
	v, ok := p.globalStat(name)
	return int64(v), ok
}

func (p *Platform) GlobalStatFloat(name string) (float64, bool) {
	return p.globalStat(name)
}

func (p *Platform) achievementDef(name string) (AchievementDef, bool) {
	i := slices.IndexFunc(p.cfg.Achievements, func(d AchievementDef) bool { return d.APIName == name })
	if i < 0 {
		return AchievementDef{}, false
	}
	return p.cfg.Achievements[i], true
}

func (p *Platform) GetAchievement(name string) (unlocked bool, ok bool) {
	unlocked, _, ok = p.GetAchievementAndUnlockTime(name)
	return unlocked, ok
}

func (p *Platform) GetAchievementAndUnlockTime(name string) (unlocked bool, at time.Time, ok bool) {
	if _, known := p.achievementDef(name); !known {
		return false, time.Time{}, false
	}
	ok = p.withSession(func(s *statsSession) bool {
		st := s.achievements[name]
		unlocked, at = st.Unlocked, st.UnlockedAt
		return true
	})
	return unlocked, at, ok
}

func (p *Platform) SetAchievement(name string) bool {
	if _, known := p.achievementDef(name); !known {
		return false
	}
	return p.withSession(func(s *statsSession) bool {
		st := s.achievements[name]
		if st.Unlocked {
			return true
		}
		st.Unlocked = true
		st.UnlockedAt = time.Now().UTC()
		s.achievements[name] = st
		s.notify = append(s.notify, name)
		return true
	})
}

func (p *Platform) ClearAchievement(name string) bool {
	if _, known := p.achievementDef(name); !known {
		return false
	}
	return p.withSession(func(s *statsSession) bool {
		st := s.achievements[name]
		st.Unlocked = false
		st.UnlockedAt = time.Time{}
		s.achievements[name] = st
		return true
	})
}

// IndicateAchievementProgress records progress on a locked achievement and
// reports it on the next commit.
func (p *Platform) IndicateAchievementProgress(name string, current, maxProgress uint32) bool {
	if _, known := p.achievementDef(name); !known || current > maxProgress {
		return false
	}
	return p.withSession(func(s *statsSession) bool {
		st := s.achievements[name]
		if st.Unlocked {
			return false
		}
		st.Progress, st.Max = current, maxProgress
		s.achievements[name] = st
		s.notify = append(s.notify, name)
		return true
	})
}

func (p *Platform) NumAchievements() int { return len(p.cfg.Achievements) }

func (p *Platform) AchievementName(index int) string {
	if index < 0 || index >= len(p.cfg.Achievements) {
		return ""
	}
	return p.cfg.Achievements[index].APIName
}

func (p *Platform) AchievementDisplayAttribute(name, key string) string {
	d, ok := p.achievementDef(name)
	if !ok {
		return ""
	}
	switch key {
	case "name":
		return d.DisplayName
	case "desc":
		return d.Description
	case "hidden":
		if d.Hidden {
			return "1"
		}
		return "0"
	}
	return ""
}

func (p *Platform) AchievementAchievedPercent(name string) (float32, bool) {
	d, ok := p.achievementDef(name)
	if !ok {
		return 0, false
	}
	p.mu.Lock()
	loaded := p.globalLoaded
	p.mu.Unlock()
	return d.GlobalPercent, loaded
}
