package sal

import (
	"errors"
	"sync"

	"salkit/core"
	"salkit/engine"
	"salkit/platform"
)

const (
	OpRequestCurrentStats       = "request_current_stats"
	OpRequestGlobalStats        = "request_global_stats"
	OpStoreStatsAndAchievements = "store_stats_and_achievements"
)

// checkApp fails callbacks addressed to another app.
func (c *Client) checkApp(op string, gameID uint64) error {
	if want := uint64(c.svc.Utils.AppID()); gameID != want {
		return core.Logicalf(op, "callback for app %d, want %d", gameID, want)
	}
	return nil
}

// RequestCurrentStats loads the local user's stats and achievements into the session.
func (c *Client) RequestCurrentStats(owner engine.OwnerRef, cb Callbacks[struct{}]) *engine.Handle {
	op := engine.Operation[struct{}, platform.UserStatsReceived, struct{}]{
		Name: OpRequestCurrentStats,
		Ready: func() error {
			if err := need(c.hasStats(), c.hasUser(), c.hasUtils())(); err != nil {
				return err
			}
			if !c.svc.User.LoggedOn() {
				return errors.New("user is not logged on")
			}
			return nil
		},
		Call: func(_ struct{}, done platform.Completion[platform.UserStatsReceived]) platform.CallID {
			return c.svc.UserStats.RequestUserStats(c.svc.User.SubjectID(), done)
		},
		Extract: func(_ struct{}, raw *platform.UserStatsReceived) (struct{}, error) {
			if err := c.checkApp(OpRequestCurrentStats, raw.GameID); err != nil {
				return struct{}{}, err
			}
			if raw.Result != platform.ResultOK {
				return struct{}{}, core.Logicalf(OpRequestCurrentStats, "request failed with result %s", raw.Result)
			}
			return struct{}{}, nil
		},
	}
	return engine.Submit(c.rt, owner, op, struct{}{}, cb)
}

// RequestGlobalStats loads aggregated stats with days of history. Negative days read as 0.
func (c *Client) RequestGlobalStats(owner engine.OwnerRef, days int, cb Callbacks[struct{}]) *engine.Handle {
	op := engine.Operation[int, platform.GlobalStatsReceived, struct{}]{
		Name:     OpRequestGlobalStats,
		Validate: func(d int) (int, error) { return max(d, 0), nil },
		Ready:    need(c.hasStats(), c.hasUtils()),
		Call: func(d int, done platform.Completion[platform.GlobalStatsReceived]) platform.CallID {
			return c.svc.UserStats.RequestGlobalStats(d, done)
		},
		Extract: func(_ int, raw *platform.GlobalStatsReceived) (struct{}, error) {
			if err := c.checkApp(OpRequestGlobalStats, raw.GameID); err != nil {
				return struct{}{}, err
			}
			if raw.Result != platform.ResultOK {
				return struct{}{}, core.Logicalf(OpRequestGlobalStats, "request failed with result %s", raw.Result)
			}
			return struct{}{}, nil
		},
	}
	return engine.Submit(c.rt, owner, op, days, cb)
}

// StoreStatsAndAchievements commits the session. The first of the
// stats-stored and achievement-stored callbacks decides the outcome.
func (c *Client) StoreStatsAndAchievements(owner engine.OwnerRef, cb Callbacks[struct{}]) *engine.Handle {
	name := OpStoreStatsAndAchievements
	job := engine.Job[struct{}, struct{}]{
		Name:  name,
		Ready: need(c.hasStats(), c.hasUtils()),
		Run: func(_ struct{}, _ engine.OwnerRef, finish func(struct{}, error)) {
			var once sync.Once
			decide := func(err error) {
				once.Do(func() { finish(struct{}{}, err) })
			}
			onStats := func(raw *platform.UserStatsStored) {
				switch {
				case raw == nil:
					decide(core.Transport(name, "stats stored callback without payload"))
				case raw.GameID != uint64(c.svc.Utils.AppID()):
					decide(c.checkApp(name, raw.GameID))
				case raw.Result != platform.ResultOK:
					decide(core.Logicalf(name, "stats store failed with result %s", raw.Result))
				default:
					decide(nil)
				}
			}
			onAchievement := func(raw *platform.UserAchievementStored) {
				switch {
				case raw == nil:
					decide(core.Transport(name, "achievement stored callback without payload"))
				case raw.GameID != uint64(c.svc.Utils.AppID()):
					decide(c.checkApp(name, raw.GameID))
				default:
					decide(nil)
				}
			}
			if !c.svc.UserStats.StoreStats(onStats, onAchievement) {
				decide(core.Rejected(name, "store stats returned false"))
			}
		},
	}
	return engine.SubmitFunc(c.rt, owner, job, struct{}{}, cb)
}
