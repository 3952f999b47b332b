package sal

import (
	"errors"
	"fmt"
	"strconv"

	"salkit/core"
	"salkit/imaging"
	"salkit/platform"
)

var (
	// ErrUnavailable reports that the service a call needs is not initialized.
	ErrUnavailable = errors.New("platform service unavailable")
	// ErrRejected reports that the platform refused a synchronous call.
	ErrRejected = errors.New("platform rejected the call")
)

// IsAvailable reports whether every service is present, the app id is known
// and the user is logged on.
func (c *Client) IsAvailable() bool { return c.svc.Available() }

// LocalSubject returns the logged-on user's id.
func (c *Client) LocalSubject() (core.SubjectID, error) {
	if c.svc.User == nil {
		return "", ErrUnavailable
	}
	id := c.svc.User.SubjectID()
	if id == "" {
		return "", fmt.Errorf("no local user: %w", ErrRejected)
	}
	return id, nil
}

func (c *Client) statsFor(h core.LeaderboardHandle) error {
	if c.svc.UserStats == nil {
		return ErrUnavailable
	}
	if !h.Valid() {
		return errors.New("invalid leaderboard handle")
	}
	return nil
}

func (c *Client) LeaderboardName(h core.LeaderboardHandle) (string, error) {
	if err := c.statsFor(h); err != nil {
		return "", err
	}
	return c.svc.UserStats.LeaderboardName(h), nil
}

func (c *Client) LeaderboardEntryCount(h core.LeaderboardHandle) (int, error) {
	if err := c.statsFor(h); err != nil {
		return 0, err
	}
	return c.svc.UserStats.LeaderboardEntryCount(h), nil
}

func (c *Client) LeaderboardSortMethod(h core.LeaderboardHandle) (core.SortMethod, error) {
	if err := c.statsFor(h); err != nil {
		return core.SortDescending, err
	}
	return c.svc.UserStats.LeaderboardSortMethod(h), nil
}

func (c *Client) LeaderboardDisplayType(h core.LeaderboardHandle) (core.DisplayType, error) {
	if err := c.statsFor(h); err != nil {
		return core.DisplayNumeric, err
	}
	return c.svc.UserStats.LeaderboardDisplayType(h), nil
}

// statsNamed checks the stats service and an API name.
func (c *Client) statsNamed(name string) error {
	if c.svc.UserStats == nil {
		return ErrUnavailable
	}
	return core.ValidateAPIName(name)
}

// SetAchievement unlocks an achievement in the session. Call
// StoreStatsAndAchievements to commit it.
func (c *Client) SetAchievement(name string) error {
	if err := c.statsNamed(name); err != nil {
		return err
	}
	if !c.svc.UserStats.SetAchievement(name) {
		return fmt.Errorf("set achievement %q: %w", name, ErrRejected)
	}
	return nil
}

func (c *Client) ClearAchievement(name string) error {
	if err := c.statsNamed(name); err != nil {
		return err
	}
	if !c.svc.UserStats.ClearAchievement(name) {
		return fmt.Errorf("clear achievement %q: %w", name, ErrRejected)
	}
	return nil
}

// AchievementStatus returns whether an achievement is unlocked and when.
func (c *Client) AchievementStatus(name string) (core.AchievementState, error) {
	if err := c.statsNamed(name); err != nil {
		return core.AchievementState{}, err
	}
	unlocked, at, ok := c.svc.UserStats.GetAchievementAndUnlockTime(name)
	if !ok {
		return core.AchievementState{}, fmt.Errorf("achievement %q: %w", name, core.ErrNotFound)
	}
	st := core.AchievementState{Unlocked: unlocked}
	if unlocked {
		st.UnlockedAt = at
	}
	return st, nil
}

// AchievementAPIName returns the API name at index of the schema.
func (c *Client) AchievementAPIName(index int) (string, error) {
	if c.svc.UserStats == nil {
		return "", ErrUnavailable
	}
	name := c.svc.UserStats.AchievementName(index)
	if name == "" {
		return "", fmt.Errorf("achievement index %d: %w", index, core.ErrNotFound)
	}
	return name, nil
}

func (c *Client) NumAchievements() (int, error) {
	if c.svc.UserStats == nil {
		return 0, ErrUnavailable
	}
	return c.svc.UserStats.NumAchievements(), nil
}

// AchievementAPINames lists every achievement of the schema, skipping empty names.
func (c *Client) AchievementAPINames() ([]string, error) {
	n, err := c.NumAchievements()
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, n)
	for i := 0; i < n; i++ {
		if name := c.svc.UserStats.AchievementName(i); name != "" {
			names = append(names, name)
		}
	}
	return names, nil
}

// AchievementDisplayInfo returns the localized name and description, plus
// the global unlock percent when global stats were requested.
func (c *Client) AchievementDisplayInfo(name string) (core.AchievementInfo, error) {
	if err := c.statsNamed(name); err != nil {
		return core.AchievementInfo{}, err
	}
	info := core.AchievementInfo{
		APIName:     name,
		DisplayName: c.svc.UserStats.AchievementDisplayAttribute(name, "name"),
		Description: c.svc.UserStats.AchievementDisplayAttribute(name, "desc"),
	}
	if info.DisplayName == "" && info.Description == "" {
		return info, fmt.Errorf("achievement %q: %w", name, core.ErrNotFound)
	}
	if pct, ok := c.svc.UserStats.AchievementAchievedPercent(name); ok {
		info.GlobalPercent = pct
	}
	return info, nil
}

// GlobalAchievementPercent needs RequestGlobalStats to have completed.
func (c *Client) GlobalAchievementPercent(name string) (float32, error) {
	if err := c.statsNamed(name); err != nil {
		return 0, err
	}
	pct, ok := c.svc.UserStats.AchievementAchievedPercent(name)
	if !ok {
		return 0, fmt.Errorf("global percent of %q: %w", name, ErrRejected)
	}
	return pct, nil
}

// IndicateAchievementProgress shows a progress notification. Reaching max
// unlocks the achievement and starts a store; store failures are logged.
func (c *Client) IndicateAchievementProgress(name string, current, maxProgress int) error {
	if err := c.statsNamed(name); err != nil {
		return err
	}
	if maxProgress <= 0 || current < 0 {
		return fmt.Errorf("invalid progress %d/%d", current, maxProgress)
	}
	cur := uint32(min(current, maxProgress))
	if !c.svc.UserStats.IndicateAchievementProgress(name, cur, uint32(maxProgress)) {
		return fmt.Errorf("indicate progress of %q: %w", name, ErrRejected)
	}
	if int(cur) < maxProgress {
		return nil
	}
	if unlocked, _ := c.svc.UserStats.GetAchievement(name); unlocked {
		return nil
	}
	if !c.svc.UserStats.SetAchievement(name) {
		return fmt.Errorf("unlock %q: %w", name, ErrRejected)
	}
	stored := c.svc.UserStats.StoreStats(func(r *platform.UserStatsStored) {
		if r == nil || r.Result != platform.ResultOK {
			c.log.Warn("store after progress failed", "achievement", name)
		}
	}, nil)
	if !stored {
		return fmt.Errorf("store after unlocking %q: %w", name, ErrRejected)
	}
	return nil
}

// AchievementIcon returns the achievement's icon in RGBA8 order. The icon
// of a locked achievement is its greyed variant.
func (c *Client) AchievementIcon(name string) (*imaging.Texture, error) {
	if err := c.statsNamed(name); err != nil {
		return nil, err
	}
	if c.svc.Utils == nil {
		return nil, ErrUnavailable
	}
	h := c.svc.UserStats.AchievementIcon(name)
	if h == 0 {
		return nil, fmt.Errorf("icon of %q: %w", name, core.ErrNotFound)
	}
	return c.texture(h, imaging.FormatRGBA8)
}

// StoredStat reads one stat from the session. Average stats read as floats.
func (c *Client) StoredStat(name string, typ core.StatType) (core.StoredStat, error) {
	if err := c.statsNamed(name); err != nil {
		return core.StoredStat{}, err
	}
	out := core.StoredStat{FriendlyName: name, APIName: name, Type: typ}
	if typ == core.StatAverage {
		out.Type = core.StatFloat
	}
	var ok bool
	switch out.Type {
	case core.StatInteger:
		out.Integer, ok = c.svc.UserStats.GetStatInt(name)
	case core.StatFloat:
		out.Float, ok = c.svc.UserStats.GetStatFloat(name)
	default:
		return out, fmt.Errorf("unsupported stat type %d", int(typ))
	}
	out.Succeeded = ok
	if !ok {
		return out, fmt.Errorf("stat %q: %w", name, core.ErrNotFound)
	}
	return out, nil
}

// StoredStats reads a batch. Each row reports its own success; the friendly
// name falls back to the API name.
func (c *Client) StoredStats(queries []core.StatQuery) ([]core.StoredStat, bool, error) {
	if c.svc.UserStats == nil {
		return nil, false, ErrUnavailable
	}
	out := make([]core.StoredStat, 0, len(queries))
	all := true
	for _, q := range queries {
		st, err := c.StoredStat(q.APIName, q.Type)
		st.APIName = q.APIName
		st.FriendlyName = q.FriendlyName
		if st.FriendlyName == "" {
			st.FriendlyName = q.APIName
		}
		if err != nil {
			all = false
			st.Succeeded = false
		}
		out = append(out, st)
	}
	return out, all, nil
}

// SetStoredStat writes one stat into the session. Average stats need a
// positive session length.
func (c *Client) SetStoredStat(w core.StatWrite) error {
	if err := c.statsNamed(w.APIName); err != nil {
		return err
	}
	var ok bool
	switch w.Type {
	case core.StatInteger:
		ok = c.svc.UserStats.SetStatInt(w.APIName, w.Integer)
	case core.StatFloat:
		ok = c.svc.UserStats.SetStatFloat(w.APIName, w.Float)
	case core.StatAverage:
		if w.Seconds <= 0 {
			return fmt.Errorf("average stat %q needs a positive session length", w.APIName)
		}
		ok = c.svc.UserStats.UpdateAvgRateStat(w.APIName, w.Count, w.Seconds)
	default:
		return fmt.Errorf("unsupported stat type %d", int(w.Type))
	}
	if !ok {
		c.log.Warn("set stat failed", "stat", w.APIName, "type", w.Type.String())
		return fmt.Errorf("set stat %q: %w", w.APIName, ErrRejected)
	}
	return nil
}

// SetStoredStats writes every stat and joins the failures.
func (c *Client) SetStoredStats(ws []core.StatWrite) error {
	if c.svc.UserStats == nil {
		return ErrUnavailable
	}
	var errs []error
	for _, w := range ws {
		if err := c.SetStoredStat(w); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// AddToStoredStat adds delta to an integer or float stat and returns the new value.
func (c *Client) AddToStoredStat(name string, typ core.StatType, delta float64) (float64, error) {
	if err := c.statsNamed(name); err != nil {
		return 0, err
	}
	switch typ {
	case core.StatInteger:
		cur, ok := c.svc.UserStats.GetStatInt(name)
		if !ok {
			return 0, fmt.Errorf("stat %q: %w", name, core.ErrNotFound)
		}
		next := cur + int32(delta)
		if !c.svc.UserStats.SetStatInt(name, next) {
			return 0, fmt.Errorf("set stat %q: %w", name, ErrRejected)
		}
		return float64(next), nil
	case core.StatFloat:
		cur, ok := c.svc.UserStats.GetStatFloat(name)
		if !ok {
			return 0, fmt.Errorf("stat %q: %w", name, core.ErrNotFound)
		}
		next := cur + delta
		if !c.svc.UserStats.SetStatFloat(name, next) {
			return 0, fmt.Errorf("set stat %q: %w", name, ErrRejected)
		}
		return next, nil
	}
	return 0, fmt.Errorf("only integer and float stats can be added to, got %s", typ)
}

// ResetStats clears every stat of the user, and achievements when asked.
func (c *Client) ResetStats(achievementsToo bool) error {
	if c.svc.UserStats == nil {
		return ErrUnavailable
	}
	if !c.svc.UserStats.ResetAllStats(achievementsToo) {
		return fmt.Errorf("reset stats: %w", ErrRejected)
	}
	return nil
}

// GlobalStat formats a global stat. It needs RequestGlobalStats to have completed.
func (c *Client) GlobalStat(name string, typ core.StatType) (string, error) {
	if err := c.statsNamed(name); err != nil {
		return "", err
	}
	switch typ {
	case core.StatInteger:
		if v, ok := c.svc.UserStats.GlobalStatInt(name); ok {
			return strconv.FormatInt(v, 10), nil
		}
	case core.StatFloat, core.StatAverage:
		if v, ok := c.svc.UserStats.GlobalStatFloat(name); ok {
			return strconv.FormatFloat(v, 'f', -1, 64), nil
		}
	default:
		return "", fmt.Errorf("unsupported stat type %d", int(typ))
	}
	return "", fmt.Errorf("global stat %q: %w", name, core.ErrNotFound)
}
