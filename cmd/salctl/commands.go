package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"

	"salkit/analytics"
	"salkit/core"
	sdk "salkit/sdk/go"
)

// HealthCmd probes /healthz.
type HealthCmd struct{}

func (c *HealthCmd) Run(g *Globals) error {
	ctx, cancel := g.context()
	defer cancel()
	hs, err := g.Client.Health(ctx)
	if err != nil {
		return fmt.Errorf("health: %w", err)
	}
	return g.print(hs, func(w *tabwriter.Writer) {
		row(w, "STATUS", hs.Status)
		for k, v := range hs.Checks {
			row(w, k, v)
		}
	})
}

// --- Leaderboards ---

type BoardCmd struct {
	Find      BoardFindCmd      `cmd:"" help:"Find a leaderboard by name."`
	Create    BoardCreateCmd    `cmd:"" help:"Find or create a leaderboard."`
	Info      BoardInfoCmd      `cmd:"" help:"Describe a leaderboard."`
	Entries   BoardEntriesCmd   `cmd:"" help:"Download a range of entries."`
	Users     BoardUsersCmd     `cmd:"" help:"Download entries of specific users."`
	Upload    BoardUploadCmd    `cmd:"" help:"Upload a score."`
	UploadUGC BoardUploadUGCCmd `cmd:"" name:"upload-ugc" help:"Upload a score with an attached file."`
}

func printBoard(g *Globals, info sdk.LeaderboardInfo) error {
	return g.print(info, func(w *tabwriter.Writer) {
		row(w, "HANDLE", "NAME", "ENTRIES", "SORT", "DISPLAY")
		row(w, info.Handle, info.Name, info.EntryCount, info.Sort, info.Display)
	})
}

func printEntries(g *Globals, rows []core.EntryRow) error {
	return g.print(rows, func(w *tabwriter.Writer) {
		row(w, "RANK", "PLAYER", "SUBJECT", "SCORE", "DETAILS", "UGC")
		for _, r := range rows {
			row(w, r.GlobalRank, r.PlayerName, r.Subject, humanize.Comma(int64(r.Score)), r.Details, r.UGC)
		}
	})
}

type BoardFindCmd struct {
	Name string `arg:"" help:"Leaderboard name."`
}

func (c *BoardFindCmd) Run(g *Globals) error {
	ctx, cancel := g.context()
	defer cancel()
	info, err := g.Client.FindLeaderboard(ctx, c.Name)
	if err != nil {
		return fmt.Errorf("board find: %w", err)
	}
	return printBoard(g, info)
}

type BoardCreateCmd struct {
	Name    string `arg:"" help:"Leaderboard name."`
	Sort    string `help:"Sort method." enum:"ascending,descending" default:"descending"`
	Display string `help:"Display type." enum:"numeric,time_seconds,time_milliseconds" default:"numeric"`
}

func (c *BoardCreateCmd) Run(g *Globals) error {
	ctx, cancel := g.context()
	defer cancel()
	info, err := g.Client.CreateLeaderboard(ctx, c.Name, c.Sort, c.Display)
	if err != nil {
		return fmt.Errorf("board create: %w", err)
	}
	return printBoard(g, info)
}

type BoardInfoCmd struct {
	Handle core.LeaderboardHandle `arg:"" help:"Leaderboard handle."`
}

func (c *BoardInfoCmd) Run(g *Globals) error {
	ctx, cancel := g.context()
	defer cancel()
	info, err := g.Client.Leaderboard(ctx, c.Handle)
	if err != nil {
		return fmt.Errorf("board info: %w", err)
	}
	return printBoard(g, info)
}

type BoardEntriesCmd struct {
	Handle  core.LeaderboardHandle `arg:"" help:"Leaderboard handle."`
	Type    string                 `help:"Range type." enum:"global,around_user,friends" default:"global"`
	Start   int                    `help:"First rank, or offset for around_user." default:"1"`
	End     int                    `help:"Last rank, or offset for around_user." default:"10"`
	Details int                    `help:"Detail values to fetch per row."`
}

func (c *BoardEntriesCmd) Run(g *Globals) error {
	ctx, cancel := g.context()
	defer cancel()
	rows, err := g.Client.Entries(ctx, c.Handle, sdk.EntriesQuery{Type: c.Type, Start: c.Start, End: c.End, Details: c.Details})
	if err != nil {
		return fmt.Errorf("board entries: %w", err)
	}
	return printEntries(g, rows)
}

type BoardUsersCmd struct {
	Handle core.LeaderboardHandle `arg:"" help:"Leaderboard handle."`
	IDs    []string               `arg:"" help:"Subject ids."`
}

func (c *BoardUsersCmd) Run(g *Globals) error {
	ctx, cancel := g.context()
	defer cancel()
	rows, err := g.Client.EntriesForUsers(ctx, c.Handle, c.IDs)
	if err != nil {
		return fmt.Errorf("board users: %w", err)
	}
	return printEntries(g, rows)
}

type BoardUploadCmd struct {
	Handle  core.LeaderboardHandle `arg:"" help:"Leaderboard handle."`
	Score   int32                  `arg:"" help:"Score value."`
	Method  string                 `help:"Upload method." enum:"keep_best,force_update" default:"keep_best"`
	Details []int32                `help:"Detail values."`
}

func (c *BoardUploadCmd) Run(g *Globals) error {
	ctx, cancel := g.context()
	defer cancel()
	res, err := g.Client.UploadScore(ctx, c.Handle, sdk.Score{Score: c.Score, Method: c.Method, Details: c.Details})
	if err != nil {
		return fmt.Errorf("board upload: %w", err)
	}
	return g.print(res, func(w *tabwriter.Writer) {
		row(w, "SCORE", "CHANGED", "RANK", "PREVIOUS")
		row(w, res.Score, res.ScoreChanged, res.RankNew, res.RankPrevious)
	})
}

type BoardUploadUGCCmd struct {
	Handle  core.LeaderboardHandle `arg:"" help:"Leaderboard handle."`
	Score   int32                  `arg:"" help:"Score value."`
	File    string                 `arg:"" type:"existingfile" help:"File to attach."`
	Name    string                 `help:"Remote file name. Defaults to the local base name."`
	Details []int32                `help:"Detail values."`
}

func (c *BoardUploadUGCCmd) Run(g *Globals) error {
	data, err := os.ReadFile(c.File)
	if err != nil {
		return fmt.Errorf("board upload-ugc: %w", err)
	}
	name := c.Name
	if name == "" {
		name = filepath.Base(c.File)
	}
	ctx, cancel := g.context()
	defer cancel()
	res, err := g.Client.UploadScoreWithUGC(ctx, c.Handle, sdk.UGCScore{Score: c.Score, Details: c.Details, File: name, Data: data})
	if err != nil {
		return fmt.Errorf("board upload-ugc: %w", err)
	}
	return g.print(res, func(w *tabwriter.Writer) {
		row(w, "SCORE", "UGC", "SIZE")
		row(w, res.Score, res.Handle, humanize.Bytes(uint64(len(data))))
	})
}

// --- UGC ---

type UGCCmd struct {
	Handle   core.UGCHandle `arg:"" help:"Shared file handle."`
	Out      string         `help:"Write the file here instead of printing a summary." short:"O" type:"path"`
	MaxBytes int            `help:"Download at most this many bytes."`
}

func (c *UGCCmd) Run(g *Globals) error {
	ctx, cancel := g.context()
	defer cancel()
	data, size, err := g.Client.DownloadUGC(ctx, c.Handle, c.MaxBytes)
	if err != nil {
		return fmt.Errorf("ugc: %w", err)
	}
	if c.Out != "" {
		if err := os.WriteFile(c.Out, data, 0o600); err != nil {
			return fmt.Errorf("ugc: %w", err)
		}
	}
	summary := map[string]any{"handle": c.Handle, "size": size, "received": len(data), "path": c.Out}
	return g.print(summary, func(w *tabwriter.Writer) {
		row(w, "HANDLE", "SIZE", "RECEIVED", "PATH")
		row(w, c.Handle, humanize.Bytes(uint64(size)), humanize.Bytes(uint64(len(data))), c.Out)
	})
}

// --- Stats ---

type StatsCmd struct {
	Refresh       StatsRefreshCmd       `cmd:"" help:"Load the user's stats."`
	RefreshGlobal StatsRefreshGlobalCmd `cmd:"" name:"refresh-global" help:"Load global stats."`
	Get           StatsGetCmd           `cmd:"" help:"Read a stat."`
	Set           StatsSetCmd           `cmd:"" help:"Write an integer or float stat."`
	Add           StatsAddCmd           `cmd:"" help:"Add to a stat."`
	Global        StatsGlobalCmd        `cmd:"" help:"Read a global stat."`
	Store         StatsStoreCmd         `cmd:"" help:"Commit stats and achievements."`
	Reset         StatsResetCmd         `cmd:"" help:"Reset all stats."`
}

type StatsRefreshCmd struct{}

func (c *StatsRefreshCmd) Run(g *Globals) error {
	ctx, cancel := g.context()
	defer cancel()
	if err := g.Client.RefreshStats(ctx); err != nil {
		return fmt.Errorf("stats refresh: %w", err)
	}
	return g.ok("stats loaded")
}

type StatsRefreshGlobalCmd struct {
	Days int `help:"Days of history." default:"0"`
}

func (c *StatsRefreshGlobalCmd) Run(g *Globals) error {
	ctx, cancel := g.context()
	defer cancel()
	if err := g.Client.RefreshGlobalStats(ctx, c.Days); err != nil {
		return fmt.Errorf("stats refresh-global: %w", err)
	}
	return g.ok("global stats loaded")
}

type StatsGetCmd struct {
	Name string `arg:"" help:"Stat API name."`
	Type string `help:"Stat type." enum:"integer,float,average" default:"integer"`
}

func (c *StatsGetCmd) Run(g *Globals) error {
	ctx, cancel := g.context()
	defer cancel()
	st, err := g.Client.Stat(ctx, c.Name, c.Type)
	if err != nil {
		return fmt.Errorf("stats get: %w", err)
	}
	return g.print(st, func(w *tabwriter.Writer) {
		row(w, "NAME", "INTEGER", "FLOAT")
		row(w, st.APIName, st.Integer, st.Float)
	})
}

type StatsSetCmd struct {
	Name  string  `arg:"" help:"Stat API name."`
	Value float64 `arg:"" help:"New value."`
	Type  string  `help:"Stat type." enum:"integer,float" default:"integer"`
}

func (c *StatsSetCmd) Run(g *Globals) error {
	w := sdk.StatWrite{Type: c.Type, Float: c.Value}
	if c.Type == "integer" {
		w = sdk.StatWrite{Type: c.Type, Integer: int32(c.Value)}
	}
	ctx, cancel := g.context()
	defer cancel()
	if err := g.Client.SetStat(ctx, c.Name, w); err != nil {
		return fmt.Errorf("stats set: %w", err)
	}
	return g.ok(c.Name + " updated")
}

type StatsAddCmd struct {
	Name  string  `arg:"" help:"Stat API name."`
	Delta float64 `arg:"" help:"Amount to add."`
	Type  string  `help:"Stat type." enum:"integer,float" default:"integer"`
}

func (c *StatsAddCmd) Run(g *Globals) error {
	ctx, cancel := g.context()
	defer cancel()
	v, err := g.Client.AddStat(ctx, c.Name, c.Type, c.Delta)
	if err != nil {
		return fmt.Errorf("stats add: %w", err)
	}
	return g.print(map[string]any{"name": c.Name, "value": v}, func(w *tabwriter.Writer) {
		row(w, c.Name, v)
	})
}

type StatsGlobalCmd struct {
	Name string `arg:"" help:"Stat API name."`
	Type string `help:"Stat type." enum:"integer,float" default:"integer"`
}

func (c *StatsGlobalCmd) Run(g *Globals) error {
	ctx, cancel := g.context()
	defer cancel()
	v, err := g.Client.GlobalStat(ctx, c.Name, c.Type)
	if err != nil {
		return fmt.Errorf("stats global: %w", err)
	}
	return g.print(map[string]string{"name": c.Name, "value": v}, func(w *tabwriter.Writer) {
		row(w, c.Name, v)
	})
}

type StatsStoreCmd struct{}

func (c *StatsStoreCmd) Run(g *Globals) error {
	ctx, cancel := g.context()
	defer cancel()
	if err := g.Client.StoreStats(ctx); err != nil {
		return fmt.Errorf("stats store: %w", err)
	}
	return g.ok("stats stored")
}

type StatsResetCmd struct {
	Achievements bool `help:"Also clear achievements."`
}

func (c *StatsResetCmd) Run(g *Globals) error {
	ctx, cancel := g.context()
	defer cancel()
	if err := g.Client.ResetStats(ctx, c.Achievements); err != nil {
		return fmt.Errorf("stats reset: %w", err)
	}
	return g.ok("stats reset")
}

// --- Achievements ---

type AchievementCmd struct {
	List     AchievementListCmd     `cmd:"" help:"List achievements."`
	Set      AchievementSetCmd      `cmd:"" help:"Unlock an achievement."`
	Clear    AchievementClearCmd    `cmd:"" help:"Lock an achievement again."`
	Progress AchievementProgressCmd `cmd:"" help:"Show progress toward an achievement."`
}

type AchievementListCmd struct{}

func (c *AchievementListCmd) Run(g *Globals) error {
	ctx, cancel := g.context()
	defer cancel()
	list, err := g.Client.Achievements(ctx)
	if err != nil {
		return fmt.Errorf("achievement list: %w", err)
	}
	return g.print(list, func(w *tabwriter.Writer) {
		row(w, "NAME", "DISPLAY", "UNLOCKED", "WHEN")
		for _, a := range list {
			when := ""
			if a.Unlocked && !a.UnlockedAt.IsZero() {
				when = humanize.Time(a.UnlockedAt)
			}
			row(w, a.APIName, a.DisplayName, a.Unlocked, when)
		}
	})
}

type AchievementSetCmd struct {
	Name string `arg:"" help:"Achievement API name."`
}

func (c *AchievementSetCmd) Run(g *Globals) error {
	ctx, cancel := g.context()
	defer cancel()
	if err := g.Client.SetAchievement(ctx, c.Name); err != nil {
		return fmt.Errorf("achievement set: %w", err)
	}
	return g.ok(c.Name + " unlocked")
}

type AchievementClearCmd struct {
	Name string `arg:"" help:"Achievement API name."`
}

func (c *AchievementClearCmd) Run(g *Globals) error {
	ctx, cancel := g.context()
	defer cancel()
	if err := g.Client.ClearAchievement(ctx, c.Name); err != nil {
		return fmt.Errorf("achievement clear: %w", err)
	}
	return g.ok(c.Name + " cleared")
}

type AchievementProgressCmd struct {
	Name    string `arg:"" help:"Achievement API name."`
	Current int    `arg:"" help:"Current progress."`
	Max     int    `arg:"" help:"Progress needed to unlock."`
}

func (c *AchievementProgressCmd) Run(g *Globals) error {
	ctx, cancel := g.context()
	defer cancel()
	if err := g.Client.AchievementProgress(ctx, c.Name, c.Current, c.Max); err != nil {
		return fmt.Errorf("achievement progress: %w", err)
	}
	return g.ok(fmt.Sprintf("%s %d/%d", c.Name, c.Current, c.Max))
}

// --- Avatars ---

type AvatarCmd struct {
	Subject string `arg:"" help:"Subject id."`
	Size    string `help:"Avatar size." enum:"small,medium,large" default:"medium"`
	Out     string `help:"PNG output path." short:"O" type:"path" required:""`
}

func (c *AvatarCmd) Run(g *Globals) error {
	ctx, cancel := g.context()
	defer cancel()
	png, err := g.Client.Avatar(ctx, c.Subject, c.Size)
	if err != nil {
		return fmt.Errorf("avatar: %w", err)
	}
	if err := os.WriteFile(c.Out, png, 0o600); err != nil {
		return fmt.Errorf("avatar: %w", err)
	}
	return g.ok(fmt.Sprintf("wrote %s (%s)", c.Out, humanize.Bytes(uint64(len(png)))))
}

// --- Events ---

type EventsCmd struct {
	Types []string      `help:"Only stream these event types." name:"type" short:"t"`
	For   time.Duration `help:"Stop after this long. Zero streams until interrupted."`
}

func (c *EventsCmd) Run(g *Globals) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if c.For > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.For)
		defer cancel()
	}
	types := make([]core.EventType, len(c.Types))
	for i, t := range c.Types {
		types[i] = core.EventType(t)
	}
	events, err := g.Client.SubscribeEvents(ctx, types...)
	if err != nil {
		return fmt.Errorf("events: %w", err)
	}
	enc := json.NewEncoder(g.Out)
	for evt := range events {
		if g.JSON {
			if err := enc.Encode(evt); err != nil {
				return err
			}
			continue
		}
		line := fmt.Sprintf("%s  %-20s %-28s %s", evt.Time.Format(time.TimeOnly), evt.Type, evt.Op, evt.RequestID)
		if evt.Kind != "" {
			line += fmt.Sprintf("  %s: %s", evt.Kind, evt.Reason)
		}
		if _, err := fmt.Fprintln(g.Out, line); err != nil {
			return err
		}
	}
	return nil
}

// --- Metrics ---

type MetricsCmd struct{}

func (c *MetricsCmd) Run(g *Globals) error {
	ctx, cancel := g.context()
	defer cancel()
	snap, err := g.Client.Metrics(ctx)
	if err != nil {
		return fmt.Errorf("metrics: %w", err)
	}
	return g.print(snap, func(w *tabwriter.Writer) { metricsTable(w, snap) })
}

func metricsTable(w *tabwriter.Writer, snap analytics.Snapshot) {
	row(w, "OP", "DISPATCHED", "COMPLETED", "FAILED", "DISCARDED", "MEAN", "MAX")
	for _, o := range snap.Ops {
		row(w, o.Op, humanize.Comma(o.Dispatched), o.Completed, o.Failed, o.Discarded, o.MeanTime(), o.MaxTime)
	}
	row(w, "")
	row(w, "outstanding", snap.Outstanding, "cache hits", snap.CacheHits)
}
