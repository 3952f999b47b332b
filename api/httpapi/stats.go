package httpapi

import (
	"bytes"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"salkit/core"
	"salkit/engine"
	"salkit/imaging"
	"salkit/sal"
)

type okResponse struct {
	OK bool `json:"ok"`
}

func (s *server) refreshStats(w http.ResponseWriter, r *http.Request) {
	if _, ok := await(s, w, r, func(o engine.OwnerRef, cb sal.Callbacks[struct{}]) *engine.Handle {
		return s.c.RequestCurrentStats(o, cb)
	}); ok {
		writeJSON(w, okResponse{OK: true})
	}
}

func (s *server) refreshGlobalStats(w http.ResponseWriter, r *http.Request) {
	days, ok := queryInt(w, r, "days", 0)
	if !ok {
		return
	}
	if _, ok := await(s, w, r, func(o engine.OwnerRef, cb sal.Callbacks[struct{}]) *engine.Handle {
		return s.c.RequestGlobalStats(o, days, cb)
	}); ok {
		writeJSON(w, okResponse{OK: true})
	}
}

func (s *server) storeStats(w http.ResponseWriter, r *http.Request) {
	if _, ok := await(s, w, r, func(o engine.OwnerRef, cb sal.Callbacks[struct{}]) *engine.Handle {
		return s.c.StoreStatsAndAchievements(o, cb)
	}); ok {
		writeJSON(w, okResponse{OK: true})
	}
}

func (s *server) resetStats(w http.ResponseWriter, r *http.Request) {
	achievements, _ := strconv.ParseBool(r.URL.Query().Get("achievements"))
	if err := s.c.ResetStats(achievements); err != nil {
		writeLibError(w, err)
		return
	}
	writeJSON(w, okResponse{OK: true})
}

func statType(w http.ResponseWriter, raw string) (core.StatType, bool) {
	t, err := core.ParseStatType(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, string(core.KindValidation), err.Error(), nil)
		return 0, false
	}
	return t, true
}

func (s *server) getStat(w http.ResponseWriter, r *http.Request) {
	typ, ok := statType(w, r.URL.Query().Get("type"))
	if !ok {
		return
	}
	st, err := s.c.StoredStat(chi.URLParam(r, "name"), typ)
	if err != nil {
		writeLibError(w, err)
		return
	}
	writeJSON(w, st)
}

// StatWriteRequest is the body of PUT /stats/{name}.
type StatWriteRequest struct {
	Type    string  `json:"type"`
	Integer int32   `json:"integer,omitempty"`
	Float   float64 `json:"float,omitempty"`
	Count   float64 `json:"count,omitempty"`
	Seconds float64 `json:"seconds,omitempty"`
}

func (s *server) setStat(w http.ResponseWriter, r *http.Request) {
	var req StatWriteRequest
	if !decodeBody(w, r, &req) {
		return
	}
	typ, ok := statType(w, req.Type)
	if !ok {
		return
	}
	err := s.c.SetStoredStat(core.StatWrite{
		APIName: chi.URLParam(r, "name"),
		Type:    typ,
		Integer: req.Integer,
		Float:   req.Float,
		Count:   req.Count,
		Seconds: req.Seconds,
	})
	if err != nil {
		writeLibError(w, err)
		return
	}
	writeJSON(w, okResponse{OK: true})
}

// AddStatRequest is the body of POST /stats/{name}/add.
type AddStatRequest struct {
	Type  string  `json:"type"`
	Delta float64 `json:"delta"`
}

func (s *server) addStat(w http.ResponseWriter, r *http.Request) {
	var req AddStatRequest
	if !decodeBody(w, r, &req) {
		return
	}
	typ, ok := statType(w, req.Type)
	if !ok {
		return
	}
	v, err := s.c.AddToStoredStat(chi.URLParam(r, "name"), typ, req.Delta)
	if err != nil {
		writeLibError(w, err)
		return
	}
	writeJSON(w, map[string]float64{"value": v})
}

// StatQueryResponse is the reply of POST /stats/query.
type StatQueryResponse struct {
	Stats     []core.StoredStat `json:"stats"`
	Succeeded bool              `json:"succeeded"`
}

func (s *server) queryStats(w http.ResponseWriter, r *http.Request) {
	var queries []core.StatQuery
	if !decodeBody(w, r, &queries) {
		return
	}
	stats, all, err := s.c.StoredStats(queries)
	if err != nil {
		writeLibError(w, err)
		return
	}
	writeJSON(w, StatQueryResponse{Stats: stats, Succeeded: all})
}

func (s *server) globalStat(w http.ResponseWriter, r *http.Request) {
	typ, ok := statType(w, r.URL.Query().Get("type"))
	if !ok {
		return
	}
	name := chi.URLParam(r, "name")
	v, err := s.c.GlobalStat(name, typ)
	if err != nil {
		writeLibError(w, err)
		return
	}
	writeJSON(w, map[string]string{"name": name, "value": v})
}

// Achievement combines schema info and the user's state.
type Achievement struct {
	core.AchievementInfo
	core.AchievementState
}

func (s *server) achievement(name string) (Achievement, error) {
	info, err := s.c.AchievementDisplayInfo(name)
	if err != nil {
		return Achievement{}, err
	}
	st, err := s.c.AchievementStatus(name)
	if err != nil {
		return Achievement{}, err
	}
	return Achievement{AchievementInfo: info, AchievementState: st}, nil
}

func (s *server) listAchievements(w http.ResponseWriter, r *http.Request) {
	names, err := s.c.AchievementAPINames()
	if err != nil {
		writeLibError(w, err)
		return
	}
	out := make([]Achievement, 0, len(names))
	for _, n := range names {
		a, err := s.achievement(n)
		if err != nil {
			writeLibError(w, err)
			return
		}
		out = append(out, a)
	}
	writeJSON(w, out)
}

func (s *server) getAchievement(w http.ResponseWriter, r *http.Request) {
	a, err := s.achievement(chi.URLParam(r, "name"))
	if err != nil {
		writeLibError(w, err)
		return
	}
	writeJSON(w, a)
}

func (s *server) setAchievement(w http.ResponseWriter, r *http.Request) {
	if err := s.c.SetAchievement(chi.URLParam(r, "name")); err != nil {
		writeLibError(w, err)
		return
	}
	writeJSON(w, okResponse{OK: true})
}

func (s *server) clearAchievement(w http.ResponseWriter, r *http.Request) {
	if err := s.c.ClearAchievement(chi.URLParam(r, "name")); err != nil {
		writeLibError(w, err)
		return
	}
	writeJSON(w, okResponse{OK: true})
}

// ProgressRequest is the body of POST /achievements/{name}/progress.
type ProgressRequest struct {
	Current int `json:"current"`
	Max     int `json:"max"`
}

func (s *server) achievementProgress(w http.ResponseWriter, r *http.Request) {
	var req ProgressRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := s.c.IndicateAchievementProgress(chi.URLParam(r, "name"), req.Current, req.Max); err != nil {
		writeLibError(w, err)
		return
	}
	writeJSON(w, okResponse{OK: true})
}

func (s *server) achievementIcon(w http.ResponseWriter, r *http.Request) {
	tex, err := s.c.AchievementIcon(chi.URLParam(r, "name"))
	if err != nil {
		writeLibError(w, err)
		return
	}
	writePNG(w, tex)
}

func (s *server) getAvatar(w http.ResponseWriter, r *http.Request) {
	size, err := core.ParseAvatarSize(r.URL.Query().Get("size"))
	if err != nil {
		writeError(w, http.StatusBadRequest, string(core.KindValidation), err.Error(), nil)
		return
	}
	subject := chi.URLParam(r, "subject")
	tex, ok := await(s, w, r, func(o engine.OwnerRef, cb sal.Callbacks[*imaging.Texture]) *engine.Handle {
		return s.c.GetAvatar(o, subject, size, cb)
	})
	if !ok {
		return
	}
	writePNG(w, tex)
}

func writePNG(w http.ResponseWriter, tex *imaging.Texture) {
	var buf bytes.Buffer
	if err := tex.EncodePNG(&buf); err != nil {
		writeError(w, http.StatusInternalServerError, "internal", err.Error(), nil)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	_, _ = w.Write(buf.Bytes())
}
