package httpapi

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"salkit/core"
	"salkit/engine"
	"salkit/sal"
)

// LeaderboardInfo describes a leaderboard handle.
type LeaderboardInfo struct {
	Handle     core.LeaderboardHandle `json:"handle"`
	Name       string                 `json:"name"`
	EntryCount int                    `json:"entry_count"`
	Sort       string                 `json:"sort"`
	Display    string                 `json:"display"`
}

func (s *server) info(h core.LeaderboardHandle) (LeaderboardInfo, error) {
	name, err := s.c.LeaderboardName(h)
	if err != nil {
		return LeaderboardInfo{}, err
	}
	count, _ := s.c.LeaderboardEntryCount(h)
	sort, _ := s.c.LeaderboardSortMethod(h)
	display, _ := s.c.LeaderboardDisplayType(h)
	return LeaderboardInfo{Handle: h, Name: name, EntryCount: count, Sort: sort.String(), Display: display.String()}, nil
}

func boardParam(w http.ResponseWriter, r *http.Request) (core.LeaderboardHandle, bool) {
	v, err := strconv.ParseInt(chi.URLParam(r, "handle"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_handle", "leaderboard handle must be an integer", nil)
		return 0, false
	}
	return core.LeaderboardHandle(v), true
}

func (s *server) findLeaderboard(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	h, ok := await(s, w, r, func(o engine.OwnerRef, cb sal.Callbacks[core.LeaderboardHandle]) *engine.Handle {
		return s.c.FindLeaderboard(o, name, cb)
	})
	if !ok {
		return
	}
	info, err := s.info(h)
	if err != nil {
		writeLibError(w, err)
		return
	}
	writeJSON(w, info)
}

// CreateLeaderboardRequest is the body of POST /leaderboards.
type CreateLeaderboardRequest struct {
	Name    string `json:"name"`
	Sort    string `json:"sort,omitempty"`
	Display string `json:"display,omitempty"`
}

func (s *server) createLeaderboard(w http.ResponseWriter, r *http.Request) {
	var req CreateLeaderboardRequest
	if !decodeBody(w, r, &req) {
		return
	}
	sort, err := core.ParseSortMethod(req.Sort)
	if err != nil {
		writeError(w, http.StatusBadRequest, string(core.KindValidation), err.Error(), nil)
		return
	}
	display, err := core.ParseDisplayType(req.Display)
	if err != nil {
		writeError(w, http.StatusBadRequest, string(core.KindValidation), err.Error(), nil)
		return
	}
	h, ok := await(s, w, r, func(o engine.OwnerRef, cb sal.Callbacks[core.LeaderboardHandle]) *engine.Handle {
		return s.c.CreateLeaderboard(o, req.Name, sort, display, cb)
	})
	if !ok {
		return
	}
	info, err := s.info(h)
	if err != nil {
		writeLibError(w, err)
		return
	}
	writeJSON(w, info)
}

func (s *server) leaderboardInfo(w http.ResponseWriter, r *http.Request) {
	h, ok := boardParam(w, r)
	if !ok {
		return
	}
	info, err := s.info(h)
	if err != nil {
		writeLibError(w, err)
		return
	}
	writeJSON(w, info)
}

// EntriesResponse wraps downloaded rows.
type EntriesResponse struct {
	Leaderboard core.LeaderboardHandle `json:"leaderboard"`
	Entries     []core.EntryRow        `json:"entries"`
}

func (s *server) downloadEntries(w http.ResponseWriter, r *http.Request) {
	h, ok := boardParam(w, r)
	if !ok {
		return
	}
	kind, err := core.ParseRequestType(r.URL.Query().Get("type"))
	if err != nil {
		writeError(w, http.StatusBadRequest, string(core.KindValidation), err.Error(), nil)
		return
	}
	start, ok := queryInt(w, r, "start", 1)
	if !ok {
		return
	}
	end, ok := queryInt(w, r, "end", 10)
	if !ok {
		return
	}
	details, ok := queryInt(w, r, "details", 0)
	if !ok {
		return
	}
	rows, ok := await(s, w, r, func(o engine.OwnerRef, cb sal.Callbacks[[]core.EntryRow]) *engine.Handle {
		return s.c.DownloadLeaderboardEntries(o, h, kind, start, end, details, cb)
	})
	if !ok {
		return
	}
	writeJSON(w, EntriesResponse{Leaderboard: h, Entries: rows})
}

// UsersRequest lists subjects for a per-user download.
type UsersRequest struct {
	IDs []string `json:"ids"`
}

func (s *server) downloadForUsers(w http.ResponseWriter, r *http.Request) {
	h, ok := boardParam(w, r)
	if !ok {
		return
	}
	var req UsersRequest
	if !decodeBody(w, r, &req) {
		return
	}
	rows, ok := await(s, w, r, func(o engine.OwnerRef, cb sal.Callbacks[[]core.EntryRow]) *engine.Handle {
		return s.c.DownloadLeaderboardForUsers(o, h, req.IDs, cb)
	})
	if !ok {
		return
	}
	writeJSON(w, EntriesResponse{Leaderboard: h, Entries: rows})
}

// ScoreRequest is the body of POST /leaderboards/{handle}/scores.
type ScoreRequest struct {
	Score   int32   `json:"score"`
	Method  string  `json:"method,omitempty"`
	Details []int32 `json:"details,omitempty"`
}

func (s *server) uploadScore(w http.ResponseWriter, r *http.Request) {
	h, ok := boardParam(w, r)
	if !ok {
		return
	}
	var req ScoreRequest
	if !decodeBody(w, r, &req) {
		return
	}
	method, err := core.ParseUploadMethod(req.Method)
	if err != nil {
		writeError(w, http.StatusBadRequest, string(core.KindValidation), err.Error(), nil)
		return
	}
	res, ok := await(s, w, r, func(o engine.OwnerRef, cb sal.Callbacks[core.UploadResult]) *engine.Handle {
		return s.c.UploadScore(o, h, req.Score, method, req.Details, cb)
	})
	if !ok {
		return
	}
	writeJSON(w, res)
}

// UGCScoreRequest is the body of POST /leaderboards/{handle}/ugc-scores.
// Data is base64 in JSON.
type UGCScoreRequest struct {
	Score   int32   `json:"score"`
	Details []int32 `json:"details,omitempty"`
	File    string  `json:"file"`
	Data    []byte  `json:"data"`
}

func (s *server) uploadScoreWithUGC(w http.ResponseWriter, r *http.Request) {
	h, ok := boardParam(w, r)
	if !ok {
		return
	}
	var req UGCScoreRequest
	if !decodeBody(w, r, &req) {
		return
	}
	res, ok := await(s, w, r, func(o engine.OwnerRef, cb sal.Callbacks[core.UGCUpload]) *engine.Handle {
		return s.c.UploadScoreWithUGC(o, h, req.Score, req.Details, req.File, req.Data, cb)
	})
	if !ok {
		return
	}
	writeJSON(w, res)
}

func (s *server) downloadUGC(w http.ResponseWriter, r *http.Request) {
	v, err := strconv.ParseUint(chi.URLParam(r, "handle"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_handle", "ugc handle must be an unsigned integer", nil)
		return
	}
	maxBytes, ok := queryInt(w, r, "max_bytes", 0)
	if !ok {
		return
	}
	file, ok := await(s, w, r, func(o engine.OwnerRef, cb sal.Callbacks[core.UGCFile]) *engine.Handle {
		return s.c.DownloadUGCFile(o, core.UGCHandle(v), maxBytes, cb)
	})
	if !ok {
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("X-UGC-Size", strconv.Itoa(file.Size))
	w.Header().Set("Content-Length", strconv.Itoa(len(file.Data)))
	_, _ = w.Write(file.Data)
}
