package sdk

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"salkit/core"
)

// LeaderboardInfo mirrors the leaderboard description returned by the API.
type LeaderboardInfo struct {
	Handle     core.LeaderboardHandle `json:"handle"`
	Name       string                 `json:"name"`
	EntryCount int                    `json:"entry_count"`
	Sort       string                 `json:"sort"`
	Display    string                 `json:"display"`
}

// EntriesQuery selects a slice of a leaderboard. Zero values use the server defaults.
type EntriesQuery struct {
	Type       string
	Start, End int
	Details    int
}

// Score is an upload request.
type Score struct {
	Score   int32   `json:"score"`
	Method  string  `json:"method,omitempty"`
	Details []int32 `json:"details,omitempty"`
}

// UGCScore is a score upload with an attached file.
type UGCScore struct {
	Score   int32   `json:"score"`
	Details []int32 `json:"details,omitempty"`
	File    string  `json:"file"`
	Data    []byte  `json:"data"`
}

// StatWrite sets one stat. Type is integer, float or average.
type StatWrite struct {
	Type    string  `json:"type"`
	Integer int32   `json:"integer,omitempty"`
	Float   float64 `json:"float,omitempty"`
	Count   float64 `json:"count,omitempty"`
	Seconds float64 `json:"seconds,omitempty"`
}

// StatQueryResult is the reply of a batch stat read.
type StatQueryResult struct {
	Stats     []core.StoredStat `json:"stats"`
	Succeeded bool              `json:"succeeded"`
}

// Achievement combines schema info and the user's state.
type Achievement struct {
	core.AchievementInfo
	core.AchievementState
}

// HealthStatus describes the /healthz response.
type HealthStatus struct {
	Status string         `json:"status"`
	Checks map[string]any `json:"checks"`
}

// APIError is a non-2xx reply.
type APIError struct {
	Status  int             `json:"-"`
	Code    string          `json:"code"`
	Message string          `json:"message"`
	Details json.RawMessage `json:"details,omitempty"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("request failed: status %d: %s: %s", e.Status, e.Code, e.Message)
}

// Kind returns the failure kind when the error came from an async operation.
func (e *APIError) Kind() core.Kind { return core.Kind(e.Code) }

// Step returns the failing step of a composite operation, if any.
func (e *APIError) Step() string {
	var d struct {
		Step string `json:"step"`
	}
	_ = json.Unmarshal(e.Details, &d)
	return d.Step
}

func decodeJSON(resp *http.Response, target any) error {
	if err := checkStatus(resp); err != nil {
		return err
	}
	if target == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(target)
}

func checkStatus(resp *http.Response) error {
	if resp.StatusCode < http.StatusBadRequest {
		return nil
	}
	apiErr := &APIError{Status: resp.StatusCode}
	if err := json.NewDecoder(resp.Body).Decode(apiErr); err != nil {
		apiErr.Code = "unknown"
		apiErr.Message = http.StatusText(resp.StatusCode)
	}
	return apiErr
}

var (
	// ErrEmptyName is returned when a leaderboard, stat or achievement name is empty.
	ErrEmptyName = errors.New("name is required")
	// ErrEmptySubject is returned when a subject id is empty.
	ErrEmptySubject = errors.New("subject id is required")
)
