package sdk

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"salkit/analytics"
	"salkit/core"
)

// Option configures the Client.
type Option func(*Client)

// Client provides typed access to the salkit HTTP + WebSocket API.
type Client struct {
	baseURL    string
	wsURL      string
	httpClient *http.Client
	headers    http.Header
}

// NewClient constructs a new SDK client targeting the given baseURL (e.g., http://localhost:8080/api).
func NewClient(baseURL string, opts ...Option) (*Client, error) {
	if strings.TrimSpace(baseURL) == "" {
		return nil, errors.New("baseURL is required")
	}
	baseURL = strings.TrimSuffix(baseURL, "/")

	c := &Client{
		baseURL:    baseURL,
		wsURL:      deriveWSURL(baseURL),
		httpClient: http.DefaultClient,
		headers:    make(http.Header),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		if h != nil {
			c.httpClient = h
		}
	}
}

// WithAuthToken adds an Authorization: Bearer token header to all requests (HTTP + WS).
func WithAuthToken(token string) Option {
	return func(c *Client) {
		if strings.TrimSpace(token) != "" {
			c.headers.Set("Authorization", "Bearer "+token)
		}
	}
}

// WithAPIKey adds an X-API-Key header.
func WithAPIKey(key string) Option {
	return func(c *Client) {
		if strings.TrimSpace(key) != "" {
			c.headers.Set("X-API-Key", key)
		}
	}
}

// WithHeader sets an arbitrary header applied to HTTP and WS calls.
func WithHeader(k, v string) Option {
	return func(c *Client) {
		if k != "" {
			c.headers.Set(k, v)
		}
	}
}

func (c *Client) newRequest(ctx context.Context, method, path string, query url.Values, body any) (*http.Request, error) {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode request: %w", err)
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, rd)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	c.applyHeaders(req)
	return req, nil
}

// call sends a JSON request and decodes the JSON reply into out (may be nil).
func (c *Client) call(ctx context.Context, method, path string, query url.Values, body, out any) error {
	req, err := c.newRequest(ctx, method, path, query, body)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return decodeJSON(resp, out)
}

// raw sends a request and returns the reply body unparsed.
func (c *Client) raw(ctx context.Context, path string, query url.Values) ([]byte, http.Header, error) {
	req, err := c.newRequest(ctx, http.MethodGet, path, query, nil)
	if err != nil {
		return nil, nil, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, nil, err
	}
	defer resp.Body.Close()
	if err := checkStatus(resp); err != nil {
		return nil, nil, err
	}
	b, err := io.ReadAll(resp.Body)
	return b, resp.Header, err
}

func boardPath(h core.LeaderboardHandle) string {
	return "/leaderboards/" + strconv.FormatInt(int64(h), 10)
}

// FindLeaderboard looks a leaderboard up by name.
func (c *Client) FindLeaderboard(ctx context.Context, name string) (LeaderboardInfo, error) {
	if strings.TrimSpace(name) == "" {
		return LeaderboardInfo{}, ErrEmptyName
	}
	var info LeaderboardInfo
	err := c.call(ctx, http.MethodGet, "/leaderboards/by-name/"+url.PathEscape(name), nil, nil, &info)
	return info, err
}

// CreateLeaderboard finds or creates a leaderboard. Empty sort and display use
// descending and numeric.
func (c *Client) CreateLeaderboard(ctx context.Context, name, sort, display string) (LeaderboardInfo, error) {
	if strings.TrimSpace(name) == "" {
		return LeaderboardInfo{}, ErrEmptyName
	}
	body := map[string]string{"name": name, "sort": sort, "display": display}
	var info LeaderboardInfo
	err := c.call(ctx, http.MethodPost, "/leaderboards", nil, body, &info)
	return info, err
}

func (c *Client) Leaderboard(ctx context.Context, h core.LeaderboardHandle) (LeaderboardInfo, error) {
	var info LeaderboardInfo
	err := c.call(ctx, http.MethodGet, boardPath(h), nil, nil, &info)
	return info, err
}

type entriesReply struct {
	Entries []core.EntryRow `json:"entries"`
}

// Entries downloads a slice of a leaderboard.
func (c *Client) Entries(ctx context.Context, h core.LeaderboardHandle, q EntriesQuery) ([]core.EntryRow, error) {
	v := url.Values{}
	if q.Type != "" {
		v.Set("type", q.Type)
	}
	if q.Start != 0 || q.End != 0 {
		v.Set("start", strconv.Itoa(q.Start))
		v.Set("end", strconv.Itoa(q.End))
	}
	if q.Details > 0 {
		v.Set("details", strconv.Itoa(q.Details))
	}
	var out entriesReply
	err := c.call(ctx, http.MethodGet, boardPath(h)+"/entries", v, nil, &out)
	return out.Entries, err
}

// EntriesForUsers downloads the rows of specific subjects.
func (c *Client) EntriesForUsers(ctx context.Context, h core.LeaderboardHandle, ids []string) ([]core.EntryRow, error) {
	var out entriesReply
	err := c.call(ctx, http.MethodPost, boardPath(h)+"/entries/users", nil, map[string][]string{"ids": ids}, &out)
	return out.Entries, err
}

func (c *Client) UploadScore(ctx context.Context, h core.LeaderboardHandle, s Score) (core.UploadResult, error) {
	var out core.UploadResult
	err := c.call(ctx, http.MethodPost, boardPath(h)+"/scores", nil, s, &out)
	return out, err
}

func (c *Client) UploadScoreWithUGC(ctx context.Context, h core.LeaderboardHandle, s UGCScore) (core.UGCUpload, error) {
	var out core.UGCUpload
	err := c.call(ctx, http.MethodPost, boardPath(h)+"/ugc-scores", nil, s, &out)
	return out, err
}

// DownloadUGC returns the file content and its full size. A positive maxBytes truncates.
func (c *Client) DownloadUGC(ctx context.Context, h core.UGCHandle, maxBytes int) ([]byte, int, error) {
	v := url.Values{}
	if maxBytes > 0 {
		v.Set("max_bytes", strconv.Itoa(maxBytes))
	}
	data, hdr, err := c.raw(ctx, "/ugc/"+strconv.FormatUint(uint64(h), 10), v)
	if err != nil {
		return nil, 0, err
	}
	size, _ := strconv.Atoi(hdr.Get("X-UGC-Size"))
	return data, size, nil
}

func (c *Client) RefreshStats(ctx context.Context) error {
	return c.call(ctx, http.MethodPost, "/stats/refresh", nil, nil, nil)
}

func (c *Client) RefreshGlobalStats(ctx context.Context, days int) error {
	return c.call(ctx, http.MethodPost, "/stats/global/refresh", url.Values{"days": {strconv.Itoa(days)}}, nil, nil)
}

func (c *Client) StoreStats(ctx context.Context) error {
	return c.call(ctx, http.MethodPost, "/stats/store", nil, nil, nil)
}

func (c *Client) ResetStats(ctx context.Context, achievementsToo bool) error {
	return c.call(ctx, http.MethodPost, "/stats/reset", url.Values{"achievements": {strconv.FormatBool(achievementsToo)}}, nil, nil)
}

func (c *Client) Stat(ctx context.Context, name, typ string) (core.StoredStat, error) {
	if strings.TrimSpace(name) == "" {
		return core.StoredStat{}, ErrEmptyName
	}
	var out core.StoredStat
	err := c.call(ctx, http.MethodGet, "/stats/"+url.PathEscape(name), url.Values{"type": {typ}}, nil, &out)
	return out, err
}

func (c *Client) SetStat(ctx context.Context, name string, w StatWrite) error {
	if strings.TrimSpace(name) == "" {
		return ErrEmptyName
	}
	return c.call(ctx, http.MethodPut, "/stats/"+url.PathEscape(name), nil, w, nil)
}

// AddStat adds delta to an integer or float stat and returns the new value.
func (c *Client) AddStat(ctx context.Context, name, typ string, delta float64) (float64, error) {
	if strings.TrimSpace(name) == "" {
		return 0, ErrEmptyName
	}
	var out struct {
		Value float64 `json:"value"`
	}
	err := c.call(ctx, http.MethodPost, "/stats/"+url.PathEscape(name)+"/add", nil, map[string]any{"type": typ, "delta": delta}, &out)
	return out.Value, err
}

func (c *Client) QueryStats(ctx context.Context, queries []core.StatQuery) (StatQueryResult, error) {
	var out StatQueryResult
	err := c.call(ctx, http.MethodPost, "/stats/query", nil, queries, &out)
	return out, err
}

// GlobalStat returns a formatted global stat. RefreshGlobalStats must have run.
func (c *Client) GlobalStat(ctx context.Context, name, typ string) (string, error) {
	var out struct {
		Value string `json:"value"`
	}
	err := c.call(ctx, http.MethodGet, "/stats/global/"+url.PathEscape(name), url.Values{"type": {typ}}, nil, &out)
	return out.Value, err
}

func (c *Client) Achievements(ctx context.Context) ([]Achievement, error) {
	var out []Achievement
	err := c.call(ctx, http.MethodGet, "/achievements", nil, nil, &out)
	return out, err
}

func (c *Client) Achievement(ctx context.Context, name string) (Achievement, error) {
	var out Achievement
	err := c.call(ctx, http.MethodGet, "/achievements/"+url.PathEscape(name), nil, nil, &out)
	return out, err
}

func (c *Client) SetAchievement(ctx context.Context, name string) error {
	return c.call(ctx, http.MethodPost, "/achievements/"+url.PathEscape(name), nil, nil, nil)
}

func (c *Client) ClearAchievement(ctx context.Context, name string) error {
	return c.call(ctx, http.MethodDelete, "/achievements/"+url.PathEscape(name), nil, nil, nil)
}

func (c *Client) AchievementProgress(ctx context.Context, name string, current, max int) error {
	return c.call(ctx, http.MethodPost, "/achievements/"+url.PathEscape(name)+"/progress", nil, map[string]int{"current": current, "max": max}, nil)
}

// AchievementIcon returns the icon as PNG bytes.
func (c *Client) AchievementIcon(ctx context.Context, name string) ([]byte, error) {
	b, _, err := c.raw(ctx, "/achievements/"+url.PathEscape(name)+"/icon", nil)
	return b, err
}

// Avatar returns the subject's avatar as PNG bytes. Size is small, medium or large.
func (c *Client) Avatar(ctx context.Context, subject, size string) ([]byte, error) {
	if strings.TrimSpace(subject) == "" {
		return nil, ErrEmptySubject
	}
	v := url.Values{}
	if size != "" {
		v.Set("size", size)
	}
	b, _, err := c.raw(ctx, "/avatars/"+url.PathEscape(subject), v)
	return b, err
}

// Metrics fetches the server's request metrics snapshot.
func (c *Client) Metrics(ctx context.Context) (analytics.Snapshot, error) {
	var out analytics.Snapshot
	err := c.call(ctx, http.MethodGet, "/metrics", nil, nil, &out)
	return out, err
}

// Health probes /healthz. An unhealthy server still returns its status.
func (c *Client) Health(ctx context.Context) (HealthStatus, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/healthz", nil, nil)
	if err != nil {
		return HealthStatus{}, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return HealthStatus{}, err
	}
	defer resp.Body.Close()

	var hs HealthStatus
	if err := json.NewDecoder(resp.Body).Decode(&hs); err != nil {
		return HealthStatus{}, err
	}
	return hs, nil
}

// SubscribeEvents connects to the WebSocket stream and emits lifecycle events,
// optionally only of the given types. The returned channel closes when ctx is
// done or the connection drops.
func (c *Client) SubscribeEvents(ctx context.Context, types ...core.EventType) (<-chan core.Event, error) {
	if c.wsURL == "" {
		return nil, errors.New("wsURL is not set; ensure baseURL is http/https")
	}
	target := c.wsURL
	if len(types) > 0 {
		names := make([]string, len(types))
		for i, t := range types {
			names[i] = string(t)
		}
		target += "?type=" + url.QueryEscape(strings.Join(names, ","))
	}
	dialer := websocket.Dialer{
		HandshakeTimeout: 5 * time.Second,
	}
	conn, _, err := dialer.DialContext(ctx, target, c.headers)
	if err != nil {
		return nil, err
	}

	out := make(chan core.Event, 32)
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	go func() {
		defer close(out)
		defer stop()
		defer conn.Close()
		for {
			var evt core.Event
			if err := conn.ReadJSON(&evt); err != nil {
				return
			}
			select {
			case out <- evt:
			default:
				// drop if consumer is slow
			}
		}
	}()
	return out, nil
}

func (c *Client) applyHeaders(r *http.Request) {
	for k, vals := range c.headers {
		for _, v := range vals {
			r.Header.Add(k, v)
		}
	}
}

func deriveWSURL(httpBase string) string {
	u, err := url.Parse(httpBase)
	if err != nil {
		return ""
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http":
		u.Scheme = "ws"
	default:
		// leave as-is for custom schemes
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/ws"
	return u.String()
}
