package chart

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const (
	initDataHeader   = "X-Telegram-Init-Data"
	adminTokenHeader = "X-Admin-Token"
)

// CredentialSource yields the opaque per-session credential. An empty string
// means the client is not running inside the trusted host; the header is
// simply omitted.
type CredentialSource interface {
	Credential() string
}

// Config configures the API client.
type Config struct {
	BaseURL    string
	AdminToken string
	HTTPClient *http.Client
	Timeout    time.Duration
}

// Client talks to the remote chart API. It never retries; callers own any
// retry policy.
type Client struct {
	cfg    Config
	client *http.Client
	creds  CredentialSource
}

// New builds a client. creds may be nil for credential-less (read-only) use.
func New(cfg Config, creds CredentialSource) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("chart: base url is required")
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 8 * time.Second
	}
	c := &Client{cfg: cfg, creds: creds}
	if cfg.HTTPClient != nil {
		c.client = cfg.HTTPClient
	} else {
		c.client = &http.Client{Timeout: cfg.Timeout}
	}
	return c, nil
}

// SongQuery narrows the song listing server-side. The engine re-derives the
// view client-side regardless, so this is an optimization, not something
// correctness depends on.
type SongQuery struct {
	Filter string // "all" or "new"
	Search string
}

// Health checks API liveness.
func (c *Client) Health(ctx context.Context) error {
	var out struct {
		OK bool `json:"ok"`
	}
	if err := c.get(ctx, "/health", &out); err != nil {
		return err
	}
	if !out.OK {
		return fmt.Errorf("chart: api reports unhealthy")
	}
	return nil
}

// CurrentWeek fetches the active voting period.
func (c *Client) CurrentWeek(ctx context.Context) (Week, error) {
	var w Week
	if err := c.get(ctx, "/weeks/current", &w); err != nil {
		return Week{}, err
	}
	return w, nil
}

// Songs fetches the song list for a week.
func (c *Client) Songs(ctx context.Context, weekID int, q SongQuery) ([]Song, error) {
	path := "/weeks/" + strconv.Itoa(weekID) + "/songs"
	vals := url.Values{}
	if q.Filter != "" {
		vals.Set("filter", q.Filter)
	}
	if q.Search != "" {
		vals.Set("search", q.Search)
	}
	if enc := vals.Encode(); enc != "" {
		path += "?" + enc
	}
	var songs []Song
	if err := c.get(ctx, path, &songs); err != nil {
		return nil, err
	}
	return songs, nil
}

// Vote submits the ballot for a week.
func (c *Client) Vote(ctx context.Context, weekID int, songIDs []int) (VoteReceipt, error) {
	body, _ := json.Marshal(map[string][]int{"song_ids": songIDs})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.cfg.BaseURL+"/weeks/"+strconv.Itoa(weekID)+"/vote", bytes.NewReader(body))
	if err != nil {
		return VoteReceipt{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	var receipt VoteReceipt
	if err := c.do(req, &receipt); err != nil {
		return VoteReceipt{}, err
	}
	return receipt, nil
}

// Results fetches the public vote tally for a week.
func (c *Client) Results(ctx context.Context, weekID int) ([]Result, error) {
	var rows []Result
	if err := c.get(ctx, "/weeks/"+strconv.Itoa(weekID)+"/results", &rows); err != nil {
		return nil, err
	}
	return rows, nil
}

// Summary fetches the admin vote summary. Requires an admin token.
func (c *Client) Summary(ctx context.Context, weekID int) (Summary, error) {
	var s Summary
	if err := c.get(ctx, "/admin/weeks/"+strconv.Itoa(weekID)+"/votes/summary", &s); err != nil {
		return Summary{}, err
	}
	return s, nil
}

// Enrich asks the API to backfill covers and preview URLs for the current
// week from its upstream metadata source. Requires an admin token.
func (c *Client) Enrich(ctx context.Context, force bool) (EnrichReport, error) {
	body, _ := json.Marshal(force)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.cfg.BaseURL+"/admin/weeks/current/songs/enrich", bytes.NewReader(body))
	if err != nil {
		return EnrichReport{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	var report EnrichReport
	if err := c.do(req, &report); err != nil {
		return EnrichReport{}, err
	}
	return report, nil
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+path, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	if c.creds != nil {
		if cred := c.creds.Credential(); cred != "" {
			req.Header.Set(initDataHeader, cred)
		}
	}
	if c.cfg.AdminToken != "" && strings.HasPrefix(req.URL.Path, "/admin/") {
		req.Header.Set(adminTokenHeader, c.cfg.AdminToken)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrNetwork, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return classify(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: %v", ErrNotJSON, err)
	}
	return nil
}

// classify maps a non-2xx response onto the error taxonomy. The body is
// read fully here so the caller can drop the response.
func classify(resp *http.Response) error {
	detail := readDetail(resp.Body)
	switch resp.StatusCode {
	case http.StatusUnauthorized:
		return ErrUnauthenticated
	case http.StatusForbidden:
		return ErrAccessDenied
	case http.StatusConflict:
		return ErrAlreadyVoted
	case http.StatusNotFound:
		return ErrNotFound
	case http.StatusBadRequest:
		if strings.Contains(detail, "TOO_MANY_SONGS") {
			return ErrTooManySongs
		}
	}
	return &StatusError{Code: resp.StatusCode, Detail: detail}
}

// readDetail extracts the API's error detail. The backend wraps errors as
// {"detail": ...} where detail is a string or an object.
func readDetail(r io.Reader) string {
	raw, err := io.ReadAll(io.LimitReader(r, 4096))
	if err != nil {
		return ""
	}
	var body struct {
		Detail json.RawMessage `json:"detail"`
	}
	if err := json.Unmarshal(raw, &body); err != nil || len(body.Detail) == 0 {
		return strings.TrimSpace(string(raw))
	}
	var s string
	if err := json.Unmarshal(body.Detail, &s); err == nil {
		return s
	}
	return string(body.Detail)
}
