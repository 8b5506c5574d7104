// Package client talks to a running activity daemon over HTTP.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/tsangwailam/mcclaw/internal/activity"
	"github.com/tsangwailam/mcclaw/internal/health"
	"github.com/tsangwailam/mcclaw/internal/hub"
)

// ErrUnavailable means the daemon could not be reached at all.
var ErrUnavailable = errors.New("daemon unavailable")

// APIError is a non-2xx answer from the daemon.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("daemon returned HTTP %d", e.StatusCode)
	}
	return fmt.Sprintf("daemon returned HTTP %d: %s", e.StatusCode, e.Message)
}

// Unwrap lets callers test a rejected request with errors.Is(err,
// activity.ErrValidation).
func (e *APIError) Unwrap() error {
	if e.StatusCode == http.StatusBadRequest {
		return activity.ErrValidation
	}
	return nil
}

// Client calls the daemon API.
type Client struct {
	baseURL string
	http    *http.Client
}

// New returns a client for the daemon on localhost:port.
func New(port int) *Client {
	return NewWithBaseURL(fmt.Sprintf("http://localhost:%d", port), nil)
}

// NewWithBaseURL returns a client for baseURL. httpClient may be nil.
func NewWithBaseURL(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), http: httpClient}
}

func (c *Client) BaseURL() string { return c.baseURL }

// StreamURL is the websocket address of the live activity stream.
func (c *Client) StreamURL() string {
	base := c.baseURL
	switch {
	case strings.HasPrefix(base, "https://"):
		base = "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		base = "ws://" + strings.TrimPrefix(base, "http://")
	}
	return base + hub.Path
}

// Health fetches the daemon's health document.
func (c *Client) Health(ctx context.Context) (health.Response, error) {
	var out health.Response
	_, err := c.do(ctx, http.MethodGet, health.Path, nil, &out)
	return out, err
}

// LogActivity reports an activity. Created is true when a new record was
// inserted rather than an open one closed.
func (c *Client) LogActivity(ctx context.Context, req activity.Request) (activity.Result, error) {
	var rec activity.Record
	status, err := c.do(ctx, http.MethodPost, "/api/activity", req, &rec)
	if err != nil {
		return activity.Result{}, err
	}
	return activity.Result{Record: rec, Created: status == http.StatusCreated}, nil
}

// ListActivities fetches records matching f with counts and filter values.
func (c *Client) ListActivities(ctx context.Context, f activity.Filter) (activity.ListResult, error) {
	var out activity.ListResult
	path := "/api/activity"
	if q := f.Query().Encode(); q != "" {
		path += "?" + q
	}
	_, err := c.do(ctx, http.MethodGet, path, nil, &out)
	return out, err
}

// Stats fetches the overall summary.
func (c *Client) Stats(ctx context.Context) (activity.Stats, error) {
	var out activity.Stats
	_, err := c.do(ctx, http.MethodGet, "/api/activity/stats", nil, &out)
	return out, err
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) (int, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return 0, fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return 0, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, fmt.Errorf("%w at %s: %v", ErrUnavailable, c.baseURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		var e struct {
			Error string `json:"error"`
		}
		if json.NewDecoder(resp.Body).Decode(&e) == nil {
			apiErr.Message = e.Error
		}
		return resp.StatusCode, apiErr
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, fmt.Errorf("failed to parse response from daemon: %w", err)
		}
	}
	return resp.StatusCode, nil
}
