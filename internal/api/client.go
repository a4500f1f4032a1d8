package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"speecheval/internal/config"
)

// ErrUnavailable reports that no daemon answered on the API address.
var ErrUnavailable = errors.New("api: daemon not reachable")

// StatusError is a non-2xx reply from the job API.
type StatusError struct {
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("api: %d %s", e.StatusCode, e.Message)
}

// Client calls the daemon's job API.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// NewClient builds a client for baseURL. token may be empty.
func NewClient(baseURL, token string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    &http.Client{Timeout: 10 * time.Second},
	}
}

// Dial builds a client for the configured bind address and verifies that a
// daemon answers on it.
func Dial(ctx context.Context, cfg *config.Config) (*Client, error) {
	if cfg == nil || strings.TrimSpace(cfg.Paths.APIBind) == "" {
		return nil, ErrUnavailable
	}
	host, port, err := net.SplitHostPort(cfg.Paths.APIBind)
	if err != nil {
		return nil, fmt.Errorf("api bind %q: %w", cfg.Paths.APIBind, err)
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "127.0.0.1"
	}
	client := NewClient("http://"+net.JoinHostPort(host, port), cfg.Paths.APIToken)
	healthCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if _, err := client.Health(healthCtx); err != nil {
		return nil, err
	}
	return client, nil
}

// Health fetches /api/health. A degraded daemon still returns a body.
func (c *Client) Health(ctx context.Context) (*HealthResponse, error) {
	var resp HealthResponse
	status, err := c.do(ctx, http.MethodGet, "/api/health", nil, &resp)
	if err != nil && status != http.StatusServiceUnavailable {
		return nil, err
	}
	return &resp, nil
}

// Submit creates a job.
func (c *Client) Submit(ctx context.Context, req CreateJobRequest) (*CreateJobResponse, error) {
	var resp CreateJobResponse
	if _, err := c.do(ctx, http.MethodPost, "/api/jobs", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// List returns jobs, optionally filtered by status names.
func (c *Client) List(ctx context.Context, statuses []string) ([]Job, error) {
	path := "/api/jobs"
	if len(statuses) > 0 {
		path += "?status=" + url.QueryEscape(strings.Join(statuses, ","))
	}
	var resp JobListResponse
	if _, err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Jobs, nil
}

// Describe returns one job, or nil when it does not exist.
func (c *Client) Describe(ctx context.Context, id string) (*Job, error) {
	var resp JobResponse
	status, err := c.do(ctx, http.MethodGet, "/api/jobs/"+url.PathEscape(id), nil, &resp)
	if status == http.StatusNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &resp.Job, nil
}

// Result returns the stored evaluation for a job, or nil when none exists.
func (c *Client) Result(ctx context.Context, id string) (*Result, error) {
	var resp Result
	status, err := c.do(ctx, http.MethodGet, "/api/jobs/"+url.PathEscape(id)+"/result", nil, &resp)
	if status == http.StatusNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &resp, nil
}

// Cancel requests cancellation. Refusals come back as outcomes, not errors.
func (c *Client) Cancel(ctx context.Context, id, owner, reason string) (ActionOutcome, error) {
	return c.action(ctx, id, "cancel", CancelRequest{Owner: owner, Reason: reason})
}

// Retry requests another attempt for a failed job.
func (c *Client) Retry(ctx context.Context, id string) (ActionOutcome, error) {
	return c.action(ctx, id, "retry", nil)
}

func (c *Client) action(ctx context.Context, id, verb string, body any) (ActionOutcome, error) {
	var resp ActionResponse
	status, err := c.do(ctx, http.MethodPost, "/api/jobs/"+url.PathEscape(id)+"/"+verb, body, &resp)
	switch status {
	case http.StatusNotFound, http.StatusForbidden, http.StatusConflict:
		return ActionOutcome(resp.Outcome), nil
	}
	if err != nil {
		return "", err
	}
	return ActionOutcome(resp.Outcome), nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) (int, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return 0, fmt.Errorf("encode request: %w", err)
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
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return resp.StatusCode, fmt.Errorf("read response: %w", err)
	}
	if out != nil && len(data) > 0 {
		if decodeErr := json.Unmarshal(data, out); decodeErr != nil && resp.StatusCode < 300 {
			return resp.StatusCode, fmt.Errorf("decode response: %w", decodeErr)
		}
	}
	if resp.StatusCode >= 300 {
		var apiErr ErrorResponse
		_ = json.Unmarshal(data, &apiErr)
		message := apiErr.Error
		if message == "" {
			message = http.StatusText(resp.StatusCode)
		}
		return resp.StatusCode, &StatusError{StatusCode: resp.StatusCode, Message: message}
	}
	return resp.StatusCode, nil
}
