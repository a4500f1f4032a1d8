package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"

	"speecheval/internal/config"
	"speecheval/internal/services"
)

const (
	defaultTimeout   = 60 * time.Second
	defaultAttempts  = 3
	defaultBaseDelay = time.Second
	defaultMaxDelay  = 10 * time.Second
)

// Config holds endpoint settings. APIKey and Model are fallbacks for requests
// that do not name their own.
type Config struct {
	APIKey         string
	BaseURL        string
	Model          string
	Referer        string
	Title          string
	TimeoutSeconds int
}

// Client posts chat completions and returns the message content.
type Client struct {
	cfg        Config
	httpClient *http.Client
	attempts   int
	baseDelay  time.Duration
	maxDelay   time.Duration
	notify     func(err error, next time.Duration)
}

// Option customizes the client.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithRetryMaxAttempts sets the total number of tries per request.
func WithRetryMaxAttempts(attempts int) Option {
	return func(c *Client) { c.attempts = attempts }
}

// WithRetryBackoff sets the first retry delay and the delay ceiling.
func WithRetryBackoff(baseDelay, maxDelay time.Duration) Option {
	return func(c *Client) {
		c.baseDelay = baseDelay
		c.maxDelay = maxDelay
	}
}

// WithRetryNotify registers a callback run before each retry wait with the
// failed attempt's error and the chosen delay.
func WithRetryNotify(notify func(err error, next time.Duration)) Option {
	return func(c *Client) { c.notify = notify }
}

// NewClient constructs a client for cfg.
func NewClient(cfg Config, opts ...Option) *Client {
	timeout := defaultTimeout
	if cfg.TimeoutSeconds > 0 {
		timeout = time.Duration(cfg.TimeoutSeconds) * time.Second
	}
	c := &Client{
		cfg: Config{
			APIKey:  strings.TrimSpace(cfg.APIKey),
			BaseURL: strings.TrimSpace(cfg.BaseURL),
			Model:   strings.TrimSpace(cfg.Model),
			Referer: strings.TrimSpace(cfg.Referer),
			Title:   strings.TrimSpace(cfg.Title),
		},
		httpClient: &http.Client{Timeout: timeout},
		attempts:   defaultAttempts,
		baseDelay:  defaultBaseDelay,
		maxDelay:   defaultMaxDelay,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.attempts <= 0 {
		c.attempts = 1
	}
	return c
}

// NewClientFrom builds a client from the llm config section. Keys are
// supplied per request by the credential pool.
func NewClientFrom(cfg config.LLM, opts ...Option) *Client {
	var model string
	if len(cfg.Models) > 0 {
		model = cfg.Models[0]
	}
	if cfg.RetryAttempts > 0 {
		opts = append([]Option{WithRetryMaxAttempts(cfg.RetryAttempts)}, opts...)
	}
	return NewClient(Config{
		BaseURL:        cfg.BaseURL,
		Model:          model,
		Referer:        cfg.Referer,
		Title:          cfg.Title,
		TimeoutSeconds: cfg.TimeoutSeconds,
	}, opts...)
}

// Request is one JSON completion call.
type Request struct {
	System string
	User   string
	// Model and APIKey override the client defaults when set.
	Model  string
	APIKey string
}

// StatusError is a non-2xx response from the provider. It satisfies
// quota.ProviderError so the quota classifier can inspect it.
type StatusError struct {
	StatusCode int
	Body       string
	RetryAfter time.Duration
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("llm request: http %d: %s", e.StatusCode, e.Body)
}

// HTTPStatus returns the response status code.
func (e *StatusError) HTTPStatus() int { return e.StatusCode }

// ResponseBody returns the trimmed response body.
func (e *StatusError) ResponseBody() string { return e.Body }

// RetryAfterHint returns the parsed Retry-After header, if any.
func (e *StatusError) RetryAfterHint() time.Duration { return e.RetryAfter }

// EmptyContentError reports a 2xx completion with nothing usable in it.
type EmptyContentError struct {
	FinishReason string
	Refusal      string
	Snippet      string
}

func (e *EmptyContentError) Error() string {
	return fmt.Sprintf("llm complete: empty content (finish_reason=%q, refusal=%q, response_snippet=%s)",
		e.FinishReason, e.Refusal, e.Snippet)
}

// IsEmptyContent reports whether err came from a completion with no content.
func IsEmptyContent(err error) bool {
	var empty *EmptyContentError
	return errors.As(err, &empty)
}

type chatRequest struct {
	Model          string            `json:"model"`
	Messages       []chatMessage     `json:"messages"`
	Temperature    float64           `json:"temperature"`
	ResponseFormat map[string]string `json:"response_format"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		FinishReason string `json:"finish_reason"`
		Message      struct {
			Content   string `json:"content"`
			Refusal   string `json:"refusal"`
			ToolCalls []struct {
				Function struct {
					Arguments string `json:"arguments"`
				} `json:"function"`
			} `json:"tool_calls"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// content returns the first non-empty message body or tool-call argument
// string, plus the details needed to explain an empty answer.
func (r chatResponse) content() (text, finish, refusal string) {
	for _, choice := range r.Choices {
		if finish == "" {
			finish = choice.FinishReason
		}
		if refusal == "" {
			refusal = strings.TrimSpace(choice.Message.Refusal)
		}
		if body := strings.TrimSpace(choice.Message.Content); body != "" {
			return body, finish, refusal
		}
		for _, call := range choice.Message.ToolCalls {
			if args := strings.TrimSpace(call.Function.Arguments); args != "" {
				return args, finish, refusal
			}
		}
	}
	return "", finish, refusal
}

// CompleteJSON sends a JSON-mode chat completion and returns the raw content.
func (c *Client) CompleteJSON(ctx context.Context, req Request) (string, error) {
	system := strings.TrimSpace(req.System)
	user := strings.TrimSpace(req.User)
	if system == "" || user == "" {
		return "", errors.New("llm complete: system and user prompts are required")
	}
	apiKey := pick(req.APIKey, c.cfg.APIKey)
	if apiKey == "" {
		return "", errors.New("llm complete: api key required")
	}
	model := pick(req.Model, c.cfg.Model)
	if model == "" {
		return "", errors.New("llm complete: model required")
	}
	body, err := json.Marshal(chatRequest{
		Model: model,
		Messages: []chatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
		ResponseFormat: map[string]string{"type": "json_object"},
	})
	if err != nil {
		return "", fmt.Errorf("llm request: encode body: %w", err)
	}

	policy := services.NewHintedBackOff(c.baseDelay, c.maxDelay)
	policy.HintCap = c.maxDelay
	opts := []backoff.RetryOption{
		backoff.WithBackOff(policy),
		backoff.WithMaxTries(uint(c.attempts)),
	}
	if c.notify != nil {
		opts = append(opts, backoff.WithNotify(c.notify))
	}
	content, err := backoff.Retry(ctx, func() (string, error) {
		content, err := c.send(ctx, apiKey, body)
		if err == nil {
			return content, nil
		}
		hint, retry := retryable(ctx, err)
		if !retry {
			return "", backoff.Permanent(err)
		}
		policy.Hint(hint)
		return "", err
	}, opts...)
	// Retry hands back the wrapper untouched when the last allowed try is permanent.
	var permanent *backoff.PermanentError
	if errors.As(err, &permanent) {
		err = permanent.Unwrap()
	}
	return content, err
}

func (c *Client) send(ctx context.Context, apiKey string, body []byte) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("llm request: new request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+apiKey)
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.Referer != "" {
		req.Header.Set("HTTP-Referer", c.cfg.Referer)
	}
	if c.cfg.Title != "" {
		req.Header.Set("X-Title", c.cfg.Title)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("llm request: %w", err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("llm request: read body: %w", err)
	}
	if resp.StatusCode >= http.StatusMultipleChoices {
		return "", &StatusError{
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(raw)),
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
		}
	}

	var parsed chatResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return "", fmt.Errorf("llm request: decode response: %w", err)
	}
	if parsed.Error != nil {
		return "", fmt.Errorf("llm request: api error: %s", strings.TrimSpace(parsed.Error.Message))
	}
	text, finish, refusal := parsed.content()
	if text == "" {
		return "", &EmptyContentError{FinishReason: finish, Refusal: refusal, Snippet: snippet(string(raw))}
	}
	return text, nil
}

// retryable reports whether err is worth another try and any Retry-After
// hint the provider sent. 429 and 402 are never retried here; the quota
// strategy owns them.
func retryable(ctx context.Context, err error) (time.Duration, bool) {
	if ctx.Err() != nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return 0, false
	}
	if IsEmptyContent(err) {
		return 0, true
	}
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		if statusErr.StatusCode != http.StatusRequestTimeout && statusErr.StatusCode < http.StatusInternalServerError {
			return 0, false
		}
		return statusErr.RetryAfter, true
	}
	var netErr net.Error
	return 0, errors.As(err, &netErr) && netErr.Timeout()
}

func parseRetryAfter(value string) time.Duration {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(value); err == nil && seconds > 0 {
		return time.Duration(seconds) * time.Second
	}
	if when, err := http.ParseTime(value); err == nil {
		if d := time.Until(when); d > 0 {
			return d
		}
	}
	return 0
}

func pick(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
