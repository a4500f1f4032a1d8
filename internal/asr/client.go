package asr

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"

	"speecheval/internal/config"
	"speecheval/internal/logging"
	"speecheval/internal/services"
)

const (
	defaultTimeout        = 60 * time.Second
	defaultRetryAttempts  = 3
	defaultInitialBackoff = 500 * time.Millisecond
	defaultMaxBackoff     = 10 * time.Second
	maxErrorBodyBytes     = 4096
)

// Config describes one OpenAI-compatible transcription endpoint.
type Config struct {
	Name          string
	URL           string
	Model         string
	APIKey        string
	Language      string
	NoiseRobust   bool
	Timeout       time.Duration
	RetryAttempts int
}

// ConfigFrom converts a config section into a client Config.
func ConfigFrom(p config.ASRProvider) Config {
	return Config{
		Name:          p.Name,
		URL:           p.URL,
		Model:         p.Model,
		APIKey:        p.APIKey,
		Language:      p.Language,
		NoiseRobust:   p.NoiseRobust,
		Timeout:       time.Duration(p.TimeoutSeconds) * time.Second,
		RetryAttempts: p.RetryAttempts,
	}
}

// Client posts multipart audio to a transcription endpoint.
type Client struct {
	cfg            Config
	http           *http.Client
	logger         *slog.Logger
	initialBackoff time.Duration
	maxBackoff     time.Duration
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient overrides the HTTP client used for requests.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.http = client
		}
	}
}

// WithLogger attaches a logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithBackoff sets the initial and maximum retry delay.
func WithBackoff(initial, max time.Duration) Option {
	return func(c *Client) {
		if initial > 0 {
			c.initialBackoff = initial
		}
		if max > 0 {
			c.maxBackoff = max
		}
	}
}

// NewClient constructs a transcription client.
func NewClient(cfg Config, opts ...Option) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.RetryAttempts <= 0 {
		cfg.RetryAttempts = defaultRetryAttempts
	}
	if strings.TrimSpace(cfg.Name) == "" {
		cfg.Name = cfg.Model
	}
	c := &Client{
		cfg:            cfg,
		http:           &http.Client{Timeout: cfg.Timeout},
		logger:         logging.NewNop(),
		initialBackoff: defaultInitialBackoff,
		maxBackoff:     defaultMaxBackoff,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = logging.NewComponentLogger(c.logger, "asr").With(logging.String(logging.FieldModel, cfg.Name))
	return c
}

// Name returns the configured model label.
func (c *Client) Name() string { return c.cfg.Name }

// NoiseRobust reports whether this model is preferred on ties.
func (c *Client) NoiseRobust() bool { return c.cfg.NoiseRobust }

// Transcribe posts the audio and converts the verbose JSON response into a
// Candidate. Network failures, 429, and 5xx are retried with jittered
// exponential backoff; other statuses fail immediately.
func (c *Client) Transcribe(ctx context.Context, audio Audio) (Candidate, error) {
	if len(audio.Data) == 0 {
		return Candidate{}, errors.New("asr transcribe: empty audio")
	}

	policy := services.NewHintedBackOff(c.initialBackoff, c.maxBackoff)

	attempt := 0
	resp, err := backoff.Retry(ctx, func() (verboseResponse, error) {
		attempt++
		out, err := c.send(ctx, audio)
		if err == nil {
			return out, nil
		}
		var statusErr *StatusError
		if errors.As(err, &statusErr) {
			if !statusErr.retryable() {
				return verboseResponse{}, backoff.Permanent(err)
			}
			policy.Hint(statusErr.RetryAfter)
		}
		if ctx.Err() != nil {
			return verboseResponse{}, backoff.Permanent(ctx.Err())
		}
		return verboseResponse{}, err
	},
		backoff.WithBackOff(policy),
		backoff.WithMaxTries(uint(c.cfg.RetryAttempts)),
		backoff.WithNotify(func(err error, next time.Duration) {
			c.logger.Warn("asr request failed; retrying",
				logging.Int("attempt", attempt),
				logging.Duration("retry_in", next),
				logging.Error(err),
				logging.String(logging.FieldEventType, "asr_retry"),
			)
		}),
	)
	if err != nil {
		return Candidate{}, fmt.Errorf("asr %s: %w", c.cfg.Name, err)
	}
	return resp.toCandidate(c.cfg.Name, c.cfg.NoiseRobust, audio.Duration), nil
}

func (c *Client) send(ctx context.Context, audio Audio) (verboseResponse, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	name := audio.Name
	if strings.TrimSpace(name) == "" {
		name = "segment.wav"
	}
	part, err := writer.CreateFormFile("file", name)
	if err != nil {
		return verboseResponse{}, fmt.Errorf("create form file: %w", err)
	}
	if _, err := part.Write(audio.Data); err != nil {
		return verboseResponse{}, fmt.Errorf("write audio data: %w", err)
	}
	_ = writer.WriteField("model", c.cfg.Model)
	_ = writer.WriteField("response_format", "verbose_json")
	_ = writer.WriteField("temperature", "0")
	if c.cfg.Language != "" {
		_ = writer.WriteField("language", c.cfg.Language)
	}
	if err := writer.Close(); err != nil {
		return verboseResponse{}, fmt.Errorf("close multipart body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.URL, &buf)
	if err != nil {
		return verboseResponse{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("Accept", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return verboseResponse{}, fmt.Errorf("asr request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
		return verboseResponse{}, &StatusError{
			StatusCode: resp.StatusCode,
			Body:       string(body),
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
		}
	}

	var out verboseResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return verboseResponse{}, fmt.Errorf("decode asr response: %w", err)
	}
	return out, nil
}

func parseRetryAfter(value string) time.Duration {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0
	}
	if secs, err := strconv.Atoi(value); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if when, err := http.ParseTime(value); err == nil {
		if d := time.Until(when); d > 0 {
			return d
		}
	}
	return 0
}
