package asr

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// Transcriber turns one audio clip into a transcription candidate.
type Transcriber interface {
	Name() string
	NoiseRobust() bool
	Transcribe(ctx context.Context, audio Audio) (Candidate, error)
}

// Audio is a loaded segment recording.
type Audio struct {
	Name     string
	Data     []byte
	Duration float64
}

// Candidate is one model's transcription of a segment with the acoustic
// signals later used as a pronunciation proxy.
type Candidate struct {
	Model        string   `json:"model"`
	NoiseRobust  bool     `json:"noise_robust"`
	RawText      string   `json:"raw_text"`
	CleanedText  string   `json:"cleaned_text"`
	Duration     float64  `json:"duration"`
	AvgLogprob   float64  `json:"avg_logprob"`
	NoSpeechProb float64  `json:"no_speech_prob"`
	LongPauses   []Pause  `json:"long_pauses,omitempty"`
	FillerWords  []string `json:"filler_words,omitempty"`
}

// Pause is a silent gap between recognized spans.
type Pause struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

// Length returns the pause duration in seconds.
func (p Pause) Length() float64 { return p.End - p.Start }

// StatusError is a non-2xx response from an ASR endpoint.
type StatusError struct {
	StatusCode int
	Body       string
	RetryAfter time.Duration
}

func (e *StatusError) Error() string {
	body := strings.TrimSpace(e.Body)
	if len(body) > 200 {
		body = body[:200] + "..."
	}
	if body == "" {
		return fmt.Sprintf("asr request failed: %s", http.StatusText(e.StatusCode))
	}
	return fmt.Sprintf("asr request failed: %s: %s", http.StatusText(e.StatusCode), body)
}

// HTTPStatus returns the response status code.
func (e *StatusError) HTTPStatus() int { return e.StatusCode }

// ResponseBody returns the raw response body.
func (e *StatusError) ResponseBody() string { return e.Body }

// RetryAfterHint returns the parsed Retry-After header.
func (e *StatusError) RetryAfterHint() time.Duration { return e.RetryAfter }

func (e *StatusError) retryable() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}
