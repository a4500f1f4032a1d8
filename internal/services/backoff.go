package services

import (
	"time"

	"github.com/cenkalti/backoff/v5"
)

// HintedBackOff is the retry policy shared by the ASR and LLM clients:
// jittered exponential backoff that waits at least as long as the provider's
// most recent Retry-After hint.
type HintedBackOff struct {
	inner backoff.BackOff
	hint  time.Duration
	// HintCap bounds how far a hint may stretch one delay. Zero means no cap.
	HintCap time.Duration
}

// NewHintedBackOff returns a policy starting at initial and growing to max,
// with the library's default randomization (±50%).
func NewHintedBackOff(initial, max time.Duration) *HintedBackOff {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = initial
	exp.MaxInterval = max
	return &HintedBackOff{inner: exp}
}

// Hint records a Retry-After value for the next delay only.
func (b *HintedBackOff) Hint(d time.Duration) {
	if b.HintCap > 0 && d > b.HintCap {
		d = b.HintCap
	}
	b.hint = d
}

func (b *HintedBackOff) NextBackOff() time.Duration {
	next := b.inner.NextBackOff()
	if next == backoff.Stop {
		return next
	}
	if b.hint > next {
		next = b.hint
	}
	b.hint = 0
	return next
}

func (b *HintedBackOff) Reset() {
	b.hint = 0
	b.inner.Reset()
}
