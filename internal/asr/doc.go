// Package asr calls OpenAI-compatible speech-to-text endpoints.
//
// Client posts one segment as multipart form data and requests verbose JSON
// so per-span log-probabilities, no-speech probabilities, and timings come
// back with the text. Those are folded into a Candidate together with long
// pauses and filler words. Transport failures, 429, and 5xx are retried with
// jittered exponential backoff that honours Retry-After.
//
// Source resolves segment storage references to audio bytes.
package asr
