// Package llm provides an OpenAI-compatible chat client that returns JSON
// completions for transcript scoring.
//
// The client carries no fixed key in production. Each Request supplies the
// API key and model chosen by the credential pool, so one client serves every
// (credential, model) pair.
//
// Timeouts, HTTP 408 and 5xx responses, and empty completions are retried
// with doubling delays. HTTP 429 and 402 come back at once as *StatusError
// so the caller's quota classifier decides between waiting and rotating.
//
// DecodeJSON tolerates code fences and prose around the JSON body.
package llm
