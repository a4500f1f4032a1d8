// Package evaluation scores merged transcripts with a language model.
//
// The engine renders a prompt with an explicit answer index, then walks
// (credential, model) pairs from the quota pool. Each attempt is reduced to
// an Outcome and the pure NextAction strategy decides whether to accept,
// retry the same pair, move to the next model, move to the next credential,
// or give up. Responses are normalized into the canonical Result before
// validation, and the overall band is recomputed locally from per-question
// bands with part weights and minimal-response caps.
package evaluation
